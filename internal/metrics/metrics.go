// Package metrics exposes the hub's Prometheus collectors. The HTTP
// server publishes them at /metrics via promhttp.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ActiveConnections is the number of WebSocket connections
	// currently registered with the hub.
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalchat_active_connections",
		Help: "Number of active WebSocket connections.",
	})

	// MessagesTotal counts chat messages accepted by the hub,
	// labelled by kind (channel or dm).
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signalchat_messages_total",
		Help: "Total chat messages accepted.",
	}, []string{"kind"})

	// BroadcastsTotal counts frames fanned out to clients.
	BroadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalchat_broadcast_frames_total",
		Help: "Total frames fanned out to clients.",
	})

	// DroppedFrames counts frames dropped because a client's send
	// buffer was full.
	DroppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalchat_dropped_frames_total",
		Help: "Total frames dropped due to slow consumers.",
	})

	// RejectedConnections counts upgrades refused at capacity.
	RejectedConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalchat_rejected_connections_total",
		Help: "Total connections rejected at capacity.",
	})

	// ReapedConnections counts connections closed by the heartbeat
	// for missing pongs.
	ReapedConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalchat_reaped_connections_total",
		Help: "Total connections closed for failing heartbeat.",
	})
)

func init() {
	prometheus.MustRegister(
		ActiveConnections,
		MessagesTotal,
		BroadcastsTotal,
		DroppedFrames,
		RejectedConnections,
		ReapedConnections,
	)
}
