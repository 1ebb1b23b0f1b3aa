package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/garagebot/signalchat/internal/metrics"
)

const (
	// sendBufferSize is the number of frames that can be queued per client.
	sendBufferSize = 16

	// writeTimeout is the max time to wait for a single write to complete.
	writeTimeout = 5 * time.Second

	// defaultHeartbeat is how often clients are pinged. Connections
	// that miss a pong are terminated.
	defaultHeartbeat = 30 * time.Second

	// pingTimeout is the max time to wait for a pong.
	pingTimeout = 10 * time.Second
)

// ConnStats holds point-in-time connection statistics.
type ConnStats struct {
	Active        int
	MaxConns      int
	Rejected      int64
	DroppedFrames int64
	Reaped        int64
}

// ConnManager tracks all active WebSocket connections: per-client
// buffered send channels drained by a write pump, an optional
// connection cap, heartbeat pings, and graceful shutdown.
type ConnManager struct {
	mu       sync.Mutex
	clients  map[*Client]context.CancelFunc
	closed   bool
	maxConns int
	interval time.Duration
	stopHB   context.CancelFunc
	log      *zap.Logger

	rejected atomic.Int64
	dropped  atomic.Int64
	reaped   atomic.Int64
}

// ConnManagerOption configures a ConnManager.
type ConnManagerOption func(*ConnManager)

// WithMaxConns sets the maximum number of concurrent connections.
// When the limit is reached, new connections are rejected.
// A value of 0 means unlimited (default).
func WithMaxConns(n int) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.maxConns = n
	}
}

// WithHeartbeat sets the ping interval. A value of 0 disables
// heartbeats.
func WithHeartbeat(d time.Duration) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.interval = d
	}
}

// NewConnManager creates a new connection manager. A nil logger
// discards all output.
func NewConnManager(log *zap.Logger, opts ...ConnManagerOption) *ConnManager {
	if log == nil {
		log = zap.NewNop()
	}
	cm := &ConnManager{
		clients:  make(map[*Client]context.CancelFunc),
		interval: defaultHeartbeat,
		log:      log,
	}
	for _, opt := range opts {
		opt(cm)
	}
	if cm.interval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		cm.stopHB = cancel
		go cm.heartbeatLoop(ctx)
	}
	return cm
}

// Add registers a client and starts its write pump. The returned
// context is cancelled when the client is removed or the manager
// shuts down. Callers should select on ctx.Done() in their read loop.
// Returns a cancelled context if the manager is closed or at capacity.
func (cm *ConnManager) Add(c *Client) context.Context {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		return cancelledContext()
	}

	if cm.maxConns > 0 && len(cm.clients) >= cm.maxConns {
		cm.rejected.Add(1)
		metrics.RejectedConnections.Inc()
		cm.log.Warn("rejecting connection at capacity",
			zap.String("user_id", c.userID),
			zap.Int("max_conns", cm.maxConns))
		c.conn.Close(websocket.StatusTryAgainLater, "server at capacity")
		return cancelledContext()
	}

	c.send = make(chan []byte, sendBufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	cm.clients[c] = cancel
	metrics.ActiveConnections.Inc()

	go cm.writePump(ctx, c)

	return ctx
}

// Remove stops a client's write pump and cleans it up. Calling Remove
// more than once for the same client is a no-op.
func (cm *ConnManager) Remove(c *Client) {
	cm.mu.Lock()
	cancel, ok := cm.clients[c]
	if ok {
		delete(cm.clients, c)
	}
	cm.mu.Unlock()

	if ok {
		cancel()
		metrics.ActiveConnections.Dec()
	}
}

// Send queues a frame for delivery to the client. Returns false if
// the client's buffer is full (slow consumer).
func (cm *ConnManager) Send(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		cm.dropped.Add(1)
		metrics.DroppedFrames.Inc()
		cm.log.Warn("send buffer full, dropping frame", zap.String("user_id", c.userID))
		return false
	}
}

// Count returns the number of active connections.
func (cm *ConnManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.clients)
}

// Stats returns point-in-time connection statistics.
func (cm *ConnManager) Stats() ConnStats {
	cm.mu.Lock()
	active := len(cm.clients)
	maxConns := cm.maxConns
	cm.mu.Unlock()
	return ConnStats{
		Active:        active,
		MaxConns:      maxConns,
		Rejected:      cm.rejected.Load(),
		DroppedFrames: cm.dropped.Load(),
		Reaped:        cm.reaped.Load(),
	}
}

// Shutdown gracefully closes all connections. It cancels every write
// pump and closes each WebSocket with StatusGoingAway.
func (cm *ConnManager) Shutdown() {
	cm.mu.Lock()
	cm.closed = true
	clients := make(map[*Client]context.CancelFunc, len(cm.clients))
	for c, cancel := range cm.clients {
		clients[c] = cancel
	}
	cm.clients = make(map[*Client]context.CancelFunc)
	cm.mu.Unlock()

	if cm.stopHB != nil {
		cm.stopHB()
	}

	for c, cancel := range clients {
		cancel()
		metrics.ActiveConnections.Dec()
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// heartbeatLoop pings every client on each tick and terminates the
// ones that miss a pong.
func (cm *ConnManager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.pingAll(ctx)
		}
	}
}

// pingAll fans out pings to all clients. A client that fails to pong
// within pingTimeout is removed and its connection closed.
func (cm *ConnManager) pingAll(ctx context.Context) {
	cm.mu.Lock()
	targets := make([]*Client, 0, len(cm.clients))
	for c := range cm.clients {
		targets = append(targets, c)
	}
	cm.mu.Unlock()

	for _, c := range targets {
		go func(c *Client) {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			if err := c.conn.Ping(pingCtx); err != nil {
				cm.reaped.Add(1)
				metrics.ReapedConnections.Inc()
				cm.log.Info("reaping unresponsive connection",
					zap.String("user_id", c.userID), zap.Error(err))
				cm.Remove(c)
				c.conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
			}
		}(c)
	}
}

// writePump drains the client's send channel, writing each frame to
// the WebSocket connection. All outbound traffic goes through here;
// nothing else may write to the connection.
func (cm *ConnManager) writePump(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				cm.log.Debug("write failed",
					zap.String("user_id", c.userID), zap.Error(err))
				return
			}
		}
	}
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
