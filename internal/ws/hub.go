package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/garagebot/signalchat/internal/chat"
	"github.com/garagebot/signalchat/internal/metrics"
)

// Client represents a connected WebSocket user. A user may hold
// several clients at once (multiple tabs or devices).
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	username string
}

// Hub tracks which clients are in which channels and fans frames out
// to channels and users. A client belongs to any number of channels.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	users    map[string]map[*Client]struct{}
	conns    *ConnManager
	log      *zap.Logger
}

// NewHub creates a new Hub and its connection manager. A nil logger
// discards all output.
func NewHub(log *zap.Logger, opts ...ConnManagerOption) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		channels: make(map[string]map[*Client]struct{}),
		users:    make(map[string]map[*Client]struct{}),
		conns:    NewConnManager(log, opts...),
		log:      log,
	}
}

// ConnMgr returns the connection manager for this hub.
func (h *Hub) ConnMgr() *ConnManager {
	return h.conns
}

// Register adds a client's connection and starts its write pump.
// Returns a context that is cancelled when the client is removed;
// an already cancelled context means the connection was rejected.
func (h *Hub) Register(c *Client) context.Context {
	ctx := h.conns.Add(c)
	if ctx.Err() != nil {
		return ctx
	}

	h.mu.Lock()
	if h.users[c.userID] == nil {
		h.users[c.userID] = make(map[*Client]struct{})
	}
	h.users[c.userID][c] = struct{}{}
	h.mu.Unlock()

	return ctx
}

// Unregister removes a client from every channel it joined, announces
// it offline in each, and stops its write pump.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var left []string
	for channelID, members := range h.channels {
		if _, ok := members[c]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.channels, channelID)
			}
			left = append(left, channelID)
		}
	}
	if set, ok := h.users[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID)
		}
	}
	h.mu.Unlock()

	for _, channelID := range left {
		h.BroadcastToChannel(channelID, chat.PresenceUpdate{
			Type:      chat.EventPresenceUpdate,
			UserID:    c.userID,
			Username:  c.username,
			Status:    chat.StatusOffline,
			ChannelID: channelID,
		}, nil)
	}

	h.conns.Remove(c)
}

// JoinChannel adds the client to a channel and announces it online
// to everyone in the channel, the joiner included.
func (h *Hub) JoinChannel(c *Client, channelID string) {
	h.mu.Lock()
	if h.channels[channelID] == nil {
		h.channels[channelID] = make(map[*Client]struct{})
	}
	h.channels[channelID][c] = struct{}{}
	h.mu.Unlock()

	h.BroadcastToChannel(channelID, chat.PresenceUpdate{
		Type:      chat.EventPresenceUpdate,
		UserID:    c.userID,
		Username:  c.username,
		Status:    chat.StatusOnline,
		ChannelID: channelID,
	}, nil)
}

// LeaveChannel removes the client from a channel and announces it
// offline to the remaining members.
func (h *Hub) LeaveChannel(c *Client, channelID string) {
	h.mu.Lock()
	members, ok := h.channels[channelID]
	if ok {
		if _, in := members[c]; !in {
			ok = false
		} else {
			delete(members, c)
			if len(members) == 0 {
				delete(h.channels, channelID)
			}
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	h.BroadcastToChannel(channelID, chat.PresenceUpdate{
		Type:      chat.EventPresenceUpdate,
		UserID:    c.userID,
		Username:  c.username,
		Status:    chat.StatusOffline,
		ChannelID: channelID,
	}, nil)
}

// InChannel reports whether the client is currently in the channel.
func (h *Hub) InChannel(c *Client, channelID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[channelID][c]
	return ok
}

// ChannelMembers returns the number of clients in a channel.
func (h *Hub) ChannelMembers(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channelID])
}

// BroadcastToChannel sends a frame to every client in a channel,
// skipping exclude if non-nil.
func (h *Hub) BroadcastToChannel(channelID string, frame any, exclude *Client) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("marshal broadcast frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	members := h.channels[channelID]
	targets := make([]*Client, 0, len(members))
	for c := range members {
		if c == exclude {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.conns.Send(c, data)
	}
	metrics.BroadcastsTotal.Add(float64(len(targets)))
}

// BroadcastToUser sends a frame to every connection held by a user.
func (h *Hub) BroadcastToUser(userID string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("marshal user frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	conns := h.users[userID]
	targets := make([]*Client, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.conns.Send(c, data)
	}
	metrics.BroadcastsTotal.Add(float64(len(targets)))
}

// SendTo delivers a frame to a single client through its write pump.
func (h *Hub) SendTo(c *Client, frame any) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("marshal frame", zap.Error(err))
		return false
	}
	return h.conns.Send(c, data)
}
