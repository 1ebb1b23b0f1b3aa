// Package client implements the SignalChat connection manager: a single
// long-lived WebSocket to the chat hub with automatic reconnection,
// type-based event dispatch, and typed command senders. One Client
// instance backs the whole chat surface for the life of the owning
// application; construct it explicitly and pass it where needed.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/garagebot/signalchat/internal/chat"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// ErrClosed is returned by Connect after Close has been called.
var ErrClosed = errors.New("client: closed")

// Endpoint returns the chat WebSocket URL for the given host. Secure
// origins get the wss scheme.
func Endpoint(host string, secure bool) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	return scheme + "://" + host + "/ws/chat"
}

// Handlers holds the application callbacks invoked from the read loop.
// Every field is optional. The client reads the current values at
// dispatch time, so callbacks may be swapped on a live connection via
// SetHandlers and the next frame sees the new ones.
type Handlers struct {
	// OnMessage receives message-stream events: new_message,
	// message_edited, message_deleted, reaction_added,
	// reaction_removed, and new_dm. The frame is forwarded verbatim.
	OnMessage func(chat.Event)

	// OnTyping receives user_typing events.
	OnTyping func(chat.Event)

	// OnPresence receives presence_update events.
	OnPresence func(chat.Event)

	// OnConnect fires once auth_success arrives, on every (re)connect.
	OnConnect func()

	// OnDisconnect fires when the connection drops unexpectedly.
	OnDisconnect func()
}

// Client owns exactly one WebSocket connection to the chat hub at a
// time. Commands sent while disconnected are dropped silently; the hub
// does not replay missed traffic, so callers re-join their channels
// from OnConnect.
type Client struct {
	url     string
	backoff Backoff
	log     *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers Handlers
	attempts int
	retry    *time.Timer
	closed   bool
	authed   bool
	userID   string
	username string

	cancelRead context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithBackoff overrides the reconnection delay policy.
func WithBackoff(b Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHandlers sets the initial callbacks.
func WithHandlers(h Handlers) Option {
	return func(c *Client) { c.handlers = h }
}

// New creates a Client for the given WebSocket URL. It does not dial;
// call Connect.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		backoff: Backoff{Base: defaultBackoffBase, Cap: defaultBackoffCap},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHandlers replaces the callbacks. Safe to call at any time,
// including while connected.
func (c *Client) SetHandlers(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

// Connected reports whether the connection is established and the
// auth_success handshake has completed.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

// UserID returns the identity from the last auth_success, or "" while
// unauthenticated.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Username returns the username from the last auth_success, or ""
// while unauthenticated.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Connect dials the hub and starts the read loop. It is a no-op when a
// connection is already open. On failure a reconnection attempt is
// scheduled; the returned error is informational only, since retrying
// is automatic.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		c.log.Debug("dial failed", zap.String("url", c.url), zap.Error(err))
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if c.closed || c.conn != nil {
		// Closed or superseded while dialing.
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		if c.closed {
			return ErrClosed
		}
		return nil
	}
	c.conn = conn
	c.attempts = 0
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	readCtx, cancelRead := context.WithCancel(context.Background())
	c.cancelRead = cancelRead
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)
	return nil
}

// Close tears the connection down: the pending retry timer is
// cancelled and the reconnect path is disarmed before the socket is
// closed, so teardown never races a new dial. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.conn = nil
	c.authed = false
	c.userID, c.username = "", ""
	cancelRead := c.cancelRead
	c.cancelRead = nil
	c.mu.Unlock()

	if cancelRead != nil {
		cancelRead()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

// readLoop delivers inbound frames to dispatch until the connection
// drops, then hands off to the disconnect path.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(conn)
			return
		}
		c.dispatch(data)
	}
}

// handleDisconnect runs when the read loop observes a closed
// connection. A connection replaced by Close (which nils c.conn first)
// is stale and ignored, so deliberate teardown never triggers a
// reconnect cycle.
func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.authed = false
	c.userID, c.username = "", ""
	cancelRead := c.cancelRead
	c.cancelRead = nil
	onDisconnect := c.handlers.OnDisconnect
	c.mu.Unlock()

	if cancelRead != nil {
		cancelRead()
	}
	c.log.Debug("connection lost", zap.String("url", c.url))
	if onDisconnect != nil {
		onDisconnect()
	}
	c.scheduleReconnect()
}

// scheduleReconnect arms the retry timer using the backoff policy. At
// most one timer is pending; arming a new one supersedes the old. The
// timer body re-checks liveness so a timer that fires after Close, or
// after a connection is already open, does nothing.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	delay := c.backoff.Delay(c.attempts)
	c.attempts++
	c.log.Debug("scheduling reconnect",
		zap.Int("attempt", c.attempts),
		zap.Duration("delay", delay))
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(delay, func() {
		c.mu.Lock()
		stale := c.closed || c.conn != nil
		c.mu.Unlock()
		if stale {
			return
		}
		_ = c.Connect(context.Background())
	})
}

// dispatch routes one inbound frame by its type field. Malformed
// frames are dropped without closing the connection; unrecognized
// types are ignored so the server can add event types freely.
func (c *Client) dispatch(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.Type == "" {
		c.log.Debug("dropping malformed frame", zap.Error(err))
		return
	}

	ev := chat.Event{Type: head.Type, Data: data}

	switch {
	case head.Type == chat.EventAuthSuccess:
		var auth chat.AuthSuccess
		if err := json.Unmarshal(data, &auth); err != nil {
			c.log.Debug("dropping malformed auth_success", zap.Error(err))
			return
		}
		c.mu.Lock()
		c.authed = true
		c.userID = auth.UserID
		c.username = auth.Username
		onConnect := c.handlers.OnConnect
		c.mu.Unlock()
		if onConnect != nil {
			onConnect()
		}

	case chat.IsMessageEvent(head.Type):
		c.mu.Lock()
		h := c.handlers.OnMessage
		c.mu.Unlock()
		if h != nil {
			h(ev)
		}

	case head.Type == chat.EventUserTyping:
		c.mu.Lock()
		h := c.handlers.OnTyping
		c.mu.Unlock()
		if h != nil {
			h(ev)
		}

	case head.Type == chat.EventPresenceUpdate:
		c.mu.Lock()
		h := c.handlers.OnPresence
		c.mu.Unlock()
		if h != nil {
			h(ev)
		}
	}
}

// send serializes a command and writes it to the live connection.
// Without one the command is dropped: disconnects are expected to
// self-heal and the caller observes connection state separately.
func (c *Client) send(v any) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.log.Debug("dropping unserializable command", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.log.Debug("write failed", zap.Error(err))
	}
}

// JoinChannel subscribes to a channel's message stream.
func (c *Client) JoinChannel(channelID string) {
	c.send(chat.JoinChannel{Type: chat.CmdJoinChannel, ChannelID: channelID})
}

// LeaveChannel unsubscribes from a channel.
func (c *Client) LeaveChannel(channelID string) {
	c.send(chat.LeaveChannel{Type: chat.CmdLeaveChannel, ChannelID: channelID})
}

// SendMessage posts a message to a channel. Pass replyToID "" for a
// top-level message; the field is then omitted from the frame.
func (c *Client) SendMessage(channelID, content, replyToID string) {
	c.send(chat.SendMessage{
		Type:      chat.CmdSendMessage,
		ChannelID: channelID,
		Content:   content,
		ReplyToID: replyToID,
	})
}

// EditMessage replaces the content of a message this user authored.
func (c *Client) EditMessage(messageID, content string) {
	c.send(chat.EditMessage{Type: chat.CmdEditMessage, MessageID: messageID, Content: content})
}

// DeleteMessage removes a message this user authored.
func (c *Client) DeleteMessage(messageID, channelID string) {
	c.send(chat.DeleteMessage{Type: chat.CmdDeleteMessage, MessageID: messageID, ChannelID: channelID})
}

// AddReaction attaches an emoji reaction to a message.
func (c *Client) AddReaction(messageID, emoji, channelID string) {
	c.send(chat.AddReaction{Type: chat.CmdAddReaction, MessageID: messageID, Emoji: emoji, ChannelID: channelID})
}

// RemoveReaction detaches this user's reaction from a message.
func (c *Client) RemoveReaction(messageID, emoji, channelID string) {
	c.send(chat.RemoveReaction{Type: chat.CmdRemoveReaction, MessageID: messageID, Emoji: emoji, ChannelID: channelID})
}

// SendTyping signals that this user is typing in a channel.
func (c *Client) SendTyping(channelID string) {
	c.send(chat.Typing{Type: chat.CmdTyping, ChannelID: channelID})
}

// SendDM posts a message to a direct-message conversation.
func (c *Client) SendDM(conversationID, content string) {
	c.send(chat.SendDM{Type: chat.CmdSendDM, ConversationID: conversationID, Content: content})
}
