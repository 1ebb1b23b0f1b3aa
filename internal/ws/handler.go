package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/garagebot/signalchat/internal/channel"
	"github.com/garagebot/signalchat/internal/chat"
	"github.com/garagebot/signalchat/internal/message"
	"github.com/garagebot/signalchat/internal/metrics"
	"github.com/garagebot/signalchat/internal/user"
)

const (
	// maxMessageLength caps the content of a single chat message.
	maxMessageLength = 2000

	// historyLimit is the number of recent messages sent on channel join.
	historyLimit = 50
)

// TokenCookie is the cookie checked for a session token when the
// query parameter is absent.
const TokenCookie = "signalchat_token"

// Handler upgrades HTTP requests at the chat endpoint and runs the
// per-connection read loop.
type Handler struct {
	hub      *Hub
	sessions *user.SessionStore
	channels *channel.Manager
	messages message.Store
	convos   *message.ConversationStore
	log      *zap.Logger
}

// NewHandler creates a WebSocket handler. A nil logger discards all
// output.
func NewHandler(hub *Hub, sessions *user.SessionStore, channels *channel.Manager, messages message.Store, convos *message.ConversationStore, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:      hub,
		sessions: sessions,
		channels: channels,
		messages: messages,
		convos:   convos,
		log:      log,
	}
}

// messageFrame carries a full message to channel members.
type messageFrame struct {
	Type    string           `json:"type"`
	Message *message.Message `json:"message"`
}

// historyFrame delivers recent channel history after a join. It is
// always sent, empty history included.
type historyFrame struct {
	Type      string             `json:"type"`
	ChannelID string             `json:"channelId"`
	Messages  []*message.Message `json:"messages"`
}

// ServeHTTP authenticates the request, upgrades it to a WebSocket,
// sends auth_success, and runs the read loop until the connection
// closes. Unauthenticated requests are rejected before the upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if c, err := r.Cookie(TokenCookie); err == nil {
			token = c.Value
		}
	}
	sess := h.sessions.Get(token)
	if sess == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow all origins in dev; tighten in production.
	})
	if err != nil {
		h.log.Warn("accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := &Client{
		conn:     conn,
		userID:   sess.UserID,
		username: sess.Username,
	}

	connCtx := h.hub.Register(client)
	if connCtx.Err() != nil {
		return
	}
	defer h.hub.Unregister(client)

	h.hub.SendTo(client, chat.AuthSuccess{
		Type:     chat.EventAuthSuccess,
		UserID:   sess.UserID,
		Username: sess.Username,
	})
	h.log.Info("client connected",
		zap.String("user_id", sess.UserID), zap.String("username", sess.Username))

	h.readLoop(r.Context(), connCtx, client)

	h.log.Info("client disconnected", zap.String("user_id", sess.UserID))
}

// readLoop reads command frames from the client until the connection
// closes or the connection manager cancels connCtx.
func (h *Handler) readLoop(ctx context.Context, connCtx context.Context, client *Client) {
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		_, data, err := client.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancelled.
			return
		}

		var cmd chat.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.sendError(client, "invalid JSON")
			continue
		}
		h.handleCommand(client, cmd)
	}
}

// handleCommand dispatches one decoded command frame.
func (h *Handler) handleCommand(client *Client, cmd chat.Command) {
	switch cmd.Type {
	case chat.CmdJoinChannel:
		h.handleJoin(client, cmd)
	case chat.CmdLeaveChannel:
		if cmd.ChannelID != "" {
			h.hub.LeaveChannel(client, cmd.ChannelID)
		}
	case chat.CmdSendMessage:
		h.handleSend(client, cmd)
	case chat.CmdEditMessage:
		h.handleEdit(client, cmd)
	case chat.CmdDeleteMessage:
		h.handleDelete(client, cmd)
	case chat.CmdAddReaction:
		h.handleAddReaction(client, cmd)
	case chat.CmdRemoveReaction:
		h.handleRemoveReaction(client, cmd)
	case chat.CmdTyping:
		if cmd.ChannelID == "" {
			return
		}
		h.hub.BroadcastToChannel(cmd.ChannelID, chat.UserTyping{
			Type:      chat.EventUserTyping,
			UserID:    client.userID,
			Username:  client.username,
			ChannelID: cmd.ChannelID,
		}, client)
	case chat.CmdSendDM:
		h.handleSendDM(client, cmd)
	default:
		h.sendError(client, "unknown message type: "+cmd.Type)
	}
}

func (h *Handler) handleJoin(client *Client, cmd chat.Command) {
	if cmd.ChannelID == "" {
		h.sendError(client, "channelId is required")
		return
	}
	if h.channels.Get(cmd.ChannelID) == nil {
		h.sendError(client, "unknown channel")
		return
	}

	h.hub.JoinChannel(client, cmd.ChannelID)
	h.hub.SendTo(client, chat.JoinedChannel{
		Type:      chat.EventJoinedChannel,
		ChannelID: cmd.ChannelID,
	})

	recent := h.messages.Recent(cmd.ChannelID, historyLimit)
	if recent == nil {
		recent = []*message.Message{}
	}
	h.hub.SendTo(client, historyFrame{
		Type:      chat.EventHistory,
		ChannelID: cmd.ChannelID,
		Messages:  recent,
	})
}

func (h *Handler) handleSend(client *Client, cmd chat.Command) {
	if cmd.ChannelID == "" {
		h.sendError(client, "channelId is required")
		return
	}
	ch := h.channels.Get(cmd.ChannelID)
	if ch == nil {
		h.sendError(client, "unknown channel")
		return
	}
	if ch.Locked {
		h.sendError(client, "channel is locked")
		return
	}
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		h.sendError(client, "message content is required")
		return
	}
	if len(content) > maxMessageLength {
		h.sendError(client, "message exceeds maximum length of 2000 characters")
		return
	}

	msg := &message.Message{
		ID:        uuid.NewString(),
		ChannelID: cmd.ChannelID,
		UserID:    client.userID,
		Username:  client.username,
		Content:   content,
		ReplyToID: cmd.ReplyToID,
		Reactions: []message.Reaction{},
		CreatedAt: time.Now().UTC(),
	}
	h.messages.Append(msg)
	metrics.MessagesTotal.WithLabelValues("channel").Inc()

	h.hub.BroadcastToChannel(cmd.ChannelID, messageFrame{
		Type:    chat.EventNewMessage,
		Message: msg,
	}, nil)
}

func (h *Handler) handleEdit(client *Client, cmd chat.Command) {
	if cmd.MessageID == "" {
		h.sendError(client, "messageId is required")
		return
	}
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		h.sendError(client, "message content is required")
		return
	}
	if len(content) > maxMessageLength {
		h.sendError(client, "message exceeds maximum length of 2000 characters")
		return
	}

	msg := h.messages.Get(cmd.MessageID)
	if msg == nil {
		h.sendError(client, "unknown message")
		return
	}
	if msg.UserID != client.userID {
		h.sendError(client, "cannot edit another user's message")
		return
	}

	editedAt := time.Now().UTC()
	h.messages.Edit(cmd.MessageID, content, editedAt)

	frame := chat.MessageEdited{
		Type:      chat.EventMessageEdited,
		MessageID: cmd.MessageID,
		Content:   content,
		EditedAt:  editedAt.Format(time.RFC3339),
	}
	h.fanOut(msg, frame)
}

func (h *Handler) handleDelete(client *Client, cmd chat.Command) {
	if cmd.MessageID == "" {
		h.sendError(client, "messageId is required")
		return
	}

	msg := h.messages.Get(cmd.MessageID)
	if msg == nil {
		h.sendError(client, "unknown message")
		return
	}
	if msg.UserID != client.userID {
		h.sendError(client, "cannot delete another user's message")
		return
	}

	h.messages.Delete(cmd.MessageID)

	frame := chat.MessageDeleted{
		Type:      chat.EventMessageDeleted,
		MessageID: cmd.MessageID,
		ChannelID: msg.ChannelID,
	}
	h.fanOut(msg, frame)
}

func (h *Handler) handleAddReaction(client *Client, cmd chat.Command) {
	if cmd.MessageID == "" || cmd.Emoji == "" {
		h.sendError(client, "messageId and emoji are required")
		return
	}

	msg := h.messages.Get(cmd.MessageID)
	if msg == nil {
		h.sendError(client, "unknown message")
		return
	}

	h.messages.AddReaction(cmd.MessageID, message.Reaction{
		Emoji:    cmd.Emoji,
		UserID:   client.userID,
		Username: client.username,
	})

	frame := chat.ReactionAdded{
		Type:      chat.EventReactionAdded,
		MessageID: cmd.MessageID,
		UserID:    client.userID,
		Username:  client.username,
		Emoji:     cmd.Emoji,
	}
	h.fanOut(msg, frame)
}

func (h *Handler) handleRemoveReaction(client *Client, cmd chat.Command) {
	if cmd.MessageID == "" || cmd.Emoji == "" {
		h.sendError(client, "messageId and emoji are required")
		return
	}

	msg := h.messages.Get(cmd.MessageID)
	if msg == nil {
		h.sendError(client, "unknown message")
		return
	}

	h.messages.RemoveReaction(cmd.MessageID, client.userID, cmd.Emoji)

	frame := chat.ReactionRemoved{
		Type:      chat.EventReactionRemoved,
		MessageID: cmd.MessageID,
		UserID:    client.userID,
		Emoji:     cmd.Emoji,
	}
	h.fanOut(msg, frame)
}

func (h *Handler) handleSendDM(client *Client, cmd chat.Command) {
	if cmd.ConversationID == "" {
		h.sendError(client, "conversationId is required")
		return
	}
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		h.sendError(client, "message content is required")
		return
	}
	if len(content) > maxMessageLength {
		h.sendError(client, "message exceeds maximum length of 2000 characters")
		return
	}

	convo := h.convos.Get(cmd.ConversationID)
	if convo == nil {
		h.sendError(client, "unknown conversation")
		return
	}
	if !convo.Includes(client.userID) {
		h.sendError(client, "not a participant in this conversation")
		return
	}

	msg := &message.Message{
		ID:             uuid.NewString(),
		ConversationID: cmd.ConversationID,
		UserID:         client.userID,
		Username:       client.username,
		Content:        content,
		Reactions:      []message.Reaction{},
		CreatedAt:      time.Now().UTC(),
	}
	h.messages.Append(msg)
	metrics.MessagesTotal.WithLabelValues("dm").Inc()

	frame := messageFrame{Type: chat.EventNewDM, Message: msg}
	h.hub.BroadcastToUser(client.userID, frame)
	h.hub.BroadcastToUser(convo.OtherParticipant(client.userID), frame)
}

// fanOut routes a message-related event to its audience: channel
// members for channel messages, both participants for DM messages.
func (h *Handler) fanOut(msg *message.Message, frame any) {
	if msg.ConversationID != "" {
		convo := h.convos.Get(msg.ConversationID)
		if convo == nil {
			return
		}
		h.hub.BroadcastToUser(convo.Participant1ID, frame)
		h.hub.BroadcastToUser(convo.Participant2ID, frame)
		return
	}
	h.hub.BroadcastToChannel(msg.ChannelID, frame, nil)
}

// sendError queues an error frame for the client.
func (h *Handler) sendError(client *Client, msg string) {
	h.hub.SendTo(client, chat.ErrorFrame{
		Type:    chat.EventError,
		Message: msg,
	})
}
