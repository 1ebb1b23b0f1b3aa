// Package chat defines the SignalChat wire protocol: flat JSON frames
// exchanged over a WebSocket at /ws/chat, each carrying a string "type"
// discriminant alongside frame-specific fields.
package chat

import "encoding/json"

// Command types sent by clients.
const (
	CmdJoinChannel    = "join_channel"
	CmdLeaveChannel   = "leave_channel"
	CmdSendMessage    = "send_message"
	CmdEditMessage    = "edit_message"
	CmdDeleteMessage  = "delete_message"
	CmdAddReaction    = "add_reaction"
	CmdRemoveReaction = "remove_reaction"
	CmdTyping         = "typing"
	CmdSendDM         = "send_dm"
)

// Event types sent by the server.
const (
	EventAuthSuccess     = "auth_success"
	EventNewMessage      = "new_message"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventReactionAdded   = "reaction_added"
	EventReactionRemoved = "reaction_removed"
	EventNewDM           = "new_dm"
	EventUserTyping      = "user_typing"
	EventPresenceUpdate  = "presence_update"
	EventJoinedChannel   = "joined_channel"
	EventHistory         = "history"
	EventError           = "error"
)

// Presence statuses carried by presence_update events.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// IsMessageEvent reports whether t belongs to the message stream:
// channel messages, edits, deletes, reactions, and direct messages.
func IsMessageEvent(t string) bool {
	switch t {
	case EventNewMessage, EventMessageEdited, EventMessageDeleted,
		EventReactionAdded, EventReactionRemoved, EventNewDM:
		return true
	}
	return false
}

// Event is an inbound frame as delivered to application handlers: the
// parsed type plus the raw frame bytes for the handler to decode.
type Event struct {
	Type string
	Data json.RawMessage
}

// Command is the decoded form of any client frame. Fields not used by
// a given command type are left zero.
type Command struct {
	Type           string `json:"type"`
	ChannelID      string `json:"channelId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content,omitempty"`
	ReplyToID      string `json:"replyToId,omitempty"`
	Emoji          string `json:"emoji,omitempty"`
}

// Outbound command frames. The Type field must be set to the matching
// Cmd constant; the client package does this in its typed senders.

// JoinChannel subscribes the connection to a channel's message stream.
type JoinChannel struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
}

// LeaveChannel unsubscribes the connection from a channel.
type LeaveChannel struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
}

// SendMessage posts a message to a channel. ReplyToID is omitted from
// the frame when empty.
type SendMessage struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
	ReplyToID string `json:"replyToId,omitempty"`
}

// EditMessage replaces the content of a message the sender authored.
type EditMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// DeleteMessage removes a message the sender authored.
type DeleteMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
}

// AddReaction attaches an emoji reaction to a message.
type AddReaction struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	ChannelID string `json:"channelId"`
}

// RemoveReaction detaches the sender's emoji reaction from a message.
type RemoveReaction struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	ChannelID string `json:"channelId"`
}

// Typing signals that the sender is typing in a channel.
type Typing struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
}

// SendDM posts a message to a direct-message conversation.
type SendDM struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// Event frames whose shape is fixed by the protocol. Message-stream
// frames that embed a full message are defined next to the hub, which
// owns the message model.

// AuthSuccess is the first frame the server sends once the connection
// is authenticated.
type AuthSuccess struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// PresenceUpdate announces a user going online or offline in a channel.
type PresenceUpdate struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Status    string `json:"status"`
	ChannelID string `json:"channelId,omitempty"`
}

// UserTyping relays a typing signal to other channel members.
type UserTyping struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	ChannelID string `json:"channelId"`
}

// MessageEdited announces an in-place content change.
type MessageEdited struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	EditedAt  string `json:"editedAt"`
}

// MessageDeleted announces a message removal.
type MessageDeleted struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
}

// ReactionAdded announces a new reaction on a message.
type ReactionAdded struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Emoji     string `json:"emoji"`
}

// ReactionRemoved announces a reaction removal.
type ReactionRemoved struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

// JoinedChannel acknowledges a join_channel command.
type JoinedChannel struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
}

// ErrorFrame reports a rejected or malformed command.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
