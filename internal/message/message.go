// Package message holds the chat message model and its persistence
// backends: an in-memory store and a Redis-backed store with the same
// interface. Messages live in per-stream histories trimmed to a
// retention size; a stream is either a channel or a DM conversation.
package message

import "time"

// Reaction is a single user's emoji reaction on a message.
type Reaction struct {
	Emoji    string `json:"emoji"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Message is one chat message, either in a channel (ChannelID set) or
// in a direct-message conversation (ConversationID set).
type Message struct {
	ID             string     `json:"id"`
	ChannelID      string     `json:"channelId,omitempty"`
	ConversationID string     `json:"conversationId,omitempty"`
	UserID         string     `json:"userId"`
	Username       string     `json:"username"`
	Content        string     `json:"content"`
	ReplyToID      string     `json:"replyToId,omitempty"`
	Reactions      []Reaction `json:"reactions"`
	CreatedAt      time.Time  `json:"createdAt"`
	EditedAt       *time.Time `json:"editedAt,omitempty"`
}

// StreamKey returns the history stream a message belongs to. Channel
// messages and DM messages never share a stream.
func (m *Message) StreamKey() string {
	if m.ConversationID != "" {
		return "dm:" + m.ConversationID
	}
	return m.ChannelID
}

// DMStream returns the history stream key for a DM conversation.
func DMStream(conversationID string) string {
	return "dm:" + conversationID
}

// Store is the interface over message persistence backends. Lookups by
// message ID are global because edit and delete commands do not carry
// the channel.
type Store interface {
	// Append adds a message to its stream, trimming the oldest
	// entries beyond the retention size.
	Append(msg *Message)

	// Recent returns up to n most recent messages in a stream, oldest
	// first.
	Recent(streamID string, n int) []*Message

	// Get returns a copy of the message with the given ID, or nil.
	Get(id string) *Message

	// Edit replaces a message's content in place. Reports whether the
	// message existed.
	Edit(id, content string, editedAt time.Time) bool

	// Delete removes a message. Reports whether it existed.
	Delete(id string) bool

	// AddReaction attaches a reaction unless the same user already
	// reacted with the same emoji. Reports whether the message existed.
	AddReaction(id string, r Reaction) bool

	// RemoveReaction detaches a user's reaction by emoji. Reports
	// whether the message existed.
	RemoveReaction(id, userID, emoji string) bool

	// Count returns the number of stored messages in a stream.
	Count(streamID string) int

	// DeleteStream drops a stream's entire history.
	DeleteStream(streamID string)
}
