package message

import (
	"sync"
	"time"
)

// MemoryStore keeps per-stream message history in memory with a global
// ID index for edits and deletes.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string][]*Message
	index   map[string]*Message
	maxSize int
}

// NewMemoryStore creates a store retaining up to maxSize messages per
// stream.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		streams: make(map[string][]*Message),
		index:   make(map[string]*Message),
		maxSize: maxSize,
	}
}

// Append adds a message to its stream and trims the oldest overflow.
func (s *MemoryStore) Append(msg *Message) {
	key := msg.StreamKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.streams[key], msg)
	s.index[msg.ID] = msg
	if len(msgs) > s.maxSize {
		for _, old := range msgs[:len(msgs)-s.maxSize] {
			delete(s.index, old.ID)
		}
		msgs = msgs[len(msgs)-s.maxSize:]
	}
	s.streams[key] = msgs
}

// Recent returns up to n most recent messages in a stream, oldest first.
func (s *MemoryStore) Recent(streamID string, n int) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.streams[streamID]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	result := make([]*Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		result[i] = &cp
	}
	return result
}

// Get returns a copy of the message with the given ID, or nil.
func (s *MemoryStore) Get(id string) *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.index[id]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Edit replaces a message's content in place.
func (s *MemoryStore) Edit(id, content string, editedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.index[id]
	if !ok {
		return false
	}
	m.Content = content
	m.EditedAt = &editedAt
	return true
}

// Delete removes a message from its stream and the index.
func (s *MemoryStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.index[id]
	if !ok {
		return false
	}
	delete(s.index, id)

	key := m.StreamKey()
	msgs := s.streams[key]
	for i, cur := range msgs {
		if cur.ID == id {
			s.streams[key] = append(msgs[:i:i], msgs[i+1:]...)
			break
		}
	}
	return true
}

// AddReaction attaches a reaction, deduplicating per user and emoji.
func (s *MemoryStore) AddReaction(id string, r Reaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.index[id]
	if !ok {
		return false
	}
	for _, cur := range m.Reactions {
		if cur.UserID == r.UserID && cur.Emoji == r.Emoji {
			return true
		}
	}
	m.Reactions = append(m.Reactions, r)
	return true
}

// RemoveReaction detaches a user's reaction by emoji.
func (s *MemoryStore) RemoveReaction(id, userID, emoji string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.index[id]
	if !ok {
		return false
	}
	kept := m.Reactions[:0]
	for _, cur := range m.Reactions {
		if cur.UserID == userID && cur.Emoji == emoji {
			continue
		}
		kept = append(kept, cur)
	}
	m.Reactions = kept
	return true
}

// Count returns the number of stored messages in a stream.
func (s *MemoryStore) Count(streamID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[streamID])
}

// DeleteStream drops a stream's history.
func (s *MemoryStore) DeleteStream(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.streams[streamID] {
		delete(s.index, m.ID)
	}
	delete(s.streams, streamID)
}
