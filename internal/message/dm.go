package message

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conversation is a direct-message thread between two users.
type Conversation struct {
	ID               string    `json:"id"`
	Participant1ID   string    `json:"participant1Id"`
	Participant1Name string    `json:"participant1Name"`
	Participant2ID   string    `json:"participant2Id"`
	Participant2Name string    `json:"participant2Name"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Includes reports whether userID is a participant.
func (c *Conversation) Includes(userID string) bool {
	return c.Participant1ID == userID || c.Participant2ID == userID
}

// OtherParticipant returns the participant that is not userID.
func (c *Conversation) OtherParticipant(userID string) string {
	if c.Participant1ID == userID {
		return c.Participant2ID
	}
	return c.Participant1ID
}

// ConversationStore manages DM conversations in memory, keyed both by
// ID and by participant pair so repeated opens reuse the same thread.
type ConversationStore struct {
	mu     sync.Mutex
	byID   map[string]*Conversation
	byPair map[[2]string]string
}

// NewConversationStore creates an empty ConversationStore.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		byID:   make(map[string]*Conversation),
		byPair: make(map[[2]string]string),
	}
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// GetOrCreate returns the conversation between the two users, creating
// it on first use.
func (s *ConversationStore) GetOrCreate(user1ID, user1Name, user2ID, user2Name string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(user1ID, user2ID)
	if id, ok := s.byPair[key]; ok {
		return s.byID[id]
	}

	c := &Conversation{
		ID:               uuid.NewString(),
		Participant1ID:   user1ID,
		Participant1Name: user1Name,
		Participant2ID:   user2ID,
		Participant2Name: user2Name,
		CreatedAt:        time.Now(),
	}
	s.byID[c.ID] = c
	s.byPair[key] = c.ID
	return c
}

// Get returns the conversation with the given ID, or nil.
func (s *ConversationStore) Get(id string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

// ListByUser returns all conversations that include userID.
func (s *ConversationStore) ListByUser(userID string) []*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Conversation
	for _, c := range s.byID {
		if c.Includes(userID) {
			result = append(result, c)
		}
	}
	return result
}
