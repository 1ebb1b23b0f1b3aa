// Package user provides anonymous session identity: a random bearer
// token mapped to a stable user ID and username. The WebSocket upgrade
// resolves its identity here, so the same token keeps the same user ID
// across any number of reconnects.
package user

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is a persistent anonymous identity.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionStore manages anonymous sessions keyed by token.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
	}
}

// Create issues a new session. An empty username gets an anon- name
// derived from the user ID.
func (s *SessionStore) Create(username string) *Session {
	id := uuid.NewString()
	if username == "" {
		username = "anon-" + id[:6]
	}
	sess := &Session{
		Token:     generateToken(),
		UserID:    id,
		Username:  username,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session for the given token, or nil.
func (s *SessionStore) Get(token string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[token]
}

// Delete revokes a token.
func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// Count returns the number of live sessions.
func (s *SessionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func generateToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
