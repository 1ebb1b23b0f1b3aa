// Package channel holds the registry of chat channels a connection can
// join. Channels are seeded from configuration at startup and sorted
// by position for the sidebar.
package channel

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel is a named scope within the chat system.
type Channel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type"`
	Position    int       `json:"position"`
	Locked      bool      `json:"isLocked"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Manager manages the channel registry.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewManager creates an empty channel Manager.
func NewManager() *Manager {
	return &Manager{
		channels: make(map[string]*Channel),
	}
}

// Create adds a new text channel and returns it.
func (m *Manager) Create(name, description string, position int) *Channel {
	c := &Channel{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Type:        "text",
		Position:    position,
		CreatedAt:   time.Now(),
	}
	m.mu.Lock()
	m.channels[c.ID] = c
	m.mu.Unlock()
	return c
}

// Get returns a channel by ID, or nil if not found.
func (m *Manager) Get(id string) *Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[id]
}

// GetByName returns the channel with the given name, or nil.
func (m *Manager) GetByName(name string) *Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.channels {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// List returns all channels ordered by position, then name.
func (m *Manager) List() []*Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Channel, 0, len(m.channels))
	for _, c := range m.channels {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Position != result[j].Position {
			return result[i].Position < result[j].Position
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// SetLocked flips a channel's lock flag. Locked channels reject
// send_message commands.
func (m *Manager) SetLocked(id string, locked bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[id]
	if !ok {
		return false
	}
	c.Locked = locked
	return true
}

// Delete removes a channel by ID.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.channels, id)
	m.mu.Unlock()
}
