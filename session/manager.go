package session

import (
	"sort"
	"sync"
	"time"
)

// Info is a point-in-time summary of one session.
type Info struct {
	ID        string    `json:"id"`
	Key       Key       `json:"key"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manager is the session table. One entry per key, created lazily; entries
// disappear on Clear or process exit, never touching disk.
type Manager struct {
	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[Key]*Session)}
}

// Get returns the session for key, creating it on first use.
func (m *Manager) Get(key Key) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		s = newSession(key)
		m.sessions[key] = s
	}
	return s
}

// Peek returns the session for key without creating one.
func (m *Manager) Peek(key Key) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Clear removes the session for key. Reports whether one existed.
func (m *Manager) Clear(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[key]
	delete(m.sessions, key)
	return ok
}

// List returns summaries of all live sessions, sorted by key.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, Info{
			ID:        s.ID(),
			Key:       s.Key(),
			Messages:  s.Len(),
			CreatedAt: s.CreatedAt(),
			UpdatedAt: s.UpdatedAt(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Key.String() < infos[j].Key.String()
	})
	return infos
}
