// Package session implements the Session Manager: a per-session resource
// map with serialized mutation and a history store the Facade uses to load
// and persist chat history across turns.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hearthai/hearth/internal/core"
)

const maxHistoryMessages = 1000

// HistoryStore persists per-session chat history. The default
// implementation keeps it in memory; a production deployment can swap in a
// database-backed implementation without touching the Manager.
type HistoryStore interface {
	Load(ctx context.Context, sessionID string, limit int) (core.ChatHistory, error)
	Save(ctx context.Context, history core.ChatHistory) error
}

// Resources is everything the Facade associates with one live session.
type Resources struct {
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time

	mu sync.Mutex
}

// Lock serializes mutating operations (history append, trim) on this
// session's resources; concurrent reads elsewhere are not gated by it.
func (r *Resources) Lock()   { r.mu.Lock() }
func (r *Resources) Unlock() { r.mu.Unlock() }

// Manager maps sessionId → *Resources, creating entries on first use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Resources
	history  HistoryStore
}

// NewManager builds a Manager backed by the given history store.
func NewManager(history HistoryStore) *Manager {
	return &Manager{
		sessions: map[string]*Resources{},
		history:  history,
	}
}

// GetSessionResources returns the session's resources, creating them if this
// is the first request for that id.
func (m *Manager) GetSessionResources(sessionID string) *Resources {
	m.mu.RLock()
	r, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.sessions[sessionID]; ok {
		return r
	}
	now := time.Now()
	r = &Resources{SessionID: sessionID, CreatedAt: now, UpdatedAt: now}
	m.sessions[sessionID] = r
	return r
}

// Release drops a session's resources entirely.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// ListActive returns every currently tracked session id, sorted for a
// deterministic response shape.
func (m *Manager) ListActive() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Touch updates a session's updatedAt to now.
func (m *Manager) Touch(sessionID string) {
	r := m.GetSessionResources(sessionID)
	r.Lock()
	defer r.Unlock()
	r.UpdatedAt = time.Now()
}

// LoadHistory fetches the most recent limit messages for a session via the
// configured HistoryStore.
func (m *Manager) LoadHistory(ctx context.Context, sessionID string, limit int) (core.ChatHistory, error) {
	if m.history == nil {
		return core.ChatHistory{SessionID: sessionID}, nil
	}
	return m.history.Load(ctx, sessionID, limit)
}

// SaveHistory serializes the save through the session's resource lock, then
// trims to maxHistoryMessages before persisting.
func (m *Manager) SaveHistory(ctx context.Context, history core.ChatHistory) error {
	if m.history == nil {
		return nil
	}
	r := m.GetSessionResources(history.SessionID)
	r.Lock()
	defer r.Unlock()

	trimmed := history.Trim(maxHistoryMessages)
	if err := m.history.Save(ctx, trimmed); err != nil {
		return fmt.Errorf("session: saving history: %w", err)
	}
	r.UpdatedAt = time.Now()
	return nil
}

// InMemoryHistoryStore is a HistoryStore backed by a process-local map,
// suitable as a default when no external store is configured.
type InMemoryHistoryStore struct {
	mu   sync.RWMutex
	data map[string]core.ChatHistory
}

// NewInMemoryHistoryStore returns an empty InMemoryHistoryStore.
func NewInMemoryHistoryStore() *InMemoryHistoryStore {
	return &InMemoryHistoryStore{data: map[string]core.ChatHistory{}}
}

// Load returns the last limit messages for sessionID, or an empty history
// if none exist yet.
func (s *InMemoryHistoryStore) Load(ctx context.Context, sessionID string, limit int) (core.ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.data[sessionID]
	if !ok {
		return core.ChatHistory{SessionID: sessionID}, nil
	}
	return h.Trim(limit), nil
}

// Save overwrites the stored history for history.SessionID.
func (s *InMemoryHistoryStore) Save(ctx context.Context, history core.ChatHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[history.SessionID] = history
	return nil
}
