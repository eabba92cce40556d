package chat

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Load(_ context.Context, userKey string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userKey]; ok {
		return s.Clone(), nil
	}
	return NewSession(userKey), nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stored int64
	if cur, ok := m.sessions[s.UserKey]; ok {
		stored = cur.Version
	}
	if stored != s.Version {
		return ErrConcurrentModification
	}
	s.Version++
	m.sessions[s.UserKey] = s.Clone()
	return nil
}

func (m *MemoryStore) ExpireStale(_ context.Context, cutoff time.Time, flowID, stepID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sessions {
		if !s.LastActivityAt.Before(cutoff) {
			continue
		}
		if s.FlowID == flowID && s.StepID == stepID && len(s.Context) == 0 {
			continue
		}
		s.Reset(flowID, stepID)
		s.Version++
		n++
	}
	return n, nil
}

func (m *MemoryStore) Delete(_ context.Context, userKey string) error {
	m.mu.Lock()
	delete(m.sessions, userKey)
	m.mu.Unlock()
	return nil
}
