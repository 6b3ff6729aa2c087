package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// MemoryStore is an in-process session store for tests: it implements
// the same save/load/active-pointer surface as Store without touching
// disk. Every record is deep-copied on read and write so callers can't
// mutate stored state through a returned pointer.
type MemoryStore struct {
	mu           sync.RWMutex
	records      map[string]*Record
	activeID     string
	continuation *Continuation
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Save stores a deep copy of r.
func (m *MemoryStore) Save(r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.UpdatedAt = time.Now()
	cp := *r
	cp.Messages = append([]types.Message(nil), r.Messages...)
	m.records[r.ID] = &cp
	return nil
}

// Load returns a deep copy of the stored record.
func (m *MemoryStore) Load(id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("session: no such record %s", id)
	}
	cp := *r
	cp.Messages = append([]types.Message(nil), r.Messages...)
	return &cp, nil
}

// SetActive records id as the active session with the given context
// usage percentage.
func (m *MemoryStore) SetActive(id string, contextPercent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = id
	m.continuation = &Continuation{
		Version:        continuationVersion,
		SessionID:      id,
		LastActiveAt:   time.Now(),
		ContextPercent: contextPercent,
	}
	return nil
}

// ResolveActive returns the current continuation pointer, or nil if none
// has been set.
func (m *MemoryStore) ResolveActive() (*Continuation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.continuation == nil {
		return nil, nil
	}
	c := *m.continuation
	return &c, nil
}

// Clear removes the active-session pointer.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = ""
	m.continuation = nil
	return nil
}
