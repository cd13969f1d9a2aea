package profile

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory profile store for demo/development mode.
type MemoryStore struct {
	profiles map[string]*Profile
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

func (m *MemoryStore) Get(ctx context.Context, borrower string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[strings.ToLower(borrower)]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.profiles[strings.ToLower(p.Borrower)] = &cp
	return nil
}
