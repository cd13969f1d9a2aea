package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryEventStore implements EventStore with in-memory storage.
type MemoryEventStore struct {
	events []*Event
	nextID atomic.Int64
	mu     sync.RWMutex
}

// NewMemoryEventStore creates a new in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) AppendEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	cp.ID = s.nextID.Add(1)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryEventStore) GetEvents(_ context.Context, borrower string, since time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Event
	for _, e := range s.events {
		if e.Borrower == borrower && !e.CreatedAt.Before(since) {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryEventStore) ListRecent(_ context.Context, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.events) - limit
	if start < 0 {
		start = 0
	}
	result := make([]*Event, 0, len(s.events)-start)
	for _, e := range s.events[start:] {
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryEventStore) GetAllBorrowers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var borrowers []string
	for _, e := range s.events {
		if !seen[e.Borrower] {
			seen[e.Borrower] = true
			borrowers = append(borrowers, e.Borrower)
		}
	}
	return borrowers, nil
}
