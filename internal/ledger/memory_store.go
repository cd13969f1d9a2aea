package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory loan store for demo/development mode.
type MemoryStore struct {
	loans  map[int64]*Loan
	nextID int64
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory loan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{loans: make(map[int64]*Loan)}
}

func (m *MemoryStore) Create(_ context.Context, loan *Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	loan.ID = m.nextID
	cp := *loan
	m.loans[loan.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.loans[id]
	if !ok {
		return nil, ErrLoanNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, loan *Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loans[loan.ID]; !ok {
		return ErrLoanNotFound
	}
	cp := *loan
	m.loans[loan.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByBorrower(_ context.Context, borrower string, beforeID int64, limit int) ([]*Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Loan
	for _, l := range m.loans {
		if l.Borrower != borrower {
			continue
		}
		if beforeID > 0 && l.ID >= beforeID {
			continue
		}
		cp := *l
		result = append(result, &cp)
	}
	sortLoansDesc(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListActive(_ context.Context, limit int) ([]*Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Loan
	for _, l := range m.loans {
		if l.Status == StatusActive {
			cp := *l
			result = append(result, &cp)
		}
	}
	sortLoansDesc(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListOverdue(_ context.Context, before time.Time, limit int) ([]*Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Loan
	for _, l := range m.loans {
		if l.Status == StatusActive && l.Deadline.Before(before) {
			cp := *l
			result = append(result, &cp)
		}
	}
	sortLoansDesc(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// sortLoansDesc orders loans newest first by ID.
func sortLoansDesc(loans []*Loan) {
	sort.Slice(loans, func(i, j int) bool { return loans[i].ID > loans[j].ID })
}
