// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/linnemanlabs/warden/internal/triage"
)

// Store holds cases in memory. Suitable for dev/testing and batch runs.
type Store struct {
	mu      sync.RWMutex
	cases   map[string]*triage.Case // case ID -> case
	tickets map[string]string       // submission ticket -> case ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		cases:   make(map[string]*triage.Case),
		tickets: make(map[string]string),
	}
}

// Get retrieves a case by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Case, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

// GetByTicket retrieves a case by the ticket issued at submission. Returns a copy.
func (s *Store) GetByTicket(_ context.Context, ticket string) (*triage.Case, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tickets[ticket]
	if !ok {
		return nil, false, nil
	}
	return s.cases[id].Clone(), true, nil
}

// Put stores a copy of the case, replacing any earlier version.
func (s *Store) Put(_ context.Context, c *triage.Case) error {
	if c.ID == "" {
		return triage.ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = c.Clone()
	if c.Ticket != "" {
		s.tickets[c.Ticket] = c.ID
	}
	return nil
}

// ListByStatus returns up to limit cases in the given status, oldest first.
// A limit of zero or less returns all of them.
func (s *Store) ListByStatus(_ context.Context, status triage.Status, limit int) ([]*triage.Case, error) {
	s.mu.RLock()
	var out []*triage.Case
	for _, c := range s.cases {
		if c.Status == status {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *triage.Case) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
