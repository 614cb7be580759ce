package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relayops/teamgate/routing"
)

// MemoryStore keeps decisions in memory, for tests and for running
// without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*routing.Decision
	ordered []*routing.Decision // append order
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*routing.Decision)}
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, d *routing.Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[d.ID]; exists {
		return fmt.Errorf("decision %s already recorded", d.ID)
	}
	cp := cloneDecision(d)
	s.byID[d.ID] = cp
	s.ordered = append(s.ordered, cp)
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, d *routing.Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.byID[d.ID]
	if !ok {
		return ErrDecisionNotFound
	}
	*held = *cloneDecision(d)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*routing.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	return cloneDecision(d), nil
}

// Scan implements Store.
func (s *MemoryStore) Scan(ctx context.Context, from, to time.Time, limit int) ([]*routing.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*routing.Decision, 0)
	for i := len(s.ordered) - 1; i >= 0; i-- {
		d := s.ordered[i]
		if !from.IsZero() && d.RoutedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !d.RoutedAt.Before(to) {
			continue
		}
		out = append(out, cloneDecision(d))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Len reports the number of recorded decisions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func cloneDecision(d *routing.Decision) *routing.Decision {
	cp := *d
	if len(d.RequiredCapabilities) > 0 {
		cp.RequiredCapabilities = append([]string(nil), d.RequiredCapabilities...)
	}
	if len(d.Candidates) > 0 {
		cp.Candidates = make([]routing.Candidate, len(d.Candidates))
		copy(cp.Candidates, d.Candidates)
		for i := range cp.Candidates {
			if mc := d.Candidates[i].MatchedCapabilities; len(mc) > 0 {
				cp.Candidates[i].MatchedCapabilities = append([]string(nil), mc...)
			}
		}
	}
	return &cp
}
