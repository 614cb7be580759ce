// Package ledger records routing decisions. Entries are append-only:
// a decision is appended as pending, finalized exactly once with its
// outcome, and immutable afterwards.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relayops/teamgate/routing"
)

// Sentinel errors for ledger operations.
var (
	ErrDecisionNotFound = errors.New("routing decision not found")
	ErrAlreadyFinalized = errors.New("routing decision already finalized")
	ErrMissingID        = errors.New("routing decision id is required")
)

// Outcome finalizes a pending decision.
type Outcome struct {
	Status         routing.DecisionStatus
	ResponseTimeMs int64
	ErrorMessage   string
	CompletedAt    time.Time
}

// Store is the durable decision store.
type Store interface {
	// Insert writes a new pending decision.
	Insert(ctx context.Context, d *routing.Decision) error
	// Update overwrites the decision row after finalization.
	Update(ctx context.Context, d *routing.Decision) error
	// Get returns the decision or ErrDecisionNotFound.
	Get(ctx context.Context, id string) (*routing.Decision, error)
	// Scan returns decisions routed in [from, to), newest first,
	// capped at limit.
	Scan(ctx context.Context, from, to time.Time, limit int) ([]*routing.Decision, error)
}

// Ledger wraps a durable store with an optional hot cache for recent
// lookups.
type Ledger struct {
	store  Store
	cache  *Cache
	logger *zap.Logger
}

// New builds a ledger; cache may be nil.
func New(store Store, cache *Cache, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:  store,
		cache:  cache,
		logger: logger.With(zap.String("component", "ledger")),
	}
}

// Append records a pending decision.
func (l *Ledger) Append(ctx context.Context, d *routing.Decision) error {
	if d == nil || d.ID == "" {
		return ErrMissingID
	}
	if err := l.store.Insert(ctx, d); err != nil {
		return fmt.Errorf("append decision %s: %w", d.ID, err)
	}
	l.logger.Debug("decision appended",
		zap.String("decision_id", d.ID),
		zap.String("to_team", d.ToTeam))
	return nil
}

// Finalize attaches the outcome to a pending decision. Finalizing twice
// returns ErrAlreadyFinalized; the first outcome stands.
func (l *Ledger) Finalize(ctx context.Context, id string, outcome Outcome) error {
	d, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != routing.DecisionPending {
		return fmt.Errorf("finalize decision %s: %w", id, ErrAlreadyFinalized)
	}
	d.Status = outcome.Status
	d.ResponseTimeMs = outcome.ResponseTimeMs
	d.ErrorMessage = outcome.ErrorMessage
	d.CompletedAt = outcome.CompletedAt
	if d.CompletedAt.IsZero() {
		d.CompletedAt = time.Now()
	}
	if err := l.store.Update(ctx, d); err != nil {
		return fmt.Errorf("finalize decision %s: %w", id, err)
	}
	if l.cache != nil {
		if cerr := l.cache.SetDecision(ctx, d); cerr != nil {
			l.logger.Warn("decision cache write failed",
				zap.String("decision_id", id),
				zap.Error(cerr))
		}
	}
	l.logger.Debug("decision finalized",
		zap.String("decision_id", id),
		zap.String("status", string(outcome.Status)))
	return nil
}

// Get returns the decision, consulting the hot cache first.
func (l *Ledger) Get(ctx context.Context, id string) (*routing.Decision, error) {
	if l.cache != nil {
		if d, err := l.cache.GetDecision(ctx, id); err == nil {
			return d, nil
		} else if !errors.Is(err, ErrCacheMiss) {
			l.logger.Warn("decision cache read failed",
				zap.String("decision_id", id),
				zap.Error(err))
		}
	}
	return l.store.Get(ctx, id)
}

// Scan returns decisions routed in [from, to), newest first.
func (l *Ledger) Scan(ctx context.Context, from, to time.Time, limit int) ([]*routing.Decision, error) {
	return l.store.Scan(ctx, from, to, limit)
}
