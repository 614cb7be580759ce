package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/relayops/teamgate/routing"
)

func newDecision(routedAt time.Time) *routing.Decision {
	return &routing.Decision{
		ID:                   uuid.NewString(),
		FromTeam:             "frontdesk",
		ToTeam:               "sales",
		TaskDescription:      "sync the pipeline",
		RequiredCapabilities: []string{"sales", "crm"},
		Candidates: []routing.Candidate{
			{
				TeamID:              "sales",
				Endpoint:            "http://sales.local",
				MatchedCapabilities: []string{"sales", "crm"},
				Score:               routing.ScoreBreakdown{Capability: 50, Health: 30, Performance: 18, Total: 98},
				AvgResponseTimeMs:   100,
			},
		},
		Strategy: routing.StrategyRoundRobin,
		Status:   routing.DecisionPending,
		RoutedAt: routedAt,
	}
}

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, MigrateDecisions(db))
	return NewGormStore(db)
}

// stores under test share one behavioral contract.
func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestLedgerAppendFinalizeGet(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l := New(store, nil, zap.NewNop())
			ctx := context.Background()

			d := newDecision(time.Now().UTC().Truncate(time.Millisecond))
			require.NoError(t, l.Append(ctx, d))

			got, err := l.Get(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, routing.DecisionPending, got.Status)
			assert.Equal(t, d.RequiredCapabilities, got.RequiredCapabilities)
			require.Len(t, got.Candidates, 1)
			assert.Equal(t, 98.0, got.Candidates[0].Score.Total)

			completed := time.Now().UTC().Truncate(time.Millisecond)
			require.NoError(t, l.Finalize(ctx, d.ID, Outcome{
				Status:         routing.DecisionCompleted,
				ResponseTimeMs: 230,
				CompletedAt:    completed,
			}))

			got, err = l.Get(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, routing.DecisionCompleted, got.Status)
			assert.Equal(t, int64(230), got.ResponseTimeMs)
			assert.True(t, completed.Equal(got.CompletedAt))
		})
	}
}

func TestLedgerFinalizeOnce(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l := New(store, nil, zap.NewNop())
			ctx := context.Background()

			d := newDecision(time.Now().UTC())
			require.NoError(t, l.Append(ctx, d))
			require.NoError(t, l.Finalize(ctx, d.ID, Outcome{Status: routing.DecisionCompleted, ResponseTimeMs: 100}))

			err := l.Finalize(ctx, d.ID, Outcome{Status: routing.DecisionFailed, ErrorMessage: "late failure"})
			assert.ErrorIs(t, err, ErrAlreadyFinalized)

			// The first outcome stands.
			got, err := l.Get(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, routing.DecisionCompleted, got.Status)
			assert.Empty(t, got.ErrorMessage)
		})
	}
}

func TestLedgerUnknownDecision(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l := New(store, nil, zap.NewNop())
			ctx := context.Background()

			_, err := l.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrDecisionNotFound)
			assert.ErrorIs(t, l.Finalize(ctx, "missing", Outcome{}), ErrDecisionNotFound)
			assert.ErrorIs(t, l.Append(ctx, &routing.Decision{}), ErrMissingID)
		})
	}
}

func TestLedgerScanWindow(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l := New(store, nil, zap.NewNop())
			ctx := context.Background()

			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			var ids []string
			for i := 0; i < 5; i++ {
				d := newDecision(base.Add(time.Duration(i) * time.Minute))
				require.NoError(t, l.Append(ctx, d))
				ids = append(ids, d.ID)
			}

			// Window [t+1m, t+4m) holds minutes 1, 2, 3, newest first.
			got, err := l.Scan(ctx, base.Add(time.Minute), base.Add(4*time.Minute), 0)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, ids[3], got[0].ID)
			assert.Equal(t, ids[1], got[2].ID)

			// Limit caps from the newest side.
			got, err = l.Scan(ctx, time.Time{}, time.Time{}, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, ids[4], got[0].ID)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d := newDecision(time.Now())
	require.NoError(t, s.Insert(ctx, d))

	got, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	got.Status = routing.DecisionFailed
	got.Candidates[0].TeamID = "mutated"

	again, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, routing.DecisionPending, again.Status)
	assert.Equal(t, "sales", again.Candidates[0].TeamID)
}

func TestMemoryStoreDuplicateInsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d := newDecision(time.Now())
	require.NoError(t, s.Insert(ctx, d))
	assert.Error(t, s.Insert(ctx, d))
	assert.Equal(t, 1, s.Len())
}
