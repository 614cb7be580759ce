package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayops/teamgate/routing"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCache(client, time.Minute, nil, zap.NewNop()), mr
}

func TestCacheDecisionRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	d := newDecision(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	d.Status = routing.DecisionCompleted
	d.ResponseTimeMs = 230
	require.NoError(t, c.SetDecision(ctx, d))

	got, err := c.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, routing.DecisionCompleted, got.Status)
	assert.Equal(t, int64(230), got.ResponseTimeMs)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, 98.0, got.Candidates[0].Score.Total)
}

func TestCacheMiss(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.GetDecision(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheDecisionTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	d := newDecision(time.Now())
	require.NoError(t, c.SetDecision(ctx, d))

	mr.FastForward(2 * time.Minute)
	_, err := c.GetDecision(ctx, d.ID)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCachePublishStats(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.PublishStats(ctx, map[string]any{
		"total_teams":    2,
		"total_requests": 17,
	}))

	raw, err := mr.Get(statsKey)
	require.NoError(t, err)
	var snapshot map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &snapshot))
	assert.Equal(t, float64(2), snapshot["total_teams"])

	// A new publish replaces the previous snapshot.
	require.NoError(t, c.PublishStats(ctx, map[string]any{"total_teams": 3}))
	raw, err = mr.Get(statsKey)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(raw), &snapshot))
	assert.Equal(t, float64(3), snapshot["total_teams"])
}

func TestLedgerGetPrefersCache(t *testing.T) {
	cache, _ := newTestCache(t)
	store := NewMemoryStore()
	l := New(store, cache, zap.NewNop())
	ctx := context.Background()

	d := newDecision(time.Now())
	require.NoError(t, l.Append(ctx, d))
	require.NoError(t, l.Finalize(ctx, d.ID, Outcome{Status: routing.DecisionCompleted, ResponseTimeMs: 99}))

	// Finalize wrote through to the cache; mutate the durable copy to
	// prove the cached one is served.
	require.NoError(t, store.Update(ctx, &routing.Decision{
		ID:       d.ID,
		Status:   routing.DecisionFailed,
		RoutedAt: d.RoutedAt,
	}))

	got, err := l.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, routing.DecisionCompleted, got.Status)
	assert.Equal(t, int64(99), got.ResponseTimeMs)
}
