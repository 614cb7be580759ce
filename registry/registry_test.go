package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTeam(id string, caps ...string) *Team {
	return &Team{
		ID:           id,
		Name:         "Team " + id,
		Endpoint:     "http://" + id + ".local:8080",
		Capabilities: caps,
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name string
		team *Team
		want error
	}{
		{"missing id", &Team{Endpoint: "http://x", Capabilities: []string{"a"}}, ErrMissingID},
		{"missing endpoint", &Team{ID: "t1", Capabilities: []string{"a"}}, ErrMissingEndpoint},
		{"no capabilities", &Team{ID: "t1", Endpoint: "http://x"}, ErrNoCapabilities},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(ctx, tt.team, false)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, newTeam("sales", "sales", "crm"), false))

	got, err := r.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, "sales", got.ID)
	assert.Equal(t, []string{"sales", "crm"}, got.Capabilities)
	assert.Equal(t, StatusHealthy, got.Status)
	assert.False(t, got.RegisteredAt.IsZero())

	_, err = r.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrTeamNotFound)
}

func TestRegisterDeduplicatesCapabilities(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, newTeam("t1", "a", "b", "a", "", "b"), false))
	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Capabilities)
}

func TestReRegisterPreservesHealth(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, newTeam("t1", "a"), false))
	require.NoError(t, r.UpdateHealth(ctx, "t1", func(h *HealthStats, status *TeamStatus, _ *time.Time) {
		h.SuccessCount = 9
		h.ErrorCount = 1
		h.TotalResponseTimeMs = 900
		*status = StatusDegraded
	}))

	first, err := r.Get(ctx, "t1")
	require.NoError(t, err)

	// Same id, new endpoint: descriptive fields replaced, health kept.
	updated := newTeam("t1", "a", "b")
	updated.Endpoint = "http://t1-v2.local:8080"
	require.NoError(t, r.Register(ctx, updated, false))

	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "http://t1-v2.local:8080", got.Endpoint)
	assert.Equal(t, []string{"a", "b"}, got.Capabilities)
	assert.Equal(t, int64(9), got.Health.SuccessCount)
	assert.Equal(t, int64(1), got.Health.ErrorCount)
	assert.Equal(t, StatusDegraded, got.Status)
	assert.Equal(t, first.RegisteredAt, got.RegisteredAt)

	// resetHealth zeroes the counters and returns to healthy.
	require.NoError(t, r.Register(ctx, newTeam("t1", "a"), true))
	got, err = r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Health.SuccessCount)
	assert.Equal(t, StatusHealthy, got.Status)
}

func TestUnregisterAbsentIsNoOp(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx := context.Background()

	assert.NoError(t, r.Unregister(ctx, "ghost"))

	require.NoError(t, r.Register(ctx, newTeam("t1", "a"), false))
	require.NoError(t, r.Unregister(ctx, "t1"))
	assert.Equal(t, 0, r.Len())
	_, err := r.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrTeamNotFound)
}

func TestListOrderAndFilter(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, newTeam("c", "x"), false))
	require.NoError(t, r.Register(ctx, newTeam("a", "x", "y"), false))
	require.NoError(t, r.Register(ctx, newTeam("b", "y"), false))

	all := r.List(ctx, "")
	ids := make([]string, 0, len(all))
	for _, tm := range all {
		ids = append(ids, tm.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids, "list follows first-registration order")

	ys := r.List(ctx, "y")
	require.Len(t, ys, 2)
	assert.Equal(t, "a", ys[0].ID)
	assert.Equal(t, "b", ys[1].ID)

	// Re-registration keeps the original position.
	require.NoError(t, r.Register(ctx, newTeam("c", "x", "z"), false))
	all = r.List(ctx, "")
	assert.Equal(t, "c", all[0].ID)
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, newTeam("t1", "a"), false))
	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	got.Capabilities[0] = "mutated"
	got.Health.SuccessCount = 42

	again, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again.Capabilities)
	assert.Equal(t, int64(0), again.Health.SuccessCount)
}

func TestCapabilitiesInventory(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, newTeam("t1", "sales", "crm"), false))
	require.NoError(t, r.Register(ctx, newTeam("t2", "crm"), false))

	inv := r.Capabilities(ctx)
	assert.Equal(t, []string{"t1"}, inv["sales"])
	assert.Equal(t, []string{"t1", "t2"}, inv["crm"])
}

func TestEvents(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx := context.Background()

	var mu sync.Mutex
	var seen []Event
	id := r.Subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	require.NoError(t, r.Register(ctx, newTeam("t1", "a"), false))
	require.NoError(t, r.Unregister(ctx, "t1"))

	mu.Lock()
	require.Len(t, seen, 2)
	assert.Equal(t, EventRegistered, seen[0].Type)
	assert.Equal(t, EventUnregistered, seen[1].Type)
	assert.Equal(t, "t1", seen[1].Team.ID)
	mu.Unlock()

	r.Unsubscribe(id)
	require.NoError(t, r.Register(ctx, newTeam("t2", "a"), false))
	mu.Lock()
	assert.Len(t, seen, 2, "unsubscribed handler receives nothing")
	mu.Unlock()
}

func TestUpdateHealthConcurrent(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, newTeam("t1", "a"), false))
	require.NoError(t, r.Register(ctx, newTeam("t2", "a"), false))

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.UpdateHealth(ctx, "t1", func(h *HealthStats, _ *TeamStatus, _ *time.Time) {
				h.SuccessCount++
				h.TotalResponseTimeMs += 10
			})
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.UpdateHealth(ctx, "t2", func(h *HealthStats, _ *TeamStatus, _ *time.Time) {
				h.ErrorCount++
			})
		}()
	}
	wg.Wait()

	t1, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	t2, err := r.Get(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, int64(n), t1.Health.SuccessCount)
	assert.Equal(t, float64(10), t1.Health.AverageResponseTimeMs())
	assert.Equal(t, int64(n), t2.Health.ErrorCount)
}

func TestAverageResponseTime(t *testing.T) {
	h := HealthStats{}
	assert.Equal(t, float64(0), h.AverageResponseTimeMs())

	h = HealthStats{SuccessCount: 4, TotalResponseTimeMs: 1000}
	assert.Equal(t, float64(250), h.AverageResponseTimeMs())

	rate, ok := h.SuccessRate()
	assert.True(t, ok)
	assert.Equal(t, float64(1), rate)

	_, ok = HealthStats{}.SuccessRate()
	assert.False(t, ok)
}

func TestProbeURL(t *testing.T) {
	tm := &Team{Endpoint: "http://svc.local:8080/"}
	assert.Equal(t, "http://svc.local:8080/health", tm.ProbeURL())

	tm.HealthEndpoint = "http://svc.local:9090/live"
	assert.Equal(t, "http://svc.local:9090/live", tm.ProbeURL())
}
