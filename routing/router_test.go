package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayops/teamgate/registry"
)

// stubGate blocks listed team ids, standing in for an open breaker.
type stubGate struct {
	blocked map[string]bool
}

func (g *stubGate) Eligible(t *registry.Team) bool {
	return !g.blocked[t.ID]
}

func newTestRouter(t *testing.T, cfg Config, blocked ...string) (*Router, *registry.Registry) {
	t.Helper()
	reg := registry.NewRegistry(zap.NewNop())
	gate := &stubGate{blocked: make(map[string]bool)}
	for _, id := range blocked {
		gate.blocked[id] = true
	}
	return NewRouter(reg, gate, cfg, nil, zap.NewNop()), reg
}

func register(t *testing.T, reg *registry.Registry, tm *registry.Team) {
	t.Helper()
	require.NoError(t, reg.Register(context.Background(), tm, false))
}

func TestRouteSelectsBestScore(t *testing.T) {
	r, reg := newTestRouter(t, Config{})
	ctx := context.Background()

	register(t, reg, team("marketing", registry.StatusHealthy, registry.HealthStats{}, "marketing"))
	register(t, reg, team("sales", registry.StatusHealthy,
		registry.HealthStats{SuccessCount: 9, ErrorCount: 1, TotalResponseTimeMs: 900},
		"sales", "crm"))

	d, err := r.Route(ctx, &Request{
		FromTeam:             "frontdesk",
		TaskDescription:      "sync the pipeline",
		RequiredCapabilities: []string{"sales", "crm"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sales", d.ToTeam)
	assert.Equal(t, DecisionPending, d.Status)
	assert.NotEmpty(t, d.ID)
	assert.False(t, d.RoutedAt.IsZero())

	sel := d.Selected()
	require.NotNil(t, sel)
	assert.Equal(t, 98.0, sel.Score.Total)
	assert.Equal(t, []string{"sales", "crm"}, sel.MatchedCapabilities)
}

func TestRouteMatchModeAny(t *testing.T) {
	r, reg := newTestRouter(t, Config{MatchMode: MatchAny})
	ctx := context.Background()

	// Declares only one of the two required tags: eligible under any,
	// capability component halved.
	register(t, reg, team("partial", registry.StatusHealthy, registry.HealthStats{}, "sales"))

	d, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"sales", "crm"}})
	require.NoError(t, err)
	assert.Equal(t, "partial", d.ToTeam)
	assert.Equal(t, 25.0, d.Selected().Score.Capability)
}

func TestRouteMatchModeAll(t *testing.T) {
	r, reg := newTestRouter(t, Config{MatchMode: MatchAll})
	ctx := context.Background()

	register(t, reg, team("partial", registry.StatusHealthy, registry.HealthStats{}, "sales"))
	register(t, reg, team("full", registry.StatusHealthy, registry.HealthStats{}, "sales", "crm"))

	d, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"sales", "crm"}})
	require.NoError(t, err)
	require.Len(t, d.Candidates, 1)
	assert.Equal(t, "full", d.ToTeam)
}

func TestRouteExcludesBlockedTeams(t *testing.T) {
	r, reg := newTestRouter(t, Config{}, "broken")
	ctx := context.Background()

	register(t, reg, team("broken", registry.StatusUnhealthy, registry.HealthStats{CircuitBreakerOpen: true}, "etl"))
	register(t, reg, team("ok", registry.StatusHealthy, registry.HealthStats{}, "etl"))

	d, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"etl"}})
	require.NoError(t, err)
	require.Len(t, d.Candidates, 1)
	assert.Equal(t, "ok", d.ToTeam)
}

func TestRouteNoCandidate(t *testing.T) {
	r, reg := newTestRouter(t, Config{})
	ctx := context.Background()

	register(t, reg, team("t1", registry.StatusHealthy, registry.HealthStats{}, "sales"))

	_, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"quantum"}})
	var nce *NoCandidateError
	require.ErrorAs(t, err, &nce)
	assert.Equal(t, []string{"quantum"}, nce.Capabilities)
	assert.Contains(t, nce.Error(), "quantum")
}

func TestRouteRequiresCapabilitiesOrTarget(t *testing.T) {
	r, _ := newTestRouter(t, Config{})
	_, err := r.Route(context.Background(), &Request{})
	assert.ErrorIs(t, err, ErrNoCapabilities)
}

func TestRouteDirectTarget(t *testing.T) {
	r, reg := newTestRouter(t, Config{}, "blocked")
	ctx := context.Background()

	register(t, reg, team("named", registry.StatusHealthy, registry.HealthStats{}, "sales"))
	register(t, reg, team("blocked", registry.StatusUnhealthy, registry.HealthStats{}, "sales"))

	d, err := r.Route(ctx, &Request{ToTeam: "named"})
	require.NoError(t, err)
	assert.Equal(t, "named", d.ToTeam)
	require.Len(t, d.Candidates, 1)

	_, err = r.Route(ctx, &Request{ToTeam: "ghost"})
	assert.ErrorIs(t, err, registry.ErrTeamNotFound)

	_, err = r.Route(ctx, &Request{ToTeam: "blocked"})
	var nce *NoCandidateError
	assert.ErrorAs(t, err, &nce)
}

func TestRouteTopNTruncation(t *testing.T) {
	r, reg := newTestRouter(t, Config{TopN: 3})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		register(t, reg, team(id, registry.StatusHealthy, registry.HealthStats{}, "x"))
	}

	d, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"x"}})
	require.NoError(t, err)
	assert.Len(t, d.Candidates, 3)
}

func TestRouteRoundRobinFairness(t *testing.T) {
	r, reg := newTestRouter(t, Config{Strategy: StrategyRoundRobin})
	ctx := context.Background()

	// Three identical teams: every request rotates the selection.
	for _, id := range []string{"a", "b", "c"} {
		register(t, reg, team(id, registry.StatusHealthy, registry.HealthStats{}, "x"))
	}

	const n = 10
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		d, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"x"}})
		require.NoError(t, err)
		counts[d.ToTeam]++
	}
	// 10 requests over 3 candidates: each selected 3 or 4 times.
	for _, id := range []string{"a", "b", "c"} {
		assert.GreaterOrEqual(t, counts[id], 3, "team %s starved", id)
		assert.LessOrEqual(t, counts[id], 4, "team %s over-selected", id)
	}
}

func TestRouteRoundRobinCursorPerCapabilitySet(t *testing.T) {
	r, reg := newTestRouter(t, Config{Strategy: StrategyRoundRobin})
	ctx := context.Background()

	register(t, reg, team("a", registry.StatusHealthy, registry.HealthStats{}, "x", "y"))
	register(t, reg, team("b", registry.StatusHealthy, registry.HealthStats{}, "x", "y"))

	d1, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"x"}})
	require.NoError(t, err)
	// A different capability set has its own cursor, starting fresh.
	d2, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"y"}})
	require.NoError(t, err)
	assert.Equal(t, d1.ToTeam, d2.ToTeam)

	// Same set in a different order shares the cursor.
	d3, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"y", "x"}})
	require.NoError(t, err)
	d4, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"x", "y"}})
	require.NoError(t, err)
	assert.NotEqual(t, d3.ToTeam, d4.ToTeam)
}

func TestRouteRoundRobinOnlyRotatesTies(t *testing.T) {
	r, reg := newTestRouter(t, Config{Strategy: StrategyRoundRobin})
	ctx := context.Background()

	register(t, reg, team("strong", registry.StatusHealthy,
		registry.HealthStats{SuccessCount: 10}, "x"))
	register(t, reg, team("weak", registry.StatusDegraded, registry.HealthStats{}, "x"))

	// The higher scorer wins every time; rotation applies only inside a
	// tied tier.
	for i := 0; i < 5; i++ {
		d, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"x"}})
		require.NoError(t, err)
		assert.Equal(t, "strong", d.ToTeam)
	}
}

func TestRouteLeastResponseTime(t *testing.T) {
	r, reg := newTestRouter(t, Config{Strategy: StrategyLeastResponseTime})
	ctx := context.Background()

	// Same success rate (1.0) so the totals tie; latency decides.
	register(t, reg, team("slow", registry.StatusHealthy,
		registry.HealthStats{SuccessCount: 4, TotalResponseTimeMs: 2000}, "x"))
	register(t, reg, team("fast", registry.StatusHealthy,
		registry.HealthStats{SuccessCount: 4, TotalResponseTimeMs: 400}, "x"))

	d, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, "fast", d.ToTeam)
	assert.Equal(t, float64(100), d.Selected().AvgResponseTimeMs)
}

func TestRouteRandomStaysWithinTier(t *testing.T) {
	r, reg := newTestRouter(t, Config{Strategy: StrategyRandom, Seed: 42})
	ctx := context.Background()

	register(t, reg, team("strong", registry.StatusHealthy,
		registry.HealthStats{SuccessCount: 10}, "x"))
	register(t, reg, team("a", registry.StatusDegraded, registry.HealthStats{}, "x"))
	register(t, reg, team("b", registry.StatusDegraded, registry.HealthStats{}, "x"))

	for i := 0; i < 10; i++ {
		d, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"x"}})
		require.NoError(t, err)
		assert.Equal(t, "strong", d.ToTeam, "random shuffling never promotes a lower tier")
	}
}

func TestRouteFuzzyFallback(t *testing.T) {
	r, reg := newTestRouter(t, Config{Fuzzy: TokenMatcher{}})
	ctx := context.Background()

	register(t, reg, team("analytics", registry.StatusHealthy, registry.HealthStats{}, "data_reporting"))

	d, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"reporting"}})
	require.NoError(t, err)
	assert.Equal(t, "analytics", d.ToTeam)
	// Fuzzy widening never inflates the exact-match score.
	assert.Equal(t, 0.0, d.Selected().Score.Capability)
	assert.Empty(t, d.Selected().MatchedCapabilities)
}

func TestRouteFuzzyNotUsedWhenExactMatches(t *testing.T) {
	r, reg := newTestRouter(t, Config{Fuzzy: TokenMatcher{}})
	ctx := context.Background()

	register(t, reg, team("exact", registry.StatusHealthy, registry.HealthStats{}, "reporting"))
	register(t, reg, team("near", registry.StatusHealthy, registry.HealthStats{}, "data_reporting"))

	d, err := r.Route(ctx, &Request{RequiredCapabilities: []string{"reporting"}})
	require.NoError(t, err)
	require.Len(t, d.Candidates, 1)
	assert.Equal(t, "exact", d.ToTeam)
}

func TestDecisionTimeoutPropagation(t *testing.T) {
	r, reg := newTestRouter(t, Config{})
	ctx := context.Background()

	register(t, reg, team("t1", registry.StatusHealthy, registry.HealthStats{}, "x"))

	req := &Request{RequiredCapabilities: []string{"x"}, Timeout: 30 * time.Second}
	d, err := r.Route(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, d.RequiredCapabilities)

	// The decision holds its own copy of the request capabilities.
	req.RequiredCapabilities[0] = "mutated"
	assert.Equal(t, []string{"x"}, d.RequiredCapabilities)
}

func TestTokenMatcher(t *testing.T) {
	m := TokenMatcher{}

	assert.True(t, m.Match([]string{"data_reporting"}, "reporting"))
	assert.True(t, m.Match([]string{"crm"}, "crm_sync"))
	assert.True(t, m.Match([]string{"machine-learning"}, "learning"))
	assert.False(t, m.Match([]string{"sales"}, "billing"))
}
