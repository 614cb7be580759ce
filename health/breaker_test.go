package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/relayops/teamgate/registry"
)

func TestStateDerivation(t *testing.T) {
	cooldown := 5 * time.Minute
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		stats registry.HealthStats
		want  BreakerState
	}{
		{"closed", registry.HealthStats{}, BreakerClosed},
		{
			"open within cooldown",
			registry.HealthStats{CircuitBreakerOpen: true, BreakerOpenedAt: now.Add(-time.Minute)},
			BreakerOpen,
		},
		{
			"half-open exactly at cooldown",
			registry.HealthStats{CircuitBreakerOpen: true, BreakerOpenedAt: now.Add(-cooldown)},
			BreakerHalfOpen,
		},
		{
			"half-open past cooldown",
			registry.HealthStats{CircuitBreakerOpen: true, BreakerOpenedAt: now.Add(-time.Hour)},
			BreakerHalfOpen,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, State(tt.stats, cooldown, now))
		})
	}
}

func TestFailureOpensExactlyAtThreshold(t *testing.T) {
	const threshold = 3
	now := time.Now()
	var h registry.HealthStats
	status := registry.StatusHealthy

	opened := applyFailure(&h, &status, threshold, now)
	assert.False(t, opened)
	assert.Equal(t, registry.StatusDegraded, status)

	opened = applyFailure(&h, &status, threshold, now)
	assert.False(t, opened)
	assert.False(t, h.CircuitBreakerOpen)

	opened = applyFailure(&h, &status, threshold, now)
	assert.True(t, opened, "third consecutive failure opens the breaker")
	assert.True(t, h.CircuitBreakerOpen)
	assert.Equal(t, registry.StatusUnhealthy, status)
	assert.Equal(t, now, h.BreakerOpenedAt)
}

func TestSuccessResetsAndCloses(t *testing.T) {
	now := time.Now()
	h := registry.HealthStats{
		ConsecutiveFailures: 5,
		CircuitBreakerOpen:  true,
		BreakerOpenedAt:     now.Add(-10 * time.Minute),
	}
	status := registry.StatusUnhealthy

	applySuccess(&h, &status)
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.False(t, h.CircuitBreakerOpen)
	assert.True(t, h.BreakerOpenedAt.IsZero())
	assert.Equal(t, registry.StatusHealthy, status)
}

func TestFailureWhileOpenRestartsCooldown(t *testing.T) {
	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := registry.HealthStats{
		ConsecutiveFailures: 3,
		CircuitBreakerOpen:  true,
		BreakerOpenedAt:     opened,
	}
	status := registry.StatusUnhealthy

	later := opened.Add(6 * time.Minute)
	reopened := applyFailure(&h, &status, 3, later)
	assert.False(t, reopened, "re-open is not a fresh open transition")
	assert.True(t, h.CircuitBreakerOpen)
	assert.Equal(t, later, h.BreakerOpenedAt, "cooldown restarts from the new failure")
}

// TestBreakerProperties drives the transition functions with random
// outcome sequences and checks the invariants that must hold at every
// step.
func TestBreakerProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		threshold := rapid.IntRange(1, 10).Draw(rt, "threshold")
		steps := rapid.IntRange(1, 200).Draw(rt, "steps")

		var h registry.HealthStats
		status := registry.StatusHealthy
		now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		streak := 0

		for i := 0; i < steps; i++ {
			now = now.Add(time.Second)
			if rapid.Bool().Draw(rt, "ok") {
				applySuccess(&h, &status)
				streak = 0
			} else {
				applyFailure(&h, &status, threshold, now)
				streak++
			}

			if h.ConsecutiveFailures != streak {
				rt.Fatalf("failure streak mismatch: got %d want %d", h.ConsecutiveFailures, streak)
			}
			if h.CircuitBreakerOpen && streak < threshold {
				rt.Fatalf("breaker open with streak %d below threshold %d", streak, threshold)
			}
			if !h.CircuitBreakerOpen && streak >= threshold {
				rt.Fatalf("breaker closed with streak %d at threshold %d", streak, threshold)
			}
			if h.CircuitBreakerOpen && h.BreakerOpenedAt.IsZero() {
				rt.Fatalf("open breaker has no opened-at timestamp")
			}
			if !h.CircuitBreakerOpen && !h.BreakerOpenedAt.IsZero() {
				rt.Fatalf("closed breaker kept an opened-at timestamp")
			}
		}
	})
}
