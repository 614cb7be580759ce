// Package health owns the circuit breaker state machine and the per-team
// probe loops that keep registry health statistics current. The breaker
// persists as two fields on a team (open flag + opened-at timestamp);
// the three observable states are derived from them and the cooldown.
package health

import (
	"time"

	"github.com/relayops/teamgate/registry"
)

// BreakerState is the derived circuit breaker state of a team.
type BreakerState string

const (
	// BreakerClosed admits all traffic.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects all traffic until the cooldown elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen admits exactly one trial request.
	BreakerHalfOpen BreakerState = "half_open"
)

// State derives the breaker state from the persisted health fields.
// An open breaker becomes half-open once the cooldown has elapsed; the
// transition needs no writer, it happens on evaluation.
func State(h registry.HealthStats, cooldown time.Duration, now time.Time) BreakerState {
	if !h.CircuitBreakerOpen {
		return BreakerClosed
	}
	if now.Sub(h.BreakerOpenedAt) >= cooldown {
		return BreakerHalfOpen
	}
	return BreakerOpen
}

// applySuccess records a successful outcome: the failure streak resets
// and the breaker closes. A success recorded during half-open is the
// trial succeeding.
func applySuccess(h *registry.HealthStats, status *registry.TeamStatus) {
	h.ConsecutiveFailures = 0
	h.CircuitBreakerOpen = false
	h.BreakerOpenedAt = time.Time{}
	*status = registry.StatusHealthy
}

// applyFailure records a failed outcome and returns whether this failure
// opened the breaker. While the breaker is already open (including a
// failed half-open trial) the cooldown restarts from now.
func applyFailure(h *registry.HealthStats, status *registry.TeamStatus, threshold int, now time.Time) (opened bool) {
	h.ConsecutiveFailures++
	if h.CircuitBreakerOpen {
		h.BreakerOpenedAt = now
		*status = registry.StatusUnhealthy
		return false
	}
	if h.ConsecutiveFailures >= threshold {
		h.CircuitBreakerOpen = true
		h.BreakerOpenedAt = now
		*status = registry.StatusUnhealthy
		return true
	}
	*status = registry.StatusDegraded
	return false
}
