// Package registry provides the in-memory team registry for the gateway.
// It is the authoritative map of registered downstream teams and their
// declared capabilities, queried by the router, health monitor and
// dispatcher through a single shared handle.
package registry

import (
	"strings"
	"time"
)

// TeamStatus is the coarse health classification of a team, derived from
// recent check outcomes. It is independent of the circuit breaker.
type TeamStatus string

const (
	// StatusHealthy indicates the last health check succeeded.
	StatusHealthy TeamStatus = "healthy"
	// StatusDegraded indicates a failed check or elevated latency.
	StatusDegraded TeamStatus = "degraded"
	// StatusUnhealthy indicates the circuit breaker has opened.
	StatusUnhealthy TeamStatus = "unhealthy"
)

// HealthStats holds the rolling health counters for a single team. It is
// owned by exactly one Team and mutated only through Registry.UpdateTeam,
// which applies the mutation under the team's lock.
type HealthStats struct {
	// SuccessCount is the number of successful dispatches. Monotonic.
	SuccessCount int64 `json:"success_count"`

	// ErrorCount is the number of failed dispatches. Monotonic.
	ErrorCount int64 `json:"error_count"`

	// TotalResponseTimeMs accumulates response time of successful dispatches.
	TotalResponseTimeMs int64 `json:"total_response_time_ms"`

	// ConsecutiveFailures resets to zero on any success and increments on
	// any failure, from probes and dispatches alike.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// CircuitBreakerOpen is set by the breaker state machine.
	CircuitBreakerOpen bool `json:"circuit_breaker_open"`

	// BreakerOpenedAt is when the breaker opened; zero while closed.
	BreakerOpenedAt time.Time `json:"breaker_opened_at,omitempty"`
}

// AverageResponseTimeMs derives the mean response time of successful
// dispatches. Zero when no dispatch has succeeded yet.
func (h HealthStats) AverageResponseTimeMs() float64 {
	if h.SuccessCount == 0 {
		return 0
	}
	return float64(h.TotalResponseTimeMs) / float64(h.SuccessCount)
}

// SuccessRate is the fraction of dispatches that succeeded, in [0,1].
// Returns ok=false when no dispatch has been recorded.
func (h HealthStats) SuccessRate() (rate float64, ok bool) {
	total := h.SuccessCount + h.ErrorCount
	if total == 0 {
		return 0, false
	}
	return float64(h.SuccessCount) / float64(total), true
}

// Team is a registered downstream service instance capable of executing
// tasks tagged with one or more capabilities.
type Team struct {
	// ID uniquely identifies the team. Immutable once registered.
	ID string `json:"id"`

	// Name is the display label.
	Name string `json:"name"`

	// Endpoint is the base URL the dispatcher forwards tasks to.
	Endpoint string `json:"endpoint"`

	// HealthEndpoint overrides the default {Endpoint}/health probe target.
	HealthEndpoint string `json:"health_endpoint,omitempty"`

	// Capabilities is the set of string tags the team declared.
	// Stored deduplicated, in declaration order.
	Capabilities []string `json:"capabilities"`

	// Status is the derived coarse health classification.
	Status TeamStatus `json:"status"`

	// Health holds the rolling success/failure statistics.
	Health HealthStats `json:"health"`

	// Metadata carries opaque registration metadata.
	Metadata map[string]string `json:"metadata,omitempty"`

	// RegisteredAt is when the team was first registered.
	RegisteredAt time.Time `json:"registered_at"`

	// LastHealthCheckAt is when the monitor last evaluated the team.
	LastHealthCheckAt time.Time `json:"last_health_check_at"`
}

// HasCapability reports whether the team declared the given tag.
func (t *Team) HasCapability(tag string) bool {
	for _, c := range t.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// ProbeURL returns the liveness probe target for the team.
func (t *Team) ProbeURL() string {
	if t.HealthEndpoint != "" {
		return t.HealthEndpoint
	}
	return strings.TrimRight(t.Endpoint, "/") + "/health"
}

// Clone returns a deep copy of the team, safe for callers to retain.
func (t *Team) Clone() *Team {
	if t == nil {
		return nil
	}
	cp := *t
	if len(t.Capabilities) > 0 {
		cp.Capabilities = make([]string, len(t.Capabilities))
		copy(cp.Capabilities, t.Capabilities)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
