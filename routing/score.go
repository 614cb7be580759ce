// Package routing selects the destination team for a task. Teams are
// filtered by capability and breaker eligibility, scored on a 0-100
// scale, and ranked; ties are broken by a configurable strategy.
package routing

import (
	"github.com/relayops/teamgate/registry"
)

// Score weights. Capability fit dominates, then health, then the
// historical success rate.
const (
	CapabilityWeight  = 50.0
	HealthWeight      = 30.0
	PerformanceWeight = 20.0

	// healthScoreDegraded is the health component for degraded teams.
	healthScoreDegraded = 15.0

	// performanceNeutral is the performance component for teams with no
	// dispatch history, between a perfect and a failing record.
	performanceNeutral = 10.0
)

// ScoreBreakdown is the per-component score of one candidate.
type ScoreBreakdown struct {
	// Capability is |matched| / max(|required|, 1) * 50.
	Capability float64 `json:"capability"`
	// Health is 30 healthy, 15 degraded, 0 unhealthy.
	Health float64 `json:"health"`
	// Performance is successRate * 20, or 10 with no history.
	Performance float64 `json:"performance"`
	// Total is the sum of the three components.
	Total float64 `json:"total"`
}

// ScoreTeam computes the weighted score of a team for the required
// capabilities. It is a pure function of the team snapshot: no clock,
// no registry access, no side effects.
func ScoreTeam(team *registry.Team, required []string) ScoreBreakdown {
	var b ScoreBreakdown

	matched := 0
	for _, want := range required {
		if team.HasCapability(want) {
			matched++
		}
	}
	denom := len(required)
	if denom < 1 {
		denom = 1
	}
	b.Capability = float64(matched) / float64(denom) * CapabilityWeight

	switch team.Status {
	case registry.StatusHealthy:
		b.Health = HealthWeight
	case registry.StatusDegraded:
		b.Health = healthScoreDegraded
	}

	if rate, ok := team.Health.SuccessRate(); ok {
		b.Performance = rate * PerformanceWeight
	} else {
		b.Performance = performanceNeutral
	}

	b.Total = b.Capability + b.Health + b.Performance
	return b
}

// MatchedCapabilities returns the required tags the team declares, in
// request order.
func MatchedCapabilities(team *registry.Team, required []string) []string {
	out := make([]string, 0, len(required))
	for _, want := range required {
		if team.HasCapability(want) {
			out = append(out, want)
		}
	}
	return out
}
