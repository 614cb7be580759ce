package routing

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
)

// Strategy selects among candidates whose total scores tie.
type Strategy string

const (
	// StrategyRoundRobin rotates deterministically through tied
	// candidates, cursor keyed by the required capability set.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyLeastResponseTime prefers the lowest average response time.
	StrategyLeastResponseTime Strategy = "least_response_time"
	// StrategyRandom picks uniformly among the tied candidates.
	StrategyRandom Strategy = "random"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastResponseTime, StrategyRandom:
		return true
	}
	return false
}

// tieBreaker reorders the leading tier of equal-score candidates.
type tieBreaker struct {
	mu      sync.Mutex
	cursors map[string]int // round-robin cursor per capability set
	rng     *rand.Rand
}

func newTieBreaker(seed int64) *tieBreaker {
	return &tieBreaker{
		cursors: make(map[string]int),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// capabilitySetKey canonicalizes the required set so cursor state is
// shared by requests asking for the same capabilities in any order.
func capabilitySetKey(required []string) string {
	if len(required) == 0 {
		return ""
	}
	sorted := make([]string, len(required))
	copy(sorted, required)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// apply reorders tier in place according to the strategy. tier holds the
// candidates sharing the top total score, in registration order.
func (tb *tieBreaker) apply(tier []Candidate, strategy Strategy, required []string) {
	if len(tier) < 2 {
		return
	}
	switch strategy {
	case StrategyLeastResponseTime:
		sort.SliceStable(tier, func(i, j int) bool {
			return tier[i].AvgResponseTimeMs < tier[j].AvgResponseTimeMs
		})
	case StrategyRandom:
		tb.mu.Lock()
		tb.rng.Shuffle(len(tier), func(i, j int) {
			tier[i], tier[j] = tier[j], tier[i]
		})
		tb.mu.Unlock()
	default: // round robin
		tb.mu.Lock()
		key := capabilitySetKey(required)
		offset := tb.cursors[key] % len(tier)
		tb.cursors[key]++
		tb.mu.Unlock()
		rotate(tier, offset)
	}
}

// rotate shifts tier left by offset, preserving relative order.
func rotate(tier []Candidate, offset int) {
	if offset == 0 {
		return
	}
	rotated := make([]Candidate, 0, len(tier))
	rotated = append(rotated, tier[offset:]...)
	rotated = append(rotated, tier[:offset]...)
	copy(tier, rotated)
}
