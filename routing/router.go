package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayops/teamgate/internal/metrics"
	"github.com/relayops/teamgate/registry"
)

// MatchMode selects the capability eligibility policy.
type MatchMode string

const (
	// MatchAny admits teams declaring at least one required capability.
	MatchAny MatchMode = "any"
	// MatchAll admits only teams declaring every required capability.
	MatchAll MatchMode = "all"
)

// DecisionStatus is the lifecycle state of a routing decision.
type DecisionStatus string

const (
	// DecisionPending means the task has been routed but not completed.
	DecisionPending DecisionStatus = "pending"
	// DecisionCompleted means the dispatched task succeeded.
	DecisionCompleted DecisionStatus = "completed"
	// DecisionFailed means dispatch or execution failed.
	DecisionFailed DecisionStatus = "failed"
)

// Request describes a task to route.
type Request struct {
	// FromTeam identifies the requester, recorded for the ledger.
	FromTeam string `json:"from_team"`

	// ToTeam, when set, bypasses scoring and targets the named team.
	ToTeam string `json:"to_team,omitempty"`

	// TaskDescription is free text forwarded to the destination.
	TaskDescription string `json:"task_description"`

	// RequiredCapabilities drives candidate filtering and scoring.
	RequiredCapabilities []string `json:"required_capabilities"`

	// Context carries opaque task parameters.
	Context map[string]any `json:"context,omitempty"`

	// Timeout bounds task execution downstream; zero uses the
	// dispatcher default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Candidate is one ranked destination with its score breakdown.
type Candidate struct {
	TeamID              string         `json:"team_id"`
	TeamName            string         `json:"team_name,omitempty"`
	Endpoint            string         `json:"endpoint"`
	MatchedCapabilities []string       `json:"matched_capabilities"`
	Score               ScoreBreakdown `json:"score"`
	AvgResponseTimeMs   float64        `json:"avg_response_time_ms"`
}

// Decision is the routing outcome appended to the ledger. ToTeam is the
// selected destination (Candidates[0]); the remaining candidates are the
// ranked alternatives.
type Decision struct {
	ID                   string         `json:"id"`
	FromTeam             string         `json:"from_team"`
	ToTeam               string         `json:"to_team"`
	TaskDescription      string         `json:"task_description"`
	RequiredCapabilities []string       `json:"required_capabilities"`
	Candidates           []Candidate    `json:"candidates"`
	Strategy             Strategy       `json:"strategy"`
	Status               DecisionStatus `json:"status"`
	ResponseTimeMs       int64          `json:"response_time_ms,omitempty"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	RoutedAt             time.Time      `json:"routed_at"`
	CompletedAt          time.Time      `json:"completed_at,omitempty"`
}

// Selected returns the chosen candidate, nil when none exists.
func (d *Decision) Selected() *Candidate {
	if len(d.Candidates) == 0 {
		return nil
	}
	return &d.Candidates[0]
}

// NoCandidateError reports that no eligible team covers the request.
type NoCandidateError struct {
	Capabilities []string
}

func (e *NoCandidateError) Error() string {
	if len(e.Capabilities) == 0 {
		return "no eligible team available"
	}
	return fmt.Sprintf("no eligible team provides capabilities [%s]", strings.Join(e.Capabilities, ", "))
}

// ErrNoCapabilities rejects requests with neither a target team nor
// required capabilities.
var ErrNoCapabilities = errors.New("route request needs required_capabilities or to_team")

// Gate decides breaker eligibility for candidate filtering. Implemented
// by the health monitor.
type Gate interface {
	Eligible(t *registry.Team) bool
}

// Config tunes the router.
type Config struct {
	// Strategy breaks score ties. Defaults to round robin.
	Strategy Strategy
	// MatchMode is the capability eligibility policy. Defaults to any.
	MatchMode MatchMode
	// TopN caps the candidate list of a decision. Defaults to 5.
	TopN int
	// Fuzzy, when set, widens the filter after exact matching finds
	// nothing. Scores still come from exact tag matches.
	Fuzzy FuzzyMatcher
	// Seed fixes the random tie-break source; zero seeds from the clock.
	Seed int64
}

// DefaultTopN is the candidate list cap when Config.TopN is zero.
const DefaultTopN = 5

// Router ranks eligible teams for a request. Scoring is pure; the only
// mutable state is the round-robin tie cursor.
type Router struct {
	reg     *registry.Registry
	gate    Gate
	cfg     Config
	ties    *tieBreaker
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewRouter builds a router over the registry and breaker gate.
func NewRouter(reg *registry.Registry, gate Gate, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyRoundRobin
	}
	if cfg.MatchMode == "" {
		cfg.MatchMode = MatchAny
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Router{
		reg:     reg,
		gate:    gate,
		cfg:     cfg,
		ties:    newTieBreaker(seed),
		logger:  logger.With(zap.String("component", "router")),
		metrics: collector,
		now:     time.Now,
	}
}

// Route produces a pending decision for the request. It returns
// registry.ErrTeamNotFound for an unknown direct target and
// *NoCandidateError when filtering leaves nothing.
func (r *Router) Route(ctx context.Context, req *Request) (*Decision, error) {
	start := time.Now()
	decision, err := r.route(ctx, req)
	switch {
	case err == nil:
		r.metrics.RecordRoute("routed", time.Since(start))
	case isNoCandidate(err):
		r.metrics.RecordRoute("no_candidate", time.Since(start))
	default:
		r.metrics.RecordRoute("error", time.Since(start))
	}
	return decision, err
}

func (r *Router) route(ctx context.Context, req *Request) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil || (req.ToTeam == "" && len(req.RequiredCapabilities) == 0) {
		return nil, ErrNoCapabilities
	}

	if req.ToTeam != "" {
		return r.routeDirect(ctx, req)
	}

	candidates := r.collectCandidates(ctx, req.RequiredCapabilities)
	if len(candidates) == 0 {
		return nil, &NoCandidateError{Capabilities: req.RequiredCapabilities}
	}

	// Stable sort keeps registration order inside equal-score tiers, so
	// the round-robin rotation below is deterministic.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score.Total > candidates[j].Score.Total
	})
	tier := leadingTier(candidates)
	r.ties.apply(tier, r.cfg.Strategy, req.RequiredCapabilities)

	if len(candidates) > r.cfg.TopN {
		candidates = candidates[:r.cfg.TopN]
	}

	d := r.newDecision(req, candidates)
	r.logger.Debug("task routed",
		zap.String("decision_id", d.ID),
		zap.String("to_team", d.ToTeam),
		zap.Int("candidates", len(d.Candidates)),
		zap.Float64("top_score", candidates[0].Score.Total))
	return d, nil
}

// routeDirect targets a named team, still honoring the breaker.
func (r *Router) routeDirect(ctx context.Context, req *Request) (*Decision, error) {
	team, err := r.reg.Get(ctx, req.ToTeam)
	if err != nil {
		return nil, err
	}
	if r.gate != nil && !r.gate.Eligible(team) {
		return nil, &NoCandidateError{Capabilities: req.RequiredCapabilities}
	}
	c := r.toCandidate(team, req.RequiredCapabilities)
	return r.newDecision(req, []Candidate{c}), nil
}

// collectCandidates filters registered teams to breaker-eligible ones
// covering the required capabilities; when exact matching empties the
// set and a fuzzy matcher is configured, the filter widens once.
func (r *Router) collectCandidates(ctx context.Context, required []string) []Candidate {
	teams := r.reg.Snapshot(ctx)

	exact := make([]Candidate, 0, len(teams))
	for _, t := range teams {
		if r.gate != nil && !r.gate.Eligible(t) {
			continue
		}
		if !r.capabilitiesMatch(t, required) {
			continue
		}
		exact = append(exact, r.toCandidate(t, required))
	}
	if len(exact) > 0 || r.cfg.Fuzzy == nil {
		return exact
	}

	widened := make([]Candidate, 0, len(teams))
	for _, t := range teams {
		if r.gate != nil && !r.gate.Eligible(t) {
			continue
		}
		if !r.fuzzyMatch(t, required) {
			continue
		}
		widened = append(widened, r.toCandidate(t, required))
	}
	if len(widened) > 0 {
		r.logger.Debug("fuzzy matching widened candidate set",
			zap.Strings("required", required),
			zap.Int("candidates", len(widened)))
	}
	return widened
}

func (r *Router) capabilitiesMatch(t *registry.Team, required []string) bool {
	matched := 0
	for _, want := range required {
		if t.HasCapability(want) {
			matched++
		}
	}
	if r.cfg.MatchMode == MatchAll {
		return matched == len(required)
	}
	return matched > 0
}

func (r *Router) fuzzyMatch(t *registry.Team, required []string) bool {
	matched := 0
	for _, want := range required {
		if r.cfg.Fuzzy.Match(t.Capabilities, want) {
			matched++
		}
	}
	if r.cfg.MatchMode == MatchAll {
		return matched == len(required)
	}
	return matched > 0
}

func (r *Router) toCandidate(t *registry.Team, required []string) Candidate {
	return Candidate{
		TeamID:              t.ID,
		TeamName:            t.Name,
		Endpoint:            t.Endpoint,
		MatchedCapabilities: MatchedCapabilities(t, required),
		Score:               ScoreTeam(t, required),
		AvgResponseTimeMs:   t.Health.AverageResponseTimeMs(),
	}
}

func (r *Router) newDecision(req *Request, candidates []Candidate) *Decision {
	reqCaps := make([]string, len(req.RequiredCapabilities))
	copy(reqCaps, req.RequiredCapabilities)
	return &Decision{
		ID:                   uuid.NewString(),
		FromTeam:             req.FromTeam,
		ToTeam:               candidates[0].TeamID,
		TaskDescription:      req.TaskDescription,
		RequiredCapabilities: reqCaps,
		Candidates:           candidates,
		Strategy:             r.cfg.Strategy,
		Status:               DecisionPending,
		RoutedAt:             r.now(),
	}
}

// leadingTier returns the slice of candidates sharing the top score.
func leadingTier(candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return nil
	}
	top := candidates[0].Score.Total
	end := 1
	for end < len(candidates) && candidates[end].Score.Total == top {
		end++
	}
	return candidates[:end]
}

func isNoCandidate(err error) bool {
	var nce *NoCandidateError
	return errors.As(err, &nce)
}
