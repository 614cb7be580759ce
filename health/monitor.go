package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relayops/teamgate/internal/metrics"
	"github.com/relayops/teamgate/registry"
)

// Config tunes the monitor. Zero values fall back to the defaults below.
type Config struct {
	// CheckInterval is the delay between probes of one team.
	CheckInterval time.Duration
	// CheckTimeout bounds a single probe.
	CheckTimeout time.Duration
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold int
	// BreakerCooldown is how long an open breaker blocks traffic before
	// a trial is allowed.
	BreakerCooldown time.Duration
	// DegradedLatency marks a team degraded when a successful probe
	// exceeds it.
	DegradedLatency time.Duration
	// EvictAfter unregisters a team whose probes have failed
	// continuously for this long. Zero disables eviction.
	EvictAfter time.Duration
}

// Defaults applied by withDefaults.
const (
	DefaultCheckInterval    = 30 * time.Second
	DefaultCheckTimeout     = 5 * time.Second
	DefaultFailureThreshold = 3
	DefaultBreakerCooldown  = 5 * time.Minute
	DefaultDegradedLatency  = 2 * time.Second
)

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = DefaultBreakerCooldown
	}
	if c.DegradedLatency <= 0 {
		c.DegradedLatency = DefaultDegradedLatency
	}
	return c
}

// ErrNotStarted is returned by Stop when the monitor never started.
var ErrNotStarted = errors.New("health monitor not started")

// Monitor drives active probing and passive outcome feedback. It runs
// one goroutine per registered team, spawned and stopped through
// registry membership events, and owns all breaker transitions.
type Monitor struct {
	reg     *registry.Registry
	cfg     Config
	prober  Prober
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	trialMu sync.Mutex
	trials  map[string]struct{} // teams with a half-open trial in flight

	loopMu  sync.Mutex
	loops   map[string]chan struct{} // per-team stop channels
	started bool
	subID   int
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor builds a monitor over the registry. A nil prober gets the
// default HTTP prober; collector may be nil.
func NewMonitor(reg *registry.Registry, cfg Config, prober Prober, collector *metrics.Collector, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if prober == nil {
		prober = NewHTTPProber(cfg.CheckTimeout)
	}
	return &Monitor{
		reg:     reg,
		cfg:     cfg,
		prober:  prober,
		logger:  logger.With(zap.String("component", "health_monitor")),
		metrics: collector,
		now:     time.Now,
		trials:  make(map[string]struct{}),
		loops:   make(map[string]chan struct{}),
	}
}

// Start performs one concurrent probe sweep over the current membership,
// then spawns a probe loop per team and subscribes to membership events
// so loops follow registrations.
func (m *Monitor) Start(ctx context.Context) error {
	m.loopMu.Lock()
	if m.started {
		m.loopMu.Unlock()
		return nil
	}
	m.started = true
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	m.loopMu.Unlock()

	teams := m.reg.Snapshot(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, t := range teams {
		team := t
		g.Go(func() error {
			m.probeOnce(gctx, team.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, t := range teams {
		m.ensureLoop(t.ID)
	}
	m.subID = m.reg.Subscribe(m.onEvent)
	m.logger.Info("health monitor started",
		zap.Int("teams", len(teams)),
		zap.Duration("check_interval", m.cfg.CheckInterval))
	return nil
}

// Stop halts all probe loops and waits for them to exit.
func (m *Monitor) Stop() error {
	m.loopMu.Lock()
	if !m.started {
		m.loopMu.Unlock()
		return ErrNotStarted
	}
	m.started = false
	m.reg.Unsubscribe(m.subID)
	m.cancel()
	for id, stop := range m.loops {
		close(stop)
		delete(m.loops, id)
	}
	m.loopMu.Unlock()

	m.wg.Wait()
	m.logger.Info("health monitor stopped")
	return nil
}

func (m *Monitor) onEvent(ev registry.Event) {
	switch ev.Type {
	case registry.EventRegistered:
		m.ensureLoop(ev.Team.ID)
	case registry.EventUnregistered:
		m.stopLoop(ev.Team.ID)
	}
	m.metrics.SetTeamsRegistered(m.reg.Len())
}

func (m *Monitor) ensureLoop(teamID string) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if !m.started {
		return
	}
	if _, ok := m.loops[teamID]; ok {
		return
	}
	stop := make(chan struct{})
	m.loops[teamID] = stop
	m.wg.Add(1)
	go m.runLoop(teamID, stop)
}

func (m *Monitor) stopLoop(teamID string) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if stop, ok := m.loops[teamID]; ok {
		close(stop)
		delete(m.loops, teamID)
	}
	m.clearTrial(teamID)
}

// runLoop probes one team on its own ticker until stopped.
func (m *Monitor) runLoop(teamID string, stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	lastAlive := m.now()
	for {
		select {
		case <-stop:
			return
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
		}

		alive, gone := m.probeOnce(m.baseCtx, teamID)
		if gone {
			return
		}
		now := m.now()
		if alive {
			lastAlive = now
			continue
		}
		if m.cfg.EvictAfter > 0 && now.Sub(lastAlive) > m.cfg.EvictAfter {
			m.logger.Warn("evicting team after prolonged absence",
				zap.String("team_id", teamID),
				zap.Duration("absent_for", now.Sub(lastAlive)))
			if err := m.reg.Unregister(m.baseCtx, teamID); err != nil {
				m.logger.Error("evict failed", zap.String("team_id", teamID), zap.Error(err))
			}
			return
		}
	}
}

// probeOnce evaluates one team: it skips probing while the breaker is
// open, consumes the single half-open trial when due, and applies the
// probe result to the team's health. gone reports that the team left
// the registry.
func (m *Monitor) probeOnce(ctx context.Context, teamID string) (alive, gone bool) {
	team, err := m.reg.Get(ctx, teamID)
	if err != nil {
		return false, errors.Is(err, registry.ErrTeamNotFound)
	}

	switch State(team.Health, m.cfg.BreakerCooldown, m.now()) {
	case BreakerOpen:
		m.metrics.SetBreakerState(teamID, 2)
		return false, false
	case BreakerHalfOpen:
		if !m.acquireTrial(teamID) {
			return false, false
		}
	}

	pctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	latency, perr := m.prober.Probe(pctx, team.ProbeURL())
	cancel()
	ok := perr == nil

	m.applyProbeResult(ctx, teamID, ok, latency)
	m.metrics.RecordProbe(teamID, ok)
	if !ok {
		m.logger.Debug("probe failed",
			zap.String("team_id", teamID),
			zap.Error(perr))
	}
	return ok, false
}

// applyProbeResult feeds a probe outcome into the breaker. Probes move
// consecutiveFailures, status and the breaker; they do not touch the
// dispatch success/error counters.
func (m *Monitor) applyProbeResult(ctx context.Context, teamID string, ok bool, latency time.Duration) {
	m.clearTrial(teamID)
	now := m.now()
	var opened bool
	err := m.reg.UpdateHealth(ctx, teamID, func(h *registry.HealthStats, status *registry.TeamStatus, lastCheck *time.Time) {
		*lastCheck = now
		if ok {
			applySuccess(h, status)
			if latency > m.cfg.DegradedLatency {
				*status = registry.StatusDegraded
			}
			return
		}
		opened = applyFailure(h, status, m.cfg.FailureThreshold, now)
	})
	if err != nil {
		return
	}
	m.publishBreakerState(ctx, teamID)
	if opened {
		m.metrics.RecordBreakerOpen(teamID)
		m.logger.Warn("circuit breaker opened",
			zap.String("team_id", teamID),
			zap.Int("failure_threshold", m.cfg.FailureThreshold),
			zap.Duration("cooldown", m.cfg.BreakerCooldown))
	}
}

// ReportOutcome is the passive feedback path used by the dispatcher.
// Unlike probes it also moves the dispatch counters that feed the
// performance score. Latency accumulates on success only.
func (m *Monitor) ReportOutcome(ctx context.Context, teamID string, ok bool, latency time.Duration) error {
	m.clearTrial(teamID)
	now := m.now()
	var opened bool
	err := m.reg.UpdateHealth(ctx, teamID, func(h *registry.HealthStats, status *registry.TeamStatus, _ *time.Time) {
		if ok {
			h.SuccessCount++
			h.TotalResponseTimeMs += latency.Milliseconds()
			applySuccess(h, status)
			return
		}
		h.ErrorCount++
		opened = applyFailure(h, status, m.cfg.FailureThreshold, now)
	})
	if err != nil {
		return err
	}
	m.publishBreakerState(ctx, teamID)
	if opened {
		m.metrics.RecordBreakerOpen(teamID)
		m.logger.Warn("circuit breaker opened by dispatch failures",
			zap.String("team_id", teamID))
	}
	return nil
}

// Admit is the dispatcher's pre-send gate. Closed admits, open rejects,
// half-open admits exactly one caller until that trial's outcome is
// reported.
func (m *Monitor) Admit(ctx context.Context, teamID string) bool {
	team, err := m.reg.Get(ctx, teamID)
	if err != nil {
		return false
	}
	switch State(team.Health, m.cfg.BreakerCooldown, m.now()) {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		return m.acquireTrial(teamID)
	default:
		return false
	}
}

// Eligible reports whether the team may appear in routing candidate
// sets: everything except a strictly open breaker.
func (m *Monitor) Eligible(t *registry.Team) bool {
	return State(t.Health, m.cfg.BreakerCooldown, m.now()) != BreakerOpen
}

// StateOf derives the team's current breaker state.
func (m *Monitor) StateOf(t *registry.Team) BreakerState {
	return State(t.Health, m.cfg.BreakerCooldown, m.now())
}

func (m *Monitor) acquireTrial(teamID string) bool {
	m.trialMu.Lock()
	defer m.trialMu.Unlock()
	if _, inFlight := m.trials[teamID]; inFlight {
		return false
	}
	m.trials[teamID] = struct{}{}
	return true
}

func (m *Monitor) clearTrial(teamID string) {
	m.trialMu.Lock()
	delete(m.trials, teamID)
	m.trialMu.Unlock()
}

func (m *Monitor) publishBreakerState(ctx context.Context, teamID string) {
	if m.metrics == nil {
		return
	}
	team, err := m.reg.Get(ctx, teamID)
	if err != nil {
		return
	}
	var v float64
	switch State(team.Health, m.cfg.BreakerCooldown, m.now()) {
	case BreakerHalfOpen:
		v = 1
	case BreakerOpen:
		v = 2
	}
	m.metrics.SetBreakerState(teamID, v)
}
