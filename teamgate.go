// Package teamgate composes the task gateway: a capability registry of
// downstream teams, a health monitor with per-team circuit breakers, a
// weighted-score router and an HTTP dispatcher with a routing ledger.
//
// Usage:
//
//	import "github.com/relayops/teamgate"
//
//	engine, err := teamgate.New(cfg, teamgate.WithLogger(logger))
//	if err != nil { ... }
//	if err := engine.Start(ctx); err != nil { ... }
//	defer engine.Close()
//
//	result, decision, err := engine.RouteTask(ctx, &routing.Request{
//		FromTeam:             "frontend",
//		TaskDescription:      "generate weekly report",
//		RequiredCapabilities: []string{"reporting"},
//	})
package teamgate

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relayops/teamgate/config"
	"github.com/relayops/teamgate/dispatch"
	"github.com/relayops/teamgate/health"
	"github.com/relayops/teamgate/internal/metrics"
	"github.com/relayops/teamgate/ledger"
	"github.com/relayops/teamgate/registry"
	"github.com/relayops/teamgate/routing"
)

// Option adjusts engine construction.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	registerer    prometheus.Registerer
	prober        health.Prober
	httpClient    *http.Client
	teamStore     registry.Store
	decisionStore ledger.Store
	redisClient   redis.UniversalClient
}

// WithLogger sets the zap logger shared by all components.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer sets the Prometheus registerer. Defaults to the global
// one; tests pass a fresh registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithProber overrides the health prober.
func WithProber(p health.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithHTTPClient sets the client used for task dispatch.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTeamStore sets the durable team store. Without one the registry
// is memory-only.
func WithTeamStore(s registry.Store) Option {
	return func(o *options) { o.teamStore = s }
}

// WithDecisionStore sets the durable decision store. Defaults to the
// in-memory store.
func WithDecisionStore(s ledger.Store) Option {
	return func(o *options) { o.decisionStore = s }
}

// WithRedisClient sets the Redis client for the decision hot cache,
// overriding the one built from config.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) { o.redisClient = c }
}

// Engine is the gateway composition root. It owns the registry, the
// health monitor, the router, the dispatcher and the routing ledger.
type Engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector

	registry   *registry.Registry
	monitor    *health.Monitor
	router     *routing.Router
	dispatcher *dispatch.Dispatcher
	ledger     *ledger.Ledger

	teamStore registry.Store
	cache     *ledger.Cache

	mu      sync.Mutex
	started bool
	closed  bool
	subID   int
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New builds an engine from the configuration. Nothing runs until
// Start.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		reg := o.registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		collector = metrics.NewCollector(cfg.Metrics.Namespace, reg, logger)
	}

	teams := registry.NewRegistry(logger)

	prober := o.prober
	if prober == nil {
		prober = health.NewHTTPProber(cfg.Health.CheckTimeout)
	}
	monitor := health.NewMonitor(teams, health.Config{
		CheckInterval:    cfg.Health.CheckInterval,
		CheckTimeout:     cfg.Health.CheckTimeout,
		FailureThreshold: cfg.Health.FailureThreshold,
		BreakerCooldown:  cfg.Health.BreakerCooldown,
		DegradedLatency:  cfg.Health.DegradedLatency,
		EvictAfter:       cfg.Registry.EvictAfter,
	}, prober, collector, logger)

	var fuzzy routing.FuzzyMatcher
	if cfg.Routing.FuzzyMatching {
		fuzzy = routing.TokenMatcher{}
	}
	router := routing.NewRouter(teams, monitor, routing.Config{
		Strategy:  routing.Strategy(cfg.Routing.Strategy),
		MatchMode: routing.MatchMode(cfg.Routing.MatchMode),
		TopN:      cfg.Routing.TopN,
		Fuzzy:     fuzzy,
	}, collector, logger)

	decisionStore := o.decisionStore
	if decisionStore == nil {
		decisionStore = ledger.NewMemoryStore()
	}
	var cache *ledger.Cache
	if cfg.Redis.Enabled {
		client := o.redisClient
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		}
		cache = ledger.NewCache(client, cfg.Redis.DecisionTTL, collector, logger)
	}
	led := ledger.New(decisionStore, cache, logger)

	dispatcher := dispatch.NewDispatcher(teams, monitor, led, dispatch.Config{
		DefaultTimeout: cfg.Dispatch.DefaultTimeout,
		RetryEnabled:   cfg.Dispatch.RetryEnabled,
		MaxRetries:     cfg.Dispatch.MaxRetries,
		RetryDelay:     cfg.Dispatch.RetryDelay,
		OutboundRPS:    cfg.Dispatch.OutboundRPS,
		OutboundBurst:  cfg.Dispatch.OutboundBurst,
	}, o.httpClient, collector, logger)

	return &Engine{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "engine")),
		metrics:    collector,
		registry:   teams,
		monitor:    monitor,
		router:     router,
		dispatcher: dispatcher,
		ledger:     led,
		teamStore:  o.teamStore,
		cache:      cache,
		stop:       make(chan struct{}),
	}, nil
}

// Start primes the registry from the durable store, wires write-through
// persistence and launches the health monitor and the persistence loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("engine is closed")
	}
	if e.started {
		return fmt.Errorf("engine already started")
	}

	if e.teamStore != nil {
		if err := e.loadTeams(ctx); err != nil {
			return fmt.Errorf("load teams: %w", err)
		}
	}

	e.subID = e.registry.Subscribe(e.onMembershipChange)
	e.metrics.SetTeamsRegistered(e.registry.Len())

	if err := e.monitor.Start(ctx); err != nil {
		e.registry.Unsubscribe(e.subID)
		return err
	}

	if e.teamStore != nil && e.cfg.Registry.PersistInterval > 0 {
		e.wg.Add(1)
		go e.persistLoop()
	}

	e.started = true
	e.logger.Info("engine started",
		zap.Int("teams", e.registry.Len()),
		zap.String("strategy", e.cfg.Routing.Strategy))
	return nil
}

// Close stops the monitor and the persistence loop, flushes team state
// and releases the Redis cache. Safe to call twice.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	started := e.started
	e.mu.Unlock()

	close(e.stop)
	e.wg.Wait()

	if started {
		e.registry.Unsubscribe(e.subID)
		if err := e.monitor.Stop(); err != nil {
			e.logger.Warn("monitor stop failed", zap.Error(err))
		}
	}
	if e.teamStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		e.flushTeams(ctx)
		cancel()
	}
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			e.logger.Warn("cache close failed", zap.Error(err))
		}
	}
	e.logger.Info("engine stopped")
	return nil
}

// loadTeams primes the registry from the durable store. Health and
// registration timestamps survive the restart.
func (e *Engine) loadTeams(ctx context.Context) error {
	teams, err := e.teamStore.LoadTeams(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, t := range teams {
		t := t
		g.Go(func() error {
			return e.registry.Register(gctx, t, false)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	e.logger.Info("registry primed from store", zap.Int("teams", len(teams)))
	return nil
}

// onMembershipChange writes membership changes through to the durable
// store and keeps the registered-teams gauge current.
func (e *Engine) onMembershipChange(ev registry.Event) {
	e.metrics.SetTeamsRegistered(e.registry.Len())
	if e.teamStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch ev.Type {
	case registry.EventRegistered:
		if err := e.teamStore.SaveTeam(ctx, ev.Team); err != nil {
			e.logger.Error("persist team failed",
				zap.String("team_id", ev.Team.ID), zap.Error(err))
		}
	case registry.EventUnregistered:
		if err := e.teamStore.DeleteTeam(ctx, ev.Team.ID); err != nil {
			e.logger.Error("delete team failed",
				zap.String("team_id", ev.Team.ID), zap.Error(err))
		}
	}
}

// persistLoop flushes team health to the durable store and publishes
// the stats snapshot on the configured interval.
func (e *Engine) persistLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Registry.PersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			e.flushTeams(ctx)
			if e.cache != nil {
				if err := e.cache.PublishStats(ctx, e.Stats(ctx)); err != nil {
					e.logger.Warn("publish stats failed", zap.Error(err))
				}
			}
			cancel()
		}
	}
}

func (e *Engine) flushTeams(ctx context.Context) {
	for _, t := range e.registry.Snapshot(ctx) {
		if err := e.teamStore.SaveTeam(ctx, t); err != nil {
			e.logger.Error("flush team failed",
				zap.String("team_id", t.ID), zap.Error(err))
		}
	}
}

// Metrics returns the engine's collector, nil when metrics are
// disabled. Supporting infrastructure (the database pool) records
// through it.
func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

// RegisterTeam adds or re-registers a team. Accumulated health survives
// re-registration unless resetHealth is set.
func (e *Engine) RegisterTeam(ctx context.Context, t *registry.Team, resetHealth bool) error {
	return e.registry.Register(ctx, t, resetHealth)
}

// UnregisterTeam removes a team. Removing an absent id is a no-op.
func (e *Engine) UnregisterTeam(ctx context.Context, id string) error {
	return e.registry.Unregister(ctx, id)
}

// Team returns a copy of one team.
func (e *Engine) Team(ctx context.Context, id string) (*registry.Team, error) {
	return e.registry.Get(ctx, id)
}

// Teams lists registered teams, optionally filtered by capability, in
// registration order.
func (e *Engine) Teams(ctx context.Context, capability string) []*registry.Team {
	return e.registry.List(ctx, capability)
}

// Capabilities returns every capability tag with the teams providing it.
func (e *Engine) Capabilities(ctx context.Context) map[string][]string {
	return e.registry.Capabilities(ctx)
}

// BreakerState reports the circuit state of one team.
func (e *Engine) BreakerState(ctx context.Context, id string) (health.BreakerState, error) {
	t, err := e.registry.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return e.monitor.StateOf(t), nil
}

// Route ranks candidate teams for the request and appends the pending
// decision to the ledger.
func (e *Engine) Route(ctx context.Context, req *routing.Request) (*routing.Decision, error) {
	decision, err := e.router.Route(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Append(ctx, decision); err != nil {
		return nil, fmt.Errorf("append decision: %w", err)
	}
	return decision, nil
}

// RouteTask routes the request and dispatches the task to the selected
// team. The decision is returned even when dispatch fails, so callers
// can inspect the candidates.
func (e *Engine) RouteTask(ctx context.Context, req *routing.Request) (*dispatch.Result, *routing.Decision, error) {
	decision, err := e.Route(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	result, err := e.dispatcher.Dispatch(ctx, decision, dispatch.Task{
		Description: req.TaskDescription,
		Context:     req.Context,
		Timeout:     req.Timeout,
	})
	return result, decision, err
}

// DispatchTo sends the task to an explicit team, bypassing scoring. The
// breaker still gates the send.
func (e *Engine) DispatchTo(ctx context.Context, fromTeam, toTeam string, task dispatch.Task) (*dispatch.Result, *routing.Decision, error) {
	return e.RouteTask(ctx, &routing.Request{
		FromTeam:        fromTeam,
		ToTeam:          toTeam,
		TaskDescription: task.Description,
		Context:         task.Context,
		Timeout:         task.Timeout,
	})
}

// Decision fetches one routing decision by id.
func (e *Engine) Decision(ctx context.Context, id string) (*routing.Decision, error) {
	return e.ledger.Get(ctx, id)
}

// Decisions scans the ledger for decisions routed in [from, to), newest
// first, up to limit.
func (e *Engine) Decisions(ctx context.Context, from, to time.Time, limit int) ([]*routing.Decision, error) {
	return e.ledger.Scan(ctx, from, to, limit)
}

// TeamStats is the per-team slice of a stats snapshot.
type TeamStats struct {
	TeamID              string              `json:"team_id"`
	Name                string              `json:"name,omitempty"`
	Status              registry.TeamStatus `json:"status"`
	BreakerState        health.BreakerState `json:"breaker_state"`
	RequestCount        int64               `json:"request_count"`
	SuccessCount        int64               `json:"success_count"`
	ErrorCount          int64               `json:"error_count"`
	SuccessRate         float64             `json:"success_rate"`
	AvgResponseTimeMs   float64             `json:"avg_response_time_ms"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastHealthCheckAt   time.Time           `json:"last_health_check_at,omitempty"`
}

// Stats is the gateway statistics snapshot.
type Stats struct {
	Teams             int         `json:"teams"`
	TotalRequests     int64       `json:"total_requests"`
	TotalSuccess      int64       `json:"total_success"`
	TotalErrors       int64       `json:"total_errors"`
	SuccessRate       float64     `json:"success_rate"`
	AvgResponseTimeMs float64     `json:"avg_response_time_ms"`
	GeneratedAt       time.Time   `json:"generated_at"`
	PerTeam           []TeamStats `json:"per_team"`
}

// Stats aggregates dispatch counters and health across all teams.
func (e *Engine) Stats(ctx context.Context) *Stats {
	teams := e.registry.Snapshot(ctx)
	stats := &Stats{
		Teams:       len(teams),
		GeneratedAt: time.Now(),
		PerTeam:     make([]TeamStats, 0, len(teams)),
	}

	var totalResponseMs int64
	for _, t := range teams {
		rate, _ := t.Health.SuccessRate()
		stats.PerTeam = append(stats.PerTeam, TeamStats{
			TeamID:              t.ID,
			Name:                t.Name,
			Status:              t.Status,
			BreakerState:        e.monitor.StateOf(t),
			RequestCount:        t.Health.SuccessCount + t.Health.ErrorCount,
			SuccessCount:        t.Health.SuccessCount,
			ErrorCount:          t.Health.ErrorCount,
			SuccessRate:         rate,
			AvgResponseTimeMs:   t.Health.AverageResponseTimeMs(),
			ConsecutiveFailures: t.Health.ConsecutiveFailures,
			LastHealthCheckAt:   t.LastHealthCheckAt,
		})
		stats.TotalRequests += t.Health.SuccessCount + t.Health.ErrorCount
		stats.TotalSuccess += t.Health.SuccessCount
		stats.TotalErrors += t.Health.ErrorCount
		totalResponseMs += t.Health.TotalResponseTimeMs
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.TotalSuccess) / float64(stats.TotalRequests)
	}
	if stats.TotalSuccess > 0 {
		stats.AvgResponseTimeMs = float64(totalResponseMs) / float64(stats.TotalSuccess)
	}
	return stats
}
