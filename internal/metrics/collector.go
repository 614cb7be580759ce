// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the gateway's Prometheus instruments. A nil *Collector
// is valid and records nothing, so components take it as an optional
// dependency.
type Collector struct {
	routeTotal    *prometheus.CounterVec
	routeDuration prometheus.Histogram

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchRetries  prometheus.Counter

	probeTotal   *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
	breakerOpens *prometheus.CounterVec

	teamsRegistered prometheus.Gauge

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector registers the gateway instruments on reg. A nil reg uses
// the default registerer; tests pass prometheus.NewRegistry() so
// repeated construction does not collide.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.routeTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_requests_total",
			Help:      "Total number of routing requests",
		},
		[]string{"outcome"}, // routed, no_candidate, not_found, error
	)

	c.routeDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "Routing decision duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	c.dispatchTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_requests_total",
			Help:      "Total number of dispatched tasks",
		},
		[]string{"team", "status"}, // status: success, transport_error, downstream_error, rejected
	)

	c.dispatchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Task dispatch duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 30, 60, 300, 1800, 3600},
		},
		[]string{"team"},
	)

	c.dispatchRetries = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_retries_total",
			Help:      "Total number of dispatch retry attempts",
		},
	)

	c.probeTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_probes_total",
			Help:      "Total number of health probes",
		},
		[]string{"team", "result"}, // result: success, failure
	)

	c.breakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per team (0 closed, 1 half-open, 2 open)",
		},
		[]string{"team"},
	)

	c.breakerOpens = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_opens_total",
			Help:      "Total number of circuit breaker open transitions",
		},
		[]string{"team"},
	)

	c.teamsRegistered = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "teams_registered",
			Help:      "Number of currently registered teams",
		},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordRoute records one routing request and its duration.
func (c *Collector) RecordRoute(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.routeTotal.WithLabelValues(outcome).Inc()
	c.routeDuration.Observe(duration.Seconds())
}

// RecordDispatch records one dispatched task outcome.
func (c *Collector) RecordDispatch(team, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dispatchTotal.WithLabelValues(team, status).Inc()
	c.dispatchDuration.WithLabelValues(team).Observe(duration.Seconds())
}

// RecordDispatchRetry counts one retry attempt.
func (c *Collector) RecordDispatchRetry() {
	if c == nil {
		return
	}
	c.dispatchRetries.Inc()
}

// RecordProbe records one health probe result.
func (c *Collector) RecordProbe(team string, ok bool) {
	if c == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	c.probeTotal.WithLabelValues(team, result).Inc()
}

// SetBreakerState publishes the team's breaker state gauge.
func (c *Collector) SetBreakerState(team string, state float64) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(team).Set(state)
}

// RecordBreakerOpen counts one closed-to-open transition.
func (c *Collector) RecordBreakerOpen(team string) {
	if c == nil {
		return
	}
	c.breakerOpens.WithLabelValues(team).Inc()
}

// SetTeamsRegistered publishes the registry size gauge.
func (c *Collector) SetTeamsRegistered(n int) {
	if c == nil {
		return
	}
	c.teamsRegistered.Set(float64(n))
}

// RecordCacheHit counts one cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss counts one cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections publishes connection pool gauges.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}
