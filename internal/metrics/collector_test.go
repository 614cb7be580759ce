package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestCollector() *Collector {
	return NewCollector("teamgate", prometheus.NewRegistry(), zap.NewNop())
}

func TestNewCollector(t *testing.T) {
	c := newTestCollector()

	assert.NotNil(t, c)
	assert.NotNil(t, c.routeTotal)
	assert.NotNil(t, c.dispatchTotal)
	assert.NotNil(t, c.probeTotal)
	assert.NotNil(t, c.breakerState)
}

func TestCollector_RecordRoute(t *testing.T) {
	c := newTestCollector()

	c.RecordRoute("routed", 2*time.Millisecond)
	c.RecordRoute("no_candidate", time.Millisecond)

	count := testutil.CollectAndCount(c.routeTotal)
	assert.Equal(t, 2, count)
}

func TestCollector_RecordDispatch(t *testing.T) {
	c := newTestCollector()

	c.RecordDispatch("sales", "success", 120*time.Millisecond)
	c.RecordDispatch("sales", "transport_error", 50*time.Millisecond)
	c.RecordDispatchRetry()

	assert.Equal(t, 2, testutil.CollectAndCount(c.dispatchTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.dispatchRetries))
}

func TestCollector_RecordProbeAndBreaker(t *testing.T) {
	c := newTestCollector()

	c.RecordProbe("sales", true)
	c.RecordProbe("sales", false)
	c.RecordBreakerOpen("sales")
	c.SetBreakerState("sales", 2)

	assert.Equal(t, 2, testutil.CollectAndCount(c.probeTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.breakerOpens.WithLabelValues("sales")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.breakerState.WithLabelValues("sales")))
}

func TestCollector_Gauges(t *testing.T) {
	c := newTestCollector()

	c.SetTeamsRegistered(7)
	c.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, float64(7), testutil.ToFloat64(c.teamsRegistered))
	assert.Equal(t, float64(10), testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("postgres")))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	// Must not panic.
	c.RecordRoute("routed", time.Millisecond)
	c.RecordDispatch("t", "success", time.Millisecond)
	c.RecordDispatchRetry()
	c.RecordProbe("t", true)
	c.SetBreakerState("t", 0)
	c.RecordBreakerOpen("t")
	c.SetTeamsRegistered(0)
	c.RecordCacheHit("redis")
	c.RecordCacheMiss("redis")
	c.RecordDBConnections("db", 0, 0)
}

func TestCollector_CacheCounters(t *testing.T) {
	c := newTestCollector()

	c.RecordCacheHit("redis")
	c.RecordCacheHit("redis")
	c.RecordCacheMiss("redis")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.cacheHits.WithLabelValues("redis")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.cacheMisses.WithLabelValues("redis")))
}
