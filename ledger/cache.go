package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relayops/teamgate/internal/metrics"
	"github.com/relayops/teamgate/routing"
)

// ErrCacheMiss reports a key absent from the hot cache.
var ErrCacheMiss = errors.New("cache miss")

const (
	decisionKeyPrefix = "teamgate:decision:"
	statsKey          = "teamgate:stats:latest"
)

// DefaultDecisionTTL bounds how long finalized decisions stay hot.
const DefaultDecisionTTL = 10 * time.Minute

// Cache keeps finalized decisions and the latest stats snapshot in
// Redis for cheap reads by dashboards and the HTTP surface.
type Cache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewCache wraps a Redis client. A zero ttl uses DefaultDecisionTTL.
func NewCache(client redis.UniversalClient, ttl time.Duration, collector *metrics.Collector, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultDecisionTTL
	}
	return &Cache{
		client:  client,
		ttl:     ttl,
		metrics: collector,
		logger:  logger.With(zap.String("component", "ledger_cache")),
	}
}

// SetDecision stores the decision under its id with the cache TTL.
func (c *Cache) SetDecision(ctx context.Context, d *routing.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", d.ID, err)
	}
	if err := c.client.Set(ctx, decisionKeyPrefix+d.ID, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache decision %s: %w", d.ID, err)
	}
	return nil
}

// GetDecision returns the cached decision or ErrCacheMiss.
func (c *Cache) GetDecision(ctx context.Context, id string) (*routing.Decision, error) {
	payload, err := c.client.Get(ctx, decisionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.RecordCacheMiss("decision")
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read cached decision %s: %w", id, err)
	}
	var d routing.Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("decode cached decision %s: %w", id, err)
	}
	c.metrics.RecordCacheHit("decision")
	return &d, nil
}

// PublishStats stores the latest gateway stats snapshot for external
// readers. The snapshot has no TTL; each publish replaces the last.
func (c *Cache) PublishStats(ctx context.Context, stats any) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats snapshot: %w", err)
	}
	if err := c.client.Set(ctx, statsKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("publish stats snapshot: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
