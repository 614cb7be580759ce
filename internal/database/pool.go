package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/relayops/teamgate/internal/metrics"
)

// PoolConfig tunes the sql.DB pool behind GORM.
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// StatsInterval publishes pool gauges on this period; zero disables.
	StatsInterval time.Duration
}

// DefaultPoolConfig returns conservative pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    5,
		MaxOpenConns:    25,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		StatsInterval:   30 * time.Second,
	}
}

// Open dials the database selected by driver: postgres, mysql or
// sqlite. GORM's own logging is silenced; the gateway logs through zap.
func Open(driver, dsn string) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), gcfg)
	case "mysql":
		return gorm.Open(mysql.Open(dsn), gcfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), gcfg)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// PoolManager applies the pool configuration and publishes pool gauges.
type PoolManager struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	config  PoolConfig
	driver  string
	logger  *zap.Logger
	metrics *metrics.Collector

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// NewPoolManager wraps an open GORM handle with pool tuning.
func NewPoolManager(db *gorm.DB, driver string, config PoolConfig, collector *metrics.Collector, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pm := &PoolManager{
		db:      db,
		sqlDB:   sqlDB,
		config:  config,
		driver:  driver,
		logger:  logger.With(zap.String("component", "db_pool")),
		metrics: collector,
		stop:    make(chan struct{}),
	}
	if config.StatsInterval > 0 {
		go pm.statsLoop()
	}

	pm.logger.Info("database pool initialized",
		zap.String("driver", driver),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))
	return pm, nil
}

// DB returns the GORM handle.
func (pm *PoolManager) DB() *gorm.DB {
	return pm.db
}

// Ping checks connectivity.
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return fmt.Errorf("pool is closed")
	}
	return pm.sqlDB.PingContext(ctx)
}

// Stats returns the raw sql.DB statistics.
func (pm *PoolManager) Stats() sql.DBStats {
	return pm.sqlDB.Stats()
}

// Close shuts the pool down. Safe to call twice.
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.closed {
		return nil
	}
	pm.closed = true
	close(pm.stop)
	pm.logger.Info("closing database pool")
	return pm.sqlDB.Close()
}

// statsLoop publishes open/idle gauges until Close.
func (pm *PoolManager) statsLoop() {
	ticker := time.NewTicker(pm.config.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
			stats := pm.sqlDB.Stats()
			pm.metrics.RecordDBConnections(pm.driver, stats.OpenConnections, stats.Idle)
		}
	}
}
