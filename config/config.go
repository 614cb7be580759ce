// Package config holds the gateway configuration: structs, defaults,
// the YAML loader and environment overrides.
//
// Precedence: defaults, then the YAML file, then TEAMGATE_* environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" env:"SERVER"`
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`
	Health   HealthConfig   `yaml:"health" env:"HEALTH"`
	Dispatch DispatchConfig `yaml:"dispatch" env:"DISPATCH"`
	Routing  RoutingConfig  `yaml:"routing" env:"ROUTING"`
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	Log      LogConfig      `yaml:"log" env:"LOG"`
	Metrics  MetricsConfig  `yaml:"metrics" env:"METRICS"`
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// RegistryConfig tunes persistence and eviction of the team registry.
type RegistryConfig struct {
	// PersistInterval is the flush period for team state; zero disables
	// the periodic flush (membership changes still write through).
	PersistInterval time.Duration `yaml:"persist_interval" env:"PERSIST_INTERVAL"`
	// EvictAfter unregisters teams failing probes continuously for this
	// long. Zero disables eviction.
	EvictAfter time.Duration `yaml:"evict_after" env:"EVICT_AFTER"`
}

// HealthConfig tunes the health monitor and circuit breaker.
type HealthConfig struct {
	CheckInterval    time.Duration `yaml:"check_interval" env:"CHECK_INTERVAL"`
	CheckTimeout     time.Duration `yaml:"check_timeout" env:"CHECK_TIMEOUT"`
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" env:"BREAKER_COOLDOWN"`
	DegradedLatency  time.Duration `yaml:"degraded_latency" env:"DEGRADED_LATENCY"`
}

// DispatchConfig tunes task forwarding.
type DispatchConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	RetryEnabled   bool          `yaml:"retry_enabled" env:"RETRY_ENABLED"`
	MaxRetries     int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryDelay     time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// OutboundRPS throttles dispatches gateway-wide; zero disables.
	OutboundRPS   float64 `yaml:"outbound_rps" env:"OUTBOUND_RPS"`
	OutboundBurst int     `yaml:"outbound_burst" env:"OUTBOUND_BURST"`
}

// RoutingConfig tunes candidate selection.
type RoutingConfig struct {
	// Strategy: round_robin, least_response_time or random.
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// MatchMode: any (overlap) or all (require every capability).
	MatchMode string `yaml:"match_mode" env:"MATCH_MODE"`
	// FuzzyMatching widens the filter when exact matching finds nothing.
	FuzzyMatching bool `yaml:"fuzzy_matching" env:"FUZZY_MATCHING"`
	// TopN caps the ranked candidate list.
	TopN int `yaml:"top_n" env:"TOP_N"`
}

// DatabaseConfig selects and tunes the durable store.
type DatabaseConfig struct {
	// Driver: sqlite, postgres or mysql. Empty runs memory-only.
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig tunes the optional hot cache.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLED"`
	Addr        string        `yaml:"addr" env:"ADDR"`
	Password    string        `yaml:"password" env:"PASSWORD"`
	DB          int           `yaml:"db" env:"DB"`
	DecisionTTL time.Duration `yaml:"decision_ttl" env:"DECISION_TTL"`
}

// LogConfig tunes the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig tunes Prometheus exposition.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Registry: RegistryConfig{
			PersistInterval: 30 * time.Second,
			EvictAfter:      0,
		},
		Health: HealthConfig{
			CheckInterval:    30 * time.Second,
			CheckTimeout:     5 * time.Second,
			FailureThreshold: 3,
			BreakerCooldown:  5 * time.Minute,
			DegradedLatency:  2 * time.Second,
		},
		Dispatch: DispatchConfig{
			DefaultTimeout: 3600 * time.Second,
			RetryEnabled:   true,
			MaxRetries:     2,
			RetryDelay:     time.Second,
			OutboundRPS:    0,
			OutboundBurst:  1,
		},
		Routing: RoutingConfig{
			Strategy:      "round_robin",
			MatchMode:     "any",
			FuzzyMatching: false,
			TopN:          5,
		},
		Database: DatabaseConfig{
			Driver:          "",
			Host:            "localhost",
			Port:            5432,
			User:            "teamgate",
			Name:            "teamgate",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			DB:          0,
			DecisionTTL: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "teamgate",
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "server.http_port out of range")
	}
	if c.Health.FailureThreshold <= 0 {
		errs = append(errs, "health.failure_threshold must be positive")
	}
	if c.Health.CheckInterval <= 0 {
		errs = append(errs, "health.check_interval must be positive")
	}
	if c.Health.BreakerCooldown <= 0 {
		errs = append(errs, "health.breaker_cooldown must be positive")
	}
	if c.Dispatch.MaxRetries < 0 {
		errs = append(errs, "dispatch.max_retries must not be negative")
	}
	switch c.Routing.Strategy {
	case "round_robin", "least_response_time", "random":
	default:
		errs = append(errs, fmt.Sprintf("routing.strategy %q unknown", c.Routing.Strategy))
	}
	switch c.Routing.MatchMode {
	case "any", "all":
	default:
		errs = append(errs, fmt.Sprintf("routing.match_mode %q unknown", c.Routing.MatchMode))
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q unknown", c.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN builds the connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
