package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relayops/teamgate"
	"github.com/relayops/teamgate/api"
	"github.com/relayops/teamgate/config"
	"github.com/relayops/teamgate/internal/database"
	"github.com/relayops/teamgate/internal/server"
	"github.com/relayops/teamgate/ledger"
	"github.com/relayops/teamgate/registry"
)

// Server wires the engine, the HTTP surface and the durable stores.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	engine      *teamgate.Engine
	pool        *database.PoolManager
	httpManager *server.Manager
}

// NewServer builds the server; nothing runs until Start.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start opens the database when configured, builds the engine and
// begins serving.
func (s *Server) Start() error {
	opts := []teamgate.Option{teamgate.WithLogger(s.logger)}
	checks := make([]api.HealthCheck, 0, 1)

	var db *gorm.DB
	if s.cfg.Database.Driver != "" {
		opened, err := s.openDatabase()
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		db = opened
		opts = append(opts,
			teamgate.WithTeamStore(registry.NewGormStore(db)),
			teamgate.WithDecisionStore(ledger.NewGormStore(db)),
		)
	} else {
		s.logger.Info("no database configured, running memory-only")
	}

	engine, err := teamgate.New(s.cfg, opts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if db != nil {
		pool, err := database.NewPoolManager(db, s.cfg.Database.Driver, database.PoolConfig{
			MaxIdleConns:    s.cfg.Database.MaxIdleConns,
			MaxOpenConns:    s.cfg.Database.MaxOpenConns,
			ConnMaxLifetime: s.cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: database.DefaultPoolConfig().ConnMaxIdleTime,
			StatsInterval:   database.DefaultPoolConfig().StatsInterval,
		}, engine.Metrics(), s.logger)
		if err != nil {
			return fmt.Errorf("configure database pool: %w", err)
		}
		s.pool = pool
		checks = append(checks, api.CheckFunc{
			CheckName: "database",
			Ping:      pool.Ping,
		})
	}

	s.engine = engine
	if err := engine.Start(context.Background()); err != nil {
		s.shutdownEngine()
		return fmt.Errorf("start engine: %w", err)
	}

	mux := api.NewMux(api.MuxConfig{
		Engine: engine,
		Logger: s.logger,
		Build: api.BuildInfo{
			Version:   Version,
			BuildTime: BuildTime,
			GitCommit: GitCommit,
		},
		Checks: checks,
	})
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		CORS(nil),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     server.DefaultConfig().IdleTimeout,
		MaxHeaderBytes:  server.DefaultConfig().MaxHeaderBytes,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		s.shutdownEngine()
		return fmt.Errorf("start HTTP server: %w", err)
	}

	s.logger.Info("gateway started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.String("database", s.cfg.Database.Driver))
	return nil
}

// WaitForShutdown blocks until a signal or serve error, then stops
// everything in reverse start order.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.shutdownEngine()
}

func (s *Server) openDatabase() (*gorm.DB, error) {
	db, err := database.Open(s.cfg.Database.Driver, s.cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	// Migrate on startup so fresh deployments work without a separate
	// migrate run.
	if err := registry.MigrateTeams(db); err != nil {
		return nil, fmt.Errorf("migrate teams: %w", err)
	}
	if err := ledger.MigrateDecisions(db); err != nil {
		return nil, fmt.Errorf("migrate decisions: %w", err)
	}
	return db, nil
}

func (s *Server) shutdownEngine() {
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.logger.Error("engine close failed", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("database close failed", zap.Error(err))
		}
	}
}
