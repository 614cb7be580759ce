package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relayops/teamgate"
)

// BuildInfo is reported by GET /version.
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// MuxConfig bundles the dependencies of NewMux.
type MuxConfig struct {
	Engine *teamgate.Engine
	Logger *zap.Logger
	Build  BuildInfo
	// Gatherer backs /metrics; nil uses the default gatherer.
	Gatherer prometheus.Gatherer
	// Checks are readiness dependencies for /ready.
	Checks []HealthCheck
}

// NewMux mounts the full gateway surface.
func NewMux(cfg MuxConfig) *http.ServeMux {
	teamHandler := NewTeamHandler(cfg.Engine, cfg.Logger)
	routeHandler := NewRouteHandler(cfg.Engine, cfg.Logger)
	statsHandler := NewStatsHandler(cfg.Engine, cfg.Logger)
	healthHandler := NewHealthHandler(cfg.Logger)
	for _, check := range cfg.Checks {
		healthHandler.RegisterCheck(check)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/teams", teamHandler.HandleRegister)
	mux.HandleFunc("GET /api/v1/teams", teamHandler.HandleList)
	mux.HandleFunc("GET /api/v1/teams/{id}", teamHandler.HandleGet)
	mux.HandleFunc("DELETE /api/v1/teams/{id}", teamHandler.HandleUnregister)
	mux.HandleFunc("GET /api/v1/teams/{id}/status", teamHandler.HandleStatus)

	mux.HandleFunc("POST /api/v1/route", routeHandler.HandleRoute)
	mux.HandleFunc("POST /api/v1/tasks", routeHandler.HandleTask)
	mux.HandleFunc("POST /api/v1/teams/{id}/task", routeHandler.HandleDispatchTo)

	mux.HandleFunc("GET /api/v1/decisions", statsHandler.HandleDecisions)
	mux.HandleFunc("GET /api/v1/decisions/{id}", statsHandler.HandleDecision)
	mux.HandleFunc("GET /api/v1/stats", statsHandler.HandleStats)
	mux.HandleFunc("GET /api/v1/capabilities", statsHandler.HandleCapabilities)

	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", healthHandler.HandleReady)
	mux.HandleFunc("GET /version", healthHandler.HandleVersion(
		cfg.Build.Version, cfg.Build.BuildTime, cfg.Build.GitCommit))

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}
