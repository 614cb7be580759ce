package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/relayops/teamgate"
	"github.com/relayops/teamgate/registry"
)

// TeamHandler serves team membership and status endpoints.
type TeamHandler struct {
	engine *teamgate.Engine
	logger *zap.Logger
}

// NewTeamHandler builds the handler.
func NewTeamHandler(engine *teamgate.Engine, logger *zap.Logger) *TeamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeamHandler{
		engine: engine,
		logger: logger.With(zap.String("component", "api_teams")),
	}
}

// RegisterTeamRequest is the body of POST /api/v1/teams.
type RegisterTeamRequest struct {
	ID             string            `json:"id"`
	Name           string            `json:"name,omitempty"`
	Endpoint       string            `json:"endpoint"`
	HealthEndpoint string            `json:"health_endpoint,omitempty"`
	Capabilities   []string          `json:"capabilities"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	// ResetHealth zeroes accumulated health on re-registration.
	ResetHealth bool `json:"reset_health,omitempty"`
}

// HandleRegister serves POST /api/v1/teams.
func (h *TeamHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterTeamRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	team := &registry.Team{
		ID:             req.ID,
		Name:           req.Name,
		Endpoint:       req.Endpoint,
		HealthEndpoint: req.HealthEndpoint,
		Capabilities:   req.Capabilities,
		Metadata:       req.Metadata,
	}
	if err := h.engine.RegisterTeam(r.Context(), team, req.ResetHealth); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	registered, err := h.engine.Team(r.Context(), req.ID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      registered,
		Timestamp: registered.RegisteredAt,
	})
}

// HandleList serves GET /api/v1/teams. The capability query parameter
// filters.
func (h *TeamHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	teams := h.engine.Teams(r.Context(), r.URL.Query().Get("capability"))
	WriteSuccess(w, map[string]any{
		"teams": teams,
		"count": len(teams),
	})
}

// HandleGet serves GET /api/v1/teams/{id}.
func (h *TeamHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	team, err := h.engine.Team(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, team)
}

// HandleUnregister serves DELETE /api/v1/teams/{id}. Removing an absent
// team succeeds.
func (h *TeamHandler) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.UnregisterTeam(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"id": r.PathValue("id")})
}

// HandleStatus serves GET /api/v1/teams/{id}/status.
func (h *TeamHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	team, err := h.engine.Team(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	state, err := h.engine.BreakerState(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	rate, _ := team.Health.SuccessRate()
	WriteSuccess(w, map[string]any{
		"team_id":              team.ID,
		"status":               team.Status,
		"breaker_state":        state,
		"success_count":        team.Health.SuccessCount,
		"error_count":          team.Health.ErrorCount,
		"consecutive_failures": team.Health.ConsecutiveFailures,
		"success_rate":         rate,
		"avg_response_time_ms": team.Health.AverageResponseTimeMs(),
		"last_health_check_at": team.LastHealthCheckAt,
	})
}
