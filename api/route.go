package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relayops/teamgate"
	"github.com/relayops/teamgate/dispatch"
	"github.com/relayops/teamgate/routing"
)

// RouteHandler serves routing and dispatch endpoints.
type RouteHandler struct {
	engine *teamgate.Engine
	logger *zap.Logger
}

// NewRouteHandler builds the handler.
func NewRouteHandler(engine *teamgate.Engine, logger *zap.Logger) *RouteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteHandler{
		engine: engine,
		logger: logger.With(zap.String("component", "api_route")),
	}
}

// RouteRequest is the body of POST /api/v1/route and POST /api/v1/tasks.
type RouteRequest struct {
	FromTeam             string         `json:"from_team"`
	ToTeam               string         `json:"to_team,omitempty"`
	TaskDescription      string         `json:"task_description"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	Context              map[string]any `json:"context,omitempty"`
	// TimeoutSeconds bounds task execution downstream; zero uses the
	// gateway default.
	TimeoutSeconds int64 `json:"timeout_seconds,omitempty"`
}

func (req *RouteRequest) toRouting() *routing.Request {
	return &routing.Request{
		FromTeam:             req.FromTeam,
		ToTeam:               req.ToTeam,
		TaskDescription:      req.TaskDescription,
		RequiredCapabilities: req.RequiredCapabilities,
		Context:              req.Context,
		Timeout:              time.Duration(req.TimeoutSeconds) * time.Second,
	}
}

// HandleRoute serves POST /api/v1/route: rank candidates without
// dispatching.
func (h *RouteHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	decision, err := h.engine.Route(r.Context(), req.toRouting())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, decision)
}

// TaskResponse is the body of a successful dispatch.
type TaskResponse struct {
	Decision *routing.Decision `json:"decision"`
	Result   *dispatch.Result  `json:"result"`
}

// HandleTask serves POST /api/v1/tasks: route then dispatch.
func (h *RouteHandler) HandleTask(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	result, decision, err := h.engine.RouteTask(r.Context(), req.toRouting())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, TaskResponse{Decision: decision, Result: result})
}

// HandleDispatchTo serves POST /api/v1/teams/{id}/task: dispatch to an
// explicit team, bypassing scoring.
func (h *RouteHandler) HandleDispatchTo(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	result, decision, err := h.engine.DispatchTo(r.Context(), req.FromTeam, r.PathValue("id"), dispatch.Task{
		Description: req.TaskDescription,
		Context:     req.Context,
		Timeout:     time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, TaskResponse{Decision: decision, Result: result})
}
