package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/relayops/teamgate"
)

// defaultScanLimit caps GET /api/v1/decisions when no limit is given.
const defaultScanLimit = 50

// StatsHandler serves statistics, the capability inventory and the
// routing ledger.
type StatsHandler struct {
	engine *teamgate.Engine
	logger *zap.Logger
}

// NewStatsHandler builds the handler.
func NewStatsHandler(engine *teamgate.Engine, logger *zap.Logger) *StatsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsHandler{
		engine: engine,
		logger: logger.With(zap.String("component", "api_stats")),
	}
}

// HandleStats serves GET /api/v1/stats.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.engine.Stats(r.Context()))
}

// HandleCapabilities serves GET /api/v1/capabilities.
func (h *StatsHandler) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	capabilities := h.engine.Capabilities(r.Context())
	WriteSuccess(w, map[string]any{
		"capabilities": capabilities,
		"count":        len(capabilities),
	})
}

// HandleDecision serves GET /api/v1/decisions/{id}.
func (h *StatsHandler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	decision, err := h.engine.Decision(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, decision)
}

// HandleDecisions serves GET /api/v1/decisions. Query parameters: from
// and to as RFC 3339 timestamps, limit as an integer.
func (h *StatsHandler) HandleDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from := time.Time{}
	to := time.Now()
	if v := q.Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "from must be RFC 3339")
			return
		}
		from = parsed
	}
	if v := q.Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "to must be RFC 3339")
			return
		}
		to = parsed
	}
	limit := defaultScanLimit
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	decisions, err := h.engine.Decisions(r.Context(), from, to, limit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"decisions": decisions,
		"count":     len(decisions),
	})
}
