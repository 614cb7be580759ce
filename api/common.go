package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relayops/teamgate/dispatch"
	"github.com/relayops/teamgate/ledger"
	"github.com/relayops/teamgate/registry"
	"github.com/relayops/teamgate/routing"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes data as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// Headers are already out; an encode failure can only be dropped.
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage writes an error envelope with an explicit status.
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

// WriteError maps engine errors to HTTP statuses and writes the
// envelope.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code := classify(err)
	if logger != nil {
		logger.Warn("request failed",
			zap.String("code", code),
			zap.Int("status", status),
			zap.Error(err))
	}
	WriteErrorMessage(w, status, code, err.Error())
}

// classify maps engine error kinds to (status, code) pairs.
func classify(err error) (int, string) {
	var nce *routing.NoCandidateError
	var te *dispatch.TransportError
	var de *dispatch.DownstreamError
	switch {
	case errors.Is(err, registry.ErrTeamNotFound):
		return http.StatusNotFound, "team_not_found"
	case errors.Is(err, ledger.ErrDecisionNotFound):
		return http.StatusNotFound, "decision_not_found"
	case errors.Is(err, registry.ErrValidation):
		return http.StatusBadRequest, "invalid_team"
	case errors.Is(err, routing.ErrNoCapabilities):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &nce):
		return http.StatusNotFound, "no_candidate"
	case errors.Is(err, dispatch.ErrBreakerOpen):
		return http.StatusServiceUnavailable, "breaker_open"
	case errors.As(err, &te):
		return http.StatusBadGateway, "transport_error"
	case errors.As(err, &de):
		return http.StatusBadGateway, "downstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// DecodeJSONBody decodes the request body into dst, rejecting unknown
// fields. On failure the error response has already been written.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "request body is empty")
		return false
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
