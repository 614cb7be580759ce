// Package dispatch forwards routed tasks to their destination team,
// applies the retry policy, and feeds outcomes back into the health
// monitor and the routing ledger.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relayops/teamgate/internal/metrics"
	"github.com/relayops/teamgate/ledger"
	"github.com/relayops/teamgate/registry"
	"github.com/relayops/teamgate/routing"
)

// ErrBreakerOpen reports a dispatch rejected by the pre-send breaker
// revalidation.
var ErrBreakerOpen = errors.New("circuit breaker rejected dispatch")

// TransportError is a network-level dispatch failure: the task never
// reached the team, or no response arrived. Retried per policy.
type TransportError struct {
	TeamID   string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dispatch to %s failed after %d attempt(s): %v", e.TeamID, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DownstreamError reports that the team received the task and failed it.
// Never retried: the downstream may have side effects.
type DownstreamError struct {
	TeamID     string
	StatusCode int
	Message    string
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("team %s failed task (status %d): %s", e.TeamID, e.StatusCode, e.Message)
}

// Config tunes the dispatcher.
type Config struct {
	// DefaultTimeout bounds whole-task execution when the request
	// carries no timeout.
	DefaultTimeout time.Duration
	// RetryEnabled turns the transport retry loop on.
	RetryEnabled bool
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration
	// OutboundRPS throttles dispatches gateway-wide; zero disables.
	OutboundRPS float64
	// OutboundBurst is the limiter burst; defaults to 1 when throttled.
	OutboundBurst int
}

// Defaults applied by withDefaults.
const (
	DefaultTaskTimeout = 3600 * time.Second
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = time.Second
)

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTaskTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.OutboundBurst <= 0 {
		c.OutboundBurst = 1
	}
	return c
}

// Task is the payload forwarded to the destination team.
type Task struct {
	Description string         `json:"task_description"`
	Context     map[string]any `json:"context,omitempty"`
	Timeout     time.Duration  `json:"-"`
}

// taskEnvelope is the wire body of POST {endpoint}/task.
type taskEnvelope struct {
	TaskID          string         `json:"task_id"`
	FromTeam        string         `json:"from_team"`
	TaskDescription string         `json:"task_description"`
	Context         map[string]any `json:"context,omitempty"`
	TimeoutSeconds  int64          `json:"timeout_seconds"`
}

// taskResponse is the wire body a team returns.
type taskResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Result is a completed dispatch.
type Result struct {
	DecisionID     string          `json:"decision_id"`
	TeamID         string          `json:"team_id"`
	Status         string          `json:"status"`
	Output         json.RawMessage `json:"output,omitempty"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	Attempts       int             `json:"attempts"`
}

// Reporter is the health monitor surface the dispatcher needs: the
// pre-send breaker gate and the passive feedback path.
type Reporter interface {
	Admit(ctx context.Context, teamID string) bool
	ReportOutcome(ctx context.Context, teamID string, ok bool, latency time.Duration) error
}

// Dispatcher forwards tasks over HTTP.
type Dispatcher struct {
	reg      *registry.Registry
	reporter Reporter
	ledger   *ledger.Ledger
	client   *http.Client
	limiter  *rate.Limiter
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewDispatcher builds a dispatcher. ledger may be nil when decisions
// are finalized elsewhere; client defaults to a fresh http.Client.
func NewDispatcher(reg *registry.Registry, reporter Reporter, led *ledger.Ledger, cfg Config, client *http.Client, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{}
	}
	var limiter *rate.Limiter
	if cfg.OutboundRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.OutboundRPS), cfg.OutboundBurst)
	}
	return &Dispatcher{
		reg:      reg,
		reporter: reporter,
		ledger:   led,
		client:   client,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "dispatcher")),
		metrics:  collector,
	}
}

// Dispatch executes the decision: it revalidates the breaker, POSTs the
// task to the selected team, retries transport failures per policy,
// reports the outcome to the monitor, and finalizes the ledger entry.
func (d *Dispatcher) Dispatch(ctx context.Context, decision *routing.Decision, task Task) (*Result, error) {
	sel := decision.Selected()
	if sel == nil {
		return nil, &DownstreamError{TeamID: decision.ToTeam, Message: "decision has no candidates"}
	}
	teamID := decision.ToTeam

	// Fresh lookup: the endpoint may have changed since routing.
	team, err := d.reg.Get(ctx, teamID)
	if err != nil {
		d.finalize(ctx, decision.ID, routing.DecisionFailed, 0, err.Error())
		return nil, err
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("outbound throttle: %w", err)
		}
	}

	// Breaker revalidation: the team may have tripped between routing
	// and dispatch. An admission in half-open is the single trial; its
	// outcome is reported below either way.
	if !d.reporter.Admit(ctx, teamID) {
		rejection := &TransportError{TeamID: teamID, Attempts: 0, Err: ErrBreakerOpen}
		d.metrics.RecordDispatch(teamID, "rejected", 0)
		if rerr := d.reporter.ReportOutcome(ctx, teamID, false, 0); rerr != nil {
			d.logger.Warn("outcome report failed", zap.String("team_id", teamID), zap.Error(rerr))
		}
		d.finalize(ctx, decision.ID, routing.DecisionFailed, 0, rejection.Error())
		return nil, rejection
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = d.cfg.DefaultTimeout
	}
	body, err := json.Marshal(taskEnvelope{
		TaskID:          decision.ID,
		FromTeam:        decision.FromTeam,
		TaskDescription: task.Description,
		Context:         task.Context,
		TimeoutSeconds:  int64(timeout.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("encode task for %s: %w", teamID, err)
	}

	url := strings.TrimRight(team.Endpoint, "/") + "/task"
	start := time.Now()
	result, dispatchErr := d.send(ctx, decision, teamID, url, body, timeout)
	latency := time.Since(start)

	ok := dispatchErr == nil
	if rerr := d.reporter.ReportOutcome(ctx, teamID, ok, latency); rerr != nil {
		d.logger.Warn("outcome report failed", zap.String("team_id", teamID), zap.Error(rerr))
	}

	if ok {
		result.ResponseTimeMs = latency.Milliseconds()
		d.metrics.RecordDispatch(teamID, "success", latency)
		d.finalize(ctx, decision.ID, routing.DecisionCompleted, result.ResponseTimeMs, "")
		d.logger.Info("task dispatched",
			zap.String("decision_id", decision.ID),
			zap.String("team_id", teamID),
			zap.Int64("response_time_ms", result.ResponseTimeMs),
			zap.Int("attempts", result.Attempts))
		return result, nil
	}

	var de *DownstreamError
	if errors.As(dispatchErr, &de) {
		d.metrics.RecordDispatch(teamID, "downstream_error", latency)
	} else {
		d.metrics.RecordDispatch(teamID, "transport_error", latency)
	}
	d.finalize(ctx, decision.ID, routing.DecisionFailed, latency.Milliseconds(), dispatchErr.Error())
	d.logger.Warn("task dispatch failed",
		zap.String("decision_id", decision.ID),
		zap.String("team_id", teamID),
		zap.Error(dispatchErr))
	return nil, dispatchErr
}

// send runs the attempt loop. Only transport failures retry: once a
// response arrives the downstream has started the task, so any failure
// after that is terminal.
func (d *Dispatcher) send(ctx context.Context, decision *routing.Decision, teamID, url string, body []byte, timeout time.Duration) (*Result, error) {
	attempts := 1
	if d.cfg.RetryEnabled {
		attempts += d.cfg.MaxRetries
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			d.metrics.RecordDispatchRetry()
			select {
			case <-tctx.Done():
				return nil, &TransportError{TeamID: teamID, Attempts: attempt - 1, Err: tctx.Err()}
			case <-time.After(d.cfg.RetryDelay):
			}
		}

		req, err := http.NewRequestWithContext(tctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, &TransportError{TeamID: teamID, Attempts: attempt, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			d.logger.Debug("dispatch attempt failed",
				zap.String("team_id", teamID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		// A response means the task reached the team: no more retries.
		return d.readResult(decision, teamID, resp, attempt)
	}
	return nil, &TransportError{TeamID: teamID, Attempts: attempts, Err: lastErr}
}

func (d *Dispatcher) readResult(decision *routing.Decision, teamID string, resp *http.Response, attempts int) (*Result, error) {
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &DownstreamError{TeamID: teamID, StatusCode: resp.StatusCode, Message: "response read failed: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &DownstreamError{TeamID: teamID, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
	}

	var tr taskResponse
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &tr); err != nil {
			return nil, &DownstreamError{TeamID: teamID, StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
		}
	}
	if tr.Error != "" || tr.Status == "failed" {
		msg := tr.Error
		if msg == "" {
			msg = "task reported failed"
		}
		return nil, &DownstreamError{TeamID: teamID, StatusCode: resp.StatusCode, Message: msg}
	}

	status := tr.Status
	if status == "" {
		status = "completed"
	}
	return &Result{
		DecisionID: decision.ID,
		TeamID:     teamID,
		Status:     status,
		Output:     tr.Result,
		Attempts:   attempts,
	}, nil
}

func (d *Dispatcher) finalize(ctx context.Context, decisionID string, status routing.DecisionStatus, responseTimeMs int64, errMsg string) {
	if d.ledger == nil {
		return
	}
	err := d.ledger.Finalize(ctx, decisionID, ledger.Outcome{
		Status:         status,
		ResponseTimeMs: responseTimeMs,
		ErrorMessage:   errMsg,
	})
	if err != nil && !errors.Is(err, ledger.ErrDecisionNotFound) {
		d.logger.Warn("ledger finalize failed",
			zap.String("decision_id", decisionID),
			zap.Error(err))
	}
}
