package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Prober performs a single liveness check against a team endpoint and
// returns the observed latency.
type Prober interface {
	Probe(ctx context.Context, url string) (time.Duration, error)
}

// HTTPProber checks liveness with GET {url}; any 2xx response within
// the client timeout counts as alive.
type HTTPProber struct {
	client *http.Client
}

var _ Prober = (*HTTPProber)(nil)

// NewHTTPProber builds a prober with the given per-probe timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
	}
}

// Probe issues the GET and measures wall-clock latency.
func (p *HTTPProber) Probe(ctx context.Context, url string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return latency, fmt.Errorf("probe %s: unexpected status %d", url, resp.StatusCode)
	}
	return latency, nil
}
