// Package health probes workers for liveness and resident-model state.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelmesh/fleetgate/pkg/types"
)

// Result is the outcome of probing a single worker.
type Result struct {
	Healthy      bool
	Message      string
	Models       []types.ModelKey
	CheckedAt    time.Time
	Duration     time.Duration
}

// Prober performs a single health probe against a worker.
type Prober interface {
	Probe(ctx context.Context, w types.Worker) Result
}

// healthBody is the JSON shape returned by a worker's /health endpoint.
// Only models is consumed; status and any other fields are tolerated but
// ignored, since liveness is derived from the HTTP response itself.
type healthBody struct {
	Models []string `json:"models"`
}

// HTTPProber probes a worker's /health endpoint over HTTP and parses the
// resident model list out of the response body.
type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber creates an HTTPProber with the given per-request timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		Client: &http.Client{Timeout: timeout},
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, w types.Worker) Result {
	start := time.Now()
	url := fmt.Sprintf("http://%s:%d/health", w.Host, w.Port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("failed to create request: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("request failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	var body healthBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("malformed health body: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	models := make([]types.ModelKey, 0, len(body.Models))
	for _, m := range body.Models {
		mk, err := types.ParseModelKey(m)
		if err != nil {
			continue
		}
		models = append(models, mk)
	}

	return Result{
		Healthy:   true,
		Message:   "ok",
		Models:    models,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
