// Package workerclient is the HTTP client fleetgate uses to talk to a
// single worker's model-management API.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelmesh/fleetgate/pkg/types"
)

// Client is the interface the Placer depends on, so tests can substitute a
// fake instead of standing up real HTTP servers for every scenario.
type Client interface {
	Health(ctx context.Context, w types.Worker) (healthy bool, models []types.ModelKey, err error)
	Load(ctx context.Context, w types.Worker, model types.ModelKey, batchSize, batchWaitMs int) error
	Unload(ctx context.Context, w types.Worker, model types.ModelKey) error
}

// HTTPClient implements Client against a worker's /health, /models/load,
// and /models/unload endpoints.
type HTTPClient struct {
	httpClient    *http.Client
	healthTimeout time.Duration
	loadTimeout   time.Duration
	unloadTimeout time.Duration
}

// New creates an HTTPClient with the given per-call timeouts.
func New(healthTimeout, loadTimeout, unloadTimeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient:    &http.Client{},
		healthTimeout: healthTimeout,
		loadTimeout:   loadTimeout,
		unloadTimeout: unloadTimeout,
	}
}

// healthResponse is the JSON shape returned by a worker's /health endpoint:
// {status, models: ["name:version", ...], ...}. Only models is consumed;
// liveness is derived from the HTTP response itself, not a body field.
type healthResponse struct {
	Models []string `json:"models"`
}

// Health implements Client.
func (c *HTTPClient) Health(ctx context.Context, w types.Worker) (bool, []types.ModelKey, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/health", w.Host, w.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, nil, fmt.Errorf("workerclient: build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, nil, types.NewError(types.KindWorkerUnavailable, "Health", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil, types.NewError(types.KindWorkerUnavailable, "Health",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, nil, types.NewError(types.KindWorkerUnavailable, "Health", err)
	}

	models := make([]types.ModelKey, 0, len(body.Models))
	for _, m := range body.Models {
		mk, err := types.ParseModelKey(m)
		if err != nil {
			continue
		}
		models = append(models, mk)
	}
	return true, models, nil
}

type loadRequest struct {
	ModelName   string `json:"model_name"`
	Version     string `json:"version"`
	BatchSize   int    `json:"batch_size"`
	BatchWaitMs int    `json:"batch_wait_ms"`
}

// Load implements Client. A 409 Conflict response (worker reports the
// model is already loaded) is treated as success, not failure: the caller
// asked for a resident model and that's what they have.
func (c *HTTPClient) Load(ctx context.Context, w types.Worker, model types.ModelKey, batchSize, batchWaitMs int) error {
	ctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	body, err := json.Marshal(loadRequest{
		ModelName:   model.Name,
		Version:     model.Version,
		BatchSize:   batchSize,
		BatchWaitMs: batchWaitMs,
	})
	if err != nil {
		return types.NewError(types.KindBadRequest, "Load", err)
	}

	url := fmt.Sprintf("http://%s:%d/models/load", w.Host, w.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.NewError(types.KindWorkerLoadFailed, "Load", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.NewError(types.KindWorkerLoadFailed, "Load", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return nil
	default:
		return types.NewError(types.KindWorkerLoadFailed, "Load",
			fmt.Errorf("worker returned status %d", resp.StatusCode))
	}
}

type unloadRequest struct {
	ModelName string `json:"model_name"`
	Version   string `json:"version"`
}

// Unload implements Client. A 404 response means the model was already
// absent, which Unload treats as success since the caller's desired state
// (not loaded) already holds.
func (c *HTTPClient) Unload(ctx context.Context, w types.Worker, model types.ModelKey) error {
	ctx, cancel := context.WithTimeout(ctx, c.unloadTimeout)
	defer cancel()

	body, err := json.Marshal(unloadRequest{ModelName: model.Name, Version: model.Version})
	if err != nil {
		return types.NewError(types.KindBadRequest, "Unload", err)
	}

	url := fmt.Sprintf("http://%s:%d/models/unload", w.Host, w.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.NewError(types.KindWorkerUnavailable, "Unload", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.NewError(types.KindWorkerUnavailable, "Unload", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return nil
	default:
		return types.NewError(types.KindWorkerUnavailable, "Unload",
			fmt.Errorf("worker returned status %d", resp.StatusCode))
	}
}
