// Package frontend exposes the gateway's HTTP surface: prediction routing,
// model load/unload, and operational endpoints.
package frontend

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/modelmesh/fleetgate/pkg/health"
	"github.com/modelmesh/fleetgate/pkg/log"
	"github.com/modelmesh/fleetgate/pkg/metrics"
	"github.com/modelmesh/fleetgate/pkg/placement"
	"github.com/modelmesh/fleetgate/pkg/placer"
	"github.com/modelmesh/fleetgate/pkg/types"
)

const requestIDHeader = "X-Request-ID"

// Frontend parses routing paths, asks the Placer for a worker, and forwards
// the request on. It owns no state of its own beyond its collaborators.
type Frontend struct {
	placer    *placer.Placer
	health    *health.Monitor
	cache     *placement.Cache
	verifyTTL time.Duration
	mux       *http.ServeMux
	logger    zerolog.Logger
}

// New builds a Frontend and registers its routes on a fresh mux. verifyTTL
// is the same cache-freshness window the Placer uses, so the status
// endpoint's "fresh" flag agrees with what a predict call would actually do.
func New(p *placer.Placer, monitor *health.Monitor, cache *placement.Cache, verifyTTL time.Duration) *Frontend {
	f := &Frontend{
		placer:    p,
		health:    monitor,
		cache:     cache,
		verifyTTL: verifyTTL,
		mux:       http.NewServeMux(),
		logger:    log.WithComponent("frontend"),
	}

	f.mux.HandleFunc("/healthz", f.handleHealthz)
	f.mux.HandleFunc("/readyz", f.handleReadyz)
	f.mux.Handle("/metrics", metrics.Handler())
	f.mux.HandleFunc("/workers", f.handleListWorkers)
	f.mux.HandleFunc("POST /models/unload", f.handleUnload)
	f.mux.HandleFunc("GET /models/{name}/versions/{version}/status", f.handleModelStatus)
	f.mux.HandleFunc("/models/{name}/versions/{version}/{action}", f.handleModelAction)

	return f
}

// ServeHTTP implements http.Handler.
func (f *Frontend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set(requestIDHeader, requestID)
	}
	w.Header().Set(requestIDHeader, requestID)

	timer := metrics.NewTimer()
	rw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
	f.mux.ServeHTTP(rw, r)

	route := r.URL.Path
	metrics.APIRequestDuration.WithLabelValues(route).Observe(timer.Duration().Seconds())
	metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rw.status)).Inc()
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (f *Frontend) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (f *Frontend) handleReadyz(w http.ResponseWriter, r *http.Request) {
	healthy := f.health.GetHealthyWorkers()
	if len(healthy) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "not ready",
			"message": "no healthy workers",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ready",
		"healthyWorkers": len(healthy),
	})
}

type workerView struct {
	ID      string `json:"id"`
	Healthy bool   `json:"healthy"`
	Load    int    `json:"loadedModelsApprox"`
}

func (f *Frontend) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	snapshot := f.health.Snapshot()
	views := make([]workerView, 0, len(snapshot))
	for _, worker := range snapshot {
		views = append(views, workerView{
			ID:      string(worker.ID),
			Healthy: worker.Healthy,
			Load:    len(worker.LoadedModelsApprox),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workers": views})
}

func (f *Frontend) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	model := types.ModelKey{Name: name, Version: version}

	residents := f.placer.FindWorkersWithModel(r.Context(), model)
	workerIDs := make([]string, 0, len(residents))
	for _, worker := range residents {
		workerIDs = append(workerIDs, string(worker.ID))
	}

	assigned, err := f.placer.CurrentAssignment(r.Context(), model)
	assignedID := ""
	fresh := false
	if err == nil {
		assignedID = string(assigned.ID)
		fresh = f.cache.Contains(assigned.ID, model, f.verifyTTL)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":      model.String(),
		"assigned":   assignedID,
		"cacheFresh": fresh,
		"workers":    workerIDs,
	})
}

type unloadRequest struct {
	ModelName string `json:"model_name"`
	Version   string `json:"version"`
}

type unloadResponse struct {
	Status    string   `json:"status"`
	ModelName string   `json:"model_name"`
	Version   string   `json:"version"`
	Workers   []string `json:"workers"`
}

func (f *Frontend) handleUnload(w http.ResponseWriter, r *http.Request) {
	var body unloadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ModelName == "" || body.Version == "" {
		writeError(w, types.NewError(types.KindBadRequest, "handleUnload", err))
		return
	}

	model := types.ModelKey{Name: body.ModelName, Version: body.Version}
	workers, err := f.placer.UnloadGlobally(r.Context(), model)
	if err != nil {
		writeError(w, err)
		return
	}

	workerIDs := make([]string, 0, len(workers))
	for _, id := range workers {
		workerIDs = append(workerIDs, string(id))
	}

	writeJSON(w, http.StatusOK, unloadResponse{
		Status:    "unloaded",
		ModelName: body.ModelName,
		Version:   body.Version,
		Workers:   workerIDs,
	})
}

// handleModelAction implements the predict/load/passthrough routing table:
// predict and load both resolve placement through the Placer (triggering a
// load on a cold cache), other actions forward to whatever worker the
// model is already assigned to without causing a new placement decision.
func (f *Frontend) handleModelAction(w http.ResponseWriter, r *http.Request) {
	name, version, action := r.PathValue("name"), r.PathValue("version"), r.PathValue("action")
	model := types.ModelKey{Name: name, Version: version}

	var worker types.Worker
	var err error
	switch action {
	case "predict", "load":
		worker, err = f.placer.GetWorkerForModel(r.Context(), model)
	default:
		worker, err = f.placer.CurrentAssignment(r.Context(), model)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	forwardTo(w, r, worker, r.URL.Path)
}

// forwardTo reverse-proxies the inbound request to worker, preserving the
// original path and stamping the request ID on the outbound call.
func forwardTo(w http.ResponseWriter, r *http.Request, worker types.Worker, path string) {
	target := &url.URL{Scheme: "http", Host: worker.Host + ":" + strconv.Itoa(worker.Port)}

	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.URL.Path = path
		req.Header.Set(requestIDHeader, r.Header.Get(requestIDHeader))
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		writeError(w, types.NewError(types.KindWorkerUnavailable, "forwardTo", err))
	}

	proxy.ServeHTTP(w, r)
}

// writeError maps a typed fleetgate error to its HTTP status per the
// documented kind-to-status table, never by matching err.Error() strings.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := types.KindOf(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case types.KindBadRequest:
		status = http.StatusBadRequest
	case types.KindModelNotFound:
		status = http.StatusNotFound
	case types.KindNoHealthyWorkers, types.KindAssignmentRace:
		status = http.StatusServiceUnavailable
	case types.KindWorkerLoadFailed, types.KindRegistry:
		status = http.StatusBadGateway
	case types.KindWorkerUnavailable:
		status = http.StatusGatewayTimeout
	}

	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
