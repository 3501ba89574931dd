// Package placer implements the gateway's core placement decisions: which
// worker should serve a model, how to get it loaded there, and how to tear
// an assignment down.
package placer

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/modelmesh/fleetgate/pkg/health"
	"github.com/modelmesh/fleetgate/pkg/log"
	"github.com/modelmesh/fleetgate/pkg/metrics"
	"github.com/modelmesh/fleetgate/pkg/placement"
	"github.com/modelmesh/fleetgate/pkg/registry"
	"github.com/modelmesh/fleetgate/pkg/types"
	"github.com/modelmesh/fleetgate/pkg/workerclient"
)

const maxAssignAttempts = 3

// Placer is the core decision engine. It holds no lock of its own, so no
// lock is ever held across its registry or worker calls; shared state lives
// in its collaborators, which guard it themselves.
type Placer struct {
	registry     registry.Store
	health       *health.Monitor
	cache        *placement.Cache
	workers      workerclient.Client
	opts         registry.Options
	verifyTTL    time.Duration
	healthFanout int
	batchSize    int
	batchWaitMs  int
	logger       zerolog.Logger
}

// New builds a Placer from its collaborators. batchSize and batchWaitMs are
// the batching hints sent to a worker on every load call; zero values fall
// back to 32 and 50ms.
func New(store registry.Store, monitor *health.Monitor, cache *placement.Cache, workers workerclient.Client, opts registry.Options, verifyTTL time.Duration, healthFanout int, batchSize, batchWaitMs int) *Placer {
	if healthFanout <= 0 {
		healthFanout = 16
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	if batchWaitMs <= 0 {
		batchWaitMs = 50
	}
	return &Placer{
		registry:     store,
		health:       monitor,
		cache:        cache,
		workers:      workers,
		opts:         opts,
		verifyTTL:    verifyTTL,
		healthFanout: healthFanout,
		batchSize:    batchSize,
		batchWaitMs:  batchWaitMs,
		logger:       log.WithComponent("placer"),
	}
}

// GetWorkerForModel is the primary routing decision: find a worker that
// already has model resident, or trigger a load and return the worker it
// landed on.
func (p *Placer) GetWorkerForModel(ctx context.Context, model types.ModelKey) (types.Worker, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlacementDuration)

	key := registry.AssignmentKey(p.opts, model)

	workerIDStr, present, err := p.registry.Get(ctx, key)
	if err != nil {
		p.logger.Warn().Err(err).Str("model", model.String()).Msg("registry read failed, treating as unassigned")
		present = false
	}

	if present {
		w, err := p.resolveAssigned(ctx, types.WorkerID(workerIDStr), model, key)
		if err == nil {
			metrics.PlacementRequestsTotal.WithLabelValues("cache_hit").Inc()
			return w, nil
		}
		if !isReassignSignal(err) {
			metrics.PlacementRequestsTotal.WithLabelValues("error").Inc()
			return types.Worker{}, err
		}
		// fall through to assign
	}

	w, err := p.Assign(ctx, model)
	if err != nil {
		metrics.PlacementRequestsTotal.WithLabelValues("error").Inc()
		return types.Worker{}, err
	}
	metrics.PlacementRequestsTotal.WithLabelValues("assigned").Inc()
	return w, nil
}

// reassignSignal marks an error from resolveAssigned that should fall
// through to a fresh Assign rather than propagate to the caller.
type reassignSignal struct{}

func (reassignSignal) Error() string { return "placer: assignment invalidated, reassigning" }

func isReassignSignal(err error) bool {
	_, ok := err.(reassignSignal)
	return ok
}

// resolveAssigned implements steps 3a-3c of getWorkerForModel: validate the
// existing assignment, serve from cache when fresh, or (re)load on a stale
// or cold cache.
func (p *Placer) resolveAssigned(ctx context.Context, workerID types.WorkerID, model types.ModelKey, key string) (types.Worker, error) {
	w, ok := p.health.Get(workerID)
	if !ok || !w.Healthy {
		if delErr := p.registry.Delete(ctx, key); delErr != nil {
			p.logger.Warn().Err(delErr).Str("worker", string(workerID)).Msg("failed to delete assignment for unhealthy worker")
		}
		return types.Worker{}, reassignSignal{}
	}

	if p.cache.Contains(workerID, model, p.verifyTTL) {
		return w, nil
	}

	if err := p.workers.Load(ctx, w, model, p.batchSize, p.batchWaitMs); err != nil {
		if delErr := p.registry.Delete(ctx, key); delErr != nil {
			p.logger.Warn().Err(delErr).Str("worker", string(workerID)).Msg("failed to delete assignment after load failure")
		}
		return types.Worker{}, reassignSignal{}
	}

	p.cache.Record(workerID, model, time.Now())
	return w, nil
}

// CurrentAssignment returns the worker a model is currently assigned to
// without triggering a new assignment. It is used by routing paths other
// than predict/load, which forward to whatever worker already owns the
// model rather than causing a fresh placement decision.
func (p *Placer) CurrentAssignment(ctx context.Context, model types.ModelKey) (types.Worker, error) {
	key := registry.AssignmentKey(p.opts, model)
	workerIDStr, present, err := p.registry.Get(ctx, key)
	if err != nil {
		return types.Worker{}, types.NewError(types.KindRegistry, "CurrentAssignment", err)
	}
	if !present {
		return types.Worker{}, types.NewError(types.KindModelNotFound, "CurrentAssignment", nil)
	}
	w, ok := p.health.Get(types.WorkerID(workerIDStr))
	if !ok || !w.Healthy {
		return types.Worker{}, types.NewError(types.KindWorkerUnavailable, "CurrentAssignment", nil)
	}
	return w, nil
}

// SelectLeastLoaded picks the healthy worker with the smallest load
// counter, breaking ties lexicographically by WorkerID for determinism.
func (p *Placer) SelectLeastLoaded(ctx context.Context) (types.Worker, error) {
	healthy := p.health.GetHealthyWorkers()
	if len(healthy) == 0 {
		return types.Worker{}, types.NewError(types.KindNoHealthyWorkers, "SelectLeastLoaded", nil)
	}

	sort.Slice(healthy, func(i, j int) bool { return healthy[i].ID < healthy[j].ID })

	best := healthy[0]
	bestLoad, err := p.loadCounter(ctx, best.ID)
	if err != nil {
		p.logger.Warn().Err(err).Str("worker", string(best.ID)).Msg("registry read failed reading load counter, treating as 0")
	}

	for _, w := range healthy[1:] {
		load, err := p.loadCounter(ctx, w.ID)
		if err != nil {
			p.logger.Warn().Err(err).Str("worker", string(w.ID)).Msg("registry read failed reading load counter, treating as 0")
		}
		if load < bestLoad {
			best, bestLoad = w, load
		}
	}
	return best, nil
}

func (p *Placer) loadCounter(ctx context.Context, worker types.WorkerID) (int64, error) {
	key := registry.WorkerLoadKey(p.opts, worker)
	val, present, err := p.registry.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, nil
	}
	return types.LoadCounter(n).Clamped(), nil
}

// Assign selects a worker, claims it in the registry, triggers the load,
// and records the cache entry. It retries up to maxAssignAttempts times if
// a concurrent caller wins the registry race against an unhealthy worker.
func (p *Placer) Assign(ctx context.Context, model types.ModelKey) (types.Worker, error) {
	key := registry.AssignmentKey(p.opts, model)

	for attempt := 0; attempt < maxAssignAttempts; attempt++ {
		w, err := p.SelectLeastLoaded(ctx)
		if err != nil {
			return types.Worker{}, err
		}

		placed, err := p.registry.SetIfAbsent(ctx, key, string(w.ID), p.opts.AssignTTL)
		if err != nil {
			return types.Worker{}, types.NewError(types.KindRegistry, "Assign", err)
		}

		if !placed {
			// Someone else claimed it first; adopt their winner if healthy.
			existing, present, err := p.registry.Get(ctx, key)
			if err != nil || !present {
				continue
			}
			winner, ok := p.health.Get(types.WorkerID(existing))
			if ok && winner.Healthy {
				return winner, nil
			}
			continue
		}

		// We won the race. Use context.WithoutCancel so a client disconnect
		// doesn't abandon the write-phase side effects mid-flight.
		writeCtx := context.WithoutCancel(ctx)

		loadKey := registry.WorkerLoadKey(p.opts, w.ID)
		if _, err := p.registry.IncrBy(writeCtx, loadKey, 1); err != nil {
			p.logger.Warn().Err(err).Str("worker", string(w.ID)).Msg("failed to increment load counter after winning assignment")
		}

		if err := p.workers.Load(writeCtx, w, model, p.batchSize, p.batchWaitMs); err != nil {
			metrics.ModelLoadsTotal.WithLabelValues("error").Inc()
			if delErr := p.registry.Delete(writeCtx, key); delErr != nil {
				p.logger.Warn().Err(delErr).Str("worker", string(w.ID)).Msg("failed to roll back assignment after load failure")
			}
			if _, err := p.registry.IncrBy(writeCtx, loadKey, -1); err != nil {
				p.logger.Warn().Err(err).Str("worker", string(w.ID)).Msg("failed to roll back load counter after load failure")
			}
			return types.Worker{}, types.NewError(types.KindWorkerLoadFailed, "Assign", err)
		}

		metrics.ModelLoadsTotal.WithLabelValues("ok").Inc()
		p.cache.Record(w.ID, model, time.Now())
		return w, nil
	}

	metrics.AssignmentRacesTotal.Inc()
	return types.Worker{}, types.NewError(types.KindAssignmentRace, "Assign", nil)
}

// FindWorkersWithModel asks every healthy worker directly whether it holds
// model, in parallel, bounded by the configured health fanout. It never
// consults the registry, which may be stale after a crash.
func (p *Placer) FindWorkersWithModel(ctx context.Context, model types.ModelKey) []types.Worker {
	healthy := p.health.GetHealthyWorkers()
	residents := p.FetchResidentSets(ctx, healthy)

	var out []types.Worker
	for _, w := range healthy {
		if residents[w.ID][model.String()] {
			out = append(out, w)
		}
	}
	return out
}

// FetchResidentSets probes every given worker's /health in parallel,
// bounded by the Placer's health fanout, and returns each worker's resident
// model set as a string-keyed membership map. It is shared between
// FindWorkersWithModel and the Reconciler's truth-harvesting sweep, per the
// intent of keeping that logic in exactly one place.
func (p *Placer) FetchResidentSets(ctx context.Context, workers []types.Worker) map[types.WorkerID]map[string]bool {
	out := make(map[types.WorkerID]map[string]bool, len(workers))
	var mu sync.Mutex
	sem := make(chan struct{}, p.healthFanout)
	done := make(chan struct{})
	remaining := len(workers)
	if remaining == 0 {
		close(done)
		return out
	}

	for _, w := range workers {
		w := w
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			_, models, err := p.workers.Health(ctx, w)
			set := make(map[string]bool)
			if err == nil {
				for _, m := range models {
					set[m.String()] = true
				}
			}
			mu.Lock()
			out[w.ID] = set
			remaining--
			if remaining == 0 {
				close(done)
			}
			mu.Unlock()
		}()
	}

	<-done
	return out
}

// UnloadGlobally finds every worker holding model and unloads it from each
// in parallel, then clears the registry assignment and resets per-worker
// bookkeeping for the workers that succeeded.
func (p *Placer) UnloadGlobally(ctx context.Context, model types.ModelKey) ([]types.WorkerID, error) {
	residents := p.FindWorkersWithModel(ctx, model)
	if len(residents) == 0 {
		metrics.ModelUnloadsTotal.WithLabelValues("not_found").Inc()
		return nil, types.NewError(types.KindModelNotFound, "UnloadGlobally", nil)
	}

	writeCtx := context.WithoutCancel(ctx)

	type result struct {
		worker types.WorkerID
		ok     bool
	}
	results := make(chan result, len(residents))
	for _, w := range residents {
		w := w
		go func() {
			err := p.workers.Unload(writeCtx, w, model)
			results <- result{worker: w.ID, ok: err == nil}
			if err != nil {
				p.logger.Warn().Err(err).Str("worker", string(w.ID)).Str("model", model.String()).Msg("unload failed; reconciler will repair")
			}
		}()
	}

	var succeeded []types.WorkerID
	for range residents {
		r := <-results
		if r.ok {
			succeeded = append(succeeded, r.worker)
		}
	}

	key := registry.AssignmentKey(p.opts, model)
	if err := p.registry.Delete(writeCtx, key); err != nil {
		p.logger.Warn().Err(err).Str("model", model.String()).Msg("failed to delete assignment during global unload")
	}

	for _, workerID := range succeeded {
		loadKey := registry.WorkerLoadKey(p.opts, workerID)
		if _, err := p.registry.IncrBy(writeCtx, loadKey, -1); err != nil {
			p.logger.Warn().Err(err).Str("worker", string(workerID)).Msg("failed to decrement load counter during global unload")
		}
		p.cache.Remove(workerID, model)
	}

	metrics.ModelUnloadsTotal.WithLabelValues("ok").Inc()
	return succeeded, nil
}

// Unassign clears a single worker's assignment for model, idempotently.
func (p *Placer) Unassign(ctx context.Context, model types.ModelKey, worker types.WorkerID) error {
	key := registry.AssignmentKey(p.opts, model)
	if err := p.registry.Delete(ctx, key); err != nil {
		return types.NewError(types.KindRegistry, "Unassign", err)
	}
	loadKey := registry.WorkerLoadKey(p.opts, worker)
	if _, err := p.registry.IncrBy(ctx, loadKey, -1); err != nil {
		return types.NewError(types.KindRegistry, "Unassign", err)
	}
	p.cache.Remove(worker, model)
	return nil
}
