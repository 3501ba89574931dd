// Package reconciler periodically re-derives placement ground truth from
// worker health probes and repairs the registry and the placement cache to
// match it.
package reconciler

import (
	"context"
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
)

// residentFetcher is the single shared primitive for turning a set of
// workers into their observed resident-model sets. Placer.FetchResidentSets
// satisfies this so the reconciler's truth-harvesting sweep and the
// placer's FindWorkersWithModel never diverge in how they derive it.
type residentFetcher interface {
	FetchResidentSets(ctx context.Context, workers []types.Worker) map[types.WorkerID]map[string]bool
}

// Reconciler sweeps worker health state into the registry and placement
// cache, repairing assignments that point at a worker no longer holding the
// model and load counters that have drifted from what workers actually
// report.
type Reconciler struct {
	health   *health.Monitor
	registry registry.Store
	cache    *placement.Cache
	fetcher  residentFetcher
	opts     registry.Options

	logger zerolog.Logger
	mu     sync.RWMutex
	stopCh chan struct{}
}

// New creates a Reconciler from its collaborators.
func New(monitor *health.Monitor, store registry.Store, cache *placement.Cache, fetcher residentFetcher, opts registry.Options) *Reconciler {
	return &Reconciler{
		health:   monitor,
		registry: store,
		cache:    cache,
		fetcher:  fetcher,
		opts:     opts,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop on the given interval.
func (r *Reconciler) Start(interval time.Duration) {
	go r.run(interval)
}

// Stop halts the reconciliation loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			r.Reconcile(context.Background())
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// Reconcile performs one sweep: probe every healthy worker's resident set,
// replace the placement cache wholesale, then repair the registry's
// assignments and load counters against that ground truth. It is exported
// so callers (and tests) can force an out-of-band cycle.
func (r *Reconciler) Reconcile(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	healthy := r.health.GetHealthyWorkers()
	residents := r.fetcher.FetchResidentSets(ctx, healthy)

	snapshot := make(map[types.WorkerID][]types.ModelKey, len(residents))
	for workerID, models := range residents {
		keys := make([]types.ModelKey, 0, len(models))
		for modelStr := range models {
			if mk, err := types.ParseModelKey(modelStr); err == nil {
				keys = append(keys, mk)
			}
		}
		snapshot[workerID] = keys
	}
	r.cache.ReplaceAll(snapshot, time.Now())

	r.reconcileAssignments(ctx, residents)
	r.reconcileLoadCounters(ctx, healthy, residents)
}

// reconcileAssignments deletes assignments whose owning worker no longer
// reports the model resident, and establishes assignments for models a
// worker reports but the registry doesn't yet know about.
func (r *Reconciler) reconcileAssignments(ctx context.Context, residents map[types.WorkerID]map[string]bool) {
	keys, err := r.registry.Scan(ctx, r.opts.ModelKeyPrefix)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to scan assignments")
		return
	}

	assignedModels := make(map[string]bool, len(keys))
	for _, key := range keys {
		modelStr := registry.TrimPrefix(key, r.opts.ModelKeyPrefix)

		workerIDStr, present, err := r.registry.Get(ctx, key)
		if err != nil || !present {
			continue
		}
		if !residents[types.WorkerID(workerIDStr)][modelStr] {
			if err := r.registry.Delete(ctx, key); err != nil {
				r.logger.Warn().Err(err).Str("model", modelStr).Msg("failed to delete stale assignment")
				assignedModels[modelStr] = true
				continue
			}
			metrics.ReconciliationRepairsTotal.WithLabelValues("stale_assignment").Inc()
			r.logger.Info().Str("model", modelStr).Str("worker", workerIDStr).Msg("repaired stale assignment")
			continue
		}
		assignedModels[modelStr] = true
	}

	for workerID, models := range residents {
		for modelStr := range models {
			if assignedModels[modelStr] {
				continue
			}
			key := r.opts.ModelKeyPrefix + modelStr
			placed, err := r.registry.SetIfAbsent(ctx, key, string(workerID), r.opts.AssignTTL)
			if err != nil {
				r.logger.Warn().Err(err).Str("model", modelStr).Msg("failed to establish missing assignment")
				continue
			}
			if placed {
				metrics.ReconciliationRepairsTotal.WithLabelValues("missing_assignment").Inc()
				r.logger.Info().Str("model", modelStr).Str("worker", string(workerID)).Msg("established missing assignment")
			}
		}
	}
}

// reconcileLoadCounters overwrites each healthy worker's load counter with
// the count of models it actually reports resident, unconditionally. Unlike
// assignment repair this isn't a conditional compare-and-fix: the counter
// is approximate by nature, so an outright overwrite from the freshest
// observation is simpler and self-correcting.
func (r *Reconciler) reconcileLoadCounters(ctx context.Context, healthy []types.Worker, residents map[types.WorkerID]map[string]bool) {
	for _, w := range healthy {
		count := int64(len(residents[w.ID]))
		key := registry.WorkerLoadKey(r.opts, w.ID)
		if err := r.registry.Set(ctx, key, strconv.FormatInt(count, 10), 0); err != nil {
			r.logger.Warn().Err(err).Str("worker", string(w.ID)).Msg("failed to repair load counter")
			continue
		}
		metrics.WorkerLoadCounter.WithLabelValues(string(w.ID)).Set(float64(count))
	}
}
