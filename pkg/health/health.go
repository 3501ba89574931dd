package health

import (
	"context"
	"sync"
	"time"

	"github.com/modelmesh/fleetgate/pkg/log"
	"github.com/modelmesh/fleetgate/pkg/metrics"
	"github.com/modelmesh/fleetgate/pkg/types"
)

// Monitor periodically probes a set of workers and keeps the last known
// healthy/unhealthy state and resident model list for each. Probing fans
// out across a bounded number of goroutines; updates are applied under a
// single RWMutex, and readers always receive a copied snapshot rather than
// a reference into the live map.
type Monitor struct {
	prober      Prober
	concurrency int

	mu      sync.RWMutex
	workers map[types.WorkerID]types.Worker
}

// NewMonitor creates a Monitor that probes with prober, at most concurrency
// probes in flight at once.
func NewMonitor(prober Prober, concurrency int) *Monitor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Monitor{
		prober:      prober,
		concurrency: concurrency,
		workers:     make(map[types.WorkerID]types.Worker),
	}
}

// Run starts the probe loop on the given ticker interval and blocks until
// ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.ProbeAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Track registers a worker for probing if it isn't already tracked, keeping
// the Healthy flag it is given until the first probe completes. A worker
// that is already tracked is left unchanged.
func (m *Monitor) Track(w types.Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[w.ID]; !ok {
		m.workers[w.ID] = w
	}
}

// Replace swaps the tracked worker set wholesale, used after a discovery
// poll to drop workers that no longer exist.
func (m *Monitor) Replace(ws []types.Worker) {
	next := make(map[types.WorkerID]types.Worker, len(ws))
	m.mu.RLock()
	for _, w := range ws {
		if prev, ok := m.workers[w.ID]; ok {
			w.Healthy = prev.Healthy
			w.LoadedModelsApprox = prev.LoadedModelsApprox
			w.LastProbedAt = prev.LastProbedAt
		}
		next[w.ID] = w
	}
	m.mu.RUnlock()

	m.mu.Lock()
	m.workers = next
	m.mu.Unlock()
}

// ProbeAll probes every tracked worker, bounded by the monitor's
// concurrency limit, and records the results. It is exported so callers
// can force an out-of-band sweep instead of waiting on the ticker.
func (m *Monitor) ProbeAll(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HealthProbeDuration)

	m.mu.RLock()
	targets := make([]types.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		targets = append(targets, w)
	}
	m.mu.RUnlock()

	sem := make(chan struct{}, m.concurrency)
	var wg sync.WaitGroup

	for _, w := range targets {
		w := w
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			m.probeOne(ctx, w)
		}()
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, w types.Worker) {
	res := m.prober.Probe(ctx, w)

	outcome := "healthy"
	if !res.Healthy {
		outcome = "unhealthy"
	}
	metrics.HealthProbesTotal.WithLabelValues(outcome).Inc()

	if !res.Healthy {
		log.WithComponent("health").Debug().
			Str("worker", string(w.ID)).
			Str("reason", res.Message).
			Msg("worker probe failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.workers[w.ID]
	if !ok {
		return
	}
	cur.Healthy = res.Healthy
	cur.LoadedModelsApprox = res.Models
	cur.LastProbedAt = res.CheckedAt
	m.workers[w.ID] = cur
}

// GetHealthyWorkers returns a copy of every worker currently considered
// healthy.
func (m *Monitor) GetHealthyWorkers() []types.Worker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		if w.Healthy {
			out = append(out, w)
		}
	}
	return out
}

// Get returns a copy of a single tracked worker and whether it is known.
func (m *Monitor) Get(id types.WorkerID) (types.Worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	return w, ok
}

// Snapshot returns a copy of every tracked worker, healthy or not. The
// frontend's /workers endpoint lists workers from it.
func (m *Monitor) Snapshot() []types.Worker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w)
	}
	return out
}
