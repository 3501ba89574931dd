// Package placement holds the in-process, best-effort cache of which
// models a worker is believed to have resident, independent of the
// authoritative registry.
package placement

import (
	"sync"
	"time"

	"github.com/modelmesh/fleetgate/pkg/types"
)

// Cache tracks, per worker, the set of models last confirmed resident and
// when that confirmation was observed. It exists to let the Placer skip a
// load call to the assigned worker on the common path; the registry remains
// the source of truth for ownership and is still read on every placement.
type Cache struct {
	mu    sync.RWMutex
	byWorker map[types.WorkerID]map[string]time.Time
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{byWorker: make(map[types.WorkerID]map[string]time.Time)}
}

// Contains reports whether model was confirmed resident on worker within
// maxAge.
func (c *Cache) Contains(worker types.WorkerID, model types.ModelKey, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	models, ok := c.byWorker[worker]
	if !ok {
		return false
	}
	verifiedAt, ok := models[model.String()]
	if !ok {
		return false
	}
	return time.Since(verifiedAt) <= maxAge
}

// Record marks model as confirmed resident on worker at the given time.
func (c *Cache) Record(worker types.WorkerID, model types.ModelKey, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	models, ok := c.byWorker[worker]
	if !ok {
		models = make(map[string]time.Time)
		c.byWorker[worker] = models
	}
	models[model.String()] = at
}

// Remove clears any cached confirmation of model on worker, used after an
// unload.
func (c *Cache) Remove(worker types.WorkerID, model types.ModelKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if models, ok := c.byWorker[worker]; ok {
		delete(models, model.String())
	}
}

// RemoveWorker drops every cached entry for worker.
func (c *Cache) RemoveWorker(worker types.WorkerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byWorker, worker)
}

// ReplaceAll atomically swaps in a freshly observed resident-set snapshot,
// replacing stale per-worker maps wholesale rather than patching them
// entry by entry. Used by the reconciler after it re-derives ground truth
// from worker health probes.
func (c *Cache) ReplaceAll(snapshot map[types.WorkerID][]types.ModelKey, at time.Time) {
	next := make(map[types.WorkerID]map[string]time.Time, len(snapshot))
	for worker, models := range snapshot {
		m := make(map[string]time.Time, len(models))
		for _, model := range models {
			m[model.String()] = at
		}
		next[worker] = m
	}

	c.mu.Lock()
	c.byWorker = next
	c.mu.Unlock()
}
