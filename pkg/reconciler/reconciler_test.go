package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmesh/fleetgate/pkg/health"
	"github.com/modelmesh/fleetgate/pkg/placement"
	"github.com/modelmesh/fleetgate/pkg/registry"
	"github.com/modelmesh/fleetgate/pkg/types"
)

// fakeFetcher lets tests dictate exactly what FetchResidentSets returns,
// independent of the health monitor's probing machinery.
type fakeFetcher struct {
	sets map[types.WorkerID]map[string]bool
}

func (f fakeFetcher) FetchResidentSets(ctx context.Context, workers []types.Worker) map[types.WorkerID]map[string]bool {
	out := make(map[types.WorkerID]map[string]bool, len(workers))
	for _, w := range workers {
		out[w.ID] = f.sets[w.ID]
	}
	return out
}

func setupReconciler(t *testing.T, fetcher fakeFetcher) (*Reconciler, registry.Store, *health.Monitor, *placement.Cache) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := registry.NewRedisStoreFromClient(rdb)
	t.Cleanup(func() { store.Close() })

	monitor := health.NewMonitor(health.NewHTTPProber(time.Second), 16)
	cache := placement.NewCache()
	opts := registry.DefaultOptions()

	r := New(monitor, store, cache, fetcher, opts)
	return r, store, monitor, cache
}

// S6: a stale assignment pointing at w1 (which no longer reports the model
// resident) is deleted, and a fresh assignment is established pointing at
// w2 (which does report it resident).
func TestReconcile_RepairsStaleAssignment(t *testing.T) {
	model := types.ModelKey{Name: "resnet", Version: "v1"}
	fetcher := fakeFetcher{sets: map[types.WorkerID]map[string]bool{
		"w1:8000": {},
		"w2:8000": {model.String(): true},
	}}
	r, store, monitor, _ := setupReconciler(t, fetcher)
	monitor.Track(types.Worker{ID: "w1:8000", Host: "w1", Port: 8000, Healthy: true})
	monitor.Track(types.Worker{ID: "w2:8000", Host: "w2", Port: 8000, Healthy: true})

	opts := registry.DefaultOptions()
	key := registry.AssignmentKey(opts, model)
	require.NoError(t, store.Set(context.Background(), key, "w1:8000", 0))

	r.Reconcile(context.Background())

	val, present, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, "w2:8000", val)
}

func TestReconcile_DropsAssignmentWithNoResidentOwner(t *testing.T) {
	model := types.ModelKey{Name: "resnet", Version: "v1"}
	fetcher := fakeFetcher{sets: map[types.WorkerID]map[string]bool{
		"w1:8000": {},
	}}
	r, store, monitor, _ := setupReconciler(t, fetcher)
	monitor.Track(types.Worker{ID: "w1:8000", Host: "w1", Port: 8000, Healthy: true})

	opts := registry.DefaultOptions()
	key := registry.AssignmentKey(opts, model)
	require.NoError(t, store.Set(context.Background(), key, "w1:8000", 0))

	r.Reconcile(context.Background())

	_, present, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestReconcile_OverwritesLoadCounterFromResidentCount(t *testing.T) {
	model1 := types.ModelKey{Name: "resnet", Version: "v1"}
	model2 := types.ModelKey{Name: "bert", Version: "v2"}
	fetcher := fakeFetcher{sets: map[types.WorkerID]map[string]bool{
		"w1:8000": {model1.String(): true, model2.String(): true},
	}}
	r, store, monitor, _ := setupReconciler(t, fetcher)
	monitor.Track(types.Worker{ID: "w1:8000", Host: "w1", Port: 8000, Healthy: true})

	opts := registry.DefaultOptions()
	loadKey := registry.WorkerLoadKey(opts, "w1:8000")
	require.NoError(t, store.Set(context.Background(), loadKey, "99", 0))

	r.Reconcile(context.Background())

	val, present, err := store.Get(context.Background(), loadKey)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, "2", val)
}

func TestReconcile_ReplacesCacheFromResidentSets(t *testing.T) {
	model := types.ModelKey{Name: "resnet", Version: "v1"}
	fetcher := fakeFetcher{sets: map[types.WorkerID]map[string]bool{
		"w1:8000": {model.String(): true},
	}}
	r, _, monitor, cache := setupReconciler(t, fetcher)
	monitor.Track(types.Worker{ID: "w1:8000", Host: "w1", Port: 8000, Healthy: true})

	r.Reconcile(context.Background())

	assert.True(t, cache.Contains("w1:8000", model, time.Minute))
}
