package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(rdb)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestRedisStore_SetIfAbsentIsAtomicAcrossConcurrentWriters(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	const attempts = 20
	var wins int32
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []string

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.SetIfAbsent(ctx, "fleetgate:assign:resnet:v1", "worker-"+string(rune('a'+i)), time.Minute)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				winners = append(winners, "worker")
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins, "exactly one concurrent SetIfAbsent call should win the race")
}

func TestRedisStore_GetMissingKeyReportsNotFound(t *testing.T) {
	store, _ := setupTestStore(t)
	_, ok, err := store.Get(context.Background(), "fleetgate:assign:missing:v1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_IncrByHandlesMissingKeyAndNegativeDelta(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	v, err := store.IncrBy(ctx, "fleetgate:load:w1:9000", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = store.IncrBy(ctx, "fleetgate:load:w1:9000", -5)
	require.NoError(t, err)
	assert.Equal(t, int64(-4), v, "the store itself does not clamp; clamping happens at read time in types.LoadCounter")
}

func TestRedisStore_ScanReturnsAllMatchingKeys(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "fleetgate:assign:a:v1", "w1:9000", time.Minute))
	require.NoError(t, store.Set(ctx, "fleetgate:assign:b:v1", "w2:9000", time.Minute))
	require.NoError(t, store.Set(ctx, "fleetgate:load:w1:9000", "3", 0))

	keys, err := store.Scan(ctx, "fleetgate:assign:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fleetgate:assign:a:v1", "fleetgate:assign:b:v1"}, keys)
}

func TestRedisStore_DeleteIsIdempotent(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, "fleetgate:assign:nonexistent:v1"))
}

func TestRedisStore_SetIfAbsentHonorsTTL(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	ok, err := store.SetIfAbsent(ctx, "fleetgate:assign:a:v1", "w1:9000", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok, err = store.Get(ctx, "fleetgate:assign:a:v1")
	require.NoError(t, err)
	assert.False(t, ok, "assignment should have expired")
}
