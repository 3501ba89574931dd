package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, the registry spec.md names
// explicitly: assignments and load counters must survive a gateway
// restart and be visible to every gateway instance.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to the Redis instance at url (e.g.
// "redis://host:6379/0").
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("registry: invalid redis url: %w", err)
	}
	return &RedisStore{rdb: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an already-constructed *redis.Client,
// used by tests to point a RedisStore at a miniredis instance.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("registry: get %q: %w", key, err)
	}
	return val, true, nil
}

// SetIfAbsent implements Store using Redis's SET NX EX, which performs the
// existence check and the write as a single atomic command.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("registry: setnx %q: %w", key, err)
	}
	return ok, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("registry: set %q: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("registry: del %q: %w", key, err)
	}
	return nil
}

// IncrBy implements Store.
func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := s.rdb.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("registry: incrby %q: %w", key, err)
	}
	return v, nil
}

// Scan implements Store using Redis's cursor-based SCAN rather than KEYS,
// so a large registry never blocks the server with a single O(N) command.
func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pattern := prefix + "*"
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("registry: scan %q: %w", pattern, err)
	}
	return keys, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// IsNotFound reports whether err indicates a missing registry entry.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

// TrimPrefix is a small helper most callers of Scan need immediately:
// stripping the key prefix back off to recover the domain value (a model
// key or worker ID) the key was derived from.
func TrimPrefix(key, prefix string) string {
	return strings.TrimPrefix(key, prefix)
}
