// Package registry is the shared-state store fleetgate uses to coordinate
// placement decisions across instances: which worker owns a model, and an
// approximate per-worker load counter.
package registry

import (
	"context"
	"time"

	"github.com/modelmesh/fleetgate/pkg/types"
)

// Options configures the key layout and default TTL used by a Store.
type Options struct {
	ModelKeyPrefix      string
	WorkerLoadKeyPrefix string
	AssignTTL           time.Duration
}

// DefaultOptions returns fleetgate's default key prefixes and TTL.
func DefaultOptions() Options {
	return Options{
		ModelKeyPrefix:      "fleetgate:assign:",
		WorkerLoadKeyPrefix: "fleetgate:load:",
		AssignTTL:           5 * time.Minute,
	}
}

// Store is the registry's storage contract. Every method is safe for
// concurrent use; SetIfAbsent is the one operation that must be atomic at
// the storage layer, since the Placer relies on it to settle ownership
// races between concurrent assign attempts.
type Store interface {
	// Get returns the value stored at key, and false if it doesn't exist.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetIfAbsent writes value at key with the given TTL only if key does
	// not already hold a value, atomically. It reports whether this call
	// won the race and performed the write.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set unconditionally writes value at key with the given TTL. A ttl of
	// zero means no expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a key that doesn't exist is not an
	// error.
	Delete(ctx context.Context, key string) error

	// IncrBy atomically adds delta to the integer stored at key (treating
	// a missing key as zero) and returns the resulting value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Scan returns every key matching prefix. There is no paging contract
	// beyond "all matches are eventually returned"; callers that need a
	// bound should apply it themselves.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Close releases the underlying connection.
	Close() error
}

// AssignmentKey returns the registry key an Assignment for model is stored
// under.
func AssignmentKey(opts Options, model types.ModelKey) string {
	return opts.ModelKeyPrefix + model.String()
}

// WorkerLoadKey returns the registry key a worker's load counter is stored
// under.
func WorkerLoadKey(opts Options, worker types.WorkerID) string {
	return opts.WorkerLoadKeyPrefix + string(worker)
}
