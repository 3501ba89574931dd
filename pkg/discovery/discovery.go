// Package discovery produces point-in-time snapshots of the worker fleet
// from a pluggable source: a static list, or a Kubernetes Service's
// Endpoints.
package discovery

import (
	"context"

	"github.com/modelmesh/fleetgate/pkg/types"
)

// Source produces a snapshot of the currently known workers on demand. A
// Source does not push updates; callers (typically a Poller) decide when to
// ask for a fresh snapshot.
type Source interface {
	Snapshot(ctx context.Context) ([]types.Worker, error)
}
