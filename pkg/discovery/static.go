package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/modelmesh/fleetgate/pkg/types"
)

// StaticSource returns a fixed worker list parsed once at construction
// time, for deployments that don't run a discovery mechanism at all.
type StaticSource struct {
	workers []types.Worker
}

// NewStaticSource parses "host:port" entries into a StaticSource.
func NewStaticSource(addrs []string) (*StaticSource, error) {
	workers := make([]types.Worker, 0, len(addrs))
	for _, addr := range addrs {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("discovery: invalid static worker address %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("discovery: invalid static worker port %q: %w", addr, err)
		}
		workers = append(workers, types.Worker{
			ID:   types.NewWorkerID(host, port),
			Host: host,
			Port: port,
		})
	}
	return &StaticSource{workers: workers}, nil
}

// Snapshot implements Source.
func (s *StaticSource) Snapshot(_ context.Context) ([]types.Worker, error) {
	out := make([]types.Worker, len(s.workers))
	copy(out, s.workers)
	return out, nil
}
