package discovery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/modelmesh/fleetgate/pkg/log"
	"github.com/modelmesh/fleetgate/pkg/types"
)

// Poller republishes a Source's snapshot on a fixed interval, handing each
// new snapshot to a callback. Discovery errors are logged and the previous
// snapshot is kept; a transient discovery outage should not drop every
// worker from rotation.
type Poller struct {
	source   Source
	interval time.Duration
	onUpdate func([]types.Worker)
}

// NewPoller creates a Poller over source. onUpdate is invoked with every
// successfully fetched snapshot, including the first one fetched by Run
// before the ticker starts.
func NewPoller(source Source, interval time.Duration, onUpdate func([]types.Worker)) *Poller {
	return &Poller{source: source, interval: interval, onUpdate: onUpdate}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	logger := log.WithComponent("discovery")

	p.pollOnce(ctx, logger)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.pollOnce(ctx, logger)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, logger zerolog.Logger) {
	workers, err := p.source.Snapshot(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("discovery snapshot failed, keeping previous worker set")
		return
	}
	p.onUpdate(workers)
}
