package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmesh/fleetgate/pkg/types"
)

func TestStaticSource_ParsesHostPort(t *testing.T) {
	src, err := NewStaticSource([]string{"10.0.0.1:9000", "10.0.0.2:9001"})
	require.NoError(t, err)

	ws, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.Equal(t, types.WorkerID("10.0.0.1:9000"), ws[0].ID)
	assert.Equal(t, 9001, ws[1].Port)
}

func TestStaticSource_RejectsMalformedAddress(t *testing.T) {
	_, err := NewStaticSource([]string{"not-a-host-port"})
	assert.Error(t, err)
}

type fakeSource struct {
	mu    sync.Mutex
	snaps [][]types.Worker
	calls int
}

func (f *fakeSource) Snapshot(_ context.Context) ([]types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.snaps) {
		idx = len(f.snaps) - 1
	}
	f.calls++
	return f.snaps[idx], nil
}

func TestPoller_InvokesCallbackImmediatelyAndOnTicker(t *testing.T) {
	src := &fakeSource{snaps: [][]types.Worker{
		{{ID: "a:1"}},
		{{ID: "a:1"}, {ID: "b:1"}},
	}}

	var mu sync.Mutex
	var received [][]types.Worker
	p := NewPoller(src, 10*time.Millisecond, func(ws []types.Worker) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, ws)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(received), 2)
	assert.Len(t, received[0], 1)
}
