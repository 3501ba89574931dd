package placement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/modelmesh/fleetgate/pkg/types"
)

func TestCache_ContainsRespectsMaxAge(t *testing.T) {
	c := NewCache()
	model := types.ModelKey{Name: "resnet", Version: "v1"}

	c.Record("w1:9000", model, time.Now().Add(-10*time.Second))

	assert.True(t, c.Contains("w1:9000", model, 30*time.Second))
	assert.False(t, c.Contains("w1:9000", model, 5*time.Second))
}

func TestCache_ContainsFalseForUnknownWorkerOrModel(t *testing.T) {
	c := NewCache()
	assert.False(t, c.Contains("w1:9000", types.ModelKey{Name: "resnet", Version: "v1"}, time.Minute))
}

func TestCache_RemoveClearsOnlyThatModel(t *testing.T) {
	c := NewCache()
	a := types.ModelKey{Name: "resnet", Version: "v1"}
	b := types.ModelKey{Name: "bert", Version: "v2"}
	now := time.Now()
	c.Record("w1:9000", a, now)
	c.Record("w1:9000", b, now)

	c.Remove("w1:9000", a)

	assert.False(t, c.Contains("w1:9000", a, time.Minute))
	assert.True(t, c.Contains("w1:9000", b, time.Minute))
}

func TestCache_ReplaceAllSwapsWholeMap(t *testing.T) {
	c := NewCache()
	old := types.ModelKey{Name: "old", Version: "v1"}
	c.Record("w1:9000", old, time.Now())

	fresh := types.ModelKey{Name: "resnet", Version: "v1"}
	c.ReplaceAll(map[types.WorkerID][]types.ModelKey{
		"w1:9000": {fresh},
	}, time.Now())

	assert.False(t, c.Contains("w1:9000", old, time.Minute))
	assert.True(t, c.Contains("w1:9000", fresh, time.Minute))
}

func TestCache_RemoveWorkerDropsEverything(t *testing.T) {
	c := NewCache()
	model := types.ModelKey{Name: "resnet", Version: "v1"}
	c.Record("w1:9000", model, time.Now())
	c.RemoveWorker("w1:9000")
	assert.False(t, c.Contains("w1:9000", model, time.Minute))
}
