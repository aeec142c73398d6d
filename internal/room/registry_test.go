package room

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateConcurrentSameRoom(t *testing.T) {
	reg, fake := newTestRegistry(t, "")

	const n = 16
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := reg.GetOrCreate(context.Background(), "shared")
			assert.NoError(t, err)
			rooms[i] = r
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, rooms[0], rooms[i])
	}
	assert.Len(t, fake.ObjectsOfType("MediaPipeline"), 2, "one mixer and one presentation pipeline, never duplicated")
	assert.Len(t, fake.ObjectsOfType("Composite"), 1)
}

func TestTwoRoomsGetSeparatePipelines(t *testing.T) {
	reg, fake := newTestRegistry(t, "")
	_, err := reg.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)
	_, err = reg.GetOrCreate(context.Background(), "r2")
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Size())
	assert.Len(t, fake.ObjectsOfType("MediaPipeline"), 4)
}

func TestRemoveIsIdempotent(t *testing.T) {
	reg, fake := newTestRegistry(t, "")
	_, err := reg.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)

	reg.Remove(context.Background(), "r1")
	assert.Equal(t, 0, reg.Size())
	assert.Empty(t, fake.ObjectsOfType("MediaPipeline"))

	// removing again, or removing a name that never existed, is a no-op
	reg.Remove(context.Background(), "r1")
	reg.Remove(context.Background(), "never-existed")
	assert.Equal(t, 0, reg.Size())
}

func TestRemoveSkipsOccupiedRoom(t *testing.T) {
	reg, _ := newTestRegistry(t, "")
	r, err := reg.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)
	join(t, r, "c1", "alice")

	reg.Remove(context.Background(), "r1")
	assert.Equal(t, 1, reg.Size(), "rooms with participants are not evicted")

	got, ok := reg.Get("r1")
	require.True(t, ok)
	assert.Same(t, r, got)
}

func TestRoomCreationFailureLeavesNoEntry(t *testing.T) {
	reg, fake := newTestRegistry(t, "")
	fake.FailCreate["Composite"] = assert.AnError

	_, err := reg.GetOrCreate(context.Background(), "r1")
	require.Error(t, err)
	assert.Equal(t, 0, reg.Size())
	assert.Empty(t, fake.ObjectsOfType("MediaPipeline"), "partial pipelines must be rolled back")
}

func TestLeaveUnknownRoomIsNoOp(t *testing.T) {
	reg, _ := newTestRegistry(t, "")
	reg.Leave(context.Background(), "ghost", "c1")
	assert.Equal(t, 0, reg.Size())
}
