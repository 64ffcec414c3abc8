package heapengine

import (
	"context"
	"testing"
	"time"

	"github.com/selenia-systems/pmemheap/internal/bucket"
	"github.com/selenia-systems/pmemheap/internal/heaplayout"
	"github.com/selenia-systems/pmemheap/internal/lane"
	"github.com/selenia-systems/pmemheap/internal/testrunner/assert"
	"github.com/selenia-systems/pmemheap/pmem"
)

const (
	testHeapSize = 8 * heaplayout.ZoneMaxSize
	testLaneLogSize = 64 + 16*8
	testNumLanes    = 4
)

// newTestHeap builds a fully booted Heap over a fresh in-memory pool,
// with one huge bucket and one small run class registered, ready for
// Alloc/Free/Realloc calls.
func newTestHeap(t *testing.T) *Heap {
	t.Helper()

	ops := pmem.NewMemOps(testHeapSize + testNumLanes*testLaneLogSize)

	layout := &heaplayout.Heap{Ops: ops, HeapOffset: 0, HeapSize: testHeapSize}
	assert.NoError(t, layout.Init())

	registry := bucket.NewRegistry(heaplayout.ChunkSize)
	_, err := registry.RegisterAllocClass(128, 1024)
	assert.NoError(t, err)

	laneRegion := ops.Bytes()[testHeapSize:]
	lanes := lane.NewPool(ops, laneRegion, testNumLanes, testLaneLogSize)

	h, err := Boot(layout, registry, lanes, nil, 0)
	assert.NoError(t, err)

	return h
}

func TestAllocFreeHugeRoundTrip(t *testing.T) {
	h := newTestHeap(t)

	off, err := h.Alloc(500*1024, 0, 8, nil)
	assert.NoError(t, err)
	assert.True(t, off > 0)

	assert.NoError(t, h.Free(off, 8, 0))
}

func TestAllocRunRoundTripAndUsableSize(t *testing.T) {
	h := newTestHeap(t)

	off, err := h.Alloc(64, 0, 8, nil)
	assert.NoError(t, err)

	usable := h.UsableSize(off, 8)
	assert.True(t, usable >= 64)

	assert.NoError(t, h.Free(off, 8, 0))
}

func TestAllocCtorRunsBeforeCommit(t *testing.T) {
	h := newTestHeap(t)

	var wrote []byte

	off, err := h.Alloc(64, 0, 8, func(region []byte) error {
		wrote = append(wrote, region...)

		for i := range region {
			region[i] = 0xAB
		}

		return nil
	})
	assert.NoError(t, err)
	assert.True(t, len(wrote) >= 64)
	assert.True(t, off > 0)
}

func TestAllocManyRunsAreDistinct(t *testing.T) {
	h := newTestHeap(t)

	offs := make([]uint64, 0, 64)

	for i := 0; i < 64; i++ {
		off, err := h.Alloc(64, 0, 8, nil)
		assert.NoError(t, err)
		offs = append(offs, off)
	}

	seen := make(map[uint64]bool)
	for _, o := range offs {
		assert.False(t, seen[o])
		seen[o] = true
	}
}

func TestFreeDegradesEmptyRun(t *testing.T) {
	h := newTestHeap(t)

	const n = 8

	offs := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		off, err := h.Alloc(64, 0, 8, nil)
		assert.NoError(t, err)
		offs = append(offs, off)
	}

	for _, off := range offs {
		assert.NoError(t, h.Free(off, 8, 0))
	}

	// The run fully emptied; its class bucket should hold nothing from
	// that chunk any more, and the huge bucket should have regained a
	// free chunk. A fresh allocation of run size should still succeed,
	// proving the heap is still usable (either from a new run carved out
	// of the reclaimed huge chunk, or an existing one).
	off, err := h.Alloc(64, 0, 8, nil)
	assert.NoError(t, err)
	assert.True(t, off > 0)
}

func TestReallocShrinkInPlaceKeepsOffset(t *testing.T) {
	h := newTestHeap(t)

	off, err := h.Alloc(500*1024, 0, 8, nil)
	assert.NoError(t, err)

	newOff, err := h.Realloc(off, 400*1024, 8, 1<<40, nil)
	assert.NoError(t, err)
	assert.Equal(t, off, newOff)
}

func TestReallocGrowRunFallsBackToCopy(t *testing.T) {
	h := newTestHeap(t)

	off, err := h.Alloc(64, 0, 8, func(region []byte) error {
		region[0] = 0x42

		return nil
	})
	assert.NoError(t, err)

	newOff, err := h.Realloc(off, 200, 8, 0, func(region []byte) error {
		region[0] = 0x42

		return nil
	})
	assert.NoError(t, err)
	assert.True(t, newOff > 0)
}

func TestFirstNextEnumeratesAllocations(t *testing.T) {
	h := newTestHeap(t)

	const dataOff = 8

	a, err := h.Alloc(64, 0, dataOff, nil)
	assert.NoError(t, err)
	b, err := h.Alloc(64, 0, dataOff, nil)
	assert.NoError(t, err)
	c, err := h.Alloc(300*1024, 0, dataOff, nil)
	assert.NoError(t, err)

	seen := make(map[uint64]bool)

	cur := h.First(dataOff)
	for cur != 0 {
		seen[cur] = true
		cur = h.Next(cur, dataOff)
	}

	assert.True(t, seen[a])
	assert.True(t, seen[b])
	assert.True(t, seen[c])
}

func TestAllocOutOfMemory(t *testing.T) {
	const smallHeapSize = 2 * heaplayout.ZoneMaxSize

	ops := pmem.NewMemOps(smallHeapSize + testNumLanes*testLaneLogSize)

	layout := &heaplayout.Heap{Ops: ops, HeapOffset: 0, HeapSize: smallHeapSize}
	assert.NoError(t, layout.Init())

	registry := bucket.NewRegistry(heaplayout.ChunkSize)

	laneRegion := ops.Bytes()[smallHeapSize:]
	lanes := lane.NewPool(ops, laneRegion, testNumLanes, testLaneLogSize)

	h, err := Boot(layout, registry, lanes, nil, 0)
	assert.NoError(t, err)

	for i := 0; i < 10000; i++ {
		if _, err := h.Alloc(200*1024, 0, 8, nil); err != nil {
			assert.ErrorIs(t, err, ErrOutOfMemory)

			return
		}
	}

	t.Fatal("expected heap to exhaust within 10000 allocations")
}

// TestAllocGivesUpWaitingForLaneWithLaneWaitSet proves Again is
// producible: with every lane already held and LaneWait set, Alloc must
// return ErrAgain instead of blocking forever.
func TestAllocGivesUpWaitingForLaneWithLaneWaitSet(t *testing.T) {
	const n = 1

	ops := pmem.NewMemOps(testHeapSize + n*testLaneLogSize)

	layout := &heaplayout.Heap{Ops: ops, HeapOffset: 0, HeapSize: testHeapSize}
	assert.NoError(t, layout.Init())

	registry := bucket.NewRegistry(heaplayout.ChunkSize)
	_, err := registry.RegisterAllocClass(128, 1024)
	assert.NoError(t, err)

	laneRegion := ops.Bytes()[testHeapSize:]
	lanes := lane.NewPool(ops, laneRegion, n, testLaneLogSize)

	h, err := Boot(layout, registry, lanes, nil, 10*time.Millisecond)
	assert.NoError(t, err)

	// Hold the pool's only lane out from under the heap, simulating
	// another commit in flight.
	held, err := lanes.Hold(context.Background())
	assert.NoError(t, err)
	defer lanes.Release(held)

	_, err = h.Alloc(64, 0, 8, nil)
	assert.ErrorIs(t, err, ErrAgain)
}
