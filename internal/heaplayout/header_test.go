package heaplayout_test

import (
	"testing"

	"github.com/selenia-systems/pmemheap/internal/heaplayout"
	"github.com/selenia-systems/pmemheap/internal/testrunner/assert"
	"github.com/selenia-systems/pmemheap/pmem"
)

func newHeap(t *testing.T, size uint64) (*heaplayout.Heap, *pmem.MemOps) {
	t.Helper()

	ops := pmem.NewMemOps(int(size))

	return &heaplayout.Heap{Ops: ops, HeapOffset: 0, HeapSize: size}, ops
}

func TestInitTooSmallReturnsErrHeapTooSmall(t *testing.T) {
	h, _ := newHeap(t, heaplayout.HeapHeaderSize)

	err := h.Init()
	assert.ErrorIs(t, err, heaplayout.ErrHeapTooSmall)
}

func TestInitThenVerifyHeaderSucceeds(t *testing.T) {
	h, _ := newHeap(t, heaplayout.HeapMinSize)

	assert.NoError(t, h.Init())
	assert.True(t, h.VerifyHeader())

	hdr := h.ReadHeader()
	assert.Equal(t, uint64(heaplayout.HeapMinSize), hdr.Size)
	assert.Equal(t, uint64(heaplayout.ChunkSize), hdr.ChunkSize)
}

func TestVerifyHeaderDetectsTornChecksum(t *testing.T) {
	h, ops := newHeap(t, heaplayout.HeapMinSize)
	assert.NoError(t, h.Init())

	// Flip a byte inside the header's size field, not its checksum: the
	// checksum no longer matches the (now different) header contents.
	ops.Bytes()[12] ^= 0xFF

	assert.False(t, h.VerifyHeader())
}

func TestCheckOnFreshHeapWithNoZonesInitializedIsOK(t *testing.T) {
	h, _ := newHeap(t, heaplayout.HeapMinSize)
	assert.NoError(t, h.Init())

	assert.NoError(t, h.Check())
}

func TestCheckAfterInitZoneIsOK(t *testing.T) {
	h, _ := newHeap(t, heaplayout.HeapMinSize)
	assert.NoError(t, h.Init())
	assert.NoError(t, h.InitZone(0))

	assert.NoError(t, h.Check())
}

func TestCheckDetectsCorruptChunkChain(t *testing.T) {
	h, _ := newHeap(t, heaplayout.HeapMinSize)
	assert.NoError(t, h.Init())
	assert.NoError(t, h.InitZone(0))

	// A zero SizeIdx chunk header can never appear on a consistent chain.
	assert.NoError(t, h.WriteChunkHeader(0, 0, heaplayout.ChunkHeader{Type: heaplayout.ChunkTypeFree, SizeIdx: 0}))

	assert.ErrorIs(t, h.Check(), heaplayout.ErrCorrupt)
}
