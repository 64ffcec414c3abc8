package memblock_test

import (
	"testing"

	"github.com/selenia-systems/pmemheap/internal/heaplayout"
	"github.com/selenia-systems/pmemheap/internal/memblock"
	"github.com/selenia-systems/pmemheap/internal/testrunner/assert"
	"github.com/selenia-systems/pmemheap/pmem"
)

func TestBlockLessOrdersByZoneChunkBlockOff(t *testing.T) {
	a := memblock.Block{Zone: 0, Chunk: 1, BlockOff: 5}
	b := memblock.Block{Zone: 0, Chunk: 2, BlockOff: 0}
	c := memblock.Block{Zone: 1, Chunk: 0, BlockOff: 0}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, b.Less(a))
}

func TestBlockIsHuge(t *testing.T) {
	b := memblock.Block{}

	assert.True(t, b.IsHuge(heaplayout.ChunkSize))
	assert.False(t, b.IsHuge(128))
}

func TestDataReturnsChunkDataForHugeBlock(t *testing.T) {
	ops := pmem.NewMemOps(int(heaplayout.HeapMinSize + heaplayout.ZoneMaxSize))
	h := &heaplayout.Heap{Ops: ops, HeapOffset: 0, HeapSize: uint64(len(ops.Bytes()))}
	assert.NoError(t, h.Init())
	assert.NoError(t, h.InitZone(0))

	b := memblock.Block{Zone: 0, Chunk: 0, SizeIdx: 1}
	data := memblock.Data(h, b, heaplayout.ChunkSize)
	assert.Equal(t, int(heaplayout.ChunkSize), len(data))
}

func TestChunkBlockSizeForFreeChunk(t *testing.T) {
	ops := pmem.NewMemOps(int(heaplayout.HeapMinSize + heaplayout.ZoneMaxSize))
	h := &heaplayout.Heap{Ops: ops, HeapOffset: 0, HeapSize: uint64(len(ops.Bytes()))}
	assert.NoError(t, h.Init())
	assert.NoError(t, h.InitZone(0))

	b := memblock.Block{Zone: 0, Chunk: 0}
	size, err := memblock.ChunkBlockSize(h, b)
	assert.NoError(t, err)
	assert.Equal(t, uint64(heaplayout.ChunkSize), size)
}
