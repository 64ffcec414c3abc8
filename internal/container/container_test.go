package container_test

import (
	"testing"

	"github.com/selenia-systems/pmemheap/internal/container"
	"github.com/selenia-systems/pmemheap/internal/memblock"
	"github.com/selenia-systems/pmemheap/internal/testrunner/assert"
)

func implementations() map[string]func() container.Container {
	return map[string]func() container.Container{
		"tree": func() container.Container { return container.NewTree() },
		"list": func() container.Container { return container.NewList() },
	}
}

func TestInsertAndRemoveBestFit(t *testing.T) {
	for name, newC := range implementations() {
		t.Run(name, func(t *testing.T) {
			c := newC()
			c.Insert(memblock.Block{Zone: 0, Chunk: 1, SizeIdx: 4})
			c.Insert(memblock.Block{Zone: 0, Chunk: 2, SizeIdx: 8})

			got, err := c.RemoveBestFit(5)
			assert.NoError(t, err)
			assert.Equal(t, uint32(2), got.Chunk)
			assert.Equal(t, 1, c.Len())
		})
	}
}

func TestRemoveBestFitNoneLargeEnough(t *testing.T) {
	for name, newC := range implementations() {
		t.Run(name, func(t *testing.T) {
			c := newC()
			c.Insert(memblock.Block{Zone: 0, Chunk: 1, SizeIdx: 2})

			_, err := c.RemoveBestFit(10)
			assert.Equal(t, container.ErrNotFound, err)
		})
	}
}

func TestRemoveExact(t *testing.T) {
	for name, newC := range implementations() {
		t.Run(name, func(t *testing.T) {
			c := newC()
			b := memblock.Block{Zone: 1, Chunk: 3, SizeIdx: 2, BlockOff: 0}
			c.Insert(b)

			assert.NoError(t, c.RemoveExact(b))
			assert.True(t, c.IsEmpty())
			assert.Equal(t, container.ErrNotFound, c.RemoveExact(b))
		})
	}
}

func TestGetExactIgnoresSizeIdx(t *testing.T) {
	for name, newC := range implementations() {
		t.Run(name, func(t *testing.T) {
			c := newC()
			c.Insert(memblock.Block{Zone: 0, Chunk: 5, BlockOff: 2, SizeIdx: 3})

			got, ok := c.GetExact(0, 5, 2)
			assert.True(t, ok)
			assert.Equal(t, uint32(3), got.SizeIdx)

			_, ok = c.GetExact(0, 5, 3)
			assert.False(t, ok)
		})
	}
}

func TestRemoveAllInChunk(t *testing.T) {
	for name, newC := range implementations() {
		t.Run(name, func(t *testing.T) {
			c := newC()
			c.Insert(memblock.Block{Zone: 0, Chunk: 1, BlockOff: 0, SizeIdx: 1})
			c.Insert(memblock.Block{Zone: 0, Chunk: 1, BlockOff: 1, SizeIdx: 1})
			c.Insert(memblock.Block{Zone: 0, Chunk: 2, BlockOff: 0, SizeIdx: 1})

			removed := c.RemoveAllInChunk(0, 1)
			assert.Equal(t, 2, len(removed))
			assert.Equal(t, 1, c.Len())
		})
	}
}

func TestInsertDuplicatePanics(t *testing.T) {
	for name, newC := range implementations() {
		t.Run(name, func(t *testing.T) {
			c := newC()
			b := memblock.Block{Zone: 0, Chunk: 1, BlockOff: 0, SizeIdx: 1}
			c.Insert(b)

			assert.Panics(t, func() { c.Insert(b) })
		})
	}
}

func TestBestFitTieBreaksByBlockOrder(t *testing.T) {
	for name, newC := range implementations() {
		t.Run(name, func(t *testing.T) {
			c := newC()
			c.Insert(memblock.Block{Zone: 0, Chunk: 9, BlockOff: 0, SizeIdx: 4})
			c.Insert(memblock.Block{Zone: 0, Chunk: 2, BlockOff: 0, SizeIdx: 4})

			got, err := c.RemoveBestFit(4)
			assert.NoError(t, err)
			assert.Equal(t, uint32(2), got.Chunk)
		})
	}
}
