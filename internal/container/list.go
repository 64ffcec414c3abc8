package container

import (
	"sort"

	"github.com/selenia-systems/pmemheap/internal/memblock"
)

// List indexes blocks as a single slice sorted by (SizeIdx, then
// memblock.Block.Less), used by run buckets where the population is
// bounded by a run's allocation count and a linear best-fit scan is
// cheap enough that a map-backed index buys nothing. Behaviorally
// identical to Tree — same Container contract — just a flatter
// structure, per the spec's note that the tree/list choice is
// performance-driven, not semantic.
type List struct {
	blocks []memblock.Block
}

func NewList() *List { return &List{} }

func (l *List) less(a, b memblock.Block) bool {
	if a.SizeIdx != b.SizeIdx {
		return a.SizeIdx < b.SizeIdx
	}

	return a.Less(b)
}

func (l *List) Insert(b memblock.Block) {
	i := sort.Search(len(l.blocks), func(i int) bool { return !l.less(l.blocks[i], b) })

	for _, e := range l.blocks {
		if e.Zone == b.Zone && e.Chunk == b.Chunk && e.BlockOff == b.BlockOff {
			panic("container: duplicate block inserted")
		}
	}

	l.blocks = append(l.blocks, memblock.Block{})
	copy(l.blocks[i+1:], l.blocks[i:])
	l.blocks[i] = b
}

func (l *List) RemoveBestFit(minUnits uint32) (memblock.Block, error) {
	for i, b := range l.blocks {
		if b.SizeIdx >= minUnits {
			l.blocks = append(l.blocks[:i], l.blocks[i+1:]...)

			return b, nil
		}
	}

	return memblock.Block{}, ErrNotFound
}

func (l *List) RemoveExact(b memblock.Block) error {
	for i, e := range l.blocks {
		if e.Zone == b.Zone && e.Chunk == b.Chunk && e.BlockOff == b.BlockOff {
			l.blocks = append(l.blocks[:i], l.blocks[i+1:]...)

			return nil
		}
	}

	return ErrNotFound
}

func (l *List) GetExact(zone, chunk, blockOff uint32) (memblock.Block, bool) {
	for _, e := range l.blocks {
		if e.Zone == zone && e.Chunk == chunk && e.BlockOff == blockOff {
			return e, true
		}
	}

	return memblock.Block{}, false
}

func (l *List) RemoveAllInChunk(zone, chunk uint32) []memblock.Block {
	var removed []memblock.Block

	kept := l.blocks[:0]

	for _, b := range l.blocks {
		if b.Zone == zone && b.Chunk == chunk {
			removed = append(removed, b)
		} else {
			kept = append(kept, b)
		}
	}

	l.blocks = kept

	return removed
}

func (l *List) IsEmpty() bool { return len(l.blocks) == 0 }

func (l *List) Len() int { return len(l.blocks) }
