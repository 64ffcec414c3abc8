package container

import (
	"sort"

	"github.com/selenia-systems/pmemheap/internal/memblock"
)

// Tree indexes blocks by size in a map keyed by SizeIdx, with a sorted
// slice of the distinct sizes present so RemoveBestFit can binary-search
// for the smallest sufficient size. Grounded on the teacher's pattern of
// pairing a map with a separately maintained sorted key slice wherever an
// ordered map is needed (e.g. region_memory.go's size-class indexing);
// Go's standard library has no ordered map, so this is the idiomatic
// substitute rather than a hand-rolled balanced tree.
type Tree struct {
	bySize map[uint32][]memblock.Block
	sizes  []uint32 // ascending, kept in sync with bySize's keys
	count  int
}

// NewTree constructs an empty tree container, used by the huge bucket
// where block sizes vary widely.
func NewTree() *Tree {
	return &Tree{bySize: make(map[uint32][]memblock.Block)}
}

func (t *Tree) sizeIndex(size uint32) (int, bool) {
	i := sort.Search(len(t.sizes), func(i int) bool { return t.sizes[i] >= size })

	return i, i < len(t.sizes) && t.sizes[i] == size
}

func insertSorted(list []memblock.Block, b memblock.Block) []memblock.Block {
	i := sort.Search(len(list), func(i int) bool { return b.Less(list[i]) })
	list = append(list, memblock.Block{})
	copy(list[i+1:], list[i:])
	list[i] = b

	return list
}

func (t *Tree) Insert(b memblock.Block) {
	if existing, ok := t.bySize[b.SizeIdx]; ok {
		for _, e := range existing {
			if e.Zone == b.Zone && e.Chunk == b.Chunk && e.BlockOff == b.BlockOff {
				panic("container: duplicate block inserted")
			}
		}

		t.bySize[b.SizeIdx] = insertSorted(existing, b)
	} else {
		t.bySize[b.SizeIdx] = []memblock.Block{b}

		i, _ := t.sizeIndex(b.SizeIdx)
		t.sizes = append(t.sizes, 0)
		copy(t.sizes[i+1:], t.sizes[i:])
		t.sizes[i] = b.SizeIdx
	}

	t.count++
}

func (t *Tree) removeSizeSlot(size uint32) {
	i, ok := t.sizeIndex(size)
	if !ok {
		return
	}

	t.sizes = append(t.sizes[:i], t.sizes[i+1:]...)
}

func (t *Tree) RemoveBestFit(minUnits uint32) (memblock.Block, error) {
	i := sort.Search(len(t.sizes), func(i int) bool { return t.sizes[i] >= minUnits })
	if i == len(t.sizes) {
		return memblock.Block{}, ErrNotFound
	}

	size := t.sizes[i]
	list := t.bySize[size]
	b := list[0]

	if len(list) == 1 {
		delete(t.bySize, size)
		t.removeSizeSlot(size)
	} else {
		t.bySize[size] = list[1:]
	}

	t.count--

	return b, nil
}

func (t *Tree) RemoveExact(b memblock.Block) error {
	list, ok := t.bySize[b.SizeIdx]
	if !ok {
		return ErrNotFound
	}

	for i, e := range list {
		if e.Zone == b.Zone && e.Chunk == b.Chunk && e.BlockOff == b.BlockOff {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(t.bySize, b.SizeIdx)
				t.removeSizeSlot(b.SizeIdx)
			} else {
				t.bySize[b.SizeIdx] = list
			}

			t.count--

			return nil
		}
	}

	return ErrNotFound
}

func (t *Tree) GetExact(zone, chunk, blockOff uint32) (memblock.Block, bool) {
	for _, list := range t.bySize {
		for _, e := range list {
			if e.Zone == zone && e.Chunk == chunk && e.BlockOff == blockOff {
				return e, true
			}
		}
	}

	return memblock.Block{}, false
}

func (t *Tree) RemoveAllInChunk(zone, chunk uint32) []memblock.Block {
	var removed []memblock.Block

	for _, size := range append([]uint32(nil), t.sizes...) {
		list := t.bySize[size]
		kept := list[:0]

		for _, b := range list {
			if b.Zone == zone && b.Chunk == chunk {
				removed = append(removed, b)
				t.count--
			} else {
				kept = append(kept, b)
			}
		}

		if len(kept) == 0 {
			delete(t.bySize, size)
			t.removeSizeSlot(size)
		} else {
			t.bySize[size] = kept
		}
	}

	return removed
}

func (t *Tree) IsEmpty() bool { return t.count == 0 }

func (t *Tree) Len() int { return t.count }
