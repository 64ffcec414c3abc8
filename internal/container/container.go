// Package container implements the volatile free-block index a bucket
// wraps. Two implementations share one behavioral contract: insert,
// remove-exact, remove-best-fit, probe, and emptiness — the choice
// between them is a performance tradeoff, not a semantic one.
package container

import (
	"fmt"

	"github.com/selenia-systems/pmemheap/internal/memblock"
)

// ErrNotFound is returned by RemoveExact and RemoveBestFit when no
// matching block exists.
var ErrNotFound = fmt.Errorf("container: block not found")

// Container indexes free memory.Blocks for one bucket.
type Container interface {
	// Insert adds b. Inserting a block whose (Zone, Chunk, BlockOff)
	// already exists is a programming error and panics — ground truth
	// and the volatile index must never disagree about what's present.
	Insert(b memblock.Block)

	// RemoveBestFit removes and returns the smallest block with
	// SizeIdx >= minUnits, breaking ties by memblock.Block.Less. Returns
	// ErrNotFound if no block is large enough.
	RemoveBestFit(minUnits uint32) (memblock.Block, error)

	// RemoveExact removes the specific block b, matched on
	// (Zone, Chunk, BlockOff). Returns ErrNotFound if absent.
	RemoveExact(b memblock.Block) error

	// GetExact reports whether a block matching (Zone, Chunk, BlockOff)
	// is present, regardless of SizeIdx.
	GetExact(zone, chunk, blockOff uint32) (memblock.Block, bool)

	// RemoveAllInChunk removes and returns every block belonging to
	// (zone, chunk), regardless of BlockOff or SizeIdx. Used when a
	// chunk's structure changes wholesale — a run degrading back to a
	// single free chunk — and every volatile entry describing free
	// space within the old structure must be discarded together.
	RemoveAllInChunk(zone, chunk uint32) []memblock.Block

	IsEmpty() bool
	Len() int
}
