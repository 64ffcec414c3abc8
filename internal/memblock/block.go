// Package memblock defines the volatile descriptor of a contiguous
// memory range — the value every free-space container and bucket
// operates on. A Block is pure data: deriving the bytes or the metadata
// word it describes never mutates the heap.
package memblock

import "github.com/selenia-systems/pmemheap/internal/heaplayout"

// Block describes a contiguous range within one chunk. For huge blocks
// BlockOff is always 0 and SizeIdx counts whole chunks; for run blocks
// SizeIdx counts units of the run's block_size and BlockOff is the
// starting unit.
type Block struct {
	Zone     uint32
	Chunk    uint32
	SizeIdx  uint32
	BlockOff uint32
}

// Less orders blocks by (Zone, Chunk, BlockOff), the tie-break the spec
// requires for deterministic best-fit selection.
func (b Block) Less(other Block) bool {
	if b.Zone != other.Zone {
		return b.Zone < other.Zone
	}

	if b.Chunk != other.Chunk {
		return b.Chunk < other.Chunk
	}

	return b.BlockOff < other.BlockOff
}

// IsHuge reports whether b describes whole chunks rather than run units.
func (b Block) IsHuge(unitSize uint64) bool {
	return unitSize == heaplayout.ChunkSize
}

// Data returns the byte range b describes. unitSize is the bucket's
// unit_size (ChunkSize for huge blocks, the run's block_size otherwise).
func Data(h *heaplayout.Heap, b Block, unitSize uint64) []byte {
	if b.IsHuge(unitSize) {
		return h.ChunkData(b.Zone, b.Chunk)
	}

	return h.RunBlockData(b.Zone, b.Chunk, b.BlockOff, unitSize)
}

// ChunkBlockSize returns CHUNKSIZE for a huge chunk, or the run's
// block_size when the chunk at b.Zone/b.Chunk is a run.
func ChunkBlockSize(h *heaplayout.Heap, b Block) (uint64, error) {
	ch, err := h.ReadChunkHeader(b.Zone, b.Chunk)
	if err != nil {
		return 0, err
	}

	if ch.Type == heaplayout.ChunkTypeRun {
		return h.ReadRunHeader(b.Zone, b.Chunk).BlockSize, nil
	}

	return heaplayout.ChunkSize, nil
}
