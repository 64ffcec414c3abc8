package heapengine

import (
	"errors"
	"fmt"

	"github.com/selenia-systems/pmemheap/internal/bucket"
	"github.com/selenia-systems/pmemheap/internal/container"
	"github.com/selenia-systems/pmemheap/internal/heaplayout"
	"github.com/selenia-systems/pmemheap/internal/memblock"
)

// Reservation describes a block pulled from a bucket, split down to
// exactly the caller's requested unit count, not yet committed. Block
// must be folded into the same redo commit as the allocation itself —
// its header/bitmap entry marking it used. For a huge split, Remainder's
// FREE chunk header is written synchronously and durably by Reserve
// itself, before Remainder is ever inserted into a container, so it is
// correct ground truth the moment a concurrent allocator can see it; the
// allocation commit has nothing further to do with it. For a run split,
// Remainder is just bits left unset in the run's bitmap — already
// correct ground truth with no header to write.
type Reservation struct {
	Block     memblock.Block
	Bucket    *bucket.Bucket
	Split     bool
	Remainder memblock.Block // valid only if Split
}

// GetBestFitBlock locks b, removes a best-fit block of at least minUnits
// units, and unlocks before returning — container operations never hold
// the lock across a blocking persist call. On NOT_FOUND it activates
// more space (a new zone for the huge bucket, a new run for a run
// bucket) and retries.
func (h *Heap) GetBestFitBlock(b *bucket.Bucket, minUnits uint32) (memblock.Block, error) {
	for {
		b.Lock()
		blk, err := b.Container.RemoveBestFit(minUnits)
		b.Unlock()

		if err == nil {
			return blk, nil
		}

		if !errors.Is(err, container.ErrNotFound) {
			return memblock.Block{}, err
		}

		grew, growErr := h.grow(b)
		if growErr != nil {
			return memblock.Block{}, growErr
		}

		if !grew {
			return memblock.Block{}, ErrOutOfMemory
		}
	}
}

// grow adds one more unit of free space to b's container — a new zone
// for the huge bucket, a new run for a run bucket — returning false once
// no further growth is possible.
func (h *Heap) grow(b *bucket.Bucket) (bool, error) {
	if b.Kind == bucket.KindHuge {
		return h.activateZone()
	}

	return h.createRun(b)
}

// activateZone brings the next unexhausted zone online and advances
// ZonesExhausted. A zone whose magic is unset is initialized and enters
// the huge bucket as one free block spanning its whole capacity; a zone
// already initialized (a reopened pool) is walked chunk header by chunk
// header and only its FREE chunks enter the huge bucket. Free slots in
// runs that existed before the reopen are not indexed here; a run slot
// enters its class bucket when it is freed. Per the design notes, ZonesExhausted and the zone's
// first appearance in the huge container are both protected by the huge
// bucket's own lock — the one documented exception to "bucket lock
// guards only container operations", since zone activation and
// container population must be seen atomically by a concurrent
// allocator or not at all.
func (h *Heap) activateZone() (bool, error) {
	huge := h.Registry.Huge

	huge.Lock()
	defer huge.Unlock()

	if h.ZonesExhausted >= h.MaxZone {
		return false, nil
	}

	zoneID := h.ZonesExhausted

	if !h.Layout.ZoneInitialized(zoneID) {
		if err := h.Layout.InitZone(zoneID); err != nil {
			return false, fmt.Errorf("heapengine: zone %d init: %w", zoneID, err)
		}

		h.Logger.Printf("zone %d initialized", zoneID)

		cap := h.Layout.ZoneCapacity(zoneID)
		huge.Container.Insert(memblock.Block{Zone: zoneID, Chunk: 0, SizeIdx: cap})
	} else {
		cap := h.Layout.ZoneCapacity(zoneID)
		for c := uint32(0); c < cap; {
			ch, err := h.Layout.ReadChunkHeader(zoneID, c)
			if err != nil {
				return false, err
			}

			if ch.Type == heaplayout.ChunkTypeFree {
				huge.Container.Insert(memblock.Block{Zone: zoneID, Chunk: c, SizeIdx: ch.SizeIdx})
			}

			c += max32(ch.SizeIdx, 1)
		}
	}

	h.ZonesExhausted++

	return true, nil
}

// createRun draws one chunk from the huge bucket and converts it into a
// run for b's unit size: writes run metadata, a zeroed bitmap, and sets
// the chunk header's type to RUN, all persisted immediately. This is a
// structural conversion, not an allocation — every unit in the new run
// remains free — so, like zone initialization, it is safe to crash
// around: worst case on reopen is a RUN-typed chunk with an all-zero
// bitmap, which heap_check accepts as free ground truth.
func (h *Heap) createRun(b *bucket.Bucket) (bool, error) {
	chunkBlk, err := h.GetBestFitBlock(h.Registry.Huge, 1)
	if err != nil {
		if errors.Is(err, ErrOutOfMemory) {
			return false, nil
		}

		return false, err
	}

	if chunkBlk.SizeIdx > 1 {
		if err := h.splitHugeChunkHeaders(chunkBlk, 1); err != nil {
			return false, err
		}

		h.Registry.Huge.Lock()
		h.Registry.Huge.Container.Insert(memblock.Block{
			Zone:    chunkBlk.Zone,
			Chunk:   chunkBlk.Chunk + 1,
			SizeIdx: chunkBlk.SizeIdx - 1,
		})
		h.Registry.Huge.Unlock()
	}

	zoneID, chunkID := chunkBlk.Zone, chunkBlk.Chunk

	rh := heaplayout.RunHeader{BlockSize: b.UnitSize}
	if err := h.Layout.WriteRunHeader(zoneID, chunkID, rh); err != nil {
		return false, err
	}

	if err := h.Layout.WriteChunkHeader(zoneID, chunkID, heaplayout.ChunkHeader{
		Type:    heaplayout.ChunkTypeRun,
		SizeIdx: 1,
	}); err != nil {
		return false, err
	}

	nallocs := rh.Nallocs()

	b.Lock()
	b.Container.Insert(memblock.Block{Zone: zoneID, Chunk: chunkID, SizeIdx: nallocs})
	b.Unlock()

	h.Logger.Printf("chunk %d/%d converted to run, block_size=%d nallocs=%d", zoneID, chunkID, b.UnitSize, nallocs)

	return true, nil
}

// splitHugeChunkHeaders persistently shrinks a free chunk header
// spanning blk.SizeIdx chunks down to keepUnits, writing a second FREE
// header for the remainder. Both headers are written durably and
// directly, outside any redo commit: createRun uses it to carve one
// chunk for a new run, and Reserve uses it to split a huge block before
// the allocation commit (see allocEntries in commit.go, which adds no
// entry for the remainder).
func (h *Heap) splitHugeChunkHeaders(blk memblock.Block, keepUnits uint32) error {
	if err := h.Layout.WriteChunkHeader(blk.Zone, blk.Chunk, heaplayout.ChunkHeader{
		Type:    heaplayout.ChunkTypeFree,
		SizeIdx: keepUnits,
	}); err != nil {
		return err
	}

	return h.Layout.WriteChunkHeader(blk.Zone, blk.Chunk+keepUnits, heaplayout.ChunkHeader{
		Type:    heaplayout.ChunkTypeFree,
		SizeIdx: blk.SizeIdx - keepUnits,
	})
}

// Reserve obtains a block of at least minUnits units from b, splitting
// the remainder back into b's container if the best fit was larger than
// needed. For a huge split, the remainder's FREE chunk header is written
// synchronously here, before the remainder is inserted into b's
// container — exactly the discipline splitHugeChunkHeaders already
// applies for createRun — so a concurrent allocator can never observe
// the remainder block before its on-media header legitimizes it as
// free. A run split has no header to write: the remainder is simply
// bits Reserve never claims in the run's bitmap.
func (h *Heap) Reserve(b *bucket.Bucket, minUnits uint32) (Reservation, error) {
	blk, err := h.GetBestFitBlock(b, minUnits)
	if err != nil {
		return Reservation{}, err
	}

	if blk.SizeIdx == minUnits {
		return Reservation{Block: blk, Bucket: b}, nil
	}

	kept := memblock.Block{Zone: blk.Zone, Chunk: blk.Chunk, BlockOff: blk.BlockOff, SizeIdx: minUnits}

	var remainder memblock.Block
	if b.Kind == bucket.KindHuge {
		remainder = memblock.Block{Zone: blk.Zone, Chunk: blk.Chunk + minUnits, SizeIdx: blk.SizeIdx - minUnits}

		if err := h.splitHugeChunkHeaders(blk, minUnits); err != nil {
			return Reservation{}, err
		}
	} else {
		remainder = memblock.Block{Zone: blk.Zone, Chunk: blk.Chunk, BlockOff: blk.BlockOff + minUnits, SizeIdx: blk.SizeIdx - minUnits}
	}

	b.Lock()
	b.Container.Insert(remainder)
	b.Unlock()

	return Reservation{Block: kept, Bucket: b, Split: true, Remainder: remainder}, nil
}
