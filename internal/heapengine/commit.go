package heapengine

import (
	"fmt"

	"github.com/selenia-systems/pmemheap/internal/bucket"
	"github.com/selenia-systems/pmemheap/internal/heaplayout"
	"github.com/selenia-systems/pmemheap/internal/lane"
	"github.com/selenia-systems/pmemheap/internal/memblock"
	"github.com/selenia-systems/pmemheap/internal/redolog"
)

// CommitEntry is one redo-logged word update: the byte offset of the
// target word within the pool's backing bytes, the operation, and the
// operand value.
type CommitEntry struct {
	Offset uint64
	Value  uint64
	Op     redolog.OpType
}

// Commit stages entries into l's redo log (Store for every entry but
// the last, StoreLast for the last) and processes it, making the whole
// sequence durable as a single linearization point. An empty entries
// slice is a no-op.
func (h *Heap) Commit(l *lane.Lane, entries []CommitEntry) error {
	if len(entries) == 0 {
		return nil
	}

	for i, e := range entries[:len(entries)-1] {
		if err := l.Log.Store(i, e.Offset, e.Value, e.Op); err != nil {
			return fmt.Errorf("heapengine: commit store %d: %w", i, err)
		}
	}

	last := entries[len(entries)-1]
	idx := len(entries) - 1

	if err := l.Log.StoreLast(idx, last.Offset, last.Value, last.Op); err != nil {
		return fmt.Errorf("heapengine: commit store_last: %w", err)
	}

	if err := l.Log.Process(); err != nil {
		return fmt.Errorf("heapengine: commit process: %w", err)
	}

	return nil
}

// bitmapWordMasks groups the bits [blockOff, blockOff+units) by the
// 64-bit bitmap word they fall in, returning each touched word's index
// and the OR-mask of bits it contributes.
func bitmapWordMasks(blockOff, units uint32) map[int]uint64 {
	masks := make(map[int]uint64)

	for u := uint32(0); u < units; u++ {
		bit := blockOff + u
		word := int(bit / 64)
		masks[word] |= uint64(1) << (bit % 64)
	}

	return masks
}

// blockRegion resolves blk's reserved range to the allocation header
// sub-slice and the user data sub-slice, for huge and run blocks alike.
func (h *Heap) blockRegion(blk memblock.Block, b *bucket.Bucket) (allocHdr, userData []byte) {
	if b.Kind == bucket.KindHuge {
		start := h.Layout.ChunkData(blk.Zone, blk.Chunk)
		off := h.Layout.OffsetOf(start)
		region := h.Layout.AtOffset(off, uint64(blk.SizeIdx)*heaplayout.ChunkSize)

		return region[:heaplayout.AllocationHeaderSize], region[heaplayout.AllocationHeaderSize:]
	}

	region := h.Layout.RunSpanData(blk.Zone, blk.Chunk, blk.BlockOff, blk.SizeIdx, b.UnitSize)

	return region[:heaplayout.AllocationHeaderSize], region[heaplayout.AllocationHeaderSize:]
}

// allocEntries builds the redo entries one alloc commit needs: marking
// the reserved block used (a chunk header SET for huge, one OR per
// touched bitmap word for run), and finally writing offValue to
// offFieldOffset — the caller's persistent off field, always the
// terminating entry since it is what makes the allocation visible to
// the caller. A huge split's remainder is not this commit's concern: its
// FREE chunk header was already written durably, synchronously, by
// Reserve itself, before the remainder ever became visible to another
// allocator — redoing that write here would risk stomping a concurrent
// allocation that has since claimed the remainder and committed its own
// USED header over it.
func (h *Heap) allocEntries(rsv Reservation, b *bucket.Bucket, offFieldOffset, offValue uint64) []CommitEntry {
	var entries []CommitEntry

	if b.Kind == bucket.KindHuge {
		usedWord := heaplayout.EncodeChunkHeaderWord(heaplayout.ChunkHeader{
			Type:    heaplayout.ChunkTypeUsed,
			SizeIdx: rsv.Block.SizeIdx,
		})
		entries = append(entries, CommitEntry{
			Offset: h.Layout.OffsetOf(h.Layout.ChunkHeaderAddr(rsv.Block.Zone, rsv.Block.Chunk)),
			Value:  usedWord,
			Op:     redolog.OpSet,
		})
	} else {
		for word, mask := range bitmapWordMasks(rsv.Block.BlockOff, rsv.Block.SizeIdx) {
			entries = append(entries, CommitEntry{
				Offset: h.Layout.OffsetOf(h.Layout.BitmapWordAddr(rsv.Block.Zone, rsv.Block.Chunk, word)),
				Value:  mask,
				Op:     redolog.OpOr,
			})
		}
	}

	entries = append(entries, CommitEntry{Offset: offFieldOffset, Value: offValue, Op: redolog.OpSet})

	return entries
}

// Alloc reserves size+header bytes from the best-fitting bucket, writes
// the allocation header, runs ctor (if non-nil) on the user region, and
// commits the allocation atomically: the chunk/run header or bitmap
// update and the write of offFieldOffset land together under one
// terminating redo entry. Returns the user data's pool-relative offset
// plus dataOff, the same value committed into offFieldOffset.
func (h *Heap) Alloc(size, offFieldOffset, dataOff uint64, ctor func([]byte) error) (uint64, error) {
	b := h.GetBestBucket(size + heaplayout.AllocationHeaderSize)

	units, err := b.CalcUnits(size + heaplayout.AllocationHeaderSize)
	if err != nil {
		return 0, err
	}

	rsv, err := h.Reserve(b, units)
	if err != nil {
		return 0, err
	}

	allocHdr, userData := h.blockRegion(rsv.Block, b)

	if err := h.Layout.WriteAllocHeader(allocHdr, heaplayout.AllocHeader{
		Size:    size + heaplayout.AllocationHeaderSize,
		ChunkID: rsv.Block.Chunk,
		ZoneID:  rsv.Block.Zone,
	}); err != nil {
		return 0, err
	}

	if ctor != nil {
		if err := ctor(userData); err != nil {
			h.abandon(rsv, b)

			return 0, err
		}
	}

	userOffset := h.Layout.OffsetOf(userData)

	ctx, cancel := h.holdCtx()
	defer cancel()

	l, err := h.Lanes.Hold(ctx)
	if err != nil {
		h.abandon(rsv, b)

		return 0, again(err)
	}
	defer h.Lanes.Release(l)

	entries := h.allocEntries(rsv, b, offFieldOffset, userOffset+dataOff)
	if err := h.Commit(l, entries); err != nil {
		return 0, err
	}

	// The returned value matches what was just committed into
	// offFieldOffset and what Free/Realloc/UsableSize/First/Next expect
	// as "off": the user data's pool-relative offset plus dataOff, never
	// the bare pool-relative offset alone.
	return userOffset + dataOff, nil
}

// abandon returns a reservation's block to its bucket's container —
// used when an alloc fails after Reserve but before its commit. rsv.Block
// (the kept portion) never had its USED chunk header/bitmap bits written
// yet, so its on-media state, whatever Reserve already persisted for a
// huge split, still names it FREE at exactly rsv.Block's size: reinserting
// it into the container restores the volatile view to match durable
// ground truth, not the other way around.
func (h *Heap) abandon(rsv Reservation, b *bucket.Bucket) {
	b.Lock()
	b.Container.Insert(rsv.Block)
	b.Unlock()
}
