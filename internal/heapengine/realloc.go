package heapengine

import (
	"github.com/selenia-systems/pmemheap/internal/heaplayout"
	"github.com/selenia-systems/pmemheap/internal/memblock"
	"github.com/selenia-systems/pmemheap/internal/redolog"
)

// UsableSize returns how many bytes the caller may use at off, derived
// from the allocation header's recorded Size (which includes the
// header itself). off == 0 reports 0, matching the façade's convention
// that a null offset never owns memory.
func (h *Heap) UsableSize(off, dataOff uint64) uint64 {
	if off == 0 {
		return 0
	}

	hdrOff := off - dataOff - heaplayout.AllocationHeaderSize
	ah := heaplayout.ReadAllocHeader(h.Layout.AtOffset(hdrOff, heaplayout.AllocationHeaderSize))

	return ah.Size - heaplayout.AllocationHeaderSize
}

// Realloc grows or shrinks the allocation at off. A run allocation is
// resized in place when newSize plus its header needs no more of the
// run's block_size units than the allocation already spans; a grow
// within those units rewrites the header's recorded size, a shrink
// leaves it unchanged (Free derives the unit count from it), and any
// request needing more units falls back to allocate-copy-free. A huge allocation
// resizes in place whenever its existing chunk span (or that span plus
// an immediately following free chunk, merged in) already covers
// newSize; otherwise it falls back the same way.
func (h *Heap) Realloc(off, newSize, dataOff, offFieldOffset uint64, ctor func([]byte) error) (uint64, error) {
	if off == 0 {
		return h.Alloc(newSize, offFieldOffset, dataOff, ctor)
	}

	hdrOff := off - dataOff - heaplayout.AllocationHeaderSize
	ah := heaplayout.ReadAllocHeader(h.Layout.AtOffset(hdrOff, heaplayout.AllocationHeaderSize))
	needed := newSize + heaplayout.AllocationHeaderSize

	ch, err := h.Layout.ReadChunkHeader(ah.ZoneID, ah.ChunkID)
	if err != nil {
		return 0, err
	}

	if ch.Type == heaplayout.ChunkTypeRun {
		rh := h.Layout.ReadRunHeader(ah.ZoneID, ah.ChunkID)
		oldUnits := (ah.Size + rh.BlockSize - 1) / rh.BlockSize
		newUnits := (needed + rh.BlockSize - 1) / rh.BlockSize

		if newUnits > oldUnits {
			return h.reallocCopy(off, newSize, dataOff, offFieldOffset, ctor)
		}

		if newUnits == oldUnits && needed > ah.Size {
			return off, h.rewriteAllocSize(hdrOff, needed)
		}

		return off, nil
	}

	capacity := uint64(ch.SizeIdx) * heaplayout.ChunkSize
	if needed <= capacity {
		return off, h.rewriteAllocSize(hdrOff, needed)
	}

	grown, newSizeIdx, ok := h.growHugeInPlace(ah, ch, needed)
	if !ok {
		return h.reallocCopy(off, newSize, dataOff, offFieldOffset, ctor)
	}

	if ctor != nil {
		// hdrOff is the chunk span's starting offset (the allocation
		// header sits at its very first byte); the grown tail begins
		// immediately after the span's previous end.
		tailStart := hdrOff + capacity
		tail := h.Layout.AtOffset(tailStart, uint64(newSizeIdx)*heaplayout.ChunkSize-capacity)

		if err := ctor(tail); err != nil {
			h.Registry.Huge.Lock()
			h.Registry.Huge.Container.Insert(grown)
			h.Registry.Huge.Unlock()

			return 0, err
		}
	}

	usedWord := heaplayout.EncodeChunkHeaderWord(heaplayout.ChunkHeader{Type: heaplayout.ChunkTypeUsed, SizeIdx: newSizeIdx})

	ctx, cancel := h.holdCtx()
	defer cancel()

	l, err := h.Lanes.Hold(ctx)
	if err != nil {
		h.Registry.Huge.Lock()
		h.Registry.Huge.Container.Insert(grown)
		h.Registry.Huge.Unlock()

		return 0, again(err)
	}
	defer h.Lanes.Release(l)

	entries := []CommitEntry{
		{Offset: h.Layout.OffsetOf(h.Layout.ChunkHeaderAddr(ah.ZoneID, ah.ChunkID)), Value: usedWord, Op: redolog.OpSet},
		{Offset: hdrOff, Value: needed, Op: redolog.OpSet},
	}

	if err := h.Commit(l, entries); err != nil {
		return 0, err
	}

	return off, nil
}

// rewriteAllocSize persists the sole word the shrink-or-fit-in-place
// path needs to change: AllocHeader.Size. No chunk header or bitmap
// entry is involved since the block's physical span is unchanged.
func (h *Heap) rewriteAllocSize(hdrOff, needed uint64) error {
	ctx, cancel := h.holdCtx()
	defer cancel()

	l, err := h.Lanes.Hold(ctx)
	if err != nil {
		return again(err)
	}
	defer h.Lanes.Release(l)

	return h.Commit(l, []CommitEntry{{Offset: hdrOff, Value: needed, Op: redolog.OpSet}})
}

// growHugeInPlace reports whether the chunk immediately following ah's
// chunk is free ground truth and, merged with the existing span, large
// enough to cover needed bytes. On success it removes that neighbor
// from the huge bucket's container (nothing persistent changes yet —
// the caller commits the header update, or reinserts grown back on
// failure) and returns the removed block plus the combined SizeIdx.
func (h *Heap) growHugeInPlace(ah heaplayout.AllocHeader, ch heaplayout.ChunkHeader, needed uint64) (grown memblock.Block, newSizeIdx uint32, ok bool) {
	huge := h.Registry.Huge
	neighborChunk := ah.ChunkID + ch.SizeIdx

	huge.Lock()
	defer huge.Unlock()

	nb, found := huge.Container.GetExact(ah.ZoneID, neighborChunk, 0)
	if !found {
		return memblock.Block{}, 0, false
	}

	combined := ch.SizeIdx + nb.SizeIdx
	if uint64(combined)*heaplayout.ChunkSize < needed {
		return memblock.Block{}, 0, false
	}

	if err := huge.Container.RemoveExact(nb); err != nil {
		fatal("realloc: free neighbor %d/%d vanished mid-removal: %v", ah.ZoneID, neighborChunk, err)
	}

	return nb, combined, true
}

// reallocCopy performs the allocate-new, copy-old, free-old fallback.
// ctor is expected to fully initialize the new region, mirroring
// Alloc's contract; a caller needing the old bytes preserved copies
// them from within ctor, since Realloc has no visibility into what the
// caller's ctor does with the region it's handed. The new allocation's
// commit is what overwrites offFieldOffset, so the subsequent free of
// the old block must not touch it again — freeNoField skips that write.
func (h *Heap) reallocCopy(off, newSize, dataOff, offFieldOffset uint64, ctor func([]byte) error) (uint64, error) {
	newOff, err := h.Alloc(newSize, offFieldOffset, dataOff, ctor)
	if err != nil {
		return 0, err
	}

	if err := h.freeNoField(off, dataOff); err != nil {
		return 0, err
	}

	return newOff, nil
}
