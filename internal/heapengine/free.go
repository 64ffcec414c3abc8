package heapengine

import (
	"github.com/selenia-systems/pmemheap/internal/bucket"
	"github.com/selenia-systems/pmemheap/internal/heaplayout"
	"github.com/selenia-systems/pmemheap/internal/lane"
	"github.com/selenia-systems/pmemheap/internal/memblock"
	"github.com/selenia-systems/pmemheap/internal/redolog"
)

// Free locates the allocation header preceding the block at
// off-dataOff, commits its reclamation (chunk header reverted or
// bitmap bits cleared, offFieldOffset zeroed), and folds in coalescing:
// an adjacent free huge chunk merges forward, and a run whose bitmap
// becomes fully zero degrades back to a free chunk in the same commit.
// off == 0 is a no-op, matching the façade's documented boundary
// behavior.
func (h *Heap) Free(off, dataOff, offFieldOffset uint64) error {
	return h.free(off, dataOff, &offFieldOffset)
}

// freeNoField reclaims the block at off without writing any external
// off field — used by Realloc's allocate-copy-free fallback, where the
// caller's off field was already overwritten (to the new allocation) by
// the Alloc half of the fallback, and writing it again here would clobber
// that with a stale zero. The structural entry (chunk header or bitmap
// clear) is the commit's terminating entry instead.
func (h *Heap) freeNoField(off, dataOff uint64) error {
	return h.free(off, dataOff, nil)
}

func (h *Heap) free(off, dataOff uint64, offFieldOffset *uint64) error {
	if off == 0 {
		return nil
	}

	hdrOff := off - dataOff - heaplayout.AllocationHeaderSize
	ah := heaplayout.ReadAllocHeader(h.Layout.AtOffset(hdrOff, heaplayout.AllocationHeaderSize))

	ch, err := h.Layout.ReadChunkHeader(ah.ZoneID, ah.ChunkID)
	if err != nil {
		return err
	}

	ctx, cancel := h.holdCtx()
	defer cancel()

	l, err := h.Lanes.Hold(ctx)
	if err != nil {
		return again(err)
	}
	defer h.Lanes.Release(l)

	switch ch.Type {
	case heaplayout.ChunkTypeUsed:
		return h.freeHuge(ah, ch, l, offFieldOffset)
	case heaplayout.ChunkTypeRun:
		return h.freeRun(ah, hdrOff, l, offFieldOffset)
	default:
		fatal("free: chunk %d/%d has unexpected type %s for an allocated block", ah.ZoneID, ah.ChunkID, ch.Type)

		return nil
	}
}

// freeHuge reclaims a whole-chunk allocation, coalescing forward with
// the immediately following chunk if it is currently free ground truth.
// Backward coalescing is not attempted: the chunk-header chain has no
// predecessor link, so locating the chunk immediately before this one
// would require a zone-wide scan. Left as a known limitation rather
// than built out.
func (h *Heap) freeHuge(ah heaplayout.AllocHeader, ch heaplayout.ChunkHeader, l *lane.Lane, offFieldOffset *uint64) error {
	huge := h.Registry.Huge
	mergedSizeIdx := ch.SizeIdx

	huge.Lock()

	neighborChunk := ah.ChunkID + ch.SizeIdx
	if nb, ok := huge.Container.GetExact(ah.ZoneID, neighborChunk, 0); ok {
		if err := huge.Container.RemoveExact(nb); err != nil {
			huge.Unlock()
			fatal("coalesce: free neighbor %d/%d vanished mid-removal: %v", ah.ZoneID, neighborChunk, err)
		}

		mergedSizeIdx += nb.SizeIdx
	}

	huge.Unlock()

	freeWord := heaplayout.EncodeChunkHeaderWord(heaplayout.ChunkHeader{
		Type:    heaplayout.ChunkTypeFree,
		SizeIdx: mergedSizeIdx,
	})

	entries := []CommitEntry{
		{Offset: h.Layout.OffsetOf(h.Layout.ChunkHeaderAddr(ah.ZoneID, ah.ChunkID)), Value: freeWord, Op: redolog.OpSet},
	}
	if offFieldOffset != nil {
		entries = append(entries, CommitEntry{Offset: *offFieldOffset, Value: 0, Op: redolog.OpSet})
	}

	if err := h.Commit(l, entries); err != nil {
		return err
	}

	huge.Lock()
	huge.Container.Insert(memblock.Block{Zone: ah.ZoneID, Chunk: ah.ChunkID, SizeIdx: mergedSizeIdx})
	huge.Unlock()

	return nil
}

// runBucketFor locates the registered run bucket whose unit size
// matches blockSize. Every run chunk in the heap was converted by
// createRun from a registered class, so failing to find one here means
// ground truth and the registry have diverged — structurally
// impossible outside a programming error.
func (h *Heap) runBucketFor(blockSize uint64) *bucket.Bucket {
	for _, b := range h.Registry.RunClasses() {
		if b.UnitSize == blockSize {
			return b
		}
	}

	fatal("no registered run class for block_size %d", blockSize)

	return nil
}

// freeRun clears the bitmap bits this allocation held. It simulates the
// resulting bitmap before committing: if every bit will read zero once
// this free lands, the chunk-header degrade back to a single free
// chunk is folded into the same commit, rather than left as a
// follow-up a crash could separate from the bitmap clear.
func (h *Heap) freeRun(ah heaplayout.AllocHeader, hdrOff uint64, l *lane.Lane, offFieldOffset *uint64) error {
	rh := h.Layout.ReadRunHeader(ah.ZoneID, ah.ChunkID)
	b := h.runBucketFor(rh.BlockSize)

	base := h.Layout.OffsetOf(h.Layout.RunBlockData(ah.ZoneID, ah.ChunkID, 0, rh.BlockSize))
	stride := rh.BlockSize + heaplayout.AllocationHeaderSize
	blockOff := uint32((hdrOff - base) / stride)
	units := uint32((ah.Size + rh.BlockSize - 1) / rh.BlockSize)

	masks := bitmapWordMasks(blockOff, units)
	simulated := rh.Bitmap

	entries := make([]CommitEntry, 0, len(masks)+2)

	for word, mask := range masks {
		simulated[word] &^= mask

		entries = append(entries, CommitEntry{
			Offset: h.Layout.OffsetOf(h.Layout.BitmapWordAddr(ah.ZoneID, ah.ChunkID, word)),
			Value:  ^mask,
			Op:     redolog.OpAnd,
		})
	}

	degrade := true

	for _, w := range simulated {
		if w != 0 {
			degrade = false

			break
		}
	}

	if degrade {
		freeWord := heaplayout.EncodeChunkHeaderWord(heaplayout.ChunkHeader{Type: heaplayout.ChunkTypeFree, SizeIdx: 1})
		entries = append(entries, CommitEntry{
			Offset: h.Layout.OffsetOf(h.Layout.ChunkHeaderAddr(ah.ZoneID, ah.ChunkID)),
			Value:  freeWord,
			Op:     redolog.OpSet,
		})
	}

	if offFieldOffset != nil {
		entries = append(entries, CommitEntry{Offset: *offFieldOffset, Value: 0, Op: redolog.OpSet})
	}

	if err := h.Commit(l, entries); err != nil {
		return err
	}

	if degrade {
		b.Lock()
		b.Container.RemoveAllInChunk(ah.ZoneID, ah.ChunkID)
		b.Unlock()

		h.Registry.Huge.Lock()
		h.Registry.Huge.Container.Insert(memblock.Block{Zone: ah.ZoneID, Chunk: ah.ChunkID, SizeIdx: 1})
		h.Registry.Huge.Unlock()

		h.Logger.Printf("run %d/%d degraded to free chunk", ah.ZoneID, ah.ChunkID)

		return nil
	}

	b.Lock()

	freed := memblock.Block{Zone: ah.ZoneID, Chunk: ah.ChunkID, BlockOff: blockOff, SizeIdx: units}

	if nb, ok := b.Container.GetExact(ah.ZoneID, ah.ChunkID, blockOff+units); ok {
		if err := b.Container.RemoveExact(nb); err != nil {
			b.Unlock()
			fatal("coalesce: run free neighbor vanished mid-removal: %v", err)
		}

		freed.SizeIdx += nb.SizeIdx
	}

	b.Container.Insert(freed)
	b.Unlock()

	return nil
}
