package heapengine

import "github.com/selenia-systems/pmemheap/internal/heaplayout"

// First returns the pool-relative offset (already advanced by dataOff,
// the same convention Alloc's return value and the off field use) of
// the first live allocation in (zone_id, chunk_id, block_off) order, or
// 0 if the heap holds none.
func (h *Heap) First(dataOff uint64) uint64 {
	offs := h.enumerate()
	if len(offs) == 0 {
		return 0
	}

	return offs[0] + dataOff
}

// Next returns the allocation immediately following off in the same
// order First walks, or 0 if off was the last one (or isn't found,
// which a caller should never hit outside a programming error).
func (h *Heap) Next(off, dataOff uint64) uint64 {
	target := off - dataOff

	offs := h.enumerate()
	for i, o := range offs {
		if o == target {
			if i+1 == len(offs) {
				return 0
			}

			return offs[i+1] + dataOff
		}
	}

	return 0
}

// enumerate walks every zone and chunk in order, returning each live
// allocation's user-data offset (not yet shifted by dataOff). For huge
// chunks, a Used chunk header is exactly one allocation. For run
// chunks, set bitmap bits are consumed in ascending order by reading
// each candidate start slot's allocation header to learn how many
// slots it actually spans — only the first slot of a multi-unit
// allocation carries a header, so a plain run of set bits can't be
// told apart from several adjacent single-unit allocations without it.
//
// This is a linear scan over the whole heap; fine for the occasional
// walk a caller does (debugging, migration, pool inspection), not
// meant for a hot path.
func (h *Heap) enumerate() []uint64 {
	var offs []uint64

	for zoneID := uint32(0); zoneID < h.MaxZone; zoneID++ {
		if !h.Layout.ZoneInitialized(zoneID) {
			continue
		}

		capacity := h.Layout.ZoneCapacity(zoneID)

		for chunkID := uint32(0); chunkID < capacity; {
			ch, err := h.Layout.ReadChunkHeader(zoneID, chunkID)
			if err != nil {
				fatal("enumerate: zone %d chunk %d: %v", zoneID, chunkID, err)
			}

			switch ch.Type {
			case heaplayout.ChunkTypeUsed:
				region := h.Layout.ChunkData(zoneID, chunkID)
				offs = append(offs, h.Layout.OffsetOf(region[heaplayout.AllocationHeaderSize:]))
				chunkID += ch.SizeIdx

			case heaplayout.ChunkTypeRun:
				offs = append(offs, h.enumerateRun(zoneID, chunkID)...)
				chunkID++

			default:
				chunkID += max32(ch.SizeIdx, 1)
			}
		}
	}

	return offs
}

func (h *Heap) enumerateRun(zoneID, chunkID uint32) []uint64 {
	rh := h.Layout.ReadRunHeader(zoneID, chunkID)
	nallocs := rh.Nallocs()

	var offs []uint64

	for blockOff := uint32(0); blockOff < nallocs; {
		word := blockOff / 64
		bit := blockOff % 64

		if rh.Bitmap[word]&(uint64(1)<<bit) == 0 {
			blockOff++

			continue
		}

		span := h.Layout.RunBlockData(zoneID, chunkID, blockOff, rh.BlockSize)
		ah := heaplayout.ReadAllocHeader(span[:heaplayout.AllocationHeaderSize])
		offs = append(offs, h.Layout.OffsetOf(span[heaplayout.AllocationHeaderSize:]))

		units := uint32((ah.Size + rh.BlockSize - 1) / rh.BlockSize)
		if units == 0 {
			units = 1
		}

		blockOff += units
	}

	return offs
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}

	return b
}
