package heaplayout

import "encoding/binary"

// MaxZone counts how many zones a heap of this size admits: as many
// full ZoneMaxSize zones as fit, plus one trailing partial zone if what
// remains exceeds ZoneMinSize (otherwise that remainder is unaddressable
// padding, per the spec's "any trailing space below that is ignored").
func (h *Heap) MaxZone() uint32 {
	remaining := h.HeapSize - HeapHeaderSize

	var n uint32
	for remaining > ZoneMinSize {
		n++
		if remaining < ZoneMaxSize {
			remaining = 0
		} else {
			remaining -= ZoneMaxSize
		}
	}

	return n
}

// zoneStride is the fixed byte distance between the start of successive
// zones; all but the last zone occupy it fully.
const zoneStride = ZoneMaxSize

func (h *Heap) zoneOffset(zoneID uint32) uint64 {
	return HeapHeaderSize + uint64(zoneID)*zoneStride
}

func (h *Heap) zoneHeaderOffset(zoneID uint32) uint64 { return h.zoneOffset(zoneID) }

func (h *Heap) chunkHeadersOffset(zoneID uint32) uint64 {
	return h.zoneOffset(zoneID) + ZoneHeaderSize
}

func (h *Heap) chunksOffset(zoneID uint32) uint64 {
	return h.chunkHeadersOffset(zoneID) + uint64(MaxChunk)*ChunkHeaderSize
}

// zoneCapacity returns how many chunk slots this zone can physically
// address given the heap's total size: MaxChunk for every zone but the
// last, and whatever fits in the remaining bytes for the last one.
func (h *Heap) zoneCapacity(zoneID uint32) uint32 {
	dataStart := h.chunksOffset(zoneID)
	if dataStart >= h.HeapSize {
		return 0
	}

	avail := (h.HeapSize - dataStart) / ChunkSize
	if avail > MaxChunk {
		avail = MaxChunk
	}

	return uint32(avail)
}

func (h *Heap) zoneHeaderBytes(zoneID uint32) []byte {
	off := h.zoneHeaderOffset(zoneID)

	return h.bytes()[off : off+ZoneHeaderSize]
}

// ZoneHeader mirrors the on-media {magic, size_idx} pair.
type ZoneHeader struct {
	Magic   uint64
	SizeIdx uint32
}

func (h *Heap) ReadZoneHeader(zoneID uint32) ZoneHeader {
	buf := h.zoneHeaderBytes(zoneID)

	return ZoneHeader{
		Magic:   binary.LittleEndian.Uint64(buf[0:8]),
		SizeIdx: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// InitZone lazily initializes zoneID: writes chunk 0's header to span the
// zone's full capacity as one free chunk, then publishes the zone header
// magic. The ordering (chunk header before magic) matters: a crash
// between the two leaves the zone looking uninitialized on reopen, never
// half-initialized with garbage chunk headers reachable.
func (h *Heap) InitZone(zoneID uint32) error {
	capacity := h.zoneCapacity(zoneID)

	if err := h.writeChunkHeader(zoneID, 0, ChunkHeader{Type: ChunkTypeFree, SizeIdx: capacity}); err != nil {
		return err
	}

	buf := make([]byte, ZoneHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], zoneHeaderMagic)
	binary.LittleEndian.PutUint32(buf[8:12], capacity)

	return h.Ops.MemcpyPersist(h.zoneHeaderBytes(zoneID), buf)
}

// ZoneInitialized reports whether zoneID's magic has been published.
func (h *Heap) ZoneInitialized(zoneID uint32) bool {
	return h.ReadZoneHeader(zoneID).Magic == zoneHeaderMagic
}

func (h *Heap) verifyZone(zoneID uint32) error {
	zh := h.ReadZoneHeader(zoneID)
	if zh.Magic != zoneHeaderMagic {
		// Not yet initialized: nothing to verify.
		return nil
	}

	if zh.SizeIdx == 0 {
		return ErrCorrupt
	}

	var i uint32
	for i < zh.SizeIdx {
		ch, err := h.ReadChunkHeader(zoneID, i)
		if err != nil {
			return err
		}

		if ch.Type == ChunkTypeUnknown || ch.Type >= maxChunkType {
			return ErrCorrupt
		}

		if ch.Flags & ^ChunkFlagZeroed != 0 {
			return ErrCorrupt
		}

		if ch.SizeIdx == 0 {
			return ErrCorrupt
		}

		i += ch.SizeIdx
	}

	if i != zh.SizeIdx {
		return ErrCorrupt
	}

	return nil
}
