package heaplayout

import (
	"encoding/binary"
	"unsafe"
)

// AllocHeader is the persistent prefix stored immediately before every
// user range: user_ptr - sizeof(AllocHeader).
type AllocHeader struct {
	Size    uint64
	ChunkID uint32
	ZoneID  uint32
}

func encodeAllocHeader(a AllocHeader) []byte {
	buf := make([]byte, AllocationHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], a.Size)
	binary.LittleEndian.PutUint32(buf[8:12], a.ChunkID)
	binary.LittleEndian.PutUint32(buf[12:16], a.ZoneID)

	return buf
}

func decodeAllocHeader(buf []byte) AllocHeader {
	return AllocHeader{
		Size:    binary.LittleEndian.Uint64(buf[0:8]),
		ChunkID: binary.LittleEndian.Uint32(buf[8:12]),
		ZoneID:  binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// ReadAllocHeader decodes the allocation header occupying the first
// AllocationHeaderSize bytes of region.
func ReadAllocHeader(region []byte) AllocHeader {
	return decodeAllocHeader(region[:AllocationHeaderSize])
}

// WriteAllocHeader durably writes the allocation header occupying the
// first AllocationHeaderSize bytes of region.
func (h *Heap) WriteAllocHeader(region []byte, a AllocHeader) error {
	return h.Ops.MemcpyPersist(region[:AllocationHeaderSize], encodeAllocHeader(a))
}

// OffsetOf returns ptr's byte offset from the start of the pool's backing
// bytes (the full mapping, not just the heap sub-range) — this is the
// offset user code holds.
func (h *Heap) OffsetOf(ptr []byte) uint64 {
	base := h.Ops.Bytes()
	if len(ptr) == 0 || len(base) == 0 {
		return 0
	}

	baseAddr := uintptr(unsafe.Pointer(&base[0]))
	ptrAddr := uintptr(unsafe.Pointer(&ptr[0]))

	return uint64(ptrAddr - baseAddr)
}

// AtOffset returns the slice of length n starting at byte offset off
// within the pool's full backing bytes.
func (h *Heap) AtOffset(off, n uint64) []byte {
	base := h.Ops.Bytes()

	return base[off : off+n]
}
