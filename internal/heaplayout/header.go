package heaplayout

import (
	"encoding/binary"
	"fmt"
)

// ErrHeapTooSmall is returned by Init when the requested heap size cannot
// hold even one viable zone.
var ErrHeapTooSmall = fmt.Errorf("heaplayout: heap size below minimum")

// ErrCorrupt is returned by Check when the header or a zone's chunk chain
// fails validation.
var ErrCorrupt = fmt.Errorf("heaplayout: heap corrupt")

// bytes returns the heap's backing slice, [HeapOffset, HeapOffset+HeapSize).
func (h *Heap) bytes() []byte {
	all := h.Ops.Bytes()

	return all[h.HeapOffset : h.HeapOffset+h.HeapSize]
}

func (h *Heap) headerBytes() []byte { return h.bytes()[:HeapHeaderSize] }

// encodeHeader serializes hdr into a HeapHeaderSize buffer, signature
// first, checksum last.
func encodeHeader(hdr HeapHeader) []byte {
	buf := make([]byte, HeapHeaderSize)
	copy(buf[0:8], heapSignature)
	binary.LittleEndian.PutUint16(buf[8:10], hdr.Major)
	binary.LittleEndian.PutUint16(buf[10:12], hdr.Minor)
	binary.LittleEndian.PutUint64(buf[12:20], hdr.Size)
	binary.LittleEndian.PutUint64(buf[20:28], hdr.ChunkSize)
	binary.LittleEndian.PutUint32(buf[28:32], hdr.ChunksPerZone)
	binary.LittleEndian.PutUint64(buf[32:40], hdr.Checksum)

	return buf
}

func decodeHeader(buf []byte) HeapHeader {
	return HeapHeader{
		Major:         binary.LittleEndian.Uint16(buf[8:10]),
		Minor:         binary.LittleEndian.Uint16(buf[10:12]),
		Size:          binary.LittleEndian.Uint64(buf[12:20]),
		ChunkSize:     binary.LittleEndian.Uint64(buf[20:28]),
		ChunksPerZone: binary.LittleEndian.Uint32(buf[28:32]),
		Checksum:      binary.LittleEndian.Uint64(buf[32:40]),
	}
}

// checksum64 is a Fletcher-64 checksum over 32-bit words, matching the
// original implementation's util_checksum (computed with the checksum
// field itself zeroed).
func checksum64(buf []byte) uint64 {
	var lo, hi uint64

	n := len(buf) / 4
	for i := 0; i < n; i++ {
		word := uint64(binary.LittleEndian.Uint32(buf[i*4 : i*4+4]))
		lo = (lo + word) % 0xFFFFFFFF
		hi = (hi + lo) % 0xFFFFFFFF
	}

	return hi<<32 | lo
}

func headerChecksum(hdr HeapHeader) uint64 {
	hdr.Checksum = 0
	buf := encodeHeader(hdr)
	binary.LittleEndian.PutUint64(buf[32:40], 0)

	return checksum64(buf)
}

func hasHeapSignature(buf []byte) bool {
	return string(buf[0:8]) == heapSignature
}

// Init writes a fresh HeapHeader at [HeapOffset, HeapOffset+HeapHeaderSize)
// and makes the write durable before returning. It fails with
// ErrHeapTooSmall if h.HeapSize is below HeapMinSize.
func (h *Heap) Init() error {
	if h.HeapSize < HeapMinSize {
		return ErrHeapTooSmall
	}

	hdr := HeapHeader{
		Major:         heapMajor,
		Minor:         heapMinor,
		Size:          h.HeapSize,
		ChunkSize:     ChunkSize,
		ChunksPerZone: MaxChunk,
	}
	hdr.Checksum = headerChecksum(hdr)

	return h.Ops.MemcpyPersist(h.headerBytes(), encodeHeader(hdr))
}

// ReadHeader decodes the current on-media header without validating it.
func (h *Heap) ReadHeader() HeapHeader {
	return decodeHeader(h.headerBytes())
}

// VerifyHeader reports whether the header's signature and checksum are
// valid.
func (h *Heap) VerifyHeader() bool {
	buf := h.headerBytes()
	if !hasHeapSignature(buf) {
		return false
	}

	hdr := decodeHeader(buf)

	return headerChecksum(hdr) == hdr.Checksum
}

// Check verifies the header and every zone's chunk-header chain per the
// heap's invariants. It never mutates state and never consults the
// volatile free-space index — only ground truth on media.
func (h *Heap) Check() error {
	if h.HeapSize < HeapMinSize {
		return ErrHeapTooSmall
	}

	if !h.VerifyHeader() {
		return ErrCorrupt
	}

	maxZone := h.MaxZone()
	for z := uint32(0); z < maxZone; z++ {
		if err := h.verifyZone(z); err != nil {
			return err
		}
	}

	return nil
}
