package heaplayout

import (
	"encoding/binary"
	"fmt"
)

// ChunkHeader is the persistent {type, flags, size_idx} triple preceding
// every chunk. On media it packs into 8 bytes: type:4 | flags:4 |
// size_idx:24 | reserved:32.
type ChunkHeader struct {
	Type    ChunkType
	Flags   ChunkFlags
	SizeIdx uint32 // number of chunks this header spans
}

func encodeChunkHeader(ch ChunkHeader) []byte {
	buf := make([]byte, ChunkHeaderSize)
	b0 := byte(ch.Type&0x0F) | byte(ch.Flags&0x0F)<<4
	buf[0] = b0
	// size_idx is 24 bits, split across the remaining bytes of the first
	// word (big enough in practice: size_idx never exceeds MaxChunk).
	buf[1] = byte(ch.SizeIdx)
	buf[2] = byte(ch.SizeIdx >> 8)
	buf[3] = byte(ch.SizeIdx >> 16)
	binary.LittleEndian.PutUint32(buf[4:8], 0)

	return buf
}

func decodeChunkHeader(buf []byte) ChunkHeader {
	b0 := buf[0]
	sizeIdx := uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16

	return ChunkHeader{
		Type:    ChunkType(b0 & 0x0F),
		Flags:   ChunkFlags(b0>>4) & 0x0F,
		SizeIdx: sizeIdx,
	}
}

func (h *Heap) chunkHeaderBytes(zoneID, chunkID uint32) []byte {
	off := h.chunkHeadersOffset(zoneID) + uint64(chunkID)*ChunkHeaderSize

	return h.bytes()[off : off+ChunkHeaderSize]
}

// ReadChunkHeader reads chunkID's header in zoneID.
func (h *Heap) ReadChunkHeader(zoneID, chunkID uint32) (ChunkHeader, error) {
	if chunkID >= MaxChunk {
		return ChunkHeader{}, fmt.Errorf("heaplayout: chunk id %d out of range", chunkID)
	}

	return decodeChunkHeader(h.chunkHeaderBytes(zoneID, chunkID)), nil
}

// writeChunkHeader durably writes chunkID's header.
func (h *Heap) writeChunkHeader(zoneID, chunkID uint32, ch ChunkHeader) error {
	return h.Ops.MemcpyPersist(h.chunkHeaderBytes(zoneID, chunkID), encodeChunkHeader(ch))
}

// WriteChunkHeader exposes writeChunkHeader for the heap engine, which
// owns chunk-header mutation policy (the layout package only owns the
// encoding).
func (h *Heap) WriteChunkHeader(zoneID, chunkID uint32, ch ChunkHeader) error {
	return h.writeChunkHeader(zoneID, chunkID, ch)
}

// EncodeChunkHeaderWord packs ch into the 8-byte word stored on media,
// for callers (redo log entries) that need the value without writing it
// through WriteChunkHeader.
func EncodeChunkHeaderWord(ch ChunkHeader) uint64 {
	return binary.LittleEndian.Uint64(encodeChunkHeader(ch))
}

// ChunkHeaderAddr returns the byte range backing chunkID's header, for
// callers (redo log entries) that need to target it by address rather
// than through WriteChunkHeader.
func (h *Heap) ChunkHeaderAddr(zoneID, chunkID uint32) []byte {
	return h.chunkHeaderBytes(zoneID, chunkID)
}

// ChunkData returns the raw ChunkSize-byte region backing chunkID.
func (h *Heap) ChunkData(zoneID, chunkID uint32) []byte {
	off := h.chunksOffset(zoneID) + uint64(chunkID)*ChunkSize

	return h.bytes()[off : off+ChunkSize]
}

// ZoneCapacity exposes zoneCapacity for the heap engine.
func (h *Heap) ZoneCapacity(zoneID uint32) uint32 { return h.zoneCapacity(zoneID) }
