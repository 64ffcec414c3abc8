// Package heaplayout defines the on-media binary format of the heap:
// header, zones, chunk headers, and allocation headers. It provides the
// low-level accessors the heap engine builds on (heap_init, heap_check,
// chunk/run/allocation-header addressing) but no policy — size-class
// selection, splitting, and coalescing live in internal/heapengine.
//
// Every persistent struct is encoded explicitly with encoding/binary
// rather than relied on for Go's native memory layout, so the format is
// stable across compilers and architectures the way the original C
// layout (see the project's grounding notes) was stable across compiler
// versions.
package heaplayout

import (
	"github.com/selenia-systems/pmemheap/pmem"
)

// Size class constants. CHUNKSIZE is the allocation granularity of the
// huge bucket; ZONE_MAX_SIZE bounds how large a single zone's chunk
// array can be, with MaxChunk derived so a full zone's chunk headers and
// chunk data both fit within it.
const (
	ChunkSize       = 256 * 1024
	ChunkHeaderSize = 8
	ZoneHeaderSize  = 16
	HeapHeaderSize  = 64

	ZoneMaxSize = 16 * 1024 * 1024
	ZoneMinSize = 1 * 1024 * 1024

	// MaxChunk is how many (header, chunk) pairs fit in one full zone.
	MaxChunk = (ZoneMaxSize - ZoneHeaderSize) / (ChunkSize + ChunkHeaderSize)

	// HeapMinSize is the smallest heap heap_init will accept: a header
	// plus at least one viable (non-trailing-ignored) zone. MaxZone
	// counts a zone only when more than ZoneMinSize bytes remain for it.
	HeapMinSize = ZoneMinSize + HeapHeaderSize + 1

	heapSignature = "PMEMHEAP"
	heapMajor     = 1
	heapMinor     = 0

	zoneHeaderMagic uint64 = 0xC74F37F0C74F37F0
)

// Chunk types, stored in the low nibble of a ChunkHeader's type|flags byte.
type ChunkType uint8

const (
	ChunkTypeFree ChunkType = iota
	ChunkTypeUsed
	ChunkTypeRun
	ChunkTypeRunData
	ChunkTypeUnknown
	maxChunkType
)

func (t ChunkType) String() string {
	switch t {
	case ChunkTypeFree:
		return "FREE"
	case ChunkTypeUsed:
		return "USED"
	case ChunkTypeRun:
		return "RUN"
	case ChunkTypeRunData:
		return "RUN_DATA"
	default:
		return "UNKNOWN"
	}
}

// ChunkFlags, stored in the high nibble alongside ChunkType.
type ChunkFlags uint8

const ChunkFlagZeroed ChunkFlags = 1

// HeapHeader is the first HeapHeaderSize bytes of the heap region.
type HeapHeader struct {
	Major         uint16
	Minor         uint16
	Size          uint64
	ChunkSize     uint64
	ChunksPerZone uint32
	Checksum      uint64
}

// Heap is the binary accessor over a mapped heap region: ops.Bytes()
// sliced to [heapOffset, heapOffset+heapSize). It performs no locking and
// no policy decisions; callers (internal/heapengine) serialize access.
type Heap struct {
	Ops        pmem.Ops
	HeapOffset uint64
	HeapSize   uint64
}
