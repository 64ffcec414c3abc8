package palloc

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// poolHeaderSize is the fixed on-disk size of PoolHeader, preceding the
// heap region in every file a Pool opens.
const poolHeaderSize = 64

const poolSignature = "PMEMPOOL"

const (
	poolMajor = 1
	poolMinor = 0
)

// PoolHeader is the minimal container SPEC_FULL adds so palloc.Open and
// palloc.Create are runnable without an external pool-prefix owner: it
// exists only to locate the heap inside the file, carrying no
// object-graph or root-pointer semantics of its own — except for a
// single RootOff slot. A full typed-object/root-object API is out of
// scope, but alloc/free/realloc's off field must itself live inside the
// pool's mapped bytes to be crash-consistent (see Pool.Root), so one
// fixed persistent uint64 slot is enough to exercise that contract
// without reintroducing the typed API.
type PoolHeader struct {
	Major      uint16
	Minor      uint16
	UUID       uuid.UUID
	Size       uint64
	HeapOffset uint64
	RootOff    uint64
}

func encodePoolHeader(h PoolHeader) []byte {
	buf := make([]byte, poolHeaderSize)
	copy(buf[0:8], poolSignature)
	binary.LittleEndian.PutUint16(buf[8:10], h.Major)
	binary.LittleEndian.PutUint16(buf[10:12], h.Minor)
	copy(buf[12:28], h.UUID[:])
	binary.LittleEndian.PutUint64(buf[28:36], h.Size)
	binary.LittleEndian.PutUint64(buf[36:44], h.HeapOffset)
	binary.LittleEndian.PutUint64(buf[44:52], h.RootOff)

	return buf
}

func decodePoolHeader(buf []byte) (PoolHeader, error) {
	if string(buf[0:8]) != poolSignature {
		return PoolHeader{}, fmt.Errorf("palloc: bad pool signature: %w", Corrupt)
	}

	var id uuid.UUID
	copy(id[:], buf[12:28])

	h := PoolHeader{
		Major:      binary.LittleEndian.Uint16(buf[8:10]),
		Minor:      binary.LittleEndian.Uint16(buf[10:12]),
		UUID:       id,
		Size:       binary.LittleEndian.Uint64(buf[28:36]),
		HeapOffset: binary.LittleEndian.Uint64(buf[36:44]),
		RootOff:    binary.LittleEndian.Uint64(buf[44:52]),
	}

	if h.Major > poolMajor {
		return PoolHeader{}, fmt.Errorf("palloc: pool version %d.%d newer than supported %d.%d: %w",
			h.Major, h.Minor, poolMajor, poolMinor, Corrupt)
	}

	return h, nil
}
