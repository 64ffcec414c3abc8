package palloc

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/selenia-systems/pmemheap/internal/bucket"
	"github.com/selenia-systems/pmemheap/internal/heapengine"
	"github.com/selenia-systems/pmemheap/internal/heaplayout"
	"github.com/selenia-systems/pmemheap/internal/redolog"
)

// Constructor initializes a freshly reserved, not-yet-committed
// allocation. ptr addresses the user region plus the caller's data_off,
// matching the façade's alloc contract: the allocator persists whatever
// the constructor writes as part of the same commit that publishes off,
// so the constructor itself must never call Persist/MemcpyPersist.
type Constructor func(ptr unsafe.Pointer, arg any) error

// rootOffOffset is PoolHeader's fixed RootOff slot, at a known absolute
// byte offset from the start of the pool file.
const rootOffOffset = 44

// Root returns a pointer to the pool's single persistent root slot, live
// over the pool's mapped bytes: writing through it and reading it back
// after reopen observes the same value. It exists so Alloc/Free/Realloc
// have at least one real in-pool off field to publish into without
// reintroducing the typed-object/root-object API the core spec excludes.
func (p *Pool) Root() *uint64 {
	b := p.ops.Bytes()[rootOffOffset : rootOffOffset+8]

	return (*uint64)(unsafe.Pointer(&b[0]))
}

// fieldOffset resolves off's address to its byte offset within the
// pool's mapped bytes — the bridge between a caller's *uint64 and the
// pool-relative offset the heap engine's redo commits address directly.
// off must itself live inside the pool's mapping (e.g. Pool.Root(), or a
// field within a previously pool-allocated range); a detached Go
// variable cannot be made crash-consistent and is rejected.
func (p *Pool) fieldOffset(off *uint64) (uint64, error) {
	base := p.ops.Bytes()
	if len(base) == 0 {
		return 0, fmt.Errorf("palloc: pool has no backing bytes")
	}

	baseAddr := uintptr(unsafe.Pointer(&base[0]))
	fieldAddr := uintptr(unsafe.Pointer(off))

	if fieldAddr < baseAddr || fieldAddr+8 > baseAddr+uintptr(len(base)) {
		return 0, fmt.Errorf("palloc: off field at %#x is not inside the pool's mapped region", fieldAddr)
	}

	return uint64(fieldAddr - baseAddr), nil
}

func wrapConstructor(ctor Constructor, dataOff uint64, arg any) func([]byte) error {
	if ctor == nil {
		return nil
	}

	return func(region []byte) error {
		if len(region) == 0 {
			if dataOff != 0 {
				return fmt.Errorf("palloc: data_off %d exceeds empty allocation", dataOff)
			}

			return ctor(nil, arg)
		}

		if dataOff >= uint64(len(region)) {
			return fmt.Errorf("palloc: data_off %d exceeds allocation of %d bytes", dataOff, len(region))
		}

		base := unsafe.Pointer(&region[0])

		return ctor(unsafe.Add(base, dataOff), arg)
	}
}

// classify maps an internal error back to the façade's Status category.
func classify(err error) Status {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, heapengine.ErrAgain):
		return Again
	case errors.Is(err, heapengine.ErrOutOfMemory):
		return OutOfMemory
	case errors.Is(err, heapengine.ErrTooLarge), errors.Is(err, bucket.ErrTooLarge):
		return TooLarge
	case errors.Is(err, heaplayout.ErrHeapTooSmall):
		return HeapTooSmall
	case errors.Is(err, heaplayout.ErrCorrupt), errors.Is(err, heapengine.ErrCorrupt), errors.Is(err, redolog.ErrCorrupt):
		return Corrupt
	default:
		return Corrupt
	}
}

// Alloc reserves size bytes, runs ctor (if non-nil) on the user region
// at dataOff, and commits. On success *off is published (via the same
// persistent write the redo commit performs) and OK is returned; on
// failure *off is left unchanged and a non-OK Status describes why.
func (p *Pool) Alloc(off *uint64, size, dataOff uint64, ctor Constructor, arg any) Status {
	offFieldOffset, err := p.fieldOffset(off)
	if err != nil {
		p.logger.Printf("alloc: %v", err)

		return Corrupt
	}

	userOff, err := p.engine.Alloc(size, offFieldOffset, dataOff, wrapConstructor(ctor, dataOff, arg))
	if err != nil {
		return classify(err)
	}

	*off = userOff

	return OK
}

// Free reclaims the allocation at *off and zeroes it — the zeroing lands
// through the same commit the reclamation does, so after Free returns
// *off already reads 0. A nil-valued *off is a no-op.
func (p *Pool) Free(off *uint64, dataOff uint64) {
	offFieldOffset, err := p.fieldOffset(off)
	if err != nil {
		p.logger.Printf("free: %v", err)

		return
	}

	if err := p.engine.Free(*off, dataOff, offFieldOffset); err != nil {
		p.logger.Printf("free: %v", err)
	}
}

// Realloc resizes the allocation at *off to newSize, shrinking or
// growing in place where possible and falling back to allocate+copy+free
// otherwise. On success *off holds the (possibly unchanged) resulting
// offset and OK is returned.
func (p *Pool) Realloc(off *uint64, newSize, dataOff uint64, ctor Constructor, arg any) Status {
	offFieldOffset, err := p.fieldOffset(off)
	if err != nil {
		p.logger.Printf("realloc: %v", err)

		return Corrupt
	}

	newOff, err := p.engine.Realloc(*off, newSize, dataOff, offFieldOffset, wrapConstructor(ctor, dataOff, arg))
	if err != nil {
		return classify(err)
	}

	*off = newOff

	return OK
}

// UsableSize reports how many bytes off's allocation actually reserves,
// always ≥ the size it was last alloc'd/realloc'd with. Assumes off was
// published with data_off = 0, matching the façade's own first/next and
// the common case where the off field directly addresses the
// allocation's user data.
func (p *Pool) UsableSize(off uint64) uint64 {
	return p.engine.UsableSize(off, 0)
}

// First returns the lowest-addressed currently-allocated offset, or 0 if
// the heap holds no allocations. Like UsableSize, assumes data_off = 0.
func (p *Pool) First() uint64 {
	return p.engine.First(0)
}

// Next returns the allocated offset immediately following off in
// (zone_id, chunk_id, block_off) order, or 0 once off was the last one.
func (p *Pool) Next(off uint64) uint64 {
	return p.engine.Next(off, 0)
}

// DataAt returns the live byte slice backing the allocation at off,
// exactly UsableSize(off) bytes long and backed by the pool's mapped
// memory — the raw byte-level dereference a caller needs to read or
// write an allocation's contents, or to carve a nested off field for a
// further Alloc/Free/Realloc call out of an already-allocated range.
func (p *Pool) DataAt(off uint64) []byte {
	if off == 0 {
		return nil
	}

	n := p.UsableSize(off)

	return p.ops.Bytes()[off : off+n]
}

// OffFieldAt returns a persistent *uint64 at byte position i within
// region, for building a nested off field inside an already-allocated
// range (see DataAt). i+8 must not exceed len(region).
func OffFieldAt(region []byte, i uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&region[i]))
}
