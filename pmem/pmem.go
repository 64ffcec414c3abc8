// Package pmem abstracts the persistent-memory primitives the allocator
// core builds on: durable stores and the flush/fence pair that makes a
// store durable. How a concrete Ops implementation achieves durability
// (cache-line flush instructions, msync, non-temporal stores) is not this
// package's concern; it only fixes the contract the core depends on.
package pmem

import "fmt"

// Ops is the capability the allocator core requires from persistent memory.
// A crash may occur at any point between two Ops calls; the core's job is
// to sequence them so that recovery always sees a consistent result. Ops
// itself only has to guarantee that once a call returns, its effect is
// durable.
type Ops interface {
	// Persist makes the current content of region durable. It does not
	// modify region.
	Persist(region []byte) error

	// MemcpyPersist copies src into dst and makes dst durable. len(src)
	// must equal len(dst).
	MemcpyPersist(dst, src []byte) error

	// MemsetPersist fills dst with b and makes dst durable.
	MemsetPersist(dst []byte, b byte) error

	// Drain orders preceding stores ahead of whatever follows, without
	// naming a specific range. Implementations for which Persist already
	// drains may make this a no-op.
	Drain() error

	// Bytes returns the full mapped region backing this Ops, so callers
	// can compute offsets and slice into it directly.
	Bytes() []byte
}

// ErrShortRange is returned when a destination and source slice passed to
// MemcpyPersist disagree in length.
var ErrShortRange = fmt.Errorf("pmem: destination and source length mismatch")
