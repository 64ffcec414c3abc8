// Package bucket bundles a free-block container with a unit-size class
// and the lock that serializes access to it. A Huge bucket tracks whole
// chunks; a Run bucket tracks sub-chunk units of a fixed block_size and
// additionally carries unit_max, the most units one allocation may span.
//
// Grounded on the teacher's per-Region sync.RWMutex pattern
// (internal/runtime/region_alloc.go): one lock per independently-owned
// pool of memory, never a single global lock.
package bucket

import (
	"fmt"
	"sync"

	"github.com/selenia-systems/pmemheap/internal/container"
)

// Kind distinguishes the chunk-granular huge bucket from sub-chunk run
// buckets.
type Kind int

const (
	KindHuge Kind = iota
	KindRun
)

func (k Kind) String() string {
	if k == KindHuge {
		return "huge"
	}

	return "run"
}

// ErrTooLarge is returned by CalcUnits when a requested size needs more
// units than a run bucket's class allows; the caller must fall back to
// the huge bucket.
var ErrTooLarge = fmt.Errorf("bucket: size exceeds unit_max for this class")

// Bucket is the volatile size-class index described by the heap engine.
// The run-only field UnitMax is zero for the huge bucket.
type Bucket struct {
	mu sync.Mutex

	Kind      Kind
	UnitSize  uint64 // bytes per unit: ChunkSize for huge, block_size for run
	UnitMax   uint32 // run only: max units a single allocation may span
	Container container.Container
}

// NewHugeBucket constructs the single chunk-granular bucket, backed by a
// Tree container since chunk sizes vary widely across the free list.
func NewHugeBucket(chunkSize uint64) *Bucket {
	return &Bucket{Kind: KindHuge, UnitSize: chunkSize, Container: container.NewTree()}
}

// NewRunBucket constructs a sub-chunk bucket for one registered alloc
// class, backed by a List container since every block in a run bucket
// is drawn from runs of the same block_size and population is bounded.
func NewRunBucket(unitSize uint64, unitMax uint32) *Bucket {
	return &Bucket{Kind: KindRun, UnitSize: unitSize, UnitMax: unitMax, Container: container.NewList()}
}

// Lock and Unlock guard only the volatile container; never hold this
// lock across a persistence call (see the heap engine's commit paths).
func (b *Bucket) Lock()   { b.mu.Lock() }
func (b *Bucket) Unlock() { b.mu.Unlock() }

// CalcUnits computes ceil(size / UnitSize), enforcing unit_max for run
// buckets. The huge bucket has no unit_max ceiling.
func (b *Bucket) CalcUnits(size uint64) (uint32, error) {
	units := (size + b.UnitSize - 1) / b.UnitSize

	if b.Kind == KindRun && uint32(units) > b.UnitMax {
		return 0, ErrTooLarge
	}

	return uint32(units), nil
}
