// Package heapengine implements the size-to-bucket mapping, block
// reservation, splitting, coalescing, zone activation, and run
// creation/degradation that sit between the façade (package palloc) and
// the volatile buckets (package bucket) and persistent layout (package
// heaplayout).
//
// Grounded on original_source/src/libpmemobj/heap.c for control flow;
// re-expressed with Go mutexes and defer where the teacher's own
// internal/runtime/region_alloc.go uses them, except around the one
// bucket-lock span that must release before a blocking persist call
// (see reserve.go).
package heapengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/selenia-systems/pmemheap/internal/bucket"
	"github.com/selenia-systems/pmemheap/internal/heaplayout"
	"github.com/selenia-systems/pmemheap/internal/lane"
)

// ErrOutOfMemory is returned when no bucket, including after exhausting
// every zone, can supply the requested block.
var ErrOutOfMemory = fmt.Errorf("heapengine: out of memory")

// ErrTooLarge names the "requested size too large" category. No path in
// this package returns it: the huge bucket has no unit_max, and a run
// class's unit_max overflow surfaces as bucket.ErrTooLarge. palloc's
// classify maps both errors to the TooLarge status.
var ErrTooLarge = fmt.Errorf("heapengine: requested size too large")

// ErrCorrupt is returned by Boot when the persistent heap fails
// consistency checks.
var ErrCorrupt = fmt.Errorf("heapengine: heap failed consistency check")

// ErrAgain is returned in place of a context deadline/cancellation error
// when a lane could not be acquired within LaneWait — the allocator's
// only source of lock contention "giving up" rather than blocking.
var ErrAgain = fmt.Errorf("heapengine: timed out waiting for a free lane")

// fatal reports a structurally-impossible condition — ground truth and
// volatile state disagreeing, a double free, a bitmap/header
// inconsistency. These indicate a programming bug or an already
// corrupted heap that no local repair can fix, so, matching the
// teacher's treatment of originally-ASSERT-guarded invariants, this
// aborts the process rather than attempting to continue.
func fatal(format string, args ...any) {
	panic(fmt.Sprintf("heapengine: fatal: "+format, args...))
}

// Heap is the volatile allocator state bound to one open pool.
type Heap struct {
	Layout   *heaplayout.Heap
	Registry *bucket.Registry
	Lanes    *lane.Pool
	Logger   *log.Logger

	MaxZone        uint32
	ZonesExhausted uint32 // guarded by Registry.Huge's lock

	// LaneWait bounds how long a lane acquisition waits before Hold gives
	// up; zero waits indefinitely. See holdCtx.
	LaneWait time.Duration
}

// holdCtx builds the context a lane acquisition waits under: bounded by
// LaneWait when positive, unbounded otherwise. Every Alloc/Free/Realloc
// path that calls Lanes.Hold uses this instead of context.Background()
// directly, so LaneWait is the one knob that turns lane contention from
// an indefinite block into a producible Again.
func (h *Heap) holdCtx() (context.Context, context.CancelFunc) {
	if h.LaneWait <= 0 {
		return context.Background(), func() {}
	}

	return context.WithTimeout(context.Background(), h.LaneWait)
}

// again rewrites a failed Lanes.Hold's context error to ErrAgain, the
// error classify (package palloc) maps to the Again status; any other
// error (e.g. lane.ErrClosed) passes through unchanged.
func again(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrAgain
	}

	return err
}

func discard() *log.Logger { return log.New(discardWriter{}, "", 0) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Boot constructs the volatile Heap over an already-initialized
// persistent layout: computes MaxZone, builds the alloc-class registry,
// and recovers every lane's redo log. No zone is activated here — zones
// are initialized lazily the first time a request needs free space from
// one, matching the persistent layout's own lifecycle. laneWait is
// copied straight into the returned Heap's LaneWait; zero waits for a
// lane indefinitely.
func Boot(layout *heaplayout.Heap, registry *bucket.Registry, lanes *lane.Pool, logger *log.Logger, laneWait time.Duration) (*Heap, error) {
	if err := layout.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if logger == nil {
		logger = discard()
	}

	if err := lanes.RecoverAll(); err != nil {
		return nil, fmt.Errorf("heapengine: lane recovery: %w", err)
	}

	h := &Heap{
		Layout:   layout,
		Registry: registry,
		Lanes:    lanes,
		Logger:   logger,
		MaxZone:  layout.MaxZone(),
		LaneWait: laneWait,
	}

	logger.Printf("heap booted: max_zone=%d", h.MaxZone)

	return h, nil
}

// GetBestBucket walks the class registry ascending by unit size and
// returns the bucket whose unit size accommodates need with minimum
// internal fragmentation (units*unit_size - need; on a tie the smaller
// unit size wins), falling back to the huge bucket when no run class's
// unit_max covers need.
func (h *Heap) GetBestBucket(need uint64) *bucket.Bucket {
	var best *bucket.Bucket
	var bestWaste uint64

	for _, b := range h.Registry.RunClasses() {
		units, err := b.CalcUnits(need)
		if err != nil {
			continue
		}

		if waste := uint64(units)*b.UnitSize - need; best == nil || waste < bestWaste {
			best, bestWaste = b, waste
		}
	}

	if best != nil {
		return best
	}

	return h.Registry.Huge
}
