package palloc

import (
	"fmt"
	"log"
	"time"

	"github.com/selenia-systems/pmemheap/internal/heaplayout"
)

// AllocClassSpec describes one run alloc class to register at open
// time, mirroring heap_register_alloc_class's two parameters.
type AllocClassSpec struct {
	UnitSize uint64
	UnitMax  uint32
}

// Options configures a Pool. DefaultOptions returns a usable starting
// point rather than requiring the caller to fill in every field from
// scratch, mirroring the teacher's DefaultAllocatorPolicy pattern.
type Options struct {
	// HeapSize is the total byte size reserved for the heap portion of
	// the pool (excluding PoolHeader). Must be at least
	// heaplayout.HeapMinSize.
	HeapSize uint64

	// AllocClasses lists additional run classes beyond the always-present
	// huge bucket.
	AllocClasses []AllocClassSpec

	// Lanes is how many concurrent commit slots the pool offers.
	Lanes int

	// LaneWait bounds how long Alloc/Free/Realloc will wait for a free
	// commit lane under contention before giving up with the Again
	// status. Zero (the default) waits indefinitely, matching the
	// original PMDK-style allocator, which never gives up on a lane.
	LaneWait time.Duration

	// Logger receives boot/recovery/zone-activation/run-degradation
	// trace lines. A nil Logger discards all output.
	Logger *log.Logger
}

// DefaultOptions returns sensible defaults: an 8-zone heap, the classic
// PMDK-style small/medium/large run classes, 4 lanes, and a discarding
// logger.
func DefaultOptions() Options {
	return Options{
		HeapSize: 8 * heaplayout.ZoneMaxSize,
		AllocClasses: []AllocClassSpec{
			{UnitSize: 16, UnitMax: 1024},
			{UnitSize: 64, UnitMax: 1024},
			{UnitSize: 256, UnitMax: 1024},
			{UnitSize: 1024, UnitMax: 512},
			{UnitSize: 4096, UnitMax: 256},
		},
		Lanes: 4,
	}
}

// laneLogSize is the fixed byte size reserved per lane's redo log: a
// 64-byte header plus 16-byte entries, enough for any single commit this
// allocator ever builds (a huge allocation is a chunk header SET plus
// the terminating off write, 2 entries; a run commit touches at most
// every one of a run's NBitmapWords bitmap words plus at most two more
// entries, a degraded run's chunk header and the off write).
const laneLogSize = 64 + 16*(heaplayout.NBitmapWords+2)

// Validate checks Options for internal consistency.
func (o Options) Validate() error {
	if o.HeapSize < heaplayout.HeapMinSize {
		return fmt.Errorf("palloc: heap size %d below minimum %d: %w", o.HeapSize, heaplayout.HeapMinSize, HeapTooSmall)
	}

	if o.Lanes <= 0 {
		return fmt.Errorf("palloc: lanes must be positive, got %d", o.Lanes)
	}

	for _, c := range o.AllocClasses {
		if c.UnitSize == 0 || c.UnitMax == 0 {
			return fmt.Errorf("palloc: alloc class unit_size/unit_max must be positive, got %+v", c)
		}
	}

	return nil
}

func (o Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}

	return log.New(discardWriter{}, "", 0)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
