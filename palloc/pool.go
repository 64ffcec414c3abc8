// Package palloc is the public façade over the persistent-memory heap:
// Create/Open a pool file, then Alloc/Free/Realloc/UsableSize/First/Next
// against it. It orchestrates internal/heapengine, internal/bucket, and
// internal/lane the way the teacher's top-level packages wire their own
// engine/runtime layers together behind a small public surface.
package palloc

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/selenia-systems/pmemheap/internal/bucket"
	"github.com/selenia-systems/pmemheap/internal/heapengine"
	"github.com/selenia-systems/pmemheap/internal/heaplayout"
	"github.com/selenia-systems/pmemheap/internal/lane"
	"github.com/selenia-systems/pmemheap/pmem"
)

// Pool is an open persistent pool: a mapped file (or in-memory region in
// tests) plus the volatile allocator state booted over it.
type Pool struct {
	ops    pmem.Ops
	header PoolHeader
	opts   Options
	logger *log.Logger

	layout   *heaplayout.Heap
	registry *bucket.Registry
	lanes    *lane.Pool
	engine   *heapengine.Heap
}

type closer interface{ Close() error }

func fileSize(opts Options) int {
	return poolHeaderSize + int(opts.HeapSize) + opts.Lanes*laneLogSize
}

func buildRegistry(opts Options) (*bucket.Registry, error) {
	registry := bucket.NewRegistry(heaplayout.ChunkSize)

	for _, c := range opts.AllocClasses {
		if _, err := registry.RegisterAllocClass(c.UnitSize, c.UnitMax); err != nil {
			return nil, fmt.Errorf("palloc: register alloc class %+v: %w", c, err)
		}
	}

	return registry, nil
}

func boot(ops pmem.Ops, header PoolHeader, opts Options, logger *log.Logger) (*Pool, error) {
	layout := &heaplayout.Heap{Ops: ops, HeapOffset: header.HeapOffset, HeapSize: opts.HeapSize}

	registry, err := buildRegistry(opts)
	if err != nil {
		return nil, err
	}

	laneRegion := ops.Bytes()[header.HeapOffset+opts.HeapSize:]
	lanes := lane.NewPool(ops, laneRegion, opts.Lanes, laneLogSize)

	engine, err := heapengine.Boot(layout, registry, lanes, logger, opts.LaneWait)
	if err != nil {
		return nil, fmt.Errorf("palloc: boot: %w", err)
	}

	return &Pool{
		ops:      ops,
		header:   header,
		opts:     opts,
		logger:   logger,
		layout:   layout,
		registry: registry,
		lanes:    lanes,
		engine:   engine,
	}, nil
}

// Create maps path (growing/truncating it to the size opts implies),
// writes a fresh PoolHeader and heap, and boots the allocator over it.
func Create(path string, opts Options) (*Pool, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ops, err := pmem.OpenFile(path, fileSize(opts))
	if err != nil {
		return nil, fmt.Errorf("palloc: create %s: %w", path, err)
	}

	header := PoolHeader{
		Major:      poolMajor,
		Minor:      poolMinor,
		UUID:       uuid.New(),
		Size:       uint64(fileSize(opts)),
		HeapOffset: poolHeaderSize,
	}

	if err := ops.MemcpyPersist(ops.Bytes()[:poolHeaderSize], encodePoolHeader(header)); err != nil {
		closeOps(ops)

		return nil, fmt.Errorf("palloc: write pool header: %w", err)
	}

	layout := &heaplayout.Heap{Ops: ops, HeapOffset: header.HeapOffset, HeapSize: opts.HeapSize}
	if err := layout.Init(); err != nil {
		closeOps(ops)

		return nil, fmt.Errorf("palloc: heap init: %w", err)
	}

	p, err := boot(ops, header, opts, opts.logger())
	if err != nil {
		closeOps(ops)

		return nil, err
	}

	p.logger.Printf("pool created: uuid=%s size=%d heap_offset=%d", header.UUID, header.Size, header.HeapOffset)

	return p, nil
}

// Open maps an existing pool file, validates its header, and boots the
// allocator over it — recovering every lane's redo log in the process.
// opts' AllocClasses and Lanes must match what Create registered; a
// mismatch produces a working but differently-shaped registry than the
// one the file's allocations were made under.
func Open(path string, opts Options) (*Pool, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ops, err := pmem.OpenFile(path, fileSize(opts))
	if err != nil {
		return nil, fmt.Errorf("palloc: open %s: %w", path, err)
	}

	header, err := decodePoolHeader(ops.Bytes()[:poolHeaderSize])
	if err != nil {
		closeOps(ops)

		return nil, fmt.Errorf("palloc: open %s: %w", path, err)
	}

	p, err := boot(ops, header, opts, opts.logger())
	if err != nil {
		closeOps(ops)

		return nil, err
	}

	p.logger.Printf("pool opened: uuid=%s size=%d heap_offset=%d", header.UUID, header.Size, header.HeapOffset)

	return p, nil
}

func closeOps(ops pmem.Ops) {
	if c, ok := ops.(closer); ok {
		c.Close()
	}
}

// Close unmaps the pool's backing file, if any. It does not flush any
// further state: every operation this package performs is already
// durable by the time it returns.
func (p *Pool) Close() error {
	p.lanes.Close()

	if c, ok := p.ops.(closer); ok {
		return c.Close()
	}

	return nil
}

// UUID returns the pool's identity, assigned once at Create.
func (p *Pool) UUID() uuid.UUID { return p.header.UUID }
