// Package lane manages the fixed-size pool of commit lanes a pool hands
// out to callers. A lane bundles a mutex with the redo log it owns;
// holding a lane is the precondition for staging and committing a redo
// sequence, and a lane must always be released, on every exit path,
// once its commit (or its abandonment) is complete.
//
// Grounded on the teacher's free-list reuse pattern for pooled resources
// (internal/runtime/region_alloc.go's RegionAllocator.freeRegions):
// a fixed-capacity slice scanned for a free slot, with a condition
// variable for waiters rather than a busy-poll.
package lane

import (
	"context"
	"fmt"
	"sync"

	"github.com/selenia-systems/pmemheap/internal/redolog"
	"github.com/selenia-systems/pmemheap/pmem"
)

// Lane is one caller's reservation slot: a lock plus the redo log it
// exclusively owns while held.
type Lane struct {
	mu  sync.Mutex
	Log *redolog.Log
	id  int
}

// ID identifies this lane within its pool, stable for the pool's
// lifetime; useful for diagnostics and for deterministic lane-affinity
// tests.
func (l *Lane) ID() int { return l.id }

// Lock and Unlock guard the commit sequence (Store*/Process) against
// another goroutine observing this lane mid-commit. Hold already
// excludes other holders of the same lane, so callers ordinarily don't
// need these directly; they exist for the rare case for two goroutines
// racing to use a lane obtained via ID lookup in tests.
func (l *Lane) Lock()   { l.mu.Lock() }
func (l *Lane) Unlock() { l.mu.Unlock() }

// ErrClosed is returned by Hold once the pool has been closed.
var ErrClosed = fmt.Errorf("lane: pool is closed")

// Pool is a fixed-size array of lanes, each wrapping a redo log over its
// own slice of the pool's backing bytes.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	lanes  []*Lane
	busy   []bool
	closed bool
}

// NewPool constructs n lanes, each given a logSize-byte slice of region
// for its redo log (region must be at least n*logSize bytes; region[i*
// logSize:(i+1)*logSize] backs lane i).
func NewPool(ops pmem.Ops, region []byte, n int, logSize int) *Pool {
	p := &Pool{lanes: make([]*Lane, n), busy: make([]bool, n)}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < n; i++ {
		logRegion := region[i*logSize : (i+1)*logSize]
		p.lanes[i] = &Lane{Log: redolog.New(ops, logRegion), id: i}
	}

	return p
}

// Len reports the total number of lanes in the pool.
func (p *Pool) Len() int { return len(p.lanes) }

// Hold blocks until a lane is free, then marks it busy and returns it.
// It respects ctx cancellation while waiting — this bounds only the
// wait for a free lane, never an in-flight commit: once a lane is
// handed out, the caller's subsequent Store/StoreLast/Process sequence
// runs to completion regardless of ctx.
func (p *Pool) Hold(ctx context.Context) (*Lane, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.closed {
			return nil, ErrClosed
		}

		for i, busy := range p.busy {
			if !busy {
				p.busy[i] = true

				return p.lanes[i], nil
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p.cond.Wait()
	}
}

// Release returns l to circulation, waking any goroutine blocked in
// Hold. Every Hold must be matched by exactly one Release, on every
// exit path including error paths.
func (p *Pool) Release(l *Lane) {
	p.mu.Lock()
	p.busy[l.id] = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Close marks the pool closed; pending and future Hold calls return
// ErrClosed. It does not recover or touch any lane's redo log — that is
// the heap engine's responsibility at boot, via each lane's Log.Recover.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// RecoverAll runs Recover on every lane's log, in lane order. Called
// once at pool open, before any lane is handed out, so a crash mid-
// commit on any lane is rolled forward before new work begins.
func (p *Pool) RecoverAll() error {
	for _, l := range p.lanes {
		if err := l.Log.Recover(); err != nil {
			return fmt.Errorf("lane %d: %w", l.id, err)
		}
	}

	return nil
}
