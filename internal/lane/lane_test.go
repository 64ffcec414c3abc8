package lane_test

import (
	"context"
	"testing"
	"time"

	"github.com/selenia-systems/pmemheap/internal/lane"
	"github.com/selenia-systems/pmemheap/internal/testrunner/assert"
	"github.com/selenia-systems/pmemheap/pmem"
)

const logSize = 64 + 16*4

func TestHoldReleaseRoundTrip(t *testing.T) {
	ops := pmem.NewMemOps(logSize * 2)
	p := lane.NewPool(ops, ops.Bytes(), 2, logSize)

	l1, err := p.Hold(context.Background())
	assert.NoError(t, err)

	l2, err := p.Hold(context.Background())
	assert.NoError(t, err)
	assert.NotEqual(t, l1.ID(), l2.ID())

	p.Release(l1)
	p.Release(l2)
}

func TestHoldBlocksUntilRelease(t *testing.T) {
	ops := pmem.NewMemOps(logSize)
	p := lane.NewPool(ops, ops.Bytes(), 1, logSize)

	l1, err := p.Hold(context.Background())
	assert.NoError(t, err)

	acquired := make(chan struct{})

	go func() {
		l2, err := p.Hold(context.Background())
		assert.NoError(t, err)
		close(acquired)
		p.Release(l2)
	}()

	select {
	case <-acquired:
		t.Fatal("second Hold returned before the first lane was released")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(l1)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Hold never returned after release")
	}
}

func TestHoldRespectsContextCancellation(t *testing.T) {
	ops := pmem.NewMemOps(logSize)
	p := lane.NewPool(ops, ops.Bytes(), 1, logSize)

	_, err := p.Hold(context.Background())
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Hold(ctx)
	assert.Error(t, err)
}

func TestHoldAfterCloseReturnsErrClosed(t *testing.T) {
	ops := pmem.NewMemOps(logSize)
	p := lane.NewPool(ops, ops.Bytes(), 1, logSize)
	p.Close()

	_, err := p.Hold(context.Background())
	assert.Equal(t, lane.ErrClosed, err)
}
