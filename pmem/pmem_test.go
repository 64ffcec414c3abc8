package pmem_test

import (
	"path/filepath"
	"testing"

	"github.com/selenia-systems/pmemheap/internal/testrunner/assert"
	"github.com/selenia-systems/pmemheap/pmem"
)

func TestMemOpsMemcpyPersistLengthMismatch(t *testing.T) {
	ops := pmem.NewMemOps(16)

	err := ops.MemcpyPersist(ops.Bytes()[0:4], make([]byte, 5))
	assert.ErrorIs(t, err, pmem.ErrShortRange)
}

func TestMemOpsMemsetAndMemcpyAreVisibleImmediately(t *testing.T) {
	ops := pmem.NewMemOps(8)

	assert.NoError(t, ops.MemsetPersist(ops.Bytes(), 0xAB))
	for _, b := range ops.Bytes() {
		assert.Equal(t, byte(0xAB), b)
	}

	assert.NoError(t, ops.MemcpyPersist(ops.Bytes()[0:2], []byte{1, 2}))
	assert.Equal(t, byte(1), ops.Bytes()[0])
	assert.Equal(t, byte(2), ops.Bytes()[1])
}

func TestFileOpsRoundTripsThroughReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.pm")

	fo, err := pmem.OpenFile(path, 64)
	assert.NoError(t, err)

	assert.NoError(t, fo.MemcpyPersist(fo.Bytes()[0:5], []byte("hello")))
	assert.NoError(t, fo.Close())

	fo2, err := pmem.OpenFile(path, 64)
	assert.NoError(t, err)
	defer fo2.Close()

	assert.Equal(t, "hello", string(fo2.Bytes()[0:5]))
}

func TestFaultInjectingOpsDropsWritesPastCrashBudget(t *testing.T) {
	inner := pmem.NewMemOps(16)
	f := pmem.NewFaultInjectingOps(inner)
	f.CrashAfter(1)

	assert.NoError(t, f.MemcpyPersist(f.Bytes()[0:4], []byte{1, 2, 3, 4}))
	assert.NoError(t, f.MemcpyPersist(f.Bytes()[4:8], []byte{5, 6, 7, 8}))

	durable := f.Durable().Bytes()
	assert.Equal(t, byte(1), durable[0])
	assert.Equal(t, byte(0), durable[4])
}

func TestFaultInjectingOpsShadowSeesEveryWriteRegardlessOfCrashBudget(t *testing.T) {
	inner := pmem.NewMemOps(16)
	f := pmem.NewFaultInjectingOps(inner)
	f.CrashAfter(0)

	assert.NoError(t, f.MemcpyPersist(f.Bytes()[0:4], []byte{9, 9, 9, 9}))

	assert.Equal(t, byte(9), f.Bytes()[0])
	assert.Equal(t, byte(0), f.Durable().Bytes()[0])
}
