package bucket_test

import (
	"testing"

	"github.com/selenia-systems/pmemheap/internal/bucket"
	"github.com/selenia-systems/pmemheap/internal/memblock"
	"github.com/selenia-systems/pmemheap/internal/testrunner/assert"
)

func TestCalcUnitsHuge(t *testing.T) {
	b := bucket.NewHugeBucket(256 * 1024)

	units, err := b.CalcUnits(300 * 1024)
	assert.NoError(t, err)
	assert.Equal(t, uint32(2), units)
}

func TestCalcUnitsRunTooLarge(t *testing.T) {
	b := bucket.NewRunBucket(128, 16)

	_, err := b.CalcUnits(128 * 17)
	assert.Equal(t, bucket.ErrTooLarge, err)
}

func TestRegisterAllocClassRedundant(t *testing.T) {
	r := bucket.NewRegistry(256 * 1024)

	_, err := r.RegisterAllocClass(128, 32)
	assert.NoError(t, err)

	_, err = r.RegisterAllocClass(120, 32)
	assert.Equal(t, bucket.ErrRedundantClass, err)

	_, err = r.RegisterAllocClass(512, 32)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(r.RunClasses()))
}

func TestBucketContainerRoundTrip(t *testing.T) {
	b := bucket.NewHugeBucket(256 * 1024)

	b.Lock()
	b.Container.Insert(memblock.Block{Zone: 0, Chunk: 3, SizeIdx: 5})
	got, err := b.Container.RemoveBestFit(2)
	b.Unlock()

	assert.NoError(t, err)
	assert.Equal(t, uint32(3), got.Chunk)
}
