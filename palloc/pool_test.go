package palloc_test

import (
	"fmt"
	"path/filepath"
	"testing"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/selenia-systems/pmemheap/internal/heaplayout"
	"github.com/selenia-systems/pmemheap/internal/testrunner/assert"
	"github.com/selenia-systems/pmemheap/palloc"
)

func testOptions() palloc.Options {
	return palloc.Options{
		HeapSize:     2 * heaplayout.ZoneMaxSize,
		AllocClasses: []palloc.AllocClassSpec{{UnitSize: 128, UnitMax: 1024}},
		Lanes:        4,
	}
}

func TestCreateOpenClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pm")

	p, err := palloc.Create(path, testOptions())
	assert.NoError(t, err)
	assert.NoError(t, p.Close())

	p2, err := palloc.Open(path, testOptions())
	assert.NoError(t, err)
	assert.NoError(t, p2.Close())
}

func TestAllocFreeViaRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pm")

	p, err := palloc.Create(path, testOptions())
	assert.NoError(t, err)
	defer p.Close()

	root := p.Root()
	assert.Equal(t, uint64(0), *root)

	status := p.Alloc(root, 64, 0, nil, nil)
	assert.Equal(t, palloc.OK, status)
	assert.True(t, *root != 0)

	usable := p.UsableSize(*root)
	assert.True(t, usable >= 64)

	p.Free(root, 0)
	assert.Equal(t, uint64(0), *root)
}

func TestAllocConstructorWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pm")

	p, err := palloc.Create(path, testOptions())
	assert.NoError(t, err)
	defer p.Close()

	root := p.Root()

	ctor := func(ptr unsafe.Pointer, arg any) error {
		b := (*[4]byte)(ptr)
		copy(b[:], []byte("ABCD"))

		return nil
	}

	status := p.Alloc(root, 64, 0, ctor, nil)
	assert.Equal(t, palloc.OK, status)

	data := p.DataAt(*root)
	assert.Equal(t, "ABCD", string(data[:4]))
}

func TestReallocShrinkAndGrow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pm")

	p, err := palloc.Create(path, testOptions())
	assert.NoError(t, err)
	defer p.Close()

	root := p.Root()
	assert.Equal(t, palloc.OK, p.Alloc(root, 500*1024, 0, nil, nil))
	before := *root

	assert.Equal(t, palloc.OK, p.Realloc(root, 400*1024, 0, nil, nil))
	assert.Equal(t, before, *root)

	status := p.Realloc(root, 64, 0, nil, nil)
	assert.Equal(t, palloc.OK, status)
}

func TestReopenPreservesRootAllocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pm")

	p, err := palloc.Create(path, testOptions())
	assert.NoError(t, err)

	root := p.Root()
	assert.Equal(t, palloc.OK, p.Alloc(root, 64, 0, nil, nil))
	want := *root

	assert.NoError(t, p.Close())

	p2, err := palloc.Open(path, testOptions())
	assert.NoError(t, err)
	defer p2.Close()

	got := *p2.Root()
	assert.Equal(t, want, got)
	assert.True(t, p2.UsableSize(got) >= 64)
}

func TestFirstNextEnumeratesPointerGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pm")

	p, err := palloc.Create(path, testOptions())
	assert.NoError(t, err)
	defer p.Close()

	root := p.Root()
	assert.Equal(t, palloc.OK, p.Alloc(root, 64, 0, nil, nil))

	rootData := p.DataAt(*root)
	childA := palloc.OffFieldAt(rootData, 0)
	childB := palloc.OffFieldAt(rootData, 8)

	assert.Equal(t, palloc.OK, p.Alloc(childA, 64, 0, nil, nil))
	assert.Equal(t, palloc.OK, p.Alloc(childB, 300*1024, 0, nil, nil))

	seen := make(map[uint64]bool)
	for cur := p.First(); cur != 0; cur = p.Next(cur) {
		seen[cur] = true
	}

	assert.True(t, seen[*root])
	assert.True(t, seen[*childA])
	assert.True(t, seen[*childB])
}

func TestConcurrentAllocAcrossLanesIsRaceFree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pm")

	opts := testOptions()
	opts.Lanes = 8

	p, err := palloc.Create(path, opts)
	assert.NoError(t, err)
	defer p.Close()

	const workers = 16

	root := p.Root()
	assert.Equal(t, palloc.OK, p.Alloc(root, workers*8, 0, nil, nil))

	rootData := p.DataAt(*root)

	var g errgroup.Group

	for i := 0; i < workers; i++ {
		slot := palloc.OffFieldAt(rootData, uint64(i*8))

		g.Go(func() error {
			if status := p.Alloc(slot, 96, 0, nil, nil); status != palloc.OK {
				return fmt.Errorf("worker alloc: %v", status)
			}

			return nil
		})
	}

	assert.NoError(t, g.Wait())

	for i := 0; i < workers; i++ {
		child := palloc.OffFieldAt(rootData, uint64(i*8))
		assert.True(t, *child != 0)
		assert.True(t, p.UsableSize(*child) >= 96)
	}
}

func TestConcurrentHugeBucketSplitIsRaceFree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pm")

	opts := testOptions()
	opts.Lanes = 8

	p, err := palloc.Create(path, opts)
	assert.NoError(t, err)
	defer p.Close()

	const workers = 6

	root := p.Root()
	assert.Equal(t, palloc.OK, p.Alloc(root, workers*8, 0, nil, nil))

	rootData := p.DataAt(*root)

	var g errgroup.Group

	// Each request is well above AllocClasses' UnitMax, so every worker
	// allocates from the huge bucket and, since the zone's initial free
	// block spans far more than the 2 chunks each request needs, every
	// one of these concurrent Allocs forces Reserve to split off a huge
	// remainder. If the remainder's FREE header were not durable before
	// becoming visible to other workers, two workers could be handed
	// overlapping chunks and one's ctor write would corrupt the other's.
	for i := 0; i < workers; i++ {
		slot := palloc.OffFieldAt(rootData, uint64(i*8))
		worker := i

		g.Go(func() error {
			ctor := func(ptr unsafe.Pointer, arg any) error {
				b := (*[8]byte)(ptr)
				for j := range b {
					b[j] = byte(worker)
				}

				return nil
			}

			if status := p.Alloc(slot, 300*1024, 0, ctor, nil); status != palloc.OK {
				return fmt.Errorf("worker %d alloc: %v", worker, status)
			}

			return nil
		})
	}

	assert.NoError(t, g.Wait())

	for i := 0; i < workers; i++ {
		child := palloc.OffFieldAt(rootData, uint64(i*8))
		assert.True(t, *child != 0)
		assert.True(t, p.UsableSize(*child) >= 300*1024)

		data := p.DataAt(*child)
		for j := 0; j < 8; j++ {
			assert.Equal(t, byte(i), data[j])
		}
	}
}

func TestAllocOffFieldNotInPoolRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.pm")

	p, err := palloc.Create(path, testOptions())
	assert.NoError(t, err)
	defer p.Close()

	var detached uint64

	status := p.Alloc(&detached, 64, 0, nil, nil)
	assert.Equal(t, palloc.Corrupt, status)
	assert.Equal(t, uint64(0), detached)
}
