package bucket

import (
	"fmt"
	"sort"
	"sync"
)

// MaxWasteRatio bounds how much larger a run class's unit_size may be
// than a requested allocation size before that class no longer "covers"
// the request for the purpose of registration redundancy checks (class
// selection at allocation time does not use it). 25% mirrors the kind of acceptance test
// heap_register_alloc_class performs: a class that would waste more
// than a quarter of every block is not an acceptable substitute for a
// new, tighter class.
const MaxWasteRatio = 0.25

// ErrRedundantClass is returned by RegisterAllocClass when an existing
// run class already covers the requested size within MaxWasteRatio.
var ErrRedundantClass = fmt.Errorf("bucket: existing class already covers this size")

// Registry is the alloc-class table: the huge bucket plus every
// registered run bucket, ordered by ascending UnitSize so best-fit
// class lookup is a single forward scan.
type Registry struct {
	mu   sync.RWMutex
	Huge *Bucket
	runs []*Bucket
}

// NewRegistry constructs a registry with only the default huge class
// populated, matching heap_boot's populate_buckets before any
// heap_register_alloc_class call.
func NewRegistry(chunkSize uint64) *Registry {
	return &Registry{Huge: NewHugeBucket(chunkSize)}
}

func classCovers(unitSize, size uint64) bool {
	if unitSize < size {
		return false
	}

	waste := unitSize - size

	return float64(waste)/float64(unitSize) <= MaxWasteRatio
}

// RegisterAllocClass installs a new run bucket for size if no existing
// run class already covers it within an acceptable waste ratio.
func (r *Registry) RegisterAllocClass(size uint64, unitMax uint32) (*Bucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.runs {
		if classCovers(b.UnitSize, size) {
			return nil, ErrRedundantClass
		}
	}

	nb := NewRunBucket(size, unitMax)

	i := sort.Search(len(r.runs), func(i int) bool { return r.runs[i].UnitSize >= size })
	r.runs = append(r.runs, nil)
	copy(r.runs[i+1:], r.runs[i:])
	r.runs[i] = nb

	return nb, nil
}

// RunClasses returns a snapshot of the registered run buckets, ordered
// by ascending UnitSize.
func (r *Registry) RunClasses() []*Bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Bucket, len(r.runs))
	copy(out, r.runs)

	return out
}
