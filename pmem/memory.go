package pmem

// MemOps is a plain-byte-slice Ops backend with no real durability: every
// Persist call is immediately visible to any other holder of the same
// slice. It exists for unit tests that want a pool without a backing
// file, and as the substrate FaultInjectingOps wraps to simulate a
// crash.
type MemOps struct {
	data []byte
}

// NewMemOps allocates a zeroed region of size bytes.
func NewMemOps(size int) *MemOps {
	return &MemOps{data: make([]byte, size)}
}

func (m *MemOps) Bytes() []byte { return m.data }

func (m *MemOps) Persist(region []byte) error { return nil }

func (m *MemOps) MemcpyPersist(dst, src []byte) error {
	if len(dst) != len(src) {
		return ErrShortRange
	}

	copy(dst, src)

	return nil
}

func (m *MemOps) MemsetPersist(dst []byte, b byte) error {
	for i := range dst {
		dst[i] = b
	}

	return nil
}

func (m *MemOps) Drain() error { return nil }

// FaultInjectingOps wraps another Ops and simulates a crash that lands
// only a prefix of a commit's durable writes. Grounded on the teacher's
// observer-decorator pattern (AllocatorObserver / RegionObserver hook
// into allocator events from the outside rather than a special case
// inside the allocator); here the "event" being observed is each durable
// write, and the decorator chooses whether it reaches the backing медиа.
//
// A single in-process byte slice can't by itself model "some stores
// happened, but weren't flushed before power loss" — once a store
// mutates memory there is no taking it back. So FaultInjectingOps keeps
// two images: a shadow buffer that every write goes through (what the
// current process sees, matching real hardware where stores are visible
// to the issuing core immediately), and the wrapped inner Ops' own
// buffer, which only receives a given byte range once a Persist call for
// that range is allowed through. A test simulates "reopen after crash"
// by abandoning the Pool built over the FaultInjectingOps and building a
// fresh one directly over inner.Bytes().
type FaultInjectingOps struct {
	inner      Ops
	shadow     []byte
	armed      bool
	writesLeft int // -1 means unlimited
}

// NewFaultInjectingOps wraps inner with fault injection disabled.
func NewFaultInjectingOps(inner Ops) *FaultInjectingOps {
	shadow := make([]byte, len(inner.Bytes()))
	copy(shadow, inner.Bytes())

	return &FaultInjectingOps{inner: inner, shadow: shadow, writesLeft: -1}
}

// CrashAfter arms the injector so that only the next n durable flushes
// (Persist/MemcpyPersist/MemsetPersist calls) actually reach the inner
// Ops; later flushes are dropped, simulating power loss mid-commit.
func (f *FaultInjectingOps) CrashAfter(n int) {
	f.armed = true
	f.writesLeft = n
}

// Durable exposes the inner Ops' surviving bytes — the state a fresh
// pool-open would observe after the simulated crash.
func (f *FaultInjectingOps) Durable() Ops { return f.inner }

func (f *FaultInjectingOps) Bytes() []byte { return f.shadow }

func (f *FaultInjectingOps) consume() bool {
	if !f.armed {
		return true
	}

	if f.writesLeft <= 0 {
		return false
	}

	f.writesLeft--

	return true
}

func (f *FaultInjectingOps) flush(region []byte) error {
	if !f.consume() {
		return nil
	}

	off := f.offsetIn(region)
	n := len(region)

	copy(f.inner.Bytes()[off:off+n], region)

	return f.inner.Persist(f.inner.Bytes()[off : off+n])
}

func (f *FaultInjectingOps) offsetIn(region []byte) int {
	return int(uintptrOf(region) - uintptrOf(f.shadow))
}

func (f *FaultInjectingOps) Persist(region []byte) error { return f.flush(region) }

func (f *FaultInjectingOps) MemcpyPersist(dst, src []byte) error {
	if len(dst) != len(src) {
		return ErrShortRange
	}

	copy(dst, src)

	return f.flush(dst)
}

func (f *FaultInjectingOps) MemsetPersist(dst []byte, b byte) error {
	for i := range dst {
		dst[i] = b
	}

	return f.flush(dst)
}

func (f *FaultInjectingOps) Drain() error { return f.inner.Drain() }
