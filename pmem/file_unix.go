//go:build unix

package pmem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileOps maps a regular file MAP_SHARED and treats msync as the
// flush+fence pair the core calls persist. Opening, sizing, and
// validating the backing file is the pool-mapping layer's job (out of
// the allocator core's scope); FileOps only owns the mapping it is
// handed.
type FileOps struct {
	f    *os.File
	data []byte
}

// OpenFile maps size bytes of path MAP_SHARED, growing the file to size
// first if it is shorter. The caller must Close the returned FileOps.
func OpenFile(path string, size int) (*FileOps, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pmem: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("pmem: stat %s: %w", path, err)
	}

	if int(info.Size()) < size {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()

			return nil, fmt.Errorf("pmem: truncate %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("pmem: mmap %s: %w", path, err)
	}

	return &FileOps{f: f, data: data}, nil
}

// Close unmaps the file and closes the descriptor.
func (fo *FileOps) Close() error {
	if err := unix.Munmap(fo.data); err != nil {
		fo.f.Close()

		return fmt.Errorf("pmem: munmap: %w", err)
	}

	return fo.f.Close()
}

func (fo *FileOps) Bytes() []byte { return fo.data }

func (fo *FileOps) rangeOf(region []byte) (off, n int, err error) {
	base := uintptrOf(fo.data)
	r := uintptrOf(region)

	if r < base || r+uintptr(len(region)) > base+uintptr(len(fo.data)) {
		return 0, 0, fmt.Errorf("pmem: region not within mapped file")
	}

	return int(r - base), len(region), nil
}

// Persist flushes region to the backing file via msync.
func (fo *FileOps) Persist(region []byte) error {
	if len(region) == 0 {
		return nil
	}

	off, n, err := fo.rangeOf(region)
	if err != nil {
		return err
	}

	pageSize := os.Getpagesize()
	alignedOff := off - (off % pageSize)
	alignedLen := n + (off - alignedOff)

	return unix.Msync(fo.data[alignedOff:alignedOff+alignedLen], unix.MS_SYNC)
}

// MemcpyPersist copies src into dst and flushes dst.
func (fo *FileOps) MemcpyPersist(dst, src []byte) error {
	if len(dst) != len(src) {
		return ErrShortRange
	}

	copy(dst, src)

	return fo.Persist(dst)
}

// MemsetPersist fills dst with b and flushes it.
func (fo *FileOps) MemsetPersist(dst []byte, b byte) error {
	for i := range dst {
		dst[i] = b
	}

	return fo.Persist(dst)
}

// Drain is a no-op: msync-based Persist already orders and flushes.
func (fo *FileOps) Drain() error { return nil }
