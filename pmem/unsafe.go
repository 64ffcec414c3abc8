package pmem

import "unsafe"

// uintptrOf returns the address of the first byte of b, or 0 for an empty
// slice. It exists only so range checks can compare a sub-slice's address
// against the mapping's base address.
func uintptrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}

	return uintptr(unsafe.Pointer(&b[0]))
}
