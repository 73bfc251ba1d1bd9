// Package align contains utilities for aligning offsets within a loaded
// memory region
package align

// Address aligns the given address or offset to a multiple of alignment
func Address[N uint32 | uint64 | int](addr N, alignment N) N {
	if alignment == 0 {
		return addr
	}

	return ((addr + alignment - 1) / alignment) * alignment
}

// IsAligned reports whether addr is a multiple of alignment
func IsAligned[N uint32 | uint64 | int](addr N, alignment N) bool {
	if alignment == 0 {
		return true
	}

	return addr%alignment == 0
}
