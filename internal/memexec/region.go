//go:build linux

// Package memexec owns the destination region a loaded object lives in: a
// single private, anonymous, page-aligned mapping that starts writable and
// is flipped once to executable. The region is never writable and
// executable at the same time.
package memexec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	ErrProtectFailed = errors.New("failed to make region executable")

	errRegionTooLarge = errors.New("region size does not fit in int")
)

// Region is a one-way state machine: Writable -> Executable. Protect is
// the only way to reach the callable state.
type Region struct {
	mapping    []byte
	executable bool
}

// Map obtains a readable, writable, private, anonymous region of the
// given size from the host. Initial contents are zero, which is
// load-bearing for SHT_NOBITS sections.
func Map(size uint64) (*Region, error) {
	if size > math.MaxInt {
		return nil, fmt.Errorf("region of %d bytes: %w", size, errRegionTooLarge)
	}

	mapping, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap of %d bytes failed: %w", size, err)
	}

	return &Region{mapping: mapping}, nil
}

// Base returns the address of the start of the region.
func (r *Region) Base() uintptr {
	return uintptr(unsafe.Pointer(&r.mapping[0]))
}

// Size returns the mapped length in bytes.
func (r *Region) Size() uint64 {
	return uint64(len(r.mapping))
}

// Bytes exposes the region for population. Mutating the returned slice
// after Protect is a programming error and will fault.
func (r *Region) Bytes() []byte {
	return r.mapping
}

// Executable reports whether the region has been flipped to executable.
func (r *Region) Executable() bool {
	return r.executable
}

// Uint32 reads the little-endian 32-bit value at the given offset. No
// alignment is assumed.
func (r *Region) Uint32(offset uint64) uint32 {
	return binary.LittleEndian.Uint32(r.mapping[offset:])
}

// Uint64 reads the little-endian 64-bit value at the given offset.
func (r *Region) Uint64(offset uint64) uint64 {
	return binary.LittleEndian.Uint64(r.mapping[offset:])
}

// PutUint32 stores a little-endian 32-bit value at the given offset.
func (r *Region) PutUint32(offset uint64, v uint32) {
	if r.executable {
		panic("write to executable region")
	}

	binary.LittleEndian.PutUint32(r.mapping[offset:], v)
}

// PutUint64 stores a little-endian 64-bit value at the given offset.
func (r *Region) PutUint64(offset uint64, v uint64) {
	if r.executable {
		panic("write to executable region")
	}

	binary.LittleEndian.PutUint64(r.mapping[offset:], v)
}

// Protect transitions the region from writable to executable, removing
// write permission. On x86-64 no instruction-cache barrier is needed
// between the flip and a subsequent call into the region.
func (r *Region) Protect() error {
	if err := unix.Mprotect(r.mapping, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("%w: %v", ErrProtectFailed, err)
	}

	r.executable = true

	return nil
}

// Unmap releases the region. It is safe to call more than once.
func (r *Region) Unmap() {
	if r.mapping == nil {
		return
	}

	_ = unix.Munmap(r.mapping)
	r.mapping = nil
	r.executable = false
}
