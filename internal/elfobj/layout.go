package elfobj

import (
	"debug/elf"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jm33-m0/linux-bof-loader/internal/align"
)

var ErrNothingToLoad = errors.New("no allocatable sections found")

// Layout assigns each allocatable section an offset within a single
// destination region. Sections without the SHF_ALLOC flag receive no
// assignment.
type Layout struct {
	offsets map[int]uint64
	total   uint64
}

// PlanLayout walks section indices in ascending order, rounding a running
// cursor up to each allocatable section's alignment and advancing it by
// the section's size. SHT_NOBITS sections occupy runtime space without
// consuming bytes in the input.
func PlanLayout(o *Object) (*Layout, error) {
	offsets := make(map[int]uint64)
	cursor := uint64(0)

	for index, section := range o.Sections() {
		if section.Flags&elf.SHF_ALLOC == 0 {
			continue
		}

		alignment := max(section.Addralign, 1)
		cursor = align.Address(cursor, alignment)
		offsets[index] = cursor

		slog.Debug("placing ELF section",
			"section", section.Name,
			"index", index,
			"offset", fmt.Sprintf("0x%02x", cursor),
			"size", fmt.Sprintf("0x%02x", section.Size),
		)

		cursor += section.Size
	}

	if cursor == 0 {
		return nil, ErrNothingToLoad
	}

	return &Layout{offsets: offsets, total: cursor}, nil
}

// Offset returns the region offset assigned to the section with the given
// index. Non-allocatable sections have no assignment.
func (l *Layout) Offset(index int) (uint64, bool) {
	offset, ok := l.offsets[index]
	return offset, ok
}

// Total returns the size of the destination region needed to hold every
// allocatable section.
func (l *Layout) Total() uint64 {
	return l.total
}
