package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/jm33-m0/linux-bof-loader/internal/elfobj"
	"github.com/jm33-m0/linux-bof-loader/internal/memexec"
)

var (
	ErrUnsupportedRelocation = errors.New("unsupported relocation type")
	ErrRelocationOverflow    = errors.New("relocated value does not fit in 32 bits")

	errRelocationOutOfBounds = errors.New("relocation exceeds bounds of section")
)

// relocator patches the populated region in place, one SHT_RELA section
// at a time. Relocation sections whose target was not loaded refer to
// content we did not copy (debug info and the like) and are skipped
// whole.
type relocator struct {
	obj    *elfobj.Object
	layout *elfobj.Layout
	mem    *memexec.Region
	addrs  *addressResolver

	checkOverflow bool
}

func (r *relocator) apply() error {
	for _, section := range r.obj.Sections() {
		if section.Type == elf.SHT_REL {
			// x86-64 objects carry explicit addends; a REL section here is
			// not something the toolchains we accept emit
			slog.Warn("ignoring SHT_REL relocation section",
				"section", section.Name,
				"targetSectionIndex", section.Info,
			)
			continue
		}

		if section.Type != elf.SHT_RELA {
			continue
		}

		target, ok := r.obj.Section(int(section.Info))
		if !ok {
			return fmt.Errorf("relocation section '%s' targets section index %d, which does not exist", section.Name, section.Info)
		}

		targetOffset, ok := r.layout.Offset(int(section.Info))
		if !ok {
			slog.Debug("skipping relocation section (target not loaded)",
				"section", section.Name,
				"target", target.Name,
			)
			continue
		}

		entries, err := r.obj.Rela(section)
		if err != nil {
			return err
		}

		for _, rel := range entries {
			if err := r.applyOne(section.Name, target, targetOffset, rel); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *relocator) applyOne(sectionName string, target *elf.Section, targetOffset uint64, rel elfobj.Rela) error {
	f, ok := relocationFuncsX86_64[rel.Type]
	if !ok {
		return fmt.Errorf("relocation type %d (%v) in %s: %w", uint32(rel.Type), rel.Type, sectionName, ErrUnsupportedRelocation)
	}

	if rel.Offset >= target.Size {
		return fmt.Errorf("offset 0x%02x >= section size 0x%02x in %s: %w", rel.Offset, target.Size, sectionName, errRelocationOutOfBounds)
	}

	symb, err := r.obj.Symbol(rel.Symbol)
	if err != nil {
		return err
	}

	s, err := r.addrs.address(symb)
	if err != nil {
		return err
	}

	site := targetOffset + rel.Offset

	slog.Debug("applying relocation",
		"type", rel.Type,
		"target", target.Name,
		"symbol", symb.Name,
		"symbolAddr", fmt.Sprintf("0x%02x", s),
		"addend", rel.Addend,
		"site", fmt.Sprintf("0x%02x", site),
	)

	return f(r, site, uint64(s), rel.Addend)
}

type relocationFunc func(r *relocator, site uint64, s uint64, a int64) error

var relocationFuncsX86_64 = map[elf.R_X86_64]relocationFunc{
	elf.R_X86_64_NONE: relocateNoop,
	elf.R_X86_64_64:   relocate64,
	elf.R_X86_64_32:   relocate32,
	elf.R_X86_64_32S:  relocate32S,
	elf.R_X86_64_PC32: relocatePC32,
	// There is no procedure linkage table here: external symbols resolve to
	// direct absolute addresses, so PLT32 reduces to PC32. The kernel does
	// the same for its module loader:
	// https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git/commit/?id=b21ebf2fb4cde1618915a97cc773e287ff49173e
	elf.R_X86_64_PLT32: relocatePC32,
}

func relocateNoop(_ *relocator, _ uint64, _ uint64, _ int64) error {
	return nil
}

// S + A, stored as unsigned 64-bit
func relocate64(r *relocator, site uint64, s uint64, a int64) error {
	r.mem.PutUint64(site, s+uint64(a))
	return nil
}

// S + A, zero-extended 32-bit store
func relocate32(r *relocator, site uint64, s uint64, a int64) error {
	v := s + uint64(a)
	if r.checkOverflow && v > math.MaxUint32 {
		return fmt.Errorf("R_X86_64_32 value 0x%02x: %w", v, ErrRelocationOverflow)
	}

	r.mem.PutUint32(site, uint32(v))

	return nil
}

// S + A, sign-extended 32-bit store
func relocate32S(r *relocator, site uint64, s uint64, a int64) error {
	v := int64(s) + a
	if r.checkOverflow && (v < math.MinInt32 || v > math.MaxInt32) {
		return fmt.Errorf("R_X86_64_32S value %d: %w", v, ErrRelocationOverflow)
	}

	r.mem.PutUint32(site, uint32(v))

	return nil
}

// S + A - P, low 32 bits
func relocatePC32(r *relocator, site uint64, s uint64, a int64) error {
	p := uint64(r.mem.Base()) + site
	v := int64(s) + a - int64(p)
	r.mem.PutUint32(site, uint32(v))

	return nil
}
