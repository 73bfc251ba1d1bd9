package loader

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/jm33-m0/linux-bof-loader/internal/elfobj"
	"github.com/jm33-m0/linux-bof-loader/internal/hostsym"
)

var (
	ErrUnresolvedExternal      = errors.New("unresolved external symbol")
	ErrSymbolInNonAllocSection = errors.New("symbol defined in non-allocatable section")
)

// addressResolver maps symbols of a laid-out object to runtime addresses:
// undefined symbols go through the host's global resolver, absolute
// symbols keep their value, and everything else is region-relative.
type addressResolver struct {
	layout *elfobj.Layout
	base   uintptr
	host   hostsym.Resolver
}

func (a *addressResolver) address(symb elf.Symbol) (uintptr, error) {
	switch symb.Section {
	case elf.SHN_UNDEF:
		addr, ok := a.host.Lookup(symb.Name)
		if !ok {
			return 0, fmt.Errorf("symbol '%s': %w", symb.Name, ErrUnresolvedExternal)
		}

		return addr, nil
	case elf.SHN_ABS:
		return uintptr(symb.Value), nil
	default:
		offset, ok := a.layout.Offset(int(symb.Section))
		if !ok {
			return 0, fmt.Errorf("symbol '%s' in section %d: %w", symb.Name, symb.Section, ErrSymbolInNonAllocSection)
		}

		return a.base + uintptr(offset) + uintptr(symb.Value), nil
	}
}
