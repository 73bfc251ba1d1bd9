// Package loader lays an ELF64 x86-64 relocatable object into executable
// memory and transfers control to one of its exported functions.
package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unsafe"

	"github.com/jm33-m0/linux-bof-loader/internal/elfobj"
	"github.com/jm33-m0/linux-bof-loader/internal/hostsym"
	"github.com/jm33-m0/linux-bof-loader/internal/memexec"
)

var (
	ErrEntryNotFound = errors.New("entry function not found in object")

	errArgBufferTooSmall   = errors.New("argument buffer smaller than its header")
	errRegionNotExecutable = errors.New("region has not been made executable")
)

// Options tune a single load operation.
type Options struct {
	// Fail 32-bit absolute relocations whose computed value does not fit
	// in the store width
	CheckOverflow bool
}

// BOF is one loaded object, holding the executable region and the
// resolved entry address. It owns the region exclusively and releases it
// on Release.
type BOF struct {
	logger *slog.Logger

	mem    *memexec.Region
	layout *elfobj.Layout

	entry     uintptr
	entryName string
}

// Load parses the object, lays its allocatable sections into a fresh
// region, applies relocations with the given host resolver, flips the
// region executable, and resolves the entry symbol. The region is
// released before any error escapes.
func Load(logger *slog.Logger, data []byte, entryName string, resolver hostsym.Resolver, opts *Options) (*BOF, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts == nil {
		opts = &Options{CheckOverflow: true}
	}

	obj, err := elfobj.New(data)
	if err != nil {
		return nil, err
	}

	layout, err := elfobj.PlanLayout(obj)
	if err != nil {
		return nil, err
	}

	mem, err := memexec.Map(layout.Total())
	if err != nil {
		return nil, err
	}

	loaded := false
	defer func() {
		if !loaded {
			mem.Unmap()
		}
	}()

	if err := populate(obj, layout, mem); err != nil {
		return nil, err
	}

	addrs := &addressResolver{layout: layout, base: mem.Base(), host: resolver}

	rl := &relocator{
		obj:           obj,
		layout:        layout,
		mem:           mem,
		addrs:         addrs,
		checkOverflow: opts.CheckOverflow,
	}

	if err := rl.apply(); err != nil {
		return nil, err
	}

	if err := mem.Protect(); err != nil {
		return nil, err
	}

	entry, err := findEntry(obj, layout, mem.Base(), entryName)
	if err != nil {
		return nil, err
	}

	logger.Info("loaded object",
		"entry", entryName,
		"addr", fmt.Sprintf("0x%02x", entry),
		"regionSize", layout.Total(),
	)

	loaded = true

	return &BOF{
		logger:    logger,
		mem:       mem,
		layout:    layout,
		entry:     entry,
		entryName: entryName,
	}, nil
}

// populate copies every allocatable section's bytes to its assigned
// offset. SHT_NOBITS sections are left as the zeros the mapping came
// with.
func populate(obj *elfobj.Object, layout *elfobj.Layout, mem *memexec.Region) error {
	for index, section := range obj.Sections() {
		offset, ok := layout.Offset(index)
		if !ok || section.Type == elf.SHT_NOBITS {
			continue
		}

		dest := mem.Bytes()[offset : offset+section.Size]
		if _, err := io.ReadFull(section.Open(), dest); err != nil {
			return fmt.Errorf("failed to copy section '%s' into region: %w", section.Name, err)
		}
	}

	return nil
}

// findEntry searches the symbol table for a defined, loaded symbol with
// the requested name. Undefined symbols and symbols in sections we did
// not load are skipped.
func findEntry(obj *elfobj.Object, layout *elfobj.Layout, base uintptr, name string) (uintptr, error) {
	symbs, err := obj.Symbols()
	if err != nil {
		return 0, err
	}

	for _, symb := range symbs[1:] {
		if symb.Name != name || symb.Section == elf.SHN_UNDEF {
			continue
		}

		offset, ok := layout.Offset(int(symb.Section))
		if !ok {
			continue
		}

		return base + uintptr(offset) + uintptr(symb.Value), nil
	}

	return 0, fmt.Errorf("function '%s': %w", name, ErrEntryNotFound)
}

// Invoke calls the entry with the packed argument buffer and returns the
// zero-terminated result string the callee hands back. The buffer must
// include the 4-byte payload-size header.
func (b *BOF) Invoke(args []byte) (string, error) {
	if len(args) < 4 {
		return "", fmt.Errorf("buffer of %d bytes: %w", len(args), errArgBufferTooSmall)
	}

	if !b.mem.Executable() {
		return "", errRegionNotExecutable
	}

	b.logger.Info("invoking entry",
		"function", b.entryName,
		"addr", fmt.Sprintf("0x%02x", b.entry),
		"argBytes", len(args),
	)

	ret := invoke(b.entry, args)
	if ret == 0 {
		return "", nil
	}

	// Copy the result out before the caller can release the region: the
	// callee may legitimately return a pointer into its own data section
	return goString(ret), nil
}

// Release unmaps the region. The BOF must not be invoked afterwards.
func (b *BOF) Release() {
	b.mem.Unmap()
}

// goString copies the zero-terminated byte string at addr. The callee
// owns the allocation; we only read it.
func goString(addr uintptr) string {
	const maxLen = 1 << 20

	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		ch := *(*byte)(unsafe.Pointer(addr + uintptr(i)))
		if ch == 0 {
			break
		}
		buf = append(buf, ch)
	}

	return string(buf)
}
