// Package elfobj provides a structural view over an ELF64 x86-64
// relocatable object, plus the planner that lays its allocatable sections
// out in a destination region.
package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/lunixbochs/struc"
)

var (
	ErrNotSupportedObject = errors.New("not a little-endian x86-64 ELF64 relocatable object")
	ErrNoSymbolTable      = errors.New("object has no symbol table")

	errBadSymbolIndex = errors.New("symbol index out of symbol table range")
)

// Object is a parsed view of a relocatable object. It borrows from the
// input bytes and must not outlive them.
type Object struct {
	file *elf.File

	// Symbol table, index-aligned with the raw ELF symbol table: entry 0
	// is the null symbol, which [elf.File.Symbols] omits.
	symbols []elf.Symbol
}

// New validates the object header and constructs a view over it. Any
// object that is not a little-endian ELF64 ET_REL file for x86-64 is
// rejected with [ErrNotSupportedObject].
func New(data []byte) (*Object, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSupportedObject, err)
	}

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 ||
		f.Type != elf.ET_REL || f.ByteOrder != binary.LittleEndian {
		return nil, fmt.Errorf("class %s, machine %s, type %s: %w", f.Class, f.Machine, f.Type, ErrNotSupportedObject)
	}

	return &Object{file: f}, nil
}

// Sections returns all section headers, indexed as in the file.
func (o *Object) Sections() []*elf.Section {
	return o.file.Sections
}

// Section returns the section with the given index.
func (o *Object) Section(index int) (*elf.Section, bool) {
	if index < 0 || index >= len(o.file.Sections) {
		return nil, false
	}

	return o.file.Sections[index], true
}

// Symbols returns the first symbol table, index-aligned with the raw
// table. Objects without a symbol table fail with [ErrNoSymbolTable].
func (o *Object) Symbols() ([]elf.Symbol, error) {
	if o.symbols != nil {
		return o.symbols, nil
	}

	symbs, err := o.file.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil, ErrNoSymbolTable
		}

		return nil, fmt.Errorf("failed to read symbol table: %w", err)
	}

	// Restore the null symbol at index 0 so that relocation entries can
	// index the table directly
	o.symbols = append([]elf.Symbol{{}}, symbs...)

	return o.symbols, nil
}

// Symbol returns the symbol with the given raw table index.
func (o *Object) Symbol(index uint32) (elf.Symbol, error) {
	symbs, err := o.Symbols()
	if err != nil {
		return elf.Symbol{}, err
	}

	if int(index) >= len(symbs) {
		return elf.Symbol{}, fmt.Errorf("symbol index %d >= symbol table size %d: %w", index, len(symbs), errBadSymbolIndex)
	}

	return symbs[index], nil
}

// Rela is one explicit-addend relocation entry, decoded from an
// SHT_RELA section.
type Rela struct {
	// Offset of the patch site relative to the start of the target section
	Offset uint64
	// Index into the raw symbol table
	Symbol uint32
	Type   elf.R_X86_64
	Addend int64
}

// Rela decodes all entries of an SHT_RELA section.
func (o *Object) Rela(section *elf.Section) ([]Rela, error) {
	if section.Type != elf.SHT_RELA {
		return nil, fmt.Errorf("section '%s' has type %s, expected SHT_RELA", section.Name, section.Type)
	}

	reader := section.Open()
	numEntries := section.Size / section.Entsize

	entries := make([]Rela, 0, numEntries)

	for i := 0; i < int(numEntries); i++ {
		entry, err := readRelaEntry(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read relocation entry at index %d in %s: %w", i, section.Name, err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func readRelaEntry(r io.Reader) (Rela, error) {
	var rel elf.Rela64

	if err := struc.UnpackWithOptions(r, &rel, &struc.Options{Order: binary.LittleEndian}); err != nil {
		return Rela{}, fmt.Errorf("failed to unpack Rela64 entry: %w", err)
	}

	symb, typ := relocationInfo(rel.Info)

	return Rela{
		Offset: rel.Off,
		Symbol: symb,
		Type:   elf.R_X86_64(typ),
		Addend: rel.Addend,
	}, nil
}

func relocationInfo(info uint64) (sym uint32, typ uint32) {
	return uint32(info >> 32), uint32(info & 0xFFFFFFFF)
}
