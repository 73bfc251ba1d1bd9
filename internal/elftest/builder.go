// Package elftest synthesizes minimal ELF64 relocatable objects in memory,
// so loader tests can exercise real section, symbol, and relocation tables
// without shipping binary testdata.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"sort"
)

// Section describes one content section to place in the object.
type Section struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addralign uint64
	Data      []byte

	// Size overrides len(Data) for SHT_NOBITS sections, which carry no
	// bytes in the file
	Size uint64
}

// Symbol describes one symbol table entry.
type Symbol struct {
	Name    string
	Binding elf.SymBind
	Type    elf.SymType
	Section elf.SectionIndex
	Value   uint64
	Size    uint64
}

// Rela describes one explicit-addend relocation against a target section.
type Rela struct {
	Offset uint64
	Symbol uint32
	Type   elf.R_X86_64
	Addend int64
}

// Builder accumulates sections, symbols, and relocations, then serializes
// them as a little-endian ELF64 ET_REL image.
type Builder struct {
	// Overridable header fields, for building rejectable objects
	Machine elf.Machine
	Class   elf.Class
	Type    elf.Type

	// OmitSymtab drops the symbol table entirely
	OmitSymtab bool

	sections []Section
	symbols  []Symbol
	relas    map[int][]Rela
}

func NewBuilder() *Builder {
	return &Builder{
		Machine: elf.EM_X86_64,
		Class:   elf.ELFCLASS64,
		Type:    elf.ET_REL,
		relas:   make(map[int][]Rela),
	}
}

// AddSection appends a content section and returns its file section index.
// Index 0 is the reserved null section.
func (b *Builder) AddSection(s Section) int {
	b.sections = append(b.sections, s)
	return len(b.sections)
}

// AddSymbol appends a symbol and returns its raw symbol table index.
// Index 0 is the reserved null symbol.
func (b *Builder) AddSymbol(s Symbol) uint32 {
	b.symbols = append(b.symbols, s)
	return uint32(len(b.symbols))
}

// AddRela attaches a relocation to the section with the given file index.
// A .rela section targeting it is emitted on Bytes.
func (b *Builder) AddRela(targetIndex int, r Rela) {
	b.relas[targetIndex] = append(b.relas[targetIndex], r)
}

type sectionRecord struct {
	name      string
	typ       elf.SectionType
	flags     elf.SectionFlag
	addralign uint64
	link      uint32
	info      uint32
	entsize   uint64
	data      []byte
	size      uint64 // for SHT_NOBITS
}

// Bytes serializes the object. The layout is: ELF header, section
// contents in order, then the section header table.
func (b *Builder) Bytes() []byte {
	records := []sectionRecord{{typ: elf.SHT_NULL}}

	for _, s := range b.sections {
		size := uint64(len(s.Data))
		if s.Type == elf.SHT_NOBITS {
			size = s.Size
		}

		records = append(records, sectionRecord{
			name:      s.Name,
			typ:       s.Type,
			flags:     s.Flags,
			addralign: s.Addralign,
			data:      s.Data,
			size:      size,
		})
	}

	relaTargets := make([]int, 0, len(b.relas))
	for target := range b.relas {
		relaTargets = append(relaTargets, target)
	}
	sort.Ints(relaTargets)

	// Section indices of the tables we are about to append
	symtabIndex := len(records) + len(relaTargets)
	strtabIndex := symtabIndex + 1
	shstrtabIndex := strtabIndex + 1
	if b.OmitSymtab {
		shstrtabIndex = len(records) + len(relaTargets)
	}

	for _, target := range relaTargets {
		records = append(records, sectionRecord{
			name:    ".rela" + records[target].name,
			typ:     elf.SHT_RELA,
			link:    uint32(symtabIndex),
			info:    uint32(target),
			entsize: 24,
			data:    b.relaBytes(b.relas[target]),
		})
	}

	if !b.OmitSymtab {
		symtab, strtab, numLocals := b.symtabBytes()

		records = append(records, sectionRecord{
			name:    ".symtab",
			typ:     elf.SHT_SYMTAB,
			link:    uint32(strtabIndex),
			info:    numLocals,
			entsize: 24,
			data:    symtab,
		})
		records = append(records, sectionRecord{
			name: ".strtab",
			typ:  elf.SHT_STRTAB,
			data: strtab,
		})
	}

	records = append(records, sectionRecord{
		name: ".shstrtab",
		typ:  elf.SHT_STRTAB,
	})
	shstrtab, nameOffsets := stringTable(sectionNames(records))
	records[len(records)-1].data = shstrtab

	return b.serialize(records, nameOffsets, shstrtabIndex)
}

func sectionNames(records []sectionRecord) []string {
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.name
	}

	return names
}

func (b *Builder) relaBytes(relas []Rela) []byte {
	buf := &bytes.Buffer{}

	for _, r := range relas {
		entry := elf.Rela64{
			Off:    r.Offset,
			Info:   uint64(r.Symbol)<<32 | uint64(uint32(r.Type)),
			Addend: r.Addend,
		}
		if err := binary.Write(buf, binary.LittleEndian, &entry); err != nil {
			panic(fmt.Sprintf("failed to serialize Rela64: %v", err))
		}
	}

	return buf.Bytes()
}

func (b *Builder) symtabBytes() (symtab []byte, strtab []byte, numLocals uint32) {
	names := make([]string, 0, len(b.symbols))
	for _, s := range b.symbols {
		names = append(names, s.Name)
	}
	strtab, offsets := stringTable(names)

	buf := &bytes.Buffer{}

	// Null symbol first
	entries := make([]elf.Sym64, 1, len(b.symbols)+1)
	numLocals = 1

	for i, s := range b.symbols {
		entries = append(entries, elf.Sym64{
			Name:  offsets[i],
			Info:  uint8(s.Binding)<<4 | uint8(s.Type),
			Shndx: uint16(s.Section),
			Value: s.Value,
			Size:  s.Size,
		})

		if s.Binding == elf.STB_LOCAL {
			numLocals = uint32(i) + 2
		}
	}

	if err := binary.Write(buf, binary.LittleEndian, entries); err != nil {
		panic(fmt.Sprintf("failed to serialize Sym64 table: %v", err))
	}

	return buf.Bytes(), strtab, numLocals
}

// stringTable builds an ELF string table holding the given names, with a
// leading NUL so that offset 0 is the empty string. Empty names map to 0.
func stringTable(names []string) (table []byte, offsets []uint32) {
	table = []byte{0}
	offsets = make([]uint32, len(names))

	for i, name := range names {
		if name == "" {
			continue
		}

		offsets[i] = uint32(len(table))
		table = append(table, name...)
		table = append(table, 0)
	}

	return table, offsets
}

func (b *Builder) serialize(records []sectionRecord, nameOffsets []uint32, shstrtabIndex int) []byte {
	const headerSize = 64

	type placed struct {
		offset uint64
		size   uint64
	}

	offsets := make([]placed, len(records))
	cursor := uint64(headerSize)

	for i, r := range records {
		if r.typ == elf.SHT_NULL {
			continue
		}

		offsets[i] = placed{offset: cursor, size: uint64(len(r.data))}
		if r.typ == elf.SHT_NOBITS {
			offsets[i].size = r.size
			continue
		}

		cursor += uint64(len(r.data))
	}

	shoff := cursor

	buf := &bytes.Buffer{}

	ident := [16]byte{0x7f, 'E', 'L', 'F', byte(b.Class), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)}
	header := elf.Header64{
		Ident:     ident,
		Type:      uint16(b.Type),
		Machine:   uint16(b.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    headerSize,
		Shentsize: 64,
		Shnum:     uint16(len(records)),
		Shstrndx:  uint16(shstrtabIndex),
	}
	if err := binary.Write(buf, binary.LittleEndian, &header); err != nil {
		panic(fmt.Sprintf("failed to serialize ELF header: %v", err))
	}

	for _, r := range records {
		if r.typ != elf.SHT_NULL && r.typ != elf.SHT_NOBITS {
			buf.Write(r.data)
		}
	}

	for i, r := range records {
		shdr := elf.Section64{
			Name:      nameOffsets[i],
			Type:      uint32(r.typ),
			Flags:     uint64(r.flags),
			Off:       offsets[i].offset,
			Size:      offsets[i].size,
			Link:      r.link,
			Info:      r.info,
			Addralign: r.addralign,
			Entsize:   r.entsize,
		}
		if err := binary.Write(buf, binary.LittleEndian, &shdr); err != nil {
			panic(fmt.Sprintf("failed to serialize section header: %v", err))
		}
	}

	return buf.Bytes()
}
