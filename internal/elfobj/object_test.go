package elfobj

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jm33-m0/linux-bof-loader/internal/elftest"
)

func minimalObject() *elftest.Builder {
	b := elftest.NewBuilder()
	b.AddSection(elftest.Section{
		Name:      ".text",
		Type:      elf.SHT_PROGBITS,
		Flags:     elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		Addralign: 16,
		Data:      []byte{0xc3},
	})

	return b
}

func TestNewAcceptsRelocatableObject(t *testing.T) {
	obj, err := New(minimalObject().Bytes())
	require.NoError(t, err)

	// Null section plus .text, .symtab, .strtab, .shstrtab
	assert.Len(t, obj.Sections(), 5)
}

func TestNewRejectsUnsupportedObjects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *elftest.Builder)
	}{
		{"wrong machine", func(b *elftest.Builder) { b.Machine = elf.EM_AARCH64 }},
		{"executable type", func(b *elftest.Builder) { b.Type = elf.ET_EXEC }},
		{"shared object type", func(b *elftest.Builder) { b.Type = elf.ET_DYN }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b := minimalObject()
			test.mutate(b)

			_, err := New(b.Bytes())
			assert.ErrorIs(t, err, ErrNotSupportedObject)
		})
	}
}

func TestNewRejectsGarbage(t *testing.T) {
	_, err := New([]byte("definitely not an ELF file"))
	assert.ErrorIs(t, err, ErrNotSupportedObject)
}

func TestSymbolsAreIndexAligned(t *testing.T) {
	b := minimalObject()
	first := b.AddSymbol(elftest.Symbol{
		Name:    "local_marker",
		Binding: elf.STB_LOCAL,
		Type:    elf.STT_NOTYPE,
		Section: elf.SectionIndex(1),
		Value:   0x10,
	})
	second := b.AddSymbol(elftest.Symbol{
		Name:    "go",
		Binding: elf.STB_GLOBAL,
		Type:    elf.STT_FUNC,
		Section: elf.SectionIndex(1),
	})

	obj, err := New(b.Bytes())
	require.NoError(t, err)

	symbs, err := obj.Symbols()
	require.NoError(t, err)

	// Raw table indices must address the table directly, with the null
	// symbol restored at index 0
	require.Len(t, symbs, 3)
	assert.Empty(t, symbs[0].Name)
	assert.Equal(t, "local_marker", symbs[first].Name)
	assert.Equal(t, uint64(0x10), symbs[first].Value)
	assert.Equal(t, "go", symbs[second].Name)

	symb, err := obj.Symbol(second)
	require.NoError(t, err)
	assert.Equal(t, "go", symb.Name)

	_, err = obj.Symbol(99)
	assert.Error(t, err)
}

func TestSymbolsMissingTable(t *testing.T) {
	b := minimalObject()
	b.OmitSymtab = true

	obj, err := New(b.Bytes())
	require.NoError(t, err)

	_, err = obj.Symbols()
	assert.ErrorIs(t, err, ErrNoSymbolTable)
}

func TestRelaDecoding(t *testing.T) {
	b := minimalObject()
	symb := b.AddSymbol(elftest.Symbol{
		Name:    "target",
		Binding: elf.STB_GLOBAL,
		Type:    elf.STT_FUNC,
		Section: elf.SectionIndex(1),
	})
	b.AddRela(1, elftest.Rela{Offset: 0x20, Symbol: symb, Type: elf.R_X86_64_PC32, Addend: -4})
	b.AddRela(1, elftest.Rela{Offset: 0x40, Symbol: symb, Type: elf.R_X86_64_64, Addend: 8})

	obj, err := New(b.Bytes())
	require.NoError(t, err)

	var relaSection *elf.Section
	for _, section := range obj.Sections() {
		if section.Type == elf.SHT_RELA {
			relaSection = section
		}
	}
	require.NotNil(t, relaSection)

	entries, err := obj.Rela(relaSection)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, Rela{Offset: 0x20, Symbol: symb, Type: elf.R_X86_64_PC32, Addend: -4}, entries[0])
	assert.Equal(t, Rela{Offset: 0x40, Symbol: symb, Type: elf.R_X86_64_64, Addend: 8}, entries[1])
}

func TestRelaRejectsOtherSectionTypes(t *testing.T) {
	obj, err := New(minimalObject().Bytes())
	require.NoError(t, err)

	_, err = obj.Rela(obj.Sections()[1])
	assert.Error(t, err)
}
