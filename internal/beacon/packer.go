package beacon

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	kindInt    = "int"
	kindShort  = "short"
	kindString = "str"
	kindBinary = "bin"
)

var (
	ErrUnknownKind       = errors.New("unknown argument kind")
	ErrMalformedHex      = errors.New("malformed hex string")
	ErrMissingTypePrefix = errors.New("argument missing type prefix (e.g. int:10)")
)

// Packer builds a self-describing argument buffer. Fields are appended with
// no alignment padding; the first four bytes hold the payload size and are
// filled in by Bytes.
type Packer struct {
	buf []byte
}

func NewPacker() *Packer {
	return &Packer{buf: make([]byte, headerSize)}
}

// AddInt appends a signed 32-bit little-endian integer.
func (p *Packer) AddInt(v int32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(v))
}

// AddShort appends a signed 16-bit little-endian integer.
func (p *Packer) AddShort(v int16) {
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(v))
}

// AddString appends a length-prefixed string followed by a single zero
// byte. The length field counts the terminator.
func (p *Packer) AddString(s string) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(len(s)+1))
	p.buf = append(p.buf, s...)
	p.buf = append(p.buf, 0)
}

// AddBinary appends a length-prefixed run of raw bytes.
func (p *Packer) AddBinary(data []byte) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(len(data)))
	p.buf = append(p.buf, data...)
}

// Add parses a "kind:value" argument and appends the encoded field.
func (p *Packer) Add(arg string) error {
	kind, value, found := strings.Cut(arg, ":")
	if !found {
		return fmt.Errorf("argument '%s': %w", arg, ErrMissingTypePrefix)
	}

	switch kind {
	case kindInt:
		v, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("failed to parse int argument '%s': %w", value, err)
		}

		p.AddInt(int32(v))
	case kindShort:
		v, err := strconv.ParseInt(value, 10, 16)
		if err != nil {
			return fmt.Errorf("failed to parse short argument '%s': %w", value, err)
		}

		p.AddShort(int16(v))
	case kindString:
		p.AddString(value)
	case kindBinary:
		data, err := hex.DecodeString(value)
		if err != nil {
			return fmt.Errorf("bin argument '%s': %w", value, ErrMalformedHex)
		}

		p.AddBinary(data)
	default:
		return fmt.Errorf("argument kind '%s': %w", kind, ErrUnknownKind)
	}

	return nil
}

// Bytes finalizes the buffer: the payload size (buffer size minus the
// 4-byte header) is written over the header, and the whole buffer is
// returned.
func (p *Packer) Bytes() []byte {
	binary.LittleEndian.PutUint32(p.buf, uint32(len(p.buf)-headerSize))
	return p.buf
}

// Pack builds an argument buffer from an ordered list of "kind:value"
// strings, as supplied on the command line.
func Pack(args []string) ([]byte, error) {
	p := NewPacker()

	for _, arg := range args {
		if err := p.Add(arg); err != nil {
			return nil, err
		}
	}

	return p.Bytes(), nil
}
