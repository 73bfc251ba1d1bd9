// Package beacon implements the argument wire protocol shared between the
// loader and the loaded object: a little-endian, length-prefixed buffer of
// typed fields. The format carries no field tags; readers must consume
// fields in the exact order the writer emitted them.
package beacon

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Size of the u32 payload-size header at the start of every buffer
const headerSize = 4

var ErrTruncated = errors.New("argument buffer truncated")

// Cursor is a stateful read cursor over an argument buffer. All reads are
// little-endian regardless of host byte order, and all returned slices
// borrow from the underlying buffer.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor creates a cursor over raw payload bytes, with no size header
// expected at the front.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// ParseBuffer creates a cursor over a packed argument buffer, skipping the
// 4-byte payload-size header.
func ParseBuffer(buf []byte) (*Cursor, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("buffer of %d bytes has no size header: %w", len(buf), ErrTruncated)
	}

	return &Cursor{buf: buf, pos: headerSize}, nil
}

// Remaining returns the number of unconsumed bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

// Int consumes a signed 32-bit little-endian integer.
func (c *Cursor) Int() (int32, error) {
	if c.Remaining() < 4 {
		return 0, fmt.Errorf("reading int with %d bytes left: %w", c.Remaining(), ErrTruncated)
	}

	v := int32(binary.LittleEndian.Uint32(c.buf[c.pos:]))
	c.pos += 4

	return v, nil
}

// Short consumes a signed 16-bit little-endian integer.
func (c *Cursor) Short() (int16, error) {
	if c.Remaining() < 2 {
		return 0, fmt.Errorf("reading short with %d bytes left: %w", c.Remaining(), ErrTruncated)
	}

	v := int16(binary.LittleEndian.Uint16(c.buf[c.pos:]))
	c.pos += 2

	return v, nil
}

// Extract consumes a u32 length prefix followed by that many raw bytes.
// The returned slice borrows from the buffer.
func (c *Cursor) Extract() ([]byte, error) {
	if c.Remaining() < 4 {
		return nil, fmt.Errorf("reading blob length with %d bytes left: %w", c.Remaining(), ErrTruncated)
	}

	length := int(binary.LittleEndian.Uint32(c.buf[c.pos:]))
	c.pos += 4

	if c.Remaining() < length {
		return nil, fmt.Errorf("blob of %d bytes with %d bytes left: %w", length, c.Remaining(), ErrTruncated)
	}

	blob := c.buf[c.pos : c.pos+length]
	c.pos += length

	return blob, nil
}

// ExtractString consumes a length-prefixed field holding a zero-terminated
// string, returning it without the terminator.
func (c *Cursor) ExtractString() (string, error) {
	blob, err := c.Extract()
	if err != nil {
		return "", err
	}

	if len(blob) == 0 || blob[len(blob)-1] != 0 {
		return "", fmt.Errorf("string field of %d bytes is not zero-terminated: %w", len(blob), ErrTruncated)
	}

	return string(blob[:len(blob)-1]), nil
}
