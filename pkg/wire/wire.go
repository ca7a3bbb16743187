// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoolworks Robotics

// Package wire implements the fixed-width hexadecimal field codec shared by
// both sides of the coordinator. Fields are lowercase hex, left-padded with
// '0' to an exact width, and packed with no delimiters between them.
package wire

import (
	"errors"
	"fmt"
)

// Field widths in hex digits.
const (
	LengthWidth = 4 // cable length fields, tenths of a millimetre
	AngleWidth  = 3 // spool angle fields, tenths of a degree
)

var (
	// ErrShortField is returned when a field would extend past the end of
	// the line.
	ErrShortField = errors.New("wire: short field")

	// ErrBadDigit is returned when a field contains a non-hex character.
	ErrBadDigit = errors.New("wire: invalid hex digit")
)

// EncodeUint renders v as lowercase hex, left-padded with '0' to exactly
// width digits. Values wider than the field are masked to the low width
// nibbles, so a 4-digit field carries v mod 0x10000.
func EncodeUint(v uint, width int) string {
	return string(AppendUint(nil, v, width))
}

// AppendUint appends the encoded field to dst and returns the extended slice.
func AppendUint(dst []byte, v uint, width int) []byte {
	const digits = "0123456789abcdef"
	start := len(dst)
	for i := 0; i < width; i++ {
		dst = append(dst, '0')
	}
	for i := width - 1; i >= 0; i-- {
		dst[start+i] = digits[v&0xf]
		v >>= 4
	}
	return dst
}

// Cursor consumes fixed-width fields from a line payload. It fails
// explicitly on short or malformed input instead of indexing past the end
// of the buffer or returning a partial value.
type Cursor struct {
	data []byte
	pos  int
}

// NewCursor wraps a payload for field-by-field consumption.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Remaining reports how many unconsumed bytes are left.
func (c *Cursor) Remaining() int {
	return len(c.data) - c.pos
}

// Uint consumes exactly width hex digits and returns their value.
func (c *Cursor) Uint(width int) (uint, error) {
	if c.Remaining() < width {
		return 0, fmt.Errorf("%w: need %d digits at offset %d, have %d",
			ErrShortField, width, c.pos, c.Remaining())
	}
	var v uint
	for i := 0; i < width; i++ {
		d, ok := hexVal(c.data[c.pos+i])
		if !ok {
			return 0, fmt.Errorf("%w: %q at offset %d", ErrBadDigit, c.data[c.pos+i], c.pos+i)
		}
		v = v<<4 | uint(d)
	}
	c.pos += width
	return v, nil
}

func hexVal(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}
