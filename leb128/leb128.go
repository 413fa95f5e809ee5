// This file is part of Gopher2600.
//
// Gopher2600 is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Gopher2600 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Gopher2600.  If not, see <https://www.gnu.org/licenses/>.

package leb128

import (
	"encoding/binary"
	"fmt"

	"github.com/dwarfscope/dwarfscope/errors"
)

// maxLEB128Bytes bounds how many continuation bytes we'll consume before
// giving up with Overflow. Ten bytes is enough for a full 64-bit value with
// room for a sign-extended continuation byte; anything longer is corrupt.
const maxLEB128Bytes = 10

// View is a bounds-checked cursor over a single section's raw bytes. It
// never panics: every read reports Truncated rather than indexing past the
// end of data.
type View struct {
	data        []byte
	order       binary.ByteOrder
	addressSize int
	offsetSize  int
}

// NewView wraps data for reading. addressSize and offsetSize are in bytes
// (4 or 8); they govern Address and Offset reads respectively.
func NewView(data []byte, order binary.ByteOrder, addressSize, offsetSize int) View {
	return View{data: data, order: order, addressSize: addressSize, offsetSize: offsetSize}
}

// Len returns the number of bytes in the view.
func (v View) Len() int {
	return len(v.data)
}

// Bytes returns the underlying slice. Callers must not retain it past the
// lifetime of the backing section.
func (v View) Bytes() []byte {
	return v.data
}

// Sub returns a new view over data[offset:], sharing byte order and sizing.
// It fails with Truncated if offset is out of bounds.
func (v View) Sub(offset int) (View, error) {
	if offset < 0 || offset > len(v.data) {
		return View{}, errors.Errorf(errors.Truncated, fmt.Sprintf("sub-view offset %d out of bounds (len %d)", offset, len(v.data)))
	}
	return View{data: v.data[offset:], order: v.order, addressSize: v.addressSize, offsetSize: v.offsetSize}, nil
}

// Slice returns the n raw bytes at offset, and the offset immediately past
// them.
func (v View) Slice(offset, n int) ([]byte, int, error) {
	if n < 0 || offset < 0 || offset+n > len(v.data) {
		return nil, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("slice of %d bytes at offset %d (len %d)", n, offset, len(v.data)))
	}
	return v.data[offset : offset+n], offset + n, nil
}

// U8 reads a single byte at offset.
func (v View) U8(offset int) (uint8, int, error) {
	b, next, err := v.Slice(offset, 1)
	if err != nil {
		return 0, offset, err
	}
	return b[0], next, nil
}

// U16 reads a fixed-width 16-bit value, honoring byte order.
func (v View) U16(offset int) (uint16, int, error) {
	b, next, err := v.Slice(offset, 2)
	if err != nil {
		return 0, offset, err
	}
	return v.order.Uint16(b), next, nil
}

// U32 reads a fixed-width 32-bit value, honoring byte order.
func (v View) U32(offset int) (uint32, int, error) {
	b, next, err := v.Slice(offset, 4)
	if err != nil {
		return 0, offset, err
	}
	return v.order.Uint32(b), next, nil
}

// U64 reads a fixed-width 64-bit value, honoring byte order.
func (v View) U64(offset int) (uint64, int, error) {
	b, next, err := v.Slice(offset, 8)
	if err != nil {
		return 0, offset, err
	}
	return v.order.Uint64(b), next, nil
}

// I32 reads a fixed-width signed 32-bit value.
func (v View) I32(offset int) (int32, int, error) {
	u, next, err := v.U32(offset)
	return int32(u), next, err
}

// I64 reads a fixed-width signed 64-bit value.
func (v View) I64(offset int) (int64, int, error) {
	u, next, err := v.U64(offset)
	return int64(u), next, err
}

// WithAddressSize returns a copy of v configured to use the given address
// size (4 or 8) for subsequent Address reads.
func (v View) WithAddressSize(n int) View {
	c := v
	c.addressSize = n
	return c
}

// WithOffsetSize returns a copy of v configured to use the given DWARF
// offset size (4 for 32-bit DWARF, 8 for 64-bit DWARF) for subsequent
// Offset reads.
func (v View) WithOffsetSize(n int) View {
	c := v
	c.offsetSize = n
	return c
}

// AddressSize reports the view's configured address size in bytes (4 or 8).
func (v View) AddressSize() int {
	return v.addressSize
}

// OffsetSize reports the view's configured DWARF offset size in bytes (4
// for 32-bit DWARF, 8 for 64-bit DWARF).
func (v View) OffsetSize() int {
	return v.offsetSize
}

// ByteOrder reports the view's configured byte order, so a caller that
// slices a sub-range out into a bare []byte (as the CFI decoder does for a
// CIE/FDE instruction stream) can later wrap it in a fresh View without
// losing track of endianness.
func (v View) ByteOrder() binary.ByteOrder {
	return v.order
}

// Address performs an address-sized read, consulting AddressSize.
func (v View) Address(offset int) (uint64, int, error) {
	switch v.addressSize {
	case 8:
		return v.U64(offset)
	case 4:
		u, next, err := v.U32(offset)
		return uint64(u), next, err
	default:
		return 0, offset, errors.Errorf(errors.BadForm, fmt.Sprintf("unsupported address size %d", v.addressSize))
	}
}

// Offset performs an offset-sized read, consulting OffsetSize.
func (v View) Offset(offset int) (uint64, int, error) {
	switch v.offsetSize {
	case 8:
		return v.U64(offset)
	case 4:
		u, next, err := v.U32(offset)
		return uint64(u), next, err
	default:
		return 0, offset, errors.Errorf(errors.BadForm, fmt.Sprintf("unsupported offset size %d", v.offsetSize))
	}
}

// Uleb128 decodes an unsigned LEB128 value starting at offset, returning the
// value and the offset immediately following it.
func (v View) Uleb128(offset int) (uint64, int, error) {
	var result uint64
	var shift uint

	pos := offset
	for i := 0; i < maxLEB128Bytes; i++ {
		b, next, err := v.U8(pos)
		if err != nil {
			return 0, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("uleb128 at offset %d: %v", offset, err))
		}
		pos = next

		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, pos, nil
		}
		shift += 7
	}

	return 0, offset, errors.Errorf(errors.Overflow, fmt.Sprintf("uleb128 at offset %d exceeds %d bytes", offset, maxLEB128Bytes))
}

// Sleb128 decodes a signed LEB128 value starting at offset, returning the
// value and the offset immediately following it.
func (v View) Sleb128(offset int) (int64, int, error) {
	var result int64
	var shift uint
	var b uint8

	pos := offset
	for i := 0; i < maxLEB128Bytes; i++ {
		var next int
		var err error
		b, next, err = v.U8(pos)
		if err != nil {
			return 0, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("sleb128 at offset %d: %v", offset, err))
		}
		pos = next

		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, pos, nil
		}
	}

	return 0, offset, errors.Errorf(errors.Overflow, fmt.Sprintf("sleb128 at offset %d exceeds %d bytes", offset, maxLEB128Bytes))
}

// DecodeULEB128 decodes an unsigned LEB128 value from the start of v,
// returning the value and the number of bytes consumed. It is a convenience
// wrapper around Uleb128 for callers that already hold a bare byte slice
// with no surrounding section context; malformed input decodes as 0, 0.
func DecodeULEB128(v []uint8) (uint64, int) {
	view := NewView(v, binary.LittleEndian, 8, 4)
	result, next, err := view.Uleb128(0)
	if err != nil {
		return 0, 0
	}
	return result, next
}

// DecodeSLEB128 decodes a signed LEB128 value from the start of v, returning
// the value and the number of bytes consumed. See DecodeULEB128.
func DecodeSLEB128(v []uint8) (int64, int) {
	view := NewView(v, binary.LittleEndian, 8, 4)
	result, next, err := view.Sleb128(0)
	if err != nil {
		return 0, 0
	}
	return result, next
}
