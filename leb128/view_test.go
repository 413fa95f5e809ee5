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

package leb128_test

import (
	"encoding/binary"
	"testing"

	"github.com/dwarfscope/dwarfscope/leb128"
	"github.com/dwarfscope/dwarfscope/test"
)

func TestViewFixedWidthReads(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	v := leb128.NewView(data, binary.BigEndian, 8, 4)

	b, next, err := v.U8(0)
	test.ExpectSuccess(t, err)
	test.Equate(t, b, uint8(0x01))
	test.Equate(t, next, 1)

	u16, next, err := v.U16(0)
	test.ExpectSuccess(t, err)
	test.Equate(t, u16, uint16(0x0102))
	test.Equate(t, next, 2)

	u32, next, err := v.U32(0)
	test.ExpectSuccess(t, err)
	test.Equate(t, u32, uint32(0x01020304))
	test.Equate(t, next, 4)

	u64, next, err := v.U64(0)
	test.ExpectSuccess(t, err)
	test.Equate(t, u64, uint64(0x0102030405060708))
	test.Equate(t, next, 8)
}

func TestViewTruncatedReadsNeverPanic(t *testing.T) {
	v := leb128.NewView([]byte{0x01, 0x02}, binary.LittleEndian, 8, 4)

	_, _, err := v.U32(0)
	test.ExpectFailure(t, err)

	_, _, err = v.U8(5)
	test.ExpectFailure(t, err)

	_, _, err = v.Slice(0, 10)
	test.ExpectFailure(t, err)
}

func TestViewAddressAndOffsetSizing(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, 0x1122334455667788)

	v4 := leb128.NewView(data, binary.LittleEndian, 4, 4)
	addr, _, err := v4.Address(0)
	test.ExpectSuccess(t, err)
	test.Equate(t, addr, uint64(0x55667788))

	v8 := v4.WithAddressSize(8)
	addr, _, err = v8.Address(0)
	test.ExpectSuccess(t, err)
	test.Equate(t, addr, uint64(0x1122334455667788))

	off, _, err := v4.WithOffsetSize(8).Offset(0)
	test.ExpectSuccess(t, err)
	test.Equate(t, off, uint64(0x1122334455667788))
}

func TestViewSubAndSlice(t *testing.T) {
	data := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	v := leb128.NewView(data, binary.LittleEndian, 8, 4)

	sub, err := v.Sub(2)
	test.ExpectSuccess(t, err)
	test.Equate(t, sub.Len(), 2)
	b, _, err := sub.U8(0)
	test.ExpectSuccess(t, err)
	test.Equate(t, b, uint8(0xcc))

	_, err = v.Sub(10)
	test.ExpectFailure(t, err)

	s, next, err := v.Slice(1, 2)
	test.ExpectSuccess(t, err)
	test.Equate(t, s, []byte{0xbb, 0xcc})
	test.Equate(t, next, 3)
}

func TestViewUleb128OverflowAndTruncation(t *testing.T) {
	// eleven continuation bytes: exceeds the 10-byte accumulator limit.
	data := make([]byte, 11)
	for i := range data {
		data[i] = 0x80
	}
	v := leb128.NewView(data, binary.LittleEndian, 8, 4)
	_, _, err := v.Uleb128(0)
	test.ExpectFailure(t, err)

	truncated := leb128.NewView([]byte{0x80}, binary.LittleEndian, 8, 4)
	_, _, err = truncated.Uleb128(0)
	test.ExpectFailure(t, err)
}

func TestViewSleb128Negative(t *testing.T) {
	// -2 encodes as 0x7e in SLEB128.
	v := leb128.NewView([]byte{0x7e}, binary.LittleEndian, 8, 4)
	r, next, err := v.Sleb128(0)
	test.ExpectSuccess(t, err)
	test.Equate(t, r, int64(-2))
	test.Equate(t, next, 1)
}

func TestDecodeULEB128MalformedReturnsZero(t *testing.T) {
	r, n := leb128.DecodeULEB128([]byte{0x80})
	test.Equate(t, r, uint64(0))
	test.Equate(t, n, 0)
}
