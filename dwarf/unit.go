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

package dwarf

import (
	"fmt"

	"github.com/dwarfscope/dwarfscope/errors"
	"github.com/dwarfscope/dwarfscope/leb128"
)

// CU is one compilation (or type) unit header, decoded from either
// .debug_info or .debug_types.
type CU struct {
	HeaderOffset Offset // offset of the unit_length field
	ContentStart Offset // offset immediately after unit_length
	ContentEnd   Offset // ContentStart + unit_length: one past the last byte of this unit
	Version      int
	AddressSize  int
	OffsetSize   int
	AbbrevOffset uint64
	RootOffset   Offset // offset of the CU's root DIE

	IsTypeUnit    bool
	TypeSignature uint64
	TypeOffset    Offset

	fromTypes bool // which physical section (.debug_info / .debug_types) this CU lives in
}

// view returns the section view this CU's DIEs should be read through,
// sized for this CU's address/offset widths.
func (cu CU) view(r *Reader) leb128.View {
	sec := r.info
	if cu.fromTypes {
		sec = r.types
	}
	return sec.View.WithAddressSize(cu.AddressSize).WithOffsetSize(cu.OffsetSize)
}

func (cu CU) section(r *Reader) Section {
	sec := r.info
	if cu.fromTypes {
		sec = r.types
	}
	return Section{View: cu.view(r), Rel: sec.Rel}
}

// Reader is the entry point for walking a module's DWARF data: the
// .debug_info, .debug_types and .debug_str sections plus the abbreviation
// cache they share.
type Reader struct {
	info   Section
	types  Section
	str    Section
	abbrev *AbbrevCache
}

// NewReader builds a Reader over the given sections. types and str may be
// the zero Section if the module lacks .debug_types / .debug_str.
func NewReader(info, types, str Section, abbrev *AbbrevCache) *Reader {
	return &Reader{info: info, types: types, str: str, abbrev: abbrev}
}

// UnitIterator produces CU headers in on-disk order: .debug_info entirely
// first, then .debug_types.
type UnitIterator struct {
	r         *Reader
	pos       int
	fromTypes bool
	done      bool
}

// Units returns a fresh unit iterator positioned before the first CU.
func (r *Reader) Units() *UnitIterator {
	it := &UnitIterator{r: r}
	if r.info.View.Len() == 0 {
		it.fromTypes = true
	}
	return it
}

// Next decodes the next CU header, or reports ok=false at end of both
// sections.
func (it *UnitIterator) Next() (cu CU, ok bool, err error) {
	if it.done {
		return CU{}, false, nil
	}

	sec := it.r.info
	if it.fromTypes {
		sec = it.r.types
	}

	if it.pos >= sec.View.Len() {
		if !it.fromTypes && it.r.types.View.Len() > 0 {
			it.fromTypes = true
			it.pos = 0
			sec = it.r.types
		} else {
			it.done = true
			return CU{}, false, nil
		}
	}
	if sec.View.Len() == 0 {
		it.done = true
		return CU{}, false, nil
	}

	cu, next, err := decodeCUHeader(sec, it.pos, it.fromTypes)
	if err != nil {
		it.done = true
		return CU{}, false, err
	}
	it.pos = next

	return cu, true, nil
}

// decodeCUHeader decodes one CU header at offset within sec, returning the
// CU and the offset of the byte immediately past its content (i.e. the
// start of the next header).
func decodeCUHeader(sec Section, offset int, fromTypes bool) (CU, int, error) {
	pos := offset

	initialLength, next, err := sec.View.U32(pos)
	if err != nil {
		return CU{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("reading unit_length at %d: %v", offset, err))
	}
	pos = next

	offsetSize := 4
	var unitLength uint64
	if initialLength == 0xffffffff {
		offsetSize = 8
		u64, next, err := sec.View.U64(pos)
		if err != nil {
			return CU{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("reading 64-bit unit_length at %d: %v", pos, err))
		}
		pos = next
		unitLength = u64
	} else if initialLength >= 0xfffffff0 {
		return CU{}, offset, errors.Errorf(errors.InvalidDwarf, fmt.Sprintf("reserved unit_length escape value 0x%x at %d", initialLength, offset))
	} else {
		unitLength = uint64(initialLength)
	}

	contentStart := pos
	view := sec.View.WithOffsetSize(offsetSize)

	version, next, err := view.U16(pos)
	if err != nil {
		return CU{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("reading version at %d: %v", pos, err))
	}
	pos = next
	if version < 2 || version > 4 {
		return CU{}, offset, errors.Errorf(errors.InvalidDwarf, fmt.Sprintf("unsupported CU version %d at offset %d", version, offset))
	}

	cu := CU{
		HeaderOffset: Offset(offset),
		Version:      int(version),
		OffsetSize:   offsetSize,
		fromTypes:    fromTypes,
		IsTypeUnit:   fromTypes,
	}

	if fromTypes {
		abbrevOffset, next, err := view.Offset(pos)
		if err != nil {
			return CU{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("reading debug_abbrev_offset at %d: %v", pos, err))
		}
		pos = next

		addressSize, next, err := view.U8(pos)
		if err != nil {
			return CU{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("reading address_size at %d: %v", pos, err))
		}
		pos = next

		signature, next, err := view.U64(pos)
		if err != nil {
			return CU{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("reading type_signature at %d: %v", pos, err))
		}
		pos = next

		typeOffset, next, err := view.Offset(pos)
		if err != nil {
			return CU{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("reading type_offset at %d: %v", pos, err))
		}
		pos = next

		cu.AbbrevOffset = abbrevOffset
		cu.AddressSize = int(addressSize)
		cu.TypeSignature = signature
		cu.TypeOffset = Offset(typeOffset)
	} else {
		abbrevOffset, next, err := view.Offset(pos)
		if err != nil {
			return CU{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("reading debug_abbrev_offset at %d: %v", pos, err))
		}
		pos = next

		addressSize, next, err := view.U8(pos)
		if err != nil {
			return CU{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("reading address_size at %d: %v", pos, err))
		}
		pos = next

		cu.AbbrevOffset = abbrevOffset
		cu.AddressSize = int(addressSize)
	}

	cu.ContentStart = Offset(contentStart)
	cu.ContentEnd = Offset(contentStart + int(unitLength))
	cu.RootOffset = Offset(pos)

	if int(cu.ContentEnd) > sec.View.Len() {
		return CU{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("CU at %d claims length past end of section", offset))
	}

	return cu, int(cu.ContentEnd), nil
}
