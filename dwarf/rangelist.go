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
)

// PCRange is one [Low, High) address range.
type PCRange struct {
	Low, High uint64
}

// DecodeRangeList decodes a .debug_ranges list starting at offset, relative
// to cuBase (the CU's DW_AT_low_pc, or DW_AT_entry_pc as a GCC
// discontiguous-CU fallback). A base-address selection entry
// ((~0, new_base)) shifts the base used for subsequent entries.
//
// A pair of two zero words is ordinarily the end-of-list terminator, but if
// both words were independently relocated to zero this is a genuine
// [0, 0)-based range rather than a terminator; detecting that requires
// reading through the section's relocator rather than comparing raw bytes.
// A pair where only one of the two words is relocated is a structural
// contradiction.
func (r *Reader) DecodeRangeList(sec Section, offset int, addressSize int, cuBase uint64) ([]PCRange, error) {
	view := sec.View.WithAddressSize(addressSize)
	s := Section{View: view, Rel: sec.Rel}

	base := cuBase
	var ranges []PCRange
	pos := offset

	maxOffset := uint64(0)
	switch addressSize {
	case 4:
		maxOffset = 0xffffffff
	case 8:
		maxOffset = 0xffffffffffffffff
	}

	for {
		lo, loRelocated, next, err := s.ReadAddress(pos)
		if err != nil {
			return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("range list entry low word at %d: %v", pos, err))
		}
		pos = next

		hi, hiRelocated, next, err := s.ReadAddress(pos)
		if err != nil {
			return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("range list entry high word at %d: %v", pos, err))
		}
		pos = next

		if lo == 0 && hi == 0 {
			if loRelocated != hiRelocated {
				return nil, errors.Errorf(errors.InvalidDwarf, "range list entry has exactly one relocated zero word")
			}
			if !loRelocated {
				// genuine end-of-list terminator
				return ranges, nil
			}
			// both words independently relocated to zero: a real
			// [0, 0)-based range, not a terminator.
			ranges = append(ranges, PCRange{Low: base, High: base})
			continue
		}

		if lo == maxOffset {
			base = hi
			continue
		}

		ranges = append(ranges, PCRange{Low: base + lo, High: base + hi})
	}
}
