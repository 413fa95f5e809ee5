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

// LocEntry is one location-list entry: the expression in Expr is valid for
// addresses in [Low, High).
type LocEntry struct {
	Low, High uint64
	Expr      []byte
}

// DecodeLocList decodes a .debug_loc list starting at offset, applying the
// same base-address-selection and relocated-double-zero rules as
// DecodeRangeList, with each entry additionally carrying a 2-byte expression
// length followed by that many expression bytes.
func (r *Reader) DecodeLocList(sec Section, offset int, addressSize int, cuBase uint64) ([]LocEntry, error) {
	view := sec.View.WithAddressSize(addressSize)
	s := Section{View: view, Rel: sec.Rel}

	base := cuBase
	var entries []LocEntry
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
			return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("location list entry low word at %d: %v", pos, err))
		}
		pos = next

		hi, hiRelocated, next, err := s.ReadAddress(pos)
		if err != nil {
			return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("location list entry high word at %d: %v", pos, err))
		}
		pos = next

		if lo == 0 && hi == 0 {
			if loRelocated != hiRelocated {
				return nil, errors.Errorf(errors.InvalidDwarf, "location list entry has exactly one relocated zero word")
			}
			if !loRelocated {
				return entries, nil
			}
			// a genuine zero-based entry still carries an expression.
		} else if lo == maxOffset {
			base = hi
			continue
		}

		length, next, err := view.U16(pos)
		if err != nil {
			return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("location list expression length at %d: %v", pos, err))
		}
		pos = next

		expr, next, err := view.Slice(pos, int(length))
		if err != nil {
			return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("location list expression bytes: %v", err))
		}
		pos = next

		entries = append(entries, LocEntry{Low: base + lo, High: base + hi, Expr: expr})
	}
}
