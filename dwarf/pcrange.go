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

import "github.com/dwarfscope/dwarfscope/errors"

// PCRange resolves a DIE's address range from its DW_AT_low_pc/
// DW_AT_high_pc attributes, applying the DWARF4 semantic where a
// constant-class DW_AT_high_pc is an offset added to low_pc rather than an
// absolute address: the decoded value is low_pc + constant, not the
// constant itself. ok is false if either attribute is absent -- not every
// DIE (e.g. a DW_TAG_compile_unit using DW_AT_ranges instead) carries a
// contiguous range.
//
// A DIE carrying both an absolute low/high pc pair and DW_AT_ranges is a
// structural contradiction (redundant specification of the same range) and
// is reported as InvalidDwarf rather than silently preferring one.
func (r *Reader) PCRange(d DIE, vt VersionTable, strict bool) (low, high uint64, ok bool, err error) {
	it := r.Attributes(d, vt, strict)

	var haveLow, haveHigh, haveRanges bool
	var highIsOffset bool
	var highRaw uint64

	for {
		v, more, err := it.Next()
		if err != nil {
			return 0, 0, false, err
		}
		if !more {
			break
		}
		switch v.Attr {
		case AttrLowpc:
			low = v.Uint()
			haveLow = true
		case AttrHighpc:
			haveHigh = true
			highRaw = v.Uint()
			highIsOffset = v.Class == ClassConstant
		case AttrRanges:
			haveRanges = true
		}
	}

	if haveRanges && haveLow && haveHigh {
		return 0, 0, false, errors.Errorf(errors.InvalidDwarf, "DIE carries both a low/high pc range and DW_AT_ranges")
	}
	if !haveLow || !haveHigh {
		return 0, 0, false, nil
	}

	if highIsOffset {
		return low, low + highRaw, true, nil
	}
	return low, highRaw, true, nil
}

// BaseAddress resolves the base address consumers of location/range lists
// use for base-address-selection entries: DW_AT_low_pc, falling back to
// DW_AT_entry_pc for GCC's discontiguous CUs.
func (r *Reader) BaseAddress(d DIE, vt VersionTable, strict bool) (uint64, bool, error) {
	it := r.Attributes(d, vt, strict)

	var lowpc, entrypc uint64
	var haveLow, haveEntry bool

	for {
		v, more, err := it.Next()
		if err != nil {
			return 0, false, err
		}
		if !more {
			break
		}
		switch v.Attr {
		case AttrLowpc:
			lowpc, haveLow = v.Uint(), true
		case AttrEntryPc:
			entrypc, haveEntry = v.Uint(), true
		}
	}

	if haveLow {
		return lowpc, true, nil
	}
	if haveEntry {
		return entrypc, true, nil
	}
	return 0, false, nil
}

// Name resolves a DIE's DW_AT_name attribute, if any.
func (r *Reader) Name(d DIE, vt VersionTable, strict bool) (string, bool, error) {
	it := r.Attributes(d, vt, strict)
	for {
		v, more, err := it.Next()
		if err != nil {
			return "", false, err
		}
		if !more {
			return "", false, nil
		}
		if v.Attr == AttrName {
			return v.Str(), true, nil
		}
	}
}

// StmtList resolves a DIE's DW_AT_stmt_list attribute (the byte offset of
// this CU's line program within .debug_line), if any.
func (r *Reader) StmtList(d DIE, vt VersionTable, strict bool) (uint64, bool, error) {
	it := r.Attributes(d, vt, strict)
	for {
		v, more, err := it.Next()
		if err != nil {
			return 0, false, err
		}
		if !more {
			return 0, false, nil
		}
		if v.Attr == AttrStmtList {
			return v.Uint(), true, nil
		}
	}
}
