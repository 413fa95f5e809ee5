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
	"sync"

	"github.com/dwarfscope/dwarfscope/errors"
	"github.com/dwarfscope/dwarfscope/leb128"
)

// AbbrevAttr is one (attribute, form) pair in an abbreviation declaration.
// ImplicitConst is only meaningful when Form is FormImplicitConst, in which
// case it carries the constant value that would otherwise have to be
// encoded per-DIE.
type AbbrevAttr struct {
	Attr          Attr
	Form          Form
	ImplicitConst int64
}

// Abbrev is one decoded abbreviation declaration: "DIEs using code Code
// have tag Tag, optionally have children, and carry exactly these
// attributes in this order."
type Abbrev struct {
	Code        uint64
	Tag         Tag
	HasChildren bool
	Attrs       []AbbrevAttr
}

// AbbrevTable is one CU's fully decoded abbreviation table, keyed by code.
type AbbrevTable struct {
	byCode map[uint64]Abbrev
}

// Lookup finds the abbreviation declaration for code.
func (t AbbrevTable) Lookup(code uint64) (Abbrev, error) {
	a, ok := t.byCode[code]
	if !ok {
		return Abbrev{}, errors.Errorf(errors.BadAbbrev, fmt.Sprintf("abbreviation code %d not found in table", code))
	}
	return a, nil
}

// decodeAbbrevTable decodes one abbreviation table out of view starting at
// offset, running until the (0) end-of-table code.
func decodeAbbrevTable(view leb128.View, offset int) (AbbrevTable, error) {
	table := AbbrevTable{byCode: map[uint64]Abbrev{}}
	pos := offset

	for {
		code, next, err := view.Uleb128(pos)
		if err != nil {
			return AbbrevTable{}, errors.Errorf(errors.BadAbbrev, fmt.Sprintf("reading abbreviation code: %v", err))
		}
		pos = next
		if code == 0 {
			return table, nil
		}

		tag, next, err := view.Uleb128(pos)
		if err != nil {
			return AbbrevTable{}, errors.Errorf(errors.BadAbbrev, fmt.Sprintf("reading tag for code %d: %v", code, err))
		}
		pos = next

		hasChildren, next, err := view.U8(pos)
		if err != nil {
			return AbbrevTable{}, errors.Errorf(errors.BadAbbrev, fmt.Sprintf("reading has_children for code %d: %v", code, err))
		}
		pos = next

		var attrs []AbbrevAttr
		for {
			attr, next, err := view.Uleb128(pos)
			if err != nil {
				return AbbrevTable{}, errors.Errorf(errors.BadAbbrev, fmt.Sprintf("reading attribute for code %d: %v", code, err))
			}
			pos = next

			form, next, err := view.Uleb128(pos)
			if err != nil {
				return AbbrevTable{}, errors.Errorf(errors.BadAbbrev, fmt.Sprintf("reading form for code %d: %v", code, err))
			}
			pos = next

			if attr == 0 && form == 0 {
				break
			}

			aa := AbbrevAttr{Attr: Attr(attr), Form: Form(form)}
			if Form(form) == FormImplicitConst {
				v, next, err := view.Sleb128(pos)
				if err != nil {
					return AbbrevTable{}, errors.Errorf(errors.BadAbbrev, fmt.Sprintf("reading implicit_const for code %d: %v", code, err))
				}
				pos = next
				aa.ImplicitConst = v
			}

			attrs = append(attrs, aa)
		}

		table.byCode[code] = Abbrev{Code: code, Tag: Tag(tag), HasChildren: hasChildren != 0, Attrs: attrs}
	}
}

// AbbrevCache lazily decodes and memoizes abbreviation tables from
// .debug_abbrev, keyed by the byte offset a CU header points at. Multiple
// CUs commonly share the same abbreviation table (same offset), so the
// cache avoids redundant decoding.
type AbbrevCache struct {
	view leb128.View

	mu     sync.Mutex
	tables map[uint64]AbbrevTable
}

// NewAbbrevCache wraps the full .debug_abbrev section view.
func NewAbbrevCache(view leb128.View) *AbbrevCache {
	return &AbbrevCache{view: view, tables: map[uint64]AbbrevTable{}}
}

// Get returns the abbreviation table at the given .debug_abbrev offset,
// decoding and memoizing it on first access.
func (c *AbbrevCache) Get(offset uint64) (AbbrevTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tables[offset]; ok {
		return t, nil
	}

	t, err := decodeAbbrevTable(c.view, int(offset))
	if err != nil {
		return AbbrevTable{}, err
	}
	c.tables[offset] = t
	return t, nil
}
