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

package reloc

import (
	"debug/elf"
	"fmt"

	"github.com/dwarfscope/dwarfscope/errors"
)

// Resolver combines a digested Table with the ELF symbol table needed to
// turn a relocation Entry into a final value (symbol_value + addend). It is
// the thing the dwarf package actually reads through; the Table alone only
// knows offsets and symbol indices.
type Resolver struct {
	table   *Table
	symbols []elf.Symbol
}

// NewResolver pairs a digested Table with the symbol table its entries
// index into.
func NewResolver(table *Table, symbols []elf.Symbol) *Resolver {
	return &Resolver{table: table, symbols: symbols}
}

// Resolve reports the effective value for a read of width bytes at offset:
// if a relocation applies, it is symbol_value+addend (or just the addend,
// for a pre-resolved entry); otherwise raw is returned unchanged and
// relocated is false.
func (r *Resolver) Resolve(offset uint64, width Width, raw uint64) (value uint64, relocated bool, err error) {
	e, found, err := r.table.Lookup(offset, width)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return raw, false, nil
	}

	if e.PreResolved {
		return uint64(e.Addend), true, nil
	}

	if int(e.SymbolIndex) == 0 || int(e.SymbolIndex) > len(r.symbols) {
		return 0, false, errors.Errorf(errors.RelBadSym, fmt.Sprintf("relocation symbol index %d out of range (%d symbols)", e.SymbolIndex, len(r.symbols)))
	}
	sym := r.symbols[e.SymbolIndex-1]

	return uint64(int64(sym.Value) + e.Addend), true, nil
}

// IsRelocated reports whether a relocation applies at offset for the given
// width, without computing the resolved value.
func (r *Resolver) IsRelocated(offset uint64, width Width) (bool, error) {
	_, found, err := r.table.Lookup(offset, width)
	return found, err
}

// Len exposes the underlying table's entry count.
func (r *Resolver) Len() int {
	return r.table.Len()
}
