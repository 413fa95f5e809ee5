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

// Package symbol resolves an address to a symbol: given an address, find
// the owning module, subtract its load bias, binary-search its symbol
// table, then refine the result with a source file/line/column by walking
// the owning compilation unit's line-number program.
package symbol

import (
	"debug/elf"
	"sort"

	"github.com/dwarfscope/dwarfscope/arch"
	"github.com/dwarfscope/dwarfscope/dwarf"
	"github.com/dwarfscope/dwarfscope/module"
)

// Symbol is one resolved ELF symbol, its Value already adjusted into the
// runtime address space by the owning module's load bias.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

// Location is the full answer to "what is at this address": the owning
// module and symbol, plus source position when DWARF line-number
// information is available.
type Location struct {
	Module *module.Module
	Symbol Symbol
	Offset uint64 // addr - Symbol.Value, within the symbol

	File    string
	Line    int
	Column  int
	HasLine bool
}

// Resolve runs the address-to-symbol algorithm: owning module, then
// symbol table, then (if available) source line.
func Resolve(reg *module.Registry, addr uint64) (Location, bool, error) {
	m, ok := reg.ModuleForAddr(addr)
	if !ok {
		return Location{}, false, nil
	}

	biased := addr - uint64(m.Bias)

	syms, err := symbolTable(m)
	if err != nil {
		return Location{}, false, err
	}

	sym, ok := lookupSymbol(syms, biased)
	if !ok {
		return Location{Module: m}, false, nil
	}

	loc := Location{
		Module: m,
		Symbol: Symbol{Name: sym.Name, Value: sym.Value + uint64(m.Bias), Size: sym.Size},
		Offset: biased - sym.Value,
	}

	if file, line, col, ok := refineLine(m, biased); ok {
		loc.File, loc.Line, loc.Column, loc.HasLine = file, line, col, true
	}

	return loc, true, nil
}

// lookupSymbol finds the largest symbol with st_value <= addr and
// st_value+st_size > addr, by binary search over the value-sorted table.
func lookupSymbol(syms []elf.Symbol, addr uint64) (elf.Symbol, bool) {
	i := sort.Search(len(syms), func(i int) bool { return syms[i].Value > addr })
	if i == 0 {
		return elf.Symbol{}, false
	}
	s := syms[i-1]
	if s.Value <= addr && s.Value+s.Size > addr {
		return s, true
	}
	return elf.Symbol{}, false
}

// symbolTable returns the module's function/object symbols sorted by
// value, with PowerPC64 ELFv1 function descriptors dereferenced into
// synthetic symbols pointing at their real code entry point.
func symbolTable(m *module.Module) ([]elf.Symbol, error) {
	syms, err := m.Symbols()
	if err != nil {
		return nil, err
	}

	filtered := make([]elf.Symbol, 0, len(syms))
	for _, s := range syms {
		if s.Value == 0 || s.Name == "" {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT:
			filtered = append(filtered, s)
		}
	}

	if dr, ok := m.Backend().(arch.DescriptorResolver); ok {
		filtered = resolveDescriptors(m, dr, filtered)
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Value < filtered[j].Value })
	return filtered, nil
}

// resolveDescriptors implements the PowerPC64 function-descriptor hook: a function
// symbol whose value falls inside the descriptor section is replaced by a
// synthetic symbol whose value is the descriptor's dereferenced code entry
// point.
func resolveDescriptors(m *module.Module, dr arch.DescriptorResolver, syms []elf.Symbol) []elf.Symbol {
	sec, ok := m.Section(dr.DescriptorSection())
	if !ok {
		return syms
	}
	data, err := sec.Data()
	if err != nil {
		return syms
	}

	out := make([]elf.Symbol, 0, len(syms))
	for _, s := range syms {
		if s.Value >= sec.Addr && s.Value < sec.Addr+sec.Size {
			if entry, err := dr.ResolveDescriptor(data, int(s.Value-sec.Addr), m.ByteOrder()); err == nil {
				s.Value = entry
			}
		}
		out = append(out, s)
	}
	return out
}

// refineLine finds the compile unit whose address range contains addr,
// decodes its line program, and reports the row covering addr.
func refineLine(m *module.Module, addr uint64) (file string, line, col int, ok bool) {
	r, err := m.DWARFReader()
	if err != nil {
		return "", 0, 0, false
	}
	lineSec, err := m.LineSection()
	if err != nil {
		return "", 0, 0, false
	}

	units := r.Units()
	for {
		cu, more, err := units.Next()
		if err != nil || !more {
			break
		}

		root, err := r.DIEAt(cu, cu.RootOffset)
		if err != nil {
			continue
		}

		vt, err := dwarf.DefaultVersionTable(cu.Version, m.Strict())
		if err != nil {
			continue
		}

		low, high, haveRange, err := r.PCRange(root, vt, m.Strict())
		if err != nil || !haveRange || addr < low || addr >= high {
			continue
		}

		stmtOff, haveStmt, err := r.StmtList(root, vt, m.Strict())
		if err != nil || !haveStmt {
			continue
		}

		lp, err := r.DecodeLineProgram(lineSec, int(stmtOff), cu.AddressSize)
		if err != nil {
			continue
		}

		row, ok := bestRow(lp, addr)
		if !ok {
			return "", 0, 0, false
		}
		return fileName(lp, row.File), row.Line, row.Column, true
	}

	return "", 0, 0, false
}

// bestRow finds the line-table row covering addr: the last non-end-sequence
// row at or before addr whose following row (or end-of-sequence marker) is
// strictly after addr.
func bestRow(lp dwarf.LineProgram, addr uint64) (dwarf.LineRow, bool) {
	var best dwarf.LineRow
	found := false

	for i, row := range lp.Rows {
		if row.EndSequence || row.Address > addr {
			continue
		}

		next := ^uint64(0)
		if i+1 < len(lp.Rows) {
			next = lp.Rows[i+1].Address
		}
		if addr >= next {
			continue
		}

		if !found || row.Address > best.Address {
			best = row
			found = true
		}
	}

	return best, found
}

// fileName resolves a line program's 1-based file index into a path,
// joining in its directory table entry when one is recorded.
func fileName(lp dwarf.LineProgram, idx int) string {
	i := idx - 1
	if i < 0 || i >= len(lp.Files) {
		return ""
	}
	f := lp.Files[i]
	if f.Directory > 0 && f.Directory-1 < len(lp.IncludeDirectories) {
		return lp.IncludeDirectories[f.Directory-1] + "/" + f.Name
	}
	return f.Name
}
