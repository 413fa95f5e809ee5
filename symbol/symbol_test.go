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

package symbol

import (
	"debug/elf"
	"testing"

	"github.com/dwarfscope/dwarfscope/dwarf"
	"github.com/dwarfscope/dwarfscope/test"
)

func sym(name string, value, size uint64) elf.Symbol {
	return elf.Symbol{Name: name, Value: value, Size: size}
}

func TestLookupSymbolFindsContainingSymbol(t *testing.T) {
	syms := []elf.Symbol{
		sym("a", 0x1000, 0x10),
		sym("b", 0x1010, 0x20),
		sym("c", 0x2000, 0x8),
	}

	s, ok := lookupSymbol(syms, 0x1015)
	test.ExpectSuccess(t, ok)
	test.Equate(t, s.Name, "b")
}

func TestLookupSymbolExactlyAtStart(t *testing.T) {
	syms := []elf.Symbol{sym("a", 0x1000, 0x10)}
	s, ok := lookupSymbol(syms, 0x1000)
	test.ExpectSuccess(t, ok)
	test.Equate(t, s.Name, "a")
}

func TestLookupSymbolPastEndIsNoMatch(t *testing.T) {
	syms := []elf.Symbol{sym("a", 0x1000, 0x10)}
	_, ok := lookupSymbol(syms, 0x1010) // one past the last covered byte
	test.ExpectFailure(t, ok)
}

func TestLookupSymbolBeforeFirstIsNoMatch(t *testing.T) {
	syms := []elf.Symbol{sym("a", 0x1000, 0x10)}
	_, ok := lookupSymbol(syms, 0x500)
	test.ExpectFailure(t, ok)
}

func TestLookupSymbolEmptyTable(t *testing.T) {
	_, ok := lookupSymbol(nil, 0x1000)
	test.ExpectFailure(t, ok)
}

func TestLookupSymbolOverlappingSizeChoosesLatestStart(t *testing.T) {
	// a zero-size or oversized symbol whose range swallows the next one's
	// start: binary search still picks the symbol whose start is closest
	// to (at or below) addr, not the one that merely contains it by size.
	syms := []elf.Symbol{
		sym("a", 0x1000, 0x100),
		sym("b", 0x1010, 0x8),
	}
	s, ok := lookupSymbol(syms, 0x1010)
	test.ExpectSuccess(t, ok)
	test.Equate(t, s.Name, "b")
}

func TestBestRowSelectsLastRowAtOrBeforeAddr(t *testing.T) {
	lp := dwarf.LineProgram{
		Rows: []dwarf.LineRow{
			{Address: 0x1000, File: 1, Line: 10},
			{Address: 0x1010, File: 1, Line: 11},
			{Address: 0x1020, File: 1, Line: 0, EndSequence: true},
		},
	}

	row, ok := bestRow(lp, 0x1015)
	test.ExpectSuccess(t, ok)
	test.Equate(t, row.Line, 11)

	row, ok = bestRow(lp, 0x1000)
	test.ExpectSuccess(t, ok)
	test.Equate(t, row.Line, 10)
}

func TestBestRowRejectsAddressAtOrPastEndSequence(t *testing.T) {
	lp := dwarf.LineProgram{
		Rows: []dwarf.LineRow{
			{Address: 0x1000, File: 1, Line: 10},
			{Address: 0x1020, File: 1, Line: 0, EndSequence: true},
		},
	}

	_, ok := bestRow(lp, 0x1020)
	test.ExpectFailure(t, ok)

	_, ok = bestRow(lp, 0x1030)
	test.ExpectFailure(t, ok)
}

func TestBestRowRejectsAddressBeforeFirstRow(t *testing.T) {
	lp := dwarf.LineProgram{
		Rows: []dwarf.LineRow{
			{Address: 0x1000, File: 1, Line: 10},
			{Address: 0x1020, File: 1, Line: 0, EndSequence: true},
		},
	}

	_, ok := bestRow(lp, 0x500)
	test.ExpectFailure(t, ok)
}

func TestBestRowPicksLatestAmongMultipleSequences(t *testing.T) {
	// two sequences both covering addr 0x1005: the row from whichever
	// sequence's entry has the larger address wins, matching the row
	// lookup's "last row at or before addr" rule applied across the whole
	// table rather than per sequence.
	lp := dwarf.LineProgram{
		Rows: []dwarf.LineRow{
			{Address: 0x1000, File: 1, Line: 1},
			{Address: 0x1020, File: 1, Line: 0, EndSequence: true},
			{Address: 0x1002, File: 1, Line: 2},
			{Address: 0x1020, File: 1, Line: 0, EndSequence: true},
		},
	}

	row, ok := bestRow(lp, 0x1005)
	test.ExpectSuccess(t, ok)
	test.Equate(t, row.Line, 2)
}

func TestFileNameWithDirectory(t *testing.T) {
	lp := dwarf.LineProgram{
		IncludeDirectories: []string{"/src"},
		Files: []dwarf.LineFile{
			{Name: "main.c", Directory: 1},
		},
	}
	test.Equate(t, fileName(lp, 1), "/src/main.c")
}

func TestFileNameWithoutDirectory(t *testing.T) {
	lp := dwarf.LineProgram{
		Files: []dwarf.LineFile{
			{Name: "main.c", Directory: 0},
		},
	}
	test.Equate(t, fileName(lp, 1), "main.c")
}

func TestFileNameOutOfRangeIndexReturnsEmpty(t *testing.T) {
	lp := dwarf.LineProgram{
		Files: []dwarf.LineFile{{Name: "main.c"}},
	}
	test.Equate(t, fileName(lp, 0), "")
	test.Equate(t, fileName(lp, 5), "")
}
