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

package errors

// error message templates, one per error kind in the taxonomy. each is used
// with Errorf() as the curated message head, so errors.Is(err,
// errors.Truncated) etc. works regardless of the formatted arguments.
const (
	// byte reader (leb128, section cursors)
	Truncated = "truncated: %v"
	Overflow  = "overflow: %v"

	// abbreviation cache / DIE walker / attribute decoder
	BadAbbrev = "bad abbreviation: %v"
	BadForm   = "bad form: %v"

	// structural contradictions across the DWARF sections
	InvalidDwarf = "invalid dwarf: %v"

	// relocation resolver
	RelBadSym    = "bad relocation symbol: %v"
	RelBadType   = "bad relocation type: %v"
	RelBadOffset = "relocation slot out of bounds: %v"
	RelBadAddend = "relocation addend overflow: %v"

	// CFI / line / symbol lookups that legitimately have no answer
	NoMatch = "no match: %v"

	// DWARF expression and CFI expression interpreter
	ExprError = "expression error: %v"

	// unwinder termination that is not a failure
	RaUndefined = "return address register undefined"

	// memory-read callback refusal during unwinding
	ProcessMemoryRead = "process memory read refused: %v"

	// outer wrapper for "this subsystem is confused"
	Canon = "%v"
)
