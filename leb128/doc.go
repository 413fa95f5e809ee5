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

// Package leb128 is the lowest layer of the DWARF reader: a byte-order aware
// cursor over a section's raw bytes, plus decoders for the LEB128
// variable-length integer encodings used throughout the DWARF format.
//
// Every other package in this module reads section bytes exclusively through
// a View constructed here; none of them index a []byte directly. That keeps
// bounds checking, address/offset sizing (4 vs 8 bytes, for 32- vs 64-bit
// DWARF), and byte order in one place.
//
// Details of LEB128 can be found in the DWARF4 Standard on page 161, "7.6
// Variable Length Data".
package leb128
