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
	"github.com/dwarfscope/dwarfscope/leb128"
	"github.com/dwarfscope/dwarfscope/reloc"
)

// Offset is an absolute byte offset into one of the sections a Section
// wraps (.debug_info, .debug_types, .debug_str, ...).
type Offset uint64

// Relocator resolves whatever relocation, if any, applies to a read of
// width bytes at a byte offset within one section. It is satisfied by
// *reloc.Resolver; this package depends only on the interface so that
// synthetic test sections can supply a trivial stand-in with no ELF
// involved at all.
type Relocator interface {
	Resolve(offset uint64, width reloc.Width, raw uint64) (value uint64, relocated bool, err error)
}

// Section pairs a byte-reading View with the (possibly nil) Relocator that
// applies to it. Every component that walks DWARF bytes reads exclusively
// through a Section, never a bare []byte.
type Section struct {
	View leb128.View
	Rel  Relocator
}

// NewSection wraps a View with an optional relocator.
func NewSection(view leb128.View, rel Relocator) Section {
	return Section{View: view, Rel: rel}
}

// ReadAddress reads an address-sized value at offset, consulting Rel if
// present. It reports whether the value came from a relocation.
func (s Section) ReadAddress(offset int) (value uint64, relocated bool, next int, err error) {
	raw, next, err := s.View.Address(offset)
	if err != nil {
		return 0, false, offset, err
	}
	if s.Rel == nil {
		return raw, false, next, nil
	}
	value, relocated, err = s.Rel.Resolve(uint64(offset), reloc.Width(s.View.AddressSize()), raw)
	if err != nil {
		return 0, false, offset, err
	}
	return value, relocated, next, nil
}

// ReadOffset reads an offset-sized value at offset, consulting Rel if
// present.
func (s Section) ReadOffset(offset int) (value uint64, relocated bool, next int, err error) {
	raw, next, err := s.View.Offset(offset)
	if err != nil {
		return 0, false, offset, err
	}
	if s.Rel == nil {
		return raw, false, next, nil
	}
	value, relocated, err = s.Rel.Resolve(uint64(offset), reloc.Width(s.View.OffsetSize()), raw)
	if err != nil {
		return 0, false, offset, err
	}
	return value, relocated, next, nil
}
