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

package reloc_test

import (
	"testing"

	"github.com/dwarfscope/dwarfscope/reloc"
	"github.com/dwarfscope/dwarfscope/test"
)

// a fake backend standing in for an arch.Backend, so this package's tests
// don't need to import arch (which itself imports reloc).
type fakeBackend struct{}

func (fakeBackend) RelocationWidth(relType uint32) (reloc.Width, bool) {
	switch relType {
	case 1:
		return reloc.Width4, true
	default:
		return 0, false
	}
}

func TestLookupMiss(t *testing.T) {
	tab := &reloc.Table{}
	_, found, err := tab.Lookup(0, reloc.Width4)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, found, false)
}

func TestLenOfEmptyTable(t *testing.T) {
	tab := &reloc.Table{}
	test.ExpectEquality(t, tab.Len(), 0)
}
