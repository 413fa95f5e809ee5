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

package arch_test

import (
	"encoding/binary"
	"testing"

	"github.com/dwarfscope/dwarfscope/arch"
	"github.com/dwarfscope/dwarfscope/reloc"
	"github.com/dwarfscope/dwarfscope/test"
)

func TestLookupKnownBackends(t *testing.T) {
	for _, name := range []string{"x86-64", "arm", "ppc64"} {
		b, err := arch.Lookup(name)
		test.ExpectSuccess(t, err)
		test.ExpectEquality(t, b.Name(), name)
	}
}

func TestLookupUnknownBackend(t *testing.T) {
	_, err := arch.Lookup("vax")
	test.ExpectFailure(t, err)
}

func TestAMD64ReturnAddressRegister(t *testing.T) {
	b, err := arch.Lookup("x86-64")
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, b.ReturnAddressRegister(), 16)
}

func TestAMD64RelocationWidths(t *testing.T) {
	b, err := arch.Lookup("x86-64")
	test.ExpectSuccess(t, err)

	w, ok := b.RelocationWidth(1) // R_X86_64_64
	test.ExpectEquality(t, ok, true)
	test.ExpectEquality(t, w, reloc.Width8)

	_, ok = b.RelocationWidth(9999)
	test.ExpectEquality(t, ok, false)
}

func TestARMReturnAddressRegister(t *testing.T) {
	b, err := arch.Lookup("arm")
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, b.ReturnAddressRegister(), 14)
}

func TestAMD64DecodeGRegSet(t *testing.T) {
	b, err := arch.Lookup("x86-64")
	test.ExpectSuccess(t, err)

	data := make([]byte, 27*8)
	binary.LittleEndian.PutUint64(data[16*8:], 0xdeadbeef) // rip is field index 16
	binary.LittleEndian.PutUint64(data[19*8:], 0x7ffc0000) // rsp is field index 19

	regs, err := b.DecodeGRegSet(data, binary.LittleEndian)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, regs.PC, uint64(0xdeadbeef))

	sp, ok := regs.Register(7)
	test.ExpectEquality(t, ok, true)
	test.ExpectEquality(t, sp, uint64(0x7ffc0000))
}

func TestAMD64DecodeGRegSetTruncated(t *testing.T) {
	b, err := arch.Lookup("x86-64")
	test.ExpectSuccess(t, err)

	_, err = b.DecodeGRegSet(make([]byte, 4), binary.LittleEndian)
	test.ExpectFailure(t, err)
}

func TestPPC64DescriptorResolver(t *testing.T) {
	b, err := arch.Lookup("ppc64")
	test.ExpectSuccess(t, err)

	dr, ok := b.(arch.DescriptorResolver)
	test.ExpectEquality(t, ok, true)
	test.ExpectEquality(t, dr.DescriptorSection(), ".opd")

	data := make([]byte, 24)
	binary.BigEndian.PutUint64(data[0:], 0x10000200)

	entry, err := dr.ResolveDescriptor(data, 0, binary.BigEndian)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, entry, uint64(0x10000200))

	_, err = dr.ResolveDescriptor(data, 20, binary.BigEndian)
	test.ExpectFailure(t, err)
}

func TestPPC64DecodeGRegSet(t *testing.T) {
	b, err := arch.Lookup("ppc64")
	test.ExpectSuccess(t, err)

	data := make([]byte, 48*8)
	binary.BigEndian.PutUint64(data[32*8:], 0x10000300) // nip
	binary.BigEndian.PutUint64(data[36*8:], 0x10000400) // link

	regs, err := b.DecodeGRegSet(data, binary.BigEndian)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, regs.PC, uint64(0x10000300))

	lr, ok := regs.Register(65)
	test.ExpectEquality(t, ok, true)
	test.ExpectEquality(t, lr, uint64(0x10000400))
}
