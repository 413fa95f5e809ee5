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

package unwind_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/dwarfscope/dwarfscope/arch"
	"github.com/dwarfscope/dwarfscope/cfi"
	"github.com/dwarfscope/dwarfscope/dwarf"
	"github.com/dwarfscope/dwarfscope/leb128"
	"github.com/dwarfscope/dwarfscope/test"
	"github.com/dwarfscope/dwarfscope/unwind"
)

// buildTable decodes a single-CIE, single-FDE .debug_frame table covering
// [0x1000, 0x1010), whose FDE instructions are exactly extra (appended after
// an empty CIE, so the backend's architectural defaults -- DW_CFA_def_cfa
// (RSP,8); DW_CFA_offset(RIP,1) on amd64 -- are still the starting state).
func buildTable(t *testing.T, extra []byte) *cfi.Table {
	t.Helper()

	var cie bytes.Buffer
	cie.Write([]byte{0xff, 0xff, 0xff, 0xff}) // CIE_id
	cie.WriteByte(1)                          // version
	cie.WriteByte(0)                          // augmentation: empty
	cie.WriteByte(1)                          // code_alignment_factor
	cie.WriteByte(0x78)                       // data_alignment_factor SLEB128(-8)
	cie.WriteByte(16)                         // return_address_register

	var cieOut bytes.Buffer
	binary.Write(&cieOut, binary.LittleEndian, uint32(cie.Len()))
	cieOut.Write(cie.Bytes())

	var fde bytes.Buffer
	binary.Write(&fde, binary.LittleEndian, uint32(0)) // CIE pointer
	var loc, rng [8]byte
	binary.LittleEndian.PutUint64(loc[:], 0x1000)
	binary.LittleEndian.PutUint64(rng[:], 0x10)
	fde.Write(loc[:])
	fde.Write(rng[:])
	fde.Write(extra)

	var fdeOut bytes.Buffer
	binary.Write(&fdeOut, binary.LittleEndian, uint32(fde.Len()))
	fdeOut.Write(fde.Bytes())

	var all bytes.Buffer
	all.Write(cieOut.Bytes())
	all.Write(fdeOut.Bytes())

	sec := dwarf.NewSection(leb128.NewView(all.Bytes(), binary.LittleEndian, 8, 4), nil)
	table, err := cfi.Decode(sec, 8, false)
	test.ExpectSuccess(t, err)
	return table
}

// fakeModule wires a decoded CFI table and a configurable entry-function
// boundary into the unwind.Module interface.
type fakeModule struct {
	table   *cfi.Table
	backend arch.Backend
	entryAt func(pc uint64) bool
}

func (m fakeModule) CFITable() (*cfi.Table, bool)        { return m.table, true }
func (m fakeModule) Backend() arch.Backend               { return m.backend }
func (m fakeModule) ContainsEntryFunction(pc uint64) bool { return m.entryAt(pc) }

type fakeLookup struct {
	mod fakeModule
	ok  bool
}

func (l fakeLookup) ModuleFor(pc uint64) (unwind.Module, bool) {
	if !l.ok {
		return nil, false
	}
	return l.mod, true
}

func amd64Backend(t *testing.T) arch.Backend {
	t.Helper()
	b, err := arch.Lookup("x86-64")
	test.ExpectSuccess(t, err)
	return b
}

func TestUnwindTwoFrameCallChainWithEntryFunctionBottom(t *testing.T) {
	backend := amd64Backend(t)
	table := buildTable(t, nil) // no FDE instructions: pure backend defaults
	mod := fakeModule{
		table:   table,
		backend: backend,
		entryAt: func(pc uint64) bool { return pc >= 0x2000 },
	}
	lookup := fakeLookup{mod: mod, ok: true}

	// return address at the CFA's caller-saved slot: CFA = RSP+8 = 0x7008,
	// RIP saved at CFA-8 = 0x7000, pointing one byte past the call
	// instruction at 0x2000 -- the -1 adjustment the next lookup applies
	// must land back inside the entry function's range.
	mem := func(addr uint64) (uint64, bool) {
		if addr == 0x7000 {
			return 0x2001, true
		}
		return 0, false
	}

	initial := arch.ProcessRegisters{
		PC:     0x1004,
		Values: map[int]uint64{7: 0x7000},
		Known:  map[int]bool{7: true},
	}

	frames, err := unwind.Unwind(lookup, mem, initial, 0)
	test.ExpectSuccess(t, err)
	test.Equate(t, len(frames), 2)

	test.Equate(t, frames[0].Registers.PC, uint64(0x1004))
	cfa, ok := frames[0].CFA()
	test.ExpectSuccess(t, ok)
	test.Equate(t, cfa, uint64(0x7008))
	test.Equate(t, frames[0].SignalFrame, false)

	test.Equate(t, frames[1].Registers.PC, uint64(0x2001))
	_, ok = frames[1].CFA()
	test.ExpectFailure(t, ok)
}

func TestUnwindRespectsMaxFrames(t *testing.T) {
	backend := amd64Backend(t)
	table := buildTable(t, nil)
	mod := fakeModule{
		table:   table,
		backend: backend,
		entryAt: func(pc uint64) bool { return pc >= 0x2000 },
	}
	lookup := fakeLookup{mod: mod, ok: true}

	mem := func(addr uint64) (uint64, bool) {
		if addr == 0x7000 {
			return 0x2001, true
		}
		return 0, false
	}
	initial := arch.ProcessRegisters{
		PC:     0x1004,
		Values: map[int]uint64{7: 0x7000},
		Known:  map[int]bool{7: true},
	}

	frames, err := unwind.Unwind(lookup, mem, initial, 1)
	test.ExpectSuccess(t, err)
	test.Equate(t, len(frames), 1)
}

func TestUnwindStopsCleanlyWhenReturnAddressUndefined(t *testing.T) {
	backend := amd64Backend(t)
	// DW_CFA_undefined(16) overrides the backend default, marking the
	// return-address register as having no recoverable value in the caller.
	table := buildTable(t, []byte{0x07, 16})
	mod := fakeModule{
		table:   table,
		backend: backend,
		entryAt: func(pc uint64) bool { return false },
	}
	lookup := fakeLookup{mod: mod, ok: true}

	mem := func(addr uint64) (uint64, bool) { return 0, false }
	initial := arch.ProcessRegisters{
		PC:     0x1004,
		Values: map[int]uint64{7: 0x7000},
		Known:  map[int]bool{7: true},
	}

	frames, err := unwind.Unwind(lookup, mem, initial, 0)
	test.ExpectSuccess(t, err)
	test.Equate(t, len(frames), 1)
}

func TestUnwindStopsWhenModuleLookupMisses(t *testing.T) {
	lookup := fakeLookup{ok: false}
	mem := func(addr uint64) (uint64, bool) { return 0, false }
	initial := arch.ProcessRegisters{PC: 0x1004}

	frames, err := unwind.Unwind(lookup, mem, initial, 0)
	test.ExpectSuccess(t, err)
	test.Equate(t, len(frames), 0)
}

// rangeLookup picks a module by which half ([0x1000,0x2000) or
// [0x2000,0x3000)) a pc falls in, so a test can give the trampoline and its
// interrupted function distinct CFI tables.
type rangeLookup struct {
	low  fakeModule
	high fakeModule
}

func (l rangeLookup) ModuleFor(pc uint64) (unwind.Module, bool) {
	if pc < 0x2000 {
		return l.low, true
	}
	return l.high, true
}

// buildSignalTable builds a .debug_frame section with a single CIE carrying
// the eh_frame "zS" augmentation (signal_frame) and one FDE covering
// [0x1000, 0x1010).
func buildSignalTable(t *testing.T) *cfi.Table {
	t.Helper()

	var cie bytes.Buffer
	cie.Write([]byte{0xff, 0xff, 0xff, 0xff}) // CIE_id
	cie.WriteByte(1)                          // version
	cie.WriteString("zS")
	cie.WriteByte(0) // augmentation data length: ULEB128(0)
	cie.WriteByte(0)
	cie.WriteByte(1)    // code_alignment_factor
	cie.WriteByte(0x78) // data_alignment_factor SLEB128(-8)
	cie.WriteByte(16)   // return_address_register

	var cieOut bytes.Buffer
	binary.Write(&cieOut, binary.LittleEndian, uint32(cie.Len()))
	cieOut.Write(cie.Bytes())

	var fde bytes.Buffer
	binary.Write(&fde, binary.LittleEndian, uint32(0)) // CIE pointer
	var loc, rng [8]byte
	binary.LittleEndian.PutUint64(loc[:], 0x1000)
	binary.LittleEndian.PutUint64(rng[:], 0x10)
	fde.Write(loc[:])
	fde.Write(rng[:])

	var fdeOut bytes.Buffer
	binary.Write(&fdeOut, binary.LittleEndian, uint32(fde.Len()))
	fdeOut.Write(fde.Bytes())

	var all bytes.Buffer
	all.Write(cieOut.Bytes())
	all.Write(fdeOut.Bytes())

	sec := dwarf.NewSection(leb128.NewView(all.Bytes(), binary.LittleEndian, 8, 4), nil)
	table, err := cfi.Decode(sec, 8, false)
	test.ExpectSuccess(t, err)
	return table
}

// buildTableAt builds a single-CIE, single-FDE .debug_frame table like
// buildTable but for an FDE range starting at loc rather than 0x1000, so a
// test can stack a second table above a signal trampoline's range.
func buildTableAt(t *testing.T, loc uint64, extra []byte) *cfi.Table {
	t.Helper()

	var cie bytes.Buffer
	cie.Write([]byte{0xff, 0xff, 0xff, 0xff}) // CIE_id
	cie.WriteByte(1)                          // version
	cie.WriteByte(0)                          // augmentation: empty
	cie.WriteByte(1)                          // code_alignment_factor
	cie.WriteByte(0x78)                       // data_alignment_factor SLEB128(-8)
	cie.WriteByte(16)                         // return_address_register

	var cieOut bytes.Buffer
	binary.Write(&cieOut, binary.LittleEndian, uint32(cie.Len()))
	cieOut.Write(cie.Bytes())

	var fde bytes.Buffer
	binary.Write(&fde, binary.LittleEndian, uint32(0)) // CIE pointer
	var locBytes, rng [8]byte
	binary.LittleEndian.PutUint64(locBytes[:], loc)
	binary.LittleEndian.PutUint64(rng[:], 0x10)
	fde.Write(locBytes[:])
	fde.Write(rng[:])
	fde.Write(extra)

	var fdeOut bytes.Buffer
	binary.Write(&fdeOut, binary.LittleEndian, uint32(fde.Len()))
	fdeOut.Write(fde.Bytes())

	var all bytes.Buffer
	all.Write(cieOut.Bytes())
	all.Write(fdeOut.Bytes())

	sec := dwarf.NewSection(leb128.NewView(all.Bytes(), binary.LittleEndian, 8, 4), nil)
	table, err := cfi.Decode(sec, 8, false)
	test.ExpectSuccess(t, err)
	return table
}

// TestUnwindMarksTheTrampolineFrameItselfAsSignal is a regression test: the
// frame produced for a PC covered by a signal_frame CIE must itself carry
// SignalFrame == true, not the frame produced on the following iteration.
// Confusing the two would both mislabel the trampoline and apply the
// skip-the-"-1"-adjustment exemption to the wrong frame.
func TestUnwindMarksTheTrampolineFrameItselfAsSignal(t *testing.T) {
	backend := amd64Backend(t)

	trampoline := buildSignalTable(t)
	// DW_CFA_def_cfa(RIP=16, 0): CFA := caller.Values[16], so the second
	// frame's CFA can be computed purely from the return-address register
	// the trampoline's row recovers, without needing RSP to be known too.
	interrupted := buildTableAt(t, 0x2000, []byte{0x0c, 16, 0, 0x08, 16})

	low := fakeModule{
		table:   trampoline,
		backend: backend,
		entryAt: func(pc uint64) bool { return false },
	}
	high := fakeModule{
		table:   interrupted,
		backend: backend,
		entryAt: func(pc uint64) bool { return pc >= 0x3000 },
	}
	lookup := rangeLookup{low: low, high: high}

	// Register 7 (RSP) = 0x7000 gives the trampoline frame CFA = 0x7008;
	// its default RIP rule reads the interrupted function's exact,
	// pre-adjustment PC from CFA-8.
	mem := func(addr uint64) (uint64, bool) {
		if addr == 0x7000 {
			return 0x2001, true
		}
		return 0, false
	}

	initial := arch.ProcessRegisters{
		PC:     0x1004,
		Values: map[int]uint64{7: 0x7000},
		Known:  map[int]bool{7: true},
	}

	frames, err := unwind.Unwind(lookup, mem, initial, 2)
	test.ExpectSuccess(t, err)
	test.Equate(t, len(frames), 2)

	test.Equate(t, frames[0].Registers.PC, uint64(0x1004))
	test.Equate(t, frames[0].SignalFrame, true)

	// The frame recovered from inside the trampoline must use the exact
	// saved PC with no "-1" call-site adjustment, and must not itself be
	// marked a signal frame.
	test.Equate(t, frames[1].Registers.PC, uint64(0x2001))
	test.Equate(t, frames[1].SignalFrame, false)
}
