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

package dwarf_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/dwarfscope/dwarfscope/dwarf"
	"github.com/dwarfscope/dwarfscope/errors"
	"github.com/dwarfscope/dwarfscope/leb128"
	"github.com/dwarfscope/dwarfscope/reloc"
	"github.com/dwarfscope/dwarfscope/test"
)

// buildAbbrevTable encodes the tiny two-entry abbreviation table this file's
// tests share: code 1 is a DW_TAG_compile_unit with a name, an address-range
// pair and a stmt_list pointer; code 2 is a childless DW_TAG_subprogram with
// just a name.
func buildAbbrevTable() []byte {
	var b bytes.Buffer
	// code 1: DW_TAG_compile_unit, has children
	b.WriteByte(1)
	b.WriteByte(byte(dwarf.TagCompileUnit))
	b.WriteByte(1)
	b.WriteByte(byte(dwarf.AttrName))
	b.WriteByte(byte(dwarf.FormString))
	b.WriteByte(byte(dwarf.AttrLowpc))
	b.WriteByte(byte(dwarf.FormAddr))
	b.WriteByte(byte(dwarf.AttrHighpc))
	b.WriteByte(byte(dwarf.FormData4))
	b.WriteByte(byte(dwarf.AttrStmtList))
	b.WriteByte(byte(dwarf.FormSecOffset))
	b.WriteByte(0)
	b.WriteByte(0)
	// code 2: DW_TAG_subprogram, no children
	b.WriteByte(2)
	b.WriteByte(byte(dwarf.TagSubprogram))
	b.WriteByte(0)
	b.WriteByte(byte(dwarf.AttrName))
	b.WriteByte(byte(dwarf.FormString))
	b.WriteByte(0)
	b.WriteByte(0)
	// end of table
	b.WriteByte(0)
	return b.Bytes()
}

// buildInfoSection encodes one DWARF4, 32-bit-DWARF, 8-byte-address CU
// containing a root compile_unit DIE (name "main.elf", low_pc 0x1000,
// high_pc as a DW_FORM_data4 offset of 0x100, stmt_list 0) with a single
// subprogram child named "f1".
func buildInfoSection() []byte {
	var content bytes.Buffer
	binary.Write(&content, binary.LittleEndian, uint16(4)) // version
	binary.Write(&content, binary.LittleEndian, uint32(0)) // abbrev_offset
	content.WriteByte(8)                                   // address_size

	// root DIE
	content.WriteByte(1) // abbrev code 1
	content.WriteString("main.elf")
	content.WriteByte(0)
	var addr [8]byte
	binary.LittleEndian.PutUint64(addr[:], 0x1000)
	content.Write(addr[:])
	var highpc [4]byte
	binary.LittleEndian.PutUint32(highpc[:], 0x100)
	content.Write(highpc[:])
	var stmtList [4]byte
	binary.LittleEndian.PutUint32(stmtList[:], 0)
	content.Write(stmtList[:])

	// subprogram child
	content.WriteByte(2) // abbrev code 2
	content.WriteString("f1")
	content.WriteByte(0)

	// end of CU's children
	content.WriteByte(0)

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(content.Len()))
	out.Write(content.Bytes())
	return out.Bytes()
}

func newTestReader(t *testing.T) *dwarf.Reader {
	t.Helper()
	abbrev := dwarf.NewAbbrevCache(leb128.NewView(buildAbbrevTable(), binary.LittleEndian, 8, 4))
	info := dwarf.NewSection(leb128.NewView(buildInfoSection(), binary.LittleEndian, 8, 4), nil)
	return dwarf.NewReader(info, dwarf.Section{}, dwarf.Section{}, abbrev)
}

func defaultVT(t *testing.T, version int) dwarf.VersionTable {
	t.Helper()
	vt, err := dwarf.DefaultVersionTable(version, false)
	test.ExpectSuccess(t, err)
	return vt
}

func TestAbbrevCacheDecodesAndMemoizes(t *testing.T) {
	cache := dwarf.NewAbbrevCache(leb128.NewView(buildAbbrevTable(), binary.LittleEndian, 8, 4))

	t1, err := cache.Get(0)
	test.ExpectSuccess(t, err)
	ab, err := t1.Lookup(1)
	test.ExpectSuccess(t, err)
	test.Equate(t, ab.Tag, dwarf.TagCompileUnit)
	test.Equate(t, ab.HasChildren, true)
	test.Equate(t, len(ab.Attrs), 4)

	// a second Get at the same offset must return the identical decoded
	// table rather than re-parsing (and must not fail the second time
	// round, which would indicate the underlying view was consumed).
	t2, err := cache.Get(0)
	test.ExpectSuccess(t, err)
	test.Equate(t, t1, t2)

	_, err = t1.Lookup(99)
	test.ExpectFailure(t, err)
	test.Equate(t, errors.Is(err, errors.BadAbbrev), true)
}

func TestUnitIteratorDecodesHeader(t *testing.T) {
	r := newTestReader(t)
	units := r.Units()

	cu, ok, err := units.Next()
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, true)
	test.Equate(t, cu.Version, 4)
	test.Equate(t, cu.AddressSize, 8)
	test.Equate(t, cu.OffsetSize, 4)

	_, ok, err = units.Next()
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, false)
}

func TestZeroLengthInfoSectionEndsImmediately(t *testing.T) {
	abbrev := dwarf.NewAbbrevCache(leb128.NewView(nil, binary.LittleEndian, 8, 4))
	info := dwarf.NewSection(leb128.NewView(nil, binary.LittleEndian, 8, 4), nil)
	r := dwarf.NewReader(info, dwarf.Section{}, dwarf.Section{}, abbrev)

	_, ok, err := r.Units().Next()
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, false)
}

func TestEmptyAbbrevTableYieldsNullRootDIE(t *testing.T) {
	abbrev := dwarf.NewAbbrevCache(leb128.NewView([]byte{0}, binary.LittleEndian, 8, 4))

	var content bytes.Buffer
	binary.Write(&content, binary.LittleEndian, uint16(4))
	binary.Write(&content, binary.LittleEndian, uint32(0))
	content.WriteByte(8)
	content.WriteByte(0) // null root DIE: abbrev code 0

	var infoBytes bytes.Buffer
	binary.Write(&infoBytes, binary.LittleEndian, uint32(content.Len()))
	infoBytes.Write(content.Bytes())

	info := dwarf.NewSection(leb128.NewView(infoBytes.Bytes(), binary.LittleEndian, 8, 4), nil)
	r := dwarf.NewReader(info, dwarf.Section{}, dwarf.Section{}, abbrev)

	cu, ok, err := r.Units().Next()
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, true)

	root, err := r.DIEAt(cu, cu.RootOffset)
	test.ExpectSuccess(t, err)
	test.Equate(t, root.IsNull(), true)

	children, err := r.Children(root, defaultVT(t, 4), false)
	test.ExpectSuccess(t, err)
	_, ok, err = children.Next()
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, false)
}

func TestDIETreeWalkProducesPreOrder(t *testing.T) {
	r := newTestReader(t)
	vtFunc := func(cu dwarf.CU) (dwarf.VersionTable, error) {
		return dwarf.DefaultVersionTable(cu.Version, false)
	}

	var tags []dwarf.Tag
	tree := r.Tree(vtFunc, false)
	for {
		d, ok, err := tree.Next()
		test.ExpectSuccess(t, err)
		if !ok {
			break
		}
		tags = append(tags, d.Tag())
	}

	test.Equate(t, tags, []dwarf.Tag{dwarf.TagCompileUnit, dwarf.TagSubprogram})
}

func TestChildIteratorWalksDirectChildrenOnly(t *testing.T) {
	r := newTestReader(t)
	vt := defaultVT(t, 4)

	cu, ok, err := r.Units().Next()
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, true)

	root, err := r.DIEAt(cu, cu.RootOffset)
	test.ExpectSuccess(t, err)
	test.Equate(t, root.Tag(), dwarf.TagCompileUnit)

	children, err := r.Children(root, vt, false)
	test.ExpectSuccess(t, err)

	child, ok, err := children.Next()
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, true)
	test.Equate(t, child.Tag(), dwarf.TagSubprogram)

	name, ok, err := r.Name(child, vt, false)
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, true)
	test.Equate(t, name, "f1")

	_, ok, err = children.Next()
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, false)
}

func TestAttributeDecodeAndPCRange(t *testing.T) {
	r := newTestReader(t)
	vt := defaultVT(t, 4)

	cu, ok, err := r.Units().Next()
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, true)

	root, err := r.DIEAt(cu, cu.RootOffset)
	test.ExpectSuccess(t, err)

	name, ok, err := r.Name(root, vt, false)
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, true)
	test.Equate(t, name, "main.elf")

	low, high, ok, err := r.PCRange(root, vt, false)
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, true)
	test.Equate(t, low, uint64(0x1000))
	// DW_AT_high_pc decoded from a constant-class DW_FORM_data4 is an
	// offset added to low_pc, not an absolute address.
	test.Equate(t, high, uint64(0x1100))

	stmt, ok, err := r.StmtList(root, vt, false)
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, true)
	test.Equate(t, stmt, uint64(0))
}

func TestVersionTableAmbiguousResolutionPreDwarf4(t *testing.T) {
	vt, err := dwarf.NewVersionTable(3)
	test.ExpectSuccess(t, err)

	class, err := vt.Resolve(dwarf.AttrStmtList, dwarf.FormData4, false)
	test.ExpectSuccess(t, err)
	test.Equate(t, class, dwarf.ClassLinePtr)

	class, err = vt.Resolve(dwarf.AttrDataMemberLoc, dwarf.FormData4, false)
	test.ExpectSuccess(t, err)
	test.Equate(t, class, dwarf.ClassLocListPtr)
}

func TestVersionTableStrictRejectsVendorExtension(t *testing.T) {
	strict, err := dwarf.DefaultVersionTable(3, true)
	test.ExpectSuccess(t, err)
	_, err = strict.Resolve(dwarf.AttrGNUAllCallSites, dwarf.FormFlagPresent, true)
	test.ExpectFailure(t, err)

	lenient, err := dwarf.DefaultVersionTable(3, false)
	test.ExpectSuccess(t, err)
	class, err := lenient.Resolve(dwarf.AttrGNUAllCallSites, dwarf.FormFlagPresent, false)
	test.ExpectSuccess(t, err)
	test.Equate(t, class, dwarf.ClassFlag)
}

// fakeRelocator lets range-list tests control exactly which byte offsets
// carry a relocation, independent of any ELF file.
type fakeRelocator struct {
	relocated map[uint64]uint64
}

func (f fakeRelocator) Resolve(offset uint64, width reloc.Width, raw uint64) (uint64, bool, error) {
	if v, ok := f.relocated[offset]; ok {
		return v, true, nil
	}
	return raw, false, nil
}

func TestRangeListPlainTerminator(t *testing.T) {
	var b bytes.Buffer
	var lo, hi [8]byte
	binary.LittleEndian.PutUint64(lo[:], 0x10)
	binary.LittleEndian.PutUint64(hi[:], 0x20)
	b.Write(lo[:])
	b.Write(hi[:])
	// plain end-of-list: two raw zero words, neither relocated.
	var z [8]byte
	b.Write(z[:])
	b.Write(z[:])

	r := newTestReader(t)
	sec := dwarf.NewSection(leb128.NewView(b.Bytes(), binary.LittleEndian, 8, 4), nil)

	ranges, err := r.DecodeRangeList(sec, 0, 8, 0x1000)
	test.ExpectSuccess(t, err)
	test.Equate(t, ranges, []dwarf.PCRange{{Low: 0x1010, High: 0x1020}})
}

func TestRangeListRelocatedZeroIsGenuineRange(t *testing.T) {
	// a pair of two independently-relocated zero words is a real [0,0)
	// range, not a terminator; the plain raw-zero pair that follows it
	// does terminate the list.
	rel := fakeRelocator{relocated: map[uint64]uint64{0: 0, 8: 0}}

	var b bytes.Buffer
	var z [16]byte
	b.Write(z[:])
	b.Write(z[:])

	r := newTestReader(t)
	sec := dwarf.NewSection(leb128.NewView(b.Bytes(), binary.LittleEndian, 8, 4), rel)

	ranges, err := r.DecodeRangeList(sec, 0, 8, 0)
	test.ExpectSuccess(t, err)
	test.Equate(t, ranges, []dwarf.PCRange{{Low: 0, High: 0}})
}

func TestRangeListMismatchedRelocationIsInvalid(t *testing.T) {
	rel := fakeRelocator{relocated: map[uint64]uint64{0: 0}}

	var b bytes.Buffer
	var z [16]byte
	b.Write(z[:])

	r := newTestReader(t)
	sec := dwarf.NewSection(leb128.NewView(b.Bytes(), binary.LittleEndian, 8, 4), rel)

	_, err := r.DecodeRangeList(sec, 0, 8, 0)
	test.ExpectFailure(t, err)
	test.Equate(t, errors.Is(err, errors.InvalidDwarf), true)
}

func TestLineProgramDecodesSimpleSequence(t *testing.T) {
	var header bytes.Buffer
	header.WriteByte(1)                                      // minimum_instruction_length
	header.WriteByte(1)                                       // default_is_stmt
	header.WriteByte(0xfb)                                    // line_base (-5)
	header.WriteByte(14)                                      // line_range
	header.WriteByte(13)                                      // opcode_base
	header.Write(make([]byte, 12))                            // standard_opcode_lengths (12 = opcode_base-1)
	header.WriteByte(0)                                       // include_directories terminator
	header.WriteString("main.c")
	header.WriteByte(0)
	header.WriteByte(0) // dir index
	header.WriteByte(0) // mtime
	header.WriteByte(0) // length
	header.WriteByte(0) // file_names terminator

	var program bytes.Buffer
	// DW_LNE_set_address 0x2000
	program.WriteByte(0)
	program.WriteByte(9) // length: 1 (opcode) + 8 (address)
	program.WriteByte(2) // DW_LNE_set_address
	var addr [8]byte
	binary.LittleEndian.PutUint64(addr[:], 0x2000)
	program.Write(addr[:])
	// DW_LNS_copy
	program.WriteByte(1)
	// DW_LNE_end_sequence
	program.WriteByte(0)
	program.WriteByte(1)
	program.WriteByte(1)

	var content bytes.Buffer
	binary.Write(&content, binary.LittleEndian, uint16(4)) // version
	content.WriteByte(1)                                   // maximum_operations_per_instruction
	var headerLenField [4]byte
	binary.LittleEndian.PutUint32(headerLenField[:], uint32(header.Len()))
	content.Write(headerLenField[:])
	content.Write(header.Bytes())
	content.Write(program.Bytes())

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(content.Len()))
	out.Write(content.Bytes())

	r := newTestReader(t)
	sec := dwarf.NewSection(leb128.NewView(out.Bytes(), binary.LittleEndian, 8, 4), nil)

	lp, err := r.DecodeLineProgram(sec, 0, 8)
	test.ExpectSuccess(t, err)
	test.Equate(t, len(lp.Rows), 2)
	test.Equate(t, lp.Rows[0].Address, uint64(0x2000))
	test.Equate(t, lp.Rows[0].EndSequence, false)
	test.Equate(t, lp.Rows[1].EndSequence, true)
	// line-table addresses are non-decreasing within a sequence.
	test.Equate(t, lp.Rows[1].Address >= lp.Rows[0].Address, true)
	test.Equate(t, len(lp.Files), 1)
	test.Equate(t, lp.Files[0].Name, "main.c")
}
