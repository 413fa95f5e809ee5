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

package module

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/dwarfscope/dwarfscope/test"
)

func TestAlign4(t *testing.T) {
	test.Equate(t, align4(0), 0)
	test.Equate(t, align4(1), 4)
	test.Equate(t, align4(4), 4)
	test.Equate(t, align4(5), 8)
}

// buildNote encodes one ELF note entry (name/desc/type triple, each field
// padded to 4-byte alignment) the way a PT_NOTE segment or SHT_NOTE section
// lays them out.
func buildNote(name string, typ uint32, desc []byte, order binary.ByteOrder) []byte {
	nameBytes := append([]byte(name), 0) // NUL terminator counts toward nameSz
	var buf []byte
	var hdr [12]byte
	order.PutUint32(hdr[0:], uint32(len(nameBytes)))
	order.PutUint32(hdr[4:], uint32(len(desc)))
	order.PutUint32(hdr[8:], typ)
	buf = append(buf, hdr[:]...)
	buf = append(buf, nameBytes...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	buf = append(buf, desc...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

func TestParseNotesDecodesSingleEntry(t *testing.T) {
	desc := []byte{0xde, 0xad, 0xbe, 0xef}
	data := buildNote(noteNameGNU[:len(noteNameGNU)-1], 3, desc, binary.LittleEndian)

	notes := parseNotes(data, binary.LittleEndian)
	test.Equate(t, len(notes), 1)
	test.Equate(t, notes[0].Name, noteNameGNU)
	test.Equate(t, notes[0].Type, uint32(3))
	test.Equate(t, notes[0].Desc, desc)
}

func TestParseNotesDecodesMultipleEntries(t *testing.T) {
	var data []byte
	data = append(data, buildNote(noteNameGNU[:len(noteNameGNU)-1], 3, []byte{1, 2, 3, 4}, binary.LittleEndian)...)
	data = append(data, buildNote("CORE", 1, []byte{5, 6, 7, 8, 9, 10}, binary.LittleEndian)...)

	notes := parseNotes(data, binary.LittleEndian)
	test.Equate(t, len(notes), 2)
	test.Equate(t, notes[0].Type, uint32(3))
	test.Equate(t, notes[1].Name, "CORE\x00")
	test.Equate(t, notes[1].Desc, []byte{5, 6, 7, 8, 9, 10})
}

func TestParseNotesStopsOnTruncatedHeader(t *testing.T) {
	notes := parseNotes([]byte{1, 2, 3}, binary.LittleEndian)
	test.Equate(t, len(notes), 0)
}

func TestFindBuildIDNoteMatchesGNUOwnerAndType(t *testing.T) {
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	data := buildNote(noteNameGNU[:len(noteNameGNU)-1], 3, want, binary.LittleEndian)

	id, ok := findBuildIDNote(data, binary.LittleEndian)
	test.ExpectSuccess(t, ok)
	test.Equate(t, id, want)
}

func TestFindBuildIDNoteIgnoresOtherOwners(t *testing.T) {
	data := buildNote("CORE", 3, []byte{1, 2, 3, 4}, binary.LittleEndian)
	_, ok := findBuildIDNote(data, binary.LittleEndian)
	test.ExpectFailure(t, ok)
}

func TestBuildIDHex(t *testing.T) {
	test.Equate(t, buildIDHex([]byte{0xab, 0xcd, 0xef}), "abcdef")
}

func TestBuildIDPathSplitsFirstByteAsDirectory(t *testing.T) {
	path, err := BuildIDPath("/usr/lib/debug", []byte{0xab, 0xcd, 0xef, 0x01}, true)
	test.ExpectSuccess(t, err)
	test.Equate(t, path, filepath.Join("/usr/lib/debug", ".build-id", "ab", "cdef01.debug"))
}

func TestBuildIDPathWithoutDebugSuffix(t *testing.T) {
	path, err := BuildIDPath("/usr/lib/debug", []byte{0xab, 0xcd}, false)
	test.ExpectSuccess(t, err)
	test.Equate(t, path, filepath.Join("/usr/lib/debug", ".build-id", "ab", "cd"))
}

func TestBuildIDPathRejectsTooShortID(t *testing.T) {
	// a single byte hex-renders to two characters, short of the 3 needed to
	// split a directory byte from a non-empty remainder.
	_, err := BuildIDPath("/usr/lib/debug", []byte{0xab}, false)
	test.ExpectFailure(t, err)
}

func TestVerifyDebugLinkCRC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.debug")
	content := []byte("debug information payload")
	test.ExpectSuccess(t, os.WriteFile(path, content, 0o644))

	want := crc32.ChecksumIEEE(content)
	ok, err := VerifyDebugLinkCRC(path, want)
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, true)

	ok, err = VerifyDebugLinkCRC(path, want+1)
	test.ExpectSuccess(t, err)
	test.Equate(t, ok, false)
}

func TestCanonicalExistsRejectsMissingFile(t *testing.T) {
	_, ok := canonicalExists(filepath.Join(t.TempDir(), "nope"))
	test.ExpectFailure(t, ok)
}

func TestCanonicalExistsResolvesSymlink(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real.debug")
	test.ExpectSuccess(t, os.WriteFile(real, []byte("x"), 0o644))

	link := filepath.Join(dir, "link.debug")
	test.ExpectSuccess(t, os.Symlink(real, link))

	resolved, ok := canonicalExists(link)
	test.ExpectSuccess(t, ok)
	test.Equate(t, resolved, real)
}

func TestSearchBuildIDFindsCanonicalFile(t *testing.T) {
	dir := t.TempDir()
	id := []byte{0xab, 0xcd, 0xef, 0x01}
	full, err := BuildIDPath(dir, id, true)
	test.ExpectSuccess(t, err)
	test.ExpectSuccess(t, os.MkdirAll(filepath.Dir(full), 0o755))
	test.ExpectSuccess(t, os.WriteFile(full, []byte("payload"), 0o644))

	cfg := Config{DebugInfoPath: []DebugInfoDir{{Path: dir}}}
	found, ok := SearchBuildID(id, cfg)
	test.ExpectSuccess(t, ok)
	test.Equate(t, found, full)
}

func TestSearchBuildIDMissesWhenNoFileExists(t *testing.T) {
	cfg := Config{DebugInfoPath: []DebugInfoDir{{Path: t.TempDir()}}}
	_, ok := SearchBuildID([]byte{0xab, 0xcd, 0xef}, cfg)
	test.ExpectFailure(t, ok)
}

func TestSearchDebugLinkVerifiesCRCAlongsideModule(t *testing.T) {
	moduleDir := t.TempDir()
	content := []byte("split debug info")
	linkPath := filepath.Join(moduleDir, "app.debug")
	test.ExpectSuccess(t, os.WriteFile(linkPath, content, 0o644))

	want := crc32.ChecksumIEEE(content)
	cfg := Config{}
	found, ok := SearchDebugLink(moduleDir, "app.debug", want, cfg)
	test.ExpectSuccess(t, ok)
	test.Equate(t, found, linkPath)
}

func TestSearchDebugLinkRejectsCRCMismatch(t *testing.T) {
	moduleDir := t.TempDir()
	linkPath := filepath.Join(moduleDir, "app.debug")
	test.ExpectSuccess(t, os.WriteFile(linkPath, []byte("corrupted"), 0o644))

	cfg := Config{}
	_, ok := SearchDebugLink(moduleDir, "app.debug", 0xdeadbeef, cfg)
	test.ExpectFailure(t, ok)
}

func TestSearchDebugLinkFallsBackToSearchPath(t *testing.T) {
	moduleDir := t.TempDir() // no debuglink file here
	searchDir := t.TempDir()
	content := []byte("elsewhere")
	test.ExpectSuccess(t, os.WriteFile(filepath.Join(searchDir, "app.debug"), content, 0o644))

	want := crc32.ChecksumIEEE(content)
	cfg := Config{DebugInfoPath: []DebugInfoDir{{Path: searchDir}}}
	found, ok := SearchDebugLink(moduleDir, "app.debug", want, cfg)
	test.ExpectSuccess(t, ok)
	test.Equate(t, found, filepath.Join(searchDir, "app.debug"))
}
