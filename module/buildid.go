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
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/dwarfscope/dwarfscope/errors"
)

// noteNameGNU is the note owner name for NT_GNU_BUILD_ID, null-terminated.
const noteNameGNU = "GNU\x00"

// note is one decoded ELF note entry.
type note struct {
	Name string
	Type uint32
	Desc []byte
}

// parseNotes walks the name/desc/type triples of a PT_NOTE segment or
// SHT_NOTE section's raw bytes.
func parseNotes(data []byte, order binary.ByteOrder) []note {
	var notes []note
	pos := 0
	for pos+12 <= len(data) {
		nameSz := order.Uint32(data[pos:])
		descSz := order.Uint32(data[pos+4:])
		typ := order.Uint32(data[pos+8:])
		pos += 12

		nameEnd := pos + int(nameSz)
		if nameEnd > len(data) {
			break
		}
		name := string(data[pos:nameEnd])
		pos = align4(nameEnd)

		descEnd := pos + int(descSz)
		if descEnd > len(data) {
			break
		}
		desc := data[pos:descEnd]
		pos = align4(descEnd)

		notes = append(notes, note{Name: name, Type: typ, Desc: desc})
	}
	return notes
}

func align4(n int) int {
	return (n + 3) &^ 3
}

// ExtractBuildID implements a two-step scan: prefer an SHT_NOTE section
// (cheaper to locate) and fall back to walking every PT_NOTE segment when
// section headers are unavailable (a stripped-of-sections core-file
// module).
func ExtractBuildID(ef *elf.File) (id []byte, vaddr uint64, ok bool) {
	for _, sec := range ef.Sections {
		if sec.Type != elf.SHT_NOTE {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			continue
		}
		if id, ok := findBuildIDNote(data, ef.ByteOrder); ok {
			return id, sec.Addr, true
		}
	}

	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			continue
		}
		if id, ok := findBuildIDNote(data, ef.ByteOrder); ok {
			return id, prog.Vaddr, true
		}
	}

	return nil, 0, false
}

func findBuildIDNote(data []byte, order binary.ByteOrder) ([]byte, bool) {
	const ntGNUBuildID = 3
	for _, n := range parseNotes(data, order) {
		if n.Name == noteNameGNU && n.Type == ntGNUBuildID {
			return append([]byte(nil), n.Desc...), true
		}
	}
	return nil, false
}

// DebugLink reads a .gnu_debuglink section: a null-terminated filename,
// zero-padded to 4-byte alignment, followed by a 4-byte CRC-32 (ISO/IEC
// 3309) of the referenced file.
func DebugLink(ef *elf.File) (name string, crc uint32, ok bool) {
	sec := ef.Section(".gnu_debuglink")
	if sec == nil {
		return "", 0, false
	}
	data, err := sec.Data()
	if err != nil || len(data) < 5 {
		return "", 0, false
	}

	nul := 0
	for nul < len(data) && data[nul] != 0 {
		nul++
	}
	name = string(data[:nul])

	crcOff := align4(nul + 1)
	if crcOff+4 > len(data) {
		return "", 0, false
	}
	crc = ef.ByteOrder.Uint32(data[crcOff:])
	return name, crc, true
}

// VerifyDebugLinkCRC reports whether path's content CRC-32 matches want,
// per the .gnu_debuglink contract.
func VerifyDebugLinkCRC(path string, want uint32) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return h.Sum32() == want, nil
}

// buildIDHex renders build-ID bytes as the lowercase hex string used in
// both the .build-id/XX/YYYY... path scheme and a debuginfod URL.
func buildIDHex(id []byte) string {
	return hex.EncodeToString(id)
}

// BuildIDPath constructs "<dir>/.build-id/XX/YYYY...YY[.debug]" for the
// given hex-rendered build-ID bytes: the first byte becomes a directory,
// the remainder becomes the file name.
func BuildIDPath(dir string, id []byte, debugSuffix bool) (string, error) {
	hexID := buildIDHex(id)
	if len(hexID) < 3 {
		return "", errors.Errorf(errors.Canon, fmt.Sprintf("build-id %q too short to split", hexID))
	}
	name := hexID[2:]
	if debugSuffix {
		name += ".debug"
	}
	return filepath.Join(dir, ".build-id", hexID[:2], name), nil
}

// SearchBuildID tries every directory in cfg's debuginfo search path for a
// "<dir>/.build-id/XX/YYYY...YY.debug" file, returning the first that
// exists, canonicalised via real-path resolution.
func SearchBuildID(id []byte, cfg Config) (string, bool) {
	for _, dir := range cfg.DebugInfoPath {
		if dir.Path == "" {
			continue
		}
		path, err := BuildIDPath(dir.Path, id, true)
		if err != nil {
			continue
		}
		if real, ok := canonicalExists(path); ok {
			return real, true
		}
	}
	return "", false
}

// SearchDebugLink looks for a .gnu_debuglink-named file alongside moduleDir
// and in every debuginfo search-path directory, verifying its CRC against
// want.
func SearchDebugLink(moduleDir, name string, want uint32, cfg Config) (string, bool) {
	candidates := []string{filepath.Join(moduleDir, name)}
	for _, dir := range cfg.DebugInfoPath {
		if dir.Path == "" {
			continue
		}
		candidates = append(candidates, filepath.Join(dir.Path, name))
		candidates = append(candidates, filepath.Join(dir.Path, moduleDir, name))
	}

	for _, c := range candidates {
		real, ok := canonicalExists(c)
		if !ok {
			continue
		}
		if ok, err := VerifyDebugLinkCRC(real, want); err == nil && ok {
			return real, true
		}
	}
	return "", false
}

func canonicalExists(path string) (string, bool) {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", false
	}
	if _, err := os.Stat(real); err != nil {
		return "", false
	}
	return real, true
}
