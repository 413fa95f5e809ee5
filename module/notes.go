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

import "encoding/binary"

// Core-file note types (NT_* from <elf.h>), consumed for register state and
// file-map reconstruction.
const (
	ntPRStatus = 1
	ntAuxv     = 6
	ntFile     = 0x46
)

// fileNoteEntry is one mapped-range record from an NT_FILE note: the
// mapping's address range, its byte offset (the note's page count times its
// page size) into the backing file,
// and that file's name.
type fileNoteEntry struct {
	start, end uint64
	pageOffset uint64
	pathname   string
}

// parseNTFile decodes an NT_FILE note's description (64-bit long layout):
// a (count, page_size) header, count (start, end, file_offset) triples,
// then that many NUL-terminated filenames in order. This recovers a
// file-backed mapping list purely from the core file, without needing
// PT_DYNAMIC/r_debug.
func parseNTFile(desc []byte, order binary.ByteOrder) []fileNoteEntry {
	if len(desc) < 16 {
		return nil
	}
	count := order.Uint64(desc[0:8])
	pageSize := order.Uint64(desc[8:16])
	if pageSize == 0 {
		pageSize = 4096
	}

	pos := 16
	type triple struct{ start, end, offsetPages uint64 }
	triples := make([]triple, 0, count)
	for i := uint64(0); i < count; i++ {
		if pos+24 > len(desc) {
			return nil
		}
		triples = append(triples, triple{
			start:       order.Uint64(desc[pos:]),
			end:         order.Uint64(desc[pos+8:]),
			offsetPages: order.Uint64(desc[pos+16:]),
		})
		pos += 24
	}

	var entries []fileNoteEntry
	for _, t := range triples {
		nameEnd := pos
		for nameEnd < len(desc) && desc[nameEnd] != 0 {
			nameEnd++
		}
		if nameEnd >= len(desc) {
			break
		}
		name := string(desc[pos:nameEnd])
		pos = nameEnd + 1

		entries = append(entries, fileNoteEntry{
			start:      t.start,
			end:        t.end,
			pageOffset: t.offsetPages * pageSize,
			pathname:   name,
		})
	}
	return entries
}
