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

// Package reloc answers, for a byte offset inside a debug section, whether a
// relocation applies there and if so with what symbol and addend. It
// generalises the ARM-only, in-place-patching relocator that the coprocessor
// debugger used to run at load time: rather than mutating section bytes, a
// Table is built once per section and then queried lazily by every other
// component that reads into that section (the attribute decoder, the
// line-program VM, the location/range-list readers).
package reloc

import (
	"debug/elf"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dwarfscope/dwarfscope/errors"
)

// Width is the size in bytes of a relocated slot.
type Width int

const (
	Width4 Width = 4
	Width8 Width = 8
)

// Backend classifies a raw ELF relocation type into a slot width, the only
// thing the rest of this package needs to know about any given
// architecture's relocation type space.
type Backend interface {
	// RelocationWidth reports the slot width of relType, or ok=false if the
	// type is not one this backend knows how to apply to debug sections.
	RelocationWidth(relType uint32) (width Width, ok bool)
}

// Entry is one digested relocation: a slot at Offset within the target
// section resolves to SymbolValue+Addend. PreResolved entries have already
// had their symbol value folded into Addend at digest time (local-or-weaker
// symbols targeting a non-allocated section), so SymbolIndex is meaningless
// for them.
type Entry struct {
	Offset      uint64
	Width       Width
	SymbolIndex uint32
	Addend      int64
	PreResolved bool
}

// Table is the digested, query-ready relocation set for a single debug
// section. It is safe for concurrent read-only use once Digest returns.
type Table struct {
	entries []Entry

	mu   sync.Mutex
	hint *lru.Cache[uint64, int]
}

// hintCacheSize bounds the last-hit cache. Sequential readers (the common
// case: a DIE walker advancing through one section) touch a handful of
// distinct offsets repeatedly; a small cache is enough to turn most lookups
// into an O(1) hit before falling back to binary search.
const hintCacheSize = 8

// Digest reads the REL/RELA section relocating targetSection (if any) out
// of ef, classifies every entry via backend, and returns a query-ready
// Table. A section with no relocations produces an empty, valid Table.
func Digest(ef *elf.File, targetSection string, backend Backend) (*Table, error) {
	cache, err := lru.New[uint64, int](hintCacheSize)
	if err != nil {
		return nil, err
	}
	tab := &Table{hint: cache}

	relSection := ef.Section(".rel" + targetSection)
	isRela := false
	if relSection == nil {
		relSection = ef.Section(".rela" + targetSection)
		isRela = true
	}
	if relSection == nil {
		return tab, nil
	}

	data, err := relSection.Data()
	if err != nil {
		return nil, errors.Errorf(errors.RelBadOffset, fmt.Sprintf("reading %s: %v", relSection.Name, err))
	}

	symbols, err := ef.Symbols()
	if err != nil {
		return nil, errors.Errorf(errors.RelBadSym, fmt.Sprintf("reading symbol table: %v", err))
	}

	entrySize := 8
	if isRela {
		entrySize = 12
	}

	for i := 0; i+entrySize <= len(data); i += entrySize {
		offset := uint64(ef.ByteOrder.Uint32(data[i:]))
		info := ef.ByteOrder.Uint32(data[i+4:])
		symbolIdx := info >> 8
		relType := info & 0xff

		width, ok := backend.RelocationWidth(relType)
		if !ok {
			return nil, errors.Errorf(errors.RelBadType, fmt.Sprintf("unsupported relocation type %d in %s", relType, relSection.Name))
		}

		if symbolIdx == 0 || int(symbolIdx) > len(symbols) {
			return nil, errors.Errorf(errors.RelBadSym, fmt.Sprintf("relocation symbol index %d out of range (%d symbols)", symbolIdx, len(symbols)))
		}
		sym := symbols[symbolIdx-1]

		var addend int64
		if isRela {
			addend = int64(ef.ByteOrder.Uint32(data[i+8:]))
		}

		entry := Entry{Offset: offset, Width: width, SymbolIndex: symbolIdx, Addend: addend}

		// a symbol targeting a non-allocated (i.e. another debug) section,
		// with local-or-weaker binding, is pre-resolved here: fold its
		// value into the addend so later lookups never dereference the
		// symbol table.
		if isNonAllocTarget(ef, sym) && bindingIsLocalOrWeak(sym) {
			entry.Addend += int64(sym.Value)
			entry.PreResolved = true
		}

		entry.Addend, err = narrow(entry.Addend, width)
		if err != nil {
			return nil, err
		}

		tab.entries = append(tab.entries, entry)
	}

	sort.Slice(tab.entries, func(i, j int) bool { return tab.entries[i].Offset < tab.entries[j].Offset })

	return tab, nil
}

func isNonAllocTarget(ef *elf.File, sym elf.Symbol) bool {
	if int(sym.Section) < 0 || int(sym.Section) >= len(ef.Sections) {
		return false
	}
	target := ef.Sections[sym.Section]
	return target.Flags&elf.SHF_ALLOC == 0
}

func bindingIsLocalOrWeak(sym elf.Symbol) bool {
	bind := elf.ST_BIND(sym.Info)
	return bind == elf.STB_LOCAL || bind == elf.STB_WEAK
}

// narrow validates that v fits within the signed range of a slot of the
// given width, reporting RelBadAddend on overflow.
func narrow(v int64, width Width) (int64, error) {
	switch width {
	case Width4:
		if v > int64(^uint32(0)>>1) || v < -int64(^uint32(0)>>1)-1 {
			return 0, errors.Errorf(errors.RelBadAddend, fmt.Sprintf("addend %d does not fit in %d bytes", v, width))
		}
	case Width8:
		// int64 already matches an 8-byte slot; nothing to narrow
	default:
		return 0, errors.Errorf(errors.RelBadType, fmt.Sprintf("unsupported slot width %d", width))
	}
	return v, nil
}

// Lookup reports the relocation entry, if any, applying to a read of size
// width at byte offset within the section this Table was digested for.
// found is false if no relocation touches that slot; the caller should use
// the in-place bytes as the final value in that case.
func (t *Table) Lookup(offset uint64, width Width) (entry Entry, found bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hint == nil {
		cache, err := lru.New[uint64, int](hintCacheSize)
		if err != nil {
			return Entry{}, false, err
		}
		t.hint = cache
	}

	if idx, ok := t.hint.Get(offset); ok {
		if idx >= 0 && idx < len(t.entries) && t.entries[idx].Offset == offset {
			return t.checked(t.entries[idx], width)
		}
	}

	idx := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Offset >= offset })
	if idx >= len(t.entries) || t.entries[idx].Offset != offset {
		return Entry{}, false, nil
	}

	t.hint.Add(offset, idx)
	return t.checked(t.entries[idx], width)
}

func (t *Table) checked(e Entry, width Width) (Entry, bool, error) {
	if e.Width != width {
		return Entry{}, false, errors.Errorf(errors.RelBadType, fmt.Sprintf("relocation at offset %d is %d bytes wide, read requested %d", e.Offset, e.Width, width))
	}
	return e, true, nil
}

// Len reports the number of digested relocation entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// String renders a Table for debugging/logging.
func (t *Table) String() string {
	return fmt.Sprintf("reloc.Table{entries=%d}", t.Len())
}
