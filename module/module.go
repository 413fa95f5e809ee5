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
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dwarfscope/dwarfscope/arch"
	"github.com/dwarfscope/dwarfscope/cfi"
	"github.com/dwarfscope/dwarfscope/dwarf"
	"github.com/dwarfscope/dwarfscope/errors"
	"github.com/dwarfscope/dwarfscope/leb128"
	"github.com/dwarfscope/dwarfscope/logger"
	"github.com/dwarfscope/dwarfscope/reloc"
)

// errCacheSize bounds the per-module negative-result memoization (e.g.
// "no debuginfo found"), so repeated lookups against a module that will
// never resolve don't retry the filesystem/network every time.
const errCacheSize = 16

// BackingFile is one of a module's up to two backing ELF files (identical
// when debug info is not split out into a separate file).
type BackingFile struct {
	Path    string
	ELF     *elf.File
	release func()
}

// Close releases this file's reference in the owning Registry's file cache.
func (f *BackingFile) Close() {
	if f != nil && f.release != nil {
		f.release()
	}
}

// Module is one loaded object file in the target address space.
type Module struct {
	name string

	LowAddr, HighAddr uint64
	Bias              int64

	MainFile  *BackingFile
	DebugFile *BackingFile // == MainFile when debuginfo is not split

	BuildID     []byte
	BuildIDAddr uint64

	backend arch.Backend
	log     *logger.Logger
	strict  bool

	mu          sync.Mutex
	symbols     []elf.Symbol
	symbolsDone bool

	cfiTable *cfi.Table
	cfiDone  bool
	cfiOK    bool

	dwarfReader *dwarf.Reader
	dwarfDone   bool
	dwarfOK     bool

	lineSec     dwarf.Section
	lineSecDone bool
	lineSecErr  error

	errCache *lru.Cache[string, error]
}

// newModule constructs a Module with its per-lookup negative-result cache
// ready; backend and log may be nil in tests that don't exercise CFI/DWARF.
func newModule(name string, backend arch.Backend, log *logger.Logger, strict bool) *Module {
	cache, _ := lru.New[string, error](errCacheSize)
	return &Module{name: name, backend: backend, log: log, strict: strict, errCache: cache}
}

// Name returns the path the module was loaded from.
func (m *Module) Name() string { return m.name }

// Backend satisfies unwind.Module.
func (m *Module) Backend() arch.Backend { return m.backend }

// Contains reports whether addr falls within this module's loaded range.
func (m *Module) Contains(addr uint64) bool {
	return addr >= m.LowAddr && addr < m.HighAddr
}

// debugElf returns whichever backing file carries DWARF sections,
// preferring the debug file since that is where split DWARF lives.
func (m *Module) debugElf() *elf.File {
	if m.DebugFile != nil {
		return m.DebugFile.ELF
	}
	if m.MainFile != nil {
		return m.MainFile.ELF
	}
	return nil
}

func (m *Module) mainElf() *elf.File {
	if m.MainFile != nil {
		return m.MainFile.ELF
	}
	return m.debugElf()
}

// section wraps a named section of ef into a dwarf.Section, with a
// relocation resolver digested against backend if ef carries REL/RELA
// entries targeting it. A missing section decodes as a valid, empty
// Section rather than an error: many CUs have no .debug_types, for
// instance.
func section(ef *elf.File, name string, backend arch.Backend, addressSize int) (dwarf.Section, error) {
	sec := ef.Section(name)
	if sec == nil {
		return dwarf.NewSection(leb128.NewView(nil, ef.ByteOrder, addressSize, 4), nil), nil
	}

	data, err := sec.Data()
	if err != nil {
		return dwarf.Section{}, errors.Errorf(errors.Canon, fmt.Sprintf("reading %s: %v", name, err))
	}

	table, err := reloc.Digest(ef, name, backend)
	if err != nil {
		return dwarf.Section{}, err
	}

	var rel dwarf.Relocator
	if table.Len() > 0 {
		symbols, err := ef.Symbols()
		if err != nil {
			return dwarf.Section{}, errors.Errorf(errors.RelBadSym, fmt.Sprintf("reading symbol table: %v", err))
		}
		rel = reloc.NewResolver(table, symbols)
	}

	return dwarf.NewSection(leb128.NewView(data, ef.ByteOrder, addressSize, 4), rel), nil
}

// DWARFReader lazily builds the attribute/DIE entry point over this
// module's debug file. The result is memoized; a failure is memoized too
// (a module-file-open-failure recovery site) so repeated callers don't
// re-digest relocations.
func (m *Module) DWARFReader() (*dwarf.Reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dwarfDone {
		if m.dwarfOK {
			return m.dwarfReader, nil
		}
		return nil, errors.Errorf(errors.NoMatch, "debuginfo unavailable")
	}
	m.dwarfDone = true

	ef := m.debugElf()
	if ef == nil {
		return nil, errors.Errorf(errors.NoMatch, "no backing ELF file")
	}

	addressSize := 8
	if ef.Class == elf.ELFCLASS32 {
		addressSize = 4
	}

	info, err := section(ef, ".debug_info", m.backend, addressSize)
	if err != nil {
		return nil, err
	}
	types, err := section(ef, ".debug_types", m.backend, addressSize)
	if err != nil {
		return nil, err
	}
	str, err := section(ef, ".debug_str", m.backend, addressSize)
	if err != nil {
		return nil, err
	}
	abbrevSec, err := section(ef, ".debug_abbrev", m.backend, addressSize)
	if err != nil {
		return nil, err
	}

	m.dwarfReader = dwarf.NewReader(info, types, str, dwarf.NewAbbrevCache(abbrevSec.View))
	m.dwarfOK = true
	return m.dwarfReader, nil
}

// LineSection lazily wraps .debug_line for the line-table refinement step
// that follows symbol-table resolution: binary search narrows to a symbol,
// the line table narrows further, to a source line. The relocation digest
// and result are both memoized like DWARFReader's sections.
func (m *Module) LineSection() (dwarf.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lineSecDone {
		return m.lineSec, m.lineSecErr
	}
	m.lineSecDone = true

	ef := m.debugElf()
	if ef == nil {
		m.lineSecErr = errors.Errorf(errors.NoMatch, "no backing ELF file")
		return dwarf.Section{}, m.lineSecErr
	}

	addressSize := 8
	if ef.Class == elf.ELFCLASS32 {
		addressSize = 4
	}

	m.lineSec, m.lineSecErr = section(ef, ".debug_line", m.backend, addressSize)
	return m.lineSec, m.lineSecErr
}

// CFITable satisfies unwind.Module: it lazily decodes .eh_frame in
// preference to .debug_frame.
func (m *Module) CFITable() (*cfi.Table, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfiDone {
		return m.cfiTable, m.cfiOK
	}
	m.cfiDone = true

	ef := m.mainElf()
	if ef == nil {
		return nil, false
	}

	addressSize := 8
	if ef.Class == elf.ELFCLASS32 {
		addressSize = 4
	}

	if sec := ef.Section(".eh_frame"); sec != nil {
		if s, err := section(ef, ".eh_frame", m.backend, addressSize); err == nil {
			if t, err := cfi.Decode(s, addressSize, true); err == nil {
				m.cfiTable, m.cfiOK = t, true
				return t, true
			}
		}
	}

	if sec := ef.Section(".debug_frame"); sec != nil {
		if s, err := section(ef, ".debug_frame", m.backend, addressSize); err == nil {
			if t, err := cfi.Decode(s, addressSize, false); err == nil {
				m.cfiTable, m.cfiOK = t, true
				return t, true
			}
		}
	}

	return nil, false
}

// Symbols returns the module's symbol table: the full .symtab when present,
// else the dynamic symbols read from the .dynsym section, sorted by value
// for the binary search component L performs. No symbol table is
// reconstructed from PT_DYNAMIC when the .dynsym section is absent.
func (m *Module) Symbols() ([]elf.Symbol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.symbolsDone {
		return m.symbols, nil
	}
	m.symbolsDone = true

	ef := m.mainElf()
	if ef == nil {
		return nil, errors.Errorf(errors.NoMatch, "no backing ELF file")
	}

	syms, err := ef.Symbols()
	if err != nil || len(syms) == 0 {
		syms, err = ef.DynamicSymbols()
		if err != nil {
			if m.log != nil {
				m.log.Logf(logger.Allow, "module", "%s: no symbol table available: %v", m.name, err)
			}
			return nil, nil
		}
	}

	sort.Slice(syms, func(i, j int) bool { return syms[i].Value < syms[j].Value })
	m.symbols = syms
	return syms, nil
}

// ContainsEntryFunction reports whether pc falls within the function
// symbol at the ELF entry point, satisfying unwind.Module's "bottom of
// stack, not an error" special case.
func (m *Module) ContainsEntryFunction(pc uint64) bool {
	ef := m.mainElf()
	if ef == nil {
		return false
	}
	entry := ef.Entry + uint64(m.Bias)

	syms, err := m.Symbols()
	if err != nil {
		return false
	}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		if s.Value != ef.Entry {
			continue
		}
		low := s.Value + uint64(m.Bias)
		high := low + s.Size
		return pc >= low && (s.Size == 0 || pc < high)
	}
	return pc == entry
}

// ByteOrder reports the module's backing ELF file's byte order, for
// callers that decode raw section bytes directly (e.g. component L's
// descriptor dereferencing).
func (m *Module) ByteOrder() binary.ByteOrder {
	ef := m.mainElf()
	if ef == nil {
		return binary.LittleEndian
	}
	return ef.ByteOrder
}

// Strict reports whether this module's registry was configured for strict
// DWARF decoding.
func (m *Module) Strict() bool { return m.strict }

// Section exposes a raw section of the module's main backing file, for
// callers that need direct section bytes rather than DWARF section wiring
// (the symbol package's PowerPC64 ".opd" function-descriptor dereferencing).
func (m *Module) Section(name string) (*elf.Section, bool) {
	ef := m.mainElf()
	if ef == nil {
		return nil, false
	}
	sec := ef.Section(name)
	return sec, sec != nil
}

// CacheError memoizes a negative lookup result under key (e.g.
// "debuginfo:<path>"), this module's per-lookup error cache.
func (m *Module) CacheError(key string, err error) {
	if m.errCache != nil {
		m.errCache.Add(key, err)
	}
}

// CachedError returns a previously cached negative result for key, if any.
func (m *Module) CachedError(key string) (error, bool) {
	if m.errCache == nil {
		return nil, false
	}
	return m.errCache.Get(key)
}
