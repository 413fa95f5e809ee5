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
	"bufio"
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dwarfscope/dwarfscope/arch"
	"github.com/dwarfscope/dwarfscope/errors"
	"github.com/dwarfscope/dwarfscope/logger"
	"github.com/dwarfscope/dwarfscope/unwind"
)

// Registry owns every module discovered for one target (a live process or a
// core file), plus the attached ptrace threads and open backing files that
// belong to it. Once reported, a module's address range is immutable and
// never overlaps another's; the registry is the sole owner and the only
// thing that tears modules down.
type Registry struct {
	config Config
	log    *logger.Logger
	files  *fileCache

	mu          sync.Mutex
	modules     []*Module // kept sorted by LowAddr
	attachedTid []int     // threads this registry itself PTRACE_ATTACHed
}

// NewRegistry creates an empty registry using cfg for debuginfo resolution.
// log may be nil to discard notable-but-recoverable diagnostics.
func NewRegistry(cfg Config, log *logger.Logger) *Registry {
	return &Registry{config: cfg, log: log, files: newFileCache()}
}

// Modules returns every registered module, in ascending LowAddr order.
func (r *Registry) Modules() []*Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// ModuleFor satisfies unwind.ModuleLookup: a binary search over the
// registry's sorted module list.
func (r *Registry) ModuleFor(pc uint64) (unwind.Module, bool) {
	m, ok := r.ModuleForAddr(pc)
	if !ok {
		return nil, false
	}
	return m, true
}

// ModuleForAddr is the concrete-typed equivalent of ModuleFor, for callers
// (e.g. the symbol package) that want the full *Module rather than the
// narrow unwind.Module view.
func (r *Registry) ModuleForAddr(pc uint64) (*Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.Search(len(r.modules), func(i int) bool { return r.modules[i].HighAddr > pc })
	if i >= len(r.modules) || pc < r.modules[i].LowAddr {
		return nil, false
	}
	return r.modules[i], true
}

// addModule inserts m keeping the list sorted by LowAddr, enforcing the
// non-overlap invariant between modules.
func (r *Registry) addModule(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.modules {
		if m.LowAddr < existing.HighAddr && existing.LowAddr < m.HighAddr {
			return errors.Errorf(errors.InvalidDwarf, fmt.Sprintf("module %s [0x%x,0x%x) overlaps %s [0x%x,0x%x)",
				m.name, m.LowAddr, m.HighAddr, existing.name, existing.LowAddr, existing.HighAddr))
		}
	}

	r.modules = append(r.modules, m)
	sort.Slice(r.modules, func(i, j int) bool { return r.modules[i].LowAddr < r.modules[j].LowAddr })
	return nil
}

// procMapping is one parsed line of /proc/<pid>/maps.
type procMapping struct {
	start, end uint64
	offset     uint64
	pathname   string
}

// parseProcMaps parses the textual /proc/<pid>/maps format:
// "start-end perms offset dev inode pathname".
func parseProcMaps(r *bufio.Scanner) ([]procMapping, error) {
	var maps []procMapping
	for r.Scan() {
		line := r.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue // anonymous/unnamed mapping, or a short malformed line
		}
		addrParts := strings.SplitN(fields[0], "-", 2)
		if len(addrParts) != 2 {
			continue
		}
		start, err := strconv.ParseUint(addrParts[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrParts[1], 16, 64)
		if err != nil {
			continue
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}
		pathname := fields[5]
		if !strings.HasPrefix(pathname, "/") {
			continue // skip [heap], [stack], [vdso], etc: not backed by a file we can open
		}
		maps = append(maps, procMapping{start: start, end: end, offset: offset, pathname: pathname})
	}
	return maps, r.Err()
}

// FromProcess builds the registry's module list from a live process's
// memory map: one module per distinct mapped file, its [low,high) the
// union of that file's PT_LOAD mappings, bias = first mapping's start
// minus that segment's file virtual address.
func (r *Registry) FromProcess(pid int) error {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return errors.Errorf(errors.Canon, fmt.Sprintf("opening /proc/%d/maps: %v", pid, err))
	}
	defer f.Close()

	maps, err := parseProcMaps(bufio.NewScanner(f))
	if err != nil {
		return errors.Errorf(errors.Canon, fmt.Sprintf("reading /proc/%d/maps: %v", pid, err))
	}

	byPath := map[string][]procMapping{}
	var order []string
	for _, mp := range maps {
		if _, ok := byPath[mp.pathname]; !ok {
			order = append(order, mp.pathname)
		}
		byPath[mp.pathname] = append(byPath[mp.pathname], mp)
	}

	for _, path := range order {
		if err := r.loadProcessModule(path, byPath[path]); err != nil {
			if r.log != nil {
				r.log.Logf(logger.Allow, "module", "skipping %s: %v", path, err)
			}
			continue
		}
	}
	return nil
}

func (r *Registry) loadProcessModule(path string, mappings []procMapping) error {
	ef, release, err := r.files.Open(path)
	if err != nil {
		return err
	}

	backend, err := backendFor(ef)
	if err != nil {
		release()
		return err
	}

	var low, high uint64 = ^uint64(0), 0
	var firstLoadVaddr uint64
	haveLoad := false
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if !haveLoad {
			firstLoadVaddr = p.Vaddr
			haveLoad = true
		}
	}

	for _, mp := range mappings {
		if mp.start < low {
			low = mp.start
		}
		if mp.end > high {
			high = mp.end
		}
	}
	if !haveLoad || low > high {
		release()
		return errors.Errorf(errors.NoMatch, fmt.Sprintf("%s: no PT_LOAD segments", path))
	}

	bias := int64(low) - int64(firstLoadVaddr)

	m := newModule(path, backend, r.log, r.config.Strict)
	m.LowAddr, m.HighAddr = low, high
	m.Bias = bias
	m.MainFile = &BackingFile{Path: path, ELF: ef, release: release}
	m.DebugFile = m.MainFile

	if id, addr, ok := ExtractBuildID(ef); ok {
		m.BuildID = id
		m.BuildIDAddr = addr + uint64(bias)
	}

	r.pairDebugInfo(m)

	return r.addModule(m)
}

// pairDebugInfo tries, in order, a build-ID-found separate debuginfo file
// and a .gnu_debuglink-named file. DWARF already present in the main file
// is left alone (checked lazily by DWARFReader); this only runs when a
// build-ID or debuglink points elsewhere.
func (r *Registry) pairDebugInfo(m *Module) {
	if len(m.BuildID) > 0 {
		if path, ok := SearchBuildID(m.BuildID, r.config); ok {
			if ef, release, err := r.files.Open(path); err == nil {
				m.DebugFile = &BackingFile{Path: path, ELF: ef, release: release}
				return
			}
		}
		m.CacheError("debuginfo:build-id", errors.Errorf(errors.NoMatch, "no debuginfo found via build-id"))
	}

	ef := m.mainElf()
	if ef == nil {
		return
	}
	if name, crc, ok := DebugLink(ef); ok {
		moduleDir := m.name
		if i := strings.LastIndexByte(moduleDir, '/'); i >= 0 {
			moduleDir = moduleDir[:i]
		}
		if path, ok := SearchDebugLink(moduleDir, name, crc, r.config); ok {
			if ef2, release, err := r.files.Open(path); err == nil {
				m.DebugFile = &BackingFile{Path: path, ELF: ef2, release: release}
				return
			}
		}
		m.CacheError("debuginfo:debuglink", errors.Errorf(errors.NoMatch, "no debuginfo found via .gnu_debuglink"))
	}
}

// backendFor selects the arch.Backend registered for ef's machine type.
func backendFor(ef *elf.File) (arch.Backend, error) {
	switch ef.Machine {
	case elf.EM_X86_64:
		return arch.Lookup("x86-64")
	case elf.EM_ARM:
		return arch.Lookup("arm")
	default:
		return nil, errors.Errorf(errors.NoMatch, fmt.Sprintf("no architecture backend for ELF machine %s", ef.Machine))
	}
}

// Close releases every file reference this registry holds and detaches any
// thread it attached to via AttachProcess, even on paths that never reached
// a clean unwind -- ptrace discipline is unconditional at teardown.
func (r *Registry) Close() {
	r.mu.Lock()
	tids := r.attachedTid
	r.attachedTid = nil
	mods := r.modules
	r.modules = nil
	r.mu.Unlock()

	for _, tid := range tids {
		if err := DetachThread(tid); err != nil && r.log != nil {
			r.log.Logf(logger.Allow, "module", "detaching tid %d: %v", tid, err)
		}
	}

	for _, m := range mods {
		m.MainFile.Close()
		if m.DebugFile != m.MainFile {
			m.DebugFile.Close()
		}
	}
}
