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
	"fmt"

	"github.com/dwarfscope/dwarfscope/arch"
	"github.com/dwarfscope/dwarfscope/errors"
	"github.com/dwarfscope/dwarfscope/logger"
)

// FromCore reconstructs the registry's module list from a core file's
// PT_LOAD/PT_NOTE segments, returning one
// ProcessRegisters snapshot per NT_PRSTATUS note (one per thread alive at
// the time of the dump).
func (r *Registry) FromCore(corePath string) ([]arch.ProcessRegisters, error) {
	core, err := elf.Open(corePath)
	if err != nil {
		return nil, errors.Errorf(errors.Canon, fmt.Sprintf("opening core file %s: %v", corePath, err))
	}

	backend, err := backendFor(core)
	if err != nil {
		core.Close()
		return nil, err
	}

	var threads []arch.ProcessRegisters
	var fileEntries []fileNoteEntry

	for _, p := range core.Progs {
		if p.Type != elf.PT_NOTE {
			continue
		}
		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil {
			continue
		}

		for _, n := range parseNotes(data, core.ByteOrder) {
			switch n.Type {
			case ntPRStatus:
				off := backend.PRStatusRegOffset()
				if off >= len(n.Desc) {
					continue
				}
				regs, err := backend.DecodeGRegSet(n.Desc[off:], core.ByteOrder)
				if err != nil {
					if r.log != nil {
						r.log.Logf(logger.Allow, "module", "core %s: decoding NT_PRSTATUS: %v", corePath, err)
					}
					continue
				}
				threads = append(threads, regs)

			case ntFile:
				fileEntries = append(fileEntries, parseNTFile(n.Desc, core.ByteOrder)...)
			}
		}
	}

	byPath := map[string][]procMapping{}
	var order []string
	for _, fe := range fileEntries {
		if _, ok := byPath[fe.pathname]; !ok {
			order = append(order, fe.pathname)
		}
		byPath[fe.pathname] = append(byPath[fe.pathname], procMapping{start: fe.start, end: fe.end, offset: fe.pageOffset, pathname: fe.pathname})
	}

	for _, path := range order {
		if err := r.loadProcessModule(path, byPath[path]); err != nil {
			if r.log != nil {
				r.log.Logf(logger.Allow, "module", "core %s: skipping %s: %v", corePath, path, err)
			}
			continue
		}
	}

	// the core file's own image (backing no on-disk path, or only partially
	// present) is registered last so an executable NT_FILE already matched
	// above takes priority; this is the "module whose entire file image is
	// contained in the core" fallback for a PT_LOAD not claimed by any
	// NT_FILE entry.
	if err := r.loadCoreImageModule(core, backend, corePath); err != nil && r.log != nil {
		r.log.Logf(logger.Allow, "module", "core %s: %v", corePath, err)
	}

	return threads, nil
}

// loadCoreImageModule registers a module served directly from the core
// file's own PT_LOAD segments when no on-disk file could be matched to
// them: a module whose entire file image is contained in the core is
// served directly from the core file.
func (r *Registry) loadCoreImageModule(core *elf.File, backend arch.Backend, corePath string) error {
	var low, high uint64 = ^uint64(0), 0
	haveLoad := false
	for _, p := range core.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		haveLoad = true
		if p.Vaddr < low {
			low = p.Vaddr
		}
		if p.Vaddr+p.Memsz > high {
			high = p.Vaddr + p.Memsz
		}
	}
	if !haveLoad {
		return errors.Errorf(errors.NoMatch, "core file has no PT_LOAD segments")
	}

	if _, ok := r.ModuleForAddr(low); ok {
		return nil // already covered by an NT_FILE-derived module
	}

	m := newModule(corePath+"#core-image", backend, r.log, r.config.Strict)
	m.LowAddr, m.HighAddr = low, high
	m.MainFile = &BackingFile{Path: corePath, ELF: core, release: func() {}}
	m.DebugFile = m.MainFile
	return r.addModule(m)
}
