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

// Package arch supplies the handful of facts that are genuinely
// architecture-specific and cannot be derived from the DWARF or ELF data
// itself: how an ELF relocation type maps to a slot width, which DWARF
// register number holds the return address, what CFI state a function is
// in before its CIE's own instructions run, and how to pull a PC/register
// snapshot out of a core file's NT_PRSTATUS note or a live ptrace'd thread.
package arch

import (
	"encoding/binary"
	"fmt"

	"github.com/dwarfscope/dwarfscope/errors"
	"github.com/dwarfscope/dwarfscope/reloc"
)

// Backend bundles the per-architecture facts the rest of the module needs.
// It intentionally says nothing about DWARF or CFI semantics; those are
// architecture-independent and live in the dwarf/cfi/unwind packages.
type Backend interface {
	// Name identifies the backend, e.g. "x86-64", "arm".
	Name() string

	// RelocationWidth classifies a raw ELF relocation type, satisfying
	// reloc.Backend.
	RelocationWidth(relType uint32) (reloc.Width, bool)

	// ReturnAddressRegister is the backend's DWARF register number for the
	// return address, used when a CIE doesn't override it and as the
	// fallback identity for "where does the caller PC come from".
	ReturnAddressRegister() int

	// InitialCFIInstructions returns the ABI-default CFI program that must
	// be interpreted before a CIE's own instructions, establishing things
	// like "the return address lives in register 14" for architectures
	// whose CIEs don't spell that out explicitly.
	InitialCFIInstructions() []byte

	// RegisterCount is the number of architectural registers the unwinder
	// needs to track rules for.
	RegisterCount() int

	// PCAlignment reports a required alignment for program-counter values
	// before CFI lookup, or 1 if none. s390 requires pc&3==3 before
	// decrementing by one when adjusting a return address to a call site.
	PCAlignment() int

	// DecodeGRegSet decodes a raw general-purpose register snapshot into
	// DWARF-numbered ProcessRegisters. The same byte layout serves two
	// collaborators: a PTRACE_GETREGS buffer read from a live thread, and
	// the pr_reg field of an NT_PRSTATUS core note -- both are the kernel's
	// user_regs_struct for the architecture, so one decoder covers both the
	// live-process and core-file halves of the module registry.
	DecodeGRegSet(data []byte, order binary.ByteOrder) (ProcessRegisters, error)

	// PRStatusRegOffset is the byte offset of pr_reg (a user_regs_struct)
	// within an NT_PRSTATUS note's description, as laid out by struct
	// elf_prstatus for this architecture. The fields ahead of pr_reg
	// (signal info, pid/ppid/pgrp/sid, four timevals) are ABI-specific in
	// size, so the backend owns the offset into NT_PRSTATUS's pr_reg.
	PRStatusRegOffset() int
}

// DescriptorResolver is implemented by backends whose ELF ABI represents a
// function pointer as a descriptor record in a dedicated section rather
// than as a direct code address (PowerPC64 ELFv1's ".opd"). The symbol
// package type-asserts for this to materialize the dereferenced function
// symbols.
type DescriptorResolver interface {
	// DescriptorSection names the section holding descriptor records.
	DescriptorSection() string

	// ResolveDescriptor dereferences the descriptor record starting at
	// byte offset off within that section's raw data, returning the code
	// entry point it points to.
	ResolveDescriptor(data []byte, off int, order binary.ByteOrder) (uint64, error)
}

// ProcessRegisters is a snapshot of one thread's DWARF-numbered registers,
// each tagged with whether its value is known. It is produced either from a
// live ptrace'd thread or from a core file's NT_PRSTATUS note.
type ProcessRegisters struct {
	PC     uint64
	Values map[int]uint64
	Known  map[int]bool
}

// Register returns the value of DWARF register n and whether it is known.
func (r ProcessRegisters) Register(n int) (uint64, bool) {
	if !r.Known[n] {
		return 0, false
	}
	return r.Values[n], true
}

// byName is the backend registry, populated by each backend's init().
var byName = map[string]Backend{}

// Register adds a backend to the registry under its Name(). Called from
// each backend file's init().
func Register(b Backend) {
	byName[b.Name()] = b
}

// Lookup finds a registered backend by name ("x86-64", "arm", ...).
func Lookup(name string) (Backend, error) {
	b, ok := byName[name]
	if !ok {
		return nil, errors.Errorf(errors.NoMatch, fmt.Sprintf("no architecture backend registered for %q", name))
	}
	return b, nil
}
