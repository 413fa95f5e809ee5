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

package arch

import (
	"encoding/binary"
	"fmt"

	"github.com/dwarfscope/dwarfscope/errors"
	"github.com/dwarfscope/dwarfscope/reloc"
)

// ppc64DwarfLR is the PowerPC64 ELFv1 DWARF register number for the link
// register, which holds the return address.
const ppc64DwarfLR = 65

type ppc64Backend struct{}

func init() {
	Register(ppc64Backend{})
}

func (ppc64Backend) Name() string { return "ppc64" }

func (ppc64Backend) RelocationWidth(relType uint32) (reloc.Width, bool) {
	switch relType {
	case 38: // R_PPC64_ADDR64
		return reloc.Width8, true
	case 1: // R_PPC64_ADDR32
		return reloc.Width4, true
	default:
		return 0, false
	}
}

func (ppc64Backend) ReturnAddressRegister() int { return ppc64DwarfLR }

func (ppc64Backend) InitialCFIInstructions() []byte {
	// DW_CFA_def_cfa(r1, 0) -- as on ARM, PowerPC leaves establishing the
	// full CFA offset to the function's own prologue.
	return []byte{0x0c, 1, 0}
}

func (ppc64Backend) RegisterCount() int { return 114 }

func (ppc64Backend) PCAlignment() int { return 1 }

// ppc64GRegSetLen is sizeof(struct pt_regs) on linux/ppc64: 32 general
// purpose registers followed by nip, msr, orig_gpr3, ctr, link, xer, ccr,
// softe, trap, dar, dsisr, result -- 48 unsigned long fields.
const ppc64GRegSetLen = 48 * 8

func (ppc64Backend) PRStatusRegOffset() int {
	// offsetof(struct elf_prstatus, pr_reg) on 64-bit Linux targets: the
	// fixed prefix ahead of pr_reg (signal info, pid/ppid/pgrp/sid, four
	// timeval pairs) is 112 bytes, the same layout amd64 uses.
	return 112
}

func (ppc64Backend) DecodeGRegSet(data []byte, order binary.ByteOrder) (ProcessRegisters, error) {
	if len(data) < ppc64GRegSetLen {
		return ProcessRegisters{}, errors.Errorf(errors.Truncated, fmt.Sprintf("ppc64 gregset needs %d bytes, got %d", ppc64GRegSetLen, len(data)))
	}

	regs := ProcessRegisters{Values: map[int]uint64{}, Known: map[int]bool{}}
	for r := 0; r < 32; r++ {
		v := order.Uint64(data[r*8 : r*8+8])
		regs.Values[r] = v
		regs.Known[r] = true
	}

	nip := order.Uint64(data[32*8 : 32*8+8])
	link := order.Uint64(data[36*8 : 36*8+8])

	regs.Values[ppc64DwarfLR] = link
	regs.Known[ppc64DwarfLR] = true
	regs.PC = nip
	return regs, nil
}

// ppc64OpdEntrySize is sizeof one ELFv1 function descriptor: code entry
// point, TOC pointer, environment pointer, each a doubleword.
const ppc64OpdEntrySize = 24

func (ppc64Backend) DescriptorSection() string { return ".opd" }

// ResolveDescriptor dereferences the first doubleword of the ELFv1 function
// descriptor at off, which is the function's real code entry point
// via .opd.
func (ppc64Backend) ResolveDescriptor(data []byte, off int, order binary.ByteOrder) (uint64, error) {
	if off < 0 || off+8 > len(data) {
		return 0, errors.Errorf(errors.Truncated, fmt.Sprintf(".opd descriptor at offset %d out of range (section is %d bytes)", off, len(data)))
	}
	return order.Uint64(data[off : off+8]), nil
}
