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

// amd64DwarfRSP and amd64DwarfRIP are the System V x86-64 ABI's DWARF
// register numbers for the stack pointer and instruction pointer.
const (
	amd64DwarfRSP = 7
	amd64DwarfRIP = 16
)

type amd64Backend struct{}

func init() {
	Register(amd64Backend{})
}

func (amd64Backend) Name() string { return "x86-64" }

func (amd64Backend) RelocationWidth(relType uint32) (reloc.Width, bool) {
	// R_X86_64_64 and R_X86_64_32/32S/PC32 are the only relocation types
	// that appear against debug sections in practice.
	switch relType {
	case 1: // R_X86_64_64
		return reloc.Width8, true
	case 2, 10, 11: // R_X86_64_PC32, R_X86_64_32, R_X86_64_32S
		return reloc.Width4, true
	default:
		return 0, false
	}
}

func (amd64Backend) ReturnAddressRegister() int { return amd64DwarfRIP }

func (amd64Backend) InitialCFIInstructions() []byte {
	// DW_CFA_def_cfa(RSP, 8); DW_CFA_offset(RIP, 1) -- the return address
	// sits one data-alignment-factor unit (typically -8) below the CFA at
	// function entry, before the CIE's own instructions run.
	return []byte{
		0x0c, amd64DwarfRSP, 8, // DW_CFA_def_cfa
		0x80 | amd64DwarfRIP, 1, // DW_CFA_offset
	}
}

func (amd64Backend) RegisterCount() int { return 17 }

func (amd64Backend) PCAlignment() int { return 1 }

// amd64GRegSetLen is sizeof(struct user_regs_struct): 27 uint64 fields.
const amd64GRegSetLen = 27 * 8

// amd64GRegOrder is the field order of the kernel's user_regs_struct, used
// both for a PTRACE_GETREGS result and an NT_PRSTATUS note's pr_reg, mapped
// to System V x86-64 DWARF register numbers. A field with dwarfReg -1 has
// no DWARF register number and is skipped.
var amd64GRegOrder = []struct {
	dwarfReg int
}{
	{15}, // r15
	{14}, // r14
	{13}, // r13
	{12}, // r12
	{6},  // rbp
	{3},  // rbx
	{11}, // r11
	{10}, // r10
	{9},  // r9
	{8},  // r8
	{0},  // rax
	{2},  // rcx
	{1},  // rdx
	{4},  // rsi
	{5},  // rdi
	{-1}, // orig_rax
	{16}, // rip
	{-1}, // cs
	{49}, // eflags
	{7},  // rsp
	{-1}, // ss
	{-1}, // fs_base
	{-1}, // gs_base
	{-1}, // ds
	{-1}, // es
	{-1}, // fs
	{-1}, // gs
}

// amd64PRStatusRegOffset is offsetof(struct elf_prstatus, pr_reg) on Linux
// x86-64: the fixed prefix (signal info, pid/ppid/pgrp/sid, four
// "struct timeval" pairs) occupies 112 bytes ahead of pr_reg.
const amd64PRStatusRegOffset = 112

func (amd64Backend) PRStatusRegOffset() int { return amd64PRStatusRegOffset }

func (amd64Backend) DecodeGRegSet(data []byte, order binary.ByteOrder) (ProcessRegisters, error) {
	if len(data) < amd64GRegSetLen {
		return ProcessRegisters{}, errors.Errorf(errors.Truncated, fmt.Sprintf("x86-64 gregset needs %d bytes, got %d", amd64GRegSetLen, len(data)))
	}

	regs := ProcessRegisters{Values: map[int]uint64{}, Known: map[int]bool{}}
	for i, field := range amd64GRegOrder {
		v := order.Uint64(data[i*8 : i*8+8])
		if field.dwarfReg < 0 {
			continue
		}
		regs.Values[field.dwarfReg] = v
		regs.Known[field.dwarfReg] = true
		if field.dwarfReg == amd64DwarfRIP {
			regs.PC = v
		}
	}
	return regs, nil
}
