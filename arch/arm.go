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

// armDwarfSP and armDwarfLR are the ARM EABI's DWARF register numbers for
// the stack pointer and link register.
const (
	armDwarfSP = 13
	armDwarfLR = 14
)

type armBackend struct{}

func init() {
	Register(armBackend{})
}

func (armBackend) Name() string { return "arm" }

func (armBackend) RelocationWidth(relType uint32) (reloc.Width, bool) {
	switch relType {
	case 2, 38: // R_ARM_ABS32, R_ARM_TARGET1 (same 32-bit absolute relocation in debug sections)
		return reloc.Width4, true
	default:
		return 0, false
	}
}

func (armBackend) ReturnAddressRegister() int { return armDwarfLR }

func (armBackend) InitialCFIInstructions() []byte {
	// DW_CFA_def_cfa(SP, 0) -- ARM leaves establishing the full CFA rule to
	// each function's own prologue instructions.
	return []byte{0x0c, armDwarfSP, 0}
}

func (armBackend) RegisterCount() int { return 16 }

func (armBackend) PCAlignment() int { return 1 }

// armGRegSetLen is sizeof(struct pt_regs): r0..r15, cpsr, orig_r0 as 18
// 32-bit words.
const armGRegSetLen = 18 * 4

// armPRStatusRegOffset is offsetof(struct elf_prstatus, pr_reg) on Linux
// arm: 72 bytes, the fixed prefix using 32-bit pid_t and timeval fields.
const armPRStatusRegOffset = 72

func (armBackend) PRStatusRegOffset() int { return armPRStatusRegOffset }

func (armBackend) DecodeGRegSet(data []byte, order binary.ByteOrder) (ProcessRegisters, error) {
	if len(data) < armGRegSetLen {
		return ProcessRegisters{}, errors.Errorf(errors.Truncated, fmt.Sprintf("arm gregset needs %d bytes, got %d", armGRegSetLen, len(data)))
	}

	regs := ProcessRegisters{Values: map[int]uint64{}, Known: map[int]bool{}}
	for r := 0; r < 16; r++ {
		v := uint64(order.Uint32(data[r*4 : r*4+4]))
		regs.Values[r] = v
		regs.Known[r] = true
	}
	regs.PC = regs.Values[15]
	return regs, nil
}
