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

// Package cfi decodes .debug_frame/.eh_frame CIE/FDE records and computes,
// for any PC within an FDE's range, the unwind row (CFA rule plus
// per-register rule) that the frame unwinder needs.
package cfi

// cfaInstr is a DW_CFA_* call-frame instruction opcode. The top two bits
// distinguish the "packed operand" forms (advance_loc, offset, restore) from
// the extended forms, which occupy the low six bits of the first byte.
type cfaInstr byte

const (
	cfaAdvanceLoc cfaInstr = 0x40 // high bits; low 6 bits carry the delta
	cfaOffset     cfaInstr = 0x80 // high bits; low 6 bits carry the register
	cfaRestore    cfaInstr = 0xc0 // high bits; low 6 bits carry the register

	cfaNop                cfaInstr = 0x00
	cfaSetLoc             cfaInstr = 0x01
	cfaAdvanceLoc1        cfaInstr = 0x02
	cfaAdvanceLoc2        cfaInstr = 0x03
	cfaAdvanceLoc4        cfaInstr = 0x04
	cfaOffsetExtended     cfaInstr = 0x05
	cfaRestoreExtended    cfaInstr = 0x06
	cfaUndefined          cfaInstr = 0x07
	cfaSameValue          cfaInstr = 0x08
	cfaRegister           cfaInstr = 0x09
	cfaRememberState      cfaInstr = 0x0a
	cfaRestoreState       cfaInstr = 0x0b
	cfaDefCfa             cfaInstr = 0x0c
	cfaDefCfaRegister     cfaInstr = 0x0d
	cfaDefCfaOffset       cfaInstr = 0x0e
	cfaDefCfaExpression   cfaInstr = 0x0f
	cfaExpression         cfaInstr = 0x10
	cfaOffsetExtendedSf   cfaInstr = 0x11
	cfaDefCfaSf           cfaInstr = 0x12
	cfaDefCfaOffsetSf     cfaInstr = 0x13
	cfaValOffset          cfaInstr = 0x14
	cfaValOffsetSf        cfaInstr = 0x15
	cfaValExpression      cfaInstr = 0x16
	cfaGNUArgsSize        cfaInstr = 0x2e // GNU extension, treated as a nop with a ULEB operand
	cfaGNUNegativeOffsetExtended cfaInstr = 0x2f
)

// RuleKind classifies how to recover a register's value in the caller frame.
type RuleKind int

const (
	RuleUndefined RuleKind = iota
	RuleSameValue
	RuleOffset
	RuleValOffset
	RuleRegister
	RuleValRegister
	RuleExpression
	RuleValExpression
	RuleArchitectural
)
