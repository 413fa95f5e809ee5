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

package cfi

import (
	"fmt"

	"github.com/dwarfscope/dwarfscope/arch"
	"github.com/dwarfscope/dwarfscope/errors"
	"github.com/dwarfscope/dwarfscope/leb128"
)

// vmState is the CFI interpreter's row under construction.
type vmState struct {
	loc       uint64
	cfa       CFARule
	registers map[int]RegisterRule
}

func (s vmState) clone() vmState {
	regs := make(map[int]RegisterRule, len(s.registers))
	for k, v := range s.registers {
		regs[k] = v
	}
	return vmState{loc: s.loc, cfa: s.cfa, registers: regs}
}

// cfiRunner interprets CFI instruction streams against a CIE's alignment
// factors, consulting initial (the state as of the end of the CIE's own
// initial instructions) to satisfy DW_CFA_restore/restore_extended while
// running an FDE's instructions.
type cfiRunner struct {
	cie     *CIE
	view    leb128.View
	initial *vmState
}

func newCFIRunner(cie *CIE, codeView leb128.View) *cfiRunner {
	return &cfiRunner{cie: cie, view: codeView}
}

func (r *cfiRunner) codeAt(code []byte) leb128.View {
	return leb128.NewView(code, r.view.ByteOrder(), r.view.AddressSize(), r.view.OffsetSize())
}

// RowAt computes the unwind row in force at pc: the backend's
// architectural-default CFI program runs first, then the owning CIE's own
// initial instructions, then the FDE's instructions up to pc.
func (t *Table) RowAt(pc uint64, backend arch.Backend) (Row, error) {
	fde, ok := t.FDEFor(pc)
	if !ok {
		return Row{}, errors.Errorf(errors.NoMatch, fmt.Sprintf("no CFI row for pc 0x%x", pc))
	}

	runner := newCFIRunner(fde.CIE, t.codeView)

	state := vmState{loc: fde.InitialLocation, registers: map[int]RegisterRule{}}
	var stack []vmState

	if err := runner.run(backend.InitialCFIInstructions(), &state, &stack); err != nil {
		return Row{}, errors.Errorf(errors.ExprError, fmt.Sprintf("architectural default CFI instructions: %v", err))
	}
	if err := runner.run(fde.CIE.InitialInstructions, &state, &stack); err != nil {
		return Row{}, errors.Errorf(errors.ExprError, fmt.Sprintf("CIE initial instructions: %v", err))
	}

	initial := state.clone()
	runner.initial = &initial

	fdeEnd := fde.InitialLocation + fde.AddressRange
	row, err := runner.rowAtTarget(fde.Instructions, &state, &stack, pc, fdeEnd)
	if err != nil {
		return Row{}, err
	}
	row.ReturnAddressRegister = fde.CIE.ReturnAddressRegister
	row.SignalFrame = fde.CIE.SignalFrame
	return row, nil
}

// run interprets code to completion, applying every instruction (including
// advances) directly to state. Used for the backend-default and CIE initial
// instruction streams, which establish the state an FDE's instructions build
// on rather than describing any particular PC range themselves.
func (r *cfiRunner) run(code []byte, state *vmState, stack *[]vmState) error {
	view := r.codeAt(code)
	pos := 0
	for pos < len(view.Bytes()) {
		next, newLoc, isAdvance, err := r.step(view, pos, state, stack)
		if err != nil {
			return err
		}
		pos = next
		if isAdvance {
			state.loc = newLoc
		}
	}
	return nil
}

// rowAtTarget interprets code, an FDE's instruction stream, stopping as soon
// as an advance would move the current row's range past target. fdeEnd
// bounds the final row's High when target falls in the FDE's last row.
func (r *cfiRunner) rowAtTarget(code []byte, state *vmState, stack *[]vmState, target, fdeEnd uint64) (Row, error) {
	view := r.codeAt(code)
	rowLow := state.loc
	pos := 0
	for pos < len(view.Bytes()) {
		next, newLoc, isAdvance, err := r.step(view, pos, state, stack)
		if err != nil {
			return Row{}, errors.Errorf(errors.ExprError, fmt.Sprintf("FDE instructions: %v", err))
		}
		pos = next
		if isAdvance {
			if newLoc > target {
				return Row{Low: rowLow, High: newLoc, CFA: state.cfa, Registers: state.registers}, nil
			}
			state.loc = newLoc
			rowLow = newLoc
		}
	}
	return Row{Low: rowLow, High: fdeEnd, CFA: state.cfa, Registers: state.registers}, nil
}

// step interprets a single CFI instruction at pos, mutating state and stack
// for every instruction except an advance, which the caller applies after
// deciding whether it crosses the target PC.
func (r *cfiRunner) step(view leb128.View, pos int, state *vmState, stack *[]vmState) (next int, newLoc uint64, isAdvance bool, err error) {
	opByte, next, err := view.U8(pos)
	if err != nil {
		return pos, 0, false, errors.Errorf(errors.Truncated, fmt.Sprintf("CFI opcode at %d: %v", pos, err))
	}
	pos = next

	top2 := opByte & 0xc0
	low6 := int(opByte & 0x3f)

	switch cfaInstr(top2) {
	case cfaAdvanceLoc:
		return pos, state.loc + uint64(low6)*r.cie.CodeAlignmentFactor, true, nil

	case cfaOffset:
		operand, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_offset operand")
		}
		state.registers[low6] = RegisterRule{Kind: RuleOffset, Offset: int64(operand) * r.cie.DataAlignmentFactor}
		return next, 0, false, nil

	case cfaRestore:
		if r.initial != nil {
			if rule, ok := r.initial.registers[low6]; ok {
				state.registers[low6] = rule
			} else {
				delete(state.registers, low6)
			}
		}
		return pos, 0, false, nil
	}

	switch cfaInstr(opByte) {
	case cfaNop:
		return pos, 0, false, nil

	case cfaSetLoc:
		addr, next, err := view.Address(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_set_loc")
		}
		return next, addr, true, nil

	case cfaAdvanceLoc1:
		delta, next, err := view.U8(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_advance_loc1")
		}
		return next, state.loc + uint64(delta)*r.cie.CodeAlignmentFactor, true, nil

	case cfaAdvanceLoc2:
		delta, next, err := view.U16(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_advance_loc2")
		}
		return next, state.loc + uint64(delta)*r.cie.CodeAlignmentFactor, true, nil

	case cfaAdvanceLoc4:
		delta, next, err := view.U32(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_advance_loc4")
		}
		return next, state.loc + uint64(delta)*r.cie.CodeAlignmentFactor, true, nil

	case cfaOffsetExtended:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_offset_extended register")
		}
		pos = next
		operand, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_offset_extended operand")
		}
		state.registers[int(reg)] = RegisterRule{Kind: RuleOffset, Offset: int64(operand) * r.cie.DataAlignmentFactor}
		return next, 0, false, nil

	case cfaOffsetExtendedSf:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_offset_extended_sf register")
		}
		pos = next
		operand, next, err := view.Sleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_offset_extended_sf operand")
		}
		state.registers[int(reg)] = RegisterRule{Kind: RuleOffset, Offset: operand * r.cie.DataAlignmentFactor}
		return next, 0, false, nil

	case cfaRestoreExtended:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_restore_extended register")
		}
		if r.initial != nil {
			if rule, ok := r.initial.registers[int(reg)]; ok {
				state.registers[int(reg)] = rule
			} else {
				delete(state.registers, int(reg))
			}
		}
		return next, 0, false, nil

	case cfaUndefined:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_undefined register")
		}
		state.registers[int(reg)] = RegisterRule{Kind: RuleUndefined}
		return next, 0, false, nil

	case cfaSameValue:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_same_value register")
		}
		state.registers[int(reg)] = RegisterRule{Kind: RuleSameValue}
		return next, 0, false, nil

	case cfaRegister:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_register register")
		}
		pos = next
		other, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_register operand")
		}
		state.registers[int(reg)] = RegisterRule{Kind: RuleRegister, Register: int(other)}
		return next, 0, false, nil

	case cfaRememberState:
		*stack = append(*stack, state.clone())
		return pos, 0, false, nil

	case cfaRestoreState:
		if len(*stack) == 0 {
			return pos, 0, false, errors.Errorf(errors.ExprError, "DW_CFA_restore_state with empty stack")
		}
		saved := (*stack)[len(*stack)-1]
		*stack = (*stack)[:len(*stack)-1]
		state.cfa = saved.cfa
		state.registers = saved.registers
		return pos, 0, false, nil

	case cfaDefCfa:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_def_cfa register")
		}
		pos = next
		offset, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_def_cfa offset")
		}
		state.cfa = CFARule{Register: int(reg), Offset: int64(offset)}
		return next, 0, false, nil

	case cfaDefCfaSf:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_def_cfa_sf register")
		}
		pos = next
		offset, next, err := view.Sleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_def_cfa_sf offset")
		}
		state.cfa = CFARule{Register: int(reg), Offset: offset * r.cie.DataAlignmentFactor}
		return next, 0, false, nil

	case cfaDefCfaRegister:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_def_cfa_register")
		}
		state.cfa.Register = int(reg)
		return next, 0, false, nil

	case cfaDefCfaOffset:
		offset, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_def_cfa_offset")
		}
		state.cfa.Offset = int64(offset)
		return next, 0, false, nil

	case cfaDefCfaOffsetSf:
		offset, next, err := view.Sleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_def_cfa_offset_sf")
		}
		state.cfa.Offset = offset * r.cie.DataAlignmentFactor
		return next, 0, false, nil

	case cfaDefCfaExpression:
		length, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_def_cfa_expression length")
		}
		pos = next
		expr, next, err := view.Slice(pos, int(length))
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_def_cfa_expression bytes")
		}
		state.cfa = CFARule{Expr: expr}
		return next, 0, false, nil

	case cfaExpression:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_expression register")
		}
		pos = next
		length, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_expression length")
		}
		pos = next
		expr, next, err := view.Slice(pos, int(length))
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_expression bytes")
		}
		state.registers[int(reg)] = RegisterRule{Kind: RuleExpression, Expr: expr}
		return next, 0, false, nil

	case cfaValOffset:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_val_offset register")
		}
		pos = next
		operand, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_val_offset operand")
		}
		state.registers[int(reg)] = RegisterRule{Kind: RuleValOffset, Offset: int64(operand) * r.cie.DataAlignmentFactor}
		return next, 0, false, nil

	case cfaValOffsetSf:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_val_offset_sf register")
		}
		pos = next
		operand, next, err := view.Sleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_val_offset_sf operand")
		}
		state.registers[int(reg)] = RegisterRule{Kind: RuleValOffset, Offset: operand * r.cie.DataAlignmentFactor}
		return next, 0, false, nil

	case cfaValExpression:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_val_expression register")
		}
		pos = next
		length, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_val_expression length")
		}
		pos = next
		expr, next, err := view.Slice(pos, int(length))
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_val_expression bytes")
		}
		state.registers[int(reg)] = RegisterRule{Kind: RuleValExpression, Expr: expr}
		return next, 0, false, nil

	case cfaGNUArgsSize:
		// GNU extension carrying the argument-area size at a call site;
		// irrelevant to register/CFA recovery, skip its operand.
		_, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_GNU_args_size")
		}
		return next, 0, false, nil

	case cfaGNUNegativeOffsetExtended:
		reg, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_GNU_negative_offset_extended register")
		}
		pos = next
		operand, next, err := view.Uleb128(pos)
		if err != nil {
			return pos, 0, false, errors.Errorf(errors.Truncated, "DW_CFA_GNU_negative_offset_extended operand")
		}
		state.registers[int(reg)] = RegisterRule{Kind: RuleOffset, Offset: -int64(operand) * r.cie.DataAlignmentFactor}
		return next, 0, false, nil

	default:
		return pos, 0, false, errors.Errorf(errors.BadForm, fmt.Sprintf("unsupported DW_CFA opcode 0x%x", opByte))
	}
}
