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

package dwarf

import (
	"fmt"

	"github.com/dwarfscope/dwarfscope/errors"
	"github.com/dwarfscope/dwarfscope/leb128"
)

// ExprContext supplies the register, memory and frame state a DWARF
// expression needs to evaluate the handful of opcodes this interpreter
// supports. The unwinder implements it against live frame state; a location
// evaluator for a running process implements it against ptrace'd registers.
type ExprContext interface {
	// Register returns the current value of DWARF register n.
	Register(n int) (uint64, bool)

	// ReadMemory dereferences addr, as DW_OP_deref requires.
	ReadMemory(addr uint64) (uint64, bool)

	// CFA returns the current frame's Canonical Frame Address, for
	// DW_OP_call_frame_cfa.
	CFA() (uint64, bool)

	// FrameBase returns the precomputed value of DW_AT_frame_base for the
	// enclosing DIE, for DW_OP_fbreg. Evaluating DW_AT_frame_base itself is
	// the caller's job (it is usually just DW_OP_call_frame_cfa); this
	// interpreter does not recurse into a second expression to get it.
	FrameBase() (uint64, bool)
}

// ExprResult is the outcome of evaluating a DWARF expression: either a
// location (the top of stack is an address still to be dereferenced by the
// caller) or a value (DW_OP_stack_value or an expression ending in a bare
// register reference).
type ExprResult struct {
	Value   uint64
	IsValue bool
}

const exprStackLimit = 64

// EvalExpr interprets a DWARF expression byte-code program against ctx,
// supporting the opcode subset declared in this package's Opcode constants,
// except DW_OP_GNU_entry_value, which is declared but rejected as an
// unsupported opcode.
// view must be sized over exactly the expression's bytes, with byte order
// and address size already configured by the caller (the CU or section the
// expression was read from).
func EvalExpr(view leb128.View, ctx ExprContext) (ExprResult, error) {
	code := view.Bytes()

	var stack []uint64
	isValue := false

	push := func(v uint64) {
		stack = append(stack, v)
	}
	pop := func() (uint64, error) {
		if len(stack) == 0 {
			return 0, errors.Errorf(errors.ExprError, "stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}

	pos := 0
	for pos < len(code) {
		opByte, next, err := view.U8(pos)
		if err != nil {
			return ExprResult{}, errors.Errorf(errors.ExprError, fmt.Sprintf("reading opcode at %d: %v", pos, err))
		}
		pos = next
		op := Opcode(opByte)

		switch {
		case op == OpAddr:
			v, next, err := view.Address(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, fmt.Sprintf("DW_OP_addr: %v", err))
			}
			pos = next
			push(v)

		case op == OpDeref:
			addr, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			v, ok := ctx.ReadMemory(addr)
			if !ok {
				return ExprResult{}, errors.Errorf(errors.ProcessMemoryRead, fmt.Sprintf("DW_OP_deref at 0x%x", addr))
			}
			push(v)

		case op == OpConst1u:
			v, next, err := view.U8(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_const1u")
			}
			pos = next
			push(uint64(v))

		case op == OpConst1s:
			v, next, err := view.U8(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_const1s")
			}
			pos = next
			push(uint64(int64(int8(v))))

		case op == OpConst2u:
			v, next, err := view.U16(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_const2u")
			}
			pos = next
			push(uint64(v))

		case op == OpConst2s:
			v, next, err := view.U16(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_const2s")
			}
			pos = next
			push(uint64(int64(int16(v))))

		case op == OpConst4u:
			v, next, err := view.U32(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_const4u")
			}
			pos = next
			push(uint64(v))

		case op == OpConst4s:
			v, next, err := view.I32(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_const4s")
			}
			pos = next
			push(uint64(int64(v)))

		case op == OpConstu:
			v, next, err := view.Uleb128(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_constu")
			}
			pos = next
			push(v)

		case op == OpConsts:
			v, next, err := view.Sleb128(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_consts")
			}
			pos = next
			push(uint64(v))

		case op == OpDup:
			v, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			push(v)
			push(v)

		case op == OpDrop:
			if _, err := pop(); err != nil {
				return ExprResult{}, err
			}

		case op == OpOver:
			if len(stack) < 2 {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_over: stack underflow")
			}
			push(stack[len(stack)-2])

		case op == OpPick:
			n, next, err := view.U8(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_pick")
			}
			pos = next
			if int(n) >= len(stack) {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_pick: stack underflow")
			}
			push(stack[len(stack)-1-int(n)])

		case op == OpSwap:
			if len(stack) < 2 {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_swap: stack underflow")
			}
			stack[len(stack)-1], stack[len(stack)-2] = stack[len(stack)-2], stack[len(stack)-1]

		case op == OpRot:
			if len(stack) < 3 {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_rot: stack underflow")
			}
			n := len(stack)
			stack[n-1], stack[n-2], stack[n-3] = stack[n-2], stack[n-3], stack[n-1]

		case op == OpAnd:
			b, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			a, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			push(a & b)

		case op == OpMinus:
			b, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			a, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			push(a - b)

		case op == OpPlus:
			b, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			a, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			push(a + b)

		case op == OpPlusUconst:
			u, next, err := view.Uleb128(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_plus_uconst")
			}
			pos = next
			a, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			push(a + u)

		case op == OpShl:
			b, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			a, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			push(a << b)

		case op == OpShr:
			b, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			a, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			push(a >> b)

		case op == OpGe:
			b, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			a, err := pop()
			if err != nil {
				return ExprResult{}, err
			}
			if int64(a) >= int64(b) {
				push(1)
			} else {
				push(0)
			}

		case op >= OpLit0 && op <= OpLit0+31:
			push(uint64(op - OpLit0))

		case op >= OpReg0 && op <= OpReg0+31:
			v, ok := ctx.Register(int(op - OpReg0))
			if !ok {
				return ExprResult{}, errors.Errorf(errors.ExprError, fmt.Sprintf("DW_OP_reg%d: register unknown", op-OpReg0))
			}
			push(v)
			isValue = true

		case op == OpRegx:
			n, next, err := view.Uleb128(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_regx")
			}
			pos = next
			v, ok := ctx.Register(int(n))
			if !ok {
				return ExprResult{}, errors.Errorf(errors.ExprError, fmt.Sprintf("DW_OP_regx(%d): register unknown", n))
			}
			push(v)
			isValue = true

		case op >= OpBreg0 && op <= OpBreg0+31:
			offset, next, err := view.Sleb128(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_bregN offset")
			}
			pos = next
			v, ok := ctx.Register(int(op - OpBreg0))
			if !ok {
				return ExprResult{}, errors.Errorf(errors.ExprError, fmt.Sprintf("DW_OP_breg%d: register unknown", op-OpBreg0))
			}
			push(uint64(int64(v) + offset))

		case op == OpBregx:
			n, next, err := view.Uleb128(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_bregx register")
			}
			pos = next
			offset, next, err := view.Sleb128(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_bregx offset")
			}
			pos = next
			v, ok := ctx.Register(int(n))
			if !ok {
				return ExprResult{}, errors.Errorf(errors.ExprError, fmt.Sprintf("DW_OP_bregx(%d): register unknown", n))
			}
			push(uint64(int64(v) + offset))

		case op == OpFbreg:
			offset, next, err := view.Sleb128(pos)
			if err != nil {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_fbreg offset")
			}
			pos = next
			fb, ok := ctx.FrameBase()
			if !ok {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_fbreg: frame base unknown")
			}
			push(uint64(int64(fb) + offset))

		case op == OpCallFrameCfa:
			cfa, ok := ctx.CFA()
			if !ok {
				return ExprResult{}, errors.Errorf(errors.ExprError, "DW_OP_call_frame_cfa: CFA unknown")
			}
			push(cfa)

		case op == OpStackValue:
			isValue = true

		default:
			return ExprResult{}, errors.Errorf(errors.ExprError, fmt.Sprintf("unsupported opcode 0x%x", opByte))
		}

		if len(stack) > exprStackLimit {
			return ExprResult{}, errors.Errorf(errors.ExprError, "expression stack depth exceeded")
		}
	}

	top, err := pop()
	if err != nil {
		return ExprResult{}, err
	}
	return ExprResult{Value: top, IsValue: isValue}, nil
}
