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

// Package unwind walks a call stack frame by frame, combining the CFI rows
// (I) builds with live register state and a memory-read callback to recover
// each caller's registers in turn.
package unwind

import (
	"fmt"

	"github.com/dwarfscope/dwarfscope/arch"
	"github.com/dwarfscope/dwarfscope/cfi"
	"github.com/dwarfscope/dwarfscope/errors"
)

// MemoryReader dereferences a target address, reporting false if the address
// is not readable. The unwinder treats a refusal here as a clean end of
// stack rather than an error, provided at least one frame was already
// produced.
type MemoryReader func(addr uint64) (value uint64, ok bool)

// Module is the subset of a module registry entry the unwinder needs: its
// CFI table and whether a PC falls inside the process's entry function,
// where "no CFI row" means bottom-of-stack rather than a dead end.
type Module interface {
	CFITable() (*cfi.Table, bool)
	Backend() arch.Backend
	ContainsEntryFunction(pc uint64) bool
}

// ModuleLookup finds the module owning a PC, as (K) provides.
type ModuleLookup interface {
	ModuleFor(pc uint64) (Module, bool)
}

// Frame is one level of a recovered call stack: the frame's own register
// state, plus the CFA computed while producing it and whether its CIE
// marked it a signal frame (which governs whether the *next* frame's PC
// needs the call-site "-1" adjustment before its own CFI lookup).
type Frame struct {
	Registers   arch.ProcessRegisters
	SignalFrame bool

	cfa      uint64
	cfaKnown bool
}

// CFA returns the Canonical Frame Address computed from this frame's CFI
// row. The frame appended when the entry function is reached has no row
// evaluated and so has none.
func (f Frame) CFA() (uint64, bool) {
	return f.cfa, f.cfaKnown
}

// frameCtx adapts one frame's register state, CFA and memory-read callback
// to dwarf.ExprContext, which cfi.Table.EvalExpr requires.
type frameCtx struct {
	regs arch.ProcessRegisters
	mem  MemoryReader
	cfa  uint64
}

func (c frameCtx) Register(n int) (uint64, bool)         { return c.regs.Register(n) }
func (c frameCtx) ReadMemory(addr uint64) (uint64, bool) { return c.mem(addr) }
func (c frameCtx) CFA() (uint64, bool)                   { return c.cfa, true }
func (c frameCtx) FrameBase() (uint64, bool)             { return 0, false }

// Unwind produces the call stack starting at initial, stopping at end of
// stack (return-address register undefined, entry function reached, or a
// memory-read refusal after at least one frame), or at maxFrames frames if
// maxFrames is positive. An error mid-walk is returned alongside whatever
// frames preceded it, per this package's "print what we have" propagation
// policy.
func Unwind(lookup ModuleLookup, mem MemoryReader, initial arch.ProcessRegisters, maxFrames int) ([]Frame, error) {
	var frames []Frame

	cur := initial
	skipAdjust := true // the innermost frame's PC is exact, never a return address

	for maxFrames <= 0 || len(frames) < maxFrames {
		lookupPC := cur.PC
		if !skipAdjust {
			lookupPC--
		}

		mod, ok := lookup.ModuleFor(lookupPC)
		if !ok {
			return frames, nil
		}

		if mod.ContainsEntryFunction(lookupPC) {
			frames = append(frames, Frame{Registers: cur})
			return frames, nil
		}

		table, ok := mod.CFITable()
		if !ok {
			return frames, errors.Errorf(errors.NoMatch, fmt.Sprintf("module owning pc 0x%x has no CFI table", lookupPC))
		}

		row, err := table.RowAt(lookupPC, mod.Backend())
		if err != nil {
			return frames, err
		}

		cfaVal, err := evalCFA(table, row.CFA, cur, mem)
		if err != nil {
			return frames, err
		}

		ctx := frameCtx{regs: cur, mem: mem, cfa: cfaVal}
		caller := arch.ProcessRegisters{Values: map[int]uint64{}, Known: map[int]bool{}}

		for reg := 0; reg < mod.Backend().RegisterCount(); reg++ {
			rule, hasRule := row.Registers[reg]
			if !hasRule {
				rule = cfi.RegisterRule{Kind: cfi.RuleUndefined}
			}

			v, known, memRefused := evalRegisterRule(table, rule, reg, ctx, cfaVal)
			if memRefused {
				if len(frames) > 0 {
					return frames, nil
				}
				return frames, errors.Errorf(errors.ProcessMemoryRead, fmt.Sprintf("register %d rule requires unreadable memory", reg))
			}
			if known {
				caller.Values[reg] = v
				caller.Known[reg] = true
			}
		}

		frames = append(frames, Frame{Registers: cur, SignalFrame: row.SignalFrame, cfa: cfaVal, cfaKnown: true})

		if !caller.Known[row.ReturnAddressRegister] {
			return frames, nil
		}
		caller.PC = caller.Values[row.ReturnAddressRegister]

		skipAdjust = row.SignalFrame
		cur = caller
	}

	return frames, nil
}

func evalCFA(table *cfi.Table, rule cfi.CFARule, cur arch.ProcessRegisters, mem MemoryReader) (uint64, error) {
	if rule.Expr != nil {
		ctx := frameCtx{regs: cur, mem: mem}
		result, err := table.EvalExpr(rule.Expr, ctx)
		if err != nil {
			return 0, errors.Errorf(errors.ExprError, fmt.Sprintf("CFA expression: %v", err))
		}
		return result.Value, nil
	}

	v, ok := cur.Register(rule.Register)
	if !ok {
		return 0, errors.Errorf(errors.ExprError, fmt.Sprintf("CFA register %d unknown", rule.Register))
	}
	return uint64(int64(v) + rule.Offset), nil
}

// evalRegisterRule evaluates the rule for register reg against the current
// frame ctx and the already-computed CFA, reporting whether the caller
// value is known and whether an offset/expression rule's memory read was
// refused.
func evalRegisterRule(table *cfi.Table, rule cfi.RegisterRule, reg int, ctx frameCtx, cfaVal uint64) (value uint64, known bool, memRefused bool) {
	switch rule.Kind {
	case cfi.RuleUndefined:
		return 0, false, false

	case cfi.RuleSameValue:
		v, ok := ctx.regs.Register(reg)
		if !ok {
			return 0, false, false
		}
		return v, true, false

	case cfi.RuleOffset:
		addr := uint64(int64(cfaVal) + rule.Offset)
		v, ok := ctx.mem(addr)
		if !ok {
			return 0, false, true
		}
		return v, true, false

	case cfi.RuleValOffset:
		return uint64(int64(cfaVal) + rule.Offset), true, false

	case cfi.RuleRegister, cfi.RuleValRegister:
		v, ok := ctx.regs.Register(rule.Register)
		if !ok {
			return 0, false, false
		}
		return v, true, false

	case cfi.RuleExpression:
		result, err := table.EvalExpr(rule.Expr, ctx)
		if err != nil {
			return 0, false, false
		}
		v, ok := ctx.mem(result.Value)
		if !ok {
			return 0, false, true
		}
		return v, true, false

	case cfi.RuleValExpression:
		result, err := table.EvalExpr(rule.Expr, ctx)
		if err != nil {
			return 0, false, false
		}
		return result.Value, true, false

	case cfi.RuleArchitectural:
		// architecture-specific recovery rule with no generic
		// interpretation available; arch.Backend does not currently
		// expose a hook for it.
		return 0, false, false

	default:
		return 0, false, false
	}
}
