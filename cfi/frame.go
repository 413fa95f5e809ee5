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

// CIE is a Common Information Entry: the per-compilation-unit preamble that
// an FDE's instruction stream is interpreted on top of.
type CIE struct {
	Offset                uint64
	Version               uint8
	Augmentation          string
	CodeAlignmentFactor   uint64
	DataAlignmentFactor   int64
	ReturnAddressRegister int

	// FDEPointerEncoding is the DW_EH_PE_* encoding of the FDE's
	// initial_location and address_range fields, taken from the 'R'
	// augmentation letter. Zero (DW_EH_PE_absptr) unless overridden.
	FDEPointerEncoding byte

	// LSDAEncoding is the DW_EH_PE_* encoding of an FDE's LSDA pointer,
	// present only when the augmentation string carries 'L'.
	LSDAEncoding byte
	HasLSDA      bool

	// PersonalityRoutine and PersonalityEncoding come from the 'P'
	// augmentation letter.
	PersonalityRoutine  uint64
	PersonalityEncoding byte
	HasPersonality      bool

	// SignalFrame is the eh_frame 'S' augmentation letter: FDEs under
	// this CIE describe a signal trampoline, so the frame the unwinder
	// produces from them must not have 1 subtracted from its PC before
	// the next CFI lookup.
	SignalFrame bool

	InitialInstructions []byte
}

// FDE is a Frame Description Entry: the address range it covers and the
// instruction stream that builds unwind rows for that range on top of its
// CIE's initial state.
type FDE struct {
	Offset          uint64
	CIE             *CIE
	InitialLocation uint64
	AddressRange    uint64
	LSDAPointer     uint64
	HasLSDA         bool
	Instructions    []byte
}

// Contains reports whether pc falls within the FDE's address range.
func (f *FDE) Contains(pc uint64) bool {
	return pc >= f.InitialLocation && pc < f.InitialLocation+f.AddressRange
}

// CFARule describes how to compute the Canonical Frame Address from the
// current frame.
type CFARule struct {
	// Register/Offset form: new CFA = current[Register] + Offset. Used
	// when Expr is nil.
	Register int
	Offset    int64

	// Expr, when non-nil, is a DW_CFA_def_cfa_expression program that
	// must be evaluated instead of the register/offset form.
	Expr []byte
}

// RegisterRule describes how to recover one register's value in the caller
// frame, per the Kind tag.
type RegisterRule struct {
	Kind RuleKind

	Offset   int64 // RuleOffset, RuleValOffset: CFA + Offset
	Register int   // RuleRegister, RuleValRegister: current[Register]
	Expr     []byte
}

// Row is the unwind state in force for addresses in [Low, High).
type Row struct {
	Low, High uint64
	CFA       CFARule
	Registers map[int]RegisterRule

	// ReturnAddressRegister and SignalFrame are constant for every row an
	// FDE produces; they come from the owning CIE (RowAt copies them in)
	// rather than from the instruction stream itself.
	ReturnAddressRegister int
	SignalFrame           bool
}
