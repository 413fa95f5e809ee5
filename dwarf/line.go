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

// LineRow is one row of a CU's line-number matrix.
type LineRow struct {
	Address     uint64
	File        int
	Line        int
	Column      int
	IsStmt      bool
	BasicBlock  bool
	EndSequence bool
	PrologueEnd bool
	EpilogueBegin bool

	// AddressRelocated records whether Address came from a relocated
	// DW_LNE_set_address/initial address, so a later symbol-relative binary
	// search can still succeed even across a relinked section.
	AddressRelocated bool
}

// LineFile is one entry of a line program's file table.
type LineFile struct {
	Name      string
	Directory int
}

// LineProgram is a single CU's decoded .debug_line contribution: its header
// plus the resulting ordered line-row matrix.
type LineProgram struct {
	Version               int
	MinInstructionLength  int
	MaxOpsPerInstruction  int
	DefaultIsStmt         bool
	LineBase              int8
	LineRange             uint8
	OpcodeBase            uint8
	StandardOpcodeLengths []uint8

	IncludeDirectories []string
	Files              []LineFile

	Rows []LineRow
}

// lineState is the line-number state machine's mutable register set,
// reset to its default values at the start of each sequence.
type lineState struct {
	address          uint64
	addressRelocated bool
	file             int
	line             int
	column           int
	isStmt           bool
	basicBlock       bool
	endSequence      bool
	prologueEnd      bool
	epilogueBegin    bool
}

func newLineState(defaultIsStmt bool) lineState {
	return lineState{file: 1, line: 1, isStmt: defaultIsStmt}
}

// DecodeLineProgram decodes the line-number program at the given
// .debug_line offset.
func (r *Reader) DecodeLineProgram(line Section, offset int, addressSize int) (LineProgram, error) {
	view := line.View.WithAddressSize(addressSize)

	unitLength, pos, err := view.U32(offset)
	if err != nil {
		return LineProgram{}, errors.Errorf(errors.Truncated, fmt.Sprintf("line program unit_length at %d: %v", offset, err))
	}

	offsetSize := 4
	var programEnd int
	if unitLength == 0xffffffff {
		offsetSize = 8
		u64, next, err := view.U64(pos)
		if err != nil {
			return LineProgram{}, errors.Errorf(errors.Truncated, "64-bit line program unit_length")
		}
		pos = next
		programEnd = pos + int(u64)
	} else {
		programEnd = pos + int(unitLength)
	}
	view = view.WithOffsetSize(offsetSize)

	version, pos, err := view.U16(pos)
	if err != nil {
		return LineProgram{}, errors.Errorf(errors.Truncated, "line program version")
	}

	lp := LineProgram{Version: int(version), MaxOpsPerInstruction: 1}

	if version >= 4 {
		maxOps, next, err := view.U8(pos)
		if err != nil {
			return LineProgram{}, errors.Errorf(errors.Truncated, "maximum_operations_per_instruction")
		}
		pos = next
		lp.MaxOpsPerInstruction = int(maxOps)
	}

	headerLength, pos, err := view.Offset(pos)
	if err != nil {
		return LineProgram{}, errors.Errorf(errors.Truncated, "header_length")
	}
	programStart := pos + int(headerLength)

	minInstLen, pos, err := view.U8(pos)
	if err != nil {
		return LineProgram{}, errors.Errorf(errors.Truncated, "minimum_instruction_length")
	}
	lp.MinInstructionLength = int(minInstLen)

	defaultIsStmt, pos, err := view.U8(pos)
	if err != nil {
		return LineProgram{}, errors.Errorf(errors.Truncated, "default_is_stmt")
	}
	lp.DefaultIsStmt = defaultIsStmt != 0

	lineBase, pos, err := view.U8(pos)
	if err != nil {
		return LineProgram{}, errors.Errorf(errors.Truncated, "line_base")
	}
	lp.LineBase = int8(lineBase)

	lineRange, pos, err := view.U8(pos)
	if err != nil {
		return LineProgram{}, errors.Errorf(errors.Truncated, "line_range")
	}
	lp.LineRange = lineRange

	opcodeBase, pos, err := view.U8(pos)
	if err != nil {
		return LineProgram{}, errors.Errorf(errors.Truncated, "opcode_base")
	}
	lp.OpcodeBase = opcodeBase

	for i := 0; i < int(opcodeBase)-1; i++ {
		n, next, err := view.U8(pos)
		if err != nil {
			return LineProgram{}, errors.Errorf(errors.Truncated, "standard_opcode_lengths")
		}
		pos = next
		lp.StandardOpcodeLengths = append(lp.StandardOpcodeLengths, n)
	}

	// include_directories: a sequence of NUL-terminated strings, terminated
	// by an empty string.
	for {
		s, next, err := readCString(view, pos)
		if err != nil {
			return LineProgram{}, err
		}
		pos = next
		if s == "" {
			break
		}
		lp.IncludeDirectories = append(lp.IncludeDirectories, s)
	}

	// file_names: (name, dir index, mtime, size) tuples, terminated by an
	// empty name.
	for {
		s, next, err := readCString(view, pos)
		if err != nil {
			return LineProgram{}, err
		}
		pos = next
		if s == "" {
			break
		}
		dir, next, err := view.Uleb128(pos)
		if err != nil {
			return LineProgram{}, errors.Errorf(errors.Truncated, "file entry directory index")
		}
		pos = next
		_, next, err = view.Uleb128(pos) // mtime
		if err != nil {
			return LineProgram{}, errors.Errorf(errors.Truncated, "file entry mtime")
		}
		pos = next
		_, next, err = view.Uleb128(pos) // length
		if err != nil {
			return LineProgram{}, errors.Errorf(errors.Truncated, "file entry length")
		}
		pos = next
		lp.Files = append(lp.Files, LineFile{Name: s, Directory: int(dir)})
	}

	sec := Section{View: view, Rel: line.Rel}
	if err := lp.run(sec, view, programStart, programEnd); err != nil {
		return LineProgram{}, err
	}

	return lp, nil
}

// run interprets the opcode stream from pos to end, appending a row on
// every special opcode, DW_LNS_copy, and DW_LNE_end_sequence.
func (lp *LineProgram) run(sec Section, view leb128.View, pos, end int) error {
	state := newLineState(lp.DefaultIsStmt)

	emit := func() {
		lp.Rows = append(lp.Rows, LineRow{
			Address:          state.address,
			File:             state.file,
			Line:             state.line,
			Column:           state.column,
			IsStmt:           state.isStmt,
			BasicBlock:       state.basicBlock,
			EndSequence:      state.endSequence,
			PrologueEnd:      state.prologueEnd,
			EpilogueBegin:    state.epilogueBegin,
			AddressRelocated: state.addressRelocated,
		})
	}

	for pos < end {
		opcode, next, err := view.U8(pos)
		if err != nil {
			return errors.Errorf(errors.Truncated, fmt.Sprintf("opcode at %d: %v", pos, err))
		}
		pos = next

		switch {
		case opcode == 0:
			// extended opcode: ULEB128 length, then the opcode byte and its
			// operands within that length.
			length, next, err := view.Uleb128(pos)
			if err != nil {
				return errors.Errorf(errors.Truncated, "extended opcode length")
			}
			opStart := next
			opEnd := opStart + int(length)

			subop, next, err := view.U8(opStart)
			if err != nil {
				return errors.Errorf(errors.Truncated, "extended opcode byte")
			}

			switch subop {
			case LNEEndSequence:
				state.endSequence = true
				emit()
				state = newLineState(lp.DefaultIsStmt)
			case LNESetAddress:
				addr, relocated, _, err := sec.ReadAddress(next)
				if err != nil {
					return errors.Errorf(errors.Truncated, "DW_LNE_set_address")
				}
				state.address = addr
				state.addressRelocated = relocated
			case LNEDefineFile:
				s, fnext, err := readCString(view, next)
				if err != nil {
					return err
				}
				dir, fnext, err := view.Uleb128(fnext)
				if err != nil {
					return errors.Errorf(errors.Truncated, "DW_LNE_define_file directory")
				}
				_, fnext, err = view.Uleb128(fnext)
				if err != nil {
					return errors.Errorf(errors.Truncated, "DW_LNE_define_file mtime")
				}
				_, fnext, err = view.Uleb128(fnext)
				if err != nil {
					return errors.Errorf(errors.Truncated, "DW_LNE_define_file length")
				}
				lp.Files = append(lp.Files, LineFile{Name: s, Directory: int(dir)})
			default:
				// unrecognized vendor extended opcode: skip its operand
				// bytes using the declared length, per the DWARF spec's
				// forward-compatibility rule.
			}

			pos = opEnd

		case int(opcode) < int(lp.OpcodeBase):
			// standard opcode
			switch opcode {
			case LNSCopy:
				emit()
				state.basicBlock = false
				state.prologueEnd = false
				state.epilogueBegin = false
			case LNSAdvancePC:
				adv, next, err := view.Uleb128(pos)
				if err != nil {
					return errors.Errorf(errors.Truncated, "DW_LNS_advance_pc")
				}
				pos = next
				state.address += adv * uint64(lp.MinInstructionLength)
				continue
			case LNSAdvanceLine:
				adv, next, err := view.Sleb128(pos)
				if err != nil {
					return errors.Errorf(errors.Truncated, "DW_LNS_advance_line")
				}
				pos = next
				state.line += int(adv)
				continue
			case LNSSetFile:
				f, next, err := view.Uleb128(pos)
				if err != nil {
					return errors.Errorf(errors.Truncated, "DW_LNS_set_file")
				}
				pos = next
				state.file = int(f)
				continue
			case LNSSetColumn:
				c, next, err := view.Uleb128(pos)
				if err != nil {
					return errors.Errorf(errors.Truncated, "DW_LNS_set_column")
				}
				pos = next
				state.column = int(c)
				continue
			case LNSNegateStmt:
				state.isStmt = !state.isStmt
			case LNSSetBasicBlock:
				state.basicBlock = true
			case LNSConstAddPC:
				adjusted := int(255) - int(lp.OpcodeBase)
				opAdvance := adjusted / int(lp.LineRange)
				state.address += uint64(opAdvance) * uint64(lp.MinInstructionLength)
			case LNSFixedAdvancePC:
				adv, next, err := view.U16(pos)
				if err != nil {
					return errors.Errorf(errors.Truncated, "DW_LNS_fixed_advance_pc")
				}
				pos = next
				state.address += uint64(adv)
				continue
			case LNSSetPrologueEnd:
				state.prologueEnd = true
			case LNSSetEpilogueBegin:
				state.epilogueBegin = true
			case LNSSetISA:
				_, next, err := view.Uleb128(pos)
				if err != nil {
					return errors.Errorf(errors.Truncated, "DW_LNS_set_isa")
				}
				pos = next
				continue
			default:
				// unknown standard opcode below opcode_base: skip its
				// declared number of ULEB128 operands.
				n := 0
				if int(opcode)-1 < len(lp.StandardOpcodeLengths) {
					n = int(lp.StandardOpcodeLengths[opcode-1])
				}
				for i := 0; i < n; i++ {
					_, next, err := view.Uleb128(pos)
					if err != nil {
						return errors.Errorf(errors.Truncated, "unknown standard opcode operand")
					}
					pos = next
				}
			}

		default:
			// special opcode
			adjusted := int(opcode) - int(lp.OpcodeBase)
			opAdvance := adjusted / int(lp.LineRange)
			lineAdvance := int(lp.LineBase) + (adjusted % int(lp.LineRange))

			state.address += uint64(opAdvance) * uint64(lp.MinInstructionLength)
			state.line += lineAdvance

			emit()
			state.basicBlock = false
			state.prologueEnd = false
			state.epilogueBegin = false
		}
	}

	return nil
}
