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

	"github.com/dwarfscope/dwarfscope/dwarf"
	"github.com/dwarfscope/dwarfscope/errors"
	"github.com/dwarfscope/dwarfscope/leb128"
)

// Table indexes every CIE and FDE decoded from one .debug_frame/.eh_frame
// section.
type Table struct {
	EhFrame bool
	cies    map[uint64]*CIE
	fdes    []*FDE

	// codeView carries the section's byte order and address size so a
	// CIE/FDE instruction stream, once sliced out as a bare []byte, can be
	// re-wrapped in a View for the CFI instruction interpreter.
	codeView leb128.View
}

// FDEFor returns the FDE whose address range contains pc, if any.
func (t *Table) FDEFor(pc uint64) (*FDE, bool) {
	// FDEs are appended in section order, which a linker does not
	// guarantee is address-sorted; a linear scan is the only correct
	// general answer without first building an interval index, and frame
	// sections are small relative to debug_info.
	for _, f := range t.fdes {
		if f.Contains(pc) {
			return f, true
		}
	}
	return nil, false
}

// Decode parses every CIE/FDE record in sec. ehFrame selects the .eh_frame
// conventions (CIE_id == 0 marks a CIE; an FDE's CIE pointer is a backward
// byte offset measured from the pointer field itself) over .debug_frame's
// (CIE_id == ~0 marks a CIE; an FDE's CIE pointer is the CIE's absolute
// section offset).
func Decode(sec dwarf.Section, addressSize int, ehFrame bool) (*Table, error) {
	view := sec.View.WithAddressSize(addressSize)
	s := dwarf.Section{View: view, Rel: sec.Rel}

	t := &Table{EhFrame: ehFrame, cies: map[uint64]*CIE{}, codeView: view}

	pos := 0
	end := view.Len()
	for pos < end {
		recordOffset := uint64(pos)

		length, next, err := view.U32(pos)
		if err != nil {
			return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("frame record length at %d: %v", pos, err))
		}
		pos = next

		if length == 0 {
			// .eh_frame ends with a zero-length terminator record.
			break
		}

		dwarf64 := false
		recordLen := uint64(length)
		if length == 0xffffffff {
			dwarf64 = true
			length64, next, err := view.U64(pos)
			if err != nil {
				return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("64-bit frame record length at %d: %v", pos, err))
			}
			pos = next
			recordLen = length64
		}

		recordEnd := pos + int(recordLen)
		if recordEnd > end || recordEnd < pos {
			return nil, errors.Errorf(errors.InvalidDwarf, fmt.Sprintf("frame record at %d overruns section", recordOffset))
		}

		idFieldStart := pos
		var id uint64
		if dwarf64 {
			id, pos, err = view.U64(pos)
		} else {
			var id32 uint32
			id32, pos, err = view.U32(pos)
			id = uint64(id32)
		}
		if err != nil {
			return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("frame record id at %d: %v", idFieldStart, err))
		}

		var isCIE bool
		if ehFrame {
			isCIE = id == 0
		} else if dwarf64 {
			isCIE = id == 0xffffffffffffffff
		} else {
			isCIE = id == 0xffffffff
		}

		if isCIE {
			cie, err := decodeCIE(s, pos, recordEnd, addressSize)
			if err != nil {
				return nil, err
			}
			t.cies[recordOffset] = cie
		} else {
			var cieOffset uint64
			if ehFrame {
				cieOffset = uint64(idFieldStart) - id
			} else {
				cieOffset = id
			}
			cie, ok := t.cies[cieOffset]
			if !ok {
				return nil, errors.Errorf(errors.InvalidDwarf, fmt.Sprintf("FDE at %d references unknown CIE at %d", recordOffset, cieOffset))
			}
			fde, err := decodeFDE(s, pos, recordEnd, addressSize, cie)
			if err != nil {
				return nil, err
			}
			t.fdes = append(t.fdes, fde)
		}

		pos = recordEnd
	}

	return t, nil
}

func decodeCIE(s dwarf.Section, pos, end, addressSize int) (*CIE, error) {
	cie := &CIE{}

	version, next, err := s.View.U8(pos)
	if err != nil {
		return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("CIE version: %v", err))
	}
	pos = next
	cie.Version = version

	aug, next, err := readCString(s.View, pos)
	if err != nil {
		return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("CIE augmentation string: %v", err))
	}
	pos = next
	cie.Augmentation = aug

	if version >= 4 {
		// address_size, segment_selector_size: this reader assumes they
		// agree with the caller-supplied ELF class and only skips them.
		pos += 2
	}

	caf, next, err := s.View.Uleb128(pos)
	if err != nil {
		return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("CIE code_alignment_factor: %v", err))
	}
	pos = next
	cie.CodeAlignmentFactor = caf

	daf, next, err := s.View.Sleb128(pos)
	if err != nil {
		return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("CIE data_alignment_factor: %v", err))
	}
	pos = next
	cie.DataAlignmentFactor = daf

	if version == 1 {
		ra, next, err := s.View.U8(pos)
		if err != nil {
			return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("CIE return_address_register: %v", err))
		}
		pos = next
		cie.ReturnAddressRegister = int(ra)
	} else {
		ra, next, err := s.View.Uleb128(pos)
		if err != nil {
			return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("CIE return_address_register: %v", err))
		}
		pos = next
		cie.ReturnAddressRegister = int(ra)
	}

	if len(aug) > 0 && aug[0] == 'z' {
		augLen, next, err := s.View.Uleb128(pos)
		if err != nil {
			return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("CIE augmentation data length: %v", err))
		}
		pos = next
		augDataEnd := pos + int(augLen)

		for _, c := range aug[1:] {
			switch c {
			case 'L':
				enc, next, err := s.View.U8(pos)
				if err != nil {
					return nil, errors.Errorf(errors.Truncated, "CIE 'L' encoding")
				}
				pos = next
				cie.LSDAEncoding = enc
				cie.HasLSDA = true

			case 'P':
				enc, next, err := s.View.U8(pos)
				if err != nil {
					return nil, errors.Errorf(errors.Truncated, "CIE 'P' encoding")
				}
				pos = next
				cie.PersonalityEncoding = enc
				v, next, err := readEncodedValue(s, pos, enc, addressSize, 0)
				if err != nil {
					return nil, err
				}
				pos = next
				cie.PersonalityRoutine = v
				cie.HasPersonality = true

			case 'R':
				enc, next, err := s.View.U8(pos)
				if err != nil {
					return nil, errors.Errorf(errors.Truncated, "CIE 'R' encoding")
				}
				pos = next
				cie.FDEPointerEncoding = enc

			case 'S':
				cie.SignalFrame = true

			default:
				// unrecognized augmentation letter; augDataEnd lets us
				// skip past it safely regardless.
			}
		}
		pos = augDataEnd
	}

	instr, _, err := s.View.Slice(pos, end-pos)
	if err != nil {
		return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("CIE initial instructions: %v", err))
	}
	cie.InitialInstructions = instr

	return cie, nil
}

func decodeFDE(s dwarf.Section, pos, end, addressSize int, cie *CIE) (*FDE, error) {
	fde := &FDE{CIE: cie}

	encoding := cie.FDEPointerEncoding
	size, ok := encodedValueSize(encoding, addressSize)
	if !ok || size == 0 {
		size = addressSize
		encoding = ehPEAbsptr
	}

	low, next, err := readEncodedValue(s, pos, encoding, addressSize, 0)
	if err != nil {
		return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("FDE initial_location: %v", err))
	}
	pos = next
	fde.InitialLocation = low

	// address_range is stored in the same width as initial_location but is
	// never pc-relative.
	rangeVal, next, err := readFixedUnsigned(s.View, pos, size)
	if err != nil {
		return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("FDE address_range: %v", err))
	}
	pos = next
	fde.AddressRange = rangeVal

	if len(cie.Augmentation) > 0 && cie.Augmentation[0] == 'z' {
		augLen, next, err := s.View.Uleb128(pos)
		if err != nil {
			return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("FDE augmentation data length: %v", err))
		}
		pos = next
		augDataEnd := pos + int(augLen)

		if cie.HasLSDA {
			v, next, err := readEncodedValue(s, pos, cie.LSDAEncoding, addressSize, 0)
			if err != nil {
				return nil, err
			}
			pos = next
			fde.LSDAPointer = v
			fde.HasLSDA = true
		}
		pos = augDataEnd
	}

	instr, _, err := s.View.Slice(pos, end-pos)
	if err != nil {
		return nil, errors.Errorf(errors.Truncated, fmt.Sprintf("FDE instructions: %v", err))
	}
	fde.Instructions = instr

	return fde, nil
}

func readFixedUnsigned(view leb128.View, pos, size int) (uint64, int, error) {
	switch size {
	case 2:
		v, next, err := view.U16(pos)
		return uint64(v), next, err
	case 4:
		v, next, err := view.U32(pos)
		return uint64(v), next, err
	case 8:
		return view.U64(pos)
	default:
		return 0, pos, errors.Errorf(errors.BadForm, fmt.Sprintf("unsupported fixed-width size %d", size))
	}
}

func readCString(view leb128.View, offset int) (string, int, error) {
	var b []byte
	pos := offset
	for {
		c, next, err := view.U8(pos)
		if err != nil {
			return "", offset, err
		}
		pos = next
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b), pos, nil
}
