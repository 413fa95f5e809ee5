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
)

// DW_EH_PE_* encoding bytes (eh_frame augmentation only; .debug_frame never
// uses anything but the implicit absptr encoding).
const (
	ehPEOmit    = 0xff
	ehPEAbsptr  = 0x00
	ehPEUleb128 = 0x01
	ehPEUdata2  = 0x02
	ehPEUdata4  = 0x03
	ehPEUdata8  = 0x04
	ehPESleb128 = 0x09
	ehPESdata2  = 0x0a
	ehPESdata4  = 0x0b
	ehPESdata8  = 0x0c

	ehPEFormMask    = 0x0f
	ehPEApplMask    = 0x70
	ehPEApplPCRel   = 0x10
	ehPEApplDatarel = 0x30
)

// encodedValueSize reports the on-disk size of a value with the given
// DW_EH_PE_* encoding, where that size is fixed (ULEB/SLEB-form encodings
// have no fixed size and must be length-delimited by their caller instead).
func encodedValueSize(encoding byte, addressSize int) (int, bool) {
	if encoding == ehPEOmit {
		return 0, true
	}
	switch encoding & ehPEFormMask {
	case ehPEAbsptr:
		return addressSize, true
	case ehPEUdata2, ehPESdata2:
		return 2, true
	case ehPEUdata4, ehPESdata4:
		return 4, true
	case ehPEUdata8, ehPESdata8:
		return 8, true
	default:
		return 0, false
	}
}

// readEncodedValue reads one pointer encoded per the eh_frame DW_EH_PE_*
// scheme at pos, applying a pc-relative base when the application part of
// the encoding calls for it. frameVaddr is the virtual address the section
// byte at offset 0 would load at; Decode has no load address for the
// section and passes 0, which is enough to make pcrel-encoded
// personality/LSDA pointers resolvable as offsets within the same section.
func readEncodedValue(sec dwarf.Section, pos int, encoding byte, addressSize int, frameVaddr uint64) (value uint64, next int, err error) {
	if encoding == ehPEOmit {
		return 0, pos, nil
	}

	base := uint64(0)
	switch encoding & ehPEApplMask {
	case 0:
		// absolute
	case ehPEApplPCRel:
		base = frameVaddr + uint64(pos)
	default:
		// datarel/textrel/funcrel/aligned bases require loader context
		// this reader does not have; treat as absolute, which is
		// correct for the common case of absptr-encoded personality
		// routines in relocatable objects.
	}

	switch encoding & ehPEFormMask {
	case ehPEUleb128:
		v, n, err := sec.View.Uleb128(pos)
		if err != nil {
			return 0, pos, errors.Errorf(errors.Truncated, fmt.Sprintf("encoded value (uleb128): %v", err))
		}
		return base + v, n, nil

	case ehPESleb128:
		v, n, err := sec.View.Sleb128(pos)
		if err != nil {
			return 0, pos, errors.Errorf(errors.Truncated, fmt.Sprintf("encoded value (sleb128): %v", err))
		}
		return base + uint64(v), n, nil

	case ehPEUdata2, ehPESdata2:
		v, n, err := sec.View.U16(pos)
		if err != nil {
			return 0, pos, errors.Errorf(errors.Truncated, fmt.Sprintf("encoded value (2-byte): %v", err))
		}
		if encoding&ehPEFormMask == ehPESdata2 {
			return base + uint64(int64(int16(v))), n, nil
		}
		return base + uint64(v), n, nil

	case ehPEUdata4, ehPESdata4:
		v, n, err := sec.View.U32(pos)
		if err != nil {
			return 0, pos, errors.Errorf(errors.Truncated, fmt.Sprintf("encoded value (4-byte): %v", err))
		}
		if encoding&ehPEFormMask == ehPESdata4 {
			return base + uint64(int32(v)), n, nil
		}
		return base + uint64(v), n, nil

	case ehPEUdata8, ehPESdata8:
		v, n, err := sec.View.U64(pos)
		if err != nil {
			return 0, pos, errors.Errorf(errors.Truncated, fmt.Sprintf("encoded value (8-byte): %v", err))
		}
		return base + v, n, nil

	case ehPEAbsptr:
		v, relocated, n, err := sec.ReadAddress(pos)
		if err != nil {
			return 0, pos, errors.Errorf(errors.Truncated, fmt.Sprintf("encoded value (absptr): %v", err))
		}
		_ = relocated
		return base + v, n, nil

	default:
		return 0, pos, errors.Errorf(errors.BadForm, fmt.Sprintf("unsupported DW_EH_PE encoding 0x%x", encoding))
	}
}
