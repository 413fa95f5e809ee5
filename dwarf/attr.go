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
)

// Value is a decoded attribute value. Only the fields relevant to its Class
// are meaningful; Raw/Relocated record whether (B) supplied a relocated
// value for address- and offset-class forms.
type Value struct {
	Attr  Attr
	Form  Form
	Class Class

	u         uint64
	i         int64
	block     []byte
	str       string
	flag      bool
	relocated bool
}

// Uint returns the value as an unsigned integer: an address, an unsigned
// constant, a CU-relative or global reference (already made absolute), or a
// section offset (ClassLinePtr/ClassLocListPtr/ClassMacPtr/ClassRangeListPtr).
func (v Value) Uint() uint64 { return v.u }

// Int returns the value as a signed integer, meaningful for DW_FORM_sdata
// and DW_FORM_implicit_const.
func (v Value) Int() int64 { return v.i }

// Block returns the raw bytes of a block- or exprloc-class attribute.
func (v Value) Block() []byte { return v.block }

// Str returns a string-class attribute's text.
func (v Value) Str() string { return v.str }

// Flag returns a flag-class attribute's boolean value.
func (v Value) Flag() bool { return v.flag }

// Ref returns a reference-class attribute as an absolute .debug_info (or
// .debug_types) offset.
func (v Value) Ref() Offset { return Offset(v.u) }

// Relocated reports whether (B) supplied a relocated value for this
// attribute, as opposed to the bytes found in the section verbatim.
func (v Value) Relocated() bool { return v.relocated }

// AttributeIterator walks the attribute list of one DIE, decoding each
// value in turn using the DIE's abbreviation declaration for the (attr,
// form) pairs and the DIE's CU for byte order, address size and relocation.
type AttributeIterator struct {
	r      *Reader
	d      DIE
	vt     VersionTable
	strict bool

	idx int
	pos int
}

// Attributes returns an iterator over d's attributes, in abbreviation
// order.
func (r *Reader) Attributes(d DIE, vt VersionTable, strict bool) *AttributeIterator {
	return &AttributeIterator{r: r, d: d, vt: vt, strict: strict, pos: d.attrStart}
}

// End reports the byte offset immediately past the last attribute value,
// valid once the iterator has been drained (or before the first Next call,
// as the starting offset).
func (it *AttributeIterator) End() int { return it.pos }

// Next decodes the next attribute, or reports ok=false once the DIE's
// attribute list (per its abbreviation) is exhausted.
func (it *AttributeIterator) Next() (Value, bool, error) {
	if it.idx >= len(it.d.Abbrev.Attrs) {
		return Value{}, false, nil
	}
	aa := it.d.Abbrev.Attrs[it.idx]
	it.idx++

	v, next, err := it.r.decodeForm(it.d.CU, aa.Attr, aa.Form, aa.ImplicitConst, it.pos, it.vt, it.strict, 0)
	if err != nil {
		return Value{}, false, err
	}
	it.pos = next
	return v, true, nil
}

// maxIndirectDepth bounds DW_FORM_indirect recursion to exactly one level;
// multiple indirection is an error.
const maxIndirectDepth = 1

// decodeForm decodes one attribute value at offset within cu, returning the
// value and the offset immediately past it. depth tracks DW_FORM_indirect
// nesting.
func (r *Reader) decodeForm(cu CU, attr Attr, form Form, implicitConst int64, offset int, vt VersionTable, strict bool, depth int) (Value, int, error) {
	view := cu.view(r)
	sec := cu.section(r)

	class, err := vt.Resolve(attr, form, strict)
	if err != nil && form != FormIndirect {
		return Value{}, offset, err
	}

	switch form {
	case FormAddr:
		addr, relocated, next, err := sec.ReadAddress(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("DW_FORM_addr at %d: %v", offset, err))
		}
		return Value{Attr: attr, Form: form, Class: class, u: addr, relocated: relocated}, next, nil

	case FormBlock1, FormBlock2, FormBlock4, FormBlock:
		var n uint64
		var next int
		switch form {
		case FormBlock1:
			b, nx, err := view.U8(offset)
			if err != nil {
				return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_block1 length")
			}
			n, next = uint64(b), nx
		case FormBlock2:
			b, nx, err := view.U16(offset)
			if err != nil {
				return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_block2 length")
			}
			n, next = uint64(b), nx
		case FormBlock4:
			b, nx, err := view.U32(offset)
			if err != nil {
				return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_block4 length")
			}
			n, next = uint64(b), nx
		case FormBlock:
			b, nx, err := view.Uleb128(offset)
			if err != nil {
				return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_block length")
			}
			n, next = b, nx
		}
		data, next, err := view.Slice(next, int(n))
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("block of %d bytes: %v", n, err))
		}
		return Value{Attr: attr, Form: form, Class: class, block: data}, next, nil

	case FormData1:
		v, next, err := view.U8(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_data1")
		}
		return Value{Attr: attr, Form: form, Class: class, u: uint64(v)}, next, nil

	case FormData2:
		v, next, err := view.U16(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_data2")
		}
		return Value{Attr: attr, Form: form, Class: class, u: uint64(v)}, next, nil

	case FormData4:
		v, relocated, next, err := decodeSecOffsetLike(sec, view, offset, 4)
		if err != nil {
			return Value{}, offset, err
		}
		return Value{Attr: attr, Form: form, Class: class, u: v, relocated: relocated}, next, nil

	case FormData8:
		v, relocated, next, err := decodeSecOffsetLike(sec, view, offset, 8)
		if err != nil {
			return Value{}, offset, err
		}
		return Value{Attr: attr, Form: form, Class: class, u: v, relocated: relocated}, next, nil

	case FormString:
		s, next, err := readCString(view, offset)
		if err != nil {
			return Value{}, offset, err
		}
		return Value{Attr: attr, Form: form, Class: class, str: s}, next, nil

	case FormStrp:
		off, _, next, err := sec.ReadOffset(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_strp")
		}
		s, err := r.stringAt(off)
		if err != nil {
			return Value{}, offset, err
		}
		return Value{Attr: attr, Form: form, Class: class, str: s}, next, nil

	case FormFlag:
		v, next, err := view.U8(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_flag")
		}
		return Value{Attr: attr, Form: form, Class: class, flag: v != 0}, next, nil

	case FormFlagPresent:
		return Value{Attr: attr, Form: form, Class: class, flag: true}, offset, nil

	case FormSdata:
		v, next, err := view.Sleb128(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_sdata")
		}
		return Value{Attr: attr, Form: form, Class: class, i: v, u: uint64(v)}, next, nil

	case FormUdata:
		v, next, err := view.Uleb128(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_udata")
		}
		return Value{Attr: attr, Form: form, Class: class, u: v}, next, nil

	case FormRefAddr:
		off, _, next, err := sec.ReadOffset(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_ref_addr")
		}
		return Value{Attr: attr, Form: form, Class: ClassReference, u: off}, next, nil

	case FormRef1:
		v, next, err := view.U8(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_ref1")
		}
		return Value{Attr: attr, Form: form, Class: ClassReference, u: uint64(cu.HeaderOffset) + uint64(v)}, next, nil

	case FormRef2:
		v, next, err := view.U16(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_ref2")
		}
		return Value{Attr: attr, Form: form, Class: ClassReference, u: uint64(cu.HeaderOffset) + uint64(v)}, next, nil

	case FormRef4:
		v, next, err := view.U32(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_ref4")
		}
		return Value{Attr: attr, Form: form, Class: ClassReference, u: uint64(cu.HeaderOffset) + uint64(v)}, next, nil

	case FormRef8:
		v, next, err := view.U64(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_ref8")
		}
		return Value{Attr: attr, Form: form, Class: ClassReference, u: uint64(cu.HeaderOffset) + v}, next, nil

	case FormRefUdata:
		v, next, err := view.Uleb128(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_ref_udata")
		}
		return Value{Attr: attr, Form: form, Class: ClassReference, u: uint64(cu.HeaderOffset) + v}, next, nil

	case FormRefSig8:
		v, next, err := view.U64(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_ref_sig8")
		}
		return Value{Attr: attr, Form: form, Class: ClassReference, u: v}, next, nil

	case FormIndirect:
		if depth >= maxIndirectDepth {
			return Value{}, offset, errors.Errorf(errors.BadForm, "DW_FORM_indirect nested more than once")
		}
		realForm, next, err := view.Uleb128(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_indirect form code")
		}
		return r.decodeForm(cu, attr, Form(realForm), implicitConst, next, vt, strict, depth+1)

	case FormSecOffset:
		off, relocated, next, err := sec.ReadOffset(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_sec_offset")
		}
		return Value{Attr: attr, Form: form, Class: class, u: off, relocated: relocated}, next, nil

	case FormExprloc:
		n, next, err := view.Uleb128(offset)
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, "DW_FORM_exprloc length")
		}
		data, next, err := view.Slice(next, int(n))
		if err != nil {
			return Value{}, offset, errors.Errorf(errors.Truncated, fmt.Sprintf("exprloc of %d bytes: %v", n, err))
		}
		return Value{Attr: attr, Form: form, Class: ClassExprLoc, block: data}, next, nil

	case FormImplicitConst:
		return Value{Attr: attr, Form: form, Class: ClassConstant, i: implicitConst, u: uint64(implicitConst)}, offset, nil

	default:
		return Value{}, offset, errors.Errorf(errors.BadForm, fmt.Sprintf("unrecognized form 0x%x", form))
	}
}

// decodeSecOffsetLike reads a fixed-width value of the given byte width
// (4 or 8), consulting the section's relocator exactly as an address- or
// offset-sized read would, regardless of whether this CU's own address/
// offset size happens to match width. DW_FORM_data4/data8 are ambiguous
// between "plain constant" and "section pointer" depending on the
// attribute (see version.go); a relocatable object file may carry a
// relocation against either reading.
func decodeSecOffsetLike(sec Section, view interface {
	U32(int) (uint32, int, error)
	U64(int) (uint64, int, error)
}, offset, width int) (uint64, bool, int, error) {
	switch width {
	case 4:
		raw, next, err := view.U32(offset)
		if err != nil {
			return 0, false, offset, errors.Errorf(errors.Truncated, "4-byte read")
		}
		if sec.Rel == nil {
			return uint64(raw), false, next, nil
		}
		v, relocated, err := sec.Rel.Resolve(uint64(offset), 4, uint64(raw))
		if err != nil {
			return 0, false, offset, err
		}
		return v, relocated, next, nil
	case 8:
		raw, next, err := view.U64(offset)
		if err != nil {
			return 0, false, offset, errors.Errorf(errors.Truncated, "8-byte read")
		}
		if sec.Rel == nil {
			return raw, false, next, nil
		}
		v, relocated, err := sec.Rel.Resolve(uint64(offset), 8, raw)
		if err != nil {
			return 0, false, offset, err
		}
		return v, relocated, next, nil
	default:
		return 0, false, offset, errors.Errorf(errors.BadForm, fmt.Sprintf("unsupported slot width %d", width))
	}
}

// readCString reads a NUL-terminated string starting at offset.
func readCString(view interface {
	U8(int) (uint8, int, error)
}, offset int) (string, int, error) {
	var b []byte
	pos := offset
	for {
		c, next, err := view.U8(pos)
		if err != nil {
			return "", offset, errors.Errorf(errors.Truncated, fmt.Sprintf("unterminated string at %d", offset))
		}
		pos = next
		if c == 0 {
			return string(b), pos, nil
		}
		b = append(b, c)
	}
}

// stringAt reads a NUL-terminated string out of .debug_str at the given
// offset.
func (r *Reader) stringAt(offset uint64) (string, error) {
	s, _, err := readCString(r.str.View, int(offset))
	if err != nil {
		return "", err
	}
	return s, nil
}

// CUAt locates the compilation (or type) unit whose content range contains
// the given absolute .debug_info/.debug_types offset. Used to resolve
// references that cross CU boundaries (DW_FORM_ref_addr, DW_TAG_imported_unit).
func (r *Reader) CUAt(offset Offset) (CU, error) {
	units := r.Units()
	for {
		cu, ok, err := units.Next()
		if err != nil {
			return CU{}, err
		}
		if !ok {
			break
		}
		if offset >= cu.HeaderOffset && offset < cu.ContentEnd {
			return cu, nil
		}
	}
	return CU{}, errors.Errorf(errors.InvalidDwarf, fmt.Sprintf("no compilation unit contains offset %d", offset))
}

// ResolveReference dereferences a reference-class value read from within
// from, returning the CU and DIE it points at. Same-CU references (the
// common case) skip the full unit scan.
func (r *Reader) ResolveReference(from CU, v Value) (CU, DIE, error) {
	if v.Class != ClassReference {
		return CU{}, DIE{}, errors.Errorf(errors.BadForm, fmt.Sprintf("attribute 0x%x is not reference-class", v.Attr))
	}
	offset := v.Ref()

	if offset >= from.ContentStart && offset < from.ContentEnd {
		d, err := r.DIEAt(from, offset)
		return from, d, err
	}

	cu, err := r.CUAt(offset)
	if err != nil {
		return CU{}, DIE{}, err
	}
	d, err := r.DIEAt(cu, offset)
	return cu, d, err
}
