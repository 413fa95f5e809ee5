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

// Class is the semantic class a decoded attribute value belongs to,
// independent of its on-disk form.
type Class int

const (
	ClassAddress Class = iota
	ClassBlock
	ClassConstant
	ClassExprLoc
	ClassFlag
	ClassLinePtr
	ClassLocListPtr
	ClassMacPtr
	ClassReference
	ClassRangeListPtr
	ClassString
)

type ambiguity struct {
	attr Attr
	form Form
}

// VersionTable maps (form) to its default semantic class set for one DWARF
// version, plus a small number of (attr, form) overrides for combinations
// that are class-ambiguous on that version (DW_FORM_data4 meaning either a
// constant or a section pointer, depending on which attribute carries it).
type VersionTable struct {
	version   int
	vendor    string
	classes   map[Form][]Class
	ambiguous map[ambiguity]Class
}

func baseClasses() map[Form][]Class {
	return map[Form][]Class{
		FormAddr:          {ClassAddress},
		FormBlock1:        {ClassBlock, ClassExprLoc},
		FormBlock2:        {ClassBlock, ClassExprLoc},
		FormBlock4:        {ClassBlock, ClassExprLoc},
		FormBlock:         {ClassBlock, ClassExprLoc},
		FormData1:         {ClassConstant},
		FormData2:         {ClassConstant},
		FormData4:         {ClassConstant},
		FormData8:         {ClassConstant},
		FormSdata:         {ClassConstant},
		FormUdata:         {ClassConstant},
		FormString:        {ClassString},
		FormStrp:          {ClassString},
		FormFlag:          {ClassFlag},
		FormFlagPresent:   {ClassFlag},
		FormRefAddr:       {ClassReference},
		FormRef1:          {ClassReference},
		FormRef2:          {ClassReference},
		FormRef4:          {ClassReference},
		FormRef8:          {ClassReference},
		FormRefUdata:      {ClassReference},
		FormRefSig8:       {ClassReference},
		FormIndirect:      nil, // resolved transparently at decode time
		FormSecOffset:     {ClassLinePtr, ClassLocListPtr, ClassMacPtr, ClassRangeListPtr},
		FormExprloc:       {ClassExprLoc},
		FormImplicitConst: {ClassConstant},
	}
}

// NewVersionTable builds the base table for DWARF version 2, 3 or 4.
func NewVersionTable(version int) (VersionTable, error) {
	switch version {
	case 2, 3, 4:
	default:
		return VersionTable{}, errors.Errorf(errors.BadForm, fmt.Sprintf("unsupported DWARF version %d", version))
	}

	t := VersionTable{version: version, classes: baseClasses(), ambiguous: map[ambiguity]Class{}}

	if version < 4 {
		// DWARF 2/3 express DW_AT_data_member_location, DW_AT_stmt_list,
		// DW_AT_ranges as a plain constant-class form (there was no
		// DW_FORM_sec_offset yet); resolve the ambiguity explicitly rather
		// than leaving DW_FORM_data4/data8 pointing at both classes.
		t.ambiguous[ambiguity{AttrDataMemberLoc, FormData4}] = ClassLocListPtr
		t.ambiguous[ambiguity{AttrDataMemberLoc, FormData8}] = ClassLocListPtr
		t.ambiguous[ambiguity{AttrStmtList, FormData4}] = ClassLinePtr
		t.ambiguous[ambiguity{AttrStmtList, FormData8}] = ClassLinePtr
		t.ambiguous[ambiguity{AttrRanges, FormData4}] = ClassRangeListPtr
		t.ambiguous[ambiguity{AttrRanges, FormData8}] = ClassRangeListPtr
	}

	return t, nil
}

// GNUExtension returns the overlay of GNU vendor-extension attributes this
// module recognises (DW_AT_GNU_all_call_sites and friends), for use with
// Extend.
func GNUExtension() VersionTable {
	return VersionTable{
		vendor:  "GNU",
		classes: map[Form][]Class{},
		ambiguous: map[ambiguity]Class{
			{AttrGNUAllCallSites, FormFlagPresent}: ClassFlag,
		},
	}
}

// MIPSExtension returns the overlay of MIPS vendor-extension attributes
// this module recognises (DW_AT_MIPS_fde and friends), for use with Extend.
func MIPSExtension() VersionTable {
	return VersionTable{
		vendor:  "MIPS",
		classes: map[Form][]Class{},
		ambiguous: map[ambiguity]Class{
			{AttrMIPSFde, FormData4}: ClassConstant,
		},
	}
}

// DefaultVersionTable builds the per-CU version table consumers reach for
// by default: the base DWARF 2/3/4 table extended with the GNU and MIPS
// vendor overlays, unless strict is set -- in which case vendor-extension
// attributes/forms are rejected even in the mixed version table. Non-strict
// is the default because GCC emits DWARF-3-ish attributes in DWARF-2 CUs
// without -gstrict-dwarf.
func DefaultVersionTable(version int, strict bool) (VersionTable, error) {
	base, err := NewVersionTable(version)
	if err != nil {
		return VersionTable{}, err
	}
	if strict {
		return base, nil
	}
	return Extend(Extend(base, GNUExtension()), MIPSExtension()), nil
}

// Extend composes base with an extension: the extension's entries take
// precedence in the resulting union view. The version recorded is base's.
func Extend(base, ext VersionTable) VersionTable {
	merged := VersionTable{
		version:   base.version,
		vendor:    ext.vendor,
		classes:   map[Form][]Class{},
		ambiguous: map[ambiguity]Class{},
	}
	for f, c := range base.classes {
		merged.classes[f] = c
	}
	for f, c := range ext.classes {
		merged.classes[f] = c
	}
	for a, c := range base.ambiguous {
		merged.ambiguous[a] = c
	}
	for a, c := range ext.ambiguous {
		merged.ambiguous[a] = c
	}
	return merged
}

// ClassesFor reports the semantic classes a form may carry, before any
// attribute-specific disambiguation.
func (t VersionTable) ClassesFor(form Form) ([]Class, error) {
	classes, ok := t.classes[form]
	if !ok {
		return nil, errors.Errorf(errors.BadForm, fmt.Sprintf("form 0x%x not recognized by DWARF %d version table", form, t.version))
	}
	return classes, nil
}

// Resolve reports the single semantic class attr/form decodes to, applying
// the table's ambiguity overrides. strict, when true, rejects attributes in
// the vendor-extension range (0x2000 and above) and any resolution that only
// an extension (not the base version table) provides.
func (t VersionTable) Resolve(attr Attr, form Form, strict bool) (Class, error) {
	if strict && attr >= 0x2000 {
		return 0, errors.Errorf(errors.BadForm, fmt.Sprintf("attribute 0x%x is in the vendor-extension range, but strict DWARF mode is on", attr))
	}

	if c, ok := t.ambiguous[ambiguity{attr, form}]; ok {
		if strict && t.vendor != "" {
			return 0, errors.Errorf(errors.BadForm, fmt.Sprintf("attribute 0x%x/form 0x%x only resolves via %s vendor extension, but strict DWARF mode is on", attr, form, t.vendor))
		}
		return c, nil
	}

	classes, err := t.ClassesFor(form)
	if err != nil {
		return 0, err
	}
	if len(classes) == 0 {
		return 0, errors.Errorf(errors.BadForm, fmt.Sprintf("form 0x%x has no resolvable class for attribute 0x%x", form, attr))
	}
	return classes[0], nil
}
