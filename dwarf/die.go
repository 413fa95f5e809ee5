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

// DIE is a Debug Information Entry: a tagged node inside a CU carrying
// attributes and, possibly, children. A DIE with abbreviation code 0 is the
// "null DIE" sentinel that terminates a sibling chain.
type DIE struct {
	Offset    Offset
	CU        CU
	Abbrev    Abbrev
	attrStart int // offset where attribute values begin
}

// IsNull reports whether d is the zero-abbrev-code terminator.
func (d DIE) IsNull() bool {
	return d.Abbrev.Code == 0
}

// Tag is a convenience accessor; IsNull DIEs have Tag 0.
func (d DIE) Tag() Tag {
	return d.Abbrev.Tag
}

// DIEAt decodes the DIE at offset within cu, looking up its abbreviation
// (or producing the null-DIE sentinel for code 0).
func (r *Reader) DIEAt(cu CU, offset Offset) (DIE, error) {
	view := cu.view(r)
	code, next, err := view.Uleb128(int(offset))
	if err != nil {
		return DIE{}, errors.Errorf(errors.Truncated, fmt.Sprintf("reading abbreviation code at %d: %v", offset, err))
	}

	if code == 0 {
		return DIE{Offset: offset, CU: cu, attrStart: next}, nil
	}

	table, err := r.abbrev.Get(cu.AbbrevOffset)
	if err != nil {
		return DIE{}, err
	}
	ab, err := table.Lookup(code)
	if err != nil {
		return DIE{}, err
	}

	return DIE{Offset: offset, CU: cu, Abbrev: ab, attrStart: next}, nil
}

// skipToChildren decodes d's attribute values far enough to find the byte
// offset where its children (or, if it has none, its next sibling) begin.
func (r *Reader) skipToChildren(d DIE, vt VersionTable, strict bool) (Offset, error) {
	it := r.Attributes(d, vt, strict)
	for {
		_, ok, err := it.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
	}
	return Offset(it.End()), nil
}

// ChildIterator walks the direct children of a DIE, starting at its first
// child and advancing across sibling DIEs (which may themselves have
// children, skipped over by decoding each sibling's full subtree;
// DW_AT_sibling is not consulted), terminating at the null-DIE sentinel.
type ChildIterator struct {
	r      *Reader
	cu     CU
	vt     VersionTable
	strict bool
	pos    Offset
	done   bool
}

// Children returns an iterator over the direct children of parent.
func (r *Reader) Children(parent DIE, vt VersionTable, strict bool) (*ChildIterator, error) {
	if !parent.Abbrev.HasChildren {
		return &ChildIterator{done: true}, nil
	}
	start, err := r.skipToChildren(parent, vt, strict)
	if err != nil {
		return nil, err
	}
	return &ChildIterator{r: r, cu: parent.CU, vt: vt, strict: strict, pos: start}, nil
}

// Next decodes the next sibling, skipping over its descendants, until the
// null-DIE terminator is reached.
func (it *ChildIterator) Next() (DIE, bool, error) {
	if it.done {
		return DIE{}, false, nil
	}

	d, err := it.r.DIEAt(it.cu, it.pos)
	if err != nil {
		it.done = true
		return DIE{}, false, err
	}
	if d.IsNull() {
		it.done = true
		return DIE{}, false, nil
	}

	next, err := it.r.endOfSubtree(d, it.vt, it.strict)
	if err != nil {
		it.done = true
		return DIE{}, false, err
	}
	it.pos = next

	return d, true, nil
}

// endOfSubtree returns the offset immediately past d and all of its
// descendants.
func (r *Reader) endOfSubtree(d DIE, vt VersionTable, strict bool) (Offset, error) {
	start, err := r.skipToChildren(d, vt, strict)
	if err != nil {
		return 0, err
	}
	if !d.Abbrev.HasChildren {
		return start, nil
	}

	pos := start
	for {
		child, err := r.DIEAt(d.CU, pos)
		if err != nil {
			return 0, err
		}
		if child.IsNull() {
			return child.attrOffsetEnd(), nil
		}
		pos, err = r.endOfSubtree(child, vt, strict)
		if err != nil {
			return 0, err
		}
	}
}

// attrOffsetEnd returns the offset immediately past a null DIE's single
// abbreviation-code byte.
func (d DIE) attrOffsetEnd() Offset {
	return Offset(d.attrStart)
}

// treeFrame is one level of the explicit parent-offset stack the DIE-tree
// iterator maintains in place of target-language recursion.
type treeFrame struct {
	parent Offset
	end    Offset // offset past parent's entire subtree
}

// TreeIterator is a pre-order, cross-CU DIE-tree walker. It yields every
// DIE exactly once, in on-disk order, maintaining an explicit stack of
// parent offsets so that arbitrarily deep CU trees never recurse on the
// host call stack.
type TreeIterator struct {
	r       *Reader
	units   *UnitIterator
	vt      func(CU) (VersionTable, error)
	strict  bool
	cu      CU
	pos     Offset
	stack   []treeFrame
	started bool
	done    bool
}

// Tree returns a DIE-tree iterator spanning every CU the Reader produces.
// vt supplies the version table to use for a given CU's attribute
// decoding (it is consulted once per entered CU).
func (r *Reader) Tree(vt func(CU) (VersionTable, error), strict bool) *TreeIterator {
	return &TreeIterator{r: r, units: r.Units(), vt: vt, strict: strict}
}

// Next yields the next DIE in pre-order.
func (it *TreeIterator) Next() (DIE, bool, error) {
	if it.done {
		return DIE{}, false, nil
	}

	for {
		if !it.started {
			cu, ok, err := it.units.Next()
			if err != nil {
				it.done = true
				return DIE{}, false, err
			}
			if !ok {
				it.done = true
				return DIE{}, false, nil
			}
			it.cu = cu
			it.pos = cu.RootOffset
			it.started = true
		}

		// pop finished frames: if pos has reached the end of the current
		// parent's subtree, resume at that parent's next sibling.
		for len(it.stack) > 0 && it.pos >= it.stack[len(it.stack)-1].end {
			it.stack = it.stack[:len(it.stack)-1]
		}

		// past the last DIE of this CU: move on to the next unit.
		if len(it.stack) == 0 && it.pos >= it.cu.ContentEnd {
			it.started = false
			continue
		}

		d, err := it.r.DIEAt(it.cu, it.pos)
		if err != nil {
			it.done = true
			return DIE{}, false, err
		}

		if d.IsNull() {
			// end of a sibling chain: if we have a parent frame, resume
			// past it; otherwise this CU is exhausted.
			if len(it.stack) == 0 {
				it.started = false
				continue
			}
			it.pos = it.stack[len(it.stack)-1].end
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}

		vt, err := it.vt(it.cu)
		if err != nil {
			it.done = true
			return DIE{}, false, err
		}

		end, err := it.r.endOfSubtree(d, vt, it.strict)
		if err != nil {
			it.done = true
			return DIE{}, false, err
		}

		if d.Abbrev.HasChildren {
			childStart, err := it.r.skipToChildren(d, vt, it.strict)
			if err != nil {
				it.done = true
				return DIE{}, false, err
			}
			it.stack = append(it.stack, treeFrame{parent: d.Offset, end: end})
			it.pos = childStart
		} else {
			it.pos = end
		}

		return d, true, nil
	}
}

// LogicalTreeIterator behaves like TreeIterator but additionally descends
// into an imported CU's root children whenever it encounters a
// DW_TAG_imported_unit DIE carrying a DW_AT_import reference, resuming in
// the original position once the import is exhausted. It is implemented
// via an explicit stack of (iterator-state, end) pairs, never recursion.
type LogicalTreeIterator struct {
	r      *Reader
	vt     func(CU) (VersionTable, error)
	strict bool

	base  *TreeIterator
	stack []*importFrame
}

type importFrame struct {
	cu   CU
	pos  Offset
	end  Offset
	kind stackKind
}

type stackKind int

const (
	stackChild stackKind = iota
)

// LogicalTree returns a logical DIE-tree iterator spanning every CU, with
// DW_TAG_imported_unit transparently expanded.
func (r *Reader) LogicalTree(vt func(CU) (VersionTable, error), strict bool) *LogicalTreeIterator {
	return &LogicalTreeIterator{r: r, vt: vt, strict: strict, base: r.Tree(vt, strict)}
}

// Next yields the next DIE in the logical (import-expanded) pre-order.
func (it *LogicalTreeIterator) Next() (DIE, bool, error) {
	for {
		if len(it.stack) > 0 {
			frame := it.stack[len(it.stack)-1]
			if frame.pos >= frame.end {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}

			d, err := it.r.DIEAt(frame.cu, frame.pos)
			if err != nil {
				return DIE{}, false, err
			}
			if d.IsNull() {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}

			vt, err := it.vt(frame.cu)
			if err != nil {
				return DIE{}, false, err
			}
			end, err := it.r.endOfSubtree(d, vt, it.strict)
			if err != nil {
				return DIE{}, false, err
			}
			it.stack[len(it.stack)-1].pos = end

			if imported, ok, err := it.followImport(d, vt); err != nil {
				return DIE{}, false, err
			} else if ok {
				it.stack = append(it.stack, imported)
			}

			return d, true, nil
		}

		d, ok, err := it.base.Next()
		if err != nil || !ok {
			return DIE{}, ok, err
		}

		vt, err := it.vt(d.CU)
		if err != nil {
			return DIE{}, false, err
		}
		if imported, ok, err := it.followImport(d, vt); err != nil {
			return DIE{}, false, err
		} else if ok {
			it.stack = append(it.stack, imported)
		}

		return d, true, nil
	}
}

// followImport checks whether d is a DW_TAG_imported_unit with a resolvable
// DW_AT_import, and if so returns a frame positioned at the imported CU's
// root children.
func (it *LogicalTreeIterator) followImport(d DIE, vt VersionTable) (*importFrame, bool, error) {
	if d.Tag() != TagImportedUnit {
		return nil, false, nil
	}

	attrs := it.r.Attributes(d, vt, it.strict)
	for {
		v, ok, err := attrs.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		if v.Attr != AttrImport {
			continue
		}

		importedCU, importedDIE, err := it.r.ResolveReference(d.CU, v)
		if err != nil {
			return nil, false, err
		}

		importedVT, err := it.vt(importedCU)
		if err != nil {
			return nil, false, err
		}
		childStart, err := it.r.skipToChildren(importedDIE, importedVT, it.strict)
		if err != nil {
			return nil, false, err
		}
		end, err := it.r.endOfSubtree(importedDIE, importedVT, it.strict)
		if err != nil {
			return nil, false, err
		}

		return &importFrame{cu: importedCU, pos: childStart, end: end}, true, nil
	}
}
