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
	"github.com/dwarfscope/dwarfscope/dwarf"
	"github.com/dwarfscope/dwarfscope/leb128"
)

// EvalExpr evaluates a DW_CFA_{def_cfa,val}_expression/DW_CFA_expression
// byte program (a restricted DWARF expression, per the opcode subset
// dwarf.EvalExpr supports) against ctx, reusing the section's byte order
// and address size recorded at Decode time.
func (t *Table) EvalExpr(expr []byte, ctx dwarf.ExprContext) (dwarf.ExprResult, error) {
	view := leb128.NewView(expr, t.codeView.ByteOrder(), t.codeView.AddressSize(), t.codeView.OffsetSize())
	return dwarf.EvalExpr(view, ctx)
}
