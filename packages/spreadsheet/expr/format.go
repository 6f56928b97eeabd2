package expr

import (
	"strconv"
	"strings"
)

// Format renders a tree as A1-style formula text (without the leading '=')
// as seen from the cell at pos
func Format(n Node, pos Pos) string {
	var sb strings.Builder
	writeNode(&sb, n, pos)
	return sb.String()
}

// String renders e as seen from pos
func (e *Expr) String(pos Pos) string {
	if e == nil {
		return ""
	}
	return Format(e.Root, pos)
}

func writeNode(sb *strings.Builder, n Node, pos Pos) {
	switch n := n.(type) {
	case *ConstantNode:
		sb.WriteString(n.ToString())
	case *CellRefNode:
		if n.Ref.Sheet != nil {
			sb.WriteString(QuoteSheetName(n.Ref.Sheet.SheetName()))
			sb.WriteByte('!')
		}
		writeA1(sb, n.Ref, pos)
	case *RangeNode:
		if n.Start.Sheet != nil {
			sb.WriteString(QuoteSheetName(n.Start.Sheet.SheetName()))
			if n.Is3D() {
				sb.WriteByte(':')
				sb.WriteString(QuoteSheetName(n.End.Sheet.SheetName()))
			}
			sb.WriteByte('!')
		}
		writeA1(sb, n.Start, pos)
		sb.WriteByte(':')
		writeA1(sb, n.End, pos)
	case *NameNode:
		if n.Scope != nil {
			sb.WriteString(QuoteSheetName(n.Scope.SheetName()))
			sb.WriteByte('!')
		}
		sb.WriteString(n.Name)
	case *FunctionCallNode:
		sb.WriteString(n.Name)
		sb.WriteByte('(')
		for i, a := range n.Args {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeNode(sb, a, pos)
		}
		sb.WriteByte(')')
	case *UnaryOpNode:
		switch n.Op {
		case UnaryOpMinus:
			sb.WriteByte('-')
			writeOperand(sb, n.Operand, pos, false)
		case UnaryOpPlus:
			sb.WriteByte('+')
			writeOperand(sb, n.Operand, pos, false)
		case UnaryOpPercent:
			writeOperand(sb, n.Operand, pos, true)
			sb.WriteByte('%')
		}
	case *BinaryOpNode:
		writeOperand(sb, n.Left, pos, false)
		sb.WriteString(n.Op.String())
		writeOperand(sb, n.Right, pos, false)
	case *ArrayCornerNode:
		writeNode(sb, n.Expr, pos)
	case *ArrayElemNode:
		sb.WriteString(Pos{Col: pos.Col - n.X, Row: pos.Row - n.Y}.String())
	case *SetNode:
		sb.WriteByte('(')
		for i, it := range n.Items {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeNode(sb, it, pos)
		}
		sb.WriteByte(')')
	}
}

// writeOperand parenthesizes compound operands so the output reparses to
// the same tree. prefix operators bind tighter than '%', so a postfix
// operand needs them wrapped too.
func writeOperand(sb *strings.Builder, n Node, pos Pos, postfix bool) {
	wrap := false
	switch n := n.(type) {
	case *BinaryOpNode:
		wrap = true
	case *UnaryOpNode:
		wrap = postfix && n.Op != UnaryOpPercent
	}
	if wrap {
		sb.WriteByte('(')
	}
	writeNode(sb, n, pos)
	if wrap {
		sb.WriteByte(')')
	}
}

func writeA1(sb *strings.Builder, r CellRef, pos Pos) {
	p := r.Resolve(pos)
	if !r.ColRelative {
		sb.WriteByte('$')
	}
	sb.WriteString(ColumnName(p.Col))
	if !r.RowRelative {
		sb.WriteByte('$')
	}
	sb.WriteString(strconv.Itoa(p.Row + 1))
}
