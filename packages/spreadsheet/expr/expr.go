// Package expr holds formula expression trees: the node types, a lexer and
// parser for A1-style formula text, and the relocation rewrites applied when
// rows, columns, ranges or whole sheets move.
//
// Trees are immutable once built. Dependents hold them through *Expr, which
// may be shared by many cells when their relative formulas are identical.
package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// Sheet is what a reference needs to know about the sheet it points at.
// the engine's sheet type implements it.
type Sheet interface {
	SheetName() string
}

// NamedExpr is the target of a NameNode. the engine's name type implements
// it; undefined names are placeholders that still satisfy it.
type NamedExpr interface {
	NameText() string
}

// Node is one node of an expression tree. ToString returns a canonical form
// in which relative references are written as offsets, so two cells holding
// "the same" relative formula produce the same string.
type Node interface {
	ToString() string
}

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
	BinOpRange     // A1:INDEX(...) style range constructor
	BinOpIntersect // space operator
)

var binaryOpText = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpPower:        "^",
	BinOpConcat:       "&",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
	BinOpRange:        ":",
	BinOpIntersect:    " ",
}

func (op BinaryOp) String() string {
	return binaryOpText[op]
}

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

// CellRef is one endpoint of a reference. relative coordinates are stored
// as offsets from the position of the cell that owns the expression. a nil
// Sheet means the owner's own sheet.
type CellRef struct {
	Sheet       Sheet
	Col         int
	Row         int
	ColRelative bool
	RowRelative bool
}

// Resolve returns the absolute position the reference points at when
// evaluated from pos
func (r CellRef) Resolve(pos Pos) Pos {
	p := Pos{Col: r.Col, Row: r.Row}
	if r.ColRelative {
		p.Col += pos.Col
	}
	if r.RowRelative {
		p.Row += pos.Row
	}
	return p
}

// Encode builds a reference to the absolute position p, relative to pos
// wherever r is relative
func (r CellRef) Encode(p, pos Pos) CellRef {
	out := r
	out.Col, out.Row = p.Col, p.Row
	if r.ColRelative {
		out.Col -= pos.Col
	}
	if r.RowRelative {
		out.Row -= pos.Row
	}
	return out
}

// SheetOr returns the referenced sheet, or def when the reference is local
func (r CellRef) SheetOr(def Sheet) Sheet {
	if r.Sheet == nil {
		return def
	}
	return r.Sheet
}

func (r CellRef) ToString() string {
	var sb strings.Builder
	if r.Sheet != nil {
		sb.WriteString(QuoteSheetName(r.Sheet.SheetName()))
		sb.WriteByte('!')
	}
	r.writeOffsets(&sb)
	return sb.String()
}

func (r CellRef) writeOffsets(sb *strings.Builder) {
	if r.RowRelative {
		fmt.Fprintf(sb, "R[%d]", r.Row)
	} else {
		fmt.Fprintf(sb, "R%d", r.Row+1)
	}
	if r.ColRelative {
		fmt.Fprintf(sb, "C[%d]", r.Col)
	} else {
		fmt.Fprintf(sb, "C%d", r.Col+1)
	}
}

// ConstantNode is a literal value: number, string, boolean or error
type ConstantNode struct {
	Value value.Value
}

func (n *ConstantNode) ToString() string {
	switch v := n.Value.(type) {
	case string:
		return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return value.ToString(v)
	}
}

// CellRefNode represents a single cell reference
type CellRefNode struct {
	Ref CellRef
}

func (n *CellRefNode) ToString() string {
	return n.Ref.ToString()
}

// RangeNode represents a rectangular range. when both endpoints name
// different sheets the range is three dimensional and covers every sheet
// between them in workbook order.
type RangeNode struct {
	Start CellRef
	End   CellRef
}

// Is3D reports whether the range spans more than one sheet
func (n *RangeNode) Is3D() bool {
	return n.Start.Sheet != nil && n.End.Sheet != nil && n.Start.Sheet != n.End.Sheet
}

// Resolve returns the normalized rectangle the range covers when evaluated
// from pos
func (n *RangeNode) Resolve(pos Pos) Range {
	return Range{Start: n.Start.Resolve(pos), End: n.End.Resolve(pos)}.Normalize()
}

func (n *RangeNode) ToString() string {
	var sb strings.Builder
	if n.Start.Sheet != nil {
		sb.WriteString(QuoteSheetName(n.Start.Sheet.SheetName()))
		if n.Is3D() {
			sb.WriteByte(':')
			sb.WriteString(QuoteSheetName(n.End.Sheet.SheetName()))
		}
		sb.WriteByte('!')
	}
	n.Start.writeOffsets(&sb)
	sb.WriteByte(':')
	n.End.writeOffsets(&sb)
	return sb.String()
}

// NameNode references a named expression. Scope is the sheet qualifier
// written in the formula, if any.
type NameNode struct {
	Name   string
	Scope  Sheet
	Target NamedExpr
}

func (n *NameNode) ToString() string {
	if n.Scope != nil {
		return QuoteSheetName(n.Scope.SheetName()) + "!" + strings.ToUpper(n.Name)
	}
	return strings.ToUpper(n.Name)
}

// FunctionCallNode represents a function call with its arguments
type FunctionCallNode struct {
	Name string
	Args []Node
}

func (n *FunctionCallNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.ToString()
	}
	return n.Name + "(" + strings.Join(args, ",") + ")"
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Op      UnaryOp
	Operand Node
}

func (n *UnaryOpNode) ToString() string {
	switch n.Op {
	case UnaryOpMinus:
		return "-(" + n.Operand.ToString() + ")"
	case UnaryOpPercent:
		return "(" + n.Operand.ToString() + ")%"
	default:
		return "+(" + n.Operand.ToString() + ")"
	}
}

// BinaryOpNode represents a binary operation
type BinaryOpNode struct {
	Op    BinaryOp
	Left  Node
	Right Node
}

func (n *BinaryOpNode) ToString() string {
	return "(" + n.Left.ToString() + n.Op.String() + n.Right.ToString() + ")"
}

// ArrayCornerNode is held by the top-left cell of an array formula. the
// inner expression is evaluated once and spread over Cols x Rows cells.
type ArrayCornerNode struct {
	Cols int
	Rows int
	Expr Node
}

func (n *ArrayCornerNode) ToString() string {
	return fmt.Sprintf("{%dx%d}%s", n.Cols, n.Rows, n.Expr.ToString())
}

// ArrayElemNode is held by every other cell of an array formula. X and Y
// are its offsets from the corner.
type ArrayElemNode struct {
	X int
	Y int
}

func (n *ArrayElemNode) ToString() string {
	return fmt.Sprintf("{%d,%d}", n.X, n.Y)
}

// SetNode is a parenthesized list of expressions, e.g. (A1,B2:C3)
type SetNode struct {
	Items []Node
}

func (n *SetNode) ToString() string {
	items := make([]string, len(n.Items))
	for i, it := range n.Items {
		items[i] = it.ToString()
	}
	return "(" + strings.Join(items, ",") + ")"
}

// Children returns the direct sub-expressions of n
func Children(n Node) []Node {
	switch n := n.(type) {
	case *FunctionCallNode:
		return n.Args
	case *UnaryOpNode:
		return []Node{n.Operand}
	case *BinaryOpNode:
		return []Node{n.Left, n.Right}
	case *ArrayCornerNode:
		return []Node{n.Expr}
	case *SetNode:
		return n.Items
	}
	return nil
}

// Walk visits n and its descendants depth first. returning false from fn
// skips the children of that node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}

// Expr is the top of an expression tree as held by a dependent
type Expr struct {
	Root Node
	key  string
}

// New wraps root as a top-level expression
func New(root Node) *Expr {
	return &Expr{Root: root, key: root.ToString()}
}

// Key is the canonical text of the tree, used to share identical trees
func (e *Expr) Key() string {
	return e.key
}

// ArrayCorner returns the corner node when e is the top of an array formula
func (e *Expr) ArrayCorner() *ArrayCornerNode {
	if e == nil {
		return nil
	}
	c, _ := e.Root.(*ArrayCornerNode)
	return c
}

// ArrayElem returns the element node when e is a non-corner array cell
func (e *Expr) ArrayElem() *ArrayElemNode {
	if e == nil {
		return nil
	}
	el, _ := e.Root.(*ArrayElemNode)
	return el
}

// CallsAny reports whether the tree calls a function for which match is
// true. used for volatility checks.
func (e *Expr) CallsAny(match func(name string) bool) bool {
	if e == nil {
		return false
	}
	found := false
	Walk(e.Root, func(n Node) bool {
		if found {
			return false
		}
		if fn, ok := n.(*FunctionCallNode); ok && match(fn.Name) {
			found = true
			return false
		}
		return true
	})
	return found
}

// QuoteSheetName quotes a sheet name when it is not a plain identifier
func QuoteSheetName(name string) string {
	plain := name != ""
	for i, ch := range name {
		if !(isLetter(ch) || ch == '_' || (i > 0 && isDigit(ch))) {
			plain = false
			break
		}
	}
	if plain {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func isLetter(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}
