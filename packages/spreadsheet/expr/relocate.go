package expr

import "github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"

// RelocateKind selects the structural change a RelocateInfo describes
type RelocateKind int

const (
	// RelocateInvalidateSheets turns references into doomed sheets into #REF!
	RelocateInvalidateSheets RelocateKind = iota
	// RelocateMoveRange moves a block of cells, possibly to another sheet
	RelocateMoveRange
	RelocateInsertRows
	RelocateDeleteRows
	RelocateInsertCols
	RelocateDeleteCols
)

func (k RelocateKind) String() string {
	switch k {
	case RelocateInvalidateSheets:
		return "invalidate-sheets"
	case RelocateMoveRange:
		return "move-range"
	case RelocateInsertRows:
		return "insert-rows"
	case RelocateDeleteRows:
		return "delete-rows"
	case RelocateInsertCols:
		return "insert-cols"
	case RelocateDeleteCols:
		return "delete-cols"
	}
	return "unknown"
}

// RelocateInfo describes a structural change. only the fields relevant to
// Kind are read.
type RelocateInfo struct {
	Kind RelocateKind

	// Origin is the sheet whose rows, columns or range change
	Origin Sheet

	// Range, Target and the offsets describe RelocateMoveRange. a nil
	// Target means Origin.
	Range     Range
	Target    Sheet
	ColOffset int
	RowOffset int

	// Index and Count describe row and column inserts and deletes
	Index int
	Count int

	// Invalid reports the doomed sheets for RelocateInvalidateSheets
	Invalid func(Sheet) bool

	// MaxCols and MaxRows bound the origin sheet. positions pushed past
	// them become #REF!. zero means unbounded.
	MaxCols int
	MaxRows int
}

func (info *RelocateInfo) target() Sheet {
	if info.Target == nil {
		return info.Origin
	}
	return info.Target
}

// Region returns the block of cells on Origin whose contents move, and
// whether there is one
func (info *RelocateInfo) Region() (Range, bool) {
	const far = 1 << 30
	maxCol, maxRow := far, far
	if info.MaxCols > 0 {
		maxCol = info.MaxCols - 1
	}
	if info.MaxRows > 0 {
		maxRow = info.MaxRows - 1
	}
	switch info.Kind {
	case RelocateMoveRange:
		return info.Range, true
	case RelocateInsertRows, RelocateDeleteRows:
		return NewRange(0, info.Index, maxCol, maxRow), true
	case RelocateInsertCols, RelocateDeleteCols:
		return NewRange(info.Index, 0, maxCol, maxRow), true
	}
	return Range{}, false
}

// MovePos reports where the cell at p on sheet ends up. ok is false when
// the cell is deleted or pushed off the sheet.
func (info *RelocateInfo) MovePos(sheet Sheet, p Pos) (Sheet, Pos, bool) {
	switch info.Kind {
	case RelocateInvalidateSheets:
		if info.Invalid != nil && info.Invalid(sheet) {
			return sheet, p, false
		}
		return sheet, p, true
	case RelocateMoveRange:
		if sheet != info.Origin || !info.Range.Contains(p) {
			return sheet, p, true
		}
		np := p.Offset(info.ColOffset, info.RowOffset)
		return info.target(), np, info.inBounds(np)
	}
	if sheet != info.Origin {
		return sheet, p, true
	}
	switch info.Kind {
	case RelocateInsertRows:
		if p.Row >= info.Index {
			p.Row += info.Count
		}
	case RelocateDeleteRows:
		if p.Row >= info.Index+info.Count {
			p.Row -= info.Count
		} else if p.Row >= info.Index {
			return sheet, p, false
		}
	case RelocateInsertCols:
		if p.Col >= info.Index {
			p.Col += info.Count
		}
	case RelocateDeleteCols:
		if p.Col >= info.Index+info.Count {
			p.Col -= info.Count
		} else if p.Col >= info.Index {
			return sheet, p, false
		}
	}
	return sheet, p, info.inBounds(p)
}

func (info *RelocateInfo) inBounds(p Pos) bool {
	if p.Col < 0 || p.Row < 0 {
		return false
	}
	if info.MaxCols > 0 && p.Col >= info.MaxCols {
		return false
	}
	if info.MaxRows > 0 && p.Row >= info.MaxRows {
		return false
	}
	return true
}

// moveSpan shifts the inclusive span [lo,hi] for an insert or delete at
// index. deleting part of a span shrinks it; deleting all of it fails.
func (info *RelocateInfo) moveSpan(lo, hi int, del bool) (int, int, bool) {
	idx, n := info.Index, info.Count
	if !del {
		if lo >= idx {
			lo += n
		}
		if hi >= idx {
			hi += n
		}
		return lo, hi, true
	}
	switch {
	case lo >= idx+n:
		lo -= n
	case lo >= idx:
		lo = idx
	}
	switch {
	case hi >= idx+n:
		hi -= n
	case hi >= idx:
		hi = idx - 1
	}
	return lo, hi, hi >= lo
}

// MoveRange reports where the rectangle r on sheet ends up
func (info *RelocateInfo) MoveRange(sheet Sheet, r Range) (Sheet, Range, bool) {
	r = r.Normalize()
	switch info.Kind {
	case RelocateInvalidateSheets:
		_, _, ok := info.MovePos(sheet, r.Start)
		return sheet, r, ok
	case RelocateMoveRange:
		if sheet != info.Origin || !info.Range.ContainsRange(r) {
			return sheet, r, true
		}
		moved := Range{
			Start: r.Start.Offset(info.ColOffset, info.RowOffset),
			End:   r.End.Offset(info.ColOffset, info.RowOffset),
		}
		return info.target(), moved, info.inBounds(moved.Start) && info.inBounds(moved.End)
	}
	if sheet != info.Origin {
		return sheet, r, true
	}
	var ok bool
	switch info.Kind {
	case RelocateInsertRows, RelocateDeleteRows:
		r.Start.Row, r.End.Row, ok = info.moveSpan(r.Start.Row, r.End.Row, info.Kind == RelocateDeleteRows)
	case RelocateInsertCols, RelocateDeleteCols:
		r.Start.Col, r.End.Col, ok = info.moveSpan(r.Start.Col, r.End.Col, info.Kind == RelocateDeleteCols)
	}
	return sheet, r, ok && info.inBounds(r.Start) && info.inBounds(r.End)
}

// Relocate rewrites the tree held by the dependent at pos on owner for the
// change described by info. it returns the original node and false when
// nothing changed.
func Relocate(n Node, owner Sheet, pos Pos, info *RelocateInfo) (Node, bool) {
	r := relocator{info: info, owner: owner, pos: pos, newOwner: owner, newPos: pos}
	if info.Kind != RelocateInvalidateSheets {
		if s, p, ok := info.MovePos(owner, pos); ok {
			r.newOwner, r.newPos = s, p
		}
	}
	return r.node(n)
}

type relocator struct {
	info     *RelocateInfo
	owner    Sheet
	pos      Pos
	newOwner Sheet
	newPos   Pos
}

func refError() Node {
	return &ConstantNode{Value: value.NewError(value.ErrorCodeRef, "")}
}

// sheetFor picks the sheet field of a rewritten reference. local references
// stay local unless the target and the owner end up on different sheets.
func (r *relocator) sheetFor(orig CellRef, target Sheet) Sheet {
	if orig.Sheet == nil && target == r.newOwner {
		return nil
	}
	return target
}

func (r *relocator) node(n Node) (Node, bool) {
	switch n := n.(type) {
	case *CellRefNode:
		return r.cellRef(n)
	case *RangeNode:
		return r.rangeRef(n)
	case *NameNode:
		if r.info.Kind == RelocateInvalidateSheets && n.Scope != nil &&
			r.info.Invalid != nil && r.info.Invalid(n.Scope) {
			return refError(), true
		}
		return n, false
	case *FunctionCallNode:
		args, changed := r.nodes(n.Args)
		if !changed {
			return n, false
		}
		return &FunctionCallNode{Name: n.Name, Args: args}, true
	case *UnaryOpNode:
		operand, changed := r.node(n.Operand)
		if !changed {
			return n, false
		}
		return &UnaryOpNode{Op: n.Op, Operand: operand}, true
	case *BinaryOpNode:
		left, lc := r.node(n.Left)
		right, rc := r.node(n.Right)
		if !lc && !rc {
			return n, false
		}
		return &BinaryOpNode{Op: n.Op, Left: left, Right: right}, true
	case *ArrayCornerNode:
		inner, changed := r.node(n.Expr)
		if !changed {
			return n, false
		}
		return &ArrayCornerNode{Cols: n.Cols, Rows: n.Rows, Expr: inner}, true
	case *SetNode:
		items, changed := r.nodes(n.Items)
		if !changed {
			return n, false
		}
		return &SetNode{Items: items}, true
	}
	return n, false
}

func (r *relocator) nodes(in []Node) ([]Node, bool) {
	var out []Node
	for i, c := range in {
		nc, changed := r.node(c)
		if changed && out == nil {
			out = make([]Node, len(in))
			copy(out, in[:i])
		}
		if out != nil {
			out[i] = nc
		}
	}
	if out == nil {
		return in, false
	}
	return out, true
}

func (r *relocator) cellRef(n *CellRefNode) (Node, bool) {
	target := n.Ref.SheetOr(r.owner)
	abs := n.Ref.Resolve(r.pos)

	sheet, moved, ok := r.info.MovePos(target, abs)
	if !ok {
		return refError(), true
	}
	if r.info.Kind == RelocateInvalidateSheets {
		return n, false
	}

	ref := n.Ref.Encode(moved, r.newPos)
	ref.Sheet = r.sheetFor(n.Ref, sheet)
	if ref == n.Ref {
		return n, false
	}
	return &CellRefNode{Ref: ref}, true
}

func (r *relocator) rangeRef(n *RangeNode) (Node, bool) {
	if n.Is3D() {
		if r.info.Kind == RelocateInvalidateSheets && r.info.Invalid != nil &&
			(r.info.Invalid(n.Start.Sheet) || r.info.Invalid(n.End.Sheet)) {
			return refError(), true
		}
		// 3D ranges keep their coordinates across row and column changes
		return n, false
	}

	target := n.Start.SheetOr(r.owner)
	a, b := n.Start.Resolve(r.pos), n.End.Resolve(r.pos)

	sheet, moved, ok := r.info.MoveRange(target, Range{Start: a, End: b})
	if !ok {
		return refError(), true
	}
	if r.info.Kind == RelocateInvalidateSheets {
		return n, false
	}

	// keep each endpoint on its own corner when the range was written
	// back to front
	na, nb := moved.Start, moved.End
	if a.Col > b.Col {
		na.Col, nb.Col = nb.Col, na.Col
	}
	if a.Row > b.Row {
		na.Row, nb.Row = nb.Row, na.Row
	}

	start := n.Start.Encode(na, r.newPos)
	end := n.End.Encode(nb, r.newPos)
	start.Sheet = r.sheetFor(n.Start, sheet)
	end.Sheet = r.sheetFor(n.End, sheet)
	if start.Sheet == nil {
		end.Sheet = nil
	} else {
		end.Sheet = start.Sheet
	}
	if start == n.Start && end == n.End {
		return n, false
	}
	return &RangeNode{Start: start, End: end}, true
}
