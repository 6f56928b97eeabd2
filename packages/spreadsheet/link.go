package spreadsheet

import (
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
)

// LinkFunc is a function's hook into linking. it runs before the arguments
// are linked; returning IgnoreArgs skips them.
type LinkFunc func(d *Dependent, pos expr.Pos, call *expr.FunctionCallNode, add bool) DepFlags

// sheetOf returns the engine sheet behind a reference, or nil for foreign
// implementations
func sheetOf(s expr.Sheet) *Sheet {
	sh, _ := s.(*Sheet)
	return sh
}

// linkExpr adds or removes the edges of the subtree n as read by d from pos
// and returns the linkage flags the subtree implies. Link and Unlink call it
// on the same tree, so both walks visit the same edges.
func (d *Dependent) linkExpr(pos expr.Pos, n expr.Node, add bool) DepFlags {
	switch n := n.(type) {
	case *expr.ConstantNode:
		return 0
	case *expr.CellRefNode:
		return d.linkCell(d.targetSheet(n.Ref.Sheet), n.Ref.Resolve(pos), add)
	case *expr.RangeNode:
		return d.linkRangeRef(pos, n, add)
	case *expr.NameNode:
		return d.linkName(pos, n, add)
	case *expr.FunctionCallNode:
		var flags DepFlags
		if hook := d.functionLinkHook(n.Name); hook != nil {
			flags = hook(d, pos, n, add)
			if flags&IgnoreArgs != 0 {
				return flags &^ IgnoreArgs
			}
		}
		for _, a := range n.Args {
			flags |= d.linkExpr(pos, a, add)
		}
		return flags
	case *expr.ArrayElemNode:
		corner := expr.Pos{Col: pos.Col - n.X, Row: pos.Row - n.Y}
		return d.linkCell(d.sheet, corner, add)
	}

	var flags DepFlags
	for _, c := range expr.Children(n) {
		flags |= d.linkExpr(pos, c, add)
	}
	return flags
}

func (d *Dependent) targetSheet(ref expr.Sheet) *Sheet {
	if ref == nil {
		return d.sheet
	}
	return sheetOf(ref)
}

// crossFlags classifies an edge from d into target
func (d *Dependent) crossFlags(target *Sheet) DepFlags {
	if target == nil || target == d.sheet {
		return 0
	}
	if d.sheet == nil || target.wb != d.sheet.wb {
		return GoesInterbook | GoesIntersheet
	}
	return GoesIntersheet
}

func (d *Dependent) linkCell(target *Sheet, p expr.Pos, add bool) DepFlags {
	flags := d.crossFlags(target)
	if target != nil && target.deps != nil {
		target.deps.linkSingle(p, d, add)
	}
	return flags
}

func (d *Dependent) linkRangeRef(pos expr.Pos, n *expr.RangeNode, add bool) DepFlags {
	r := n.Resolve(pos)
	if !n.Is3D() {
		target := d.targetSheet(n.Start.Sheet)
		flags := d.crossFlags(target)
		if target != nil && target.deps != nil {
			linkArea(target.deps, r, d, add)
		}
		return flags
	}

	a, b := sheetOf(n.Start.Sheet), sheetOf(n.End.Sheet)
	flags := Has3D | d.crossFlags(a)
	if a == nil || b == nil || a.wb != b.wb {
		return flags
	}
	wb := a.wb
	i, j := wb.sheetIndex(a), wb.sheetIndex(b)
	if i < 0 || j < 0 {
		return flags
	}
	if i > j {
		i, j = j, i
	}
	for _, s := range wb.sheets[i : j+1] {
		flags |= d.crossFlags(s)
		if s.deps != nil {
			linkArea(s.deps, r, d, add)
		}
	}
	return flags
}

// linkArea records a read of r. a single cell goes to the single index.
func linkArea(c *DepContainer, r expr.Range, d *Dependent, add bool) {
	if r.IsSingle() {
		c.linkSingle(r.Start, d, add)
		return
	}
	c.linkRange(r, d, add)
}

func (d *Dependent) linkName(pos expr.Pos, n *expr.NameNode, add bool) DepFlags {
	nm, _ := n.Target.(*Name)
	if nm == nil {
		return UsesName
	}
	if add {
		nm.consumers.Add(d)
	} else {
		nm.consumers.Remove(d)
	}
	if !nm.Active() {
		return UsesName
	}
	return UsesName | d.linkExpr(pos, nm.expr.Root, add)
}

func (d *Dependent) functionLinkHook(name string) LinkFunc {
	wb := d.workbook()
	if wb == nil {
		return nil
	}
	info, ok := wb.evaluator.Function(name)
	if !ok {
		return nil
	}
	return info.Link
}

// link3D records d in the workbook's registry of dependents whose edges
// depend on sheet order
func (wb *Workbook) link3D(d *Dependent) {
	if wb.beingReordered {
		return
	}
	if wb.sheetOrderDeps == nil {
		wb.sheetOrderDeps = make(map[*Dependent]struct{})
	}
	wb.sheetOrderDeps[d] = struct{}{}
}

func (wb *Workbook) unlink3D(d *Dependent) {
	if wb.sheetOrderDeps == nil || wb.beingReordered {
		return
	}
	delete(wb.sheetOrderDeps, d)
}
