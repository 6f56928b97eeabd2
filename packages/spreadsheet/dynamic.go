package spreadsheet

import (
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
)

// dynamicDep holds the references a dependent resolved while evaluating,
// e.g. the target of INDIRECT. its proxy dependent is what the indices
// record, so a change to a target reaches the container through the proxy.
type dynamicDep struct {
	base      Dependent
	container *Dependent
	refs      []expr.Node
}

// RegisterDynamicRef records that d read the cells of ref, a CellRefNode or
// RangeNode, during the evaluation in progress. it is a no-op outside an
// evaluation. refs are resolved against pos and stored absolute.
func (d *Dependent) RegisterDynamicRef(pos expr.Pos, ref expr.Node) {
	if d.flags&BeingCalculated == 0 || d.sheet == nil || d.sheet.deps == nil {
		return
	}
	abs := absolutize(ref, pos, d.sheet)
	if abs == nil {
		return
	}

	deps := d.sheet.deps
	dyn := deps.dynamicDeps[d]
	if dyn == nil {
		dyn = &dynamicDep{container: d}
		dyn.base.kind = KindDynamic
		dyn.base.owner = dyn
		dyn.base.sheet = d.sheet
		deps.dynamicDeps[d] = dyn
		d.flags |= HasDynamicDeps
	}
	flags := dyn.base.linkExpr(expr.Pos{}, abs, true)
	dyn.base.flags |= flags
	if flags&Has3D != 0 {
		d.sheet.wb.link3D(&dyn.base)
	}
	dyn.refs = append(dyn.refs, abs)
}

// absolutize pins a reference to explicit sheets and absolute coordinates so
// the proxy can be linked and unlinked without knowing the container's
// position
func absolutize(ref expr.Node, pos expr.Pos, def *Sheet) expr.Node {
	pin := func(r expr.CellRef) expr.CellRef {
		p := r.Resolve(pos)
		return expr.CellRef{Sheet: r.SheetOr(def), Col: p.Col, Row: p.Row}
	}
	switch n := ref.(type) {
	case *expr.CellRefNode:
		return &expr.CellRefNode{Ref: pin(n.Ref)}
	case *expr.RangeNode:
		start, end := pin(n.Start), pin(n.End)
		if n.End.Sheet == nil {
			end.Sheet = start.Sheet
		}
		return &expr.RangeNode{Start: start, End: end}
	}
	return nil
}

// clearDynamicDeps drops every reference registered by the last evaluation
func (d *Dependent) clearDynamicDeps() {
	d.flags &^= HasDynamicDeps
	if d.sheet == nil || d.sheet.deps == nil {
		return
	}
	deps := d.sheet.deps
	dyn := deps.dynamicDeps[d]
	if dyn == nil {
		return
	}
	delete(deps.dynamicDeps, d)
	dyn.free()
}

func (dyn *dynamicDep) free() {
	for _, ref := range dyn.refs {
		dyn.base.linkExpr(expr.Pos{}, ref, false)
	}
	if dyn.base.flags&Has3D != 0 && dyn.base.sheet != nil {
		dyn.base.sheet.wb.unlink3D(&dyn.base)
	}
	dyn.refs = nil
	dyn.base.flags = 0
}

func dynamicChanged(d *Dependent) []*Dependent {
	dyn := d.owner.(*dynamicDep)
	if dyn.container.flags&NeedsRecalc != 0 {
		return nil
	}
	dyn.container.flags |= NeedsRecalc
	return []*Dependent{dyn.container}
}

func dynamicDebugName(d *Dependent) string {
	dyn := d.owner.(*dynamicDep)
	return "DynamicDep(" + dyn.container.debugName(d.sheet) + ")"
}
