package spreadsheet

import (
	"slices"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/undo"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// depCollector gathers dependents without duplicates, using the Flagged bit.
// done must be called to clear the bits.
type depCollector struct {
	list []*Dependent
}

func (dc *depCollector) add(d *Dependent) {
	if d == nil || d.flags&Flagged != 0 {
		return
	}
	d.flags |= Flagged
	dc.list = append(dc.list, d)
}

func (dc *depCollector) done() {
	for _, d := range dc.list {
		d.flags &^= Flagged
	}
}

// addReaders collects every dependent recorded in the indices of c. when
// area is non-nil only entries overlapping it are read.
func (dc *depCollector) addReaders(c *DepContainer, area *expr.Range) {
	add := func(d *Dependent) bool {
		dc.add(d)
		return true
	}
	first, last := 0, len(c.rangeHash)-1
	if area != nil {
		first = bucketOf(area.Start.Row)
		last = min(last, bucketOf(area.End.Row))
	}
	for i := first; i <= last; i++ {
		for _, e := range c.rangeHash[i] {
			if area == nil || e.rng.Overlaps(*area) {
				e.deps.ForEach(add)
			}
		}
	}
	for p, e := range c.singleHash {
		if area == nil || area.Contains(p) {
			e.deps.ForEach(add)
		}
	}
}

// rewriteDep replaces the expression of d with the relocated tree. a
// dependent that was linked is relinked; the old expression is restored by
// the returned undo.
func rewriteDep(d *Dependent, root expr.Node) undo.Undo {
	old := d.expr
	wasLinked := d.IsLinked()
	d.SetExpr(expr.New(root))
	if wasLinked {
		d.Link()
	}
	return undo.Func(func() {
		wasLinked := d.IsLinked()
		d.SetExpr(old)
		if wasLinked {
			d.Link()
		}
	})
}

// refErrorExpr is the expression of names whose sheet was destroyed
func refErrorExpr() *expr.Expr {
	return expr.New(&expr.ConstantNode{Value: value.NewError(value.ErrorCodeRef, "")})
}

// InvalidateSheet prepares s for removal. see InvalidateSheets.
func (wb *Workbook) InvalidateSheet(s *Sheet, destroy bool) undo.Undo {
	return wb.InvalidateSheets([]*Sheet{s}, destroy)
}

// InvalidateSheets cuts the doomed sheets out of the dependency graph.
//
// dependents living on them are unlinked. dependents elsewhere that read
// them, directly, through a 3D range, through a name or through a dynamic
// reference, are rewritten to #REF! and marked dirty. names referring to
// the sheets are rewritten the same way.
//
// with destroy the sheets' containers are freed and nil is returned.
// otherwise the returned undo relinks the sheets' dependents and restores
// every rewritten expression; it is also kept on each sheet for ReviveSheet.
func (wb *Workbook) InvalidateSheets(sheets []*Sheet, destroy bool) undo.Undo {
	var doomed []*Sheet
	for _, s := range sheets {
		if s != nil && s.deps != nil && !s.beingInvalidated {
			s.beingInvalidated = true
			doomed = append(doomed, s)
		}
	}
	if len(doomed) == 0 {
		return nil
	}
	defer func() {
		for _, s := range doomed {
			s.beingInvalidated = false
		}
	}()

	group := undo.NewGroup("invalidate sheets")
	inside := wb.handleOutgoingReferences(doomed)
	if !destroy {
		group.Add(undo.Func(func() {
			for _, d := range inside {
				d.Link()
			}
			queueRecalcList(inside)
		}))
	}

	info := &expr.RelocateInfo{
		Kind: expr.RelocateInvalidateSheets,
		Invalid: func(es expr.Sheet) bool {
			s := sheetOf(es)
			return s != nil && s.beingInvalidated
		},
	}
	rewritten := 0
	if !wb.duringDestruction {
		rewritten += wb.handleLocalNames(doomed, destroy, group)
		rewritten += wb.handleReferencingNames(doomed, info, group)
	}
	// a dying workbook still owes its readers in other workbooks a #REF!
	rewritten += wb.handleIncomingReferences(doomed, info, group)

	if destroy {
		wb.doDepsDestroy(doomed)
	} else {
		for _, s := range doomed {
			s.revive = group
		}
	}
	for _, s := range doomed {
		wb.logger.Debug("invalidated sheet",
			"sheet", s.name, "destroy", destroy, "dependents", len(inside), "rewritten", rewritten)
	}
	if destroy {
		return nil
	}
	return group
}

// handleOutgoingReferences unlinks every dependent living on the doomed
// sheets, which removes their edges into other sheets too, and returns them
func (wb *Workbook) handleOutgoingReferences(doomed []*Sheet) []*Dependent {
	var inside []*Dependent
	for _, s := range doomed {
		for _, d := range s.deps.Dependents() {
			d.Unlink()
			inside = append(inside, d)
		}
		// proxies of dependents that are not linked any more
		for d := range s.deps.dynamicDeps {
			d.clearDynamicDeps()
		}
	}
	return inside
}

// handleLocalNames detaches the names scoped to doomed sheets. consumers on
// other sheets reach them through an explicit sheet prefix and are
// rewritten by handleIncomingReferences.
func (wb *Workbook) handleLocalNames(doomed []*Sheet, destroy bool, group *undo.Group) int {
	n := 0
	for _, s := range doomed {
		for _, nm := range s.names.sorted() {
			if !nm.Active() {
				continue
			}
			old := nm.expr
			if destroy {
				nm.SetExpr(refErrorExpr())
			} else {
				nm.SetExpr(nil)
				group.Add(undo.Func(func() { nm.SetExpr(old) }))
			}
			n++
		}
	}
	return n
}

// handleReferencingNames rewrites the names of living scopes whose
// expression mentions a doomed sheet
func (wb *Workbook) handleReferencingNames(doomed []*Sheet, info *expr.RelocateInfo, group *undo.Group) int {
	var names []*Name
	for _, s := range doomed {
		for nm := range s.deps.referencingNames {
			if nm.scope != nil && nm.scope.beingInvalidated {
				continue
			}
			if !slices.Contains(names, nm) {
				names = append(names, nm)
			}
		}
	}
	slices.SortFunc(names, func(a, b *Name) int { return compareFold(a.name, b.name) })

	n := 0
	for _, nm := range names {
		if !nm.Active() {
			continue
		}
		root, changed := expr.Relocate(nm.expr.Root, nm.scope, expr.Pos{}, info)
		if !changed {
			// a 3D span lost a sheet in the middle; the tree stands
			for _, d := range nm.Consumers() {
				d.QueueRecalc()
			}
			continue
		}
		old := nm.expr
		nm.SetExpr(expr.New(root))
		group.Add(undo.Func(func() { nm.SetExpr(old) }))
		n++
	}
	return n
}

// handleIncomingReferences rewrites the living dependents that read a
// doomed sheet
func (wb *Workbook) handleIncomingReferences(doomed []*Sheet, info *expr.RelocateInfo, group *undo.Group) int {
	var dc depCollector
	defer dc.done()
	for _, s := range doomed {
		dc.addReaders(s.deps, nil)
		for _, nm := range s.names.sorted() {
			for _, d := range nm.Consumers() {
				dc.add(d)
			}
		}
	}
	for d := range wb.sheetOrderDeps {
		dc.add(d)
	}

	n := 0
	var dirty []*Dependent
	for _, d := range dc.list {
		if d.sheet == nil || d.sheet.beingInvalidated {
			continue
		}
		if d.kind == KindDynamic {
			// the container resolves its reference again on the next
			// evaluation
			container := d.owner.(*dynamicDep).container
			if container.sheet == nil || container.sheet.beingInvalidated {
				continue
			}
			container.clearDynamicDeps()
			dirty = append(dirty, container)
			continue
		}
		if d.expr == nil {
			continue
		}
		root, changed := expr.Relocate(d.expr.Root, d.sheet, d.pos(), info)
		if !changed {
			dirty = append(dirty, d)
			continue
		}
		group.Add(rewriteDep(d, root))
		n++
	}
	queueRecalcList(dirty)
	return n
}

// handleDynamicDeps drops every proxy registered on the doomed sheets
func (wb *Workbook) handleDynamicDeps(doomed []*Sheet) {
	for _, s := range doomed {
		for d := range s.deps.dynamicDeps {
			d.clearDynamicDeps()
		}
	}
}

// doDepsDestroy frees the containers of the doomed sheets. their dependents
// must already be unlinked.
func (wb *Workbook) doDepsDestroy(doomed []*Sheet) {
	wb.handleDynamicDeps(doomed)
	for _, s := range doomed {
		for nm := range s.deps.referencingNames {
			nm.sheets = slices.DeleteFunc(nm.sheets, func(o *Sheet) bool { return o == s })
		}
		s.deps = nil
		s.revive = nil
	}
}

// reorder runs fn, which changes the order or membership of the sheets,
// with every dependent holding a 3D reference unlinked around it. proxies
// with 3D references are dropped and their containers dirtied.
func (wb *Workbook) reorder(fn func()) {
	var linked, containers []*Dependent
	for d := range wb.sheetOrderDeps {
		if d.kind == KindDynamic {
			containers = append(containers, d.owner.(*dynamicDep).container)
			continue
		}
		linked = append(linked, d)
	}
	for _, c := range containers {
		c.clearDynamicDeps()
	}
	slices.SortFunc(linked, wb.compareDeps)

	wb.beingReordered = true
	for _, d := range linked {
		d.Unlink()
	}
	fn()
	wb.beingReordered = false

	wb.sheetOrderDeps = nil
	for _, d := range linked {
		d.Link()
	}
	queueRecalcList(append(linked, containers...))
}

// compareDeps orders dependents by sheet then anchor for stable relinking
func (wb *Workbook) compareDeps(a, b *Dependent) int {
	if ia, ib := wb.sheetIndex(a.sheet), wb.sheetIndex(b.sheet); ia != ib {
		return ia - ib
	}
	pa, pb := a.pos(), b.pos()
	if pa.Row != pb.Row {
		return pa.Row - pb.Row
	}
	return pa.Col - pb.Col
}

// RemoveSheet destroys s and removes it from the workbook. formulas that
// read it become #REF!.
func (wb *Workbook) RemoveSheet(s *Sheet) error {
	if err := wb.checkAlive(); err != nil {
		return err
	}
	idx := wb.sheetIndex(s)
	if idx < 0 {
		return NewApplicationError(NotFound, "sheet is not part of this workbook")
	}
	wb.reorder(func() {
		wb.InvalidateSheet(s, true)
		wb.removeFromOrder(s, idx)
	})
	return nil
}

// DetachSheet removes s from the workbook but keeps its contents. the
// returned undo puts it back at its old index and restores every formula
// that was rewritten.
func (wb *Workbook) DetachSheet(s *Sheet) (undo.Undo, error) {
	if err := wb.checkAlive(); err != nil {
		return nil, err
	}
	idx := wb.sheetIndex(s)
	if idx < 0 {
		return nil, NewApplicationError(NotFound, "sheet is not part of this workbook")
	}
	wb.reorder(func() {
		wb.InvalidateSheet(s, false)
		wb.removeFromOrder(s, idx)
	})
	return undo.Func(func() {
		if err := wb.ReviveSheet(s, idx); err != nil {
			wb.logger.Warn("revive sheet failed", "sheet", s.name, "err", err)
		}
	}), nil
}

func (wb *Workbook) removeFromOrder(s *Sheet, idx int) {
	wb.sheets = slices.Delete(wb.sheets, idx, idx+1)
	if wb.sheetsByKey[foldKey(s.name)] == s {
		delete(wb.sheetsByKey, foldKey(s.name))
	}
	wb.reindex()
	s.index = -1
}

// ReviveSheet puts a detached sheet back at index, relinking its
// dependents and restoring the formulas its detachment rewrote
func (wb *Workbook) ReviveSheet(s *Sheet, index int) error {
	if err := wb.checkAlive(); err != nil {
		return err
	}
	if s == nil || s.wb != wb || s.deps == nil {
		return NewApplicationError(FailedPrecondition, "sheet cannot be revived")
	}
	if wb.sheetIndex(s) >= 0 {
		return newAppErrorf(AlreadyExists, "sheet %q is already part of the workbook", s.name)
	}
	key := foldKey(s.name)
	if _, exists := wb.sheetsByKey[key]; exists {
		return newAppErrorf(AlreadyExists, "sheet %q already exists", s.name)
	}
	index = max(0, min(index, len(wb.sheets)))
	wb.reorder(func() {
		wb.sheets = slices.Insert(wb.sheets, index, s)
		wb.sheetsByKey[key] = s
		wb.reindex()
	})
	if g := s.revive; g != nil {
		s.revive = nil
		g.Undo()
	}
	wb.logger.Debug("revived sheet", "sheet", s.name, "index", index)
	return nil
}

// MoveSheet moves s to index, shifting the sheets in between. dependents
// with 3D references are relinked over the new order.
func (wb *Workbook) MoveSheet(s *Sheet, index int) error {
	if err := wb.checkAlive(); err != nil {
		return err
	}
	from := wb.sheetIndex(s)
	if from < 0 {
		return NewApplicationError(NotFound, "sheet is not part of this workbook")
	}
	if index < 0 || index >= len(wb.sheets) {
		return newAppErrorf(OutOfRange, "sheet index %d out of range", index)
	}
	if index == from {
		return nil
	}
	wb.reorder(func() {
		wb.sheets = slices.Delete(wb.sheets, from, from+1)
		wb.sheets = slices.Insert(wb.sheets, index, s)
		wb.reindex()
	})
	return nil
}

// DestroyWorkbook tears down every sheet. readers in other workbooks are
// rewritten to #REF! and marked dirty; the workbook's own names are left
// alone. the workbook cannot be used afterwards.
func (wb *Workbook) DestroyWorkbook() {
	if wb.destroyed {
		return
	}
	wb.duringDestruction = true
	wb.InvalidateSheets(wb.sheets, true)
	for _, nm := range wb.names.sorted() {
		nm.unregisterSheets()
	}
	wb.sheetOrderDeps = nil
	wb.pending = nil
	wb.iterating = nil
	wb.destroyed = true
	wb.duringDestruction = false
	wb.logger.Debug("destroyed workbook", "id", wb.ID.String(), "sheets", len(wb.sheets))
}
