package spreadsheet

import (
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/undo"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// depSnapshot is the state of a dependent before a relocation
type depSnapshot struct {
	d     *Dependent
	sheet *Sheet
	pos   expr.Pos
	expr  *expr.Expr
	value value.Value
	// stored reports whether a cell was in its sheet's store
	stored bool
}

func snapshotOf(d *Dependent) depSnapshot {
	snap := depSnapshot{d: d, sheet: d.sheet, pos: d.pos(), expr: d.expr}
	if c, ok := d.owner.(*Cell); ok && d.kind == KindCell {
		snap.value = c.value
		snap.stored = c.sheet != nil && c.sheet.cells.get(c.pos) == c
	}
	return snap
}

// setAnchor moves a positioned dependent
func setAnchor(d *Dependent, s *Sheet, p expr.Pos) {
	d.sheet = s
	switch o := d.owner.(type) {
	case *Cell:
		o.pos = p
	case *StyleDep:
		o.pos = p
	}
}

// InsertRows inserts count empty rows before row index
func (s *Sheet) InsertRows(index, count int) (undo.Undo, error) {
	return s.relocateSpan(expr.RelocateInsertRows, index, count, s.maxRows)
}

// DeleteRows deletes count rows starting at row index. references into
// them become #REF!; ranges that cover them shrink.
func (s *Sheet) DeleteRows(index, count int) (undo.Undo, error) {
	return s.relocateSpan(expr.RelocateDeleteRows, index, count, s.maxRows)
}

// InsertCols inserts count empty columns before column index
func (s *Sheet) InsertCols(index, count int) (undo.Undo, error) {
	return s.relocateSpan(expr.RelocateInsertCols, index, count, s.maxCols)
}

// DeleteCols deletes count columns starting at column index
func (s *Sheet) DeleteCols(index, count int) (undo.Undo, error) {
	return s.relocateSpan(expr.RelocateDeleteCols, index, count, s.maxCols)
}

func (s *Sheet) relocateSpan(kind expr.RelocateKind, index, count, limit int) (undo.Undo, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if count <= 0 || index < 0 || index >= limit {
		return nil, newAppErrorf(OutOfRange, "%s at %d count %d out of range", kind, index, count)
	}
	if err := s.checkArraySplit(kind, index, count); err != nil {
		return nil, err
	}
	return s.wb.Relocate(&expr.RelocateInfo{
		Kind:    kind,
		Origin:  s,
		Index:   index,
		Count:   count,
		MaxCols: s.maxCols,
		MaxRows: s.maxRows,
	})
}

// checkArraySplit rejects a row or column change that would cut through an
// array formula
func (s *Sheet) checkArraySplit(kind expr.RelocateKind, index, count int) error {
	for _, c := range s.cells.all() {
		corner := c.expr.ArrayCorner()
		if corner == nil {
			continue
		}
		lo, hi := c.pos.Row, c.pos.Row+corner.Rows-1
		if kind == expr.RelocateInsertCols || kind == expr.RelocateDeleteCols {
			lo, hi = c.pos.Col, c.pos.Col+corner.Cols-1
		}
		var split bool
		switch kind {
		case expr.RelocateInsertRows, expr.RelocateInsertCols:
			split = index > lo && index <= hi
		default:
			end := index + count - 1
			overlaps := index <= hi && end >= lo
			contained := index <= lo && end >= hi
			split = overlaps && !contained
		}
		if split {
			return newAppErrorf(FailedPrecondition, "cannot split the array formula at %s", c.pos)
		}
	}
	return nil
}

// MoveRange moves the cells of src by (dcol, drow) onto target, which may
// be the sheet itself. cells already at the destination are replaced.
// references to the moved cells follow them.
func (s *Sheet) MoveRange(src expr.Range, target *Sheet, dcol, drow int) (undo.Undo, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if target == nil {
		target = s
	}
	if err := target.checkAlive(); err != nil {
		return nil, err
	}
	src = src.Normalize()
	dst := expr.Range{Start: src.Start.Offset(dcol, drow), End: src.End.Offset(dcol, drow)}
	if !s.inBounds(src.Start) || !s.inBounds(src.End) || !target.inBounds(dst.Start) || !target.inBounds(dst.End) {
		return nil, newAppErrorf(OutOfRange, "cannot move %s by %d,%d", src, dcol, drow)
	}
	for _, c := range s.cells.cellsIn(src) {
		if r, ok := s.arrayBounds(c); ok && c.isArrayMember() && !src.ContainsRange(r) {
			return nil, newAppErrorf(FailedPrecondition, "cannot move part of the array formula at %s", r)
		}
	}
	for _, c := range target.cells.cellsIn(dst) {
		if r, ok := target.arrayBounds(c); ok && c.isArrayMember() &&
			!dst.ContainsRange(r) && !(target == s && src.ContainsRange(r)) {
			return nil, newAppErrorf(FailedPrecondition, "cannot overwrite part of the array formula at %s", r)
		}
	}
	return s.wb.Relocate(&expr.RelocateInfo{
		Kind:      expr.RelocateMoveRange,
		Origin:    s,
		Range:     src,
		Target:    target,
		ColOffset: dcol,
		RowOffset: drow,
		MaxCols:   target.maxCols,
		MaxRows:   target.maxRows,
	})
}

// Relocate applies a row, column or range move to the dependency graph and
// the cell store. every dependent that lives in the moving region or reads
// it is unlinked, rewritten, moved and relinked; names that mention the
// origin are rewritten in place. the returned undo restores the previous
// state.
func (wb *Workbook) Relocate(info *expr.RelocateInfo) (undo.Undo, error) {
	if err := wb.checkAlive(); err != nil {
		return nil, err
	}
	origin := sheetOf(info.Origin)
	if wb.sheetIndex(origin) < 0 || origin.deps == nil {
		return nil, NewApplicationError(NotFound, "relocation origin is not part of this workbook")
	}
	target := origin
	if info.Kind == expr.RelocateMoveRange && info.Target != nil {
		if target = sheetOf(info.Target); target == nil || target.deps == nil {
			return nil, NewApplicationError(NotFound, "relocation target is not a live sheet")
		}
	}
	region, ok := info.Region()
	if !ok {
		return nil, newAppErrorf(InvalidArgument, "%s is not a relocation", info.Kind)
	}
	region = clipRange(region, origin)

	var dc depCollector
	defer dc.done()
	origin.deps.forEach(func(d *Dependent) {
		if p, ok := d.Pos(); ok && region.Contains(p) {
			dc.add(d)
		}
	})
	dc.addReaders(origin.deps, &region)
	moving := origin.cells.cellsIn(region)
	for _, c := range moving {
		dc.add(&c.Dependent)
	}

	var dst expr.Range
	var overwritten []*Cell
	if info.Kind == expr.RelocateMoveRange {
		dst = clipRange(expr.Range{
			Start: region.Start.Offset(info.ColOffset, info.RowOffset),
			End:   region.End.Offset(info.ColOffset, info.RowOffset),
		}, target)
		for _, c := range target.cells.cellsIn(dst) {
			if target == origin && region.Contains(c.pos) {
				continue
			}
			overwritten = append(overwritten, c)
			dc.add(&c.Dependent)
		}
		if target != origin {
			target.deps.forEach(func(d *Dependent) {
				if p, ok := d.Pos(); ok && dst.Contains(p) {
					dc.add(d)
				}
			})
		}
	}

	snaps := make([]depSnapshot, 0, len(dc.list))
	rewrites := make(map[*Dependent]expr.Node)
	var dirty []*Dependent
	for _, d := range dc.list {
		if d.kind == KindDynamic {
			container := d.owner.(*dynamicDep).container
			container.clearDynamicDeps()
			dirty = append(dirty, container)
			continue
		}
		snaps = append(snaps, snapshotOf(d))
		if d.expr != nil {
			if root, changed := expr.Relocate(d.expr.Root, d.sheet, d.pos(), info); changed {
				rewrites[d] = root
			}
		}
	}
	for _, snap := range snaps {
		snap.d.Unlink()
	}

	for _, c := range overwritten {
		target.cells.remove(c.pos)
		c.SetExpr(nil)
	}
	for _, c := range moving {
		origin.cells.remove(c.pos)
	}
	for _, c := range moving {
		ns, np, ok := info.MovePos(origin, c.pos)
		if !ok {
			c.SetExpr(nil)
			delete(rewrites, &c.Dependent)
			continue
		}
		setAnchor(&c.Dependent, sheetOf(ns), np)
		c.sheet.cells.put(c)
	}
	for _, snap := range snaps {
		if snap.d.kind != KindStyle || snap.sheet != origin {
			continue
		}
		if ns, np, ok := info.MovePos(origin, snap.pos); ok {
			setAnchor(snap.d, sheetOf(ns), np)
		}
	}

	for d, root := range rewrites {
		d.SetExpr(expr.New(root))
	}
	names := wb.relocateNames(origin, info)

	for _, snap := range snaps {
		d := snap.d
		if c, ok := d.owner.(*Cell); ok && d.kind == KindCell && c.sheet.cells.get(c.pos) != c {
			continue
		}
		d.Link()
		if d.expr != nil {
			dirty = append(dirty, d)
		}
	}
	queueRecalcList(dirty)
	origin.InvalidateRegion(&region)
	if info.Kind == expr.RelocateMoveRange {
		target.InvalidateRegion(&dst)
	}

	wb.logger.Debug("relocated",
		"kind", info.Kind.String(),
		"sheet", origin.name,
		"dependents", len(snaps),
		"rewritten", len(rewrites),
		"names", len(names))

	return undo.Func(func() {
		wb.restoreSnapshots(snaps, names)
		origin.InvalidateRegion(&region)
		if info.Kind == expr.RelocateMoveRange {
			target.InvalidateRegion(&dst)
		}
	}), nil
}

// clipRange bounds r to the cells of s
func clipRange(r expr.Range, s *Sheet) expr.Range {
	r = r.Normalize()
	r.Start.Col, r.Start.Row = max(r.Start.Col, 0), max(r.Start.Row, 0)
	r.End.Col, r.End.Row = min(r.End.Col, s.maxCols-1), min(r.End.Row, s.maxRows-1)
	return r
}

type nameSnapshot struct {
	nm   *Name
	expr *expr.Expr
}

// relocateNames rewrites every name whose expression mentions origin
func (wb *Workbook) relocateNames(origin *Sheet, info *expr.RelocateInfo) []nameSnapshot {
	var out []nameSnapshot
	var names []*Name
	for nm := range origin.deps.referencingNames {
		names = append(names, nm)
	}
	if info.Kind == expr.RelocateMoveRange {
		if target := sheetOf(info.Target); target != nil && target != origin {
			for nm := range target.deps.referencingNames {
				names = append(names, nm)
			}
		}
	}
	seen := make(map[*Name]bool)
	for _, nm := range names {
		if seen[nm] || !nm.Active() {
			continue
		}
		seen[nm] = true
		root, changed := expr.Relocate(nm.expr.Root, nm.scope, expr.Pos{}, info)
		if !changed {
			continue
		}
		out = append(out, nameSnapshot{nm: nm, expr: nm.expr})
		nm.SetExpr(expr.New(root))
	}
	return out
}

// restoreSnapshots puts every dependent back where a relocation found it
func (wb *Workbook) restoreSnapshots(snaps []depSnapshot, names []nameSnapshot) {
	for _, snap := range snaps {
		snap.d.Unlink()
		if c, ok := snap.d.owner.(*Cell); ok && snap.d.kind == KindCell && c.sheet != nil && c.sheet.cells.get(c.pos) == c {
			c.sheet.cells.remove(c.pos)
		}
	}
	var dirty []*Dependent
	for _, snap := range snaps {
		d := snap.d
		setAnchor(d, snap.sheet, snap.pos)
		d.SetExpr(snap.expr)
		if c, ok := d.owner.(*Cell); ok && d.kind == KindCell {
			c.value = snap.value
			if !snap.stored {
				continue
			}
			c.sheet.cells.put(c)
		}
		d.Link()
		if d.expr != nil {
			dirty = append(dirty, d)
		}
	}
	for i := len(names) - 1; i >= 0; i-- {
		names[i].nm.SetExpr(names[i].expr)
	}
	queueRecalcList(dirty)
}
