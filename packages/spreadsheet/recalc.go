package spreadsheet

import (
	"time"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
)

// drainPending marks the readers of every dependent queued by a deferred
// MarkDirty
func (wb *Workbook) drainPending() {
	for len(wb.pending) > 0 {
		pending := wb.pending
		wb.pending = nil
		for _, d := range pending {
			d.flags &^= Queued
			queueRecalcMain([]*Dependent{d})
		}
	}
}

// Recalc evaluates every dirty dependent, sheet by sheet in creation order.
// dependents evaluated on demand by an earlier one are skipped. the redraw
// callback runs once if any value changed.
func (wb *Workbook) Recalc() {
	wb.recalc("incremental")
}

func (wb *Workbook) recalc(kind string) {
	if wb.destroyed {
		return
	}
	start := time.Now()
	wb.drainPending()
	before := wb.stats
	for _, s := range wb.sheets {
		if s.deps == nil {
			continue
		}
		s.deps.forEach(func(d *Dependent) {
			if d.NeedsRecalc() {
				d.Eval()
			}
		})
	}
	elapsed := time.Since(start)
	changed := wb.stats.Changed - before.Changed
	if changed > 0 {
		wb.stats.Redraws++
		if wb.redraw != nil {
			wb.redraw()
		}
	}
	wb.metrics.observeRecalc(kind, elapsed)
	wb.logger.Debug("recalc",
		"kind", kind,
		"evaluations", wb.stats.Evaluations-before.Evaluations,
		"changed", changed,
		"duration", elapsed)
}

// QueueAllRecalc marks every linked dependent of the workbook dirty
func (wb *Workbook) QueueAllRecalc() {
	for _, s := range wb.sheets {
		if s.deps == nil {
			continue
		}
		s.deps.forEach(func(d *Dependent) { d.flags |= NeedsRecalc })
	}
}

// RecalcAll recomputes every dependent of the workbook
func (wb *Workbook) RecalcAll() {
	if wb.destroyed {
		return
	}
	wb.QueueAllRecalc()
	wb.recalc("full")
}

// QueueVolatileRecalc marks every dependent calling a volatile function
// dirty, along with everything that reads it
func (wb *Workbook) QueueVolatileRecalc() {
	var volatile []*Dependent
	for _, s := range wb.sheets {
		if s.deps == nil {
			continue
		}
		s.deps.forEach(func(d *Dependent) {
			if d.expr.CallsAny(wb.isVolatile) {
				volatile = append(volatile, d)
			}
		})
	}
	queueRecalcList(volatile)
}

// InvalidateRegion marks dirty the dependents anchored inside r and every
// dependent recorded as reading a cell of the region, with their readers.
// a nil r is the whole sheet.
func (s *Sheet) InvalidateRegion(r *expr.Range) {
	if s.deps == nil {
		return
	}
	var work []*Dependent
	mark := func(d *Dependent) {
		if d.flags&NeedsRecalc == 0 {
			d.flags |= NeedsRecalc
			work = append(work, d)
		}
	}

	switch {
	case r == nil:
		s.deps.forEach(mark)
	default:
		for _, c := range s.cells.cellsIn(*r) {
			if c.IsLinked() {
				mark(&c.Dependent)
			}
		}
		if s.deps.others > 0 {
			s.deps.forEach(func(d *Dependent) {
				if p, ok := d.Pos(); ok && d.kind != KindCell && r.Contains(p) {
					mark(d)
				}
			})
		}
	}

	first, last := 0, len(s.deps.rangeHash)-1
	if r != nil {
		first = bucketOf(r.Start.Row)
		last = min(last, bucketOf(r.End.Row))
	}
	visit := func(d *Dependent) bool {
		mark(d)
		return true
	}
	for i := first; i <= last; i++ {
		for _, e := range s.deps.rangeHash[i] {
			if r == nil || e.rng.Overlaps(*r) {
				e.deps.ForEach(visit)
			}
		}
	}
	if r != nil && r.Width()*r.Height() < len(s.deps.singleHash) {
		for row := r.Start.Row; row <= r.End.Row; row++ {
			for col := r.Start.Col; col <= r.End.Col; col++ {
				if e := s.deps.singleHash[expr.Pos{Col: col, Row: row}]; e != nil {
					e.deps.ForEach(visit)
				}
			}
		}
	} else {
		for p, e := range s.deps.singleHash {
			if r == nil || r.Contains(p) {
				e.deps.ForEach(visit)
			}
		}
	}
	queueRecalcMain(work)
}
