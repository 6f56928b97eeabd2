package spreadsheet

import (
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// Cell is a stored cell of a sheet. a cell holding a formula is a dependent
// of its sheet; a cell holding a constant only has readers.
//
// value types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - nil: empty
//   - *value.Error: error values (#DIV/0!, #VALUE!, etc.)
//   - *value.Array: the result held by the corner of an array formula
type Cell struct {
	Dependent

	pos   expr.Pos
	value value.Value
}

func newCell(s *Sheet, p expr.Pos) *Cell {
	c := &Cell{pos: p}
	c.kind = KindCell
	c.owner = c
	c.sheet = s
	return c
}

// Position returns the cell's address on its sheet
func (c *Cell) Position() expr.Pos {
	return c.pos
}

// Value returns the last computed or entered value. the corner of an array
// formula reports its top-left element.
func (c *Cell) Value() value.Value {
	if arr, ok := c.value.(*value.Array); ok && c.expr.ArrayCorner() != nil {
		return arr.At(0, 0)
	}
	return c.value
}

// HasFormula reports whether the cell holds an expression
func (c *Cell) HasFormula() bool {
	return c.expr != nil
}

// Formula returns the formula text with a leading '=', or "" for constants.
// array cells show the formula of their corner in braces.
func (c *Cell) Formula() string {
	if c.expr == nil {
		return ""
	}
	if corner := c.expr.ArrayCorner(); corner != nil {
		return "{=" + expr.Format(corner.Expr, c.pos) + "}"
	}
	if elem := c.expr.ArrayElem(); elem != nil && c.sheet != nil {
		if owner := c.sheet.cells.get(c.pos.Offset(-elem.X, -elem.Y)); owner != nil && owner != c {
			return owner.Formula()
		}
	}
	return "=" + c.expr.String(c.pos)
}

func (c *Cell) isArrayMember() bool {
	return c.expr.ArrayCorner() != nil || c.expr.ArrayElem() != nil
}

// adoptExpr swaps the expression through the workbook's sharer. the old
// value stays until the next evaluation.
func (c *Cell) adoptExpr(e *expr.Expr) {
	if wb := c.workbook(); wb != nil && wb.sharer != nil {
		wb.sharer.release(c.expr)
		e = wb.sharer.share(e)
	}
	c.expr = e
}

// cellChanged marks the clean readers of the cell dirty and returns them
func cellChanged(d *Dependent) []*Dependent {
	c := d.owner.(*Cell)
	if d.sheet == nil || d.sheet.deps == nil {
		return nil
	}
	var out []*Dependent
	d.sheet.deps.forEachReader(c.pos, func(r *Dependent) {
		if r.flags&NeedsRecalc == 0 {
			r.flags |= NeedsRecalc
			out = append(out, r)
		}
	})
	return out
}

// eval recomputes the cell. a reentry while the cell is being calculated is
// a circular reference: without iteration it returns with the stale value,
// with iteration the first reentry makes this cell the driver of the cycle
// and the outer frame loops until the value settles. a zero iteration limit
// runs no rounds at all.
func (c *Cell) eval() {
	if c.expr == nil || !c.IsLinked() {
		return
	}
	wb := c.sheet.wb
	if c.flags&BeingCalculated != 0 {
		it := wb.settings.Iteration
		if it.Enabled && it.MaxIterations > 0 && wb.iterating == nil {
			c.flags |= BeingIterated
			wb.iterating = c
		}
		return
	}

	it := wb.settings.Iteration
	c.flags |= BeingCalculated
	for rounds := 0; ; {
		c.flags &^= BeingIterated
		if rounds > 0 && c.flags&HasDynamicDeps != 0 {
			c.clearDynamicDeps()
		}
		v := wb.evaluate(&c.Dependent)
		rounds++

		if c.flags&BeingIterated == 0 {
			c.store(v)
			break
		}

		wb.stats.IterationRounds++
		wb.metrics.iterated()
		diff := value.Diff(c.value, v)
		c.store(v)
		if wb.iterating == c {
			wb.iterating = nil
		}
		if diff <= it.Tolerance {
			break
		}
		if rounds >= it.MaxIterations {
			wb.logger.Debug("iteration did not converge",
				"cell", c.debugName(nil), "rounds", rounds, "diff", diff)
			break
		}
		// the cycle's members were cleaned by this round; dirty them again
		queueRecalcMain([]*Dependent{&c.Dependent})
	}
	c.flags &^= BeingCalculated | BeingIterated
	if wb.iterating == c {
		wb.iterating = nil
	}
}

// store keeps v as the cell's result and counts the change
func (c *Cell) store(v value.Value) {
	if v == nil {
		v = 0.0
	}
	if value.Equal(c.value, v) {
		return
	}
	c.value = v
	if wb := c.workbook(); wb != nil {
		wb.stats.Changed++
	}
}
