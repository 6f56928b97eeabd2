package spreadsheet

import (
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// StyleDep is a conditional style expression anchored at one cell. when
// anything it reads changes, the cached result is dropped and the owner is
// told through onInvalidate so it can re-render the cell.
type StyleDep struct {
	Dependent

	pos          expr.Pos
	onInvalidate func(*StyleDep)

	cached value.Value
	valid  bool
}

// NewStyleDep parses text as a condition entered at pos on s and links it
func NewStyleDep(s *Sheet, pos expr.Pos, text string, onInvalidate func(*StyleDep)) (*StyleDep, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if !s.inBounds(pos) {
		return nil, newAppErrorf(OutOfRange, "%s is outside the sheet", pos)
	}
	e, err := expr.Parse(text, s.wb.parseContext(s, pos))
	if err != nil {
		return nil, wrapAppError(InvalidArgument, err, "invalid style condition at "+pos.String())
	}
	sd := &StyleDep{pos: pos, onInvalidate: onInvalidate}
	sd.kind = KindStyle
	sd.owner = sd
	sd.sheet = s
	sd.Dependent.SetExpr(e)
	sd.Link()
	return sd, nil
}

// Position returns the cell the style applies to
func (sd *StyleDep) Position() expr.Pos { return sd.pos }

// eval drops the cached result. the change counts toward the redraw Recalc
// requests.
func (sd *StyleDep) eval() {
	sd.valid = false
	sd.cached = nil
	if wb := sd.workbook(); wb != nil {
		wb.stats.Changed++
	}
	if sd.onInvalidate != nil {
		sd.onInvalidate(sd)
	}
}

// Value returns the condition's result, computing it on first use after
// an invalidation
func (sd *StyleDep) Value() value.Value {
	if sd.valid || sd.expr == nil || sd.sheet == nil || sd.sheet.deps == nil {
		return sd.cached
	}
	if sd.flags&HasDynamicDeps != 0 {
		sd.clearDynamicDeps()
	}
	sd.flags |= BeingCalculated
	sd.cached = sd.sheet.wb.evaluate(&sd.Dependent)
	sd.flags &^= BeingCalculated
	sd.valid = true
	return sd.cached
}

// Active reports whether the condition holds
func (sd *StyleDep) Active() bool {
	return value.IsTruthy(sd.Value())
}

// Remove unlinks the condition for good
func (sd *StyleDep) Remove() {
	sd.Unlink()
	sd.Dependent.SetExpr(nil)
}
