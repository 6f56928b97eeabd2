package spreadsheet

import (
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// ManagedDep is an expression owned by something outside the grid, such as
// a validation rule or a chart series. it is linked whenever it has both an
// expression and a sheet, so owners never call Link themselves. moving it
// with SetSheet relinks it on the new sheet.
type ManagedDep struct {
	Dependent
}

// NewManagedDep parses text on s and returns a linked dependent
func NewManagedDep(s *Sheet, text string) (*ManagedDep, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	e, err := expr.Parse(text, s.wb.parseContext(s, expr.Pos{}))
	if err != nil {
		return nil, wrapAppError(InvalidArgument, err, "invalid managed expression")
	}
	m := &ManagedDep{}
	m.kind = KindManaged
	m.owner = m
	m.SetSheet(s)
	m.SetExpr(e)
	return m, nil
}

// SetExpr replaces the expression and relinks
func (m *ManagedDep) SetExpr(e *expr.Expr) {
	m.Dependent.SetExpr(e)
	if e != nil && m.sheet != nil {
		m.Link()
	}
}

// Value evaluates the expression now. managed dependents keep no result of
// their own; NeedsRecalc tells the owner whether a read is due.
func (m *ManagedDep) Value() value.Value {
	if m.expr == nil || m.sheet == nil || m.sheet.deps == nil {
		return nil
	}
	if m.flags&HasDynamicDeps != 0 {
		m.clearDynamicDeps()
	}
	m.flags |= BeingCalculated
	v := m.sheet.wb.evaluate(&m.Dependent)
	m.flags &^= BeingCalculated | NeedsRecalc
	return v
}
