package spreadsheet

import (
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/undo"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

const (
	DefaultMaxCols = 16384
	DefaultMaxRows = 1048576
)

// Sheet is one grid of a workbook. it owns its cells, the dependency
// indices recording who reads them, and its local names.
type Sheet struct {
	wb    *Workbook
	name  string
	index int

	maxCols int
	maxRows int

	cells *cellStore
	deps  *DepContainer
	names *nameTable

	beingInvalidated bool
	// revive undoes the last non-destructive invalidation
	revive *undo.Group
}

func newSheet(wb *Workbook, name string, index int) *Sheet {
	s := &Sheet{
		wb:      wb,
		name:    name,
		index:   index,
		maxCols: DefaultMaxCols,
		maxRows: DefaultMaxRows,
		cells:   newCellStore(),
		names:   newNameTable(),
	}
	s.deps = newDepContainer(s, s.maxRows)
	return s
}

// SheetName implements expr.Sheet
func (s *Sheet) SheetName() string { return s.name }

func (s *Sheet) Name() string          { return s.name }
func (s *Sheet) Workbook() *Workbook   { return s.wb }
func (s *Sheet) Deps() *DepContainer   { return s.deps }
func (s *Sheet) MaxCols() int          { return s.maxCols }
func (s *Sheet) MaxRows() int          { return s.maxRows }
func (s *Sheet) Index() int            { return s.wb.sheetIndex(s) }
func (s *Sheet) Names() []*Name        { return s.names.sorted() }
func (s *Sheet) IsDestroyed() bool     { return s.deps == nil }
func (s *Sheet) Cell(p expr.Pos) *Cell { return s.cells.get(p) }
func (s *Sheet) CellCount() int        { return s.cells.len() }
func (s *Sheet) Cells() []*Cell        { return s.cells.all() }
func (s *Sheet) inBounds(p expr.Pos) bool {
	return p.Col >= 0 && p.Row >= 0 && p.Col < s.maxCols && p.Row < s.maxRows
}

// Value returns the stored value of a cell without evaluating it
func (s *Sheet) Value(p expr.Pos) value.Value {
	if c := s.cells.get(p); c != nil {
		return c.Value()
	}
	return nil
}

func (s *Sheet) checkAlive() error {
	if err := s.wb.checkAlive(); err != nil {
		return err
	}
	if s.deps == nil {
		return newAppErrorf(FailedPrecondition, "sheet %q has been destroyed", s.name)
	}
	return nil
}

// checkEditable rejects edits of single cells of an array formula
func (s *Sheet) checkEditable(p expr.Pos) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	if !s.inBounds(p) {
		return newAppErrorf(OutOfRange, "%s is outside the sheet", p)
	}
	if c := s.cells.get(p); c != nil && c.isArrayMember() {
		return newAppErrorf(FailedPrecondition, "cannot change part of an array at %s", p)
	}
	return nil
}

// normalizeInput converts an entered value to a cell value
func normalizeInput(input any) (value.Value, error) {
	switch v := input.(type) {
	case nil, float64, string, bool, *value.Error:
		return v, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case float32:
		return float64(v), nil
	}
	return nil, newAppErrorf(InvalidArgument, "unsupported value type %T", input)
}

func (s *Sheet) cellAt(p expr.Pos) *Cell {
	c := s.cells.get(p)
	if c == nil {
		c = newCell(s, p)
		s.cells.put(c)
	}
	return c
}

// SetValue stores a constant, dropping any formula, and marks the cells
// that read it dirty
func (s *Sheet) SetValue(p expr.Pos, input any) error {
	if err := s.checkEditable(p); err != nil {
		return err
	}
	v, err := normalizeInput(input)
	if err != nil {
		return err
	}
	c := s.cells.get(p)
	if c == nil {
		if v == nil {
			return nil
		}
		c = s.cellAt(p)
	}
	s.storeConstant(c, v)
	return nil
}

func (s *Sheet) storeConstant(c *Cell, v value.Value) {
	if c.expr != nil {
		c.SetExpr(nil)
	}
	// a constant has nothing left to compute
	c.flags &^= NeedsRecalc
	c.value = v
	c.MarkDirty()
	if v == nil {
		s.cells.remove(c.pos)
	}
}

// SetFormula parses text as a formula entered at p and stores it
func (s *Sheet) SetFormula(p expr.Pos, text string) error {
	if err := s.checkEditable(p); err != nil {
		return err
	}
	e, err := expr.Parse(text, s.wb.parseContext(s, p))
	if err != nil {
		return wrapAppError(InvalidArgument, err, "invalid formula at "+p.String())
	}
	return s.SetCellExpr(p, e)
}

// SetCellExpr stores an already built expression at p. references in e may
// point into other workbooks.
func (s *Sheet) SetCellExpr(p expr.Pos, e *expr.Expr) error {
	if err := s.checkEditable(p); err != nil {
		return err
	}
	if e == nil {
		return s.SetValue(p, nil)
	}
	s.setCellExpr(s.cellAt(p), e)
	return nil
}

// setCellExpr replaces the expression of c and links the new one
func (s *Sheet) setCellExpr(c *Cell, e *expr.Expr) {
	c.SetExpr(e)
	c.Link()
}

// SetArrayFormula enters text as an array formula over r. the top-left cell
// computes the whole result; every other cell reads its element.
func (s *Sheet) SetArrayFormula(r expr.Range, text string) error {
	r = r.Normalize()
	for row := r.Start.Row; row <= r.End.Row; row++ {
		for col := r.Start.Col; col <= r.End.Col; col++ {
			if err := s.checkEditable(expr.Pos{Col: col, Row: row}); err != nil {
				return err
			}
		}
	}
	inner, err := expr.ParseNode(text, s.wb.parseContext(s, r.Start))
	if err != nil {
		return wrapAppError(InvalidArgument, err, "invalid array formula at "+r.String())
	}
	s.setCellExpr(s.cellAt(r.Start), expr.New(&expr.ArrayCornerNode{
		Cols: r.Width(),
		Rows: r.Height(),
		Expr: inner,
	}))
	for y := range r.Height() {
		for x := range r.Width() {
			if x == 0 && y == 0 {
				continue
			}
			elem := expr.New(&expr.ArrayElemNode{X: x, Y: y})
			s.setCellExpr(s.cellAt(r.Start.Offset(x, y)), elem)
		}
	}
	return nil
}

// arrayBounds returns the rectangle of the array formula c belongs to
func (s *Sheet) arrayBounds(c *Cell) (expr.Range, bool) {
	corner := c
	if elem := c.expr.ArrayElem(); elem != nil {
		corner = s.cells.get(c.pos.Offset(-elem.X, -elem.Y))
	}
	if corner == nil {
		return expr.Range{}, false
	}
	cn := corner.expr.ArrayCorner()
	if cn == nil {
		return expr.Range{}, false
	}
	return expr.NewRange(corner.pos.Col, corner.pos.Row,
		corner.pos.Col+cn.Cols-1, corner.pos.Row+cn.Rows-1), true
}

// ClearCell empties a cell. clearing any cell of an array formula clears
// the whole array.
func (s *Sheet) ClearCell(p expr.Pos) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	c := s.cells.get(p)
	if c == nil {
		return nil
	}
	if c.isArrayMember() {
		if r, ok := s.arrayBounds(c); ok {
			for _, member := range s.cells.cellsIn(r) {
				s.storeConstant(member, nil)
			}
			return nil
		}
	}
	s.storeConstant(c, nil)
	return nil
}

// Resize changes the bounds of the sheet. cells outside the new bounds are
// cleared. when the number of range buckets changes every dependent of the
// workbook is relinked so that no range edge is clipped to the old size.
func (s *Sheet) Resize(cols, rows int) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	if cols < 1 || rows < 1 {
		return newAppErrorf(InvalidArgument, "invalid sheet size %dx%d", cols, rows)
	}
	for _, c := range s.cells.all() {
		if c.pos.Col >= cols || c.pos.Row >= rows {
			s.storeConstant(c, nil)
		}
	}
	rebucket := bucketCount(rows) != s.deps.Buckets()
	var linked []*Dependent
	if rebucket {
		for _, sh := range s.wb.sheets {
			if sh.deps == nil {
				continue
			}
			for _, d := range sh.deps.Dependents() {
				d.Unlink()
				linked = append(linked, d)
			}
		}
	}
	s.maxCols, s.maxRows = cols, rows
	s.deps.resize(rows)
	for _, d := range linked {
		d.Link()
	}
	queueRecalcList(linked)
	s.wb.logger.Debug("resized sheet", "sheet", s.name, "cols", cols, "rows", rows, "relinked", len(linked))
	return nil
}
