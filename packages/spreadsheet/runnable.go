package spreadsheet

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// RunnableWorkbook provides a chainable interface for workbook operations.
// it wraps a Workbook and keeps the first error; every step after a failure
// is a no-op.
type RunnableWorkbook struct {
	wb      *Workbook
	err     error
	printLn func(string)
}

// NewRunnableWorkbook creates a workbook with one sheet per name. printLn
// receives the output of Log and CheckError.
func NewRunnableWorkbook(printLn func(string), sheets []string, opts ...Option) *RunnableWorkbook {
	r := &RunnableWorkbook{wb: NewWorkbook(opts...), printLn: printLn}
	for _, name := range sheets {
		r.AddSheet(name)
	}
	return r
}

// Set enters a value or formula (chainable)
func (r *RunnableWorkbook) Set(address string, input any) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	r.err = r.wb.Set(address, input)
	return r
}

// SetBatch enters several cells in address order (chainable)
func (r *RunnableWorkbook) SetBatch(cells map[string]any) *RunnableWorkbook {
	for _, address := range slices.Sorted(maps.Keys(cells)) {
		if r.Set(address, cells[address]); r.err != nil {
			break
		}
	}
	return r
}

// SetArray enters an array formula over rng, e.g. "Sheet1!A1:B2" (chainable)
func (r *RunnableWorkbook) SetArray(rng, formula string) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	s, area, err := r.wb.resolveRange(rng)
	if err != nil {
		r.err = err
		return r
	}
	r.err = s.SetArrayFormula(area, formula)
	return r
}

// Remove clears a cell (chainable)
func (r *RunnableWorkbook) Remove(address string) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	r.err = r.wb.Remove(address)
	return r
}

// AddSheet appends a sheet (chainable)
func (r *RunnableWorkbook) AddSheet(name string) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	_, r.err = r.wb.AddSheet(name)
	return r
}

// WithSheet adds the sheet unless it exists (chainable)
func (r *RunnableWorkbook) WithSheet(name string) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	if _, ok := r.wb.Sheet(name); !ok {
		_, r.err = r.wb.AddSheet(name)
	}
	return r
}

// RemoveSheet destroys a sheet (chainable)
func (r *RunnableWorkbook) RemoveSheet(name string) *RunnableWorkbook {
	return r.withSheet(name, r.wb.RemoveSheet)
}

// RenameSheet renames a sheet (chainable)
func (r *RunnableWorkbook) RenameSheet(oldName, newName string) *RunnableWorkbook {
	return r.withSheet(oldName, func(s *Sheet) error { return r.wb.RenameSheet(s, newName) })
}

// MoveSheet moves a sheet to index (chainable)
func (r *RunnableWorkbook) MoveSheet(name string, index int) *RunnableWorkbook {
	return r.withSheet(name, func(s *Sheet) error { return r.wb.MoveSheet(s, index) })
}

// InsertRows inserts rows into a sheet (chainable)
func (r *RunnableWorkbook) InsertRows(sheet string, index, count int) *RunnableWorkbook {
	return r.withSheet(sheet, func(s *Sheet) error {
		_, err := s.InsertRows(index, count)
		return err
	})
}

// DeleteRows deletes rows of a sheet (chainable)
func (r *RunnableWorkbook) DeleteRows(sheet string, index, count int) *RunnableWorkbook {
	return r.withSheet(sheet, func(s *Sheet) error {
		_, err := s.DeleteRows(index, count)
		return err
	})
}

// InsertCols inserts columns into a sheet (chainable)
func (r *RunnableWorkbook) InsertCols(sheet string, index, count int) *RunnableWorkbook {
	return r.withSheet(sheet, func(s *Sheet) error {
		_, err := s.InsertCols(index, count)
		return err
	})
}

// DeleteCols deletes columns of a sheet (chainable)
func (r *RunnableWorkbook) DeleteCols(sheet string, index, count int) *RunnableWorkbook {
	return r.withSheet(sheet, func(s *Sheet) error {
		_, err := s.DeleteCols(index, count)
		return err
	})
}

func (r *RunnableWorkbook) withSheet(name string, fn func(*Sheet) error) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	s, ok := r.wb.Sheet(name)
	if !ok {
		r.err = newAppErrorf(NotFound, "sheet %q not found", name)
		return r
	}
	r.err = fn(s)
	return r
}

// DefineName defines a workbook-scoped name (chainable)
func (r *RunnableWorkbook) DefineName(name, formula string) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	_, r.err = r.wb.DefineName(name, formula, nil)
	return r
}

// DefineSheetName defines a name local to a sheet (chainable)
func (r *RunnableWorkbook) DefineSheetName(sheet, name, formula string) *RunnableWorkbook {
	return r.withSheet(sheet, func(s *Sheet) error {
		_, err := r.wb.DefineName(name, formula, s)
		return err
	})
}

// RemoveName removes a workbook-scoped name (chainable)
func (r *RunnableWorkbook) RemoveName(name string) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	r.err = r.wb.RemoveName(name, nil)
	return r
}

// Calculate recomputes volatile and dirty formulas (chainable)
func (r *RunnableWorkbook) Calculate() *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	r.err = r.wb.Calculate()
	return r
}

// Run runs a final calculation and returns the workbook. typically the last
// method in the chain
func (r *RunnableWorkbook) Run() (*Workbook, error) {
	if r.Calculate(); r.err != nil {
		return nil, r.err
	}
	return r.wb, nil
}

// RunOrPanic is Run for examples and tests that want to fail fast
func (r *RunnableWorkbook) RunOrPanic() *Workbook {
	wb, err := r.Run()
	if err != nil {
		panic(err)
	}
	return wb
}

// Error returns the current error state
func (r *RunnableWorkbook) Error() error {
	return r.err
}

// Workbook returns the wrapped workbook. use with caution as it bypasses
// error tracking.
func (r *RunnableWorkbook) Workbook() *Workbook {
	return r.wb
}

// Reset clears the error state (chainable)
func (r *RunnableWorkbook) Reset() *RunnableWorkbook {
	r.err = nil
	return r
}

// Then runs fn unless there is an error
func (r *RunnableWorkbook) Then(fn func(*RunnableWorkbook) *RunnableWorkbook) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	return fn(r)
}

// OnError lets fn replace or clear the current error
func (r *RunnableWorkbook) OnError(fn func(error) error) *RunnableWorkbook {
	if r.err != nil {
		r.err = fn(r.err)
	}
	return r
}

// Must panics if there's an error (chainable)
func (r *RunnableWorkbook) Must() *RunnableWorkbook {
	if r.err != nil {
		panic(r.err)
	}
	return r
}

// CheckError prints the current error state (chainable)
func (r *RunnableWorkbook) CheckError() *RunnableWorkbook {
	if r.err != nil {
		r.printLn(fmt.Sprintf("ERROR: %v", r.err))
	} else {
		r.printLn("No errors")
	}
	return r
}

// Value returns the value of one cell, recording any error
func (r *RunnableWorkbook) Value(address string) value.Value {
	if r.err != nil {
		return nil
	}
	v, err := r.wb.Get(address)
	if err != nil {
		r.err = err
		return nil
	}
	return v
}

// Values returns the values of several cells
func (r *RunnableWorkbook) Values(addresses ...string) []value.Value {
	out := make([]value.Value, len(addresses))
	for i, address := range addresses {
		out[i] = r.Value(address)
		if r.err != nil {
			return nil
		}
	}
	return out
}

// Log prints the value of a cell (chainable)
func (r *RunnableWorkbook) Log(address string) *RunnableWorkbook {
	v := r.Value(address)
	if r.err != nil {
		return r
	}
	if v == nil {
		r.printLn(fmt.Sprintf("%s: <empty>", address))
	} else {
		r.printLn(fmt.Sprintf("%s: %s", address, value.ToString(v)))
	}
	return r
}

// Dump writes the dependency indices to w (chainable)
func (r *RunnableWorkbook) Dump(w io.Writer) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	r.err = r.wb.Dump(w)
	return r
}

// resolveRange splits "Sheet!A1:B2" into a sheet and a rectangle
func (wb *Workbook) resolveRange(address string) (*Sheet, expr.Range, error) {
	sheetPart, rangePart := "", address
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '!' {
			sheetPart, rangePart = address[:i+1], address[i+1:]
			break
		}
	}
	r, err := expr.ParseRange(rangePart)
	if err != nil {
		return nil, expr.Range{}, wrapAppError(InvalidArgument, err, "invalid range "+address)
	}
	s, _, err := wb.resolveAddress(sheetPart + r.Start.String())
	if err != nil {
		return nil, expr.Range{}, err
	}
	if !s.inBounds(r.End) {
		return nil, expr.Range{}, newAppErrorf(OutOfRange, "range %s is outside the sheet", address)
	}
	return s, r.Normalize(), nil
}
