package spreadsheet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

func sheetNamed(t *testing.T, wb *Workbook, name string) *Sheet {
	t.Helper()
	s, ok := wb.Sheet(name)
	require.True(t, ok, name)
	return s
}

func assertRefError(t *testing.T, wb *Workbook, address string) {
	t.Helper()
	ve := value.AsError(mustGet(t, wb, address))
	if assert.NotNil(t, ve, "%s is not an error", address) {
		assert.Equal(t, value.ErrorCodeRef, ve.Code, address)
	}
}

func TestStructure_RemoveSheetRewritesReaders(t *testing.T) {
	wb := newTestWorkbook(t, "Sheet1", "Data")
	mustSet(t, wb, "Data!A1", 3)
	mustSet(t, wb, "Data!B1", "=A1+1")
	mustSet(t, wb, "A1", "=Data!A1*2")
	mustSet(t, wb, "A2", "=SUM(Data!A1:B1)")
	mustSet(t, wb, "A3", "=A1+1")
	wb.Recalc()
	require.Equal(t, 6.0, mustGet(t, wb, "A1"))
	require.Equal(t, 7.0, mustGet(t, wb, "A2"))

	data := sheetNamed(t, wb, "Data")
	require.NoError(t, wb.RemoveSheet(data))
	assert.True(t, data.IsDestroyed())
	assert.Equal(t, -1, data.Index())
	_, ok := wb.Sheet("Data")
	assert.False(t, ok)

	assert.Equal(t, "=#REF!*2", mustCell(t, wb, "A1").Formula())
	assert.Equal(t, "=SUM(#REF!)", mustCell(t, wb, "A2").Formula())
	assert.True(t, mustCell(t, wb, "A3").NeedsRecalc(), "readers of rewritten cells are dirty")
	wb.Recalc()
	assertRefError(t, wb, "A1")
	assertRefError(t, wb, "A2")
	assertRefError(t, wb, "A3")

	_, err := wb.Get("Data!A1")
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(wb.RemoveSheet(data)))
	assert.True(t, IsFailedPrecondition(data.SetValue(pos(t, "A1"), 1)))
	assert.Zero(t, wb.SanityCheck())
}

func TestStructure_RemoveSheetRewritesNames(t *testing.T) {
	wb := newTestWorkbook(t, "Sheet1", "Data")
	mustSet(t, wb, "Data!A1", 4)
	_, err := wb.DefineName("Rate", "Data!A1", nil)
	require.NoError(t, err)
	mustSet(t, wb, "A1", "=Rate*10")
	wb.Recalc()
	require.Equal(t, 40.0, mustGet(t, wb, "A1"))

	require.NoError(t, wb.RemoveSheet(sheetNamed(t, wb, "Data")))
	nm, ok := wb.Name("Rate", nil)
	require.True(t, ok)
	assert.Equal(t, "=#REF!", nm.Formula())
	assert.Equal(t, "=Rate*10", mustCell(t, wb, "A1").Formula(), "consumers keep the name")
	wb.Recalc()
	assertRefError(t, wb, "A1")
}

func TestStructure_DetachAndRevive(t *testing.T) {
	wb := newTestWorkbook(t, "Sheet1", "Data", "Other")
	mustSet(t, wb, "Data!A1", 3)
	mustSet(t, wb, "Data!B1", "=A1+1")
	mustSet(t, wb, "A1", "=Data!A1*2")
	mustSet(t, wb, "A2", "=Data!B1")
	wb.Recalc()
	before := indexSnapshot(wb)

	data := sheetNamed(t, wb, "Data")
	u, err := wb.DetachSheet(data)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.False(t, data.IsDestroyed(), "a detached sheet keeps its contents")
	assert.Equal(t, []string{"Sheet1", "Other"}, sheetNames(wb))
	assert.Equal(t, "=#REF!*2", mustCell(t, wb, "A1").Formula())
	wb.Recalc()
	assertRefError(t, wb, "A1")
	assertRefError(t, wb, "A2")
	assert.Zero(t, wb.SanityCheck())

	u.Undo()
	assert.Equal(t, []string{"Sheet1", "Data", "Other"}, sheetNames(wb))
	assert.Equal(t, "=Data!A1*2", mustCell(t, wb, "A1").Formula())
	assert.Equal(t, before, indexSnapshot(wb))
	wb.Recalc()
	assert.Equal(t, 6.0, mustGet(t, wb, "A1"))
	assert.Equal(t, 4.0, mustGet(t, wb, "A2"))

	mustSet(t, wb, "Data!A1", 10)
	wb.Recalc()
	assert.Equal(t, 11.0, mustGet(t, wb, "Data!B1"), "the revived sheet's own formulas are linked again")
	assert.Equal(t, 20.0, mustGet(t, wb, "A1"))
	assert.Equal(t, 11.0, mustGet(t, wb, "A2"))
	assert.Zero(t, wb.SanityCheck())

	t.Run("revive errors", func(t *testing.T) {
		assert.True(t, IsAlreadyExists(wb.ReviveSheet(data, 0)))
		other := newTestWorkbook(t)
		assert.True(t, IsFailedPrecondition(other.ReviveSheet(data, 0)))
	})
}

func TestStructure_ReviveIntoTakenName(t *testing.T) {
	wb := newTestWorkbook(t, "Sheet1", "Data")
	data := sheetNamed(t, wb, "Data")
	_, err := wb.DetachSheet(data)
	require.NoError(t, err)
	_, err = wb.AddSheet("data")
	require.NoError(t, err)
	assert.True(t, IsAlreadyExists(wb.ReviveSheet(data, 1)))
}

func sheetNames(wb *Workbook) []string {
	var out []string
	for _, s := range wb.Sheets() {
		out = append(out, s.Name())
	}
	return out
}

func TestStructure_ThreeDimensionalRanges(t *testing.T) {
	wb := newTestWorkbook(t, "Jan", "Feb", "Mar", "Total")
	for i, name := range []string{"Jan", "Feb", "Mar", "Total"} {
		mustSet(t, wb, name+"!A1", i+1)
	}
	mustSet(t, wb, "Total!B1", "=SUM(Jan:Mar!A1)")
	wb.Recalc()
	assert.Equal(t, 6.0, mustGet(t, wb, "Total!B1"))

	b1 := mustCell(t, wb, "Total!B1")
	assert.NotZero(t, b1.Flags()&Has3D)
	assert.Contains(t, wb.sheetOrderDeps, &b1.Dependent)
	for _, name := range []string{"Jan", "Feb", "Mar"} {
		assert.Equal(t, []string{"Total!B1"}, readersOf(t, wb, name+"!A1"), name)
	}

	var buf bytes.Buffer
	require.NoError(t, wb.Dump(&buf))
	assert.Contains(t, buf.String(), "3d\n  Total!B1\n")

	t.Run("moving a sheet into the span", func(t *testing.T) {
		require.NoError(t, wb.MoveSheet(sheetNamed(t, wb, "Mar"), 3))
		assert.Equal(t, []string{"Jan", "Feb", "Total", "Mar"}, sheetNames(wb))
		assert.True(t, b1.NeedsRecalc())
		wb.Recalc()
		assert.Equal(t, 10.0, mustGet(t, wb, "Total!B1"))
		assert.Equal(t, []string{"Total!B1"}, readersOf(t, wb, "Total!A1"))

		mustSet(t, wb, "Total!A1", 40)
		wb.Recalc()
		assert.Equal(t, 46.0, mustGet(t, wb, "Total!B1"))
		assert.Zero(t, wb.SanityCheck())
	})

	t.Run("moving a sheet out of the span", func(t *testing.T) {
		require.NoError(t, wb.MoveSheet(sheetNamed(t, wb, "Jan"), 2))
		assert.Equal(t, []string{"Feb", "Total", "Jan", "Mar"}, sheetNames(wb))
		wb.Recalc()
		assert.Equal(t, 4.0, mustGet(t, wb, "Total!B1"))
		assert.Empty(t, readersOf(t, wb, "Feb!A1"))
		assert.Empty(t, readersOf(t, wb, "Total!A1"))

		mustSet(t, wb, "Feb!A1", 100)
		assert.False(t, b1.NeedsRecalc())
	})

	t.Run("move errors", func(t *testing.T) {
		assert.Equal(t, OutOfRange, ErrorCodeOf(wb.MoveSheet(sheetNamed(t, wb, "Jan"), 9)))
		assert.NoError(t, wb.MoveSheet(sheetNamed(t, wb, "Jan"), 2))
	})
}

func TestStructure_RemoveSheetInsideSpan(t *testing.T) {
	wb := newTestWorkbook(t, "Jan", "Feb", "Mar", "Total")
	for i, name := range []string{"Jan", "Feb", "Mar"} {
		mustSet(t, wb, name+"!A1", i+1)
	}
	mustSet(t, wb, "Total!B1", "=SUM(Jan:Mar!A1)")
	wb.Recalc()

	require.NoError(t, wb.RemoveSheet(sheetNamed(t, wb, "Feb")))
	assert.Equal(t, "=SUM(Jan:Mar!A1:A1)", mustCell(t, wb, "Total!B1").Formula())
	wb.Recalc()
	assert.Equal(t, 4.0, mustGet(t, wb, "Total!B1"))

	require.NoError(t, wb.RemoveSheet(sheetNamed(t, wb, "Jan")))
	assert.Equal(t, "=SUM(#REF!)", mustCell(t, wb, "Total!B1").Formula())
	wb.Recalc()
	assertRefError(t, wb, "Total!B1")
	assert.Empty(t, wb.sheetOrderDeps)
	assert.Zero(t, wb.SanityCheck())
}

func TestStructure_RenameSheetKeepsReferences(t *testing.T) {
	tc := NewWorkbookTestCase(t, "rename").
		AddSheet("Data").
		Set("Data!A1", 2).
		Set("A1", "=Data!A1*3").
		Do(func(wb *Workbook) error {
			s, _ := wb.Sheet("Data")
			return wb.RenameSheet(s, "My Data")
		}).
		Set("'My Data'!A1", 5).
		AssertCellEq("A1", 15)

	wb := tc.Workbook()
	assert.Equal(t, "='My Data'!A1*3", mustCell(t, wb, "A1").Formula())
	assert.True(t, IsAlreadyExists(wb.RenameSheet(tc.Sheet("My Data"), "sheet1")))
	assert.True(t, IsInvalidArgument(wb.RenameSheet(tc.Sheet("My Data"), "a/b")))
}

func TestStructure_DestroyWorkbook(t *testing.T) {
	wb := newTestWorkbook(t, "Sheet1", "Data")
	mustSet(t, wb, "Data!A1", 1)
	mustSet(t, wb, "A1", "=Data!A1+1")
	mustSet(t, wb, "A2", "=SUM(Sheet1:Data!B1)")
	_, err := wb.DefineName("Total", "Sheet1!A1", nil)
	require.NoError(t, err)
	wb.Recalc()

	sheets := wb.Sheets()
	wb.DestroyWorkbook()
	for _, s := range sheets {
		assert.True(t, s.IsDestroyed(), s.Name())
	}
	assert.Empty(t, wb.sheetOrderDeps)
	assert.Equal(t, "=Data!A1+1", mustCellOf(t, sheets[0], "A1").Formula(), "nothing is rewritten on teardown")

	assert.True(t, IsFailedPrecondition(wb.Set("A1", 1)))
	_, err = wb.AddSheet("New")
	assert.True(t, IsFailedPrecondition(err))
	_, err = wb.DefineName("X", "1", nil)
	assert.True(t, IsFailedPrecondition(err))
	wb.Recalc()
	wb.DestroyWorkbook()
}

func mustCellOf(t *testing.T, s *Sheet, a1 string) *Cell {
	t.Helper()
	c := s.Cell(pos(t, a1))
	require.NotNil(t, c, a1)
	return c
}

func TestStructure_Interbook(t *testing.T) {
	src := newTestWorkbook(t, "Src")
	mustSet(t, src, "Src!A1", 21)
	dst := newTestWorkbook(t)

	e, err := expr.Parse("=Src!A1*2", src.parseContext(nil, pos(t, "B2")))
	require.NoError(t, err)
	require.NoError(t, dst.sheets[0].SetCellExpr(pos(t, "B2"), e))
	dst.Recalc()
	assert.Equal(t, 42.0, mustGet(t, dst, "B2"))

	b2 := mustCell(t, dst, "B2")
	assert.NotZero(t, b2.Flags()&GoesInterbook)
	assert.Equal(t, []string{"Sheet1!B2"}, readersOf(t, src, "Src!A1"))

	mustSet(t, src, "Src!A1", 5)
	assert.True(t, b2.NeedsRecalc(), "edits reach readers in other workbooks")
	dst.Recalc()
	assert.Equal(t, 10.0, mustGet(t, dst, "B2"))

	require.NoError(t, dst.Remove("B2"))
	assert.Empty(t, readersOf(t, src, "Src!A1"))
}

func TestStructure_DestroyWorkbookRewritesOtherWorkbooks(t *testing.T) {
	src := newTestWorkbook(t, "Src")
	mustSet(t, src, "Src!A1", 21)
	mustSet(t, src, "Src!A2", "=A1+1")
	dst := newTestWorkbook(t)

	e, err := expr.Parse("=Src!A1*2", src.parseContext(nil, pos(t, "B2")))
	require.NoError(t, err)
	require.NoError(t, dst.sheets[0].SetCellExpr(pos(t, "B2"), e))
	mustSet(t, dst, "B3", "=B2+1")
	src.Recalc()
	dst.Recalc()
	require.Equal(t, 42.0, mustGet(t, dst, "B2"))

	src.DestroyWorkbook()

	b2 := mustCell(t, dst, "B2")
	assert.Equal(t, "=#REF!*2", b2.Formula())
	assert.True(t, b2.NeedsRecalc())
	assert.True(t, mustCell(t, dst, "B3").NeedsRecalc(), "readers of the rewritten cell")
	assert.Zero(t, b2.Flags()&GoesInterbook)

	dst.Recalc()
	assertRefError(t, dst, "B2")
	assertRefError(t, dst, "B3")
	assert.Zero(t, dst.SanityCheck())
}
