package spreadsheet

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

func TestDynamic_IndirectFollowsItsTarget(t *testing.T) {
	wb := newTestWorkbook(t)
	mustSet(t, wb, "A1", 5)
	mustSet(t, wb, "A2", 100)
	mustSet(t, wb, "B1", "A1")
	mustSet(t, wb, "C1", "=INDIRECT(B1)*2")
	wb.Recalc()
	assert.Equal(t, 10.0, mustGet(t, wb, "C1"))

	c1 := mustCell(t, wb, "C1")
	assert.NotZero(t, c1.Flags()&HasDynamicDeps)
	assert.Equal(t, []string{"Sheet1!DynamicDep(C1)"}, readersOf(t, wb, "A1"))
	assert.Equal(t, []string{"Sheet1!C1"}, readersOf(t, wb, "B1"))
	assert.Equal(t, 1, wb.sheets[0].deps.Stats().DynamicDeps)

	mustSet(t, wb, "A1", 7)
	assert.True(t, c1.NeedsRecalc(), "a change to the target reaches the container")
	wb.Recalc()
	assert.Equal(t, 14.0, mustGet(t, wb, "C1"))

	t.Run("retargeting moves the proxy", func(t *testing.T) {
		mustSet(t, wb, "B1", "A2")
		wb.Recalc()
		assert.Equal(t, 200.0, mustGet(t, wb, "C1"))
		assert.Empty(t, readersOf(t, wb, "A1"))
		assert.Equal(t, []string{"Sheet1!DynamicDep(C1)"}, readersOf(t, wb, "A2"))

		mustSet(t, wb, "A1", 1)
		assert.False(t, c1.NeedsRecalc(), "the old target no longer reaches the container")
		assert.Zero(t, wb.SanityCheck())
	})

	t.Run("dump lists the resolved reference", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, wb.Dump(&buf))
		assert.Contains(t, buf.String(), "  dynamic\n    C1 -> Sheet1!$A$2\n")
	})

	t.Run("replacing the formula drops the proxy", func(t *testing.T) {
		mustSet(t, wb, "C1", "=A1")
		assert.Zero(t, c1.Flags()&HasDynamicDeps)
		assert.Empty(t, readersOf(t, wb, "A2"))
		assert.Zero(t, wb.sheets[0].deps.Stats().DynamicDeps)
	})
}

func TestDynamic_IndirectAcrossSheets(t *testing.T) {
	wb := newTestWorkbook(t, "Sheet1", "Data")
	mustSet(t, wb, "Data!B2", 21)
	mustSet(t, wb, "A1", `=INDIRECT("Data!B2")*2`)
	wb.Recalc()
	assert.Equal(t, 42.0, mustGet(t, wb, "A1"))
	assert.Equal(t, []string{"Sheet1!DynamicDep(A1)"}, readersOf(t, wb, "Data!B2"))

	mustSet(t, wb, "Data!B2", 1)
	wb.Recalc()
	assert.Equal(t, 2.0, mustGet(t, wb, "A1"))
}

func TestDynamic_IndirectBadText(t *testing.T) {
	NewWorkbookTestCase(t, "indirect errors").
		Set("A1", `=INDIRECT("not a ref")`).
		Set("A2", `=INDIRECT("1+2")`).
		Set("A3", `=INDIRECT(1/0)`).
		AssertCellErr("A1", value.ErrorCodeRef).
		AssertCellErr("A2", value.ErrorCodeRef).
		AssertCellErr("A3", value.ErrorCodeDiv0).
		AssertSane().
		End()
}

func TestDynamic_OffsetRange(t *testing.T) {
	wb := newTestWorkbook(t)
	for i, v := range []int{1, 2, 3, 4, 5} {
		mustSet(t, wb, fmt.Sprintf("A%d", i+1), v)
	}
	mustSet(t, wb, "B1", "=SUM(OFFSET(A1,1,0,2,1))")
	wb.Recalc()
	assert.Equal(t, 5.0, mustGet(t, wb, "B1"))

	b1 := mustCell(t, wb, "B1")
	mustSet(t, wb, "A3", 10)
	assert.True(t, b1.NeedsRecalc())
	wb.Recalc()
	assert.Equal(t, 12.0, mustGet(t, wb, "B1"))

	mustSet(t, wb, "A4", 40)
	assert.False(t, b1.NeedsRecalc(), "A4 is outside the offset window")

	t.Run("window follows its arguments", func(t *testing.T) {
		mustSet(t, wb, "C1", 2)
		mustSet(t, wb, "B2", "=SUM(OFFSET(A1,C1,0,2,1))")
		wb.Recalc()
		assert.Equal(t, 50.0, mustGet(t, wb, "B2"))

		mustSet(t, wb, "C1", 3)
		wb.Recalc()
		assert.Equal(t, 45.0, mustGet(t, wb, "B2"))
		assert.Zero(t, wb.SanityCheck())
	})

	t.Run("window off the sheet", func(t *testing.T) {
		mustSet(t, wb, "B3", "=SUM(OFFSET(A1,-1,0))")
		wb.Recalc()
		ve := value.AsError(mustGet(t, wb, "B3"))
		require.NotNil(t, ve)
		assert.Equal(t, value.ErrorCodeRef, ve.Code)
	})
}

func TestDynamic_GeometryFunctionsLinkNothing(t *testing.T) {
	wb := newTestWorkbook(t)
	mustSet(t, wb, "B5", "=ROW(C10)+COLUMN(C10)+ROWS(A1:A4)+COLUMNS(A1:C1)")
	mustSet(t, wb, "B6", "=ROW()")
	wb.Recalc()
	assert.Equal(t, 10.0+3+4+3, mustGet(t, wb, "B5"))
	assert.Equal(t, 6.0, mustGet(t, wb, "B6"))
	assert.Empty(t, indexSnapshot(wb))
}
