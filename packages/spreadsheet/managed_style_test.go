package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
)

func TestManagedDep_Value(t *testing.T) {
	wb := newTestWorkbook(t)
	mustSet(t, wb, "A1", 2)
	mustSet(t, wb, "B1", 3)
	m, err := NewManagedDep(wb.sheets[0], "=A1*B1")
	require.NoError(t, err)
	assert.Equal(t, 6.0, m.Value())
	assert.False(t, m.NeedsRecalc())

	mustSet(t, wb, "B1", 4)
	assert.True(t, m.NeedsRecalc(), "the owner learns a read is due")
	assert.Equal(t, 8.0, m.Value())

	e, err := expr.Parse("=A1+100", wb.parseContext(wb.sheets[0], expr.Pos{}))
	require.NoError(t, err)
	m.SetExpr(e)
	assert.True(t, m.IsLinked())
	assert.Empty(t, readersOf(t, wb, "B1"))
	assert.Equal(t, 102.0, m.Value())

	m.SetExpr(nil)
	assert.False(t, m.IsLinked())
	assert.Nil(t, m.Value())
	assert.Zero(t, wb.SanityCheck())

	_, err = NewManagedDep(wb.sheets[0], "=(")
	assert.True(t, IsInvalidArgument(err))
}

func TestStyleDep_Invalidation(t *testing.T) {
	var invalidated []*StyleDep
	redraws := 0
	wb := NewWorkbook(WithSettings(manualSettings()), WithRedraw(func() { redraws++ }))
	_, err := wb.AddSheet("Sheet1")
	require.NoError(t, err)
	mustSet(t, wb, "A1", -1)

	sd, err := NewStyleDep(wb.sheets[0], pos(t, "B1"), "=A1>0", func(sd *StyleDep) {
		invalidated = append(invalidated, sd)
	})
	require.NoError(t, err)
	assert.False(t, sd.Active())
	assert.Equal(t, []string{"Sheet1!Style@B1"}, readersOf(t, wb, "A1"))

	wb.Recalc()
	invalidated = nil
	redraws = 0

	mustSet(t, wb, "A1", 5)
	wb.Recalc()
	require.Len(t, invalidated, 1)
	assert.Same(t, sd, invalidated[0])
	assert.Equal(t, 1, redraws, "an invalidated style asks for a redraw")
	assert.True(t, sd.Active())

	sd.Remove()
	assert.Empty(t, readersOf(t, wb, "A1"))
	mustSet(t, wb, "A1", 6)
	wb.Recalc()
	assert.Len(t, invalidated, 1)
	assert.Zero(t, wb.SanityCheck())
}

func TestStyleDep_Errors(t *testing.T) {
	wb := newTestWorkbook(t)
	_, err := NewStyleDep(wb.sheets[0], expr.Pos{Col: -1}, "=1", nil)
	assert.Equal(t, OutOfRange, ErrorCodeOf(err))
	_, err = NewStyleDep(wb.sheets[0], pos(t, "A1"), "=1+", nil)
	assert.True(t, IsInvalidArgument(err))
}
