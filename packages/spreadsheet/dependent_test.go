package spreadsheet

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
)

func TestDependent_LinkRecordsEveryEdge(t *testing.T) {
	wb := newTestWorkbook(t, "Sheet1", "Data")
	mustSet(t, wb, "B1", "=SUM(A1:A10)+C1")
	mustSet(t, wb, "B2", "=A1")
	mustSet(t, wb, "B3", "=Data!C3*2")

	want := map[string][]string{
		"Sheet1!A1:A10": {"Sheet1!B1"},
		"Sheet1!C1":     {"Sheet1!B1"},
		"Sheet1!A1":     {"Sheet1!B2"},
		"Data!C3":       {"Sheet1!B3"},
	}
	if diff := cmp.Diff(want, indexSnapshot(wb)); diff != "" {
		t.Errorf("index (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{"Sheet1!B1", "Sheet1!B2"}, readersOf(t, wb, "A1"))
	assert.Equal(t, []string{"Sheet1!B1"}, readersOf(t, wb, "A7"))
	assert.Empty(t, readersOf(t, wb, "A11"))

	b3 := mustCell(t, wb, "B3")
	assert.NotZero(t, b3.Flags()&GoesIntersheet)
	assert.Zero(t, b3.Flags()&GoesInterbook)
	assert.Zero(t, mustCell(t, wb, "B1").Flags()&GoesIntersheet)
}

func TestDependent_UnlinkIsTheInverseOfLink(t *testing.T) {
	wb := newTestWorkbook(t, "Sheet1", "Data")
	mustSet(t, wb, "B1", "=SUM(A1:A3000)+C1")
	mustSet(t, wb, "B2", "=A1+A1+A1")
	mustSet(t, wb, "B3", "=Data!A1:B2")
	mustSet(t, wb, "B4", "=SUM((A1,C1:C5))")
	before := indexSnapshot(wb)
	require.NotEmpty(t, before)

	for _, a := range []string{"B1", "B2", "B3", "B4"} {
		c := mustCell(t, wb, a)
		c.Unlink()
		assert.False(t, c.IsLinked())
		c.Link()
		assert.True(t, c.IsLinked())
	}
	if diff := cmp.Diff(before, indexSnapshot(wb)); diff != "" {
		t.Errorf("relinking changed the index (-before +after):\n%s", diff)
	}

	t.Run("link twice", func(t *testing.T) {
		c := mustCell(t, wb, "B2")
		c.Link()
		c.Link()
		assert.Equal(t, before, indexSnapshot(wb))
		assert.Len(t, wb.sheets[0].deps.Dependents(), 4)
	})

	t.Run("unlink twice", func(t *testing.T) {
		c := mustCell(t, wb, "B2")
		c.Unlink()
		c.Unlink()
		assert.Equal(t, []string{"Sheet1!B1", "Sheet1!B4"}, readersOf(t, wb, "A1"))
		c.Link()
	})

	t.Run("clearing every formula empties the index", func(t *testing.T) {
		for _, a := range []string{"B1", "B2", "B3", "B4"} {
			require.NoError(t, wb.Remove(a))
		}
		assert.Empty(t, indexSnapshot(wb))
		for _, s := range wb.sheets {
			st := s.deps.Stats()
			assert.Equal(t, DepStats{}, st, s.name)
		}
		assert.Zero(t, wb.SanityCheck())
	})
}

func TestDependent_RangesAreSplitPerBucket(t *testing.T) {
	wb := newTestWorkbook(t)
	mustSet(t, wb, "B1", "=SUM(A1000:A2100)")

	want := map[string][]string{
		"Sheet1!A1000:A1024": {"Sheet1!B1"},
		"Sheet1!A1025:A2048": {"Sheet1!B1"},
		"Sheet1!A2049:A2100": {"Sheet1!B1"},
	}
	if diff := cmp.Diff(want, indexSnapshot(wb)); diff != "" {
		t.Errorf("index (-want +got):\n%s", diff)
	}
	for _, a := range []string{"A1000", "A1024", "A1025", "A2048", "A2100"} {
		assert.Equal(t, []string{"Sheet1!B1"}, readersOf(t, wb, a), a)
	}
	assert.Empty(t, readersOf(t, wb, "A999"))
	assert.Empty(t, readersOf(t, wb, "A2101"))

	wb.Recalc()
	mustSet(t, wb, "A2050", 7)
	assert.True(t, mustCell(t, wb, "B1").NeedsRecalc())
	wb.Recalc()
	assert.Equal(t, 7.0, mustGet(t, wb, "B1"))
	assert.Zero(t, wb.SanityCheck())
}

func TestDependent_SingleCellRangeUsesSingleIndex(t *testing.T) {
	wb := newTestWorkbook(t)
	mustSet(t, wb, "B1", "=SUM(A5:A5)")
	st := wb.sheets[0].deps.Stats()
	assert.Equal(t, 1, st.SingleEntries)
	assert.Zero(t, st.RangeEntries)
}

func TestSheet_ResizeRebuckets(t *testing.T) {
	wb := newTestWorkbook(t, "Sheet1", "Data")
	mustSet(t, wb, "B1", "=SUM(A1000:A1100)")
	mustSet(t, wb, "Data!A1", "=SUM(Sheet1!A1:A1500)")
	mustSet(t, wb, "A3000", 5)
	wb.Recalc()
	s := wb.sheets[0]
	require.Equal(t, bucketCount(DefaultMaxRows), s.deps.Buckets())
	require.Equal(t, 2, s.CellCount())

	require.NoError(t, s.Resize(100, 2000))
	assert.Equal(t, 2, s.deps.Buckets())
	assert.Equal(t, 2000, s.MaxRows())

	want := map[string][]string{
		"Sheet1!A1000:A1024": {"Sheet1!B1"},
		"Sheet1!A1025:A1100": {"Sheet1!B1"},
		"Sheet1!A1:A1024":    {"Data!A1"},
		"Sheet1!A1025:A1500": {"Data!A1"},
	}
	if diff := cmp.Diff(want, indexSnapshot(wb)); diff != "" {
		t.Errorf("index after resize (-want +got):\n%s", diff)
	}
	assert.True(t, mustCell(t, wb, "Data!A1").NeedsRecalc(), "relinked dependents are dirty")

	_, err := wb.Get("A3000")
	assert.Equal(t, OutOfRange, ErrorCodeOf(err))
	assert.Equal(t, 1, s.CellCount(), "the cell past the new bounds was cleared")
	wb.Recalc()
	assert.Equal(t, 0.0, mustGet(t, wb, "Data!A1"))

	require.NoError(t, s.Resize(100, 5000))
	assert.Equal(t, 5, s.deps.Buckets())
	assert.Zero(t, wb.SanityCheck())

	assert.True(t, IsInvalidArgument(s.Resize(0, 10)))
}

func TestDependent_SetExprLeavesUnlinked(t *testing.T) {
	wb := newTestWorkbook(t)
	mustSet(t, wb, "B1", "=A1")
	c := mustCell(t, wb, "B1")
	wb.Recalc()

	e, err := expr.Parse("=A2*2", wb.parseContext(wb.sheets[0], c.pos))
	require.NoError(t, err)
	c.SetExpr(e)
	assert.False(t, c.IsLinked())
	assert.True(t, c.NeedsRecalc())
	assert.Empty(t, indexSnapshot(wb))

	c.Link()
	assert.Equal(t, map[string][]string{"Sheet1!A2": {"Sheet1!B1"}}, indexSnapshot(wb))
}

func TestDependent_SetSheetLinksOnArrival(t *testing.T) {
	wb := newTestWorkbook(t, "Sheet1", "Other")
	m, err := NewManagedDep(wb.sheets[0], "=A1+B1")
	require.NoError(t, err)
	assert.True(t, m.IsLinked())
	assert.Equal(t, []string{"Sheet1!Managed"}, readersOf(t, wb, "A1"))

	m.SetSheet(wb.sheets[1])
	assert.True(t, m.IsLinked())
	assert.Empty(t, readersOf(t, wb, "A1"))
	assert.Equal(t, []string{"Other!Managed"}, readersOf(t, wb, "Other!A1"))
	assert.True(t, m.NeedsRecalc())

	m.SetSheet(nil)
	assert.False(t, m.IsLinked())
	assert.Empty(t, indexSnapshot(wb))
}

func TestDependent_CustomClass(t *testing.T) {
	var evaluated []*Dependent
	kind := RegisterDependentClass(&DependentClass{
		Name: "probe",
		Eval: func(d *Dependent) { evaluated = append(evaluated, d) },
	})
	wb := newTestWorkbook(t)
	d := NewDependent(kind, nil)
	e, err := expr.Parse("=A1", nil)
	require.NoError(t, err)
	d.SetExpr(e)
	d.SetSheet(wb.sheets[0])
	assert.True(t, d.IsLinked())
	wb.Recalc()
	require.Len(t, evaluated, 1)

	mustSet(t, wb, "A1", 3)
	assert.True(t, d.NeedsRecalc())
	wb.Recalc()
	assert.Len(t, evaluated, 2)
	assert.Contains(t, d.DebugName(), "probe(")
	assert.Equal(t, kind, d.Kind())
}

func TestDepFlags_String(t *testing.T) {
	assert.Equal(t, "-", DepFlags(0).String())
	assert.Equal(t, "needs-recalc|linked", (NeedsRecalc | IsLinked).String())
	assert.Equal(t, "linked|3d|uses-name", (IsLinked | Has3D | UsesName).String())
}

func TestDependent_DebugName(t *testing.T) {
	wb := newTestWorkbook(t, "Sheet1", "My Data")
	mustSet(t, wb, "B2", "=1")
	mustSet(t, wb, "'My Data'!C3", "=2")
	assert.Equal(t, "B2", mustCell(t, wb, "B2").DebugName())
	assert.Equal(t, "'My Data'!C3", mustCell(t, wb, "'My Data'!C3").debugName(wb.sheets[0]))

	sd, err := NewStyleDep(wb.sheets[0], pos(t, "D4"), "=B2>0", nil)
	require.NoError(t, err)
	assert.Equal(t, "Style@D4", sd.DebugName())
}
