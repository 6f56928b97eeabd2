package spreadsheet

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDump(t *testing.T) {
	wb := newTestWorkbook(t, "Sheet1", "Data")
	mustSet(t, wb, "A1", 1)
	mustSet(t, wb, "B1", "=SUM(A1:A3)")
	mustSet(t, wb, "B2", "=A1*2")
	mustSet(t, wb, "C1", "=Data!A1")
	mustSet(t, wb, "Data!A1", 5)
	_, err := wb.DefineName("Total", "Sheet1!B1", nil)
	require.NoError(t, err)
	wb.Recalc()

	var buf bytes.Buffer
	require.NoError(t, wb.Dump(&buf))
	got := lines(buf.String())
	assert.Equal(t, "workbook "+wb.ID.String(), got[0])

	want := []string{
		"sheet Sheet1",
		"  bucket 0",
		"    A1:A3 -> B1",
		"  single",
		"    A1 -> B2",
		"  names",
		"    Total",
		"  dependents",
		"    B1 =SUM(A1:A3) [linked]",
		"    B2 =A1*2 [linked]",
		"    C1 =Data!A1 [linked|intersheet]",
		"sheet Data",
		"  single",
		"    A1 -> Sheet1!C1",
	}
	if diff := cmp.Diff(want, got[1:]); diff != "" {
		t.Errorf("dump (-want +got):\n%s", diff)
	}
}

func TestDump_DirtyAndThreeDimensional(t *testing.T) {
	wb := newTestWorkbook(t, "Jan", "Feb", "Total")
	mustSet(t, wb, "Total!B1", "=SUM(Jan:Feb!A1)")

	var buf bytes.Buffer
	require.NoError(t, wb.Dump(&buf))
	out := buf.String()
	assert.Contains(t, out, "    B1 =SUM(Jan:Feb!A1:A1) [needs-recalc|linked|intersheet|3d]\n")
	assert.Contains(t, out, "sheet Jan\n  single\n    A1 -> Total!B1\n")
	assert.Contains(t, out, "3d\n  Total!B1\n")
}
