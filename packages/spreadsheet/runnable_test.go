package spreadsheet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

func TestRunnableWorkbook(t *testing.T) {
	var out []string
	printLn := func(s string) { out = append(out, s) }

	wb, err := NewRunnableWorkbook(printLn, []string{"Sheet1", "Data"}).
		SetBatch(map[string]any{
			"A1":      2,
			"A2":      "=A1*3",
			"Data!B1": "=Sheet1!A2+1",
		}).
		SetArray("Sheet1!C1:C2", "=A1:A2").
		DefineName("Six", "Sheet1!A2").
		Set("A3", "=Six*2").
		Log("A2").
		Log("Data!B1").
		Log("C2").
		Log("E9").
		CheckError().
		Run()
	require.NoError(t, err)
	assert.Equal(t, []string{"A2: 6", "Data!B1: 7", "C2: 6", "E9: <empty>", "No errors"}, out)

	v, err := wb.Get("A3")
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)
}

func TestRunnableWorkbook_StopsAtFirstError(t *testing.T) {
	var out []string
	r := NewRunnableWorkbook(func(s string) { out = append(out, s) }, []string{"Sheet1"}).
		Set("A1", 1).
		RenameSheet("Missing", "Other").
		Set("A2", 2).
		CheckError()
	assert.True(t, IsNotFound(r.Error()))
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "ERROR:")
	assert.Nil(t, r.Workbook().sheets[0].Cell(pos(t, "A2")), "steps after the failure are skipped")
	assert.Nil(t, r.Values("A1"))

	_, err := r.Run()
	assert.Error(t, err)

	r.Reset().Set("A2", 2)
	assert.Equal(t, []value.Value{1.0, 2.0}, r.Values("A1", "A2"))
	assert.Panics(t, func() { r.InsertRows("Sheet1", -1, 1).Must() })

	r.OnError(func(error) error { return nil })
	assert.NoError(t, r.Error())
	assert.Equal(t, 12.0, r.Set("B1", 12).Then(func(r *RunnableWorkbook) *RunnableWorkbook {
		return r.Set("B2", "=B1")
	}).Value("B2"))

	var buf bytes.Buffer
	require.NoError(t, r.Dump(&buf).Error())
	assert.Contains(t, buf.String(), "B1 -> B2")
	assert.True(t, IsNotFound(r.SetArray("Nope!A1:B2", "=1").Error()))
}
