package spreadsheet

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanityCheck_ReportsCorruption(t *testing.T) {
	var logs bytes.Buffer
	wb := NewWorkbook(
		WithSettings(manualSettings()),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)
	_, err := wb.AddSheet("Sheet1")
	require.NoError(t, err)
	mustSet(t, wb, "B1", "=A1")
	mustSet(t, wb, "B2", "=SUM(A1:A4)")
	require.Zero(t, wb.SanityCheck())
	require.Empty(t, logs.String())

	b1 := mustCell(t, wb, "B1")
	t.Run("scratch flag", func(t *testing.T) {
		logs.Reset()
		b1.flags |= Flagged
		defer func() { b1.flags &^= Flagged }()
		assert.Equal(t, 1, wb.SanityCheck())
		assert.Contains(t, logs.String(), "scratch flag left set")
	})

	t.Run("stale index entry", func(t *testing.T) {
		logs.Reset()
		b1.Unlink()
		s := wb.sheets[0]
		s.deps.linkSingle(pos(t, "A1"), &b1.Dependent, true)
		assert.Equal(t, 1, wb.SanityCheck())
		assert.Contains(t, logs.String(), "index entry holds an unlinked dependent")
		s.deps.linkSingle(pos(t, "A1"), &b1.Dependent, false)
		b1.Link()
	})

	t.Run("3d registry", func(t *testing.T) {
		logs.Reset()
		if wb.sheetOrderDeps == nil {
			wb.sheetOrderDeps = make(map[*Dependent]struct{})
		}
		wb.sheetOrderDeps[&b1.Dependent] = struct{}{}
		defer delete(wb.sheetOrderDeps, &b1.Dependent)
		assert.Equal(t, 1, wb.SanityCheck())
		assert.Contains(t, logs.String(), "3d registry")
	})

	logs.Reset()
	assert.Zero(t, wb.SanityCheck())
	assert.Empty(t, logs.String())
}
