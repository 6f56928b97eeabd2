package spreadsheet

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/config"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// WorkbookTestCase is a chainable fixture. the first failing step reports
// through t and turns the rest of the chain into no-ops.
type WorkbookTestCase struct {
	t    *testing.T
	name string
	wb   *Workbook
	err  error
}

func NewWorkbookTestCase(t *testing.T, name string, opts ...Option) *WorkbookTestCase {
	t.Helper()
	tc := &WorkbookTestCase{t: t, name: name, wb: NewWorkbook(opts...)}
	return tc.AddSheet("Sheet1")
}

func (tc *WorkbookTestCase) Workbook() *Workbook {
	return tc.wb
}

func (tc *WorkbookTestCase) Sheet(name string) *Sheet {
	tc.t.Helper()
	s, ok := tc.wb.Sheet(name)
	require.True(tc.t, ok, "%s: sheet %s", tc.name, name)
	return s
}

func (tc *WorkbookTestCase) AddSheet(name string) *WorkbookTestCase {
	tc.t.Helper()
	if tc.err != nil {
		return tc
	}
	_, tc.err = tc.wb.AddSheet(name)
	assert.NoError(tc.t, tc.err, "%s: AddSheet(%s)", tc.name, name)
	return tc
}

func (tc *WorkbookTestCase) Set(address string, input any) *WorkbookTestCase {
	tc.t.Helper()
	if tc.err != nil {
		return tc
	}
	tc.err = tc.wb.Set(address, input)
	assert.NoError(tc.t, tc.err, "%s: Set(%s)", tc.name, address)
	return tc
}

func (tc *WorkbookTestCase) Remove(address string) *WorkbookTestCase {
	tc.t.Helper()
	if tc.err != nil {
		return tc
	}
	tc.err = tc.wb.Remove(address)
	assert.NoError(tc.t, tc.err, "%s: Remove(%s)", tc.name, address)
	return tc
}

func (tc *WorkbookTestCase) DefineName(name, text string) *WorkbookTestCase {
	tc.t.Helper()
	if tc.err != nil {
		return tc
	}
	_, tc.err = tc.wb.DefineName(name, text, nil)
	assert.NoError(tc.t, tc.err, "%s: DefineName(%s)", tc.name, name)
	return tc
}

func (tc *WorkbookTestCase) Recalc() *WorkbookTestCase {
	if tc.err == nil {
		tc.wb.Recalc()
	}
	return tc
}

func (tc *WorkbookTestCase) Do(fn func(wb *Workbook) error) *WorkbookTestCase {
	tc.t.Helper()
	if tc.err != nil {
		return tc
	}
	tc.err = fn(tc.wb)
	assert.NoError(tc.t, tc.err, tc.name)
	return tc
}

func (tc *WorkbookTestCase) get(address string) (value.Value, bool) {
	tc.t.Helper()
	if tc.err != nil {
		return nil, false
	}
	v, err := tc.wb.Get(address)
	if !assert.NoError(tc.t, err, "%s: Get(%s)", tc.name, address) {
		return nil, false
	}
	return v, true
}

func (tc *WorkbookTestCase) AssertCellEq(address string, expected any) *WorkbookTestCase {
	tc.t.Helper()
	actual, ok := tc.get(address)
	if !ok {
		return tc
	}
	switch exp := expected.(type) {
	case int:
		assert.InDelta(tc.t, float64(exp), actual, 1e-10, "%s: cell %s", tc.name, address)
	case float64:
		assert.InDelta(tc.t, exp, actual, 1e-10, "%s: cell %s", tc.name, address)
	default:
		assert.Equal(tc.t, expected, actual, "%s: cell %s", tc.name, address)
	}
	return tc
}

func (tc *WorkbookTestCase) AssertCellErr(address string, code value.ErrorCode) *WorkbookTestCase {
	tc.t.Helper()
	actual, ok := tc.get(address)
	if !ok {
		return tc
	}
	ve, isErr := actual.(*value.Error)
	if assert.True(tc.t, isErr, "%s: cell %s = %v, want error %s", tc.name, address, actual, code) {
		assert.Equal(tc.t, code, ve.Code, "%s: cell %s", tc.name, address)
	}
	return tc
}

func (tc *WorkbookTestCase) AssertCellEmpty(address string) *WorkbookTestCase {
	tc.t.Helper()
	if actual, ok := tc.get(address); ok {
		assert.Nil(tc.t, actual, "%s: cell %s", tc.name, address)
	}
	return tc
}

func (tc *WorkbookTestCase) ExpectAppError(code AppErrorCode) *WorkbookTestCase {
	tc.t.Helper()
	if assert.Error(tc.t, tc.err, "%s: expected %s", tc.name, code) {
		assert.Equal(tc.t, code, ErrorCodeOf(tc.err), "%s: %v", tc.name, tc.err)
	}
	tc.err = nil
	return tc
}

// SetExpectError runs Set and expects it to fail with code
func (tc *WorkbookTestCase) SetExpectError(address string, input any, code AppErrorCode) *WorkbookTestCase {
	tc.t.Helper()
	if tc.err != nil {
		return tc
	}
	err := tc.wb.Set(address, input)
	assert.Equal(tc.t, code, ErrorCodeOf(err), "%s: Set(%s) = %v", tc.name, address, err)
	return tc
}

func (tc *WorkbookTestCase) AssertSane() *WorkbookTestCase {
	tc.t.Helper()
	assert.Zero(tc.t, tc.wb.SanityCheck(), "%s: sanity check", tc.name)
	return tc
}

func (tc *WorkbookTestCase) End() {}

// manualSettings turns off auto recalculation so tests control when the
// engine runs
func manualSettings() config.Settings {
	s := config.Default()
	s.Recalc.Auto = false
	return s
}

func iterativeSettings(maxIterations int, tolerance float64) config.Settings {
	s := config.Default()
	s.Iteration = config.Iteration{Enabled: true, MaxIterations: maxIterations, Tolerance: tolerance}
	return s
}

func newTestWorkbook(t *testing.T, sheets ...string) *Workbook {
	t.Helper()
	wb := NewWorkbook(WithSettings(manualSettings()))
	if len(sheets) == 0 {
		sheets = []string{"Sheet1"}
	}
	for _, name := range sheets {
		_, err := wb.AddSheet(name)
		require.NoError(t, err)
	}
	return wb
}

func mustSet(t *testing.T, wb *Workbook, address string, input any) {
	t.Helper()
	require.NoError(t, wb.Set(address, input), address)
}

func mustGet(t *testing.T, wb *Workbook, address string) value.Value {
	t.Helper()
	v, err := wb.Get(address)
	require.NoError(t, err, address)
	return v
}

func mustCell(t *testing.T, wb *Workbook, address string) *Cell {
	t.Helper()
	s, p, err := wb.resolveAddress(address)
	require.NoError(t, err)
	c := s.Cell(p)
	require.NotNil(t, c, address)
	return c
}

func pos(t *testing.T, a1 string) expr.Pos {
	t.Helper()
	p, err := expr.ParsePos(a1)
	require.NoError(t, err)
	return p
}

func rng(t *testing.T, a1 string) expr.Range {
	t.Helper()
	r, err := expr.ParseRange(a1)
	require.NoError(t, err)
	return r
}

// indexSnapshot renders every index entry of every sheet as
// "Sheet!key" -> sorted reader names
func indexSnapshot(wb *Workbook) map[string][]string {
	out := make(map[string][]string)
	add := func(key string, d *Dependent) bool {
		out[key] = append(out[key], d.debugName(nil))
		return true
	}
	for _, s := range wb.sheets {
		if s.deps == nil {
			continue
		}
		for _, m := range s.deps.rangeHash {
			for key, e := range m {
				k := s.name + "!" + key.String()
				e.deps.ForEach(func(d *Dependent) bool { return add(k, d) })
			}
		}
		for p, e := range s.deps.singleHash {
			k := s.name + "!" + p.String()
			e.deps.ForEach(func(d *Dependent) bool { return add(k, d) })
		}
	}
	for k := range out {
		slices.Sort(out[k])
	}
	return out
}

// readersOf lists the debug names of the dependents reading address
func readersOf(t *testing.T, wb *Workbook, address string) []string {
	t.Helper()
	s, p, err := wb.resolveAddress(address)
	require.NoError(t, err)
	var out []string
	s.deps.forEachReader(p, func(d *Dependent) { out = append(out, d.debugName(nil)) })
	slices.Sort(out)
	return out
}

// countingEvaluator wraps the default evaluator and counts evaluations per
// dependent
type countingEvaluator struct {
	*DefaultEvaluator
	counts map[string]int
}

func newCountingEvaluator() *countingEvaluator {
	return &countingEvaluator{DefaultEvaluator: NewDefaultEvaluator(), counts: make(map[string]int)}
}

func (e *countingEvaluator) Evaluate(ctx *EvalContext, n expr.Node) value.Value {
	e.counts[ctx.Dep.debugName(nil)]++
	return e.DefaultEvaluator.Evaluate(ctx, n)
}

func (e *countingEvaluator) reset() {
	clear(e.counts)
}

// chain fills column A with A1 = 1 and An = A(n-1) + 1
func chain(t *testing.T, wb *Workbook, n int) {
	t.Helper()
	mustSet(t, wb, "A1", 1)
	for i := 2; i <= n; i++ {
		mustSet(t, wb, fmt.Sprintf("A%d", i), fmt.Sprintf("=A%d+1", i-1))
	}
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}
