// Package loader reads workbook descriptions from YAML and builds them with
// the chainable workbook API.
//
// A description lists the sheets, named expressions, cell contents and
// array formulas of a workbook, then a sequence of edits to replay and the
// values expected once everything has been recalculated:
//
//	sheets: [Sheet1, Data]
//	names:
//	  - name: Rate
//	    formula: Data!A1
//	cells:
//	  Data!A1: 0.25
//	  Sheet1!A1: 100
//	  Sheet1!B1: =A1*Rate
//	steps:
//	  - op: insert_rows
//	    sheet: Sheet1
//	    index: 0
//	    count: 1
//	expect:
//	  Sheet1!B2: 25
package loader

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/config"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// ErrInvalidDescription is wrapped by every structural problem in a file
var ErrInvalidDescription = errors.New("invalid workbook description")

// NameDef defines a named expression. an empty Sheet makes it workbook
// scoped.
type NameDef struct {
	Name    string `yaml:"name"`
	Formula string `yaml:"formula"`
	Sheet   string `yaml:"sheet"`
}

// ArrayDef enters one array formula over Range, e.g. "Sheet1!A1:B2"
type ArrayDef struct {
	Range   string `yaml:"range"`
	Formula string `yaml:"formula"`
}

// Step is one edit replayed after the initial contents are entered
type Step struct {
	Op      string `yaml:"op"`
	Cell    string `yaml:"cell"`
	Value   any    `yaml:"value"`
	Sheet   string `yaml:"sheet"`
	To      string `yaml:"to"`
	Name    string `yaml:"name"`
	Formula string `yaml:"formula"`
	Index   int    `yaml:"index"`
	Count   int    `yaml:"count"`
}

var stepOps = []string{
	"set", "remove",
	"insert_rows", "delete_rows", "insert_cols", "delete_cols",
	"add_sheet", "remove_sheet", "rename_sheet", "move_sheet",
	"define_name", "remove_name",
	"calculate",
}

// Description is a parsed workbook file
type Description struct {
	Settings yaml.Node      `yaml:"settings"`
	Sheets   []string       `yaml:"sheets"`
	Names    []NameDef      `yaml:"names"`
	Cells    map[string]any `yaml:"cells"`
	Arrays   []ArrayDef     `yaml:"arrays"`
	Steps    []Step         `yaml:"steps"`
	Expect   map[string]any `yaml:"expect"`

	settings config.Settings
}

// Load reads and validates a description file
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse decodes and validates a description
func Parse(data []byte) (*Description, error) {
	var d Description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescription, err)
	}
	d.settings = config.Default()
	if !d.Settings.IsZero() {
		if err := d.Settings.Decode(&d.settings); err != nil {
			return nil, fmt.Errorf("%w: settings: %w", ErrInvalidDescription, err)
		}
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Description) validate() error {
	var errs []error
	if err := d.settings.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(d.Sheets) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one sheet is required", ErrInvalidDescription))
	}
	for i, n := range d.Names {
		if n.Name == "" || n.Formula == "" {
			errs = append(errs, fmt.Errorf("%w: names[%d] needs a name and a formula", ErrInvalidDescription, i))
		}
	}
	for i, a := range d.Arrays {
		if a.Range == "" || !strings.HasPrefix(a.Formula, "=") {
			errs = append(errs, fmt.Errorf("%w: arrays[%d] needs a range and a formula", ErrInvalidDescription, i))
		}
	}
	for i, s := range d.Steps {
		if !slices.Contains(stepOps, s.Op) {
			errs = append(errs, fmt.Errorf("%w: steps[%d]: unknown op %q", ErrInvalidDescription, i, s.Op))
		}
	}
	return errors.Join(errs...)
}

// SettingsOrDefault returns the settings block overlaid on config.Default
func (d *Description) SettingsOrDefault() config.Settings {
	return d.settings
}

// Build enters the description into a new workbook. the returned chain
// holds the first failure; callers finish it with Run.
func (d *Description) Build(printLn func(string), opts ...spreadsheet.Option) *spreadsheet.RunnableWorkbook {
	opts = append([]spreadsheet.Option{spreadsheet.WithSettings(d.settings)}, opts...)
	r := spreadsheet.NewRunnableWorkbook(printLn, d.Sheets, opts...)
	for _, n := range d.Names {
		if n.Sheet == "" {
			r.DefineName(n.Name, n.Formula)
		} else {
			r.DefineSheetName(n.Sheet, n.Name, n.Formula)
		}
	}
	r.SetBatch(d.Cells)
	for _, a := range d.Arrays {
		r.SetArray(a.Range, a.Formula)
	}
	for _, s := range d.Steps {
		s.apply(r)
	}
	return r
}

func (s Step) apply(r *spreadsheet.RunnableWorkbook) *spreadsheet.RunnableWorkbook {
	switch s.Op {
	case "set":
		return r.Set(s.Cell, s.Value)
	case "remove":
		return r.Remove(s.Cell)
	case "insert_rows":
		return r.InsertRows(s.Sheet, s.Index, s.Count)
	case "delete_rows":
		return r.DeleteRows(s.Sheet, s.Index, s.Count)
	case "insert_cols":
		return r.InsertCols(s.Sheet, s.Index, s.Count)
	case "delete_cols":
		return r.DeleteCols(s.Sheet, s.Index, s.Count)
	case "add_sheet":
		return r.AddSheet(s.Sheet)
	case "remove_sheet":
		return r.RemoveSheet(s.Sheet)
	case "rename_sheet":
		return r.RenameSheet(s.Sheet, s.To)
	case "move_sheet":
		return r.MoveSheet(s.Sheet, s.Index)
	case "define_name":
		if s.Sheet != "" {
			return r.DefineSheetName(s.Sheet, s.Name, s.Formula)
		}
		return r.DefineName(s.Name, s.Formula)
	case "remove_name":
		return r.RemoveName(s.Name)
	case "calculate":
		return r.Calculate()
	}
	return r
}

// Mismatch is an expected value the workbook did not produce
type Mismatch struct {
	Cell string `json:"cell"`
	Want string `json:"want"`
	Got  string `json:"got"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: want %s, got %s", m.Cell, m.Want, m.Got)
}

// Check compares the expect block against wb, in address order
func (d *Description) Check(wb *spreadsheet.Workbook) []Mismatch {
	var out []Mismatch
	for _, cell := range slices.Sorted(maps.Keys(d.Expect)) {
		want := expected(d.Expect[cell])
		got, err := wb.Get(cell)
		if err != nil {
			out = append(out, Mismatch{Cell: cell, Want: display(want), Got: err.Error()})
			continue
		}
		if !same(want, got) {
			out = append(out, Mismatch{Cell: cell, Want: display(want), Got: display(got)})
		}
	}
	return out
}

// expected converts a YAML scalar to the value a cell would hold. error
// display strings such as "#REF!" stand for error values.
func expected(v any) value.Value {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		if e, ok := value.ParseError(x); ok {
			return e
		}
	}
	return v
}

func same(want, got value.Value) bool {
	w, wok := want.(float64)
	g, gok := got.(float64)
	if wok && gok {
		return math.Abs(w-g) <= 1e-9*math.Max(1, math.Abs(w))
	}
	return value.Equal(want, got)
}

func display(v value.Value) string {
	if v == nil {
		return "<empty>"
	}
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return value.ToString(v)
}
