package spreadsheet

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/config"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// Stats counts the work done by a workbook since it was created or the
// counters were last reset
type Stats struct {
	// Evaluations is the number of completed outer evaluations
	Evaluations int
	// Changed is the number of evaluations that produced a different value
	Changed int
	// Redraws is the number of redraw requests issued by Recalc
	Redraws int
	// IterationRounds is the number of rounds run by cycle drivers
	IterationRounds int
}

// Workbook is an ordered set of sheets sharing names, settings and an
// evaluator. it is not safe for concurrent use.
type Workbook struct {
	ID uuid.UUID

	sheets      []*Sheet
	sheetsByKey map[string]*Sheet
	names       *nameTable

	settings  config.Settings
	logger    *slog.Logger
	evaluator Evaluator
	metrics   *Metrics
	redraw    func()
	stats     Stats
	sharer    *exprSharer

	// sheetOrderDeps are the dependents with a 3D reference. their edges
	// depend on the order of the sheets.
	sheetOrderDeps    map[*Dependent]struct{}
	beingReordered    bool
	duringDestruction bool
	destroyed         bool

	// iterating is the driver of the circular reference being iterated
	iterating *Cell
	// pending holds dependents whose readers are marked at the next Recalc
	pending []*Dependent
}

// Option configures a workbook
type Option func(*Workbook)

// WithLogger sets the logger used for engine diagnostics
func WithLogger(l *slog.Logger) Option {
	return func(wb *Workbook) { wb.logger = l }
}

// WithSettings replaces the default settings
func WithSettings(s config.Settings) Option {
	return func(wb *Workbook) { wb.settings = s }
}

// WithEvaluator replaces the default evaluator
func WithEvaluator(e Evaluator) Option {
	return func(wb *Workbook) { wb.evaluator = e }
}

// WithMetrics records engine metrics into m
func WithMetrics(m *Metrics) Option {
	return func(wb *Workbook) { wb.metrics = m }
}

// WithRedraw sets the callback Recalc invokes when values changed
func WithRedraw(fn func()) Option {
	return func(wb *Workbook) { wb.redraw = fn }
}

// NewWorkbook creates an empty workbook
func NewWorkbook(opts ...Option) *Workbook {
	wb := &Workbook{
		ID:          uuid.Must(uuid.NewV7()),
		sheetsByKey: make(map[string]*Sheet),
		names:       newNameTable(),
		settings:    config.Default(),
		logger:      config.DiscardLogger(),
		evaluator:   NewDefaultEvaluator(),
		sharer:      newExprSharer(),
	}
	for _, opt := range opts {
		opt(wb)
	}
	return wb
}

func (wb *Workbook) Settings() config.Settings { return wb.settings }
func (wb *Workbook) Logger() *slog.Logger      { return wb.logger }
func (wb *Workbook) Stats() Stats              { return wb.stats }

// ResetStats zeroes the work counters
func (wb *Workbook) ResetStats() {
	wb.stats = Stats{}
}

// SetSettings replaces the settings. iteration changes apply to the next
// evaluation.
func (wb *Workbook) SetSettings(s config.Settings) error {
	if err := s.Validate(); err != nil {
		return wrapAppError(InvalidArgument, err, "settings")
	}
	wb.settings = s
	return nil
}

func (wb *Workbook) checkAlive() error {
	if wb.destroyed {
		return NewApplicationError(FailedPrecondition, "workbook has been destroyed")
	}
	return nil
}

// sheetIndex returns the position of s in the workbook, or -1
func (wb *Workbook) sheetIndex(s *Sheet) int {
	if s == nil || s.wb != wb || s.index < 0 || s.index >= len(wb.sheets) || wb.sheets[s.index] != s {
		return -1
	}
	return s.index
}

func (wb *Workbook) reindex() {
	for i, s := range wb.sheets {
		s.index = i
	}
}

// Sheets returns the sheets in workbook order
func (wb *Workbook) Sheets() []*Sheet {
	return slices.Clone(wb.sheets)
}

// Sheet finds a sheet by name, ignoring case
func (wb *Workbook) Sheet(name string) (*Sheet, bool) {
	s, ok := wb.sheetsByKey[foldKey(name)]
	return s, ok
}

// AddSheet appends a new empty sheet
func (wb *Workbook) AddSheet(name string) (*Sheet, error) {
	if err := wb.checkAlive(); err != nil {
		return nil, err
	}
	if err := validSheetName(name); err != nil {
		return nil, err
	}
	key := foldKey(name)
	if _, exists := wb.sheetsByKey[key]; exists {
		return nil, newAppErrorf(AlreadyExists, "sheet %q already exists", name)
	}
	s := newSheet(wb, name, len(wb.sheets))
	wb.sheets = append(wb.sheets, s)
	wb.sheetsByKey[key] = s
	wb.logger.Debug("added sheet", "sheet", name, "index", s.index)
	return s, nil
}

// RenameSheet changes a sheet's name. formulas refer to sheets by identity,
// so they show the new name without being touched.
func (wb *Workbook) RenameSheet(s *Sheet, name string) error {
	if wb.sheetIndex(s) < 0 {
		return NewApplicationError(NotFound, "sheet is not part of this workbook")
	}
	if err := validSheetName(name); err != nil {
		return err
	}
	key := foldKey(name)
	if other, exists := wb.sheetsByKey[key]; exists && other != s {
		return newAppErrorf(AlreadyExists, "sheet %q already exists", name)
	}
	delete(wb.sheetsByKey, foldKey(s.name))
	s.name = name
	wb.sheetsByKey[key] = s
	return nil
}

func validSheetName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewApplicationError(InvalidArgument, "sheet name is empty")
	}
	if strings.ContainsAny(name, "![]*?/\\:") {
		return newAppErrorf(InvalidArgument, "sheet name %q contains a reserved character", name)
	}
	return nil
}

// parseContext resolves sheet and name identifiers for a formula entered
// at pos on home
func (wb *Workbook) parseContext(home *Sheet, pos expr.Pos) *expr.ParseContext {
	return &expr.ParseContext{
		Pos: pos,
		ResolveSheet: func(name string) (expr.Sheet, bool) {
			s, ok := wb.Sheet(name)
			if !ok {
				return nil, false
			}
			return s, true
		},
		ResolveName: func(name string, scope expr.Sheet) expr.NamedExpr {
			return wb.resolveName(name, sheetOf(scope), home)
		},
	}
}

// evaluate runs the evaluator over the expression of d
func (wb *Workbook) evaluate(d *Dependent) value.Value {
	ctx := &EvalContext{wb: wb, Dep: d, Sheet: d.sheet, Pos: d.pos()}
	return wb.evaluator.Evaluate(ctx, d.expr.Root)
}

func (wb *Workbook) isVolatile(name string) bool {
	info, ok := wb.evaluator.Function(name)
	return ok && info.Volatile
}

// resolveAddress splits "Sheet!A1" into a sheet and a position. an address
// without a sheet refers to the first sheet.
func (wb *Workbook) resolveAddress(address string) (*Sheet, expr.Pos, error) {
	sheetName, cell := "", address
	if i := strings.LastIndexByte(address, '!'); i >= 0 {
		sheetName, cell = address[:i], address[i+1:]
		if len(sheetName) >= 2 && sheetName[0] == '\'' && sheetName[len(sheetName)-1] == '\'' {
			sheetName = strings.ReplaceAll(sheetName[1:len(sheetName)-1], "''", "'")
		}
	}
	p, err := expr.ParsePos(strings.ReplaceAll(cell, "$", ""))
	if err != nil {
		return nil, expr.Pos{}, wrapAppError(InvalidArgument, err, "invalid address "+address)
	}
	var s *Sheet
	if sheetName == "" {
		if len(wb.sheets) == 0 {
			return nil, expr.Pos{}, NewApplicationError(NotFound, "workbook has no sheets")
		}
		s = wb.sheets[0]
	} else {
		var ok bool
		if s, ok = wb.Sheet(sheetName); !ok {
			return nil, expr.Pos{}, newAppErrorf(NotFound, "sheet %q not found", sheetName)
		}
	}
	if !s.inBounds(p) {
		return nil, expr.Pos{}, newAppErrorf(OutOfRange, "address %s is outside the sheet", address)
	}
	return s, p, nil
}

// Set enters a value or, for text starting with '=', a formula. with auto
// recalculation on, dirty cells are recomputed before returning.
func (wb *Workbook) Set(address string, input any) error {
	if err := wb.checkAlive(); err != nil {
		return err
	}
	s, p, err := wb.resolveAddress(address)
	if err != nil {
		return err
	}
	if text, ok := input.(string); ok && strings.HasPrefix(text, "=") && len(text) > 1 {
		err = s.SetFormula(p, text)
	} else {
		err = s.SetValue(p, input)
	}
	if err != nil {
		return err
	}
	if wb.settings.Recalc.Auto {
		wb.Recalc()
	}
	return nil
}

// Get returns the value of a cell. a dirty cell is evaluated first so the
// result is never stale.
func (wb *Workbook) Get(address string) (value.Value, error) {
	if err := wb.checkAlive(); err != nil {
		return nil, err
	}
	s, p, err := wb.resolveAddress(address)
	if err != nil {
		return nil, err
	}
	c := s.cells.get(p)
	if c == nil {
		return nil, nil
	}
	if c.NeedsRecalc() {
		c.Dependent.Eval()
	}
	return c.Value(), nil
}

// Remove clears a cell
func (wb *Workbook) Remove(address string) error {
	if err := wb.checkAlive(); err != nil {
		return err
	}
	s, p, err := wb.resolveAddress(address)
	if err != nil {
		return err
	}
	if err := s.ClearCell(p); err != nil {
		return err
	}
	if wb.settings.Recalc.Auto {
		wb.Recalc()
	}
	return nil
}

// Calculate recomputes volatile formulas and everything dirty
func (wb *Workbook) Calculate() error {
	if err := wb.checkAlive(); err != nil {
		return err
	}
	wb.QueueVolatileRecalc()
	wb.Recalc()
	return nil
}
