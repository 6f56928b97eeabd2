package spreadsheet

import (
	"iter"
	"math"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// Evaluator computes expression trees. the engine only decides when and in
// which order dependents are evaluated; the meaning of the tree is the
// evaluator's.
type Evaluator interface {
	// Evaluate computes n for the dependent in ctx. failures are returned as
	// *value.Error values.
	Evaluate(ctx *EvalContext, n expr.Node) value.Value
	// Function describes a function name for linking and volatility checks
	Function(name string) (FunctionInfo, bool)
}

// FunctionInfo is what the engine needs to know about a function
type FunctionInfo struct {
	// Volatile functions are recomputed by every QueueVolatileRecalc
	Volatile bool
	// Link is called instead of, or before, linking the call's arguments
	Link LinkFunc
}

// EvalContext is the dependent being evaluated and the position relative
// references resolve from
type EvalContext struct {
	wb    *Workbook
	Dep   *Dependent
	Sheet *Sheet
	Pos   expr.Pos
}

func (ctx *EvalContext) Workbook() *Workbook { return ctx.wb }

// CellValue returns the value of a cell, evaluating it first when dirty
func (ctx *EvalContext) CellValue(s *Sheet, p expr.Pos) value.Value {
	if s == nil || s.deps == nil || !s.inBounds(p) {
		return value.NewError(value.ErrorCodeRef, "")
	}
	c := s.cells.get(p)
	if c == nil {
		return nil
	}
	if c.NeedsRecalc() {
		c.Dependent.Eval()
	}
	return c.Value()
}

// RegisterDynamicRef records a reference computed during this evaluation
func (ctx *EvalContext) RegisterDynamicRef(ref expr.Node) {
	if ctx.Dep != nil {
		ctx.Dep.RegisterDynamicRef(ctx.Pos, ref)
	}
}

// maxDenseRange is the largest area iterated position by position. larger
// ranges only visit stored cells.
const maxDenseRange = 65536

// CellRange is a reference value: a rectangle over one or more sheets
type CellRange struct {
	ctx    *EvalContext
	Sheets []*Sheet
	Area   expr.Range
}

// IterateValues yields the values of the range, sheet by sheet in row-major
// order. empty cells yield nil unless the range is too large to visit densely.
func (r *CellRange) IterateValues() iter.Seq[value.Value] {
	return func(yield func(value.Value) bool) {
		area := r.Area.Width() * r.Area.Height()
		for _, s := range r.Sheets {
			if area > maxDenseRange {
				for _, c := range s.cells.cellsIn(r.Area) {
					if !yield(r.ctx.CellValue(s, c.pos)) {
						return
					}
				}
				continue
			}
			for row := r.Area.Start.Row; row <= r.Area.End.Row; row++ {
				for col := r.Area.Start.Col; col <= r.Area.End.Col; col++ {
					if !yield(r.ctx.CellValue(s, expr.Pos{Col: col, Row: row})) {
						return
					}
				}
			}
		}
	}
}

func (r *CellRange) single() bool {
	return len(r.Sheets) == 1 && r.Area.IsSingle()
}

// rangeList is the value of a reference union, e.g. SUM((A1,B2:B3))
type rangeList []*CellRange

func (l rangeList) IterateValues() iter.Seq[value.Value] {
	return func(yield func(value.Value) bool) {
		for _, r := range l {
			for v := range r.IterateValues() {
				if !yield(v) {
					return
				}
			}
		}
	}
}

type refFunc func(e *DefaultEvaluator, ctx *EvalContext, call *expr.FunctionCallNode) any

type refFunction struct {
	fn   refFunc
	link LinkFunc
}

// geometryOnly links nothing: the function reads the shape of its
// reference, not the cells
func geometryOnly(*Dependent, expr.Pos, *expr.FunctionCallNode, bool) DepFlags {
	return IgnoreArgs
}

// refFunctions is filled in init: the functions reach back into it through
// eval
var refFunctions map[string]refFunction

func init() {
	refFunctions = map[string]refFunction{
		"INDIRECT": {fn: (*DefaultEvaluator).indirect},
		"OFFSET":   {fn: (*DefaultEvaluator).offset},
		"ROW":      {fn: (*DefaultEvaluator).row, link: geometryOnly},
		"COLUMN":   {fn: (*DefaultEvaluator).column, link: geometryOnly},
		"ROWS":     {fn: (*DefaultEvaluator).rows, link: geometryOnly},
		"COLUMNS":  {fn: (*DefaultEvaluator).columns, link: geometryOnly},
	}
}

// DefaultEvaluator is the evaluator used when a workbook is created without
// one: the operators, a small function library and the reference functions
// INDIRECT, OFFSET, ROW, COLUMN, ROWS and COLUMNS
type DefaultEvaluator struct {
	functions *BuiltInFunctions
}

func NewDefaultEvaluator() *DefaultEvaluator {
	return &DefaultEvaluator{functions: NewDefaultBuiltInFunctions()}
}

// NewEvaluator creates a default evaluator over the given function library
func NewEvaluator(functions *BuiltInFunctions) *DefaultEvaluator {
	return &DefaultEvaluator{functions: functions}
}

func (e *DefaultEvaluator) Function(name string) (FunctionInfo, bool) {
	name = strings.ToUpper(name)
	if rf, ok := refFunctions[name]; ok {
		return FunctionInfo{Link: rf.link}, true
	}
	if b, ok := builtins[name]; ok {
		return FunctionInfo{Volatile: b.volatile}, true
	}
	return FunctionInfo{}, false
}

func (e *DefaultEvaluator) Evaluate(ctx *EvalContext, n expr.Node) value.Value {
	if corner, ok := n.(*expr.ArrayCornerNode); ok {
		return e.toArray(e.eval(ctx, corner.Expr), corner.Cols, corner.Rows)
	}
	return e.scalar(e.eval(ctx, n))
}

// scalar reduces a reference to the value of its only cell
func (e *DefaultEvaluator) scalar(v any) value.Value {
	switch x := v.(type) {
	case *CellRange:
		if !x.single() {
			return value.NewError(value.ErrorCodeValue, "range used as a value")
		}
		return x.ctx.CellValue(x.Sheets[0], x.Area.Start)
	case rangeList:
		return value.NewError(value.ErrorCodeValue, "reference union used as a value")
	}
	return v
}

// toArray shapes the result of an array formula into cols x rows. scalars
// fill the whole array.
func (e *DefaultEvaluator) toArray(v any, cols, rows int) *value.Array {
	arr := value.NewArray(cols, rows)
	switch x := v.(type) {
	case *CellRange:
		sheet := x.Sheets[0]
		for y := range rows {
			for i := range cols {
				if i < x.Area.Width() && y < x.Area.Height() {
					arr.Set(i, y, x.ctx.CellValue(sheet, x.Area.Start.Offset(i, y)))
				} else {
					arr.Set(i, y, value.NewError(value.ErrorCodeNA, ""))
				}
			}
		}
	case *value.Array:
		for y := range rows {
			for i := range cols {
				arr.Set(i, y, x.At(i, y))
			}
		}
	default:
		s := e.scalar(v)
		for i := range arr.Cells {
			arr.Cells[i] = s
		}
	}
	return arr
}

// eval computes n. the result is a value, or a *CellRange or rangeList for
// references.
func (e *DefaultEvaluator) eval(ctx *EvalContext, n expr.Node) any {
	switch n := n.(type) {
	case *expr.ConstantNode:
		return n.Value
	case *expr.CellRefNode:
		s := e.sheetFor(ctx, n.Ref.Sheet)
		return ctx.CellValue(s, n.Ref.Resolve(ctx.Pos))
	case *expr.RangeNode:
		if r := e.rangeRef(ctx, n); r != nil {
			return r
		}
		return value.NewError(value.ErrorCodeRef, "")
	case *expr.NameNode:
		nm, _ := n.Target.(*Name)
		if nm == nil || !nm.Active() {
			return value.NewError(value.ErrorCodeName, "unknown name "+n.Name)
		}
		return e.eval(ctx, nm.expr.Root)
	case *expr.FunctionCallNode:
		return e.call(ctx, n)
	case *expr.UnaryOpNode:
		return e.unary(n.Op, e.scalar(e.eval(ctx, n.Operand)))
	case *expr.BinaryOpNode:
		if n.Op == expr.BinOpRange || n.Op == expr.BinOpIntersect {
			return e.refOp(ctx, n)
		}
		return e.binary(n.Op, e.scalar(e.eval(ctx, n.Left)), e.scalar(e.eval(ctx, n.Right)))
	case *expr.ArrayCornerNode:
		return e.toArray(e.eval(ctx, n.Expr), n.Cols, n.Rows)
	case *expr.ArrayElemNode:
		return e.arrayElem(ctx, n)
	case *expr.SetNode:
		var list rangeList
		for _, it := range n.Items {
			r, ok := e.eval(ctx, it).(*CellRange)
			if !ok {
				return value.NewError(value.ErrorCodeValue, "union of non-references")
			}
			list = append(list, r)
		}
		return list
	}
	return value.NewError(value.ErrorCodeValue, "unsupported expression")
}

func (e *DefaultEvaluator) sheetFor(ctx *EvalContext, ref expr.Sheet) *Sheet {
	if ref == nil {
		return ctx.Sheet
	}
	return sheetOf(ref)
}

func (e *DefaultEvaluator) rangeRef(ctx *EvalContext, n *expr.RangeNode) *CellRange {
	area := n.Resolve(ctx.Pos)
	if area.Start.Row < 0 || area.Start.Col < 0 {
		return nil
	}
	if !n.Is3D() {
		s := e.sheetFor(ctx, n.Start.Sheet)
		if s == nil {
			return nil
		}
		return &CellRange{ctx: ctx, Sheets: []*Sheet{s}, Area: area}
	}
	a, b := sheetOf(n.Start.Sheet), sheetOf(n.End.Sheet)
	if a == nil || b == nil || a.wb != b.wb {
		return nil
	}
	i, j := a.wb.sheetIndex(a), a.wb.sheetIndex(b)
	if i < 0 || j < 0 {
		return nil
	}
	if i > j {
		i, j = j, i
	}
	sheets := append([]*Sheet(nil), a.wb.sheets[i:j+1]...)
	return &CellRange{ctx: ctx, Sheets: sheets, Area: area}
}

// ref evaluates n in a reference context: cell references become ranges
func (e *DefaultEvaluator) ref(ctx *EvalContext, n expr.Node) (*CellRange, bool) {
	if cr, ok := n.(*expr.CellRefNode); ok {
		s := e.sheetFor(ctx, cr.Ref.Sheet)
		p := cr.Ref.Resolve(ctx.Pos)
		if s == nil || p.Row < 0 || p.Col < 0 {
			return nil, false
		}
		return &CellRange{ctx: ctx, Sheets: []*Sheet{s}, Area: expr.SingleRange(p)}, true
	}
	if nn, ok := n.(*expr.NameNode); ok {
		if nm, _ := nn.Target.(*Name); nm != nil && nm.Active() {
			return e.ref(ctx, nm.expr.Root)
		}
		return nil, false
	}
	r, ok := e.eval(ctx, n).(*CellRange)
	return r, ok
}

// refOp implements the range constructor and the intersection operator
func (e *DefaultEvaluator) refOp(ctx *EvalContext, n *expr.BinaryOpNode) any {
	l, lok := e.ref(ctx, n.Left)
	r, rok := e.ref(ctx, n.Right)
	if !lok || !rok || len(l.Sheets) != 1 || len(r.Sheets) != 1 || l.Sheets[0] != r.Sheets[0] {
		return value.NewError(value.ErrorCodeValue, "operands must be references on one sheet")
	}
	a, b := l.Area, r.Area
	if n.Op == expr.BinOpRange {
		area := expr.NewRange(
			min(a.Start.Col, b.Start.Col), min(a.Start.Row, b.Start.Row),
			max(a.End.Col, b.End.Col), max(a.End.Row, b.End.Row))
		return &CellRange{ctx: ctx, Sheets: l.Sheets, Area: area}
	}
	if !a.Overlaps(b) {
		return value.NewError(value.ErrorCodeNull, "")
	}
	area := expr.NewRange(
		max(a.Start.Col, b.Start.Col), max(a.Start.Row, b.Start.Row),
		min(a.End.Col, b.End.Col), min(a.End.Row, b.End.Row))
	return &CellRange{ctx: ctx, Sheets: l.Sheets, Area: area}
}

// arrayElem reads this cell's element out of the corner's result
func (e *DefaultEvaluator) arrayElem(ctx *EvalContext, n *expr.ArrayElemNode) any {
	if ctx.Sheet == nil {
		return value.NewError(value.ErrorCodeRef, "")
	}
	corner := ctx.Sheet.cells.get(ctx.Pos.Offset(-n.X, -n.Y))
	if corner == nil || corner.expr.ArrayCorner() == nil {
		return value.NewError(value.ErrorCodeRef, "array corner missing")
	}
	if corner.NeedsRecalc() {
		corner.Dependent.Eval()
	}
	arr, ok := corner.value.(*value.Array)
	if !ok {
		return corner.value
	}
	return arr.At(n.X, n.Y)
}

func (e *DefaultEvaluator) call(ctx *EvalContext, n *expr.FunctionCallNode) any {
	if rf, ok := refFunctions[n.Name]; ok {
		return rf.fn(e, ctx, n)
	}
	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		v := e.eval(ctx, a)
		if r, ok := v.(*CellRange); ok && r.single() {
			// a written range stays a range; INDIRECT("A1") is a value
			if _, written := a.(*expr.RangeNode); !written {
				v = e.scalar(r)
			}
		}
		args[i] = v
	}
	result, err := e.functions.Call(n.Name, args...)
	if err != nil {
		if ve, ok := err.(*value.Error); ok {
			return ve
		}
		return value.NewError(value.ErrorCodeValue, err.Error())
	}
	return result
}

func (e *DefaultEvaluator) unary(op expr.UnaryOp, v value.Value) value.Value {
	if err := checkForError(v); err != nil {
		return err
	}
	num, ok := value.ToNumber(v)
	if !ok {
		return value.NewError(value.ErrorCodeValue, "unary operator requires a numeric value")
	}
	switch op {
	case expr.UnaryOpPlus:
		return num
	case expr.UnaryOpMinus:
		return -num
	case expr.UnaryOpPercent:
		return num / 100.0
	}
	return value.NewError(value.ErrorCodeValue, "Unknown unary operator")
}

func (e *DefaultEvaluator) binary(op expr.BinaryOp, l, r value.Value) value.Value {
	// propagate errors
	if err := checkForError(l); err != nil {
		return err
	}
	if err := checkForError(r); err != nil {
		return err
	}

	switch op {
	case expr.BinOpConcat:
		return value.ToString(l) + value.ToString(r)
	case expr.BinOpEqual:
		return value.Compare(l, r) == 0
	case expr.BinOpNotEqual:
		return value.Compare(l, r) != 0
	case expr.BinOpLess:
		return value.Compare(l, r) < 0
	case expr.BinOpLessEqual:
		return value.Compare(l, r) <= 0
	case expr.BinOpGreater:
		return value.Compare(l, r) > 0
	case expr.BinOpGreaterEqual:
		return value.Compare(l, r) >= 0
	}

	ln, lok := value.ToNumber(l)
	rn, rok := value.ToNumber(r)
	if !lok || !rok {
		return value.NewError(value.ErrorCodeValue, op.String()+" requires numeric values")
	}
	switch op {
	case expr.BinOpAdd:
		return ln + rn
	case expr.BinOpSubtract:
		return ln - rn
	case expr.BinOpMultiply:
		return ln * rn
	case expr.BinOpDivide:
		if rn == 0 {
			return value.NewError(value.ErrorCodeDiv0, "Division by zero")
		}
		return ln / rn
	case expr.BinOpPower:
		return math.Pow(ln, rn)
	}
	return value.NewError(value.ErrorCodeValue, "Unknown operator")
}

// indirect resolves its text argument as a reference and registers it as a
// dynamic dependency of the caller
func (e *DefaultEvaluator) indirect(ctx *EvalContext, n *expr.FunctionCallNode) any {
	if len(n.Args) != 1 {
		return value.NewError(value.ErrorCodeNA, "INDIRECT requires exactly 1 argument")
	}
	arg := e.scalar(e.eval(ctx, n.Args[0]))
	if err := checkForError(arg); err != nil {
		return err
	}
	var parsed expr.Node
	var err error
	if ctx.wb != nil {
		parsed, err = expr.ParseNode(value.ToString(arg), ctx.wb.parseContext(ctx.Sheet, ctx.Pos))
	}
	if parsed == nil || err != nil {
		return value.NewError(value.ErrorCodeRef, "invalid reference text")
	}
	switch parsed.(type) {
	case *expr.CellRefNode, *expr.RangeNode:
	default:
		return value.NewError(value.ErrorCodeRef, "not a reference")
	}
	ctx.RegisterDynamicRef(parsed)
	r, ok := e.ref(ctx, parsed)
	if !ok {
		return value.NewError(value.ErrorCodeRef, "")
	}
	return r
}

// offset shifts and resizes its base reference and registers the result as
// a dynamic dependency of the caller
func (e *DefaultEvaluator) offset(ctx *EvalContext, n *expr.FunctionCallNode) any {
	if len(n.Args) < 3 || len(n.Args) > 5 {
		return value.NewError(value.ErrorCodeNA, "OFFSET requires 3 to 5 arguments")
	}
	base, ok := e.ref(ctx, n.Args[0])
	if !ok || len(base.Sheets) != 1 {
		return value.NewError(value.ErrorCodeValue, "OFFSET requires a reference")
	}
	nums := make([]int, 0, 4)
	for _, a := range n.Args[1:] {
		v := e.scalar(e.eval(ctx, a))
		if err := checkForError(v); err != nil {
			return err
		}
		f, ok := value.ToNumber(v)
		if !ok {
			return value.NewError(value.ErrorCodeValue, "OFFSET requires numeric arguments")
		}
		nums = append(nums, int(math.Trunc(f)))
	}
	height, width := base.Area.Height(), base.Area.Width()
	if len(nums) > 2 {
		height = nums[2]
	}
	if len(nums) > 3 {
		width = nums[3]
	}
	if height < 1 || width < 1 {
		return value.NewError(value.ErrorCodeRef, "")
	}
	start := base.Area.Start.Offset(nums[1], nums[0])
	end := start.Offset(width-1, height-1)
	s := base.Sheets[0]
	if !s.inBounds(start) || !s.inBounds(end) {
		return value.NewError(value.ErrorCodeRef, "")
	}
	ref := &expr.RangeNode{
		Start: expr.CellRef{Sheet: s, Col: start.Col, Row: start.Row},
		End:   expr.CellRef{Sheet: s, Col: end.Col, Row: end.Row},
	}
	ctx.RegisterDynamicRef(ref)
	return &CellRange{ctx: ctx, Sheets: []*Sheet{s}, Area: expr.Range{Start: start, End: end}}
}

// geometry evaluates the optional reference argument of ROW and friends.
// without one the caller's own cell is used.
func (e *DefaultEvaluator) geometry(ctx *EvalContext, n *expr.FunctionCallNode, name string) (expr.Range, *value.Error) {
	switch len(n.Args) {
	case 0:
		return expr.SingleRange(ctx.Pos), nil
	case 1:
		r, ok := e.ref(ctx, n.Args[0])
		if !ok {
			return expr.Range{}, value.NewError(value.ErrorCodeValue, name+" requires a reference")
		}
		return r.Area, nil
	}
	return expr.Range{}, value.NewError(value.ErrorCodeNA, name+" takes at most 1 argument")
}

func (e *DefaultEvaluator) row(ctx *EvalContext, n *expr.FunctionCallNode) any {
	r, err := e.geometry(ctx, n, "ROW")
	if err != nil {
		return err
	}
	return float64(r.Start.Row + 1)
}

func (e *DefaultEvaluator) column(ctx *EvalContext, n *expr.FunctionCallNode) any {
	r, err := e.geometry(ctx, n, "COLUMN")
	if err != nil {
		return err
	}
	return float64(r.Start.Col + 1)
}

func (e *DefaultEvaluator) rows(ctx *EvalContext, n *expr.FunctionCallNode) any {
	r, err := e.geometry(ctx, n, "ROWS")
	if err != nil {
		return err
	}
	return float64(r.Height())
}

func (e *DefaultEvaluator) columns(ctx *EvalContext, n *expr.FunctionCallNode) any {
	r, err := e.geometry(ctx, n, "COLUMNS")
	if err != nil {
		return err
	}
	return float64(r.Width())
}
