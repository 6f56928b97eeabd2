// Package value holds the values that flow through formulas. The recalc
// engine treats them as opaque payloads; only the evaluator and the iteration
// convergence check look inside.
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value represents basic spreadsheet value types.
// types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - nil: empty cells
//   - *Error: error values (#DIV/0!, #REF!, etc.)
//   - *Array: the result of an array formula or a materialized range
type Value any

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeNull  ErrorCode = 1 // #NULL! - no cells in common between ranges
	ErrorCodeDiv0  ErrorCode = 2 // #DIV/0! - division by zero
	ErrorCodeValue ErrorCode = 3 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef   ErrorCode = 4 // #REF! - invalid cell reference
	ErrorCodeName  ErrorCode = 5 // #NAME? - unrecognized function or name
	ErrorCodeNum   ErrorCode = 6 // #NUM! - number too large or small to be represented
	ErrorCodeNA    ErrorCode = 7 // #N/A - not available
	ErrorCodeOther ErrorCode = 8 // #ERROR! - all other errors
)

// ErrorMapper maps error codes to their display strings
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:  "#NULL!",
	ErrorCodeDiv0:  "#DIV/0!",
	ErrorCodeValue: "#VALUE!",
	ErrorCodeRef:   "#REF!",
	ErrorCodeName:  "#NAME?",
	ErrorCodeNum:   "#NUM!",
	ErrorCodeNA:    "#N/A",
	ErrorCodeOther: "#ERROR!",
}

// Error is a cell-level error value. it is a value, not a Go failure: it is
// stored in cells and flows through formulas like any other result.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMapper[e.Code]
}

// String returns the display form, e.g. "#REF!"
func (e *Error) String() string {
	return ErrorMapper[e.Code]
}

// NewError creates an error value. an empty message defaults to the display
// string of the code.
func NewError(code ErrorCode, message string) *Error {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &Error{
		Code:    code,
		Message: message,
	}
}

// ParseError maps a display string like "#REF!" back to an error value
func ParseError(s string) (*Error, bool) {
	for code, text := range ErrorMapper {
		if strings.EqualFold(text, s) {
			return NewError(code, ""), true
		}
	}
	return nil, false
}

// AsError returns v as an error value, or nil
func AsError(v Value) *Error {
	if err, ok := v.(*Error); ok {
		return err
	}
	return nil
}

// Array is a rectangular block of values stored row-major
type Array struct {
	Cols, Rows int
	Cells      []Value
}

// NewArray allocates an empty cols x rows array
func NewArray(cols, rows int) *Array {
	return &Array{Cols: cols, Rows: rows, Cells: make([]Value, cols*rows)}
}

// At returns the value at column x, row y, or #N/A when out of bounds
func (a *Array) At(x, y int) Value {
	if x < 0 || y < 0 || x >= a.Cols || y >= a.Rows {
		return NewError(ErrorCodeNA, "")
	}
	return a.Cells[y*a.Cols+x]
}

// Set stores v at column x, row y
func (a *Array) Set(x, y int, v Value) {
	a.Cells[y*a.Cols+x] = v
}

// ToNumber converts value to number, returning ok=false if conversion fails
func ToNumber(v Value) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return num, true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}

// ToString converts value to its text form
func ToString(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case *Error:
		return x.String()
	case *Array:
		if len(x.Cells) == 0 {
			return ""
		}
		return ToString(x.Cells[0])
	default:
		return fmt.Sprint(x)
	}
}

// IsTruthy checks if value is truthy
func IsTruthy(v Value) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case string:
		return x != ""
	case nil:
		return false
	default:
		return true
	}
}

// Compare compares two values. returns -1 if left < right, 0 if equal,
// 1 if left > right
func Compare(left, right Value) int {
	if left == nil && right == nil {
		return 0
	}
	if left == nil {
		return -1
	}
	if right == nil {
		return 1
	}

	// numeric comparison first
	ln, lok := ToNumber(left)
	rn, rok := ToNumber(right)
	if lok && rok {
		switch {
		case ln < rn:
			return -1
		case ln > rn:
			return 1
		}
		return 0
	}

	lb, lIsBool := left.(bool)
	rb, rIsBool := right.(bool)
	if lIsBool && rIsBool {
		switch {
		case lb == rb:
			return 0
		case !lb && rb:
			return -1
		}
		return 1
	}

	ls := strings.ToLower(ToString(left))
	rs := strings.ToLower(ToString(right))
	switch {
	case ls < rs:
		return -1
	case ls > rs:
		return 1
	}
	return 0
}

// Equal reports whether a and b are the same value, type included. used to
// decide whether a recalculation changed anything.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case float64:
		y, ok := b.(float64)
		return ok && (x == y || (math.IsNaN(x) && math.IsNaN(y)))
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case *Error:
		y, ok := b.(*Error)
		return ok && x.Code == y.Code
	case *Array:
		y, ok := b.(*Array)
		if !ok || x.Cols != y.Cols || x.Rows != y.Rows {
			return false
		}
		for i := range x.Cells {
			if !Equal(x.Cells[i], y.Cells[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Diff measures how far apart two successive iteration results are. numbers
// compare by absolute difference; equal non-numbers are 0 apart and anything
// else is infinitely far apart.
func Diff(a, b Value) float64 {
	if Equal(a, b) {
		return 0
	}
	x, xok := a.(float64)
	y, yok := b.(float64)
	if a == nil {
		x, xok = 0, true
	}
	if b == nil {
		y, yok = 0, true
	}
	if xok && yok {
		return math.Abs(x - y)
	}
	xa, aok := a.(*Array)
	ya, bok := b.(*Array)
	if aok && bok && xa.Cols == ya.Cols && xa.Rows == ya.Rows {
		worst := 0.0
		for i := range xa.Cells {
			worst = math.Max(worst, Diff(xa.Cells[i], ya.Cells[i]))
		}
		return worst
	}
	return math.Inf(1)
}
