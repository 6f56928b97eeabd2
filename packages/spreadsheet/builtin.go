package spreadsheet

import (
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// Range is a lazily iterated block of values passed to functions
type Range interface {
	IterateValues() iter.Seq[value.Value]
}

// BuiltInFunctions contains the value functions of the default evaluator
type BuiltInFunctions struct {
	clock Clock
	rng   RandomGenerator
}

// NewDefaultBuiltInFunctions creates a BuiltInFunctions with default
// implementations
func NewDefaultBuiltInFunctions() *BuiltInFunctions {
	return &BuiltInFunctions{
		clock: &WallClock{},
		rng:   &DefaultRandomGenerator{},
	}
}

// NewBuiltInFunctions creates a BuiltInFunctions with the given clock and
// random source
func NewBuiltInFunctions(clock Clock, rng RandomGenerator) *BuiltInFunctions {
	return &BuiltInFunctions{clock: clock, rng: rng}
}

type builtinFunc func(bf *BuiltInFunctions, args ...any) (value.Value, error)

type builtin struct {
	fn       builtinFunc
	volatile bool
}

var builtins = map[string]builtin{
	"SUM":         {fn: (*BuiltInFunctions).SUM},
	"AVERAGE":     {fn: (*BuiltInFunctions).AVERAGE},
	"COUNT":       {fn: (*BuiltInFunctions).COUNT},
	"COUNTA":      {fn: (*BuiltInFunctions).COUNTA},
	"MAX":         {fn: (*BuiltInFunctions).MAX},
	"MIN":         {fn: (*BuiltInFunctions).MIN},
	"IF":          {fn: (*BuiltInFunctions).IF},
	"AND":         {fn: (*BuiltInFunctions).AND},
	"OR":          {fn: (*BuiltInFunctions).OR},
	"NOT":         {fn: (*BuiltInFunctions).NOT},
	"CONCATENATE": {fn: (*BuiltInFunctions).CONCATENATE},
	"LEN":         {fn: (*BuiltInFunctions).LEN},
	"UPPER":       {fn: (*BuiltInFunctions).UPPER},
	"LOWER":       {fn: (*BuiltInFunctions).LOWER},
	"ABS":         {fn: (*BuiltInFunctions).ABS},
	"ROUND":       {fn: (*BuiltInFunctions).ROUND},
	"MOD":         {fn: (*BuiltInFunctions).MOD},
	"PI":          {fn: (*BuiltInFunctions).PI},
	"NOW":         {fn: (*BuiltInFunctions).NOW, volatile: true},
	"TODAY":       {fn: (*BuiltInFunctions).TODAY, volatile: true},
	"RAND":        {fn: (*BuiltInFunctions).RAND, volatile: true},
}

// Call invokes a built-in function by name with the given arguments
func (bf *BuiltInFunctions) Call(name string, args ...any) (value.Value, error) {
	b, ok := builtins[strings.ToUpper(name)]
	if !ok {
		return nil, value.NewError(value.ErrorCodeName, fmt.Sprintf("Unknown function: %s", name))
	}
	return b.fn(bf, args...)
}

// checkForError returns the error if v is a *value.Error, nil otherwise
func checkForError(v any) *value.Error {
	if err, ok := v.(*value.Error); ok {
		return err
	}
	return nil
}

func firstError(args []any) *value.Error {
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return err
		}
	}
	return nil
}

func arity(name string, args []any, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return value.NewError(value.ErrorCodeNA, fmt.Sprintf("%s requires exactly %d argument(s)", name, lo))
		}
		return value.NewError(value.ErrorCodeNA, fmt.Sprintf("%s requires %d to %d arguments", name, lo, hi))
	}
	return nil
}

// eachNumber feeds the numeric content of args to fn. values inside ranges
// are skipped unless numeric; errors anywhere propagate.
func eachNumber(args []any, fn func(float64)) error {
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return err
		}
		if r, ok := arg.(Range); ok {
			for v := range r.IterateValues() {
				if err := checkForError(v); err != nil {
					return err
				}
				if num, ok := v.(float64); ok && !math.IsNaN(num) {
					fn(num)
				}
			}
			continue
		}
		if num, ok := value.ToNumber(arg); ok && !math.IsNaN(num) {
			fn(num)
		}
	}
	return nil
}

func (bf *BuiltInFunctions) SUM(args ...any) (value.Value, error) {
	sum := 0.0
	if err := eachNumber(args, func(n float64) { sum += n }); err != nil {
		return nil, err
	}
	rounded, _ := strconv.ParseFloat(fmt.Sprintf("%.15f", sum), 64)
	return rounded, nil
}

func (bf *BuiltInFunctions) AVERAGE(args ...any) (value.Value, error) {
	sum, count := 0.0, 0
	if err := eachNumber(args, func(n float64) { sum += n; count++ }); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, value.NewError(value.ErrorCodeDiv0, "Division by zero")
	}
	return sum / float64(count), nil
}

func (bf *BuiltInFunctions) COUNT(args ...any) (value.Value, error) {
	count := 0
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		if r, ok := arg.(Range); ok {
			// errors inside ranges are skipped, not propagated
			for v := range r.IterateValues() {
				if _, ok := v.(float64); ok {
					count++
				}
			}
			continue
		}
		if _, ok := arg.(float64); ok {
			count++
		}
	}
	return float64(count), nil
}

func (bf *BuiltInFunctions) COUNTA(args ...any) (value.Value, error) {
	count := 0
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		if r, ok := arg.(Range); ok {
			for v := range r.IterateValues() {
				if v != nil {
					count++
				}
			}
			continue
		}
		count++
	}
	return float64(count), nil
}

func (bf *BuiltInFunctions) MAX(args ...any) (value.Value, error) {
	best, seen := math.Inf(-1), false
	if err := eachNumber(args, func(n float64) { best = math.Max(best, n); seen = true }); err != nil {
		return nil, err
	}
	if !seen {
		return 0.0, nil
	}
	return best, nil
}

func (bf *BuiltInFunctions) MIN(args ...any) (value.Value, error) {
	best, seen := math.Inf(1), false
	if err := eachNumber(args, func(n float64) { best = math.Min(best, n); seen = true }); err != nil {
		return nil, err
	}
	if !seen {
		return 0.0, nil
	}
	return best, nil
}

func (bf *BuiltInFunctions) IF(args ...any) (value.Value, error) {
	if err := arity("IF", args, 2, 3); err != nil {
		return nil, err
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	if value.IsTruthy(args[0]) {
		return args[1], nil
	}
	if len(args) == 3 {
		return args[2], nil
	}
	return false, nil
}

func (bf *BuiltInFunctions) AND(args ...any) (value.Value, error) {
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		if !value.IsTruthy(arg) {
			return false, nil
		}
	}
	return true, nil
}

func (bf *BuiltInFunctions) OR(args ...any) (value.Value, error) {
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		if value.IsTruthy(arg) {
			return true, nil
		}
	}
	return false, nil
}

func (bf *BuiltInFunctions) NOT(args ...any) (value.Value, error) {
	if err := arity("NOT", args, 1, 1); err != nil {
		return nil, err
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	return !value.IsTruthy(args[0]), nil
}

func (bf *BuiltInFunctions) CONCATENATE(args ...any) (value.Value, error) {
	if err := firstError(args); err != nil {
		return nil, err
	}
	var result strings.Builder
	for _, arg := range args {
		result.WriteString(value.ToString(arg))
	}
	return result.String(), nil
}

// text applies fn to the single text argument of a string function
func text(name string, args []any, fn func(string) value.Value) (value.Value, error) {
	if err := arity(name, args, 1, 1); err != nil {
		return nil, err
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	return fn(value.ToString(args[0])), nil
}

func (bf *BuiltInFunctions) LEN(args ...any) (value.Value, error) {
	return text("LEN", args, func(s string) value.Value { return float64(len(s)) })
}

func (bf *BuiltInFunctions) UPPER(args ...any) (value.Value, error) {
	return text("UPPER", args, func(s string) value.Value { return strings.ToUpper(s) })
}

func (bf *BuiltInFunctions) LOWER(args ...any) (value.Value, error) {
	return text("LOWER", args, func(s string) value.Value { return strings.ToLower(s) })
}

// numbers converts every argument of a numeric function
func numbers(name string, args []any) ([]float64, error) {
	if err := firstError(args); err != nil {
		return nil, err
	}
	out := make([]float64, len(args))
	for i, arg := range args {
		num, ok := value.ToNumber(arg)
		if !ok {
			return nil, value.NewError(value.ErrorCodeValue, name+" requires numeric arguments")
		}
		out[i] = num
	}
	return out, nil
}

func (bf *BuiltInFunctions) ABS(args ...any) (value.Value, error) {
	if err := arity("ABS", args, 1, 1); err != nil {
		return nil, err
	}
	nums, err := numbers("ABS", args)
	if err != nil {
		return nil, err
	}
	return math.Abs(nums[0]), nil
}

func (bf *BuiltInFunctions) ROUND(args ...any) (value.Value, error) {
	if err := arity("ROUND", args, 1, 2); err != nil {
		return nil, err
	}
	nums, err := numbers("ROUND", args)
	if err != nil {
		return nil, err
	}
	places := 0.0
	if len(nums) == 2 {
		places = nums[1]
	}
	multiplier := math.Pow(10, places)
	return math.Round(nums[0]*multiplier) / multiplier, nil
}

func (bf *BuiltInFunctions) MOD(args ...any) (value.Value, error) {
	if err := arity("MOD", args, 2, 2); err != nil {
		return nil, err
	}
	nums, err := numbers("MOD", args)
	if err != nil {
		return nil, err
	}
	if nums[1] == 0 {
		return nil, value.NewError(value.ErrorCodeDiv0, "Division by zero")
	}
	return math.Mod(nums[0], nums[1]), nil
}

func (bf *BuiltInFunctions) PI(args ...any) (value.Value, error) {
	if err := arity("PI", args, 0, 0); err != nil {
		return nil, err
	}
	return math.Pi, nil
}

// Excel date/time constants
const (
	// Excel epoch: December 30, 1899 00:00:00 UTC in Unix milliseconds
	EXCEL_EPOCH_MS = -2209161600000
	MS_PER_DAY     = 86400000 // milliseconds in a day
)

func (bf *BuiltInFunctions) NOW(args ...any) (value.Value, error) {
	if err := arity("NOW", args, 0, 0); err != nil {
		return nil, err
	}
	// current time as Excel serial number (days since Excel epoch)
	now := bf.clock.Now()
	return float64(now.UnixMilli()-EXCEL_EPOCH_MS) / MS_PER_DAY, nil
}

func (bf *BuiltInFunctions) TODAY(args ...any) (value.Value, error) {
	if err := arity("TODAY", args, 0, 0); err != nil {
		return nil, err
	}
	now := bf.clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return math.Floor(float64(midnight.UnixMilli()-EXCEL_EPOCH_MS) / MS_PER_DAY), nil
}

func (bf *BuiltInFunctions) RAND(args ...any) (value.Value, error) {
	if err := arity("RAND", args, 0, 0); err != nil {
		return nil, err
	}
	return bf.rng.Float64(), nil
}
