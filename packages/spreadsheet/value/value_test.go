package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewError_DefaultMessage(t *testing.T) {
	err := NewError(ErrorCodeRef, "")
	assert.Equal(t, "#REF!", err.Error())
	assert.Equal(t, "#REF!", err.String())

	err = NewError(ErrorCodeDiv0, "Division by zero")
	assert.Equal(t, "Division by zero", err.Error())
	assert.Equal(t, "#DIV/0!", err.String())
}

func TestParseError(t *testing.T) {
	err, ok := ParseError("#ref!")
	assert.True(t, ok)
	assert.Equal(t, ErrorCodeRef, err.Code)

	_, ok = ParseError("#NOPE")
	assert.False(t, ok)
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"numbers", 1.0, 1.0, true},
		{"different numbers", 1.0, 2.0, false},
		{"number vs string", 1.0, "1", false},
		{"nil", nil, nil, true},
		{"nil vs zero", nil, 0.0, false},
		{"errors by code", NewError(ErrorCodeRef, "a"), NewError(ErrorCodeRef, "b"), true},
		{"different errors", NewError(ErrorCodeRef, ""), NewError(ErrorCodeNA, ""), false},
		{"nan", math.NaN(), math.NaN(), true},
		{"arrays", &Array{Cols: 1, Rows: 1, Cells: []Value{1.0}}, &Array{Cols: 1, Rows: 1, Cells: []Value{1.0}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestDiff(t *testing.T) {
	assert.Equal(t, 0.0, Diff(1.0, 1.0))
	assert.InDelta(t, 0.5, Diff(1.0, 1.5), 1e-12)
	assert.Equal(t, 2.0, Diff(nil, 2.0))
	assert.True(t, math.IsInf(Diff("a", 1.0), 1))
	assert.Equal(t, 0.0, Diff("a", "a"))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(1.0, 2.0))
	assert.Equal(t, 0, Compare("abc", "ABC"))
	assert.Equal(t, 1, Compare(true, false))
	assert.Equal(t, -1, Compare(nil, 1.0))
}

func TestArray_At(t *testing.T) {
	a := NewArray(2, 2)
	a.Set(1, 0, 5.0)
	assert.Equal(t, 5.0, a.At(1, 0))
	assert.Nil(t, a.At(0, 1))
	assert.Equal(t, ErrorCodeNA, AsError(a.At(2, 0)).Code)
}

func TestToString(t *testing.T) {
	assert.Equal(t, "12", ToString(12.0))
	assert.Equal(t, "TRUE", ToString(true))
	assert.Equal(t, "#N/A", ToString(NewError(ErrorCodeNA, "")))
	assert.Equal(t, "", ToString(nil))
}
