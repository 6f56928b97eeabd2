package undo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroup_RevertsNewestFirst(t *testing.T) {
	var order []int
	g := NewGroup("edit")
	for i := 1; i <= 3; i++ {
		g.Add(Func(func() { order = append(order, i) }))
	}
	g.Add(nil)

	assert.Equal(t, 3, g.Len())
	g.Undo()
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.NotEmpty(t, g.ID)
	assert.Contains(t, g.String(), "edit")
}

func TestCombine(t *testing.T) {
	var order []string
	a := Func(func() { order = append(order, "a") })
	b := Func(func() { order = append(order, "b") })

	assert.Nil(t, Combine(nil, nil))
	assert.NotNil(t, Combine(a, nil))

	u := Combine(Combine(nil, a), b)
	u.Undo()
	assert.Equal(t, []string{"b", "a"}, order)
}
