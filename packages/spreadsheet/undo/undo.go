// Package undo provides undo records for structural edits. A record is a
// closure over whatever state it needs to restore; groups collect records
// and revert them newest first.
package undo

import (
	"strings"

	"github.com/google/uuid"
)

// Undo reverts one change
type Undo interface {
	Undo()
}

// Func adapts a plain function to Undo
type Func func()

func (f Func) Undo() { f() }

// Group is an ordered collection of undo records reverted as one step
type Group struct {
	ID    string
	Label string
	items []Undo
}

// NewGroup creates an empty group with a fresh time-ordered id
func NewGroup(label string) *Group {
	return &Group{
		ID:    uuid.Must(uuid.NewV7()).String(),
		Label: label,
	}
}

// Add appends u. nil records are dropped.
func (g *Group) Add(u Undo) {
	if u == nil {
		return
	}
	g.items = append(g.items, u)
}

// Len returns the number of records in the group
func (g *Group) Len() int {
	return len(g.items)
}

// Undo reverts the records newest first
func (g *Group) Undo() {
	for i := len(g.items) - 1; i >= 0; i-- {
		g.items[i].Undo()
	}
}

func (g *Group) String() string {
	var sb strings.Builder
	sb.WriteString(g.Label)
	if g.Label == "" {
		sb.WriteString("undo")
	}
	sb.WriteString(" [")
	sb.WriteString(g.ID)
	sb.WriteString("]")
	return sb.String()
}

// Combine joins two records so that b is reverted before a. either may be
// nil.
func Combine(a, b Undo) Undo {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	if g, ok := a.(*Group); ok {
		g.Add(b)
		return g
	}
	g := NewGroup("")
	g.Add(a)
	g.Add(b)
	return g
}
