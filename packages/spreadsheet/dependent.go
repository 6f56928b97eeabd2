package spreadsheet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
)

// DepFlags is the state and linkage summary of a dependent
type DepFlags uint32

const (
	// NeedsRecalc is set when the dependent's result is stale. only a
	// completed evaluation clears it.
	NeedsRecalc DepFlags = 1 << iota
	// BeingCalculated is set while an evaluation frame for the dependent is
	// open
	BeingCalculated
	// BeingIterated marks the driver of a circular reference for the
	// current round
	BeingIterated
	// IsLinked is set while every edge of the expression is in the indices
	IsLinked
	GoesIntersheet
	GoesInterbook
	Has3D
	UsesName
	HasDynamicDeps
	// Queued is set while the dependent waits in its workbook's deferred
	// queue
	Queued
	// Flagged is scratch state for collection passes. it is always clear
	// between operations.
	Flagged
	// IgnoreArgs is returned by a function link hook to stop the walker from
	// linking the call's arguments. it is never stored.
	IgnoreArgs
)

// linkFlags are the flags derived from linking, cleared by Unlink
const linkFlags = IsLinked | GoesIntersheet | GoesInterbook | Has3D | UsesName

var depFlagNames = []struct {
	flag DepFlags
	name string
}{
	{NeedsRecalc, "needs-recalc"},
	{BeingCalculated, "being-calculated"},
	{BeingIterated, "being-iterated"},
	{IsLinked, "linked"},
	{GoesIntersheet, "intersheet"},
	{GoesInterbook, "interbook"},
	{Has3D, "3d"},
	{UsesName, "uses-name"},
	{HasDynamicDeps, "dynamic"},
	{Queued, "queued"},
	{Flagged, "flagged"},
	{IgnoreArgs, "ignore-args"},
}

func (f DepFlags) String() string {
	var parts []string
	for _, fn := range depFlagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}

// DependentKind selects the class of a dependent
type DependentKind int

const (
	KindCell DependentKind = iota
	KindDynamic
	KindName
	KindManaged
	KindStyle
)

// DependentClass is the behaviour shared by every dependent of a kind. only
// Eval is required.
type DependentClass struct {
	Name string
	// Eval recomputes the dependent
	Eval func(d *Dependent)
	// SetExpr adopts a new expression. when nil the expression is swapped
	// in place.
	SetExpr func(d *Dependent, e *expr.Expr)
	// Changed marks the dependents that read this one dirty and returns
	// them so the caller can continue the propagation
	Changed func(d *Dependent) []*Dependent
	// Pos returns the anchor position. dependents without one are linked
	// at A1.
	Pos func(d *Dependent) (expr.Pos, bool)
	// DebugName labels the dependent in dumps and logs
	DebugName func(d *Dependent) string
}

var (
	classMu sync.RWMutex
	classes []*DependentClass
)

func init() {
	classes = []*DependentClass{
		KindCell: {
			Name:      "cell",
			Eval:      func(d *Dependent) { d.owner.(*Cell).eval() },
			SetExpr:   func(d *Dependent, e *expr.Expr) { d.owner.(*Cell).adoptExpr(e) },
			Changed:   cellChanged,
			Pos:       func(d *Dependent) (expr.Pos, bool) { return d.owner.(*Cell).pos, true },
			DebugName: func(d *Dependent) string { return d.owner.(*Cell).pos.String() },
		},
		KindDynamic: {
			Name:      "dynamic",
			Eval:      func(*Dependent) {},
			Changed:   dynamicChanged,
			DebugName: dynamicDebugName,
		},
		KindName: {
			Name:      "name",
			Eval:      func(*Dependent) {},
			DebugName: func(d *Dependent) string { return "Name:" + d.owner.(*Name).name },
		},
		KindManaged: {
			Name:      "managed",
			Eval:      func(*Dependent) {},
			DebugName: func(*Dependent) string { return "Managed" },
		},
		KindStyle: {
			Name:      "style",
			Eval:      func(d *Dependent) { d.owner.(*StyleDep).eval() },
			Pos:       func(d *Dependent) (expr.Pos, bool) { return d.owner.(*StyleDep).pos, true },
			DebugName: func(*Dependent) string { return "Style" },
		},
	}
}

// RegisterDependentClass adds a class to the process-wide table and returns
// its kind
func RegisterDependentClass(c *DependentClass) DependentKind {
	classMu.Lock()
	defer classMu.Unlock()
	classes = append(classes, c)
	return DependentKind(len(classes) - 1)
}

func classOf(k DependentKind) *DependentClass {
	classMu.RLock()
	defer classMu.RUnlock()
	if k < 0 || int(k) >= len(classes) {
		return nil
	}
	return classes[k]
}

// Dependent is anything that holds an expression and must be recomputed
// when the cells it reads change. owners embed or allocate one and keep it
// for their whole life; the graph never frees them.
type Dependent struct {
	sheet *Sheet
	expr  *expr.Expr
	flags DepFlags
	kind  DependentKind

	// intrusive list of the linked dependents of sheet
	prev, next *Dependent

	owner any
}

// NewDependent creates an unlinked dependent of a registered kind. owner is
// handed back by Owner for the class callbacks.
func NewDependent(kind DependentKind, owner any) *Dependent {
	return &Dependent{kind: kind, owner: owner}
}

func (d *Dependent) Sheet() *Sheet           { return d.sheet }
func (d *Dependent) Expr() *expr.Expr        { return d.expr }
func (d *Dependent) Flags() DepFlags         { return d.flags }
func (d *Dependent) Kind() DependentKind     { return d.kind }
func (d *Dependent) Owner() any              { return d.owner }
func (d *Dependent) NeedsRecalc() bool       { return d.flags&NeedsRecalc != 0 }
func (d *Dependent) IsLinked() bool          { return d.flags&IsLinked != 0 }
func (d *Dependent) isBeingCalculated() bool { return d.flags&BeingCalculated != 0 }

func (d *Dependent) workbook() *Workbook {
	if d.sheet == nil {
		return nil
	}
	return d.sheet.wb
}

// Pos returns the anchor position of the dependent
func (d *Dependent) Pos() (expr.Pos, bool) {
	if cls := classOf(d.kind); cls != nil && cls.Pos != nil {
		return cls.Pos(d)
	}
	return expr.Pos{}, false
}

// pos is the position relative references are resolved from
func (d *Dependent) pos() expr.Pos {
	p, _ := d.Pos()
	return p
}

// SetSheet attaches the dependent to s. a dependent holding an expression is
// linked and marked dirty on arrival.
func (d *Dependent) SetSheet(s *Sheet) {
	if d.sheet == s {
		return
	}
	if d.IsLinked() {
		d.Unlink()
	}
	d.sheet = s
	if d.expr != nil && s != nil {
		d.Link()
		d.MarkDirty()
	}
}

// SetExpr replaces the expression. the dependent is unlinked first and left
// unlinked; the caller relinks it.
func (d *Dependent) SetExpr(e *expr.Expr) {
	if d.IsLinked() {
		d.Unlink()
	}
	if d.flags&HasDynamicDeps != 0 {
		d.clearDynamicDeps()
	}
	if cls := classOf(d.kind); cls != nil && cls.SetExpr != nil {
		cls.SetExpr(d, e)
	} else {
		d.expr = e
	}
	if e != nil && d.sheet != nil {
		d.MarkDirty()
	}
}

// Link adds every edge implied by the expression to the indices and appends
// the dependent to its sheet's list. linking an unattached, empty or already
// linked dependent does nothing.
func (d *Dependent) Link() {
	if d.IsLinked() || d.expr == nil || d.sheet == nil {
		return
	}
	c := d.sheet.deps
	if c == nil {
		return
	}
	c.append(d)
	d.flags |= IsLinked | d.linkExpr(d.pos(), d.expr.Root, true)
	if d.flags&Has3D != 0 {
		d.sheet.wb.link3D(d)
	}
	d.sheet.wb.metrics.relinked()
}

// Unlink removes every edge Link added, walking the same expression
func (d *Dependent) Unlink() {
	if !d.IsLinked() {
		return
	}
	if d.expr != nil {
		d.linkExpr(d.pos(), d.expr.Root, false)
	}
	if d.sheet != nil {
		if c := d.sheet.deps; c != nil {
			c.remove(d)
			if d.flags&HasDynamicDeps != 0 {
				d.clearDynamicDeps()
			}
		}
		if d.flags&Has3D != 0 {
			d.sheet.wb.unlink3D(d)
		}
	}
	d.flags &^= linkFlags
}

// MarkDirty records that the dependent must be recomputed. with recursive
// dirtying every transitive reader is marked now; otherwise they are marked
// when the next Recalc starts.
func (d *Dependent) MarkDirty() {
	wb := d.workbook()
	if wb == nil {
		d.flags |= NeedsRecalc
		return
	}
	if !wb.settings.Recalc.RecursiveDirty {
		if d.expr != nil {
			if d.flags&NeedsRecalc != 0 {
				return
			}
			d.flags |= NeedsRecalc
		}
		if d.flags&Queued == 0 {
			d.flags |= Queued
			wb.pending = append(wb.pending, d)
		}
		return
	}
	d.QueueRecalc()
}

// QueueRecalc marks the dependent and everything that transitively reads it
// dirty. a dependent that is already dirty is left alone: its readers were
// queued when it was marked.
func (d *Dependent) QueueRecalc() {
	if d.flags&NeedsRecalc != 0 {
		return
	}
	if d.expr != nil {
		d.flags |= NeedsRecalc
	}
	queueRecalcMain([]*Dependent{d})
}

// queueRecalcMain drains a worklist of dependents that are already marked,
// pushing the readers each one reports
func queueRecalcMain(work []*Dependent) {
	for len(work) > 0 {
		d := work[len(work)-1]
		work = work[:len(work)-1]
		cls := classOf(d.kind)
		if cls == nil || cls.Changed == nil {
			continue
		}
		more := cls.Changed(d)
		if len(more) > 0 {
			if wb := d.workbook(); wb != nil {
				wb.metrics.markedDirty(len(more))
			}
			work = append(work, more...)
		}
	}
}

// queueRecalcList marks every clean dependent in list and propagates
func queueRecalcList(list []*Dependent) {
	var work []*Dependent
	for _, d := range list {
		if d.flags&NeedsRecalc == 0 {
			d.flags |= NeedsRecalc
			work = append(work, d)
		}
	}
	queueRecalcMain(work)
}

// Eval recomputes the dependent. the dirty flag is cleared by the frame
// that opened the evaluation, not by a reentry.
func (d *Dependent) Eval() {
	outer := d.flags&BeingCalculated == 0
	if outer && d.flags&HasDynamicDeps != 0 {
		d.clearDynamicDeps()
	}
	if cls := classOf(d.kind); cls != nil && cls.Eval != nil {
		cls.Eval(d)
	}
	if d.flags&BeingCalculated == 0 {
		d.flags &^= NeedsRecalc
	}
	if outer {
		if wb := d.workbook(); wb != nil {
			wb.stats.Evaluations++
			wb.metrics.evaluated()
		}
	}
}

// DebugName labels the dependent relative to its own sheet
func (d *Dependent) DebugName() string {
	return d.debugName(d.sheet)
}

func (d *Dependent) String() string {
	return d.DebugName()
}

// debugName labels the dependent, qualified with its sheet when that is not
// context
func (d *Dependent) debugName(context *Sheet) string {
	var sb strings.Builder
	if d.sheet != nil && d.sheet != context {
		sb.WriteString(expr.QuoteSheetName(d.sheet.name))
		sb.WriteByte('!')
	}
	cls := classOf(d.kind)
	switch {
	case cls != nil && cls.DebugName != nil:
		sb.WriteString(cls.DebugName(d))
	case cls != nil:
		fmt.Fprintf(&sb, "%s(%p)", cls.Name, d)
	default:
		fmt.Fprintf(&sb, "kind%d(%p)", d.kind, d)
	}
	if d.kind != KindCell {
		if p, ok := d.Pos(); ok {
			sb.WriteByte('@')
			sb.WriteString(p.String())
		}
	}
	return sb.String()
}
