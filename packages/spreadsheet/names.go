package spreadsheet

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/cset"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
)

// Name is a named expression, workbook-wide or scoped to one sheet.
//
// a name can exist before it is defined: a formula mentioning an unknown
// name creates a placeholder that collects the formula as a consumer and
// evaluates to #NAME?. defining the name later relinks and dirties every
// consumer.
type Name struct {
	wb    *Workbook
	name  string
	scope *Sheet
	expr  *expr.Expr

	// dep holds the expression for the graph. it is never linked into a
	// container; consumers carry the edges.
	dep Dependent

	// consumers are the linked dependents whose expression mentions the
	// name, directly or through another name
	consumers cset.Set[*Dependent]

	// sheets the expression names explicitly. the name is in their
	// referencing-names set.
	sheets []*Sheet
}

func newName(wb *Workbook, name string, scope *Sheet) *Name {
	nm := &Name{wb: wb, name: name, scope: scope}
	nm.dep.kind = KindName
	nm.dep.owner = nm
	nm.dep.sheet = scope
	return nm
}

// NameText implements expr.NamedExpr
func (n *Name) NameText() string { return n.name }

// Scope returns the sheet the name is local to, or nil for workbook names
func (n *Name) Scope() *Sheet { return n.scope }

// Active reports whether the name has an expression
func (n *Name) Active() bool { return n.expr != nil }

func (n *Name) Expr() *expr.Expr { return n.expr }

// Formula returns the name's expression text with a leading '='
func (n *Name) Formula() string {
	if n.expr == nil {
		return ""
	}
	return "=" + n.expr.String(expr.Pos{})
}

// Consumers returns the dependents currently linked through the name
func (n *Name) Consumers() []*Dependent {
	return n.consumers.Slice()
}

// SetExpr replaces the name's expression. consumers are unlinked while the
// old tree is still in place, then relinked through the new one and marked
// dirty.
func (n *Name) SetExpr(e *expr.Expr) {
	consumers := n.consumers.Slice()
	for _, d := range consumers {
		d.Unlink()
	}
	n.unregisterSheets()
	n.expr = e
	n.dep.expr = e
	n.registerSheets()
	for _, d := range consumers {
		d.Link()
		d.MarkDirty()
	}
}

// registerSheets puts the name in the referencing-names set of every sheet
// its expression names
func (n *Name) registerSheets() {
	if n.expr == nil {
		return
	}
	expr.Walk(n.expr.Root, func(node expr.Node) bool {
		switch node := node.(type) {
		case *expr.CellRefNode:
			n.registerSheet(sheetOf(node.Ref.Sheet))
		case *expr.RangeNode:
			a, b := sheetOf(node.Start.Sheet), sheetOf(node.End.Sheet)
			if node.Is3D() && a != nil && b != nil && a.wb == b.wb {
				i, j := a.wb.sheetIndex(a), a.wb.sheetIndex(b)
				if i > j {
					i, j = j, i
				}
				if i >= 0 {
					for _, s := range a.wb.sheets[i : j+1] {
						n.registerSheet(s)
					}
				}
				return true
			}
			n.registerSheet(a)
			n.registerSheet(b)
		}
		return true
	})
}

func (n *Name) registerSheet(s *Sheet) {
	if s == nil || s.deps == nil || slices.Contains(n.sheets, s) {
		return
	}
	s.deps.referencingNames[n] = struct{}{}
	n.sheets = append(n.sheets, s)
}

func (n *Name) unregisterSheets() {
	for _, s := range n.sheets {
		if s.deps != nil {
			delete(s.deps.referencingNames, n)
		}
	}
	n.sheets = nil
}

// refersTo reports whether evaluating e would reach target through names
func refersTo(e expr.Node, target *Name, seen map[*Name]bool) bool {
	found := false
	expr.Walk(e, func(node expr.Node) bool {
		if found {
			return false
		}
		nn, ok := node.(*expr.NameNode)
		if !ok {
			return true
		}
		nm, _ := nn.Target.(*Name)
		if nm == nil || seen[nm] {
			return true
		}
		if nm == target {
			found = true
			return false
		}
		seen[nm] = true
		if nm.expr != nil && refersTo(nm.expr.Root, target, seen) {
			found = true
		}
		return !found
	})
	return found
}

// nameTable holds the names of one scope, keyed case-insensitively
type nameTable struct {
	byKey map[string]*Name
}

func newNameTable() *nameTable {
	return &nameTable{byKey: make(map[string]*Name)}
}

var folder = cases.Fold()

func foldKey(s string) string {
	return folder.String(s)
}

func (t *nameTable) get(name string) *Name {
	return t.byKey[foldKey(name)]
}

func (t *nameTable) put(nm *Name) {
	t.byKey[foldKey(nm.name)] = nm
}

func (t *nameTable) remove(nm *Name) {
	key := foldKey(nm.name)
	if t.byKey[key] == nm {
		delete(t.byKey, key)
	}
}

// sorted returns the names ordered by their folded key
func (t *nameTable) sorted() []*Name {
	out := make([]*Name, 0, len(t.byKey))
	for _, nm := range t.byKey {
		out = append(out, nm)
	}
	slices.SortFunc(out, func(a, b *Name) int { return compareFold(a.name, b.name) })
	return out
}

func compareFold(a, b string) int {
	return strings.Compare(foldKey(a), foldKey(b))
}

// resolveName finds the name an identifier means in a formula on sheet
// home, creating a placeholder when it is unknown. an explicit scope only
// looks at that sheet's names.
func (wb *Workbook) resolveName(name string, scope, home *Sheet) *Name {
	if scope != nil {
		if nm := scope.names.get(name); nm != nil {
			return nm
		}
		nm := newName(wb, name, scope)
		scope.names.put(nm)
		return nm
	}
	if home != nil {
		if nm := home.names.get(name); nm != nil && nm.Active() {
			return nm
		}
	}
	if nm := wb.names.get(name); nm != nil {
		return nm
	}
	nm := newName(wb, name, nil)
	wb.names.put(nm)
	return nm
}

// Name looks up a defined or placeholder name. a nil scope means the
// workbook scope.
func (wb *Workbook) Name(name string, scope *Sheet) (*Name, bool) {
	t := wb.names
	if scope != nil {
		t = scope.names
	}
	nm := t.get(name)
	return nm, nm != nil
}

// Names returns the workbook-scoped names, defined or not
func (wb *Workbook) Names() []*Name {
	return wb.names.sorted()
}

// DefineName defines or redefines a name. references in text are made
// absolute; unqualified references of a sheet-scoped name point into its
// scope sheet.
func (wb *Workbook) DefineName(name, text string, scope *Sheet) (*Name, error) {
	if err := wb.checkAlive(); err != nil {
		return nil, err
	}
	if !validName(name) {
		return nil, newAppErrorf(InvalidArgument, "invalid name %q", name)
	}
	if scope != nil && scope.wb != wb {
		return nil, NewApplicationError(InvalidArgument, "scope sheet belongs to another workbook")
	}
	t := wb.names
	if scope != nil {
		t = scope.names
	}

	root, err := expr.ParseNode(text, wb.parseContext(scope, expr.Pos{}))
	if err != nil {
		return nil, wrapAppError(InvalidArgument, err, "define name "+name)
	}
	// looked up after parsing: the text may have created the placeholder
	nm := t.get(name)
	if nm == nil {
		nm = newName(wb, name, scope)
	}
	root = rewriteRefs(root, func(r expr.CellRef) expr.CellRef {
		p := r.Resolve(expr.Pos{})
		out := expr.CellRef{Sheet: r.Sheet, Col: p.Col, Row: p.Row}
		if out.Sheet == nil && scope != nil {
			out.Sheet = scope
		}
		return out
	})
	if refersTo(root, nm, map[*Name]bool{}) {
		return nil, newAppErrorf(InvalidArgument, "name %s refers to itself", name)
	}

	t.put(nm)
	nm.SetExpr(expr.New(root))
	wb.logger.Debug("defined name", "name", name, "expr", nm.Formula(), "consumers", nm.consumers.Len())
	return nm, nil
}

// RemoveName turns a name back into a placeholder. consumers evaluate to
// #NAME? until it is defined again.
func (wb *Workbook) RemoveName(name string, scope *Sheet) error {
	nm, ok := wb.Name(name, scope)
	if !ok || !nm.Active() {
		return newAppErrorf(NotFound, "name %q not defined", name)
	}
	nm.SetExpr(nil)
	if nm.consumers.IsEmpty() {
		t := wb.names
		if scope != nil {
			t = scope.names
		}
		t.remove(nm)
	}
	return nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, ch := range name {
		letter := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
		if !letter && (i == 0 || !(ch >= '0' && ch <= '9' || ch == '.')) {
			return false
		}
	}
	if _, err := expr.ParsePos(name); err == nil {
		return false
	}
	up := strings.ToUpper(name)
	return up != "TRUE" && up != "FALSE"
}

// rewriteRefs copies n with every reference endpoint passed through fn.
// subtrees without references are shared.
func rewriteRefs(n expr.Node, fn func(expr.CellRef) expr.CellRef) expr.Node {
	switch n := n.(type) {
	case *expr.CellRefNode:
		return &expr.CellRefNode{Ref: fn(n.Ref)}
	case *expr.RangeNode:
		return &expr.RangeNode{Start: fn(n.Start), End: fn(n.End)}
	case *expr.FunctionCallNode:
		out := &expr.FunctionCallNode{Name: n.Name, Args: make([]expr.Node, len(n.Args))}
		for i, a := range n.Args {
			out.Args[i] = rewriteRefs(a, fn)
		}
		return out
	case *expr.UnaryOpNode:
		return &expr.UnaryOpNode{Op: n.Op, Operand: rewriteRefs(n.Operand, fn)}
	case *expr.BinaryOpNode:
		return &expr.BinaryOpNode{Op: n.Op, Left: rewriteRefs(n.Left, fn), Right: rewriteRefs(n.Right, fn)}
	case *expr.SetNode:
		out := &expr.SetNode{Items: make([]expr.Node, len(n.Items))}
		for i, it := range n.Items {
			out.Items[i] = rewriteRefs(it, fn)
		}
		return out
	}
	return n
}
