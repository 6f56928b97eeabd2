package spreadsheet

import (
	"slices"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
)

// exprSharer interns cell expressions so that cells holding the same
// relative formula share one tree, e.g. =A1+1 filled down a column. trees
// are reference counted and dropped when the last cell lets go.
type exprSharer struct {
	byKey map[string][]*sharedExpr
	total int
}

type sharedExpr struct {
	e    *expr.Expr
	ids  []any // sheets and names the tree points at, in walk order
	refs int
}

func newExprSharer() *exprSharer {
	return &exprSharer{byKey: make(map[string][]*sharedExpr)}
}

// identities lists the objects a tree refers to. two trees with the same
// key can still differ here, e.g. after a sheet was renamed.
func identities(e *expr.Expr) []any {
	var ids []any
	expr.Walk(e.Root, func(n expr.Node) bool {
		switch n := n.(type) {
		case *expr.CellRefNode:
			ids = append(ids, n.Ref.Sheet)
		case *expr.RangeNode:
			ids = append(ids, n.Start.Sheet, n.End.Sheet)
		case *expr.NameNode:
			ids = append(ids, n.Target, n.Scope)
		}
		return true
	})
	return ids
}

// share returns the interned tree equal to e, interning e when there is
// none, and takes a reference on it
func (s *exprSharer) share(e *expr.Expr) *expr.Expr {
	if e == nil {
		return nil
	}
	key := e.Key()
	ids := identities(e)
	for _, se := range s.byKey[key] {
		if se.e == e || slices.Equal(se.ids, ids) {
			se.refs++
			return se.e
		}
	}
	s.byKey[key] = append(s.byKey[key], &sharedExpr{e: e, ids: ids, refs: 1})
	s.total++
	return e
}

// release drops a reference taken by share
func (s *exprSharer) release(e *expr.Expr) {
	if e == nil {
		return
	}
	key := e.Key()
	list := s.byKey[key]
	for i, se := range list {
		if se.e != e {
			continue
		}
		se.refs--
		if se.refs == 0 {
			list = slices.Delete(list, i, i+1)
			s.total--
			if len(list) == 0 {
				delete(s.byKey, key)
			} else {
				s.byKey[key] = list
			}
		}
		return
	}
}

// Len returns the number of distinct interned trees
func (s *exprSharer) Len() int {
	return s.total
}

// refs returns the number of holders of e
func (s *exprSharer) refs(e *expr.Expr) int {
	for _, se := range s.byKey[e.Key()] {
		if se.e == e {
			return se.refs
		}
	}
	return 0
}
