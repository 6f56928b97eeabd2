package spreadsheet

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
)

// Dump writes the dependency indices of every sheet in a stable, human
// readable form:
//
//	workbook 0190b2c4-...
//	sheet Sheet1
//	  bucket 0
//	    A1:A10 -> B1, C3
//	  single
//	    A1 -> B1
//	  dynamic
//	    C1 -> Sheet2!A1
//	  names
//	    Total
//	  dependents
//	    B1 =SUM(A1:A10) [linked]
//
// readers on other sheets are qualified with their sheet name.
func (wb *Workbook) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "workbook %s\n", wb.ID)
	for _, s := range wb.sheets {
		s.dump(bw)
	}
	if len(wb.sheetOrderDeps) > 0 {
		fmt.Fprintln(bw, "3d")
		for _, name := range debugNames(wb.sheetOrderDeps, nil) {
			fmt.Fprintf(bw, "  %s\n", name)
		}
	}
	return bw.Flush()
}

func debugNames[M ~map[*Dependent]struct{}](deps M, ctx *Sheet) []string {
	out := make([]string, 0, len(deps))
	for d := range deps {
		out = append(out, d.debugName(ctx))
	}
	slices.Sort(out)
	return out
}

// readerList formats the members of one index entry
func readerList(c *DepContainer, fn func(yield func(*Dependent) bool)) string {
	var names []string
	fn(func(d *Dependent) bool {
		names = append(names, d.debugName(c.sheet))
		return true
	})
	slices.Sort(names)
	return strings.Join(names, ", ")
}

func comparePos(a, b expr.Pos) int {
	return cmp.Or(cmp.Compare(a.Row, b.Row), cmp.Compare(a.Col, b.Col))
}

func (s *Sheet) dump(w io.Writer) {
	fmt.Fprintf(w, "sheet %s\n", s.name)
	c := s.deps
	if c == nil {
		fmt.Fprintln(w, "  destroyed")
		return
	}

	for i, m := range c.rangeHash {
		if len(m) == 0 {
			continue
		}
		fmt.Fprintf(w, "  bucket %d\n", i)
		entries := make([]*dependencyRange, 0, len(m))
		for _, e := range m {
			entries = append(entries, e)
		}
		slices.SortFunc(entries, func(a, b *dependencyRange) int {
			return cmp.Or(comparePos(a.rng.Start, b.rng.Start), comparePos(a.rng.End, b.rng.End))
		})
		for _, e := range entries {
			fmt.Fprintf(w, "    %s -> %s\n", e.rng, readerList(c, e.deps.ForEach))
		}
	}

	if len(c.singleHash) > 0 {
		fmt.Fprintln(w, "  single")
		singles := make([]*dependencySingle, 0, len(c.singleHash))
		for _, e := range c.singleHash {
			singles = append(singles, e)
		}
		slices.SortFunc(singles, func(a, b *dependencySingle) int { return comparePos(a.pos, b.pos) })
		for _, e := range singles {
			fmt.Fprintf(w, "    %s -> %s\n", e.pos, readerList(c, e.deps.ForEach))
		}
	}

	if len(c.dynamicDeps) > 0 {
		fmt.Fprintln(w, "  dynamic")
		var lines []string
		for d, dyn := range c.dynamicDeps {
			refs := make([]string, len(dyn.refs))
			for i, ref := range dyn.refs {
				refs[i] = expr.Format(ref, expr.Pos{})
			}
			lines = append(lines, fmt.Sprintf("    %s -> %s", d.debugName(s), strings.Join(refs, ", ")))
		}
		slices.Sort(lines)
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	}

	if len(c.referencingNames) > 0 {
		fmt.Fprintln(w, "  names")
		var names []string
		for nm := range c.referencingNames {
			label := nm.name
			if nm.scope != nil {
				label = expr.QuoteSheetName(nm.scope.name) + "!" + label
			}
			names = append(names, label)
		}
		slices.SortFunc(names, compareFold)
		for _, n := range names {
			fmt.Fprintf(w, "    %s\n", n)
		}
	}

	deps := c.Dependents()
	if len(deps) > 0 {
		fmt.Fprintln(w, "  dependents")
		for _, d := range deps {
			text := ""
			if d.expr != nil {
				text = " =" + d.expr.String(d.pos())
			}
			fmt.Fprintf(w, "    %s%s [%s]\n", d.debugName(s), text, d.flags)
		}
	}
}
