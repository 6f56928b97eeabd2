package spreadsheet

// SanityCheck audits the dependency structures of every sheet and logs each
// violation as a warning. it returns the number of violations; the
// structures are never repaired.
func (wb *Workbook) SanityCheck() int {
	problems := 0
	warn := func(msg string, args ...any) {
		problems++
		wb.logger.Warn(msg, args...)
	}

	for _, s := range wb.sheets {
		c := s.deps
		if c == nil {
			continue
		}
		s.checkList(warn)

		check := func(where string) func(d *Dependent) bool {
			return func(d *Dependent) bool {
				if !indexMemberLive(d) {
					warn("index entry holds an unlinked dependent",
						"sheet", s.name, "entry", where, "dependent", d.debugName(s))
				}
				return true
			}
		}
		for i, m := range c.rangeHash {
			for key, e := range m {
				if e.deps.IsEmpty() {
					warn("empty range entry", "sheet", s.name, "bucket", i, "range", key.String())
				}
				if bucketOf(key.Start.Row) != i || bucketOf(key.End.Row) != i {
					warn("range entry crosses its bucket", "sheet", s.name, "bucket", i, "range", key.String())
				}
				e.deps.ForEach(check(key.String()))
			}
		}
		for p, e := range c.singleHash {
			if e.deps.IsEmpty() {
				warn("empty single entry", "sheet", s.name, "cell", p.String())
			}
			e.deps.ForEach(check(p.String()))
		}
		for d, dyn := range c.dynamicDeps {
			if d.flags&HasDynamicDeps == 0 {
				warn("dynamic entry for a dependent without dynamic references",
					"sheet", s.name, "dependent", d.debugName(s))
			}
			if dyn.container != d {
				warn("dynamic entry points at another container", "sheet", s.name, "dependent", d.debugName(s))
			}
		}
	}

	for d := range wb.sheetOrderDeps {
		if d.flags&Has3D == 0 {
			warn("3d registry holds a dependent without 3d references", "dependent", d.debugName(nil))
		}
	}
	return problems
}

// indexMemberLive reports whether an index member is entitled to its edges
func indexMemberLive(d *Dependent) bool {
	if d.kind == KindDynamic {
		dyn := d.owner.(*dynamicDep)
		return dyn.container.flags&HasDynamicDeps != 0
	}
	return d.IsLinked()
}

// checkList walks the intrusive list of s looking for cycles, broken back
// links and members that do not belong
func (s *Sheet) checkList(warn func(string, ...any)) {
	c := s.deps
	if c.head != nil && c.head.prev != nil {
		warn("list head has a predecessor", "sheet", s.name)
	}
	if c.tail != nil && c.tail.next != nil {
		warn("list tail has a successor", "sheet", s.name)
	}
	if (c.head == nil) != (c.tail == nil) {
		warn("list head and tail disagree", "sheet", s.name)
	}

	seen := make(map[*Dependent]bool)
	var last *Dependent
	for d := c.head; d != nil; d = d.next {
		if seen[d] {
			warn("dependent list is cyclic", "sheet", s.name, "dependent", d.debugName(s))
			return
		}
		seen[d] = true
		if d.prev != last {
			warn("broken back link", "sheet", s.name, "dependent", d.debugName(s))
		}
		if !d.IsLinked() {
			warn("unlinked dependent in list", "sheet", s.name, "dependent", d.debugName(s))
		}
		if d.sheet != s {
			warn("dependent listed on the wrong sheet", "sheet", s.name, "dependent", d.debugName(s))
		}
		if d.flags&Flagged != 0 {
			warn("scratch flag left set", "sheet", s.name, "dependent", d.debugName(s))
		}
		last = d
	}
	if last != c.tail {
		warn("list tail is not the last dependent", "sheet", s.name)
	}
}
