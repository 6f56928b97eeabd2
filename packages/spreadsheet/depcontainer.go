package spreadsheet

import (
	"slices"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/cset"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
)

// BucketRows is the number of rows covered by one bucket of the range index
const BucketRows = 1024

func bucketOf(row int) int     { return row / BucketRows }
func bucketStart(b int) int    { return b * BucketRows }
func bucketCount(rows int) int { return 1 + bucketOf(max(rows, 1)-1) }

// dependencyRange is the set of dependents reading a rectangle. the
// rectangle is clipped to the rows of the bucket holding it.
type dependencyRange struct {
	rng  expr.Range
	deps cset.Set[*Dependent]
}

// dependencySingle is the set of dependents reading one cell
type dependencySingle struct {
	pos  expr.Pos
	deps cset.Set[*Dependent]
}

// DepContainer holds the dependency indices of one sheet: who reads which
// cell or range of it, plus the list of dependents living on it.
type DepContainer struct {
	sheet *Sheet

	head, tail *Dependent
	// others counts the linked dependents that are not cells
	others int

	rangeHash  []map[expr.Range]*dependencyRange
	singleHash map[expr.Pos]*dependencySingle

	// dynamicDeps maps a dependent of this sheet to the references it
	// resolved during its last evaluation
	dynamicDeps map[*Dependent]*dynamicDep

	// referencingNames are the names whose expression mentions this sheet
	referencingNames map[*Name]struct{}
}

func newDepContainer(s *Sheet, rows int) *DepContainer {
	c := &DepContainer{
		sheet:            s,
		singleHash:       make(map[expr.Pos]*dependencySingle),
		dynamicDeps:      make(map[*Dependent]*dynamicDep),
		referencingNames: make(map[*Name]struct{}),
	}
	c.resize(rows)
	return c
}

// resize adjusts the number of range buckets for a sheet of rows rows.
// buckets past the end are dropped with their entries.
func (c *DepContainer) resize(rows int) {
	n := bucketCount(rows)
	if n < len(c.rangeHash) {
		clear(c.rangeHash[n:])
		c.rangeHash = slices.Clip(c.rangeHash[:n])
		return
	}
	for len(c.rangeHash) < n {
		c.rangeHash = append(c.rangeHash, nil)
	}
}

func (c *DepContainer) append(d *Dependent) {
	d.prev = c.tail
	d.next = nil
	if c.tail != nil {
		c.tail.next = d
	} else {
		c.head = d
	}
	c.tail = d
	if d.kind != KindCell {
		c.others++
	}
}

func (c *DepContainer) remove(d *Dependent) {
	if d.prev != nil {
		d.prev.next = d.next
	} else if c.head == d {
		c.head = d.next
	} else {
		return
	}
	if d.next != nil {
		d.next.prev = d.prev
	} else if c.tail == d {
		c.tail = d.prev
	}
	d.prev, d.next = nil, nil
	if d.kind != KindCell {
		c.others--
	}
}

// forEach visits the linked dependents in creation order. fn may unlink the
// dependent it is given.
func (c *DepContainer) forEach(fn func(d *Dependent)) {
	for d := c.head; d != nil; {
		next := d.next
		fn(d)
		d = next
	}
}

// Dependents returns the linked dependents of the sheet in creation order
func (c *DepContainer) Dependents() []*Dependent {
	var out []*Dependent
	c.forEach(func(d *Dependent) { out = append(out, d) })
	return out
}

// linkRange adds or removes d as a reader of r, one clipped entry per
// bucket r touches
func (c *DepContainer) linkRange(r expr.Range, d *Dependent, add bool) {
	if r.Start.Row < 0 || r.Start.Col < 0 {
		return
	}
	last := min(bucketOf(r.End.Row), len(c.rangeHash)-1)
	for i := bucketOf(r.Start.Row); i <= last; i++ {
		key := r
		key.Start.Row = max(r.Start.Row, bucketStart(i))
		key.End.Row = min(r.End.Row, bucketStart(i+1)-1)
		if add {
			c.addRange(i, key, d)
		} else {
			c.removeRange(i, key, d)
		}
	}
}

func (c *DepContainer) addRange(bucket int, key expr.Range, d *Dependent) {
	m := c.rangeHash[bucket]
	if m == nil {
		m = make(map[expr.Range]*dependencyRange)
		c.rangeHash[bucket] = m
	}
	e := m[key]
	if e == nil {
		e = &dependencyRange{rng: key}
		m[key] = e
	}
	e.deps.Add(d)
}

func (c *DepContainer) removeRange(bucket int, key expr.Range, d *Dependent) {
	m := c.rangeHash[bucket]
	if m == nil {
		return
	}
	e := m[key]
	if e == nil {
		return
	}
	e.deps.Remove(d)
	if e.deps.IsEmpty() {
		delete(m, key)
	}
}

func (c *DepContainer) linkSingle(p expr.Pos, d *Dependent, add bool) {
	if p.Row < 0 || p.Col < 0 {
		return
	}
	e := c.singleHash[p]
	if add {
		if e == nil {
			e = &dependencySingle{pos: p}
			c.singleHash[p] = e
		}
		e.deps.Add(d)
		return
	}
	if e == nil {
		return
	}
	e.deps.Remove(d)
	if e.deps.IsEmpty() {
		delete(c.singleHash, p)
	}
}

// forEachReader calls fn for every dependent with an edge onto the cell at p
func (c *DepContainer) forEachReader(p expr.Pos, fn func(d *Dependent)) {
	visit := func(d *Dependent) bool {
		fn(d)
		return true
	}
	if b := bucketOf(p.Row); b < len(c.rangeHash) {
		for _, e := range c.rangeHash[b] {
			if e.rng.Contains(p) {
				e.deps.ForEach(visit)
			}
		}
	}
	if e := c.singleHash[p]; e != nil {
		e.deps.ForEach(visit)
	}
}

// DepStats counts the entries of a container
type DepStats struct {
	Dependents       int
	RangeEntries     int
	SingleEntries    int
	DynamicDeps      int
	ReferencingNames int
}

// Stats counts the dependents and index entries of the container
func (c *DepContainer) Stats() DepStats {
	st := DepStats{
		SingleEntries:    len(c.singleHash),
		DynamicDeps:      len(c.dynamicDeps),
		ReferencingNames: len(c.referencingNames),
	}
	for _, m := range c.rangeHash {
		st.RangeEntries += len(m)
	}
	c.forEach(func(*Dependent) { st.Dependents++ })
	return st
}

// Buckets returns the number of range buckets
func (c *DepContainer) Buckets() int {
	return len(c.rangeHash)
}
