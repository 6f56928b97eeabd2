package spreadsheet

import (
	"math/bits"
	"slices"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/expr"
)

type chunkKey struct {
	chunkRow int
	chunkCol int
}

const (
	ChunkRows = 256                   // rows per chunk - power of 2 for efficient modulo
	ChunkCols = 16                    // columns per chunk
	ChunkSize = ChunkRows * ChunkCols // cells per chunk
)

// chunk is a ChunkRows x ChunkCols block of cells. the occupied bitmap lets
// range scans skip empty positions without touching the cell slice.
type chunk struct {
	cells    []*Cell  // column-first: idx = localCol*ChunkRows + localRow
	occupied []uint64 // bit-packed, 64 positions per word
	count    int
}

// cellStore is the sparse storage of one sheet's cells.
//
// architecture:
// - cells are partitioned into chunks for spatial locality
// - a chunk is allocated on the first write into its region
// - empty chunks are dropped so long-lived sheets do not accumulate them
type cellStore struct {
	chunks map[chunkKey]*chunk
	total  int
}

func newCellStore() *cellStore {
	return &cellStore{chunks: make(map[chunkKey]*chunk)}
}

func locate(p expr.Pos) (chunkKey, int) {
	key := chunkKey{chunkRow: p.Row / ChunkRows, chunkCol: p.Col / ChunkCols}
	idx := (p.Col%ChunkCols)*ChunkRows + p.Row%ChunkRows
	return key, idx
}

func (cs *cellStore) get(p expr.Pos) *Cell {
	if p.Row < 0 || p.Col < 0 {
		return nil
	}
	key, idx := locate(p)
	ch := cs.chunks[key]
	if ch == nil {
		return nil
	}
	return ch.cells[idx]
}

// put stores c at its position, replacing whatever was there
func (cs *cellStore) put(c *Cell) {
	key, idx := locate(c.pos)
	ch := cs.chunks[key]
	if ch == nil {
		ch = &chunk{
			cells:    make([]*Cell, ChunkSize),
			occupied: make([]uint64, (ChunkSize+63)/64),
		}
		cs.chunks[key] = ch
	}
	if ch.cells[idx] == nil {
		ch.count++
		cs.total++
		ch.occupied[idx/64] |= 1 << (idx % 64)
	}
	ch.cells[idx] = c
}

func (cs *cellStore) remove(p expr.Pos) *Cell {
	key, idx := locate(p)
	ch := cs.chunks[key]
	if ch == nil || ch.cells[idx] == nil {
		return nil
	}
	c := ch.cells[idx]
	ch.cells[idx] = nil
	ch.occupied[idx/64] &^= 1 << (idx % 64)
	ch.count--
	cs.total--
	if ch.count == 0 {
		delete(cs.chunks, key)
	}
	return c
}

func (cs *cellStore) len() int {
	return cs.total
}

// cellsIn returns the stored cells inside r in row-major order
func (cs *cellStore) cellsIn(r expr.Range) []*Cell {
	var out []*Cell
	for key, ch := range cs.chunks {
		c0, r0 := key.chunkCol*ChunkCols, key.chunkRow*ChunkRows
		block := expr.NewRange(c0, r0, c0+ChunkCols-1, r0+ChunkRows-1)
		if !block.Overlaps(r) {
			continue
		}
		for w, word := range ch.occupied {
			for word != 0 {
				bit := bits.TrailingZeros64(word)
				word &^= 1 << bit
				c := ch.cells[w*64+bit]
				if r.Contains(c.pos) {
					out = append(out, c)
				}
			}
		}
	}
	sortCells(out)
	return out
}

// all returns every stored cell in row-major order
func (cs *cellStore) all() []*Cell {
	out := make([]*Cell, 0, cs.total)
	for _, ch := range cs.chunks {
		for _, c := range ch.cells {
			if c != nil {
				out = append(out, c)
			}
		}
	}
	sortCells(out)
	return out
}

func sortCells(cells []*Cell) {
	slices.SortFunc(cells, func(a, b *Cell) int {
		if a.pos.Row != b.pos.Row {
			return a.pos.Row - b.pos.Row
		}
		return a.pos.Col - b.pos.Col
	})
}
