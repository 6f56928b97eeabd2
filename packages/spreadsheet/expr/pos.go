package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Pos is a zero-based cell position
type Pos struct {
	Col int
	Row int
}

func (p Pos) String() string {
	return ColumnName(p.Col) + strconv.Itoa(p.Row+1)
}

// Offset returns p moved by dc columns and dr rows
func (p Pos) Offset(dc, dr int) Pos {
	return Pos{Col: p.Col + dc, Row: p.Row + dr}
}

// Range is an inclusive rectangle of cells. ranges built by the parser are
// always normalized; code that builds one by hand should call Normalize.
type Range struct {
	Start Pos
	End   Pos
}

// NewRange builds a normalized range from two corners
func NewRange(c0, r0, c1, r1 int) Range {
	return Range{Start: Pos{Col: c0, Row: r0}, End: Pos{Col: c1, Row: r1}}.Normalize()
}

// SingleRange is the 1x1 range holding p
func SingleRange(p Pos) Range {
	return Range{Start: p, End: p}
}

// Normalize returns r with Start at the top-left corner
func (r Range) Normalize() Range {
	return Range{
		Start: Pos{Col: min(r.Start.Col, r.End.Col), Row: min(r.Start.Row, r.End.Row)},
		End:   Pos{Col: max(r.Start.Col, r.End.Col), Row: max(r.Start.Row, r.End.Row)},
	}
}

// Contains reports whether p lies inside r
func (r Range) Contains(p Pos) bool {
	return p.Col >= r.Start.Col && p.Col <= r.End.Col &&
		p.Row >= r.Start.Row && p.Row <= r.End.Row
}

// ContainsRange reports whether o lies entirely inside r
func (r Range) ContainsRange(o Range) bool {
	return r.Contains(o.Start) && r.Contains(o.End)
}

// Overlaps reports whether r and o share at least one cell
func (r Range) Overlaps(o Range) bool {
	return r.Start.Col <= o.End.Col && o.Start.Col <= r.End.Col &&
		r.Start.Row <= o.End.Row && o.Start.Row <= r.End.Row
}

// IsSingle reports whether r covers exactly one cell
func (r Range) IsSingle() bool {
	return r.Start == r.End
}

func (r Range) Width() int  { return r.End.Col - r.Start.Col + 1 }
func (r Range) Height() int { return r.End.Row - r.Start.Row + 1 }

func (r Range) String() string {
	if r.IsSingle() {
		return r.Start.String()
	}
	return r.Start.String() + ":" + r.End.String()
}

// ColumnName converts a zero-based column index to letters (0=A, 26=AA)
func ColumnName(col int) string {
	if col < 0 {
		return "?"
	}
	var buf [8]byte
	i := len(buf)
	for col >= 0 {
		i--
		buf[i] = byte('A' + col%26)
		col = col/26 - 1
	}
	return string(buf[i:])
}

// ParseColumn converts column letters to a zero-based index
func ParseColumn(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	col := 0
	for _, ch := range strings.ToUpper(s) {
		if ch < 'A' || ch > 'Z' {
			return 0, false
		}
		col = col*26 + int(ch-'A') + 1
	}
	return col - 1, true
}

// ParsePos parses an A1-style address. dollar signs are accepted and
// ignored.
func ParsePos(s string) (Pos, error) {
	s = strings.ReplaceAll(s, "$", "")
	letterEnd := 0
	for letterEnd < len(s) && isLetter(rune(s[letterEnd])) {
		letterEnd++
	}
	if letterEnd == 0 || letterEnd == len(s) {
		return Pos{}, fmt.Errorf("invalid cell address: %q", s)
	}
	col, ok := ParseColumn(s[:letterEnd])
	if !ok {
		return Pos{}, fmt.Errorf("invalid column in %q", s)
	}
	row, err := strconv.Atoi(s[letterEnd:])
	if err != nil || row < 1 {
		return Pos{}, fmt.Errorf("invalid row in %q", s)
	}
	return Pos{Col: col, Row: row - 1}, nil
}

// ParseRange parses "A1:B2" or a single "A1"
func ParseRange(s string) (Range, error) {
	start, end, found := strings.Cut(s, ":")
	a, err := ParsePos(start)
	if err != nil {
		return Range{}, err
	}
	if !found {
		return SingleRange(a), nil
	}
	b, err := ParsePos(end)
	if err != nil {
		return Range{}, err
	}
	return Range{Start: a, End: b}.Normalize(), nil
}
