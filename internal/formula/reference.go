package formula

import (
	"iter"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Sheet bounds, the same as an .xlsx worksheet (last cell XFD1048576).
const (
	MaxRows    = 1 << 20
	MaxColumns = 1 << 14

	maxColumnLetters = 3
)

// Coordinate is a 1-indexed cell position within a sheet.
type Coordinate struct {
	Row int `json:"row"`
	Col int `json:"column"`
}

// String returns the A1 form of the coordinate.
func (c Coordinate) String() string {
	return Encode(c.Row, c.Col)
}

// Valid reports whether the coordinate lies inside the sheet bounds.
func (c Coordinate) Valid() bool {
	return c.Row >= 1 && c.Row <= MaxRows && c.Col >= 1 && c.Col <= MaxColumns
}

// ColumnName converts a 1-based column number to its letters: 1 is "A",
// 26 is "Z", 27 is "AA". There is no zero digit.
func ColumnName(col int) string {
	if col < 1 {
		return ""
	}
	var buf [16]byte
	i := len(buf)
	for col > 0 {
		col--
		i--
		buf[i] = byte('A' + col%26)
		col /= 26
	}
	return string(buf[i:])
}

// ColumnNumber converts column letters (any case) to the 1-based column number.
func ColumnNumber(letters string) (int, error) {
	if letters == "" || len(letters) > maxColumnLetters {
		return 0, invalidReference(letters)
	}
	n := 0
	for i := 0; i < len(letters); i++ {
		ch := letters[i]
		switch {
		case ch >= 'A' && ch <= 'Z':
			n = n*26 + int(ch-'A') + 1
		case ch >= 'a' && ch <= 'z':
			n = n*26 + int(ch-'a') + 1
		default:
			return 0, invalidReference(letters)
		}
	}
	if n > MaxColumns {
		return 0, invalidReference(letters)
	}
	return n, nil
}

// Encode renders (row, col) as A1 notation, e.g. Encode(1, 27) == "AA1".
func Encode(row, col int) string {
	return ColumnName(col) + strconv.Itoa(row)
}

// Decode parses A1 notation (case-insensitive). The letter run is mandatory
// and must come before the digit run, and the cell must lie within MaxRows
// and MaxColumns; anything else is an InvalidReference.
func Decode(ref string) (Coordinate, error) {
	split := 0
	for split < len(ref) && isASCIILetter(ref[split]) {
		split++
	}
	if split == 0 || split == len(ref) {
		return Coordinate{}, invalidReference(ref)
	}
	digits := ref[split:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Coordinate{}, invalidReference(ref)
		}
	}

	col, err := ColumnNumber(ref[:split])
	if err != nil {
		return Coordinate{}, invalidReference(ref)
	}
	row, err := strconv.Atoi(digits)
	if err != nil || row < 1 || row > MaxRows {
		return Coordinate{}, invalidReference(ref)
	}
	return Coordinate{Row: row, Col: col}, nil
}

// Reference is a single cell address with an optional sheet qualifier.
type Reference struct {
	Sheet string
	Coord Coordinate
}

func (r Reference) String() string {
	if r.Sheet == "" {
		return r.Coord.String()
	}
	return r.Sheet + "!" + r.Coord.String()
}

// Range is a rectangular block of cells, always stored normalized so that
// Start holds the minimum row and column and End the maximum.
type Range struct {
	Sheet string
	Start Coordinate
	End   Coordinate
}

// NewRange builds a normalized range from two corners given in any order.
func NewRange(sheet string, a, b Coordinate) Range {
	return Range{
		Sheet: sheet,
		Start: Coordinate{Row: min(a.Row, b.Row), Col: min(a.Col, b.Col)},
		End:   Coordinate{Row: max(a.Row, b.Row), Col: max(a.Col, b.Col)},
	}
}

func (r Range) String() string {
	s := r.Start.String() + ":" + r.End.String()
	if r.Sheet != "" {
		s = r.Sheet + "!" + s
	}
	return s
}

// Contains reports whether c falls inside the range bounds.
func (r Range) Contains(c Coordinate) bool {
	return c.Row >= r.Start.Row && c.Row <= r.End.Row &&
		c.Col >= r.Start.Col && c.Col <= r.End.Col
}

// Size is the number of cells covered. It saturates at math.MaxInt instead
// of overflowing.
func (r Range) Size() int {
	rows := r.End.Row - r.Start.Row + 1
	cols := r.End.Col - r.Start.Col + 1
	if rows <= 0 || cols <= 0 {
		return 0
	}
	if rows > math.MaxInt/cols {
		return math.MaxInt
	}
	return rows * cols
}

// Cells yields every coordinate row by row.
func (r Range) Cells() iter.Seq[Coordinate] {
	return func(yield func(Coordinate) bool) {
		for row := r.Start.Row; row <= r.End.Row; row++ {
			for col := r.Start.Col; col <= r.End.Col; col++ {
				if !yield(Coordinate{Row: row, Col: col}) {
					return
				}
			}
		}
	}
}

// ParseReference parses "[Sheet!]A1". Absolute markers ("$A$1") are accepted
// and dropped.
func ParseReference(text string) (Reference, error) {
	sheet, cell, err := splitSheet(text)
	if err != nil {
		return Reference{}, err
	}
	coord, err := Decode(stripAbsolute(cell))
	if err != nil {
		return Reference{}, invalidReference(text)
	}
	return Reference{Sheet: sheet, Coord: coord}, nil
}

// ParseRange parses "[Sheet!]A1:B5". The end may repeat the same sheet
// qualifier; a different one is rejected. Reversed bounds are normalized.
func ParseRange(text string) (Range, error) {
	left, right, ok := strings.Cut(text, ":")
	if !ok || strings.Contains(right, ":") {
		return Range{}, invalidReference(text)
	}
	start, err := ParseReference(left)
	if err != nil {
		return Range{}, invalidReference(text)
	}
	end, err := ParseReference(right)
	if err != nil {
		return Range{}, invalidReference(text)
	}
	if end.Sheet != "" && end.Sheet != start.Sheet {
		return Range{}, invalidReference(text)
	}
	return NewRange(start.Sheet, start.Coord, end.Coord), nil
}

// ValidSheetName reports whether name can appear before "!" in a reference:
// it starts with a letter or underscore, holds only letters, digits,
// underscores and dots, and does not itself read as a cell address.
func ValidSheetName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if i == 0 && !(unicode.IsLetter(r) || r == '_') {
			return false
		}
		if !isSheetRune(r) {
			return false
		}
	}
	if _, err := Decode(name); err == nil {
		return false
	}
	return true
}

func splitSheet(text string) (sheet, cell string, err error) {
	i := strings.LastIndexByte(text, '!')
	if i < 0 {
		return "", text, nil
	}
	sheet, cell = text[:i], text[i+1:]
	if !ValidSheetName(sheet) {
		return "", "", invalidReference(text)
	}
	return sheet, cell, nil
}

func stripAbsolute(cell string) string {
	if strings.IndexByte(cell, '$') < 0 {
		return cell
	}
	// Only "$A1", "A$1" and "$A$1" shapes are legal.
	out := strings.TrimPrefix(cell, "$")
	split := 0
	for split < len(out) && isASCIILetter(out[split]) {
		split++
	}
	return out[:split] + strings.TrimPrefix(out[split:], "$")
}

func isASCIILetter(ch byte) bool {
	return ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z'
}

func isSheetRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}
