package formula

import (
	"math"
	"strconv"
	"strings"
)

// ErrorPrefix starts every stored error marker.
const ErrorPrefix = "#ERROR"

// ErrorMarker renders a failure as the value stored in the failing cell.
func ErrorMarker(err error) string {
	return ErrorPrefix + ": " + err.Error()
}

// IsError reports whether a stored raw value is an error marker.
func IsError(raw string) bool {
	return strings.HasPrefix(raw, ErrorPrefix)
}

// ValueKind tags a ResolvedValue.
type ValueKind int

const (
	Empty ValueKind = iota
	Number
	Text
	ErrorValue
)

func (k ValueKind) String() string {
	switch k {
	case Number:
		return "number"
	case Text:
		return "text"
	case ErrorValue:
		return "error"
	default:
		return "empty"
	}
}

// ResolvedValue is a cell's effective value as seen by a formula.
type ResolvedValue struct {
	Kind   ValueKind
	Number float64
	Text   string
}

// Resolve classifies a stored raw value. A missing cell and the empty string
// are Empty; error markers are ErrorValue; anything that parses as a finite
// number is Number; the rest is Text.
func Resolve(raw string, exists bool) ResolvedValue {
	if !exists || raw == "" {
		return ResolvedValue{Kind: Empty}
	}
	if IsError(raw) {
		return ResolvedValue{Kind: ErrorValue, Text: raw}
	}
	if f, ok := parseNumber(raw); ok {
		return ResolvedValue{Kind: Number, Number: f}
	}
	return ResolvedValue{Kind: Text, Text: raw}
}

// parseNumber accepts plain decimal and exponent notation. Hex floats,
// digit separators, Inf and NaN are not numbers to a sheet.
func parseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !(ch >= '0' && ch <= '9' || ch == '.' || ch == '-' || ch == '+' || ch == 'e' || ch == 'E') {
			return 0, false
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// FormatNumber renders a result: integral values without a fraction,
// everything else in the shortest decimal form that round-trips.
func FormatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
