package formula

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/efp"
)

// Refs holds what a formula mentions, split by shape.
type Refs struct {
	Cells  []Reference
	Ranges []Range
}

// References extracts every cell and range reference from formula text.
// The extraction is purely syntactic; names that do not parse as references
// are ignored.
func References(formula string) Refs {
	var refs Refs
	ps := efp.ExcelParser()
	for _, tok := range ps.Parse(formula) {
		if tok.TType != efp.TokenTypeOperand || tok.TSubType != efp.TokenSubTypeRange {
			continue
		}
		text := tok.TValue
		if strings.Contains(text, ":") {
			if rng, err := ParseRange(text); err == nil {
				refs.Ranges = append(refs.Ranges, rng)
			}
			continue
		}
		if !isReferenceShape(text) {
			continue
		}
		if ref, err := ParseReference(text); err == nil {
			refs.Cells = append(refs.Cells, ref)
		}
	}
	return refs
}

// Mentions reports whether the references include c on the sheet named
// sheetName. Unqualified references belong to that sheet; qualified ones
// count only when the qualifier is the sheet's own name.
func (r Refs) Mentions(sheetName string, c Coordinate) bool {
	for _, ref := range r.Cells {
		if sameSheet(ref.Sheet, sheetName) && ref.Coord == c {
			return true
		}
	}
	for _, rng := range r.Ranges {
		if sameSheet(rng.Sheet, sheetName) && rng.Contains(c) {
			return true
		}
	}
	return false
}

func sameSheet(qualifier, sheetName string) bool {
	return qualifier == "" || qualifier == sheetName
}

func refersTo(formula, sheetName string, c Coordinate) bool {
	return References(formula).Mentions(sheetName, c)
}

// FindDependents returns the formula cells on sheet whose formula mentions
// at, directly or inside a range. Only same-sheet references are followed.
func FindDependents(ctx context.Context, src Source, sheet SheetRef, at Coordinate) ([]CellView, error) {
	cells, err := src.ListFormulaCells(ctx, sheet.ID)
	if err != nil {
		return nil, fmt.Errorf("list formula cells: %w", err)
	}
	var deps []CellView
	for _, cell := range cells {
		if cell.Formula == "" {
			continue
		}
		if refersTo(cell.Formula, sheet.Name, at) {
			deps = append(deps, cell)
		}
	}
	return deps, nil
}
