package formula

import "context"

// SheetRef identifies a sheet. Names are unique within a spreadsheet.
type SheetRef struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SpreadsheetID string `json:"spreadsheet_id"`
}

// CellView is the engine's view of a stored cell. A non-empty Formula starts
// with "="; Value then holds the last computed result or an error marker.
type CellView struct {
	SheetID string `json:"sheet_id"`
	Row     int    `json:"row"`
	Col     int    `json:"column"`
	Value   string `json:"value"`
	Formula string `json:"formula,omitempty"`
}

// Coord returns the cell's position.
func (c CellView) Coord() Coordinate {
	return Coordinate{Row: c.Row, Col: c.Col}
}

// Ref returns the cell's A1 address.
func (c CellView) Ref() string {
	return Encode(c.Row, c.Col)
}

// Source is what the engine reads from storage.
type Source interface {
	// GetCell returns the cell at (row, col) and whether it exists.
	GetCell(ctx context.Context, sheetID string, row, col int) (CellView, bool, error)
	// ListFormulaCells returns every cell on the sheet with a non-empty formula.
	ListFormulaCells(ctx context.Context, sheetID string) ([]CellView, error)
	// FindSheetByName looks a sheet up by exact name within a spreadsheet.
	FindSheetByName(ctx context.Context, spreadsheetID, name string) (SheetRef, bool, error)
}

// Sink is what the recalculator writes to. SaveCell stores the computed
// value of an existing formula cell and leaves its formula and any
// presentation attributes untouched.
type Sink interface {
	SaveCell(ctx context.Context, cell CellView) error
}

// Store is a Source that can also be written to.
type Store interface {
	Source
	Sink
}
