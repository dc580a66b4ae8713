// Package store persists spreadsheets, sheets and cells.
//
// Three backends share one interface: Postgres for production, SQLite for a
// single-node or local setup, and an in-memory store used by tests and by
// the sheetcalc CLI. Every backend also satisfies formula.Store and
// formula.RangeReader, so the engine reads from it directly.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/JonMunkholm/sheets/internal/formula"
)

var (
	// ErrNotFound is returned when a spreadsheet, sheet or cell does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned when a sheet name is already used in its spreadsheet.
	ErrDuplicateName = errors.New("sheet name already exists in this spreadsheet")

	// ErrLastSheet is returned when deleting the only sheet of a spreadsheet.
	ErrLastSheet = errors.New("cannot delete the last sheet of a spreadsheet")
)

// Spreadsheet is a workbook holding one or more sheets.
type Spreadsheet struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Sheet is one tab of a spreadsheet. Position orders sheets for display.
type Sheet struct {
	ID            string    `json:"id"`
	SpreadsheetID string    `json:"spreadsheetId"`
	Name          string    `json:"name"`
	Position      int       `json:"position"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Ref returns the engine's view of the sheet.
func (s Sheet) Ref() formula.SheetRef {
	return formula.SheetRef{ID: s.ID, Name: s.Name, SpreadsheetID: s.SpreadsheetID}
}

// Cell is a stored cell. Style is opaque client JSON; a nil Style on write
// keeps whatever style the cell already has.
type Cell struct {
	SheetID   string          `json:"sheetId"`
	Row       int             `json:"row"`
	Col       int             `json:"column"`
	Value     string          `json:"value"`
	Formula   string          `json:"formula,omitempty"`
	Style     json.RawMessage `json:"style,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// View returns the engine's view of the cell.
func (c Cell) View() formula.CellView {
	return formula.CellView{SheetID: c.SheetID, Row: c.Row, Col: c.Col, Value: c.Value, Formula: c.Formula}
}

// Ref returns the cell's A1 address.
func (c Cell) Ref() string {
	return formula.Encode(c.Row, c.Col)
}

// Store is implemented by every backend.
type Store interface {
	formula.Store
	formula.RangeReader

	CreateSpreadsheet(ctx context.Context, name string) (Spreadsheet, error)
	GetSpreadsheet(ctx context.Context, id string) (Spreadsheet, error)
	ListSpreadsheets(ctx context.Context) ([]Spreadsheet, error)
	RenameSpreadsheet(ctx context.Context, id, name string) (Spreadsheet, error)
	DeleteSpreadsheet(ctx context.Context, id string) error

	CreateSheet(ctx context.Context, spreadsheetID, name string) (Sheet, error)
	GetSheet(ctx context.Context, id string) (Sheet, error)
	ListSheets(ctx context.Context, spreadsheetID string) ([]Sheet, error)
	RenameSheet(ctx context.Context, id, name string) (Sheet, error)
	DeleteSheet(ctx context.Context, id string) error

	// UpsertCell writes value, formula and (when non-nil) style.
	UpsertCell(ctx context.Context, cell Cell) (Cell, error)
	// ListCells returns every stored cell of a sheet ordered by row, then column.
	ListCells(ctx context.Context, sheetID string) ([]Cell, error)

	Ping(ctx context.Context) error
	Close() error
}

// Compile-time interface checks.
var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = (*Postgres)(nil)
)
