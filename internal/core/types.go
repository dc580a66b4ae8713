package core

import (
	"encoding/json"
	"errors"

	"github.com/JonMunkholm/sheets/internal/formula"
	"github.com/JonMunkholm/sheets/internal/store"
)

var (
	// ErrInvalidName is returned for empty names and sheet names the formula grammar cannot reference.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidCoordinate is returned for cells outside the sheet bounds.
	ErrInvalidCoordinate = errors.New("invalid cell coordinate")

	// ErrBatchTooLarge is returned when a batch exceeds the configured limit.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrInvalidRequest wraps malformed request bodies and parameters.
	ErrInvalidRequest = errors.New("invalid request")
)

// CellUpdate is one cell write. A non-empty Formula makes it a formula
// write; otherwise Value is stored as a plain value. A nil Style keeps the
// cell's current style.
type CellUpdate struct {
	Row     int             `json:"row"`
	Col     int             `json:"column"`
	Value   string          `json:"value"`
	Formula string          `json:"formula,omitempty"`
	Style   json.RawMessage `json:"style,omitempty"`
}

// normalize moves a value that starts with "=" into Formula.
func (u CellUpdate) normalize() CellUpdate {
	if u.Formula == "" && len(u.Value) > 0 && u.Value[0] == '=' {
		u.Formula = u.Value
	}
	if u.Formula != "" {
		u.Value = ""
	}
	return u
}

func (u CellUpdate) valid() bool {
	return formula.Coordinate{Row: u.Row, Col: u.Col}.Valid()
}

// UpdateResult reports a single cell write.
type UpdateResult struct {
	Cell         store.Cell          `json:"cell"`
	Recalculated []formula.CellView `json:"recalculated"`
	Failed       int                 `json:"failed"`
}

// BatchResult reports a batch of cell writes.
type BatchResult struct {
	Cells        []store.Cell `json:"cells"`
	Skipped      int          `json:"skipped"`
	Recalculated int          `json:"recalculated"`
	Failed       int          `json:"failed"`
}

// SpreadsheetDetail is a spreadsheet with its sheets in display order.
type SpreadsheetDetail struct {
	store.Spreadsheet
	Sheets []store.Sheet `json:"sheets"`
}

// EventType names a broadcast event.
type EventType string

const (
	EventCellUpdated EventType = "cell_updated"
	EventUserJoined  EventType = "user_joined"
	EventUserLeft    EventType = "user_left"
	EventCursorMove  EventType = "cursor_move"
)

// Event is broadcast to clients subscribed to a spreadsheet. ClientID is the
// originating client; it never receives its own event.
type Event struct {
	Type          EventType       `json:"type"`
	SpreadsheetID string          `json:"spreadsheetId"`
	ClientID      string          `json:"clientId,omitempty"`
	SheetID       string          `json:"sheetId,omitempty"`
	Row           int             `json:"row,omitempty"`
	Col           int             `json:"column,omitempty"`
	Value         string          `json:"value,omitempty"`
	Formula       string          `json:"formula,omitempty"`
	Style         json.RawMessage `json:"style,omitempty"`
}

func cellEvent(spreadsheetID, clientID string, c store.Cell) Event {
	return Event{
		Type:          EventCellUpdated,
		SpreadsheetID: spreadsheetID,
		ClientID:      clientID,
		SheetID:       c.SheetID,
		Row:           c.Row,
		Col:           c.Col,
		Value:         c.Value,
		Formula:       c.Formula,
		Style:         c.Style,
	}
}

func recalcEvent(spreadsheetID string, v formula.CellView) Event {
	return Event{
		Type:          EventCellUpdated,
		SpreadsheetID: spreadsheetID,
		SheetID:       v.SheetID,
		Row:           v.Row,
		Col:           v.Col,
		Value:         v.Value,
		Formula:       v.Formula,
	}
}
