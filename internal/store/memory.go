package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sheets/internal/formula"
)

// Memory is a Store held entirely in process memory.
type Memory struct {
	mu           sync.RWMutex
	spreadsheets map[string]Spreadsheet
	sheets       map[string]Sheet
	cells        map[string]map[formula.Coordinate]Cell
	now          func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		spreadsheets: make(map[string]Spreadsheet),
		sheets:       make(map[string]Sheet),
		cells:        make(map[string]map[formula.Coordinate]Cell),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateSpreadsheet(_ context.Context, name string) (Spreadsheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	ss := Spreadsheet{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	m.spreadsheets[ss.ID] = ss
	return ss, nil
}

func (m *Memory) GetSpreadsheet(_ context.Context, id string) (Spreadsheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ss, ok := m.spreadsheets[id]
	if !ok {
		return Spreadsheet{}, ErrNotFound
	}
	return ss, nil
}

func (m *Memory) ListSpreadsheets(_ context.Context) ([]Spreadsheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Spreadsheet, 0, len(m.spreadsheets))
	for _, ss := range m.spreadsheets {
		out = append(out, ss)
	}
	slices.SortFunc(out, func(a, b Spreadsheet) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

func (m *Memory) RenameSpreadsheet(_ context.Context, id, name string) (Spreadsheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss, ok := m.spreadsheets[id]
	if !ok {
		return Spreadsheet{}, ErrNotFound
	}
	ss.Name = name
	ss.UpdatedAt = m.now()
	m.spreadsheets[id] = ss
	return ss, nil
}

func (m *Memory) DeleteSpreadsheet(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spreadsheets[id]; !ok {
		return ErrNotFound
	}
	for sid, sh := range m.sheets {
		if sh.SpreadsheetID == id {
			delete(m.sheets, sid)
			delete(m.cells, sid)
		}
	}
	delete(m.spreadsheets, id)
	return nil
}

func (m *Memory) CreateSheet(_ context.Context, spreadsheetID, name string) (Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spreadsheets[spreadsheetID]; !ok {
		return Sheet{}, ErrNotFound
	}
	count := 0
	for _, sh := range m.sheets {
		if sh.SpreadsheetID != spreadsheetID {
			continue
		}
		if sh.Name == name {
			return Sheet{}, ErrDuplicateName
		}
		count++
	}
	sh := Sheet{ID: uuid.NewString(), SpreadsheetID: spreadsheetID, Name: name, Position: count, CreatedAt: m.now()}
	m.sheets[sh.ID] = sh
	m.cells[sh.ID] = make(map[formula.Coordinate]Cell)
	m.touch(spreadsheetID)
	return sh, nil
}

func (m *Memory) GetSheet(_ context.Context, id string) (Sheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sh, ok := m.sheets[id]
	if !ok {
		return Sheet{}, ErrNotFound
	}
	return sh, nil
}

func (m *Memory) ListSheets(_ context.Context, spreadsheetID string) ([]Sheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Sheet
	for _, sh := range m.sheets {
		if sh.SpreadsheetID == spreadsheetID {
			out = append(out, sh)
		}
	}
	slices.SortFunc(out, func(a, b Sheet) int { return cmp.Compare(a.Position, b.Position) })
	return out, nil
}

func (m *Memory) RenameSheet(_ context.Context, id, name string) (Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.sheets[id]
	if !ok {
		return Sheet{}, ErrNotFound
	}
	for _, other := range m.sheets {
		if other.SpreadsheetID == sh.SpreadsheetID && other.ID != id && other.Name == name {
			return Sheet{}, ErrDuplicateName
		}
	}
	sh.Name = name
	m.sheets[id] = sh
	m.touch(sh.SpreadsheetID)
	return sh, nil
}

func (m *Memory) DeleteSheet(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.sheets[id]
	if !ok {
		return ErrNotFound
	}
	count := 0
	for _, other := range m.sheets {
		if other.SpreadsheetID == sh.SpreadsheetID {
			count++
		}
	}
	if count <= 1 {
		return ErrLastSheet
	}
	delete(m.sheets, id)
	delete(m.cells, id)
	m.touch(sh.SpreadsheetID)
	return nil
}

func (m *Memory) UpsertCell(_ context.Context, cell Cell) (Cell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.sheets[cell.SheetID]
	if !ok {
		return Cell{}, ErrNotFound
	}
	key := formula.Coordinate{Row: cell.Row, Col: cell.Col}
	if cell.Style == nil {
		cell.Style = m.cells[cell.SheetID][key].Style
	}
	cell.UpdatedAt = m.now()
	m.cells[cell.SheetID][key] = cell
	m.touch(sh.SpreadsheetID)
	return cell, nil
}

func (m *Memory) ListCells(_ context.Context, sheetID string) ([]Cell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sheets[sheetID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Cell, 0, len(m.cells[sheetID]))
	for _, c := range m.cells[sheetID] {
		out = append(out, c)
	}
	sortCells(out)
	return out, nil
}

// GetCell implements formula.Source.
func (m *Memory) GetCell(_ context.Context, sheetID string, row, col int) (formula.CellView, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cells[sheetID][formula.Coordinate{Row: row, Col: col}]
	if !ok {
		return formula.CellView{}, false, nil
	}
	return c.View(), true, nil
}

// GetRange implements formula.RangeReader.
func (m *Memory) GetRange(_ context.Context, sheetID string, start, end formula.Coordinate) ([]formula.CellView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rng := formula.NewRange("", start, end)
	var out []formula.CellView
	for key, c := range m.cells[sheetID] {
		if rng.Contains(key) {
			out = append(out, c.View())
		}
	}
	return out, nil
}

// ListFormulaCells implements formula.Source.
func (m *Memory) ListFormulaCells(_ context.Context, sheetID string) ([]formula.CellView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var cells []Cell
	for _, c := range m.cells[sheetID] {
		if c.Formula != "" {
			cells = append(cells, c)
		}
	}
	sortCells(cells)
	out := make([]formula.CellView, len(cells))
	for i, c := range cells {
		out[i] = c.View()
	}
	return out, nil
}

// FindSheetByName implements formula.Source.
func (m *Memory) FindSheetByName(_ context.Context, spreadsheetID, name string) (formula.SheetRef, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sh := range m.sheets {
		if sh.SpreadsheetID == spreadsheetID && sh.Name == name {
			return sh.Ref(), true, nil
		}
	}
	return formula.SheetRef{}, false, nil
}

// SaveCell implements formula.Sink. Formula and style of an existing cell
// are kept.
func (m *Memory) SaveCell(_ context.Context, view formula.CellView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sheets[view.SheetID]; !ok {
		return ErrNotFound
	}
	key := formula.Coordinate{Row: view.Row, Col: view.Col}
	c, ok := m.cells[view.SheetID][key]
	if !ok {
		c = Cell{SheetID: view.SheetID, Row: view.Row, Col: view.Col, Formula: view.Formula}
	}
	c.Value = view.Value
	c.UpdatedAt = m.now()
	m.cells[view.SheetID][key] = c
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// touch bumps a spreadsheet's UpdatedAt. Callers hold m.mu.
func (m *Memory) touch(spreadsheetID string) {
	if ss, ok := m.spreadsheets[spreadsheetID]; ok {
		ss.UpdatedAt = m.now()
		m.spreadsheets[spreadsheetID] = ss
	}
}

func sortCells(cells []Cell) {
	slices.SortFunc(cells, func(a, b Cell) int {
		if c := cmp.Compare(a.Row, b.Row); c != 0 {
			return c
		}
		return cmp.Compare(a.Col, b.Col)
	})
}
