package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/sheets/internal/formula"
)

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Foreign keys are enforced so deletes cascade to sheets and cells.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) CreateSpreadsheet(ctx context.Context, name string) (Spreadsheet, error) {
	now := time.Now().UTC()
	ss := Spreadsheet{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spreadsheets (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		ss.ID, ss.Name, formatTime(now), formatTime(now))
	if err != nil {
		return Spreadsheet{}, fmt.Errorf("insert spreadsheet: %w", err)
	}
	return ss, nil
}

func (s *SQLite) GetSpreadsheet(ctx context.Context, id string) (Spreadsheet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM spreadsheets WHERE id = ?`, id)
	ss, err := scanSQLiteSpreadsheet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Spreadsheet{}, ErrNotFound
	}
	return ss, err
}

func (s *SQLite) ListSpreadsheets(ctx context.Context) ([]Spreadsheet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM spreadsheets ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list spreadsheets: %w", err)
	}
	defer rows.Close()

	var out []Spreadsheet
	for rows.Next() {
		ss, err := scanSQLiteSpreadsheet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

func (s *SQLite) RenameSpreadsheet(ctx context.Context, id, name string) (Spreadsheet, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE spreadsheets SET name = ?, updated_at = ? WHERE id = ?`,
		name, formatTime(time.Now().UTC()), id)
	if err := expectRow(res, err); err != nil {
		return Spreadsheet{}, err
	}
	return s.GetSpreadsheet(ctx, id)
}

func (s *SQLite) DeleteSpreadsheet(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM spreadsheets WHERE id = ?`, id)
	return expectRow(res, err)
}

func (s *SQLite) CreateSheet(ctx context.Context, spreadsheetID, name string) (Sheet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Sheet{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sheets WHERE spreadsheet_id = ?`, spreadsheetID).Scan(&count); err != nil {
		return Sheet{}, fmt.Errorf("count sheets: %w", err)
	}

	now := time.Now().UTC()
	sh := Sheet{ID: uuid.NewString(), SpreadsheetID: spreadsheetID, Name: name, Position: count, CreatedAt: now}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sheets (id, spreadsheet_id, name, position, created_at) VALUES (?, ?, ?, ?, ?)`,
		sh.ID, sh.SpreadsheetID, sh.Name, sh.Position, formatTime(now))
	if err != nil {
		return Sheet{}, sqliteError("insert sheet", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE spreadsheets SET updated_at = ? WHERE id = ?`, formatTime(now), spreadsheetID); err != nil {
		return Sheet{}, fmt.Errorf("touch spreadsheet: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Sheet{}, fmt.Errorf("commit: %w", err)
	}
	return sh, nil
}

func (s *SQLite) GetSheet(ctx context.Context, id string) (Sheet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, spreadsheet_id, name, position, created_at FROM sheets WHERE id = ?`, id)
	sh, err := scanSQLiteSheet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Sheet{}, ErrNotFound
	}
	return sh, err
}

func (s *SQLite) ListSheets(ctx context.Context, spreadsheetID string) ([]Sheet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, spreadsheet_id, name, position, created_at FROM sheets
		 WHERE spreadsheet_id = ? ORDER BY position, created_at`, spreadsheetID)
	if err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}
	defer rows.Close()

	var out []Sheet
	for rows.Next() {
		sh, err := scanSQLiteSheet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func (s *SQLite) RenameSheet(ctx context.Context, id, name string) (Sheet, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sheets SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return Sheet{}, sqliteError("rename sheet", err)
	}
	if err := expectRow(res, nil); err != nil {
		return Sheet{}, err
	}
	return s.GetSheet(ctx, id)
}

func (s *SQLite) DeleteSheet(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sheets WHERE spreadsheet_id = (SELECT spreadsheet_id FROM sheets WHERE id = ?)`,
		id).Scan(&count)
	if err != nil {
		return fmt.Errorf("count sheets: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	if count == 1 {
		return ErrLastSheet
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sheets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete sheet: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) UpsertCell(ctx context.Context, cell Cell) (Cell, error) {
	cell.UpdatedAt = time.Now().UTC()
	var style any
	if cell.Style != nil {
		style = string(cell.Style)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cells (sheet_id, row_idx, col_idx, value, formula, style, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (sheet_id, row_idx, col_idx) DO UPDATE SET
		   value = excluded.value,
		   formula = excluded.formula,
		   style = COALESCE(excluded.style, cells.style),
		   updated_at = excluded.updated_at`,
		cell.SheetID, cell.Row, cell.Col, cell.Value, cell.Formula, style, formatTime(cell.UpdatedAt))
	if err != nil {
		return Cell{}, sqliteError("upsert cell", err)
	}
	if cell.Style == nil {
		err := s.db.QueryRowContext(ctx,
			`SELECT style FROM cells WHERE sheet_id = ? AND row_idx = ? AND col_idx = ?`,
			cell.SheetID, cell.Row, cell.Col).Scan(&nullStyle{&cell.Style})
		if err != nil {
			return Cell{}, fmt.Errorf("read style: %w", err)
		}
	}
	return cell, nil
}

func (s *SQLite) ListCells(ctx context.Context, sheetID string) ([]Cell, error) {
	if _, err := s.GetSheet(ctx, sheetID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sheet_id, row_idx, col_idx, value, formula, style, updated_at FROM cells
		 WHERE sheet_id = ? ORDER BY row_idx, col_idx`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	defer rows.Close()

	var out []Cell
	for rows.Next() {
		var c Cell
		var updated string
		if err := rows.Scan(&c.SheetID, &c.Row, &c.Col, &c.Value, &c.Formula, &nullStyle{&c.Style}, &updated); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		c.UpdatedAt = parseTime(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCell implements formula.Source.
func (s *SQLite) GetCell(ctx context.Context, sheetID string, row, col int) (formula.CellView, bool, error) {
	v := formula.CellView{SheetID: sheetID, Row: row, Col: col}
	err := s.db.QueryRowContext(ctx,
		`SELECT value, formula FROM cells WHERE sheet_id = ? AND row_idx = ? AND col_idx = ?`,
		sheetID, row, col).Scan(&v.Value, &v.Formula)
	if errors.Is(err, sql.ErrNoRows) {
		return formula.CellView{}, false, nil
	}
	if err != nil {
		return formula.CellView{}, false, fmt.Errorf("get cell: %w", err)
	}
	return v, true, nil
}

// GetRange implements formula.RangeReader.
func (s *SQLite) GetRange(ctx context.Context, sheetID string, start, end formula.Coordinate) ([]formula.CellView, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_idx, col_idx, value, formula FROM cells
		 WHERE sheet_id = ? AND row_idx BETWEEN ? AND ? AND col_idx BETWEEN ? AND ?`,
		sheetID, start.Row, end.Row, start.Col, end.Col)
	if err != nil {
		return nil, fmt.Errorf("get range: %w", err)
	}
	return collectSQLiteViews(rows, sheetID)
}

// ListFormulaCells implements formula.Source.
func (s *SQLite) ListFormulaCells(ctx context.Context, sheetID string) ([]formula.CellView, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_idx, col_idx, value, formula FROM cells
		 WHERE sheet_id = ? AND formula <> '' ORDER BY row_idx, col_idx`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("list formula cells: %w", err)
	}
	return collectSQLiteViews(rows, sheetID)
}

// FindSheetByName implements formula.Source.
func (s *SQLite) FindSheetByName(ctx context.Context, spreadsheetID, name string) (formula.SheetRef, bool, error) {
	ref := formula.SheetRef{SpreadsheetID: spreadsheetID, Name: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sheets WHERE spreadsheet_id = ? AND name = ?`, spreadsheetID, name).Scan(&ref.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return formula.SheetRef{}, false, nil
	}
	if err != nil {
		return formula.SheetRef{}, false, fmt.Errorf("find sheet: %w", err)
	}
	return ref, true, nil
}

// SaveCell implements formula.Sink.
func (s *SQLite) SaveCell(ctx context.Context, view formula.CellView) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cells (sheet_id, row_idx, col_idx, value, formula, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (sheet_id, row_idx, col_idx) DO UPDATE SET
		   value = excluded.value,
		   updated_at = excluded.updated_at`,
		view.SheetID, view.Row, view.Col, view.Value, view.Formula, formatTime(time.Now().UTC()))
	if err != nil {
		return sqliteError("save cell", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSpreadsheet(row rowScanner) (Spreadsheet, error) {
	var ss Spreadsheet
	var created, updated string
	if err := row.Scan(&ss.ID, &ss.Name, &created, &updated); err != nil {
		return Spreadsheet{}, err
	}
	ss.CreatedAt, ss.UpdatedAt = parseTime(created), parseTime(updated)
	return ss, nil
}

func scanSQLiteSheet(row rowScanner) (Sheet, error) {
	var sh Sheet
	var created string
	if err := row.Scan(&sh.ID, &sh.SpreadsheetID, &sh.Name, &sh.Position, &created); err != nil {
		return Sheet{}, err
	}
	sh.CreatedAt = parseTime(created)
	return sh, nil
}

func collectSQLiteViews(rows *sql.Rows, sheetID string) ([]formula.CellView, error) {
	defer rows.Close()
	var out []formula.CellView
	for rows.Next() {
		v := formula.CellView{SheetID: sheetID}
		if err := rows.Scan(&v.Row, &v.Col, &v.Value, &v.Formula); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// nullStyle scans a nullable TEXT column into a json.RawMessage.
type nullStyle struct {
	dst *json.RawMessage
}

func (n *nullStyle) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n.dst = nil
	case string:
		*n.dst = json.RawMessage(v)
	case []byte:
		*n.dst = append(json.RawMessage(nil), v...)
	default:
		return fmt.Errorf("unsupported style type %T", src)
	}
	return nil
}

// expectRow maps a zero-row write to ErrNotFound.
func expectRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func sqliteError(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: sheets"):
		return ErrDuplicateName
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// sqliteTime is fixed-width so timestamps sort correctly as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(sqliteTime, s)
	return t
}
