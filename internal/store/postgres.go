package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/sheets/internal/formula"
)

// Postgres error codes mapped onto store errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidText         = "22P02"
)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool. Call Migrate before first use.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate applies the schema. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) CreateSpreadsheet(ctx context.Context, name string) (Spreadsheet, error) {
	var ss Spreadsheet
	err := p.pool.QueryRow(ctx,
		`INSERT INTO spreadsheets (id, name) VALUES ($1, $2)
		 RETURNING id::text, name, created_at, updated_at`,
		uuid.NewString(), name).Scan(&ss.ID, &ss.Name, &ss.CreatedAt, &ss.UpdatedAt)
	if err != nil {
		return Spreadsheet{}, fmt.Errorf("insert spreadsheet: %w", err)
	}
	return ss, nil
}

func (p *Postgres) GetSpreadsheet(ctx context.Context, id string) (Spreadsheet, error) {
	var ss Spreadsheet
	err := p.pool.QueryRow(ctx,
		`SELECT id::text, name, created_at, updated_at FROM spreadsheets WHERE id = $1`,
		id).Scan(&ss.ID, &ss.Name, &ss.CreatedAt, &ss.UpdatedAt)
	if err != nil {
		return Spreadsheet{}, pgError("get spreadsheet", err)
	}
	return ss, nil
}

func (p *Postgres) ListSpreadsheets(ctx context.Context) ([]Spreadsheet, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, name, created_at, updated_at FROM spreadsheets ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list spreadsheets: %w", err)
	}
	defer rows.Close()

	var out []Spreadsheet
	for rows.Next() {
		var ss Spreadsheet
		if err := rows.Scan(&ss.ID, &ss.Name, &ss.CreatedAt, &ss.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan spreadsheet: %w", err)
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

func (p *Postgres) RenameSpreadsheet(ctx context.Context, id, name string) (Spreadsheet, error) {
	var ss Spreadsheet
	err := p.pool.QueryRow(ctx,
		`UPDATE spreadsheets SET name = $2, updated_at = now() WHERE id = $1
		 RETURNING id::text, name, created_at, updated_at`,
		id, name).Scan(&ss.ID, &ss.Name, &ss.CreatedAt, &ss.UpdatedAt)
	if err != nil {
		return Spreadsheet{}, pgError("rename spreadsheet", err)
	}
	return ss, nil
}

func (p *Postgres) DeleteSpreadsheet(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM spreadsheets WHERE id = $1`, id)
	if err != nil {
		return pgError("delete spreadsheet", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateSheet(ctx context.Context, spreadsheetID, name string) (Sheet, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Sheet{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the parent row so concurrent creates agree on the next position.
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT true FROM spreadsheets WHERE id = $1 FOR UPDATE`, spreadsheetID).Scan(&exists)
	if err != nil {
		return Sheet{}, pgError("lock spreadsheet", err)
	}

	var sh Sheet
	err = tx.QueryRow(ctx,
		`INSERT INTO sheets (id, spreadsheet_id, name, position)
		 VALUES ($1, $2, $3, (SELECT COUNT(*) FROM sheets WHERE spreadsheet_id = $2))
		 RETURNING id::text, spreadsheet_id::text, name, position, created_at`,
		uuid.NewString(), spreadsheetID, name).
		Scan(&sh.ID, &sh.SpreadsheetID, &sh.Name, &sh.Position, &sh.CreatedAt)
	if err != nil {
		return Sheet{}, pgError("insert sheet", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE spreadsheets SET updated_at = now() WHERE id = $1`, spreadsheetID); err != nil {
		return Sheet{}, fmt.Errorf("touch spreadsheet: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Sheet{}, fmt.Errorf("commit: %w", err)
	}
	return sh, nil
}

func (p *Postgres) GetSheet(ctx context.Context, id string) (Sheet, error) {
	var sh Sheet
	err := p.pool.QueryRow(ctx,
		`SELECT id::text, spreadsheet_id::text, name, position, created_at FROM sheets WHERE id = $1`,
		id).Scan(&sh.ID, &sh.SpreadsheetID, &sh.Name, &sh.Position, &sh.CreatedAt)
	if err != nil {
		return Sheet{}, pgError("get sheet", err)
	}
	return sh, nil
}

func (p *Postgres) ListSheets(ctx context.Context, spreadsheetID string) ([]Sheet, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, spreadsheet_id::text, name, position, created_at FROM sheets
		 WHERE spreadsheet_id = $1 ORDER BY position, created_at`, spreadsheetID)
	if err != nil {
		return nil, pgError("list sheets", err)
	}
	defer rows.Close()

	var out []Sheet
	for rows.Next() {
		var sh Sheet
		if err := rows.Scan(&sh.ID, &sh.SpreadsheetID, &sh.Name, &sh.Position, &sh.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sheet: %w", err)
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func (p *Postgres) RenameSheet(ctx context.Context, id, name string) (Sheet, error) {
	var sh Sheet
	err := p.pool.QueryRow(ctx,
		`UPDATE sheets SET name = $2 WHERE id = $1
		 RETURNING id::text, spreadsheet_id::text, name, position, created_at`,
		id, name).Scan(&sh.ID, &sh.SpreadsheetID, &sh.Name, &sh.Position, &sh.CreatedAt)
	if err != nil {
		return Sheet{}, pgError("rename sheet", err)
	}
	return sh, nil
}

func (p *Postgres) DeleteSheet(ctx context.Context, id string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var spreadsheetID string
	err = tx.QueryRow(ctx, `SELECT spreadsheet_id::text FROM sheets WHERE id = $1`, id).Scan(&spreadsheetID)
	if err != nil {
		return pgError("get sheet", err)
	}
	var locked bool
	err = tx.QueryRow(ctx,
		`SELECT true FROM spreadsheets WHERE id = $1 FOR UPDATE`, spreadsheetID).Scan(&locked)
	if err != nil {
		return pgError("lock spreadsheet", err)
	}
	var count int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM sheets WHERE spreadsheet_id = $1`, spreadsheetID).Scan(&count)
	if err != nil {
		return fmt.Errorf("count sheets: %w", err)
	}
	if count <= 1 {
		return ErrLastSheet
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sheets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete sheet: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) UpsertCell(ctx context.Context, cell Cell) (Cell, error) {
	var style *string
	if cell.Style != nil {
		s := string(cell.Style)
		style = &s
	}
	var stored *string
	err := p.pool.QueryRow(ctx,
		`INSERT INTO cells (sheet_id, row_idx, col_idx, value, formula, style)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		 ON CONFLICT (sheet_id, row_idx, col_idx) DO UPDATE SET
		   value = EXCLUDED.value,
		   formula = EXCLUDED.formula,
		   style = COALESCE(EXCLUDED.style, cells.style),
		   updated_at = now()
		 RETURNING style::text, updated_at`,
		cell.SheetID, cell.Row, cell.Col, cell.Value, cell.Formula, style).Scan(&stored, &cell.UpdatedAt)
	if err != nil {
		return Cell{}, pgError("upsert cell", err)
	}
	cell.Style = nil
	if stored != nil {
		cell.Style = json.RawMessage(*stored)
	}
	return cell, nil
}

func (p *Postgres) ListCells(ctx context.Context, sheetID string) ([]Cell, error) {
	if _, err := p.GetSheet(ctx, sheetID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT row_idx, col_idx, value, formula, style::text, updated_at FROM cells
		 WHERE sheet_id = $1 ORDER BY row_idx, col_idx`, sheetID)
	if err != nil {
		return nil, pgError("list cells", err)
	}
	defer rows.Close()

	var out []Cell
	for rows.Next() {
		c := Cell{SheetID: sheetID}
		var style *string
		if err := rows.Scan(&c.Row, &c.Col, &c.Value, &c.Formula, &style, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		if style != nil {
			c.Style = json.RawMessage(*style)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCell implements formula.Source.
func (p *Postgres) GetCell(ctx context.Context, sheetID string, row, col int) (formula.CellView, bool, error) {
	v := formula.CellView{SheetID: sheetID, Row: row, Col: col}
	err := p.pool.QueryRow(ctx,
		`SELECT value, formula FROM cells WHERE sheet_id = $1 AND row_idx = $2 AND col_idx = $3`,
		sheetID, row, col).Scan(&v.Value, &v.Formula)
	if errors.Is(err, pgx.ErrNoRows) {
		return formula.CellView{}, false, nil
	}
	if err != nil {
		return formula.CellView{}, false, fmt.Errorf("get cell: %w", err)
	}
	return v, true, nil
}

// GetRange implements formula.RangeReader.
func (p *Postgres) GetRange(ctx context.Context, sheetID string, start, end formula.Coordinate) ([]formula.CellView, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT row_idx, col_idx, value, formula FROM cells
		 WHERE sheet_id = $1 AND row_idx BETWEEN $2 AND $3 AND col_idx BETWEEN $4 AND $5`,
		sheetID, start.Row, end.Row, start.Col, end.Col)
	if err != nil {
		return nil, fmt.Errorf("get range: %w", err)
	}
	return collectPgViews(rows, sheetID)
}

// ListFormulaCells implements formula.Source.
func (p *Postgres) ListFormulaCells(ctx context.Context, sheetID string) ([]formula.CellView, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT row_idx, col_idx, value, formula FROM cells
		 WHERE sheet_id = $1 AND formula <> '' ORDER BY row_idx, col_idx`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("list formula cells: %w", err)
	}
	return collectPgViews(rows, sheetID)
}

// FindSheetByName implements formula.Source.
func (p *Postgres) FindSheetByName(ctx context.Context, spreadsheetID, name string) (formula.SheetRef, bool, error) {
	ref := formula.SheetRef{SpreadsheetID: spreadsheetID, Name: name}
	err := p.pool.QueryRow(ctx,
		`SELECT id::text FROM sheets WHERE spreadsheet_id = $1 AND name = $2`,
		spreadsheetID, name).Scan(&ref.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return formula.SheetRef{}, false, nil
	}
	if err != nil {
		return formula.SheetRef{}, false, fmt.Errorf("find sheet: %w", err)
	}
	return ref, true, nil
}

// SaveCell implements formula.Sink.
func (p *Postgres) SaveCell(ctx context.Context, view formula.CellView) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO cells (sheet_id, row_idx, col_idx, value, formula)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (sheet_id, row_idx, col_idx) DO UPDATE SET
		   value = EXCLUDED.value,
		   updated_at = now()`,
		view.SheetID, view.Row, view.Col, view.Value, view.Formula)
	if err != nil {
		return pgError("save cell", err)
	}
	return nil
}

func collectPgViews(rows pgx.Rows, sheetID string) ([]formula.CellView, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (formula.CellView, error) {
		v := formula.CellView{SheetID: sheetID}
		err := row.Scan(&v.Row, &v.Col, &v.Value, &v.Formula)
		return v, err
	})
}

// pgError translates constraint and lookup failures into store errors.
// A malformed UUID can never match a row, so it reads as not found.
func pgError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrDuplicateName
		case pgForeignKeyViolation, pgInvalidText:
			return ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

