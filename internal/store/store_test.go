package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheets/internal/formula"
)

// backends returns every Store available in this environment. Postgres is
// included only when TEST_DATABASE_URL is set.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	out := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sheets.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		out["postgres"] = func(t *testing.T) Store {
			ctx := context.Background()
			pool, err := pgxpool.New(ctx, url)
			require.NoError(t, err)
			p := NewPostgres(pool)
			require.NoError(t, p.Migrate(ctx))
			t.Cleanup(func() { p.Close() })
			return p
		}
	}
	return out
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestSpreadsheetLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		ss, err := s.CreateSpreadsheet(ctx, "Budget")
		require.NoError(t, err)
		assert.NotEmpty(t, ss.ID)

		got, err := s.GetSpreadsheet(ctx, ss.ID)
		require.NoError(t, err)
		assert.Equal(t, "Budget", got.Name)

		renamed, err := s.RenameSpreadsheet(ctx, ss.ID, "Budget 2026")
		require.NoError(t, err)
		assert.Equal(t, "Budget 2026", renamed.Name)

		list, err := s.ListSpreadsheets(ctx)
		require.NoError(t, err)
		var ids []string
		for _, item := range list {
			ids = append(ids, item.ID)
		}
		assert.Contains(t, ids, ss.ID)

		require.NoError(t, s.DeleteSpreadsheet(ctx, ss.ID))
		_, err = s.GetSpreadsheet(ctx, ss.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteSpreadsheet(ctx, ss.ID), ErrNotFound)
	})
}

func TestSheets(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ss, err := s.CreateSpreadsheet(ctx, "Book")
		require.NoError(t, err)

		first, err := s.CreateSheet(ctx, ss.ID, "Sheet1")
		require.NoError(t, err)
		second, err := s.CreateSheet(ctx, ss.ID, "Sheet2")
		require.NoError(t, err)
		assert.Equal(t, 0, first.Position)
		assert.Equal(t, 1, second.Position)

		_, err = s.CreateSheet(ctx, ss.ID, "Sheet1")
		assert.ErrorIs(t, err, ErrDuplicateName)

		_, err = s.RenameSheet(ctx, second.ID, "Sheet1")
		assert.ErrorIs(t, err, ErrDuplicateName)

		sheets, err := s.ListSheets(ctx, ss.ID)
		require.NoError(t, err)
		require.Len(t, sheets, 2)
		assert.Equal(t, "Sheet1", sheets[0].Name)
		assert.Equal(t, "Sheet2", sheets[1].Name)

		ref, ok, err := s.FindSheetByName(ctx, ss.ID, "Sheet2")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, second.ID, ref.ID)

		// exact match only
		_, ok, err = s.FindSheetByName(ctx, ss.ID, "sheet2")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.DeleteSheet(ctx, second.ID))
		assert.ErrorIs(t, s.DeleteSheet(ctx, first.ID), ErrLastSheet)

		_, err = s.GetSheet(ctx, second.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCells(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ss, err := s.CreateSpreadsheet(ctx, "Book")
		require.NoError(t, err)
		sh, err := s.CreateSheet(ctx, ss.ID, "Sheet1")
		require.NoError(t, err)

		style := json.RawMessage(`{"bold":true}`)
		_, err = s.UpsertCell(ctx, Cell{SheetID: sh.ID, Row: 1, Col: 1, Value: "10", Style: style})
		require.NoError(t, err)
		_, err = s.UpsertCell(ctx, Cell{SheetID: sh.ID, Row: 2, Col: 1, Value: "20"})
		require.NoError(t, err)
		_, err = s.UpsertCell(ctx, Cell{SheetID: sh.ID, Row: 1, Col: 2, Value: "30", Formula: "=A1+A2"})
		require.NoError(t, err)

		// nil style keeps the stored one
		updated, err := s.UpsertCell(ctx, Cell{SheetID: sh.ID, Row: 1, Col: 1, Value: "11"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"bold":true}`, string(updated.Style))

		view, ok, err := s.GetCell(ctx, sh.ID, 1, 1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "11", view.Value)

		_, ok, err = s.GetCell(ctx, sh.ID, 9, 9)
		require.NoError(t, err)
		assert.False(t, ok)

		formulas, err := s.ListFormulaCells(ctx, sh.ID)
		require.NoError(t, err)
		require.Len(t, formulas, 1)
		assert.Equal(t, "=A1+A2", formulas[0].Formula)

		block, err := s.GetRange(ctx, sh.ID, formula.Coordinate{Row: 1, Col: 1}, formula.Coordinate{Row: 2, Col: 1})
		require.NoError(t, err)
		assert.Len(t, block, 2)

		// SaveCell touches only the value
		require.NoError(t, s.SaveCell(ctx, formula.CellView{SheetID: sh.ID, Row: 1, Col: 2, Value: "31"}))
		view, _, err = s.GetCell(ctx, sh.ID, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, "31", view.Value)
		assert.Equal(t, "=A1+A2", view.Formula)

		cells, err := s.ListCells(ctx, sh.ID)
		require.NoError(t, err)
		require.Len(t, cells, 3)
		assert.Equal(t, "A1", cells[0].Ref())
		assert.Equal(t, "B1", cells[1].Ref())
		assert.Equal(t, "A2", cells[2].Ref())
	})
}

func TestDeleteSpreadsheetCascades(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ss, err := s.CreateSpreadsheet(ctx, "Book")
		require.NoError(t, err)
		sh, err := s.CreateSheet(ctx, ss.ID, "Sheet1")
		require.NoError(t, err)
		_, err = s.UpsertCell(ctx, Cell{SheetID: sh.ID, Row: 1, Col: 1, Value: "x"})
		require.NoError(t, err)

		require.NoError(t, s.DeleteSpreadsheet(ctx, ss.ID))

		_, err = s.GetSheet(ctx, sh.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, ok, err := s.GetCell(ctx, sh.ID, 1, 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCreateSheetUnknownSpreadsheet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.CreateSheet(context.Background(), "00000000-0000-0000-0000-000000000000", "Sheet1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
