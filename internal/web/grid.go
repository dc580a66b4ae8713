package web

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheets/internal/formula"
	"github.com/JonMunkholm/sheets/internal/store"
)

// Minimum grid size, so an empty sheet still looks like a sheet.
const (
	gridMinRows = 20
	gridMinCols = 10
	gridMaxRows = 1000
	gridMaxCols = 100
)

// gridView is the data behind the read-only sheet page.
type gridView struct {
	Sheet store.Sheet
	Rows  int
	Cols  int
	Cells map[formula.Coordinate]store.Cell
}

func newGridView(sheet store.Sheet, cells []store.Cell) gridView {
	v := gridView{
		Sheet: sheet,
		Rows:  gridMinRows,
		Cols:  gridMinCols,
		Cells: make(map[formula.Coordinate]store.Cell, len(cells)),
	}
	for _, c := range cells {
		v.Cells[formula.Coordinate{Row: c.Row, Col: c.Col}] = c
		v.Rows = max(v.Rows, c.Row)
		v.Cols = max(v.Cols, c.Col)
	}
	v.Rows = min(v.Rows, gridMaxRows)
	v.Cols = min(v.Cols, gridMaxCols)
	return v
}

// gridPage renders the sheet as an HTML table. Formula cells carry their
// formula as a title and error values are highlighted.
func gridPage(v gridView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := templ.EscapeString(v.Sheet.Name)
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s</title>`, title); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `<style>`+
			`body{font-family:system-ui,sans-serif;margin:1rem}`+
			`table{border-collapse:collapse;font-size:13px}`+
			`th,td{border:1px solid #d0d7de;padding:2px 6px;min-width:64px;height:20px}`+
			`th{background:#f6f8fa;color:#57606a;font-weight:normal}`+
			`td.num{text-align:right}td.err{color:#cf222e}td.formula{background:#f3f8ff}`+
			`</style></head><body>`); err != nil {
			return err
		}
		fmt.Fprintf(w, `<h1>%s</h1><table><thead><tr><th></th>`, title)
		for col := 1; col <= v.Cols; col++ {
			fmt.Fprintf(w, `<th>%s</th>`, formula.ColumnName(col))
		}
		io.WriteString(w, `</tr></thead><tbody>`)
		for row := 1; row <= v.Rows; row++ {
			fmt.Fprintf(w, `<tr><th>%d</th>`, row)
			for col := 1; col <= v.Cols; col++ {
				c, ok := v.Cells[formula.Coordinate{Row: row, Col: col}]
				if !ok {
					io.WriteString(w, `<td></td>`)
					continue
				}
				writeGridCell(w, c)
			}
			io.WriteString(w, `</tr>`)
		}
		_, err := io.WriteString(w, `</tbody></table></body></html>`)
		return err
	})
}

func writeGridCell(w io.Writer, c store.Cell) {
	class := ""
	switch formula.Resolve(c.Value, true).Kind {
	case formula.Number:
		class = "num"
	case formula.ErrorValue:
		class = "err"
	}
	if c.Formula != "" {
		class += " formula"
		fmt.Fprintf(w, `<td class="%s" title="%s">%s</td>`, class, templ.EscapeString(c.Formula), templ.EscapeString(c.Value))
		return
	}
	fmt.Fprintf(w, `<td class="%s">%s</td>`, class, templ.EscapeString(c.Value))
}

// handleGridPage renders a read-only view of a sheet.
func (s *Server) handleGridPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sheet, err := s.service.GetSheet(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	cells, err := s.service.ListCells(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	templ.Handler(gridPage(newGridView(sheet, cells))).ServeHTTP(w, r)
}
