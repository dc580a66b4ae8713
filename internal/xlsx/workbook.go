// Package xlsx converts between stored spreadsheets and .xlsx workbooks.
//
// Formulas are carried as text. On import the cached values written by the
// producing application are stored as-is; callers are expected to
// recalculate the imported sheets with the formula engine afterwards.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/sheets/internal/formula"
	"github.com/JonMunkholm/sheets/internal/store"
)

// ErrInvalidWorkbook is returned when the uploaded file is not a readable xlsx workbook.
var ErrInvalidWorkbook = errors.New("invalid workbook")

// exportConcurrency bounds how many sheets are read from the store at once.
const exportConcurrency = 4

// Import reads a workbook from r and stores it as a new spreadsheet.
// Sheet names that the formula grammar cannot address are rewritten, and
// formulas that name a rewritten tab follow it. On failure the partially imported spreadsheet is removed.
func Import(ctx context.Context, st store.Store, name string, r io.Reader) (store.Spreadsheet, []store.Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return store.Spreadsheet{}, nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	names := f.GetSheetList()
	if len(names) == 0 {
		return store.Spreadsheet{}, nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidWorkbook)
	}

	ss, err := st.CreateSpreadsheet(ctx, name)
	if err != nil {
		return store.Spreadsheet{}, nil, fmt.Errorf("create spreadsheet: %w", err)
	}

	sheets, err := importSheets(ctx, st, f, ss.ID, names)
	if err != nil {
		if derr := st.DeleteSpreadsheet(context.WithoutCancel(ctx), ss.ID); derr != nil {
			slog.Error("xlsx: cleanup after failed import", "spreadsheet_id", ss.ID, "error", derr)
		}
		return store.Spreadsheet{}, nil, err
	}
	return ss, sheets, nil
}

func importSheets(ctx context.Context, st store.Store, f *excelize.File, spreadsheetID string, names []string) ([]store.Sheet, error) {
	used := make(map[string]bool, len(names))
	renames := make(map[string]string, len(names))
	for _, src := range names {
		dst := SheetName(src, used)
		used[dst] = true
		renames[strings.ToLower(src)] = dst
		if dst != src {
			slog.Debug("xlsx: renamed sheet on import", "from", src, "to", dst)
		}
	}

	sheets := make([]store.Sheet, 0, len(names))
	for _, src := range names {
		dst := renames[strings.ToLower(src)]

		sheet, err := st.CreateSheet(ctx, spreadsheetID, dst)
		if err != nil {
			return nil, fmt.Errorf("create sheet %q: %w", dst, err)
		}

		rows, err := f.GetRows(src, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("%w: read sheet %q: %v", ErrInvalidWorkbook, src, err)
		}
		for r, row := range rows {
			for c, value := range row {
				axis, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
				}
				text, err := f.GetCellFormula(src, axis)
				if err != nil {
					return nil, fmt.Errorf("%w: read formula %s!%s: %v", ErrInvalidWorkbook, src, axis, err)
				}
				if value == "" && text == "" {
					continue
				}
				if text != "" {
					text = "=" + renameQualifiers(text, renames)
				}
				if _, err := st.UpsertCell(ctx, store.Cell{
					SheetID: sheet.ID,
					Row:     r + 1,
					Col:     c + 1,
					Value:   value,
					Formula: text,
				}); err != nil {
					return nil, fmt.Errorf("store %s!%s: %w", dst, axis, err)
				}
			}
		}
		sheets = append(sheets, sheet)
	}
	return sheets, nil
}

// SheetName maps a workbook tab name onto a name the formula grammar can
// reference, avoiding names already in used.
func SheetName(name string, used map[string]bool) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "Sheet"
	}
	if !formula.ValidSheetName(out) {
		out = "_" + out
	}

	candidate := out
	for i := 2; used[candidate]; i++ {
		candidate = out + "_" + strconv.Itoa(i)
	}
	return candidate
}

// renameQualifiers rewrites the sheet qualifiers of a formula body to the
// names the tabs were imported under. renames is keyed by lowercased tab
// name, since workbook tab names are case-insensitive. Quoted qualifiers
// such as 'Q1 Budget'! lose their quotes. Qualifiers of unknown tabs and
// string literals are copied unchanged.
func renameQualifiers(text string, renames map[string]string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case r == '"':
			end := skipQuoted(text, i)
			b.WriteString(text[i:end])
			i = end
		case r == '\'':
			end := skipQuoted(text, i)
			if end < len(text) && text[end] == '!' && end-i >= 2 {
				name := strings.ReplaceAll(text[i+1:end-1], "''", "'")
				if dst, ok := renames[strings.ToLower(name)]; ok {
					b.WriteString(dst)
					i = end
					continue
				}
			}
			b.WriteString(text[i:end])
			i = end
		case isQualifierRune(r):
			end := i + size
			for end < len(text) {
				r2, s2 := utf8.DecodeRuneInString(text[end:])
				if !isQualifierRune(r2) {
					break
				}
				end += s2
			}
			name := text[i:end]
			if end < len(text) && text[end] == '!' {
				if dst, ok := renames[strings.ToLower(name)]; ok {
					name = dst
				}
			}
			b.WriteString(name)
			i = end
		default:
			b.WriteString(text[i : i+size])
			i += size
		}
	}
	return b.String()
}

// skipQuoted returns the index just past the quoted run starting at i. A
// doubled quote inside the run is an escaped quote.
func skipQuoted(text string, i int) int {
	q := text[i]
	for j := i + 1; j < len(text); j++ {
		if text[j] != q {
			continue
		}
		if j+1 < len(text) && text[j+1] == q {
			j++
			continue
		}
		return j + 1
	}
	return len(text)
}

func isQualifierRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}

// Export writes every sheet of the spreadsheet to w, in sheet order.
func Export(ctx context.Context, st store.Store, spreadsheetID string, w io.Writer) error {
	sheets, err := st.ListSheets(ctx, spreadsheetID)
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}

	cells := make([][]store.Cell, len(sheets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(exportConcurrency)
	for i, sheet := range sheets {
		g.Go(func() error {
			list, err := st.ListCells(gctx, sheet.ID)
			if err != nil {
				return fmt.Errorf("list cells of %s: %w", sheet.Name, err)
			}
			cells[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with a default tab; reuse it for the first sheet.
	first := f.GetSheetList()[0]
	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName(first, sheet.Name); err != nil {
				return fmt.Errorf("name sheet %s: %w", sheet.Name, err)
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return fmt.Errorf("add sheet %s: %w", sheet.Name, err)
		}
		if err := writeCells(f, sheet.Name, cells[i]); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeCells(f *excelize.File, sheet string, cells []store.Cell) error {
	for _, c := range cells {
		axis, err := excelize.CoordinatesToCellName(c.Col, c.Row)
		if err != nil {
			return fmt.Errorf("cell %s: %w", c.Ref(), err)
		}
		if err := f.SetCellValue(sheet, axis, cellValue(c.Value)); err != nil {
			return fmt.Errorf("write %s!%s: %w", sheet, axis, err)
		}
		if c.Formula == "" {
			continue
		}
		if err := f.SetCellFormula(sheet, axis, strings.TrimPrefix(c.Formula, "=")); err != nil {
			return fmt.Errorf("write formula %s!%s: %w", sheet, axis, err)
		}
	}
	return nil
}

// cellValue stores numeric text as a number so other applications treat it
// as one.
func cellValue(raw string) any {
	v := formula.Resolve(raw, raw != "")
	if v.Kind == formula.Number {
		return v.Number
	}
	return raw
}
