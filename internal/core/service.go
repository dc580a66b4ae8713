package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/JonMunkholm/sheets/internal/config"
	"github.com/JonMunkholm/sheets/internal/formula"
	"github.com/JonMunkholm/sheets/internal/logging"
	"github.com/JonMunkholm/sheets/internal/store"
	"github.com/JonMunkholm/sheets/internal/xlsx"
)

// DefaultSpreadsheetName is used when a spreadsheet is created without a name.
const DefaultSpreadsheetName = "Untitled spreadsheet"

// Service provides the spreadsheet operations used by the web layer and CLI.
type Service struct {
	store   store.Store
	eval    *formula.Evaluator
	recalc  *formula.Recalculator
	hub     *Hub
	locks   *sheetLocks
	imports *ImportLimiter

	batchLimit int
}

// NewService wires the formula engine and event hub over a store.
func NewService(st store.Store, cfg *config.Config) *Service {
	eval := formula.NewEvaluator(st,
		formula.WithMaxRangeCells(cfg.Engine.MaxRangeCells),
		formula.WithMaxFormulaLength(cfg.Engine.MaxFormulaLength),
	)
	return &Service{
		store:      st,
		eval:       eval,
		recalc:     formula.NewRecalculator(st, eval, formula.Transitive(cfg.Engine.TransitiveRecalc)),
		hub:        NewHub(cfg.Events.Buffer),
		locks:      newSheetLocks(),
		imports:    NewImportLimiter(cfg.Server.MaxConcurrentImports, cfg.Server.ImportWait),
		batchLimit: cfg.Engine.BatchLimit,
	}
}

// Hub returns the service's event hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateSpreadsheet creates a spreadsheet with a first sheet named Sheet1.
func (s *Service) CreateSpreadsheet(ctx context.Context, name string) (SpreadsheetDetail, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSpreadsheetName
	}
	ss, err := s.store.CreateSpreadsheet(ctx, name)
	if err != nil {
		return SpreadsheetDetail{}, fmt.Errorf("create spreadsheet: %w", err)
	}
	sheet, err := s.store.CreateSheet(ctx, ss.ID, "Sheet1")
	if err != nil {
		return SpreadsheetDetail{}, fmt.Errorf("create first sheet: %w", err)
	}

	logging.FromContext(ctx).Info("spreadsheet created", "spreadsheet_id", ss.ID)
	return SpreadsheetDetail{Spreadsheet: ss, Sheets: []store.Sheet{sheet}}, nil
}

// GetSpreadsheet returns a spreadsheet and its sheets.
func (s *Service) GetSpreadsheet(ctx context.Context, id string) (SpreadsheetDetail, error) {
	ss, err := s.store.GetSpreadsheet(ctx, id)
	if err != nil {
		return SpreadsheetDetail{}, err
	}
	sheets, err := s.store.ListSheets(ctx, id)
	if err != nil {
		return SpreadsheetDetail{}, fmt.Errorf("list sheets: %w", err)
	}
	return SpreadsheetDetail{Spreadsheet: ss, Sheets: sheets}, nil
}

// ListSpreadsheets returns every spreadsheet, most recently updated first.
func (s *Service) ListSpreadsheets(ctx context.Context) ([]store.Spreadsheet, error) {
	return s.store.ListSpreadsheets(ctx)
}

// RenameSpreadsheet changes a spreadsheet's display name.
func (s *Service) RenameSpreadsheet(ctx context.Context, id, name string) (store.Spreadsheet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Spreadsheet{}, fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	return s.store.RenameSpreadsheet(ctx, id, name)
}

// DeleteSpreadsheet removes a spreadsheet with all its sheets and cells.
func (s *Service) DeleteSpreadsheet(ctx context.Context, id string) error {
	if err := s.store.DeleteSpreadsheet(ctx, id); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("spreadsheet deleted", "spreadsheet_id", id)
	return nil
}

// AddSheet appends a sheet. An empty name defaults to Sheet<N+1>, where N is
// the current number of sheets, skipping names already taken.
func (s *Service) AddSheet(ctx context.Context, spreadsheetID, name string) (store.Sheet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		sheets, err := s.store.ListSheets(ctx, spreadsheetID)
		if err != nil {
			return store.Sheet{}, fmt.Errorf("list sheets: %w", err)
		}
		name = nextSheetName(sheets)
	}
	if !formula.ValidSheetName(name) {
		return store.Sheet{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return s.store.CreateSheet(ctx, spreadsheetID, name)
}

func nextSheetName(sheets []store.Sheet) string {
	taken := make(map[string]bool, len(sheets))
	for _, sh := range sheets {
		taken[sh.Name] = true
	}
	for n := len(sheets) + 1; ; n++ {
		name := "Sheet" + strconv.Itoa(n)
		if !taken[name] {
			return name
		}
	}
}

// GetSheet returns one sheet.
func (s *Service) GetSheet(ctx context.Context, id string) (store.Sheet, error) {
	return s.store.GetSheet(ctx, id)
}

// RenameSheet renames a sheet. Formulas that reference the old name are not
// rewritten and fail with SheetNotFound until edited.
func (s *Service) RenameSheet(ctx context.Context, id, name string) (store.Sheet, error) {
	name = strings.TrimSpace(name)
	if !formula.ValidSheetName(name) {
		return store.Sheet{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	unlock := s.locks.lock(id)
	defer unlock()
	return s.store.RenameSheet(ctx, id, name)
}

// DeleteSheet removes a sheet. The last sheet of a spreadsheet cannot be deleted.
func (s *Service) DeleteSheet(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()
	return s.store.DeleteSheet(ctx, id)
}

// ListCells returns the stored cells of a sheet.
func (s *Service) ListCells(ctx context.Context, sheetID string) ([]store.Cell, error) {
	if _, err := s.store.GetSheet(ctx, sheetID); err != nil {
		return nil, err
	}
	return s.store.ListCells(ctx, sheetID)
}

// SetCell writes one cell. See the package documentation for the formula
// and value rules.
func (s *Service) SetCell(ctx context.Context, sheetID string, u CellUpdate) (UpdateResult, error) {
	u = u.normalize()
	if !u.valid() {
		return UpdateResult{}, fmt.Errorf("%w: row %d, column %d", ErrInvalidCoordinate, u.Row, u.Col)
	}

	unlock := s.locks.lock(sheetID)
	defer unlock()

	sheet, err := s.store.GetSheet(ctx, sheetID)
	if err != nil {
		return UpdateResult{}, err
	}

	res, err := s.applyUpdate(ctx, sheet, u)
	if err != nil {
		return UpdateResult{}, err
	}
	s.broadcast(ctx, sheet, []store.Cell{res.Cell}, res.Recalculated)
	return res, nil
}

// BatchUpdate applies updates in order under one sheet lock. Updates with
// an invalid coordinate are skipped.
func (s *Service) BatchUpdate(ctx context.Context, sheetID string, updates []CellUpdate) (BatchResult, error) {
	if len(updates) > s.batchLimit {
		return BatchResult{}, fmt.Errorf("%w: %d updates, limit is %d", ErrBatchTooLarge, len(updates), s.batchLimit)
	}

	unlock := s.locks.lock(sheetID)
	defer unlock()

	sheet, err := s.store.GetSheet(ctx, sheetID)
	if err != nil {
		return BatchResult{}, err
	}

	var (
		out          BatchResult
		recalculated []formula.CellView
	)
	for _, u := range updates {
		u = u.normalize()
		if !u.valid() {
			out.Skipped++
			continue
		}
		res, err := s.applyUpdate(ctx, sheet, u)
		if err != nil {
			// Cells written so far stay written; tell the others about them.
			s.broadcast(ctx, sheet, out.Cells, recalculated)
			return out, err
		}
		out.Cells = append(out.Cells, res.Cell)
		recalculated = append(recalculated, res.Recalculated...)
		out.Failed += res.Failed
	}
	out.Recalculated = len(recalculated)

	s.broadcast(ctx, sheet, out.Cells, recalculated)
	return out, nil
}

// applyUpdate writes one cell and, for plain values, recalculates its
// dependents. The caller holds the sheet lock.
func (s *Service) applyUpdate(ctx context.Context, sheet store.Sheet, u CellUpdate) (UpdateResult, error) {
	log := logging.WithFields(ctx, "sheet_id", sheet.ID, "cell", formula.Encode(u.Row, u.Col))
	ref := sheet.Ref()
	at := formula.Coordinate{Row: u.Row, Col: u.Col}

	cell := store.Cell{SheetID: sheet.ID, Row: u.Row, Col: u.Col, Value: u.Value, Formula: u.Formula, Style: u.Style}
	failed := 0
	if u.Formula != "" {
		value, err := s.eval.EvaluateCell(ctx, ref, at, u.Formula)
		if err != nil {
			var ferr *formula.Error
			if !errors.As(err, &ferr) {
				return UpdateResult{}, fmt.Errorf("evaluate %s: %w", at, err)
			}
			log.Debug("formula failed", "formula", u.Formula, "error", err)
			value = formula.ErrorMarker(ferr)
			failed++
		}
		cell.Value = value
	}

	saved, err := s.store.UpsertCell(ctx, cell)
	if err != nil {
		log.Error("save cell failed", "error", err)
		return UpdateResult{}, fmt.Errorf("save cell %s: %w", at, err)
	}
	res := UpdateResult{Cell: saved, Failed: failed}

	if u.Formula != "" {
		return res, nil
	}

	rc, err := s.recalc.Recalculate(ctx, ref, at)
	if err != nil {
		return res, fmt.Errorf("recalculate dependents of %s: %w", at, err)
	}
	res.Recalculated = rc.Updated
	res.Failed += rc.Failed
	log.Debug("dependents recalculated", "updated", len(rc.Updated), "failed", rc.Failed)
	return res, nil
}

// EvaluatePreview evaluates a formula against a sheet without storing anything.
func (s *Service) EvaluatePreview(ctx context.Context, sheetID, text string) (string, error) {
	sheet, err := s.store.GetSheet(ctx, sheetID)
	if err != nil {
		return "", err
	}
	return s.eval.Evaluate(ctx, sheet.Ref(), text)
}

// Dependents lists the formula cells on the sheet that reference cell.
func (s *Service) Dependents(ctx context.Context, sheetID, cell string) ([]formula.CellView, error) {
	at, err := formula.Decode(cell)
	if err != nil {
		return nil, err
	}
	sheet, err := s.store.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	return formula.FindDependents(ctx, s.store, sheet.Ref(), at)
}

// RecalculateSheet re-evaluates every formula on the sheet once.
func (s *Service) RecalculateSheet(ctx context.Context, sheetID string) (formula.RecalcResult, error) {
	unlock := s.locks.lock(sheetID)
	defer unlock()

	sheet, err := s.store.GetSheet(ctx, sheetID)
	if err != nil {
		return formula.RecalcResult{}, err
	}
	res, err := s.recalc.RecalculateSheet(ctx, sheet.Ref())
	if err != nil {
		return res, fmt.Errorf("recalculate sheet %s: %w", sheet.Name, err)
	}
	s.broadcast(ctx, sheet, nil, res.Updated)
	logging.WithFields(ctx, "sheet_id", sheet.ID).Debug("sheet recalculated", "updated", len(res.Updated), "failed", res.Failed)
	return res, nil
}

// Subscribe registers a client for a spreadsheet's events.
func (s *Service) Subscribe(ctx context.Context, spreadsheetID, clientID string) (*Subscription, error) {
	if _, err := s.store.GetSpreadsheet(ctx, spreadsheetID); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(spreadsheetID, clientID), nil
}

// MoveCursor relays a client's cursor position to the other subscribers.
func (s *Service) MoveCursor(ctx context.Context, spreadsheetID, sheetID string, row, col int) error {
	if !(formula.Coordinate{Row: row, Col: col}).Valid() {
		return fmt.Errorf("%w: row %d, column %d", ErrInvalidCoordinate, row, col)
	}
	s.hub.Publish(Event{
		Type:          EventCursorMove,
		SpreadsheetID: spreadsheetID,
		ClientID:      ClientIDFromContext(ctx),
		SheetID:       sheetID,
		Row:           row,
		Col:           col,
	})
	return nil
}

// ImportWorkbook stores an xlsx workbook as a new spreadsheet and
// recalculates its sheets with this engine.
func (s *Service) ImportWorkbook(ctx context.Context, name string, r io.Reader) (SpreadsheetDetail, error) {
	if err := s.imports.Acquire(ctx); err != nil {
		return SpreadsheetDetail{}, err
	}
	defer s.imports.Release()

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSpreadsheetName
	}
	ss, sheets, err := xlsx.Import(ctx, s.store, name, r)
	if err != nil {
		return SpreadsheetDetail{}, err
	}
	for _, sheet := range sheets {
		if _, err := s.RecalculateSheet(ctx, sheet.ID); err != nil {
			return SpreadsheetDetail{}, err
		}
	}

	logging.FromContext(ctx).Info("workbook imported", "spreadsheet_id", ss.ID, "sheets", len(sheets))
	return SpreadsheetDetail{Spreadsheet: ss, Sheets: sheets}, nil
}

// ExportWorkbook writes a spreadsheet to w as an xlsx workbook.
func (s *Service) ExportWorkbook(ctx context.Context, spreadsheetID string, w io.Writer) error {
	if _, err := s.store.GetSpreadsheet(ctx, spreadsheetID); err != nil {
		return err
	}
	return xlsx.Export(ctx, s.store, spreadsheetID, w)
}

// ImportStatus reports the import limiter state.
func (s *Service) ImportStatus() ImportLimiterStatus {
	return s.imports.Status()
}

// WaitForImports blocks until running imports finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.imports.WaitForDrain(ctx)
}

// broadcast publishes direct writes, excluding the editing client, and
// recalculated cells to everyone.
func (s *Service) broadcast(ctx context.Context, sheet store.Sheet, direct []store.Cell, recalculated []formula.CellView) {
	clientID := ClientIDFromContext(ctx)
	for _, c := range direct {
		s.hub.Publish(cellEvent(sheet.SpreadsheetID, clientID, c))
	}
	for _, v := range recalculated {
		s.hub.Publish(recalcEvent(sheet.SpreadsheetID, v))
	}
}
