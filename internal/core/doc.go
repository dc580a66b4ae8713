// Package core provides the business logic of the spreadsheet service.
//
// This package sits between the transport layer and storage. It can be used
// by web handlers, CLI tools, or tests without modification.
//
// # Architecture
//
//   - Service: the entry point for spreadsheet, sheet and cell operations.
//   - Formula engine: every cell write goes through [formula.Evaluator], and
//     plain value writes trigger [formula.Recalculator] for dependent cells.
//   - Sheet locks: mutations of one sheet are serialized, so evaluation,
//     dependency scan and recalculation for an edit see a consistent sheet.
//   - Hub: persisted changes are broadcast to clients subscribed to the
//     spreadsheet, together with presence and cursor events.
//   - Sweep: an optional background job that recalculates every sheet.
//
// # Cell Writes
//
// A write carries either a formula or a plain value:
//
//	svc.SetCell(ctx, sheetID, core.CellUpdate{Row: 1, Col: 1, Value: "10"})
//	svc.SetCell(ctx, sheetID, core.CellUpdate{Row: 1, Col: 2, Formula: "=A1*2"})
//
// A formula write stores the evaluated result, or an error marker when the
// formula fails. A plain value write clears any formula and recalculates the
// formulas on the same sheet that reference the cell.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - FRM001-FRM007: Formula errors
//   - SHT001-SHT004: Spreadsheet and sheet errors
//   - CEL001-CEL002: Cell and batch errors
//   - REQ001-REQ005: Request and import errors
//   - DB001-DB005: Database errors
package core
