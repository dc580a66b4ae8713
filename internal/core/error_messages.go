package core

// error_messages.go maps technical errors to user-facing messages with
// codes for support reference.
//
// # Formula Errors (FRM001-FRM007)
//
//	FRM001 - Invalid reference: a cell or range reference is malformed
//	FRM002 - Sheet not found: a cross-sheet reference names no sheet
//	FRM003 - Referenced cell error: a referenced cell holds an error
//	FRM004 - Division by zero
//	FRM005 - Syntax error: the expression could not be parsed
//	FRM006 - Unsupported expression: names, functions or sizes the engine does not accept
//	FRM007 - Cyclic reference: the formula refers to its own cell
//
// # Spreadsheet and Sheet Errors (SHT001-SHT004)
//
//	SHT001 - Not found: the spreadsheet, sheet or cell does not exist
//	SHT002 - Duplicate name: another sheet in the spreadsheet has this name
//	SHT003 - Last sheet: a spreadsheet must keep at least one sheet
//	SHT004 - Invalid name: empty, or a sheet name formulas cannot reference
//
// # Cell Errors (CEL001-CEL002)
//
//	CEL001 - Invalid coordinate: outside rows 1-1048576 or columns A-XFD
//	CEL002 - Batch too large: more updates than ENGINE_BATCH_LIMIT
//
// # Request Errors (REQ001-REQ005)
//
//	REQ001 - Request cancelled
//	REQ002 - Request timed out
//	REQ003 - Too many imports running
//	REQ004 - Invalid workbook: the upload is not a readable .xlsx file
//	REQ005 - Invalid request: the body or a parameter could not be read
//
// # Database Errors (DB001-DB005)
//
// Matched by substring, case-insensitively, when no typed error matched:
//
//	DB001 - Connection refused
//	DB002 - Connection reset
//	DB003 - Timeout
//	DB004 - Deadlock
//	DB005 - Database locked (SQLite busy)
//
// # Rate Limiting (RATE001) and Default (ERR000)
//
// ERR000 is the fallback. Support staff should check application logs for
// the original technical error when users report it.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/sheets/internal/formula"
	"github.com/JonMunkholm/sheets/internal/store"
	"github.com/JonMunkholm/sheets/internal/xlsx"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// typedError maps a sentinel, matched with errors.Is, to a user message.
type typedError struct {
	target error
	msg    UserMessage
}

// typedErrors is checked in order before any substring pattern.
var typedErrors = []typedError{
	{formula.ErrInvalidReference, UserMessage{"The formula contains an invalid cell reference", "Use references like A1, B2:B10 or Sheet2!C3", "FRM001"}},
	{formula.ErrSheetNotFound, UserMessage{"The formula refers to a sheet that does not exist", "Check the sheet name before the '!'", "FRM002"}},
	{formula.ErrReferencedCellError, UserMessage{"A cell used by the formula contains an error", "Fix the referenced cell first", "FRM003"}},
	{formula.ErrDivisionByZero, UserMessage{"The formula divides by zero", "Check the divisor cells", "FRM004"}},
	{formula.ErrSyntax, UserMessage{"The formula could not be parsed", "Check operators and parentheses", "FRM005"}},
	{formula.ErrUnsupportedExpression, UserMessage{"The formula uses something that is not supported", "Only arithmetic and SUM, AVERAGE, MAX, MIN, COUNT are available", "FRM006"}},
	{formula.ErrCyclicReference, UserMessage{"The formula refers to its own cell", "Remove the reference to the cell being edited", "FRM007"}},

	{store.ErrNotFound, UserMessage{"The requested item was not found", "It may have been deleted. Reload and try again", "SHT001"}},
	{store.ErrDuplicateName, UserMessage{"A sheet with this name already exists", "Choose a different sheet name", "SHT002"}},
	{store.ErrLastSheet, UserMessage{"A spreadsheet must keep at least one sheet", "Add another sheet before deleting this one", "SHT003"}},
	{ErrInvalidName, UserMessage{"The name is not allowed", "Use letters, digits, '_' or '.', starting with a letter", "SHT004"}},

	{ErrInvalidCoordinate, UserMessage{"The cell position is invalid", "Rows run from 1 to 1048576 and columns from A to XFD", "CEL001"}},
	{ErrBatchTooLarge, UserMessage{"Too many cell updates in one request", "Split the updates into smaller batches", "CEL002"}},

	{context.Canceled, UserMessage{"Request was cancelled", "Please try again", "REQ001"}},
	{context.DeadlineExceeded, UserMessage{"Request timed out", "Try a smaller range or try again later", "REQ002"}},
	{ErrTooManyImports, UserMessage{"The system is busy importing other workbooks", "Please wait a moment and try again", "REQ003"}},
	{xlsx.ErrInvalidWorkbook, UserMessage{"The file is not a readable .xlsx workbook", "Save the file as Excel Workbook (.xlsx) and upload it again", "REQ004"}},
	{ErrInvalidRequest, UserMessage{"The request could not be read", "Check the request body and parameters", "REQ005"}},
}

// errorPattern defines a substring to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catch untyped errors from drivers and the network. The first
// matching pattern wins, so more specific patterns come first.
var errorPatterns = []errorPattern{
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB001"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB002"}},
	{"timeout", UserMessage{"Operation timed out", "Please try again later", "DB003"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB004"}},
	{"database is locked", UserMessage{"Database was busy", "Please try again", "DB005"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Typed
// errors are matched first, then case-insensitive substrings. If nothing
// matches, a generic message with code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, te := range typedErrors {
		if errors.Is(err, te.target) {
			return te.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
