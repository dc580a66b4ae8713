package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/JonMunkholm/sheets/internal/formula"
	"github.com/JonMunkholm/sheets/internal/store"
	"github.com/JonMunkholm/sheets/internal/xlsx"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error", nil, ""},

		// Formula errors carry their own message but map by kind
		{"invalid reference", &formula.Error{Kind: formula.KindInvalidReference, Ref: "A0", Message: "invalid cell reference: A0"}, "FRM001"},
		{"sheet not found", &formula.Error{Kind: formula.KindSheetNotFound, Ref: "Nope", Message: "sheet not found: Nope"}, "FRM002"},
		{"referenced error", formula.ErrReferencedCellError, "FRM003"},
		{"division by zero", formula.ErrDivisionByZero, "FRM004"},
		{"syntax", formula.ErrSyntax, "FRM005"},
		{"unsupported", formula.ErrUnsupportedExpression, "FRM006"},
		{"cyclic", formula.ErrCyclicReference, "FRM007"},

		// Store and service errors, wrapped
		{"not found", fmt.Errorf("get sheet: %w", store.ErrNotFound), "SHT001"},
		{"duplicate", fmt.Errorf("rename: %w", store.ErrDuplicateName), "SHT002"},
		{"last sheet", store.ErrLastSheet, "SHT003"},
		{"invalid name", fmt.Errorf("%w: %q", ErrInvalidName, "2024"), "SHT004"},
		{"invalid coordinate", ErrInvalidCoordinate, "CEL001"},
		{"batch too large", fmt.Errorf("%w: 600 > 500", ErrBatchTooLarge), "CEL002"},

		// Request errors
		{"cancelled", context.Canceled, "REQ001"},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), "REQ002"},
		{"too many imports", ErrTooManyImports, "REQ003"},
		{"invalid request", fmt.Errorf("%w: unexpected EOF", ErrInvalidRequest), "REQ005"},
		{"invalid workbook", fmt.Errorf("%w: zip: not a valid zip file", xlsx.ErrInvalidWorkbook), "REQ004"},

		// Untyped driver errors
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), "DB001"},
		{"connection reset", errors.New("read: connection reset by peer"), "DB002"},
		{"timeout", errors.New("i/o timeout"), "DB003"},
		{"deadlock", errors.New("ERROR: deadlock detected"), "DB004"},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), "DB005"},
		{"rate limit", errors.New("Rate limit exceeded"), "RATE001"},

		{"unknown", errors.New("something strange"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
			if tt.err != nil && (got.Message == "" || got.Action == "") {
				t.Errorf("MapError(%v) returned incomplete message: %+v", tt.err, got)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}

	got := FormatUserError(store.ErrLastSheet)
	if !strings.Contains(got, "(Code: SHT003)") {
		t.Errorf("FormatUserError() = %q, missing code", got)
	}
	if !strings.HasPrefix(got, "A spreadsheet must keep at least one sheet") {
		t.Errorf("FormatUserError() = %q, unexpected message", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("unexpected"), false},
		{formula.ErrDivisionByZero, true},
		{errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		if got := IsUserFacing(tt.err); got != tt.want {
			t.Errorf("IsUserFacing(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
