package formula_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheets/internal/formula"
	"github.com/JonMunkholm/sheets/internal/store"
)

// workbook is a two-sheet spreadsheet in a memory store.
type workbook struct {
	t      *testing.T
	store  *store.Memory
	sheet1 formula.SheetRef
	sheet2 formula.SheetRef
}

func newWorkbook(t *testing.T) *workbook {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	ss, err := m.CreateSpreadsheet(ctx, "Book")
	require.NoError(t, err)
	s1, err := m.CreateSheet(ctx, ss.ID, "Sheet1")
	require.NoError(t, err)
	s2, err := m.CreateSheet(ctx, ss.ID, "Sheet2")
	require.NoError(t, err)
	return &workbook{t: t, store: m, sheet1: s1.Ref(), sheet2: s2.Ref()}
}

// set stores a plain value at ref on sheet.
func (w *workbook) set(sheet formula.SheetRef, ref, value string) {
	w.t.Helper()
	w.put(sheet, ref, value, "")
}

// put stores a value and formula at ref on sheet.
func (w *workbook) put(sheet formula.SheetRef, ref, value, text string) {
	w.t.Helper()
	c, err := formula.Decode(ref)
	require.NoError(w.t, err)
	_, err = w.store.UpsertCell(context.Background(), store.Cell{
		SheetID: sheet.ID, Row: c.Row, Col: c.Col, Value: value, Formula: text,
	})
	require.NoError(w.t, err)
}

func (w *workbook) value(sheet formula.SheetRef, ref string) string {
	w.t.Helper()
	c, err := formula.Decode(ref)
	require.NoError(w.t, err)
	v, _, err := w.store.GetCell(context.Background(), sheet.ID, c.Row, c.Col)
	require.NoError(w.t, err)
	return v.Value
}

func TestEvaluate(t *testing.T) {
	w := newWorkbook(t)
	w.set(w.sheet1, "A1", "10")
	w.set(w.sheet1, "A2", "20")
	w.set(w.sheet1, "A3", "30")
	w.set(w.sheet1, "B1", "hello")
	w.set(w.sheet1, "B2", "-4")
	w.set(w.sheet1, "C1", "2.5")
	w.set(w.sheet2, "B2", "5")
	w.set(w.sheet2, "B3", "7")

	ev := formula.NewEvaluator(w.store)
	tests := []struct {
		formula string
		want    string
	}{
		{"=1+2", "3"},
		{"= 1 + 2 ", "3"},
		{"=SUM(A1:A3)", "60"},
		{"=AVERAGE(A1:A3)", "20"},
		{"=MAX(A1:A3)", "30"},
		{"=MIN(A1:A3)", "10"},
		{"=COUNT(A1:B3)", "4"},
		{"=sum(a1:a3)", "60"},
		{"=SUM(A3:A1)", "60"},
		{"=SUM(A1:A3, 5, B2)", "61"},
		{"=SUM(A1, 2*3, A2:A3)", "66"},
		{"=SUM(MAX(A1:A3), MIN(A1:A3))", "40"},
		{"=SUM(A1:A3)/COUNT(A1:A3)", "20"},
		{"=SUM()", "0"},
		{"=AVERAGE(D1:D5)", "0"},
		{"=MAX(B1)", "0"},
		{"=50%", "0.5"},
		{"=100*20%", "20"},
		{"=-50%", "-0.5"},
		{"=A1%", "0.1"},
		{"=B2%", "-0.04"},
		{"=-B2%", "0.04"},
		{"=SUM(B2)%", "-0.04"},
		{"=(A1+B2)%", "0.06"},
		{"=100*B2%", "-4"},
		{"=Sheet2!B2*2", "10"},
		{"=SUM(Sheet2!B2:B3)", "12"},
		{"=Sheet1!A1+A2", "30"},
		{"=A1+Z99", "10"},
		{"=A1+B1", "10"},
		{"=A1*B2", "-40"},
		{"=2*MIN(B2, 1)", "-8"},
		{"=A1/4", "2.5"},
		{"=C1*2", "5"},
		{"=$A$1+A$2", "30"},
		{"=A1^2", "100"},
		{"=A1**2", "100"},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			got, err := ev.Evaluate(context.Background(), w.sheet1, tt.formula)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluatePlainValue(t *testing.T) {
	ev := formula.NewEvaluator(store.NewMemory())
	for _, text := range []string{"hello", "42", "", " =1+1"} {
		got, err := ev.Evaluate(context.Background(), formula.SheetRef{}, text)
		require.NoError(t, err)
		assert.Equal(t, text, got)
	}
}

func TestEvaluateErrors(t *testing.T) {
	w := newWorkbook(t)
	w.set(w.sheet1, "A1", formula.ErrorMarker(formula.ErrDivisionByZero))
	w.set(w.sheet1, "A2", "3")

	ev := formula.NewEvaluator(w.store, formula.WithMaxRangeCells(100), formula.WithMaxFormulaLength(64))
	tests := []struct {
		formula string
		kind    error
	}{
		{"=10/0", formula.ErrDivisionByZero},
		{"=A2/(A3-A3)", formula.ErrDivisionByZero},
		{"=A1+1", formula.ErrReferencedCellError},
		{"=SUM(A1:A2)", formula.ErrReferencedCellError},
		{"=COUNT(A1)", formula.ErrReferencedCellError},
		{"=Missing!A1+1", formula.ErrSheetNotFound},
		{"=SUM(Missing!A1:A2)", formula.ErrSheetNotFound},
		{"=SUM(A1:XX)", formula.ErrInvalidReference},
		{"=Sheet2!foo", formula.ErrInvalidReference},
		{"=1+", formula.ErrSyntax},
		{"=", formula.ErrSyntax},
		{"=SUM(A2", formula.ErrSyntax},
		{"=\"text\"", formula.ErrSyntax},
		{"=ABS(A2)", formula.ErrUnsupportedExpression},
		{"=SUM", formula.ErrUnsupportedExpression},
		{"=A2:A3", formula.ErrUnsupportedExpression},
		{"=SUM(A1:Z100)", formula.ErrUnsupportedExpression},
		{"=SUM(A1:XFD1048576)", formula.ErrUnsupportedExpression},
		{"=SUM(A1:B4611686018427387904)", formula.ErrInvalidReference},
		{"=A99999999999999999999+1", formula.ErrInvalidReference},
		{"=" + string(make([]byte, 70)), formula.ErrUnsupportedExpression},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			got, err := ev.Evaluate(context.Background(), w.sheet1, tt.formula)
			require.Error(t, err, "got %q", got)
			assert.ErrorIs(t, err, tt.kind)

			var ferr *formula.Error
			require.ErrorAs(t, err, &ferr)
			assert.NotEmpty(t, ferr.Message)
		})
	}
}

func TestEvaluateStopsWhenCanceled(t *testing.T) {
	w := newWorkbook(t)
	for row := 1; row <= 50; row++ {
		w.set(w.sheet1, formula.Encode(row, 1), "1")
	}
	ev := formula.NewEvaluator(w.store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ev.Evaluate(ctx, w.sheet1, "=SUM(A1:A50)")
	assert.ErrorIs(t, err, context.Canceled)
}

// countingSource records how often each cell is read.
type countingSource struct {
	*store.Memory
	reads map[formula.Coordinate]int
}

func (c *countingSource) GetCell(ctx context.Context, sheetID string, row, col int) (formula.CellView, bool, error) {
	c.reads[formula.Coordinate{Row: row, Col: col}]++
	return c.Memory.GetCell(ctx, sheetID, row, col)
}

func TestEvaluateReadsEachCellOncePerRun(t *testing.T) {
	w := newWorkbook(t)
	w.set(w.sheet1, "A1", "21")
	src := &countingSource{Memory: w.store, reads: map[formula.Coordinate]int{}}
	ev := formula.NewEvaluator(src)
	a1 := formula.Coordinate{Row: 1, Col: 1}

	got, err := ev.Evaluate(context.Background(), w.sheet1, "=A1+A1")
	require.NoError(t, err)
	assert.Equal(t, "42", got)
	assert.Equal(t, 1, src.reads[a1])

	// a second evaluation sees fresh data
	w.set(w.sheet1, "A1", "5")
	got, err = ev.Evaluate(context.Background(), w.sheet1, "=A1+A1")
	require.NoError(t, err)
	assert.Equal(t, "10", got)
	assert.Equal(t, 2, src.reads[a1])
}

func TestEvaluateIsIdempotent(t *testing.T) {
	w := newWorkbook(t)
	w.set(w.sheet1, "A1", "4")
	w.set(w.sheet2, "A1", "6")
	ev := formula.NewEvaluator(w.store)

	const text = "=SUM(A1, Sheet2!A1, A1) * 10% + A1"
	first, err := ev.Evaluate(context.Background(), w.sheet1, text)
	require.NoError(t, err)
	for range 5 {
		again, err := ev.Evaluate(context.Background(), w.sheet1, text)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "5.4", first)
}

func TestEvaluateCellDetectsSelfReference(t *testing.T) {
	w := newWorkbook(t)
	w.set(w.sheet1, "A1", "1")
	ev := formula.NewEvaluator(w.store)
	at := formula.Coordinate{Row: 2, Col: 1} // A2

	for _, text := range []string{"=A2+1", "=SUM(A1:A5)", "=Sheet1!A2*2"} {
		_, err := ev.EvaluateCell(context.Background(), w.sheet1, at, text)
		assert.ErrorIs(t, err, formula.ErrCyclicReference, text)
	}

	// the same address on another sheet is not a cycle
	got, err := ev.EvaluateCell(context.Background(), w.sheet1, at, "=Sheet2!A2+A1")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
}

func TestErrorMarker(t *testing.T) {
	_, err := formula.NewEvaluator(store.NewMemory()).Evaluate(context.Background(), formula.SheetRef{}, "=1/0")
	require.Error(t, err)
	marker := formula.ErrorMarker(err)
	assert.Equal(t, "#ERROR: division by zero", marker)
	assert.True(t, formula.IsError(marker))
	assert.False(t, formula.IsError("ERROR"))
}
