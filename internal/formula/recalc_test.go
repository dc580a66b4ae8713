package formula_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheets/internal/formula"
)

func TestRecalculateSinglePass(t *testing.T) {
	w := newWorkbook(t)
	w.set(w.sheet1, "A1", "1")
	w.put(w.sheet1, "B1", "2", "=A1+1")
	w.put(w.sheet1, "C1", "3", "=B1+1")

	// plain value edit of A1
	w.set(w.sheet1, "A1", "10")

	ev := formula.NewEvaluator(w.store)
	rc := formula.NewRecalculator(w.store, ev)
	res, err := rc.Recalculate(context.Background(), w.sheet1, formula.Coordinate{Row: 1, Col: 1})
	require.NoError(t, err)

	require.Len(t, res.Updated, 1)
	assert.Equal(t, "B1", res.Updated[0].Ref())
	assert.Equal(t, "11", w.value(w.sheet1, "B1"))
	// C1 depends on B1 only and is left stale by a single pass
	assert.Equal(t, "3", w.value(w.sheet1, "C1"))
}

func TestRecalculateTransitive(t *testing.T) {
	w := newWorkbook(t)
	w.set(w.sheet1, "A1", "10")
	w.put(w.sheet1, "B1", "2", "=A1+1")
	w.put(w.sheet1, "C1", "3", "=B1+1")
	w.put(w.sheet1, "D1", "4", "=SUM(A1:C1)")

	ev := formula.NewEvaluator(w.store)
	rc := formula.NewRecalculator(w.store, ev, formula.Transitive(true))
	res, err := rc.Recalculate(context.Background(), w.sheet1, formula.Coordinate{Row: 1, Col: 1})
	require.NoError(t, err)

	assert.Equal(t, "11", w.value(w.sheet1, "B1"))
	assert.Equal(t, "12", w.value(w.sheet1, "C1"))
	assert.Equal(t, "33", w.value(w.sheet1, "D1"))
	assert.Len(t, res.Updated, 3)
}

func TestRecalculateStoresErrorMarker(t *testing.T) {
	w := newWorkbook(t)
	w.set(w.sheet1, "A1", "0")
	w.put(w.sheet1, "B1", "5", "=10/A1")
	w.put(w.sheet1, "C1", "1", "=A1+1")

	ev := formula.NewEvaluator(w.store)
	rc := formula.NewRecalculator(w.store, ev)
	res, err := rc.Recalculate(context.Background(), w.sheet1, formula.Coordinate{Row: 1, Col: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "#ERROR: division by zero", w.value(w.sheet1, "B1"))
	assert.Equal(t, "1", w.value(w.sheet1, "C1"))

	// a formula reading the failed cell fails in turn
	got, err := ev.Evaluate(context.Background(), w.sheet1, "=B1+1")
	assert.ErrorIs(t, err, formula.ErrReferencedCellError)
	assert.Empty(t, got)
}

func TestRecalculateSheet(t *testing.T) {
	w := newWorkbook(t)
	w.set(w.sheet1, "A1", "2")
	w.put(w.sheet1, "A2", "", "=A1*2")
	w.put(w.sheet1, "A3", "", "=A2*2")
	w.put(w.sheet1, "A4", "", "=A4+1")

	rc := formula.NewRecalculator(w.store, formula.NewEvaluator(w.store))
	res, err := rc.RecalculateSheet(context.Background(), w.sheet1)
	require.NoError(t, err)

	assert.Len(t, res.Updated, 3)
	assert.Equal(t, 1, res.Failed)
	// row order means A3 sees the A2 value written earlier in the pass
	assert.Equal(t, "4", w.value(w.sheet1, "A2"))
	assert.Equal(t, "8", w.value(w.sheet1, "A3"))
	assert.True(t, strings.HasPrefix(w.value(w.sheet1, "A4"), formula.ErrorPrefix))
}

func TestRecalculateCanceled(t *testing.T) {
	w := newWorkbook(t)
	w.put(w.sheet1, "B1", "", "=A1+1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rc := formula.NewRecalculator(w.store, formula.NewEvaluator(w.store))
	_, err := rc.Recalculate(ctx, w.sheet1, formula.Coordinate{Row: 1, Col: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecalculateTransitiveMarksCycles(t *testing.T) {
	w := newWorkbook(t)
	w.set(w.sheet1, "A1", "1")
	w.put(w.sheet1, "B1", "", "=A1+C1")
	w.put(w.sheet1, "C1", "", "=B1+1")
	w.put(w.sheet1, "D1", "", "=A1*2")

	rc := formula.NewRecalculator(w.store, formula.NewEvaluator(w.store), formula.Transitive(true))
	res, err := rc.Recalculate(context.Background(), w.sheet1, formula.Coordinate{Row: 1, Col: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.Updated, 3)
	assert.True(t, formula.IsError(w.value(w.sheet1, "B1")))
	assert.True(t, formula.IsError(w.value(w.sheet1, "C1")))
	assert.Equal(t, "2", w.value(w.sheet1, "D1"))
}
