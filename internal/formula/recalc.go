package formula

import (
	"context"
	"errors"
	"fmt"
)

// RecalcResult reports what one recalculation pass wrote.
type RecalcResult struct {
	// Updated holds every cell written, in evaluation order, with its new value.
	Updated []CellView `json:"updated"`
	// Failed counts cells that were written with an error marker.
	Failed int `json:"failed"`
}

// Recalculator re-evaluates formula cells after a value edit and writes the
// results through a Sink.
type Recalculator struct {
	store      Store
	eval       *Evaluator
	transitive bool
}

// RecalcOption configures a Recalculator.
type RecalcOption func(*Recalculator)

// Transitive makes Recalculate follow dependents of recalculated cells.
// Each affected cell is evaluated once, after the affected cells it reads.
func Transitive(on bool) RecalcOption {
	return func(r *Recalculator) { r.transitive = on }
}

// NewRecalculator creates a Recalculator over store using eval.
func NewRecalculator(store Store, eval *Evaluator, opts ...RecalcOption) *Recalculator {
	r := &Recalculator{store: store, eval: eval}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recalculate re-evaluates the dependents of the cell at coordinate at. By
// default this is a single pass: a cell whose value changes here does not
// cause its own dependents to be re-evaluated. In transitive mode every
// formula reachable from at is re-evaluated once, inputs before readers.
func (r *Recalculator) Recalculate(ctx context.Context, sheet SheetRef, at Coordinate) (RecalcResult, error) {
	if r.transitive {
		return r.recalculateTransitive(ctx, sheet, at)
	}

	var res RecalcResult
	deps, err := FindDependents(ctx, r.store, sheet, at)
	if err != nil {
		return res, err
	}
	for _, dep := range deps {
		if _, err := r.recompute(ctx, sheet, dep, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Recalculator) recalculateTransitive(ctx context.Context, sheet SheetRef, at Coordinate) (RecalcResult, error) {
	var res RecalcResult
	cells, err := r.store.ListFormulaCells(ctx, sheet.ID)
	if err != nil {
		return res, fmt.Errorf("list formula cells: %w", err)
	}
	refs := make([]Refs, len(cells))
	for i, c := range cells {
		refs[i] = References(c.Formula)
	}

	order, cyclic := planTransitive(cells, refs, sheet.Name, at)
	for _, i := range order {
		if cyclic[i] {
			if err := r.store.SaveCell(ctx, r.markCycle(cells[i], &res)); err != nil {
				return res, fmt.Errorf("save cell %s: %w", cells[i].Ref(), err)
			}
			continue
		}
		if _, err := r.recompute(ctx, sheet, cells[i], &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Recalculator) markCycle(cell CellView, res *RecalcResult) CellView {
	cell.Value = ErrorMarker(&Error{
		Kind:    KindCyclicReference,
		Ref:     cell.Ref(),
		Message: fmt.Sprintf("cell %s is part of a reference cycle", cell.Ref()),
	})
	res.Failed++
	res.Updated = append(res.Updated, cell)
	return cell
}

// planTransitive returns the indexes of cells affected by a change at at,
// ordered so that each cell comes after the affected cells it reads, plus
// the set of indexes that sit on a reference cycle.
func planTransitive(cells []CellView, refs []Refs, sheetName string, at Coordinate) ([]int, map[int]bool) {
	affected := make(map[int]bool)
	queue := []Coordinate{at}
	for len(queue) > 0 {
		changed := queue[0]
		queue = queue[1:]
		for i := range cells {
			if !affected[i] && refs[i].Mentions(sheetName, changed) {
				affected[i] = true
				queue = append(queue, cells[i].Coord())
			}
		}
	}

	order := make([]int, 0, len(affected))
	cyclic := make(map[int]bool)
	state := make(map[int]int) // 0: unvisited, 1: visiting, 2: done
	var path []int

	var visit func(i int)
	visit = func(i int) {
		state[i] = 1
		path = append(path, i)
		for j := range cells {
			if j == i || !affected[j] || !refs[i].Mentions(sheetName, cells[j].Coord()) {
				continue
			}
			switch state[j] {
			case 0:
				visit(j)
			case 1:
				for k := len(path) - 1; k >= 0; k-- {
					cyclic[path[k]] = true
					if path[k] == j {
						break
					}
				}
			}
		}
		state[i] = 2
		path = path[:len(path)-1]
		order = append(order, i)
	}

	for i := range cells {
		if affected[i] && state[i] == 0 {
			visit(i)
		}
	}
	return order, cyclic
}

// RecalculateSheet re-evaluates every formula cell on the sheet once, in
// the order the Source lists them.
func (r *Recalculator) RecalculateSheet(ctx context.Context, sheet SheetRef) (RecalcResult, error) {
	var res RecalcResult
	cells, err := r.store.ListFormulaCells(ctx, sheet.ID)
	if err != nil {
		return res, fmt.Errorf("list formula cells: %w", err)
	}
	for _, cell := range cells {
		if _, err := r.recompute(ctx, sheet, cell, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// recompute evaluates one formula cell and saves the result or error marker.
func (r *Recalculator) recompute(ctx context.Context, sheet SheetRef, cell CellView, res *RecalcResult) (CellView, error) {
	if err := ctx.Err(); err != nil {
		return cell, err
	}
	value, err := r.eval.EvaluateCell(ctx, sheet, cell.Coord(), cell.Formula)
	if err != nil {
		var ferr *Error
		if !errors.As(err, &ferr) {
			return cell, err
		}
		value = ErrorMarker(ferr)
		res.Failed++
	}
	cell.Value = value
	if err := r.store.SaveCell(ctx, cell); err != nil {
		return cell, fmt.Errorf("save cell %s: %w", cell.Ref(), err)
	}
	res.Updated = append(res.Updated, cell)
	return cell, nil
}
