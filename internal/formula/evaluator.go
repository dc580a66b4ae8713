package formula

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Defaults applied when no Option overrides them.
const (
	DefaultMaxRangeCells    = 100000
	DefaultMaxFormulaLength = 8192
)

// ctxCheckInterval is how many cells a range loop visits between
// cancellation checks.
const ctxCheckInterval = 1024

// RangeReader is implemented by sources that can return a block of cells in
// one call. Cells absent from the result are treated as empty.
type RangeReader interface {
	GetRange(ctx context.Context, sheetID string, start, end Coordinate) ([]CellView, error)
}

// Evaluator computes formula results against a Source. It holds no state
// between calls and is safe for concurrent use if the Source is.
type Evaluator struct {
	src              Source
	maxRangeCells    int
	maxFormulaLength int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMaxRangeCells rejects ranges covering more than n cells.
func WithMaxRangeCells(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxRangeCells = n
		}
	}
}

// WithMaxFormulaLength rejects formulas longer than n bytes.
func WithMaxFormulaLength(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxFormulaLength = n
		}
	}
}

// NewEvaluator creates an Evaluator reading from src.
func NewEvaluator(src Source, opts ...Option) *Evaluator {
	e := &Evaluator{
		src:              src,
		maxRangeCells:    DefaultMaxRangeCells,
		maxFormulaLength: DefaultMaxFormulaLength,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate computes text in the context of sheet. Text that does not start
// with "=" is a plain value and comes back unchanged. Evaluation failures are
// returned as *Error; any other error comes from the Source.
func (e *Evaluator) Evaluate(ctx context.Context, sheet SheetRef, text string) (string, error) {
	if !strings.HasPrefix(text, "=") {
		return text, nil
	}
	if len(text) > e.maxFormulaLength {
		return "", unsupported("formula is longer than %d characters", e.maxFormulaLength)
	}

	r := &run{
		ctx:    ctx,
		e:      e,
		sheet:  sheet,
		cache:  make(map[cellKey]ResolvedValue),
		sheets: make(map[string]SheetRef),
	}
	expr := strings.TrimSpace(text[1:])

	expr, err := r.expandAggregates(expr)
	if err != nil {
		return "", err
	}
	v, err := r.scalar(expr)
	if err != nil {
		return "", err
	}
	return FormatNumber(v), nil
}

// EvaluateCell is Evaluate for a formula stored at a known cell. A formula
// that reads its own cell, directly or through a range, fails with
// CyclicReference instead of reading its previous result.
func (e *Evaluator) EvaluateCell(ctx context.Context, sheet SheetRef, at Coordinate, text string) (string, error) {
	if strings.HasPrefix(text, "=") && refersTo(text, sheet.Name, at) {
		return "", cyclicReference(at.String())
	}
	return e.Evaluate(ctx, sheet, text)
}

type cellKey struct {
	sheetID  string
	row, col int
}

// run carries the state of one Evaluate call. The cache lives exactly as
// long as the run.
type run struct {
	ctx    context.Context
	e      *Evaluator
	sheet  SheetRef
	cache  map[cellKey]ResolvedValue
	sheets map[string]SheetRef
}

// scalar runs reference substitution and arithmetic over expression text
// that no longer contains aggregate calls.
func (r *run) scalar(expr string) (float64, error) {
	expr, err := r.substituteReferences(expr)
	if err != nil {
		return 0, err
	}
	return evalArithmetic(expr)
}

// expandAggregates replaces aggregate calls with their results, innermost
// first. The rightmost call in the text never contains another call, so it
// is always safe to reduce next.
func (r *run) expandAggregates(expr string) (string, error) {
	for {
		call, ok := lastAggregateCall(expr)
		if !ok {
			return expr, nil
		}
		closeAt := matchParen(expr, call.open)
		if closeAt < 0 {
			return "", syntaxError("missing closing parenthesis for %s", call.name)
		}

		var nums []float64
		for _, arg := range splitArgs(expr[call.open+1 : closeAt]) {
			got, err := r.argumentValues(arg)
			if err != nil {
				return "", err
			}
			nums = append(nums, got...)
		}
		result := aggregates[call.name](nums)
		expr = expr[:call.start] + literal(result) + expr[closeAt+1:]
	}
}

// argumentValues resolves one aggregate argument to the numbers it
// contributes: every numeric cell of a range, a referenced cell if numeric,
// or the value of an arithmetic expression.
func (r *run) argumentValues(arg string) ([]float64, error) {
	if arg == "" {
		return nil, nil
	}
	if strings.Contains(arg, ":") {
		rng, err := ParseRange(arg)
		if err != nil {
			return nil, err
		}
		return r.rangeValues(rng)
	}
	if isReferenceShape(arg) {
		ref, err := ParseReference(arg)
		if err != nil {
			return nil, err
		}
		v, err := r.resolve(ref.Sheet, ref.Coord)
		if err != nil {
			return nil, err
		}
		switch v.Kind {
		case ErrorValue:
			return nil, referencedCellError(arg)
		case Number:
			return []float64{v.Number}, nil
		default:
			return nil, nil
		}
	}
	v, err := r.scalar(arg)
	if err != nil {
		return nil, err
	}
	return []float64{v}, nil
}

func (r *run) rangeValues(rng Range) ([]float64, error) {
	if size := rng.Size(); size > r.e.maxRangeCells {
		return nil, unsupported("range %s covers %d cells, limit is %d", rng, size, r.e.maxRangeCells)
	}
	sheet, err := r.sheetFor(rng.Sheet)
	if err != nil {
		return nil, err
	}
	if err := r.prefetch(sheet, rng); err != nil {
		return nil, err
	}

	var nums []float64
	i := 0
	for c := range rng.Cells() {
		if err := r.checkCanceled(i); err != nil {
			return nil, err
		}
		i++
		v, err := r.resolve(rng.Sheet, c)
		if err != nil {
			return nil, err
		}
		switch v.Kind {
		case ErrorValue:
			return nil, referencedCellError(Reference{Sheet: rng.Sheet, Coord: c}.String())
		case Number:
			nums = append(nums, v.Number)
		}
	}
	return nums, nil
}

// prefetch loads a whole range into the cache when the source supports it.
func (r *run) prefetch(sheet SheetRef, rng Range) error {
	rr, ok := r.e.src.(RangeReader)
	if !ok {
		return nil
	}
	cells, err := rr.GetRange(r.ctx, sheet.ID, rng.Start, rng.End)
	if err != nil {
		return fmt.Errorf("read range %s: %w", rng, err)
	}
	i := 0
	for c := range rng.Cells() {
		if err := r.checkCanceled(i); err != nil {
			return err
		}
		i++
		r.cache[cellKey{sheet.ID, c.Row, c.Col}] = ResolvedValue{Kind: Empty}
	}
	for _, cell := range cells {
		r.cache[cellKey{sheet.ID, cell.Row, cell.Col}] = Resolve(cell.Value, true)
	}
	return nil
}

// checkCanceled polls the run context every ctxCheckInterval cells.
func (r *run) checkCanceled(visited int) error {
	if visited%ctxCheckInterval != 0 {
		return nil
	}
	return r.ctx.Err()
}

// substituteReferences replaces every scalar reference with its value.
// Empty and text cells read as 0; error cells abort the evaluation.
func (r *run) substituteReferences(expr string) (string, error) {
	var b strings.Builder
	last := 0
	for _, sp := range scanNames(expr) {
		if !isReferenceShape(sp.text) {
			if strings.Contains(sp.text, "!") {
				return "", invalidReference(sp.text)
			}
			continue
		}
		if (sp.start > 0 && expr[sp.start-1] == ':') || (sp.end < len(expr) && expr[sp.end] == ':') {
			return "", unsupported("range outside of %s", strings.Join(AggregateNames(), ", "))
		}
		ref, err := ParseReference(sp.text)
		if err != nil {
			return "", err
		}
		v, err := r.resolve(ref.Sheet, ref.Coord)
		if err != nil {
			return "", err
		}

		var repl string
		switch v.Kind {
		case ErrorValue:
			return "", referencedCellError(sp.text)
		case Number:
			repl = literal(v.Number)
		default:
			repl = "0"
		}
		b.WriteString(expr[last:sp.start])
		b.WriteString(repl)
		last = sp.end
	}
	b.WriteString(expr[last:])
	return b.String(), nil
}

// resolve returns the value at c on the named sheet ("" is the current one).
func (r *run) resolve(sheetName string, c Coordinate) (ResolvedValue, error) {
	sheet, err := r.sheetFor(sheetName)
	if err != nil {
		return ResolvedValue{}, err
	}
	key := cellKey{sheet.ID, c.Row, c.Col}
	if v, ok := r.cache[key]; ok {
		return v, nil
	}
	cell, ok, err := r.e.src.GetCell(r.ctx, sheet.ID, c.Row, c.Col)
	if err != nil {
		return ResolvedValue{}, fmt.Errorf("read cell %s: %w", c, err)
	}
	v := Resolve(cell.Value, ok)
	r.cache[key] = v
	return v, nil
}

func (r *run) sheetFor(name string) (SheetRef, error) {
	if name == "" || name == r.sheet.Name {
		return r.sheet, nil
	}
	if s, ok := r.sheets[name]; ok {
		return s, nil
	}
	s, ok, err := r.e.src.FindSheetByName(r.ctx, r.sheet.SpreadsheetID, name)
	if err != nil {
		return SheetRef{}, fmt.Errorf("find sheet %q: %w", name, err)
	}
	if !ok {
		return SheetRef{}, sheetNotFound(name)
	}
	r.sheets[name] = s
	return s, nil
}

// literal renders a number so it can be spliced back into expression text.
func literal(f float64) string {
	s := FormatNumber(f)
	if f < 0 {
		return "(" + s + ")"
	}
	return s
}

// nameSpan is a run of name characters in formula text, with an optional
// "Sheet!" qualifier folded in.
type nameSpan struct {
	start, end int
	text       string
}

// scanNames finds every name in expr: identifiers, cell references and
// qualified references. Runs that start with a digit are numbers and are
// skipped whole, so the "E5" in "2E5" is never taken for a cell.
func scanNames(expr string) []nameSpan {
	var spans []nameSpan
	for i := 0; i < len(expr); {
		r, size := utf8.DecodeRuneInString(expr[i:])
		if !isNameRune(r) {
			i += size
			continue
		}
		start := i
		end := nameEnd(expr, i)
		if unicode.IsDigit(r) || r == '.' {
			i = end
			continue
		}
		if end < len(expr) && expr[end] == '!' {
			if next := nameEnd(expr, end+1); next > end+1 {
				end = next
			}
		}
		spans = append(spans, nameSpan{start: start, end: end, text: expr[start:end]})
		i = end
	}
	return spans
}

func nameEnd(expr string, i int) int {
	for i < len(expr) {
		r, size := utf8.DecodeRuneInString(expr[i:])
		if !isNameRune(r) {
			break
		}
		i += size
	}
	return i
}

// isReferenceShape reports whether text looks like "[Sheet!]$A$1": a letter
// run followed by a digit run, with optional "$" markers.
func isReferenceShape(text string) bool {
	if i := strings.LastIndexByte(text, '!'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimPrefix(text, "$")
	i := 0
	for i < len(text) && isASCIILetter(text[i]) {
		i++
	}
	if i == 0 {
		return false
	}
	text = strings.TrimPrefix(text[i:], "$")
	if text == "" {
		return false
	}
	for j := 0; j < len(text); j++ {
		if text[j] < '0' || text[j] > '9' {
			return false
		}
	}
	return true
}

type aggregateCall struct {
	name  string
	start int // first byte of the name
	open  int // index of "("
}

// lastAggregateCall finds the rightmost NAME( where NAME is a supported
// aggregate (any case).
func lastAggregateCall(expr string) (aggregateCall, bool) {
	spans := scanNames(expr)
	for i := len(spans) - 1; i >= 0; i-- {
		sp := spans[i]
		name := strings.ToUpper(sp.text)
		if _, ok := aggregates[name]; !ok {
			continue
		}
		j := sp.end
		for j < len(expr) && (expr[j] == ' ' || expr[j] == '\t') {
			j++
		}
		if j < len(expr) && expr[j] == '(' {
			return aggregateCall{name: name, start: sp.start, open: j}, true
		}
	}
	return aggregateCall{}, false
}

// matchParen returns the index of the ")" closing the "(" at open, or -1.
func matchParen(expr string, open int) int {
	depth := 0
	for i := open; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitArgs splits an argument list on commas outside nested parentheses.
func splitArgs(s string) []string {
	var args []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(args, strings.TrimSpace(s[start:]))
}
