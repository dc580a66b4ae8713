package formula

import "fmt"

// Kind classifies evaluation failures.
type Kind int

const (
	KindInvalidReference Kind = iota + 1
	KindSheetNotFound
	KindReferencedCellError
	KindDivisionByZero
	KindSyntaxError
	KindUnsupportedExpression
	KindCyclicReference
)

var kindNames = map[Kind]string{
	KindInvalidReference:      "invalid reference",
	KindSheetNotFound:         "sheet not found",
	KindReferencedCellError:   "referenced cell error",
	KindDivisionByZero:        "division by zero",
	KindSyntaxError:           "syntax error",
	KindUnsupportedExpression: "unsupported expression",
	KindCyclicReference:       "cyclic reference",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every evaluation failure. Message is the human-readable
// text stored after the error marker; Ref names the offending reference or
// sheet when there is one.
type Error struct {
	Kind    Kind
	Ref     string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on Kind so callers can write errors.Is(err, formula.ErrDivisionByZero).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is. Only Kind is compared.
var (
	ErrInvalidReference      = &Error{Kind: KindInvalidReference, Message: "invalid reference"}
	ErrSheetNotFound         = &Error{Kind: KindSheetNotFound, Message: "sheet not found"}
	ErrReferencedCellError   = &Error{Kind: KindReferencedCellError, Message: "referenced cell contains an error"}
	ErrDivisionByZero        = &Error{Kind: KindDivisionByZero, Message: "division by zero"}
	ErrSyntax                = &Error{Kind: KindSyntaxError, Message: "syntax error"}
	ErrUnsupportedExpression = &Error{Kind: KindUnsupportedExpression, Message: "unsupported expression"}
	ErrCyclicReference       = &Error{Kind: KindCyclicReference, Message: "cyclic reference"}
)

func invalidReference(ref string) *Error {
	return &Error{Kind: KindInvalidReference, Ref: ref, Message: fmt.Sprintf("invalid cell reference: %s", ref)}
}

func sheetNotFound(name string) *Error {
	return &Error{Kind: KindSheetNotFound, Ref: name, Message: fmt.Sprintf("sheet not found: %s", name)}
}

func referencedCellError(ref string) *Error {
	return &Error{Kind: KindReferencedCellError, Ref: ref, Message: fmt.Sprintf("cell %s contains an error", ref)}
}

func divisionByZero() *Error {
	return &Error{Kind: KindDivisionByZero, Message: "division by zero"}
}

func syntaxError(format string, args ...any) *Error {
	return &Error{Kind: KindSyntaxError, Message: "syntax error: " + fmt.Sprintf(format, args...)}
}

func unsupported(format string, args ...any) *Error {
	return &Error{Kind: KindUnsupportedExpression, Message: "unsupported expression: " + fmt.Sprintf(format, args...)}
}

func cyclicReference(ref string) *Error {
	return &Error{Kind: KindCyclicReference, Ref: ref, Message: fmt.Sprintf("formula refers to its own cell %s", ref)}
}
