package expr

import "fmt"

// SyntaxError reports a malformed formula. It is always a load-time
// failure: a document containing a formula that does not lex or parse is
// rejected before the first tick.
type SyntaxError struct {
	Formula string // the full formula source
	Span    Span   // the offending region
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error in formula %q at %s: %s", e.Formula, e.Span, e.Message)
}

func syntaxErrorf(formula string, span Span, format string, args ...any) *SyntaxError {
	return &SyntaxError{
		Formula: formula,
		Span:    span,
		Message: fmt.Sprintf(format, args...),
	}
}
