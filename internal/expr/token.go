package expr

import "fmt"

// tokenKind enumerates the lexical token types of the formula grammar.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokBool

	// Operators and punctuation.
	tokQuestion // ?
	tokColon    // :
	tokOr       // ||
	tokAnd      // &&
	tokEq       // ==
	tokNeq      // !=
	tokLt       // <
	tokLte      // <=
	tokGt       // >
	tokGte      // >=
	tokPlus     // +
	tokMinus    // -
	tokStar     // *
	tokSlash    // /
	tokPercent  // %
	tokPower    // **
	tokBang     // !
	tokLParen   // (
	tokRParen   // )
	tokComma    // ,
	tokDot      // .
)

var tokenNames = map[tokenKind]string{
	tokEOF:      "end of formula",
	tokNumber:   "number",
	tokString:   "string",
	tokIdent:    "identifier",
	tokBool:     "boolean",
	tokQuestion: "'?'",
	tokColon:    "':'",
	tokOr:       "'||'",
	tokAnd:      "'&&'",
	tokEq:       "'=='",
	tokNeq:      "'!='",
	tokLt:       "'<'",
	tokLte:      "'<='",
	tokGt:       "'>'",
	tokGte:      "'>='",
	tokPlus:     "'+'",
	tokMinus:    "'-'",
	tokStar:     "'*'",
	tokSlash:    "'/'",
	tokPercent:  "'%'",
	tokPower:    "'**'",
	tokBang:     "'!'",
	tokLParen:   "'('",
	tokRParen:   "')'",
	tokComma:    "','",
	tokDot:      "'.'",
}

func (k tokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Pos is a position within a formula string. Columns are rune-based and
// 1-based; Offset is the byte offset from the start of the formula.
type Pos struct {
	Offset int
	Col    int
}

// Span covers a contiguous region of a formula, from Start (inclusive)
// to End (exclusive).
type Span struct {
	Start Pos
	End   Pos
}

func (s Span) String() string {
	if s.End.Col > s.Start.Col+1 {
		return fmt.Sprintf("col %d-%d", s.Start.Col, s.End.Col-1)
	}
	return fmt.Sprintf("col %d", s.Start.Col)
}

// token is a single lexed token with its source span and decoded value.
type token struct {
	kind tokenKind
	span Span
	text string  // raw text as it appeared in the formula
	num  float64 // decoded value for tokNumber
	str  string  // decoded value for tokString
	b    bool    // decoded value for tokBool
}
