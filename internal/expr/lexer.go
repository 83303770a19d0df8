package expr

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// lexer scans a formula string into tokens. Formulas are single-line, so
// only column positions are tracked.
type lexer struct {
	src string
	pos int // byte offset of the next rune
	col int // rune-based column of the next rune, 1-based
}

func newLexer(src string) *lexer {
	return &lexer{src: src, col: 1}
}

func (l *lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return r
}

func (l *lexer) read() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r, w := utf8.DecodeRuneInString(l.src[l.pos:])
	l.pos += w
	l.col++
	return r
}

func (l *lexer) here() Pos {
	return Pos{Offset: l.pos, Col: l.col}
}

// next scans and returns the next token.
func (l *lexer) next() (token, error) {
	for {
		r := l.peek()
		if r == 0 {
			start := l.here()
			return token{kind: tokEOF, span: Span{Start: start, End: start}}, nil
		}
		if !unicode.IsSpace(r) {
			break
		}
		l.read()
	}

	start := l.here()
	r := l.read()

	switch {
	case unicode.IsDigit(r):
		return l.lexNumber(start)
	case r == '"' || r == '\'':
		return l.lexString(start, r)
	case unicode.IsLetter(r) || r == '_':
		return l.lexIdent(start)
	}

	tok := func(kind tokenKind) (token, error) {
		span := Span{Start: start, End: l.here()}
		return token{kind: kind, span: span, text: l.src[start.Offset:span.End.Offset]}, nil
	}

	switch r {
	case '?':
		return tok(tokQuestion)
	case ':':
		return tok(tokColon)
	case '(':
		return tok(tokLParen)
	case ')':
		return tok(tokRParen)
	case ',':
		return tok(tokComma)
	case '.':
		return tok(tokDot)
	case '+':
		return tok(tokPlus)
	case '-':
		return tok(tokMinus)
	case '/':
		return tok(tokSlash)
	case '%':
		return tok(tokPercent)
	case '*':
		if l.peek() == '*' {
			l.read()
			return tok(tokPower)
		}
		return tok(tokStar)
	case '!':
		if l.peek() == '=' {
			l.read()
			return tok(tokNeq)
		}
		return tok(tokBang)
	case '=':
		if l.peek() == '=' {
			l.read()
			return tok(tokEq)
		}
		return token{}, syntaxErrorf(l.src, Span{Start: start, End: l.here()}, "unexpected '=', did you mean '=='?")
	case '<':
		if l.peek() == '=' {
			l.read()
			return tok(tokLte)
		}
		return tok(tokLt)
	case '>':
		if l.peek() == '=' {
			l.read()
			return tok(tokGte)
		}
		return tok(tokGt)
	case '&':
		if l.peek() == '&' {
			l.read()
			return tok(tokAnd)
		}
		return token{}, syntaxErrorf(l.src, Span{Start: start, End: l.here()}, "unexpected '&', did you mean '&&'?")
	case '|':
		if l.peek() == '|' {
			l.read()
			return tok(tokOr)
		}
		return token{}, syntaxErrorf(l.src, Span{Start: start, End: l.here()}, "unexpected '|', did you mean '||'?")
	}

	return token{}, syntaxErrorf(l.src, Span{Start: start, End: l.here()}, "unexpected character %q", r)
}

func (l *lexer) lexNumber(start Pos) (token, error) {
	for unicode.IsDigit(l.peek()) {
		l.read()
	}
	if l.peek() == '.' {
		// Only consume the dot if a digit follows; "1.x" is not a number
		// followed by a member access.
		if l.pos+1 < len(l.src) && unicode.IsDigit(rune(l.src[l.pos+1])) {
			l.read()
			for unicode.IsDigit(l.peek()) {
				l.read()
			}
		}
	}
	if r := l.peek(); r == 'e' || r == 'E' {
		save := *l
		l.read()
		if r := l.peek(); r == '+' || r == '-' {
			l.read()
		}
		if unicode.IsDigit(l.peek()) {
			for unicode.IsDigit(l.peek()) {
				l.read()
			}
		} else {
			*l = save // not an exponent, e.g. "2e" in "2elements" (invalid anyway)
		}
	}

	span := Span{Start: start, End: l.here()}
	text := l.src[start.Offset:span.End.Offset]
	num, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, syntaxErrorf(l.src, span, "malformed number %q", text)
	}
	return token{kind: tokNumber, span: span, text: text, num: num}, nil
}

func (l *lexer) lexString(start Pos, quote rune) (token, error) {
	var sb strings.Builder
	for {
		r := l.read()
		if r == 0 {
			return token{}, syntaxErrorf(l.src, Span{Start: start, End: l.here()}, "unterminated string")
		}
		if r == quote {
			break
		}
		if r == '\\' {
			esc := l.read()
			switch esc {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case '\\', '"', '\'':
				sb.WriteRune(esc)
			default:
				return token{}, syntaxErrorf(l.src, Span{Start: start, End: l.here()}, "unknown escape sequence '\\%c'", esc)
			}
			continue
		}
		sb.WriteRune(r)
	}
	span := Span{Start: start, End: l.here()}
	return token{kind: tokString, span: span, text: l.src[start.Offset:span.End.Offset], str: sb.String()}, nil
}

func (l *lexer) lexIdent(start Pos) (token, error) {
	for {
		r := l.peek()
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		l.read()
	}
	span := Span{Start: start, End: l.here()}
	text := l.src[start.Offset:span.End.Offset]
	switch text {
	case "true":
		return token{kind: tokBool, span: span, text: text, b: true}, nil
	case "false":
		return token{kind: tokBool, span: span, text: text, b: false}, nil
	}
	return token{kind: tokIdent, span: span, text: text}, nil
}
