package expr

// Compile parses a formula string into an AST and extracts its free
// identifiers. It never evaluates and never resolves names. A malformed
// formula returns a *SyntaxError.
func Compile(formula string) (*Compiled, error) {
	p := &parser{src: formula, lex: newLexer(formula)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, syntaxErrorf(p.src, p.tok.span, "unexpected %s after expression", p.tok.kind)
	}
	return &Compiled{
		Source: formula,
		Root:   root,
		Refs:   collectReferences(root),
	}, nil
}

// parser is a recursive-descent parser with one token of lookahead,
// following the grammar's precedence ladder:
//
//	ternary → or → and → equality → comparison → term → factor →
//	exponent → unary → call → primary
type parser struct {
	src string
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) expect(kind tokenKind) (token, error) {
	if p.tok.kind != kind {
		return token{}, syntaxErrorf(p.src, p.tok.span, "expected %s, found %s", kind, p.tok.kind)
	}
	tok := p.tok
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

func (p *parser) parseTernary() (Expr, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokQuestion {
		return cond, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	then, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokColon); err != nil {
		return nil, err
	}
	els, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &Cond{
		If:   cond,
		Then: then,
		Else: els,
		span: Span{Start: cond.Span().Start, End: els.Span().End},
	}, nil
}

// parseBinary parses a left-associative binary level given its operand
// parser and the operators that live at this level.
func (p *parser) parseBinary(operand func() (Expr, error), ops ...tokenKind) (Expr, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		matched := false
		for _, op := range ops {
			if p.tok.kind == op {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		opText := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &Binary{
			Op:   opText,
			L:    left,
			R:    right,
			span: Span{Start: left.Span().Start, End: right.Span().End},
		}
	}
}

func (p *parser) parseOr() (Expr, error) {
	return p.parseBinary(p.parseAnd, tokOr)
}

func (p *parser) parseAnd() (Expr, error) {
	return p.parseBinary(p.parseEquality, tokAnd)
}

func (p *parser) parseEquality() (Expr, error) {
	return p.parseBinary(p.parseComparison, tokEq, tokNeq)
}

func (p *parser) parseComparison() (Expr, error) {
	return p.parseBinary(p.parseTerm, tokLt, tokLte, tokGt, tokGte)
}

func (p *parser) parseTerm() (Expr, error) {
	return p.parseBinary(p.parseFactor, tokPlus, tokMinus)
}

func (p *parser) parseFactor() (Expr, error) {
	return p.parseBinary(p.parseExponent, tokStar, tokSlash, tokPercent)
}

// parseExponent handles '**', which is right-associative: 2**3**2 is 512.
func (p *parser) parseExponent() (Expr, error) {
	base, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokPower {
		return base, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	exp, err := p.parseExponent()
	if err != nil {
		return nil, err
	}
	return &Binary{
		Op:   "**",
		L:    base,
		R:    exp,
		span: Span{Start: base.Span().Start, End: exp.Span().End},
	}, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.tok.kind == tokBang || p.tok.kind == tokMinus {
		opTok := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{
			Op:   opTok.text,
			X:    x,
			span: Span{Start: opTok.span.Start, End: x.Span().End},
		}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.tok
	switch tok.kind {
	case tokNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &NumberLit{Value: tok.num, span: tok.span}, nil
	case tokString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &StringLit{Value: tok.str, span: tok.span}, nil
	case tokBool:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &BoolLit{Value: tok.b, span: tok.span}, nil
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		return p.parseReferenceOrCall()
	case tokEOF:
		return nil, syntaxErrorf(p.src, tok.span, "unexpected end of formula")
	}
	return nil, syntaxErrorf(p.src, tok.span, "unexpected %s", tok.kind)
}

// parseReferenceOrCall parses either a (possibly dotted, possibly
// prev-qualified) reference or a function call. Calls only apply to bare
// identifiers: "f(x)" is a call, "a.b(x)" is not part of the grammar.
func (p *parser) parseReferenceOrCall() (Expr, error) {
	first := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.tok.kind == tokLParen {
		return p.parseCall(first)
	}

	parts := []string{first.text}
	end := first.span.End
	for p.tok.kind == tokDot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		ident, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		parts = append(parts, ident.text)
		end = ident.span.End
	}

	span := Span{Start: first.span.Start, End: end}
	if parts[0] == "prev" {
		if len(parts) == 1 {
			return nil, syntaxErrorf(p.src, span, "'prev' must qualify a reference, as in prev.name")
		}
		return &Ref{Prev: true, Parts: parts[1:], span: span}, nil
	}
	return &Ref{Parts: parts, span: span}, nil
}

func (p *parser) parseCall(name token) (Expr, error) {
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	var args []Expr
	if p.tok.kind != tokRParen {
		for {
			arg, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.tok.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	closing, err := p.expect(tokRParen)
	if err != nil {
		return nil, err
	}
	return &Call{
		Name: name.text,
		Args: args,
		span: Span{Start: name.span.Start, End: closing.span.End},
	}, nil
}
