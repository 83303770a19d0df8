// Package expr implements the formula language of hwml documents: a small,
// side-effect-free expression grammar with ternary selection, boolean and
// arithmetic operators, function calls, and dotted references.
//
// The compiler is purely syntactic. It produces an AST and the set of free
// identifiers a formula mentions, partitioned by reference class; name
// resolution and evaluation happen elsewhere.
package expr

import "strings"

// Expr is a node of a compiled formula's abstract syntax tree.
type Expr interface {
	Span() Span
}

// NumberLit is a numeric literal.
type NumberLit struct {
	Value float64
	span  Span
}

// StringLit is a quoted string literal.
type StringLit struct {
	Value string
	span  Span
}

// BoolLit is a true/false literal.
type BoolLit struct {
	Value bool
	span  Span
}

// Ref is a reference to a named entity. Parts holds the dotted components;
// a bare reference has exactly one part. Prev marks a "prev."-qualified
// reference, whose remaining parts resolve against the same scope the
// unqualified name would.
type Ref struct {
	Prev  bool
	Parts []string
	span  Span
}

// String returns the reference as written, without the prev qualifier.
func (r *Ref) String() string {
	return strings.Join(r.Parts, ".")
}

// Unary is a prefix operator application ('!' or '-').
type Unary struct {
	Op string
	X  Expr
	span Span
}

// Binary is an infix operator application.
type Binary struct {
	Op   string
	L, R Expr
	span Span
}

// Cond is a ternary selection: If ? Then : Else.
type Cond struct {
	If, Then, Else Expr
	span           Span
}

// Call is a function application. Functions live in a flat namespace; the
// callee is always a bare identifier.
type Call struct {
	Name string
	Args []Expr
	span Span
}

func (e *NumberLit) Span() Span { return e.span }
func (e *StringLit) Span() Span { return e.span }
func (e *BoolLit) Span() Span   { return e.span }
func (e *Ref) Span() Span       { return e.span }
func (e *Unary) Span() Span     { return e.span }
func (e *Binary) Span() Span    { return e.span }
func (e *Cond) Span() Span      { return e.span }
func (e *Call) Span() Span      { return e.span }

// References is the set of free identifiers of a formula, partitioned by
// reference class. Each slice is deduplicated and ordered by first
// occurrence in the source.
type References struct {
	// Local holds bare, same-scope references ("rawAdc", "tare").
	Local []string
	// Prev holds "prev."-qualified references, without the qualifier
	// ("integral" for prev.integral, "pid.error" for prev.pid.error).
	Prev []string
	// Qualified holds dotted references ("sensors.temp").
	Qualified []string
	// Calls holds the names of all functions applied anywhere in the
	// formula, ordered by first occurrence.
	Calls []string
}

// Compiled is the result of compiling one formula: its source, its AST, and
// the identifiers it mentions.
type Compiled struct {
	Source string
	Root   Expr
	Refs   References
}

// Refs walks an AST and collects every Ref node, in source order.
func Refs(root Expr) []*Ref {
	var out []*Ref
	walk(root, func(e Expr) {
		if r, ok := e.(*Ref); ok {
			out = append(out, r)
		}
	})
	return out
}

// Walk visits every node of an AST in depth-first, source order.
func Walk(root Expr, fn func(Expr)) {
	walk(root, fn)
}

func walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case *Unary:
		walk(n.X, fn)
	case *Binary:
		walk(n.L, fn)
		walk(n.R, fn)
	case *Cond:
		walk(n.If, fn)
		walk(n.Then, fn)
		walk(n.Else, fn)
	case *Call:
		for _, a := range n.Args {
			walk(a, fn)
		}
	}
}

func collectReferences(root Expr) References {
	var refs References
	seenLocal := map[string]bool{}
	seenPrev := map[string]bool{}
	seenQualified := map[string]bool{}
	seenCalls := map[string]bool{}

	walk(root, func(e Expr) {
		switch n := e.(type) {
		case *Ref:
			name := n.String()
			switch {
			case n.Prev:
				if !seenPrev[name] {
					seenPrev[name] = true
					refs.Prev = append(refs.Prev, name)
				}
			case len(n.Parts) == 1:
				if !seenLocal[name] {
					seenLocal[name] = true
					refs.Local = append(refs.Local, name)
				}
			default:
				if !seenQualified[name] {
					seenQualified[name] = true
					refs.Qualified = append(refs.Qualified, name)
				}
			}
		case *Call:
			if !seenCalls[n.Name] {
				seenCalls[n.Name] = true
				refs.Calls = append(refs.Calls, n.Name)
			}
		}
	})
	return refs
}
