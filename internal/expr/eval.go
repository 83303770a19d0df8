package expr

import (
	"fmt"
	"math"
)

// Env supplies reference values during evaluation. The tick evaluator
// implements it over the current tick's slots; every Ref is guaranteed
// resolvable because resolution already succeeded at load time.
type Env interface {
	// Value returns the current value of a reference.
	Value(ref *Ref) (Value, error)
}

// Eval evaluates a compiled formula against an environment and a function
// registry. Evaluation is pure: identical inputs yield identical results,
// and numeric faults (division by zero, failed coercion) propagate as
// NaN/Infinity values rather than errors. The only error paths are
// environment lookup failures, which indicate a bug in load-time
// resolution.
func Eval(e Expr, env Env, funcs *Registry) (Value, error) {
	switch n := e.(type) {
	case *NumberLit:
		return Number(n.Value), nil
	case *StringLit:
		return String(n.Value), nil
	case *BoolLit:
		return Bool(n.Value), nil
	case *Ref:
		return env.Value(n)
	case *Unary:
		return evalUnary(n, env, funcs)
	case *Binary:
		return evalBinary(n, env, funcs)
	case *Cond:
		cond, err := Eval(n.If, env, funcs)
		if err != nil {
			return Value{}, err
		}
		if cond.Truthy() {
			return Eval(n.Then, env, funcs)
		}
		return Eval(n.Else, env, funcs)
	case *Call:
		fn, ok := funcs.Lookup(n.Name)
		if !ok {
			return Value{}, fmt.Errorf("unknown function %q", n.Name)
		}
		args := make([]Value, len(n.Args))
		for i, arg := range n.Args {
			v, err := Eval(arg, env, funcs)
			if err != nil {
				return Value{}, err
			}
			args[i] = v
		}
		return fn.Apply(args), nil
	}
	return Value{}, fmt.Errorf("unknown expression node %T", e)
}

func evalUnary(n *Unary, env Env, funcs *Registry) (Value, error) {
	x, err := Eval(n.X, env, funcs)
	if err != nil {
		return Value{}, err
	}
	switch n.Op {
	case "!":
		return Bool(!x.Truthy()), nil
	case "-":
		return Number(-x.AsNumber()), nil
	}
	return Value{}, fmt.Errorf("unknown unary operator %q", n.Op)
}

func evalBinary(n *Binary, env Env, funcs *Registry) (Value, error) {
	// Short-circuit the boolean operators before evaluating the right side.
	if n.Op == "&&" || n.Op == "||" {
		l, err := Eval(n.L, env, funcs)
		if err != nil {
			return Value{}, err
		}
		if n.Op == "&&" && !l.Truthy() {
			return Bool(false), nil
		}
		if n.Op == "||" && l.Truthy() {
			return Bool(true), nil
		}
		r, err := Eval(n.R, env, funcs)
		if err != nil {
			return Value{}, err
		}
		return Bool(r.Truthy()), nil
	}

	l, err := Eval(n.L, env, funcs)
	if err != nil {
		return Value{}, err
	}
	r, err := Eval(n.R, env, funcs)
	if err != nil {
		return Value{}, err
	}

	switch n.Op {
	case "==":
		return Bool(l.Equal(r)), nil
	case "!=":
		return Bool(!l.Equal(r)), nil
	case "<", "<=", ">", ">=":
		return compare(n.Op, l, r), nil
	case "+":
		// String concatenation when both sides are strings; numeric
		// addition otherwise.
		if l.Kind == KindString && r.Kind == KindString {
			return String(l.Str + r.Str), nil
		}
		return Number(l.AsNumber() + r.AsNumber()), nil
	case "-":
		return Number(l.AsNumber() - r.AsNumber()), nil
	case "*":
		return Number(l.AsNumber() * r.AsNumber()), nil
	case "/":
		// IEEE-754 semantics: x/0 is ±Infinity, 0/0 is NaN.
		return Number(l.AsNumber() / r.AsNumber()), nil
	case "%":
		return Number(math.Mod(l.AsNumber(), r.AsNumber())), nil
	case "**":
		return Number(math.Pow(l.AsNumber(), r.AsNumber())), nil
	}
	return Value{}, fmt.Errorf("unknown binary operator %q", n.Op)
}

func compare(op string, l, r Value) Value {
	if l.Kind == KindString && r.Kind == KindString {
		switch op {
		case "<":
			return Bool(l.Str < r.Str)
		case "<=":
			return Bool(l.Str <= r.Str)
		case ">":
			return Bool(l.Str > r.Str)
		case ">=":
			return Bool(l.Str >= r.Str)
		}
	}
	ln, rn := l.AsNumber(), r.AsNumber()
	switch op {
	case "<":
		return Bool(ln < rn)
	case "<=":
		return Bool(ln <= rn)
	case ">":
		return Bool(ln > rn)
	case ">=":
		return Bool(ln >= rn)
	}
	return Bool(false)
}
