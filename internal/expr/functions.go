package expr

import (
	"fmt"
	"math"
)

// Function is an evaluation rule over runtime values. Implementations
// must be deterministic in their result; the tick evaluator may call
// them any number of times with the same arguments. Side channels (the
// engine's fault() builtin) must tolerate repeated calls per tick.
type Function struct {
	Name string
	// MinArgs and MaxArgs bound the accepted argument count. MaxArgs of -1
	// means variadic.
	MinArgs int
	MaxArgs int
	Apply   func(args []Value) Value
}

// Registry maps function names to their evaluation rules. The function set
// of the formula language is open-ended; models grow it via Register
// rather than by touching the evaluator.
type Registry struct {
	funcs map[string]*Function
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]*Function)}
}

// Register adds or replaces a function.
func (r *Registry) Register(fn *Function) {
	r.funcs[fn.Name] = fn
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (*Function, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// CheckCall validates a call's arity at load time, so a model never
// discovers a malformed call at tick time.
func (r *Registry) CheckCall(name string, argc int) error {
	fn, ok := r.funcs[name]
	if !ok {
		return fmt.Errorf("unknown function %q", name)
	}
	if argc < fn.MinArgs {
		return fmt.Errorf("%s expects at least %d argument(s), got %d", name, fn.MinArgs, argc)
	}
	if fn.MaxArgs >= 0 && argc > fn.MaxArgs {
		return fmt.Errorf("%s expects at most %d argument(s), got %d", name, fn.MaxArgs, argc)
	}
	return nil
}

// numeric wraps a float64 function as a fixed-arity registry entry.
func numeric(name string, arity int, fn func(args []float64) float64) *Function {
	return &Function{
		Name:    name,
		MinArgs: arity,
		MaxArgs: arity,
		Apply: func(args []Value) Value {
			nums := make([]float64, len(args))
			for i, a := range args {
				nums[i] = a.AsNumber()
			}
			return Number(fn(nums))
		},
	}
}

// DefaultRegistry returns the standard function library.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(numeric("clamp", 3, func(a []float64) float64 {
		x, lo, hi := a[0], a[1], a[2]
		if x < lo {
			return lo
		}
		if x > hi {
			return hi
		}
		return x
	}))

	r.Register(&Function{
		Name:    "max",
		MinArgs: 1,
		MaxArgs: -1,
		Apply: func(args []Value) Value {
			out := args[0].AsNumber()
			for _, a := range args[1:] {
				out = math.Max(out, a.AsNumber())
			}
			return Number(out)
		},
	})

	r.Register(&Function{
		Name:    "min",
		MinArgs: 1,
		MaxArgs: -1,
		Apply: func(args []Value) Value {
			out := args[0].AsNumber()
			for _, a := range args[1:] {
				out = math.Min(out, a.AsNumber())
			}
			return Number(out)
		},
	})

	r.Register(numeric("abs", 1, func(a []float64) float64 { return math.Abs(a[0]) }))

	// lowpass is a first-order exponential filter:
	// lowpass(x, prevX, alpha) = prevX + alpha*(x - prevX).
	r.Register(numeric("lowpass", 3, func(a []float64) float64 {
		x, prevX, alpha := a[0], a[1], a[2]
		return prevX + alpha*(x-prevX)
	}))

	r.Register(numeric("floor", 1, func(a []float64) float64 { return math.Floor(a[0]) }))
	r.Register(numeric("ceil", 1, func(a []float64) float64 { return math.Ceil(a[0]) }))
	r.Register(numeric("round", 1, func(a []float64) float64 { return math.Round(a[0]) }))
	r.Register(numeric("sqrt", 1, func(a []float64) float64 { return math.Sqrt(a[0]) }))

	r.Register(numeric("sign", 1, func(a []float64) float64 {
		switch {
		case a[0] > 0:
			return 1
		case a[0] < 0:
			return -1
		}
		return a[0] // preserves 0, -0 and NaN
	}))

	// deadband suppresses values within ±width of zero, a common guard
	// against sensor noise around a resting point.
	r.Register(numeric("deadband", 2, func(a []float64) float64 {
		x, width := a[0], a[1]
		if math.Abs(x) < width {
			return 0
		}
		return x
	}))

	return r
}
