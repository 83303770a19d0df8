package expr

import (
	"fmt"
	"math"
	"strconv"
)

// Kind enumerates the runtime value kinds of the formula language.
type Kind uint8

const (
	KindNumber Kind = iota
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a runtime value: a number, a bool, or a string. Numbers are
// IEEE-754 float64 and may hold NaN or Infinity; division by zero is a
// value, never a panic.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	B    bool
}

// Number wraps a float64.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{Kind: KindBool, B: b} }

// String wraps a string.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Zero returns the zero value for a declared type name: 0 for numeric
// types, false for bool, "" for string. Unknown type names zero to a
// number, the dominant kind in hardware models.
func Zero(typeName string) Value {
	switch typeName {
	case "bool":
		return Bool(false)
	case "string":
		return String("")
	}
	return Number(0)
}

// AsNumber coerces a value to a float64 using the best-effort rules:
// bools map to 0/1, numeric strings parse, anything else yields NaN.
func (v Value) AsNumber() float64 {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBool:
		if v.B {
			return 1
		}
		return 0
	case KindString:
		if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
			return f
		}
		return math.NaN()
	}
	return math.NaN()
}

// Truthy reports whether a value selects the "then" branch of a ternary:
// nonzero numbers, true, and non-empty strings are truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNumber:
		return v.Num != 0
	case KindBool:
		return v.B
	case KindString:
		return v.Str != ""
	}
	return false
}

// Equal compares two values. Same-kind values compare directly; mixed
// kinds compare numerically after coercion, so 1 == true and "5" == 5.
// NaN never equals anything, including itself.
func (v Value) Equal(o Value) bool {
	if v.Kind == o.Kind {
		switch v.Kind {
		case KindNumber:
			return v.Num == o.Num
		case KindBool:
			return v.B == o.B
		case KindString:
			return v.Str == o.Str
		}
	}
	return v.AsNumber() == o.AsNumber()
}

// IsFinite reports whether the value is a finite number or a non-numeric
// kind. NaN and ±Infinity are the only non-finite values.
func (v Value) IsFinite() bool {
	if v.Kind != KindNumber {
		return true
	}
	return !math.IsNaN(v.Num) && !math.IsInf(v.Num, 0)
}

// Coerce converts a value to the declared type of its destination. The
// rules follow the runtime coercion policy: numeric targets fall back to
// NaN when coercion fails, bool targets use a nonzero test, string
// targets format the value. An empty type name keeps the value as-is.
func (v Value) Coerce(typeName string) Value {
	switch typeName {
	case "", "any":
		return v
	case "float", "number":
		return Number(v.AsNumber())
	case "int":
		n := v.AsNumber()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Number(n)
		}
		return Number(math.Trunc(n))
	case "bool":
		switch v.Kind {
		case KindBool:
			return v
		case KindNumber:
			return Bool(v.Num != 0)
		case KindString:
			if b, err := strconv.ParseBool(v.Str); err == nil {
				return Bool(b)
			}
			return Bool(false)
		}
	case "string":
		return String(v.String())
	}
	return v
}

// String formats the value for diagnostics and string coercion. Numbers
// use the shortest round-trip representation.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindString:
		return v.Str
	}
	return "<invalid>"
}
