package expr

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapEnv resolves references from a flat map; prev.x is keyed "prev.x".
type mapEnv map[string]Value

func (m mapEnv) Value(ref *Ref) (Value, error) {
	key := strings.Join(ref.Parts, ".")
	if ref.Prev {
		key = "prev." + key
	}
	v, ok := m[key]
	if !ok {
		return Value{}, assert.AnError
	}
	return v, nil
}

func eval(t *testing.T, src string, env mapEnv) Value {
	t.Helper()
	c, err := Compile(src)
	require.NoError(t, err, src)
	v, err := Eval(c.Root, env, DefaultRegistry())
	require.NoError(t, err, src)
	return v
}

func TestEvalArithmetic(t *testing.T) {
	for _, tc := range []struct {
		src  string
		want float64
	}{
		{"1 + 2", 3},
		{"10 - 4", 6},
		{"6 * 7", 42},
		{"9 / 2", 4.5},
		{"7 % 3", 1},
		{"2 ** 10", 1024},
		{"2 ** 3 ** 2", 512},
		{"-5 + 2", -3},
		{"-(3 * 4)", -12},
		{"(1 + 2) * 3", 9},
		{"1 + 2 * 3", 7},
	} {
		got := eval(t, tc.src, nil)
		assert.Equal(t, Number(tc.want), got, tc.src)
	}
}

func TestEvalLoadCellScenario(t *testing.T) {
	env := mapEnv{
		"rawAdc":      Number(1000),
		"tare":        Number(892),
		"calibration": Number(0.245),
	}
	got := eval(t, "max(0, (rawAdc - tare) * calibration)", env)
	assert.InDelta(t, 26.46, got.Num, 1e-12)
}

func TestEvalDivisionByZero(t *testing.T) {
	assert.True(t, math.IsInf(eval(t, "1 / 0", nil).Num, 1))
	assert.True(t, math.IsInf(eval(t, "-1 / 0", nil).Num, -1))
	assert.True(t, math.IsNaN(eval(t, "0 / 0", nil).Num))
}

func TestEvalComparisonAndEquality(t *testing.T) {
	for _, tc := range []struct {
		src  string
		want bool
	}{
		{"1 < 2", true},
		{"2 <= 2", true},
		{"3 > 4", false},
		{"4 >= 4", true},
		{"1 == 1", true},
		{"1 != 1", false},
		{"true == 1", true},
		{"\"5\" == 5", true},
		{"\"abc\" == \"abc\"", true},
		{"\"abc\" < \"abd\"", true},
		{"0 / 0 == 0 / 0", false},
	} {
		got := eval(t, tc.src, nil)
		assert.Equal(t, Bool(tc.want), got, tc.src)
	}
}

func TestEvalBooleanShortCircuit(t *testing.T) {
	// The right side references an unbound name; short-circuiting must
	// skip it entirely.
	assert.Equal(t, Bool(false), eval(t, "false && missing", nil))
	assert.Equal(t, Bool(true), eval(t, "true || missing", nil))

	assert.Equal(t, Bool(true), eval(t, "true && 1", nil))
	assert.Equal(t, Bool(true), eval(t, "1 || 2", nil))
}

func TestEvalTernary(t *testing.T) {
	env := mapEnv{"temp": Number(120)}
	assert.Equal(t, Number(100), eval(t, "temp > 100 ? 100 : temp", env))
	env["temp"] = Number(80)
	assert.Equal(t, Number(80), eval(t, "temp > 100 ? 100 : temp", env))

	// Only the taken branch evaluates.
	assert.Equal(t, Number(1), eval(t, "true ? 1 : missing", nil))
}

func TestEvalStringConcat(t *testing.T) {
	assert.Equal(t, String("ab"), eval(t, `"a" + "b"`, nil))
	// Mixed operands fall back to numeric addition.
	assert.True(t, math.IsNaN(eval(t, `"a" + 1`, nil).Num))
	assert.Equal(t, Number(6), eval(t, `"5" + 1`, nil))
}

func TestEvalUnaryNot(t *testing.T) {
	assert.Equal(t, Bool(false), eval(t, "!true", nil))
	assert.Equal(t, Bool(true), eval(t, "!0", nil))
	assert.Equal(t, Bool(false), eval(t, `!"nonempty"`, nil))
}

func TestEvalPrevReferences(t *testing.T) {
	env := mapEnv{
		"error":         Number(10),
		"dt":            Number(0.1),
		"prev.integral": Number(0.5),
	}
	got := eval(t, "prev.integral + error * dt", env)
	assert.InDelta(t, 1.5, got.Num, 1e-12)
}

func TestEvalFunctions(t *testing.T) {
	for _, tc := range []struct {
		src  string
		want float64
	}{
		{"clamp(5, 0, 10)", 5},
		{"clamp(-3, 0, 10)", 0},
		{"clamp(42, 0, 10)", 10},
		{"max(1, 7, 3)", 7},
		{"min(1, 7, 3)", 1},
		{"max(4)", 4},
		{"abs(-2.5)", 2.5},
		{"floor(2.9)", 2},
		{"ceil(2.1)", 3},
		{"round(2.5)", 3},
		{"sqrt(81)", 9},
		{"sign(-12)", -1},
		{"sign(0)", 0},
		{"sign(3)", 1},
		{"deadband(0.4, 1)", 0},
		{"deadband(1.5, 1)", 1.5},
		{"lowpass(10, 0, 0.5)", 5},
		{"lowpass(10, 8, 0.25)", 8.5},
	} {
		got := eval(t, tc.src, nil)
		assert.InDelta(t, tc.want, got.Num, 1e-12, tc.src)
	}
}

func TestEvalUnknownFunction(t *testing.T) {
	c, err := Compile("mystery(1)")
	require.NoError(t, err)
	_, err = Eval(c.Root, mapEnv{}, DefaultRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

func TestCheckCallArity(t *testing.T) {
	r := DefaultRegistry()
	assert.NoError(t, r.CheckCall("clamp", 3))
	assert.Error(t, r.CheckCall("clamp", 2))
	assert.Error(t, r.CheckCall("clamp", 4))
	assert.NoError(t, r.CheckCall("max", 5))
	assert.Error(t, r.CheckCall("max", 0))
	assert.Error(t, r.CheckCall("nothere", 1))
}

func TestValueCoerce(t *testing.T) {
	assert.Equal(t, Number(3), String("3").Coerce("float"))
	assert.Equal(t, Number(3), Number(3.7).Coerce("int"))
	assert.Equal(t, Number(-3), Number(-3.7).Coerce("int"))
	assert.Equal(t, Bool(true), Number(2).Coerce("bool"))
	assert.Equal(t, Bool(false), Number(0).Coerce("bool"))
	assert.Equal(t, String("1.5"), Number(1.5).Coerce("string"))
	// Failed numeric coercion yields NaN, not an error.
	assert.True(t, math.IsNaN(String("abc").Coerce("float").Num))
	// Untyped slots pass values through.
	assert.Equal(t, String("x"), String("x").Coerce(""))
}

func TestValueZero(t *testing.T) {
	assert.Equal(t, Number(0), Zero("float"))
	assert.Equal(t, Number(0), Zero(""))
	assert.Equal(t, Bool(false), Zero("bool"))
	assert.Equal(t, String(""), Zero("string"))
}
