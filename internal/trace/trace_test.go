package trace

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hwml/internal/engine"
	"github.com/roach88/hwml/internal/expr"
)

func TestCanonicalSortsKeys(t *testing.T) {
	b, err := marshalCanonical(map[string]any{
		"zeta":  int64(1),
		"alpha": int64(2),
		"mid":   int64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zeta":1}`, string(b))
}

func TestCanonicalSortsKeysByUTF16Units(t *testing.T) {
	// U+1F600 encodes as a surrogate pair starting at D83D, which sorts
	// before U+FB00 in UTF-16 but after it in UTF-8 bytes.
	b, err := marshalCanonical(map[string]any{
		"ﬀ":     int64(1),
		"\U0001F600": int64(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"ﬀ\":1}", string(b))
}

func TestCanonicalNormalizesStringsToNFC(t *testing.T) {
	// e + combining acute accent normalizes to the precomposed form.
	b, err := marshalCanonical("é")
	require.NoError(t, err)
	assert.Equal(t, "\"é\"", string(b))
}

func TestCanonicalDoesNotEscapeHTML(t *testing.T) {
	b, err := marshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(b))
}

func TestCanonicalNumbers(t *testing.T) {
	for _, tc := range []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{42, "42"},
		{-7, "-7"},
		{26.46, "26.46"},
		{0.1, "0.1"},
		{math.NaN(), `"NaN"`},
		{math.Inf(1), `"Infinity"`},
		{math.Inf(-1), `"-Infinity"`},
	} {
		b, err := marshalCanonical(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(b))
	}
}

func TestCanonicalRejectsNil(t *testing.T) {
	_, err := marshalCanonical(nil)
	assert.Error(t, err)
	_, err = marshalCanonical(map[string]any{"k": nil})
	assert.Error(t, err)
}

func sampleEvent() *Event {
	return FromResult(&engine.TickResult{
		RunToken: "run-1",
		Tick:     3,
		Time:     0.3,
		Dt:       0.1,
		Values: map[string]expr.Value{
			"main.sensor.raw":   expr.Number(1000),
			"main.pid.out":      expr.Number(8.05),
			"main.safety.armed": expr.Bool(true),
			"main.ui.label":     expr.String("ready"),
		},
		Warnings: []engine.Diagnostic{{
			Code:      engine.CodeRangeViolation,
			Severity:  engine.SeverityWarning,
			Component: "main.sensor",
			Port:      "raw",
			Tick:      3,
			Message:   "value 5000 outside [0, 4095]",
		}},
	})
}

func TestEventEncodingIsStable(t *testing.T) {
	first, err := sampleEvent().MarshalCanonical()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := sampleEvent().MarshalCanonical()
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestEventHash(t *testing.T) {
	h1, err := sampleEvent().Hash()
	require.NoError(t, err)
	h2, err := sampleEvent().Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	other := sampleEvent()
	other.Tick = 4
	h3, err := other.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestEventRoundTrip(t *testing.T) {
	ev := sampleEvent()
	ev.Values["main.pid.nan"] = expr.Number(math.NaN())
	ev.Values["main.pid.inf"] = expr.Number(math.Inf(-1))

	data, err := ev.MarshalCanonical()
	require.NoError(t, err)
	back, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, ev.RunToken, back.RunToken)
	assert.Equal(t, ev.Tick, back.Tick)
	assert.Equal(t, ev.Time, back.Time)
	assert.Equal(t, expr.Number(8.05), back.Values["main.pid.out"])
	assert.Equal(t, expr.Bool(true), back.Values["main.safety.armed"])
	assert.Equal(t, expr.String("ready"), back.Values["main.ui.label"])
	assert.True(t, math.IsNaN(back.Values["main.pid.nan"].Num))
	assert.True(t, math.IsInf(back.Values["main.pid.inf"].Num, -1))
	require.Len(t, back.Diagnostics, 1)
	assert.Equal(t, engine.CodeRangeViolation, back.Diagnostics[0].Code)
}

func TestFromResultMergesWarningsAndFaults(t *testing.T) {
	ev := FromResult(&engine.TickResult{
		Warnings: []engine.Diagnostic{{Code: engine.CodeRangeViolation, Severity: engine.SeverityWarning}},
		Faults:   []engine.Diagnostic{{Code: engine.CodeFault, Severity: engine.SeverityFault}},
	})
	require.Len(t, ev.Diagnostics, 2)
	assert.Equal(t, engine.SeverityWarning, ev.Diagnostics[0].Severity)
	assert.Equal(t, engine.SeverityFault, ev.Diagnostics[1].Severity)
}
