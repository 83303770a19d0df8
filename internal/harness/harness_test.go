package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario("testdata/" + name + ".yaml")
	require.NoError(t, err)
	return s
}

func TestCounterScenarioMatchesGolden(t *testing.T) {
	res, err := RunWithGolden(t, load(t, "counter"))
	require.NoError(t, err)
	assert.True(t, res.Passed(), "assertion errors: %v", res.Errors)
	assert.Len(t, res.Events, 3)
}

func TestRangeWarningScenarioMatchesGolden(t *testing.T) {
	res, err := RunWithGolden(t, load(t, "range-warning"))
	require.NoError(t, err)
	assert.True(t, res.Passed(), "assertion errors: %v", res.Errors)
}

func TestWireTransformScenario(t *testing.T) {
	res, err := Run(load(t, "wire-transform"))
	require.NoError(t, err)
	assert.True(t, res.Passed(), "assertion errors: %v", res.Errors)
}

func TestHWInjectionScenario(t *testing.T) {
	res, err := Run(load(t, "hw-injection"))
	require.NoError(t, err)
	assert.True(t, res.Passed(), "assertion errors: %v", res.Errors)
}

func TestFailedValueAssertionIsReported(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: failing
description: A deliberately wrong expectation.
entry: main
ticks: 1
documents:
  main: '{"c": {"output": "2"}}'
assertions:
  - type: value
    port: main.c.result
    equals: 3
`))
	require.NoError(t, err)

	res, err := Run(s)
	require.NoError(t, err)
	assert.False(t, res.Passed())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "got 2, want 3")
}

func TestDiagnosticAssertionSeesBuildFindings(t *testing.T) {
	// Two feeders for the same input raise AMBIGUOUS_FAN_IN at build
	// time, before the first tick.
	s, err := ParseScenario([]byte(`
name: fan-in
description: Build diagnostics count toward diagnostic assertions.
entry: main
ticks: 1
documents:
  main: |
    {
      "_wiring": [
        {"from": "a.result", "to": "sink.v"},
        {"from": "b.result", "to": "sink.v"}
      ],
      "a": {"output": "1"},
      "b": {"output": "2"},
      "sink": {
        "inputs": {"v": {}},
        "nodes": {"echo": "v"},
        "outputs": {"out": {"from": "echo"}}
      }
    }
assertions:
  - type: diagnostic
    code: AMBIGUOUS_FAN_IN
    count: 1
  - type: value
    port: main.sink.v
    equals: 2
`))
	require.NoError(t, err)

	res, err := Run(s)
	require.NoError(t, err)
	assert.True(t, res.Passed(), "assertion errors: %v", res.Errors)
}

func TestScenarioValidation(t *testing.T) {
	for name, src := range map[string]string{
		"missing name": `
description: d
entry: main
ticks: 1
documents: {main: "{}"}
`,
		"missing entry": `
name: n
description: d
ticks: 1
documents: {main: "{}"}
`,
		"entry not among documents": `
name: n
description: d
entry: other
ticks: 1
documents: {main: "{}"}
`,
		"zero ticks": `
name: n
description: d
entry: main
documents: {main: "{}"}
`,
		"value assertion without port": `
name: n
description: d
entry: main
ticks: 1
documents: {main: "{}"}
assertions:
  - type: value
    equals: 1
`,
		"unknown assertion type": `
name: n
description: d
entry: main
ticks: 1
documents: {main: "{}"}
assertions:
  - type: sideways
`,
	} {
		_, err := ParseScenario([]byte(src))
		assert.Error(t, err, name)
	}
}

func TestScenarioRejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: n
description: d
entry: main
ticks: 1
documents: {main: "{}"}
assertion:
  - type: no_diagnostics
`))
	require.Error(t, err)
}

func TestScenarioDefaultRunToken(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: n
description: d
entry: main
ticks: 1
documents:
  main: '{"c": {"output": "1"}}'
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultRunToken, s.RunToken)

	res, err := Run(s)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, DefaultRunToken, res.Events[0].RunToken)
}
