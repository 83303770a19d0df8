// Package harness runs declarative conformance scenarios against the
// tick engine. A scenario carries its documents inline, scripts the
// hardware adapter, and asserts over the recorded trace; goldens pin the
// full canonical trace byte for byte.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/roach88/hwml/internal/engine"
	"github.com/roach88/hwml/internal/expr"
	"github.com/roach88/hwml/internal/testutil"
	"github.com/roach88/hwml/internal/trace"
)

// Result is the outcome of one scenario run.
type Result struct {
	// Events is the recorded trace, one event per tick.
	Events []*trace.Event

	// BuildDiagnostics are load-time findings (ambiguous fan-in and the
	// like), raised before the first tick.
	BuildDiagnostics []engine.Diagnostic

	// Errors lists failed assertions. Empty means the scenario passed.
	Errors []string
}

// Passed reports whether every assertion held.
func (r *Result) Passed() bool { return len(r.Errors) == 0 }

// AddError records an assertion failure.
func (r *Result) AddError(msg string) { r.Errors = append(r.Errors, msg) }

// Run executes a scenario: load the documents, build the program, step
// the engine the configured number of ticks against the scripted
// adapter, then evaluate assertions over the trace.
func Run(scenario *Scenario) (*Result, error) {
	doc, err := testutil.TryLoadDocument(scenario.Entry, scenario.Documents)
	if err != nil {
		return nil, fmt.Errorf("loading scenario documents: %w", err)
	}
	prog, err := engine.Build(doc)
	if err != nil {
		return nil, fmt.Errorf("building scenario program: %w", err)
	}

	frames := make([]map[string]expr.Value, len(scenario.HWFrames))
	for i, frame := range scenario.HWFrames {
		frames[i] = make(map[string]expr.Value, len(frame))
		for id, raw := range frame {
			v, err := toValue(raw)
			if err != nil {
				return nil, fmt.Errorf("hw_frames[%d].%s: %w", i, id, err)
			}
			frames[i][id] = v
		}
	}

	e := engine.New(prog,
		engine.WithAdapter(testutil.NewScriptedAdapter(frames...)),
		engine.WithTokenGenerator(testutil.NewFixedTokenGenerator(scenario.RunToken)),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	result := &Result{BuildDiagnostics: prog.Diagnostics}
	ctx := context.Background()
	for i := 0; i < scenario.Ticks; i++ {
		res, err := e.Step(ctx)
		if err != nil {
			return nil, fmt.Errorf("tick %d: %w", i, err)
		}
		result.Events = append(result.Events, trace.FromResult(res))
	}

	for i, a := range scenario.Assertions {
		if msg := evaluateAssertion(result, &a); msg != "" {
			result.AddError(fmt.Sprintf("assertions[%d]: %s", i, msg))
		}
	}
	return result, nil
}

func evaluateAssertion(r *Result, a *Assertion) string {
	switch a.Type {
	case AssertValue:
		return assertValue(r, a)
	case AssertDiagnostic:
		return assertDiagnostic(r, a)
	case AssertNoDiagnostics:
		return assertNoDiagnostics(r)
	}
	return fmt.Sprintf("unknown assertion type %q", a.Type)
}

func assertValue(r *Result, a *Assertion) string {
	if len(r.Events) == 0 {
		return "no ticks recorded"
	}
	ev := r.Events[len(r.Events)-1]
	if a.Tick != nil {
		ev = nil
		for _, e := range r.Events {
			if e.Tick == *a.Tick {
				ev = e
				break
			}
		}
		if ev == nil {
			return fmt.Sprintf("tick %d not in trace", *a.Tick)
		}
	}

	got, ok := ev.Values[a.Port]
	if !ok {
		return fmt.Sprintf("port %s not in tick %d values", a.Port, ev.Tick)
	}
	want, err := toValue(a.Equals)
	if err != nil {
		return fmt.Sprintf("port %s: %v", a.Port, err)
	}

	if want.Kind == expr.KindNumber && got.Kind == expr.KindNumber {
		if math.IsNaN(want.Num) && math.IsNaN(got.Num) {
			return ""
		}
		if math.Abs(got.Num-want.Num) <= a.Tolerance {
			return ""
		}
		return fmt.Sprintf("port %s at tick %d: got %s, want %s (tolerance %g)",
			a.Port, ev.Tick, got.String(), want.String(), a.Tolerance)
	}
	if got.Equal(want) {
		return ""
	}
	return fmt.Sprintf("port %s at tick %d: got %s, want %s", a.Port, ev.Tick, got.String(), want.String())
}

func assertDiagnostic(r *Result, a *Assertion) string {
	matches := 0
	for _, d := range r.allDiagnostics() {
		if string(d.Code) != a.Code {
			continue
		}
		if a.Component != "" && d.Component != a.Component {
			continue
		}
		if a.Port != "" && d.Port != a.Port {
			continue
		}
		matches++
	}
	if a.Count != nil {
		if matches != *a.Count {
			return fmt.Sprintf("diagnostic %s: got %d matches, want %d", a.Code, matches, *a.Count)
		}
		return ""
	}
	if matches == 0 {
		return fmt.Sprintf("diagnostic %s: no match in trace", a.Code)
	}
	return ""
}

func assertNoDiagnostics(r *Result) string {
	diags := r.allDiagnostics()
	if len(diags) > 0 {
		return fmt.Sprintf("expected a clean run, found %d diagnostics (first: %s)", len(diags), diags[0].String())
	}
	return ""
}

func (r *Result) allDiagnostics() []engine.Diagnostic {
	out := append([]engine.Diagnostic{}, r.BuildDiagnostics...)
	for _, ev := range r.Events {
		out = append(out, ev.Diagnostics...)
	}
	return out
}

// toValue converts a YAML-parsed scalar to a runtime value.
func toValue(raw any) (expr.Value, error) {
	switch v := raw.(type) {
	case float64:
		return expr.Number(v), nil
	case int:
		return expr.Number(float64(v)), nil
	case int64:
		return expr.Number(float64(v)), nil
	case bool:
		return expr.Bool(v), nil
	case string:
		return expr.String(v), nil
	}
	return expr.Value{}, fmt.Errorf("unsupported value type %T", raw)
}
