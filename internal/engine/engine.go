package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/hwml/internal/document"
	"github.com/roach88/hwml/internal/expr"
	"github.com/roach88/hwml/internal/resolve"
)

// Engine drives a Program through discrete ticks.
//
// CRITICAL: all evaluation happens on the goroutine calling Step or Run.
// The engine is a single writer; determinism comes from fixed evaluation
// order, the logical clock, and prev snapshots committed only at tick
// boundaries.
//
// The engine never halts mid-run over a bad value. Range violations,
// non-finite results and explicit fault() calls become diagnostics on
// the tick result; a control loop keeps its timing even when a sensor
// goes bad. Only infrastructure failures (recorder, adapter connect)
// stop a run.
type Engine struct {
	prog     *Program
	adapter  Adapter
	recorder Recorder
	clock    *Clock
	log      *slog.Logger
	gen      RunTokenGenerator
	runToken string
	maxTicks int64

	state map[string]*instanceState
}

// instanceState holds one component instance's live values. prev is the
// committed snapshot of the previous tick's state nodes.
type instanceState struct {
	nodes   map[string]expr.Value
	inputs  map[string]expr.Value
	outputs map[string]expr.Value
	prev    map[string]expr.Value
}

// Option configures an Engine.
type Option func(*Engine)

// WithAdapter sets the hardware adapter. Default: NopAdapter.
func WithAdapter(a Adapter) Option { return func(e *Engine) { e.adapter = a } }

// WithRecorder sets the trace recorder. Default: no recording.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithTokenGenerator sets the run token generator. Tests pass a fixed
// generator so golden traces compare byte for byte.
func WithTokenGenerator(g RunTokenGenerator) Option { return func(e *Engine) { e.gen = g } }

// WithMaxTicks bounds a Run to n ticks. 0 means unbounded.
func WithMaxTicks(n int64) Option { return func(e *Engine) { e.maxTicks = n } }

// New creates an engine over a built program. State nodes start with
// their declared initial values already committed, so tick 0 formulas
// see meaningful prev values.
func New(prog *Program, opts ...Option) *Engine {
	e := &Engine{
		prog:    prog,
		adapter: NopAdapter{},
		log:     slog.Default(),
		gen:     UUIDv7Generator{},
		clock:   NewClock(prog.Config().Dt()),
		state:   make(map[string]*instanceState),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runToken = e.gen.Generate()

	for _, cc := range prog.Components {
		st := &instanceState{
			nodes:   make(map[string]expr.Value),
			inputs:  make(map[string]expr.Value),
			outputs: make(map[string]expr.Value),
			prev:    make(map[string]expr.Value),
		}
		for _, n := range cc.Comp.Def.Nodes {
			v := expr.Zero(n.Type)
			if n.Value != nil {
				v = *n.Value
			}
			st.nodes[n.Name] = v
			if n.State {
				st.prev[n.Name] = v
			}
		}
		for _, in := range cc.Comp.Def.Inputs {
			v := expr.Zero(in.Type)
			if in.Default != nil {
				v = in.Default.Coerce(in.Type)
			}
			st.inputs[in.Name] = v
		}
		for _, out := range cc.Comp.Def.Outputs {
			st.outputs[out.Name] = expr.Zero(out.Type)
		}
		e.state[cc.Comp.ID] = st
	}
	return e
}

// RunToken identifies this engine run in recorded traces.
func (e *Engine) RunToken() string { return e.runToken }

// Clock exposes the logical clock, read-only by convention.
func (e *Engine) Clock() *Clock { return e.clock }

// Value reads a live port value by fully qualified ID ("main.pid.drive").
// Reads between ticks observe the last completed tick.
func (e *Engine) Value(portID string) (expr.Value, bool) {
	comp, port := splitPort(portID)
	st := e.state[comp]
	if st == nil {
		return expr.Value{}, false
	}
	if v, ok := st.nodes[port]; ok {
		return v, true
	}
	if v, ok := st.outputs[port]; ok {
		return v, true
	}
	if v, ok := st.inputs[port]; ok {
		return v, true
	}
	return expr.Value{}, false
}

// TickResult is the committed outcome of one tick.
type TickResult struct {
	RunToken string
	Tick     int64
	Time     float64
	Dt       float64
	// Values snapshots every port after the tick, keyed by fully
	// qualified ID.
	Values   map[string]expr.Value
	Warnings []Diagnostic
	Faults   []Diagnostic
	Elapsed  time.Duration
}

func (r *TickResult) warn(d Diagnostic)  { r.Warnings = append(r.Warnings, d) }
func (r *TickResult) fault(d Diagnostic) { r.Faults = append(r.Faults, d) }

// Step evaluates exactly one tick: inject hardware inputs, evaluate
// components in system order applying constraints as values are
// produced, commit prev snapshots, emit outputs, advance the clock.
// The returned error is infrastructure-only (recorder failure).
func (e *Engine) Step(ctx context.Context) (*TickResult, error) {
	start := time.Now()
	res := &TickResult{
		RunToken: e.runToken,
		Tick:     e.clock.Tick(),
		Time:     e.clock.Time(),
		Dt:       e.clock.Dt(),
	}

	e.injectInputs(ctx, res)
	e.evaluateComponents(res)
	e.snapshotState()
	e.emitOutputs(ctx, res)

	res.Values = e.snapshotValues()
	res.Elapsed = time.Since(start)
	cfg := e.prog.Config()
	if cfg.MaxTickTime > 0 && res.Elapsed > cfg.MaxTickTime {
		d := Diagnostic{
			Code:     CodeTickOverrun,
			Severity: SeverityWarning,
			Tick:     res.Tick,
			Message:  fmt.Sprintf("tick took %v, budget %v", res.Elapsed, cfg.MaxTickTime),
		}
		res.warn(d)
		e.log.Warn("tick overrun", "tick", res.Tick, "elapsed", res.Elapsed, "budget", cfg.MaxTickTime)
	}

	var recErr error
	if e.recorder != nil {
		recErr = e.recorder.RecordTick(ctx, res)
	}

	e.clock.Advance(e.clock.Dt())
	return res, recErr
}

// Run ticks the engine at the configured rate until ctx is cancelled or
// maxTicks is reached. Cancellation is honored only at tick boundaries:
// a tick that has started always completes and commits.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.adapter.Connect(ctx, e.channels()); err != nil {
		return fmt.Errorf("adapter connect: %w", err)
	}
	defer e.adapter.Disconnect(context.Background())

	cfg := e.prog.Config()
	period := time.Duration(float64(time.Second) / cfg.TickRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	e.log.Info("run started", "run", e.runToken, "tickRate", cfg.TickRate, "simMode", cfg.SimMode)

	last := time.Now()
	var ticks int64
	for {
		select {
		case <-ctx.Done():
			e.log.Info("run stopped", "run", e.runToken, "ticks", ticks)
			return nil
		case now := <-ticker.C:
			if cfg.MeasuredDt && ticks > 0 {
				e.clock.SetDt(now.Sub(last))
			}
			last = now
			if _, err := e.Step(ctx); err != nil {
				return err
			}
			ticks++
			if e.maxTicks > 0 && ticks >= e.maxTicks {
				e.log.Info("run complete", "run", e.runToken, "ticks", ticks)
				return nil
			}
		}
	}
}

// channels merges the hardware-backed input and output channel maps for
// the adapter.
func (e *Engine) channels() map[string]any {
	m := make(map[string]any, len(e.prog.HWInputs)+len(e.prog.HWOutputs))
	for k, v := range e.prog.HWInputs {
		m[k] = v
	}
	for k, v := range e.prog.HWOutputs {
		m[k] = v
	}
	return m
}

// injectInputs samples the adapter and stores hardware-backed input
// values. A failed read keeps the previous values and records a fault.
func (e *Engine) injectInputs(ctx context.Context, res *TickResult) {
	if len(e.prog.HWInputs) == 0 {
		return
	}
	vals, err := e.adapter.ReadInputs(ctx)
	if err != nil {
		res.fault(Diagnostic{
			Code:     CodeAdapterError,
			Severity: SeverityFault,
			Tick:     res.Tick,
			Message:  "input read failed: " + err.Error(),
		})
		return
	}
	for _, cc := range e.prog.Components {
		st := e.state[cc.Comp.ID]
		for _, in := range cc.Comp.Def.Inputs {
			if in.HW == nil {
				continue
			}
			v, ok := vals[cc.Comp.ID+"."+in.Name]
			if !ok {
				continue
			}
			st.inputs[in.Name] = e.constrain(res, cc.Comp.ID, in.Name, v, in.Type, in.Range, in.Clamp)
		}
	}
}

// evaluateComponents runs every component in system order: pull wired
// inputs, evaluate nodes in node order, refresh outputs. Constraints
// apply as each value is produced, so downstream readers always see
// constrained values.
func (e *Engine) evaluateComponents(res *TickResult) {
	for _, cc := range e.prog.Components {
		st := e.state[cc.Comp.ID]

		for _, in := range cc.Comp.Def.Inputs {
			f := cc.Feeds[in.Name]
			if f == nil {
				continue
			}
			v := e.readTarget(f.Source)
			if f.Transform != nil {
				v = e.applyTransform(res, cc.Comp.ID, in.Name, f.Transform, v)
			}
			st.inputs[in.Name] = e.constrain(res, cc.Comp.ID, in.Name, v, in.Type, in.Range, in.Clamp)
		}

		env := evalEnv{e: e, cc: cc}
		for _, n := range cc.NodeOrder {
			if n.Formula == nil {
				// Value-only node. Its constant still goes through the
				// declared range policy every tick.
				st.nodes[n.Name] = e.constrain(res, cc.Comp.ID, n.Name, st.nodes[n.Name], n.Type, n.Range, n.Clamp)
				continue
			}
			v, err := expr.Eval(n.Formula.Root, env, e.prog.Funcs)
			for _, msg := range e.prog.faults.drain() {
				res.fault(Diagnostic{
					Code:      CodeFault,
					Severity:  SeverityFault,
					Component: cc.Comp.ID,
					Port:      n.Name,
					Tick:      res.Tick,
					Message:   msg,
				})
			}
			if err != nil {
				res.fault(Diagnostic{
					Code:      CodeEvalError,
					Severity:  SeverityFault,
					Component: cc.Comp.ID,
					Port:      n.Name,
					Tick:      res.Tick,
					Message:   err.Error(),
				})
				v = expr.Number(math.NaN())
			}
			st.nodes[n.Name] = e.constrain(res, cc.Comp.ID, n.Name, v, n.Type, n.Range, n.Clamp)
		}

		for _, out := range cc.Comp.Def.Outputs {
			v := st.nodes[out.From]
			st.outputs[out.Name] = e.constrain(res, cc.Comp.ID, out.Name, v, out.Type, out.Range, out.Clamp)
		}
	}
}

// constrain applies the declared type coercion, range policy and
// non-finite policy to a freshly produced value.
func (e *Engine) constrain(res *TickResult, comp, port string, v expr.Value, typ string, rng *document.Range, clamp bool) expr.Value {
	v = v.Coerce(typ)

	if v.Kind == expr.KindNumber && !v.IsFinite() && !e.prog.Config().AllowNaN {
		e.prog.faults.trip()
		res.fault(Diagnostic{
			Code:      CodeNonFinite,
			Severity:  SeverityFault,
			Component: comp,
			Port:      port,
			Tick:      res.Tick,
			Message:   fmt.Sprintf("non-finite value %s", v.String()),
		})
	}

	if rng != nil && v.Kind == expr.KindNumber && !rng.Contains(v.Num) {
		if clamp {
			v = expr.Number(rng.ClampValue(v.Num))
		} else {
			res.warn(Diagnostic{
				Code:      CodeRangeViolation,
				Severity:  SeverityWarning,
				Component: comp,
				Port:      port,
				Tick:      res.Tick,
				Message:   fmt.Sprintf("value %s outside [%g, %g]", v.String(), rng.Lo, rng.Hi),
			})
		}
	}
	return v
}

// applyTransform evaluates a wire transform over the in-flight value.
func (e *Engine) applyTransform(res *TickResult, comp, port string, t *expr.Compiled, v expr.Value) expr.Value {
	out, err := expr.Eval(t.Root, transformEnv{x: v, clock: e.clock}, e.prog.Funcs)
	if err != nil {
		res.fault(Diagnostic{
			Code:      CodeEvalError,
			Severity:  SeverityFault,
			Component: comp,
			Port:      port,
			Tick:      res.Tick,
			Message:   "transform: " + err.Error(),
		})
		return expr.Number(math.NaN())
	}
	return out
}

// snapshotState commits this tick's state node values into the prev
// slots, all at once, after every component has evaluated.
func (e *Engine) snapshotState() {
	for _, cc := range e.prog.Components {
		st := e.state[cc.Comp.ID]
		for _, n := range cc.Comp.Def.Nodes {
			if n.State {
				st.prev[n.Name] = st.nodes[n.Name]
			}
		}
	}
}

// emitOutputs drives hardware-backed outputs through the adapter.
func (e *Engine) emitOutputs(ctx context.Context, res *TickResult) {
	if len(e.prog.HWOutputs) == 0 {
		return
	}
	vals := make(map[string]expr.Value, len(e.prog.HWOutputs))
	for _, cc := range e.prog.Components {
		st := e.state[cc.Comp.ID]
		for _, out := range cc.Comp.Def.Outputs {
			key := cc.Comp.ID + "." + out.Name
			if _, hw := e.prog.HWOutputs[key]; hw {
				vals[key] = st.outputs[out.Name]
			}
		}
	}
	if err := e.adapter.WriteOutputs(ctx, vals); err != nil {
		res.fault(Diagnostic{
			Code:     CodeAdapterError,
			Severity: SeverityFault,
			Tick:     res.Tick,
			Message:  "output write failed: " + err.Error(),
		})
	}
}

// snapshotValues copies every live port value for the tick result.
func (e *Engine) snapshotValues() map[string]expr.Value {
	out := make(map[string]expr.Value)
	for _, cc := range e.prog.Components {
		st := e.state[cc.Comp.ID]
		id := cc.Comp.ID
		for k, v := range st.inputs {
			out[id+"."+k] = v
		}
		for k, v := range st.nodes {
			out[id+"."+k] = v
		}
		for k, v := range st.outputs {
			out[id+"."+k] = v
		}
	}
	return out
}

// evalEnv resolves formula references against live engine state through
// the program's per-instance binding table.
type evalEnv struct {
	e  *Engine
	cc *Compiled
}

func (env evalEnv) Value(ref *expr.Ref) (expr.Value, error) {
	t, ok := env.cc.Bindings[ref]
	if !ok {
		return expr.Value{}, fmt.Errorf("unbound reference %s", ref.String())
	}
	e := env.e
	switch t.Kind {
	case resolve.TargetBuiltin:
		switch t.Name {
		case "dt":
			return expr.Number(e.clock.Dt()), nil
		case "time":
			return expr.Number(e.clock.Time()), nil
		case "tick":
			return expr.Number(float64(e.clock.Tick())), nil
		}
	case resolve.TargetParam:
		return t.Module.Params[t.Name], nil
	case resolve.TargetNode:
		st := e.state[t.Comp.ID]
		if ref.Prev {
			return st.prev[t.Name], nil
		}
		return st.nodes[t.Name], nil
	case resolve.TargetInput:
		return e.state[t.Comp.ID].inputs[t.Name], nil
	case resolve.TargetOutput:
		return e.state[t.Comp.ID].outputs[t.Name], nil
	}
	return expr.Value{}, fmt.Errorf("unresolvable reference %s", ref.String())
}

// readTarget reads a feed source's current value.
func (e *Engine) readTarget(t resolve.Target) expr.Value {
	st := e.state[t.Comp.ID]
	switch t.Kind {
	case resolve.TargetOutput:
		return st.outputs[t.Name]
	case resolve.TargetNode:
		return st.nodes[t.Name]
	case resolve.TargetInput:
		return st.inputs[t.Name]
	}
	return expr.Value{}
}

// transformEnv is the minimal scope of a wire transform: the wire value
// as x, plus the clock builtins.
type transformEnv struct {
	x     expr.Value
	clock *Clock
}

func (env transformEnv) Value(ref *expr.Ref) (expr.Value, error) {
	if ref.Prev || len(ref.Parts) != 1 {
		return expr.Value{}, fmt.Errorf("reference %s not in transform scope", ref.String())
	}
	switch ref.Parts[0] {
	case "x":
		return env.x, nil
	case "dt":
		return expr.Number(env.clock.Dt()), nil
	case "time":
		return expr.Number(env.clock.Time()), nil
	case "tick":
		return expr.Number(float64(env.clock.Tick())), nil
	}
	return expr.Value{}, fmt.Errorf("reference %s not in transform scope", ref.String())
}

func splitPort(portID string) (comp, port string) {
	i := len(portID) - 1
	for ; i >= 0; i-- {
		if portID[i] == '.' {
			return portID[:i], portID[i+1:]
		}
	}
	return "", portID
}
