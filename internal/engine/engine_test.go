package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hwml/internal/expr"
	"github.com/roach88/hwml/internal/testutil"
)

func newEngine(t *testing.T, entry string, files map[string]string, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithTokenGenerator(testutil.NewFixedTokenGenerator("run-test"))}, opts...)
	return New(build(t, entry, files), opts...)
}

func num(t *testing.T, e *Engine, portID string) float64 {
	t.Helper()
	v, ok := e.Value(portID)
	require.True(t, ok, portID)
	require.Equal(t, expr.KindNumber, v.Kind, portID)
	return v.Num
}

func TestLoadCellForce(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"loadcell": {
			"outputs": {"force": {"from": "force"}},
			"nodes": {
				"rawAdc": 1000,
				"tare": 892,
				"calibration": 0.245,
				"force": "max(0, (rawAdc - tare) * calibration)"
			}
		}
	}`})

	_, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 26.46, num(t, e, "main.loadcell.force"), 1e-12)
}

const pidSrc = `{
	"_config": {"tickRate": 10},
	"setpoint": {"output": "50"},
	"sensor": {"output": "40"},
	"pid": {
		"inputs": {
			"sp": {"type": "float", "source": "setpoint.result"},
			"pv": {"type": "float", "source": "sensor.result"}
		},
		"outputs": {"drive": {"from": "out"}},
		"nodes": {
			"kp": 0.8,
			"ki": 0.05,
			"kd": 0.02,
			"error": "sp - pv",
			"integral": {"formula": "prev.integral + error * dt", "state": true, "value": 0},
			"lastError": {"formula": "error", "state": true},
			"derivative": "tick == 0 ? 0 : (error - prev.lastError) / dt",
			"out": "kp * error + ki * prev.integral + kd * derivative"
		}
	}
}`

func TestPIDFirstTick(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": pidSrc})

	res, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Tick)
	assert.Equal(t, 0.0, res.Time)

	// kp*10 + ki*0 + kd*0, with prev.integral and derivative both zero
	// at tick 0.
	assert.Equal(t, 8.0, num(t, e, "main.pid.out"))
	assert.Equal(t, 8.0, num(t, e, "main.pid.drive"))
	assert.Equal(t, 0.0, num(t, e, "main.pid.derivative"))
}

func TestPrevReadsCommittedState(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": pidSrc})
	ctx := context.Background()

	_, err := e.Step(ctx)
	require.NoError(t, err)
	// Committed at end of tick 0: integral = 0 + 10*0.1 = 1.
	assert.InDelta(t, 1.0, num(t, e, "main.pid.integral"), 1e-12)

	res, err := e.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Tick)
	// Tick 1 reads prev.integral = 1, prev.lastError = 10.
	assert.InDelta(t, 8.05, num(t, e, "main.pid.out"), 1e-12)
	assert.Equal(t, 0.0, num(t, e, "main.pid.derivative"))
	assert.InDelta(t, 2.0, num(t, e, "main.pid.integral"), 1e-12)
}

func TestStateInitialization(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"c": {
			"outputs": {"out": {"from": "seeded"}},
			"nodes": {
				"seeded": {"formula": "prev.seeded + 1", "state": true, "value": 10},
				"zeroed": {"formula": "prev.zeroed + 1", "state": true},
				"flag": {"formula": "prev.flag || tick > 0", "state": true, "type": "bool"}
			}
		}
	}`})

	_, err := e.Step(context.Background())
	require.NoError(t, err)
	// prev slots at tick 0: declared value, else the type's zero.
	assert.Equal(t, 11.0, num(t, e, "main.c.seeded"))
	assert.Equal(t, 1.0, num(t, e, "main.c.zeroed"))
	v, _ := e.Value("main.c.flag")
	assert.Equal(t, expr.Bool(false), v)
}

func TestDeterminism(t *testing.T) {
	files := map[string]string{"main": pidSrc}
	a := newEngine(t, "main", files)
	b := newEngine(t, "main", files)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		ra, err := a.Step(ctx)
		require.NoError(t, err)
		rb, err := b.Step(ctx)
		require.NoError(t, err)
		assert.Equal(t, ra.Values, rb.Values, "tick %d", i)
	}
}

func TestSameTickPropagation(t *testing.T) {
	// A three-stage chain settles within a single tick: wire-fed inputs
	// read the upstream value computed this tick, not last tick's.
	e := newEngine(t, "main", map[string]string{"main": `{
		"stage3": {"inputs": {"x": {"source": "stage2.y"}}, "output": "x + 1"},
		"stage2": {
			"inputs": {"x": {"source": "stage1.result"}},
			"outputs": {"y": {"from": "n"}},
			"nodes": {"n": "x + 1"}
		},
		"stage1": {"output": "tick"}
	}`})
	ctx := context.Background()

	_, err := e.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, num(t, e, "main.stage3.result"))

	_, err = e.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, num(t, e, "main.stage3.result"))
}

func TestRangeWithoutClampWarns(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"adc": {
			"outputs": {"out": {"from": "counts"}},
			"nodes": {"counts": {"formula": "5000", "range": [0, 4095]}}
		}
	}`})

	res, err := e.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	d := res.Warnings[0]
	assert.Equal(t, CodeRangeViolation, d.Code)
	assert.Equal(t, "main.adc", d.Component)
	assert.Equal(t, "counts", d.Port)
	assert.Equal(t, int64(0), d.Tick)
	// The value is reported, not altered.
	assert.Equal(t, 5000.0, num(t, e, "main.adc.counts"))
}

func TestClampSaturates(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"adc": {
			"outputs": {"out": {"from": "counts"}},
			"nodes": {
				"counts": {"formula": "5000", "range": [0, 4095], "clamp": true},
				"low": {"formula": "0 - 3", "range": [0, 10], "clamp": true}
			}
		}
	}`})

	res, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 4095.0, num(t, e, "main.adc.counts"))
	assert.Equal(t, 0.0, num(t, e, "main.adc.low"))
}

func TestDivisionByZeroPropagatesByDefault(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"c": {
			"outputs": {"out": {"from": "q"}},
			"nodes": {"a": 1, "b": 0, "q": "a / b", "nan": "b / b"}
		}
	}`})

	res, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Faults)
	assert.True(t, math.IsInf(num(t, e, "main.c.q"), 1))
	assert.True(t, math.IsNaN(num(t, e, "main.c.nan")))
}

func TestNonFiniteFaultWhenNaNDisallowed(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"_config": {"allowNaN": false},
		"c": {
			"outputs": {"out": {"from": "q"}},
			"nodes": {"a": 1, "b": 0, "q": "a / b"}
		}
	}`})
	ctx := context.Background()

	res, err := e.Step(ctx)
	require.NoError(t, err)
	// q and the out output both surface the fault; the value still
	// propagates and the engine keeps ticking.
	require.NotEmpty(t, res.Faults)
	assert.Equal(t, CodeNonFinite, res.Faults[0].Code)
	assert.Equal(t, "main.c", res.Faults[0].Component)
	assert.True(t, math.IsInf(num(t, e, "main.c.q"), 1))

	_, err = e.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Clock().Tick())
}

func TestFaultBuiltin(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"guard": {
			"inputs": {"temp": {"type": "float", "default": 120}},
			"outputs": {"safe": {"from": "check"}},
			"nodes": {"check": "temp > 100 ? fault('overtemp') : temp"}
		}
	}`})

	res, err := e.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Faults, 1)
	d := res.Faults[0]
	assert.Equal(t, CodeFault, d.Code)
	assert.Equal(t, "main.guard", d.Component)
	assert.Equal(t, "check", d.Port)
	assert.Equal(t, "overtemp", d.Message)
	assert.True(t, math.IsNaN(num(t, e, "main.guard.check")))
}

func TestFaultBuiltinNotTakenBranch(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"guard": {
			"inputs": {"temp": {"type": "float", "default": 80}},
			"outputs": {"safe": {"from": "check"}},
			"nodes": {"check": "temp > 100 ? fault('overtemp') : temp"}
		}
	}`})

	res, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Faults)
	assert.Equal(t, 80.0, num(t, e, "main.guard.check"))
}

func TestFaultBuiltinReadsLatch(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"safety": {
			"outputs": {"ok": {"from": "check"}},
			"nodes": {"check": "fault() ? 0 : 1"}
		}
	}`})

	// Nothing has raised, so the latch is clear and no diagnostics fire.
	res, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Faults)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1.0, num(t, e, "main.safety.check"))
}

func TestFaultLatchSticky(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"guard": {
			"inputs": {"temp": {"type": "float", "default": 120}},
			"outputs": {"safe": {"from": "check"}},
			"nodes": {"check": "temp > 100 ? fault('overtemp') : temp"}
		},
		"interlock": {
			"outputs": {"enable": {"from": "gate"}},
			"nodes": {"gate": "fault() ? 0 : 1"}
		}
	}`})
	ctx := context.Background()

	_, err := e.Step(ctx)
	require.NoError(t, err)

	// Once anything raised, fault() stays true for the rest of the run.
	_, err = e.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, num(t, e, "main.interlock.gate"))
}

func TestNonFiniteEscalationLatchesFault(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"_config": {"allowNaN": false},
		"c": {
			"outputs": {"out": {"from": "q"}},
			"nodes": {"a": 1, "b": 0, "q": "a / b"}
		},
		"interlock": {
			"outputs": {"enable": {"from": "gate"}},
			"nodes": {"gate": "fault() ? 0 : 1"}
		}
	}`})
	ctx := context.Background()

	res, err := e.Step(ctx)
	require.NoError(t, err)
	// Escalation surfaces as NON_FINITE only; the latch carries no
	// message of its own.
	require.NotEmpty(t, res.Faults)
	for _, d := range res.Faults {
		assert.Equal(t, CodeNonFinite, d.Code)
	}

	_, err = e.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, num(t, e, "main.interlock.gate"))
}

func TestConstantNodeRangeWarning(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"dac": {
			"nodes": {"level": {"value": 5000, "range": [0, 4095]}}
		}
	}`})

	res, err := e.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	d := res.Warnings[0]
	assert.Equal(t, CodeRangeViolation, d.Code)
	assert.Equal(t, "main.dac", d.Component)
	assert.Equal(t, "level", d.Port)
	assert.Equal(t, 5000.0, num(t, e, "main.dac.level"))
}

func TestConstantNodeClamp(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"dac": {
			"nodes": {"level": {"value": 5000, "range": [0, 4095], "clamp": true}}
		}
	}`})

	res, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 4095.0, num(t, e, "main.dac.level"))
}

func TestHardwareRoundTrip(t *testing.T) {
	adapter := testutil.NewScriptedAdapter(
		map[string]expr.Value{"main.scale.rawAdc": expr.Number(1000)},
		map[string]expr.Value{"main.scale.rawAdc": expr.Number(1200)},
	)
	e := newEngine(t, "main", map[string]string{"main": `{
		"scale": {
			"inputs": {"rawAdc": {"type": "float", "hw": {"channel": 0}}},
			"outputs": {"force": {"from": "f", "hw": {"channel": 4}}},
			"nodes": {"f": "(rawAdc - 892) * 0.245"}
		}
	}`}, WithAdapter(adapter))
	ctx := context.Background()

	_, err := e.Step(ctx)
	require.NoError(t, err)
	require.Len(t, adapter.Writes, 1)
	assert.InDelta(t, 26.46, adapter.LastWrite()["main.scale.force"].Num, 1e-12)

	_, err = e.Step(ctx)
	require.NoError(t, err)
	assert.InDelta(t, (1200-892)*0.245, adapter.LastWrite()["main.scale.force"].Num, 1e-12)
}

func TestWireTransformApplied(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"_wiring": [{"from": "src.result", "to": "sink.v", "transform": "x * 2 + 1"}],
		"src": {"output": "3"},
		"sink": {"inputs": {"v": {"type": "float"}}, "output": "v"}
	}`})

	_, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7.0, num(t, e, "main.sink.result"))
}

func TestTickOverrunWarns(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"_config": {"maxTickTime": 0.000001},
		"busy": {"output": "max(1, 2, 3, 4, 5, 6, 7, 8)"}
	}`})

	res, err := e.Step(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, CodeTickOverrun, res.Warnings[len(res.Warnings)-1].Code)
}

func TestClockAdvances(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"_config": {"tickRate": 10},
		"t": {"output": "time"}
	}`})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := e.Step(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(i), res.Tick)
		assert.InDelta(t, 0.1*float64(i), res.Time, 1e-12)
		assert.InDelta(t, 0.1*float64(i), num(t, e, "main.t.result"), 1e-12)
	}
	assert.Equal(t, int64(3), e.Clock().Tick())
}

type collectRecorder struct {
	results []*TickResult
}

func (r *collectRecorder) RecordTick(_ context.Context, res *TickResult) error {
	r.results = append(r.results, res)
	return nil
}

func TestRunStopsAfterMaxTicks(t *testing.T) {
	rec := &collectRecorder{}
	e := newEngine(t, "main", map[string]string{"main": `{
		"_config": {"tickRate": 1000},
		"c": {"output": "tick"}
	}`}, WithRecorder(rec), WithMaxTicks(3))

	err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.results, 3)
	assert.Equal(t, int64(0), rec.results[0].Tick)
	assert.Equal(t, int64(2), rec.results[2].Tick)
	assert.Equal(t, "run-test", rec.results[0].RunToken)
}

func TestRunHonorsCancelAtTickBoundary(t *testing.T) {
	rec := &collectRecorder{}
	e := newEngine(t, "main", map[string]string{"main": `{
		"_config": {"tickRate": 1000},
		"c": {"output": "tick"}
	}`}, WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop on cancel")
	}
	// Every recorded tick is complete; ticks are contiguous from 0.
	for i, res := range rec.results {
		assert.Equal(t, int64(i), res.Tick)
	}
}

func TestSimBindingFeedsInput(t *testing.T) {
	e := newEngine(t, "main", map[string]string{"main": `{
		"_config": {"simMode": true, "simBindings": {"ctl.pv": "plant.result"}},
		"sensor": {"output": "40"},
		"plant": {"output": "75"},
		"ctl": {
			"inputs": {"pv": {"type": "float", "source": "sensor.result"}},
			"output": "pv"
		}
	}`})

	_, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 75.0, num(t, e, "main.ctl.result"))
}
