package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/roach88/hwml/internal/expr"
)

// Adapter connects the engine to hardware I/O. Channel keys are fully
// qualified port IDs ("main.sensor.raw"); the channel metadata from the
// document's hw blocks is delivered once at Connect so the adapter can
// map keys onto physical addresses.
//
// Implemented by drivers (production) and testutil.ScriptedAdapter
// (tests). All calls happen on the engine goroutine.
type Adapter interface {
	// Connect opens the device(s). channels maps each hardware-backed
	// port ID to the raw hw block from the document.
	Connect(ctx context.Context, channels map[string]any) error

	// ReadInputs samples every hardware-backed input for the tick.
	// Missing keys fall back to the input's declared default.
	ReadInputs(ctx context.Context) (map[string]expr.Value, error)

	// WriteOutputs drives every hardware-backed output with this
	// tick's committed values.
	WriteOutputs(ctx context.Context, values map[string]expr.Value) error

	Disconnect(ctx context.Context) error
}

// NopAdapter ignores hardware entirely: reads return nothing, writes
// vanish. Used for pure-simulation runs and documents with no hw blocks.
type NopAdapter struct{}

func (NopAdapter) Connect(context.Context, map[string]any) error { return nil }
func (NopAdapter) ReadInputs(context.Context) (map[string]expr.Value, error) {
	return nil, nil
}
func (NopAdapter) WriteOutputs(context.Context, map[string]expr.Value) error { return nil }
func (NopAdapter) Disconnect(context.Context) error                          { return nil }

// Recorder receives each tick's result after outputs are committed.
// Implemented by the SQLite trace store and by test recorders.
type Recorder interface {
	RecordTick(ctx context.Context, res *TickResult) error
}

// RunTokenGenerator generates unique run tokens for trace correlation.
// Implemented by UUIDv7Generator (production) and fixed-token test
// generators.
type RunTokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run tokens, so runs
// recorded into the same store sort by start time.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
