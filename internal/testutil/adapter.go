package testutil

import (
	"context"
	"sync"

	"github.com/roach88/hwml/internal/expr"
)

// ScriptedAdapter plays back a predetermined sequence of hardware input
// frames and records every output write.
//
// Each call to ReadInputs consumes the next frame; when the script runs
// out, the last frame repeats (a held sensor reading). This lets tests
// drive a multi-tick run with exact input values and then inspect what
// the engine wrote back.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex, though the engine only ever calls from its own goroutine.
type ScriptedAdapter struct {
	mu     sync.Mutex
	frames []map[string]expr.Value
	idx    int

	Connected bool
	Channels  map[string]any
	Writes    []map[string]expr.Value
}

// NewScriptedAdapter creates an adapter that serves frames in order.
// With no frames, ReadInputs returns nothing and inputs keep their
// defaults.
func NewScriptedAdapter(frames ...map[string]expr.Value) *ScriptedAdapter {
	return &ScriptedAdapter{frames: frames}
}

func (a *ScriptedAdapter) Connect(_ context.Context, channels map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Connected = true
	a.Channels = channels
	return nil
}

func (a *ScriptedAdapter) Disconnect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Connected = false
	return nil
}

func (a *ScriptedAdapter) ReadInputs(context.Context) (map[string]expr.Value, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.frames) == 0 {
		return nil, nil
	}
	frame := a.frames[a.idx]
	if a.idx < len(a.frames)-1 {
		a.idx++
	}
	return frame, nil
}

func (a *ScriptedAdapter) WriteOutputs(_ context.Context, values map[string]expr.Value) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := make(map[string]expr.Value, len(values))
	for k, v := range values {
		copied[k] = v
	}
	a.Writes = append(a.Writes, copied)
	return nil
}

// LastWrite returns the most recent output frame, or nil before any
// write.
func (a *ScriptedAdapter) LastWrite() map[string]expr.Value {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Writes) == 0 {
		return nil
	}
	return a.Writes[len(a.Writes)-1]
}
