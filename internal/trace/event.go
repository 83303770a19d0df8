// Package trace defines the canonical tick-trace encoding: one event per
// tick, serialized to reproducible JSON and content-addressed by hash.
// Two runs of the same document with the same inputs produce
// byte-identical traces, which is what makes goldens and replay
// verification possible.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/roach88/hwml/internal/engine"
	"github.com/roach88/hwml/internal/expr"
)

// DomainTick is the domain prefix for tick event hashing. The version
// suffix allows the encoding to migrate without colliding with old
// hashes.
const DomainTick = "hwml/tick/v1"

// Event is one recorded tick.
type Event struct {
	RunToken string
	Tick     int64
	Time     float64
	Dt       float64
	// Values holds every port value after the tick, keyed by fully
	// qualified ID.
	Values      map[string]expr.Value
	Diagnostics []engine.Diagnostic
}

// FromResult converts an engine tick result into a trace event. Warnings
// and faults merge into one diagnostic list; severity keeps them apart.
func FromResult(res *engine.TickResult) *Event {
	ev := &Event{
		RunToken: res.RunToken,
		Tick:     res.Tick,
		Time:     res.Time,
		Dt:       res.Dt,
		Values:   res.Values,
	}
	ev.Diagnostics = append(ev.Diagnostics, res.Warnings...)
	ev.Diagnostics = append(ev.Diagnostics, res.Faults...)
	return ev
}

// MarshalCanonical encodes the event as canonical JSON.
func (e *Event) MarshalCanonical() ([]byte, error) {
	values := make(map[string]any, len(e.Values))
	for id, v := range e.Values {
		values[id] = valueTree(v)
	}
	diags := make([]any, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		diags[i] = map[string]any{
			"code":      string(d.Code),
			"severity":  string(d.Severity),
			"component": d.Component,
			"port":      d.Port,
			"tick":      d.Tick,
			"message":   d.Message,
		}
	}
	return marshalCanonical(map[string]any{
		"run":         e.RunToken,
		"tick":        e.Tick,
		"time":        e.Time,
		"dt":          e.Dt,
		"values":      values,
		"diagnostics": diags,
	})
}

// Hash returns the content-addressed identity of the event:
// SHA256(domain + 0x00 + canonical JSON), hex encoded.
func (e *Event) Hash() (string, error) {
	canonical, err := e.MarshalCanonical()
	if err != nil {
		return "", fmt.Errorf("tick hash: %w", err)
	}
	return HashBytes(canonical), nil
}

// HashBytes content-addresses an already canonical encoding. The null
// separator keeps the domain prefix unambiguous.
func HashBytes(canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(DomainTick))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// valueTree lowers a runtime value into the canonical marshaling tree.
func valueTree(v expr.Value) any {
	switch v.Kind {
	case expr.KindBool:
		return v.B
	case expr.KindString:
		return v.Str
	}
	return v.Num
}

// Decode parses a canonically encoded event back into its model. The
// non-finite spellings "NaN", "Infinity" and "-Infinity" decode as
// numbers; a string port cannot carry those exact texts.
func Decode(data []byte) (*Event, error) {
	var raw struct {
		Run         string          `json:"run"`
		Tick        int64           `json:"tick"`
		Time        float64         `json:"time"`
		Dt          float64         `json:"dt"`
		Values      map[string]any  `json:"values"`
		Diagnostics []rawDiagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding trace event: %w", err)
	}

	ev := &Event{
		RunToken: raw.Run,
		Tick:     raw.Tick,
		Time:     raw.Time,
		Dt:       raw.Dt,
		Values:   make(map[string]expr.Value, len(raw.Values)),
	}
	for id, v := range raw.Values {
		ev.Values[id] = decodeValue(v)
	}
	for _, d := range raw.Diagnostics {
		ev.Diagnostics = append(ev.Diagnostics, engine.Diagnostic{
			Code:      engine.DiagnosticCode(d.Code),
			Severity:  engine.Severity(d.Severity),
			Component: d.Component,
			Port:      d.Port,
			Tick:      d.Tick,
			Message:   d.Message,
		})
	}
	return ev, nil
}

type rawDiagnostic struct {
	Code      string `json:"code"`
	Severity  string `json:"severity"`
	Component string `json:"component"`
	Port      string `json:"port"`
	Tick      int64  `json:"tick"`
	Message   string `json:"message"`
}

func decodeValue(v any) expr.Value {
	switch t := v.(type) {
	case float64:
		return expr.Number(t)
	case bool:
		return expr.Bool(t)
	case string:
		switch t {
		case "NaN":
			return expr.Number(math.NaN())
		case "Infinity":
			return expr.Number(math.Inf(1))
		case "-Infinity":
			return expr.Number(math.Inf(-1))
		}
		return expr.String(t)
	}
	return expr.Number(math.NaN())
}
