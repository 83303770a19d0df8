package store

import (
	"context"
	"fmt"

	"github.com/roach88/hwml/internal/engine"
	"github.com/roach88/hwml/internal/trace"
)

// BeginRun registers a run before its first tick. Idempotent: re-opening
// an existing run keeps the original row.
func (s *Store) BeginRun(ctx context.Context, token, entry string, tickRate float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (token, tick_rate, entry)
		VALUES (?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`, token, tickRate, entry)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", token, err)
	}
	return nil
}

// RecordTick persists one tick result. Implements engine.Recorder.
//
// Writes are idempotent on (run token, tick): recording the same tick
// twice keeps the first payload. The tick row and its flattened
// diagnostics commit in one transaction, so readers never see a tick
// without its diagnostics.
func (s *Store) RecordTick(ctx context.Context, res *engine.TickResult) error {
	ev := trace.FromResult(res)
	payload, err := ev.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("record tick %d: %w", res.Tick, err)
	}
	hash, err := ev.Hash()
	if err != nil {
		return fmt.Errorf("record tick %d: %w", res.Tick, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record tick %d: begin tx: %w", res.Tick, err)
	}
	defer tx.Rollback()

	// A run row may not exist when the engine records without an
	// explicit BeginRun.
	tickRate := 0.0
	if res.Dt > 0 {
		tickRate = 1 / res.Dt
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (token, tick_rate)
		VALUES (?, ?)
		ON CONFLICT(token) DO NOTHING
	`, res.RunToken, tickRate); err != nil {
		return fmt.Errorf("record tick %d: run row: %w", res.Tick, err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO ticks (run_token, tick, time, dt, payload, hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_token, tick) DO NOTHING
	`, res.RunToken, res.Tick, res.Time, res.Dt, string(payload), hash)
	if err != nil {
		return fmt.Errorf("record tick %d: %w", res.Tick, err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record tick %d: %w", res.Tick, err)
	}

	if inserted > 0 {
		for _, d := range ev.Diagnostics {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO diagnostics (run_token, tick, code, severity, component, port, message)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, res.RunToken, res.Tick, string(d.Code), string(d.Severity), d.Component, d.Port, d.Message); err != nil {
				return fmt.Errorf("record tick %d: diagnostic: %w", res.Tick, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record tick %d: commit: %w", res.Tick, err)
	}
	return nil
}
