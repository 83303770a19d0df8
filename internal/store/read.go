package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/hwml/internal/engine"
	"github.com/roach88/hwml/internal/trace"
)

// RunInfo summarizes one recorded run.
type RunInfo struct {
	Token     string
	StartedAt string
	TickRate  float64
	Entry     string
	Ticks     int64
}

// ErrRunNotFound reports a run token with no recorded ticks.
var ErrRunNotFound = errors.New("run not found")

// ListRuns returns every recorded run, oldest first. Empty, not nil, when
// the store holds nothing.
func (s *Store) ListRuns(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.token, r.started_at, r.tick_rate, r.entry, COUNT(t.tick)
		FROM runs r
		LEFT JOIN ticks t ON t.run_token = r.token
		GROUP BY r.token
		ORDER BY r.started_at ASC, r.token ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := []RunInfo{}
	for rows.Next() {
		var info RunInfo
		if err := rows.Scan(&info.Token, &info.StartedAt, &info.TickRate, &info.Entry, &info.Ticks); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// ReadTicks returns every recorded tick of a run in tick order.
func (s *Store) ReadTicks(ctx context.Context, runToken string) ([]*trace.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM ticks
		WHERE run_token = ?
		ORDER BY tick ASC
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("reading ticks for %s: %w", runToken, err)
	}
	defer rows.Close()

	var events []*trace.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning tick: %w", err)
		}
		ev, err := trace.Decode([]byte(payload))
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ticks for %s: %w", runToken, err)
	}
	if events == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runToken)
	}
	return events, nil
}

// ReadTick returns one recorded tick.
func (s *Store) ReadTick(ctx context.Context, runToken string, tick int64) (*trace.Event, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM ticks
		WHERE run_token = ? AND tick = ?
	`, runToken, tick).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s tick %d", ErrRunNotFound, runToken, tick)
	}
	if err != nil {
		return nil, fmt.Errorf("reading tick %d of %s: %w", tick, runToken, err)
	}
	return trace.Decode([]byte(payload))
}

// ReadDiagnostics returns the flattened diagnostics of a run, ordered by
// tick.
func (s *Store) ReadDiagnostics(ctx context.Context, runToken string) ([]engine.Diagnostic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tick, code, severity, component, port, message
		FROM diagnostics
		WHERE run_token = ?
		ORDER BY tick ASC, rowid ASC
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("reading diagnostics for %s: %w", runToken, err)
	}
	defer rows.Close()

	diags := []engine.Diagnostic{}
	for rows.Next() {
		var d engine.Diagnostic
		var code, severity string
		if err := rows.Scan(&d.Tick, &code, &severity, &d.Component, &d.Port, &d.Message); err != nil {
			return nil, fmt.Errorf("scanning diagnostic: %w", err)
		}
		d.Code = engine.DiagnosticCode(code)
		d.Severity = engine.Severity(severity)
		diags = append(diags, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating diagnostics for %s: %w", runToken, err)
	}
	return diags, nil
}
