package store

import (
	"context"
	"fmt"

	"github.com/roach88/hwml/internal/trace"
)

// Verify re-derives the content address of every recorded tick of a run
// and compares it against the stored hash. A mismatch means the payload
// was altered after recording; the returned error names the first bad
// tick.
func (s *Store) Verify(ctx context.Context, runToken string) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tick, payload, hash FROM ticks
		WHERE run_token = ?
		ORDER BY tick ASC
	`, runToken)
	if err != nil {
		return fmt.Errorf("verifying %s: %w", runToken, err)
	}
	defer rows.Close()

	seen := false
	for rows.Next() {
		seen = true
		var tick int64
		var payload, stored string
		if err := rows.Scan(&tick, &payload, &stored); err != nil {
			return fmt.Errorf("verifying %s: %w", runToken, err)
		}
		if _, err := trace.Decode([]byte(payload)); err != nil {
			return fmt.Errorf("verifying %s tick %d: %w", runToken, tick, err)
		}
		if derived := trace.HashBytes([]byte(payload)); derived != stored {
			return fmt.Errorf("verifying %s tick %d: hash mismatch: stored %s, derived %s", runToken, tick, stored, derived)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("verifying %s: %w", runToken, err)
	}
	if !seen {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runToken)
	}
	return nil
}
