package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hwml/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Run      string // optional - dump one run instead of listing
	Verify   bool
}

// RunListing holds the run summaries for the no-run form.
type RunListing struct {
	Runs []RunSummary `json:"runs"`
}

// RunSummary is one recorded run.
type RunSummary struct {
	Token     string  `json:"token"`
	StartedAt string  `json:"started_at"`
	TickRate  float64 `json:"tick_rate"`
	Entry     string  `json:"entry"`
	Ticks     int64   `json:"ticks"`
}

// RunTrace holds one run's recorded ticks, each in its canonical
// encoding.
type RunTrace struct {
	Run      string            `json:"run"`
	Ticks    []json.RawMessage `json:"ticks"`
	Verified bool              `json:"verified,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded tick traces",
		Long: `Inspect tick traces recorded with run --record.

Without --run, lists every recorded run. With --run, prints the run's
ticks, one canonical JSON event per line. --verify re-hashes every
stored tick against its recorded hash and fails on any mismatch.

Examples:
  hwml trace --db ./trace.db
  hwml trace --db ./trace.db --run 0190a5e2-...
  hwml trace --db ./trace.db --run 0190a5e2-... --verify`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the trace database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run token to dump")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "re-hash stored ticks and fail on mismatch")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace store", err)
	}
	defer st.Close()

	if opts.Run == "" {
		return listRuns(ctx, opts, st, cmd)
	}
	return dumpRun(ctx, opts, st, cmd)
}

func listRuns(ctx context.Context, opts *TraceOptions, st *store.Store, cmd *cobra.Command) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	listing := RunListing{Runs: []RunSummary{}}
	for _, r := range runs {
		listing.Runs = append(listing.Runs, RunSummary{
			Token:     r.Token,
			StartedAt: r.StartedAt,
			TickRate:  r.TickRate,
			Entry:     r.Entry,
			Ticks:     r.Ticks,
		})
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(CLIResponse{Status: "ok", Data: listing})
	}

	w := cmd.OutOrStdout()
	if len(listing.Runs) == 0 {
		fmt.Fprintln(w, "No recorded runs.")
		return nil
	}
	for _, r := range listing.Runs {
		fmt.Fprintf(w, "%s  started %s  entry %s  %g Hz  %d tick(s)\n",
			r.Token, r.StartedAt, r.Entry, r.TickRate, r.Ticks)
	}
	return nil
}

func dumpRun(ctx context.Context, opts *TraceOptions, st *store.Store, cmd *cobra.Command) error {
	events, err := st.ReadTicks(ctx, opts.Run)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return WrapExitError(ExitCommandError, fmt.Sprintf("run %s not found", opts.Run), err)
		}
		return WrapExitError(ExitCommandError, "failed to read ticks", err)
	}

	if opts.Verify {
		if err := st.Verify(ctx, opts.Run); err != nil {
			return WrapExitError(ExitFailure, "trace verification failed", err)
		}
	}

	result := RunTrace{Run: opts.Run, Ticks: []json.RawMessage{}, Verified: opts.Verify}
	for _, ev := range events {
		data, err := ev.MarshalCanonical()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to encode tick", err)
		}
		result.Ticks = append(result.Ticks, json.RawMessage(data))
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(CLIResponse{Status: "ok", Data: result})
	}

	w := cmd.OutOrStdout()
	for _, tick := range result.Ticks {
		fmt.Fprintf(w, "%s\n", tick)
	}
	if opts.Verify {
		fmt.Fprintf(w, "✓ %d tick(s) verified\n", len(result.Ticks))
	}
	return nil
}
