package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/hwml/internal/engine"
	"github.com/roach88/hwml/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Ticks    int64
	TickRate float64
	Record   string
	Sim      bool

	// TokenGenerator allows overriding the run token generator (for
	// testing). If nil, the engine's UUIDv7 default applies.
	TokenGenerator engine.RunTokenGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <entry>",
		Short: "Tick a document against its adapter",
		Long: `Load an hwml document and tick it at the configured rate.

<entry> is a document file or a directory of document files. A
directory's entry module resolves to main, falling back to index.
The engine runs until interrupted, or for --ticks ticks when set.

Example:
  hwml run ./rig
  hwml run ./rig --ticks 100 --record ./trace.db
  hwml run ./loadcell.hwml.json --tick-rate 50 --sim --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocument(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Ticks, "ticks", 0, "stop after this many ticks (0 = run until interrupted)")
	cmd.Flags().Float64Var(&opts.TickRate, "tick-rate", 0, "override the document's tick rate (Hz)")
	cmd.Flags().StringVar(&opts.Record, "record", "", "record tick traces to this SQLite database")
	cmd.Flags().BoolVar(&opts.Sim, "sim", false, "force sim mode regardless of _config.simMode")

	return cmd
}

func runDocument(opts *RunOptions, entryPath string, cmd *cobra.Command) error {
	doc, err := LoadTree(entryPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load document", err)
	}
	if opts.TickRate > 0 {
		doc.Config.TickRate = opts.TickRate
	}
	if opts.Sim {
		doc.Config.SimMode = true
	}

	logger := newLogger(doc.Config.LogLevel, opts.Verbose)
	slog.SetDefault(logger)

	slog.Info("building program", "entry", doc.Entry, "modules", len(doc.Modules))
	prog, err := engine.Build(doc)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build document", err)
	}
	for _, d := range prog.Diagnostics {
		slog.Warn("build diagnostic", "code", d.Code, "component", d.Component, "port", d.Port, "detail", d.Message)
	}

	engOpts := []engine.Option{engine.WithLogger(logger)}
	if opts.Ticks > 0 {
		engOpts = append(engOpts, engine.WithMaxTicks(opts.Ticks))
	}
	if opts.TokenGenerator != nil {
		engOpts = append(engOpts, engine.WithTokenGenerator(opts.TokenGenerator))
	}

	var st *store.Store
	if opts.Record != "" {
		slog.Info("opening trace store", "path", opts.Record)
		st, err = store.Open(opts.Record)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open trace store", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing trace store", "error", closeErr)
			}
		}()
		engOpts = append(engOpts, engine.WithRecorder(st))
	}

	eng := engine.New(prog, engOpts...)

	// Use the command's context if set (for testing), otherwise create one.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	// Register the run row up front so a run that stops before its first
	// tick still appears in the store.
	if st != nil {
		if err := st.BeginRun(parentCtx, eng.RunToken(), doc.Entry, doc.Config.TickRate); err != nil {
			return WrapExitError(ExitCommandError, "failed to register run", err)
		}
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping at tick boundary", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Run %s started (tickRate %g Hz).\n", eng.RunToken(), doc.Config.TickRate)
	if opts.Ticks == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	}

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Run %s stopped after %d tick(s).\n", eng.RunToken(), eng.Clock().Tick())
	return nil
}

// newLogger builds the process logger from the document's logLevel,
// with --verbose forcing debug.
func newLogger(level string, verbose bool) *slog.Logger {
	logLevel := parseLogLevel(level)
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
