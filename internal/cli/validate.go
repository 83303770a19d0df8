package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hwml/internal/document"
	"github.com/roach88/hwml/internal/engine"
)

// ValidationIssue is one document error, positioned when known.
type ValidationIssue struct {
	File    string `json:"file,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Modules    int               `json:"modules,omitempty"`
	Components int               `json:"components,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
	Errors     []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <entry>",
		Short: "Validate a document without running it",
		Long: `Validate an hwml document without ticking it.

Runs the full load pipeline: schema vetting, decoding, formula
compilation, module expansion, reference resolution, feed binding and
cycle analysis. A document that validates cleanly cannot fail to start.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, entryPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	doc, err := LoadTree(entryPath)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			// Path problems are command errors, not document errors.
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, loadErr.Error())
		}
		return outputValidationErrors(formatter, []ValidationIssue{toIssue(err)})
	}

	formatter.VerboseLog("Loaded %d module(s), entry %s", len(doc.Modules), doc.Entry)

	prog, err := engine.Build(doc)
	if err != nil {
		return outputValidationErrors(formatter, []ValidationIssue{toIssue(err)})
	}

	result := ValidationResult{
		Valid:      true,
		Modules:    len(doc.Modules),
		Components: len(prog.Components),
	}
	for _, d := range prog.Diagnostics {
		result.Warnings = append(result.Warnings, d.String())
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ document valid (%d module(s), %d component(s))\n", result.Modules, result.Components)
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "  warning: %s\n", w)
	}
	return nil
}

// toIssue positions an error when it carries file and path context.
func toIssue(err error) ValidationIssue {
	var schemaErr *document.SchemaError
	if errors.As(err, &schemaErr) {
		return ValidationIssue{File: schemaErr.File, Path: schemaErr.Path, Message: schemaErr.Message}
	}
	return ValidationIssue{Message: err.Error()}
}

// outputValidationErrors reports document errors and maps them to exit
// code 1.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    ErrCodeGeneric,
				Message: issues[0].Message,
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.File != "" {
			where := issue.File
			if issue.Path != "" {
				where += ": " + issue.Path
			}
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", where, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s\n", issue.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
