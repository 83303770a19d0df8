package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hwml/internal/engine"
)

// ComponentOrder is one component's fixed node evaluation order.
type ComponentOrder struct {
	ID    string   `json:"id"`
	Nodes []string `json:"nodes,omitempty"`
}

// GraphResult holds the deterministic evaluation orders of a document.
type GraphResult struct {
	Entry      string           `json:"entry"`
	System     []string         `json:"system"`
	Components []ComponentOrder `json:"components"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <entry>",
		Short: "Print a document's evaluation order",
		Long: `Print the deterministic evaluation orders of an hwml document.

Shows the system order (component instances, topological over wires and
cross references, declaration order breaking ties) and each component's
node order. Two loads of the same document always print the same
orders.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runGraph(opts *RootOptions, entryPath string, cmd *cobra.Command) error {
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
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, loadErr.Error())
		}
		return outputValidationErrors(formatter, []ValidationIssue{toIssue(err)})
	}

	prog, err := engine.Build(doc)
	if err != nil {
		return outputValidationErrors(formatter, []ValidationIssue{toIssue(err)})
	}

	result := GraphResult{Entry: doc.Entry}
	for _, cc := range prog.Components {
		result.System = append(result.System, cc.Comp.ID)
		order := ComponentOrder{ID: cc.Comp.ID}
		for _, n := range cc.NodeOrder {
			order.Nodes = append(order.Nodes, n.Name)
		}
		result.Components = append(result.Components, order)
	}
	for _, d := range prog.Diagnostics {
		result.Warnings = append(result.Warnings, d.String())
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Entry: %s\n\n", result.Entry)
	fmt.Fprintln(w, "System order:")
	for i, id := range result.System {
		fmt.Fprintf(w, "  %d. %s\n", i+1, id)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Node order:")
	for _, order := range result.Components {
		if len(order.Nodes) == 0 {
			continue
		}
		fmt.Fprintf(w, "  %s: %s\n", order.ID, strings.Join(order.Nodes, ", "))
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintln(w)
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warning)
		}
	}
	return nil
}
