package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/selinon/selinon-sub000/internal/flow"
	"github.com/selinon/selinon-sub000/internal/selective"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Follow     bool
	Subsequent bool
}

// PlanEdge is one edge the selective run may fire.
type PlanEdge struct {
	Index int      `json:"index"`
	From  []string `json:"from"`
	Start []string `json:"start"`
}

// PlanResult lists, per flow, the edges a selective run fires.
type PlanResult struct {
	Flow    string                `json:"flow"`
	Targets []string              `json:"targets"`
	Edges   map[string][]PlanEdge `json:"edges"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <definition> <flow> <target>...",
		Short: "Show what a selective run would execute",
		Long: `Resolve the edges and destinations needed to run the target nodes of
a flow, without running anything.

Example:
  selinon plan flows.yaml main report
  selinon plan flows.yaml main report --follow-subflows --format json`,
		Args:          cobra.MinimumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], args[1], args[2:], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Follow, "follow-subflows", false, "look for targets inside sub-flows")
	cmd.Flags().BoolVar(&opts.Subsequent, "run-subsequent", false, "also run everything after the targets")

	return cmd
}

func runPlan(opts *PlanOptions, path, flowName string, targets []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	sys, err := loadDefinition(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load definition", err)
	}

	sel, err := selective.Resolve(sys, flowName, targets, selective.Options{
		FollowSubflows: opts.Follow,
		RunSubsequent:  opts.Subsequent,
	})
	if err != nil {
		if selective.IsNoPathError(err) {
			_ = formatter.Error("E_NO_PATH", err.Error(), nil)
			return WrapExitError(ExitFailure, "no path to targets", err)
		}
		return WrapExitError(ExitCommandError, "failed to resolve plan", err)
	}

	result := planResult(sys, flowName, sel)
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "plan for %s -> %s\n", flowName, strings.Join(result.Targets, ", "))
	for _, name := range sortedNodeNames(result.Edges) {
		fmt.Fprintf(w, "flow %s\n", name)
		for _, e := range result.Edges[name] {
			from := "(start)"
			if len(e.From) > 0 {
				from = strings.Join(e.From, ", ")
			}
			fmt.Fprintf(w, "  edge %d: %s -> %s\n", e.Index, from, strings.Join(e.Start, ", "))
		}
	}
	return nil
}

func planResult(sys *flow.System, flowName string, sel *flow.Selection) PlanResult {
	result := PlanResult{
		Flow:    flowName,
		Targets: sel.TaskNames,
		Edges:   make(map[string][]PlanEdge, len(sel.Edges)),
	}
	for name := range sel.Edges {
		f, ok := sys.Flow(name)
		if !ok {
			continue
		}
		for _, idx := range sel.EdgeIndices(name) {
			result.Edges[name] = append(result.Edges[name], PlanEdge{
				Index: idx,
				From:  f.Edges[idx].From,
				Start: sel.Edges[name][idx],
			})
		}
	}
	return result
}

func sortedNodeNames[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
