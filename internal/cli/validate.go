package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/selinon/selinon-sub000/internal/compiler"
	"github.com/selinon/selinon-sub000/internal/flow"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                    `json:"valid"`
	Flows    []string                `json:"flows,omitempty"`
	Tasks    []string                `json:"tasks,omitempty"`
	Errors   []Issue                 `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <definition>",
		Short: "Check a flow definition",
		Long: `Compile a YAML or CUE flow definition and report every error.

Checks edge and fallback references, start edges, conditions, foreach
functions, propagation selectors and strategies. Loops between nodes and
flows that contain themselves are reported as warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	sys, err := loadDefinition(path)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) && len(loadErr.Issues) > 0 {
			return outputValidationErrors(formatter, loadErr.Issues)
		}
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	result := ValidationResult{
		Valid:    true,
		Flows:    sys.FlowNames(),
		Tasks:    sys.TaskNames(),
		Warnings: compiler.AnalyzeCycles(sys),
	}
	formatter.VerboseLog("Compiled %d flow(s), %d task(s) from %s", len(result.Flows), len(result.Tasks), path)

	return outputValidateSuccess(formatter, sys, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, sys *flow.System, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	for _, name := range result.Flows {
		f, _ := sys.Flow(name)
		fmt.Fprintf(w, "flow %s: %d edge(s)\n", name, len(f.Edges))
	}
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "%s: %s\n", warn.Level, warn.Message)
	}
	fmt.Fprintln(w, "✓ Definition valid")
	return nil
}

// outputValidateError outputs a single error that kept validation from
// running.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every compile error.
func outputValidationErrors(formatter *OutputFormatter, issues []Issue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}
		if err := encodeJSON(formatter.Writer, response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, is := range issues {
		if is.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", is.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n\n", is.Code, is.Field, is.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
