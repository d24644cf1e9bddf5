package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/selinon/selinon-sub000/internal/migration"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Dir      string
	Strategy string
}

// MigrateResult reports the generated artifact.
type MigrateResult struct {
	Version int      `json:"version"`
	Saved   bool     `json:"saved"`
	Flows   []string `json:"flows"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate <old-definition> <new-definition>",
		Short: "Generate a migration between two definitions",
		Long: `Diff the edge tables of two definitions and store the result as the
next numbered artifact in the migration directory.

Flows whose instances depend on removed or rewired edges are tainted;
--tainted-strategy decides what happens to them (IGNORE, RETRY or FAIL).
Nothing is written when no flow changed or the artifact equals the latest
one.

Example:
  selinon migrate v1.yaml v2.yaml --dir ./migrations --tainted-strategy RETRY`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			envDefault(cmd, "dir", EnvMigrations, &opts.Dir)
			return runMigrate(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "migrations", "migration artifact directory")
	cmd.Flags().StringVar(&opts.Strategy, "tainted-strategy", string(migration.StrategyIgnore), "IGNORE, RETRY or FAIL")

	return cmd
}

func runMigrate(opts *MigrateOptions, oldPath, newPath string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	strategy, err := migration.ParseStrategy(opts.Strategy)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --tainted-strategy", err)
	}

	oldSys, err := loadDefinition(oldPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load old definition", err)
	}
	newSys, err := loadDefinition(newPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load new definition", err)
	}

	m, err := migration.Generate(oldSys, newSys, strategy)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to generate migration", err)
	}

	dir := migration.NewDir(opts.Dir, logger)
	result := MigrateResult{Flows: sortedNodeNames(m.Flows)}
	if m.Empty() {
		latest, err := dir.Latest()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read migration directory", err)
		}
		result.Version = latest
	} else {
		before, err := dir.Latest()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read migration directory", err)
		}
		version, err := dir.Save(m)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to save migration", err)
		}
		result.Version = version
		result.Saved = version > before
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	switch {
	case len(result.Flows) == 0:
		fmt.Fprintln(w, "no flow changed, nothing written")
	case !result.Saved:
		fmt.Fprintf(w, "migration equals version %d, nothing written\n", result.Version)
	default:
		fmt.Fprintf(w, "wrote migration %d to %s\n", result.Version, dir.Path())
		for _, name := range result.Flows {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
	return nil
}
