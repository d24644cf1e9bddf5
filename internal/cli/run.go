package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/selinon/selinon-sub000/internal/dispatch"
	"github.com/selinon/selinon-sub000/internal/engine"
	"github.com/selinon/selinon-sub000/internal/flow"
	"github.com/selinon/selinon-sub000/internal/migration"
	"github.com/selinon/selinon-sub000/internal/selective"
	"github.com/selinon/selinon-sub000/internal/storage"
	"github.com/selinon/selinon-sub000/internal/store"
	"github.com/selinon/selinon-sub000/internal/testutil"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database   string
	RedisURL   string
	Migrations string
	Args       string
	Targets    []string
	Follow     bool
	Subsequent bool
	MaxSteps   int
	CacheSize  int
	Simulate   bool

	// IDGenerator overrides node id generation (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// RunResult is the outcome of a run.
type RunResult struct {
	Flow     string              `json:"flow"`
	ID       string              `json:"id"`
	Status   string              `json:"status"`
	Finished map[string][]string `json:"finished"`
	Failed   map[string][]string `json:"failed,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <definition> <flow>",
		Short: "Run a flow on the local engine",
		Long: `Run one flow to completion on the local engine.

Every task is bound to a stub handler that returns its name and node
arguments. Results go to SQLite (--db) or Redis (--redis), otherwise to
memory; --db also records dispatched nodes. With --migrations the
dispatcher migrates flow state through the artifacts in that directory.

Flags default to SELINON_DB, SELINON_REDIS_URL and SELINON_MIGRATIONS,
read after loading --env-file.

Example:
  selinon run flows.yaml main --args '{"user": "alice"}'
  selinon run flows.yaml main --db ./selinon.db --only report --simulate`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			envDefault(cmd, "db", EnvDB, &opts.Database)
			envDefault(cmd, "redis", EnvRedisURL, &opts.RedisURL)
			envDefault(cmd, "migrations", EnvMigrations, &opts.Migrations)
			return runFlow(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database for results and node records")
	cmd.Flags().StringVar(&opts.RedisURL, "redis", "", "Redis URL for node results")
	cmd.Flags().StringVar(&opts.Migrations, "migrations", "", "migration artifact directory")
	cmd.Flags().StringVar(&opts.Args, "args", "", "flow node arguments as JSON")
	cmd.Flags().StringSliceVar(&opts.Targets, "only", nil, "run only what is needed for these nodes")
	cmd.Flags().BoolVar(&opts.Follow, "follow-subflows", false, "with --only, look for targets inside sub-flows")
	cmd.Flags().BoolVar(&opts.Subsequent, "run-subsequent", false, "with --only, also run everything after the targets")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "dispatcher step limit per flow (0 keeps the default)")
	cmd.Flags().IntVar(&opts.CacheSize, "cache-size", storage.DefaultCacheSize, "result cache entries")
	cmd.Flags().BoolVar(&opts.Simulate, "simulate", false, "advance a virtual clock instead of sleeping")

	return cmd
}

func runFlow(opts *RunOptions, path, flowName string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	sys, err := loadDefinition(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load definition", err)
	}
	if _, ok := sys.Flow(flowName); !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown flow %q", flowName))
	}

	var nodeArgs any
	if opts.Args != "" {
		if err := sonic.UnmarshalString(opts.Args, &nodeArgs); err != nil {
			return WrapExitError(ExitCommandError, "invalid --args", err)
		}
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	engineOpts, closeAll, err := buildEngineOptions(ctx, opts, sys, logger)
	defer closeAll()
	if err != nil {
		return err
	}
	eng := engine.New(sys, engineOpts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var id string
	if len(opts.Targets) > 0 {
		id, err = eng.StartSelective(ctx, flowName, opts.Targets, nodeArgs, selective.Options{
			FollowSubflows: opts.Follow,
			RunSubsequent:  opts.Subsequent,
		})
	} else {
		id, err = eng.StartFlow(ctx, flowName, nodeArgs)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start flow", err)
	}
	formatter.VerboseLog("Started %s as %s", flowName, id)

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	res, err := eng.Poll(context.Background(), id)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read flow result", err)
	}
	return outputRunResult(formatter, flowName, id, res)
}

// buildEngineOptions wires storage, node records and migrations. The
// returned close function is always safe to call.
func buildEngineOptions(ctx context.Context, opts *RunOptions, sys *flow.System, logger *slog.Logger) ([]engine.Option, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Error("close failed", "error", err)
			}
		}
	}

	engineOpts := []engine.Option{engine.WithLogger(logger)}

	var backend storage.Backend = storage.NewMemory()
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return nil, closeAll, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		closers = append(closers, st)
		backend = st
		engineOpts = append(engineOpts, engine.WithHandleStore(st))
		logger.Debug("database ready", "path", opts.Database)
	}
	if opts.RedisURL != "" {
		r, err := storage.NewRedis(ctx, opts.RedisURL, 0)
		if err != nil {
			return nil, closeAll, WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		closers = append(closers, r)
		backend = r
	}
	cached, err := storage.NewCached(backend, opts.CacheSize)
	if err != nil {
		return nil, closeAll, WrapExitError(ExitCommandError, "invalid --cache-size", err)
	}
	engineOpts = append(engineOpts, engine.WithStorage(storageRegistry(sys, cached)))

	if opts.Migrations != "" {
		m, err := migration.LoadMigrator(migration.NewDir(opts.Migrations, logger), migration.WithLogger(logger))
		if err != nil {
			return nil, closeAll, WrapExitError(ExitCommandError, "failed to load migrations", err)
		}
		engineOpts = append(engineOpts, engine.WithDispatchOptions(dispatch.WithMigrator(m)))
		logger.Debug("migrations loaded", "dir", opts.Migrations, "latest", m.Latest())
	}

	for _, name := range sys.TaskNames() {
		engineOpts = append(engineOpts, engine.WithHandler(name, stubTask(name)))
	}
	if opts.MaxSteps > 0 {
		engineOpts = append(engineOpts, engine.WithMaxSteps(opts.MaxSteps))
	}
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	if opts.Simulate {
		engineOpts = append(engineOpts, engine.WithTimer(testutil.NewVirtualClock()))
	}
	return engineOpts, closeAll, nil
}

// storageRegistry binds the default storage and every storage name a task
// declares to backend.
func storageRegistry(sys *flow.System, backend storage.Backend) *storage.Registry {
	reg := storage.NewRegistry()
	reg.Register(storage.DefaultName, backend)
	for _, name := range sys.TaskNames() {
		if t, ok := sys.Task(name); ok && t.Storage != "" {
			reg.Register(t.Storage, backend)
		}
	}
	return reg
}

// stubTask echoes its input so downstream conditions have something to
// inspect.
func stubTask(name string) engine.TaskFunc {
	return func(_ context.Context, in engine.TaskInput) (any, error) {
		return map[string]any{"task": name, "node_args": in.NodeArgs}, nil
	}
}

func outputRunResult(formatter *OutputFormatter, flowName, id string, res dispatch.PollResult) error {
	snap, _ := res.Result.(flow.Snapshot)
	result := RunResult{
		Flow:     flowName,
		ID:       id,
		Status:   res.Status.String(),
		Finished: snap.Finished,
		Failed:   snap.Failed,
	}
	if res.Err != nil {
		result.Error = res.Err.Error()
	}

	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result, FlowID: id}
		if res.Status != dispatch.Success {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_FLOW_FAILED", Message: result.Error}
		}
		if err := encodeJSON(formatter.Writer, resp); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		fmt.Fprintf(w, "flow %s (%s): %s\n", flowName, id, result.Status)
		for _, name := range sortedNodeNames(snap.Finished) {
			fmt.Fprintf(w, "  finished %s %v\n", name, snap.Finished[name])
		}
		for _, name := range sortedNodeNames(snap.Failed) {
			fmt.Fprintf(w, "  failed %s %v\n", name, snap.Failed[name])
		}
		if result.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", result.Error)
		}
	}

	if res.Status != dispatch.Success {
		return NewExitError(ExitFailure, fmt.Sprintf("flow %s %s", flowName, result.Status))
	}
	return nil
}
