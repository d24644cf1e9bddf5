package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/selinon/selinon-sub000/internal/compiler"
	"github.com/selinon/selinon-sub000/internal/engine"
	"github.com/selinon/selinon-sub000/internal/flow"
	"github.com/selinon/selinon-sub000/internal/selective"
	"github.com/selinon/selinon-sub000/internal/testutil"
)

// Harness holds the per-run state of one scenario.
type Harness struct {
	scenario *Scenario
	clock    *testutil.VirtualClock

	mu    sync.Mutex
	calls map[string]int
	trace []TraceEvent
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh engine with in-memory storage, a virtual
// clock and sequential node ids. An error is returned only when the
// scenario cannot be run at all; failed assertions are reported in the
// Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	sys, err := loadSystem(scenario)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		scenario: scenario,
		clock:    testutil.NewVirtualClock(),
		calls:    make(map[string]int),
	}

	opts := []engine.Option{
		engine.WithTimer(h.clock),
		engine.WithIDGenerator(testutil.NewSequentialIDs()),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithObserver(h.record),
	}
	if scenario.MaxSteps > 0 {
		opts = append(opts, engine.WithMaxSteps(scenario.MaxSteps))
	}
	for _, name := range sys.TaskNames() {
		opts = append(opts, engine.WithHandler(name, h.handler(name)))
	}
	eng := engine.New(sys, opts...)

	var id string
	if sel := scenario.Selective; sel != nil {
		id, err = eng.StartSelective(ctx, scenario.Flow, sel.Targets, scenario.NodeArgs, selective.Options{
			FollowSubflows: sel.FollowSubflows,
			RunSubsequent:  sel.RunSubsequent,
		})
	} else {
		id, err = eng.StartFlow(ctx, scenario.Flow, scenario.NodeArgs)
	}
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	if err := eng.Run(ctx); err != nil {
		return nil, fmt.Errorf("scenario %s: run: %w", scenario.Name, err)
	}

	handle, err := eng.Handle(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	result := NewResult()
	result.Trace = h.events()
	result.Status = handle.Status
	switch snap := handle.Result.(type) {
	case flow.Snapshot:
		result.Snapshot = snap
	case *flow.Snapshot:
		if snap != nil {
			result.Snapshot = *snap
		}
	}

	for i, assertion := range scenario.Assertions {
		if err := evaluateAssertion(result, assertion); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	return result, nil
}

func loadSystem(s *Scenario) (*flow.System, error) {
	c := compiler.New(nil)
	if s.DefinitionFile != "" {
		sys, err := c.CompileFile(s.DefinitionFile)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		return sys, nil
	}
	doc, err := compiler.ParseYAML([]byte(s.Definition))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	sys, err := c.Compile(doc)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return sys, nil
}

// handler returns the configured outcome of task name.
func (h *Harness) handler(name string) engine.TaskFunc {
	outcome := h.scenario.Tasks[name]
	return func(context.Context, engine.TaskInput) (any, error) {
		h.mu.Lock()
		h.calls[name]++
		call := h.calls[name]
		h.mu.Unlock()

		if outcome.Fail != "" && (outcome.FailTimes == 0 || call <= outcome.FailTimes) {
			return nil, errors.New(outcome.Fail)
		}
		return outcome.Result, nil
	}
}

func (h *Harness) record(ev engine.Event) {
	te := TraceEvent{
		Type:     string(ev.Type),
		Node:     ev.Node,
		ID:       ev.ID,
		ParentID: ev.ParentID,
		Error:    ev.Error,
	}
	if ev.Countdown > 0 {
		te.Countdown = ev.Countdown.String()
	}
	h.mu.Lock()
	h.trace = append(h.trace, te)
	h.mu.Unlock()
}

func (h *Harness) events() []TraceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TraceEvent{}, h.trace...)
}
