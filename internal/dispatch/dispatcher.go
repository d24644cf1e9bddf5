package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/selinon/selinon-sub000/internal/flow"
	"github.com/selinon/selinon-sub000/internal/migration"
	"github.com/selinon/selinon-sub000/internal/storage"
)

// Message is one delivery of a flow instance.
type Message struct {
	FlowName string      `json:"flow_name"`
	ID       string      `json:"dispatcher_id"`
	State    *flow.State `json:"state"`
}

// Outcome is the result of a Step: Suspend or Complete.
type Outcome interface {
	outcome()
}

// Suspend asks the queue to deliver State again after Countdown.
type Suspend struct {
	State     *flow.State
	Countdown time.Duration
}

// Complete ends the flow successfully.
type Complete struct {
	Snapshot flow.Snapshot
}

func (Suspend) outcome()  {}
func (Complete) outcome() {}

// Dispatcher runs flow steps for one system definition. It holds no
// per-instance state and is safe for concurrent use.
type Dispatcher struct {
	system       *flow.System
	queue        TaskQueue
	storage      *storage.Registry
	migrator     *migration.Migrator
	throttler    *Throttler
	selectiveRun SelectiveRunFunc
	logger       *slog.Logger
	now          func() time.Time

	strategyMu sync.Mutex
	factories  map[string]StrategyFactory
	strategies map[string]Strategy
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithStorage sets the storage registry conditions read results from.
func WithStorage(reg *storage.Registry) Option {
	return func(d *Dispatcher) {
		d.storage = reg
	}
}

// WithMigrator enables migration of incoming state.
func WithMigrator(m *migration.Migrator) Option {
	return func(d *Dispatcher) {
		d.migrator = m
	}
}

// WithThrottler shares a throttler between dispatchers.
func WithThrottler(t *Throttler) Option {
	return func(d *Dispatcher) {
		d.throttler = t
	}
}

// WithSelectiveRun binds the reuse decision for selective runs.
func WithSelectiveRun(fn SelectiveRunFunc) Option {
	return func(d *Dispatcher) {
		d.selectiveRun = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithClock sets the time source of the default throttler.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithStrategy registers a scheduling strategy under name.
func WithStrategy(name string, f StrategyFactory) Option {
	return func(d *Dispatcher) {
		d.factories[name] = f
	}
}

// New returns a dispatcher for sys sending work to queue.
func New(sys *flow.System, queue TaskQueue, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		system:     sys,
		queue:      queue,
		logger:     slog.Default(),
		now:        time.Now,
		factories:  make(map[string]StrategyFactory, len(builtinStrategies)),
		strategies: make(map[string]Strategy),
	}
	for name, f := range builtinStrategies {
		d.factories[name] = f
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.storage == nil {
		d.storage = storage.NewRegistry()
	}
	if d.throttler == nil {
		d.throttler = NewThrottler(d.now)
	}
	return d
}

// System returns the definition the dispatcher runs.
func (d *Dispatcher) System() *flow.System {
	return d.system
}

// Step advances one flow instance. The message state is never modified;
// on error the same message can be delivered again.
//
// Errors: *migration.SkewError (re-queue unchanged), *migration.TaintedFlowError
// (RETRY restarts the flow, FAIL fails it), *FlowError (terminal failure),
// *TransientError (re-queue unchanged).
func (d *Dispatcher) Step(ctx context.Context, msg Message) (Outcome, error) {
	f, ok := d.system.Flow(msg.FlowName)
	if !ok {
		return nil, fmt.Errorf("unknown flow %q", msg.FlowName)
	}
	state := msg.State.Clone()
	log := d.logger.With("flow", f.FlowName, "dispatcher_id", msg.ID)

	if d.migrator != nil {
		res, err := d.migrator.Apply(f.FlowName, state)
		if err != nil {
			return nil, err
		}
		if res.Tainted {
			if res.Strategy == migration.StrategyIgnore {
				log.Warn("continuing tainted flow", "version", res.Version)
			} else {
				return nil, &migration.TaintedFlowError{Flow: f.FlowName, Version: res.Version, Strategy: res.Strategy}
			}
		}
	}

	strategy, err := d.strategy(f)
	if err != nil {
		return nil, err
	}

	s := &step{
		d:     d,
		flow:  f,
		id:    msg.ID,
		state: state,
		log:   log,
	}

	if state.IsEmpty() {
		if err := s.startup(ctx); err != nil {
			return nil, err
		}
	} else {
		if err := s.poll(ctx); err != nil {
			return nil, err
		}
	}

	if len(state.ActiveNodes) == 0 && len(state.FailedNodes) > 0 {
		if err := s.recover(ctx); err != nil {
			return nil, err
		}
	}

	retry := strategy(StrategyInput{
		PreviousRetry: state.Retry,
		Active:        state.ActiveNodes,
		Failed:        state.FailedNodes,
		NewStarted:    s.started,
		NewFallback:   s.fallback,
		Finished:      state.FinishedNodes,
	})

	if len(state.ActiveNodes) == 0 {
		if len(state.FailedNodes) > 0 {
			return nil, s.unrecovered()
		}
		state.Retry = nil
		log.Info("flow finished", "finished", len(state.FinishedNodes))
		return Complete{Snapshot: state.Snapshot()}, nil
	}
	if retry == nil {
		retry = seconds(param(DefaultStrategy.Params, "start", 2))
	}
	state.Retry = retry
	log.Debug("flow suspended",
		"retry", *retry,
		"active", len(state.ActiveNodes),
		"started", len(s.started),
	)
	return Suspend{State: state, Countdown: time.Duration(*retry) * time.Second}, nil
}

// strategy returns the flow's scheduling strategy, built once per flow.
func (d *Dispatcher) strategy(f *flow.Flow) (Strategy, error) {
	d.strategyMu.Lock()
	defer d.strategyMu.Unlock()
	if s, ok := d.strategies[f.FlowName]; ok {
		return s, nil
	}
	spec := f.Strategy
	if spec.Name == "" {
		spec = DefaultStrategy
	}
	factory, ok := d.factories[spec.Name]
	if !ok {
		return nil, fmt.Errorf("flow %s: unknown strategy %q", f.FlowName, spec.Name)
	}
	s, err := factory(spec.Params)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", f.FlowName, err)
	}
	d.strategies[f.FlowName] = s
	return s, nil
}
