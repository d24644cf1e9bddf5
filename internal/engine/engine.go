package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/selinon/selinon-sub000/internal/dispatch"
	"github.com/selinon/selinon-sub000/internal/flow"
	"github.com/selinon/selinon-sub000/internal/migration"
	"github.com/selinon/selinon-sub000/internal/selective"
	"github.com/selinon/selinon-sub000/internal/storage"
	"github.com/selinon/selinon-sub000/internal/store"
)

// DefaultMaxSteps is the default maximum number of dispatcher steps per
// flow instance, used when a flow sets no max_steps of its own.
const DefaultMaxSteps = 1000

// DefaultMaxRedeliveries bounds how often one flow message is redelivered
// after transient errors before the flow is failed.
const DefaultMaxRedeliveries = 10

// DefaultRedeliveryDelay is the wait before a message that hit a transient
// error is delivered again.
const DefaultRedeliveryDelay = time.Second

// TaskInput is what a task handler receives.
type TaskInput struct {
	FlowName string
	TaskName string
	ID       string
	NodeArgs any
	Parent   flow.Parent
	// Pool reads results of the task's parents.
	Pool *storage.Pool
}

// TaskFunc runs one task. The returned result is written to the task's
// storage; a non-nil error marks the task failed.
type TaskFunc func(ctx context.Context, in TaskInput) (any, error)

// Engine is a local task queue. It implements dispatch.TaskQueue and runs
// both leaf tasks and dispatcher steps from a single Run loop.
//
// Thread-safety model:
//   - StartFlow / StartSelective / Dispatch / Poll: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//
// Jobs that are ready at the same instant run in dispatch order, so with a
// virtual Timer and deterministic ids a run is reproducible.
type Engine struct {
	system     *flow.System
	dispatcher *dispatch.Dispatcher
	handlers   map[string]TaskFunc
	storage    *storage.Registry
	handles    HandleStore
	ids        IDGenerator
	timer      Timer
	clock      *Clock
	queue      *jobQueue
	logger     *slog.Logger
	observer   func(Event)

	maxSteps        int
	maxRedeliveries int
	redeliveryDelay time.Duration
	dispatchOpts    []dispatch.Option

	// Touched only by the Run loop.
	quotas map[string]*QuotaEnforcer
}

// Option configures an Engine.
type Option func(*Engine)

// WithHandler registers the handler of task name.
func WithHandler(name string, fn TaskFunc) Option {
	return func(e *Engine) {
		e.handlers[name] = fn
	}
}

// WithStorage sets the result storage registry. A registry without a
// default backend gets an in-memory one.
func WithStorage(reg *storage.Registry) Option {
	return func(e *Engine) {
		e.storage = reg
	}
}

// WithHandleStore sets where dispatched handles are recorded.
func WithHandleStore(h HandleStore) Option {
	return func(e *Engine) {
		e.handles = h
	}
}

// WithIDGenerator sets the node instance id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithTimer sets the time source used for countdowns and throttling.
func WithTimer(t Timer) Option {
	return func(e *Engine) {
		e.timer = t
	}
}

// WithLogger sets the logger of the engine and its dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithObserver receives every trace event.
func WithObserver(fn func(Event)) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// WithMaxSteps sets the step quota for flows that set none.
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithRedelivery sets the redelivery limit and delay for transient errors.
func WithRedelivery(limit int, delay time.Duration) Option {
	return func(e *Engine) {
		e.maxRedeliveries = limit
		e.redeliveryDelay = delay
	}
}

// WithDispatchOptions passes options through to the dispatcher, for example
// dispatch.WithMigrator or dispatch.WithSelectiveRun.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(e *Engine) {
		e.dispatchOpts = append(e.dispatchOpts, opts...)
	}
}

// New creates an engine running the flows of sys.
func New(sys *flow.System, opts ...Option) *Engine {
	e := &Engine{
		system:          sys,
		handlers:        make(map[string]TaskFunc),
		ids:             UUIDv7Generator{},
		timer:           realTimer{},
		clock:           NewClock(),
		queue:           newJobQueue(),
		logger:          slog.Default(),
		maxSteps:        DefaultMaxSteps,
		maxRedeliveries: DefaultMaxRedeliveries,
		redeliveryDelay: DefaultRedeliveryDelay,
		quotas:          make(map[string]*QuotaEnforcer),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.storage == nil {
		e.storage = storage.NewRegistry()
	}
	if _, err := e.storage.Backend(storage.DefaultName); err != nil {
		e.storage.Register(storage.DefaultName, storage.NewMemory())
	}
	if e.handles == nil {
		e.handles = newMemHandles()
	}

	dopts := []dispatch.Option{
		dispatch.WithStorage(e.storage),
		dispatch.WithLogger(e.logger),
		dispatch.WithClock(e.timer.Now),
	}
	e.dispatcher = dispatch.New(sys, e, append(dopts, e.dispatchOpts...)...)
	return e
}

// StartFlow dispatches a new top-level instance of flowName and returns its
// id. The flow runs when Run is called.
func (e *Engine) StartFlow(ctx context.Context, flowName string, nodeArgs any) (string, error) {
	return e.start(ctx, flowName, nodeArgs, nil)
}

// StartSelective dispatches flowName restricted to what is needed to run
// targets.
func (e *Engine) StartSelective(ctx context.Context, flowName string, targets []string, nodeArgs any, opts selective.Options) (string, error) {
	sel, err := selective.Resolve(e.system, flowName, targets, opts)
	if err != nil {
		return "", fmt.Errorf("start selective %s: %w", flowName, err)
	}
	return e.start(ctx, flowName, nodeArgs, sel)
}

func (e *Engine) start(ctx context.Context, flowName string, nodeArgs any, sel *flow.Selection) (string, error) {
	f, ok := e.system.Flow(flowName)
	if !ok {
		return "", fmt.Errorf("unknown flow %q", flowName)
	}
	return e.Dispatch(ctx, dispatch.DispatchRequest{
		Kind:      flow.KindFlow,
		Name:      flowName,
		Queue:     f.Queue,
		NodeArgs:  nodeArgs,
		Selective: sel,
	})
}

// RunFlow starts flowName, runs the engine until idle and returns the
// flow's handle.
func (e *Engine) RunFlow(ctx context.Context, flowName string, nodeArgs any) (store.Handle, error) {
	id, err := e.StartFlow(ctx, flowName, nodeArgs)
	if err != nil {
		return store.Handle{}, err
	}
	if err := e.Run(ctx); err != nil {
		return store.Handle{}, err
	}
	return e.handles.GetHandle(ctx, id)
}

// Handle returns the recorded handle of a dispatched node.
func (e *Engine) Handle(ctx context.Context, id string) (store.Handle, error) {
	return e.handles.GetHandle(ctx, id)
}

// Children returns the handles dispatched by flow instance id, in dispatch
// order.
func (e *Engine) Children(ctx context.Context, id string) ([]store.Handle, error) {
	return e.handles.ListHandles(ctx, id)
}

// Dispatch implements dispatch.TaskQueue.
func (e *Engine) Dispatch(ctx context.Context, req dispatch.DispatchRequest) (string, error) {
	id := e.ids.Generate(req.Name)
	kind := store.KindTask
	if req.Kind == flow.KindFlow {
		kind = store.KindFlow
	}
	err := e.handles.CreateHandle(ctx, store.Handle{
		ID:       id,
		Kind:     kind,
		Name:     req.Name,
		FlowName: req.FlowName,
		ParentID: req.FlowID,
		Queue:    req.Queue,
		Args:     req.NodeArgs,
	})
	if err != nil {
		return "", fmt.Errorf("dispatch %s: %w", req.Name, err)
	}

	j := &job{
		id:      id,
		readyAt: e.timer.Now().Add(req.Countdown),
		seq:     e.clock.Next(),
	}
	if req.Kind == flow.KindFlow {
		data, err := encodeMessage(dispatch.Message{
			FlowName: req.Name,
			ID:       id,
			State: &flow.State{
				NodeArgs:  req.NodeArgs,
				Parent:    req.Parent,
				Selective: req.Selective,
			},
		})
		if err != nil {
			return "", fmt.Errorf("dispatch %s: %w", req.Name, err)
		}
		j.kind = jobFlow
		j.message = data
	} else {
		j.kind = jobTask
		j.flowID = req.FlowID
		j.flowName = req.FlowName
		j.taskName = req.Name
		j.nodeArgs = req.NodeArgs
		j.parent = req.Parent
	}
	e.queue.Push(j)

	e.emit(Event{
		Type:      EventDispatched,
		Node:      req.Name,
		ID:        id,
		ParentID:  req.FlowID,
		Countdown: req.Countdown,
	})
	return id, nil
}

// Poll implements dispatch.TaskQueue. A finished sub-flow reports its
// flow.Snapshot as the result.
func (e *Engine) Poll(ctx context.Context, id string) (dispatch.PollResult, error) {
	h, err := e.handles.GetHandle(ctx, id)
	if err != nil {
		return dispatch.PollResult{}, fmt.Errorf("poll %s: %w", id, err)
	}

	var res dispatch.PollResult
	switch h.Status {
	case store.StatusPending:
		return dispatch.PollResult{Status: dispatch.Pending}, nil
	case store.StatusSuccess:
		res.Status = dispatch.Success
	case store.StatusFailure:
		res.Status = dispatch.Failure
		res.Err = errors.New(h.Error)
	default:
		return dispatch.PollResult{}, fmt.Errorf("poll %s: unknown status %q", id, h.Status)
	}

	if h.Kind == store.KindFlow {
		snap, err := toSnapshot(h.Result)
		if err != nil {
			return dispatch.PollResult{}, fmt.Errorf("poll %s: %w", id, err)
		}
		res.Result = snap
	} else {
		res.Result = h.Result
	}
	return res, nil
}

// Run processes queued jobs until the queue drains or ctx is cancelled.
// Jobs with a countdown are waited out through the Timer; a job pushed
// while Run waits is considered after that wait ends.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		if err := ctx.Err(); err != nil {
			e.logger.Info("engine stopping: context cancelled")
			return err
		}

		j, ok := e.queue.Pop()
		if !ok {
			e.logger.Info("engine idle")
			return nil
		}

		if wait := j.readyAt.Sub(e.timer.Now()); wait > 0 {
			if err := e.timer.Sleep(ctx, wait); err != nil {
				e.queue.Push(j)
				e.logger.Info("engine stopping: context cancelled")
				return err
			}
		}

		switch j.kind {
		case jobTask:
			e.runTask(ctx, j)
		case jobFlow:
			e.runFlow(ctx, j)
		default:
			e.logger.Error("unknown job kind", "kind", j.kind, "id", j.id)
		}
	}
}

func (e *Engine) runTask(ctx context.Context, j *job) {
	log := e.logger.With("task", j.taskName, "task_id", j.id, "flow_id", j.flowID)

	result, err := e.invoke(ctx, j)
	if err == nil {
		err = e.storeResult(ctx, j, result)
	}
	if err != nil {
		log.Warn("task failed", "error", err)
		e.finish(ctx, j.id, store.StatusFailure, nil, err.Error())
		e.emit(Event{Type: EventTaskFailed, Node: j.taskName, ID: j.id, Error: err.Error()})
		return
	}

	log.Debug("task succeeded")
	e.finish(ctx, j.id, store.StatusSuccess, result, "")
	e.emit(Event{Type: EventTaskSucceeded, Node: j.taskName, ID: j.id})
}

// invoke runs the task handler, turning a panic into a task failure.
func (e *Engine) invoke(ctx context.Context, j *job) (result any, err error) {
	fn, ok := e.handlers[j.taskName]
	if !ok {
		return nil, newMissingHandlerError(j.flowID, j.taskName)
	}
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &RuntimeError{
				Code:    ErrCodeTaskPanic,
				Message: fmt.Sprint(r),
				FlowID:  j.flowID,
				Node:    j.taskName,
			}
		}
	}()
	return fn(ctx, TaskInput{
		FlowName: j.flowName,
		TaskName: j.taskName,
		ID:       j.id,
		NodeArgs: j.nodeArgs,
		Parent:   j.parent,
		Pool:     storage.NewPool(e.system, e.storage, j.flowName, j.parent),
	})
}

func (e *Engine) storeResult(ctx context.Context, j *job, result any) error {
	task, ok := e.system.Task(j.taskName)
	if !ok {
		return fmt.Errorf("unknown task %q", j.taskName)
	}
	backend, err := e.storage.Backend(task.Storage)
	if err != nil {
		return fmt.Errorf("store result of %s: %w", j.taskName, err)
	}
	if _, err := backend.Store(ctx, j.flowName, j.taskName, j.id, result); err != nil {
		return fmt.Errorf("store result of %s: %w", j.taskName, err)
	}
	return nil
}

func (e *Engine) runFlow(ctx context.Context, j *job) {
	msg, err := decodeMessage(j.message)
	if err != nil {
		e.failFlow(ctx, j.id, "", nil, err)
		return
	}
	log := e.logger.With("flow", msg.FlowName, "dispatcher_id", msg.ID)

	if err := e.quota(msg.FlowName, msg.ID).Check(msg.ID); err != nil {
		e.failFlow(ctx, msg.ID, msg.FlowName, nil, err)
		return
	}

	out, err := e.dispatcher.Step(ctx, msg)
	if err != nil {
		e.stepFailed(ctx, j, msg, err)
		return
	}

	switch o := out.(type) {
	case dispatch.Suspend:
		next, err := encodeMessage(dispatch.Message{FlowName: msg.FlowName, ID: msg.ID, State: o.State})
		if err != nil {
			e.failFlow(ctx, msg.ID, msg.FlowName, nil, err)
			return
		}
		if err := e.handles.SaveState(ctx, msg.ID, next); err != nil {
			log.Error("save state failed", "error", err)
		}
		e.queue.Push(&job{
			kind:    jobFlow,
			id:      msg.ID,
			readyAt: e.timer.Now().Add(o.Countdown),
			seq:     e.clock.Next(),
			message: next,
		})
		e.emit(Event{Type: EventFlowSuspended, Node: msg.FlowName, ID: msg.ID, Countdown: o.Countdown})

	case dispatch.Complete:
		delete(e.quotas, msg.ID)
		e.finish(ctx, msg.ID, store.StatusSuccess, o.Snapshot, "")
		e.emit(Event{Type: EventFlowCompleted, Node: msg.FlowName, ID: msg.ID})
	}
}

// stepFailed decides what a step error means for the flow instance.
func (e *Engine) stepFailed(ctx context.Context, j *job, msg dispatch.Message, err error) {
	log := e.logger.With("flow", msg.FlowName, "dispatcher_id", msg.ID)

	var tainted *migration.TaintedFlowError
	var flowErr *dispatch.FlowError

	switch {
	case dispatch.IsTransient(err) || migration.IsSkewError(err):
		if j.redeliveries >= e.maxRedeliveries {
			e.failFlow(ctx, msg.ID, msg.FlowName, nil, &RuntimeError{
				Code:    ErrCodeRedeliveryLimit,
				Message: err.Error(),
				FlowID:  msg.ID,
				Node:    msg.FlowName,
			})
			return
		}
		log.Warn("redelivering flow message", "error", err, "attempt", j.redeliveries+1)
		e.queue.Push(&job{
			kind:         jobFlow,
			id:           j.id,
			readyAt:      e.timer.Now().Add(e.redeliveryDelay),
			seq:          e.clock.Next(),
			message:      j.message,
			redeliveries: j.redeliveries + 1,
		})
		e.emit(Event{Type: EventFlowRedelivered, Node: msg.FlowName, ID: msg.ID, Countdown: e.redeliveryDelay, Error: err.Error()})

	case errors.As(err, &tainted) && tainted.Strategy == migration.StrategyRetry:
		fresh := dispatch.Message{
			FlowName: msg.FlowName,
			ID:       msg.ID,
			State: &flow.State{
				NodeArgs:  msg.State.NodeArgs,
				Parent:    msg.State.Parent,
				Selective: msg.State.Selective,
			},
		}
		data, encErr := encodeMessage(fresh)
		if encErr != nil {
			e.failFlow(ctx, msg.ID, msg.FlowName, nil, encErr)
			return
		}
		log.Warn("restarting tainted flow", "version", tainted.Version)
		if q, ok := e.quotas[msg.ID]; ok {
			q.Reset()
		}
		e.queue.Push(&job{
			kind:    jobFlow,
			id:      msg.ID,
			readyAt: e.timer.Now(),
			seq:     e.clock.Next(),
			message: data,
		})
		e.emit(Event{Type: EventFlowRestarted, Node: msg.FlowName, ID: msg.ID, Error: err.Error()})

	case errors.As(err, &flowErr):
		e.failFlow(ctx, msg.ID, msg.FlowName, flowErr.Snapshot, err)

	default:
		e.failFlow(ctx, msg.ID, msg.FlowName, nil, err)
	}
}

func (e *Engine) failFlow(ctx context.Context, id, flowName string, snapshot any, err error) {
	delete(e.quotas, id)
	e.logger.Warn("flow failed", "flow", flowName, "dispatcher_id", id, "error", err)
	e.finish(ctx, id, store.StatusFailure, snapshot, err.Error())
	e.emit(Event{Type: EventFlowFailed, Node: flowName, ID: id, Error: err.Error()})
}

func (e *Engine) finish(ctx context.Context, id string, status store.HandleStatus, result any, errMsg string) {
	if err := e.handles.FinishHandle(ctx, id, status, result, errMsg); err != nil {
		e.logger.Error("finish handle failed", "id", id, "status", status, "error", err)
	}
}

// quota returns the step quota of a flow instance, creating it on first use.
func (e *Engine) quota(flowName, id string) *QuotaEnforcer {
	if q, ok := e.quotas[id]; ok {
		return q
	}
	limit := e.maxSteps
	if f, ok := e.system.Flow(flowName); ok && f.MaxSteps > 0 {
		limit = f.MaxSteps
	}
	q := NewQuotaEnforcer(limit)
	e.quotas[id] = q
	return q
}

// QuotaCount returns the number of flow instances with a live quota.
func (e *Engine) QuotaCount() int {
	return len(e.quotas)
}
