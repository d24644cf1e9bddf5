package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/selinon/selinon-sub000/internal/flow"
)

// fakeQueue records dispatches and answers polls from a result table.
// Ids are "<name>-<n>" with n counting dispatches of that name.
type fakeQueue struct {
	mu         sync.Mutex
	counts     map[string]int
	dispatched []DispatchRequest
	ids        []string
	results    map[string]PollResult
	pollErr    error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{counts: map[string]int{}, results: map[string]PollResult{}}
}

func (q *fakeQueue) Dispatch(_ context.Context, req DispatchRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counts[req.Name]++
	id := fmt.Sprintf("%s-%d", req.Name, q.counts[req.Name])
	q.dispatched = append(q.dispatched, req)
	q.ids = append(q.ids, id)
	return id, nil
}

func (q *fakeQueue) Poll(_ context.Context, id string) (PollResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pollErr != nil {
		return PollResult{}, q.pollErr
	}
	if r, ok := q.results[id]; ok {
		return r, nil
	}
	return PollResult{Status: Pending}, nil
}

func (q *fakeQueue) succeed(ids ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		q.results[id] = PollResult{Status: Success}
	}
}

func (q *fakeQueue) succeedWith(id string, result any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results[id] = PollResult{Status: Success, Result: result}
}

func (q *fakeQueue) fail(ids ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		q.results[id] = PollResult{Status: Failure, Err: errors.New("boom")}
	}
}

func (q *fakeQueue) names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.dispatched))
	for i, r := range q.dispatched {
		out[i] = r.Name
	}
	return out
}

func (q *fakeQueue) requests(name string) []DispatchRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []DispatchRequest
	for _, r := range q.dispatched {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

func edge(from []string, to ...string) flow.Edge {
	return flow.Edge{From: from, To: to}
}

func newSystem(t *testing.T, tasks []string, flows ...*flow.Flow) *flow.System {
	t.Helper()
	sys := flow.NewSystem()
	for _, n := range tasks {
		require.NoError(t, sys.AddTask(&flow.Task{TaskName: n}))
	}
	for _, f := range flows {
		if f.Failures == nil {
			f.Failures = flow.NewFallbackTrie()
		}
		require.NoError(t, sys.AddFlow(f))
	}
	return sys
}

// runner drives one flow instance step by step.
type runner struct {
	t     *testing.T
	d     *Dispatcher
	flow  string
	state *flow.State
}

func newRunner(t *testing.T, d *Dispatcher, flowName string) *runner {
	return &runner{t: t, d: d, flow: flowName, state: &flow.State{}}
}

// step runs one Step and expects a Suspend.
func (r *runner) step() Suspend {
	r.t.Helper()
	out, err := r.d.Step(context.Background(), Message{FlowName: r.flow, ID: "flow-1", State: r.state})
	require.NoError(r.t, err)
	s, ok := out.(Suspend)
	require.True(r.t, ok, "expected Suspend, got %T", out)
	r.state = s.State
	return s
}

// finish runs one Step and expects a Complete.
func (r *runner) finish() Complete {
	r.t.Helper()
	out, err := r.d.Step(context.Background(), Message{FlowName: r.flow, ID: "flow-1", State: r.state})
	require.NoError(r.t, err)
	c, ok := out.(Complete)
	require.True(r.t, ok, "expected Complete, got %T", out)
	return c
}

// stepErr runs one Step and returns its error.
func (r *runner) stepErr() error {
	r.t.Helper()
	_, err := r.d.Step(context.Background(), Message{FlowName: r.flow, ID: "flow-1", State: r.state})
	return err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
