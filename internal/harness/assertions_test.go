package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selinon/selinon-sub000/internal/flow"
	"github.com/selinon/selinon-sub000/internal/store"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Type: "dispatched", Node: "chain", ID: "chain-1"},
		{Type: "dispatched", Node: "A", ID: "A-1", ParentID: "chain-1"},
		{Type: "flow_suspended", Node: "chain", ID: "chain-1", Countdown: "2s"},
		{Type: "task_succeeded", Node: "A", ID: "A-1"},
		{Type: "dispatched", Node: "B", ID: "B-1", ParentID: "chain-1"},
		{Type: "flow_suspended", Node: "chain", ID: "chain-1", Countdown: "2s"},
		{Type: "task_failed", Node: "B", ID: "B-1", Error: "boom"},
	}
}

func TestTraceEvent_String(t *testing.T) {
	trace := sampleTrace()
	assert.Equal(t, "dispatched A A-1 parent=chain-1", trace[1].String())
	assert.Equal(t, "flow_suspended chain chain-1 countdown=2s", trace[2].String())
	assert.Equal(t, `task_failed B B-1 error="boom"`, trace[6].String())
	assert.Equal(t, "task_failed B", trace[6].Key())
}

func TestAssertTraceContains(t *testing.T) {
	assert.NoError(t, assertTraceContains(sampleTrace(), Assertion{Event: "task_failed B"}))

	err := assertTraceContains(sampleTrace(), Assertion{Event: "task_succeeded B"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Equal(t, "not found in trace", ae.Actual)
}

func TestAssertTraceOrder_Correct(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{
		Events: []string{"dispatched A", "task_succeeded A", "task_failed B"},
	})
	assert.NoError(t, err)
}

func TestAssertTraceOrder_WrongOrder(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{
		Events: []string{"dispatched B", "dispatched A"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatched B (pos 5) should be before dispatched A (pos 2)")
}

func TestAssertTraceOrder_MissingEvent(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{
		Events: []string{"dispatched A", "flow_completed chain"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing event: flow_completed chain")
}

func TestAssertTraceOrder_UsesFirstOccurrence(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{
		Events: []string{"flow_suspended chain", "task_succeeded A"},
	})
	assert.NoError(t, err)
}

func TestAssertTraceCount(t *testing.T) {
	tests := []struct {
		event   string
		count   int
		wantErr bool
	}{
		{"flow_suspended chain", 2, false},
		{"flow_suspended chain", 1, true},
		{"flow_suspended chain", 3, true},
		{"dispatched C", 0, false},
	}
	for _, tt := range tests {
		err := assertTraceCount(sampleTrace(), Assertion{Event: tt.event, Count: tt.count})
		if tt.wantErr {
			assert.Error(t, err, "%s x%d", tt.event, tt.count)
		} else {
			assert.NoError(t, err, "%s x%d", tt.event, tt.count)
		}
	}
}

func TestAssertFinalStatus(t *testing.T) {
	result := &Result{Status: store.StatusFailure}
	assert.NoError(t, assertFinalStatus(result, Assertion{Status: "failure"}))

	err := assertFinalStatus(result, Assertion{Type: AssertFinalStatus, Status: "success"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: success")
	assert.Contains(t, err.Error(), "Actual: failure")
}

func TestAssertNodeCount(t *testing.T) {
	nodes := map[string][]string{"A": {"A-1", "A-2"}}

	assert.NoError(t, assertNodeCount(Assertion{Type: AssertFinished, Node: "A", Count: 2}, nodes))
	assert.NoError(t, assertNodeCount(Assertion{Type: AssertFinished, Node: "B", Count: 0}, nodes))
	assert.Error(t, assertNodeCount(Assertion{Type: AssertFinished, Node: "A", Count: 1}, nodes))
}

func TestEvaluateAssertions(t *testing.T) {
	result := &Result{
		Trace:  sampleTrace(),
		Status: store.StatusSuccess,
		Snapshot: flow.Snapshot{
			Finished: map[string][]string{"A": {"A-1"}},
			Failed:   map[string][]string{"B": {"B-1"}},
		},
	}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Event: "dispatched A"},
		{Type: AssertFinished, Node: "A", Count: 1},
		{Type: AssertFailed, Node: "B", Count: 1},
	})
	assert.Empty(t, errs)

	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Event: "dispatched A"},
		{Type: AssertFailed, Node: "A", Count: 1},
		{Type: "bogus"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertions[1]")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 occurrences of dispatched A",
		Actual:   "0 occurrences",
		Trace:    sampleTrace()[:2],
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Full trace:")
	assert.Contains(t, msg, "[2] dispatched A A-1 parent=chain-1")
}
