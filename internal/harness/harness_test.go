package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selinon/selinon-sub000/internal/store"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_InlineDefinition(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "inline",
		Description: "d",
		Definition:  inlineChain,
		Flow:        "chain",
		Tasks:       map[string]TaskOutcome{"A": {Result: map[string]any{"n": 1}}},
		Assertions:  []Assertion{{Type: AssertFinished, Node: "A", Count: 1}},
	})
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, store.StatusSuccess, result.Status)
	assert.Equal(t, map[string][]string{"A": {"A-1"}, "B": {"B-1"}}, result.Snapshot.Finished)
	assert.Len(t, result.Trace, 8)
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "wrong",
		Description: "d",
		Definition:  inlineChain,
		Flow:        "chain",
		Assertions: []Assertion{
			{Type: AssertFinalStatus, Status: "failure"},
			{Type: AssertTraceContains, Event: "dispatched A"},
		},
	})
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "assertions[0]")
}

func TestRun_FailTimes(t *testing.T) {
	h := &Harness{
		scenario: &Scenario{Tasks: map[string]TaskOutcome{"A": {Fail: "flaky", FailTimes: 1, Result: "ok"}}},
		calls:    make(map[string]int),
	}
	fn := h.handler("A")

	_, err := fn(t.Context(), engineInput())
	assert.EqualError(t, err, "flaky")

	got, err := fn(t.Context(), engineInput())
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestRun_MaxSteps(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "quota",
		Description: "d",
		Definition:  inlineChain,
		Flow:        "chain",
		MaxSteps:    1,
		Assertions: []Assertion{
			{Type: AssertFinalStatus, Status: "failure"},
			{Type: AssertTraceCount, Event: "dispatched B", Count: 0},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_UnknownFlow(t *testing.T) {
	_, err := Run(&Scenario{Name: "x", Definition: inlineChain, Flow: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flow")
}

func TestRun_BadDefinition(t *testing.T) {
	_, err := Run(&Scenario{Name: "x", Definition: "flows: [", Flow: "chain"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario x")
}
