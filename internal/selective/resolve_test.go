package selective

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selinon/selinon-sub000/internal/flow"
)

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
		require.NoError(t, sys.AddFlow(f))
	}
	return sys
}

func diamond(t *testing.T) *flow.System {
	return newSystem(t, []string{"A", "B", "C", "D", "E"}, &flow.Flow{
		FlowName: "f",
		Edges: []flow.Edge{
			edge(nil, "A"),                // 0
			edge([]string{"A"}, "B", "C"), // 1
			edge([]string{"B", "C"}, "D"), // 2
			edge([]string{"D"}, "E"),      // 3
		},
	})
}

func TestResolve_Chain(t *testing.T) {
	sel, err := Resolve(diamond(t), "f", []string{"B"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, sel.TaskNames)
	assert.Equal(t, map[int][]string{
		0: {"A"},
		1: {"B"},
	}, sel.Edges["f"])
}

func TestResolve_FanInRequiresAllSources(t *testing.T) {
	sel, err := Resolve(diamond(t), "f", []string{"D"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, map[int][]string{
		0: {"A"},
		1: {"B", "C"},
		2: {"D"},
	}, sel.Edges["f"])
	assert.False(t, sel.EdgeAllowed("f", 3))
}

func TestResolve_UnionOfAlternativePaths(t *testing.T) {
	sys := newSystem(t, []string{"A", "B", "T"}, &flow.Flow{
		FlowName: "f",
		Edges: []flow.Edge{
			edge(nil, "A", "B"),      // 0
			edge([]string{"A"}, "T"), // 1
			edge([]string{"B"}, "T"), // 2
		},
	})

	sel, err := Resolve(sys, "f", []string{"T"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[int][]string{
		0: {"A", "B"},
		1: {"T"},
		2: {"T"},
	}, sel.Edges["f"])
}

func TestResolve_CycleTraversedOnce(t *testing.T) {
	sys := newSystem(t, []string{"A", "B", "T"}, &flow.Flow{
		FlowName: "f",
		Edges: []flow.Edge{
			edge(nil, "A"),           // 0
			edge([]string{"A"}, "B"), // 1
			edge([]string{"B"}, "A"), // 2
			edge([]string{"A"}, "T"), // 3
		},
	})

	sel, err := Resolve(sys, "f", []string{"T"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[int][]string{
		0: {"A"},
		1: {"B"},
		2: {"A"},
		3: {"T"},
	}, sel.Edges["f"])
}

func TestResolve_NoPath(t *testing.T) {
	sys := newSystem(t, []string{"A", "B", "C", "T"}, &flow.Flow{
		FlowName: "f",
		Edges: []flow.Edge{
			edge(nil, "C"),
			edge([]string{"A"}, "B"),
			edge([]string{"B"}, "A"),
			edge([]string{"C", "A"}, "T"),
		},
	})

	_, err := Resolve(sys, "f", []string{"T"}, Options{})
	require.Error(t, err)
	assert.True(t, IsNoPathError(err))

	var np *NoPathError
	require.ErrorAs(t, err, &np)
	assert.Equal(t, []string{"T"}, np.Targets)
	assert.Equal(t, "f", np.Flow)
}

func TestResolve_NodeOutsideFlow(t *testing.T) {
	sys := newSystem(t, []string{"A", "X"}, &flow.Flow{
		FlowName: "f",
		Edges:    []flow.Edge{edge(nil, "A")},
	})

	_, err := Resolve(sys, "f", []string{"X"}, Options{})
	assert.True(t, IsNoPathError(err))
}

func TestResolve_InvalidInput(t *testing.T) {
	sys := diamond(t)

	_, err := Resolve(sys, "missing", []string{"A"}, Options{})
	assert.Error(t, err)
	_, err = Resolve(sys, "f", nil, Options{})
	assert.Error(t, err)
	_, err = Resolve(sys, "f", []string{"nope"}, Options{})
	assert.Error(t, err)
	assert.False(t, IsNoPathError(err))
}

func TestResolve_RunSubsequent(t *testing.T) {
	sel, err := Resolve(diamond(t), "f", []string{"B"}, Options{RunSubsequent: true})
	require.NoError(t, err)

	// C is not a dependency of B, so {B,C}->D cannot become satisfied.
	assert.Equal(t, map[int][]string{
		0: {"A"},
		1: {"B"},
	}, sel.Edges["f"])

	sel, err = Resolve(diamond(t), "f", []string{"A"}, Options{RunSubsequent: true})
	require.NoError(t, err)
	assert.Equal(t, map[int][]string{
		0: {"A"},
		1: {"B", "C"},
		2: {"D"},
		3: {"E"},
	}, sel.Edges["f"])
	assert.True(t, sel.RunSubsequent)
}

func TestResolve_RunSubsequentForcesAllDestinations(t *testing.T) {
	sys := newSystem(t, []string{"A", "T", "X", "Y"}, &flow.Flow{
		FlowName: "f",
		Edges: []flow.Edge{
			edge(nil, "A"),                // 0
			edge([]string{"A"}, "T"),      // 1
			edge([]string{"T"}, "Y", "X"), // 2
			edge([]string{"Y"}, "T"),      // 3
		},
	})

	sel, err := Resolve(sys, "f", []string{"T"}, Options{RunSubsequent: true})
	require.NoError(t, err)
	assert.Equal(t, map[int][]string{
		0: {"A"},
		1: {"T"},
		2: {"X", "Y"},
		3: {"T"},
	}, sel.Edges["f"])
}

func TestResolve_FollowSubflows(t *testing.T) {
	inner := &flow.Flow{
		FlowName: "inner",
		Edges: []flow.Edge{
			edge(nil, "X"),           // 0
			edge([]string{"X"}, "T"), // 1
			edge([]string{"X"}, "Z"), // 2
		},
	}
	outer := &flow.Flow{
		FlowName: "outer",
		Edges: []flow.Edge{
			edge(nil, "A"),               // 0
			edge([]string{"A"}, "inner"), // 1
			edge([]string{"A"}, "B"),     // 2
		},
	}
	sys := newSystem(t, []string{"A", "B", "X", "T", "Z"}, outer, inner)

	_, err := Resolve(sys, "outer", []string{"T"}, Options{})
	assert.True(t, IsNoPathError(err))

	sel, err := Resolve(sys, "outer", []string{"T"}, Options{FollowSubflows: true})
	require.NoError(t, err)
	assert.Equal(t, map[int][]string{
		0: {"A"},
		1: {"inner"},
	}, sel.Edges["outer"])
	assert.Equal(t, map[int][]string{
		0: {"X"},
		1: {"T"},
	}, sel.Edges["inner"])
	assert.True(t, sel.HasFlow("inner"))
}

func TestResolve_RecursiveSubflowTerminates(t *testing.T) {
	a := &flow.Flow{FlowName: "a", Edges: []flow.Edge{edge(nil, "b"), edge(nil, "T")}}
	b := &flow.Flow{FlowName: "b", Edges: []flow.Edge{edge(nil, "a")}}
	sys := newSystem(t, []string{"T"}, a, b)

	sel, err := Resolve(sys, "a", []string{"T"}, Options{FollowSubflows: true})
	require.NoError(t, err)
	assert.True(t, sel.EdgeAllowed("a", 1))
}
