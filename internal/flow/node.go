package flow

import (
	"fmt"
	"sort"
	"time"
)

// NodeKind distinguishes the two node variants.
type NodeKind int

const (
	// KindTask is a leaf unit of work executed by the task queue.
	KindTask NodeKind = iota + 1
	// KindFlow is a nested flow whose result is a Snapshot.
	KindFlow
)

// String returns the lowercase kind name used in logs and payloads.
func (k NodeKind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindFlow:
		return "flow"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Node is the capability surface common to tasks and flows.
type Node interface {
	Name() string
	Kind() NodeKind
	// QueueName is the queue the node is dispatched to.
	QueueName() string
	// ThrottleInterval is the minimum time between two dispatches of the node.
	ThrottleInterval() time.Duration
}

// Task is a leaf node.
type Task struct {
	TaskName string
	Queue    string
	// Storage names the result backend the task writes to. Empty selects
	// the default backend.
	Storage  string
	Throttle time.Duration
}

func (t *Task) Name() string                    { return t.TaskName }
func (t *Task) Kind() NodeKind                  { return KindTask }
func (t *Task) QueueName() string               { return t.Queue }
func (t *Task) ThrottleInterval() time.Duration { return t.Throttle }

// Selector matches node names. All takes precedence over Names.
type Selector struct {
	All   bool
	Names map[string]bool
}

// SelectNames builds a Selector matching exactly the given names.
func SelectNames(names ...string) Selector {
	s := Selector{Names: make(map[string]bool, len(names))}
	for _, n := range names {
		s.Names[n] = true
	}
	return s
}

// Has reports whether name is selected.
func (s Selector) Has(name string) bool {
	return s.All || s.Names[name]
}

// Empty reports whether the selector matches nothing.
func (s Selector) Empty() bool {
	return !s.All && len(s.Names) == 0
}

// Propagation controls what a flow hands down to its sub-flows and how
// sub-flow provenance shows up in parent maps. Each selector is evaluated
// against the sub-flow name.
type Propagation struct {
	// NodeArgs passes the flow's node arguments to the sub-flow.
	NodeArgs Selector
	// Parent passes the parent map of the firing combination to the sub-flow.
	Parent Selector
	// Finished nests a finished sub-flow's finished map under its name.
	Finished Selector
	// CompoundFinished flattens a finished sub-flow's finished map into the
	// parent map instead of nesting it.
	CompoundFinished Selector
}

// StrategySpec binds a flow to a named retry strategy and its parameters.
// Parameters are seconds.
type StrategySpec struct {
	Name   string
	Params map[string]int
}

// Flow is a named graph of nodes.
type Flow struct {
	FlowName string
	Queue    string
	Throttle time.Duration

	// Edges is the positional edge table.
	Edges []Edge

	// Failures maps combinations of failed node names to recovery specs.
	Failures *FallbackTrie

	// NoWait nodes are dispatched but never tracked for completion.
	NoWait map[string]bool

	// EagerFailures nodes fail the whole flow as soon as they fail.
	EagerFailures Selector

	Propagate Propagation
	Strategy  StrategySpec

	// MaxSteps bounds the number of dispatcher steps of one instance.
	// Zero means unbounded.
	MaxSteps int
}

func (f *Flow) Name() string                    { return f.FlowName }
func (f *Flow) Kind() NodeKind                  { return KindFlow }
func (f *Flow) QueueName() string               { return f.Queue }
func (f *Flow) ThrottleInterval() time.Duration { return f.Throttle }

// IsNoWait reports whether name is a no-wait node of the flow.
func (f *Flow) IsNoWait(name string) bool {
	return f.NoWait[name]
}

// EdgesFrom returns the indices of edges that list name as a source.
func (f *Flow) EdgesFrom(name string) []int {
	var idx []int
	for i, e := range f.Edges {
		if e.HasSource(name) {
			idx = append(idx, i)
		}
	}
	return idx
}

// StartEdges returns the indices of edges with no sources.
func (f *Flow) StartEdges() []int {
	var idx []int
	for i, e := range f.Edges {
		if e.IsStart() {
			idx = append(idx, i)
		}
	}
	return idx
}

// NodeNames returns every node name referenced by the edge table, sorted.
func (f *Flow) NodeNames() []string {
	seen := make(map[string]bool)
	for _, e := range f.Edges {
		for _, n := range e.From {
			seen[n] = true
		}
		for _, n := range e.To {
			seen[n] = true
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
