package flow

import (
	"context"
	"sort"
	"strings"
)

// Pool is the read-only storage view handed to conditions and generators.
// It is scoped to one parent map: Get(name) returns the result of the node
// instance the parent map records for name.
type Pool interface {
	// Get retrieves the stored result of the named node.
	Get(ctx context.Context, nodeName string) (any, error)
	// ID returns the node instance id recorded for nodeName.
	ID(nodeName string) (string, bool)
	// SubflowResult retrieves the result of a task that finished inside the
	// named sub-flow source, using its propagated finished map.
	SubflowResult(ctx context.Context, subflowName, nodeName string) (any, error)
}

// Condition decides whether an edge fires for one combination of sources.
type Condition func(ctx context.Context, pool Pool, nodeArgs any) (bool, error)

// Generator produces the fan-out items of a foreach edge.
type Generator func(ctx context.Context, pool Pool, nodeArgs any) ([]any, error)

// AlwaysTrue is the condition of an edge declared without one.
func AlwaysTrue(context.Context, Pool, any) (bool, error) { return true, nil }

// Foreach turns one edge firing into one destination start per item.
type Foreach struct {
	Name string
	Func Generator
	// PropagateResult substitutes each item for the destination node args.
	PropagateResult bool
}

// Edge connects a set of source nodes to a set of destination nodes.
type Edge struct {
	From      []string
	To        []string
	Condition Condition
	// ConditionSource is a stable textual rendering of the condition, used
	// to describe edges inside migration artifacts.
	ConditionSource string
	Foreach         *Foreach
}

// HasSource reports whether name is one of the edge's sources.
func (e Edge) HasSource(name string) bool {
	for _, n := range e.From {
		if n == name {
			return true
		}
	}
	return false
}

// HasDestination reports whether name is one of the edge's destinations.
func (e Edge) HasDestination(name string) bool {
	for _, n := range e.To {
		if n == name {
			return true
		}
	}
	return false
}

// IsStart reports whether the edge has no sources.
func (e Edge) IsStart() bool {
	return len(e.From) == 0
}

// Eval evaluates the edge condition, treating a nil condition as true.
func (e Edge) Eval(ctx context.Context, pool Pool, nodeArgs any) (bool, error) {
	if e.Condition == nil {
		return true, nil
	}
	return e.Condition(ctx, pool, nodeArgs)
}

// Shape returns the normalized (sorted, deduplicated) source and
// destination sets. Two edges with equal shapes connect the same nodes.
func (e Edge) Shape() (from, to []string) {
	return normalize(e.From), normalize(e.To)
}

// ShapeKey renders Shape as a comparable string.
func (e Edge) ShapeKey() string {
	from, to := e.Shape()
	return strings.Join(from, ",") + "->" + strings.Join(to, ",")
}

func normalize(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
