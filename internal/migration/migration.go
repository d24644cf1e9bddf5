package migration

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/selinon/selinon-sub000/internal/flow"
)

// Strategy decides what happens to a flow instance its migration taints.
type Strategy string

const (
	// StrategyIgnore continues with the best-effort translated state.
	StrategyIgnore Strategy = "IGNORE"
	// StrategyRetry drops progress and restarts the flow.
	StrategyRetry Strategy = "RETRY"
	// StrategyFail fails the flow.
	StrategyFail Strategy = "FAIL"
)

// Rank orders strategies IGNORE < RETRY < FAIL.
func (s Strategy) Rank() int {
	switch s {
	case StrategyIgnore:
		return 0
	case StrategyRetry:
		return 1
	case StrategyFail:
		return 2
	default:
		return -1
	}
}

// ParseStrategy accepts the strategy name in any case.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToUpper(strings.TrimSpace(s)))
	if st.Rank() < 0 {
		return "", fmt.Errorf("unknown tainted flow strategy %q", s)
	}
	return st, nil
}

// Stronger returns the higher ranked of a and b.
func Stronger(a, b Strategy) Strategy {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// EdgeDescription describes a removed edge for diagnostics.
type EdgeDescription struct {
	From      []string `json:"from"`
	To        []string `json:"to"`
	Condition string   `json:"condition"`
}

// FlowMigration rewrites one flow's edge indices from one version to the
// next. Map keys are edge indices rendered as decimal strings.
type FlowMigration struct {
	// Translation maps an old index to its new index, or nil to drop it.
	Translation map[string]*int `json:"translation"`
	// TaintedEdges are old edges with no identical new edge.
	TaintedEdges map[string]EdgeDescription `json:"tainted_edges"`
	// TaintingNodes maps new edges with no identical old edge to their
	// source names.
	TaintingNodes map[string][]string `json:"tainting_nodes"`
}

// Changed reports whether applying the migration can alter any state.
func (fm FlowMigration) Changed() bool {
	if len(fm.TaintedEdges) > 0 || len(fm.TaintingNodes) > 0 {
		return true
	}
	for k, v := range fm.Translation {
		if v == nil || strconv.Itoa(*v) != k {
			return true
		}
	}
	return false
}

// Migration is one versioned artifact covering every changed flow.
type Migration struct {
	Flows               map[string]FlowMigration `json:"migration"`
	TaintedFlowStrategy Strategy                 `json:"tainted_flow_strategy"`
}

// Empty reports whether the artifact changes no flow.
func (m *Migration) Empty() bool {
	return m == nil || len(m.Flows) == 0
}

// Diff compares two edge tables. Edges with identical normalized source and
// destination sets are matched in order of appearance; conditions do not
// take part in matching.
func Diff(oldEdges, newEdges []flow.Edge) FlowMigration {
	fm := FlowMigration{
		Translation:   make(map[string]*int),
		TaintedEdges:  make(map[string]EdgeDescription),
		TaintingNodes: make(map[string][]string),
	}

	candidates := make(map[string][]int)
	for j, e := range newEdges {
		k := e.ShapeKey()
		candidates[k] = append(candidates[k], j)
	}

	matchedNew := make(map[int]bool)
	var unmatchedOld []int
	for i, e := range oldEdges {
		k := e.ShapeKey()
		if c := candidates[k]; len(c) > 0 {
			j := c[0]
			candidates[k] = c[1:]
			matchedNew[j] = true
			fm.Translation[strconv.Itoa(i)] = &j
			continue
		}
		unmatchedOld = append(unmatchedOld, i)
	}

	var unmatchedNew []int
	for j := range newEdges {
		if !matchedNew[j] {
			unmatchedNew = append(unmatchedNew, j)
		}
	}

	// Best effort: keep a removed edge's progress on a new edge with the
	// same sources.
	used := make(map[int]bool)
	for _, i := range unmatchedOld {
		old := oldEdges[i]
		from, to := old.Shape()
		var target *int
		for _, j := range unmatchedNew {
			newFrom, _ := newEdges[j].Shape()
			if !used[j] && equalNames(from, newFrom) {
				jj := j
				target = &jj
				used[j] = true
				break
			}
		}
		fm.Translation[strconv.Itoa(i)] = target
		fm.TaintedEdges[strconv.Itoa(i)] = EdgeDescription{
			From:      from,
			To:        to,
			Condition: old.ConditionSource,
		}
	}

	for _, j := range unmatchedNew {
		from, _ := newEdges[j].Shape()
		fm.TaintingNodes[strconv.Itoa(j)] = from
	}

	return fm
}

// Generate diffs every flow present in both systems. Flows that were added
// or removed have no running instances to migrate and are skipped, as are
// unchanged flows.
func Generate(oldSys, newSys *flow.System, strategy Strategy) (*Migration, error) {
	if strategy.Rank() < 0 {
		return nil, fmt.Errorf("unknown tainted flow strategy %q", strategy)
	}
	m := &Migration{
		Flows:               make(map[string]FlowMigration),
		TaintedFlowStrategy: strategy,
	}
	for _, name := range newSys.FlowNames() {
		oldFlow, ok := oldSys.Flow(name)
		if !ok {
			continue
		}
		newFlow, _ := newSys.Flow(name)
		fm := Diff(oldFlow.Edges, newFlow.Edges)
		if fm.Changed() {
			m.Flows[name] = fm
		}
	}
	return m, nil
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sortedIndexKeys returns the map's index keys in numeric order.
func sortedIndexKeys[V any](m map[string]V) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		if i, err := strconv.Atoi(k); err == nil {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}
