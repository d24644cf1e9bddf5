package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/selinon/selinon-sub000/internal/flow"
)

// CycleWarning reports a loop in a flow graph or between flows.
//
// Edge cycles inside a flow are legal (polling loops, retries guarded by
// conditions) so they are reported, never rejected. A flow that contains
// itself as a sub-flow can never finish and is reported at warning level.
type CycleWarning struct {
	Flow    string   `json:"flow,omitempty"`
	Path    []string `json:"path"`
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// AnalyzeCycles finds strongly connected components in every flow's node
// graph and in the flow-contains-subflow graph.
//
// Node cycles in a flow without max_steps are warnings; with a step quota
// they are info. Sub-flow recursion is always a warning.
func AnalyzeCycles(sys *flow.System) []CycleWarning {
	warnings := []CycleWarning{}
	if sys == nil {
		return warnings
	}

	for _, name := range sys.FlowNames() {
		f, _ := sys.Flow(name)
		graph := flowGraph(f)
		level := "warning"
		if f.MaxSteps > 0 {
			level = "info"
		}
		for _, scc := range cyclicSCCs(graph) {
			path := reconstructCyclePath(scc, graph)
			warnings = append(warnings, CycleWarning{
				Flow:    name,
				Path:    path,
				Message: fmt.Sprintf("flow %s loops: %s", name, strings.Join(path, " → ")),
				Level:   level,
			})
		}
	}

	graph := make(dependencyGraph)
	for _, name := range sys.FlowNames() {
		graph[name] = sys.Subflows(name)
	}
	for _, scc := range cyclicSCCs(graph) {
		path := reconstructCyclePath(scc, graph)
		warnings = append(warnings, CycleWarning{
			Path:    path,
			Message: fmt.Sprintf("recursive sub-flow: %s", strings.Join(path, " → ")),
			Level:   "warning",
		})
	}

	return warnings
}

// dependencyGraph maps a node to the nodes it can start.
type dependencyGraph map[string][]string

// flowGraph links every source of an edge to every destination.
func flowGraph(f *flow.Flow) dependencyGraph {
	graph := make(dependencyGraph)
	for _, e := range f.Edges {
		for _, from := range e.From {
			graph[from] = appendUnique(graph[from], e.To...)
		}
		for _, to := range e.To {
			if graph[to] == nil {
				graph[to] = []string{}
			}
		}
	}
	for k := range graph {
		sort.Strings(graph[k])
	}
	return graph
}

func appendUnique(list []string, names ...string) []string {
	for _, n := range names {
		found := false
		for _, e := range list {
			if e == n {
				found = true
				break
			}
		}
		if !found {
			list = append(list, n)
		}
	}
	return list
}

// cyclicSCCs keeps components with more than one member or a self-loop.
func cyclicSCCs(graph dependencyGraph) [][]string {
	var out [][]string
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			out = append(out, scc)
		}
	}
	return out
}

func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order and each component is returned starting
// at its smallest member so results are stable.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	sort.Slice(sccs, func(i, j int) bool { return sccs[i][0] < sccs[j][0] })
	return sccs
}

// reconstructCyclePath walks from the first member of an SCC through other
// members until it returns to the start.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
