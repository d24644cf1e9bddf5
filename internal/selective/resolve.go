package selective

import (
	"fmt"
	"sort"

	"github.com/selinon/selinon-sub000/internal/flow"
)

// Options tune Resolve.
type Options struct {
	// FollowSubflows searches reachable sub-flows for the targets too.
	FollowSubflows bool
	// RunSubsequent also runs everything downstream of the targets.
	RunSubsequent bool
}

// Resolve computes the Selection needed to run targets in flowName.
func Resolve(sys *flow.System, flowName string, targets []string, opts Options) (*flow.Selection, error) {
	if _, ok := sys.Flow(flowName); !ok {
		return nil, fmt.Errorf("unknown flow %q", flowName)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no target nodes given")
	}
	for _, t := range targets {
		if _, ok := sys.Node(t); !ok {
			return nil, fmt.Errorf("unknown node %q", t)
		}
	}

	r := &resolver{
		sys:     sys,
		targets: toSet(targets),
		opts:    opts,
		sel: &flow.Selection{
			TaskNames:      sortedNames(toSet(targets)),
			FollowSubflows: opts.FollowSubflows,
			RunSubsequent:  opts.RunSubsequent,
		},
		memo:   make(map[string]map[string]bool),
		onPath: make(map[string]bool),
	}

	found := r.resolveFlow(flowName)
	var missing []string
	for _, t := range r.sel.TaskNames {
		if !found[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return nil, &NoPathError{Flow: flowName, Targets: missing}
	}
	return r.sel, nil
}

type resolver struct {
	sys     *flow.System
	targets map[string]bool
	opts    Options
	sel     *flow.Selection

	// memo caches the targets found per flow.
	memo   map[string]map[string]bool
	onPath map[string]bool
}

// resolveFlow records the selection for one flow and returns the targets
// reachable through it, including those reached inside sub-flows.
func (r *resolver) resolveFlow(flowName string) map[string]bool {
	if found, ok := r.memo[flowName]; ok {
		return found
	}
	if r.onPath[flowName] {
		return nil
	}
	r.onPath[flowName] = true
	defer delete(r.onPath, flowName)

	f, _ := r.sys.Flow(flowName)
	nodes := toSet(f.NodeNames())

	local := make(map[string]bool)
	for t := range r.targets {
		if nodes[t] {
			local[t] = true
		}
	}

	// Targets found inside a sub-flow make the sub-flow a local target.
	subFound := make(map[string]map[string]bool)
	if r.opts.FollowSubflows {
		for _, sub := range r.sys.Subflows(flowName) {
			found := r.resolveFlow(sub)
			if len(found) > 0 {
				subFound[sub] = found
				local[sub] = true
			}
		}
	}

	found := make(map[string]bool)
	if len(local) == 0 {
		r.memo[flowName] = found
		return found
	}

	selected := backwardSearch(f, sortedNames(local))
	reached := forwardPrune(f, selected, local)

	if r.opts.RunSubsequent {
		seeds := make(map[string]bool)
		for name := range local {
			if reached[name] {
				seeds[name] = true
			}
		}
		runSubsequent(f, selected, seeds)
	}

	for idx, names := range selected {
		r.sel.Require(flowName, idx, sortedNames(names)...)
	}

	for name := range local {
		if !reached[name] {
			continue
		}
		if r.targets[name] {
			found[name] = true
		}
		for t := range subFound[name] {
			found[t] = true
		}
	}
	r.memo[flowName] = found
	return found
}

type expansion struct {
	idx  int
	name string
}

// search is one partial backward path.
type search struct {
	frontier []string
	visited  map[string]bool
	expanded map[expansion]bool
	path     map[int]map[string]bool
}

func (s *search) clone() *search {
	out := &search{
		frontier: append([]string(nil), s.frontier...),
		visited:  make(map[string]bool, len(s.visited)),
		expanded: make(map[expansion]bool, len(s.expanded)),
		path:     make(map[int]map[string]bool, len(s.path)),
	}
	for k := range s.visited {
		out.visited[k] = true
	}
	for k := range s.expanded {
		out.expanded[k] = true
	}
	for idx, names := range s.path {
		out.path[idx] = make(map[string]bool, len(names))
		for n := range names {
			out.path[idx][n] = true
		}
	}
	return out
}

// backwardSearch unions every completed path leading to each target.
// The result maps edge index to the destinations that edge must start.
func backwardSearch(f *flow.Flow, targets []string) map[int]map[string]bool {
	union := make(map[int]map[string]bool)

	for _, target := range targets {
		worklist := []*search{{
			frontier: []string{target},
			visited:  map[string]bool{},
			expanded: map[expansion]bool{},
			path:     map[int]map[string]bool{},
		}}

		for len(worklist) > 0 {
			cur := worklist[len(worklist)-1]
			worklist = worklist[:len(worklist)-1]

			if len(cur.frontier) == 0 {
				for idx, names := range cur.path {
					if union[idx] == nil {
						union[idx] = make(map[string]bool)
					}
					for n := range names {
						union[idx][n] = true
					}
				}
				continue
			}

			name := cur.frontier[0]
			for idx, e := range f.Edges {
				if !e.HasDestination(name) || cur.expanded[expansion{idx, name}] {
					continue
				}
				next := cur.clone()
				next.expanded[expansion{idx, name}] = true
				next.visited[name] = true
				if next.path[idx] == nil {
					next.path[idx] = make(map[string]bool)
				}
				next.path[idx][name] = true
				next.frontier = next.frontier[1:]
				for _, src := range e.From {
					if !next.visited[src] && !contains(next.frontier, src) {
						next.frontier = append(next.frontier, src)
					}
				}
				worklist = append(worklist, next)
			}
		}
	}

	return union
}

// forwardPrune keeps only edges that can fire when starting from the
// starting edges, then drops edges that feed nothing needed. It returns the
// names the remaining selection starts.
func forwardPrune(f *flow.Flow, selected map[int]map[string]bool, local map[string]bool) map[string]bool {
	reached := make(map[string]bool)
	fired := make(map[int]bool)
	for changed := true; changed; {
		changed = false
		for idx := range selected {
			if fired[idx] || !allIn(f.Edges[idx].From, reached) {
				continue
			}
			fired[idx] = true
			changed = true
			for n := range selected[idx] {
				reached[n] = true
			}
		}
	}
	for idx := range selected {
		if !fired[idx] {
			delete(selected, idx)
		}
	}

	// Keep edges whose destinations are wanted locally or feed a kept edge.
	needed := make(map[string]bool)
	for n := range local {
		if reached[n] {
			needed[n] = true
		}
	}
	kept := make(map[int]bool)
	for changed := true; changed; {
		changed = false
		for idx, names := range selected {
			if kept[idx] {
				continue
			}
			for n := range names {
				if needed[n] {
					kept[idx] = true
					changed = true
					for _, src := range f.Edges[idx].From {
						needed[src] = true
					}
					break
				}
			}
		}
	}
	for idx := range selected {
		if !kept[idx] {
			delete(selected, idx)
		}
	}

	return reached
}

// runSubsequent treats seeds as finished and adds every edge that becomes
// satisfiable from them, requiring all of its destinations.
func runSubsequent(f *flow.Flow, selected map[int]map[string]bool, seeds map[string]bool) {
	satisfied := make(map[string]bool, len(seeds))
	for n := range seeds {
		satisfied[n] = true
	}
	forced := make(map[int]bool)
	for changed := true; changed; {
		changed = false
		for idx, e := range f.Edges {
			if forced[idx] || e.IsStart() || !allIn(e.From, satisfied) {
				continue
			}
			forced[idx] = true
			changed = true
			if selected[idx] == nil {
				selected[idx] = make(map[string]bool)
			}
			for _, n := range e.To {
				selected[idx][n] = true
				satisfied[n] = true
			}
		}
	}
}

func allIn(names []string, set map[string]bool) bool {
	for _, n := range names {
		if !set[n] {
			return false
		}
	}
	return true
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func sortedNames(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
