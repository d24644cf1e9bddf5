package flow

import "sort"

// Selection restricts a flow run to the part of the graph needed to reach
// a set of target nodes. It is produced by the selective package and
// carried in State so sub-flows inherit it.
type Selection struct {
	// TaskNames are the requested targets. They always run.
	TaskNames []string `json:"task_names"`
	// Edges maps flow name -> edge index -> destinations allowed to start.
	Edges map[string]map[int][]string `json:"waiting_edges_subset"`

	FollowSubflows bool `json:"follow_subflows,omitempty"`
	RunSubsequent  bool `json:"run_subsequent,omitempty"`
}

// HasFlow reports whether the selection constrains the given flow.
func (s *Selection) HasFlow(flowName string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Edges[flowName]
	return ok
}

// EdgeAllowed reports whether edge idx of flowName may fire.
func (s *Selection) EdgeAllowed(flowName string, idx int) bool {
	if s == nil {
		return true
	}
	_, ok := s.Edges[flowName][idx]
	return ok
}

// DestinationAllowed reports whether node may be started by edge idx.
func (s *Selection) DestinationAllowed(flowName string, idx int, node string) bool {
	if s == nil {
		return true
	}
	for _, n := range s.Edges[flowName][idx] {
		if n == node {
			return true
		}
	}
	return false
}

// IsTarget reports whether name was explicitly requested.
func (s *Selection) IsTarget(name string) bool {
	if s == nil {
		return false
	}
	for _, n := range s.TaskNames {
		if n == name {
			return true
		}
	}
	return false
}

// Require adds node to the allowed destinations of edge idx in flowName.
func (s *Selection) Require(flowName string, idx int, nodes ...string) {
	if s.Edges == nil {
		s.Edges = make(map[string]map[int][]string)
	}
	edges, ok := s.Edges[flowName]
	if !ok {
		edges = make(map[int][]string)
		s.Edges[flowName] = edges
	}
	seen := make(map[string]bool, len(edges[idx])+len(nodes))
	for _, n := range edges[idx] {
		seen[n] = true
	}
	for _, n := range nodes {
		seen[n] = true
	}
	edges[idx] = sortedKeys(seen)
}

// EdgeIndices returns the allowed edge indices of flowName, sorted.
func (s *Selection) EdgeIndices(flowName string) []int {
	if s == nil {
		return nil
	}
	out := make([]int, 0, len(s.Edges[flowName]))
	for idx := range s.Edges[flowName] {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Clone returns a deep copy.
func (s *Selection) Clone() *Selection {
	if s == nil {
		return nil
	}
	out := &Selection{
		TaskNames:      append([]string(nil), s.TaskNames...),
		FollowSubflows: s.FollowSubflows,
		RunSubsequent:  s.RunSubsequent,
	}
	if s.Edges != nil {
		out.Edges = make(map[string]map[int][]string, len(s.Edges))
		for f, edges := range s.Edges {
			m := make(map[int][]string, len(edges))
			for idx, names := range edges {
				m[idx] = append([]string(nil), names...)
			}
			out.Edges[f] = m
		}
	}
	return out
}
