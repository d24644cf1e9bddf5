package flow

import "sort"

// NodeRecord identifies one dispatched node instance.
type NodeRecord struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// ParentRef records where a source of a firing came from. A task source sets
// ID. A sub-flow source sets ID and, when finished propagation is enabled,
// the nested finished map. Compound propagation flattens sub-flow nodes into
// entries carrying IDs.
//
// Flow names the flow whose results hold the recorded ids. It is empty when
// that is the flow the parent map belongs to, and set for entries flattened
// out of a sub-flow or inherited from an enclosing flow.
type ParentRef struct {
	ID       string              `json:"id,omitempty"`
	IDs      []string            `json:"ids,omitempty"`
	Finished map[string][]string `json:"finished,omitempty"`
	Flow     string              `json:"flow,omitempty"`
}

// Parent maps a node name to its provenance.
type Parent map[string]ParentRef

// Lookup returns the node instance id recorded for name. For compound
// entries the most recent id wins.
func (p Parent) Lookup(name string) (string, bool) {
	ref, ok := p[name]
	if !ok {
		return "", false
	}
	if ref.ID != "" {
		return ref.ID, true
	}
	if len(ref.IDs) > 0 {
		return ref.IDs[len(ref.IDs)-1], true
	}
	return "", false
}

// Clone returns a deep copy.
func (p Parent) Clone() Parent {
	if p == nil {
		return nil
	}
	out := make(Parent, len(p))
	for k, v := range p {
		out[k] = ParentRef{
			ID:       v.ID,
			IDs:      append([]string(nil), v.IDs...),
			Finished: cloneIDMap(v.Finished),
			Flow:     v.Flow,
		}
	}
	return out
}

// Scoped returns a copy of p in which every entry without a Flow is bound
// to flowName. A sub-flow inheriting its parent's map uses it so lookups
// still reach the enclosing flow's results.
func (p Parent) Scoped(flowName string) Parent {
	out := p.Clone()
	for k, v := range out {
		if v.Flow == "" {
			v.Flow = flowName
			out[k] = v
		}
	}
	return out
}

// Snapshot is the terminal result of a flow: what finished and what failed.
type Snapshot struct {
	Finished map[string][]string `json:"finished_nodes"`
	Failed   map[string][]string `json:"failed_nodes"`
}

// State is the serialized progress of one flow instance. It is the body of
// every dispatcher message.
type State struct {
	ActiveNodes   []NodeRecord        `json:"active_nodes,omitempty"`
	FinishedNodes map[string][]string `json:"finished_nodes,omitempty"`
	FailedNodes   map[string][]string `json:"failed_nodes,omitempty"`

	// WaitingEdges holds indices of edges with at least one finished source.
	WaitingEdges []int `json:"waiting_edges,omitempty"`
	// TriggeredEdges holds indices of edges that fired at least once.
	TriggeredEdges []int `json:"triggered_edges,omitempty"`

	NodeArgs  any        `json:"node_args,omitempty"`
	Parent    Parent     `json:"parent,omitempty"`
	Selective *Selection `json:"selective,omitempty"`

	// MigrationVersion is nil until the first delivery adopts a version.
	MigrationVersion *int `json:"migration_version,omitempty"`
	// Retry is the countdown of the previous step, nil once done.
	Retry *int `json:"retry,omitempty"`
}

// IsEmpty reports whether the flow has not started yet.
func (s *State) IsEmpty() bool {
	return s == nil || (len(s.ActiveNodes) == 0 && len(s.FinishedNodes) == 0 &&
		len(s.FailedNodes) == 0 && len(s.WaitingEdges) == 0)
}

// Clone returns a deep copy. NodeArgs is shared; it is never mutated.
func (s *State) Clone() *State {
	if s == nil {
		return &State{}
	}
	out := &State{
		ActiveNodes:    append([]NodeRecord(nil), s.ActiveNodes...),
		FinishedNodes:  cloneIDMap(s.FinishedNodes),
		FailedNodes:    cloneIDMap(s.FailedNodes),
		WaitingEdges:   append([]int(nil), s.WaitingEdges...),
		TriggeredEdges: append([]int(nil), s.TriggeredEdges...),
		NodeArgs:       s.NodeArgs,
		Parent:         s.Parent.Clone(),
		Selective:      s.Selective.Clone(),
	}
	if s.MigrationVersion != nil {
		v := *s.MigrationVersion
		out.MigrationVersion = &v
	}
	if s.Retry != nil {
		v := *s.Retry
		out.Retry = &v
	}
	return out
}

// Snapshot returns a copy of the finished and failed maps.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Finished: nonNil(cloneIDMap(s.FinishedNodes)),
		Failed:   nonNil(cloneIDMap(s.FailedNodes)),
	}
}

// AddFinished records a finished node instance.
func (s *State) AddFinished(name, id string) {
	if s.FinishedNodes == nil {
		s.FinishedNodes = make(map[string][]string)
	}
	s.FinishedNodes[name] = append(s.FinishedNodes[name], id)
}

// AddFailed records a failed node instance.
func (s *State) AddFailed(name, id string) {
	if s.FailedNodes == nil {
		s.FailedNodes = make(map[string][]string)
	}
	s.FailedNodes[name] = append(s.FailedNodes[name], id)
}

// ConsumeFailed removes and returns the oldest failed id of name. The name
// disappears from FailedNodes once its list drains.
func (s *State) ConsumeFailed(name string) (string, bool) {
	ids := s.FailedNodes[name]
	if len(ids) == 0 {
		return "", false
	}
	id := ids[0]
	if len(ids) == 1 {
		delete(s.FailedNodes, name)
	} else {
		s.FailedNodes[name] = ids[1:]
	}
	return id, true
}

// FailedNames returns the failed node names, sorted.
func (s *State) FailedNames() []string {
	out := make([]string, 0, len(s.FailedNodes))
	for k := range s.FailedNodes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AddWaiting marks an edge index as waiting. The set stays sorted.
func (s *State) AddWaiting(idx int) {
	s.WaitingEdges = insertSorted(s.WaitingEdges, idx)
}

// IsWaiting reports whether the edge index is waiting.
func (s *State) IsWaiting(idx int) bool {
	return containsSorted(s.WaitingEdges, idx)
}

// AddTriggered marks an edge index as fired.
func (s *State) AddTriggered(idx int) {
	s.TriggeredEdges = insertSorted(s.TriggeredEdges, idx)
}

// IsTriggered reports whether the edge index already fired.
func (s *State) IsTriggered(idx int) bool {
	return containsSorted(s.TriggeredEdges, idx)
}

// ProgressNames returns the set of finished and active node names.
func (s *State) ProgressNames() map[string]bool {
	names := make(map[string]bool, len(s.FinishedNodes)+len(s.ActiveNodes))
	for n := range s.FinishedNodes {
		names[n] = true
	}
	for _, r := range s.ActiveNodes {
		names[r.Name] = true
	}
	return names
}

// IsActive reports whether a node of the given name is still pending.
func (s *State) IsActive(name string) bool {
	for _, r := range s.ActiveNodes {
		if r.Name == name {
			return true
		}
	}
	return false
}

func insertSorted(set []int, v int) []int {
	i := sort.SearchInts(set, v)
	if i < len(set) && set[i] == v {
		return set
	}
	set = append(set, 0)
	copy(set[i+1:], set[i:])
	set[i] = v
	return set
}

func containsSorted(set []int, v int) bool {
	i := sort.SearchInts(set, v)
	return i < len(set) && set[i] == v
}

func cloneIDMap(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func nonNil(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}
	return m
}
