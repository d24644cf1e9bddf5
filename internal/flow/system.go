package flow

import (
	"fmt"
	"sort"
)

// System is the complete set of tasks and flows known to a worker.
type System struct {
	tasks map[string]*Task
	flows map[string]*Flow
}

// NewSystem returns an empty System.
func NewSystem() *System {
	return &System{
		tasks: make(map[string]*Task),
		flows: make(map[string]*Flow),
	}
}

// AddTask registers a task. Names are shared between tasks and flows.
func (s *System) AddTask(t *Task) error {
	if _, ok := s.flows[t.TaskName]; ok {
		return fmt.Errorf("node %q already defined as a flow", t.TaskName)
	}
	if _, ok := s.tasks[t.TaskName]; ok {
		return fmt.Errorf("duplicate task %q", t.TaskName)
	}
	s.tasks[t.TaskName] = t
	return nil
}

// AddFlow registers a flow.
func (s *System) AddFlow(f *Flow) error {
	if _, ok := s.tasks[f.FlowName]; ok {
		return fmt.Errorf("node %q already defined as a task", f.FlowName)
	}
	if _, ok := s.flows[f.FlowName]; ok {
		return fmt.Errorf("duplicate flow %q", f.FlowName)
	}
	s.flows[f.FlowName] = f
	return nil
}

// Node returns the task or flow with the given name.
func (s *System) Node(name string) (Node, bool) {
	if t, ok := s.tasks[name]; ok {
		return t, true
	}
	if f, ok := s.flows[name]; ok {
		return f, true
	}
	return nil, false
}

// Flow returns the named flow.
func (s *System) Flow(name string) (*Flow, bool) {
	f, ok := s.flows[name]
	return f, ok
}

// Task returns the named task.
func (s *System) Task(name string) (*Task, bool) {
	t, ok := s.tasks[name]
	return t, ok
}

// IsFlow reports whether name is a flow.
func (s *System) IsFlow(name string) bool {
	_, ok := s.flows[name]
	return ok
}

// FlowNames returns all flow names, sorted.
func (s *System) FlowNames() []string {
	out := make([]string, 0, len(s.flows))
	for n := range s.flows {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// TaskNames returns all task names, sorted.
func (s *System) TaskNames() []string {
	out := make([]string, 0, len(s.tasks))
	for n := range s.tasks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Subflows returns the flows directly referenced by flowName's edges.
func (s *System) Subflows(flowName string) []string {
	f, ok := s.flows[flowName]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	for _, n := range f.NodeNames() {
		if s.IsFlow(n) {
			seen[n] = true
		}
	}
	return sortedKeys(seen)
}

// ReachableSubflows returns every flow transitively nested in flowName,
// excluding flowName itself.
func (s *System) ReachableSubflows(flowName string) []string {
	seen := map[string]bool{flowName: true}
	queue := []string{flowName}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, sub := range s.Subflows(cur) {
			if !seen[sub] {
				seen[sub] = true
				queue = append(queue, sub)
			}
		}
	}
	delete(seen, flowName)
	return sortedKeys(seen)
}
