package predicate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/selinon/selinon-sub000/internal/flow"
)

// ConditionFactory builds a condition from its declared arguments.
type ConditionFactory func(args map[string]any) (flow.Condition, error)

// GeneratorFactory builds a foreach generator from its declared arguments.
type GeneratorFactory func(args map[string]any) (flow.Generator, error)

// Registry resolves predicate and generator names.
type Registry struct {
	mu         sync.RWMutex
	conditions map[string]ConditionFactory
	generators map[string]GeneratorFactory
}

// NewRegistry returns a registry preloaded with the built-ins.
func NewRegistry() *Registry {
	r := &Registry{
		conditions: make(map[string]ConditionFactory),
		generators: make(map[string]GeneratorFactory),
	}
	for name, f := range builtinConditions {
		r.conditions[name] = f
	}
	for name, f := range builtinGenerators {
		r.generators[name] = f
	}
	return r
}

// RegisterCondition adds or replaces a named condition.
func (r *Registry) RegisterCondition(name string, f ConditionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conditions[name] = f
}

// RegisterGenerator adds or replaces a named foreach generator.
func (r *Registry) RegisterGenerator(name string, f GeneratorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[name] = f
}

// Condition builds the named condition.
func (r *Registry) Condition(name string, args map[string]any) (flow.Condition, error) {
	r.mu.RLock()
	f, ok := r.conditions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown condition %q", name)
	}
	c, err := f(args)
	if err != nil {
		return nil, fmt.Errorf("condition %s: %w", name, err)
	}
	return c, nil
}

// Generator builds the named foreach generator.
func (r *Registry) Generator(name string, args map[string]any) (flow.Generator, error) {
	r.mu.RLock()
	f, ok := r.generators[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown foreach function %q", name)
	}
	g, err := f(args)
	if err != nil {
		return nil, fmt.Errorf("foreach %s: %w", name, err)
	}
	return g, nil
}

// ConditionNames lists the registered condition names, sorted.
func (r *Registry) ConditionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conditions))
	for n := range r.conditions {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
