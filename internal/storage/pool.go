package storage

import (
	"context"
	"fmt"

	"github.com/selinon/selinon-sub000/internal/flow"
)

// Pool resolves node results for one parent map. It implements flow.Pool.
type Pool struct {
	system   *flow.System
	registry *Registry
	flowName string
	parent   flow.Parent
}

// NewPool returns a pool scoped to parent within flowName.
func NewPool(system *flow.System, registry *Registry, flowName string, parent flow.Parent) *Pool {
	return &Pool{
		system:   system,
		registry: registry,
		flowName: flowName,
		parent:   parent,
	}
}

// ID returns the instance id the parent map records for nodeName.
func (p *Pool) ID(nodeName string) (string, bool) {
	return p.parent.Lookup(nodeName)
}

// Get retrieves the result of nodeName. Sub-flow entries resolve to their
// propagated finished map instead of a stored result. Entries flattened out
// of a sub-flow or inherited from an enclosing flow are read from the flow
// that stored them.
func (p *Pool) Get(ctx context.Context, nodeName string) (any, error) {
	ref, ok := p.parent[nodeName]
	if !ok {
		return nil, fmt.Errorf("node %q is not a parent in flow %q", nodeName, p.flowName)
	}
	if p.system.IsFlow(nodeName) {
		return ref.Finished, nil
	}

	id, ok := p.parent.Lookup(nodeName)
	if !ok {
		return nil, fmt.Errorf("node %q has no recorded id in flow %q", nodeName, p.flowName)
	}
	scope := p.flowName
	if ref.Flow != "" {
		scope = ref.Flow
	}
	return p.retrieve(ctx, scope, nodeName, id)
}

// SubflowResult retrieves the most recent result of nodeName inside the
// sub-flow source subflowName. It needs finished propagation for that
// sub-flow.
func (p *Pool) SubflowResult(ctx context.Context, subflowName, nodeName string) (any, error) {
	ref, ok := p.parent[subflowName]
	if !ok || !p.system.IsFlow(subflowName) {
		return nil, fmt.Errorf("sub-flow %q is not a parent in flow %q", subflowName, p.flowName)
	}
	ids := ref.Finished[nodeName]
	if len(ids) == 0 {
		return nil, fmt.Errorf("node %q did not finish in sub-flow %q (is finished propagation enabled?)", nodeName, subflowName)
	}
	return p.retrieve(ctx, subflowName, nodeName, ids[len(ids)-1])
}

func (p *Pool) retrieve(ctx context.Context, flowName, nodeName, id string) (any, error) {
	task, ok := p.system.Task(nodeName)
	if !ok {
		return nil, fmt.Errorf("unknown task %q", nodeName)
	}
	backend, err := p.registry.Backend(task.Storage)
	if err != nil {
		return nil, err
	}
	return backend.Retrieve(ctx, flowName, nodeName, id)
}

// Parent returns the parent map the pool is scoped to.
func (p *Pool) Parent() flow.Parent {
	return p.parent
}
