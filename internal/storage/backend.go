package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by backends when no result is stored for a key.
var ErrNotFound = errors.New("result not found")

// Backend persists node results keyed by (flow, node, id).
type Backend interface {
	Retrieve(ctx context.Context, flowName, nodeName, id string) (any, error)
	// Store persists result and returns the record id. The first result
	// stored for a key is kept.
	Store(ctx context.Context, flowName, nodeName, id string, result any) (string, error)
}

// DefaultName is the storage used by tasks that do not name one.
const DefaultName = "default"

// Registry maps storage names, as referenced by tasks, to backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register binds name to backend, replacing any previous binding.
func (r *Registry) Register(name string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
}

// Backend returns the backend bound to name. An empty name selects
// DefaultName.
func (r *Registry) Backend(name string) (Backend, error) {
	if name == "" {
		name = DefaultName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("storage %q is not registered", name)
	}
	return b, nil
}

// Names returns the registered storage names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backends))
	for n := range r.backends {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Memory is a process-local backend. Used by tests and the harness.
type Memory struct {
	mu      sync.RWMutex
	results map[string]any
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{results: make(map[string]any)}
}

func (m *Memory) Retrieve(_ context.Context, flowName, nodeName, id string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.results[Key(flowName, nodeName, id)]
	if !ok {
		return nil, fmt.Errorf("retrieve %s/%s/%s: %w", flowName, nodeName, id, ErrNotFound)
	}
	return v, nil
}

func (m *Memory) Store(_ context.Context, flowName, nodeName, id string, result any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(flowName, nodeName, id)
	if _, ok := m.results[key]; !ok {
		m.results[key] = result
	}
	return id, nil
}

// Key renders the canonical result key shared by all backends.
func Key(flowName, nodeName, id string) string {
	return flowName + "/" + nodeName + "/" + id
}
