package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates readable node instance ids: "<name>-<n>", where n
// counts per name from 1.
//
// The same scenario with a fresh SequentialIDs produces the same ids, which
// keeps golden traces stable.
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewSequentialIDs creates a generator with all counters at zero.
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{counts: make(map[string]int)}
}

// Generate returns the next id for name. Implements engine.IDGenerator.
func (g *SequentialIDs) Generate(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts[name]++
	return fmt.Sprintf("%s-%d", name, g.counts[name])
}

// Reset sets all counters back to zero.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts = make(map[string]int)
}
