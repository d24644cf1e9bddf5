// Package lockpool provides mutual exclusion keyed by resource identity.
//
// Unrelated keys never contend: a flow throttled on node "A" does not block a
// flow dispatching node "B". Entries are reference counted and dropped once
// no goroutine holds or waits for them, so the pool does not grow with the
// number of keys ever seen.
package lockpool

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Pool is a set of mutexes addressed by string keys.
// The zero value is ready to use.
type Pool struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// Lock acquires the mutex for key and returns the function releasing it.
func (p *Pool) Lock(key string) (unlock func()) {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*entry)
	}
	e, ok := p.locks[key]
	if !ok {
		e = &entry{}
		p.locks[key] = e
	}
	e.refs++
	p.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		p.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
