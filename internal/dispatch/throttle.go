package dispatch

import (
	"sync"
	"time"

	"github.com/selinon/selinon-sub000/internal/lockpool"
)

// Throttler enforces a minimum interval between dispatches of the same
// node name. It is process scoped and shared by all flow instances.
type Throttler struct {
	locks lockpool.Pool
	now   func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottler returns a throttler reading time from now, or time.Now when
// now is nil.
func NewThrottler(now func() time.Time) *Throttler {
	if now == nil {
		now = time.Now
	}
	return &Throttler{now: now, last: make(map[string]time.Time)}
}

// Reserve books the next slot for name and returns how long the dispatch
// must be deferred. The booked slot is the deferred start time, so a burst
// of reservations is spread interval apart.
func (t *Throttler) Reserve(name string, interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	unlock := t.locks.Lock(name)
	defer unlock()

	now := t.now()
	t.mu.Lock()
	last, ok := t.last[name]
	t.mu.Unlock()

	var countdown time.Duration
	if ok {
		if next := last.Add(interval); next.After(now) {
			countdown = next.Sub(now)
		}
	}

	t.mu.Lock()
	t.last[name] = now.Add(countdown)
	t.mu.Unlock()
	return countdown
}
