package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock is a monotonic logical clock. It orders jobs that become ready at
// the same instant and stamps trace events.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Timer is the engine's view of wall time. Countdowns from throttling and
// scheduling strategies are waited out through Sleep, so a virtual timer
// runs a whole flow without real delays.
type Timer interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// realTimer waits in wall time.
type realTimer struct{}

func (realTimer) Now() time.Time { return time.Now() }

func (realTimer) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
