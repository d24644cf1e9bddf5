package testutil

import (
	"context"
	"sync"
	"time"
)

// Epoch is the instant every VirtualClock starts at.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// VirtualClock is a time source that only moves when slept on or advanced.
//
// It satisfies engine.Timer, and its Now method can be passed wherever a
// func() time.Time is expected, so throttles and countdowns run instantly
// in tests and produce the same trace every time.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type VirtualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewVirtualClock creates a clock at Epoch.
func NewVirtualClock() *VirtualClock {
	return &VirtualClock{now: Epoch}
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d without blocking. It still honours a
// cancelled context.
func (c *VirtualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

// Advance moves the clock forward. Negative durations are ignored.
func (c *VirtualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Elapsed returns the virtual time passed since Epoch.
func (c *VirtualClock) Elapsed() time.Duration {
	return c.Now().Sub(Epoch)
}
