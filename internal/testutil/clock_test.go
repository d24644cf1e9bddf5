package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVirtualClock_StartsAtEpoch(t *testing.T) {
	c := NewVirtualClock()
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, time.Duration(0), c.Elapsed())
}

func TestVirtualClock_SleepAdvances(t *testing.T) {
	c := NewVirtualClock()

	start := time.Now()
	assert.NoError(t, c.Sleep(context.Background(), time.Hour))
	assert.Less(t, time.Since(start), time.Second, "virtual sleep must not block")
	assert.Equal(t, time.Hour, c.Elapsed())
}

func TestVirtualClock_SleepCancelled(t *testing.T) {
	c := NewVirtualClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, time.Duration(0), c.Elapsed())
}

func TestVirtualClock_AdvanceIgnoresNegative(t *testing.T) {
	c := NewVirtualClock()
	c.Advance(2 * time.Second)
	c.Advance(-time.Second)
	c.Advance(0)
	assert.Equal(t, 2*time.Second, c.Elapsed())
}

func TestVirtualClock_ConcurrentAdvance(t *testing.T) {
	c := NewVirtualClock()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Advance(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Second, c.Elapsed())
}
