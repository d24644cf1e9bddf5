package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selinon/selinon-sub000/internal/flow"
)

func testSystem(t *testing.T) *flow.System {
	t.Helper()
	sys := flow.NewSystem()
	require.NoError(t, sys.AddTask(&flow.Task{TaskName: "Fetch", Storage: "mem"}))
	require.NoError(t, sys.AddTask(&flow.Task{TaskName: "Log"}))
	require.NoError(t, sys.AddFlow(&flow.Flow{FlowName: "sub"}))
	return sys
}

func TestPool_GetUsesParentID(t *testing.T) {
	ctx := context.Background()
	sys := testSystem(t)
	mem := NewMemory()
	reg := NewRegistry()
	reg.Register("mem", mem)

	_, err := mem.Store(ctx, "main", "Fetch", "f1", "first")
	require.NoError(t, err)
	_, err = mem.Store(ctx, "main", "Fetch", "f2", "second")
	require.NoError(t, err)

	pool := NewPool(sys, reg, "main", flow.Parent{"Fetch": {ID: "f2"}})
	v, err := pool.Get(ctx, "Fetch")
	require.NoError(t, err)
	assert.Equal(t, "second", v)

	id, ok := pool.ID("Fetch")
	assert.True(t, ok)
	assert.Equal(t, "f2", id)
}

func TestPool_GetErrors(t *testing.T) {
	ctx := context.Background()
	sys := testSystem(t)
	reg := NewRegistry()
	reg.Register("mem", NewMemory())

	pool := NewPool(sys, reg, "main", flow.Parent{
		"Fetch": {ID: "missing"},
		"Log":   {ID: "l1"},
	})

	_, err := pool.Get(ctx, "Other")
	assert.Error(t, err)

	// Log names no storage and nothing is bound to the default name.
	_, err = pool.Get(ctx, "Log")
	assert.ErrorContains(t, err, `storage "default" is not registered`)

	_, err = pool.Get(ctx, "Fetch")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPool_GetDefaultStorage(t *testing.T) {
	ctx := context.Background()
	sys := testSystem(t)
	mem := NewMemory()
	reg := NewRegistry()
	reg.Register(DefaultName, mem)
	_, err := mem.Store(ctx, "main", "Log", "l1", map[string]any{"ok": true})
	require.NoError(t, err)

	v, err := NewPool(sys, reg, "main", flow.Parent{"Log": {ID: "l1"}}).Get(ctx, "Log")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, v)
}

func TestPool_ReadsResultsStoredBySubflow(t *testing.T) {
	ctx := context.Background()
	sys := testSystem(t)
	mem := NewMemory()
	reg := NewRegistry()
	reg.Register("mem", mem)
	// Fetch ran inside "sub"; results are keyed by the flow that ran it.
	_, err := mem.Store(ctx, "sub", "Fetch", "f1", "inner")
	require.NoError(t, err)

	t.Run("compound entry", func(t *testing.T) {
		pool := NewPool(sys, reg, "main", flow.Parent{
			"sub":   {ID: "s1"},
			"Fetch": {IDs: []string{"f1"}, Flow: "sub"},
		})
		v, err := pool.Get(ctx, "Fetch")
		require.NoError(t, err)
		assert.Equal(t, "inner", v)
	})

	t.Run("nested entry", func(t *testing.T) {
		pool := NewPool(sys, reg, "main", flow.Parent{
			"sub": {ID: "s1", Finished: map[string][]string{"Fetch": {"f1"}}},
		})
		v, err := pool.SubflowResult(ctx, "sub", "Fetch")
		require.NoError(t, err)
		assert.Equal(t, "inner", v)

		_, err = pool.SubflowResult(ctx, "sub", "Log")
		assert.ErrorContains(t, err, "did not finish")
		_, err = pool.SubflowResult(ctx, "Fetch", "Log")
		assert.ErrorContains(t, err, "is not a parent")
	})

	t.Run("inherited entry", func(t *testing.T) {
		_, err := mem.Store(ctx, "main", "Fetch", "f0", "outer")
		require.NoError(t, err)
		inherited := flow.Parent{"Fetch": {ID: "f0"}}.Scoped("main")
		v, err := NewPool(sys, reg, "sub", inherited).Get(ctx, "Fetch")
		require.NoError(t, err)
		assert.Equal(t, "outer", v)
	})
}

func TestPool_GetSubflowReturnsFinishedMap(t *testing.T) {
	sys := testSystem(t)
	finished := map[string][]string{"Fetch": {"f1"}}
	pool := NewPool(sys, NewRegistry(), "main", flow.Parent{"sub": {ID: "s1", Finished: finished}})

	v, err := pool.Get(context.Background(), "sub")
	require.NoError(t, err)
	assert.Equal(t, finished, v)
}

type countingBackend struct {
	*Memory
	retrievals atomic.Int32
}

func (c *countingBackend) Retrieve(ctx context.Context, f, n, id string) (any, error) {
	c.retrievals.Add(1)
	return c.Memory.Retrieve(ctx, f, n, id)
}

func TestCached_HitsAvoidBackend(t *testing.T) {
	ctx := context.Background()
	inner := &countingBackend{Memory: NewMemory()}
	_, err := inner.Memory.Store(ctx, "main", "Fetch", "f1", 42)
	require.NoError(t, err)

	cached, err := NewCached(inner, 8)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := cached.Retrieve(ctx, "main", "Fetch", "f1")
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inner.retrievals.Load())
	assert.Equal(t, 1, cached.Len())
}

func TestCached_MissFallsBackToBackendError(t *testing.T) {
	cached, err := NewCached(NewMemory(), 0)
	require.NoError(t, err)

	_, err = cached.Retrieve(context.Background(), "main", "Fetch", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, cached.Len())
}

func TestCached_StoreWritesThrough(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	cached, err := NewCached(inner, 4)
	require.NoError(t, err)

	_, err = cached.Store(ctx, "main", "Fetch", "f1", "v")
	require.NoError(t, err)

	v, err := inner.Retrieve(ctx, "main", "Fetch", "f1")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, 0, cached.Len())
}

func TestMemory_FirstWriteWins(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	_, err := mem.Store(ctx, "main", "Fetch", "f1", "first")
	require.NoError(t, err)
	_, err = mem.Store(ctx, "main", "Fetch", "f1", "second")
	require.NoError(t, err)

	v, err := mem.Retrieve(ctx, "main", "Fetch", "f1")
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestRegistry_UnknownBackend(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", NewMemory())
	reg.Register("a", NewMemory())

	_, err := reg.Backend("c")
	assert.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestNewRedis_RejectsBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "", 0)
	assert.Error(t, err)

	_, err = NewRedis(context.Background(), "not-a-url://x", 0)
	assert.ErrorContains(t, err, "parse redis url")
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "selinon:result:main/Fetch/f1", redisKey("main", "Fetch", "f1"))
}
