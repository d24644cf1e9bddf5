package storage

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/selinon/selinon-sub000/internal/lockpool"
)

// DefaultCacheSize is the number of results kept by NewCached.
const DefaultCacheSize = 1024

// Cached puts an LRU cache in front of a backend. Node results are
// immutable once stored, so entries never need invalidation. Concurrent
// misses for the same key are collapsed by a per-key lock.
type Cached struct {
	inner Backend
	cache *lru.Cache[string, any]
	locks lockpool.Pool
}

// NewCached wraps inner with a cache of the given size. A non-positive size
// selects DefaultCacheSize.
func NewCached(inner Backend, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, any](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: c}, nil
}

func (c *Cached) Retrieve(ctx context.Context, flowName, nodeName, id string) (any, error) {
	key := Key(flowName, nodeName, id)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	unlock := c.locks.Lock(key)
	defer unlock()

	// A concurrent miss may have filled the entry while we waited.
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.inner.Retrieve(ctx, flowName, nodeName, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	slog.Debug("result cached", "flow", flowName, "node", nodeName, "id", id)
	return v, nil
}

func (c *Cached) Store(ctx context.Context, flowName, nodeName, id string, result any) (string, error) {
	// The cache fills on read only: the backend may have kept an earlier
	// result for the same id.
	return c.inner.Store(ctx, flowName, nodeName, id, result)
}

// Len returns the number of cached results.
func (c *Cached) Len() int {
	return c.cache.Len()
}
