package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/selinon/selinon-sub000/internal/store"
)

// HandleStore records dispatched nodes and their outcomes. *store.Store
// implements it durably; the default is process-local.
type HandleStore interface {
	CreateHandle(ctx context.Context, h store.Handle) error
	FinishHandle(ctx context.Context, id string, status store.HandleStatus, result any, errMsg string) error
	SaveState(ctx context.Context, id string, state []byte) error
	GetHandle(ctx context.Context, id string) (store.Handle, error)
	ListHandles(ctx context.Context, parentID string) ([]store.Handle, error)
}

var _ HandleStore = (*store.Store)(nil)

// memHandles keeps handles in memory with the same semantics as the
// SQLite store, except that results keep their Go types.
type memHandles struct {
	mu      sync.RWMutex
	seq     int64
	handles map[string]*store.Handle
}

func newMemHandles() *memHandles {
	return &memHandles{handles: make(map[string]*store.Handle)}
}

func (m *memHandles) CreateHandle(_ context.Context, h store.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handles[h.ID]; ok {
		return nil
	}
	if h.Status == "" {
		h.Status = store.StatusPending
	}
	m.seq++
	h.Seq = m.seq
	m.handles[h.ID] = &h
	return nil
}

func (m *memHandles) FinishHandle(_ context.Context, id string, status store.HandleStatus, result any, errMsg string) error {
	if status == store.StatusPending {
		return fmt.Errorf("finish handle %s: status must be terminal", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	if !ok {
		return fmt.Errorf("finish handle %s: %w", id, store.ErrHandleNotFound)
	}
	if h.Status != store.StatusPending {
		return fmt.Errorf("finish handle %s: already finished", id)
	}
	h.Status = status
	h.Result = result
	h.Error = errMsg
	return nil
}

func (m *memHandles) SaveState(_ context.Context, id string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	if !ok {
		return fmt.Errorf("save state %s: %w", id, store.ErrHandleNotFound)
	}
	h.State = append([]byte(nil), state...)
	return nil
}

func (m *memHandles) GetHandle(_ context.Context, id string) (store.Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[id]
	if !ok {
		return store.Handle{}, fmt.Errorf("get handle %s: %w", id, store.ErrHandleNotFound)
	}
	return *h, nil
}

func (m *memHandles) ListHandles(_ context.Context, parentID string) ([]store.Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Handle
	for _, h := range m.handles {
		if h.ParentID == parentID {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
