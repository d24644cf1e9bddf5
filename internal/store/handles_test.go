package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandles_CreateGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.CreateHandle(ctx, Handle{
		ID:       "a-1",
		Kind:     KindTask,
		Name:     "A",
		FlowName: "flow1",
		ParentID: "flow1-1",
		Queue:    "default",
		Args:     map[string]any{"url": "x"},
	})
	require.NoError(t, err)

	h, err := s.GetHandle(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, KindTask, h.Kind)
	assert.Equal(t, "A", h.Name)
	assert.Equal(t, "flow1", h.FlowName)
	assert.Equal(t, "flow1-1", h.ParentID)
	assert.Equal(t, StatusPending, h.Status)
	assert.Equal(t, map[string]any{"url": "x"}, h.Args)
	assert.Nil(t, h.Result)
	assert.Empty(t, h.Error)
	assert.Positive(t, h.Seq)
}

func TestHandles_CreateIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateHandle(ctx, Handle{ID: "a-1", Kind: KindTask, Name: "A"}))
	require.NoError(t, s.CreateHandle(ctx, Handle{ID: "a-1", Kind: KindTask, Name: "B"}))

	h, err := s.GetHandle(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "A", h.Name)
}

func TestHandles_GetMissing(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetHandle(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrHandleNotFound)
}

func TestHandles_Finish(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateHandle(ctx, Handle{ID: "a-1", Kind: KindTask, Name: "A"}))
	require.NoError(t, s.FinishHandle(ctx, "a-1", StatusSuccess, []any{"r"}, ""))

	h, err := s.GetHandle(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, h.Status)
	assert.Equal(t, []any{"r"}, h.Result)

	err = s.FinishHandle(ctx, "a-1", StatusFailure, nil, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already finished")
}

func TestHandles_FinishErrors(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.FinishHandle(ctx, "nope", StatusFailure, nil, "boom")
	assert.ErrorIs(t, err, ErrHandleNotFound)

	require.NoError(t, s.CreateHandle(ctx, Handle{ID: "a-1", Kind: KindTask, Name: "A"}))
	err = s.FinishHandle(ctx, "a-1", StatusPending, nil, "")
	assert.Error(t, err)
}

func TestHandles_FailureMessage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateHandle(ctx, Handle{ID: "a-1", Kind: KindTask, Name: "A"}))
	require.NoError(t, s.FinishHandle(ctx, "a-1", StatusFailure, nil, "boom"))

	h, err := s.GetHandle(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, h.Status)
	assert.Equal(t, "boom", h.Error)
}

func TestHandles_SaveState(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateHandle(ctx, Handle{ID: "f-1", Kind: KindFlow, Name: "flow1"}))
	require.NoError(t, s.SaveState(ctx, "f-1", []byte(`{"flow_name":"flow1"}`)))

	h, err := s.GetHandle(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, `{"flow_name":"flow1"}`, string(h.State))

	err = s.SaveState(ctx, "nope", nil)
	assert.ErrorIs(t, err, ErrHandleNotFound)
}

func TestHandles_ListOrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"c-1", "a-1", "b-1"} {
		require.NoError(t, s.CreateHandle(ctx, Handle{ID: id, Kind: KindTask, Name: "T", ParentID: "f-1"}))
	}
	require.NoError(t, s.CreateHandle(ctx, Handle{ID: "x-1", Kind: KindTask, Name: "T", ParentID: "f-2"}))

	hs, err := s.ListHandles(ctx, "f-1")
	require.NoError(t, err)
	ids := make([]string, len(hs))
	for i, h := range hs {
		ids[i] = h.ID
	}
	assert.Equal(t, []string{"c-1", "a-1", "b-1"}, ids)
}
