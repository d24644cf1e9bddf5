package predicate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapPool map[string]any

func (p mapPool) Get(_ context.Context, node string) (any, error) {
	v, ok := p[node]
	if !ok {
		return nil, errors.New("no result")
	}
	return v, nil
}

func (p mapPool) ID(node string) (string, bool) {
	_, ok := p[node]
	return node + "-id", ok
}

// SubflowResult reads keys of the form "sub/node".
func (p mapPool) SubflowResult(ctx context.Context, subflow, node string) (any, error) {
	return p.Get(ctx, subflow+"/"+node)
}

func TestFieldEqual_SubflowResult(t *testing.T) {
	reg := NewRegistry()
	pool := mapPool{
		"X":     map[string]any{"status": "outer"},
		"sub/X": map[string]any{"status": "inner"},
	}

	cond, err := reg.Condition("fieldEqual", map[string]any{
		"node": "X", "subflow": "sub", "key": "status", "value": "inner",
	})
	require.NoError(t, err)
	ok, err := cond(context.Background(), pool, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = reg.Condition("fieldExist", map[string]any{"node": "X", "subflow": 3})
	assert.Error(t, err)
}

func TestFieldEqual_NumericKindsCompare(t *testing.T) {
	reg := NewRegistry()
	cond, err := reg.Condition("fieldEqual", map[string]any{
		"node": "Fetch", "key": "meta.count", "value": 3,
	})
	require.NoError(t, err)

	pool := mapPool{"Fetch": map[string]any{"meta": map[string]any{"count": float64(3)}}}
	ok, err := cond(context.Background(), pool, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	pool = mapPool{"Fetch": map[string]any{"meta": map[string]any{"count": float64(4)}}}
	ok, err = cond(context.Background(), pool, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFieldExist_PropagatesStorageError(t *testing.T) {
	reg := NewRegistry()
	cond, err := reg.Condition("fieldExist", map[string]any{"node": "Fetch", "key": []any{"a"}})
	require.NoError(t, err)

	_, err = cond(context.Background(), mapPool{}, nil)
	assert.Error(t, err)
}

func TestArgsConditions(t *testing.T) {
	reg := NewRegistry()
	exist, err := reg.Condition("argsFieldExist", map[string]any{"key": "repo"})
	require.NoError(t, err)
	equal, err := reg.Condition("argsFieldEqual", map[string]any{"key": "repo", "value": "x"})
	require.NoError(t, err)

	args := map[string]any{"repo": "x"}
	ok, err := exist(context.Background(), nil, args)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = equal(context.Background(), nil, map[string]any{"repo": "y"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCombinators(t *testing.T) {
	reg := NewRegistry()
	yes, _ := reg.Condition("alwaysTrue", nil)
	no, _ := reg.Condition("alwaysFalse", nil)
	ctx := context.Background()

	ok, _ := And(yes, no)(ctx, nil, nil)
	assert.False(t, ok)
	ok, _ = Or(no, yes)(ctx, nil, nil)
	assert.True(t, ok)
	ok, _ = Not(no)(ctx, nil, nil)
	assert.True(t, ok)
	ok, _ = And()(ctx, nil, nil)
	assert.True(t, ok)
}

func TestGenerators(t *testing.T) {
	reg := NewRegistry()
	gen, err := reg.Generator("iterArgsField", map[string]any{"key": "items"})
	require.NoError(t, err)

	items, err := gen(context.Background(), nil, map[string]any{"items": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, items)

	items, err = gen(context.Background(), nil, map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = gen(context.Background(), nil, map[string]any{"items": "scalar"})
	assert.Error(t, err)

	gen, err = reg.Generator("iterResultField", map[string]any{"node": "List", "key": "ids"})
	require.NoError(t, err)
	items, err = gen(context.Background(), mapPool{"List": map[string]any{"ids": []any{1.0, 2.0}}}, nil)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRegistry_Unknown(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Condition("nope", nil)
	assert.Error(t, err)
	_, err = reg.Generator("nope", nil)
	assert.Error(t, err)
	_, err = reg.Condition("fieldEqual", map[string]any{"key": "a"})
	assert.ErrorContains(t, err, "node")
	assert.Contains(t, reg.ConditionNames(), "fieldEqual")
}
