package predicate

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/selinon/selinon-sub000/internal/flow"
)

var builtinConditions = map[string]ConditionFactory{
	"alwaysTrue": func(map[string]any) (flow.Condition, error) {
		return flow.AlwaysTrue, nil
	},
	"alwaysFalse": func(map[string]any) (flow.Condition, error) {
		return func(context.Context, flow.Pool, any) (bool, error) { return false, nil }, nil
	},
	"fieldExist":     fieldExist,
	"fieldEqual":     fieldEqual,
	"argsFieldExist": argsFieldExist,
	"argsFieldEqual": argsFieldEqual,
}

var builtinGenerators = map[string]GeneratorFactory{
	"iterArgsField":   iterArgsField,
	"iterResultField": iterResultField,
}

// And is true when every condition is true. Evaluation stops at the first
// false or error.
func And(conds ...flow.Condition) flow.Condition {
	return func(ctx context.Context, pool flow.Pool, args any) (bool, error) {
		for _, c := range conds {
			ok, err := c(ctx, pool, args)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Or is true when any condition is true.
func Or(conds ...flow.Condition) flow.Condition {
	return func(ctx context.Context, pool flow.Pool, args any) (bool, error) {
		for _, c := range conds {
			ok, err := c(ctx, pool, args)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// Not negates a condition.
func Not(c flow.Condition) flow.Condition {
	return func(ctx context.Context, pool flow.Pool, args any) (bool, error) {
		ok, err := c(ctx, pool, args)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}

func fieldExist(args map[string]any) (flow.Condition, error) {
	node, key, err := nodeAndKey(args)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, pool flow.Pool, _ any) (bool, error) {
		result, err := node.result(ctx, pool)
		if err != nil {
			return false, err
		}
		_, ok := Lookup(result, key)
		return ok, nil
	}, nil
}

func fieldEqual(args map[string]any) (flow.Condition, error) {
	node, key, err := nodeAndKey(args)
	if err != nil {
		return nil, err
	}
	want, ok := args["value"]
	if !ok {
		return nil, fmt.Errorf("missing argument %q", "value")
	}
	return func(ctx context.Context, pool flow.Pool, _ any) (bool, error) {
		result, err := node.result(ctx, pool)
		if err != nil {
			return false, err
		}
		got, ok := Lookup(result, key)
		return ok && Equal(got, want), nil
	}, nil
}

func argsFieldExist(args map[string]any) (flow.Condition, error) {
	key, err := keyPath(args)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, _ flow.Pool, nodeArgs any) (bool, error) {
		_, ok := Lookup(nodeArgs, key)
		return ok, nil
	}, nil
}

func argsFieldEqual(args map[string]any) (flow.Condition, error) {
	key, err := keyPath(args)
	if err != nil {
		return nil, err
	}
	want, ok := args["value"]
	if !ok {
		return nil, fmt.Errorf("missing argument %q", "value")
	}
	return func(_ context.Context, _ flow.Pool, nodeArgs any) (bool, error) {
		got, ok := Lookup(nodeArgs, key)
		return ok && Equal(got, want), nil
	}, nil
}

func iterArgsField(args map[string]any) (flow.Generator, error) {
	key, err := keyPath(args)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, _ flow.Pool, nodeArgs any) ([]any, error) {
		v, ok := Lookup(nodeArgs, key)
		if !ok {
			return nil, nil
		}
		return toList(v)
	}, nil
}

func iterResultField(args map[string]any) (flow.Generator, error) {
	node, key, err := nodeAndKey(args)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, pool flow.Pool, _ any) ([]any, error) {
		result, err := node.result(ctx, pool)
		if err != nil {
			return nil, err
		}
		v, ok := Lookup(result, key)
		if !ok {
			return nil, nil
		}
		return toList(v)
	}, nil
}

// Lookup walks a key path through nested string-keyed maps. An empty path
// returns v itself.
func Lookup(v any, path []string) (any, bool) {
	cur := v
	for _, k := range path {
		switch m := cur.(type) {
		case map[string]any:
			next, ok := m[k]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string][]string:
			next, ok := m[k]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}

// Equal compares decoded values, treating all numeric kinds as float64 so a
// YAML int matches a JSON number.
func Equal(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

func toList(v any) ([]any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("foreach value is %T, not a list", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// resultSource names the node whose result a predicate reads. With subflow
// set, the node finished inside that sub-flow source.
type resultSource struct {
	node    string
	subflow string
}

func (r resultSource) result(ctx context.Context, pool flow.Pool) (any, error) {
	if r.subflow != "" {
		return pool.SubflowResult(ctx, r.subflow, r.node)
	}
	return pool.Get(ctx, r.node)
}

func nodeAndKey(args map[string]any) (resultSource, []string, error) {
	node, ok := args["node"].(string)
	if !ok || node == "" {
		return resultSource{}, nil, fmt.Errorf("missing argument %q", "node")
	}
	src := resultSource{node: node}
	if v, ok := args["subflow"]; ok {
		if src.subflow, ok = v.(string); !ok || src.subflow == "" {
			return resultSource{}, nil, fmt.Errorf("subflow is %T, want a flow name", v)
		}
	}
	key, err := keyPath(args)
	if err != nil {
		return resultSource{}, nil, err
	}
	return src, key, nil
}

// keyPath accepts either a dotted string or a list of strings.
func keyPath(args map[string]any) ([]string, error) {
	switch k := args["key"].(type) {
	case nil:
		return nil, nil
	case string:
		if k == "" {
			return nil, nil
		}
		return strings.Split(k, "."), nil
	case []string:
		return k, nil
	case []any:
		out := make([]string, len(k))
		for i, p := range k {
			s, ok := p.(string)
			if !ok {
				return nil, fmt.Errorf("key element %d is %T, not a string", i, p)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("key is %T, want string or list", k)
	}
}
