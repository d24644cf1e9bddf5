package compiler

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/selinon/selinon-sub000/internal/flow"
	"github.com/selinon/selinon-sub000/internal/predicate"
)

// ErrorList collects every error found in one definition.
type ErrorList []*CompileError

func (l ErrorList) Error() string {
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Compiler turns definition documents into a flow.System.
type Compiler struct {
	predicates *predicate.Registry
}

// New returns a compiler resolving condition and foreach names against reg.
// A nil reg selects the built-ins only.
func New(reg *predicate.Registry) *Compiler {
	if reg == nil {
		reg = predicate.NewRegistry()
	}
	return &Compiler{predicates: reg}
}

// CompileFile parses and compiles a definition file.
func (c *Compiler) CompileFile(path string) (*flow.System, error) {
	doc, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return c.Compile(doc)
}

// Compile builds a System. All errors are collected before returning; the
// returned error is an ErrorList.
func (c *Compiler) Compile(doc *Document) (*flow.System, error) {
	var errs ErrorList
	sys := flow.NewSystem()

	for i, td := range doc.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		name := normName(td.Name)
		if name == "" {
			errs = append(errs, errorf(ErrCodeMissingName, field, "task name is required"))
			continue
		}
		throttle, err := parseDuration(td.Throttle)
		if err != nil {
			errs = append(errs, errorf(ErrCodeBadDuration, field+".throttle", "%v", err))
		}
		task := &flow.Task{TaskName: name, Queue: td.Queue, Storage: td.Storage, Throttle: throttle}
		if err := sys.AddTask(task); err != nil {
			errs = append(errs, errorf(ErrCodeDuplicateName, field, "%v", err))
		}
	}

	// Flows are registered before edges are checked so edges may refer to
	// flows declared later in the document.
	flows := make([]*flow.Flow, len(doc.Flows))
	for i, fd := range doc.Flows {
		field := fmt.Sprintf("flows[%d]", i)
		name := normName(fd.Name)
		if name == "" {
			errs = append(errs, errorf(ErrCodeMissingName, field, "flow name is required"))
			continue
		}
		f := &flow.Flow{FlowName: name, Queue: fd.Queue, MaxSteps: fd.MaxSteps}
		if err := sys.AddFlow(f); err != nil {
			errs = append(errs, errorf(ErrCodeDuplicateName, field, "%v", err))
			continue
		}
		flows[i] = f
	}

	for i, fd := range doc.Flows {
		if flows[i] == nil {
			continue
		}
		errs = append(errs, c.compileFlow(sys, flows[i], fd, fmt.Sprintf("flows[%d]", i))...)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return sys, nil
}

func (c *Compiler) compileFlow(sys *flow.System, f *flow.Flow, fd FlowDoc, field string) ErrorList {
	var errs ErrorList

	throttle, err := parseDuration(fd.Throttle)
	if err != nil {
		errs = append(errs, errorf(ErrCodeBadDuration, field+".throttle", "%v", err))
	}
	f.Throttle = throttle

	known := func(name string) bool {
		_, ok := sys.Node(name)
		return ok
	}

	for i, ed := range fd.Edges {
		efield := fmt.Sprintf("%s.edges[%d]", field, i)
		edge, eerrs := c.compileEdge(ed, efield, known)
		errs = append(errs, eerrs...)
		f.Edges = append(f.Edges, edge)
	}
	if len(f.StartEdges()) == 0 {
		errs = append(errs, errorf(ErrCodeNoStartEdge, field+".edges", "flow %q has no starting edge", f.FlowName))
	}

	f.NoWait = make(map[string]bool, len(fd.NoWait))
	for _, n := range fd.NoWait {
		n = normName(n)
		if !known(n) {
			errs = append(errs, errorf(ErrCodeUnknownNode, field+".nowait", "unknown node %q", n))
		}
		f.NoWait[n] = true
	}

	sel, err := parseSelector(fd.EagerFailures)
	if err != nil {
		errs = append(errs, errorf(ErrCodeBadSelector, field+".eager_failures", "%v", err))
	}
	f.EagerFailures = sel

	f.Propagate, errs = c.compilePropagation(fd.Propagate, field+".propagate", errs)

	strategy, err := parseStrategy(fd.Strategy)
	if err != nil {
		errs = append(errs, errorf(ErrCodeBadStrategy, field+".strategy", "%v", err))
	}
	f.Strategy = strategy

	f.Failures = flow.NewFallbackTrie()
	for i, fdoc := range fd.Failures {
		ffield := fmt.Sprintf("%s.failures[%d]", field, i)
		names, err := stringList(fdoc.Nodes)
		if err != nil || len(names) == 0 {
			errs = append(errs, errorf(ErrCodeBadFallback, ffield+".nodes", "failure nodes must be a non-empty name list"))
			continue
		}
		for _, n := range names {
			if !known(n) {
				errs = append(errs, errorf(ErrCodeUnknownNode, ffield+".nodes", "unknown node %q", n))
			}
		}

		spec := flow.FallbackSpec{ConditionSource: fdoc.Condition.source()}
		switch fb := fdoc.Fallback.(type) {
		case bool:
			if !fb {
				errs = append(errs, errorf(ErrCodeBadFallback, ffield+".fallback", "fallback false is meaningless; omit the entry"))
				continue
			}
			spec.Resolve = true
		default:
			nodes, err := stringList(fb)
			if err != nil || len(nodes) == 0 {
				errs = append(errs, errorf(ErrCodeBadFallback, ffield+".fallback", "fallback must be true or a non-empty name list"))
				continue
			}
			for _, n := range nodes {
				if !known(n) {
					errs = append(errs, errorf(ErrCodeUnknownNode, ffield+".fallback", "unknown node %q", n))
				}
			}
			spec.Nodes = nodes
		}

		cond, err := c.compileCondition(fdoc.Condition)
		if err != nil {
			errs = append(errs, errorf(ErrCodeBadCondition, ffield+".condition", "%v", err))
			continue
		}
		spec.Condition = cond
		f.Failures.Add(names, spec)
	}

	return errs
}

func (c *Compiler) compileEdge(ed EdgeDoc, field string, known func(string) bool) (flow.Edge, ErrorList) {
	var errs ErrorList

	from, err := stringList(ed.From)
	if err != nil {
		errs = append(errs, errorf(ErrCodeUnknownNode, field+".from", "%v", err))
	}
	to, err := stringList(ed.To)
	if err != nil {
		errs = append(errs, errorf(ErrCodeUnknownNode, field+".to", "%v", err))
	}
	if len(to) == 0 {
		errs = append(errs, errorf(ErrCodeEmptyDestination, field+".to", "edge has no destination"))
	}
	for _, n := range append(append([]string(nil), from...), to...) {
		if !known(n) {
			errs = append(errs, errorf(ErrCodeUnknownNode, field, "unknown node %q", n))
		}
	}

	edge := flow.Edge{From: from, To: to, ConditionSource: ed.Condition.source()}
	cond, err := c.compileCondition(ed.Condition)
	if err != nil {
		errs = append(errs, errorf(ErrCodeBadCondition, field+".condition", "%v", err))
	}
	edge.Condition = cond

	if ed.Foreach != nil {
		gen, err := c.predicates.Generator(ed.Foreach.Function, ed.Foreach.Args)
		if err != nil {
			errs = append(errs, errorf(ErrCodeBadForeach, field+".foreach", "%v", err))
		} else {
			edge.Foreach = &flow.Foreach{
				Name:            ed.Foreach.Function,
				Func:            gen,
				PropagateResult: ed.Foreach.PropagateResult,
			}
		}
	}
	return edge, errs
}

func (c *Compiler) compileCondition(cd *ConditionDoc) (flow.Condition, error) {
	if cd == nil {
		return flow.AlwaysTrue, nil
	}
	set := 0
	if cd.Name != "" {
		set++
	}
	if len(cd.And) > 0 {
		set++
	}
	if len(cd.Or) > 0 {
		set++
	}
	if cd.Not != nil {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("condition must set exactly one of name, and, or, not")
	}

	switch {
	case cd.Name != "":
		return c.predicates.Condition(cd.Name, cd.Args)
	case cd.Not != nil:
		inner, err := c.compileCondition(cd.Not)
		if err != nil {
			return nil, err
		}
		return predicate.Not(inner), nil
	default:
		children := cd.And
		combine := predicate.And
		if len(cd.Or) > 0 {
			children = cd.Or
			combine = predicate.Or
		}
		conds := make([]flow.Condition, len(children))
		for i := range children {
			cond, err := c.compileCondition(&children[i])
			if err != nil {
				return nil, err
			}
			conds[i] = cond
		}
		return combine(conds...), nil
	}
}

func (c *Compiler) compilePropagation(pd PropagateDoc, field string, errs ErrorList) (flow.Propagation, ErrorList) {
	var p flow.Propagation
	parse := func(v any, name string) flow.Selector {
		sel, err := parseSelector(v)
		if err != nil {
			errs = append(errs, errorf(ErrCodeBadSelector, field+"."+name, "%v", err))
		}
		return sel
	}
	p.NodeArgs = parse(pd.NodeArgs, "node_args")
	p.Parent = parse(pd.Parent, "parent")
	p.Finished = parse(pd.Finished, "finished")
	p.CompoundFinished = parse(pd.CompoundFinished, "compound_finished")
	return p, errs
}

// parseSelector accepts nil, true/false, "all" or a list of names.
func parseSelector(v any) (flow.Selector, error) {
	switch s := v.(type) {
	case nil:
		return flow.Selector{}, nil
	case bool:
		return flow.Selector{All: s}, nil
	case string:
		if s == "all" {
			return flow.Selector{All: true}, nil
		}
		return flow.SelectNames(normName(s)), nil
	default:
		names, err := stringList(v)
		if err != nil {
			return flow.Selector{}, err
		}
		return flow.SelectNames(names...), nil
	}
}

func parseStrategy(m map[string]any) (flow.StrategySpec, error) {
	if len(m) == 0 {
		return flow.StrategySpec{}, nil
	}
	spec := flow.StrategySpec{Params: make(map[string]int)}
	for k, v := range m {
		if k == "name" {
			name, ok := v.(string)
			if !ok {
				return flow.StrategySpec{}, fmt.Errorf("strategy name is %T, not a string", v)
			}
			spec.Name = name
			continue
		}
		switch n := v.(type) {
		case int:
			spec.Params[k] = n
		case int64:
			spec.Params[k] = int(n)
		case float64:
			if n != float64(int(n)) {
				return flow.StrategySpec{}, fmt.Errorf("strategy parameter %q must be whole seconds", k)
			}
			spec.Params[k] = int(n)
		default:
			return flow.StrategySpec{}, fmt.Errorf("strategy parameter %q is %T, not an integer", k, v)
		}
	}
	if spec.Name == "" {
		return flow.StrategySpec{}, fmt.Errorf("strategy name is required")
	}
	return spec, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// stringList accepts a single name or a list of names.
func stringList(v any) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{normName(s)}, nil
	case []string:
		out := make([]string, len(s))
		for i, n := range s {
			out[i] = normName(n)
		}
		return out, nil
	case []any:
		out := make([]string, len(s))
		for i, e := range s {
			n, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, not a name", i, e)
			}
			out[i] = normName(n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a name or list of names, got %T", v)
	}
}

// normName applies NFC so visually identical names compare equal.
func normName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
