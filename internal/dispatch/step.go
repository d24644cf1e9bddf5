package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/selinon/selinon-sub000/internal/flow"
	"github.com/selinon/selinon-sub000/internal/storage"
)

// step holds the working state of one Step call.
type step struct {
	d     *Dispatcher
	flow  *flow.Flow
	id    string
	state *flow.State
	log   *slog.Logger

	started  []flow.NodeRecord
	fallback []flow.NodeRecord
	// reused are selective reuses waiting to be processed as finishes.
	reused []flow.NodeRecord
}

func (s *step) selection() *flow.Selection {
	if s.state.Selective == nil || !s.state.Selective.HasFlow(s.flow.FlowName) {
		return nil
	}
	return s.state.Selective
}

// startup fires every starting edge.
func (s *step) startup(ctx context.Context) error {
	sel := s.selection()
	for _, idx := range s.flow.StartEdges() {
		if !sel.EdgeAllowed(s.flow.FlowName, idx) {
			continue
		}
		if err := s.fireEdge(ctx, idx, s.state.Parent); err != nil {
			return err
		}
	}
	return s.drainReused(ctx)
}

// poll checks every active node and processes what finished or failed.
func (s *step) poll(ctx context.Context) error {
	type polled struct {
		rec flow.NodeRecord
		res PollResult
	}
	results := make([]polled, 0, len(s.state.ActiveNodes))
	for _, rec := range s.state.ActiveNodes {
		res, err := s.d.queue.Poll(ctx, rec.ID)
		if err != nil {
			return transient(fmt.Sprintf("poll %s (%s)", rec.Name, rec.ID), err)
		}
		results = append(results, polled{rec, res})
	}

	var remaining, finished []flow.NodeRecord
	eager := ""
	for _, p := range results {
		switch p.res.Status {
		case Pending:
			remaining = append(remaining, p.rec)
		case Success:
			finished = append(finished, p.rec)
		case Failure:
			s.state.AddFailed(p.rec.Name, p.rec.ID)
			s.log.Info("node failed", "node", p.rec.Name, "node_id", p.rec.ID, "error", p.res.Err)
			if eager == "" && s.flow.EagerFailures.Has(p.rec.Name) {
				eager = p.rec.Name
			}
		}
	}
	s.state.ActiveNodes = remaining

	if eager != "" {
		for _, rec := range finished {
			s.state.AddFinished(rec.Name, rec.ID)
		}
		return &FlowError{
			Flow:     s.flow.FlowName,
			ID:       s.id,
			Reason:   fmt.Sprintf("eager failure of %s", eager),
			Snapshot: s.state.Snapshot(),
		}
	}

	// Finishes are recorded one at a time so a fan-in whose sources finish
	// in the same poll fires once.
	for _, rec := range finished {
		if err := s.nodeFinished(ctx, rec); err != nil {
			return err
		}
	}
	return s.drainReused(ctx)
}

// drainReused processes selective reuses until none are left.
func (s *step) drainReused(ctx context.Context) error {
	for len(s.reused) > 0 {
		rec := s.reused[0]
		s.reused = s.reused[1:]
		if err := s.nodeFinished(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// nodeFinished records rec and fires every edge it completes.
func (s *step) nodeFinished(ctx context.Context, rec flow.NodeRecord) error {
	s.state.AddFinished(rec.Name, rec.ID)
	s.log.Debug("node finished", "node", rec.Name, "node_id", rec.ID)

	sel := s.selection()
	for _, idx := range s.flow.EdgesFrom(rec.Name) {
		s.state.AddWaiting(idx)
	}
	for _, idx := range s.state.WaitingEdges {
		e := s.flow.Edges[idx]
		if !e.HasSource(rec.Name) || !sel.EdgeAllowed(s.flow.FlowName, idx) {
			continue
		}
		if !s.sourcesFinished(e) {
			continue
		}
		for _, combo := range s.combinations(e.From, rec) {
			parent, err := s.buildParent(ctx, combo)
			if err != nil {
				return err
			}
			if err := s.fireEdge(ctx, idx, parent); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *step) sourcesFinished(e flow.Edge) bool {
	for _, src := range e.From {
		if len(s.state.FinishedNodes[src]) == 0 {
			return false
		}
	}
	return true
}

// combinations returns every assignment of finished ids to the edge's
// sources with the newly finished node fixed to its id.
func (s *step) combinations(sources []string, fixed flow.NodeRecord) []map[string]string {
	names := append([]string(nil), sources...)
	sort.Strings(names)

	combos := []map[string]string{{}}
	for _, name := range names {
		ids := s.state.FinishedNodes[name]
		if name == fixed.Name {
			ids = []string{fixed.ID}
		}
		next := make([]map[string]string, 0, len(combos)*len(ids))
		for _, c := range combos {
			for _, id := range ids {
				m := make(map[string]string, len(c)+1)
				for k, v := range c {
					m[k] = v
				}
				m[name] = id
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}

// buildParent maps each source to its id. Finished sub-flows contribute
// their nested finished map or, in compound mode, flatten it.
func (s *step) buildParent(ctx context.Context, combo map[string]string) (flow.Parent, error) {
	parent := make(flow.Parent, len(combo))
	names := make([]string, 0, len(combo))
	for name := range combo {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		id := combo[name]
		ref := parent[name]
		ref.ID = id
		ref.Flow = ""

		if s.d.system.IsFlow(name) {
			compound := s.flow.Propagate.CompoundFinished.Has(name)
			nested := s.flow.Propagate.Finished.Has(name)
			if compound || nested {
				snap, err := s.subflowSnapshot(ctx, name, id)
				if err != nil {
					return nil, err
				}
				if compound {
					for _, n := range sortedKeys(snap.Finished) {
						r := parent[n]
						r.IDs = append(r.IDs, snap.Finished[n]...)
						if r.ID == "" {
							// Lookup returns the last id, which this sub-flow just appended.
							r.Flow = name
						}
						parent[n] = r
					}
					ref = parent[name]
					ref.ID = id
					ref.Flow = ""
				} else {
					ref.Finished = snap.Finished
				}
			}
		}
		parent[name] = ref
	}
	return parent, nil
}

func (s *step) subflowSnapshot(ctx context.Context, name, id string) (flow.Snapshot, error) {
	res, err := s.d.queue.Poll(ctx, id)
	if err != nil {
		return flow.Snapshot{}, transient(fmt.Sprintf("poll sub-flow %s (%s)", name, id), err)
	}
	switch snap := res.Result.(type) {
	case flow.Snapshot:
		return snap, nil
	case *flow.Snapshot:
		if snap != nil {
			return *snap, nil
		}
	}
	return flow.Snapshot{}, fmt.Errorf("sub-flow %s (%s) returned %T, not a snapshot", name, id, res.Result)
}

// fireEdge evaluates edge idx for one parent combination and starts its
// destinations when the condition holds.
func (s *step) fireEdge(ctx context.Context, idx int, parent flow.Parent) error {
	e := s.flow.Edges[idx]
	pool := storage.NewPool(s.d.system, s.d.storage, s.flow.FlowName, parent)

	ok, err := e.Eval(ctx, pool, s.state.NodeArgs)
	if err != nil {
		return transient(fmt.Sprintf("edge %d condition", idx), err)
	}
	if !ok {
		s.log.Debug("edge condition false", "edge", idx)
		return nil
	}

	args := []any{s.state.NodeArgs}
	if e.Foreach != nil {
		items, err := e.Foreach.Func(ctx, pool, s.state.NodeArgs)
		if err != nil {
			return transient(fmt.Sprintf("edge %d foreach %s", idx, e.Foreach.Name), err)
		}
		args = args[:0]
		for _, item := range items {
			if e.Foreach.PropagateResult {
				args = append(args, item)
			} else {
				args = append(args, s.state.NodeArgs)
			}
		}
	}

	s.state.AddTriggered(idx)
	s.log.Debug("edge fired", "edge", idx, "instances", len(args))

	sel := s.selection()
	for _, nodeArgs := range args {
		for _, name := range e.To {
			if !sel.DestinationAllowed(s.flow.FlowName, idx, name) {
				continue
			}
			if reused, err := s.tryReuse(ctx, sel, name, nodeArgs, parent); err != nil || reused {
				if err != nil {
					return err
				}
				continue
			}
			rec, err := s.startNode(ctx, name, nodeArgs, parent)
			if err != nil {
				return err
			}
			s.started = append(s.started, rec)
		}
	}
	return nil
}

// tryReuse asks the selective run function whether a non-target task may
// reuse an earlier result.
func (s *step) tryReuse(ctx context.Context, sel *flow.Selection, name string, nodeArgs any, parent flow.Parent) (bool, error) {
	if sel == nil || s.d.selectiveRun == nil || sel.IsTarget(name) || s.d.system.IsFlow(name) {
		return false, nil
	}
	id, reuse, err := s.d.selectiveRun(ctx, s.flow.FlowName, name, nodeArgs, parent)
	if err != nil {
		return false, transient(fmt.Sprintf("selective run %s", name), err)
	}
	if !reuse {
		return false, nil
	}
	s.log.Debug("reusing result", "node", name, "node_id", id)
	s.reused = append(s.reused, flow.NodeRecord{Name: name, ID: id})
	return true, nil
}

// startNode dispatches one node instance.
func (s *step) startNode(ctx context.Context, name string, nodeArgs any, parent flow.Parent) (flow.NodeRecord, error) {
	node, ok := s.d.system.Node(name)
	if !ok {
		return flow.NodeRecord{}, fmt.Errorf("flow %s references unknown node %q", s.flow.FlowName, name)
	}

	req := DispatchRequest{
		Kind:      node.Kind(),
		Name:      name,
		FlowName:  s.flow.FlowName,
		FlowID:    s.id,
		Queue:     node.QueueName(),
		NodeArgs:  nodeArgs,
		Parent:    parent,
		Countdown: s.d.throttler.Reserve(name, node.ThrottleInterval()),
	}
	if node.Kind() == flow.KindFlow {
		if !s.flow.Propagate.NodeArgs.Has(name) {
			req.NodeArgs = nil
		}
		if s.flow.Propagate.Parent.Has(name) {
			req.Parent = parent.Scoped(s.flow.FlowName)
		} else {
			req.Parent = nil
		}
		if s.state.Selective.HasFlow(name) {
			req.Selective = s.state.Selective
		}
	}

	id, err := s.d.queue.Dispatch(ctx, req)
	if err != nil {
		return flow.NodeRecord{}, transient(fmt.Sprintf("dispatch %s", name), err)
	}
	rec := flow.NodeRecord{Name: name, ID: id}
	if !s.flow.IsNoWait(name) {
		s.state.ActiveNodes = append(s.state.ActiveNodes, rec)
	}
	s.log.Info("node started",
		"node", name,
		"node_id", id,
		"countdown", req.Countdown,
		"nowait", s.flow.IsNoWait(name),
	)
	return rec, nil
}

// recover runs fallbacks for failed nodes once nothing is active.
//
// Failed names are sorted and combinations are tried from the largest to
// single names. A Resolve spec consumes one id per name and scanning resumes
// at the same combination size, never a larger one. A Nodes spec consumes,
// starts its nodes and ends recovery unless every started node is no-wait,
// in which case there is nothing to wait for and scanning resumes too.
func (s *step) recover(ctx context.Context) error {
	maxSize := len(s.state.FailedNodes)
	for len(s.state.FailedNodes) > 0 {
		spec, combo, err := s.findFallback(ctx, maxSize)
		if err != nil {
			return err
		}
		if combo == nil {
			break
		}
		maxSize = len(combo)

		consumed := make(flow.Parent, len(combo))
		for _, name := range combo {
			id, _ := s.state.ConsumeFailed(name)
			consumed[name] = flow.ParentRef{ID: id}
		}

		if spec.Resolve {
			s.log.Info("failure resolved by fallback", "nodes", combo)
			continue
		}

		s.log.Info("starting fallback", "failed", combo, "fallback", spec.Nodes)
		for _, name := range spec.Nodes {
			rec, err := s.startNode(ctx, name, s.state.NodeArgs, consumed)
			if err != nil {
				return err
			}
			s.fallback = append(s.fallback, rec)
		}
		if len(s.state.ActiveNodes) > 0 {
			return nil
		}
	}

	if len(s.state.FailedNodes) > 0 {
		return s.unrecovered()
	}
	return nil
}

func (s *step) unrecovered() *FlowError {
	return &FlowError{
		Flow:     s.flow.FlowName,
		ID:       s.id,
		Reason:   fmt.Sprintf("no fallback for failed nodes %v", s.state.FailedNames()),
		Snapshot: s.state.Snapshot(),
	}
}

// findFallback returns the first spec whose condition holds, scanning
// combinations of at most maxSize failed names from largest to smallest in
// lexical order.
func (s *step) findFallback(ctx context.Context, maxSize int) (flow.FallbackSpec, []string, error) {
	names := s.state.FailedNames()
	pool := storage.NewPool(s.d.system, s.d.storage, s.flow.FlowName, s.lastFinishedParent())

	for size := min(maxSize, len(names)); size >= 1; size-- {
		for _, combo := range combinationsOf(names, size) {
			for _, spec := range s.flow.Failures.Lookup(combo) {
				ok := true
				if spec.Condition != nil {
					var err error
					ok, err = spec.Condition(ctx, pool, s.state.NodeArgs)
					if err != nil {
						return flow.FallbackSpec{}, nil, transient("fallback condition", err)
					}
				}
				if ok {
					return spec, combo, nil
				}
			}
		}
	}
	return flow.FallbackSpec{}, nil, nil
}

// lastFinishedParent maps every finished name to its most recent id.
func (s *step) lastFinishedParent() flow.Parent {
	parent := make(flow.Parent, len(s.state.FinishedNodes))
	for name, ids := range s.state.FinishedNodes {
		if len(ids) > 0 {
			parent[name] = flow.ParentRef{ID: ids[len(ids)-1]}
		}
	}
	return parent
}

// combinationsOf returns all size-k combinations of sorted names in
// lexical order.
func combinationsOf(names []string, k int) [][]string {
	var out [][]string
	var walk func(start int, cur []string)
	walk = func(start int, cur []string) {
		if len(cur) == k {
			out = append(out, append([]string(nil), cur...))
			return
		}
		for i := start; i <= len(names)-(k-len(cur)); i++ {
			walk(i+1, append(cur, names[i]))
		}
	}
	walk(0, make([]string, 0, k))
	return out
}

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
