package migration

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/selinon/selinon-sub000/internal/flow"
)

// Result describes one Apply.
type Result struct {
	// From is the version the state carried, -1 when it had none.
	From    int
	Version int
	Tainted bool
	// Strategy is the strongest strategy among tainting steps.
	Strategy Strategy
}

// Migrator applies a fixed, ordered list of artifacts. Step i moves state
// from version i to version i+1. It is safe for concurrent use.
type Migrator struct {
	steps  []*Migration
	logger *slog.Logger
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Migrator) {
		m.logger = l
	}
}

// NewMigrator returns a migrator over steps, where steps[0] is version 1.
func NewMigrator(steps []*Migration, opts ...Option) *Migrator {
	m := &Migrator{steps: steps, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadMigrator reads every artifact of dir.
func LoadMigrator(dir *Dir, opts ...Option) (*Migrator, error) {
	steps, err := dir.LoadAll()
	if err != nil {
		return nil, err
	}
	return NewMigrator(steps, opts...), nil
}

// Latest returns the newest version this migrator knows.
func (m *Migrator) Latest() int {
	if m == nil {
		return 0
	}
	return len(m.steps)
}

// Apply brings state to the latest version in place.
//
// State without a version adopts the latest one unchanged. A version newer
// than Latest returns a SkewError and leaves state untouched. Taint is
// reported through Result; deciding what to do about it is up to the caller.
func (m *Migrator) Apply(flowName string, state *flow.State) (Result, error) {
	latest := m.Latest()
	if state.MigrationVersion == nil {
		v := latest
		state.MigrationVersion = &v
		return Result{From: -1, Version: latest}, nil
	}

	from := *state.MigrationVersion
	res := Result{From: from, Version: latest}
	switch {
	case from == latest:
		return res, nil
	case from > latest:
		return res, &SkewError{Flow: flowName, Version: from, Latest: latest}
	case from < 0:
		return res, fmt.Errorf("flow %s: invalid migration version %d", flowName, from)
	}

	for v := from; v < latest; v++ {
		step := m.steps[v]
		fm, ok := step.Flows[flowName]
		if !ok {
			continue
		}
		if applyStep(fm, state) {
			res.Tainted = true
			res.Strategy = Stronger(res.Strategy, step.TaintedFlowStrategy)
			m.logger.Warn("flow tainted by migration",
				"flow", flowName,
				"version", v+1,
				"strategy", step.TaintedFlowStrategy,
			)
		}
		m.logger.Debug("migration step applied",
			"flow", flowName,
			"version", v+1,
			"waiting_edges", state.WaitingEdges,
			"triggered_edges", state.TriggeredEdges,
		)
	}

	v := latest
	state.MigrationVersion = &v
	return res, nil
}

// applyStep rewrites state for one version and reports taint.
func applyStep(fm FlowMigration, state *flow.State) bool {
	tainted := false
	for _, idx := range state.TriggeredEdges {
		if _, ok := fm.TaintedEdges[strconv.Itoa(idx)]; ok {
			tainted = true
			break
		}
	}

	waiting := translate(fm, state.WaitingEdges)
	triggered := translate(fm, state.TriggeredEdges)
	state.WaitingEdges = nil
	state.TriggeredEdges = nil
	for _, idx := range waiting {
		state.AddWaiting(idx)
	}
	for _, idx := range triggered {
		state.AddTriggered(idx)
	}

	progress := state.ProgressNames()
	for _, idx := range sortedIndexKeys(fm.TaintingNodes) {
		from := fm.TaintingNodes[strconv.Itoa(idx)]
		if !allIn(from, progress) {
			continue
		}
		tainted = true
		state.AddWaiting(idx)
	}
	return tainted
}

// translate maps indices through the step. Indices absent from the
// translation are kept as they are.
func translate(fm FlowMigration, indices []int) []int {
	out := make([]int, 0, len(indices))
	for _, idx := range indices {
		to, ok := fm.Translation[strconv.Itoa(idx)]
		if !ok {
			out = append(out, idx)
			continue
		}
		if to != nil {
			out = append(out, *to)
		}
	}
	return out
}

func allIn(names []string, set map[string]bool) bool {
	for _, n := range names {
		if !set[n] {
			return false
		}
	}
	return true
}
