package dispatch

import (
	"fmt"
	"math/rand/v2"

	"github.com/selinon/selinon-sub000/internal/flow"
)

// StrategyInput is what a scheduling strategy sees after a step.
type StrategyInput struct {
	PreviousRetry *int
	Active        []flow.NodeRecord
	Failed        map[string][]string
	NewStarted    []flow.NodeRecord
	NewFallback   []flow.NodeRecord
	Finished      map[string][]string
}

// Strategy returns the countdown in seconds before the flow is polled
// again, or nil when the flow has nothing left to wait for.
type Strategy func(in StrategyInput) *int

// StrategyFactory builds a strategy from its integer parameters.
type StrategyFactory func(params map[string]int) (Strategy, error)

// DefaultStrategy is used by flows that bind none.
var DefaultStrategy = flow.StrategySpec{
	Name:   "exponential",
	Params: map[string]int{"start": 2, "max": 120},
}

var builtinStrategies = map[string]StrategyFactory{
	"constant":    constantStrategy,
	"linear":      linearStrategy,
	"exponential": exponentialStrategy,
	"random":      randomStrategy,
}

func param(params map[string]int, name string, def int) int {
	if v, ok := params[name]; ok {
		return v
	}
	return def
}

func seconds(v int) *int { return &v }

func constantStrategy(params map[string]int) (Strategy, error) {
	interval := param(params, "interval", 2)
	if interval < 0 {
		return nil, fmt.Errorf("constant: negative interval")
	}
	return func(in StrategyInput) *int {
		if len(in.Active) == 0 {
			return nil
		}
		return seconds(interval)
	}, nil
}

// linearStrategy grows the countdown by step while nothing new starts.
func linearStrategy(params map[string]int) (Strategy, error) {
	start, step, limit := param(params, "start", 2), param(params, "step", 2), param(params, "max", 120)
	if start < 0 || step < 0 || limit < start {
		return nil, fmt.Errorf("linear: need 0 <= start <= max and step >= 0")
	}
	return func(in StrategyInput) *int {
		if len(in.Active) == 0 {
			return nil
		}
		if in.PreviousRetry == nil || len(in.NewStarted) > 0 || len(in.NewFallback) > 0 {
			return seconds(start)
		}
		return seconds(min(*in.PreviousRetry+step, limit))
	}, nil
}

// exponentialStrategy doubles the countdown while nothing new starts.
func exponentialStrategy(params map[string]int) (Strategy, error) {
	start, limit := param(params, "start", 2), param(params, "max", 120)
	if start < 1 || limit < start {
		return nil, fmt.Errorf("exponential: need 1 <= start <= max")
	}
	return func(in StrategyInput) *int {
		if len(in.Active) == 0 {
			return nil
		}
		if in.PreviousRetry == nil || len(in.NewStarted) > 0 || len(in.NewFallback) > 0 {
			return seconds(start)
		}
		return seconds(min(max(*in.PreviousRetry, 1)*2, limit))
	}, nil
}

func randomStrategy(params map[string]int) (Strategy, error) {
	start, limit := param(params, "start", 1), param(params, "max", 10)
	if start < 0 || limit < start {
		return nil, fmt.Errorf("random: need 0 <= start <= max")
	}
	return func(in StrategyInput) *int {
		if len(in.Active) == 0 {
			return nil
		}
		return seconds(start + rand.IntN(limit-start+1))
	}, nil
}
