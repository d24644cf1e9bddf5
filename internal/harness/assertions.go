package harness

import (
	"fmt"
	"strings"

	"github.com/selinon/selinon-sub000/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, event)
		}
	}

	return buf.String()
}

// evaluateAssertion dispatches to the check for the assertion's type.
func evaluateAssertion(result *Result, assertion Assertion) error {
	switch assertion.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, assertion)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, assertion)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, assertion)
	case AssertFinalStatus:
		return assertFinalStatus(result, assertion)
	case AssertFinished:
		return assertNodeCount(assertion, result.Snapshot.Finished)
	case AssertFailed:
		return assertNodeCount(assertion, result.Snapshot.Failed)
	default:
		return fmt.Errorf("unknown assertion type %q", assertion.Type)
	}
}

// assertTraceContains checks that some event matches "<type> <node>".
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Key() == assertion.Event {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: assertion.Event,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that events first appear in the given order.
// Intervening events are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		key := event.Key()
		if _, seen := positions[key]; !seen {
			positions[key] = i + 1
		}
	}

	for _, want := range assertion.Events {
		if positions[want] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", want),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev, curr := assertion.Events[i-1], assertion.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that the event occurs exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Key() == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

func assertFinalStatus(result *Result, assertion Assertion) error {
	if result.Status != store.HandleStatus(assertion.Status) {
		return &AssertionError{
			Type:     AssertFinalStatus,
			Expected: assertion.Status,
			Actual:   string(result.Status),
		}
	}
	return nil
}

// assertNodeCount checks how many instances of Node the flow recorded.
// A zero Count asserts the node is absent.
func assertNodeCount(assertion Assertion, nodes map[string][]string) error {
	got := len(nodes[assertion.Node])
	if got != assertion.Count {
		return &AssertionError{
			Type:     assertion.Type,
			Expected: fmt.Sprintf("%d %s instances of %s", assertion.Count, assertion.Type, assertion.Node),
			Actual:   fmt.Sprintf("%d: %v", got, nodes[assertion.Node]),
		}
	}
	return nil
}

// EvaluateAssertions checks assertions against an existing result and
// returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, assertion := range assertions {
		if err := evaluateAssertion(result, assertion); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}
