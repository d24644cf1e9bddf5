package harness

import (
	"fmt"
	"strings"

	"github.com/selinon/selinon-sub000/internal/flow"
	"github.com/selinon/selinon-sub000/internal/store"
)

// TraceEvent is one engine event as recorded by the harness.
type TraceEvent struct {
	Type      string `json:"type"`
	Node      string `json:"node"`
	ID        string `json:"id"`
	ParentID  string `json:"parent_id,omitempty"`
	Countdown string `json:"countdown,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Key is the "<type> <node>" form used by trace assertions.
func (e TraceEvent) Key() string {
	return e.Type + " " + e.Node
}

// String renders the event as a single golden-file line.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", e.Type, e.Node, e.ID)
	if e.ParentID != "" {
		fmt.Fprintf(&b, " parent=%s", e.ParentID)
	}
	if e.Countdown != "" {
		fmt.Fprintf(&b, " countdown=%s", e.Countdown)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	return b.String()
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors holds assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Status is the final status of the top-level flow.
	Status store.HandleStatus `json:"status"`

	// Snapshot is the top-level flow's finished and failed nodes.
	Snapshot flow.Snapshot `json:"snapshot"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an error message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
