package dispatch

import (
	"context"
	"time"

	"github.com/selinon/selinon-sub000/internal/flow"
)

// DispatchRequest asks the task queue to run one node.
type DispatchRequest struct {
	Kind flow.NodeKind
	Name string
	// FlowName and FlowID identify the dispatching flow instance.
	FlowName string
	FlowID   string
	Queue    string

	NodeArgs any
	Parent   flow.Parent
	// Selective is passed to sub-flows that the selection constrains.
	Selective *flow.Selection

	// Countdown defers execution, set when the node is throttled.
	Countdown time.Duration
}

// PollStatus is the state of a dispatched node.
type PollStatus int

const (
	Pending PollStatus = iota
	Success
	Failure
)

func (s PollStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// PollResult reports a node's state. A finished sub-flow sets Result to its
// flow.Snapshot.
type PollResult struct {
	Status PollStatus
	Result any
	Err    error
}

// TaskQueue is the transport collaborator. Dispatch returns the node
// instance id, which doubles as the handle polled later.
type TaskQueue interface {
	Dispatch(ctx context.Context, req DispatchRequest) (string, error)
	Poll(ctx context.Context, id string) (PollResult, error)
}

// SelectiveRunFunc decides whether a node outside the selection targets may
// reuse an earlier result. Returning reuse=true with the id of that result
// treats the node as finished without running it.
type SelectiveRunFunc func(ctx context.Context, flowName, nodeName string, nodeArgs any, parent flow.Parent) (id string, reuse bool, err error)
