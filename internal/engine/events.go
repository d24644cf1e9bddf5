package engine

import "time"

// EventType names what happened to a node instance.
type EventType string

const (
	EventDispatched      EventType = "dispatched"
	EventTaskSucceeded   EventType = "task_succeeded"
	EventTaskFailed      EventType = "task_failed"
	EventFlowSuspended   EventType = "flow_suspended"
	EventFlowCompleted   EventType = "flow_completed"
	EventFlowFailed      EventType = "flow_failed"
	EventFlowRestarted   EventType = "flow_restarted"
	EventFlowRedelivered EventType = "flow_redelivered"
)

// Event is one entry of the engine trace, delivered to the observer in the
// order the Run loop produced it.
type Event struct {
	Seq  int64
	Type EventType
	// Node is the task or flow name.
	Node string
	ID   string
	// ParentID is the dispatching flow instance, set on dispatch.
	ParentID  string
	Countdown time.Duration
	Error     string
}

func (e *Engine) emit(ev Event) {
	if e.observer == nil {
		return
	}
	ev.Seq = e.clock.Next()
	e.observer(ev)
}
