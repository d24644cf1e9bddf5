package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is raised by the engine itself rather than returned by a
// task handler.
type RuntimeError struct {
	Code    RuntimeErrorCode
	Message string
	// FlowID identifies the affected flow instance.
	FlowID string
	// Node names the task or flow involved.
	Node string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeMissingHandler indicates a task has no registered handler.
	ErrCodeMissingHandler RuntimeErrorCode = "MISSING_HANDLER"

	// ErrCodeTaskPanic indicates a task handler panicked.
	ErrCodeTaskPanic RuntimeErrorCode = "TASK_PANIC"

	// ErrCodeRedeliveryLimit indicates a flow message kept failing with
	// transient errors.
	ErrCodeRedeliveryLimit RuntimeErrorCode = "REDELIVERY_LIMIT"
)

func (e *RuntimeError) Error() string {
	if e.FlowID != "" && e.Node != "" {
		return fmt.Sprintf("%s: %s (flow=%s, node=%s)", e.Code, e.Message, e.FlowID, e.Node)
	}
	if e.Node != "" {
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.Node)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsMissingHandlerError returns true if a task had no registered handler.
func IsMissingHandlerError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeMissingHandler
	}
	return false
}

func newMissingHandlerError(flowID, task string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeMissingHandler,
		Message: "no handler registered for task",
		FlowID:  flowID,
		Node:    task,
	}
}
