package dispatch

import (
	"errors"
	"fmt"

	"github.com/selinon/selinon-sub000/internal/flow"
)

// FlowError is the terminal failure of a flow instance. Snapshot tells a
// parent flow which nodes finished and which failed.
type FlowError struct {
	Flow     string
	ID       string
	Reason   string
	Snapshot flow.Snapshot
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("flow %s (%s) failed: %s", e.Flow, e.ID, e.Reason)
}

// TransientError wraps a backend or transport failure. The step made no
// durable decision; the same message should be delivered again.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsFlowError reports whether err is a FlowError.
func IsFlowError(err error) bool {
	var fe *FlowError
	return errors.As(err, &fe)
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
