package migration

import (
	"errors"
	"fmt"
)

// SkewError means the message was written by a worker that knows newer
// artifacts than this one. The message must be re-queued unchanged.
type SkewError struct {
	Flow    string
	Version int
	Latest  int
}

func (e *SkewError) Error() string {
	return fmt.Sprintf("flow %s: message migration version %d is newer than latest known %d",
		e.Flow, e.Version, e.Latest)
}

// TaintedFlowError means a migration invalidated the instance and the
// strategy is RETRY or FAIL.
type TaintedFlowError struct {
	Flow     string
	Version  int
	Strategy Strategy
}

func (e *TaintedFlowError) Error() string {
	return fmt.Sprintf("flow %s tainted by migration to version %d (strategy %s)",
		e.Flow, e.Version, e.Strategy)
}

// IsSkewError reports whether err is a SkewError.
func IsSkewError(err error) bool {
	var se *SkewError
	return errors.As(err, &se)
}

// IsTaintedError reports whether err is a TaintedFlowError.
func IsTaintedError(err error) bool {
	var te *TaintedFlowError
	return errors.As(err, &te)
}
