package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer bounds the number of dispatcher steps one flow instance may
// take, so a cyclic flow whose conditions never turn false still ends.
// Each instance owns one enforcer; it is not safe for concurrent use.
type QuotaEnforcer struct {
	limit int
	steps int
}

// NewQuotaEnforcer allows up to limit steps.
func NewQuotaEnforcer(limit int) *QuotaEnforcer {
	return &QuotaEnforcer{limit: limit}
}

// Check counts one step and returns *StepsExceededError once the count
// passes the limit.
func (q *QuotaEnforcer) Check(flowID string) error {
	q.steps++
	if q.steps > q.limit {
		return &StepsExceededError{FlowID: flowID, Steps: q.steps, Limit: q.limit}
	}
	return nil
}

// Reset zeroes the count. A flow restarted after a tainting migration gets
// a fresh budget.
func (q *QuotaEnforcer) Reset() { q.steps = 0 }

// Steps returns the number of steps counted so far.
func (q *QuotaEnforcer) Steps() int { return q.steps }

// StepsExceededError fails a flow instance that ran out of steps.
type StepsExceededError struct {
	FlowID string
	Steps  int
	Limit  int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("flow %s exceeded max steps quota: %d steps > %d limit",
		e.FlowID, e.Steps, e.Limit)
}

// IsQuotaError reports whether err is a *StepsExceededError.
func IsQuotaError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
