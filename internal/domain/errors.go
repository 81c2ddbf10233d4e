package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfRange            = errors.New("bar sequence out of range")
	ErrInvalidRiskParameters = errors.New("invalid risk parameters")
	ErrPositionNotFound      = errors.New("position not found")
	ErrExecutionFailed       = errors.New("execution failed")
)

// ExecutionError wraps a rejection from the execution service.
type ExecutionError struct {
	Op    string
	Label string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Label, e.Err)
}

func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecutionFailed, e.Err}
}

// NewExecutionError returns nil when err is nil.
func NewExecutionError(op, label string, err error) error {
	if err == nil {
		return nil
	}
	return &ExecutionError{Op: op, Label: label, Err: err}
}
