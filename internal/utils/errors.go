package utils

import (
	"errors"
	"fmt"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// Sentinel errors shared across the incident lifecycle. Transient fetch and
// transport errors are absorbed by the component that sees them; only
// ErrUnknownService surfaces to callers as a configuration failure.
var (
	ErrUnknownService = errors.New("unknown service id")
	ErrNoUsableAction = errors.New("no usable remediation action")
	ErrCooldownActive = errors.New("action cooldown active")
	ErrIncidentClosed = errors.New("incident already terminal")
	ErrActionInFlight = errors.New("action already in flight for incident")
)
