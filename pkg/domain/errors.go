package domain

import (
	"errors"
	"fmt"
)

// LifecycleViolation reports an action that is illegal for the asset's
// current status. No writes are attempted when it is returned.
type LifecycleViolation struct {
	Action LifecycleAction
	Status AssetStatus
	Reason string
}

func (e *LifecycleViolation) Error() string {
	msg := fmt.Sprintf("lifecycle violation: %s not allowed while asset is %s", e.Action, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// NotFoundError is returned when a get or subscribe target does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// StoreError wraps an underlying store failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return "store: " + e.Err.Error()
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ErrInvalidInput marks payload validation failures.
var ErrInvalidInput = errors.New("invalid input")

// Invalidf returns an error wrapping ErrInvalidInput.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsLifecycleViolation reports whether err is or wraps a LifecycleViolation.
func IsLifecycleViolation(err error) bool {
	var lv *LifecycleViolation
	return errors.As(err, &lv)
}
