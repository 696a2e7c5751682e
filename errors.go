package gatewaysync

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an identifier does not resolve to a mirror row.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input. It never reaches the orchestrator.
type ValidationError struct {
	error
}

// Invalid builds a ValidationError from a format string.
func Invalid(format string, args ...any) error {
	return &ValidationError{fmt.Errorf(format, args...)}
}

func (e *ValidationError) Unwrap() error { return e.error }

// ConflictError is returned by the uniqueness pre-check before any remote call.
type ConflictError struct {
	Key UniqueKey
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s with %s %q already exists", e.Key.Kind, e.Key.Field, e.Key.Value)
}

// RemoteSemanticError is a non-2xx answer from the control plane.
type RemoteSemanticError struct {
	Status int
	Body   string
}

func (e *RemoteSemanticError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.Status, e.Body)
}

// RemoteTransportError is a network failure or timeout talking to the control plane.
type RemoteTransportError struct {
	Cause error
}

func (e *RemoteTransportError) Error() string {
	return fmt.Sprintf("remote unreachable: %v", e.Cause)
}

func (e *RemoteTransportError) Unwrap() error { return e.Cause }

// RemoteStepFailed is the failure returned to the caller when a plan step
// fails. Completed steps have been compensated or scheduled for compensation.
type RemoteStepFailed struct {
	Step  StepName
	Label string
	Cause error
}

func (e *RemoteStepFailed) Error() string {
	what := e.Label
	if what == "" {
		what = string(e.Step)
	}
	return fmt.Sprintf("%s failed: %v", what, e.Cause)
}

func (e *RemoteStepFailed) Unwrap() error { return e.Cause }

// MirrorCommitFailed is returned when every remote step succeeded but the
// mirror transaction could not commit. The remote steps are compensated.
type MirrorCommitFailed struct {
	Cause error
}

func (e *MirrorCommitFailed) Error() string {
	return fmt.Sprintf("mirror commit failed: %v", e.Cause)
}

func (e *MirrorCommitFailed) Unwrap() error { return e.Cause }

// PlanAborted wraps a plan failure during which at least one compensation
// could not even be dispatched.
type PlanAborted struct {
	Cause         error
	Compensations []error
}

func (e *PlanAborted) Error() string {
	return fmt.Sprintf("plan aborted: %v (compensation errors: %v)", e.Cause, errors.Join(e.Compensations...))
}

func (e *PlanAborted) Unwrap() []error {
	return append([]error{e.Cause}, e.Compensations...)
}

// CompensationExhausted is reported through logs and metrics once a
// compensation has used its whole retry budget.
type CompensationExhausted struct {
	Action   ActionName
	Resource ResourceKey
	Attempts int
	Last     error
}

func (e *CompensationExhausted) Error() string {
	return fmt.Sprintf("compensation %s for %s exhausted after %d attempts: %v", e.Action, e.Resource, e.Attempts, e.Last)
}

func (e *CompensationExhausted) Unwrap() error { return e.Last }

// OrphanCleanupError is logged when catalog garbage collection fails.
type OrphanCleanupError struct {
	Catalog string
	Cause   error
}

func (e *OrphanCleanupError) Error() string {
	return fmt.Sprintf("orphan cleanup of %s failed: %v", e.Catalog, e.Cause)
}

func (e *OrphanCleanupError) Unwrap() error { return e.Cause }

// ActionError represents an error produced while preparing or decoding a
// compensation action.
type ActionError struct {
	error
}

func (e *ActionError) Unwrap() error { return e.error }

// ActionNotFound indicates that no compensation is registered under the name.
func ActionNotFound(name ActionName) error {
	return &ActionError{fmt.Errorf("compensation action %q not registered", name)}
}

// SerializeFailed indicates a failure to serialize plan data.
func SerializeFailed(err error) error {
	return &ActionError{fmt.Errorf("serialize failed: %w", err)}
}

// DeserializeFailed indicates a failure to deserialize plan data.
func DeserializeFailed(err error) error {
	return &ActionError{fmt.Errorf("deserialize failed: %w", err)}
}
