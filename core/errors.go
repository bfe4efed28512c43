package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors per the component taxonomy: Validation, Resource,
// Availability, Logic, or Internal. Callers branch on Kind rather than on
// sentinel identity so that wrapping never hides the classification.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindResource     ErrorKind = "resource"
	KindAvailability ErrorKind = "availability"
	KindLogic        ErrorKind = "logic"
	KindInternal     ErrorKind = "internal"
)

// Sentinel errors for comparison with errors.Is(). Each one is wrapped by a
// *Error carrying component/tenant/task context before it reaches a caller.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrTenantMismatch  = errors.New("tenant mismatch")
	ErrToolValidation  = errors.New("tool argument validation failed")
	ErrWorkflowInvalid = errors.New("workflow invalid")

	ErrRateLimited     = errors.New("rate limited")
	ErrInboxFull       = errors.New("inbox full")
	ErrMemoryPressure  = errors.New("memory pressure")

	ErrCircuitOpen         = errors.New("circuit open")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrTimeout             = errors.New("timeout")

	ErrToolNotFound    = errors.New("tool not found")
	ErrUnknownAgent    = errors.New("unknown agent")
	ErrUnknownWorkflow = errors.New("unknown workflow")

	ErrInvariantBroken = errors.New("invariant broken")
	ErrCancelled       = errors.New("cancelled")
)

// Error is the structured error value returned across every API boundary in
// the package: {kind, message, component, tenant, task_id?, retryable}.
type Error struct {
	Kind      ErrorKind
	Component string
	Tenant    TenantID
	TaskID    string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("%s[%s/%s]: %s", e.Component, e.Tenant, e.TaskID, e.Message)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Component, e.Tenant, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a structured error wrapping a sentinel. component names the
// emitting subsystem (e.g. "gateway", "agent") for observability fan-out.
func NewError(kind ErrorKind, component string, tenant TenantID, sentinel error, retryable bool) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Tenant:    tenant,
		Message:   sentinel.Error(),
		Retryable: retryable,
		Err:       sentinel,
	}
}

// WithTask attaches a task id to an existing Error, returning a new value.
func (e *Error) WithTask(taskID string) *Error {
	cp := *e
	cp.TaskID = taskID
	return &cp
}

// IsRetryable reports whether err, or anything it wraps, is a retryable
// *Error. Non-Error values are never retryable by default.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}
