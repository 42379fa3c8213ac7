package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// InvocationError wraps an engine failure with the backend and capability it
// came from so fallback decisions and audit records can name both.
type InvocationError struct {
	BackendID string
	Tag       Tag
	Temporary bool
	Err       error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return "backend invocation error"
	}
	if e.Err != nil {
		return fmt.Sprintf("backend %s: %s: %v", e.BackendID, e.Tag, e.Err)
	}
	return fmt.Sprintf("backend %s: %s failed", e.BackendID, e.Tag)
}

func (e *InvocationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NotImplementedError reports a capability call against an engine that does
// not implement the tag.
type NotImplementedError struct {
	BackendID string
	Tag       Tag
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("backend %s does not implement %s", e.BackendID, e.Tag)
}

// IsTransient reports whether an engine error is safe to retry elsewhere
// without assuming the backend is broken. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.Temporary
	}
	return false
}
