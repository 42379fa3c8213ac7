package coordinator

import (
	"fmt"
	"strings"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/backend"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
)

// UnsupportedCategoryError reports a command whose category has no template.
// Fatal and immediate; nothing is executed and nothing is recorded.
type UnsupportedCategoryError struct {
	Category command.Category
}

func (e *UnsupportedCategoryError) Error() string {
	return fmt.Sprintf("unsupported category %q", e.Category)
}

// NoCapableBackendError reports that no registered backend satisfies the
// category's required capability. Considered lists every registered backend
// at decision time.
type NoCapableBackendError struct {
	Category   command.Category
	Required   []backend.Tag
	Considered []string
}

func (e *NoCapableBackendError) Error() string {
	return fmt.Sprintf("no capable backend for category %q (required %v, considered %v)",
		e.Category, e.Required, e.Considered)
}

// InvalidParametersError reports required template parameters missing from a
// command.
type InvalidParametersError struct {
	Category command.Category
	Missing  []string
}

func (e *InvalidParametersError) Error() string {
	return fmt.Sprintf("category %q requires parameters %v", e.Category, e.Missing)
}

// NotFoundError reports a status query for an unknown or reaped command.
type NotFoundError struct {
	CommandID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no run for command %s", e.CommandID)
}

// AttemptFailure names one attempted backend and why it failed.
type AttemptFailure struct {
	BackendID string
	Err       error
}

// ExhaustedError aggregates every failed attempt once all candidates are
// spent.
type ExhaustedError struct {
	CommandID string
	Attempts  []AttemptFailure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.BackendID, a.Err))
	}
	return fmt.Sprintf("command %s: all attempted backends failed: %s",
		e.CommandID, strings.Join(parts, "; "))
}

// Unwrap exposes the per-attempt causes to errors.Is/As.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
