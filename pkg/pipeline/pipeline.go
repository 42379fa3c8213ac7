// Package pipeline defines the static per-category step templates and the
// executor that runs one template against one chosen engine. Templates are
// data registered once at package load; they are never mutated at runtime.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/backend"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
)

// StepStatus is the lifecycle state of one pipeline step.
type StepStatus string

const (
	StepNotStarted StepStatus = "not_started"
	StepRunning    StepStatus = "running"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// ErrSkip is returned by a step body when its input is absent. The step is
// recorded as skipped and the pipeline continues.
var ErrSkip = errors.New("step input absent")

// Step is one entry of a template.
type Step struct {
	Name       string
	Capability backend.Tag
	// Required marks a hard dependency: failure aborts the whole pipeline.
	// Soft steps are logged and skipped on failure.
	Required bool
	// Independent soft steps may run concurrently with each other once the
	// preceding dependent step has completed.
	Independent bool
	Run         func(ctx context.Context, ex *Execution) error
}

// Template is the static step sequence bound to one category.
type Template struct {
	Category       command.Category
	RequiredParams []string
	Steps          []*Step
	// Merge is a pure function combining step outputs into the final artifact.
	Merge func(ex *Execution) (*Artifact, error)
}

// MissingParams returns the required parameter names absent from the command.
func (t *Template) MissingParams(cmd command.Command) []string {
	var missing []string
	for _, name := range t.RequiredParams {
		if _, ok := cmd.Parameters[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Execution carries state across one template run against one engine.
// Concurrent independent steps write disjoint fields; everything is read
// only after all steps have been joined.
type Execution struct {
	Command command.Command
	Engine  backend.Engine

	Sequence    *backend.Sequence
	Report      *backend.Report
	Arrangement *backend.Report
	Audio       *backend.Audio
}

// Artifact is the merged output of a completed pipeline.
type Artifact struct {
	Category    command.Category  `json:"category"`
	Sequence    *backend.Sequence `json:"sequence,omitempty"`
	Report      *backend.Report   `json:"report,omitempty"`
	Arrangement *backend.Report   `json:"arrangement,omitempty"`
	Audio       *backend.Audio    `json:"audio,omitempty"`
}

// StepResult is one append-only entry of a run's step trace.
type StepResult struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// StepError reports a hard-dependency step failure during one attempt.
type StepError struct {
	Step      string
	BackendID string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s on backend %s: %v", e.Step, e.BackendID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
