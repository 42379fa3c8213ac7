package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/pipeline"
)

// Status is the lifecycle state of a pipeline run. Transitions are
// monotonic: once terminal, a run never changes again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Run is the handle returned by Submit. Reads go through Snapshot; Wait
// blocks until the run reaches a terminal state.
type Run struct {
	mu sync.Mutex

	commandID  string
	category   command.Category
	status     Status
	selected   string
	startedAt  time.Time
	finishedAt time.Time
	steps      []pipeline.StepResult
	artifact   *pipeline.Artifact
	err        error

	cancel context.CancelFunc
	done   chan struct{}
}

// Snapshot is a point-in-time copy of a run's state.
type Snapshot struct {
	CommandID       string
	Category        command.Category
	Status          Status
	SelectedBackend string
	StartedAt       time.Time
	FinishedAt      time.Time
	Steps           []pipeline.StepResult
	Artifact        *pipeline.Artifact
	Err             error
}

func newRun(cmd command.Command, cancel context.CancelFunc) *Run {
	return &Run{
		commandID: cmd.ID,
		category:  cmd.Category,
		status:    StatusPending,
		startedAt: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// CommandID returns the id of the command this run executes.
func (r *Run) CommandID() string { return r.commandID }

// Done returns a channel closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run is terminal or ctx expires, then returns the
// final (or current) snapshot.
func (r *Run) Wait(ctx context.Context) Snapshot {
	select {
	case <-r.done:
	case <-ctx.Done():
	}
	return r.Snapshot()
}

// Snapshot returns a copy of the current state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	steps := make([]pipeline.StepResult, len(r.steps))
	copy(steps, r.steps)
	return Snapshot{
		CommandID:       r.commandID,
		Category:        r.category,
		Status:          r.status,
		SelectedBackend: r.selected,
		StartedAt:       r.startedAt,
		FinishedAt:      r.finishedAt,
		Steps:           steps,
		Artifact:        r.artifact,
		Err:             r.err,
	}
}

func (r *Run) setRunning() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusPending {
		r.status = StatusRunning
	}
}

func (r *Run) setSelected(backendID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = backendID
}

func (r *Run) appendSteps(steps []pipeline.StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, steps...)
}

// finish moves the run to a terminal state. A no-op when already terminal.
func (r *Run) finish(status Status, artifact *pipeline.Artifact, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return
	}
	r.status = status
	r.artifact = artifact
	r.err = err
	r.finishedAt = time.Now().UTC()
	close(r.done)
}

// requestCancel cancels the run context. Returns false when the run is
// already terminal.
func (r *Run) requestCancel() bool {
	r.mu.Lock()
	terminal := r.status.Terminal()
	r.mu.Unlock()
	if terminal {
		return false
	}
	r.cancel()
	return true
}

func (r *Run) finishedBefore(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Terminal() && r.finishedAt.Before(cutoff)
}
