package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

// StepObserver receives step state transitions as they happen, for the
// execution audit log.
type StepObserver func(step string, from, to StepStatus, err error)

// Execute runs one template against one engine. It returns the ordered step
// trace, and the merged artifact when every hard step completed.
//
// Cancellation is cooperative: the context is checked at step boundaries and
// forwarded into every engine call. A step that ignores cancellation runs to
// completion, but its output is discarded and Execute returns the context
// error.
//
// A hard step failure aborts the attempt; soft step failures are recorded
// and skipped. Independent soft steps run concurrently with each other and
// are joined before the merge.
func Execute(ctx context.Context, tmpl *Template, ex *Execution, observe StepObserver) ([]StepResult, *Artifact, error) {
	if observe == nil {
		observe = func(string, StepStatus, StepStatus, error) {}
	}

	results := make([]StepResult, len(tmpl.Steps))
	for i, step := range tmpl.Steps {
		results[i] = StepResult{Name: step.Name, Status: StepNotStarted}
	}

	helperCtx, cancelHelpers := context.WithCancel(ctx)
	defer cancelHelpers()

	var wg sync.WaitGroup
	cancelled := false
	for i, step := range tmpl.Steps {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		if step.Independent && !step.Required {
			wg.Add(1)
			go func(i int, step *Step) {
				defer wg.Done()
				results[i] = runStep(helperCtx, step, ex, observe)
			}(i, step)
			continue
		}

		results[i] = runStep(ctx, step, ex, observe)
		if results[i].Status == StepFailed && step.Required {
			cancelHelpers()
			wg.Wait()
			return results, nil, &StepError{Step: step.Name, BackendID: ex.Engine.ID(), Err: results[i].Err}
		}
	}
	wg.Wait()

	if cancelled || ctx.Err() != nil {
		return results, nil, ctx.Err()
	}

	artifact, err := tmpl.Merge(ex)
	if err != nil {
		return results, nil, &StepError{Step: "merge", BackendID: ex.Engine.ID(), Err: err}
	}
	return results, artifact, nil
}

func runStep(ctx context.Context, step *Step, ex *Execution, observe StepObserver) StepResult {
	observe(step.Name, StepNotStarted, StepRunning, nil)

	start := time.Now()
	err := step.Run(ctx, ex)
	res := StepResult{Name: step.Name, Duration: time.Since(start)}

	switch {
	case errors.Is(err, ErrSkip):
		res.Status = StepSkipped
	case err != nil:
		res.Status = StepFailed
		res.Err = err
	default:
		res.Status = StepCompleted
	}

	observe(step.Name, StepRunning, res.Status, res.Err)
	return res
}
