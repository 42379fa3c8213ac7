// Package coordinator accepts commands, picks a backend through the scorer,
// executes the category's pipeline template with cross-backend fallback, and
// keeps the performance ledger and the audit log current.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/declog"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/pipeline"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/registry"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/scorer"
)

// Ledger is the coordinator's view of the performance ledger: the scorer's
// read side plus outcome recording.
type Ledger interface {
	scorer.Stats
	RecordOutcome(backendID string, cat command.Category, params map[string]any, success bool)
}

// Options configures a Coordinator.
type Options struct {
	Registry *registry.Registry
	Ledger   Ledger
	Weights  scorer.Weights
	// Preferred is the per-category preferred-backend bonus table.
	Preferred map[command.Category][]string
	// MaxAttempts caps cross-backend fallback per command (default 3). The
	// effective cap is min(MaxAttempts, number of ranked candidates).
	MaxAttempts int
	// RunTTL is how long terminal runs stay queryable (default 1h).
	RunTTL time.Duration
	// ReapInterval is how often terminal runs past the TTL are dropped
	// (default 5m).
	ReapInterval time.Duration
	DecisionLog  *declog.Log
	Logger       zerolog.Logger
}

// Coordinator is safe for concurrent use. It holds no shared lock while a
// backend call is outstanding; the run map mutex guards only map access.
type Coordinator struct {
	reg         *registry.Registry
	ledger      Ledger
	scorer      *scorer.Scorer
	dlog        *declog.Log
	logger      zerolog.Logger
	maxAttempts int
	ttl         time.Duration

	mu   sync.Mutex
	runs map[string]*Run

	wg      sync.WaitGroup
	done    chan struct{}
	stopped sync.Once
}

// New creates a coordinator and starts its background reaper.
func New(opts Options) (*Coordinator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RunTTL <= 0 {
		opts.RunTTL = time.Hour
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 5 * time.Minute
	}
	if opts.DecisionLog == nil {
		opts.DecisionLog = declog.Nop()
	}
	if opts.Ledger == nil {
		opts.Ledger = nopLedger{}
	}
	if opts.Weights == (scorer.Weights{}) {
		opts.Weights = scorer.DefaultWeights()
	}

	c := &Coordinator{
		reg:         opts.Registry,
		ledger:      opts.Ledger,
		scorer:      scorer.New(opts.Weights, opts.Preferred, opts.Ledger),
		dlog:        opts.DecisionLog,
		logger:      opts.Logger,
		maxAttempts: opts.MaxAttempts,
		ttl:         opts.RunTTL,
		runs:        make(map[string]*Run),
		done:        make(chan struct{}),
	}

	c.wg.Add(1)
	go c.reaper(opts.ReapInterval)
	return c, nil
}

// Submit validates the command, decides the candidate ranking synchronously,
// and starts pipeline execution. Validation and capability-resolution
// failures return before any backend call, ledger write, or log record.
func (c *Coordinator) Submit(ctx context.Context, cmd command.Command) (*Run, error) {
	tmpl, ok := pipeline.Lookup(cmd.Category)
	if !ok {
		return nil, &UnsupportedCategoryError{Category: cmd.Category}
	}
	if missing := tmpl.MissingParams(cmd); len(missing) > 0 {
		return nil, &InvalidParametersError{Category: cmd.Category, Missing: missing}
	}

	candidates := c.reg.ListCapable(cmd.Category)
	if len(candidates) == 0 {
		considered := make([]string, 0, c.reg.Len())
		for _, desc := range c.reg.Descriptors() {
			considered = append(considered, desc.ID)
		}
		return nil, &NoCapableBackendError{
			Category:   cmd.Category,
			Required:   cmd.Category.RequiredCapabilities(),
			Considered: considered,
		}
	}

	ranked := c.scorer.Rank(cmd, candidates)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := newRun(cmd, cancel)

	c.mu.Lock()
	if _, exists := c.runs[cmd.ID]; exists {
		c.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("command %s already has a run", cmd.ID)
	}
	c.runs[cmd.ID] = run
	c.mu.Unlock()

	c.dlog.Decision(cmd, ranked, ranked[0].BackendID)
	c.logger.Info().
		Str("command_id", cmd.ID).
		Str("category", string(cmd.Category)).
		Str("chosen", ranked[0].BackendID).
		Int("candidates", len(ranked)).
		Msg("command accepted")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.execute(runCtx, run, cmd, tmpl, ranked)
	}()
	return run, nil
}

func (c *Coordinator) execute(ctx context.Context, run *Run, cmd command.Command, tmpl *pipeline.Template, ranked []scorer.RankedCandidate) {
	run.setRunning()

	attempts := c.maxAttempts
	if len(ranked) < attempts {
		attempts = len(ranked)
	}

	var failures []AttemptFailure
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			run.finish(StatusCancelled, nil, ctx.Err())
			return
		}

		backendID := ranked[i].BackendID
		engine, ok := c.reg.Engine(backendID)
		if !ok {
			// Unregistered since ranking; not an engine failure, so no
			// ledger write.
			failures = append(failures, AttemptFailure{BackendID: backendID, Err: fmt.Errorf("backend no longer registered")})
			continue
		}

		run.setSelected(backendID)
		observe := func(step string, from, to pipeline.StepStatus, err error) {
			c.dlog.StepTransition(cmd.ID, backendID, step, from, to, err)
		}

		ex := &pipeline.Execution{Command: cmd, Engine: engine}
		steps, artifact, err := pipeline.Execute(ctx, tmpl, ex, observe)
		run.appendSteps(steps)

		if ctx.Err() != nil {
			run.finish(StatusCancelled, nil, ctx.Err())
			return
		}

		if err == nil {
			c.ledger.RecordOutcome(backendID, cmd.Category, cmd.Parameters, true)
			c.logger.Info().
				Str("command_id", cmd.ID).
				Str("backend_id", backendID).
				Int("attempt", i+1).
				Msg("command completed")
			run.finish(StatusCompleted, artifact, nil)
			return
		}

		c.ledger.RecordOutcome(backendID, cmd.Category, cmd.Parameters, false)
		c.dlog.AttemptFailed(cmd.ID, backendID, i+1, err)
		c.logger.Warn().
			Str("command_id", cmd.ID).
			Str("backend_id", backendID).
			Int("attempt", i+1).
			Err(err).
			Msg("attempt failed")
		failures = append(failures, AttemptFailure{BackendID: backendID, Err: err})
	}

	run.finish(StatusFailed, nil, &ExhaustedError{CommandID: cmd.ID, Attempts: failures})
}

// Status returns the current snapshot for a command.
func (c *Coordinator) Status(commandID string) (Snapshot, error) {
	c.mu.Lock()
	run, ok := c.runs[commandID]
	c.mu.Unlock()
	if !ok {
		return Snapshot{}, &NotFoundError{CommandID: commandID}
	}
	return run.Snapshot(), nil
}

// Cancel requests cooperative cancellation of a run. Returns false when the
// command is unknown or the run is already terminal.
func (c *Coordinator) Cancel(commandID string) bool {
	c.mu.Lock()
	run, ok := c.runs[commandID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return run.requestCancel()
}

// Close cancels every in-flight run, stops the reaper, and waits for run
// goroutines to finish.
func (c *Coordinator) Close() {
	c.stopped.Do(func() { close(c.done) })

	c.mu.Lock()
	runs := make([]*Run, 0, len(c.runs))
	for _, run := range c.runs {
		runs = append(runs, run)
	}
	c.mu.Unlock()
	for _, run := range runs {
		run.requestCancel()
	}

	c.wg.Wait()
}

// reaper drops terminal runs older than the TTL to bound memory.
func (c *Coordinator) reaper(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.reapOnce(time.Now().UTC().Add(-c.ttl))
		}
	}
}

func (c *Coordinator) reapOnce(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, run := range c.runs {
		if run.finishedBefore(cutoff) {
			delete(c.runs, id)
		}
	}
}

// nopLedger satisfies Ledger when no ledger is configured.
type nopLedger struct{}

func (nopLedger) SuccessRate(string, command.Category, map[string]any) (float64, bool) {
	return 0, false
}

func (nopLedger) ParameterAffinity(string, command.Category, map[string]any) (float64, bool) {
	return 0, false
}

func (nopLedger) RecentShare(string) float64 { return 0 }

func (nopLedger) RecordOutcome(string, command.Category, map[string]any, bool) {}
