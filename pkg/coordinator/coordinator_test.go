package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/backend"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/registry"
)

// recordedOutcome is one ledger write captured by recordingLedger.
type recordedOutcome struct {
	BackendID string
	Category  command.Category
	Success   bool
}

// recordingLedger captures RecordOutcome calls and reports no history, so
// ranking falls back to declared strength.
type recordingLedger struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (l *recordingLedger) SuccessRate(string, command.Category, map[string]any) (float64, bool) {
	return 0, false
}

func (l *recordingLedger) ParameterAffinity(string, command.Category, map[string]any) (float64, bool) {
	return 0, false
}

func (l *recordingLedger) RecentShare(string) float64 { return 0 }

func (l *recordingLedger) RecordOutcome(backendID string, cat command.Category, params map[string]any, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, recordedOutcome{BackendID: backendID, Category: cat, Success: success})
}

func (l *recordingLedger) recorded() []recordedOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]recordedOutcome, len(l.outcomes))
	copy(out, l.outcomes)
	return out
}

// blockingEngine produces sequences only after its context is cancelled,
// signalling started so tests can cancel mid-flight.
type blockingEngine struct {
	id      string
	started chan struct{}
	once    sync.Once
}

func newBlockingEngine(id string) *blockingEngine {
	return &blockingEngine{id: id, started: make(chan struct{})}
}

func (e *blockingEngine) ID() string { return e.id }

func (e *blockingEngine) ProduceSequence(ctx context.Context, params map[string]any, seed int64) (*backend.Sequence, error) {
	e.once.Do(func() { close(e.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func register(t *testing.T, reg *registry.Registry, id string, strength float64, engine backend.Engine, tags ...backend.Tag) {
	t.Helper()
	desc := backend.Descriptor{
		ID:           id,
		Capabilities: tags,
		Strength:     map[string]float64{"generation": strength, "analysis": strength},
	}
	if err := reg.Register(desc, engine); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func newCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func generationCommand(t *testing.T, opts ...command.Option) command.Command {
	t.Helper()
	cmd, err := command.New(command.CategoryGeneration, map[string]any{"style": "jazz"}, opts...)
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	return cmd
}

func TestSubmit_UnsupportedCategory(t *testing.T) {
	led := &recordingLedger{}
	c := newCoordinator(t, Options{Registry: registry.New(), Ledger: led})

	cmd := command.Command{ID: "cmd-1", Category: command.Category("mixing")}
	_, err := c.Submit(context.Background(), cmd)

	var catErr *UnsupportedCategoryError
	if !errors.As(err, &catErr) {
		t.Fatalf("expected UnsupportedCategoryError, got %v", err)
	}
	if len(led.recorded()) != 0 {
		t.Error("rejected command must not touch the ledger")
	}
	if _, err := c.Status("cmd-1"); err == nil {
		t.Error("rejected command must not leave a run behind")
	}
}

func TestSubmit_InvalidParameters(t *testing.T) {
	reg := registry.New()
	register(t, reg, "b1", 0.5, backend.NewMockEngine("b1"), backend.TagAnalyzeSequence)
	c := newCoordinator(t, Options{Registry: reg})

	cmd, err := command.New(command.CategoryAnalysis, map[string]any{"tempo": 120})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Submit(context.Background(), cmd)

	var paramErr *InvalidParametersError
	if !errors.As(err, &paramErr) {
		t.Fatalf("expected InvalidParametersError, got %v", err)
	}
	if len(paramErr.Missing) != 1 || paramErr.Missing[0] != "sequence" {
		t.Errorf("expected missing [sequence], got %v", paramErr.Missing)
	}
}

func TestSubmit_NoCapableBackend(t *testing.T) {
	reg := registry.New()
	register(t, reg, "analyzer", 0.5, backend.NewMockEngine("analyzer"), backend.TagAnalyzeSequence)
	led := &recordingLedger{}
	c := newCoordinator(t, Options{Registry: reg, Ledger: led})

	_, err := c.Submit(context.Background(), generationCommand(t))

	var capErr *NoCapableBackendError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected NoCapableBackendError, got %v", err)
	}
	if capErr.Category != command.CategoryGeneration {
		t.Errorf("unexpected category %s", capErr.Category)
	}
	if len(capErr.Considered) != 1 || capErr.Considered[0] != "analyzer" {
		t.Errorf("expected considered [analyzer], got %v", capErr.Considered)
	}
	if len(led.recorded()) != 0 {
		t.Error("no backend call happened, so no ledger write is allowed")
	}
}

func TestSubmit_CompletesAndRecordsSuccess(t *testing.T) {
	reg := registry.New()
	register(t, reg, "b1", 0.9, backend.NewMockEngine("b1"),
		backend.TagProduceSequence, backend.TagAnalyzeSequence, backend.TagSuggestArrangement)
	led := &recordingLedger{}
	c := newCoordinator(t, Options{Registry: reg, Ledger: led})

	run, err := c.Submit(context.Background(), generationCommand(t))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap := run.Wait(context.Background())
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (err=%v)", snap.Status, snap.Err)
	}
	if snap.SelectedBackend != "b1" {
		t.Errorf("expected b1 selected, got %s", snap.SelectedBackend)
	}
	if snap.Artifact == nil || snap.Artifact.Sequence == nil {
		t.Error("expected a sequence artifact")
	}
	if len(snap.Steps) == 0 {
		t.Error("expected a step trace")
	}

	got := led.recorded()
	if len(got) != 1 || !got[0].Success || got[0].BackendID != "b1" {
		t.Errorf("expected one success outcome for b1, got %v", got)
	}
}

func TestSubmit_SingleBackendFailureExhausts(t *testing.T) {
	reg := registry.New()
	engine := backend.NewMockEngine("b1")
	engine.FailWith(backend.TagProduceSequence, errors.New("model offline"))
	register(t, reg, "b1", 0.9, engine, backend.TagProduceSequence)
	led := &recordingLedger{}
	c := newCoordinator(t, Options{Registry: reg, Ledger: led})

	run, err := c.Submit(context.Background(), generationCommand(t))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap := run.Wait(context.Background())
	if snap.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", snap.Status)
	}

	var exhausted *ExhaustedError
	if !errors.As(snap.Err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", snap.Err)
	}
	if len(exhausted.Attempts) != 1 || exhausted.Attempts[0].BackendID != "b1" {
		t.Errorf("expected one named attempt on b1, got %v", exhausted.Attempts)
	}

	got := led.recorded()
	if len(got) != 1 || got[0].Success {
		t.Errorf("expected one failure outcome, got %v", got)
	}
}

func TestSubmit_FallsBackToNextRankedBackend(t *testing.T) {
	reg := registry.New()
	first := backend.NewMockEngine("b1")
	first.FailWith(backend.TagProduceSequence, errors.New("overloaded"))
	second := backend.NewMockEngine("b2")
	third := backend.NewMockEngine("b3")
	register(t, reg, "b1", 0.9, first, backend.TagProduceSequence)
	register(t, reg, "b2", 0.5, second, backend.TagProduceSequence)
	register(t, reg, "b3", 0.1, third, backend.TagProduceSequence)
	led := &recordingLedger{}
	c := newCoordinator(t, Options{Registry: reg, Ledger: led, MaxAttempts: 2})

	run, err := c.Submit(context.Background(), generationCommand(t))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap := run.Wait(context.Background())
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed after fallback, got %s (err=%v)", snap.Status, snap.Err)
	}
	if snap.SelectedBackend != "b2" {
		t.Errorf("expected b2 selected, got %s", snap.SelectedBackend)
	}
	if third.Calls(backend.TagProduceSequence) != 0 {
		t.Error("third-ranked backend must not be attempted")
	}

	got := led.recorded()
	if len(got) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(got))
	}
	if got[0].BackendID != "b1" || got[0].Success {
		t.Errorf("expected b1 failure first, got %v", got[0])
	}
	if got[1].BackendID != "b2" || !got[1].Success {
		t.Errorf("expected b2 success second, got %v", got[1])
	}
}

func TestCancel_RunningCommand(t *testing.T) {
	reg := registry.New()
	engine := newBlockingEngine("b1")
	register(t, reg, "b1", 0.9, engine, backend.TagProduceSequence)
	led := &recordingLedger{}
	c := newCoordinator(t, Options{Registry: reg, Ledger: led})

	cmd := generationCommand(t, command.WithID("cmd-cancel"))
	run, err := c.Submit(context.Background(), cmd)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-engine.started:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never started")
	}

	if !c.Cancel("cmd-cancel") {
		t.Fatal("expected cancel to be accepted for a running command")
	}

	snap := run.Wait(context.Background())
	if snap.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", snap.Status)
	}
	if snap.Artifact != nil {
		t.Error("cancelled run must carry no artifact")
	}
	if len(led.recorded()) != 0 {
		t.Error("cancelled run must not write the ledger")
	}

	if c.Cancel("cmd-cancel") {
		t.Error("cancel on a terminal run must return false")
	}
}

func TestCancel_CompletedCommand(t *testing.T) {
	reg := registry.New()
	register(t, reg, "b1", 0.9, backend.NewMockEngine("b1"), backend.TagProduceSequence)
	c := newCoordinator(t, Options{Registry: reg})

	cmd := generationCommand(t, command.WithID("cmd-done"))
	run, err := c.Submit(context.Background(), cmd)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	run.Wait(context.Background())

	if c.Cancel("cmd-done") {
		t.Error("cancel on a completed run must return false")
	}
	if c.Cancel("ghost") {
		t.Error("cancel on an unknown command must return false")
	}
}

func TestSubmit_DetachedFromCallerContext(t *testing.T) {
	reg := registry.New()
	register(t, reg, "b1", 0.9, backend.NewMockEngine("b1"), backend.TagProduceSequence)
	c := newCoordinator(t, Options{Registry: reg})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := c.Submit(ctx, generationCommand(t))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	cancel()

	snap := run.Wait(context.Background())
	if snap.Status != StatusCompleted {
		t.Errorf("caller context cancellation must not cancel the run, got %s", snap.Status)
	}
}

func TestSubmit_DuplicateCommandID(t *testing.T) {
	reg := registry.New()
	register(t, reg, "b1", 0.9, backend.NewMockEngine("b1"), backend.TagProduceSequence)
	c := newCoordinator(t, Options{Registry: reg})

	cmd := generationCommand(t, command.WithID("cmd-dup"))
	if _, err := c.Submit(context.Background(), cmd); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := c.Submit(context.Background(), cmd); err == nil {
		t.Error("expected error for duplicate command id")
	}
}

func TestStatus_NotFound(t *testing.T) {
	c := newCoordinator(t, Options{Registry: registry.New()})
	_, err := c.Status("ghost")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestReap_DropsExpiredTerminalRuns(t *testing.T) {
	reg := registry.New()
	register(t, reg, "b1", 0.9, backend.NewMockEngine("b1"), backend.TagProduceSequence)
	c := newCoordinator(t, Options{Registry: reg})

	cmd := generationCommand(t, command.WithID("cmd-reap"))
	run, err := c.Submit(context.Background(), cmd)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	run.Wait(context.Background())

	// A cutoff in the future expires everything terminal.
	c.reapOnce(time.Now().UTC().Add(time.Minute))

	if _, err := c.Status("cmd-reap"); err == nil {
		t.Error("expected reaped run to be gone")
	}
}

func TestReap_KeepsRunningRuns(t *testing.T) {
	reg := registry.New()
	engine := newBlockingEngine("b1")
	register(t, reg, "b1", 0.9, engine, backend.TagProduceSequence)
	c := newCoordinator(t, Options{Registry: reg})

	cmd := generationCommand(t, command.WithID("cmd-live"))
	if _, err := c.Submit(context.Background(), cmd); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-engine.started:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never started")
	}

	c.reapOnce(time.Now().UTC().Add(time.Minute))

	if _, err := c.Status("cmd-live"); err != nil {
		t.Errorf("running run must survive the reaper: %v", err)
	}
	c.Cancel("cmd-live")
}
