package backend

import (
	"context"
	"fmt"
	"sync"
)

// MockEngine returns deterministic results for local runs and tests. It
// implements every capability tag; failures are injected per tag.
type MockEngine struct {
	id string

	mu       sync.Mutex
	failWith map[Tag]error
	calls    map[Tag]int
	// blockCancel, when set, makes calls ignore ctx cancellation so tests can
	// exercise the discard-on-cancel path.
	blockCancel bool
}

// NewMockEngine creates a mock engine with the given id.
func NewMockEngine(id string) *MockEngine {
	return &MockEngine{
		id:       id,
		failWith: make(map[Tag]error),
		calls:    make(map[Tag]int),
	}
}

// ID returns the engine identifier.
func (m *MockEngine) ID() string { return m.id }

// FailWith makes subsequent calls to the tag return err.
func (m *MockEngine) FailWith(tag Tag, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith[tag] = err
}

// IgnoreCancellation makes calls run to completion even when ctx is done.
func (m *MockEngine) IgnoreCancellation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockCancel = true
}

// Calls returns how many times the tag was invoked.
func (m *MockEngine) Calls(tag Tag) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[tag]
}

func (m *MockEngine) invoke(ctx context.Context, tag Tag) error {
	m.mu.Lock()
	m.calls[tag]++
	err := m.failWith[tag]
	block := m.blockCancel
	m.mu.Unlock()

	if !block {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	if err != nil {
		return &InvocationError{BackendID: m.id, Tag: tag, Err: err}
	}
	return nil
}

// ProduceSequence returns a deterministic single-track sequence.
func (m *MockEngine) ProduceSequence(ctx context.Context, params map[string]any, seed int64) (*Sequence, error) {
	if err := m.invoke(ctx, TagProduceSequence); err != nil {
		return nil, err
	}
	return &Sequence{
		Format:     "text",
		Data:       []byte(fmt.Sprintf("sequence by %s seed=%d", m.id, seed)),
		TrackCount: 1,
		Meta:       map[string]string{"engine": m.id},
	}, nil
}

// AnalyzeSequence returns a fixed theory report.
func (m *MockEngine) AnalyzeSequence(ctx context.Context, seq *Sequence) (*Report, error) {
	if err := m.invoke(ctx, TagAnalyzeSequence); err != nil {
		return nil, err
	}
	return &Report{
		Key:      "C major",
		TempoBPM: 120,
		Findings: []string{fmt.Sprintf("analyzed %d bytes", len(seq.Data))},
		Meta:     map[string]string{"engine": m.id},
	}, nil
}

// TranscribeAudio returns a deterministic transcription.
func (m *MockEngine) TranscribeAudio(ctx context.Context, audio *Audio) (*Sequence, error) {
	if err := m.invoke(ctx, TagTranscribeAudio); err != nil {
		return nil, err
	}
	return &Sequence{
		Format:     "text",
		Data:       []byte(fmt.Sprintf("transcription by %s of %d bytes", m.id, len(audio.Data))),
		TrackCount: 1,
	}, nil
}

// RenderTimbre returns a deterministic audio payload.
func (m *MockEngine) RenderTimbre(ctx context.Context, seq *Sequence, params map[string]any) (*Audio, error) {
	if err := m.invoke(ctx, TagRenderTimbre); err != nil {
		return nil, err
	}
	return &Audio{Format: "wav", SampleRate: 44100, Data: seq.Data}, nil
}

// SuggestArrangement returns a fixed arrangement report.
func (m *MockEngine) SuggestArrangement(ctx context.Context, seq *Sequence) (*Report, error) {
	if err := m.invoke(ctx, TagSuggestArrangement); err != nil {
		return nil, err
	}
	return &Report{Findings: []string{"double the melody an octave up"}}, nil
}
