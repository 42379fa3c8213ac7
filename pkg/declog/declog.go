// Package declog writes the decision and execution audit trail: one JSON
// record per ranking decision and one per pipeline step transition. The log
// is write-only; nothing in the system reads it back.
package declog

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/backend"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/pipeline"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/scorer"
)

// Log is the audit trail writer.
type Log struct {
	logger zerolog.Logger
}

// New creates a log writing JSON records to w.
func New(w io.Writer) *Log {
	return &Log{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// Nop returns a log that discards every record.
func Nop() *Log {
	return &Log{logger: zerolog.Nop()}
}

// candidateRecord is the serialized form of one ranked candidate.
type candidateRecord struct {
	BackendID string   `json:"backend_id"`
	Score     float64  `json:"score"`
	Rationale []string `json:"rationale"`
}

// Decision records a ranking decision for a command.
func (l *Log) Decision(cmd command.Command, candidates []scorer.RankedCandidate, chosen string) {
	records := make([]candidateRecord, 0, len(candidates))
	for _, c := range candidates {
		records = append(records, candidateRecord{BackendID: c.BackendID, Score: c.Score, Rationale: c.Rationale})
	}
	l.logger.Log().
		Str("event", "decision").
		Str("command_id", cmd.ID).
		Str("category", string(cmd.Category)).
		Interface("candidates", records).
		Str("chosen", chosen).
		Msg("")
}

// StepTransition records one pipeline step state change.
func (l *Log) StepTransition(commandID, backendID, step string, from, to pipeline.StepStatus, err error) {
	ev := l.logger.Log().
		Str("event", "step_transition").
		Str("command_id", commandID).
		Str("backend_id", backendID).
		Str("step", step).
		Str("from", string(from)).
		Str("to", string(to))
	if err != nil {
		ev = ev.Str("error", err.Error())
	}
	ev.Msg("")
}

// AttemptFailed records one exhausted attempt before fallback. The transient
// field classifies the failure for later analysis; fallback itself always
// moves to the next backend regardless.
func (l *Log) AttemptFailed(commandID, backendID string, attempt int, err error) {
	l.logger.Log().
		Str("event", "attempt_failed").
		Str("command_id", commandID).
		Str("backend_id", backendID).
		Int("attempt", attempt).
		Bool("transient", backend.IsTransient(err)).
		Str("error", err.Error()).
		Msg("")
}
