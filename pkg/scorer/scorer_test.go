package scorer

import (
	"reflect"
	"testing"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/backend"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/ledger"
)

func analysisDescriptor(id string, strength float64) backend.Descriptor {
	return backend.Descriptor{
		ID:           id,
		Capabilities: []backend.Tag{backend.TagAnalyzeSequence},
		Strength:     map[string]float64{"analysis": strength},
	}
}

func analysisCommand(t *testing.T, opts ...command.Option) command.Command {
	t.Helper()
	cmd, err := command.New(command.CategoryAnalysis, map[string]any{"sequence": "c d e"}, opts...)
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	return cmd
}

func emptyLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(ledger.Options{EMAWeight: 0.2, MinSamples: 5})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func ids(ranked []RankedCandidate) []string {
	out := make([]string, 0, len(ranked))
	for _, c := range ranked {
		out = append(out, c.BackendID)
	}
	return out
}

func TestRank_EmptyCandidates(t *testing.T) {
	s := New(DefaultWeights(), nil, emptyLedger(t))
	if got := s.Rank(analysisCommand(t), nil); len(got) != 0 {
		t.Errorf("expected empty ranking, got %v", got)
	}
}

func TestRank_ExplicitPreferenceShortCircuits(t *testing.T) {
	s := New(DefaultWeights(), nil, emptyLedger(t))
	candidates := []backend.Descriptor{
		analysisDescriptor("b1", 0.9),
		analysisDescriptor("b2", 0.1),
		analysisDescriptor("b3", 0.5),
	}

	cmd := analysisCommand(t, command.WithPreference("b3", "b1"))
	ranked := s.Rank(cmd, candidates)

	if !reflect.DeepEqual(ids(ranked), []string{"b3", "b1"}) {
		t.Fatalf("expected [b3 b1], got %v", ids(ranked))
	}
	for _, c := range ranked {
		if c.Score != 1.0 {
			t.Errorf("%s: expected score 1.0, got %f", c.BackendID, c.Score)
		}
		if len(c.Rationale) != 1 || c.Rationale[0] != "explicit preference" {
			t.Errorf("%s: unexpected rationale %v", c.BackendID, c.Rationale)
		}
	}
}

func TestRank_PreferenceDeduplicatesRepeatedBackends(t *testing.T) {
	s := New(DefaultWeights(), nil, emptyLedger(t))
	candidates := []backend.Descriptor{
		analysisDescriptor("b1", 0.5),
		analysisDescriptor("b2", 0.5),
	}

	// A repeated id must rank once; otherwise the fallback loop would retry
	// the same backend within one request.
	cmd := analysisCommand(t, command.WithPreference("b1", "b1", "b2", "b1"))
	ranked := s.Rank(cmd, candidates)

	if !reflect.DeepEqual(ids(ranked), []string{"b1", "b2"}) {
		t.Errorf("expected [b1 b2], got %v", ids(ranked))
	}
}

func TestRank_PreferenceIgnoresUnavailableBackends(t *testing.T) {
	s := New(DefaultWeights(), nil, emptyLedger(t))
	candidates := []backend.Descriptor{analysisDescriptor("b1", 0.5)}

	cmd := analysisCommand(t, command.WithPreference("ghost", "b1"))
	ranked := s.Rank(cmd, candidates)

	if !reflect.DeepEqual(ids(ranked), []string{"b1"}) {
		t.Errorf("expected [b1], got %v", ids(ranked))
	}
}

func TestRank_PreferenceWithNoOverlapScoresNormally(t *testing.T) {
	s := New(DefaultWeights(), nil, emptyLedger(t))
	candidates := []backend.Descriptor{analysisDescriptor("b1", 0.5)}

	cmd := analysisCommand(t, command.WithPreference("ghost"))
	ranked := s.Rank(cmd, candidates)

	if len(ranked) != 1 || ranked[0].BackendID != "b1" {
		t.Fatalf("expected fallback to scored ranking, got %v", ids(ranked))
	}
	if ranked[0].Score == 1.0 {
		t.Error("fallback ranking should not carry the preference score")
	}
}

func TestRank_TieBreaksByRegistrationOrder(t *testing.T) {
	s := New(DefaultWeights(), nil, emptyLedger(t))
	// Identical capability match, identical strength, empty ledger: the
	// ranking must equal registration order.
	candidates := []backend.Descriptor{
		analysisDescriptor("b2", 0.5),
		analysisDescriptor("b1", 0.5),
		analysisDescriptor("b3", 0.5),
	}

	ranked := s.Rank(analysisCommand(t), candidates)
	if !reflect.DeepEqual(ids(ranked), []string{"b2", "b1", "b3"}) {
		t.Errorf("expected registration order, got %v", ids(ranked))
	}
}

func TestRank_Deterministic(t *testing.T) {
	l := emptyLedger(t)
	l.RecordOutcome("b1", command.CategoryAnalysis, nil, true)
	l.RecordOutcome("b2", command.CategoryAnalysis, nil, false)

	s := New(DefaultWeights(), nil, l)
	candidates := []backend.Descriptor{
		analysisDescriptor("b1", 0.4),
		analysisDescriptor("b2", 0.6),
	}
	cmd := analysisCommand(t)

	first := s.Rank(cmd, candidates)
	for i := 0; i < 10; i++ {
		if got := s.Rank(cmd, candidates); !reflect.DeepEqual(got, first) {
			t.Fatalf("ranking not deterministic: %v vs %v", got, first)
		}
	}
}

func TestRank_LedgerHistoryOutweighsDeclaredStrength(t *testing.T) {
	// Scenario: B1 declares strength 0.9 with no history; B2 declares 0.5
	// with 20/20 recorded successes. The ledger term dominates the declared
	// strength gap under the default weights.
	l := emptyLedger(t)
	for i := 0; i < 20; i++ {
		l.RecordOutcome("B2", command.CategoryAnalysis, nil, true)
	}

	s := New(DefaultWeights(), nil, l)
	candidates := []backend.Descriptor{
		analysisDescriptor("B1", 0.9),
		analysisDescriptor("B2", 0.5),
	}

	ranked := s.Rank(analysisCommand(t), candidates)
	if ranked[0].BackendID != "B2" {
		t.Fatalf("expected B2 to outrank B1, got %v", ids(ranked))
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Error("expected a strict score gap")
	}
}

func TestRank_StaleLedgerBackendNeverAppears(t *testing.T) {
	l := emptyLedger(t)
	for i := 0; i < 10; i++ {
		l.RecordOutcome("retired", command.CategoryAnalysis, nil, true)
	}

	s := New(DefaultWeights(), nil, l)
	candidates := []backend.Descriptor{analysisDescriptor("b1", 0.5)}

	ranked := s.Rank(analysisCommand(t), candidates)
	for _, c := range ranked {
		if c.BackendID == "retired" {
			t.Fatal("backend absent from candidates appeared in ranking")
		}
	}
	if len(ranked) != 1 {
		t.Errorf("expected 1 candidate, got %d", len(ranked))
	}
}

func TestRank_PreferredCategoryBonus(t *testing.T) {
	preferred := map[command.Category][]string{
		command.CategoryAnalysis: {"b2"},
	}
	s := New(DefaultWeights(), preferred, emptyLedger(t))
	candidates := []backend.Descriptor{
		analysisDescriptor("b1", 0.5),
		analysisDescriptor("b2", 0.5),
	}

	ranked := s.Rank(analysisCommand(t), candidates)
	if ranked[0].BackendID != "b2" {
		t.Errorf("expected preferred backend first, got %v", ids(ranked))
	}
}
