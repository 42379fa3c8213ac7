// Package scorer ranks capable backends for a command. Ranking is a pure
// function of the command, the candidate descriptors and the ledger state:
// identical inputs always produce the identical ordered list.
package scorer

import (
	"fmt"
	"sort"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/backend"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
)

// Weights are the fixed configuration constants of the scoring sum. They are
// tunable defaults, not learned online; only ledger values adapt.
type Weights struct {
	CapabilityMatch   float64 `yaml:"capability_match"`   // w1
	Preferred         float64 `yaml:"preferred"`          // w2
	DeclaredStrength  float64 `yaml:"declared_strength"`  // w3
	LedgerSuccess     float64 `yaml:"ledger_success"`     // w4
	ParameterAffinity float64 `yaml:"parameter_affinity"` // w5
	Recency           float64 `yaml:"recency"`            // w6
}

// DefaultWeights returns the tuned default weights.
func DefaultWeights() Weights {
	return Weights{
		CapabilityMatch:   0.20,
		Preferred:         0.10,
		DeclaredStrength:  0.25,
		LedgerSuccess:     0.30,
		ParameterAffinity: 0.10,
		Recency:           0.05,
	}
}

// Stats is the read side of the performance ledger.
type Stats interface {
	SuccessRate(backendID string, cat command.Category, params map[string]any) (float64, bool)
	ParameterAffinity(backendID string, cat command.Category, params map[string]any) (float64, bool)
	RecentShare(backendID string) float64
}

// RankedCandidate is one entry of a ranking: ephemeral, never persisted.
type RankedCandidate struct {
	BackendID string
	Score     float64
	Rationale []string
}

// Scorer ranks candidates for commands.
type Scorer struct {
	weights Weights
	// preferred is the per-category preferred-backend table from config.
	preferred map[command.Category][]string
	stats     Stats
}

// New creates a scorer. stats may be nil, in which case the ledger terms
// contribute nothing.
func New(weights Weights, preferred map[command.Category][]string, stats Stats) *Scorer {
	return &Scorer{weights: weights, preferred: preferred, stats: stats}
}

// Rank produces a ranked candidate list for the command. The result is never
// empty unless candidates is empty. Candidates must be in registration order;
// ties keep that order. A command with an explicit preference list
// short-circuits to exactly the preferred backends present among the
// candidates, in the caller's order, each with score 1.0; a repeated id
// ranks once, at its first position.
func (s *Scorer) Rank(cmd command.Command, candidates []backend.Descriptor) []RankedCandidate {
	if len(candidates) == 0 {
		return nil
	}

	if len(cmd.BackendPreference) > 0 {
		if ranked := s.rankByPreference(cmd, candidates); len(ranked) > 0 {
			return ranked
		}
		// Preference named only unavailable backends; score normally so the
		// command still gets a candidate.
	}

	ranked := make([]RankedCandidate, 0, len(candidates))
	for _, desc := range candidates {
		ranked = append(ranked, s.score(cmd, desc))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

func (s *Scorer) rankByPreference(cmd command.Command, candidates []backend.Descriptor) []RankedCandidate {
	available := make(map[string]bool, len(candidates))
	for _, desc := range candidates {
		available[desc.ID] = true
	}

	seen := make(map[string]bool, len(cmd.BackendPreference))
	var ranked []RankedCandidate
	for _, id := range cmd.BackendPreference {
		if !available[id] || seen[id] {
			continue
		}
		seen[id] = true
		ranked = append(ranked, RankedCandidate{
			BackendID: id,
			Score:     1.0,
			Rationale: []string{"explicit preference"},
		})
	}
	return ranked
}

func (s *Scorer) score(cmd command.Command, desc backend.Descriptor) RankedCandidate {
	var score float64
	var rationale []string

	match := desc.MatchRatio(cmd.Category.RequiredCapabilities())
	score += s.weights.CapabilityMatch * match
	rationale = append(rationale, fmt.Sprintf("capability match %.2f", match))

	if s.isPreferred(cmd.Category, desc.ID) {
		score += s.weights.Preferred
		rationale = append(rationale, fmt.Sprintf("preferred for %s", cmd.Category))
	}

	if strength, ok := desc.Strength[string(cmd.Category)]; ok {
		score += s.weights.DeclaredStrength * strength
		rationale = append(rationale, fmt.Sprintf("declared strength %.2f", strength))
	}

	if s.stats != nil {
		if rate, ok := s.stats.SuccessRate(desc.ID, cmd.Category, cmd.Parameters); ok {
			score += s.weights.LedgerSuccess * rate
			rationale = append(rationale, fmt.Sprintf("ledger success rate %.2f", rate))
		} else {
			rationale = append(rationale, "no ledger history")
		}
		if affinity, ok := s.stats.ParameterAffinity(desc.ID, cmd.Category, cmd.Parameters); ok {
			score += s.weights.ParameterAffinity * affinity
			rationale = append(rationale, fmt.Sprintf("parameter affinity %.2f", affinity))
		}
		if share := s.stats.RecentShare(desc.ID); share > 0 {
			score += s.weights.Recency * share
			rationale = append(rationale, fmt.Sprintf("recent success share %.2f", share))
		}
	}

	return RankedCandidate{BackendID: desc.ID, Score: score, Rationale: rationale}
}

func (s *Scorer) isPreferred(cat command.Category, backendID string) bool {
	for _, id := range s.preferred[cat] {
		if id == backendID {
			return true
		}
	}
	return false
}
