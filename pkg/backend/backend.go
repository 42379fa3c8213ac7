// Package backend defines the capability contract between the coordinator and
// the external music engines it delegates to. Engines are out-of-process
// services (or in-process fakes) that implement some subset of the capability
// tags; the core never implements a musical algorithm itself.
package backend

import "context"

// Tag names one unit of engine functionality. The set is closed: registration
// rejects descriptors declaring tags outside it.
type Tag string

const (
	TagProduceSequence    Tag = "produce_sequence"
	TagAnalyzeSequence    Tag = "analyze_sequence"
	TagTranscribeAudio    Tag = "transcribe_audio"
	TagRenderTimbre       Tag = "render_timbre"
	TagSuggestArrangement Tag = "suggest_arrangement"
)

// Tags returns the closed capability tag set in declaration order.
func Tags() []Tag {
	return []Tag{
		TagProduceSequence,
		TagAnalyzeSequence,
		TagTranscribeAudio,
		TagRenderTimbre,
		TagSuggestArrangement,
	}
}

// Valid reports whether the tag belongs to the closed set.
func (t Tag) Valid() bool {
	switch t {
	case TagProduceSequence, TagAnalyzeSequence, TagTranscribeAudio,
		TagRenderTimbre, TagSuggestArrangement:
		return true
	}
	return false
}

// ResourceCost is a coarse resource class declared by an engine.
type ResourceCost string

const (
	CostLow    ResourceCost = "low"
	CostMedium ResourceCost = "medium"
	CostHigh   ResourceCost = "high"
)

// Descriptor describes what an engine can do and how well it claims to do it.
// Registered once; mutated only via re-registration.
type Descriptor struct {
	ID           string
	Capabilities []Tag
	// Strength maps a category name to a declared strength in [0,1].
	Strength         map[string]float64
	SupportsRealtime bool
	Cost             ResourceCost
}

// Has reports whether the descriptor declares the tag.
func (d Descriptor) Has(tag Tag) bool {
	for _, t := range d.Capabilities {
		if t == tag {
			return true
		}
	}
	return false
}

// MatchRatio returns |required ∩ declared| / |required|, or 0 when required
// is empty.
func (d Descriptor) MatchRatio(required []Tag) float64 {
	if len(required) == 0 {
		return 0
	}
	matched := 0
	for _, t := range required {
		if d.Has(t) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// Engine is the minimal handle every registered backend provides. Capability
// operations live on optional interfaces; callers type-assert for the tag
// they need and fail with a NotImplementedError otherwise.
type Engine interface {
	ID() string
}

// SequenceProducer generates a musical sequence from scalar parameters and an
// optional seed (0 means unseeded).
type SequenceProducer interface {
	ProduceSequence(ctx context.Context, params map[string]any, seed int64) (*Sequence, error)
}

// SequenceAnalyzer produces a structured theory report for a sequence.
type SequenceAnalyzer interface {
	AnalyzeSequence(ctx context.Context, seq *Sequence) (*Report, error)
}

// AudioTranscriber converts audio into a sequence.
type AudioTranscriber interface {
	TranscribeAudio(ctx context.Context, audio *Audio) (*Sequence, error)
}

// TimbreRenderer renders a sequence into audio.
type TimbreRenderer interface {
	RenderTimbre(ctx context.Context, seq *Sequence, params map[string]any) (*Audio, error)
}

// ArrangementSuggester proposes arrangement changes for a sequence.
type ArrangementSuggester interface {
	SuggestArrangement(ctx context.Context, seq *Sequence) (*Report, error)
}
