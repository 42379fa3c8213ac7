package pipeline

import (
	"context"
	"fmt"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/backend"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
)

// templates binds each category to exactly one template. Lookup is O(1).
var templates = map[command.Category]*Template{
	command.CategoryGeneration:    generationTemplate,
	command.CategoryAnalysis:      analysisTemplate,
	command.CategoryTranscription: transcriptionTemplate,
	command.CategorySynthesis:     synthesisTemplate,
}

// Lookup returns the template bound to a category.
func Lookup(category command.Category) (*Template, bool) {
	t, ok := templates[category]
	return t, ok
}

var generationTemplate = &Template{
	Category: command.CategoryGeneration,
	Steps: []*Step{
		{
			Name:       "produce",
			Capability: backend.TagProduceSequence,
			Required:   true,
			Run:        runProduce,
		},
		{
			Name:        "analyze",
			Capability:  backend.TagAnalyzeSequence,
			Independent: true,
			Run:         runAnalyze,
		},
		{
			Name:        "arrange",
			Capability:  backend.TagSuggestArrangement,
			Independent: true,
			Run:         runArrange,
		},
	},
	Merge: func(ex *Execution) (*Artifact, error) {
		if ex.Sequence == nil {
			return nil, fmt.Errorf("generation produced no sequence")
		}
		return &Artifact{
			Category:    command.CategoryGeneration,
			Sequence:    ex.Sequence,
			Report:      ex.Report,
			Arrangement: ex.Arrangement,
		}, nil
	},
}

var analysisTemplate = &Template{
	Category:       command.CategoryAnalysis,
	RequiredParams: []string{"sequence"},
	Steps: []*Step{
		{
			Name:       "analyze",
			Capability: backend.TagAnalyzeSequence,
			Required:   true,
			Run: func(ctx context.Context, ex *Execution) error {
				ex.Sequence = sequenceParam(ex.Command)
				return runAnalyze(ctx, ex)
			},
		},
	},
	Merge: func(ex *Execution) (*Artifact, error) {
		if ex.Report == nil {
			return nil, fmt.Errorf("analysis produced no report")
		}
		return &Artifact{Category: command.CategoryAnalysis, Report: ex.Report}, nil
	},
}

var transcriptionTemplate = &Template{
	Category:       command.CategoryTranscription,
	RequiredParams: []string{"audio"},
	Steps: []*Step{
		{
			Name:       "transcribe",
			Capability: backend.TagTranscribeAudio,
			Required:   true,
			Run:        runTranscribe,
		},
		{
			Name:        "analyze",
			Capability:  backend.TagAnalyzeSequence,
			Independent: true,
			Run:         runAnalyze,
		},
	},
	Merge: func(ex *Execution) (*Artifact, error) {
		if ex.Sequence == nil {
			return nil, fmt.Errorf("transcription produced no sequence")
		}
		return &Artifact{
			Category: command.CategoryTranscription,
			Sequence: ex.Sequence,
			Report:   ex.Report,
		}, nil
	},
}

var synthesisTemplate = &Template{
	Category:       command.CategorySynthesis,
	RequiredParams: []string{"sequence"},
	Steps: []*Step{
		{
			Name:       "render",
			Capability: backend.TagRenderTimbre,
			Required:   true,
			Run:        runRender,
		},
	},
	Merge: func(ex *Execution) (*Artifact, error) {
		if ex.Audio == nil {
			return nil, fmt.Errorf("synthesis produced no audio")
		}
		return &Artifact{Category: command.CategorySynthesis, Audio: ex.Audio}, nil
	},
}

func runProduce(ctx context.Context, ex *Execution) error {
	producer, ok := ex.Engine.(backend.SequenceProducer)
	if !ok {
		return &backend.NotImplementedError{BackendID: ex.Engine.ID(), Tag: backend.TagProduceSequence}
	}
	seq, err := producer.ProduceSequence(ctx, ex.Command.Parameters, ex.Command.Int("seed"))
	if err != nil {
		return err
	}
	ex.Sequence = seq
	return nil
}

func runAnalyze(ctx context.Context, ex *Execution) error {
	if ex.Sequence == nil {
		return ErrSkip
	}
	analyzer, ok := ex.Engine.(backend.SequenceAnalyzer)
	if !ok {
		return &backend.NotImplementedError{BackendID: ex.Engine.ID(), Tag: backend.TagAnalyzeSequence}
	}
	report, err := analyzer.AnalyzeSequence(ctx, ex.Sequence)
	if err != nil {
		return err
	}
	ex.Report = report
	return nil
}

func runArrange(ctx context.Context, ex *Execution) error {
	if ex.Sequence == nil {
		return ErrSkip
	}
	suggester, ok := ex.Engine.(backend.ArrangementSuggester)
	if !ok {
		return &backend.NotImplementedError{BackendID: ex.Engine.ID(), Tag: backend.TagSuggestArrangement}
	}
	report, err := suggester.SuggestArrangement(ctx, ex.Sequence)
	if err != nil {
		return err
	}
	ex.Arrangement = report
	return nil
}

func runTranscribe(ctx context.Context, ex *Execution) error {
	transcriber, ok := ex.Engine.(backend.AudioTranscriber)
	if !ok {
		return &backend.NotImplementedError{BackendID: ex.Engine.ID(), Tag: backend.TagTranscribeAudio}
	}
	seq, err := transcriber.TranscribeAudio(ctx, &backend.Audio{Format: "raw", Data: []byte(ex.Command.String("audio"))})
	if err != nil {
		return err
	}
	ex.Sequence = seq
	return nil
}

func runRender(ctx context.Context, ex *Execution) error {
	renderer, ok := ex.Engine.(backend.TimbreRenderer)
	if !ok {
		return &backend.NotImplementedError{BackendID: ex.Engine.ID(), Tag: backend.TagRenderTimbre}
	}
	audio, err := renderer.RenderTimbre(ctx, sequenceParam(ex.Command), ex.Command.Parameters)
	if err != nil {
		return err
	}
	ex.Audio = audio
	return nil
}

func sequenceParam(cmd command.Command) *backend.Sequence {
	return &backend.Sequence{Format: "text", Data: []byte(cmd.String("sequence")), TrackCount: 1}
}
