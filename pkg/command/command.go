// Package command defines the unit of work submitted to the coordinator: a
// categorized creative-generation request with a scalar parameter map.
package command

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/backend"
)

// Category is the closed set of request kinds.
type Category string

const (
	CategoryGeneration    Category = "generation"
	CategoryAnalysis      Category = "analysis"
	CategoryTranscription Category = "transcription"
	CategorySynthesis     Category = "synthesis"
)

// Categories returns the closed category set in declaration order.
func Categories() []Category {
	return []Category{
		CategoryGeneration,
		CategoryAnalysis,
		CategoryTranscription,
		CategorySynthesis,
	}
}

// Valid reports whether the category belongs to the closed set.
func (c Category) Valid() bool {
	switch c {
	case CategoryGeneration, CategoryAnalysis, CategoryTranscription, CategorySynthesis:
		return true
	}
	return false
}

// RequiredCapabilities returns the capability tags a backend must declare to
// be considered capable of the category.
func (c Category) RequiredCapabilities() []backend.Tag {
	switch c {
	case CategoryGeneration:
		return []backend.Tag{backend.TagProduceSequence}
	case CategoryAnalysis:
		return []backend.Tag{backend.TagAnalyzeSequence}
	case CategoryTranscription:
		return []backend.Tag{backend.TagTranscribeAudio}
	case CategorySynthesis:
		return []backend.Tag{backend.TagRenderTimbre}
	}
	return nil
}

// Command is a unit of work. Immutable after creation.
type Command struct {
	ID                string
	Category          Category
	Parameters        map[string]any
	BackendPreference []string
	CreatedAt         time.Time
}

// Option configures a new Command.
type Option func(*Command)

// WithID sets an explicit command id instead of a generated one.
func WithID(id string) Option {
	return func(c *Command) { c.ID = id }
}

// WithPreference sets an explicit backend preference list.
func WithPreference(backendIDs ...string) Option {
	return func(c *Command) { c.BackendPreference = backendIDs }
}

// New creates a command for the category, generating an id if none is given.
// Parameters must be scalars (string, bool, integer, float).
func New(category Category, params map[string]any, opts ...Option) (Command, error) {
	if !category.Valid() {
		return Command{}, fmt.Errorf("unknown category %q", category)
	}
	if err := ValidateParameters(params); err != nil {
		return Command{}, err
	}

	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = normalizeScalar(v)
	}

	cmd := Command{
		Category:   category,
		Parameters: copied,
		CreatedAt:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&cmd)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	return cmd, nil
}

// ValidateParameters rejects non-scalar parameter values.
func ValidateParameters(params map[string]any) error {
	for k, v := range params {
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("parameter %q: unsupported value type %T", k, v)
		}
	}
	return nil
}

// String returns the parameter as a string, or "" when absent or not a string.
func (c Command) String(key string) string {
	if s, ok := c.Parameters[key].(string); ok {
		return s
	}
	return ""
}

// Int returns the parameter as an int64, or 0 when absent or not an integer.
func (c Command) Int(key string) int64 {
	if n, ok := c.Parameters[key].(int64); ok {
		return n
	}
	return 0
}

// ParamKey formats one parameter pair as the stable "key=value" form used by
// the ledger's parameter-scoped tier.
func ParamKey(key string, value any) string {
	return fmt.Sprintf("%s=%v", key, normalizeScalar(value))
}

// normalizeScalar widens integer and float variants so equal values format
// identically regardless of the caller's concrete type.
func normalizeScalar(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}
