package backend

// Sequence is a symbolic musical sequence produced or consumed by engines.
// The core treats the payload as opaque; only Format and Meta are inspected.
type Sequence struct {
	Format     string            `json:"format"` // e.g. "midi", "musicxml", "text"
	Data       []byte            `json:"data,omitempty"`
	TrackCount int               `json:"track_count,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Report is a structured analysis result for a sequence.
type Report struct {
	Key      string            `json:"key,omitempty"`
	TempoBPM float64           `json:"tempo_bpm,omitempty"`
	Findings []string          `json:"findings,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// Audio is rendered or captured audio.
type Audio struct {
	Format     string `json:"format"` // e.g. "wav", "flac"
	SampleRate int    `json:"sample_rate,omitempty"`
	Data       []byte `json:"data,omitempty"`
}
