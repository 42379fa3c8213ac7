package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// BridgeEngine forwards capability calls to a remote engine service over a
// small JSON protocol: POST {base}/v1/{tag} with a bridgeRequest body. The
// request context is forwarded, so remote calls observe cancellation.
type BridgeEngine struct {
	id         string
	baseURL    string
	httpClient *http.Client
}

// bridgeRequest is the wire request for every capability call. Fields not
// relevant to the called tag are omitted.
type bridgeRequest struct {
	Parameters map[string]any `json:"parameters,omitempty"`
	Seed       int64          `json:"seed,omitempty"`
	Sequence   *Sequence      `json:"sequence,omitempty"`
	Audio      *Audio         `json:"audio,omitempty"`
}

// bridgeResponse is the wire response for every capability call.
type bridgeResponse struct {
	Sequence *Sequence `json:"sequence,omitempty"`
	Report   *Report   `json:"report,omitempty"`
	Audio    *Audio    `json:"audio,omitempty"`
	Error    *struct {
		Message   string `json:"message"`
		Temporary bool   `json:"temporary"`
	} `json:"error,omitempty"`
}

// NewBridgeEngine creates a bridge engine for a remote engine service.
func NewBridgeEngine(id, baseURL string) (*BridgeEngine, error) {
	if id == "" {
		return nil, fmt.Errorf("bridge engine id is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("bridge engine base URL is required")
	}
	return &BridgeEngine{
		id:         id,
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}, nil
}

// ID returns the engine identifier.
func (b *BridgeEngine) ID() string { return b.id }

func (b *BridgeEngine) call(ctx context.Context, tag Tag, reqBody bridgeRequest) (*bridgeResponse, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &InvocationError{BackendID: b.id, Tag: tag, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/v1/%s", b.baseURL, tag), bytes.NewReader(jsonBody))
	if err != nil {
		return nil, &InvocationError{BackendID: b.id, Tag: tag, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &InvocationError{BackendID: b.id, Tag: tag, Temporary: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &InvocationError{BackendID: b.id, Tag: tag, Temporary: true, Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotImplementedError{BackendID: b.id, Tag: tag}
	}

	var out bridgeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &InvocationError{BackendID: b.id, Tag: tag, Err: fmt.Errorf("parse response: %w", err)}
	}
	if out.Error != nil {
		return nil, &InvocationError{
			BackendID: b.id,
			Tag:       tag,
			Temporary: out.Error.Temporary,
			Err:       fmt.Errorf("engine error: %s", out.Error.Message),
		}
	}
	if resp.StatusCode != http.StatusOK {
		temporary := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, &InvocationError{
			BackendID: b.id,
			Tag:       tag,
			Temporary: temporary,
			Err:       fmt.Errorf("engine returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	return &out, nil
}

// ProduceSequence forwards a produce_sequence call to the remote engine.
func (b *BridgeEngine) ProduceSequence(ctx context.Context, params map[string]any, seed int64) (*Sequence, error) {
	out, err := b.call(ctx, TagProduceSequence, bridgeRequest{Parameters: params, Seed: seed})
	if err != nil {
		return nil, err
	}
	if out.Sequence == nil {
		return nil, &InvocationError{BackendID: b.id, Tag: TagProduceSequence, Err: fmt.Errorf("engine returned no sequence")}
	}
	return out.Sequence, nil
}

// AnalyzeSequence forwards an analyze_sequence call to the remote engine.
func (b *BridgeEngine) AnalyzeSequence(ctx context.Context, seq *Sequence) (*Report, error) {
	out, err := b.call(ctx, TagAnalyzeSequence, bridgeRequest{Sequence: seq})
	if err != nil {
		return nil, err
	}
	if out.Report == nil {
		return nil, &InvocationError{BackendID: b.id, Tag: TagAnalyzeSequence, Err: fmt.Errorf("engine returned no report")}
	}
	return out.Report, nil
}

// TranscribeAudio forwards a transcribe_audio call to the remote engine.
func (b *BridgeEngine) TranscribeAudio(ctx context.Context, audio *Audio) (*Sequence, error) {
	out, err := b.call(ctx, TagTranscribeAudio, bridgeRequest{Audio: audio})
	if err != nil {
		return nil, err
	}
	if out.Sequence == nil {
		return nil, &InvocationError{BackendID: b.id, Tag: TagTranscribeAudio, Err: fmt.Errorf("engine returned no sequence")}
	}
	return out.Sequence, nil
}

// RenderTimbre forwards a render_timbre call to the remote engine.
func (b *BridgeEngine) RenderTimbre(ctx context.Context, seq *Sequence, params map[string]any) (*Audio, error) {
	out, err := b.call(ctx, TagRenderTimbre, bridgeRequest{Sequence: seq, Parameters: params})
	if err != nil {
		return nil, err
	}
	if out.Audio == nil {
		return nil, &InvocationError{BackendID: b.id, Tag: TagRenderTimbre, Err: fmt.Errorf("engine returned no audio")}
	}
	return out.Audio, nil
}

// SuggestArrangement forwards a suggest_arrangement call to the remote engine.
func (b *BridgeEngine) SuggestArrangement(ctx context.Context, seq *Sequence) (*Report, error) {
	out, err := b.call(ctx, TagSuggestArrangement, bridgeRequest{Sequence: seq})
	if err != nil {
		return nil, err
	}
	if out.Report == nil {
		return nil, &InvocationError{BackendID: b.id, Tag: TagSuggestArrangement, Err: fmt.Errorf("engine returned no report")}
	}
	return out.Report, nil
}
