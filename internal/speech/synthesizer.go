package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/agentplexus/callorchestrator/internal/callerror"
)

const defaultSpeechAPI = "https://api.openai.com/v1"

// Synthesizer performs one-shot text-to-speech synthesis against the
// speech service's REST endpoint. No caching, no retry: a failed synthesis
// surfaces directly to the caller as SynthesisError.
type Synthesizer struct {
	apiKey     string
	baseURL    string
	voice      string
	model      string
	httpClient *http.Client
}

// SynthesizerConfig configures a Synthesizer.
type SynthesizerConfig struct {
	APIKey     string
	BaseURL    string
	Voice      string
	Model      string
	HTTPClient *http.Client
}

// NewSynthesizer constructs a Synthesizer.
func NewSynthesizer(cfg SynthesizerConfig) (*Synthesizer, error) {
	if cfg.APIKey == "" {
		return nil, &callerror.MissingConfiguration{Key: "SPEECH_API_KEY"}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultSpeechAPI
	}
	model := cfg.Model
	if model == "" {
		model = "tts-1"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Synthesizer{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		voice:      cfg.Voice,
		model:      model,
		httpClient: httpClient,
	}, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize returns PCM16 @ 24kHz mono audio for text.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(speechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: "pcm",
	})
	if err != nil {
		return nil, &callerror.SynthesisError{Detail: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, &callerror.NetworkError{Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &callerror.NetworkError{Detail: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &callerror.NetworkError{Detail: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &callerror.SynthesisError{Detail: string(body)}
	}
	return body, nil
}
