// Package tts provides one-shot ElevenLabs u-law synthesis, used by the
// non-streaming demo path that speaks a fixed message on stream start.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Defaults matching the telephony leg's audio format.
const (
	DefaultVoiceID    = "21m00Tcm4TlvDq8ikWAM"
	DefaultModelID    = "eleven_turbo_v2_5"
	DefaultSampleRate = 8000
)

// Provider synthesizes speech via the ElevenLabs REST API.
type Provider struct {
	apiKey     string
	baseURL    string
	voiceID    string
	modelID    string
	sampleRate int
	httpClient *http.Client
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	apiKey     string
	baseURL    string
	voiceID    string
	modelID    string
	sampleRate int
	httpClient *http.Client
}

// WithAPIKey sets the ElevenLabs API key.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithVoice sets the voice ID.
func WithVoice(voiceID string) Option {
	return func(o *options) {
		o.voiceID = voiceID
	}
}

// WithModel sets the synthesis model.
func WithModel(modelID string) Option {
	return func(o *options) {
		o.modelID = modelID
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// New creates an ElevenLabs TTS provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &options{
		baseURL:    "https://api.elevenlabs.io/v1",
		voiceID:    DefaultVoiceID,
		modelID:    DefaultModelID,
		sampleRate: DefaultSampleRate,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	apiKey := cfg.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("ELEVENLABS_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ELEVENLABS_API_KEY is required")
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Provider{
		apiKey:     apiKey,
		baseURL:    cfg.baseURL,
		voiceID:    cfg.voiceID,
		modelID:    cfg.modelID,
		sampleRate: cfg.sampleRate,
		httpClient: httpClient,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "elevenlabs"
}

// Synthesize converts text to raw u-law audio ready for a media frame.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/text-to-speech/%s", p.baseURL, p.voiceID)

	body, err := json.Marshal(map[string]any{
		"text":          text,
		"model_id":      p.modelID,
		"output_format": "ulaw",
		"sample_rate":   p.sampleRate,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/basic")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("elevenlabs error %d: %s", resp.StatusCode, string(audio))
	}

	return audio, nil
}
