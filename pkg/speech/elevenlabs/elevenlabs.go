// Package elevenlabs provides an ElevenLabs-backed TTS adapter using the
// text-to-speech REST API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/parlancehq/parlance/pkg/speech"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_flash_v2_5"
	providerName   = "elevenlabs"
)

// outputFormats maps the engine's format names onto ElevenLabs output_format
// values.
var outputFormats = map[string]string{
	"mp3":  "mp3_44100_128",
	"pcm":  "pcm_16000",
	"opus": "opus_48000_64",
}

// Option is a functional option for configuring the Adapter.
type Option func(*Adapter)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(a *Adapter) { a.model = model }
}

// WithDefaultVoice sets the voice used when a request leaves Voice empty.
func WithDefaultVoice(voiceID string) Option {
	return func(a *Adapter) { a.voice = voiceID }
}

// WithBaseURL overrides the API endpoint. Used in tests.
func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) { a.baseURL = baseURL }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// Adapter implements [speech.Adapter] backed by the ElevenLabs API.
// ElevenLabs is synthesis-only; Transcribe always fails.
type Adapter struct {
	apiKey     string
	baseURL    string
	model      string
	voice      string
	httpClient *http.Client
}

// Compile-time interface assertion.
var _ speech.Adapter = (*Adapter)(nil)

// New creates an ElevenLabs Adapter. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	a := &Adapter{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Capabilities implements [speech.Adapter].
func (a *Adapter) Capabilities() speech.Capabilities {
	return speech.Capabilities{
		Category: speech.CategoryTTS,
		Formats:  []string{"mp3", "pcm", "opus"},
	}
}

// synthesisRequest is the JSON payload for POST /v1/text-to-speech/{voice}.
type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// Transcribe implements [speech.Adapter]. ElevenLabs has no transcription
// support in this adapter, so the call is rejected as a validation error.
func (a *Adapter) Transcribe(context.Context, speech.STTRequest) (*speech.STTResult, error) {
	return nil, speech.NewProviderError(providerName, speech.KindValidation,
		errors.New("transcription is not supported"))
}

// Synthesize implements [speech.Adapter] via the text-to-speech endpoint.
func (a *Adapter) Synthesize(ctx context.Context, req speech.TTSRequest) (*speech.TTSResult, error) {
	voice := req.Voice
	if voice == "" {
		voice = a.voice
	}
	if voice == "" {
		return nil, speech.NewProviderError(providerName, speech.KindValidation,
			errors.New("no voice requested and no default voice configured"))
	}

	format := req.Format
	if format == "" {
		format = "mp3"
	}
	output, ok := outputFormats[format]
	if !ok {
		return nil, speech.NewProviderError(providerName, speech.KindValidation,
			fmt.Errorf("unsupported output format %q", format))
	}

	payload := synthesisRequest{
		Text:    req.Text,
		ModelID: a.model,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           req.Speed,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, speech.NewProviderError(providerName, speech.KindValidation, err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		a.baseURL, url.PathEscape(voice), url.QueryEscape(output))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, speech.NewProviderError(providerName, speech.KindValidation, err)
	}
	httpReq.Header.Set("xi-api-key", a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, speech.NewProviderError(providerName, speech.KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, speech.NewProviderError(providerName, speech.KindForHTTPStatus(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(detail)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, speech.NewProviderError(providerName, speech.KindTransient, err)
	}
	return &speech.TTSResult{Audio: audio, Format: format}, nil
}

// Health implements [speech.Adapter] via GET /v1/voices, which verifies the
// credential without consuming character quota.
func (a *Adapter) Health(ctx context.Context) speech.HealthStatus {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/voices", nil)
	if err != nil {
		return speech.HealthStatus{OK: false, Detail: err.Error()}
	}
	httpReq.Header.Set("xi-api-key", a.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := a.httpClient.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return speech.HealthStatus{OK: false, Latency: latency, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return speech.HealthStatus{OK: false, Latency: latency, Detail: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return speech.HealthStatus{OK: true, Latency: latency}
}
