// Package openai provides speech adapters backed by the OpenAI API: Whisper
// transcription and the TTS endpoint.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/parlancehq/parlance/pkg/speech"
)

const (
	defaultSTTModel = "whisper-1"
	defaultTTSModel = "tts-1"
	defaultVoice    = "alloy"
	providerName    = "openai"
)

// config holds optional configuration for the adapter.
type config struct {
	baseURL  string
	sttModel string
	ttsModel string
	voice    string
	timeout  time.Duration
}

// Option is a functional option for the Adapter.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithSTTModel selects the transcription model (e.g., "whisper-1").
func WithSTTModel(model string) Option {
	return func(c *config) { c.sttModel = model }
}

// WithTTSModel selects the synthesis model (e.g., "tts-1", "tts-1-hd").
func WithTTSModel(model string) Option {
	return func(c *config) { c.ttsModel = model }
}

// WithDefaultVoice sets the voice used when a request leaves Voice empty.
func WithDefaultVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Adapter implements [speech.Adapter] using the OpenAI API. One instance
// serves either category; the registry decides which operations reach it.
type Adapter struct {
	client   oai.Client
	category speech.Category
	sttModel string
	ttsModel string
	voice    string
}

// Compile-time interface assertion.
var _ speech.Adapter = (*Adapter)(nil)

// New constructs an OpenAI speech adapter for the given category. apiKey
// must be non-empty.
func New(apiKey string, category speech.Category, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if !category.IsValid() {
		return nil, fmt.Errorf("openai: category %q is invalid", category)
	}

	cfg := &config{
		sttModel: defaultSTTModel,
		ttsModel: defaultTTSModel,
		voice:    defaultVoice,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Adapter{
		client:   oai.NewClient(reqOpts...),
		category: category,
		sttModel: cfg.sttModel,
		ttsModel: cfg.ttsModel,
		voice:    cfg.voice,
	}, nil
}

// Capabilities implements [speech.Adapter].
func (a *Adapter) Capabilities() speech.Capabilities {
	return speech.Capabilities{
		Category: a.category,
		Formats:  []string{"mp3", "wav", "ogg", "flac", "opus", "pcm"},
	}
}

// Transcribe implements [speech.Adapter] via the audio transcriptions
// endpoint.
func (a *Adapter) Transcribe(ctx context.Context, req speech.STTRequest) (*speech.STTResult, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(req.Audio), "audio."+req.Format, "application/octet-stream"),
		Model: oai.AudioModel(a.sttModel),
	}
	if req.Language != "" && req.Language != "auto" {
		params.Language = oai.String(req.Language)
	}

	resp, err := a.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &speech.STTResult{Text: resp.Text}, nil
}

// Synthesize implements [speech.Adapter] via the audio speech endpoint.
func (a *Adapter) Synthesize(ctx context.Context, req speech.TTSRequest) (*speech.TTSResult, error) {
	voice := req.Voice
	if voice == "" {
		voice = a.voice
	}
	format := req.Format
	if format == "" {
		format = "mp3"
	}

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(a.ttsModel),
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(format),
	}
	if req.Speed != 0 {
		params.Speed = oai.Float(req.Speed)
	}

	resp, err := a.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, speech.NewProviderError(providerName, speech.KindTransient, err)
	}
	return &speech.TTSResult{Audio: audio, Format: format}, nil
}

// Health implements [speech.Adapter] with a lightweight model-list call.
func (a *Adapter) Health(ctx context.Context) speech.HealthStatus {
	start := time.Now()
	_, err := a.client.Models.List(ctx)
	latency := time.Since(start)
	if err != nil {
		return speech.HealthStatus{OK: false, Latency: latency, Detail: err.Error()}
	}
	return speech.HealthStatus{OK: true, Latency: latency}
}

// wrapErr converts an openai-go error into a classified [speech.ProviderError].
func wrapErr(err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		return speech.NewProviderError(providerName, speech.KindForHTTPStatus(apierr.StatusCode), err)
	}
	return speech.NewProviderError(providerName, speech.KindTransient, err)
}
