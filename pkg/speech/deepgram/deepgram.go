// Package deepgram provides a Deepgram-backed STT adapter using the
// pre-recorded transcription API.
package deepgram

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
	defaultBaseURL  = "https://api.deepgram.com"
	listenPath      = "/v1/listen"
	projectsPath    = "/v1/projects"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
	providerName    = "deepgram"
)

// Option is a functional option for configuring the Adapter.
type Option func(*Adapter)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(a *Adapter) { a.model = model }
}

// WithLanguage sets the default BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(a *Adapter) { a.language = language }
}

// WithBaseURL overrides the API endpoint. Used in tests.
func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) { a.baseURL = baseURL }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// Adapter implements [speech.Adapter] backed by the Deepgram batch API.
// Deepgram is transcription-only; Synthesize always fails.
type Adapter struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// Compile-time interface assertion.
var _ speech.Adapter = (*Adapter)(nil)

// New creates a Deepgram Adapter. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	a := &Adapter{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		language:   defaultLanguage,
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
		Category: speech.CategorySTT,
		Formats:  []string{"wav", "mp3", "ogg", "flac", "opus"},
	}
}

// listenResponse is the JSON structure returned by the pre-recorded endpoint.
type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements [speech.Adapter] via POST /v1/listen.
func (a *Adapter) Transcribe(ctx context.Context, req speech.STTRequest) (*speech.STTResult, error) {
	endpoint, err := a.buildURL(req)
	if err != nil {
		return nil, speech.NewProviderError(providerName, speech.KindValidation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(req.Audio))
	if err != nil {
		return nil, speech.NewProviderError(providerName, speech.KindValidation, err)
	}
	httpReq.Header.Set("Authorization", "Token "+a.apiKey)
	httpReq.Header.Set("Content-Type", contentType(req.Format))

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, speech.NewProviderError(providerName, speech.KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, speech.NewProviderError(providerName, speech.KindForHTTPStatus(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}

	var lr listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, speech.NewProviderError(providerName, speech.KindTransient,
			fmt.Errorf("decode response: %w", err))
	}
	text, confidence, ok := bestAlternative(lr)
	if !ok {
		return nil, speech.NewProviderError(providerName, speech.KindTransient,
			errors.New("response contains no transcript"))
	}
	return &speech.STTResult{Text: text, Confidence: confidence}, nil
}

// Synthesize implements [speech.Adapter]. Deepgram has no synthesis support
// in this adapter, so the call is rejected as a validation error.
func (a *Adapter) Synthesize(context.Context, speech.TTSRequest) (*speech.TTSResult, error) {
	return nil, speech.NewProviderError(providerName, speech.KindValidation,
		errors.New("synthesis is not supported"))
}

// Health implements [speech.Adapter] via GET /v1/projects, which answers
// quickly and verifies the credential.
func (a *Adapter) Health(ctx context.Context) speech.HealthStatus {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+projectsPath, nil)
	if err != nil {
		return speech.HealthStatus{OK: false, Detail: err.Error()}
	}
	httpReq.Header.Set("Authorization", "Token "+a.apiKey)

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

// buildURL constructs the pre-recorded endpoint URL for the given request.
func (a *Adapter) buildURL(req speech.STTRequest) (string, error) {
	u, err := url.Parse(a.baseURL + listenPath)
	if err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" || lang == "auto" {
		lang = a.language
	}

	q := u.Query()
	q.Set("model", a.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	for k, v := range req.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// bestAlternative extracts the first channel's first alternative.
func bestAlternative(lr listenResponse) (string, float64, bool) {
	if len(lr.Results.Channels) == 0 || len(lr.Results.Channels[0].Alternatives) == 0 {
		return "", 0, false
	}
	alt := lr.Results.Channels[0].Alternatives[0]
	return alt.Transcript, alt.Confidence, true
}

// contentType maps the request format to the MIME type Deepgram expects.
func contentType(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "opus":
		return "audio/opus"
	default:
		return "application/octet-stream"
	}
}
