// Package api exposes the orchestration engine over HTTP: the speech
// operation endpoints, provider status and stats, and the Prometheus scrape
// endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parlancehq/parlance/internal/health"
	"github.com/parlancehq/parlance/internal/orchestrator"
	"github.com/parlancehq/parlance/internal/resilience"
	"github.com/parlancehq/parlance/pkg/speech"
)

// maxAudioBytes caps the STT request body. Whisper-class vendors reject
// larger uploads anyway.
const maxAudioBytes = 25 << 20

// Server routes HTTP requests to the orchestrator.
type Server struct {
	orch     *orchestrator.Orchestrator
	monitor  *health.Monitor
	breakers *resilience.BreakerSet
	healthz  *health.Handler
}

// NewServer creates the API server over its collaborators. checkers feed the
// /readyz endpoint.
func NewServer(orch *orchestrator.Orchestrator, monitor *health.Monitor, breakers *resilience.BreakerSet, checkers ...health.Checker) *Server {
	return &Server{
		orch:     orch,
		monitor:  monitor,
		breakers: breakers,
		healthz:  health.NewHandler(checkers...),
	}
}

// Handler returns the fully routed HTTP handler, wrapped with request-ID and
// access-log middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/stt", s.handleSTT)
	mux.HandleFunc("POST /v1/tts", s.handleTTS)
	mux.HandleFunc("GET /v1/providers", s.handleProviders)
	mux.HandleFunc("GET /v1/providers/{name}", s.handleProviders)
	mux.HandleFunc("POST /v1/providers/{name}/reset", s.handleReset)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.healthz.Register(mux)

	return withRequestLog(mux)
}

// handleSTT accepts raw audio in the request body. Recognition settings come
// from query parameters: language, format, tenant, chain (comma-separated
// provider override), and opt.<key> provider hints.
func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	audio, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if len(audio) > maxAudioBytes {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("audio payload exceeds 25 MiB"))
		return
	}

	q := r.URL.Query()
	req := speech.STTRequest{
		Audio:    audio,
		Format:   q.Get("format"),
		Language: q.Get("language"),
		Tenant:   q.Get("tenant"),
		Options:  optionsFromQuery(q),
	}

	res, err := s.orch.ProcessSTT(r.Context(), req, chainFromQuery(q)...)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ttsRequest is the JSON body for POST /v1/tts.
type ttsRequest struct {
	Text     string            `json:"text"`
	Voice    string            `json:"voice,omitempty"`
	Format   string            `json:"format,omitempty"`
	Language string            `json:"language,omitempty"`
	Speed    float64           `json:"speed,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
	Tenant   string            `json:"tenant,omitempty"`
	Chain    []string          `json:"chain,omitempty"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var body ttsRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	req := speech.TTSRequest{
		Text:     body.Text,
		Voice:    body.Voice,
		Format:   body.Format,
		Language: body.Language,
		Speed:    body.Speed,
		Options:  body.Options,
		Tenant:   body.Tenant,
	}

	res, err := s.orch.ProcessTTS(r.Context(), req, body.Chain...)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleProviders reports probe plus breaker status for all providers or the
// one named in the path.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	statuses := s.monitor.Check(r.Context(), name)
	if name != "" && len(statuses) == 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown provider %q", name))
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleReset forces a provider's breaker back to closed.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.monitor.Check(r.Context(), name)[name]; !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown provider %q", name))
		return
	}
	s.breakers.Get(name).Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "provider": name})
}

// handleStats serves the trailing-24h aggregates; ?provider= narrows to one.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Stats(r.URL.Query().Get("provider")))
}

// chainFromQuery parses the comma-separated provider override.
func chainFromQuery(q map[string][]string) []string {
	raw, ok := q["chain"]
	if !ok || len(raw) == 0 || raw[0] == "" {
		return nil
	}
	parts := strings.Split(raw[0], ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// optionsFromQuery collects opt.<key> query parameters into a settings map.
func optionsFromQuery(q map[string][]string) map[string]string {
	var opts map[string]string
	for k, vs := range q {
		key, ok := strings.CutPrefix(k, "opt.")
		if !ok || len(vs) == 0 {
			continue
		}
		if opts == nil {
			opts = make(map[string]string)
		}
		opts[key] = vs[0]
	}
	return opts
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error     string   `json:"error"`
	Attempted []string `json:"attempted,omitempty"`
}

// writeOperationError maps orchestrator failures onto HTTP status codes.
func writeOperationError(w http.ResponseWriter, err error) {
	var ex *speech.ExhaustedError
	switch {
	case errors.Is(err, speech.ErrInvalidRequest) || speech.IsValidation(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &ex):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: ex.Error(), Attempted: ex.Attempted})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err)
	case errors.Is(err, context.Canceled):
		// The client went away; the status code is a formality.
		writeError(w, 499, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response failed", "err", err)
	}
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestLog assigns every request an ID, echoes it in the X-Request-ID
// header, and logs one line per request.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", id)
	})
}
