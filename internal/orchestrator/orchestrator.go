// Package orchestrator is the engine core: it receives speech operation
// requests and walks the priority-ordered provider chain until one candidate
// produces a result.
//
// Per candidate, the walk applies three gates in order — circuit breaker,
// rate limiter, retry-bounded attempt. A breaker-open or limiter rejection
// skips the candidate without an attempt; an exhausted retry budget charges
// the breaker exactly one failure and moves to the next candidate. The cache
// sits in front of the whole chain so identical requests never pay twice.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/parlancehq/parlance/internal/cache"
	"github.com/parlancehq/parlance/internal/metrics"
	"github.com/parlancehq/parlance/internal/observe"
	"github.com/parlancehq/parlance/internal/registry"
	"github.com/parlancehq/parlance/internal/resilience"
	"github.com/parlancehq/parlance/internal/storage"
	"github.com/parlancehq/parlance/pkg/speech"
)

// Policy holds the per-request execution knobs shared by every provider.
type Policy struct {
	// Retry bounds in-attempt retries. The Retryable predicate is forced to
	// the transient classifier; configuring it here has no effect.
	Retry resilience.RetryPolicy

	// AttemptTimeout caps one provider attempt including its retries.
	// Default: 30s.
	AttemptTimeout time.Duration

	// CacheTTL is how long successful results stay cached. Default: 1h.
	CacheTTL time.Duration

	// CountAuthFailures, when true, charges authentication failures to the
	// circuit breaker. Off by default: bad credentials are an operator
	// problem, and opening the breaker would mask the real fix.
	CountAuthFailures bool
}

// normalized returns p with zero-value fields replaced by defaults.
func (p Policy) normalized() Policy {
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = 30 * time.Second
	}
	if p.CacheTTL <= 0 {
		p.CacheTTL = time.Hour
	}
	return p
}

// Orchestrator coordinates provider selection, resilience gates, caching,
// and metrics for speech operations. Safe for concurrent use.
type Orchestrator struct {
	reg      *registry.Registry
	breakers *resilience.BreakerSet
	limiters *resilience.LimiterSet
	policy   Policy

	store    cache.Store         // nil disables caching
	objects  storage.ObjectStore // nil disables audio persistence
	recorder *metrics.Recorder   // nil disables sampling
	otel     *observe.Metrics    // nil disables instrument updates
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithCache attaches a result cache.
func WithCache(s cache.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithObjectStore attaches the binary store used to persist synthesised
// audio. Results then carry an AudioRef alongside the raw bytes.
func WithObjectStore(s storage.ObjectStore) Option {
	return func(o *Orchestrator) { o.objects = s }
}

// WithRecorder attaches the per-attempt sample recorder. The orchestrator
// takes ownership: [Orchestrator.Close] closes it.
func WithRecorder(r *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithObserve attaches OTel instruments for skips, cache lookups, and
// in-flight gauges.
func WithObserve(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.otel = m }
}

// New creates an Orchestrator over the given registry and resilience sets.
func New(reg *registry.Registry, breakers *resilience.BreakerSet, limiters *resilience.LimiterSet, policy Policy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reg:      reg,
		breakers: breakers,
		limiters: limiters,
		policy:   policy.normalized(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Close flushes and stops the attached recorder, if any.
func (o *Orchestrator) Close() error {
	if o.recorder != nil {
		return o.recorder.Close()
	}
	return nil
}

// ProviderHealth returns the breaker snapshot for every provider that has
// seen traffic or probes.
func (o *Orchestrator) ProviderHealth() map[string]resilience.ProviderHealth {
	return o.breakers.Snapshot()
}

// Stats returns the trailing-24h aggregate for one provider, or for all
// providers when the name is empty. Zero-valued without a recorder.
func (o *Orchestrator) Stats(provider string) metrics.Stats {
	if o.recorder == nil {
		return metrics.Stats{Provider: provider}
	}
	return o.recorder.DailyStats(provider)
}

// ProcessSTT transcribes audio through the STT provider chain. An optional
// chain override names the providers to use, in order, instead of the
// configured priority order.
func (o *Orchestrator) ProcessSTT(ctx context.Context, req speech.STTRequest, chain ...string) (*speech.STTResult, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", speech.ErrInvalidRequest)
	}

	fp := req.CacheFingerprint
	if fp == "" {
		fp = cache.Fingerprint(req.Language, req.Format, req.Options)
	}

	start := time.Now()
	res, err := process(ctx, o, callParams{
		category:     speech.CategorySTT,
		operation:    "stt",
		cacheKey:     cache.Key("stt", req.Audio, fp),
		payloadBytes: len(req.Audio),
		tenant:       req.Tenant,
		chain:        chain,
	},
		func(ctx context.Context, c registry.Candidate) (*speech.STTResult, error) {
			r, err := c.Adapter.Transcribe(ctx, req)
			if err != nil {
				return nil, err
			}
			r.Provider = c.Descriptor.Name
			return r, nil
		},
		func(r *speech.STTResult) string {
			r.CacheHit = true
			return r.Provider
		},
	)
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

// ProcessTTS synthesises speech through the TTS provider chain. When an
// object store is attached, the audio is persisted and the result carries a
// reference to the stored artifact.
func (o *Orchestrator) ProcessTTS(ctx context.Context, req speech.TTSRequest, chain ...string) (*speech.TTSResult, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("%w: empty text", speech.ErrInvalidRequest)
	}
	if req.Speed != 0 && (req.Speed < 0.5 || req.Speed > 2.0) {
		return nil, fmt.Errorf("%w: speed %.2f outside [0.5, 2.0]", speech.ErrInvalidRequest, req.Speed)
	}

	fp := req.CacheFingerprint
	if fp == "" {
		fp = cache.Fingerprint(req.Language, req.Format, req.Options,
			"voice="+req.Voice, fmt.Sprintf("speed=%.2f", req.Speed))
	}

	start := time.Now()
	res, err := process(ctx, o, callParams{
		category:     speech.CategoryTTS,
		operation:    "tts",
		cacheKey:     cache.Key("tts", []byte(req.Text), fp),
		payloadBytes: len(req.Text),
		tenant:       req.Tenant,
		chain:        chain,
	},
		func(ctx context.Context, c registry.Candidate) (*speech.TTSResult, error) {
			r, err := c.Adapter.Synthesize(ctx, req)
			if err != nil {
				return nil, err
			}
			r.Provider = c.Descriptor.Name
			if o.objects != nil && len(r.Audio) > 0 {
				ref, err := o.objects.Put(ctx, r.Audio, contentType(r.Format))
				if err != nil {
					// The synthesis succeeded; losing the artifact copy is
					// not a provider failure.
					slog.Warn("audio artifact store failed", "provider", r.Provider, "err", err)
				} else {
					r.AudioRef = ref
				}
			}
			return r, nil
		},
		func(r *speech.TTSResult) string {
			r.CacheHit = true
			return r.Provider
		},
	)
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

// contentType maps a result format to the MIME type used by the object
// store.
func contentType(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	case "opus":
		return "audio/opus"
	case "flac":
		return "audio/flac"
	case "pcm":
		return "audio/pcm"
	default:
		return "application/octet-stream"
	}
}

// callParams is the per-request execution context shared by both operation
// families.
type callParams struct {
	category     speech.Category
	operation    string
	cacheKey     string
	payloadBytes int
	tenant       string
	chain        []string
}

// process runs the cache lookup and fallback loop shared by both operation
// families. invoke performs one provider call; onCacheHit marks a decoded
// cached result and returns its provider name for the sample.
func process[R any](
	ctx context.Context,
	o *Orchestrator,
	p callParams,
	invoke func(context.Context, registry.Candidate) (*R, error),
	onCacheHit func(*R) string,
) (*R, error) {
	if o.otel != nil {
		o.otel.InFlight.Add(ctx, 1)
		defer o.otel.InFlight.Add(ctx, -1)
	}

	if res, ok := cacheGet[R](ctx, o, p, onCacheHit); ok {
		return res, nil
	}

	candidates, err := o.candidates(p.category, p.chain)
	if err != nil {
		return nil, err
	}

	var (
		attempted []string
		lastErr   error
	)
	for _, c := range candidates {
		name := c.Descriptor.Name
		cb := o.breakers.Get(name)

		if err := cb.Allow(); err != nil {
			o.skip(ctx, name, "breaker_open")
			continue
		}
		if !o.limiters.Acquire(name, p.tenant) {
			// Allow was already granted; release the slot so a half-open
			// probe isn't consumed by a rate-limited request.
			cb.ReportCancelled()
			o.skip(ctx, name, "rate_limited")
			continue
		}

		start := time.Now()
		res, err := attempt(ctx, o, c, invoke)
		latency := time.Since(start)

		if err == nil {
			cb.ReportSuccess(latency)
			o.sample(ctx, metrics.Sample{
				Provider: name, Operation: p.operation, Success: true,
				Latency: latency, PayloadBytes: p.payloadBytes,
			})
			o.cacheSet(ctx, p.cacheKey, res)
			return res, nil
		}

		if ctx.Err() != nil {
			// The caller gave up; the provider was neither proven good nor
			// bad.
			cb.ReportCancelled()
			return nil, ctx.Err()
		}

		attempted = append(attempted, name)
		lastErr = err
		o.sample(ctx, metrics.Sample{
			Provider: name, Operation: p.operation, Success: false,
			Latency: latency, PayloadBytes: p.payloadBytes,
		})

		switch {
		case speech.IsValidation(err):
			// The request itself is malformed; no other provider will
			// accept it either.
			cb.ReportCancelled()
			return nil, err
		case speech.IsQuota(err):
			// Vendor-side throttling, same treatment as the local limiter.
			cb.ReportCancelled()
			slog.Warn("provider over quota", "provider", name, "operation", p.operation)
		case speech.IsAuth(err) && !o.policy.CountAuthFailures:
			cb.ReportCancelled()
			slog.Error("provider authentication failed",
				"provider", name,
				"operation", p.operation,
				"err", err)
		default:
			cb.ReportFailure()
			slog.Warn("provider attempt failed",
				"provider", name,
				"operation", p.operation,
				"latency", latency,
				"err", err)
		}
	}

	return nil, &speech.ExhaustedError{Category: p.category, Attempted: attempted, LastErr: lastErr}
}

// attempt runs one retry-bounded provider call under the attempt timeout.
func attempt[R any](ctx context.Context, o *Orchestrator, c registry.Candidate, invoke func(context.Context, registry.Candidate) (*R, error)) (*R, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.policy.AttemptTimeout)
	defer cancel()

	policy := o.policy.Retry
	policy.Retryable = speech.IsTransient
	return resilience.Retry(attemptCtx, policy, func(ctx context.Context) (*R, error) {
		return invoke(ctx, c)
	})
}

// cacheGet attempts to serve the request from the cache. Store errors and
// undecodable entries degrade to a miss.
func cacheGet[R any](ctx context.Context, o *Orchestrator, p callParams, onHit func(*R) string) (*R, bool) {
	if o.store == nil || p.cacheKey == "" {
		return nil, false
	}

	data, found, err := o.store.Get(ctx, p.cacheKey)
	if err != nil {
		slog.Warn("cache read failed", "key", p.cacheKey, "err", err)
		found = false
	}

	var res *R
	if found {
		res = new(R)
		if err := json.Unmarshal(data, res); err != nil {
			slog.Warn("cache entry undecodable", "key", p.cacheKey, "err", err)
			res, found = nil, false
		}
	}

	if o.otel != nil {
		o.otel.RecordCacheLookup(ctx, p.operation, found)
	}
	if !found {
		return nil, false
	}

	provider := onHit(res)
	o.sample(ctx, metrics.Sample{
		Provider: provider, Operation: p.operation, Success: true,
		PayloadBytes: p.payloadBytes, CacheHit: true,
	})
	return res, true
}

// candidates resolves the provider list: the configured priority order, or
// the explicit override chain.
func (o *Orchestrator) candidates(cat speech.Category, override []string) ([]registry.Candidate, error) {
	if len(override) == 0 {
		return o.reg.Candidates(cat)
	}

	out := make([]registry.Candidate, 0, len(override))
	for _, name := range override {
		c, ok := o.reg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown provider %q in chain override", speech.ErrInvalidRequest, name)
		}
		if c.Descriptor.Category != cat {
			return nil, fmt.Errorf("%w: provider %q serves %s, not %s", speech.ErrInvalidRequest, name, c.Descriptor.Category, cat)
		}
		out = append(out, c)
	}
	return out, nil
}

// skip records a candidate skipped without an attempt.
func (o *Orchestrator) skip(ctx context.Context, provider, reason string) {
	slog.Debug("provider skipped", "provider", provider, "reason", reason)
	if o.otel != nil {
		o.otel.RecordSkip(ctx, provider, reason)
	}
}

// sample forwards one attempt sample to the recorder, if attached.
func (o *Orchestrator) sample(ctx context.Context, s metrics.Sample) {
	if o.recorder != nil {
		o.recorder.Record(ctx, s)
	}
}

// cacheSet stores a successful result. Failures are logged and dropped; the
// cache can never fail a request.
func (o *Orchestrator) cacheSet(ctx context.Context, key string, res any) {
	if o.store == nil || key == "" {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		slog.Warn("cache encode failed", "key", key, "err", err)
		return
	}
	if err := o.store.Set(ctx, key, data, o.policy.CacheTTL); err != nil {
		slog.Warn("cache write failed", "key", key, "err", err)
	}
}
