package speech

import "time"

// Category identifies which speech operation family a provider serves.
type Category string

const (
	// CategorySTT marks speech-to-text providers.
	CategorySTT Category = "stt"

	// CategoryTTS marks text-to-speech providers.
	CategoryTTS Category = "tts"
)

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	return c == CategorySTT || c == CategoryTTS
}

// STTRequest describes one speech-to-text operation. Values are immutable
// once handed to the orchestrator; they are created per call and never
// persisted.
type STTRequest struct {
	// Audio is the raw audio payload to transcribe.
	Audio []byte

	// Format is the audio container/encoding (e.g., "wav", "mp3", "ogg").
	Format string

	// Language is the BCP-47 language tag for recognition, or "auto" to let
	// the provider detect it. An empty string is treated as "auto".
	Language string

	// Options holds provider-specific recognition hints (model selection,
	// diarization flags, etc.). May be nil.
	Options map[string]string

	// Tenant identifies the calling agent/tenant for fairness rate limiting.
	// May be empty when the deployment has a single caller.
	Tenant string

	// CacheFingerprint is an optional caller-supplied settings fingerprint
	// folded into the cache key. When empty, a fingerprint is derived from
	// Format, Language, and Options.
	CacheFingerprint string
}

// STTResult is the outcome of a successful transcription.
type STTResult struct {
	// Text is the transcribed speech content.
	Text string `json:"text"`

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report confidence.
	Confidence float64 `json:"confidence,omitempty"`

	// Provider names the adapter that produced this result.
	Provider string `json:"provider"`

	// Duration is the end-to-end processing time for this request.
	Duration time.Duration `json:"duration"`

	// CacheHit reports whether the result was served from the cache without
	// invoking any provider.
	CacheHit bool `json:"cache_hit"`
}

// TTSRequest describes one text-to-speech operation.
type TTSRequest struct {
	// Text is the content to synthesise. Must be non-empty.
	Text string

	// Voice is the provider-specific voice identifier. Providers fall back
	// to a default voice when empty.
	Voice string

	// Format is the desired audio output format (e.g., "mp3", "pcm", "opus").
	Format string

	// Language is the BCP-47 language tag, or "auto".
	Language string

	// Speed adjusts speaking rate (0.5–2.0, 0 = provider default).
	Speed float64

	// Options holds provider-specific synthesis settings. May be nil.
	Options map[string]string

	// Tenant identifies the calling agent/tenant for fairness rate limiting.
	Tenant string

	// CacheFingerprint is an optional caller-supplied settings fingerprint
	// folded into the cache key.
	CacheFingerprint string
}

// TTSResult is the outcome of a successful synthesis.
type TTSResult struct {
	// AudioRef is an opaque reference to the stored audio artifact
	// (object-storage key or URL). Set when the orchestrator persisted the
	// audio through its object store.
	AudioRef string `json:"audio_ref,omitempty"`

	// Audio holds the raw synthesised audio bytes.
	Audio []byte `json:"audio,omitempty"`

	// Format is the audio format actually produced.
	Format string `json:"format"`

	// Provider names the adapter that produced this result.
	Provider string `json:"provider"`

	// Duration is the end-to-end processing time for this request.
	Duration time.Duration `json:"duration"`

	// CacheHit reports whether the result was served from the cache.
	CacheHit bool `json:"cache_hit"`
}

// Capabilities describes what a provider adapter supports. Returned by
// [Adapter.Capabilities]; used by operational tooling, not by selection.
type Capabilities struct {
	// Category is the operation family this adapter serves.
	Category Category

	// Languages lists supported BCP-47 language tags. Empty means the
	// provider accepts any language (or auto-detects).
	Languages []string

	// Formats lists supported audio formats.
	Formats []string
}

// HealthStatus is the result of a lightweight provider probe.
type HealthStatus struct {
	// OK reports whether the provider answered the probe.
	OK bool

	// Latency is the probe round-trip time.
	Latency time.Duration

	// Detail optionally carries a human-readable failure description.
	Detail string
}
