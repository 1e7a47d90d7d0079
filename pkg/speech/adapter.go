// Package speech defines the uniform adapter contract and data model shared
// by every speech provider integration.
//
// An [Adapter] wraps one external speech vendor (e.g., OpenAI, ElevenLabs,
// Deepgram) behind a category-agnostic interface: transcribe, synthesise,
// capabilities, and a lightweight health probe. The orchestration engine
// treats every adapter polymorphically — it never knows which vendor it is
// talking to.
//
// Failures must be reported as [*ProviderError] values so the engine can
// distinguish transient faults (retried, counted against the circuit
// breaker) from auth, validation, and quota failures (each with their own
// policy). Adapters are shared across concurrent requests and must be
// stateless or internally thread-safe.
package speech

import "context"

// Adapter is the abstraction over any speech vendor.
//
// An adapter serves exactly one [Category]; calls for the other category
// must fail with a validation-kind [*ProviderError]. Implementations must be
// safe for concurrent use — the registry hands out one shared instance per
// configured provider.
type Adapter interface {
	// Capabilities reports the adapter's category and supported languages
	// and formats. It must not perform network I/O.
	Capabilities() Capabilities

	// Transcribe converts audio to text. Implementations must respect ctx
	// cancellation and deadlines — the orchestrator bounds every attempt
	// with its own timeout.
	Transcribe(ctx context.Context, req STTRequest) (*STTResult, error)

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error)

	// Health probes the vendor with a cheap request (voice list, model
	// list, or a dedicated status endpoint). A non-nil error or OK=false
	// feeds the circuit breaker even without live traffic.
	Health(ctx context.Context) HealthStatus
}
