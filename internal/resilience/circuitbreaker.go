// Package resilience provides the failure-policy primitives of the
// orchestration engine: a per-provider circuit breaker, a transient-error
// retry helper, and non-blocking per-provider rate limiters.
//
// The breaker exposes a split Allow/Report API instead of wrapping the
// outbound call, so no lock is ever held across network I/O and a cancelled
// call can be reported as neither success nor failure.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Allow] while the breaker is
// open and the cool-down has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state — all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive
	// failures. Calls are rejected until the cool-down elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the cool-down. A single
	// call is allowed through; its outcome decides closed vs. re-opened.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// HealthState is the coarse provider status derived from breaker state,
// surfaced through health endpoints and operational tooling.
type HealthState string

const (
	// HealthActive means the provider is fully available.
	HealthActive HealthState = "active"

	// HealthDegraded means the provider has recent failures (or is being
	// probed) but is still eligible for selection.
	HealthDegraded HealthState = "degraded"

	// HealthOpen means the provider is excluded from selection until the
	// cool-down elapses.
	HealthOpen HealthState = "open"
)

// ProviderHealth is a point-in-time snapshot of one provider's runtime
// state. It is owned exclusively by the breaker; every other component reads
// copies.
type ProviderHealth struct {
	// Status is the coarse availability state.
	Status HealthState

	// ConsecutiveFailures counts breaker-countable failures since the last
	// success.
	ConsecutiveFailures int

	// LastFailure is the time of the most recent failure; zero when the
	// provider has never failed.
	LastFailure time.Time

	// OpenedUntil is when an open breaker becomes eligible for a half-open
	// probe; zero unless Status is open.
	OpenedUntil time.Time

	// LastLatency is the duration of the most recent successful call or
	// health probe.
	LastLatency time.Duration
}

// BreakerConfig holds tuning knobs for a [CircuitBreaker].
type BreakerConfig struct {
	// Name is the provider name, used in log messages.
	Name string

	// FailureThreshold is the number of consecutive failures in the closed
	// state before the breaker opens. Default: 3.
	FailureThreshold int

	// CoolDown is how long the breaker stays open before allowing a
	// half-open probe. Default: 60s.
	CoolDown time.Duration
}

// CircuitBreaker implements the three-state circuit breaker pattern with an
// Allow/Report API. The caller asks Allow before the outbound call and
// reports the outcome afterwards; the breaker never holds its lock across
// the call itself.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	coolDown         time.Duration

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	openedUntil   time.Time
	lastLatency   time.Duration
	probeInFlight bool
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied
// configuration. Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 60 * time.Second
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		coolDown:         cfg.CoolDown,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// [ErrCircuitOpen] until the cool-down elapses, at which point the breaker
// transitions to half-open and admits exactly one probe call. Every
// successful Allow must be balanced by exactly one ReportSuccess,
// ReportFailure, or ReportCancelled.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Now().Before(cb.openedUntil) {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probeInFlight = false
		slog.Info("circuit breaker transitioning to half-open", "provider", cb.name)
		fallthrough

	case StateHalfOpen:
		if cb.probeInFlight {
			// Only one probe at a time; concurrent callers stay rejected.
			return ErrCircuitOpen
		}
		cb.probeInFlight = true
	}
	return nil
}

// ReportSuccess commits a successful call. In half-open it closes the
// breaker and resets the failure count.
func (cb *CircuitBreaker) ReportSuccess(latency time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastLatency = latency
	if cb.state == StateHalfOpen {
		slog.Info("circuit breaker closed after successful probe", "provider", cb.name)
	}
	cb.state = StateClosed
	cb.failures = 0
	cb.probeInFlight = false
}

// ReportFailure commits one breaker-countable failure. A half-open probe
// failure re-opens immediately; in the closed state the breaker opens once
// the consecutive-failure threshold is reached.
func (cb *CircuitBreaker) ReportFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.lastFailure = now

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.openedUntil = now.Add(cb.coolDown)
		cb.failures = cb.failureThreshold
		cb.probeInFlight = false
		slog.Warn("circuit breaker re-opened from half-open", "provider", cb.name)
		return
	}

	cb.failures++
	if cb.failures >= cb.failureThreshold {
		cb.state = StateOpen
		cb.openedUntil = now.Add(cb.coolDown)
		slog.Warn("circuit breaker opened",
			"provider", cb.name,
			"consecutive_failures", cb.failures)
	}
}

// ReportCancelled releases an Allow slot without counting the call as either
// success or failure. Used when the caller's context was cancelled mid-call.
func (cb *CircuitBreaker) ReportCancelled() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probeInFlight = false
}

// State returns the current [State] of the breaker. An open breaker whose
// cool-down has elapsed reports half-open; the actual transition happens on
// the next Allow.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && !time.Now().Before(cb.openedUntil) {
		return StateHalfOpen
	}
	return cb.state
}

// Health returns a snapshot of the provider's runtime state.
func (cb *CircuitBreaker) Health() ProviderHealth {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	h := ProviderHealth{
		ConsecutiveFailures: cb.failures,
		LastFailure:         cb.lastFailure,
		LastLatency:         cb.lastLatency,
	}
	switch {
	case cb.state == StateOpen && time.Now().Before(cb.openedUntil):
		h.Status = HealthOpen
		h.OpenedUntil = cb.openedUntil
	case cb.state == StateOpen || cb.state == StateHalfOpen:
		h.Status = HealthDegraded
	case cb.failures > 0:
		h.Status = HealthDegraded
	default:
		h.Status = HealthActive
	}
	return h
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// failure counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probeInFlight = false
	slog.Info("circuit breaker manually reset", "provider", cb.name)
}

// BreakerSet lazily maintains one [CircuitBreaker] per provider name, all
// sharing the same configuration. Safe for concurrent use.
type BreakerSet struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates an empty set. cfg.Name is ignored; each breaker is
// named after its provider.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for provider, creating it on first use.
func (s *BreakerSet) Get(provider string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[provider]
	if !ok {
		cfg := s.cfg
		cfg.Name = provider
		cb = NewCircuitBreaker(cfg)
		s.breakers[provider] = cb
	}
	return cb
}

// Snapshot returns the health of every known provider, keyed by name.
func (s *BreakerSet) Snapshot() map[string]ProviderHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ProviderHealth, len(s.breakers))
	for name, cb := range s.breakers {
		out[name] = cb.Health()
	}
	return out
}
