package resilience

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimiterConfig bounds the outbound request rate towards one provider, plus
// an optional per-tenant share so one noisy tenant cannot starve the others.
type LimiterConfig struct {
	// RPS is the sustained requests-per-second budget per provider.
	// Zero or negative disables provider-level limiting.
	RPS float64

	// Burst is the token-bucket burst size. Defaults to max(1, ceil(RPS)).
	Burst int

	// TenantRPS is the per-tenant share of a provider's budget. Zero
	// disables tenant-level limiting.
	TenantRPS float64

	// TenantBurst is the per-tenant burst size. Defaults like Burst.
	TenantBurst int
}

// LimiterSet maintains non-blocking token buckets per provider and,
// optionally, per (provider, tenant) pair. Acquire never blocks: a request
// that finds the bucket empty is rejected immediately and the orchestrator
// skips the provider for that request.
//
// Safe for concurrent use.
type LimiterSet struct {
	cfg LimiterConfig

	mu       sync.Mutex
	provider map[string]*rate.Limiter
	tenant   map[string]*rate.Limiter
}

// NewLimiterSet creates an empty set with the given config.
func NewLimiterSet(cfg LimiterConfig) *LimiterSet {
	return &LimiterSet{
		cfg:      cfg,
		provider: make(map[string]*rate.Limiter),
		tenant:   make(map[string]*rate.Limiter),
	}
}

// Acquire attempts to take one token for a call to provider on behalf of
// tenant (empty tenant skips the tenant bucket). It returns false without
// blocking when either bucket is empty; no token is consumed in that case.
func (s *LimiterSet) Acquire(provider, tenant string) bool {
	pl, tl := s.limiters(provider, tenant)

	// Reserve on the tenant bucket first so a provider-level rejection does
	// not burn the tenant's tokens.
	if tl != nil {
		if !tl.Allow() {
			return false
		}
	}
	if pl != nil && !pl.Allow() {
		return false
	}
	return true
}

// limiters returns the provider and tenant buckets, creating them lazily.
func (s *LimiterSet) limiters(provider, tenant string) (*rate.Limiter, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pl, tl *rate.Limiter
	if s.cfg.RPS > 0 {
		var ok bool
		pl, ok = s.provider[provider]
		if !ok {
			pl = rate.NewLimiter(rate.Limit(s.cfg.RPS), burst(s.cfg.Burst, s.cfg.RPS))
			s.provider[provider] = pl
		}
	}
	if s.cfg.TenantRPS > 0 && tenant != "" {
		key := provider + "|" + tenant
		var ok bool
		tl, ok = s.tenant[key]
		if !ok {
			tl = rate.NewLimiter(rate.Limit(s.cfg.TenantRPS), burst(s.cfg.TenantBurst, s.cfg.TenantRPS))
			s.tenant[key] = tl
		}
	}
	return pl, tl
}

// burst picks the configured burst, falling back to the ceiling of rps with
// a minimum of one token.
func burst(configured int, rps float64) int {
	if configured > 0 {
		return configured
	}
	b := int(rps)
	if float64(b) < rps {
		b++
	}
	if b < 1 {
		b = 1
	}
	return b
}
