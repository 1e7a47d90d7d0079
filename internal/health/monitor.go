// Package health probes provider availability independent of request
// traffic and exposes HTTP health endpoints.
//
// The [Monitor] periodically invokes each adapter's lightweight health probe
// and feeds failures into the circuit breaker, so a dead vendor is excluded
// from selection before the first live request pays for the discovery.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parlancehq/parlance/internal/registry"
	"github.com/parlancehq/parlance/internal/resilience"
	"github.com/parlancehq/parlance/pkg/speech"
)

// probeTimeout bounds a single provider health probe.
const probeTimeout = 10 * time.Second

// probeConcurrency bounds how many providers are probed in parallel.
const probeConcurrency = 4

// ProviderStatus combines a probe result with the breaker's view of the
// provider.
type ProviderStatus struct {
	// Probe is the most recent health probe outcome.
	Probe speech.HealthStatus `json:"probe"`

	// Breaker is the circuit breaker snapshot.
	Breaker resilience.ProviderHealth `json:"breaker"`
}

// Monitor owns the background probe loop. Safe for concurrent use.
type Monitor struct {
	reg      *registry.Registry
	breakers *resilience.BreakerSet
	interval time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMonitor creates a Monitor probing every loaded provider (enabled or
// not) each interval. An interval <= 0 defaults to 30s.
func NewMonitor(reg *registry.Registry, breakers *resilience.BreakerSet, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		reg:      reg,
		breakers: breakers,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the probe loop in a background goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.interval)
				m.probeAll(ctx)
				cancel()
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to exit. Safe to call more
// than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

// probeAll probes every loaded provider with bounded parallelism and feeds
// the outcomes into the breakers.
func (m *Monitor) probeAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)

	for _, c := range m.reg.All() {
		g.Go(func() error {
			m.probe(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
}

// probe runs one health probe and reports the result to the breaker. A
// successful probe never closes an open breaker early — live-traffic
// half-open probes own that transition; it only refreshes latency and
// failure bookkeeping for closed breakers.
func (m *Monitor) probe(ctx context.Context, c registry.Candidate) {
	name := c.Descriptor.Name
	cb := m.breakers.Get(name)

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	status := c.Adapter.Health(probeCtx)
	cancel()

	if status.OK {
		if cb.State() == resilience.StateClosed {
			cb.ReportSuccess(status.Latency)
		}
		return
	}

	slog.Warn("health probe failed",
		"provider", name,
		"detail", status.Detail)
	cb.ReportFailure()
}

// Check probes the named provider on demand, or every provider when name is
// empty, and returns the status map keyed by provider name.
func (m *Monitor) Check(ctx context.Context, name string) map[string]ProviderStatus {
	out := make(map[string]ProviderStatus)

	candidates := m.reg.All()
	if name != "" {
		c, ok := m.reg.Lookup(name)
		if !ok {
			return out
		}
		candidates = []registry.Candidate{c}
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for _, c := range candidates {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			status := c.Adapter.Health(probeCtx)
			cancel()

			mu.Lock()
			out[c.Descriptor.Name] = ProviderStatus{
				Probe:   status,
				Breaker: m.breakers.Get(c.Descriptor.Name).Health(),
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
