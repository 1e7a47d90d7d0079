// Package metrics records one sample per provider attempt and aggregates
// them on read for operational dashboards.
//
// Record is fire-and-forget: samples go into a buffered channel drained by a
// background goroutine, so the request path never waits on the backing
// store. Aggregates (success rate, average latency, volume) are computed at
// query time over an in-memory day window; an optional [Sink] persists the
// stream for longer retention.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parlancehq/parlance/internal/observe"
)

// Sample is one record per provider attempt — a request that falls back
// through three providers yields up to three samples. Append-only; never
// mutated after Record.
type Sample struct {
	// Time is when the attempt completed.
	Time time.Time

	// Provider names the adapter that was attempted.
	Provider string

	// Operation is "stt" or "tts".
	Operation string

	// Success reports whether the attempt produced a result.
	Success bool

	// Latency is the attempt duration, including in-attempt retries.
	Latency time.Duration

	// PayloadBytes is the input payload size.
	PayloadBytes int

	// CacheHit marks samples recorded for cache-served requests.
	CacheHit bool
}

// Sink persists batches of samples. Implementations must tolerate being
// called from a single background goroutine.
type Sink interface {
	Write(ctx context.Context, samples []Sample) error
}

// Stats is the read-side aggregate over one provider (or all providers) for
// the trailing 24 hours.
type Stats struct {
	Provider    string        `json:"provider,omitempty"`
	Volume      int           `json:"volume"`
	Successes   int           `json:"successes"`
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
	CacheHits   int           `json:"cache_hits"`
}

// window is how long samples stay queryable in memory.
const window = 24 * time.Hour

// flushInterval bounds how stale the sink can be.
const flushInterval = 5 * time.Second

// Recorder buffers samples off the request path and serves daily aggregates.
// Safe for concurrent use.
type Recorder struct {
	otel *observe.Metrics
	sink Sink

	buf  chan Sample
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.RWMutex
	samples []Sample
	dropped int
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithSink attaches a persistence sink. Without one, samples live only in
// the in-memory window.
func WithSink(s Sink) Option {
	return func(r *Recorder) { r.sink = s }
}

// WithBufferSize overrides the channel capacity (default 1024).
func WithBufferSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.buf = make(chan Sample, n)
		}
	}
}

// NewRecorder creates a Recorder and starts its drain goroutine. Call
// [Recorder.Close] to flush and stop it.
func NewRecorder(m *observe.Metrics, opts ...Option) *Recorder {
	r := &Recorder{
		otel: m,
		buf:  make(chan Sample, 1024),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Record enqueues a sample without blocking. When the buffer is full the
// sample is dropped and counted; losing a metric is preferable to adding
// latency to the request path. OTel instruments are updated inline — they
// are lock-free counters.
func (r *Recorder) Record(ctx context.Context, s Sample) {
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	if r.otel != nil && !s.CacheHit {
		errKind := ""
		if !s.Success {
			errKind = "transient"
		}
		r.otel.RecordAttempt(ctx, s.Provider, s.Operation, s.Latency.Seconds(), s.Success, errKind)
	}

	select {
	case r.buf <- s:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

// drain moves samples from the buffer into the in-memory window as they
// arrive and flushes batches to the sink periodically.
func (r *Recorder) drain() {
	defer r.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var batch []Sample
	flushSink := func() {
		if r.sink == nil || len(batch) == 0 {
			batch = nil
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.sink.Write(ctx, batch); err != nil {
			slog.Warn("metrics sink write failed", "samples", len(batch), "err", err)
		}
		cancel()
		batch = nil
	}

	ingest := func(s Sample) {
		r.mu.Lock()
		r.samples = append(r.samples, s)
		r.prune(time.Now())
		r.mu.Unlock()
		batch = append(batch, s)
	}

	for {
		select {
		case s := <-r.buf:
			ingest(s)
			if len(batch) >= 256 {
				flushSink()
			}
		case <-ticker.C:
			flushSink()
		case <-r.done:
			// Drain whatever is still buffered, then flush once.
			for {
				select {
				case s := <-r.buf:
					ingest(s)
				default:
					flushSink()
					return
				}
			}
		}
	}
}

// prune drops samples older than the window. Must be called with r.mu held.
func (r *Recorder) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(r.samples); i++ {
		if r.samples[i].Time.After(cutoff) {
			break
		}
	}
	if i > 0 {
		r.samples = append([]Sample(nil), r.samples[i:]...)
	}
}

// DailyStats aggregates the trailing 24 hours. An empty provider aggregates
// across all providers.
func (r *Recorder) DailyStats(provider string) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{Provider: provider}
	var totalLatency time.Duration
	cutoff := time.Now().Add(-window)

	for _, s := range r.samples {
		if s.Time.Before(cutoff) {
			continue
		}
		if provider != "" && s.Provider != provider {
			continue
		}
		st.Volume++
		if s.Success {
			st.Successes++
		}
		if s.CacheHit {
			st.CacheHits++
		}
		totalLatency += s.Latency
	}

	if st.Volume > 0 {
		st.SuccessRate = float64(st.Successes) / float64(st.Volume)
		st.AvgLatency = totalLatency / time.Duration(st.Volume)
	}
	return st
}

// Dropped returns how many samples were discarded due to a full buffer.
func (r *Recorder) Dropped() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Close stops the drain goroutine after flushing buffered samples.
func (r *Recorder) Close() error {
	close(r.done)
	r.wg.Wait()
	return nil
}
