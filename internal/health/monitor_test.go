package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parlancehq/parlance/internal/registry"
	"github.com/parlancehq/parlance/internal/resilience"
	"github.com/parlancehq/parlance/pkg/speech"
	"github.com/parlancehq/parlance/pkg/speech/mock"
)

func loadedRegistry(t *testing.T, adapters map[string]*mock.Adapter) *registry.Registry {
	t.Helper()
	reg := registry.New()
	var descs []registry.Descriptor
	for name, a := range adapters {
		reg.Register(name, func(registry.Descriptor) (speech.Adapter, error) { return a, nil })
		descs = append(descs, registry.Descriptor{
			Name: name, Category: speech.CategorySTT, Adapter: name, Enabled: true,
		})
	}
	if err := reg.Load(descs); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return reg
}

func TestMonitor_FailingProbeOpensBreaker(t *testing.T) {
	bad := &mock.Adapter{
		Cat:          speech.CategorySTT,
		HealthResult: speech.HealthStatus{OK: false, Detail: "503"},
	}
	reg := loadedRegistry(t, map[string]*mock.Adapter{"bad": bad})
	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{FailureThreshold: 2, CoolDown: time.Hour})

	m := NewMonitor(reg, breakers, time.Hour)
	m.probeAll(context.Background())
	m.probeAll(context.Background())

	// Two failed probes reached the threshold — the breaker is open with no
	// live traffic at all.
	if got := breakers.Get("bad").State(); got != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open after failing probes", got)
	}
}

func TestMonitor_SuccessfulProbeDoesNotCloseOpenBreaker(t *testing.T) {
	good := &mock.Adapter{Cat: speech.CategorySTT}
	reg := loadedRegistry(t, map[string]*mock.Adapter{"good": good})
	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{FailureThreshold: 1, CoolDown: time.Hour})

	breakers.Get("good").ReportFailure() // open it via live traffic

	m := NewMonitor(reg, breakers, time.Hour)
	m.probeAll(context.Background())

	// The open breaker must wait for its cool-down; background probes only
	// refresh closed breakers.
	if got := breakers.Get("good").State(); got != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open (probe must not close early)", got)
	}
}

func TestMonitor_PeriodicLoop(t *testing.T) {
	bad := &mock.Adapter{
		Cat:          speech.CategorySTT,
		HealthResult: speech.HealthStatus{OK: false, Detail: "down"},
	}
	reg := loadedRegistry(t, map[string]*mock.Adapter{"bad": bad})
	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{FailureThreshold: 100, CoolDown: time.Hour})

	m := NewMonitor(reg, breakers, 10*time.Millisecond)
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bad.HealthCalls() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("probe loop ran %d times, want >= 2", bad.HealthCalls())
}

func TestMonitor_Check(t *testing.T) {
	good := &mock.Adapter{Cat: speech.CategorySTT}
	bad := &mock.Adapter{
		Cat:          speech.CategorySTT,
		HealthResult: speech.HealthStatus{OK: false, Detail: "timeout"},
	}
	reg := loadedRegistry(t, map[string]*mock.Adapter{"good": good, "bad": bad})
	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{})

	m := NewMonitor(reg, breakers, time.Hour)

	all := m.Check(context.Background(), "")
	if len(all) != 2 {
		t.Fatalf("Check(\"\") returned %d entries, want 2", len(all))
	}
	if !all["good"].Probe.OK || all["bad"].Probe.OK {
		t.Fatalf("probe results wrong: %+v", all)
	}

	one := m.Check(context.Background(), "good")
	if len(one) != 1 {
		t.Fatalf("Check(good) returned %d entries, want 1", len(one))
	}
	if none := m.Check(context.Background(), "ghost"); len(none) != 0 {
		t.Fatalf("Check(ghost) returned %d entries, want 0", len(none))
	}
}

func TestHandler_Healthz(t *testing.T) {
	h := NewHandler()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandler_Readyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantBody   string
	}{
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "cache", Check: func(context.Context) error { return nil }},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "cache", Check: func(context.Context) error { return nil }},
				{Name: "providers", Check: func(context.Context) error { return errors.New("all open") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.checkers...)
			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal body: %v", err)
			}
			if body.Status != tt.wantBody {
				t.Fatalf("body status = %q, want %q", body.Status, tt.wantBody)
			}
		})
	}
}
