package resilience

import (
	"testing"
)

func TestLimiterSet_Disabled(t *testing.T) {
	s := NewLimiterSet(LimiterConfig{})
	for i := 0; i < 100; i++ {
		if !s.Acquire("any", "tenant") {
			t.Fatal("disabled limiter must always admit")
		}
	}
}

func TestLimiterSet_RejectsWhenBucketEmpty(t *testing.T) {
	// 1 rps with burst 2: the first two calls drain the bucket.
	s := NewLimiterSet(LimiterConfig{RPS: 1, Burst: 2})

	if !s.Acquire("openai", "") {
		t.Fatal("first acquire should succeed")
	}
	if !s.Acquire("openai", "") {
		t.Fatal("second acquire should succeed (burst)")
	}
	if s.Acquire("openai", "") {
		t.Fatal("third acquire should be rejected, not queued")
	}
}

func TestLimiterSet_ProvidersAreIndependent(t *testing.T) {
	s := NewLimiterSet(LimiterConfig{RPS: 1, Burst: 1})

	if !s.Acquire("openai", "") {
		t.Fatal("openai acquire should succeed")
	}
	if s.Acquire("openai", "") {
		t.Fatal("openai bucket should be empty")
	}
	if !s.Acquire("elevenlabs", "") {
		t.Fatal("elevenlabs has its own bucket")
	}
}

func TestLimiterSet_TenantFairness(t *testing.T) {
	s := NewLimiterSet(LimiterConfig{RPS: 100, Burst: 100, TenantRPS: 1, TenantBurst: 1})

	if !s.Acquire("openai", "alice") {
		t.Fatal("alice's first acquire should succeed")
	}
	if s.Acquire("openai", "alice") {
		t.Fatal("alice's tenant bucket should be empty")
	}
	// Bob shares the provider bucket but has his own tenant bucket.
	if !s.Acquire("openai", "bob") {
		t.Fatal("bob should not be starved by alice")
	}
}

func TestBurst_Defaults(t *testing.T) {
	tests := []struct {
		configured int
		rps        float64
		want       int
	}{
		{5, 10, 5},
		{0, 10, 10},
		{0, 2.5, 3},
		{0, 0.1, 1},
	}
	for _, tt := range tests {
		if got := burst(tt.configured, tt.rps); got != tt.want {
			t.Errorf("burst(%d, %v) = %d, want %d", tt.configured, tt.rps, got, tt.want)
		}
	}
}
