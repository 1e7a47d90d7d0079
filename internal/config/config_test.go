package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/parlancehq/parlance/pkg/speech"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
cache:
  redis:
    addr: "localhost:6379"
    db: 2
  ttl: 30m
metrics:
  postgres_dsn: "postgres://localhost:5432/parlance"
storage:
  audio_dir: "/var/lib/parlance/audio"
policy:
  failure_threshold: 5
  cool_down: 45s
  attempt_timeout: 20s
  retry:
    max_retries: 1
    initial_delay: 500ms
  rate_limit:
    rps: 10
    tenant_rps: 2
health:
  probe_interval: 15s
providers:
  - name: openai-primary
    category: stt
    adapter: openai
    priority: 0
    settings:
      api_key: sk-test
      model: whisper-1
  - name: deepgram-backup
    category: stt
    adapter: deepgram
    priority: 1
    enabled: false
    settings:
      api_key: dg-test
  - name: elevenlabs
    category: tts
    settings:
      api_key: el-test
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != LogDebug {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Cache.Redis == nil || cfg.Cache.Redis.Addr != "localhost:6379" || cfg.Cache.Redis.DB != 2 {
		t.Fatalf("cache.redis = %+v", cfg.Cache.Redis)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Fatalf("cache.ttl = %v, want 30m", cfg.Cache.TTL)
	}
	if cfg.Policy.FailureThreshold != 5 || cfg.Policy.CoolDown != 45*time.Second {
		t.Fatalf("policy = %+v", cfg.Policy)
	}
	if cfg.Policy.RateLimit.RPS != 10 || cfg.Policy.RateLimit.TenantRPS != 2 {
		t.Fatalf("rate_limit = %+v", cfg.Policy.RateLimit)
	}
	if len(cfg.Providers) != 3 {
		t.Fatalf("providers = %d, want 3", len(cfg.Providers))
	}
	if !cfg.Providers[0].IsEnabled() {
		t.Fatal("enabled must default to true")
	}
	if cfg.Providers[1].IsEnabled() {
		t.Fatal("explicit enabled: false must stick")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  listen_adr: \":8080\"\n"))
	if err == nil {
		t.Fatal("expected error for misspelled field")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\n",
			wantSub: "server.log_level",
		},
		{
			name:    "incomplete tls",
			yaml:    "server:\n  tls:\n    cert_file: /tmp/cert.pem\n",
			wantSub: "server.tls",
		},
		{
			name:    "missing provider name",
			yaml:    "providers:\n  - category: stt\n",
			wantSub: "providers[0].name is required",
		},
		{
			name:    "duplicate provider name",
			yaml:    "providers:\n  - name: a\n    category: stt\n  - name: a\n    category: tts\n",
			wantSub: "duplicate",
		},
		{
			name:    "bad category",
			yaml:    "providers:\n  - name: a\n    category: video\n",
			wantSub: "category",
		},
		{
			name:    "negative retries",
			yaml:    "policy:\n  retry:\n    max_retries: -1\n",
			wantSub: "max_retries",
		},
		{
			name:    "bad multiplier",
			yaml:    "policy:\n  retry:\n    multiplier: 0.5\n",
			wantSub: "multiplier",
		},
		{
			name:    "redis without addr",
			yaml:    "cache:\n  redis:\n    db: 1\n",
			wantSub: "cache.redis.addr",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	yaml := "server:\n  log_level: loud\nproviders:\n  - category: stt\n"
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"server.log_level", "providers[0].name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q is missing %q", err, want)
		}
	}
}

func TestDescriptors(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	descs := cfg.Descriptors()
	if len(descs) != 3 {
		t.Fatalf("descriptors = %d, want 3", len(descs))
	}
	d := descs[0]
	if d.Name != "openai-primary" || d.Category != speech.CategorySTT || d.Adapter != "openai" || !d.Enabled {
		t.Fatalf("descriptor[0] = %+v", d)
	}
	if d.Settings["api_key"] != "sk-test" {
		t.Fatalf("settings = %+v", d.Settings)
	}
	if descs[1].Enabled {
		t.Fatal("descriptor[1] must be disabled")
	}
	// Adapter defaults to the name inside the registry, not here.
	if descs[2].Adapter != "" || descs[2].Name != "elevenlabs" {
		t.Fatalf("descriptor[2] = %+v", descs[2])
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  slog.Level
	}{
		{LogDebug, slog.LevelDebug},
		{LogInfo, slog.LevelInfo},
		{LogWarn, slog.LevelWarn},
		{LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{Server: ServerConfig{LogLevel: tt.level}}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
