package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/parlancehq/parlance/internal/registry"
)

// KnownAdapters lists the adapter names shipped with the engine. Used by
// [Validate] to warn about likely typos; unknown names are not an error so
// that externally registered adapters keep working.
var KnownAdapters = []string{"openai", "elevenlabs", "deepgram", "mock"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Policy.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("policy.failure_threshold %d must not be negative", cfg.Policy.FailureThreshold))
	}
	if cfg.Policy.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("policy.retry.max_retries %d must not be negative", cfg.Policy.Retry.MaxRetries))
	}
	if m := cfg.Policy.Retry.Multiplier; m != 0 && m < 1.0 {
		errs = append(errs, fmt.Errorf("policy.retry.multiplier %.2f must be >= 1.0", m))
	}
	if cfg.Policy.RateLimit.RPS < 0 || cfg.Policy.RateLimit.TenantRPS < 0 {
		errs = append(errs, errors.New("policy.rate_limit rates must not be negative"))
	}

	if cfg.Cache.Redis != nil && cfg.Cache.Redis.Addr == "" {
		errs = append(errs, errors.New("cache.redis.addr is required when cache.redis is set"))
	}

	seen := make(map[string]int, len(cfg.Providers))
	haveEnabled := map[string]bool{}
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers[%d]", prefix, p.Name, prev))
			}
			seen[p.Name] = i
		}
		if !p.Category.IsValid() {
			errs = append(errs, fmt.Errorf("%s.category %q is invalid; valid values: stt, tts", prefix, p.Category))
			continue
		}
		if p.IsEnabled() {
			haveEnabled[string(p.Category)] = true
		}

		adapter := p.Adapter
		if adapter == "" {
			adapter = p.Name
		}
		if !slices.Contains(KnownAdapters, adapter) {
			slog.Warn("unknown adapter name — may be a typo or an externally registered adapter",
				"provider", p.Name,
				"adapter", adapter,
				"known", KnownAdapters,
			)
		}
	}

	if len(cfg.Providers) > 0 && !haveEnabled["stt"] && !haveEnabled["tts"] {
		slog.Warn("no provider is enabled; every request will fail as exhausted")
	}

	return errors.Join(errs...)
}

// Descriptors converts the provider list into registry descriptors, in file
// order so equal priorities keep their configured position.
func (c *Config) Descriptors() []registry.Descriptor {
	out := make([]registry.Descriptor, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, registry.Descriptor{
			Name:     p.Name,
			Category: p.Category,
			Adapter:  p.Adapter,
			Priority: p.Priority,
			Enabled:  p.IsEnabled(),
			Settings: p.Settings,
		})
	}
	return out
}

// SlogLevel maps the configured level to a slog.Level. Unset defaults to
// info.
func (c *Config) SlogLevel() slog.Level {
	switch c.Server.LogLevel {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
