// Command parlance is the main entry point for the Parlance speech
// orchestration server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlancehq/parlance/internal/api"
	"github.com/parlancehq/parlance/internal/cache"
	"github.com/parlancehq/parlance/internal/config"
	"github.com/parlancehq/parlance/internal/health"
	"github.com/parlancehq/parlance/internal/metrics"
	"github.com/parlancehq/parlance/internal/observe"
	"github.com/parlancehq/parlance/internal/orchestrator"
	"github.com/parlancehq/parlance/internal/registry"
	"github.com/parlancehq/parlance/internal/resilience"
	"github.com/parlancehq/parlance/internal/storage"
	"github.com/parlancehq/parlance/pkg/speech"
	"github.com/parlancehq/parlance/pkg/speech/deepgram"
	"github.com/parlancehq/parlance/pkg/speech/elevenlabs"
	"github.com/parlancehq/parlance/pkg/speech/mock"
	"github.com/parlancehq/parlance/pkg/speech/openai"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "parlance.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("parlance", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parlance: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parlance: %v\n", err)
		}
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	slog.Info("parlance starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	otelMetrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := registry.New()
	registerAdapters(reg)
	if err := reg.Load(cfg.Descriptors()); err != nil {
		slog.Error("failed to load providers", "err", err)
		return 1
	}

	// ── Result cache ──────────────────────────────────────────────────────────
	var store cache.Store
	switch {
	case cfg.Cache.Disabled:
		slog.Info("result cache disabled")
	case cfg.Cache.Redis != nil:
		redisStore, err := cache.NewRedis(ctx, *cfg.Cache.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "err", err)
			return 1
		}
		defer redisStore.Close()
		store = redisStore
		slog.Info("result cache ready", "backend", "redis", "addr", cfg.Cache.Redis.Addr)
	default:
		store = cache.NewMemory(cfg.Cache.TTL)
		slog.Info("result cache ready", "backend", "memory")
	}

	// ── Metrics recorder ──────────────────────────────────────────────────────
	recorderOpts := []metrics.Option{}
	if cfg.Metrics.BufferSize > 0 {
		recorderOpts = append(recorderOpts, metrics.WithBufferSize(cfg.Metrics.BufferSize))
	}
	if dsn := cfg.Metrics.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pool.Close()

		sink := metrics.NewPostgresSink(pool)
		if err := sink.Migrate(ctx); err != nil {
			slog.Error("failed to migrate metrics schema", "err", err)
			return 1
		}
		recorderOpts = append(recorderOpts, metrics.WithSink(sink))
		slog.Info("metrics persistence ready", "backend", "postgres")
	}
	recorder := metrics.NewRecorder(otelMetrics, recorderOpts...)

	// ── Audio artifact store ──────────────────────────────────────────────────
	orchOpts := []orchestrator.Option{
		orchestrator.WithRecorder(recorder),
		orchestrator.WithObserve(otelMetrics),
	}
	if store != nil {
		orchOpts = append(orchOpts, orchestrator.WithCache(store))
	}
	if dir := cfg.Storage.AudioDir; dir != "" {
		fs, err := storage.NewFS(dir)
		if err != nil {
			slog.Error("failed to open audio store", "err", err)
			return 1
		}
		orchOpts = append(orchOpts, orchestrator.WithObjectStore(fs))
		slog.Info("audio artifact store ready", "dir", dir)
	}

	// ── Orchestrator ──────────────────────────────────────────────────────────
	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{
		FailureThreshold: cfg.Policy.FailureThreshold,
		CoolDown:         cfg.Policy.CoolDown,
	})
	limiters := resilience.NewLimiterSet(resilience.LimiterConfig{
		RPS:         cfg.Policy.RateLimit.RPS,
		Burst:       cfg.Policy.RateLimit.Burst,
		TenantRPS:   cfg.Policy.RateLimit.TenantRPS,
		TenantBurst: cfg.Policy.RateLimit.TenantBurst,
	})
	orch := orchestrator.New(reg, breakers, limiters, orchestrator.Policy{
		Retry: resilience.RetryPolicy{
			MaxRetries:   cfg.Policy.Retry.MaxRetries,
			InitialDelay: cfg.Policy.Retry.InitialDelay,
			MaxDelay:     cfg.Policy.Retry.MaxDelay,
			Multiplier:   cfg.Policy.Retry.Multiplier,
			Jitter:       true,
		},
		AttemptTimeout:    cfg.Policy.AttemptTimeout,
		CacheTTL:          cfg.Cache.TTL,
		CountAuthFailures: cfg.Policy.CountAuthFailures,
	}, orchOpts...)
	defer orch.Close()

	// ── Health monitor ────────────────────────────────────────────────────────
	monitor := health.NewMonitor(reg, breakers, cfg.Health.ProbeInterval)
	if cfg.Health.ProbeInterval >= 0 {
		monitor.Start()
		defer monitor.Stop()
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config) {
		if err := reg.Load(next.Descriptors()); err != nil {
			slog.Error("provider reload failed, keeping previous set", "err", err)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── HTTP server ───────────────────────────────────────────────────────────
	server := api.NewServer(orch, monitor, breakers, health.Checker{
		Name: "providers",
		Check: func(context.Context) error {
			if len(reg.All()) == 0 {
				return errors.New("no providers loaded")
			}
			return nil
		},
	})

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready", "addr", addr, "tls", cfg.Server.TLS != nil)
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerAdapters wires the built-in adapter constructors into reg. Each
// constructor reads its settings from the provider descriptor.
func registerAdapters(reg *registry.Registry) {
	reg.Register("openai", func(d registry.Descriptor) (speech.Adapter, error) {
		var opts []openai.Option
		if v := d.Settings["base_url"]; v != "" {
			opts = append(opts, openai.WithBaseURL(v))
		}
		if v := d.Settings["model"]; v != "" {
			if d.Category == speech.CategoryTTS {
				opts = append(opts, openai.WithTTSModel(v))
			} else {
				opts = append(opts, openai.WithSTTModel(v))
			}
		}
		if v := d.Settings["voice"]; v != "" {
			opts = append(opts, openai.WithDefaultVoice(v))
		}
		if v := d.Settings["timeout"]; v != "" {
			timeout, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("openai: parse timeout %q: %w", v, err)
			}
			opts = append(opts, openai.WithTimeout(timeout))
		}
		return openai.New(d.Settings["api_key"], d.Category, opts...)
	})

	reg.Register("deepgram", func(d registry.Descriptor) (speech.Adapter, error) {
		var opts []deepgram.Option
		if v := d.Settings["model"]; v != "" {
			opts = append(opts, deepgram.WithModel(v))
		}
		if v := d.Settings["language"]; v != "" {
			opts = append(opts, deepgram.WithLanguage(v))
		}
		if v := d.Settings["base_url"]; v != "" {
			opts = append(opts, deepgram.WithBaseURL(v))
		}
		return deepgram.New(d.Settings["api_key"], opts...)
	})

	reg.Register("elevenlabs", func(d registry.Descriptor) (speech.Adapter, error) {
		var opts []elevenlabs.Option
		if v := d.Settings["model"]; v != "" {
			opts = append(opts, elevenlabs.WithModel(v))
		}
		if v := d.Settings["voice"]; v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		if v := d.Settings["base_url"]; v != "" {
			opts = append(opts, elevenlabs.WithBaseURL(v))
		}
		return elevenlabs.New(d.Settings["api_key"], opts...)
	})

	// mock is a scriptable in-process adapter for local smoke testing.
	reg.Register("mock", func(d registry.Descriptor) (speech.Adapter, error) {
		a := &mock.Adapter{Cat: d.Category}
		if v := d.Settings["delay"]; v != "" {
			delay, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("mock: parse delay %q: %w", v, err)
			}
			a.Delay = delay
		}
		if v := d.Settings["text"]; v != "" {
			a.STT = &speech.STTResult{Text: v, Confidence: 1}
		}
		return a, nil
	})
}
