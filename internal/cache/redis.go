package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for a [Redis] store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr"`

	// Password authenticates against the server. Empty means no auth.
	Password string `yaml:"password"`

	// DB selects the logical Redis database.
	DB int `yaml:"db"`

	// DefaultTTL applies when Set is called with ttl <= 0. Default: 1h.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// PoolSize bounds the connection pool. Zero uses the client default.
	PoolSize int `yaml:"pool_size"`
}

// Redis is a [Store] backed by a Redis server. Expiry is delegated entirely
// to Redis TTLs; the engine never invalidates actively.
type Redis struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// Compile-time interface assertion.
var _ Store = (*Redis)(nil)

// NewRedis connects to the configured server and verifies the connection
// with a ping before returning.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: connect to redis %q: %w", cfg.Addr, err)
	}
	return &Redis{client: client, defaultTTL: cfg.DefaultTTL}, nil
}

// Get implements [Store]. A missing key is a miss, not an error.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %q: %w", key, err)
	}
	return val, true, nil
}

// Set implements [Store].
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
