// Package cache memoizes operation results in a TTL key-value store.
//
// The engine treats the store as a best-effort collaborator: a failed read
// degrades to a miss and a failed write is logged and dropped, so the cache
// can never fail a request. Two implementations are provided — [Memory] for
// tests and single-process deployments, and [Redis] backed by
// github.com/redis/go-redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Store is the TTL key-value contract the orchestrator writes results into.
// Implementations must be safe for concurrent use; no transactional or
// locking guarantees are assumed.
type Store interface {
	// Get returns the cached value for key and whether it was present.
	// Expired or missing entries return (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl. A ttl <= 0 uses the store default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Key derives the cache key for one operation: a hash over the operation
// kind, a content hash of the input payload, and a normalized settings
// fingerprint. Identical requests map to identical keys regardless of map
// iteration order or language-tag casing.
func Key(kind string, content []byte, fingerprint string) string {
	contentSum := sha256.Sum256(content)

	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(contentSum[:])
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	return kind + ":" + hex.EncodeToString(h.Sum(nil))
}

// Fingerprint canonicalizes the settings that affect a result: the language
// tag (lowercased, empty treated as "auto"), the format, and any extra
// options sorted by key. Callers that supply their own fingerprint bypass
// this derivation.
func Fingerprint(language, format string, options map[string]string, extra ...string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		lang = "auto"
	}

	parts := make([]string, 0, len(options)+len(extra)+2)
	parts = append(parts, "lang="+lang, "format="+strings.ToLower(format))
	parts = append(parts, extra...)

	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+options[k])
	}
	return strings.Join(parts, ";")
}
