package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process TTL [Store]. Expired entries are dropped lazily on
// read and swept opportunistically on write, which is enough for the small
// working sets of tests and single-node deployments.
type Memory struct {
	defaultTTL time.Duration

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Compile-time interface assertion.
var _ Store = (*Memory)(nil)

// NewMemory creates an in-memory store. defaultTTL applies when Set is
// called with ttl <= 0; a zero defaultTTL falls back to one hour.
func NewMemory(defaultTTL time.Duration) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Memory{
		defaultTTL: defaultTTL,
		entries:    make(map[string]memoryEntry),
	}
}

// Get implements [Store].
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have renewed it.
		if cur, ok := m.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set implements [Store].
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.entries[key] = memoryEntry{value: stored, expiresAt: now.Add(ttl)}

	// Opportunistic sweep keeps the map from growing without bound.
	if len(m.entries) > 1 && len(m.entries)%1024 == 0 {
		for k, e := range m.entries {
			if now.After(e.expiresAt) {
				delete(m.entries, k)
			}
		}
	}
	return nil
}

// Len returns the number of entries currently held, including not-yet-swept
// expired ones. Intended for tests.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
