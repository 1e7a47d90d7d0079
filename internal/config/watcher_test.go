package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const watcherV1 = "server:\n  listen_addr: \":8080\"\n"
const watcherV2 = "server:\n  listen_addr: \":9090\"\n"

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// Nudge mtime so the watcher's quick check sees a change even on
	// filesystems with coarse timestamps.
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parlance.yaml")
	writeConfig(t, path, watcherV1)

	w, err := NewWatcher(path, nil, WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.ListenAddr; got != ":8080" {
		t.Fatalf("listen_addr = %q, want :8080", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parlance.yaml")
	writeConfig(t, path, "server:\n  log_level: loud\n")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parlance.yaml")
	writeConfig(t, path, watcherV1)

	var (
		mu      sync.Mutex
		oldAddr string
		newAddr string
	)
	onChange := func(old, new *Config) {
		mu.Lock()
		oldAddr = old.Server.ListenAddr
		newAddr = new.Server.ListenAddr
		mu.Unlock()
	}

	w, err := NewWatcher(path, onChange, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, watcherV2)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := newAddr == ":9090"
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if oldAddr != ":8080" || newAddr != ":9090" {
		t.Fatalf("onChange saw %q -> %q, want :8080 -> :9090", oldAddr, newAddr)
	}
	if got := w.Current().Server.ListenAddr; got != ":9090" {
		t.Fatalf("Current() = %q, want :9090", got)
	}
}

func TestWatcher_KeepsPreviousOnInvalidUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parlance.yaml")
	writeConfig(t, path, watcherV1)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, "server:\n  log_level: loud\n")
	time.Sleep(100 * time.Millisecond)

	if got := w.Current().Server.ListenAddr; got != ":8080" {
		t.Fatalf("Current() = %q, want previous config retained", got)
	}
}
