// Package storage abstracts the binary object store that holds generated
// audio artifacts. The engine only needs Put: it stores the bytes and gets
// back an opaque reference to embed in the operation result.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// ObjectStore persists binary artifacts and returns opaque references. The
// production store is an external service; implementations here exist for
// local deployments and tests.
type ObjectStore interface {
	// Put stores data and returns a reference (URL or key) the caller can
	// hand to clients. The reference format is implementation-defined and
	// treated as opaque by the engine.
	Put(ctx context.Context, data []byte, contentType string) (string, error)
}

// extensions maps MIME content types to file extensions for the filesystem
// store.
var extensions = map[string]string{
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/ogg":  ".ogg",
	"audio/opus": ".opus",
	"audio/flac": ".flac",
	"audio/pcm":  ".pcm",
}

// FS is a content-addressed filesystem [ObjectStore]. Identical payloads map
// to identical paths, so repeated synthesis of the same text is free.
type FS struct {
	root string
}

// Compile-time interface assertion.
var _ ObjectStore = (*FS)(nil)

// NewFS creates the root directory if needed and returns a filesystem store.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root %q: %w", root, err)
	}
	return &FS{root: root}, nil
}

// Put implements [ObjectStore]. The reference is the file path relative to
// the store root.
func (f *FS) Put(_ context.Context, data []byte, contentType string) (string, error) {
	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:])

	ext := extensions[contentType]
	if ext == "" {
		ext = ".bin"
	}

	// Two-level fan-out keeps directories small.
	rel := filepath.Join(name[:2], name+ext)
	path := filepath.Join(f.root, rel)

	if _, err := os.Stat(path); err == nil {
		// Content-addressed: the artifact already exists.
		return rel, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}

	// Write to a temp file and rename so readers never see partial content.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("storage: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	return rel, nil
}
