package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFSPut(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	ref, err := fs.Put(context.Background(), []byte("mp3-bytes"), "audio/mpeg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasSuffix(ref, ".mp3") {
		t.Fatalf("ref = %q, want .mp3 extension", ref)
	}
	if filepath.Dir(ref) != filepath.Base(ref)[:2] {
		t.Fatalf("ref = %q, want two-level fan-out", ref)
	}

	data, err := os.ReadFile(filepath.Join(fs.root, ref))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "mp3-bytes" {
		t.Fatalf("content = %q", data)
	}
}

func TestFSPut_ContentAddressed(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	ref1, err := fs.Put(context.Background(), []byte("same"), "audio/wav")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	ref2, err := fs.Put(context.Background(), []byte("same"), "audio/wav")
	if err != nil {
		t.Fatalf("Put again: %v", err)
	}
	if ref1 != ref2 {
		t.Fatalf("refs differ: %q vs %q", ref1, ref2)
	}

	ref3, err := fs.Put(context.Background(), []byte("different"), "audio/wav")
	if err != nil {
		t.Fatalf("Put different: %v", err)
	}
	if ref3 == ref1 {
		t.Fatal("different payloads mapped to the same ref")
	}
}

func TestFSPut_UnknownContentType(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	ref, err := fs.Put(context.Background(), []byte("blob"), "application/x-mystery")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasSuffix(ref, ".bin") {
		t.Fatalf("ref = %q, want .bin fallback", ref)
	}
}
