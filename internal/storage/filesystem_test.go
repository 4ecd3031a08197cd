package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestFileStoreSaveReturnsPublicURL(t *testing.T) {
	store := newTestFileStore(t)

	ref, err := store.Save(context.Background(), "requests/req-1", "logo.png", pngPayload(4), "image/png")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := "http://localhost:8080/static/requests/req-1/logo.png"
	if ref != want {
		t.Fatalf("reference = %q, want %q", ref, want)
	}

	onDisk := filepath.Join(store.BasePath(), "requests", "req-1", "logo.png")
	data, err := os.ReadFile(onDisk)
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if len(data) != len(pngSig)+4 {
		t.Fatalf("wrote %d bytes, want %d", len(data), len(pngSig)+4)
	}
}

func TestFileStoreSaveRejectsTraversal(t *testing.T) {
	store := newTestFileStore(t)

	if _, err := store.Save(context.Background(), "../outside", "x.png", pngSig, "image/png"); err == nil {
		t.Fatal("expected error for traversal scope")
	}
}

func TestFileStoreCleanupRemovesScope(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "sessions/s1", "a.png", pngSig, "image/png"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Save(ctx, "sessions/s2", "b.png", pngSig, "image/png"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	store.Cleanup(ctx, "sessions/s1")

	if _, err := os.Stat(filepath.Join(store.BasePath(), "sessions", "s1")); !os.IsNotExist(err) {
		t.Fatalf("scope s1 still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.BasePath(), "sessions", "s2", "b.png")); err != nil {
		t.Fatalf("unrelated scope touched: %v", err)
	}
}
