package storage_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"redub/internal/services"
	"redub/internal/storage"
)

func TestOutputKey(t *testing.T) {
	tests := []struct {
		prefix, job, lang, want string
	}{
		{"dubbed_videos", "demo-1a2b3c4d", "es", "dubbed_videos/demo-1a2b3c4d_es.mp4"},
		{"/nested/out/", "j", "FR", "nested/out/j_fr.mp4"},
		{"", "j", "de", "j_de.mp4"},
	}
	for _, tt := range tests {
		if got := storage.OutputKey(tt.prefix, tt.job, tt.lang); got != tt.want {
			t.Fatalf("OutputKey(%q, %q, %q) = %q, want %q", tt.prefix, tt.job, tt.lang, got, tt.want)
		}
	}
}

func TestPathRejectsEscapingKeys(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "/etc/passwd", "../x", "a/../../x", "..", `a\b`} {
		if _, err := store.Path(key); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Path(%q): expected validation error, got %v", key, err)
		}
	}
	if _, err := store.Path("uploads/a/../b.mp4"); err != nil {
		t.Fatalf("expected in-root key to resolve: %v", err)
	}
}

func TestPutReplacesAndHashes(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "dubbed.mp4")
	if err := os.WriteFile(src, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	key := storage.OutputKey("dubbed_videos", "job", "es")
	if _, err := store.Put(context.Background(), key, src); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := os.WriteFile(src, []byte("second run"), 0o644); err != nil {
		t.Fatal(err)
	}
	obj, err := store.Put(context.Background(), key, src)
	if err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	if obj.Size != int64(len("second run")) || len(obj.SHA256) != 64 {
		t.Fatalf("unexpected object %+v", obj)
	}
	f, err := store.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf := make([]byte, 32)
	n, _ := f.Read(buf)
	if string(buf[:n]) != "second run" {
		t.Fatalf("unexpected content %q", buf[:n])
	}

	entries, _ := os.ReadDir(filepath.Join(store.Root(), "dubbed_videos"))
	if len(entries) != 1 {
		t.Fatalf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestStatMissing(t *testing.T) {
	store, _ := storage.NewStore(t.TempDir())
	if _, err := store.Stat("uploads/missing.mp4"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFetchSources(t *testing.T) {
	store, _ := storage.NewStore(t.TempDir())
	uploaded := filepath.Join(store.Root(), "uploads", "clip.mp4")
	if err := os.MkdirAll(filepath.Dir(uploaded), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(uploaded, []byte("from-store"), 0o644); err != nil {
		t.Fatal(err)
	}
	local := filepath.Join(t.TempDir(), "local.mp4")
	if err := os.WriteFile(local, []byte("from-disk"), 0o644); err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp4" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("from-http"))
	}))
	defer server.Close()

	fetcher := storage.NewFetcher(store, time.Second, nil)
	dest := filepath.Join(t.TempDir(), "work", "source.mp4")
	tests := []struct {
		source string
		want   string
	}{
		{"uploads/clip.mp4", "from-store"},
		{local, "from-disk"},
		{"file://" + local, "from-disk"},
		{server.URL + "/video.mp4?sig=abc", "from-http"},
	}
	for _, tt := range tests {
		if _, err := fetcher.Fetch(context.Background(), tt.source, dest); err != nil {
			t.Fatalf("Fetch(%q) failed: %v", tt.source, err)
		}
		got, _ := os.ReadFile(dest)
		if string(got) != tt.want {
			t.Fatalf("Fetch(%q) wrote %q, want %q", tt.source, got, tt.want)
		}
	}

	if _, err := fetcher.Fetch(context.Background(), server.URL+"/missing.mp4", dest); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for 404, got %v", err)
	}
	if _, err := fetcher.Fetch(context.Background(), "uploads/none.mp4", dest); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing key, got %v", err)
	}
}
