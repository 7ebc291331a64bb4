package workspace_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"redub/internal/services"
	"redub/internal/workspace"
)

func TestAcquireIsExclusiveAndReleaseRemoves(t *testing.T) {
	root := t.TempDir()
	m := workspace.NewManager(root, 0, nil)

	ws, err := m.Acquire(context.Background(), "demo-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if ws.Path("source.mp4") != filepath.Join(root, "demo-1", "source.mp4") {
		t.Fatalf("unexpected path %s", ws.Path("source.mp4"))
	}
	if err := os.WriteFile(ws.Path("source.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Acquire(context.Background(), "demo-1"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected second acquire to fail, got %v", err)
	}

	if err := ws.Release(true); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatal("workspace dir should be removed")
	}

	again, err := m.Acquire(context.Background(), "demo-1")
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	_ = again.Release(true)
}

func TestReleaseKeepsDirectoryWhenAsked(t *testing.T) {
	m := workspace.NewManager(t.TempDir(), 0, nil)
	ws, err := m.Acquire(context.Background(), "keep-me")
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.Release(false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(ws.Dir); err != nil {
		t.Fatalf("expected directory to survive: %v", err)
	}
}

func TestAcquireRejectsBadIDs(t *testing.T) {
	m := workspace.NewManager(t.TempDir(), 0, nil)
	for _, id := range []string{"", "..", "a/b"} {
		if _, err := m.Acquire(context.Background(), id); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Acquire(%q): expected validation error, got %v", id, err)
		}
	}
}

func TestAcquireChecksFreeSpace(t *testing.T) {
	m := workspace.NewManager(t.TempDir(), 2, nil)
	m.SetStatfs(func(string) (uint64, error) { return 1 << 30, nil })
	if _, err := m.Acquire(context.Background(), "job"); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected insufficient space error, got %v", err)
	}
	m.SetStatfs(func(string) (uint64, error) { return 5 << 30, nil })
	ws, err := m.Acquire(context.Background(), "job")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	_ = ws.Release(true)
}

func TestCleanStaleSkipsHeldWorkspaces(t *testing.T) {
	root := t.TempDir()
	m := workspace.NewManager(root, 0, nil)

	held, err := m.Acquire(context.Background(), "held")
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release(true)
	stale := filepath.Join(root, "crashed")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	for _, dir := range []string{stale, held.Dir} {
		if err := os.Chtimes(dir, old, old); err != nil {
			t.Fatal(err)
		}
	}

	result := m.CleanStale(context.Background(), 24*time.Hour)
	if len(result.Removed) != 1 || result.Removed[0] != stale {
		t.Fatalf("unexpected removals %v (errors %v)", result.Removed, result.Errors)
	}
	if _, err := os.Stat(held.Dir); err != nil {
		t.Fatalf("held workspace removed: %v", err)
	}
}
