// Package workspace manages the per-job working area: an exclusive
// directory under work_dir holding the fetched source, reference clip,
// synthesis pieces and intermediate videos of one run.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"redub/internal/logging"
	"redub/internal/services"
)

const gib = 1 << 30

// Manager hands out workspaces under one root.
type Manager struct {
	root    string
	minFree uint64
	statfs  func(path string) (uint64, error)
	logger  *slog.Logger
}

// NewManager constructs a Manager. minFreeGiB of zero disables the disk check.
func NewManager(root string, minFreeGiB int, logger *slog.Logger) *Manager {
	var minFree uint64
	if minFreeGiB > 0 {
		minFree = uint64(minFreeGiB) * gib
	}
	return &Manager{
		root:    root,
		minFree: minFree,
		statfs:  availableBytes,
		logger:  logging.NewComponentLogger(logger, "workspace"),
	}
}

// Workspace is one job's exclusive directory.
type Workspace struct {
	JobID string
	Dir   string
	lock  *flock.Flock
}

// Acquire creates (or reuses) the job's directory and locks it. A second
// concurrent Acquire for the same job fails.
func (m *Manager) Acquire(ctx context.Context, jobID string) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return nil, services.Wrap(services.ErrValidation, "prepare", "workspace", fmt.Sprintf("invalid job id %q", jobID), nil)
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if err := m.checkFreeSpace(); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(m.root, jobID+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("workspace lock: %w", err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrValidation, "prepare", "workspace", "workspace for "+jobID+" is held by another run", nil)
	}

	dir := filepath.Join(m.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("workspace dir: %w", err)
	}
	return &Workspace{JobID: jobID, Dir: dir, lock: lock}, nil
}

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Release unlocks the workspace, removing its directory first when remove is set.
func (w *Workspace) Release(remove bool) error {
	var firstErr error
	if remove {
		if err := os.RemoveAll(w.Dir); err != nil {
			firstErr = fmt.Errorf("remove workspace: %w", err)
		}
	}
	if err := w.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("unlock workspace: %w", err)
	}
	if remove {
		_ = os.Remove(w.lock.Path())
	}
	return firstErr
}

func (m *Manager) checkFreeSpace() error {
	if m.minFree == 0 {
		return nil
	}
	avail, err := m.statfs(m.root)
	if err != nil {
		return fmt.Errorf("workspace statfs: %w", err)
	}
	if avail < m.minFree {
		return services.Wrap(services.ErrTransient, "prepare", "workspace",
			fmt.Sprintf("insufficient disk space: %.1f GiB free, %.1f GiB required", float64(avail)/gib, float64(m.minFree)/gib), nil)
	}
	return nil
}

func availableBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// CleanStaleResult contains the outcome of a stale workspace sweep.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes workspaces older than maxAge that no run holds, such as
// those left behind by a crashed process or keep_workspace debugging.
func (m *Manager) CleanStale(ctx context.Context, maxAge time.Duration) CleanStaleResult {
	result := CleanStaleResult{}
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: m.root, Error: err})
		}
		return result
	}
	logger := logging.WithContext(ctx, m.logger)
	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirPath := filepath.Join(m.root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		lock := flock.New(dirPath + ".lock")
		locked, err := lock.TryLock()
		if err != nil || !locked {
			continue
		}
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			logging.WarnWithContext(logger, "failed to remove stale workspace", "workspace_cleanup_failed",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check work_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
		} else {
			result.Removed = append(result.Removed, dirPath)
			logger.Info("removed stale workspace",
				logging.String("path", dirPath),
				logging.Duration("age", time.Since(info.ModTime())),
				logging.String(logging.FieldEventType, "workspace_cleanup"),
			)
		}
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}
	return result
}
