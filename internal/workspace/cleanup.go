package workspace

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"celigo/internal/logging"
)

// CleanStaleResult contains the outcome of a stale workspace sweep.
type CleanStaleResult struct {
	Removed []string
	Skipped []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes workspaces this package created that have not been
// modified for maxAge and are not locked by a live run.
func (m *Manager) CleanStale(ctx context.Context, maxAge time.Duration, now time.Time) CleanStaleResult {
	result := CleanStaleResult{}
	entries, err := os.ReadDir(m.opts.Root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: m.opts.Root, Error: err})
		}
		return result
	}

	cutoff := now.Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() || entry.Name() == lockDirName {
			continue
		}
		dirPath := filepath.Join(m.opts.Root, entry.Name())
		if _, err := os.Stat(filepath.Join(dirPath, OwnerMarker)); err != nil {
			result.Skipped = append(result.Skipped, dirPath)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		lock := flock.New(filepath.Join(m.opts.Root, lockDirName, entry.Name()+".lock"))
		locked, err := lock.TryLock()
		if err != nil || !locked {
			result.Skipped = append(result.Skipped, dirPath)
			continue
		}
		err = os.RemoveAll(dirPath)
		_ = lock.Unlock()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			logging.WarnWithContext(m.logger, "failed to remove stale workspace", "workspace_cleanup_failed",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check workspace_root permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		m.logger.Info("removed stale workspace",
			logging.String("path", dirPath),
			logging.Duration("age", now.Sub(info.ModTime())),
			logging.String(logging.FieldEventType, "workspace_cleanup"),
		)
	}
	return result
}
