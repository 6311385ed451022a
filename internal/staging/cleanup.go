package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"restorebench/internal/logging"
)

// CleanStaleResult contains the outcome of a stale directory cleanup operation.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes staging and trash directories left in parent by an
// interrupted run. Callers must hold the run lock.
func CleanStale(ctx context.Context, parent string, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	parent = strings.TrimSpace(parent)
	if parent == "" {
		return result
	}

	entries, err := os.ReadDir(parent)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: parent, Error: err})
		}
		return result
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.IsDir() || !isScratch(entry.Name()) {
			continue
		}
		dirPath := filepath.Join(parent, entry.Name())
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			if logger != nil {
				logging.WarnWithContext(logger, "failed to remove stale staging directory", "staging_cleanup_failed",
					logging.String("path", dirPath),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check results_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		if logger != nil {
			logger.Info("removed stale staging directory",
				logging.String("path", dirPath),
				logging.String(logging.FieldEventType, "staging_cleanup"),
			)
		}
	}

	return result
}

func isScratch(name string) bool {
	return strings.HasPrefix(name, ".") && (strings.Contains(name, stagingMarker) || strings.Contains(name, trashMarker))
}
