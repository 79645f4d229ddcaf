package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"billingest/internal/logging"
)

// CleanResult contains the outcome of an intermediate cleanup pass.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a file path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

func isIntermediate(name string) bool {
	return strings.HasSuffix(name, ".parquet") || strings.HasSuffix(name, ".tmp")
}

// CleanStale removes intermediate files older than maxAge. Files whose
// source name appears in active are kept regardless of age.
func CleanStale(ctx context.Context, intermediateDir string, maxAge time.Duration, active map[string]struct{}, logger *slog.Logger) CleanResult {
	cutoff := time.Now().Add(-maxAge)
	return clean(ctx, intermediateDir, logger, "stale", func(name string, info os.FileInfo) bool {
		if _, busy := active[SourceName(name)]; busy {
			return false
		}
		return info.ModTime().Before(cutoff)
	})
}

// CleanOrphaned removes every intermediate whose source is not in active.
// At daemon start nothing is in flight, so every leftover is an orphan of
// an interrupted run.
func CleanOrphaned(ctx context.Context, intermediateDir string, active map[string]struct{}, logger *slog.Logger) CleanResult {
	return clean(ctx, intermediateDir, logger, "orphaned", func(name string, _ os.FileInfo) bool {
		_, busy := active[SourceName(name)]
		return !busy
	})
}

func clean(ctx context.Context, dir string, logger *slog.Logger, reason string, remove func(string, os.FileInfo) bool) CleanResult {
	result := CleanResult{}

	dir = strings.TrimSpace(dir)
	if dir == "" {
		return result
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
		}
		return result
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if entry.IsDir() || !isIntermediate(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			continue
		}
		if !remove(entry.Name(), info) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			logging.WarnWithContext(logger, "failed to remove intermediate file", "intermediate_cleanup_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.Hint("check intermediate_dir permissions"),
				logging.Impact("disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, path)
		if logger != nil {
			logger.Info("removed "+reason+" intermediate file",
				logging.String("path", path),
				logging.Duration("age", time.Since(info.ModTime()).Round(time.Second)),
				logging.Event("intermediate_cleanup"),
			)
		}
	}

	return result
}

// SourceName maps an intermediate file name back to the input file name.
func SourceName(intermediate string) string {
	name := filepath.Base(intermediate)
	if strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp") {
		// .<name>.parquet.<random>.tmp written by an atomic replace
		name = strings.TrimPrefix(name, ".")
		if idx := strings.Index(name, ".parquet."); idx >= 0 {
			name = name[:idx+len(".parquet")]
		}
	}
	return strings.TrimSuffix(name, ".parquet")
}

// FileInfo describes an intermediate file.
type FileInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// ListFiles returns the intermediate files currently on disk.
func ListFiles(intermediateDir string) ([]FileInfo, error) {
	intermediateDir = strings.TrimSpace(intermediateDir)
	if intermediateDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(intermediateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !isIntermediate(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(intermediateDir, entry.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return files, nil
}
