package store

import (
	"context"
	"fmt"
	"strings"

	"billingest/internal/services"
)

const maxKnownBadMessage = 2000

// MarkKnownBad records a permanent failure for fileName. Repeated marks
// bump the attempt counter and refresh the error details.
func (s *Store) MarkKnownBad(ctx context.Context, fileName string, kind services.Kind, message string) error {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return services.Wrap(services.ErrLedgerWrite, "known-bad", "mark", "file name required", nil)
	}
	if len(message) > maxKnownBadMessage {
		message = message[:maxKnownBadMessage]
	}
	now := nowText()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO known_bad_files (file_name, error_kind, error_message, attempts, first_failed_at, last_failed_at)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT(file_name) DO UPDATE SET
		     error_kind = excluded.error_kind,
		     error_message = excluded.error_message,
		     attempts = known_bad_files.attempts + 1,
		     last_failed_at = excluded.last_failed_at`,
		fileName, string(kind), message, now, now,
	)
	if err != nil {
		return services.Wrap(services.ErrLedgerWrite, "known-bad", "mark", fileName, err)
	}
	return nil
}

// IsKnownBad reports whether fileName carries a known-bad marker.
func (s *Store) IsKnownBad(ctx context.Context, fileName string) (bool, error) {
	ctx = orBackground(ctx)
	var count int
	err := sqliteBusy.retry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM known_bad_files WHERE file_name = ?`, fileName,
		).Scan(&count)
	})
	if err != nil {
		return false, fmt.Errorf("known-bad lookup %s: %w", fileName, err)
	}
	return count > 0, nil
}

// ListKnownBad returns every known-bad marker ordered by file name.
func (s *Store) ListKnownBad(ctx context.Context) ([]KnownBadFile, error) {
	ctx = orBackground(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_name, error_kind, error_message, attempts, first_failed_at, last_failed_at
		 FROM known_bad_files ORDER BY file_name`)
	if err != nil {
		return nil, fmt.Errorf("list known-bad: %w", err)
	}
	defer rows.Close()

	var out []KnownBadFile
	for rows.Next() {
		var (
			item        KnownBadFile
			first, last string
		)
		if err := rows.Scan(&item.FileName, &item.ErrorKind, &item.ErrorMessage, &item.Attempts, &first, &last); err != nil {
			return nil, fmt.Errorf("scan known-bad: %w", err)
		}
		item.FirstFailedAt = parseTime(first)
		item.LastFailedAt = parseTime(last)
		out = append(out, item)
	}
	return out, rows.Err()
}

// ClearKnownBad removes the markers for names, or every marker when names
// is empty. It returns the number of markers removed.
func (s *Store) ClearKnownBad(ctx context.Context, names ...string) (int64, error) {
	query := `DELETE FROM known_bad_files`
	var args []any
	if len(names) > 0 {
		var placeholders string
		placeholders, args = inClause(names)
		query += ` WHERE file_name IN (` + placeholders + `)`
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, services.Wrap(services.ErrLedgerWrite, "known-bad", "clear", "", err)
	}
	return res.RowsAffected()
}
