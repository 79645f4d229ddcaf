package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"billingest/internal/services"
)

// HasLedgerEntry reports whether fileName already completed the pipeline.
func (s *Store) HasLedgerEntry(ctx context.Context, fileName string) (bool, error) {
	ctx = orBackground(ctx)
	var count int
	err := sqliteBusy.retry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM processed_files WHERE file_name = ?`, fileName,
		).Scan(&count)
	})
	if err != nil {
		return false, fmt.Errorf("ledger lookup %s: %w", fileName, err)
	}
	return count > 0, nil
}

// CommitLedgerEntry records entry as done and clears any known-bad marker
// and pending entry for the same file. When another caller already committed the file the
// insert is ignored and ErrAlreadyCommitted is returned.
func (s *Store) CommitLedgerEntry(ctx context.Context, entry LedgerEntry) error {
	ctx = orBackground(ctx)
	name := strings.TrimSpace(entry.FileName)
	if name == "" {
		return services.Wrap(services.ErrLedgerWrite, "ledger", "commit", "file name required", nil)
	}
	processedAt := entry.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	var inserted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO processed_files (file_name, checksum, row_count, periods, processed_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(file_name) DO NOTHING`,
			name, entry.Checksum, entry.RowCount, strings.Join(entry.Periods, ","),
			processedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = affected > 0
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_ledger WHERE file_name = ?`, name); err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM known_bad_files WHERE file_name = ?`, name)
		return err
	})
	if err != nil {
		return services.Wrap(services.ErrLedgerWrite, "ledger", "commit", name, err)
	}
	if !inserted {
		return ErrAlreadyCommitted
	}
	return nil
}

// StageLedgerEntry records entry as pending once its rows are stored and
// before the source is archived. A pending entry outlives a failed or
// interrupted commit so the file can be ledgered after its source is gone.
func (s *Store) StageLedgerEntry(ctx context.Context, entry LedgerEntry) error {
	name := strings.TrimSpace(entry.FileName)
	if name == "" {
		return services.Wrap(services.ErrLedgerWrite, "ledger", "stage", "file name required", nil)
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO pending_ledger (file_name, checksum, row_count, periods, staged_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(file_name) DO UPDATE SET
		     checksum = excluded.checksum,
		     row_count = excluded.row_count,
		     periods = excluded.periods,
		     staged_at = excluded.staged_at`,
		name, entry.Checksum, entry.RowCount, strings.Join(entry.Periods, ","), nowText(),
	)
	if err != nil {
		return services.Wrap(services.ErrLedgerWrite, "ledger", "stage", name, err)
	}
	return nil
}

// PendingLedgerEntries lists staged entries that were never committed,
// oldest first.
func (s *Store) PendingLedgerEntries(ctx context.Context) ([]LedgerEntry, error) {
	ctx = orBackground(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_name, checksum, row_count, periods
		 FROM pending_ledger ORDER BY staged_at, file_name`)
	if err != nil {
		return nil, fmt.Errorf("list pending ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var (
			entry   LedgerEntry
			periods string
		)
		if err := rows.Scan(&entry.FileName, &entry.Checksum, &entry.RowCount, &periods); err != nil {
			return nil, fmt.Errorf("scan pending ledger entry: %w", err)
		}
		if periods != "" {
			entry.Periods = strings.Split(periods, ",")
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListLedger returns every ledger entry, most recent first.
func (s *Store) ListLedger(ctx context.Context) ([]LedgerEntry, error) {
	ctx = orBackground(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_name, checksum, row_count, periods, processed_at
		 FROM processed_files ORDER BY processed_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var (
			entry       LedgerEntry
			periods     string
			processedAt string
		)
		if err := rows.Scan(&entry.FileName, &entry.Checksum, &entry.RowCount, &periods, &processedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if periods != "" {
			entry.Periods = strings.Split(periods, ",")
		}
		entry.ProcessedAt = parseTime(processedAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ForgetLedgerEntries removes the named ledger entries so the files are
// picked up again by the next scan. It returns how many entries existed.
func (s *Store) ForgetLedgerEntries(ctx context.Context, names ...string) (int64, error) {
	if len(names) == 0 {
		return 0, nil
	}
	placeholders, args := inClause(names)
	res, err := s.execWithRetry(ctx, `DELETE FROM processed_files WHERE file_name IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, services.Wrap(services.ErrLedgerWrite, "ledger", "forget", "", err)
	}
	return res.RowsAffected()
}

func inClause(values []string) (string, []any) {
	args := make([]any, len(values))
	marks := make([]string, len(values))
	for i, v := range values {
		args[i] = v
		marks[i] = "?"
	}
	return strings.Join(marks, ","), args
}
