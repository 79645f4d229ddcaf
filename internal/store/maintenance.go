package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var expectedTables = []string{"schema_version", "processed_files", "pending_ledger", "known_bad_files", "dataset_columns", "dataset"}

// Stats returns table sizes for status output.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = orBackground(ctx)
	var stats Stats
	queries := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(1) FROM processed_files`, &stats.LedgerEntries},
		{`SELECT COUNT(1) FROM known_bad_files`, &stats.KnownBad},
		{`SELECT COUNT(1) FROM dataset`, &stats.DatasetRows},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return Stats{}, fmt.Errorf("store stats: %w", err)
		}
	}
	schema := s.Schema()
	stats.Columns = len(schema.Columns)
	stats.SchemaVersion = schema.Version
	return stats, nil
}

// CheckHealth returns diagnostic information about the database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	ctx = orBackground(ctx)
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.DatabaseReadable = true

	for _, table := range expectedTables {
		var name string
		row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
		switch err := row.Scan(&name); {
		case errors.Is(err, sql.ErrNoRows):
			health.MissingTables = append(health.MissingTables, table)
		case err != nil:
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		default:
			health.TablesPresent = append(health.TablesPresent, table)
		}
	}

	if len(health.MissingTables) == 0 {
		if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("read schema version: %w", err)
		}
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM dataset").Scan(&health.DatasetRows); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count dataset rows: %w", err)
		}
		cols, err := s.tableColumns(connCtx, "dataset")
		if err != nil {
			health.Error = err.Error()
			return health, err
		}
		for _, col := range cols {
			if !isSystemColumn(col) {
				health.DatasetColumns++
			}
		}
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
