package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"billingest/internal/columnar"
	"billingest/internal/services"
)

const (
	columnRowID      = "_row_id"
	columnSourceFile = "_source_file"
	columnIngestedAt = "_ingested_at"
)

var systemColumns = map[string]struct{}{
	columnRowID:      {},
	columnSourceFile: {},
	columnIngestedAt: {},
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isSystemColumn(name string) bool {
	_, ok := systemColumns[strings.ToLower(name)]
	return ok
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// Schema returns a copy of the current dataset schema.
func (s *Store) Schema() Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schemaCopyLocked()
}

func (s *Store) schemaCopyLocked() Schema {
	cols := make([]string, len(s.schema.Columns))
	copy(cols, s.schema.Columns)
	return Schema{Version: s.schema.Version, Columns: cols}
}

// loadSchema reads the column registry and reconciles it with the physical
// table, registering columns that exist in the table but not the registry.
func (s *Store) loadSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	registered, version, err := s.readRegistry(ctx)
	if err != nil {
		return err
	}
	physical, err := s.tableColumns(ctx, "dataset")
	if err != nil {
		return err
	}

	known := make(map[string]struct{}, len(registered))
	for _, col := range registered {
		known[strings.ToLower(col)] = struct{}{}
	}
	var orphans []string
	for _, col := range physical {
		if isSystemColumn(col) {
			continue
		}
		if _, ok := known[strings.ToLower(col)]; ok {
			continue
		}
		orphans = append(orphans, col)
	}
	if len(orphans) > 0 {
		version++
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			for i, col := range orphans {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO dataset_columns (name, position, added_version, added_at) VALUES (?, ?, ?, ?)`,
					col, len(registered)+i, version, nowText(),
				); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("register existing dataset columns: %w", err)
		}
		registered = append(registered, orphans...)
	}

	s.schema = Schema{Version: version, Columns: registered}
	s.index = make(map[string]string, len(registered))
	for _, col := range registered {
		s.index[strings.ToLower(col)] = col
	}
	return nil
}

func (s *Store) readRegistry(ctx context.Context) ([]string, int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, added_version FROM dataset_columns ORDER BY position, name`)
	if err != nil {
		return nil, 0, fmt.Errorf("read column registry: %w", err)
	}
	defer rows.Close()

	var (
		cols    []string
		version int
	)
	for rows.Next() {
		var (
			name  string
			added int
		)
		if err := rows.Scan(&name, &added); err != nil {
			return nil, 0, fmt.Errorf("scan column registry: %w", err)
		}
		cols = append(cols, name)
		if added > version {
			version = added
		}
	}
	return cols, version, rows.Err()
}

func (s *Store) tableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info %s: %w", table, err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// EnsureColumns adds every name that is not yet part of the schema. It is
// additive and idempotent: known names are ignored, and a column added
// concurrently by another process is accepted as already present. The
// returned schema reflects the state after the call.
func (s *Store) EnsureColumns(ctx context.Context, names []string) (Schema, error) {
	ctx = orBackground(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(names))
	var missing []string
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if isSystemColumn(trimmed) {
			return s.schemaCopyLocked(), services.Wrap(services.ErrConversion, "store", "ensure columns",
				fmt.Sprintf("column %q collides with a reserved column", trimmed), nil)
		}
		key := strings.ToLower(trimmed)
		if _, ok := s.index[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		missing = append(missing, trimmed)
	}
	if len(missing) == 0 {
		return s.schemaCopyLocked(), nil
	}

	version := s.schema.Version + 1
	base := len(s.schema.Columns)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, col := range missing {
			stmt := "ALTER TABLE dataset ADD COLUMN " + quoteIdent(col) + " TEXT"
			if _, err := tx.ExecContext(ctx, stmt); err != nil && !isDuplicateColumn(err) {
				return fmt.Errorf("add column %q: %w", col, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO dataset_columns (name, position, added_version, added_at) VALUES (?, ?, ?, ?)`,
				col, base+i, version, nowText(),
			); err != nil {
				return fmt.Errorf("register column %q: %w", col, err)
			}
		}
		return nil
	})
	if err != nil {
		return s.schemaCopyLocked(), services.Wrap(services.ErrStoreWrite, "store", "ensure columns", "", err)
	}

	s.schema.Version = version
	for _, col := range missing {
		s.schema.Columns = append(s.schema.Columns, col)
		s.index[strings.ToLower(col)] = col
	}
	return s.schemaCopyLocked(), nil
}

// AppendRows replaces every row previously written for sourceFile with
// records. Any record key outside the schema fails the call with an
// *UnknownColumnError before anything is written.
func (s *Store) AppendRows(ctx context.Context, sourceFile string, records []columnar.Record) (int64, error) {
	ctx = orBackground(ctx)
	sourceFile = strings.TrimSpace(sourceFile)
	if sourceFile == "" {
		return 0, services.Wrap(services.ErrStoreWrite, "store", "append rows", "source file name required", nil)
	}

	s.mu.RLock()
	canonical := make(map[string]string)
	var unknown []string
	for _, rec := range records {
		for key := range rec {
			if _, ok := canonical[key]; ok {
				continue
			}
			if col, ok := s.index[strings.ToLower(key)]; ok {
				canonical[key] = col
				continue
			}
			canonical[key] = ""
			unknown = append(unknown, key)
		}
	}
	order := make([]string, 0, len(s.schema.Columns))
	used := make(map[string]struct{}, len(canonical))
	for _, col := range canonical {
		if col != "" {
			used[col] = struct{}{}
		}
	}
	for _, col := range s.schema.Columns {
		if _, ok := used[col]; ok {
			order = append(order, col)
		}
	}
	s.mu.RUnlock()

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return 0, &UnknownColumnError{Columns: unknown}
	}

	insert := buildInsert(order)
	ingestedAt := nowText()

	var written int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		written = 0
		if _, err := tx.ExecContext(ctx, `DELETE FROM dataset WHERE _source_file = ?`, sourceFile); err != nil {
			return fmt.Errorf("clear previous rows: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		args := make([]any, len(order)+2)
		for _, rec := range records {
			args[0] = sourceFile
			args[1] = ingestedAt
			for i := range order {
				args[i+2] = nil
			}
			// Sorted keys make the winner deterministic when two keys fold
			// onto the same column.
			keys := make([]string, 0, len(rec))
			for key := range rec {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				col := canonical[key]
				for i, name := range order {
					if name == col {
						args[i+2] = rec[key]
						break
					}
				}
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert row: %w", err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, services.Wrap(services.ErrStoreWrite, "store", "append rows", sourceFile, err)
	}
	return written, nil
}

func buildInsert(columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO dataset (")
	b.WriteString(columnSourceFile)
	b.WriteString(", ")
	b.WriteString(columnIngestedAt)
	for _, col := range columns {
		b.WriteString(", ")
		b.WriteString(quoteIdent(col))
	}
	b.WriteString(") VALUES (?, ?")
	for range columns {
		b.WriteString(", ?")
	}
	b.WriteByte(')')
	return b.String()
}

// CountRows returns the number of dataset rows written for sourceFile, or
// for every file when sourceFile is empty.
func (s *Store) CountRows(ctx context.Context, sourceFile string) (int, error) {
	ctx = orBackground(ctx)
	var (
		count int
		err   error
	)
	if sourceFile == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM dataset`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM dataset WHERE _source_file = ?`, sourceFile).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count dataset rows: %w", err)
	}
	return count, nil
}

// Rows returns the stored records for sourceFile keyed by schema column.
// NULL values are omitted from each record.
func (s *Store) Rows(ctx context.Context, sourceFile string) ([]columnar.Record, error) {
	ctx = orBackground(ctx)
	schema := s.Schema()
	if len(schema.Columns) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		quoted[i] = quoteIdent(col)
	}
	query := "SELECT " + strings.Join(quoted, ", ") + " FROM dataset WHERE _source_file = ? ORDER BY _row_id"
	rows, err := s.db.QueryContext(ctx, query, sourceFile)
	if err != nil {
		return nil, fmt.Errorf("query dataset rows: %w", err)
	}
	defer rows.Close()

	var out []columnar.Record
	values := make([]sql.NullString, len(schema.Columns))
	dest := make([]any, len(schema.Columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}
		rec := make(columnar.Record, len(schema.Columns))
		for i, col := range schema.Columns {
			if values[i].Valid {
				rec[col] = values[i].String
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
