// Package dataset maintains the monthly columnar datasets in the output
// directory, one YYYY-MM.parquet file per billing period.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"billingest/internal/columnar"
	"billingest/internal/normalize"
	"billingest/internal/services"
)

// SourceColumn tags each dataset row with the input file that produced it.
const SourceColumn = "_source_file"

// GroupByPeriod splits records by the value of column. A record with a
// missing or malformed period fails the whole batch.
func GroupByPeriod(records []columnar.Record, column string) (map[string][]columnar.Record, error) {
	groups := make(map[string][]columnar.Record)
	for i, rec := range records {
		period, ok := rec[column]
		if !ok || !normalize.ValidPeriod(period) {
			return nil, services.Wrap(services.ErrConversion, "dataset", "group",
				fmt.Sprintf("record %d has invalid %s %q", i+1, column, period), nil)
		}
		groups[period] = append(groups[period], rec)
	}
	return groups, nil
}

// SortedPeriods returns the keys of groups in ascending order.
func SortedPeriods(groups map[string][]columnar.Record) []string {
	periods := make([]string, 0, len(groups))
	for p := range groups {
		periods = append(periods, p)
	}
	sort.Strings(periods)
	return periods
}

// Writer merges rows into period files. Appends to the same period are
// serialized; different periods proceed in parallel.
type Writer struct {
	dir         string
	compression string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWriter returns a Writer rooted at dir.
func NewWriter(dir, compression string) *Writer {
	return &Writer{dir: dir, compression: compression, locks: make(map[string]*sync.Mutex)}
}

// Path returns the file backing period.
func (w *Writer) Path(period string) string {
	return filepath.Join(w.dir, period+".parquet")
}

func (w *Writer) lock(period string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[period]
	if !ok {
		l = &sync.Mutex{}
		w.locks[period] = l
	}
	return l
}

// Append replaces the rows sourceFile previously contributed to period with
// records. Rows from other sources are kept, and the column set is the
// union of the existing file's columns followed by any new ones.
func (w *Writer) Append(ctx context.Context, period, sourceFile string, records []columnar.Record) (int, error) {
	if !normalize.ValidPeriod(period) {
		return 0, services.Wrap(services.ErrConversion, "dataset", "append", fmt.Sprintf("invalid period %q", period), nil)
	}
	l := w.lock(period)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path := w.Path(period)
	existing, err := columnar.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, services.Wrap(services.ErrStoreWrite, "dataset", "read", filepath.Base(path), err)
	}

	kept := existing.Records[:0]
	for _, rec := range existing.Records {
		if rec[SourceColumn] != sourceFile {
			kept = append(kept, rec)
		}
	}

	var incomingCols []string
	seen := make(map[string]struct{})
	for _, rec := range records {
		for col := range rec {
			if _, ok := seen[col]; ok {
				continue
			}
			seen[col] = struct{}{}
			incomingCols = append(incomingCols, col)
		}
	}
	sort.Strings(incomingCols)

	base := existing.Columns
	if len(base) == 0 {
		base = []string{SourceColumn}
	}
	merged := columnar.Table{
		Columns: columnar.UnionColumns(base, incomingCols),
		Records: kept,
	}
	for _, rec := range records {
		row := rec.Clone()
		row[SourceColumn] = sourceFile
		merged.Records = append(merged.Records, row)
	}

	if err := columnar.WriteFile(path, merged, columnar.Options{Compression: w.compression}); err != nil {
		return 0, services.Wrap(services.ErrStoreWrite, "dataset", "write", filepath.Base(path), err)
	}
	return len(records), nil
}

// Periods lists the periods that have a dataset file, ascending.
func (w *Writer) Periods() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var periods []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		period := strings.TrimSuffix(name, ".parquet")
		if normalize.ValidPeriod(period) {
			periods = append(periods, period)
		}
	}
	sort.Strings(periods)
	return periods, nil
}
