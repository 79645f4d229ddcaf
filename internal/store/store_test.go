package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"billingest/internal/columnar"
	"billingest/internal/services"
	"billingest/internal/store"
	"billingest/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	health, err := st.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("unexpected health %+v", health)
	}
	if len(health.MissingTables) != 0 {
		t.Fatalf("missing tables: %v", health.MissingTables)
	}
	if filepath.Base(health.DBPath) != "processed_files.db" {
		t.Fatalf("unexpected db path %q", health.DBPath)
	}
}

func TestEnsureColumnsIsAdditiveAndIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	schema, err := st.EnsureColumns(ctx, []string{"date", "cost"})
	if err != nil {
		t.Fatalf("EnsureColumns: %v", err)
	}
	if schema.Version != 1 || len(schema.Columns) != 2 {
		t.Fatalf("unexpected schema %+v", schema)
	}

	schema, err = st.EnsureColumns(ctx, []string{"cost", "date"})
	if err != nil {
		t.Fatalf("EnsureColumns repeat: %v", err)
	}
	if schema.Version != 1 {
		t.Fatalf("version bumped on no-op call: %+v", schema)
	}

	schema, err = st.EnsureColumns(ctx, []string{"date", "region", "Cost"})
	if err != nil {
		t.Fatalf("EnsureColumns extend: %v", err)
	}
	want := []string{"date", "cost", "region"}
	if schema.Version != 2 || len(schema.Columns) != len(want) {
		t.Fatalf("unexpected schema %+v", schema)
	}
	for i := range want {
		if schema.Columns[i] != want[i] {
			t.Fatalf("columns = %v, want %v", schema.Columns, want)
		}
	}
}

func TestEnsureColumnsConcurrentCallersAgree(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.EnsureColumns(ctx, []string{"date", "region"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent EnsureColumns: %v", err)
	}
	if got := st.Schema(); len(got.Columns) != 2 || got.Version != 1 {
		t.Fatalf("unexpected schema %+v", got)
	}
}

func TestSchemaSurvivesReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.EnsureColumns(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("EnsureColumns: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	schema := reopened.Schema()
	if schema.Version != 1 || len(schema.Columns) != 2 || schema.Columns[0] != "a" {
		t.Fatalf("unexpected schema after reopen %+v", schema)
	}
}

func TestEnsureColumnsRejectsReservedNames(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	_, err := st.EnsureColumns(context.Background(), []string{"_source_file"})
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected conversion error, got %v", err)
	}
}

func TestAppendRowsRejectsUnknownColumns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := st.EnsureColumns(ctx, []string{"date"}); err != nil {
		t.Fatalf("EnsureColumns: %v", err)
	}
	_, err := st.AppendRows(ctx, "jan.csv", []columnar.Record{{"date": "2024-01-01", "cost": "1"}})
	var unknown *store.UnknownColumnError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownColumnError, got %v", err)
	}
	if !errors.Is(err, services.ErrUnknownColumn) {
		t.Fatalf("expected ErrUnknownColumn marker, got %v", err)
	}
	if len(unknown.Columns) != 1 || unknown.Columns[0] != "cost" {
		t.Fatalf("unexpected unknown columns %v", unknown.Columns)
	}
	count, err := st.CountRows(ctx, "")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no rows written, got %d", count)
	}
}

func TestAppendRowsReplacesRowsFromSameSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := st.EnsureColumns(ctx, []string{"date", "cost"}); err != nil {
		t.Fatalf("EnsureColumns: %v", err)
	}
	rows := []columnar.Record{{"date": "2024-03-01", "cost": "1"}, {"date": "2024-03-02"}}
	for i := 0; i < 2; i++ {
		n, err := st.AppendRows(ctx, "mar.csv", rows)
		if err != nil {
			t.Fatalf("AppendRows pass %d: %v", i, err)
		}
		if n != 2 {
			t.Fatalf("wrote %d rows, want 2", n)
		}
	}
	if _, err := st.AppendRows(ctx, "other.csv", rows[:1]); err != nil {
		t.Fatalf("AppendRows other: %v", err)
	}

	count, err := st.CountRows(ctx, "mar.csv")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows for mar.csv, got %d", count)
	}
	total, _ := st.CountRows(ctx, "")
	if total != 3 {
		t.Fatalf("expected 3 rows total, got %d", total)
	}

	stored, err := st.Rows(ctx, "mar.csv")
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if _, ok := stored[1]["cost"]; ok {
		t.Fatalf("expected NULL cost in second row, got %v", stored[1])
	}
}

func TestOlderRowsReadNullForNewColumns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := st.EnsureColumns(ctx, []string{"date"}); err != nil {
		t.Fatalf("EnsureColumns: %v", err)
	}
	if _, err := st.AppendRows(ctx, "jan.csv", []columnar.Record{{"date": "2024-01-01"}}); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	if _, err := st.EnsureColumns(ctx, []string{"date", "region"}); err != nil {
		t.Fatalf("EnsureColumns: %v", err)
	}
	rows, err := st.Rows(ctx, "jan.csv")
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if _, ok := rows[0]["region"]; ok {
		t.Fatalf("expected region NULL for older row, got %v", rows[0])
	}
}

func TestCommitLedgerEntryOnlyOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	has, err := st.HasLedgerEntry(ctx, "jan.csv")
	if err != nil || has {
		t.Fatalf("HasLedgerEntry before commit = %v, %v", has, err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
		already   int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.CommitLedgerEntry(ctx, store.LedgerEntry{FileName: "jan.csv", RowCount: 3, Periods: []string{"2024-01"}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				committed++
			case errors.Is(err, store.ErrAlreadyCommitted):
				already++
			default:
				t.Errorf("CommitLedgerEntry: %v", err)
			}
		}()
	}
	wg.Wait()
	if committed != 1 || already != 5 {
		t.Fatalf("committed=%d already=%d", committed, already)
	}

	entries, err := st.ListLedger(ctx)
	if err != nil {
		t.Fatalf("ListLedger: %v", err)
	}
	if len(entries) != 1 || entries[0].RowCount != 3 || len(entries[0].Periods) != 1 {
		t.Fatalf("unexpected ledger %+v", entries)
	}
}

func TestPendingLedgerEntryClearedByCommit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	entry := store.LedgerEntry{FileName: "oct.csv", Checksum: "abc", RowCount: 3, Periods: []string{"2024-10"}}
	if err := st.StageLedgerEntry(ctx, entry); err != nil {
		t.Fatalf("StageLedgerEntry: %v", err)
	}
	entry.RowCount = 4
	if err := st.StageLedgerEntry(ctx, entry); err != nil {
		t.Fatalf("restage: %v", err)
	}

	pending, err := st.PendingLedgerEntries(ctx)
	if err != nil {
		t.Fatalf("PendingLedgerEntries: %v", err)
	}
	if len(pending) != 1 || pending[0].FileName != "oct.csv" || pending[0].RowCount != 4 {
		t.Fatalf("unexpected pending entries %+v", pending)
	}
	if len(pending[0].Periods) != 1 || pending[0].Periods[0] != "2024-10" {
		t.Fatalf("unexpected periods %v", pending[0].Periods)
	}

	if err := st.CommitLedgerEntry(ctx, pending[0]); err != nil {
		t.Fatalf("CommitLedgerEntry: %v", err)
	}
	pending, err = st.PendingLedgerEntries(ctx)
	if err != nil {
		t.Fatalf("PendingLedgerEntries after commit: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("commit should clear the pending entry, got %+v", pending)
	}
}

func TestForgetLedgerEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.CommitLedgerEntry(ctx, store.LedgerEntry{FileName: fmt.Sprintf("f%d.csv", i)}); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	removed, err := st.ForgetLedgerEntries(ctx, "f0.csv", "f2.csv", "missing.csv")
	if err != nil {
		t.Fatalf("ForgetLedgerEntries: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed %d, want 2", removed)
	}
	if has, _ := st.HasLedgerEntry(ctx, "f1.csv"); !has {
		t.Fatal("expected f1.csv to remain")
	}
}

func TestKnownBadLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := st.MarkKnownBad(ctx, "badfile.csv", services.KindConversion, "no rows"); err != nil {
			t.Fatalf("MarkKnownBad: %v", err)
		}
	}
	bad, err := st.IsKnownBad(ctx, "badfile.csv")
	if err != nil || !bad {
		t.Fatalf("IsKnownBad = %v, %v", bad, err)
	}
	list, err := st.ListKnownBad(ctx)
	if err != nil {
		t.Fatalf("ListKnownBad: %v", err)
	}
	if len(list) != 1 || list[0].Attempts != 2 || list[0].ErrorKind != "conversion" {
		t.Fatalf("unexpected list %+v", list)
	}

	if err := st.CommitLedgerEntry(ctx, store.LedgerEntry{FileName: "badfile.csv"}); err != nil {
		t.Fatalf("CommitLedgerEntry: %v", err)
	}
	if bad, _ := st.IsKnownBad(ctx, "badfile.csv"); bad {
		t.Fatal("expected ledger commit to clear known-bad marker")
	}

	_ = st.MarkKnownBad(ctx, "a.csv", services.KindConversion, "x")
	_ = st.MarkKnownBad(ctx, "b.csv", services.KindTimeout, "y")
	cleared, err := st.ClearKnownBad(ctx)
	if err != nil {
		t.Fatalf("ClearKnownBad: %v", err)
	}
	if cleared != 2 {
		t.Fatalf("cleared %d, want 2", cleared)
	}
}

func TestStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := st.EnsureColumns(ctx, []string{"a"}); err != nil {
		t.Fatalf("EnsureColumns: %v", err)
	}
	if _, err := st.AppendRows(ctx, "x.csv", []columnar.Record{{"a": "1"}, {"a": "2"}}); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	if err := st.CommitLedgerEntry(ctx, store.LedgerEntry{FileName: "x.csv", RowCount: 2}); err != nil {
		t.Fatalf("CommitLedgerEntry: %v", err)
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.LedgerEntries != 1 || stats.DatasetRows != 2 || stats.Columns != 1 || stats.SchemaVersion != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
