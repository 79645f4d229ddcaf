package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"billingest/internal/archive"
	"billingest/internal/columnar"
	"billingest/internal/dataset"
	"billingest/internal/logging"
	"billingest/internal/services"
	"billingest/internal/testsupport"
	"billingest/internal/workflow"
)

func TestRunOnceProcessesFilesAndGrowsSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr, st := newTestManager(t, cfg)
	ctx := context.Background()

	testsupport.WriteCSV(t, cfg.Paths.InputDir, "jan.csv", billingHeader,
		[]string{"2024-01-05", "compute", "1.50"},
		[]string{"2024-01-20", "storage", "2.25"},
	)
	testsupport.WriteCSV(t, cfg.Paths.InputDir, "feb.csv", []string{"Date", "Service", "Cost", "Region"},
		[]string{"2024-02-01", "compute", "3.00", "eu-west"},
	)

	dispatched, err := mgr.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if dispatched.Enqueued != 2 {
		t.Fatalf("expected 2 enqueued, got %+v", dispatched)
	}

	for _, name := range []string{"jan.csv", "feb.csv"} {
		ok, err := st.HasLedgerEntry(ctx, name)
		if err != nil || !ok {
			t.Fatalf("expected ledger entry for %s (err=%v)", name, err)
		}
		if _, err := os.Stat(filepath.Join(cfg.Paths.InputDir, name)); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected %s to leave input dir, stat err=%v", name, err)
		}
		if _, err := os.Stat(filepath.Join(cfg.Paths.ArchiveDir, name)); err != nil {
			t.Fatalf("expected %s in archive: %v", name, err)
		}
	}

	if !st.Schema().Has("region") {
		t.Fatalf("expected region column after feb.csv, got %v", st.Schema().Columns)
	}
	janRows, err := st.Rows(ctx, "jan.csv")
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(janRows) != 2 {
		t.Fatalf("expected 2 jan rows, got %d", len(janRows))
	}
	for _, row := range janRows {
		if _, ok := row["region"]; ok {
			t.Fatalf("jan row should read region as NULL: %v", row)
		}
		if row["billing_period"] != "2024-01" {
			t.Fatalf("unexpected period in %v", row)
		}
	}

	for period, want := range map[string]int{"2024-01": 2, "2024-02": 1} {
		table, err := columnar.ReadFile(mgr.Datasets().Path(period))
		if err != nil {
			t.Fatalf("read dataset %s: %v", period, err)
		}
		if table.NumRows() != want {
			t.Fatalf("dataset %s: expected %d rows, got %d", period, want, table.NumRows())
		}
	}

	leftovers, err := os.ReadDir(cfg.Paths.IntermediateDir)
	if err != nil {
		t.Fatalf("read intermediate dir: %v", err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("expected intermediates to be cleaned, found %d", len(leftovers))
	}

	status := mgr.Status()
	if status.Processed != 2 || status.Failed != 0 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestReprocessingReplacesRowsInsteadOfDuplicating(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr, st := newTestManager(t, cfg)
	ctx := context.Background()

	rows := [][]string{
		{"2024-03-01", "compute", "4.00"},
		{"2024-03-02", "network", "0.10"},
	}
	testsupport.WriteCSV(t, cfg.Paths.InputDir, "march.csv", billingHeader, rows...)
	if _, err := mgr.RunOnce(ctx); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}

	// Simulate a lost ledger commit: the file shows up again unledgered.
	if _, err := st.ForgetLedgerEntries(ctx, "march.csv"); err != nil {
		t.Fatalf("ForgetLedgerEntries: %v", err)
	}
	if err := os.Remove(filepath.Join(cfg.Paths.ArchiveDir, "march.csv")); err != nil {
		t.Fatalf("remove archived copy: %v", err)
	}
	testsupport.WriteCSV(t, cfg.Paths.InputDir, "march.csv", billingHeader, rows...)
	if _, err := mgr.RunOnce(ctx); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}

	count, err := st.CountRows(ctx, "march.csv")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 stored rows after reprocessing, got %d", count)
	}
	table, err := columnar.ReadFile(mgr.Datasets().Path("2024-03"))
	if err != nil {
		t.Fatalf("read dataset: %v", err)
	}
	n := 0
	for _, rec := range table.Records {
		if rec[dataset.SourceColumn] == "march.csv" {
			n++
		}
	}
	if n != 2 {
		t.Fatalf("expected 2 dataset rows for march.csv, got %d", n)
	}
}

func TestFailedLedgerCommitIsCompletedOnNextScan(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	arch, err := archive.NewLocal(cfg.Paths.ArchiveDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	t.Cleanup(func() { _ = arch.Close() })
	backend := &flakyLedger{Store: st}
	backend.failures.Store(1)
	mgr := workflow.NewManager(cfg, backend, arch, logging.NewNop())
	t.Cleanup(mgr.Stop)
	ctx := context.Background()

	testsupport.WriteCSV(t, cfg.Paths.InputDir, "oct.csv", billingHeader,
		[]string{"2024-10-01", "compute", "2.00"},
		[]string{"2024-10-02", "storage", "1.00"},
	)
	if _, err := mgr.RunOnce(ctx); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	if ok, _ := st.HasLedgerEntry(ctx, "oct.csv"); ok {
		t.Fatal("ledger commit was expected to fail on the first run")
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.ArchiveDir, "oct.csv")); err != nil {
		t.Fatalf("source should be archived before the ledger step: %v", err)
	}

	dispatched, err := mgr.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if dispatched.Reconciled != 1 {
		t.Fatalf("expected one reconciled entry, got %+v", dispatched)
	}
	ok, err := st.HasLedgerEntry(ctx, "oct.csv")
	if err != nil || !ok {
		t.Fatalf("expected oct.csv ledgered after the next scan, ok=%v err=%v", ok, err)
	}
	entries, err := st.ListLedger(ctx)
	if err != nil {
		t.Fatalf("ListLedger: %v", err)
	}
	if len(entries) != 1 || entries[0].RowCount != 2 || len(entries[0].Periods) != 1 || entries[0].Periods[0] != "2024-10" {
		t.Fatalf("unexpected ledger entries %+v", entries)
	}
	if count, _ := st.CountRows(ctx, "oct.csv"); count != 2 {
		t.Fatalf("expected 2 stored rows, got %d", count)
	}

	// Forgetting the entry afterwards must not be undone by later scans.
	if _, err := st.ForgetLedgerEntries(ctx, "oct.csv"); err != nil {
		t.Fatalf("ForgetLedgerEntries: %v", err)
	}
	dispatched, err = mgr.RunOnce(ctx)
	if err != nil {
		t.Fatalf("third RunOnce: %v", err)
	}
	if dispatched.Reconciled != 0 {
		t.Fatalf("forgotten entry was reconciled again: %+v", dispatched)
	}
}

func TestLedgeredFileIsSkipped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	testsupport.WriteCSV(t, cfg.Paths.InputDir, "apr.csv", billingHeader, []string{"2024-04-01", "compute", "1"})
	if _, err := mgr.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// Same name dropped in again after it was archived.
	testsupport.WriteCSV(t, cfg.Paths.InputDir, "apr.csv", billingHeader, []string{"2024-04-01", "compute", "1"})
	dispatched, err := mgr.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if dispatched.SkippedLedger != 1 || dispatched.Enqueued != 0 {
		t.Fatalf("expected ledger skip, got %+v", dispatched)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.InputDir, "apr.csv")); err != nil {
		t.Fatalf("skipped file should stay in input dir: %v", err)
	}
}

func TestConversionFailureMarksKnownBad(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	notifier := &recordingNotifier{}
	mgr, st := newTestManager(t, cfg, workflow.WithNotifier(notifier))
	ctx := context.Background()

	testsupport.WriteCSV(t, cfg.Paths.InputDir, "badfile.csv", []string{"Service", "Cost"}, []string{"compute", "1.00"})
	testsupport.WriteCSV(t, cfg.Paths.InputDir, "good.csv", billingHeader, []string{"2024-05-01", "compute", "1.00"})

	if _, err := mgr.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	bad, err := st.IsKnownBad(ctx, "badfile.csv")
	if err != nil || !bad {
		t.Fatalf("expected badfile.csv known-bad (err=%v)", err)
	}
	if ok, _ := st.HasLedgerEntry(ctx, "badfile.csv"); ok {
		t.Fatal("failed file must not be ledgered")
	}
	if ok, _ := st.HasLedgerEntry(ctx, "good.csv"); !ok {
		t.Fatal("failure of one file must not block another")
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.InputDir, "badfile.csv")); err != nil {
		t.Fatalf("failed file should remain in input dir: %v", err)
	}

	dispatched, err := mgr.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if dispatched.SkippedKnownBad != 1 || dispatched.Enqueued != 0 {
		t.Fatalf("expected known-bad skip, got %+v", dispatched)
	}
	entries, err := st.ListKnownBad(ctx)
	if err != nil {
		t.Fatalf("ListKnownBad: %v", err)
	}
	if len(entries) != 1 || entries[0].Attempts != 1 || entries[0].ErrorKind != string(services.KindConversion) {
		t.Fatalf("unexpected known-bad entries %+v", entries)
	}
	if status := mgr.Status(); status.KnownBad != 1 || status.Failed != 1 || status.LastError == "" {
		t.Fatalf("unexpected status %+v", status)
	}
	if alerts := notifier.knownBadFiles(); len(alerts) != 1 || alerts[0] != "badfile.csv" {
		t.Fatalf("expected one known-bad alert, got %v", alerts)
	}
}

func TestNormalizeTimeoutIsConversionFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithNormalizeTimeout(1), testsupport.WithWorkers(1))
	stuck := &stuckNormalizer{release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })
	mgr, st := newTestManager(t, cfg, workflow.WithNormalizer(stuck))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	testsupport.WriteCSV(t, cfg.Paths.InputDir, "slow.csv", billingHeader, []string{"2024-06-01", "compute", "1"})
	start := time.Now()
	if _, err := mgr.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}

	entries, err := st.ListKnownBad(ctx)
	if err != nil {
		t.Fatalf("ListKnownBad: %v", err)
	}
	if len(entries) != 1 || entries[0].ErrorKind != string(services.KindConversion) {
		t.Fatalf("expected conversion known-bad entry, got %+v", entries)
	}
	if !strings.Contains(entries[0].ErrorMessage, "timed out") {
		t.Fatalf("expected timeout in message, got %q", entries[0].ErrorMessage)
	}
	if ok, _ := st.HasLedgerEntry(ctx, "slow.csv"); ok {
		t.Fatal("timed out file must not be ledgered")
	}
}

func TestTimedOutNormalizerOutputIsRemoved(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithNormalizeTimeout(1), testsupport.WithWorkers(1))
	late := &lateWriter{release: make(chan struct{}), done: make(chan string, 1)}
	mgr, _ := newTestManager(t, cfg, workflow.WithNormalizer(late))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	testsupport.WriteCSV(t, cfg.Paths.InputDir, "late.csv", billingHeader, []string{"2024-06-01", "compute", "1"})
	if _, err := mgr.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	close(late.release)
	var out string
	select {
	case out = <-late.done:
	case <-ctx.Done():
		t.Fatal("normalizer never finished")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(out); errors.Is(err, os.ErrNotExist) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("late intermediate %s was not removed", out)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestUnreadableIntermediateIsNotKnownBad(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr, st := newTestManager(t, cfg, workflow.WithNormalizer(missingOutput{}))
	ctx := context.Background()

	testsupport.WriteCSV(t, cfg.Paths.InputDir, "vanished.csv", billingHeader, []string{"2024-07-01", "compute", "1"})
	if _, err := mgr.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if bad, err := st.IsKnownBad(ctx, "vanished.csv"); err != nil || bad {
		t.Fatalf("I/O failure must not mark the file known-bad (bad=%v err=%v)", bad, err)
	}
	if ok, _ := st.HasLedgerEntry(ctx, "vanished.csv"); ok {
		t.Fatal("failed file must not be ledgered")
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.InputDir, "vanished.csv")); err != nil {
		t.Fatalf("file should remain in input dir for retry: %v", err)
	}
	if status := mgr.Status(); status.Failed != 1 {
		t.Fatalf("expected one failure, got %+v", status)
	}
}

func TestInFlightFileIsNotDispatchedTwice(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gated := newGatedNormalizer(converterFor(cfg))
	mgr, st := newTestManager(t, cfg, workflow.WithNormalizer(gated))
	ctx := context.Background()

	path := testsupport.WriteCSV(t, cfg.Paths.InputDir, "jul.csv", billingHeader, []string{"2024-07-01", "compute", "1"})
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first, err := mgr.OnFileEvent(ctx, path)
	if err != nil || first != workflow.OutcomeEnqueued {
		t.Fatalf("first event: outcome=%s err=%v", first, err)
	}
	select {
	case <-gated.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked up the file")
	}
	second, err := mgr.OnFileEvent(ctx, path)
	if err != nil || second != workflow.OutcomeSkippedInFlight {
		t.Fatalf("second event: outcome=%s err=%v", second, err)
	}
	dispatched, err := mgr.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if dispatched.SkippedInFlight != 1 {
		t.Fatalf("expected scan to see file in flight, got %+v", dispatched)
	}
	if got := mgr.Status().InFlight; len(got) != 1 || got[0] != "jul.csv" {
		t.Fatalf("unexpected in-flight set %v", got)
	}

	close(gated.gate)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mgr.WaitIdle(waitCtx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	if calls := gated.calls.Load(); calls != 1 {
		t.Fatalf("expected one normalize call, got %d", calls)
	}
	if ok, _ := st.HasLedgerEntry(ctx, "jul.csv"); !ok {
		t.Fatal("expected ledger entry")
	}
	if len(mgr.Status().InFlight) != 0 {
		t.Fatal("in-flight slot not released")
	}
}

func TestScanBlocksOnFullQueueWithoutDroppingFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1), testsupport.WithQueueSize(1))
	gated := newGatedNormalizer(converterFor(cfg))
	mgr, st := newTestManager(t, cfg, workflow.WithNormalizer(gated))
	ctx := context.Background()

	names := []string{"a.csv", "b.csv", "c.csv", "d.csv"}
	for _, name := range names {
		testsupport.WriteCSV(t, cfg.Paths.InputDir, name, billingHeader, []string{"2024-08-01", "compute", "1"})
	}
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	type scanResult struct {
		dispatched workflow.Dispatched
		err        error
	}
	done := make(chan scanResult, 1)
	go func() {
		d, err := mgr.Scan(ctx)
		done <- scanResult{d, err}
	}()

	select {
	case <-done:
		t.Fatal("scan returned while the queue was saturated")
	case <-time.After(200 * time.Millisecond):
	}

	close(gated.gate)
	var res scanResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan never completed")
	}
	if res.err != nil || res.dispatched.Enqueued != len(names) {
		t.Fatalf("unexpected scan result %+v err=%v", res.dispatched, res.err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mgr.WaitIdle(waitCtx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	for _, name := range names {
		if ok, _ := st.HasLedgerEntry(ctx, name); !ok {
			t.Fatalf("expected %s to be processed", name)
		}
	}
}

func TestArchiveCollisionStillCommitsLedger(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr, st := newTestManager(t, cfg)
	ctx := context.Background()

	path := testsupport.WriteCSV(t, cfg.Paths.InputDir, "sep.csv", billingHeader, []string{"2024-09-01", "compute", "1"})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.ArchiveDir, "sep.csv"), data, 0o644); err != nil {
		t.Fatalf("seed archive: %v", err)
	}

	if _, err := mgr.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if ok, _ := st.HasLedgerEntry(ctx, "sep.csv"); !ok {
		t.Fatal("collision should not prevent the ledger commit")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("identical source copy should be removed, stat err=%v", err)
	}
}

func TestScanIgnoresHiddenPartialAndUnmatchedFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Ingest.IncludePatterns = []string{"*.csv", "*.csv.gz"}
	mgr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	for _, name := range []string{".hidden.csv", "upload.csv.part", "scratch.tmp", "notes.txt"} {
		testsupport.WriteFile(t, filepath.Join(cfg.Paths.InputDir, name), 10)
	}
	if err := os.Mkdir(filepath.Join(cfg.Paths.InputDir, "nested.csv"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	dispatched, err := mgr.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if dispatched.Enqueued != 0 || dispatched.Ignored != 4 {
		t.Fatalf("unexpected dispatch %+v", dispatched)
	}

	outside := testsupport.WriteCSV(t, testsupport.BaseDir(cfg), "elsewhere.csv", billingHeader, []string{"2024-01-01", "x", "1"})
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	outcome, err := mgr.OnFileEvent(ctx, outside)
	if err != nil || outcome != workflow.OutcomeIgnored {
		t.Fatalf("expected path outside input dir to be ignored, got %s err=%v", outcome, err)
	}
}

func TestScanRequiresRunningManager(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr, _ := newTestManager(t, cfg)
	if _, err := mgr.Scan(context.Background()); err == nil {
		t.Fatal("expected error scanning before Start")
	}
}

func TestStartRejectsInvalidRescanSchedule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Ingest.RescanSchedule = "not a schedule"
	mgr, _ := newTestManager(t, cfg)
	err := mgr.Start(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if mgr.IsRunning() {
		t.Fatal("manager should not be running")
	}
}
