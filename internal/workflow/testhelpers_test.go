package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"billingest/internal/archive"
	"billingest/internal/config"
	"billingest/internal/logging"
	"billingest/internal/normalize"
	"billingest/internal/services"
	"billingest/internal/store"
	"billingest/internal/testsupport"
	"billingest/internal/workflow"
)

var billingHeader = []string{"Date", "Service", "Cost"}

func newTestManager(t *testing.T, cfg *config.Config, opts ...workflow.ManagerOption) (*workflow.Manager, *store.Store) {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	arch, err := archive.NewLocal(cfg.Paths.ArchiveDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	t.Cleanup(func() { _ = arch.Close() })
	mgr := workflow.NewManager(cfg, st, arch, logging.NewNop(), opts...)
	t.Cleanup(mgr.Stop)
	return mgr, st
}

func converterFor(cfg *config.Config) normalize.Normalizer {
	return &normalize.Converter{
		DateColumns: cfg.Normalize.DateColumns,
		CostColumns: cfg.Normalize.CostColumns,
	}
}

// gatedNormalizer blocks each call until gate is closed, then delegates.
type gatedNormalizer struct {
	inner   normalize.Normalizer
	gate    chan struct{}
	started chan string
	calls   atomic.Int32
}

func newGatedNormalizer(inner normalize.Normalizer) *gatedNormalizer {
	return &gatedNormalizer{
		inner:   inner,
		gate:    make(chan struct{}),
		started: make(chan string, 16),
	}
}

func (g *gatedNormalizer) Normalize(ctx context.Context, inputPath, outputDir string) (string, error) {
	g.calls.Add(1)
	select {
	case g.started <- filepath.Base(inputPath):
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.inner.Normalize(ctx, inputPath, outputDir)
}

// stuckNormalizer never returns until released and ignores cancellation.
type stuckNormalizer struct {
	release chan struct{}
}

func (s *stuckNormalizer) Normalize(context.Context, string, string) (string, error) {
	<-s.release
	return "", nil
}

// lateWriter ignores cancellation and writes its output once released.
type lateWriter struct {
	release chan struct{}
	done    chan string
}

func (l *lateWriter) Normalize(_ context.Context, inputPath, outputDir string) (string, error) {
	<-l.release
	out := normalize.OutputPath(outputDir, inputPath)
	err := os.WriteFile(out, []byte("late"), 0o644)
	l.done <- out
	return out, err
}

// missingOutput reports success without writing anything.
type missingOutput struct{}

func (missingOutput) Normalize(_ context.Context, inputPath, outputDir string) (string, error) {
	return normalize.OutputPath(outputDir, inputPath), nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	knownBad []string
	errors   []string
}

func (r *recordingNotifier) NotifyKnownBad(_ context.Context, file, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.knownBad = append(r.knownBad, file)
	return nil
}

func (r *recordingNotifier) NotifyError(_ context.Context, _ error, file string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, file)
	return nil
}

func (r *recordingNotifier) NotifyRunCompleted(context.Context, int, int, time.Duration) error {
	return nil
}

func (r *recordingNotifier) TestNotification(context.Context) error { return nil }

func (r *recordingNotifier) knownBadFiles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.knownBad...)
}

// flakyLedger fails the first failures ledger commits, then delegates.
type flakyLedger struct {
	*store.Store
	failures atomic.Int32
}

func (f *flakyLedger) CommitLedgerEntry(ctx context.Context, entry store.LedgerEntry) error {
	if f.failures.Add(-1) >= 0 {
		return services.Wrap(services.ErrLedgerWrite, "ledger", "commit", entry.FileName, errors.New("disk I/O error"))
	}
	return f.Store.CommitLedgerEntry(ctx, entry)
}
