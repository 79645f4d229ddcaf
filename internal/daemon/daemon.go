package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"billingest/internal/config"
	"billingest/internal/logging"
	"billingest/internal/metrics"
	"billingest/internal/staging"
	"billingest/internal/store"
	"billingest/internal/watcher"
	"billingest/internal/workflow"
)

// Daemon coordinates the background ingestion services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	workflow *workflow.Manager
	metrics  *metrics.Collector
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	bg        sync.WaitGroup
	startedAt time.Time
	apiAddr   string
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	APIAddress   string
	Workflow     workflow.StatusSummary
	Stats        store.Stats
	StatsErr     error
	DatabasePath string
	LockFilePath string
}

// New constructs a daemon. collector may be nil, in which case /metrics is
// not served.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, wf *workflow.Manager, collector *metrics.Collector) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		workflow: wf,
		metrics:  collector,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, removes leftovers of interrupted runs,
// and launches the worker pool, watcher, API and startup scan.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another billingest daemon instance is already running")
	}

	cleaned := staging.CleanOrphaned(ctx, d.cfg.Paths.IntermediateDir, d.workflow.ActiveIntermediates(), d.logger)
	if len(cleaned.Removed) > 0 {
		d.logger.Info("removed orphaned intermediates",
			logging.Int("count", len(cleaned.Removed)),
			logging.Event("intermediate_cleanup"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}

	addr, err := d.api.start(runCtx)
	if err != nil {
		d.workflow.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.mu.Lock()
	d.ctx = runCtx
	d.cancel = cancel
	d.startedAt = time.Now()
	d.apiAddr = addr
	d.mu.Unlock()
	d.running.Store(true)

	w := watcher.New(d.cfg.Paths.InputDir, time.Duration(d.cfg.Ingest.SettleSeconds)*time.Second, d.onSettled, d.logger)
	d.goBackground(func() {
		if err := w.Run(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "directory watcher unavailable", "watch_failed",
				logging.Error(err),
				logging.Impact("new files are picked up only by rescans"),
			)
		}
	})
	d.goBackground(func() { d.runStagingJanitor(runCtx) })
	d.goBackground(func() { d.scan(runCtx, "startup") })

	d.logger.Info("billingest daemon started",
		logging.String("lock", d.lockPath),
		logging.String("input_dir", d.cfg.Paths.InputDir),
		logging.String("api", addr),
		logging.Event("daemon_start"),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.ctx = nil
	d.mu.Unlock()

	d.api.stop()
	if cancel != nil {
		cancel()
	}
	d.workflow.Stop()
	d.bg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("billingest daemon stopped", logging.Event("daemon_stop"))
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, statsErr := d.store.Stats(ctx)
	d.mu.Lock()
	startedAt := d.startedAt
	addr := d.apiAddr
	d.mu.Unlock()
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    startedAt,
		APIAddress:   addr,
		Workflow:     d.workflow.Status(),
		Stats:        stats,
		StatsErr:     statsErr,
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
}

// Rescan synchronously dispatches everything in the input directory.
func (d *Daemon) Rescan(ctx context.Context) (workflow.Dispatched, error) {
	if !d.running.Load() {
		return workflow.Dispatched{}, errors.New("daemon is not running")
	}
	return d.workflow.Scan(ctx)
}

// TriggerRescan starts a background scan and returns immediately.
func (d *Daemon) TriggerRescan(reason string) bool {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil || !d.running.Load() {
		return false
	}
	d.goBackground(func() { d.scan(ctx, reason) })
	return true
}

// RetryKnownBad clears known-bad markers (all when names is empty) and
// schedules a rescan so the files are picked up again.
func (d *Daemon) RetryKnownBad(ctx context.Context, names []string) (int64, bool, error) {
	cleared, err := d.store.ClearKnownBad(ctx, names...)
	if err != nil {
		return 0, false, err
	}
	d.logger.Info("known-bad markers cleared",
		logging.Int64("cleared", cleared),
		logging.Any("files", names),
		logging.Event("known_bad_retry"),
	)
	return cleared, d.TriggerRescan("known_bad_retry"), nil
}

// ListLedger returns every processed file.
func (d *Daemon) ListLedger(ctx context.Context) ([]store.LedgerEntry, error) {
	return d.store.ListLedger(ctx)
}

// ListKnownBad returns every known-bad file.
func (d *Daemon) ListKnownBad(ctx context.Context) ([]store.KnownBadFile, error) {
	return d.store.ListKnownBad(ctx)
}

func (d *Daemon) onSettled(ctx context.Context, path string) {
	outcome, err := d.workflow.OnFileEvent(ctx, path)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("dispatch from watcher failed",
				logging.String(logging.FieldFile, path),
				logging.Error(err),
				logging.Event("dispatch_failed"),
				logging.Hint("file will be retried on the next scan"),
			)
		}
		return
	}
	d.logger.Debug("watcher event dispatched",
		logging.String(logging.FieldFile, path),
		logging.String("outcome", string(outcome)),
	)
}

func (d *Daemon) scan(ctx context.Context, reason string) {
	dispatched, err := d.workflow.Scan(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "scan failed", "scan_failed",
				logging.String("reason", reason),
				logging.Error(err),
			)
		}
		return
	}
	d.logger.Info("scan complete",
		logging.String("reason", reason),
		logging.Int("enqueued", dispatched.Enqueued),
		logging.Int("skipped_ledger", dispatched.SkippedLedger),
		logging.Int("skipped_known_bad", dispatched.SkippedKnownBad),
		logging.Int("skipped_in_flight", dispatched.SkippedInFlight),
		logging.Event("scan_complete"),
	)
}

// runStagingJanitor removes intermediates older than the configured age
// that no worker owns.
func (d *Daemon) runStagingJanitor(ctx context.Context) {
	maxAge := time.Duration(d.cfg.Ingest.IntermediateMaxAgeHours) * time.Hour
	if maxAge <= 0 {
		return
	}
	interval := maxAge / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			staging.CleanStale(ctx, d.cfg.Paths.IntermediateDir, maxAge, d.workflow.ActiveIntermediates(), d.logger)
		}
	}
}

func (d *Daemon) goBackground(fn func()) {
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		fn()
	}()
}
