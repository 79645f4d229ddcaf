// Package daemonrun hosts the billingestd process lifecycle: logging setup,
// dependency wiring, signal handling and shutdown.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"billingest/internal/archive"
	"billingest/internal/config"
	"billingest/internal/daemon"
	"billingest/internal/deps"
	"billingest/internal/fileutil"
	"billingest/internal/logging"
	"billingest/internal/metrics"
	"billingest/internal/preflight"
	"billingest/internal/store"
	"billingest/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the ingestion daemon and blocks until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("billingest-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	sessionID := uuid.NewString()
	logger = logger.With(logging.String(logging.FieldSessionID, sessionID))

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update billingest.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "billingest-*.log", Exclude: []string{logPath}},
	)
	logDependencySnapshot(logger, cfg)
	for _, check := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
		logger.Warn("preflight check failed",
			logging.Event("preflight_failed"),
			logging.String("check", check.Name),
			logging.Hint(check.Detail),
			logging.Impact("affected files may fail and be retried on later scans"),
		)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}

	arch, err := archive.New(signalCtx, cfg)
	if err != nil {
		_ = st.Close()
		logger.Error("open archive", logging.Error(err))
		return err
	}
	defer arch.Close()

	collector := metrics.New()
	manager := workflow.NewManager(cfg, st, arch, logger, workflow.WithObserver(collector))
	d, err := daemon.New(cfg, st, logger, manager, collector)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.Event("daemon_start_failed"),
			logging.Hint("check the lock file, api_bind and database access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("billingest daemon shutting down", logging.Event("daemon_shutdown"))
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "billingest.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{
		logging.Event("dependency_snapshot"),
		logging.String("input_dir", cfg.Paths.InputDir),
		logging.Bool("external_normalizer", cfg.UsesExternalNormalizer()),
		logging.Bool("archive_local", cfg.ArchiveIsLocal()),
		logging.Int("workers", cfg.Ingest.Workers),
		logging.Int("queue_size", cfg.Ingest.QueueSize),
	}
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		attrs = append(attrs,
			logging.String(status.Name+"_command", status.Command),
			logging.Bool(status.Name+"_available", status.Available),
		)
	}
	if !cfg.ArchiveIsLocal() {
		attrs = append(attrs, logging.String("archive_bucket", cfg.Archive.BucketURL))
	}
	for label, dir := range map[string]string{
		"output_free_bytes":       cfg.Paths.OutputDir,
		"state_free_bytes":        cfg.Paths.StateDir,
		"intermediate_free_bytes": cfg.Paths.IntermediateDir,
	} {
		if free, err := fileutil.FreeBytes(dir); err == nil {
			attrs = append(attrs, logging.Uint64(label, free))
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
