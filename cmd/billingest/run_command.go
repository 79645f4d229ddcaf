package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"billingest/internal/archive"
	"billingest/internal/config"
	"billingest/internal/daemonrun"
	"billingest/internal/logging"
	"billingest/internal/notifications"
	"billingest/internal/store"
	"billingest/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var once bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion daemon in the foreground",
		Long: "Run watches input_dir and processes files until interrupted. With --once it\n" +
			"processes every file currently present and exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if once {
				return runOnce(cmd.Context(), cmd.OutOrStdout(), cfg, logLevel)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Process the files present now, then exit")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Process every file currently in input_dir, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runOnce(cmd.Context(), cmd.OutOrStdout(), cfg, "")
		},
	}
}

func runOnce(parent context.Context, out io.Writer, cfg *config.Config, logLevel string) error {
	if parent == nil {
		parent = context.Background()
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, OutputPaths: []string{"stderr"}})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("a billingest daemon holds %s; ask it to rescan instead", cfg.LockPath())
	}
	defer lock.Unlock()

	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	arch, err := archive.New(parent, cfg)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer arch.Close()

	notifier := notifications.NewService(cfg)
	manager := workflow.NewManager(cfg, st, arch, logger, workflow.WithNotifier(notifier))
	started := time.Now()
	dispatched, err := manager.RunOnce(parent)
	if err != nil {
		return err
	}
	status := manager.Status()
	if dispatched.Enqueued > 0 {
		if err := notifier.NotifyRunCompleted(parent, int(status.Processed), int(status.Failed), time.Since(started)); err != nil {
			logger.Warn("run summary alert failed", logging.Error(err))
		}
	}
	fmt.Fprintf(out, "Dispatched %d file(s); processed %d, failed %d (known-bad %d); skipped %d already ledgered, %d known-bad\n",
		dispatched.Enqueued, status.Processed, status.Failed, status.KnownBad,
		dispatched.SkippedLedger, dispatched.SkippedKnownBad)
	if status.Failed > 0 {
		return fmt.Errorf("%d file(s) failed; last error: %s", status.Failed, status.LastError)
	}
	return nil
}
