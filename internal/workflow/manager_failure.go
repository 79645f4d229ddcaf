package workflow

import (
	"context"
	"errors"
	"log/slog"

	"billingest/internal/archive"
	"billingest/internal/logging"
	"billingest/internal/services"
)

var failureHints = map[services.Kind]string{
	services.KindConversion:    "fix the source file, then run billingest known-bad retry",
	services.KindUnknownColumn: "schema was not extended before insert; report this as a bug",
	services.KindArchive:       "check archive destination permissions and free space",
	services.KindStoreWrite:    "check database and output_dir; the file is retried on the next scan",
	services.KindLedgerWrite:   "check database; the next scan retries the file or commits its pending entry",
	services.KindConfiguration: "check the normalize command configuration",
}

func (m *Manager) handleFailure(ctx context.Context, run *fileRun, stage string, err error) {
	if run.intermediate != "" {
		_ = archive.Cleanup(run.intermediate)
	}
	logger := logging.WithContext(services.WithStage(ctx, stage), m.logger)

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("file processing interrupted",
			logging.Event("file_interrupted"),
			logging.Impact("file remains in input_dir and is retried on the next start"),
		)
		return
	}

	kind := services.KindOf(err)
	attrs := []logging.Attr{
		logging.Event("file_failure"),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Error(err),
		logging.Alert("file_failure"),
	}
	if hint, ok := failureHints[kind]; ok {
		attrs = append(attrs, logging.Hint(hint))
	}
	logger.Error("file processing failed", logging.Args(attrs...)...)

	m.observer.FileFailed(kind)
	m.recordFailure(run.name, err)

	if kind == services.KindUnknownColumn {
		m.notify(ctx, logger, func(ctx context.Context) error {
			return m.notifier.NotifyError(ctx, err, run.name)
		})
	}

	if !services.Permanent(err) {
		return
	}
	if markErr := m.backend.MarkKnownBad(context.WithoutCancel(ctx), run.name, kind, err.Error()); markErr != nil {
		logging.ErrorWithContext(logger, "failed to mark file known-bad", "known_bad_failed",
			logging.Error(markErr),
			logging.Impact("file will be retried on the next scan"),
		)
		return
	}
	m.recordKnownBad()
	logging.WarnWithContext(logger, "file marked known-bad", "known_bad",
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Impact("file is skipped by later scans until retried"),
	)
	m.notify(ctx, logger, func(ctx context.Context) error {
		return m.notifier.NotifyKnownBad(ctx, run.name, string(kind), err.Error())
	})
}

func (m *Manager) notify(ctx context.Context, logger *slog.Logger, send func(context.Context) error) {
	if err := send(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("alert delivery failed",
			logging.Error(err),
			logging.Event("notification_failed"),
			logging.Hint("check notifications.ntfy_topic"),
		)
	}
}
