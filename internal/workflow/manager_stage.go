package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"billingest/internal/archive"
	"billingest/internal/columnar"
	"billingest/internal/dataset"
	"billingest/internal/fileutil"
	"billingest/internal/logging"
	"billingest/internal/normalize"
	"billingest/internal/services"
	"billingest/internal/store"
)

// fileRun carries state between the steps of one file.
type fileRun struct {
	path         string
	name         string
	checksum     string
	intermediate string
	table        columnar.Table
	periods      []string
	rows         int64
}

func (r *fileRun) ledgerEntry() store.LedgerEntry {
	return store.LedgerEntry{
		FileName: r.name,
		Checksum: r.checksum,
		RowCount: r.rows,
		Periods:  r.periods,
	}
}

func (m *Manager) handleFile(ctx context.Context, worker int, path string) {
	name := filepath.Base(path)
	defer m.release(name)

	ctx = services.WithFile(ctx, name)
	ctx = services.WithWorker(ctx, worker)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, m.logger)

	if ctx.Err() != nil {
		return
	}

	skip, reason, err := m.shouldSkip(ctx, path)
	if err != nil {
		m.handleFailure(ctx, &fileRun{path: path, name: name}, "recheck", err)
		return
	}
	if skip {
		logger.Info("file skipped",
			logging.Event("file_skipped"),
			logging.String("reason", reason),
		)
		m.skip(Outcome(reason))
		return
	}

	start := time.Now()
	logger.Info("file processing started", logging.Event("file_start"))
	run := &fileRun{path: path, name: name}
	if stage, err := m.processFile(ctx, run); err != nil {
		m.handleFailure(ctx, run, stage, err)
		return
	}

	elapsed := time.Since(start)
	m.observer.FileProcessed(run.rows, elapsed)
	m.recordSuccess(name)
	logger.Info("file processed",
		logging.Event("file_complete"),
		logging.Int64("rows", run.rows),
		logging.Any("periods", run.periods),
		logging.Duration("duration", elapsed),
	)
}

// shouldSkip repeats the dispatch checks because another worker or scan may
// have finished the file while it sat in the queue.
func (m *Manager) shouldSkip(ctx context.Context, path string) (bool, string, error) {
	name := filepath.Base(path)
	done, err := m.backend.HasLedgerEntry(ctx, name)
	if err != nil {
		return false, "", err
	}
	if done {
		return true, string(OutcomeSkippedLedger), nil
	}
	bad, err := m.backend.IsKnownBad(ctx, name)
	if err != nil {
		return false, "", err
	}
	if bad {
		return true, string(OutcomeSkippedKnownBad), nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, "source_missing", nil
		}
		return false, "", err
	}
	return false, "", nil
}

// processFile runs the pipeline steps in order and returns the name of the
// step that failed.
func (m *Manager) processFile(ctx context.Context, run *fileRun) (string, error) {
	sum, err := fileutil.Checksum(run.path)
	if err != nil {
		return StageNormalize, services.Wrap(services.ErrTransient, StageNormalize, "checksum", run.name, err)
	}
	run.checksum = sum

	steps := []struct {
		name string
		fn   func(context.Context, *slog.Logger, *fileRun) ([]logging.Attr, error)
	}{
		{StageNormalize, m.stageNormalize},
		{StageDataset, m.stageDataset},
		{StageSchema, m.stageSchema},
		{StageStore, m.stageStore},
		{StageArchive, m.stageArchive},
		{StageCleanup, m.stageCleanup},
		{StageLedger, m.stageLedger},
	}
	for _, step := range steps {
		if err := m.runStage(ctx, step.name, run, step.fn); err != nil {
			return step.name, err
		}
	}
	return "", nil
}

func (m *Manager) runStage(ctx context.Context, stage string, run *fileRun, fn func(context.Context, *slog.Logger, *fileRun) ([]logging.Attr, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stageCtx := services.WithStage(ctx, stage)
	logger := logging.WithContext(stageCtx, m.logger)
	logger.Debug("stage started", logging.Event("stage_start"))

	start := time.Now()
	attrs, err := fn(stageCtx, logger, run)
	elapsed := time.Since(start)
	m.observer.StageCompleted(stage, elapsed, err)
	if err != nil {
		return err
	}
	attrs = append(attrs,
		logging.Event("stage_complete"),
		logging.Duration("stage_duration", elapsed),
	)
	logger.Info("stage completed", logging.Args(attrs...)...)
	return nil
}

func (m *Manager) stageNormalize(ctx context.Context, _ *slog.Logger, run *fileRun) ([]logging.Attr, error) {
	out, err := m.normalizeWithTimeout(ctx, run.path)
	if err != nil {
		return nil, err
	}
	run.intermediate = out
	return []logging.Attr{logging.String("intermediate", out)}, nil
}

// normalizeWithTimeout stops waiting once the timeout elapses even if the
// normalizer ignores cancellation.
func (m *Manager) normalizeWithTimeout(ctx context.Context, path string) (string, error) {
	dir := m.cfg.Paths.IntermediateDir
	if m.normalizeTimeout <= 0 {
		return m.normalizer.Normalize(ctx, path, dir)
	}
	callCtx, cancel := context.WithTimeout(ctx, m.normalizeTimeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := m.normalizer.Normalize(callCtx, path, dir)
		done <- result{out: out, err: err}
	}()

	timedOut := func() error {
		return services.Wrap(services.ErrConversion, StageNormalize, filepath.Base(path),
			fmt.Sprintf("timed out after %s", m.normalizeTimeout), services.ErrTimeout)
	}
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			removeIntermediate(normalize.OutputPath(dir, path), r.out)
			return "", timedOut()
		}
		return r.out, r.err
	case <-callCtx.Done():
		expected := normalize.OutputPath(dir, path)
		removeIntermediate(expected)
		// An abandoned normalizer may still write its output after we return.
		go func() {
			r := <-done
			removeIntermediate(expected, r.out)
		}()
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", timedOut()
	}
}

func removeIntermediate(paths ...string) {
	for _, p := range paths {
		if p != "" {
			_ = os.Remove(p)
		}
	}
}

func (m *Manager) stageDataset(ctx context.Context, logger *slog.Logger, run *fileRun) ([]logging.Attr, error) {
	table, err := columnar.ReadFile(run.intermediate)
	if err != nil {
		marker := services.ErrTransient
		if errors.Is(err, columnar.ErrMalformed) {
			marker = services.ErrConversion
		}
		return nil, services.Wrap(marker, StageDataset, "read intermediate", run.name, err)
	}
	run.table = table
	groups, err := dataset.GroupByPeriod(table.Records, normalize.PeriodColumn)
	if err != nil {
		return nil, err
	}
	run.periods = dataset.SortedPeriods(groups)
	for _, period := range run.periods {
		n, err := m.datasets.Append(ctx, period, run.name, groups[period])
		if err != nil {
			return nil, err
		}
		logger.Debug("dataset updated",
			logging.String("period", period),
			logging.Int("rows", n),
			logging.String("dataset_file", m.datasets.Path(period)),
		)
	}
	return []logging.Attr{
		logging.Int("rows", table.NumRows()),
		logging.Any("periods", run.periods),
	}, nil
}

func (m *Manager) stageSchema(ctx context.Context, _ *slog.Logger, run *fileRun) ([]logging.Attr, error) {
	schema, err := m.backend.EnsureColumns(ctx, run.table.Columns)
	if err != nil {
		return nil, err
	}
	return []logging.Attr{
		logging.Int("schema_version", schema.Version),
		logging.Int("columns", len(schema.Columns)),
	}, nil
}

func (m *Manager) stageStore(ctx context.Context, _ *slog.Logger, run *fileRun) ([]logging.Attr, error) {
	n, err := m.backend.AppendRows(ctx, run.name, run.table.Records)
	if err != nil {
		return nil, err
	}
	run.rows = n
	if err := m.backend.StageLedgerEntry(ctx, run.ledgerEntry()); err != nil {
		return nil, err
	}
	return []logging.Attr{logging.Int64("rows", n)}, nil
}

func (m *Manager) stageArchive(ctx context.Context, logger *slog.Logger, run *fileRun) ([]logging.Attr, error) {
	res, err := m.archiver.Archive(ctx, run.path)
	if err != nil {
		if !errors.Is(err, archive.ErrAlreadyArchived) {
			return nil, err
		}
		attrs := []logging.Attr{
			logging.String("target", res.Target),
			logging.Bool("contents_match", res.ContentsMatch),
			logging.Bool("source_removed", res.SourceRemoved),
		}
		if !res.ContentsMatch {
			attrs = append(attrs, logging.Hint("archived copy differs; compare the two files and remove one by hand"))
		}
		logging.WarnWithContext(logger, "archive target already present", "archive_collision", attrs...)
	}
	return []logging.Attr{
		logging.String("target", res.Target),
		logging.Bool("already_archived", res.AlreadyArchived),
	}, nil
}

func (m *Manager) stageCleanup(_ context.Context, logger *slog.Logger, run *fileRun) ([]logging.Attr, error) {
	if err := archive.Cleanup(run.intermediate); err != nil {
		logging.WarnWithContext(logger, "intermediate cleanup failed", "cleanup_failed",
			logging.String("intermediate", run.intermediate),
			logging.Error(err),
			logging.Hint("stale intermediates are removed on the next daemon start"),
		)
		return []logging.Attr{logging.Bool("removed", false)}, nil
	}
	return []logging.Attr{logging.Bool("removed", true)}, nil
}

func (m *Manager) stageLedger(ctx context.Context, logger *slog.Logger, run *fileRun) ([]logging.Attr, error) {
	err := m.backend.CommitLedgerEntry(ctx, run.ledgerEntry())
	if errors.Is(err, store.ErrAlreadyCommitted) {
		logger.Debug("ledger entry already present")
		return []logging.Attr{logging.Bool("already_committed", true)}, nil
	}
	if err != nil {
		return nil, err
	}
	return []logging.Attr{logging.String("checksum", run.checksum)}, nil
}
