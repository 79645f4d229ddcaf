package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"billingest/internal/logging"
	"billingest/internal/services"
	"billingest/internal/store"
)

// Scan dispatches every eligible file currently in the input directory.
// It blocks while the queue is full.
func (m *Manager) Scan(ctx context.Context) (Dispatched, error) {
	var result Dispatched
	if _, running := m.context(); !running {
		return result, errNotRunning
	}
	entries, err := os.ReadDir(m.inputDir)
	if err != nil {
		return result, fmt.Errorf("read input dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	reconciled, err := m.reconcilePending(ctx, names)
	if err != nil {
		if ctx.Err() != nil {
			return result, err
		}
		result.Errors++
		m.logger.Warn("pending ledger reconcile failed",
			logging.Error(err),
			logging.Event("reconcile_failed"),
			logging.Hint("check database; reconcile runs again on the next scan"),
		)
	}
	result.Reconciled = reconciled

	for _, name := range names {
		outcome, err := m.dispatch(ctx, filepath.Join(m.inputDir, name))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errNotRunning) {
				return result, err
			}
			result.Errors++
			m.logger.Warn("dispatch failed",
				logging.String(logging.FieldFile, name),
				logging.Error(err),
				logging.Event("dispatch_failed"),
				logging.Hint("file will be retried on the next scan"),
			)
			continue
		}
		result.add(outcome)
	}
	m.logger.Debug("scan complete",
		logging.Event("scan_complete"),
		logging.Int("enqueued", result.Enqueued),
		logging.Int("skipped_ledger", result.SkippedLedger),
		logging.Int("skipped_known_bad", result.SkippedKnownBad),
		logging.Int("skipped_in_flight", result.SkippedInFlight),
		logging.Int("ignored", result.Ignored),
		logging.Int("reconciled", result.Reconciled),
	)
	return result, nil
}

// reconcilePending commits ledger entries for files whose rows were stored
// and whose source was archived, but whose ledger commit never landed.
// Files still present in the input directory, or in flight, are left to the
// normal pipeline, which replaces their rows and commits on success.
func (m *Manager) reconcilePending(ctx context.Context, present []string) (int, error) {
	pending, err := m.backend.PendingLedgerEntries(ctx)
	if err != nil || len(pending) == 0 {
		return 0, err
	}
	inInput := make(map[string]struct{}, len(present))
	for _, name := range present {
		inInput[name] = struct{}{}
	}

	committed := 0
	for _, entry := range pending {
		if _, ok := inInput[entry.FileName]; ok {
			continue
		}
		if !m.reserve(entry.FileName) {
			continue
		}
		done, err := m.commitPending(ctx, entry)
		m.release(entry.FileName)
		if err != nil {
			return committed, err
		}
		if done {
			committed++
		}
	}
	return committed, nil
}

func (m *Manager) commitPending(ctx context.Context, entry store.LedgerEntry) (bool, error) {
	// The source may have landed in the input directory since the listing.
	if _, err := os.Stat(filepath.Join(m.inputDir, entry.FileName)); err == nil {
		return false, nil
	}
	err := m.backend.CommitLedgerEntry(ctx, entry)
	if err != nil && !errors.Is(err, store.ErrAlreadyCommitted) {
		return false, err
	}
	m.logger.Info("pending ledger entry committed",
		logging.String(logging.FieldFile, entry.FileName),
		logging.Event("ledger_reconciled"),
		logging.Int64("rows", entry.RowCount),
		logging.Any("periods", entry.Periods),
	)
	return true, nil
}

// OnFileEvent dispatches a single path reported by the watcher. Paths
// outside the input directory are ignored.
func (m *Manager) OnFileEvent(ctx context.Context, path string) (Outcome, error) {
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(m.inputDir) {
		return OutcomeIgnored, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return OutcomeIgnored, nil
		}
		return OutcomeIgnored, err
	}
	if info.IsDir() {
		return OutcomeIgnored, nil
	}
	return m.dispatch(ctx, path)
}

// Eligible reports whether name matches the include patterns and is not a
// hidden or partial file.
func (m *Manager) Eligible(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".tmp") || strings.HasSuffix(lower, ".part") {
		return false
	}
	patterns := m.cfg.Ingest.IncludePatterns
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (m *Manager) dispatch(ctx context.Context, path string) (Outcome, error) {
	name := filepath.Base(path)
	if !m.Eligible(name) {
		return OutcomeIgnored, nil
	}
	if !m.reserve(name) {
		m.observer.FileSkipped(string(OutcomeSkippedInFlight))
		return OutcomeSkippedInFlight, nil
	}

	done, err := m.backend.HasLedgerEntry(ctx, name)
	if err != nil {
		m.release(name)
		return "", err
	}
	if done {
		m.release(name)
		m.skip(OutcomeSkippedLedger)
		return OutcomeSkippedLedger, nil
	}
	bad, err := m.backend.IsKnownBad(ctx, name)
	if err != nil {
		m.release(name)
		return "", err
	}
	if bad {
		m.release(name)
		m.skip(OutcomeSkippedKnownBad)
		return OutcomeSkippedKnownBad, nil
	}

	if err := m.enqueue(ctx, path); err != nil {
		m.release(name)
		return "", err
	}
	m.observer.FileDispatched()
	m.logger.Debug("file enqueued",
		logging.String(logging.FieldFile, name),
		logging.Event("file_enqueued"),
	)
	return OutcomeEnqueued, nil
}

// enqueue retries a non-blocking send with doubling backoff until the file
// is queued or either context ends.
func (m *Manager) enqueue(ctx context.Context, path string) error {
	runCtx, running := m.context()
	if !running {
		return errNotRunning
	}
	delay := m.backoffInitial
	for attempt := 1; ; attempt++ {
		select {
		case m.queue <- path:
			m.reportQueue()
			return nil
		default:
		}
		if attempt == 1 {
			m.logger.Debug("dispatch queue full",
				logging.String(logging.FieldFile, filepath.Base(path)),
				logging.Int("queue_size", cap(m.queue)),
			)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-runCtx.Done():
			timer.Stop()
			return services.Wrap(services.ErrTransient, "workflow", "enqueue", "manager stopped", errNotRunning)
		case <-timer.C:
		}
		delay *= 2
		if delay > m.backoffMax {
			delay = m.backoffMax
		}
	}
}

func (m *Manager) reserve(name string) bool {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()
	if _, ok := m.inFlight[name]; ok {
		return false
	}
	m.inFlight[name] = struct{}{}
	return true
}

func (m *Manager) release(pathOrName string) {
	name := filepath.Base(pathOrName)
	m.flightMu.Lock()
	delete(m.inFlight, name)
	m.flightMu.Unlock()
	m.reportQueue()
}

func (m *Manager) inFlightCount() int {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()
	return len(m.inFlight)
}

// InFlight returns the names currently queued or being processed, sorted.
func (m *Manager) InFlight() []string {
	m.flightMu.Lock()
	names := make([]string, 0, len(m.inFlight))
	for name := range m.inFlight {
		names = append(names, name)
	}
	m.flightMu.Unlock()
	sort.Strings(names)
	return names
}

// ActiveIntermediates returns the source names whose intermediates must not
// be removed by staging cleanup.
func (m *Manager) ActiveIntermediates() map[string]struct{} {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()
	active := make(map[string]struct{}, len(m.inFlight))
	for name := range m.inFlight {
		active[name] = struct{}{}
	}
	return active
}

func (m *Manager) reportQueue() {
	m.observer.QueueDepth(len(m.queue), m.inFlightCount())
}
