package api

import (
	"time"

	"billingest/internal/store"
	"billingest/internal/workflow"
)

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(dateTimeFormat)
}

// FromStatusSummary converts a workflow status snapshot.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	inFlight := summary.InFlight
	if inFlight == nil {
		inFlight = []string{}
	}
	return WorkflowStatus{
		Running:       summary.Running,
		Workers:       summary.Workers,
		QueueDepth:    summary.QueueDepth,
		QueueCapacity: summary.QueueCapacity,
		InFlight:      inFlight,
		Processed:     summary.Processed,
		Failed:        summary.Failed,
		KnownBad:      summary.KnownBad,
		Skipped:       summary.Skipped,
		LastError:     summary.LastError,
		LastFile:      summary.LastFile,
		LastProcessed: formatTime(summary.LastProcessed),
	}
}

// FromStats converts store stats; err is reported inline.
func FromStats(stats store.Stats, err error) StoreStats {
	out := StoreStats{
		LedgerEntries: stats.LedgerEntries,
		KnownBad:      stats.KnownBad,
		DatasetRows:   stats.DatasetRows,
		Columns:       stats.Columns,
		SchemaVersion: stats.SchemaVersion,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// FromLedger converts ledger entries, preserving order.
func FromLedger(entries []store.LedgerEntry) []LedgerEntry {
	out := make([]LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LedgerEntry{
			FileName:    e.FileName,
			Checksum:    e.Checksum,
			RowCount:    e.RowCount,
			Periods:     e.Periods,
			ProcessedAt: formatTime(e.ProcessedAt),
		})
	}
	return out
}

// FromKnownBad converts known-bad entries, preserving order.
func FromKnownBad(files []store.KnownBadFile) []KnownBadFile {
	out := make([]KnownBadFile, 0, len(files))
	for _, f := range files {
		out = append(out, KnownBadFile{
			FileName:      f.FileName,
			ErrorKind:     f.ErrorKind,
			ErrorMessage:  f.ErrorMessage,
			Attempts:      f.Attempts,
			FirstFailedAt: formatTime(f.FirstFailedAt),
			LastFailedAt:  formatTime(f.LastFailedAt),
		})
	}
	return out
}
