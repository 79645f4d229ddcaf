package workflow

import (
	"context"
	"time"

	"billingest/internal/columnar"
	"billingest/internal/services"
	"billingest/internal/store"
)

// Backend is the persistence capability set the pipeline depends on.
// *store.Store is the production implementation.
type Backend interface {
	EnsureColumns(ctx context.Context, names []string) (store.Schema, error)
	AppendRows(ctx context.Context, sourceFile string, records []columnar.Record) (int64, error)
	HasLedgerEntry(ctx context.Context, fileName string) (bool, error)
	CommitLedgerEntry(ctx context.Context, entry store.LedgerEntry) error
	StageLedgerEntry(ctx context.Context, entry store.LedgerEntry) error
	PendingLedgerEntries(ctx context.Context) ([]store.LedgerEntry, error)
	IsKnownBad(ctx context.Context, fileName string) (bool, error)
	MarkKnownBad(ctx context.Context, fileName string, kind services.Kind, message string) error
}

// Observer receives pipeline events, typically to export metrics.
type Observer interface {
	FileDispatched()
	FileSkipped(reason string)
	FileProcessed(rows int64, elapsed time.Duration)
	FileFailed(kind services.Kind)
	StageCompleted(stage string, elapsed time.Duration, err error)
	QueueDepth(depth, inFlight int)
}

type nopObserver struct{}

func (nopObserver) FileDispatched()                             {}
func (nopObserver) FileSkipped(string)                          {}
func (nopObserver) FileProcessed(int64, time.Duration)          {}
func (nopObserver) FileFailed(services.Kind)                    {}
func (nopObserver) StageCompleted(string, time.Duration, error) {}
func (nopObserver) QueueDepth(int, int)                         {}

// Outcome describes what dispatch decided for one file.
type Outcome string

const (
	OutcomeEnqueued        Outcome = "enqueued"
	OutcomeSkippedLedger   Outcome = "ledgered"
	OutcomeSkippedKnownBad Outcome = "known_bad"
	OutcomeSkippedInFlight Outcome = "in_flight"
	OutcomeIgnored         Outcome = "ignored"
)

// Dispatched summarizes one scan.
type Dispatched struct {
	Enqueued        int `json:"enqueued"`
	SkippedLedger   int `json:"skipped_ledger"`
	SkippedKnownBad int `json:"skipped_known_bad"`
	SkippedInFlight int `json:"skipped_in_flight"`
	Ignored         int `json:"ignored"`
	Errors          int `json:"errors"`
	Reconciled      int `json:"reconciled"`
}

func (d *Dispatched) add(o Outcome) {
	switch o {
	case OutcomeEnqueued:
		d.Enqueued++
	case OutcomeSkippedLedger:
		d.SkippedLedger++
	case OutcomeSkippedKnownBad:
		d.SkippedKnownBad++
	case OutcomeSkippedInFlight:
		d.SkippedInFlight++
	default:
		d.Ignored++
	}
}

// Pipeline step names, in execution order.
const (
	StageNormalize = "normalize"
	StageDataset   = "dataset"
	StageSchema    = "schema"
	StageStore     = "store"
	StageArchive   = "archive"
	StageCleanup   = "cleanup"
	StageLedger    = "ledger"
)
