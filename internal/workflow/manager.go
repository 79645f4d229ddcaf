package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"billingest/internal/archive"
	"billingest/internal/config"
	"billingest/internal/dataset"
	"billingest/internal/logging"
	"billingest/internal/normalize"
	"billingest/internal/notifications"
)

// Manager coordinates dispatch and the worker pool.
type Manager struct {
	cfg        *config.Config
	backend    Backend
	normalizer normalize.Normalizer
	datasets   *dataset.Writer
	archiver   archive.Archiver
	observer   Observer
	notifier   notifications.Service
	logger     *slog.Logger

	inputDir         string
	workers          int
	normalizeTimeout time.Duration
	backoffInitial   time.Duration
	backoffMax       time.Duration

	queue chan string

	flightMu sync.Mutex
	inFlight map[string]struct{}

	mu        sync.RWMutex
	running   bool
	runCtx    context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	scheduler *cron.Cron
	counters  counters
	lastErr   error
	lastFile  string
	lastDone  time.Time
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNormalizer replaces the normalizer derived from config.
func WithNormalizer(n normalize.Normalizer) ManagerOption {
	return func(m *Manager) {
		if n != nil {
			m.normalizer = n
		}
	}
}

// WithObserver registers a pipeline event observer.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithNotifier replaces the alert service derived from config.
func WithNotifier(n notifications.Service) ManagerOption {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// NewManager constructs a workflow manager. The archiver is owned by the
// caller and must outlive the manager.
func NewManager(cfg *config.Config, backend Backend, archiver archive.Archiver, logger *slog.Logger, opts ...ManagerOption) *Manager {
	workers := cfg.Ingest.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := cfg.Ingest.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}
	m := &Manager{
		cfg:              cfg,
		backend:          backend,
		normalizer:       normalize.New(cfg),
		datasets:         dataset.NewWriter(cfg.Paths.OutputDir, cfg.Normalize.Compression),
		archiver:         archiver,
		observer:         nopObserver{},
		notifier:         notifications.NewService(cfg),
		logger:           logging.NewComponentLogger(logger, "workflow"),
		inputDir:         cfg.Paths.InputDir,
		workers:          workers,
		normalizeTimeout: time.Duration(cfg.Ingest.NormalizeTimeout) * time.Second,
		backoffInitial:   time.Duration(cfg.Ingest.DispatchBackoffInitialMS) * time.Millisecond,
		backoffMax:       time.Duration(cfg.Ingest.DispatchBackoffMaxMS) * time.Millisecond,
		queue:            make(chan string, queueSize),
		inFlight:         make(map[string]struct{}),
	}
	if m.backoffInitial <= 0 {
		m.backoffInitial = 10 * time.Millisecond
	}
	if m.backoffMax < m.backoffInitial {
		m.backoffMax = m.backoffInitial
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Datasets exposes the monthly dataset writer.
func (m *Manager) Datasets() *dataset.Writer {
	return m.datasets
}
