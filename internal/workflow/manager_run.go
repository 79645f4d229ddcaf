package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"billingest/internal/logging"
	"billingest/internal/services"
)

var errNotRunning = errors.New("workflow manager is not running")

// Start launches the worker pool and, when configured, the periodic rescan.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	for i := 1; i <= m.workers; i++ {
		worker := i
		group.Go(func() error {
			m.runWorker(groupCtx, worker)
			return nil
		})
	}

	var scheduler *cron.Cron
	if spec := m.cfg.Ingest.RescanSchedule; spec != "" {
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(spec, func() { m.scheduledScan(runCtx) }); err != nil {
			cancel()
			_ = group.Wait()
			return services.Wrap(services.ErrConfiguration, "workflow", "rescan schedule", fmt.Sprintf("invalid schedule %q", spec), err)
		}
		scheduler.Start()
	}

	m.runCtx = runCtx
	m.cancel = cancel
	m.group = group
	m.scheduler = scheduler
	m.running = true
	m.logger.Info("workflow started",
		logging.Event("workflow_start"),
		logging.Int("workers", m.workers),
		logging.Int("queue_size", cap(m.queue)),
		logging.String("rescan_schedule", m.cfg.Ingest.RescanSchedule),
	)
	return nil
}

// Stop cancels workers and waits for in-progress files to return. Files
// still queued are released so the next scan picks them up.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	group := m.group
	scheduler := m.scheduler
	m.running = false
	m.cancel = nil
	m.group = nil
	m.scheduler = nil
	m.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	cancel()
	if group != nil {
		_ = group.Wait()
	}

	released := 0
drain:
	for {
		select {
		case path := <-m.queue:
			m.release(path)
			released++
		default:
			break drain
		}
	}
	m.logger.Info("workflow stopped",
		logging.Event("workflow_stop"),
		logging.Int("released_queued", released),
	)
}

// IsRunning reports whether the worker pool is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// WaitIdle blocks until the queue is empty and no file is in flight.
func (m *Manager) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(m.queue) == 0 && m.inFlightCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce scans the input directory, processes everything found and stops.
func (m *Manager) RunOnce(ctx context.Context) (Dispatched, error) {
	if err := m.Start(ctx); err != nil {
		return Dispatched{}, err
	}
	defer m.Stop()
	dispatched, err := m.Scan(ctx)
	if err != nil {
		return dispatched, err
	}
	return dispatched, m.WaitIdle(ctx)
}

func (m *Manager) runWorker(ctx context.Context, worker int) {
	logger := m.logger.With(logging.Int(logging.FieldWorker, worker))
	logger.Debug("worker started")
	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped")
			return
		case path := <-m.queue:
			m.reportQueue()
			m.handleFile(ctx, worker, path)
		}
	}
}

func (m *Manager) scheduledScan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	dispatched, err := m.Scan(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Warn("scheduled rescan failed",
				logging.Error(err),
				logging.Event("rescan_failed"),
				logging.Hint("check input_dir permissions"),
			)
		}
		return
	}
	m.logger.Info("scheduled rescan complete",
		logging.Event("rescan_complete"),
		logging.Int("enqueued", dispatched.Enqueued),
	)
}

func (m *Manager) context() (context.Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runCtx, m.running
}
