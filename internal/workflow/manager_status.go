package workflow

import (
	"time"
)

type counters struct {
	processed int64
	failed    int64
	knownBad  int64
	skipped   int64
}

// StatusSummary captures the manager's runtime state.
type StatusSummary struct {
	Running       bool      `json:"running"`
	Workers       int       `json:"workers"`
	QueueDepth    int       `json:"queue_depth"`
	QueueCapacity int       `json:"queue_capacity"`
	InFlight      []string  `json:"in_flight"`
	Processed     int64     `json:"processed"`
	Failed        int64     `json:"failed"`
	KnownBad      int64     `json:"known_bad"`
	Skipped       int64     `json:"skipped"`
	LastError     string    `json:"last_error,omitempty"`
	LastFile      string    `json:"last_file,omitempty"`
	LastProcessed time.Time `json:"last_processed,omitempty"`
}

// Status returns a snapshot of the worker pool.
func (m *Manager) Status() StatusSummary {
	inFlight := m.InFlight()
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary := StatusSummary{
		Running:       m.running,
		Workers:       m.workers,
		QueueDepth:    len(m.queue),
		QueueCapacity: cap(m.queue),
		InFlight:      inFlight,
		Processed:     m.counters.processed,
		Failed:        m.counters.failed,
		KnownBad:      m.counters.knownBad,
		Skipped:       m.counters.skipped,
		LastFile:      m.lastFile,
		LastProcessed: m.lastDone,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	return summary
}

func (m *Manager) recordSuccess(name string) {
	m.mu.Lock()
	m.counters.processed++
	m.lastFile = name
	m.lastDone = time.Now()
	m.mu.Unlock()
}

func (m *Manager) recordFailure(name string, err error) {
	m.mu.Lock()
	m.counters.failed++
	m.lastFile = name
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) recordKnownBad() {
	m.mu.Lock()
	m.counters.knownBad++
	m.mu.Unlock()
}

func (m *Manager) skip(outcome Outcome) {
	m.mu.Lock()
	m.counters.skipped++
	m.mu.Unlock()
	m.observer.FileSkipped(string(outcome))
}
