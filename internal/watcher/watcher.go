// Package watcher turns filesystem events in the input directory into
// dispatch calls once a file has stopped changing.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"billingest/internal/logging"
)

// Handler receives a settled path.
type Handler func(ctx context.Context, path string)

// Watcher debounces create and write events per path.
type Watcher struct {
	dir    string
	settle time.Duration
	handle Handler
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New builds a watcher for dir. A settle of zero publishes on the first event.
func New(dir string, settle time.Duration, handle Handler, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:    dir,
		settle: settle,
		handle: handle,
		logger: logging.NewComponentLogger(logger, "watcher"),
		timers: make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled. It returns an error only when the
// watch cannot be established.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching input directory",
		logging.String("dir", w.dir),
		logging.Duration("settle", w.settle),
		logging.Event("watch_start"),
	)
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.arm(ctx, event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error",
				logging.Error(err),
				logging.Event("watch_error"),
				logging.Impact("events may be missed until the next scan"),
			)
		}
	}
}

// Pending reports how many paths are waiting to settle.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

func (w *Watcher) arm(ctx context.Context, path string) {
	path = filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.handle(ctx, path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}
