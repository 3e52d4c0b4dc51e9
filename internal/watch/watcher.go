// ABOUTME: Watches tier database files and triggers a debounced reload when another process changes them
// ABOUTME: Built on fsnotify; SQLite sidecar files (-wal, -shm, -journal) count as changes to their database

package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when Config.Debounce is zero.
const DefaultDebounce = 100 * time.Millisecond

// ErrRunning is returned by Run when the watcher is already running.
var ErrRunning = errors.New("watcher already running")

// Config contains configuration for the watcher.
type Config struct {
	// Paths are the database files to watch. Their parent directories are
	// watched so replaced files and sidecars are seen.
	Paths []string

	// Debounce is the quiet period after the last event before onChange runs.
	Debounce time.Duration
}

// Watcher triggers a callback when any watched database changes on disk.
type Watcher struct {
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	debounce *Debouncer
	// files maps a directory to the database base names watched in it
	files map[string][]string

	mu      sync.Mutex
	running bool
}

// New creates a watcher for cfg.Paths. Nothing is observed until Run.
func New(cfg Config, logger *slog.Logger) (*Watcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("no paths to watch")
	}
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Debounce
	if interval <= 0 {
		interval = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	files := make(map[string][]string)
	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		dir := filepath.Dir(abs)
		files[dir] = append(files[dir], filepath.Base(abs))
	}

	return &Watcher{
		fsw:      fsw,
		logger:   logger.With("component", "watch"),
		debounce: NewDebouncer(interval),
		files:    files,
	}, nil
}

// Run watches until ctx is done. onChange runs on the debouncer's goroutine
// after each burst of changes; its errors are logged and watching continues.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrRunning
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	for dir := range w.files {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		w.logger.Debug("watching directory", "path", dir, "files", w.files[dir])
	}

	for {
		select {
		case <-ctx.Done():
			w.debounce.Stop()
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}

			w.logger.Debug("database change detected", "path", event.Name, "op", event.Op.String())

			w.debounce.Trigger(func() {
				if err := onChange(ctx); err != nil {
					w.logger.Error("reload after change failed", "error", err)
				}
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.debounce.Stop()
	if err := w.fsw.Close(); err != nil {
		return fmt.Errorf("closing watcher: %w", err)
	}
	return nil
}

// relevant reports whether event touches a watched database or its sidecars.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	dir := filepath.Dir(event.Name)
	base := filepath.Base(event.Name)
	for _, name := range w.files[dir] {
		if base == name || strings.HasPrefix(base, name+"-") {
			return true
		}
	}
	return false
}

// Debouncer collects rapid events and runs the latest callback only after a
// quiet period.
type Debouncer struct {
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules callback, replacing any pending one.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	cb := d.callback
	d.callback = nil
	stopped := d.stopped
	d.mu.Unlock()

	if cb != nil && !stopped {
		cb()
	}
}

// Stop cancels any pending callback. It may be called more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
