package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/watcher"
)

// Publisher receives ConfigReloaded events.
type Publisher interface {
	Publish(e events.Event) int
}

// Watcher holds the current configuration snapshot and swaps it when the
// config file changes. Readers always see a complete, validated snapshot.
type Watcher struct {
	path    string
	opts    LoadOptions
	bus     Publisher
	logger  *slog.Logger
	current atomic.Pointer[Config]

	mu sync.Mutex
	fw *watcher.Watcher
}

// NewWatcher wraps an initial snapshot. opts are reused on every reload, so
// the same layers and env overrides apply. File must name the watched file.
func NewWatcher(initial *Config, opts LoadOptions, bus Publisher, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{path: opts.File, opts: opts, bus: bus, logger: logger}
	w.current.Store(initial)
	return w
}

// Current returns the active snapshot. Callers must not mutate it.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Reload re-reads the configuration. An invalid file leaves the current
// snapshot in place and returns the error. On success it publishes one
// ConfigReloaded per changed top-level section and returns their names.
func (w *Watcher) Reload() ([]string, error) {
	next, err := Load(w.opts)
	if err != nil {
		w.logger.Warn("config reload rejected", slog.String("path", w.path), slog.String("error", err.Error()))
		return nil, err
	}
	prev := w.current.Swap(next)
	changed := ChangedSections(prev, next)
	for _, section := range changed {
		if w.bus != nil {
			w.bus.Publish(events.ConfigReloaded{Section: section})
		}
	}
	if len(changed) > 0 {
		w.logger.Info("config reloaded", slog.String("path", w.path), slog.Any("sections", changed))
	}
	return changed, nil
}

// Start watches the config file's directory until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	dir, base := filepath.Split(w.path)
	fw, err := watcher.New(dir, watcher.Options{
		Debounce: 100 * time.Millisecond,
		Ignore:   func(rel string, _ bool) bool { return rel != base },
	})
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	w.fw = fw
	w.mu.Unlock()

	go func() {
		for batch := range fw.Events() {
			if deletedOnly(batch) {
				continue
			}
			_, _ = w.Reload()
		}
	}()
	return nil
}

// Stop ends file watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fw == nil {
		return nil
	}
	err := w.fw.Stop()
	w.fw = nil
	return err
}

func deletedOnly(batch []watcher.FileEvent) bool {
	for _, ev := range batch {
		if ev.Operation != watcher.OpDelete {
			return false
		}
	}
	return true
}
