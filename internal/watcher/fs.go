package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a root directory with fsnotify and emits debounced batches.
type Watcher struct {
	root string
	opts Options

	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a watcher for root. Call Start to begin delivering events.
func New(root string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		root:      abs,
		opts:      opts,
		fsw:       fsw,
		debouncer: NewDebouncer(opts.Debounce),
		events:    make(chan []FileEvent, 16),
		errors:    make(chan error, 16),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Events returns debounced batches. Closed after Stop.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns watcher errors. Closed after Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start registers the root (and, if recursive, its subdirectories) and runs
// the event loop until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		_ = w.fsw.Close()
		return err
	}
	w.started.Store(true)
	go w.loop(ctx)
	go w.forward()
	return nil
}

// Stop shuts the watcher down. Safe to call multiple times.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.fsw.Close()
		if w.started.Load() {
			<-w.done
		} else {
			close(w.events)
			close(w.errors)
		}
		w.debouncer.Stop()
	})
	return err
}

func (w *Watcher) addTree(dir string) error {
	if !w.opts.Recursive {
		return w.fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(w.root, path)
		if rel != "." && w.ignored(rel, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(rel string, isDir bool) bool {
	return w.opts.Ignore != nil && w.opts.Ignore(filepath.ToSlash(rel), isDir)
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			go func() { _ = w.Stop() }()
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				slog.Warn("watcher error dropped", slog.String("error", err.Error()))
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}
	if rel == "." || w.ignored(rel, isDir) {
		return
	}

	var op Operation
	switch {
	case ev.Op.Has(fsnotify.Create):
		op = OpCreate
		if isDir && w.opts.Recursive {
			_ = w.addTree(ev.Name)
		}
	case ev.Op.Has(fsnotify.Write):
		op = OpModify
	case ev.Op.Has(fsnotify.Remove):
		op = OpDelete
	case ev.Op.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      filepath.ToSlash(rel),
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

func (w *Watcher) forward() {
	defer close(w.events)
	defer close(w.errors)
	for batch := range w.debouncer.Output() {
		select {
		case w.events <- batch:
		case <-w.stopCh:
		}
	}
}
