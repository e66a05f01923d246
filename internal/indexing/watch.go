package indexing

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"time"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/watcher"
)

const ignoreFile = ".gitignore"

// Sync runs an incremental pass and waits for it. When a pass is already
// running it waits for that one first, so changes made during it are seen.
func (e *Engine) Sync(ctx context.Context, root, collection string) (Report, error) {
	res, err := e.IndexCodebase(ctx, root, collection)
	if err != nil {
		return Report{}, err
	}
	if res.Status == StatusAlreadyRunning {
		if _, err := e.Wait(ctx, res.OperationID); err != nil {
			return Report{}, err
		}
		if res, err = e.IndexCodebase(ctx, root, collection); err != nil {
			return Report{}, err
		}
	}
	rep, err := e.Wait(ctx, res.OperationID)
	if err != nil {
		return Report{}, err
	}
	e.publish(events.SyncCompleted{
		Collection: collection,
		Updated:    rep.ProcessedFiles,
		Removed:    rep.Removed,
	})
	return rep, nil
}

// Watch keeps collection in sync with root until ctx ends. Each debounced
// batch of relevant changes publishes FileChangesDetected and triggers Sync.
func (e *Engine) Watch(ctx context.Context, root, collection string, debounce time.Duration) error {
	sc := e.deps.Scanner
	w, err := watcher.New(root, watcher.Options{
		Debounce:  debounce,
		Recursive: true,
		Ignore: func(rel string, isDir bool) bool {
			if isDir {
				return sc.SkipsDir(root, rel)
			}
			return path.Base(rel) != ignoreFile && !sc.Accepts(root, rel)
		},
	})
	if err != nil {
		return amerrors.Infrastructure("create workspace watcher", err)
	}
	if err := w.Start(ctx); err != nil {
		return amerrors.Infrastructure("start workspace watcher", err)
	}
	defer func() { _ = w.Stop() }()
	e.logger.Info("watch_started", slog.String("collection", collection), slog.String("path", w.Root()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			e.logger.Warn("watch_error", slog.String("error", err.Error()))
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			paths := e.changedPaths(batch)
			if len(paths) == 0 {
				continue
			}
			e.publish(events.FileChangesDetected{Collection: collection, Root: w.Root(), Paths: paths})
			rep, err := e.Sync(ctx, w.Root(), collection)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				e.logger.Warn("watch_sync_failed", slog.String("collection", collection), slog.String("error", err.Error()))
				continue
			}
			e.logger.Info("watch_synced",
				slog.String("collection", collection),
				slog.Int("updated", rep.ProcessedFiles),
				slog.Int("removed", rep.Removed))
		}
	}
}

// changedPaths returns the sorted file paths of a batch. An ignore file
// change drops the cached rules before the next pass.
func (e *Engine) changedPaths(batch []watcher.FileEvent) []string {
	seen := make(map[string]bool, len(batch))
	paths := make([]string, 0, len(batch))
	for _, ev := range batch {
		if ev.IsDir {
			continue
		}
		if path.Base(ev.Path) == ignoreFile {
			e.deps.Scanner.InvalidateIgnoreCache()
		}
		if !seen[ev.Path] {
			seen[ev.Path] = true
			paths = append(paths, ev.Path)
		}
	}
	sort.Strings(paths)
	return paths
}
