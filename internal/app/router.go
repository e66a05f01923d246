package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/indexing"
	"github.com/Aman-CERP/amanctx/internal/search"
)

// snapshotter is implemented by vector stores that persist to disk.
type snapshotter interface {
	Save() ([]string, error)
	SnapshotPath(name string) string
}

// route reacts to bus events until ctx ends or the bus closes. Search cache
// invalidation does not depend on it: writers invalidate synchronously.
func (a *App) route(ctx context.Context, sub *events.Subscription) {
	for {
		e, err := sub.Recv(ctx)
		if err != nil {
			var lagged *events.LaggedError
			if errors.As(err, &lagged) {
				a.Logger.Warn("app router lagged", slog.Uint64("missed", lagged.Missed))
				continue
			}
			return
		}
		a.handle(ctx, e)
	}
}

func (a *App) handle(ctx context.Context, e events.Event) {
	switch ev := e.(type) {
	case events.IndexingCompleted:
		a.snapshot(ev.Collection)
	case events.SyncCompleted:
		a.snapshot(ev.Collection)
	case events.CacheInvalidate:
		if ev.Namespace == search.CacheNamespace {
			a.invalidateAll(ctx)
		}
	case events.ConfigReloaded:
		if ev.Section != "providers" {
			return
		}
		if _, err := a.ReloadEmbedder(a.Config().Providers.Embedding); err != nil {
			a.Logger.Error("embedding provider reload failed", slog.String("error", err.Error()))
		}
	case events.IndexRebuild:
		a.Logger.Info("index_rebuild_requested",
			slog.String("collection", ev.Collection),
			slog.String("reason", ev.Reason))
		if err := a.Indexer.ClearCollection(ctx, ev.Collection); err != nil {
			a.Logger.Error("index rebuild clear failed",
				slog.String("collection", ev.Collection),
				slog.String("error", err.Error()))
			return
		}
	}
}

func (a *App) invalidateAll(ctx context.Context) {
	if err := a.Searcher.InvalidateAll(ctx); err != nil {
		a.Logger.Warn("search cache clear failed", slog.String("error", err.Error()))
	}
}

// snapshot persists dirty vector collections and announces the one that
// just changed.
func (a *App) snapshot(collection string) {
	s, ok := a.Vectors.(snapshotter)
	if !ok {
		return
	}
	saved, err := s.Save()
	if err != nil {
		a.Logger.Error("vector snapshot failed", slog.String("error", err.Error()))
		return
	}
	backend := indexing.BackendName(collection)
	for _, name := range saved {
		if name == backend {
			a.Bus.Publish(events.SnapshotCreated{Collection: collection, Path: s.SnapshotPath(name)})
		}
	}
}

// Health probes each collaborator and publishes the result. The map holds
// "ok" or an error message per check, plus "status".
func (a *App) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	check := func(name string, err error) {
		if err != nil {
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	_, err := a.DB.QueryOne(ctx, "SELECT 1")
	check("database", err)
	_, err = a.Cache.Exists(ctx, "health")
	check("cache", err)
	_, err = a.Vectors.HasCollection(ctx, "health")
	check("vector_store", err)
	if a.Embedder.Dimensions() <= 0 {
		checks["embedding"] = "provider reports no dimensions"
	} else {
		checks["embedding"] = "ok"
	}

	status := "healthy"
	for _, v := range checks {
		if v != "ok" {
			status = "degraded"
			break
		}
	}
	a.Bus.Publish(events.HealthCheckCompleted{Status: status, Checks: checks})
	out := make(map[string]string, len(checks)+1)
	for k, v := range checks {
		out[k] = v
	}
	out["status"] = status
	return out
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
