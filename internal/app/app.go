// Package app resolves every provider from configuration and assembles the
// services on top of them. An App owns everything it builds and tears it
// down in reverse order on Close.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aman-CERP/amanctx/internal/config"
	"github.com/Aman-CERP/amanctx/internal/contextsvc"
	"github.com/Aman-CERP/amanctx/internal/database"
	"github.com/Aman-CERP/amanctx/internal/embed"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/filehash"
	"github.com/Aman-CERP/amanctx/internal/indexing"
	"github.com/Aman-CERP/amanctx/internal/memory"
	"github.com/Aman-CERP/amanctx/internal/ports"
	"github.com/Aman-CERP/amanctx/internal/providers"
	"github.com/Aman-CERP/amanctx/internal/scanner"
	"github.com/Aman-CERP/amanctx/internal/search"
	"github.com/Aman-CERP/amanctx/internal/telemetry"
)

// LockFile is created in the data directory while an App holds it.
const LockFile = "amanctx.lock"

// ServiceName is reported in ServiceStateChanged events.
const ServiceName = "amanctx"

// Options tunes Build.
type Options struct {
	Logger *slog.Logger
	// Registerer receives the prometheus collectors. Nil skips registration.
	Registerer prometheus.Registerer
	// Gatherer feeds MetricsSnapshot events; nil uses the default gatherer.
	Gatherer prometheus.Gatherer
}

// App is the resolved service graph.
type App struct {
	Logger *slog.Logger

	DB       ports.DatabaseExecutor
	Bus      ports.EventBusProvider
	Vectors  ports.VectorStoreProvider
	Lexical  ports.LexicalIndex
	Embedder *embed.Swappable
	Cache    ports.CacheProvider
	Chunker  ports.LanguageChunker
	Hashes   *filehash.Repository
	Scanner  *scanner.Scanner
	Tracker  ports.OperationTracker
	VCS      ports.VCSProvider
	Analyzer ports.CodeAnalyzer
	Projects ports.ProjectDetector

	Indexer  *indexing.Engine
	Searcher *search.Cached
	Context  *contextsvc.Service
	Memory   *memory.Service
	Queries  *telemetry.QueryStats
	Reporter *telemetry.Reporter

	cfgMu    sync.RWMutex
	cfg      *config.Config
	embedCfg config.EmbeddingConfig
	watcher  *config.Watcher

	lock    *flock.Flock
	closers []namedCloser

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closeMu sync.Once
	closeErr error
}

type namedCloser struct {
	name  string
	close func() error
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Build resolves providers for cfg and wires the services. On failure
// everything built so far is closed again.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	if cfg == nil {
		return nil, amerrors.Configuration("configuration is required", nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	a := &App{Logger: opts.Logger, cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.closeAll()
		}
	}()

	if opts.Registerer != nil {
		if err := telemetry.Register(opts.Registerer); err != nil {
			return nil, amerrors.Configuration("register metrics", err)
		}
	}
	if err := a.acquireLock(cfg.DataDir); err != nil {
		return nil, err
	}
	if err := a.resolveStorage(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.resolveServices(cfg); err != nil {
		return nil, err
	}
	a.Logger.Info("app_built",
		slog.String("data_dir", cfg.DataDir),
		slog.String("embedding", cfg.Providers.Embedding.Provider),
		slog.String("vector_store", cfg.Providers.VectorStore.Provider),
		slog.String("lexical", cfg.Providers.Lexical.Provider),
		slog.String("cache", cfg.Providers.Cache.Provider))

	a.Reporter = telemetry.NewReporter(a.Bus, telemetry.ReporterOptions{
		Gatherer: opts.Gatherer,
		Stats:    a.Queries,
		Interval: seconds(cfg.Server.MetricsIntervalSecs),
		Logger:   a.Logger,
	})
	return a, nil
}

// acquireLock takes an exclusive lock on the data directory so two
// processes never share one namespace.
func (a *App) acquireLock(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return amerrors.Infrastructure(fmt.Sprintf("create data dir %s", dataDir), err)
	}
	lock := flock.New(filepath.Join(dataDir, LockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return amerrors.Infrastructure("lock data dir", err)
	}
	if !ok {
		return amerrors.New(amerrors.ErrCodeNamespaceLocked,
			fmt.Sprintf("data dir %s is in use by another amanctx process", dataDir), nil).
			WithSuggestion("stop the other process or set a different data_dir")
	}
	a.lock = lock
	a.onClose("lock", lock.Unlock)
	return nil
}

func (a *App) resolveStorage(ctx context.Context, cfg *config.Config) error {
	p := cfg.Providers
	log := a.Logger

	dbEntry, ok := cfg.Database("")
	if !ok {
		return amerrors.Configuration(fmt.Sprintf("database %q is not configured", p.Database.Default), nil)
	}
	if dbEntry.Path != "" {
		if err := os.MkdirAll(filepath.Dir(dbEntry.Path), 0o755); err != nil {
			return amerrors.Infrastructure("create database dir", err)
		}
	}
	db, err := providers.Database.Resolve(dbEntry.Provider, providers.With(dbEntry, nil, log))
	if err != nil {
		return err
	}
	a.DB = db
	a.onClose("database", db.Close)
	if _, err := database.Migrate(ctx, db); err != nil {
		return err
	}

	bus, err := providers.EventBus.Resolve(p.EventBus.Provider, providers.With(p.EventBus, db, log))
	if err != nil {
		return err
	}
	a.Bus = bus
	a.onClose("event_bus", func() error { bus.Close(); return nil })

	if a.Vectors, err = providers.VectorStore.Resolve(p.VectorStore.Provider, providers.With(p.VectorStore, db, log)); err != nil {
		return err
	}
	a.onClose("vector_store", a.Vectors.Close)

	if a.Lexical, err = providers.Lexical.Resolve(p.Lexical.Provider, providers.With(p.Lexical, db, log)); err != nil {
		return err
	}
	a.onClose("lexical", a.Lexical.Close)

	emb, err := resolveEmbedder(p.Embedding, log)
	if err != nil {
		return err
	}
	a.Embedder = embed.NewSwappable(emb)
	a.embedCfg = p.Embedding
	// Close whatever provider is current at shutdown.
	a.onClose("embedding", a.Embedder.Close)

	if a.Cache, err = providers.Cache.Resolve(p.Cache.Provider, providers.With(p.Cache, db, log)); err != nil {
		return err
	}
	a.onClose("cache", a.Cache.Close)

	a.Hashes = filehash.New(db)
	return nil
}

func (a *App) resolveServices(cfg *config.Config) error {
	p := cfg.Providers
	log := a.Logger
	var err error

	if a.Chunker, err = providers.LanguageChunker.Resolve(p.Chunker.Provider, providers.With(p.Chunker, a.DB, log)); err != nil {
		return err
	}
	if a.Tracker, err = providers.OperationsTracker.Resolve(p.Operations.Provider, providers.With(p.Operations, a.DB, log)); err != nil {
		return err
	}
	if a.VCS, err = providers.VCS.Resolve(p.VCS.Provider, providers.With(p.VCS, a.DB, log)); err != nil {
		return err
	}
	if a.Analyzer, err = providers.CodeAnalyzer.Resolve(p.Analyzer.Provider, providers.With(p.Analyzer, a.DB, log)); err != nil {
		return err
	}
	if a.Projects, err = providers.ProjectDetector.Resolve(p.ProjectDetector.Provider, providers.With(p.ProjectDetector, a.DB, log)); err != nil {
		return err
	}

	idx := cfg.MCP.Indexing
	sc, err := scanner.New(scanner.Options{
		Extensions:  idx.SupportedExtensions,
		Exclude:     idx.Exclude,
		MaxFileSize: int64(idx.MaxFileSizeKB) * 1024,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	a.Scanner = sc

	engine := search.New(a.Vectors, a.Lexical, a.Embedder,
		search.Config{Alpha: cfg.Search.Alpha, Oversample: cfg.Search.Oversample},
		search.WithBus(a.Bus), search.WithLogger(log))
	a.Searcher = search.NewCached(engine, a.Cache, 0, log)

	a.Indexer, err = indexing.New(indexing.Deps{
		Vectors:     a.Vectors,
		Lexical:     a.Lexical,
		Embedder:    a.Embedder,
		Chunker:     a.Chunker,
		Hashes:      a.Hashes,
		Tracker:     a.Tracker,
		Bus:         a.Bus,
		Scanner:     sc,
		DB:          a.DB,
		Invalidator: a.Searcher,
	}, indexing.Options{
		Workers:          idx.Workers,
		BatchSize:        p.Embedding.BatchSize,
		ProgressEvery:    idx.ProgressEvery,
		ProgressInterval: millis(idx.ProgressIntervalMs),
		FileTimeout:      seconds(idx.FileTimeoutSecs),
		Logger:           log,
	})
	if err != nil {
		return err
	}
	a.onClose("indexer", a.Indexer.Close)

	a.Context = contextsvc.New(contextsvc.Deps{
		Vectors:     a.Vectors,
		Lexical:     a.Lexical,
		Embedder:    a.Embedder,
		Hashes:      a.Hashes,
		Searcher:    a.Searcher,
		Indexer:     a.Indexer,
		Invalidator: a.Searcher,
		Logger:      log,
	})
	a.Memory = memory.New(a.DB, a.Vectors, a.Embedder, memory.Options{
		Alpha:  cfg.Search.Alpha,
		Bus:    a.Bus,
		Logger: log,
	})
	a.Queries = telemetry.NewQueryStats(a.DB, telemetry.QueryStatsOptions{})
	return nil
}

// resolveEmbedder builds the configured provider, wrapped in an LRU cache
// when cache_size is positive.
func resolveEmbedder(cfg config.EmbeddingConfig, logger *slog.Logger) (ports.EmbeddingProvider, error) {
	emb, err := providers.Embedding.Resolve(cfg.Provider, providers.With(cfg, nil, logger))
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		return embed.NewCachedEmbedder(emb, cfg.CacheSize), nil
	}
	return emb, nil
}

// Config returns the configuration snapshot the App currently follows.
func (a *App) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	if a.watcher != nil {
		return a.watcher.Current()
	}
	return a.cfg
}

// ReloadEmbedder swaps the embedding provider when cfg differs from the
// active one. The previous provider is closed after the swap; calls already
// holding it finish normally or fail with a closed-provider error.
func (a *App) ReloadEmbedder(cfg config.EmbeddingConfig) (bool, error) {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	if reflect.DeepEqual(cfg, a.embedCfg) {
		return false, nil
	}
	next, err := resolveEmbedder(cfg, a.Logger)
	if err != nil {
		return false, err
	}
	prev := a.Embedder.Swap(next)
	a.embedCfg = cfg
	if err := prev.Close(); err != nil {
		a.Logger.Warn("close previous embedding provider", slog.String("error", err.Error()))
	}
	a.Logger.Info("embedding_provider_swapped",
		slog.String("provider", cfg.Provider),
		slog.String("model", next.ModelName()),
		slog.Int("dimensions", next.Dimensions()))
	return true, nil
}

// WatchConfig follows the config file named by opts.File, publishing
// ConfigReloaded events that Start's router acts on.
func (a *App) WatchConfig(ctx context.Context, opts config.LoadOptions) error {
	if opts.File == "" {
		return amerrors.InvalidArgument("config watching needs an explicit config file")
	}
	w := config.NewWatcher(a.cfg, opts, a.Bus, a.Logger)
	if err := w.Start(ctx); err != nil {
		return amerrors.Infrastructure("watch config file", err)
	}
	a.cfgMu.Lock()
	a.watcher = w
	a.cfgMu.Unlock()
	a.onClose("config_watcher", w.Stop)
	return nil
}

// Start launches the background loops: the event router and the telemetry
// reporter. They stop on Close or when ctx ends.
func (a *App) Start(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	sub := a.Bus.Subscribe()

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		defer sub.Close()
		a.route(ctx, sub)
	}()
	go func() {
		defer a.wg.Done()
		a.Reporter.Run(ctx)
	}()
	a.Bus.Publish(events.ServiceStateChanged{Service: ServiceName, State: "running"})
}

// Close stops the background loops and releases every resource in reverse
// order of acquisition. It is safe to call more than once.
func (a *App) Close() error {
	a.closeMu.Do(func() {
		a.runMu.Lock()
		cancel := a.cancel
		a.runMu.Unlock()
		if cancel != nil {
			a.Bus.Publish(events.ServiceStateChanged{Service: ServiceName, State: "stopping"})
			cancel()
			a.wg.Wait()
		}
		a.closeErr = a.closeAll()
	})
	return a.closeErr
}

func (a *App) closeAll() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}
