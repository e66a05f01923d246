// Package providers assembles the registry tables of every provider kind.
// Each table is built once at init; resolution never mutates them.
package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/amanctx/internal/analysis"
	"github.com/Aman-CERP/amanctx/internal/cache"
	"github.com/Aman-CERP/amanctx/internal/chunk"
	"github.com/Aman-CERP/amanctx/internal/config"
	"github.com/Aman-CERP/amanctx/internal/database"
	"github.com/Aman-CERP/amanctx/internal/embed"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/indexing"
	"github.com/Aman-CERP/amanctx/internal/lexical"
	"github.com/Aman-CERP/amanctx/internal/ports"
	"github.com/Aman-CERP/amanctx/internal/registry"
	"github.com/Aman-CERP/amanctx/internal/vcs"
	"github.com/Aman-CERP/amanctx/internal/vectorstore"
)

// Provider kinds.
const (
	KindEmbedding         = "embedding"
	KindVectorStore       = "vector_store"
	KindCache             = "cache"
	KindLanguageChunker   = "language_chunker"
	KindVCS               = "vcs"
	KindDatabase          = "database"
	KindEventBus          = "event_bus"
	KindOperationsTracker = "operations_tracker"
	KindCodeAnalyzer      = "code_analyzer"
	KindProjectDetector   = "project_detector"
	KindLexical           = "lexical"
)

// Params is what a factory receives: the kind's config section plus the
// shared collaborators some backends need. DB is nil when resolving the
// database itself.
type Params[C any] struct {
	Config C
	DB     ports.DatabaseExecutor
	Logger *slog.Logger
}

// With builds Params for cfg.
func With[C any](cfg C, db ports.DatabaseExecutor, logger *slog.Logger) Params[C] {
	if logger == nil {
		logger = slog.Default()
	}
	return Params[C]{Config: cfg, DB: db, Logger: logger}
}

type entry[C, H any] = registry.Entry[Params[C], H]

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Embedding resolves EmbeddingProvider by providers.embedding.provider.
var Embedding = registry.NewTable(KindEmbedding,
	entry[config.EmbeddingConfig, ports.EmbeddingProvider]{
		Name:        "static",
		Description: "offline hashed token and trigram embeddings",
		Factory: func(p Params[config.EmbeddingConfig]) (ports.EmbeddingProvider, error) {
			return embed.NewStaticEmbedder(p.Config.Model, p.Config.Dimensions), nil
		},
	},
	entry[config.EmbeddingConfig, ports.EmbeddingProvider]{
		Name:        "ollama",
		Description: "local Ollama /api/embed endpoint",
		Factory: func(p Params[config.EmbeddingConfig]) (ports.EmbeddingProvider, error) {
			timeout := seconds(p.Config.TimeoutSecs)
			ctx := context.Background()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return embed.NewOllamaEmbedder(ctx, embed.OllamaConfig{
				Host:       p.Config.BaseURL,
				Model:      p.Config.Model,
				Dimensions: p.Config.Dimensions,
				BatchSize:  p.Config.BatchSize,
				Timeout:    timeout,
				Logger:     p.Logger,
			})
		},
	},
	entry[config.EmbeddingConfig, ports.EmbeddingProvider]{
		Name:        "openai",
		Description: "OpenAI compatible /v1/embeddings API",
		Factory: func(p Params[config.EmbeddingConfig]) (ports.EmbeddingProvider, error) {
			return embed.NewOpenAIEmbedder(embed.OpenAIConfig{
				APIKey:            p.Config.APIKey,
				BaseURL:           p.Config.BaseURL,
				Model:             p.Config.Model,
				Dimensions:        p.Config.Dimensions,
				BatchSize:         p.Config.BatchSize,
				Timeout:           seconds(p.Config.TimeoutSecs),
				RequestsPerSecond: p.Config.RequestsPerSecond,
				Logger:            p.Logger,
			})
		},
	},
)

// VectorStore resolves VectorStoreProvider.
var VectorStore = registry.NewTable(KindVectorStore,
	entry[config.VectorStoreConfig, ports.VectorStoreProvider]{
		Name:        "memory",
		Description: "exact scan, not persisted",
		Factory: func(p Params[config.VectorStoreConfig]) (ports.VectorStoreProvider, error) {
			return vectorstore.New(vectorstore.Options{Logger: p.Logger})
		},
	},
	entry[config.VectorStoreConfig, ports.VectorStoreProvider]{
		Name:        "hnsw",
		Description: "HNSW graph snapshotted under path",
		Factory: func(p Params[config.VectorStoreConfig]) (ports.VectorStoreProvider, error) {
			if p.Config.Path == "" {
				return nil, amerrors.Configuration("hnsw vector store requires a path", nil)
			}
			return vectorstore.New(vectorstore.Options{Graph: true, Dir: p.Config.Path, Logger: p.Logger})
		},
	},
)

// Cache resolves CacheProvider.
var Cache = registry.NewTable(KindCache,
	entry[config.CacheConfig, ports.CacheProvider]{
		Name:        "memory",
		Description: "in-process TTL cache",
		Factory: func(p Params[config.CacheConfig]) (ports.CacheProvider, error) {
			return cache.NewMemory(seconds(p.Config.DefaultTTLSecs)), nil
		},
	},
	entry[config.CacheConfig, ports.CacheProvider]{
		Name:        "lru",
		Description: "in-process LRU bounded by max_size",
		Factory: func(p Params[config.CacheConfig]) (ports.CacheProvider, error) {
			return cache.NewLRU(p.Config.MaxSize, seconds(p.Config.DefaultTTLSecs))
		},
	},
	entry[config.CacheConfig, ports.CacheProvider]{
		Name:        "redis",
		Description: "shared redis server, keys prefixed by namespace",
		Factory: func(p Params[config.CacheConfig]) (ports.CacheProvider, error) {
			return cache.NewRedis(p.Config.RedisURL, p.Config.Namespace, seconds(p.Config.DefaultTTLSecs))
		},
	},
	entry[config.CacheConfig, ports.CacheProvider]{
		Name:        "null",
		Description: "stores nothing",
		Factory: func(Params[config.CacheConfig]) (ports.CacheProvider, error) {
			return cache.Null{}, nil
		},
	},
)

// Lexical resolves the term index. The sqlite entry needs Params.DB.
var Lexical = registry.NewTable(KindLexical,
	entry[config.LexicalConfig, ports.LexicalIndex]{
		Name:        "sqlite",
		Description: "FTS5 tables in the default database",
		Factory: func(p Params[config.LexicalConfig]) (ports.LexicalIndex, error) {
			if p.DB == nil {
				return nil, amerrors.Configuration("sqlite lexical index requires a database", nil)
			}
			return lexical.NewSQLite(context.Background(), p.DB)
		},
	},
	entry[config.LexicalConfig, ports.LexicalIndex]{
		Name:        "bleve",
		Description: "bleve index per collection under path",
		Factory: func(p Params[config.LexicalConfig]) (ports.LexicalIndex, error) {
			return lexical.NewBleve(p.Config.Path, p.Logger)
		},
	},
	entry[config.LexicalConfig, ports.LexicalIndex]{
		Name:        "none",
		Description: "semantic-only search",
		Factory: func(Params[config.LexicalConfig]) (ports.LexicalIndex, error) {
			return lexical.Disabled{}, nil
		},
	},
)

// LanguageChunker resolves the chunker.
var LanguageChunker = registry.NewTable(KindLanguageChunker,
	entry[config.ChunkerConfig, ports.LanguageChunker]{
		Name:        "treesitter",
		Description: "syntax-aware chunks for grammar-backed languages and markdown",
		Factory: func(p Params[config.ChunkerConfig]) (ports.LanguageChunker, error) {
			return chunk.NewTreeSitter(chunkOptions(p.Config), p.Logger)
		},
	},
	entry[config.ChunkerConfig, ports.LanguageChunker]{
		Name:        "lines",
		Description: "fixed line windows with overlap",
		Factory: func(p Params[config.ChunkerConfig]) (ports.LanguageChunker, error) {
			return chunk.NewLines(chunkOptions(p.Config))
		},
	},
	entry[config.ChunkerConfig, ports.LanguageChunker]{
		Name:        "markdown",
		Description: "heading sections; other files fall back to line windows",
		Factory: func(p Params[config.ChunkerConfig]) (ports.LanguageChunker, error) {
			return chunk.NewMarkdown(chunkOptions(p.Config))
		},
	},
)

func chunkOptions(c config.ChunkerConfig) chunk.Options {
	return chunk.Options{MaxLines: c.MaxLines, Overlap: c.Overlap}
}

// Database resolves a DatabaseExecutor from one database entry. Migrations
// are applied by the caller.
var Database = registry.NewTable(KindDatabase,
	entry[config.DatabaseEntry, ports.DatabaseExecutor]{
		Name:        "sqlite",
		Description: "embedded SQLite (pure Go), empty path for in-memory",
		Factory: func(p Params[config.DatabaseEntry]) (ports.DatabaseExecutor, error) {
			return database.Open(p.Config.Path, p.Logger)
		},
	},
)

// EventBus resolves the bus.
var EventBus = registry.NewTable(KindEventBus,
	entry[config.EventBusConfig, ports.EventBusProvider]{
		Name:        "broadcast",
		Description: "in-process fan-out with bounded per-subscriber buffers",
		Factory: func(p Params[config.EventBusConfig]) (ports.EventBusProvider, error) {
			return events.NewBus(p.Config.Capacity, p.Logger), nil
		},
	},
)

// OperationsTracker resolves the live indexing operation registry.
var OperationsTracker = registry.NewTable(KindOperationsTracker,
	entry[config.ProviderRef, ports.OperationTracker]{
		Name:        "memory",
		Description: "in-process operation table",
		Factory: func(Params[config.ProviderRef]) (ports.OperationTracker, error) {
			return indexing.NewTracker(), nil
		},
	},
)

// VCS resolves the version control provider.
var VCS = registry.NewTable(KindVCS,
	entry[config.ProviderRef, ports.VCSProvider]{
		Name:        "git",
		Description: "git CLI on PATH",
		Factory: func(Params[config.ProviderRef]) (ports.VCSProvider, error) {
			return vcs.NewGit()
		},
	},
	entry[config.ProviderRef, ports.VCSProvider]{
		Name:        "none",
		Description: "no version control",
		Factory: func(Params[config.ProviderRef]) (ports.VCSProvider, error) {
			return vcs.None{}, nil
		},
	},
)

// CodeAnalyzer resolves the per-file analyzer.
var CodeAnalyzer = registry.NewTable(KindCodeAnalyzer,
	entry[config.ProviderRef, ports.CodeAnalyzer]{
		Name:        "treesitter",
		Description: "line and symbol counts from tree-sitter",
		Factory: func(Params[config.ProviderRef]) (ports.CodeAnalyzer, error) {
			return analysis.NewTreeSitter(), nil
		},
	},
)

// ProjectDetector resolves the project detector.
var ProjectDetector = registry.NewTable(KindProjectDetector,
	entry[config.ProviderRef, ports.ProjectDetector]{
		Name:        "markers",
		Description: "build files in the project root",
		Factory: func(Params[config.ProviderRef]) (ports.ProjectDetector, error) {
			return analysis.NewMarkers(), nil
		},
	},
)

// Catalog lists provider names per kind.
func Catalog() map[string][]string {
	return registry.Catalog(Tables()...)
}

// Tables returns every table.
func Tables() []registry.Describer {
	return []registry.Describer{
		Embedding, VectorStore, Cache, Lexical, LanguageChunker, Database,
		EventBus, OperationsTracker, VCS, CodeAnalyzer, ProjectDetector,
	}
}
