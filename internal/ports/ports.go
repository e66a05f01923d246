// Package ports defines the capability contracts consumed by the core services
// and satisfied by providers selected at startup.
//
// Every handle returned by a provider factory is safe for concurrent use and
// outlives any single in-flight call.
package ports

import (
	"context"
	"reflect"
	"time"

	"github.com/Aman-CERP/amanctx/internal/domain"
	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/ids"
)

// CacheStats describes backend counters when the backend exposes them.
type CacheStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// CacheProvider is a JSON key-value cache with optional per-entry TTL.
// Stats and Size return an Unavailable error when the backend has no metrics.
type CacheProvider interface {
	// GetJSON decodes the value at key into dst. Returns false when absent.
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	// SetJSON stores value at key. A zero ttl uses the provider default.
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (CacheStats, error)
	Size(ctx context.Context) (int, error)
	Close() error
}

// VectorRecord is a stored vector with its metadata.
type VectorRecord struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// VectorMatch is one nearest-neighbor hit. Score is cosine similarity in [0,1].
type VectorMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// VectorFilter restricts matches to records whose metadata has equal values
// for every key.
type VectorFilter map[string]any

// Matches reports whether meta satisfies every key of f. Numbers compare by
// value regardless of their Go type.
func (f VectorFilter) Matches(meta map[string]any) bool {
	for k, want := range f {
		got, ok := meta[k]
		if !ok || !sameValue(got, want) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// VectorStoreProvider manages named collections of equal-length vectors.
type VectorStoreProvider interface {
	// CreateCollection creates name with the given dimensionality. Creating an
	// existing collection with the same dimensions is a no-op.
	CreateCollection(ctx context.Context, name string, dims int) error
	DeleteCollection(ctx context.Context, name string) error
	HasCollection(ctx context.Context, name string) (bool, error)
	// Insert stores vectors with their metadata and returns one id per input,
	// in order. An "id" metadata value is used as the record id when present.
	Insert(ctx context.Context, name string, vectors [][]float32, metadata []map[string]any) ([]string, error)
	Search(ctx context.Context, name string, query []float32, limit int, filter VectorFilter) ([]VectorMatch, error)
	DeleteVectors(ctx context.Context, name string, ids []string) error
	// DeleteWhere removes the records matching filter and returns their ids.
	DeleteWhere(ctx context.Context, name string, filter VectorFilter) ([]string, error)
	GetByIDs(ctx context.Context, name string, ids []string) ([]VectorRecord, error)
	List(ctx context.Context, name string, limit int) ([]VectorRecord, error)
	Count(ctx context.Context, name string) (int, error)
	Close() error
}

// EmbeddingProvider turns text into dense vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) (domain.Embedding, error)
	// EmbedBatch embeds texts, returning one embedding per input in order.
	EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error)
	Dimensions() int
	ModelName() string
	Close() error
}

// LexicalHit is one term-matching hit.
type LexicalHit struct {
	ID    string
	Score float64
}

// LexicalIndex is a BM25-style term index partitioned by collection.
type LexicalIndex interface {
	Index(ctx context.Context, collection string, docs map[string]string) error
	Search(ctx context.Context, collection, query string, limit int) ([]LexicalHit, error)
	Delete(ctx context.Context, collection string, ids []string) error
	DropCollection(ctx context.Context, collection string) error
	Close() error
}

// LanguageChunker splits a source file into chunks.
type LanguageChunker interface {
	Chunk(ctx context.Context, path string, content []byte, language string) ([]domain.CodeChunk, error)
	Supports(language string) bool
}

// VCSInfo describes the repository state around a path.
type VCSInfo struct {
	Root   string `json:"root"`
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

// VCSProvider inspects version control metadata.
type VCSProvider interface {
	Detect(ctx context.Context, path string) (VCSInfo, bool, error)
	Name() string
}

// CodeStats summarizes one file.
type CodeStats struct {
	Language  string         `json:"language"`
	Lines     int            `json:"lines"`
	CodeLines int            `json:"code_lines"`
	Symbols   map[string]int `json:"symbols,omitempty"`
}

// CodeAnalyzer computes per-file statistics.
type CodeAnalyzer interface {
	Analyze(ctx context.Context, path string, content []byte, language string) (CodeStats, error)
}

// ProjectInfo identifies the kind of project rooted at a directory.
type ProjectInfo struct {
	Root      string   `json:"root"`
	Name      string   `json:"name"`
	Types     []string `json:"types"`
	Languages []string `json:"languages,omitempty"`
}

// ProjectDetector recognizes projects by their marker files.
type ProjectDetector interface {
	Detect(ctx context.Context, root string) (ProjectInfo, error)
}

// EventBusProvider is the publish/subscribe surface of the event bus.
type EventBusProvider interface {
	Publish(e events.Event) int
	PublishTopic(topic string, payload []byte)
	Subscribe() *events.Subscription
	HasSubscribers() bool
	Close()
}

// OperationTracker owns the live set of indexing operations.
type OperationTracker interface {
	// StartOperation registers a new operation in the Starting state.
	StartOperation(collection ids.CollectionID, name string, totalFiles int) string
	// UpdateProgress patches a non-terminal operation.
	UpdateProgress(id string, currentFile string, processed int)
	SetStatus(id string, status domain.OperationStatus, errs []string)
	Get(id string) (domain.IndexingOperation, bool)
	Active() []domain.IndexingOperation
	// CompleteOperation removes the entry.
	CompleteOperation(id string)
}

// FileHashRepository tracks per-collection file content hashes with tombstones.
type FileHashRepository interface {
	HasChanged(ctx context.Context, collection, path, hash string) (bool, error)
	UpsertHash(ctx context.Context, collection, path, hash string) error
	// GetHash returns "", false for unknown or tombstoned paths.
	GetHash(ctx context.Context, collection, path string) (string, bool, error)
	MarkDeleted(ctx context.Context, collection, path string) error
	GetIndexedFiles(ctx context.Context, collection string) ([]string, error)
	// Entries lists every entry of collection, tombstones included.
	Entries(ctx context.Context, collection string) ([]domain.FileHashEntry, error)
	ComputeHash(path string) (string, error)
	ClearCollection(ctx context.Context, collection string) error
}

// SearchInvalidator drops cached search results of a collection. Writers
// call it once their mutation is visible in the stores.
type SearchInvalidator interface {
	Invalidate(ctx context.Context, collection string) error
}
