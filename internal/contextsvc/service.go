// Package contextsvc is the collection-level facade used by protocol
// handlers: collection setup, chunk writes, similarity search and embedding.
package contextsvc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/amanctx/internal/chunk"
	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/indexing"
	"github.com/Aman-CERP/amanctx/internal/ports"
	"github.com/Aman-CERP/amanctx/internal/search"
)

// Service implements the context operations over the resolved providers.
// The embedder is typically an embed.Swappable, so every call uses the
// provider of the current configuration.
type Service struct {
	vectors  ports.VectorStoreProvider
	lexical  ports.LexicalIndex
	embedder ports.EmbeddingProvider
	hashes   ports.FileHashRepository
	searcher search.Searcher
	indexer  *indexing.Engine
	inval    ports.SearchInvalidator
	logger   *slog.Logger
}

// Deps are the collaborators of a Service. Lexical may be nil.
type Deps struct {
	Vectors  ports.VectorStoreProvider
	Lexical  ports.LexicalIndex
	Embedder ports.EmbeddingProvider
	Hashes   ports.FileHashRepository
	Searcher search.Searcher
	Indexer  *indexing.Engine
	// Invalidator drops cached searches after StoreChunks. May be nil.
	Invalidator ports.SearchInvalidator
	Logger      *slog.Logger
}

// New creates the service.
func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		vectors:  deps.Vectors,
		lexical:  deps.Lexical,
		embedder: deps.Embedder,
		hashes:   deps.Hashes,
		searcher: deps.Searcher,
		indexer:  deps.Indexer,
		inval:    deps.Invalidator,
		logger:   deps.Logger,
	}
}

// Stats describes one collection.
type Stats struct {
	Collection   string `json:"collection"`
	Exists       bool   `json:"exists"`
	Vectors      int    `json:"vectors"`
	IndexedFiles int    `json:"indexed_files"`
	DeletedFiles int    `json:"deleted_files"`
	Model        string `json:"model"`
	Dimensions   int    `json:"dimensions"`
}

// Initialize ensures the collection exists with the embedder's
// dimensionality. It is idempotent.
func (s *Service) Initialize(ctx context.Context, collection string) error {
	if strings.TrimSpace(collection) == "" {
		return amerrors.InvalidArgument("collection name is required")
	}
	return s.vectors.CreateCollection(ctx, indexing.BackendName(collection), s.embedder.Dimensions())
}

// StoreChunks embeds and writes chunks, replacing any with the same id, and
// returns their ids in order. Chunks without an id get the content-derived
// one. The lexical index is updated and cached searches of the collection
// are dropped before StoreChunks returns.
func (s *Service) StoreChunks(ctx context.Context, collection string, chunks []domain.CodeChunk) ([]string, error) {
	if len(chunks) == 0 {
		return []string{}, nil
	}
	if err := s.Initialize(ctx, collection); err != nil {
		return nil, err
	}
	texts := make([]string, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		if c.FilePath == "" || c.Content == "" {
			return nil, amerrors.InvalidArgument("chunk %d: file_path and content are required", i)
		}
		if c.Language == "" {
			c.Language = chunk.DetectLanguage(c.FilePath)
		}
		if c.StartLine <= 0 {
			c.StartLine = 1
		}
		if c.EndLine < c.StartLine {
			c.EndLine = c.StartLine + strings.Count(c.Content, "\n")
		}
		if c.ID == "" {
			c.ID = chunk.ChunkID(c.FilePath, c.StartLine, c.Content)
		}
		texts[i] = chunk.EmbeddingText(*c)
	}

	embs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embs) != len(chunks) {
		return nil, amerrors.Embedding(
			fmt.Sprintf("embedding batch returned %d vectors for %d chunks", len(embs), len(chunks)), nil)
	}

	backend := indexing.BackendName(collection)
	ids := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	metas := make([]map[string]any, len(chunks))
	docs := make(map[string]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		vectors[i] = embs[i].Vector
		metas[i] = indexing.ChunkMetadata(c)
		docs[c.ID] = indexing.LexicalText(c)
	}
	if err := s.vectors.DeleteVectors(ctx, backend, ids); err != nil {
		return nil, err
	}
	stored, err := s.vectors.Insert(ctx, backend, vectors, metas)
	if err != nil {
		return nil, err
	}
	if s.lexical != nil {
		if err := s.lexical.Index(ctx, backend, docs); err != nil {
			return nil, err
		}
	}
	if s.inval != nil {
		if err := s.inval.Invalidate(ctx, collection); err != nil {
			s.logger.Warn("search cache invalidation failed",
				slog.String("collection", collection),
				slog.String("error", err.Error()))
		}
	}
	return stored, nil
}

// SearchSimilar runs a hybrid search. A zero limit returns no results.
func (s *Service) SearchSimilar(ctx context.Context, collection, query string, limit int) ([]search.Result, error) {
	return s.searcher.Search(ctx, collection, query, search.SearchOptions{Limit: limit})
}

// EmbedText embeds text with the currently configured provider.
func (s *Service) EmbedText(ctx context.Context, text string) (domain.Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Embedding{}, amerrors.InvalidArgument("text is empty")
	}
	return s.embedder.Embed(ctx, text)
}

// ClearCollection drops the collection's vectors, lexical documents and file
// hashes. It fails while the collection is being indexed.
func (s *Service) ClearCollection(ctx context.Context, collection string) error {
	return s.indexer.ClearCollection(ctx, collection)
}

// GetStats reports the size of a collection. Missing collections report
// Exists false rather than an error.
func (s *Service) GetStats(ctx context.Context, collection string) (Stats, error) {
	if strings.TrimSpace(collection) == "" {
		return Stats{}, amerrors.InvalidArgument("collection name is required")
	}
	backend := indexing.BackendName(collection)
	st := Stats{
		Collection: collection,
		Model:      s.embedder.ModelName(),
		Dimensions: s.embedder.Dimensions(),
	}
	exists, err := s.vectors.HasCollection(ctx, backend)
	if err != nil {
		return Stats{}, err
	}
	if !exists {
		return st, nil
	}
	st.Exists = true
	if st.Vectors, err = s.vectors.Count(ctx, backend); err != nil {
		return Stats{}, err
	}
	entries, err := s.hashes.Entries(ctx, backend)
	if err != nil {
		return Stats{}, err
	}
	for _, e := range entries {
		if e.Deleted {
			st.DeletedFiles++
			continue
		}
		st.IndexedFiles++
	}
	return st, nil
}

// EmbeddingDimensions returns the current provider's dimensionality.
func (s *Service) EmbeddingDimensions() int {
	return s.embedder.Dimensions()
}
