package lexical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

const (
	codeTokenizerName = "amanctx_code_tokenizer"
	codeAnalyzerName  = "amanctx_code"
	contentField      = "content"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName,
		func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
			return codeTokenizer{}, nil
		})
}

// codeTokenizer feeds Tokenize output to bleve. Offsets are approximate:
// only term matching is used, never highlighting.
type codeTokenizer struct{}

func (codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	lower := strings.ToLower(string(input))
	tokens := Tokenize(string(input))
	stream := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, tok := range tokens {
		start := offset
		if at := strings.Index(lower[offset:], tok); at >= 0 {
			start = offset + at
		}
		end := start + len(tok)
		if end <= len(lower) {
			offset = end
		}
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return stream
}

type bleveDoc struct {
	Content string `json:"content"`
}

// Bleve keeps one bleve index per collection, in memory or under dir.
type Bleve struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	indexes map[string]bleve.Index
	closed  bool
}

var _ ports.LexicalIndex = (*Bleve)(nil)

// NewBleve creates the index set. An empty dir keeps everything in memory.
func NewBleve(dir string, logger *slog.Logger) (*Bleve, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, amerrors.Infrastructure("create lexical index directory", err)
		}
	}
	return &Bleve{dir: dir, logger: logger, indexes: make(map[string]bleve.Index)}, nil
}

func indexMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
	})
	if err != nil {
		return nil, err
	}
	m.DefaultAnalyzer = codeAnalyzerName
	return m, nil
}

func (b *Bleve) path(collection string) string {
	return filepath.Join(b.dir, collection+".bleve")
}

// index returns the collection index, opening or creating it when create is
// set. Callers hold b.mu for writing when create is true.
func (b *Bleve) index(collection string, create bool) (bleve.Index, error) {
	if b.closed {
		return nil, amerrors.Unavailable("lexical index is closed")
	}
	if idx, ok := b.indexes[collection]; ok {
		return idx, nil
	}
	if b.dir != "" {
		idx, err := b.openExisting(collection)
		if err != nil {
			return nil, err
		}
		if idx != nil {
			b.indexes[collection] = idx
			return idx, nil
		}
	}
	if !create {
		return nil, nil
	}

	m, err := indexMapping()
	if err != nil {
		return nil, amerrors.Internal("build lexical index mapping", err)
	}
	var idx bleve.Index
	if b.dir == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = bleve.New(b.path(collection), m)
	}
	if err != nil {
		return nil, amerrors.Infrastructure(fmt.Sprintf("create lexical index for %s", collection), err)
	}
	b.indexes[collection] = idx
	return idx, nil
}

// openExisting opens a persisted index. A corrupt index is removed so it can
// be rebuilt by the next indexing pass.
func (b *Bleve) openExisting(collection string) (bleve.Index, error) {
	path := b.path(collection)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err := checkIndexMeta(path); err == nil {
		idx, err := bleve.Open(path)
		if err == nil {
			return idx, nil
		}
		b.logger.Warn("lexical index failed to open, clearing",
			slog.String("collection", collection), slog.String("error", err.Error()))
	} else {
		b.logger.Warn("lexical index corrupted, clearing",
			slog.String("collection", collection), slog.String("error", err.Error()))
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, amerrors.Infrastructure("remove corrupted lexical index", err)
	}
	return nil, nil
}

func checkIndexMeta(path string) error {
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("index_meta.json is empty")
	}
	var meta map[string]any
	return json.Unmarshal(data, &meta)
}

func (b *Bleve) Index(ctx context.Context, collection string, docs map[string]string) error {
	if len(docs) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, err := b.index(collection, true)
	if err != nil {
		return err
	}
	batch := idx.NewBatch()
	for id, text := range docs {
		if err := batch.Index(id, bleveDoc{Content: text}); err != nil {
			return amerrors.Infrastructure(fmt.Sprintf("index document %s", id), err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return amerrors.Infrastructure("write lexical batch", err)
	}
	return nil
}

func (b *Bleve) Search(ctx context.Context, collection, query string, limit int) ([]ports.LexicalHit, error) {
	if limit <= 0 || len(Tokenize(query)) == 0 {
		return []ports.LexicalHit{}, nil
	}
	b.mu.Lock() // index may open a persisted collection lazily
	idx, err := b.index(collection, false)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return []ports.LexicalHit{}, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField(contentField)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, amerrors.Infrastructure("lexical search", err)
	}
	hits := make([]ports.LexicalHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, ports.LexicalHit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

func (b *Bleve) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, err := b.index(collection, false)
	if err != nil || idx == nil {
		return err
	}
	batch := idx.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := idx.Batch(batch); err != nil {
		return amerrors.Infrastructure("delete lexical documents", err)
	}
	return nil
}

// DropCollection closes and removes the collection index.
func (b *Bleve) DropCollection(ctx context.Context, collection string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return amerrors.Unavailable("lexical index is closed")
	}
	if idx, ok := b.indexes[collection]; ok {
		_ = idx.Close()
		delete(b.indexes, collection)
	}
	if b.dir != "" {
		if err := os.RemoveAll(b.path(collection)); err != nil {
			return amerrors.Infrastructure("remove lexical index", err)
		}
	}
	return nil
}

// Count returns the number of documents in collection.
func (b *Bleve) Count(collection string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, err := b.index(collection, false)
	if err != nil || idx == nil {
		return 0, err
	}
	n, err := idx.DocCount()
	return int(n), err
}

func (b *Bleve) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var firstErr error
	for name, idx := range b.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = amerrors.Infrastructure(fmt.Sprintf("close lexical index %s", name), err)
		}
	}
	b.indexes = nil
	return firstErr
}
