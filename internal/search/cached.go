package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/amanctx/internal/ports"
)

// CacheNamespace is the CacheInvalidate namespace of search results.
const CacheNamespace = "search"

// Cached memoizes a Searcher in a CacheProvider. Result keys carry the
// collection's generation token, stored in the backend under
// "search:gen:<collection>", so every process sharing the backend stops
// reading earlier entries as soon as one of them calls Invalidate. Stale
// entries age out by TTL.
//
// A missing generation (never set, evicted or expired) is replaced by a
// fresh token, which can only cause misses.
type Cached struct {
	inner  Searcher
	cache  ports.CacheProvider
	ttl    time.Duration
	logger *slog.Logger
	newGen func() string
}

var (
	_ Searcher                = (*Cached)(nil)
	_ ports.SearchInvalidator = (*Cached)(nil)
)

// NewCached wraps inner. A zero ttl uses the cache's default.
func NewCached(inner Searcher, cache ports.CacheProvider, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, cache: cache, ttl: ttl, logger: logger, newGen: uuid.NewString}
}

// Search serves from the cache when possible. Cache failures are logged and
// fall through to the inner searcher.
func (c *Cached) Search(ctx context.Context, collection, query string, opts SearchOptions) ([]Result, error) {
	if opts.Limit <= 0 {
		return c.inner.Search(ctx, collection, query, opts)
	}
	// The key is fixed before searching: results computed while a write is
	// in flight land under the generation that write replaces.
	gen, err := c.generation(ctx, collection)
	if err != nil {
		c.logger.Warn("search cache generation read failed", slog.String("error", err.Error()))
		return c.inner.Search(ctx, collection, query, opts)
	}
	key := resultKey(collection, gen, query, opts)

	var cached []Result
	hit, err := c.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		c.logger.Warn("search cache read failed", slog.String("error", err.Error()))
	} else if hit {
		return cached, nil
	}

	results, err := c.inner.Search(ctx, collection, query, opts)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetJSON(ctx, key, results, c.ttl); err != nil {
		c.logger.Warn("search cache write failed", slog.String("error", err.Error()))
	}
	return results, nil
}

// Invalidate makes every cached result of collection unreachable. Writers
// call it after each mutation of the collection.
func (c *Cached) Invalidate(ctx context.Context, collection string) error {
	return c.cache.SetJSON(ctx, genKey(collection), c.newGen(), 0)
}

// InvalidateAll clears the whole cache backend.
func (c *Cached) InvalidateAll(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

func (c *Cached) generation(ctx context.Context, collection string) (string, error) {
	var gen string
	ok, err := c.cache.GetJSON(ctx, genKey(collection), &gen)
	if err != nil {
		return "", err
	}
	if ok && gen != "" {
		return gen, nil
	}
	gen = c.newGen()
	if err := c.cache.SetJSON(ctx, genKey(collection), gen, 0); err != nil {
		return "", err
	}
	return gen, nil
}

func genKey(collection string) string {
	return CacheNamespace + ":gen:" + collection
}

func resultKey(collection, gen, query string, opts SearchOptions) string {
	// SearchOptions has no unencodable fields.
	raw, _ := json.Marshal(struct {
		Q string        `json:"q"`
		O SearchOptions `json:"o"`
	}{query, opts})
	sum := sha256.Sum256(raw)
	return CacheNamespace + ":res:" + collection + ":" + gen + ":" + hex.EncodeToString(sum[:16])
}
