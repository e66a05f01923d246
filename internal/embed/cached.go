package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanctx/internal/domain"
	"github.com/Aman-CERP/amanctx/internal/ports"
	"github.com/Aman-CERP/amanctx/internal/telemetry"
)

// CachedEmbedder wraps a provider with an LRU of recent embeddings keyed by
// model and text.
type CachedEmbedder struct {
	inner ports.EmbeddingProvider
	cache *lru.Cache[string, domain.Embedding]
}

var _ ports.EmbeddingProvider = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner. size <= 0 uses DefaultCacheSize.
func NewCachedEmbedder(inner ports.EmbeddingProvider, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, domain.Embedding](size) // size is positive
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	key := c.key(text)
	if emb, ok := c.cache.Get(key); ok {
		telemetry.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return emb, nil
	}
	telemetry.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	emb, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.Embedding{}, err
	}
	c.cache.Add(key, emb)
	return emb, nil
}

// EmbedBatch serves cached texts directly and sends the rest to the inner
// provider in one batch.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	results := make([]domain.Embedding, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, text := range texts {
		if emb, ok := c.cache.Get(c.key(text)); ok {
			results[i] = emb
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	telemetry.EmbeddingCacheTotal.WithLabelValues("hit").Add(float64(len(texts) - len(missTexts)))
	telemetry.EmbeddingCacheTotal.WithLabelValues("miss").Add(float64(len(missTexts)))
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = fresh[j]
		c.cache.Add(c.key(texts[idx]), fresh[j])
	}
	return results, nil
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Close purges the cache and closes the inner provider.
func (c *CachedEmbedder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

// Inner returns the wrapped provider.
func (c *CachedEmbedder) Inner() ports.EmbeddingProvider {
	return c.inner
}
