// Package embed provides the embedding providers: a deterministic static
// hash embedder, Ollama, and OpenAI-compatible APIs, plus an LRU decorator.
package embed

import (
	"fmt"
	"math"
	"time"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
)

const (
	// DefaultBatchSize is the number of texts sent per provider request.
	DefaultBatchSize = 32

	// MaxBatchSize caps the batch size to bound request memory.
	MaxBatchSize = 256

	// DefaultTimeout bounds a single provider request.
	DefaultTimeout = 60 * time.Second

	// StaticDimensions is the default dimensionality of the static embedder.
	StaticDimensions = 256

	// DefaultCacheSize is the number of embeddings kept by the LRU decorator.
	DefaultCacheSize = 1000
)

// normalizeVector scales v to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// toEmbeddings wraps raw vectors, failing when any vector does not have the
// expected dimensionality.
func toEmbeddings(vectors [][]float32, model string, dims int) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, len(vectors))
	for i, v := range vectors {
		if dims > 0 && len(v) != dims {
			return nil, amerrors.New(amerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("embedding %d has %d dimensions, expected %d", i, len(v), dims), nil)
		}
		out[i] = domain.NewEmbedding(v, model)
	}
	return out, nil
}

// batches splits texts into consecutive slices of at most size elements.
func batches(texts []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if size > MaxBatchSize {
		size = MaxBatchSize
	}
	var out [][]string
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, texts[start:end])
	}
	return out
}
