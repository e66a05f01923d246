// Package search implements hybrid retrieval over an indexed collection:
// dense vector similarity fused linearly with BM25 term scores.
package search

import (
	"context"

	"github.com/Aman-CERP/amanctx/internal/domain"
)

// Metadata keys of the per-result score breakdown.
const (
	MetaSemanticScore = "semantic_score"
	MetaLexScore      = "lex_score"
	MetaFinal         = "final"
)

// Searcher runs hybrid searches.
type Searcher interface {
	Search(ctx context.Context, collection, query string, opts SearchOptions) ([]Result, error)
}

// SearchOptions configures one query.
type SearchOptions struct {
	// Limit bounds the result count. Zero returns no results.
	Limit int

	// Alpha overrides the semantic weight of the engine (0-1).
	Alpha *float64

	// Language keeps only chunks of this language ("rust", "go").
	Language string

	// Kind keeps only chunks whose symbol kind matches ("function", "class").
	Kind string

	// Scopes restricts results to files under any of these path prefixes.
	Scopes []string

	// SemanticOnly skips the lexical stream.
	SemanticOnly bool
}

// Result is one ranked chunk. Metadata carries the score breakdown under
// semantic_score, lex_score and final, plus the chunk's symbol and kind
// when known.
type Result = domain.SearchResult

// Config holds engine defaults.
type Config struct {
	// Alpha weights the semantic stream; 1-Alpha weights the lexical one.
	Alpha float64
	// Oversample multiplies the limit for each stream so fusion has room.
	// Values below 2 are raised to 2.
	Oversample int
}

// DefaultConfig returns alpha 0.7 and oversample 2.
func DefaultConfig() Config {
	return Config{Alpha: 0.7, Oversample: 2}
}
