package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// StaticEmbedder hashes tokens and character trigrams into a fixed-size
// vector. It needs no network or model, and equal text always yields the
// same vector.
type StaticEmbedder struct {
	model string
	dims  int

	mu     sync.RWMutex
	closed bool
}

var _ ports.EmbeddingProvider = (*StaticEmbedder)(nil)

// programmingStopWords are keywords too common in code to carry meaning.
var programmingStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// NewStaticEmbedder creates a static embedder reporting model as its name.
// dims <= 0 uses StaticDimensions.
func NewStaticEmbedder(model string, dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	if model == "" {
		model = "static-hash-256"
	}
	return &StaticEmbedder{model: model, dims: dims}
}

func (e *StaticEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return amerrors.Embedding("static embedder is closed", nil)
	}
	return nil
}

// Embed embeds a single text. Blank text yields the zero vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) (domain.Embedding, error) {
	if err := e.checkOpen(); err != nil {
		return domain.Embedding{}, err
	}
	return domain.NewEmbedding(e.vector(text), e.model), nil
}

// EmbedBatch embeds each text in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]domain.Embedding, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, amerrors.Cancelled("embed batch", err)
		}
		out[i] = domain.NewEmbedding(e.vector(text), e.model)
	}
	return out, nil
}

func (e *StaticEmbedder) vector(text string) []float32 {
	vector := make([]float32, e.dims)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vector
	}
	for _, token := range filterStopWords(tokenize(trimmed)) {
		vector[hashToIndex(token, e.dims)] += tokenWeight
	}
	for _, ngram := range extractNgrams(normalizeForNgrams(trimmed), ngramSize) {
		vector[hashToIndex(ngram, e.dims)] += ngramWeight
	}
	return normalizeVector(vector)
}

func (e *StaticEmbedder) Dimensions() int { return e.dims }
func (e *StaticEmbedder) ModelName() string { return e.model }

// Close marks the embedder closed; later calls fail.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// tokenize splits text into lowercase identifier parts.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCodeToken(word) {
			if lower := strings.ToLower(t); lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// splitCodeToken splits snake_case, then camelCase.
func splitCodeToken(token string) []string {
	if !strings.Contains(token, "_") {
		return splitCamelCase(token)
	}
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, splitCamelCase(part)...)
		}
	}
	return result
}

// splitCamelCase splits at lower-to-upper transitions and before the last
// capital of an acronym ("HTTPServer" -> "HTTP", "Server").
func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}
	var (
		result  []string
		current strings.Builder
	)
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func filterStopWords(tokens []string) []string {
	filtered := tokens[:0:0]
	for _, t := range tokens {
		if !programmingStopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func normalizeForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

// hashToIndex maps s to a vector slot with FNV-64.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
