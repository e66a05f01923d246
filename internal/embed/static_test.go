package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanctx/internal/domain"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestStaticEmbedder_DimensionsInvariant(t *testing.T) {
	for _, dims := range []int{0, 64, 384} {
		e := NewStaticEmbedder("static-test", dims)
		emb, err := e.Embed(context.Background(), "func parseConfig(path string) error")
		require.NoError(t, err)
		require.NoError(t, emb.Validate())
		assert.Equal(t, e.Dimensions(), emb.Dimensions)
		assert.Equal(t, "static-test", emb.Model)
	}
	assert.Equal(t, StaticDimensions, NewStaticEmbedder("", 0).Dimensions())
}

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder("", 0)
	a, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStaticEmbedder_BlankIsZeroVector(t *testing.T) {
	emb, err := NewStaticEmbedder("", 0).Embed(context.Background(), "   ")
	require.NoError(t, err)
	for _, v := range emb.Vector {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedder_SimilarTextRanksHigher(t *testing.T) {
	ctx := context.Background()
	e := NewStaticEmbedder("", 0)
	embs, err := e.EmbedBatch(ctx, []string{"fn a(){}", "fn b(){}", "fn c(){}"})
	require.NoError(t, err)
	require.Len(t, embs, 3)

	q, err := e.Embed(ctx, "function a")
	require.NoError(t, err)

	sa := cosine(q.Vector, embs[0].Vector)
	assert.Greater(t, sa, cosine(q.Vector, embs[1].Vector))
	assert.Greater(t, sa, cosine(q.Vector, embs[2].Vector))
}

func TestStaticEmbedder_Closed(t *testing.T) {
	e := NewStaticEmbedder("", 0)
	require.NoError(t, e.Close())
	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestStaticEmbedder_EmptyBatch(t *testing.T) {
	out, err := NewStaticEmbedder("", 0).EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.Embedding{}, out)
}

func TestSplitCodeToken(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"parseConfig", []string{"parse", "Config"}},
		{"HTTPServer", []string{"HTTP", "Server"}},
		{"snake_case_name", []string{"snake", "case", "name"}},
		{"getHTTPResponse", []string{"get", "HTTP", "Response"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, splitCodeToken(tt.in))
		})
	}
}

func TestTokenize_LowercasesIdentifierParts(t *testing.T) {
	assert.Equal(t, []string{"load", "user", "id", "42"}, tokenize("loadUser_id 42"))
}

func TestBatches(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, batches(texts, 2))
	assert.Len(t, batches(texts, 0), 1)
	assert.Nil(t, batches(nil, 2))
}

func TestSwappable_ForwardsToCurrent(t *testing.T) {
	ctx := context.Background()
	first := NewStaticEmbedder("model-a", 0)
	s := NewSwappable(first)

	emb, err := s.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "model-a", emb.Model)

	old := s.Swap(NewStaticEmbedder("model-b", 64))
	assert.Same(t, first, old)
	emb, err = s.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "model-b", emb.Model)
	assert.Equal(t, 64, s.Dimensions())
	assert.Equal(t, "model-b", s.ModelName())
}
