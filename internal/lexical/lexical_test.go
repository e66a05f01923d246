package lexical

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanctx/internal/database"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/logging"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

func backends(t *testing.T) map[string]ports.LexicalIndex {
	t.Helper()
	db, err := database.Open("", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	fts, err := NewSQLite(context.Background(), db)
	require.NoError(t, err)

	mem, err := NewBleve("", logging.Discard())
	require.NoError(t, err)
	disk, err := NewBleve(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mem.Close()
		_ = disk.Close()
	})
	return map[string]ports.LexicalIndex{"sqlite": fts, "bleve-mem": mem, "bleve-disk": disk}
}

func ids(hits []ports.LexicalHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestLexicalIndex_Contract(t *testing.T) {
	ctx := context.Background()
	for name, idx := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Index(ctx, "c1", map[string]string{
				"parse":  "func parseConfigFile(path string) error",
				"server": "type HTTPServer struct { router *Router }",
				"both":   "parse the server config",
			}))
			require.NoError(t, idx.Index(ctx, "c2", map[string]string{
				"other": "parse config in another collection",
			}))

			hits, err := idx.Search(ctx, "c1", "parseConfig", 10)
			require.NoError(t, err)
			got := ids(hits)
			assert.Contains(t, got, "parse")
			assert.Contains(t, got, "both")
			assert.NotContains(t, got, "other", "collections are isolated")
			for _, h := range hits {
				assert.Greater(t, h.Score, 0.0)
			}

			hits, err = idx.Search(ctx, "c1", "http server", 10)
			require.NoError(t, err)
			require.NotEmpty(t, hits)
			assert.Contains(t, ids(hits), "server")

			require.NoError(t, idx.Delete(ctx, "c1", []string{"parse"}))
			hits, err = idx.Search(ctx, "c1", "parseConfig", 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"both"}, ids(hits))

			require.NoError(t, idx.DropCollection(ctx, "c1"))
			hits, err = idx.Search(ctx, "c1", "server", 10)
			require.NoError(t, err)
			assert.Empty(t, hits)

			hits, err = idx.Search(ctx, "c2", "config", 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"other"}, ids(hits))
		})
	}
}

func TestLexicalIndex_ReplaceAndEmptyQueries(t *testing.T) {
	ctx := context.Background()
	for name, idx := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Index(ctx, "c", map[string]string{"d": "alpha beta"}))
			require.NoError(t, idx.Index(ctx, "c", map[string]string{"d": "gamma"}))

			hits, err := idx.Search(ctx, "c", "alpha", 10)
			require.NoError(t, err)
			assert.Empty(t, hits, "reindexing replaces content")

			hits, err = idx.Search(ctx, "c", "gamma", 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"d"}, ids(hits))

			for _, q := range []string{"", "   ", "a", "func return", `"(*)" OR`} {
				hits, err = idx.Search(ctx, "c", q, 10)
				require.NoError(t, err, q)
				assert.Empty(t, hits, q)
			}

			hits, err = idx.Search(ctx, "unknown", "gamma", 10)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestBleve_ReopensPersistedCollections(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := NewBleve(dir, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, b.Index(ctx, "c", map[string]string{"x": "persisted words"}))
	require.NoError(t, b.Close())

	reopened, err := NewBleve(dir, logging.Discard())
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.Count("c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	hits, err := reopened.Search(ctx, "c", "persisted", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids(hits))
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Search(context.Background(), "c", "q", 1)
	assert.True(t, amerrors.IsKind(err, amerrors.KindUnavailable))
	assert.NoError(t, Disabled{}.Index(context.Background(), "c", map[string]string{"a": "b"}))
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"getUserById", []string{"get", "user", "by", "id"}},
		{"parseHTTPRequest", []string{"parse", "http", "request"}},
		{"snake_case_var", []string{"snake", "case"}},
		{"func a() { return x }", nil},
		{"HTTPServer", []string{"http", "server"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestMatchExpression(t *testing.T) {
	assert.Equal(t, `"parse" OR "config"`, matchExpression([]string{"parse", "config", "parse"}))
	assert.Empty(t, matchExpression(nil))
}
