package contextsvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanctx/internal/chunk"
	"github.com/Aman-CERP/amanctx/internal/database"
	"github.com/Aman-CERP/amanctx/internal/domain"
	"github.com/Aman-CERP/amanctx/internal/embed"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/filehash"
	"github.com/Aman-CERP/amanctx/internal/indexing"
	"github.com/Aman-CERP/amanctx/internal/lexical"
	"github.com/Aman-CERP/amanctx/internal/logging"
	"github.com/Aman-CERP/amanctx/internal/scanner"
	"github.com/Aman-CERP/amanctx/internal/search"
	"github.com/Aman-CERP/amanctx/internal/vectorstore"
)

type fixture struct {
	svc      *Service
	indexer  *indexing.Engine
	embedder *embed.Swappable
	bus      *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open("", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = database.Migrate(ctx, db)
	require.NoError(t, err)

	lex, err := lexical.NewSQLite(ctx, db)
	require.NoError(t, err)
	ts, err := chunk.NewTreeSitter(chunk.Options{}, logging.Discard())
	require.NoError(t, err)
	sc, err := scanner.New(scanner.Options{Logger: logging.Discard()})
	require.NoError(t, err)

	vectors := vectorstore.NewMemory()
	embedder := embed.NewSwappable(embed.NewStaticEmbedder("static-a", 0))
	hashes := filehash.New(db)
	bus := events.NewBus(256, logging.Discard())
	tracker := indexing.NewTracker()

	indexer, err := indexing.New(indexing.Deps{
		Vectors:  vectors,
		Lexical:  lex,
		Embedder: embedder,
		Chunker:  ts,
		Hashes:   hashes,
		Tracker:  tracker,
		Bus:      bus,
		Scanner:  sc,
		DB:       db,
	}, indexing.Options{Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = indexer.Close() })

	searcher := search.New(vectors, lex, embedder, search.DefaultConfig(), search.WithBus(bus), search.WithLogger(logging.Discard()))
	svc := New(Deps{
		Vectors:  vectors,
		Lexical:  lex,
		Embedder: embedder,
		Hashes:   hashes,
		Searcher: searcher,
		Indexer:  indexer,
		Logger:   logging.Discard(),
	})
	return &fixture{svc: svc, indexer: indexer, embedder: embedder, bus: bus}
}

func TestIndexThenSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := t.TempDir()
	for name, content := range map[string]string{"a.rs": "fn a(){}", "b.rs": "fn b(){}", "c.rs": "fn c(){}"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}

	res, err := f.indexer.IndexCodebase(ctx, root, "demo")
	require.NoError(t, err)
	rep, err := f.indexer.Wait(ctx, res.OperationID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, rep.Status)
	require.Equal(t, 3, rep.ProcessedFiles)

	results, err := f.svc.SearchSimilar(ctx, "demo", "function a", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a.rs", results[0].FilePath)
	assert.Equal(t, "rust", results[0].Language)
	assert.Equal(t, 1, results[0].StartLine)
	assert.Contains(t, results[0].Metadata, search.MetaSemanticScore)
	assert.Contains(t, results[0].Metadata, search.MetaLexScore)
	assert.Contains(t, results[0].Metadata, search.MetaFinal)

	none, err := f.svc.SearchSimilar(ctx, "demo", "function a", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	stats, err := f.svc.GetStats(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Collection:   "demo",
		Exists:       true,
		Vectors:      3,
		IndexedFiles: 3,
		Model:        "static-a",
		Dimensions:   embed.StaticDimensions,
	}, stats)

	require.NoError(t, os.Remove(filepath.Join(root, "c.rs")))
	res, err = f.indexer.IndexCodebase(ctx, root, "demo")
	require.NoError(t, err)
	_, err = f.indexer.Wait(ctx, res.OperationID)
	require.NoError(t, err)

	stats, err = f.svc.GetStats(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Vectors)
	assert.Equal(t, 2, stats.IndexedFiles)
	assert.Equal(t, 1, stats.DeletedFiles)
}

func TestStoreChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	empty, err := f.svc.StoreChunks(ctx, "notes", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	chunks := []domain.CodeChunk{
		{FilePath: "pkg/parse.go", Content: "func ParseConfig() {}\n"},
		{ID: "fixed", FilePath: "README.md", Content: "# Release notes", StartLine: 3},
	}
	ids, err := f.svc.StoreChunks(ctx, "notes", chunks)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, chunk.ChunkID("pkg/parse.go", 1, "func ParseConfig() {}\n"), ids[0])
	assert.Equal(t, "fixed", ids[1])

	again, err := f.svc.StoreChunks(ctx, "notes", chunks)
	require.NoError(t, err)
	assert.Equal(t, ids, again)

	stats, err := f.svc.GetStats(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Vectors)

	results, err := f.svc.SearchSimilar(ctx, "notes", "ParseConfig", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "pkg/parse.go", results[0].FilePath)
	assert.Equal(t, "go", results[0].Language)
	assert.Positive(t, results[0].Metadata[search.MetaLexScore])

	_, err = f.svc.StoreChunks(ctx, "notes", []domain.CodeChunk{{FilePath: "x.go"}})
	assert.True(t, amerrors.IsKind(err, amerrors.KindInvalidArgument))
}

func TestEmbedText_FollowsProviderSwap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	emb, err := f.svc.EmbedText(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, "static-a", emb.Model)
	assert.Equal(t, emb.Dimensions, len(emb.Vector))
	assert.Equal(t, f.svc.EmbeddingDimensions(), emb.Dimensions)

	old := f.embedder.Swap(embed.NewStaticEmbedder("static-b", 0))
	require.NoError(t, old.Close())

	emb, err = f.svc.EmbedText(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, "static-b", emb.Model)

	_, err = f.svc.EmbedText(ctx, "   ")
	assert.True(t, amerrors.IsKind(err, amerrors.KindInvalidArgument))
}

func TestInitializeAndClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.Initialize(ctx, "demo"))
	require.NoError(t, f.svc.Initialize(ctx, "demo"))
	stats, err := f.svc.GetStats(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, stats.Exists)
	assert.Zero(t, stats.Vectors)

	results, err := f.svc.SearchSimilar(ctx, "demo", "anything", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, f.svc.ClearCollection(ctx, "demo"))
	stats, err = f.svc.GetStats(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, stats.Exists)

	assert.True(t, amerrors.IsKind(f.svc.Initialize(ctx, " "), amerrors.KindInvalidArgument))
}
