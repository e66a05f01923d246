package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanctx/internal/config"
	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/indexing"
	"github.com/Aman-CERP/amanctx/internal/logging"
	"github.com/Aman-CERP/amanctx/internal/search"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.DataDir = dir
	cfg.Providers.VectorStore.Path = filepath.Join(dir, "vectors")
	cfg.Providers.VCS.Provider = "none"
	cfg.Server.MetricsIntervalSecs = 3600
	return cfg
}

func build(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBuild_HealthAndClose(t *testing.T) {
	a := build(t, testConfig(t))

	health := a.Health(context.Background())
	assert.Equal(t, "healthy", health["status"])
	for _, name := range []string{"database", "cache", "vector_store", "embedding"} {
		assert.Equal(t, "ok", health[name], name)
	}
	assert.Equal(t, "static-hash-256", a.Embedder.ModelName())

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}

func TestBuild_DataDirLocked(t *testing.T) {
	cfg := testConfig(t)
	first, err := Build(context.Background(), cfg, Options{Logger: logging.Discard()})
	require.NoError(t, err)

	_, err = Build(context.Background(), cfg, Options{Logger: logging.Discard()})
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeNamespaceLocked, amerrors.GetCode(err))
	assert.True(t, amerrors.IsKind(err, amerrors.KindUnavailable))

	require.NoError(t, first.Close())
	second := build(t, cfg)
	assert.NotNil(t, second.Indexer)
}

func TestBuild_FailureReleasesResources(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		kind   amerrors.Kind
	}{
		{
			name:   "unknown cache provider",
			mutate: func(c *config.Config) { c.Providers.Cache.Provider = "nope" },
			kind:   amerrors.KindNotFound,
		},
		{
			name:   "hnsw without path",
			mutate: func(c *config.Config) { c.Providers.VectorStore.Path = "" },
			kind:   amerrors.KindConfiguration,
		},
		{
			name:   "missing default database",
			mutate: func(c *config.Config) { c.Providers.Database.Default = "other" },
			kind:   amerrors.KindConfiguration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := Build(context.Background(), cfg, Options{Logger: logging.Discard()})
			require.Error(t, err)
			assert.True(t, amerrors.IsKind(err, tt.kind), "got %v", err)

			// The lock was released, so a valid build on the same dir works.
			ok := testConfig(t)
			ok.DataDir = cfg.DataDir
			build(t, ok)
		})
	}
}

func TestReloadEmbedder(t *testing.T) {
	cfg := testConfig(t)
	a := build(t, cfg)
	ctx := context.Background()

	changed, err := a.ReloadEmbedder(cfg.Providers.Embedding)
	require.NoError(t, err)
	assert.False(t, changed)

	next := cfg.Providers.Embedding
	next.Model = "static-b"
	changed, err = a.ReloadEmbedder(next)
	require.NoError(t, err)
	assert.True(t, changed)

	emb, err := a.Context.EmbedText(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, "static-b", emb.Model)

	bad := next
	bad.Provider = "missing"
	_, err = a.ReloadEmbedder(bad)
	require.Error(t, err)
	assert.Equal(t, "static-b", a.Embedder.ModelName())
}

func TestStart_IndexSearchAndSnapshot(t *testing.T) {
	a := build(t, testConfig(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub := a.Bus.Subscribe()
	defer sub.Close()
	a.Start(ctx)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"),
		[]byte("package main\n\nfunc ParseFlags() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "util.go"),
		[]byte("package main\n\nfunc Sum(a, b int) int { return a + b }\n"), 0o644))

	// Empty collection searches are cached too; the completion must clear them.
	before, err := a.Context.SearchSimilar(ctx, "demo", "ParseFlags", 5)
	require.NoError(t, err)
	assert.Empty(t, before)

	res, err := a.Indexer.IndexCodebase(ctx, root, "demo")
	require.NoError(t, err)
	rep, err := a.Indexer.Wait(ctx, res.OperationID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, rep.Status)

	var snap events.SnapshotCreated
	for snap.Collection == "" {
		e, err := sub.Recv(ctx)
		require.NoError(t, err)
		if s, ok := e.(events.SnapshotCreated); ok {
			snap = s
		}
	}
	assert.Equal(t, "demo", snap.Collection)
	assert.Equal(t, filepath.Join(a.Config().Providers.VectorStore.Path,
		indexing.BackendName("demo")+".meta.json"), snap.Path)
	assert.FileExists(t, snap.Path)

	results, err := a.Context.SearchSimilar(ctx, "demo", "ParseFlags", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "main.go", results[0].FilePath)
}

func TestRouter_IndexRebuildClearsCollection(t *testing.T) {
	a := build(t, testConfig(t))
	ctx := context.Background()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("def alpha():\n    pass\n"), 0o644))
	res, err := a.Indexer.IndexCodebase(ctx, root, "demo")
	require.NoError(t, err)
	_, err = a.Indexer.Wait(ctx, res.OperationID)
	require.NoError(t, err)

	stats, err := a.Context.GetStats(ctx, "demo")
	require.NoError(t, err)
	require.True(t, stats.Exists)

	a.handle(ctx, events.IndexRebuild{Collection: "demo", Reason: "test"})

	stats, err = a.Context.GetStats(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, stats.Exists)
}

func TestSearchCache_StoreChunksAndClearAreVisibleImmediately(t *testing.T) {
	a := build(t, testConfig(t))
	ctx := context.Background()

	_, err := a.Context.StoreChunks(ctx, "demo", []domain.CodeChunk{{FilePath: "a.rs", Content: "fn alpha() {}"}})
	require.NoError(t, err)
	before, err := a.Context.SearchSimilar(ctx, "demo", "beta", 5)
	require.NoError(t, err)
	assert.NotContains(t, filePaths(before), "b.rs")

	_, err = a.Context.StoreChunks(ctx, "demo", []domain.CodeChunk{{FilePath: "b.rs", Content: "fn beta() {}"}})
	require.NoError(t, err)
	after, err := a.Context.SearchSimilar(ctx, "demo", "beta", 5)
	require.NoError(t, err)
	assert.Contains(t, filePaths(after), "b.rs")

	require.NoError(t, a.Context.ClearCollection(ctx, "demo"))
	cleared, err := a.Context.SearchSimilar(ctx, "demo", "beta", 5)
	require.NoError(t, err)
	assert.Empty(t, cleared)
}

func TestSearchCache_FreshAfterWaitWithRouterRunning(t *testing.T) {
	a := build(t, testConfig(t))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	a.Start(ctx)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "util.go"),
		[]byte("package main\n\nfunc Sum(a, b int) int { return a + b }\n"), 0o644))

	for i := range 5 {
		collection := fmt.Sprintf("run%d", i)
		before, err := a.Context.SearchSimilar(ctx, collection, "Sum", 5)
		require.NoError(t, err)
		require.Empty(t, before)

		res, err := a.Indexer.IndexCodebase(ctx, root, collection)
		require.NoError(t, err)
		rep, err := a.Indexer.Wait(ctx, res.OperationID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusCompleted, rep.Status)

		after, err := a.Context.SearchSimilar(ctx, collection, "Sum", 5)
		require.NoError(t, err)
		assert.Contains(t, filePaths(after), "util.go", "collection %s", collection)
	}
}

func TestWatchConfig_FileEditSwapsEmbedder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "amanctx.yaml")
	write := func(model string) {
		body := "providers:\n  vcs:\n    provider: none\n  embedding:\n    provider: static\n    model: " + model +
			"\nserver:\n  metrics_interval_secs: 3600\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	write("static-a")

	opts := config.LoadOptions{File: path, SkipUser: true, SkipEnv: true, DataDir: filepath.Join(dir, "data")}
	cfg, err := config.Load(opts)
	require.NoError(t, err)
	a := build(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sub := a.Bus.Subscribe()
	defer sub.Close()
	a.Start(ctx)
	require.NoError(t, a.WatchConfig(ctx, opts))

	emb, err := a.Context.EmbedText(ctx, "hello world")
	require.NoError(t, err)
	require.Equal(t, "static-a", emb.Model)

	write("static-b")
	for {
		e, err := sub.Recv(ctx)
		require.NoError(t, err)
		if r, ok := e.(events.ConfigReloaded); ok && r.Section == "providers" {
			break
		}
	}
	assert.Eventually(t, func() bool {
		emb, err := a.Context.EmbedText(ctx, "hello world")
		return err == nil && emb.Model == "static-b"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "static-b", a.Config().Providers.Embedding.Model)
}

func filePaths(results []search.Result) []string {
	paths := make([]string, len(results))
	for i, r := range results {
		paths[i] = r.FilePath
	}
	return paths
}
