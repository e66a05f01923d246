package indexing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanctx/internal/chunk"
	"github.com/Aman-CERP/amanctx/internal/database"
	"github.com/Aman-CERP/amanctx/internal/domain"
	"github.com/Aman-CERP/amanctx/internal/embed"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/filehash"
	"github.com/Aman-CERP/amanctx/internal/lexical"
	"github.com/Aman-CERP/amanctx/internal/logging"
	"github.com/Aman-CERP/amanctx/internal/ports"
	"github.com/Aman-CERP/amanctx/internal/scanner"
	"github.com/Aman-CERP/amanctx/internal/vectorstore"
	"github.com/Aman-CERP/amanctx/internal/watcher"
)

type fixture struct {
	engine  *Engine
	vectors *vectorstore.Store
	lexical *lexical.SQLite
	hashes  *filehash.Repository
	tracker *Tracker
	bus     *events.Bus
	root    string
}

type fixtureOption func(*Deps, *Options)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
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

	f := &fixture{
		vectors: vectorstore.NewMemory(),
		lexical: lex,
		hashes:  filehash.New(db),
		tracker: NewTracker(),
		bus:     events.NewBus(1024, logging.Discard()),
		root:    t.TempDir(),
	}
	deps := Deps{
		Vectors:  f.vectors,
		Lexical:  lex,
		Embedder: embed.NewStaticEmbedder("", 0),
		Chunker:  ts,
		Hashes:   f.hashes,
		Tracker:  f.tracker,
		Bus:      f.bus,
		Scanner:  sc,
		DB:       db,
	}
	o := Options{Logger: logging.Discard()}
	for _, opt := range opts {
		opt(&deps, &o)
	}
	f.engine, err = New(deps, o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.engine.Close() })
	return f
}

func (f *fixture) write(t *testing.T, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(f.root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func (f *fixture) index(t *testing.T, collection string) Report {
	t.Helper()
	ctx := context.Background()
	res, err := f.engine.IndexCodebase(ctx, f.root, collection)
	require.NoError(t, err)
	require.Equal(t, StatusStarted, res.Status)
	rep, err := f.engine.Wait(ctx, res.OperationID)
	require.NoError(t, err)
	return rep
}

func (f *fixture) indexedPaths(t *testing.T, collection string) []string {
	t.Helper()
	records, err := f.vectors.List(context.Background(), BackendName(collection), 1000)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, r := range records {
		seen[r.Metadata["file_path"].(string)] = true
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

var threeRustFiles = map[string]string{
	"a.rs": "fn a(){}",
	"b.rs": "fn b(){}",
	"c.rs": "fn c(){}",
}

func TestIndexCodebase_IndexesThenSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, threeRustFiles)

	rep := f.index(t, "demo")
	assert.Equal(t, domain.StatusCompleted, rep.Status)
	assert.Equal(t, 3, rep.TotalFiles)
	assert.Equal(t, 3, rep.ProcessedFiles)
	assert.Equal(t, 3, rep.Chunks)
	assert.Empty(t, rep.Errors)
	assert.Equal(t, []string{"a.rs", "b.rs", "c.rs"}, f.indexedPaths(t, "demo"))

	hits, err := f.lexical.Search(ctx, BackendName("demo"), "rs", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	again := f.index(t, "demo")
	assert.Equal(t, domain.StatusCompleted, again.Status)
	assert.Equal(t, 0, again.ProcessedFiles)
	assert.Equal(t, 0, again.Chunks)

	count, err := f.vectors.Count(ctx, BackendName("demo"))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestIndexCodebase_ChunkMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, map[string]string{"src/lib.rs": "fn a(){}"})
	f.index(t, "demo")

	records, err := f.vectors.List(ctx, BackendName("demo"), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	meta := records[0].Metadata
	assert.Equal(t, "src/lib.rs", meta["file_path"])
	assert.Equal(t, "rust", meta["language"])
	assert.Equal(t, "fn a(){}", meta["content"])
	assert.Equal(t, "a", meta["symbol"])
	assert.EqualValues(t, 1, meta["start_line"])
	assert.EqualValues(t, 1, meta["end_line"])
	assert.Equal(t, records[0].ID, meta["chunk_id"])
}

func TestIndexCodebase_ReplacesChangedAndRemovesDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, threeRustFiles)
	f.write(t, map[string]string{"legacy.rs": "fn legacy(){}"})
	f.index(t, "demo")

	f.write(t, map[string]string{"a.rs": "fn renamed(){}"})
	require.NoError(t, os.Remove(filepath.Join(f.root, "legacy.rs")))

	rep := f.index(t, "demo")
	assert.Equal(t, domain.StatusCompleted, rep.Status)
	assert.Equal(t, 1, rep.ProcessedFiles)
	assert.Equal(t, 1, rep.Removed)
	assert.Equal(t, []string{"a.rs", "b.rs", "c.rs"}, f.indexedPaths(t, "demo"))

	records, err := f.vectors.List(ctx, BackendName("demo"), 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		if r.Metadata["file_path"] == "a.rs" {
			assert.Equal(t, "fn renamed(){}", r.Metadata["content"])
		}
	}

	files, err := f.hashes.GetIndexedFiles(ctx, BackendName("demo"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.rs", "b.rs", "c.rs"}, files)

	hits, err := f.lexical.Search(ctx, BackendName("demo"), "legacy", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = f.lexical.Search(ctx, BackendName("demo"), "renamed", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIndexCodebase_EventOrdering(t *testing.T) {
	f := newFixture(t)
	files := make(map[string]string, 100)
	for i := range 100 {
		files[fmt.Sprintf("f%03d.rs", i)] = fmt.Sprintf("fn f%d(){}", i)
	}
	f.write(t, files)

	sub := f.bus.Subscribe()
	defer sub.Close()
	rep := f.index(t, "events")
	require.Equal(t, 100, rep.ProcessedFiles)

	var got []events.Event
	for {
		ev, ok := sub.TryRecv()
		if !ok {
			break
		}
		got = append(got, ev)
	}
	require.GreaterOrEqual(t, len(got), 3)

	started, ok := got[0].(events.IndexingStarted)
	require.True(t, ok, "first event is %T", got[0])
	assert.Equal(t, 100, started.TotalFiles)
	assert.Equal(t, rep.ID, started.OperationID)

	completed, ok := got[len(got)-1].(events.IndexingCompleted)
	require.True(t, ok, "last event is %T", got[len(got)-1])
	assert.Equal(t, string(domain.StatusCompleted), completed.Status)
	assert.Equal(t, 100, completed.Files)
	assert.Equal(t, 100, completed.Chunks)

	last := 0
	progress := 0
	for _, ev := range got[1 : len(got)-1] {
		p, ok := ev.(events.IndexingProgress)
		require.True(t, ok, "unexpected %T between start and completion", ev)
		assert.Greater(t, p.Processed, last)
		assert.Equal(t, 100, p.Total)
		last = p.Processed
		progress++
	}
	assert.Positive(t, progress)
}

func TestIndexCodebase_FirstFileReportsProgress(t *testing.T) {
	f := newFixture(t)
	f.write(t, threeRustFiles)
	f.index(t, "quiet")

	// a single changed file is below the batch threshold
	sub := f.bus.Subscribe()
	defer sub.Close()
	f.write(t, map[string]string{"a.rs": "fn changed(){}"})
	f.index(t, "quiet")

	var types []events.Type
	for {
		ev, ok := sub.TryRecv()
		if !ok {
			break
		}
		types = append(types, ev.EventType())
	}
	assert.Contains(t, types, events.TypeIndexingProgress)
	assert.Equal(t, events.TypeIndexingStarted, types[0])
}

// gatedEmbedder blocks every batch until release is closed.
type gatedEmbedder struct {
	ports.EmbeddingProvider
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedEmbedder() *gatedEmbedder {
	return &gatedEmbedder{
		EmbeddingProvider: embed.NewStaticEmbedder("", 0),
		started:           make(chan struct{}),
		release:           make(chan struct{}),
	}
}

func (g *gatedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return g.EmbeddingProvider.EmbedBatch(ctx, texts)
}

func TestIndexCodebase_Cancel(t *testing.T) {
	ctx := context.Background()
	gate := newGatedEmbedder()
	f := newFixture(t, func(d *Deps, o *Options) {
		d.Embedder = gate
		o.Workers = 1
	})
	f.write(t, threeRustFiles)
	sub := f.bus.Subscribe()
	defer sub.Close()

	res, err := f.engine.IndexCodebase(ctx, f.root, "demo")
	require.NoError(t, err)
	<-gate.started
	require.NoError(t, f.engine.Cancel(res.OperationID))
	close(gate.release)

	rep, err := f.engine.Wait(ctx, res.OperationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rep.Status)
	assert.Equal(t, 1, rep.ProcessedFiles, "the in-flight file is flushed")
	assert.Contains(t, rep.Errors, cancelledMessage)

	var completed []events.IndexingCompleted
	for {
		ev, ok := sub.TryRecv()
		if !ok {
			break
		}
		if c, ok := ev.(events.IndexingCompleted); ok {
			completed = append(completed, c)
		}
	}
	require.Len(t, completed, 1)
	assert.Equal(t, "failed", completed[0].Status)
	assert.Equal(t, cancelledMessage, completed[0].Error)

	err = f.engine.Cancel(res.OperationID)
	assert.True(t, amerrors.IsNotFound(err))
}

func TestIndexCodebase_SameCollectionRunsOnce(t *testing.T) {
	ctx := context.Background()
	gate := newGatedEmbedder()
	f := newFixture(t, func(d *Deps, _ *Options) { d.Embedder = gate })
	f.write(t, threeRustFiles)

	first, err := f.engine.IndexCodebase(ctx, f.root, "demo")
	require.NoError(t, err)
	<-gate.started

	second, err := f.engine.IndexCodebase(ctx, f.root, "demo")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRunning, second.Status)
	assert.Equal(t, first.OperationID, second.OperationID)
	assert.Equal(t, 3, second.TotalFiles)

	status := f.engine.Status()
	assert.True(t, status.IsIndexing)
	assert.Equal(t, first.OperationID, status.OperationID)
	assert.Equal(t, "demo", status.Collection)
	assert.Equal(t, 3, status.TotalFiles)
	assert.Equal(t, 1, status.ActiveCount)

	err = f.engine.ClearCollection(ctx, "demo")
	assert.Equal(t, amerrors.ErrCodeNamespaceLocked, amerrors.GetCode(err))
	assert.Equal(t, amerrors.KindUnavailable, amerrors.KindOf(err))

	close(gate.release)
	rep, err := f.engine.Wait(ctx, first.OperationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, rep.Status)
	assert.Equal(t, domain.IndexingStatus{}, f.engine.Status())
}

// flakyChunker fails on one path with a non-provider error.
type flakyChunker struct {
	ports.LanguageChunker
	bad string
}

func (c flakyChunker) Chunk(ctx context.Context, path string, content []byte, language string) ([]domain.CodeChunk, error) {
	if path == c.bad {
		return nil, amerrors.Internal("parser exploded", nil)
	}
	return c.LanguageChunker.Chunk(ctx, path, content, language)
}

func TestIndexCodebase_PerFileErrorsDoNotAbort(t *testing.T) {
	f := newFixture(t, func(d *Deps, _ *Options) {
		d.Chunker = flakyChunker{LanguageChunker: d.Chunker, bad: "b.rs"}
	})
	f.write(t, threeRustFiles)

	rep := f.index(t, "demo")
	assert.Equal(t, domain.StatusCompleted, rep.Status)
	assert.Equal(t, 2, rep.ProcessedFiles)
	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors[0], "b.rs")
	assert.Equal(t, []string{"a.rs", "c.rs"}, f.indexedPaths(t, "demo"))
}

// brokenEmbedder refuses every batch.
type brokenEmbedder struct{ ports.EmbeddingProvider }

func (brokenEmbedder) EmbedBatch(context.Context, []string) ([]domain.Embedding, error) {
	return nil, amerrors.Embedding("provider rejected batch", nil)
}

func TestIndexCodebase_ProviderFailureFailsOperation(t *testing.T) {
	f := newFixture(t, func(d *Deps, _ *Options) {
		d.Embedder = brokenEmbedder{embed.NewStaticEmbedder("", 0)}
	})
	f.write(t, threeRustFiles)
	sub := f.bus.Subscribe()
	defer sub.Close()

	rep := f.index(t, "demo")
	assert.Equal(t, domain.StatusFailed, rep.Status)
	require.NotEmpty(t, rep.Errors)
	assert.Contains(t, rep.Errors[len(rep.Errors)-1], "provider rejected batch")

	files, err := f.hashes.GetIndexedFiles(context.Background(), BackendName("demo"))
	require.NoError(t, err)
	assert.Empty(t, files)

	var last events.Event
	for {
		ev, ok := sub.TryRecv()
		if !ok {
			break
		}
		last = ev
	}
	completed, ok := last.(events.IndexingCompleted)
	require.True(t, ok)
	assert.Equal(t, "failed", completed.Status)
}

func TestIndexCodebase_EagerErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name       string
		root       string
		collection string
		kind       amerrors.Kind
	}{
		{"missing root", filepath.Join(f.root, "nope"), "demo", amerrors.KindNotFound},
		{"empty collection", f.root, "", amerrors.KindInvalidArgument},
		{"empty path", "", "demo", amerrors.KindInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.IndexCodebase(ctx, tt.root, tt.collection)
			require.Error(t, err)
			assert.Equal(t, tt.kind, amerrors.KindOf(err))
			assert.Empty(t, f.tracker.Active())
		})
	}
}

func TestIndexCodebase_FallbackChunkerForUnsupportedLanguage(t *testing.T) {
	f := newFixture(t)
	f.write(t, map[string]string{"Main.java": "class Main {}\n"})

	rep := f.index(t, "demo")
	assert.Equal(t, 1, rep.ProcessedFiles)
	assert.Equal(t, 1, rep.Chunks)

	records, err := f.vectors.List(context.Background(), BackendName("demo"), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "class Main {}", records[0].Metadata["content"])
}

func TestClearCollection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, threeRustFiles)
	f.index(t, "demo")

	require.NoError(t, f.engine.ClearCollection(ctx, "demo"))

	exists, err := f.vectors.HasCollection(ctx, BackendName("demo"))
	require.NoError(t, err)
	assert.False(t, exists)
	files, err := f.hashes.GetIndexedFiles(ctx, BackendName("demo"))
	require.NoError(t, err)
	assert.Empty(t, files)
	hits, err := f.lexical.Search(ctx, BackendName("demo"), "rs", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	rep := f.index(t, "demo")
	assert.Equal(t, 3, rep.ProcessedFiles, "cleared collection is re-indexed from scratch")

	// clearing a collection that never existed is fine
	require.NoError(t, f.engine.ClearCollection(ctx, "never"))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, threeRustFiles)
	first := f.index(t, "demo")
	time.Sleep(2 * time.Millisecond)
	second := f.index(t, "demo")

	history, err := f.engine.History(ctx, "demo", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)
	assert.Equal(t, domain.StatusCompleted, history[1].Status)
	assert.Equal(t, 3, history[1].ProcessedFiles)
	assert.Equal(t, 3, history[1].Chunks)
	assert.Equal(t, 0, history[0].ProcessedFiles)
	assert.False(t, history[0].FinishedAt.Before(history[0].StartedAt))

	other, err := f.engine.History(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSync_PublishesSyncCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, threeRustFiles)
	f.index(t, "demo")
	require.NoError(t, os.Remove(filepath.Join(f.root, "b.rs")))
	f.write(t, map[string]string{"d.rs": "fn d(){}"})

	sub := f.bus.Subscribe()
	defer sub.Close()
	rep, err := f.engine.Sync(ctx, f.root, "demo")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ProcessedFiles)
	assert.Equal(t, 1, rep.Removed)

	var synced []events.SyncCompleted
	for {
		ev, ok := sub.TryRecv()
		if !ok {
			break
		}
		if s, ok := ev.(events.SyncCompleted); ok {
			synced = append(synced, s)
		}
	}
	require.Len(t, synced, 1)
	assert.Equal(t, events.SyncCompleted{Collection: "demo", Updated: 1, Removed: 1}, synced[0])
}

func TestChangedPaths(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	batch := []watcher.FileEvent{
		{Path: "b.rs", Operation: watcher.OpModify, Timestamp: now},
		{Path: "pkg", Operation: watcher.OpCreate, IsDir: true, Timestamp: now},
		{Path: "a.rs", Operation: watcher.OpCreate, Timestamp: now},
		{Path: "b.rs", Operation: watcher.OpModify, Timestamp: now},
		{Path: "sub/.gitignore", Operation: watcher.OpModify, Timestamp: now},
	}
	assert.Equal(t, []string{"a.rs", "b.rs", "sub/.gitignore"}, f.engine.changedPaths(batch))
}

func TestNew_RequiresProviders(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Equal(t, amerrors.KindConfiguration, amerrors.KindOf(err))
}

// syncBus runs onPublish inline before delivering, the way a subscriber
// reacting instantly would.
type syncBus struct {
	*events.Bus
	onPublish func(events.Event)
}

func (b *syncBus) Publish(e events.Event) int {
	if b.onPublish != nil {
		b.onPublish(e)
	}
	return b.Bus.Publish(e)
}

func TestIndexCodebase_CancelFromStartedEvent(t *testing.T) {
	bus := &syncBus{Bus: events.NewBus(64, logging.Discard())}
	f := newFixture(t, func(d *Deps, _ *Options) { d.Bus = bus })
	f.write(t, threeRustFiles)

	var cancelErr error
	cancelled := false
	bus.onPublish = func(e events.Event) {
		if started, ok := e.(events.IndexingStarted); ok {
			cancelErr = f.engine.Cancel(started.OperationID)
			cancelled = true
		}
	}

	ctx := context.Background()
	res, err := f.engine.IndexCodebase(ctx, f.root, "demo")
	require.NoError(t, err)
	require.True(t, cancelled)
	require.NoError(t, cancelErr)

	rep, err := f.engine.Wait(ctx, res.OperationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rep.Status)
	assert.Contains(t, rep.Errors, cancelledMessage)
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, collection)
	return nil
}

func (r *recordingInvalidator) count(collection string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == collection {
			n++
		}
	}
	return n
}

func TestIndexCodebase_InvalidatesSearchesBeforeWaitReturns(t *testing.T) {
	inval := &recordingInvalidator{}
	f := newFixture(t, func(d *Deps, _ *Options) { d.Invalidator = inval })
	f.write(t, threeRustFiles)

	f.index(t, "demo")
	// One per changed file plus the final one.
	assert.Equal(t, 4, inval.count("demo"))

	f.index(t, "demo")
	assert.Equal(t, 5, inval.count("demo"), "an unchanged pass only invalidates once")

	require.NoError(t, f.engine.ClearCollection(context.Background(), "demo"))
	assert.Equal(t, 6, inval.count("demo"))
}
