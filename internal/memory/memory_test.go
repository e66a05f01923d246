package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanctx/internal/database"
	"github.com/Aman-CERP/amanctx/internal/domain"
	"github.com/Aman-CERP/amanctx/internal/embed"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/logging"
	"github.com/Aman-CERP/amanctx/internal/ports"
	"github.com/Aman-CERP/amanctx/internal/vectorstore"
)

type fixture struct {
	svc     *Service
	db      *database.SQLite
	vectors *vectorstore.Store
	clock   *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open("", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = database.Migrate(context.Background(), db)
	require.NoError(t, err)

	clock := &fakeClock{t: time.Unix(1000, 0)}
	vectors := vectorstore.NewMemory()
	svc := New(db, vectors, embed.NewStaticEmbedder("", 0), Options{Logger: logging.Discard(), Now: clock.Now})
	return &fixture{svc: svc, db: db, vectors: vectors, clock: clock}
}

func TestStoreObservation_Deduplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := StoreRequest{ProjectID: "p", Content: "alpha", Type: domain.ObservationContext}

	first, err := f.svc.StoreObservation(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)

	second, err := f.svc.StoreObservation(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.ID, second.ID)

	n, err := f.svc.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	vecs, err := f.vectors.Count(ctx, f.svc.vecName)
	require.NoError(t, err)
	assert.Equal(t, 1, vecs, "a deduplicated store writes no vector")
}

func TestStoreObservation_ConcurrentSameContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const writers = 8
	results := make([]StoreResult, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.StoreObservation(ctx, StoreRequest{ProjectID: "p", Content: "same"})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		assert.Equal(t, results[0].ID, r.ID)
		if !r.Deduplicated {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	n, err := f.svc.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreObservation_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tests := []struct {
		name string
		req  StoreRequest
	}{
		{"missing project", StoreRequest{Content: "x"}},
		{"blank project", StoreRequest{ProjectID: "  ", Content: "x"}},
		{"missing content", StoreRequest{ProjectID: "p"}},
		{"unknown type", StoreRequest{ProjectID: "p", Content: "x", Type: "gossip"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.StoreObservation(ctx, tt.req)
			assert.True(t, amerrors.IsKind(err, amerrors.KindInvalidArgument))
		})
	}
}

func TestStoreObservation_RoundTripsFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.svc.StoreObservation(ctx, StoreRequest{
		ProjectID: "p",
		Content:   "use sqlite for memory",
		Type:      domain.ObservationDecision,
		Tags:      []string{"db", "db", " storage "},
		Metadata:  domain.ObservationMetadata{SessionID: "s1", RepoID: "r", FilePath: "main.go", Branch: "main"},
	})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "p", got.ProjectID)
	assert.Equal(t, domain.ObservationDecision, got.Type)
	assert.Equal(t, []string{"db", "storage"}, got.Tags)
	assert.Equal(t, "main", got.Metadata.Branch)
	assert.Equal(t, time.Unix(1000, 0).UTC(), got.CreatedAt)
	assert.NotEmpty(t, got.EmbeddingID)
	assert.Len(t, got.ContentHash, 64)

	byHash, ok, err := f.svc.FindByHash(ctx, got.ContentHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.ID, byHash.ID)

	_, err = f.svc.Get(ctx, "missing")
	assert.True(t, amerrors.IsNotFound(err))
}

// failingInsert rejects observation inserts and passes everything else on.
type failingInsert struct {
	ports.DatabaseExecutor
}

func (f failingInsert) Execute(ctx context.Context, sql string, params ...ports.Param) (int64, error) {
	if strings.Contains(sql, "INSERT INTO observations") {
		return 0, amerrors.Database("disk full", errors.New("boom"))
	}
	return f.DatabaseExecutor.Execute(ctx, sql, params...)
}

func TestStoreObservation_PersistFailureRemovesVector(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := New(failingInsert{f.db}, f.vectors, embed.NewStaticEmbedder("", 0), Options{Logger: logging.Discard()})

	_, err := svc.StoreObservation(ctx, StoreRequest{ProjectID: "p", Content: "doomed"})
	require.Error(t, err)
	assert.True(t, amerrors.IsKind(err, amerrors.KindDatabase))

	n, err := f.vectors.Count(ctx, svc.vecName)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetTimeline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	byTime := map[int]string{}
	for _, sec := range []int{10, 20, 30, 40, 50} {
		f.clock.Set(time.Unix(int64(sec), 0))
		res, err := f.svc.StoreObservation(ctx, StoreRequest{
			ProjectID: "p",
			Content:   "event at " + time.Unix(int64(sec), 0).UTC().Format(time.RFC3339),
			Metadata:  domain.ObservationMetadata{SessionID: "s"},
		})
		require.NoError(t, err)
		byTime[sec] = res.ID
	}
	f.clock.Set(time.Unix(45, 0))
	_, err := f.svc.StoreObservation(ctx, StoreRequest{
		ProjectID: "p", Content: "other session", Metadata: domain.ObservationMetadata{SessionID: "other"},
	})
	require.NoError(t, err)

	timeline, err := f.svc.GetTimeline(ctx, byTime[40], 2, 1, Filter{SessionID: "s"})
	require.NoError(t, err)
	var got []string
	for _, o := range timeline {
		got = append(got, o.ID)
	}
	assert.Equal(t, []string{byTime[20], byTime[30], byTime[40], byTime[50]}, got)

	only, err := f.svc.GetTimeline(ctx, byTime[40], 0, 0, Filter{})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, byTime[40], only[0].ID)

	_, err = f.svc.GetTimeline(ctx, byTime[40], 1, 1, Filter{SessionID: "other"})
	assert.True(t, amerrors.IsNotFound(err), "anchor outside the filter")

	_, err = f.svc.GetTimeline(ctx, "nope", 1, 1, Filter{})
	assert.True(t, amerrors.IsNotFound(err))
}

func TestSearchMemories_RanksAndFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := func(content, project string, tags ...string) string {
		res, err := f.svc.StoreObservation(ctx, StoreRequest{ProjectID: project, Content: content, Tags: tags})
		require.NoError(t, err)
		return res.ID
	}
	cache := store("redis cache eviction policy uses LRU", "p", "cache")
	_ = store("database migrations run at startup", "p", "db")
	other := store("redis cache in another project", "q", "cache")

	hits, err := f.svc.SearchMemories(ctx, "redis cache eviction", Filter{ProjectID: "p"}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, cache, hits[0].ID)
	for _, h := range hits {
		assert.NotEqual(t, other, h.ID)
		assert.Equal(t, "p", h.ProjectID)
	}
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}

	tagged, err := f.svc.SearchMemories(ctx, "redis cache", Filter{Tags: []string{"cache"}}, 5)
	require.NoError(t, err)
	assert.Len(t, tagged, 2)

	none, err := f.svc.SearchMemories(ctx, "redis", Filter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.SearchMemories(ctx, " ", Filter{}, 5)
	assert.True(t, amerrors.IsKind(err, amerrors.KindInvalidArgument))
}

func TestSearchMemories_EmptyStore(t *testing.T) {
	hits, err := newFixture(t).svc.SearchMemories(context.Background(), "anything", Filter{}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemorySearch_Previews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	long := strings.Repeat("é", 200) + " unique marker"
	res, err := f.svc.StoreObservation(ctx, StoreRequest{
		ProjectID: "p", Content: long, Type: domain.ObservationError,
		Tags: []string{"t"}, Metadata: domain.ObservationMetadata{SessionID: "s", FilePath: "x.go"},
	})
	require.NoError(t, err)

	previews, err := f.svc.MemorySearch(ctx, "unique marker", Filter{}, 3)
	require.NoError(t, err)
	require.Len(t, previews, 1)
	p := previews[0]
	assert.Equal(t, res.ID, p.ID)
	assert.Equal(t, domain.ObservationError, p.Type)
	assert.Equal(t, DefaultPreviewRunes, len([]rune(p.ContentPreview)))
	assert.Equal(t, "s", p.SessionID)
	assert.Equal(t, "x.go", p.FilePath)
	assert.Equal(t, []string{"t"}, p.Tags)
	assert.Greater(t, p.RelevanceScore, 0.0)
}

func TestGetByIDs_PreservesOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.svc.StoreObservation(ctx, StoreRequest{ProjectID: "p", Content: "a"})
	require.NoError(t, err)
	b, err := f.svc.StoreObservation(ctx, StoreRequest{ProjectID: "p", Content: "b"})
	require.NoError(t, err)

	got, err := f.svc.GetByIDs(ctx, []string{b.ID, "missing", a.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, a.ID, got[1].ID)

	empty, err := f.svc.GetByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSessionSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, c := range []string{"one", "two"} {
		_, err := f.svc.StoreObservation(ctx, StoreRequest{
			ProjectID: "p", Content: c, Metadata: domain.ObservationMetadata{SessionID: "s"},
		})
		require.NoError(t, err)
	}

	sum, err := f.svc.StoreSessionSummary(ctx, "s", "p", "did two things")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.ObservationCount)

	f.clock.Set(time.Unix(2000, 0))
	sum, err = f.svc.StoreSessionSummary(ctx, "s", "p", "revised")
	require.NoError(t, err)
	assert.Equal(t, "revised", sum.Summary)
	assert.True(t, sum.UpdatedAt.After(sum.CreatedAt))

	_, err = f.svc.GetSessionSummary(ctx, "nope")
	assert.True(t, amerrors.IsNotFound(err))
	_, err = f.svc.StoreSessionSummary(ctx, "", "p", "x")
	assert.True(t, amerrors.IsKind(err, amerrors.KindInvalidArgument))
}

func TestErrorPatterns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.RecordErrorPattern(ctx, `open "/tmp/a.txt": no such file (code 2)`, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Occurrences)
	assert.Empty(t, first.Resolution)

	second, err := f.svc.RecordErrorPattern(ctx, `open "/var/b.txt": no such file (code 17)`, "create the file first", "obs-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Occurrences)
	assert.Equal(t, "create the file first", second.Resolution)

	matched, ok, err := f.svc.MatchErrorPattern(ctx, `OPEN "/x": No such file (code 9)`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, matched.ID)

	n, err := f.svc.PatternMatches(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err = f.svc.MatchErrorPattern(ctx, "something else entirely")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint("timeout after 30s at 0xdeadbeef"), Fingerprint("Timeout after 5s at 0x1234"))
	assert.NotEqual(t, Fingerprint("timeout"), Fingerprint("refused"))
}
