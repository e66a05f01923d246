package filehash

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanctx/internal/database"
	"github.com/Aman-CERP/amanctx/internal/domain"
	"github.com/Aman-CERP/amanctx/internal/logging"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "hashes.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = database.Migrate(context.Background(), db)
	require.NoError(t, err)
	return New(db)
}

func TestRepository_UpsertThenUnchanged(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	changed, err := r.HasChanged(ctx, "c", "main.go", "h1")
	require.NoError(t, err)
	assert.True(t, changed, "unseen path counts as changed")

	require.NoError(t, r.UpsertHash(ctx, "c", "main.go", "h1"))

	changed, err = r.HasChanged(ctx, "c", "main.go", "h1")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = r.HasChanged(ctx, "c", "main.go", "h2")
	require.NoError(t, err)
	assert.True(t, changed)

	hash, ok, err := r.GetHash(ctx, "c", "main.go")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "h1", hash)
}

func TestRepository_TombstoneResurrection(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	require.NoError(t, r.UpsertHash(ctx, "c", "f", "h1"))
	require.NoError(t, r.MarkDeleted(ctx, "c", "f"))

	files, err := r.GetIndexedFiles(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, files)
	_, ok, err := r.GetHash(ctx, "c", "f")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.UpsertHash(ctx, "c", "f", "h2"))

	hash, ok, err := r.GetHash(ctx, "c", "f")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "h2", hash)

	files, err = r.GetIndexedFiles(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, files)
}

func TestRepository_CollectionsIsolated(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	require.NoError(t, r.UpsertHash(ctx, "a", "x.go", "h"))
	require.NoError(t, r.UpsertHash(ctx, "b", "y.go", "h"))

	files, err := r.GetIndexedFiles(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.go"}, files)

	require.NoError(t, r.ClearCollection(ctx, "a"))
	files, err = r.GetIndexedFiles(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, files)

	files, err = r.GetIndexedFiles(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"y.go"}, files)
}

func TestRepository_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, r.UpsertHash(ctx, "c", fmt.Sprintf("f%d", i%4), fmt.Sprintf("h%d", i)))
		}(i)
	}
	wg.Wait()

	files, err := r.GetIndexedFiles(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"f0", "f1", "f2", "f3"}, files)
	assert.Equal(t, 0, r.locks.Len(), "keyed locks are released")
}

func TestRepository_EntriesIncludeTombstones(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	require.NoError(t, r.UpsertHash(ctx, "c", "b.go", "hb"))
	require.NoError(t, r.UpsertHash(ctx, "c", "a.go", "ha"))
	require.NoError(t, r.MarkDeleted(ctx, "c", "b.go"))
	require.NoError(t, r.UpsertHash(ctx, "other", "z.go", "hz"))

	entries, err := r.Entries(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []domain.FileHashEntry{
		{Collection: "c", Path: "a.go", Hash: "ha"},
		{Collection: "c", Path: "b.go", Hash: "hb", Deleted: true},
	}, entries)

	entries, err = r.Entries(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestComputeHash(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o644))

	r := newRepo(t)
	h, err := r.ComputeHash(p)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h)
	assert.Equal(t, h, HashBytes([]byte("hello")))

	_, err = r.ComputeHash(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
