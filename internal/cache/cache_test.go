package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// exerciseContract runs the behavior every in-process cache shares.
func exerciseContract(t *testing.T, c ports.CacheProvider) {
	t.Helper()
	ctx := context.Background()

	var got payload
	ok, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetJSON(ctx, "k", payload{Name: "a", Count: 2}, 0))
	ok, err = c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload{Name: "a", Count: 2}, got)

	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	size, err := c.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	existed, err := c.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = c.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, existed)

	require.NoError(t, c.SetJSON(ctx, "a", 1, 0))
	require.NoError(t, c.SetJSON(ctx, "b", 2, 0))
	require.NoError(t, c.Clear(ctx))
	size, err = c.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestMemory_Contract(t *testing.T) {
	exerciseContract(t, NewMemory(time.Hour))
}

func TestLRU_Contract(t *testing.T) {
	c, err := NewLRU(16, time.Hour)
	require.NoError(t, err)
	exerciseContract(t, c)
}

func TestMemory_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Hour)
	require.NoError(t, c.SetJSON(ctx, "short", "v", 20*time.Millisecond))

	assert.Eventually(t, func() bool {
		ok, _ := c.Exists(ctx, "short")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemory_Stats(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	require.NoError(t, c.SetJSON(ctx, "k", "v", 0))

	var s string
	_, _ = c.GetJSON(ctx, "k", &s)
	_, _ = c.GetJSON(ctx, "missing", &s)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, ports.CacheStats{Hits: 1, Misses: 1, Entries: 1}, stats)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, err := NewLRU(2, 0)
	require.NoError(t, err)

	require.NoError(t, c.SetJSON(ctx, "a", 1, 0))
	require.NoError(t, c.SetJSON(ctx, "b", 2, 0))
	var v int
	_, _ = c.GetJSON(ctx, "a", &v)
	require.NoError(t, c.SetJSON(ctx, "c", 3, 0))

	ok, _ := c.Exists(ctx, "b")
	assert.False(t, ok, "b was least recently used")
	ok, _ = c.Exists(ctx, "a")
	assert.True(t, ok)
}

func TestLRU_PerEntryTTL(t *testing.T) {
	ctx := context.Background()
	c, err := NewLRU(4, 0)
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.SetJSON(ctx, "k", "v", time.Minute))
	ok, _ := c.Exists(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = c.Exists(ctx, "k")
	assert.False(t, ok)
	existed, err := c.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestNewLRU_RejectsZeroSize(t *testing.T) {
	_, err := NewLRU(0, 0)
	require.Error(t, err)
	assert.True(t, amerrors.IsKind(err, amerrors.KindConfiguration))
}

func TestDecodeErrorKind(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	require.NoError(t, c.SetJSON(ctx, "k", "text", 0))

	var n int
	ok, err := c.GetJSON(ctx, "k", &n)
	assert.True(t, ok)
	assert.True(t, amerrors.IsKind(err, amerrors.KindDecode))
}

func TestSetJSON_Unencodable(t *testing.T) {
	err := NewMemory(0).SetJSON(context.Background(), "k", make(chan int), 0)
	assert.True(t, amerrors.IsKind(err, amerrors.KindInvalidArgument))
}

func TestNull(t *testing.T) {
	ctx := context.Background()
	var c ports.CacheProvider = Null{}
	require.NoError(t, c.SetJSON(ctx, "k", 1, 0))
	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Stats(ctx)
	assert.True(t, amerrors.IsKind(err, amerrors.KindUnavailable))
	_, err = c.Size(ctx)
	assert.True(t, amerrors.IsKind(err, amerrors.KindUnavailable))
}
