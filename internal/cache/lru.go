package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

type lruEntry struct {
	data    []byte
	expires time.Time // zero means never
}

// LRU is a size-bounded cache that evicts the least recently used entry.
// Expired entries are dropped lazily on access.
type LRU struct {
	c          *lru.Cache[string, lruEntry]
	defaultTTL time.Duration
	now        func() time.Time
	hits       atomic.Uint64
	misses     atomic.Uint64
}

var _ ports.CacheProvider = (*LRU)(nil)

// NewLRU creates an LRU cache holding at most maxSize entries.
func NewLRU(maxSize int, defaultTTL time.Duration) (*LRU, error) {
	c, err := lru.New[string, lruEntry](maxSize)
	if err != nil {
		return nil, amerrors.Configuration("create lru cache", err)
	}
	return &LRU{c: c, defaultTTL: defaultTTL, now: time.Now}, nil
}

func (l *LRU) live(key string) (lruEntry, bool) {
	e, ok := l.c.Get(key)
	if !ok {
		return lruEntry{}, false
	}
	if !e.expires.IsZero() && !l.now().Before(e.expires) {
		l.c.Remove(key)
		return lruEntry{}, false
	}
	return e, true
}

func (l *LRU) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	e, ok := l.live(key)
	if !ok {
		l.misses.Add(1)
		return false, nil
	}
	l.hits.Add(1)
	return true, decode(key, e.data, dst)
}

func (l *LRU) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	e := lruEntry{data: data}
	if ttl > 0 {
		e.expires = l.now().Add(ttl)
	}
	l.c.Add(key, e)
	return nil
}

func (l *LRU) Delete(_ context.Context, key string) (bool, error) {
	_, ok := l.live(key)
	if !ok {
		return false, nil
	}
	return l.c.Remove(key), nil
}

func (l *LRU) Exists(_ context.Context, key string) (bool, error) {
	_, ok := l.live(key)
	return ok, nil
}

func (l *LRU) Clear(context.Context) error {
	l.c.Purge()
	return nil
}

func (l *LRU) Stats(context.Context) (ports.CacheStats, error) {
	return ports.CacheStats{Hits: l.hits.Load(), Misses: l.misses.Load(), Entries: l.c.Len()}, nil
}

func (l *LRU) Size(context.Context) (int, error) {
	return l.c.Len(), nil
}

func (l *LRU) Close() error {
	l.c.Purge()
	return nil
}
