package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Aman-CERP/amanctx/internal/ports"
)

// Memory is an in-process TTL cache backed by go-cache.
type Memory struct {
	mu     sync.Mutex // makes Delete's check-and-remove atomic
	c      *gocache.Cache
	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ ports.CacheProvider = (*Memory)(nil)

// NewMemory creates a cache whose entries expire after defaultTTL unless
// SetJSON overrides it. A zero defaultTTL keeps entries until deleted.
func NewMemory(defaultTTL time.Duration) *Memory {
	exp := defaultTTL
	cleanup := defaultTTL
	if exp <= 0 {
		exp = gocache.NoExpiration
		cleanup = 10 * time.Minute
	}
	return &Memory{c: gocache.New(exp, cleanup)}
}

func (m *Memory) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		m.misses.Add(1)
		return false, nil
	}
	m.hits.Add(1)
	return true, decode(key, v.([]byte), dst)
}

func (m *Memory) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(key, data, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.c.Get(key)
	m.c.Delete(key)
	return ok, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.c.Get(key)
	return ok, nil
}

func (m *Memory) Clear(context.Context) error {
	m.c.Flush()
	return nil
}

func (m *Memory) Stats(context.Context) (ports.CacheStats, error) {
	return ports.CacheStats{Hits: m.hits.Load(), Misses: m.misses.Load(), Entries: m.c.ItemCount()}, nil
}

// Size counts stored entries, which may include expired ones not yet swept.
func (m *Memory) Size(context.Context) (int, error) {
	return m.c.ItemCount(), nil
}

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
