// Package cache provides the JSON key-value cache backends: an in-process TTL
// cache, a bounded LRU, Redis, and a no-op cache.
package cache

import (
	"context"
	"encoding/json"
	"time"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

func encode(key string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, amerrors.InvalidArgument("cache value for %q is not JSON encodable: %v", key, err)
	}
	return data, nil
}

func decode(key string, data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return amerrors.Decode("cache value for %q: %v", key, err)
	}
	return nil
}

// Null stores nothing. Every lookup misses.
type Null struct{}

var _ ports.CacheProvider = Null{}

func (Null) GetJSON(context.Context, string, any) (bool, error) { return false, nil }
func (Null) SetJSON(context.Context, string, any, time.Duration) error { return nil }
func (Null) Delete(context.Context, string) (bool, error) { return false, nil }
func (Null) Exists(context.Context, string) (bool, error) { return false, nil }
func (Null) Clear(context.Context) error { return nil }
func (Null) Close() error { return nil }
func (Null) Size(context.Context) (int, error) { return 0, amerrors.Unavailable("null cache has no size") }
func (Null) Stats(context.Context) (ports.CacheStats, error) {
	return ports.CacheStats{}, amerrors.Unavailable("null cache has no stats")
}
