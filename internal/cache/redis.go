package cache

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// Redis stores entries in Redis under "<namespace>:<key>".
type Redis struct {
	client     rueidis.Client
	namespace  string
	defaultTTL time.Duration
}

var _ ports.CacheProvider = (*Redis)(nil)

// NewRedis connects to the server named by a redis:// URL.
func NewRedis(redisURL, namespace string, defaultTTL time.Duration) (*Redis, error) {
	opt, err := clientOption(redisURL)
	if err != nil {
		return nil, err
	}
	client, err := rueidis.NewClient(opt)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeNetworkUnavailable, "connect to redis", err)
	}
	return newRedisWithClient(client, namespace, defaultTTL), nil
}

func newRedisWithClient(client rueidis.Client, namespace string, defaultTTL time.Duration) *Redis {
	return &Redis{client: client, namespace: namespace, defaultTTL: defaultTTL}
}

func clientOption(raw string) (rueidis.ClientOption, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") || u.Host == "" {
		return rueidis.ClientOption{}, amerrors.Configuration(fmt.Sprintf("invalid redis url %q", raw), err)
	}
	opt := rueidis.ClientOption{
		InitAddress:  []string{u.Host},
		DisableCache: true,
	}
	if u.User != nil {
		opt.Username = u.User.Username()
		opt.Password, _ = u.User.Password()
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return rueidis.ClientOption{}, amerrors.Configuration(fmt.Sprintf("invalid redis database %q", db), err)
		}
		opt.SelectDB = n
	}
	return opt, nil
}

func (r *Redis) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *Redis) pattern() string {
	if r.namespace == "" {
		return "*"
	}
	return r.namespace + ":*"
}

func cacheErr(op string, err error) error {
	return amerrors.New(amerrors.ErrCodeCacheFailed, "redis "+op, err)
}

func (r *Redis) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := r.client.Do(ctx, r.client.B().Get().Key(r.key(key)).Build()).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return false, nil
		}
		return false, cacheErr("get", err)
	}
	return true, decode(key, data, dst)
}

func (r *Redis) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	var cmd rueidis.Completed
	if ttl > 0 {
		cmd = r.client.B().Set().Key(r.key(key)).Value(rueidis.BinaryString(data)).Ex(ttl).Build()
	} else {
		cmd = r.client.B().Set().Key(r.key(key)).Value(rueidis.BinaryString(data)).Build()
	}
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return cacheErr("set", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Do(ctx, r.client.B().Del().Key(r.key(key)).Build()).AsInt64()
	if err != nil {
		return false, cacheErr("del", err)
	}
	return n > 0, nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Do(ctx, r.client.B().Exists().Key(r.key(key)).Build()).AsInt64()
	if err != nil {
		return false, cacheErr("exists", err)
	}
	return n > 0, nil
}

func (r *Redis) scan(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		cmd := r.client.B().Scan().Cursor(cursor).Match(r.pattern()).Count(100).Build()
		entry, err := r.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, cacheErr("scan", err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Clear deletes every key in the namespace.
func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.scan(ctx)
	if err != nil || len(keys) == 0 {
		return err
	}
	if err := r.client.Do(ctx, r.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return cacheErr("del", err)
	}
	return nil
}

// Stats is not tracked for Redis.
func (r *Redis) Stats(context.Context) (ports.CacheStats, error) {
	return ports.CacheStats{}, amerrors.Unavailable("redis cache does not expose hit statistics")
}

// Size counts the keys in the namespace.
func (r *Redis) Size(ctx context.Context) (int, error) {
	keys, err := r.scan(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (r *Redis) Close() error {
	r.client.Close()
	return nil
}
