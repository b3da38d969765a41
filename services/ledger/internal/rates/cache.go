package rates

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMarkupTTL   = time.Minute
	defaultRedisPrefix = "swap:markup:"
)

func systemKey(pair Pair) string {
	return "sys:" + pair.String()
}

func clientKey(clientID uuid.UUID, pair Pair) string {
	return "cli:" + clientID.String() + ":" + pair.String()
}

// cachedSystem and cachedClient remember misses too, so an absent override does not hit
// the database on every quote.
type cachedSystem struct {
	Found bool       `json:"found"`
	Rate  SystemRate `json:"rate"`
}

type cachedClient struct {
	Found  bool         `json:"found"`
	Markup ClientMarkup `json:"markup"`
}

// RedisMarkupCache is a read-through MarkupSource shared across replicas. Redis failures
// degrade to the underlying source.
type RedisMarkupCache struct {
	next   MarkupSource
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewRedisMarkupCache(next MarkupSource, client *redis.Client, ttl time.Duration, prefix string, logger *slog.Logger) *RedisMarkupCache {
	if ttl <= 0 {
		ttl = DefaultMarkupTTL
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisMarkupCache{next: next, client: client, ttl: ttl, prefix: prefix, logger: logger}
}

func (r *RedisMarkupCache) SystemRate(ctx context.Context, pair Pair) (SystemRate, bool, error) {
	key := r.prefix + systemKey(pair)
	var entry cachedSystem
	if r.load(ctx, key, &entry) {
		return entry.Rate, entry.Found, nil
	}
	rate, found, err := r.next.SystemRate(ctx, pair)
	if err != nil {
		return SystemRate{}, false, err
	}
	r.store(ctx, key, cachedSystem{Found: found, Rate: rate})
	return rate, found, nil
}

func (r *RedisMarkupCache) ClientMarkup(ctx context.Context, clientID uuid.UUID, pair Pair) (ClientMarkup, bool, error) {
	key := r.prefix + clientKey(clientID, pair)
	var entry cachedClient
	if r.load(ctx, key, &entry) {
		return entry.Markup, entry.Found, nil
	}
	markup, found, err := r.next.ClientMarkup(ctx, clientID, pair)
	if err != nil {
		return ClientMarkup{}, false, err
	}
	r.store(ctx, key, cachedClient{Found: found, Markup: markup})
	return markup, found, nil
}

// Invalidate drops the cached system rate for pair and, when clientID is set, the client's
// override.
func (r *RedisMarkupCache) Invalidate(ctx context.Context, pair Pair, clientID *uuid.UUID) error {
	keys := []string{r.prefix + systemKey(pair)}
	if clientID != nil {
		keys = append(keys, r.prefix+clientKey(*clientID, pair))
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisMarkupCache) load(ctx context.Context, key string, out any) bool {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		r.logger.Warn("markup cache get failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(val, out); err != nil {
		r.logger.Warn("markup cache decode failed", "key", key, "error", err)
		return false
	}
	return true
}

func (r *RedisMarkupCache) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("markup cache encode failed", "key", key, "error", err)
		return
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.logger.Warn("markup cache set failed", "key", key, "error", err)
	}
}

// MemoryMarkupCache is a process-local read-through MarkupSource. Concurrent misses for
// the same key share one load.
type MemoryMarkupCache struct {
	next     MarkupSource
	cache    *cache.Cache
	inflight singleflight.Group
}

func NewMemoryMarkupCache(next MarkupSource, ttl time.Duration) *MemoryMarkupCache {
	if ttl <= 0 {
		ttl = DefaultMarkupTTL
	}
	return &MemoryMarkupCache{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (m *MemoryMarkupCache) SystemRate(ctx context.Context, pair Pair) (SystemRate, bool, error) {
	key := systemKey(pair)
	if v, ok := m.cache.Get(key); ok {
		entry := v.(cachedSystem)
		return entry.Rate, entry.Found, nil
	}
	v, err, _ := m.inflight.Do(key, func() (any, error) {
		rate, found, err := m.next.SystemRate(ctx, pair)
		if err != nil {
			return nil, err
		}
		entry := cachedSystem{Found: found, Rate: rate}
		m.cache.SetDefault(key, entry)
		return entry, nil
	})
	if err != nil {
		return SystemRate{}, false, err
	}
	entry := v.(cachedSystem)
	return entry.Rate, entry.Found, nil
}

func (m *MemoryMarkupCache) ClientMarkup(ctx context.Context, clientID uuid.UUID, pair Pair) (ClientMarkup, bool, error) {
	key := clientKey(clientID, pair)
	if v, ok := m.cache.Get(key); ok {
		entry := v.(cachedClient)
		return entry.Markup, entry.Found, nil
	}
	v, err, _ := m.inflight.Do(key, func() (any, error) {
		markup, found, err := m.next.ClientMarkup(ctx, clientID, pair)
		if err != nil {
			return nil, err
		}
		entry := cachedClient{Found: found, Markup: markup}
		m.cache.SetDefault(key, entry)
		return entry, nil
	})
	if err != nil {
		return ClientMarkup{}, false, err
	}
	entry := v.(cachedClient)
	return entry.Markup, entry.Found, nil
}

func (m *MemoryMarkupCache) Invalidate(_ context.Context, pair Pair, clientID *uuid.UUID) error {
	m.cache.Delete(systemKey(pair))
	if clientID != nil {
		m.cache.Delete(clientKey(*clientID, pair))
	}
	return nil
}
