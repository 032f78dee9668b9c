package directory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tipmd/x402-tipping/internal/store"
)

// DefaultTTL bounds how long a user record is served from cache.
const DefaultTTL = 5 * time.Minute

// Cache stores user records by key until they expire. Implementations never
// return errors; a failed read is a miss.
type Cache interface {
	Get(ctx context.Context, key string) (*store.User, bool)
	Set(ctx context.Context, key string, u *store.User)
}

type memoryEntry struct {
	user    store.User
	expires time.Time
}

// MemoryCache is a process-local TTL map.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*store.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	u := e.user
	return &u, true
}

func (c *MemoryCache) Set(_ context.Context, key string, u *store.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{user: *u, expires: c.now().Add(c.ttl)}
}

// RedisCache shares user records between processes. Values are JSON.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl, log: log}
}

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string, log *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Info("redis connected", zap.String("addr", opts.Addr))
	return client, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*store.User, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("user cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var u store.User
	if err := json.Unmarshal(raw, &u); err != nil {
		c.log.Warn("user cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &u, true
}

func (c *RedisCache) Set(ctx context.Context, key string, u *store.User) {
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("user cache write failed", zap.String("key", key), zap.Error(err))
	}
}
