package generation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"rulegate/internal/rules"
)

// Cache stores recent generation results keyed by instruction content
// hash. Purely an optimization against retried identical input, never a
// correctness dependency: a miss or a cache failure just means another
// generation call.
type Cache interface {
	Get(ctx context.Context, key string) (*rules.Rule, bool)
	Put(ctx context.Context, key string, rule *rules.Rule)
}

// CacheConfig holds the cache tunables.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        10 * time.Minute,
		MaxEntries: 256,
	}
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is a bounded, time-evicted in-process cache. Entries are
// stored as JSON so callers never share rule pointers.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	order   []string
	cfg     CacheConfig
	now     func() time.Time
}

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache(cfg CacheConfig) *MemoryCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 256
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Get returns the cached rule for key, if present and fresh.
func (c *MemoryCache) Get(_ context.Context, key string) (*rules.Rule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}

	var rule rules.Rule
	if err := json.Unmarshal(entry.data, &rule); err != nil {
		delete(c.entries, key)
		return nil, false
	}
	return &rule, true
}

// Put stores the rule under key, evicting expired entries first and then
// the oldest insertion when the cache is full.
func (c *MemoryCache) Put(_ context.Context, key string, rule *rules.Rule) {
	data, err := json.Marshal(rule)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.evictLocked(now)
	}

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = memoryEntry{data: data, expiresAt: now.Add(c.cfg.TTL)}
}

// evictLocked drops expired entries, then the oldest insertion if the
// cache is still full.
func (c *MemoryCache) evictLocked(now time.Time) {
	kept := c.order[:0]
	for _, key := range c.order {
		entry, ok := c.entries[key]
		if !ok {
			continue
		}
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept

	for len(c.entries) >= c.cfg.MaxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache shares generation results between process instances. Cache
// failures are logged and treated as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig holds the Redis connection settings for the shared cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg RedisConfig, cacheCfg CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	ttl := cacheCfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) cacheKey(key string) string {
	return "rulegate:generation:" + key
}

// Get returns the cached rule for key, if present.
func (c *RedisCache) Get(ctx context.Context, key string) (*rules.Rule, bool) {
	data, err := c.client.Get(ctx, c.cacheKey(key)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("generation cache read failed", "error", err)
		}
		return nil, false
	}

	var rule rules.Rule
	if err := json.Unmarshal([]byte(data), &rule); err != nil {
		slog.Debug("generation cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return &rule, true
}

// Put stores the rule under key with the configured TTL.
func (c *RedisCache) Put(ctx context.Context, key string, rule *rules.Rule) {
	data, err := json.Marshal(rule)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.cacheKey(key), data, c.ttl).Err(); err != nil {
		slog.Debug("generation cache write failed", "error", err)
	}
}
