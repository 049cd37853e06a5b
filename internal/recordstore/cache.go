package recordstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/bc-pathway-engine/internal/domain"
)

const cacheKeyPrefix = "bcpathway:events:"

// CacheStats reports cache effectiveness.
type CacheStats struct {
	MemoryHits  int64 `json:"memory_hits"`
	RedisHits   int64 `json:"redis_hits"`
	Misses      int64 `json:"misses"`
	SharedCalls int64 `json:"shared_calls"`
	MemorySize  int   `json:"memory_size"`
}

// cachedEvents is the redis envelope for one query result.
type cachedEvents struct {
	Events    []domain.MedicalEvent `json:"events"`
	CachedAt  time.Time             `json:"cached_at"`
	ExpiresAt time.Time             `json:"expires_at"`
}

// CachingStore memoizes FetchEvents results keyed on (code set, cohort, date range).
// Lookups go memory LRU, then redis when configured, then the wrapped store. Concurrent
// misses on the same key share one upstream call. Errors are never cached.
type CachingStore struct {
	next     domain.RecordStore
	memory   *expirable.LRU[string, []domain.MedicalEvent]
	redis    *redis.Client
	redisTTL time.Duration
	group    singleflight.Group
	logger   *logrus.Logger

	memoryHits  atomic.Int64
	redisHits   atomic.Int64
	misses      atomic.Int64
	sharedCalls atomic.Int64
}

// NewCachingStore wraps a store with the memory tier and, when cfg.RedisURL is set, a redis tier.
func NewCachingStore(next domain.RecordStore, cfg domain.CacheConfig, logger *logrus.Logger) (*CachingStore, error) {
	var client *redis.Client
	if cfg.RedisURL != "" {
		var err error
		client, err = NewRedisClient(cfg)
		if err != nil {
			return nil, err
		}
	}
	return NewCachingStoreWithRedis(next, cfg, client, logger), nil
}

// NewCachingStoreWithRedis wraps a store using an existing redis client, which may be nil.
func NewCachingStoreWithRedis(next domain.RecordStore, cfg domain.CacheConfig, client *redis.Client, logger *logrus.Logger) *CachingStore {
	if logger == nil {
		logger = logrus.New()
	}
	size := cfg.MemorySize
	if size <= 0 {
		size = 256
	}
	ttl := cfg.MemoryTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	redisTTL := cfg.RedisTTL
	if redisTTL <= 0 {
		redisTTL = 24 * time.Hour
	}

	return &CachingStore{
		next:     next,
		memory:   expirable.NewLRU[string, []domain.MedicalEvent](size, nil, ttl),
		redis:    client,
		redisTTL: redisTTL,
		logger:   logger,
	}
}

// NewRedisClient connects to redis and checks the connection.
func NewRedisClient(cfg domain.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// CacheKey derives the memoization key for a query.
func CacheKey(cs domain.CodeSet, cohort *domain.Cohort, rng domain.DateRange) string {
	cohortID := "*"
	if cohort != nil {
		cohortID = cohort.Identity()
	}
	sum := sha256.Sum256([]byte(cs.Identity() + "|" + cohortID + "|" + rng.String()))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// FetchEvents implements domain.RecordStore.
func (c *CachingStore) FetchEvents(ctx context.Context, cs domain.CodeSet, cohort *domain.Cohort, rng domain.DateRange) ([]domain.MedicalEvent, error) {
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	key := CacheKey(cs, cohort, rng)

	if events, ok := c.memory.Get(key); ok {
		c.memoryHits.Add(1)
		return cloneEvents(events), nil
	}

	if events, ok := c.getRedis(ctx, key); ok {
		c.redisHits.Add(1)
		c.memory.Add(key, events)
		return cloneEvents(events), nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		c.misses.Add(1)
		events, err := c.next.FetchEvents(ctx, cs, cohort, rng)
		if err != nil {
			return nil, err
		}
		c.memory.Add(key, events)
		c.setRedis(ctx, key, events)
		return events, nil
	})
	if shared {
		c.sharedCalls.Add(1)
	}
	if err != nil {
		return nil, err
	}
	return cloneEvents(v.([]domain.MedicalEvent)), nil
}

func (c *CachingStore) getRedis(ctx context.Context, key string) ([]domain.MedicalEvent, bool) {
	if c.redis == nil {
		return nil, false
	}

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).Warn("Redis cache read failed")
		return nil, false
	}

	var cached cachedEvents
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return nil, false
	}
	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false
	}
	return cached.Events, true
}

func (c *CachingStore) setRedis(ctx context.Context, key string, events []domain.MedicalEvent) {
	if c.redis == nil {
		return
	}

	now := time.Now()
	data, err := json.Marshal(cachedEvents{Events: events, CachedAt: now, ExpiresAt: now.Add(c.redisTTL)})
	if err != nil {
		c.logger.WithError(err).Warn("Failed to marshal cached events")
		return
	}
	if err := c.redis.Set(ctx, key, data, c.redisTTL).Err(); err != nil {
		c.logger.WithError(err).Warn("Redis cache write failed")
	}
}

// Stats returns hit and miss counters.
func (c *CachingStore) Stats() CacheStats {
	return CacheStats{
		MemoryHits:  c.memoryHits.Load(),
		RedisHits:   c.redisHits.Load(),
		Misses:      c.misses.Load(),
		SharedCalls: c.sharedCalls.Load(),
		MemorySize:  c.memory.Len(),
	}
}

// Unwrap returns the store behind the cache.
func (c *CachingStore) Unwrap() domain.RecordStore {
	return c.next
}

// FetchAges passes through to the wrapped store when it can report ages.
func (c *CachingStore) FetchAges(ctx context.Context, cohort *domain.Cohort, rng domain.DateRange) ([]domain.AgeObservation, error) {
	if src, ok := c.next.(domain.AgeSource); ok {
		return src.FetchAges(ctx, cohort, rng)
	}
	return nil, nil
}

// Close releases the redis client.
func (c *CachingStore) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func cloneEvents(events []domain.MedicalEvent) []domain.MedicalEvent {
	if events == nil {
		return nil
	}
	out := make([]domain.MedicalEvent, len(events))
	copy(out, events)
	return out
}
