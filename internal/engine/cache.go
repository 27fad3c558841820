package engine

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// responseCache provides 2-tier caching: L1 in-memory LRU + optional L2 Redis.
// L1 is fast but lost on restart. L2 survives restarts and is shared between replicas.
type responseCache struct {
	l1  *lru.Cache[string, cacheEntry]
	rdb *redis.Client // nil if Redis unavailable
	ttl time.Duration
	now func() time.Time
}

type cacheEntry struct {
	data      *Response
	timestamp time.Time
	ttl       time.Duration
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.timestamp) > e.ttl
}

// newResponseCache sets up the cache. redisURL can be empty to disable L2.
func newResponseCache(maxEntries int, ttl time.Duration, redisURL string) *responseCache {
	l1, err := lru.New[string, cacheEntry](maxEntries)
	if err != nil {
		// Only possible for a non-positive size, which withDefaults rules out.
		panic(fmt.Sprintf("cache: %v", err))
	}
	c := &responseCache{l1: l1, ttl: ttl, now: time.Now}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Warn("cache: invalid redis URL, L2 disabled", slog.Any("error", err))
		} else {
			rdb := redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				slog.Warn("cache: redis unreachable, L2 disabled", slog.Any("error", err))
				_ = rdb.Close()
			} else {
				c.rdb = rdb
				slog.Info("cache: L2 redis connected", slog.String("addr", opts.Addr))
			}
		}
	}

	slog.Info("cache: initialized", slog.Duration("ttl", ttl), slog.Bool("redis", c.rdb != nil), slog.Int("max_entries", maxEntries))
	return c
}

// CacheKey builds a deterministic Redis key for a request URL.
func CacheKey(rawURL string) string {
	hash := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("vod:%x", hash[:12]) // 24-char hex suffix
}

// Get tries L1, then L2. On L2 hit, populates L1.
func (c *responseCache) Get(ctx context.Context, rawURL string) (*Response, bool) {
	now := c.now()
	if entry, ok := c.l1.Get(rawURL); ok {
		if !entry.expired(now) {
			slog.Debug("cache: L1 hit", slog.String("url", rawURL))
			metrics.CacheHits.Add(1)
			return entry.data, true
		}
		c.l1.Remove(rawURL)
	}

	if c.rdb != nil {
		key := CacheKey(rawURL)
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var resp Response
			if json.Unmarshal(data, &resp) == nil {
				slog.Debug("cache: L2 hit", slog.String("url", rawURL))
				metrics.CacheHits.Add(1)
				c.l1.Add(rawURL, cacheEntry{data: &resp, timestamp: now, ttl: c.remainingTTL(c.rdb.PTTL(ctx, key).Val())})
				return &resp, true
			}
		}
	}

	metrics.CacheMisses.Add(1)
	return nil, false
}

// remainingTTL is the L1 lifetime for an entry promoted from L2: what is left
// of the Redis TTL, capped by the cache TTL. Unknown (negative) values fall
// back to the cache TTL.
func (c *responseCache) remainingTTL(pttl time.Duration) time.Duration {
	if pttl <= 0 || pttl > c.ttl {
		return c.ttl
	}
	return pttl
}

// Set stores value in both L1 and L2. Adding past capacity evicts the least
// recently used L1 entry.
func (c *responseCache) Set(ctx context.Context, rawURL string, resp *Response) {
	c.l1.Add(rawURL, cacheEntry{data: resp, timestamp: c.now(), ttl: c.ttl})

	if c.rdb != nil {
		data, err := json.Marshal(resp)
		if err != nil {
			return
		}
		if err := c.rdb.Set(ctx, CacheKey(rawURL), data, c.ttl).Err(); err != nil {
			slog.Debug("cache: L2 set failed", slog.Any("error", err))
		}
	}
}

// Len returns the number of L1 entries, including logically expired ones.
func (c *responseCache) Len() int { return c.l1.Len() }

// Purge drops every L1 entry. L2 entries expire on their own.
func (c *responseCache) Purge() { c.l1.Purge() }

// Close releases the Redis connection.
func (c *responseCache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
