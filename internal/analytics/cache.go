package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/rcourtman/rosterwatch/internal/metrics"
)

const (
	keyPrefix        = "rosterwatch:analytics:"
	maxMemoryEntries = 512
)

// OpenRedis creates a Redis client and pings it to validate the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("empty redis addr")
	}
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return c, nil
}

// Cache memoizes query results as JSON. Entries live in process memory and,
// when a Redis client is configured, in Redis so that several processes
// share them. Concurrent misses for one key run the loader once.
type Cache struct {
	ttl   time.Duration
	rdb   *redis.Client
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	data    []byte
	expires time.Time
}

// NewCache returns a cache holding entries for ttl. rdb may be nil. A
// non-positive ttl disables caching and returns nil, which Service treats as
// "always load".
func NewCache(ttl time.Duration, rdb *redis.Client) *Cache {
	if ttl <= 0 {
		return nil
	}
	return &Cache{ttl: ttl, rdb: rdb, entries: make(map[string]memEntry)}
}

// GetOrSet fills dest from the cache, or calls setter, stores its result and
// copies it into dest. dest must be a pointer.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest any, setter func() (any, error)) error {
	key = keyPrefix + key

	if data, ok := c.get(ctx, key); ok {
		if err := json.Unmarshal(data, dest); err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return nil
		}
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	data, err, _ := c.group.Do(key, func() (any, error) {
		value, err := setter()
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode cached value: %w", err)
		}
		c.set(ctx, key, encoded)
		return encoded, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(data.([]byte), dest)
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, bool) {
	now := time.Now()
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && now.After(e.expires) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if ok {
		return e.data, true
	}

	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			metrics.CacheLookups.WithLabelValues("error").Inc()
			log.Debug().Err(err).Str("key", key).Msg("Analytics cache read failed")
		}
		return nil, false
	}
	c.remember(key, data, now)
	return data, true
}

func (c *Cache) set(ctx context.Context, key string, data []byte) {
	c.remember(key, data, time.Now())
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		log.Debug().Err(err).Str("key", key).Msg("Analytics cache write failed")
	}
}

func (c *Cache) remember(key string, data []byte, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= maxMemoryEntries {
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= maxMemoryEntries {
			c.entries = make(map[string]memEntry)
		}
	}
	c.entries[key] = memEntry{data: data, expires: now.Add(c.ttl)}
}
