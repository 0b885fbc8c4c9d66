// SPDX-License-Identifier: MIT

// Package gwcache is the gateway response cache: a mandatory bounded
// in-process layer with TTL plus an optional redis mirror.
package gwcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	xlog "github.com/stasaberg/gitgud-edge/internal/log"
)

// MaxBodyBytes bounds the size of any cached response body.
const MaxBodyBytes = 512 * 1024

// Entry is a cached upstream response. Headers are lowercase-keyed and
// already sanitized for caching.
type Entry struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
	BodyLen int               `json:"body_len"`
}

// Config configures a Cache.
type Config struct {
	TTL         time.Duration
	MaxEntries  int
	Redis       *redis.Client // optional mirror
	RedisPrefix string
}

// Cache is the two-tier response cache.
type Cache struct {
	ttl         time.Duration
	memory      *memoryLayer
	redis       *redis.Client
	redisPrefix string
	logger      zerolog.Logger
}

// New creates a Cache. MaxEntries below 10 is raised to 10.
func New(cfg Config) *Cache {
	maxEntries := cfg.MaxEntries
	if maxEntries < 10 {
		maxEntries = 10
	}
	return &Cache{
		ttl:         cfg.TTL,
		memory:      newMemoryLayer(maxEntries),
		redis:       cfg.Redis,
		redisPrefix: cfg.RedisPrefix,
		logger:      xlog.WithComponent("cache"),
	}
}

// Get returns the cached entry for key, consulting the in-process layer first
// and falling back to the redis mirror.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	if entry, found := c.memory.get(key); found {
		return entry, true
	}
	if c.redis == nil {
		return Entry{}, false
	}

	raw, err := c.redis.Get(ctx, c.redisPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis cache get failed")
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cached entry unreadable")
		return Entry{}, false
	}
	c.memory.set(key, entry, c.ttl)
	return entry, true
}

// Set stores entry under key in both layers. Oversized bodies are refused.
func (c *Cache) Set(ctx context.Context, key string, entry Entry) {
	if entry.BodyLen > MaxBodyBytes || len(entry.Body) > MaxBodyBytes {
		return
	}
	c.memory.set(key, entry, c.ttl)

	if c.redis == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.redisPrefix+key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis cache set failed")
	}
}

// memoryLayer is a mutex-guarded map with absolute expiry. Every read and
// write first evicts expired entries; at capacity the entry with the earliest
// expiry is evicted.
type memoryLayer struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]memoryEntry
}

type memoryEntry struct {
	value     Entry
	expiresAt time.Time
}

func newMemoryLayer(maxEntries int) *memoryLayer {
	return &memoryLayer{
		maxEntries: maxEntries,
		entries:    make(map[string]memoryEntry),
	}
}

func (m *memoryLayer) prune() {
	now := time.Now()
	for key, entry := range m.entries {
		if !entry.expiresAt.After(now) {
			delete(m.entries, key)
		}
	}
	for len(m.entries) >= m.maxEntries {
		var evictKey string
		var earliest time.Time
		for key, entry := range m.entries {
			if evictKey == "" || entry.expiresAt.Before(earliest) {
				evictKey = key
				earliest = entry.expiresAt
			}
		}
		if evictKey == "" {
			break
		}
		delete(m.entries, evictKey)
	}
}

func (m *memoryLayer) get(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	entry, found := m.entries[key]
	if !found {
		return Entry{}, false
	}
	return entry.value, true
}

func (m *memoryLayer) set(key string, value Entry, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	m.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Len reports the current in-memory entry count (for tests and status).
func (c *Cache) Len() int {
	c.memory.mu.Lock()
	defer c.memory.mu.Unlock()
	return len(c.memory.entries)
}
