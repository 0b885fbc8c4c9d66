// SPDX-License-Identifier: MIT

// Package session implements the gateway session state machine with a
// dual-backend store (in-memory or redis) and a secondary CSRF index.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is the stored state of a session. Writes go exclusively through the
// store; readers obtain snapshots.
type Record struct {
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expires_at"`
	CSRFProof string `json:"csrf_proof,omitempty"`
}

// Store provides atomic get/set of session records keyed by session id.
type Store interface {
	Get(ctx context.Context, sessionID string) (Record, bool, error)
	Set(ctx context.Context, sessionID string, record Record) error
}

// memoryStore keeps records in a mutex-guarded map with absolute expiry.
// Expired entries are evicted lazily on read; no background sweeper runs.
type memoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

// NewMemoryStore creates an in-process store with the given TTL.
func NewMemoryStore(ttl time.Duration) Store {
	return &memoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (s *memoryStore) Get(_ context.Context, sessionID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.entries[sessionID]
	if found && time.Now().Before(entry.expiresAt) {
		return entry.record, true, nil
	}
	delete(s.entries, sessionID)
	return Record{}, false, nil
}

func (s *memoryStore) Set(_ context.Context, sessionID string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[sessionID] = memoryEntry{
		record:    record,
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

// redisStore persists records as JSON under namespaced keys with a TTL of at
// least one second.
type redisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a redis-backed store. keyPrefix namespaces every key.
func NewRedisStore(client *redis.Client, keyPrefix string, ttl time.Duration) Store {
	if ttl < time.Second {
		ttl = time.Second
	}
	return &redisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *redisStore) Get(ctx context.Context, sessionID string) (Record, bool, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}

func (s *redisStore) Set(ctx context.Context, sessionID string, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.keyPrefix+sessionID, payload, s.ttl).Err()
}

// SynchronizeSecret converges all replicas onto a shared session secret: the
// first replica publishes its locally generated secret with SETNX and
// everyone reads the winner back.
func SynchronizeSecret(ctx context.Context, client *redis.Client, keyPrefix, localSecret string) (string, error) {
	key := keyPrefix + "__secret"
	if err := client.SetNX(ctx, key, localSecret, 0).Err(); err != nil {
		return localSecret, err
	}
	shared, err := client.Get(ctx, key).Result()
	if err != nil {
		return localSecret, err
	}
	if shared == "" {
		return localSecret, nil
	}
	return shared, nil
}
