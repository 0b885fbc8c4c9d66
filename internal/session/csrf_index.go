// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CSRFIndex is the secondary index from nonce and proof string back to the
// session record, used as a fallback when no cookie-backed record is found.
type CSRFIndex interface {
	Index(ctx context.Context, nonce string, record Record) error
	ByNonce(ctx context.Context, nonce string) (Record, bool)
	ByProof(ctx context.Context, proof string) (Record, bool)
	Delete(ctx context.Context, nonce, proof string) error
}

// memoryCSRFIndex holds both maps under one mutex; expiry is enforced lazily
// at lookup.
type memoryCSRFIndex struct {
	mu     sync.Mutex
	nonces map[string]Record
	proofs map[string]Record
}

// NewMemoryCSRFIndex creates an in-process CSRF index.
func NewMemoryCSRFIndex() CSRFIndex {
	return &memoryCSRFIndex{
		nonces: make(map[string]Record),
		proofs: make(map[string]Record),
	}
}

func (i *memoryCSRFIndex) Index(_ context.Context, nonce string, record Record) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.nonces[nonce] = record
	if record.CSRFProof != "" {
		i.proofs[record.CSRFProof] = record
	}
	return nil
}

func (i *memoryCSRFIndex) ByNonce(_ context.Context, nonce string) (Record, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	record, found := i.nonces[nonce]
	if !found {
		return Record{}, false
	}
	if nowMillis() > record.ExpiresAt {
		delete(i.nonces, nonce)
		if record.CSRFProof != "" {
			delete(i.proofs, record.CSRFProof)
		}
		return Record{}, false
	}
	return record, true
}

func (i *memoryCSRFIndex) ByProof(_ context.Context, proof string) (Record, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	record, found := i.proofs[proof]
	if !found {
		return Record{}, false
	}
	if nowMillis() > record.ExpiresAt {
		delete(i.proofs, proof)
		delete(i.nonces, record.Nonce)
		return Record{}, false
	}
	return record, true
}

func (i *memoryCSRFIndex) Delete(_ context.Context, nonce, proof string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if nonce != "" {
		delete(i.nonces, nonce)
	}
	if proof != "" {
		delete(i.proofs, proof)
	}
	return nil
}

// redisCSRFIndex stores records under "<prefix>nonce:<nonce>" and
// "<prefix>proof:<proof>"; deletions are batched into a single DEL.
type redisCSRFIndex struct {
	client      *redis.Client
	noncePrefix string
	proofPrefix string
	ttl         time.Duration
}

// NewRedisCSRFIndex creates a redis-backed CSRF index.
func NewRedisCSRFIndex(client *redis.Client, keyPrefix string, ttl time.Duration) CSRFIndex {
	if ttl < time.Second {
		ttl = time.Second
	}
	return &redisCSRFIndex{
		client:      client,
		noncePrefix: keyPrefix + "nonce:",
		proofPrefix: keyPrefix + "proof:",
		ttl:         ttl,
	}
}

func (i *redisCSRFIndex) Index(ctx context.Context, nonce string, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := i.client.Set(ctx, i.noncePrefix+nonce, payload, i.ttl).Err(); err != nil {
		return err
	}
	if record.CSRFProof != "" {
		return i.client.Set(ctx, i.proofPrefix+record.CSRFProof, payload, i.ttl).Err()
	}
	return nil
}

func (i *redisCSRFIndex) ByNonce(ctx context.Context, nonce string) (Record, bool) {
	return i.load(ctx, i.noncePrefix+nonce)
}

func (i *redisCSRFIndex) ByProof(ctx context.Context, proof string) (Record, bool) {
	return i.load(ctx, i.proofPrefix+proof)
}

func (i *redisCSRFIndex) load(ctx context.Context, key string) (Record, bool) {
	raw, err := i.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) || err != nil {
		return Record{}, false
	}
	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Record{}, false
	}
	return record, true
}

func (i *redisCSRFIndex) Delete(ctx context.Context, nonce, proof string) error {
	keys := make([]string, 0, 2)
	if nonce != "" {
		keys = append(keys, i.noncePrefix+nonce)
	}
	if proof != "" {
		keys = append(keys, i.proofPrefix+proof)
	}
	if len(keys) == 0 {
		return nil
	}
	return i.client.Del(ctx, keys...).Err()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
