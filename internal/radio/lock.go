// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// refreshLockLease bounds how long a crashed holder can wedge the cluster
// before the lock is stealable.
const refreshLockLease = 2 * time.Minute

// RefreshLock is a held advisory lock. Release is safe to call once.
type RefreshLock struct {
	storage *Storage
	keyHash int64
	owner   string
	noop    bool
}

// hashLockKey maps the refresh key string onto a stable 64-bit integer.
// Collisions across unrelated keys are not guarded beyond the hash's natural
// distribution.
func hashLockKey(key string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(key))
	return int64(hasher.Sum64())
}

// TryAcquireRefreshLock claims the cluster-wide advisory lock for key in the
// relational store. Expired leases are reaped first. A nil lock with nil
// error means another replica holds it. An empty key yields a no-op lock.
func (s *Storage) TryAcquireRefreshLock(ctx context.Context, key string) (*RefreshLock, error) {
	if key == "" {
		return &RefreshLock{noop: true}, nil
	}
	keyHash := hashLockKey(key)
	owner := uuid.New().String()
	now := time.Now().UnixMilli()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_locks WHERE key_hash = ? AND expires_at < ?`, keyHash, now); err != nil {
		return nil, fmt.Errorf("reap expired refresh lock: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_locks (key_hash, owner, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key_hash) DO NOTHING`,
		keyHash, owner, now, now+refreshLockLease.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("acquire refresh lock: %w", err)
	}
	claimed, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if claimed == 0 {
		return nil, nil
	}
	return &RefreshLock{storage: s, keyHash: keyHash, owner: owner}, nil
}

// Release drops the lock row if this holder still owns it.
func (l *RefreshLock) Release(ctx context.Context) {
	if l == nil || l.noop || l.storage == nil {
		return
	}
	_, _ = l.storage.db.ExecContext(ctx,
		`DELETE FROM refresh_locks WHERE key_hash = ? AND owner = ?`, l.keyHash, l.owner)
	l.storage = nil
}
