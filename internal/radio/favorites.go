// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/stasaberg/gitgud-edge/internal/station"
)

const (
	// FavoritesTTL bounds how long an untouched favorites list survives.
	FavoritesTTL = 30 * 24 * time.Hour
	// MaxFavorites caps the list length per session key.
	MaxFavorites = 6
)

// FavoriteEntry is one saved station.
type FavoriteEntry struct {
	ID              string           `json:"id"`
	SavedAtMs       int64            `json:"savedAtMs"`
	StationSnapshot *station.Station `json:"stationSnapshot,omitempty"`
}

// FavoritesStore persists per-session favorites with a sliding TTL.
type FavoritesStore struct {
	db *sql.DB
}

// NewFavoritesStore wraps the shared database handle.
func NewFavoritesStore(storage *Storage) *FavoritesStore {
	return &FavoritesStore{db: storage.db}
}

// Read loads the favorites for key, expiring stale rows lazily.
func (f *FavoritesStore) Read(ctx context.Context, key string) ([]FavoriteEntry, error) {
	var (
		entriesJSON string
		expiresAt   int64
	)
	err := f.db.QueryRowContext(ctx,
		`SELECT entries, expires_at FROM radio_favorites WHERE key = ?`, key).
		Scan(&entriesJSON, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return []FavoriteEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read favorites: %w", err)
	}
	if time.Now().UnixMilli() > expiresAt {
		_, _ = f.db.ExecContext(ctx, `DELETE FROM radio_favorites WHERE key = ?`, key)
		return []FavoriteEntry{}, nil
	}

	var entries []FavoriteEntry
	if err := json.Unmarshal([]byte(entriesJSON), &entries); err != nil {
		return []FavoriteEntry{}, nil
	}
	return entries, nil
}

// Write stores the deduplicated, capped list for key and resets its TTL.
func (f *FavoritesStore) Write(ctx context.Context, key string, entries []FavoriteEntry) error {
	deduped := DedupeEntries(entries)
	payload, err := json.Marshal(deduped)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = f.db.ExecContext(ctx, `
		INSERT INTO radio_favorites (key, entries, updated_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET entries = excluded.entries,
			updated_at = excluded.updated_at, expires_at = excluded.expires_at`,
		key, string(payload), now, now+FavoritesTTL.Milliseconds())
	if err != nil {
		return fmt.Errorf("write favorites: %w", err)
	}
	return nil
}

// RefreshTTL extends the expiry of an existing favorites row.
func (f *FavoritesStore) RefreshTTL(ctx context.Context, key string) error {
	now := time.Now().UnixMilli()
	_, err := f.db.ExecContext(ctx,
		`UPDATE radio_favorites SET expires_at = ? WHERE key = ?`,
		now+FavoritesTTL.Milliseconds(), key)
	return err
}

// DedupeEntries removes duplicate station ids, keeping first occurrence, and
// caps the list at MaxFavorites.
func DedupeEntries(entries []FavoriteEntry) []FavoriteEntry {
	seen := make(map[string]struct{}, len(entries))
	deduped := make([]FavoriteEntry, 0, MaxFavorites)
	for _, entry := range entries {
		id, ok := SanitizeStationID(entry.ID)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entry.ID = id
		deduped = append(deduped, entry)
		if len(deduped) >= MaxFavorites {
			break
		}
	}
	return deduped
}

var stationIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{1,64}$`)

// SanitizeStationID validates a client-provided station identifier.
func SanitizeStationID(value string) (string, bool) {
	if !stationIDPattern.MatchString(value) {
		return "", false
	}
	return value, true
}

// BuildFavoritesKey derives the storage key from the gateway session token
// plus an optional client-chosen session id.
func BuildFavoritesKey(sessionToken, clientSessionID string) string {
	if clientSessionID != "" {
		return sessionToken + ":" + clientSessionID
	}
	return sessionToken
}
