// SPDX-License-Identifier: MIT

// Package radio implements the radio directory service: station ingest,
// persistence, validation, HLS proxying and favorites.
package radio

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stasaberg/gitgud-edge/internal/station"
)

const insertBatchSize = 500

// Storage is the relational store for station payloads and the single active
// payload marker.
type Storage struct {
	db *sql.DB
}

// OpenStorage opens (and initializes) the sqlite database at path. WAL mode
// plus a busy timeout let multiple replicas share the file without
// SQLITE_BUSY failures during the refresh swap.
func OpenStorage(path string) (*Storage, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStorageFromDB wraps an existing handle (tests use :memory:).
func NewStorageFromDB(db *sql.DB) (*Storage, error) {
	s := &Storage{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS station_payloads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			schema_version INTEGER,
			updated_at TEXT NOT NULL,
			source TEXT,
			requests TEXT NOT NULL DEFAULT '[]',
			total INTEGER NOT NULL DEFAULT 0,
			fingerprint TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS stations (
			payload_id INTEGER NOT NULL REFERENCES station_payloads(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			stream_url TEXT NOT NULL,
			homepage TEXT,
			favicon TEXT,
			country TEXT,
			country_code TEXT,
			state TEXT,
			languages TEXT NOT NULL DEFAULT '[]',
			tags TEXT NOT NULL DEFAULT '[]',
			coordinates TEXT,
			bitrate INTEGER,
			codec TEXT,
			hls INTEGER NOT NULL DEFAULT 0,
			is_online INTEGER NOT NULL DEFAULT 0,
			last_checked_at TEXT,
			last_changed_at TEXT,
			click_count INTEGER NOT NULL DEFAULT 0,
			click_trend INTEGER NOT NULL DEFAULT 0,
			votes INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (payload_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS station_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			payload_id INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS radio_favorites (
			key TEXT PRIMARY KEY,
			entries TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS refresh_locks (
			key_hash INTEGER PRIMARY KEY,
			owner TEXT NOT NULL,
			acquired_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Storage) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// LoadLatestPayload returns the active payload, or false when no payload has
// been persisted yet.
func (s *Storage) LoadLatestPayload(ctx context.Context) (station.Payload, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sp.id, sp.schema_version, sp.updated_at, sp.source, sp.requests, sp.total, sp.fingerprint
		FROM station_state ss
		JOIN station_payloads sp ON sp.id = ss.payload_id
		LIMIT 1`)

	var (
		payloadID     int64
		schemaVersion sql.NullInt64
		updatedAt     string
		source        sql.NullString
		requestsJSON  string
		total         int64
		fingerprint   sql.NullString
	)
	if err := row.Scan(&payloadID, &schemaVersion, &updatedAt, &source, &requestsJSON, &total, &fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return station.Payload{}, false, nil
		}
		return station.Payload{}, false, fmt.Errorf("load payload header: %w", err)
	}

	payload := station.Payload{
		SchemaVersion: int(schemaVersion.Int64),
		Source:        source.String,
		Total:         int(total),
		Fingerprint:   fingerprint.String,
	}
	if parsed, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		payload.UpdatedAt = parsed
	}
	_ = json.Unmarshal([]byte(requestsJSON), &payload.Requests)

	stations, err := s.loadStations(ctx, payloadID)
	if err != nil {
		return station.Payload{}, false, err
	}
	payload.Stations = stations
	if _, err := payload.EnsureFingerprint(); err != nil {
		return station.Payload{}, false, err
	}
	return payload, true, nil
}

func (s *Storage) loadStations(ctx context.Context, payloadID int64) ([]station.Station, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, stream_url, homepage, favicon, country, country_code, state,
		       languages, tags, coordinates, bitrate, codec, hls, is_online,
		       last_checked_at, last_changed_at, click_count, click_trend, votes
		FROM stations
		WHERE payload_id = ?
		ORDER BY name ASC`, payloadID)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stations []station.Station
	for rows.Next() {
		var (
			st                        station.Station
			homepage, favicon         sql.NullString
			country, countryCode      sql.NullString
			state, coordinates, codec sql.NullString
			lastChecked, lastChanged  sql.NullString
			languagesJSON, tagsJSON   string
			bitrate                   sql.NullInt64
			hls, isOnline             int
		)
		if err := rows.Scan(&st.ID, &st.Name, &st.StreamURL, &homepage, &favicon,
			&country, &countryCode, &state, &languagesJSON, &tagsJSON, &coordinates,
			&bitrate, &codec, &hls, &isOnline, &lastChecked, &lastChanged,
			&st.ClickCount, &st.ClickTrend, &st.Votes); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		st.Homepage = homepage.String
		st.Favicon = favicon.String
		st.Country = country.String
		st.CountryCode = countryCode.String
		st.State = state.String
		st.Codec = codec.String
		st.Bitrate = int(bitrate.Int64)
		st.HLS = hls != 0
		st.IsOnline = isOnline != 0
		st.LastCheckedAt = lastChecked.String
		st.LastChangedAt = lastChanged.String
		_ = json.Unmarshal([]byte(languagesJSON), &st.Languages)
		_ = json.Unmarshal([]byte(tagsJSON), &st.Tags)
		if coordinates.Valid && coordinates.String != "" {
			var coords station.Coordinates
			if err := json.Unmarshal([]byte(coordinates.String), &coords); err == nil {
				st.Coordinates = &coords
			}
		}
		if st.Languages == nil {
			st.Languages = []string{}
		}
		if st.Tags == nil {
			st.Tags = []string{}
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// PersistPayload stores payload as the new active snapshot. An unchanged
// fingerprint only bumps station_state.updated_at; otherwise a new payload
// row is written, the state marker swaps atomically and older payloads are
// deleted.
func (s *Storage) PersistPayload(ctx context.Context, payload *station.Payload) error {
	fingerprint, err := payload.EnsureFingerprint()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payload transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentFingerprint sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT sp.fingerprint
		FROM station_state ss
		JOIN station_payloads sp ON sp.id = ss.payload_id
		LIMIT 1`).Scan(&currentFingerprint)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read current fingerprint: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if currentFingerprint.Valid && currentFingerprint.String == fingerprint {
		if _, err := tx.ExecContext(ctx,
			`UPDATE station_state SET updated_at = ? WHERE id = 1`, now); err != nil {
			return fmt.Errorf("bump state marker: %w", err)
		}
		return tx.Commit()
	}

	requestsJSON, err := json.Marshal(payload.Requests)
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO station_payloads (schema_version, updated_at, source, requests, total, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?)`,
		payload.SchemaVersion, payload.UpdatedAt.UTC().Format(time.RFC3339),
		payload.Source, string(requestsJSON), payload.Total, fingerprint)
	if err != nil {
		return fmt.Errorf("insert payload: %w", err)
	}
	payloadID, err := result.LastInsertId()
	if err != nil {
		return err
	}

	if err := insertStations(ctx, tx, payloadID, payload.Stations); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO station_state (id, payload_id, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload_id = excluded.payload_id, updated_at = excluded.updated_at`,
		payloadID, now); err != nil {
		return fmt.Errorf("swap state marker: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM station_payloads WHERE id <> ?`, payloadID); err != nil {
		return fmt.Errorf("prune old payloads: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM stations WHERE payload_id <> ?`, payloadID); err != nil {
		return fmt.Errorf("prune old stations: %w", err)
	}

	return tx.Commit()
}

func insertStations(ctx context.Context, tx *sql.Tx, payloadID int64, stations []station.Station) error {
	const columns = 21
	for start := 0; start < len(stations); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(stations) {
			end = len(stations)
		}
		chunk := stations[start:end]

		placeholders := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*columns)
		for _, st := range chunk {
			placeholders = append(placeholders,
				"(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")

			languagesJSON, err := json.Marshal(st.Languages)
			if err != nil {
				return err
			}
			tagsJSON, err := json.Marshal(st.Tags)
			if err != nil {
				return err
			}
			coordinatesJSON := ""
			if st.Coordinates != nil {
				encoded, err := json.Marshal(st.Coordinates)
				if err != nil {
					return err
				}
				coordinatesJSON = string(encoded)
			}
			args = append(args, payloadID, st.ID, st.Name, st.StreamURL,
				st.Homepage, st.Favicon, st.Country, st.CountryCode, st.State,
				string(languagesJSON), string(tagsJSON), coordinatesJSON,
				st.Bitrate, st.Codec, boolToInt(st.HLS), boolToInt(st.IsOnline),
				st.LastCheckedAt, st.LastChangedAt, st.ClickCount, st.ClickTrend, st.Votes)
		}

		query := `INSERT INTO stations (payload_id, id, name, stream_url, homepage, favicon,
			country, country_code, state, languages, tags, coordinates, bitrate, codec,
			hls, is_online, last_checked_at, last_changed_at, click_count, click_trend, votes)
			VALUES ` + strings.Join(placeholders, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert station batch: %w", err)
		}
	}
	return nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// ReadStateUpdatedAt reads the active payload marker's timestamp.
func (s *Storage) ReadStateUpdatedAt(ctx context.Context) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM station_state WHERE id = 1 LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read state marker: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse state marker: %w", err)
	}
	return parsed, true, nil
}
