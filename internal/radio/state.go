// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/stasaberg/gitgud-edge/internal/config"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
	"github.com/stasaberg/gitgud-edge/internal/metrics"
	"github.com/stasaberg/gitgud-edge/internal/ratelimit"
	"github.com/stasaberg/gitgud-edge/internal/station"
)

// ErrRefreshWaitTimeout reports that another replica's refresh never landed
// within the polling budget.
var ErrRefreshWaitTimeout = errors.New("timed out waiting for another refresh task to complete")

// AppState owns the radio service's process-wide resources.
type AppState struct {
	Config    config.Radio
	Storage   *Storage
	Favorites *FavoritesStore
	Browser   *BrowserClient
	Validator *StreamValidator
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Gateway
	Redis     *redis.Client

	refreshGroup singleflight.Group

	mu                  sync.RWMutex
	memoryPayload       *memoryPayloadEntry
	processed           *processedEntry
	cacheStateUpdatedAt *time.Time

	logger zerolog.Logger
}

type memoryPayloadEntry struct {
	payload     station.Payload
	cacheSource string
	expiresAt   time.Time
}

type processedEntry struct {
	cacheKey string
	data     *station.Processed
}

// LoadResult is a payload plus where it came from.
type LoadResult struct {
	Payload     station.Payload
	CacheSource string
}

// NewAppState wires the radio service state.
func NewAppState(ctx context.Context, cfg config.Radio) (*AppState, error) {
	storage, err := OpenStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = storage.Close()
			return nil, err
		}
		redisClient = redis.NewClient(opts)
	}

	return &AppState{
		Config:    cfg,
		Storage:   storage,
		Favorites: NewFavoritesStore(storage),
		Browser:   NewBrowserClient(cfg.Browser, cfg.EnforceHTTPSStreams, cfg.AllowInsecureTransports),
		Validator: NewStreamValidator(cfg.Validation, redisClient),
		Limiter:   ratelimit.New("radio", cfg.RateLimitMax, cfg.RateLimitWindow),
		Metrics:   metrics.NewGateway(ctx, 1000),
		Redis:     redisClient,
		logger:    xlog.WithComponent("radio"),
	}, nil
}

// Close releases held resources.
func (s *AppState) Close() error {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	return s.Storage.Close()
}

// LoadStations serves the active payload: memory cache, then database, then a
// full refresh. Serving a database payload schedules a background refresh.
func (s *AppState) LoadStations(ctx context.Context, forceRefresh bool) (LoadResult, error) {
	if err := s.ensureCacheStateSync(ctx); err != nil {
		return LoadResult{}, err
	}

	if !forceRefresh {
		if entry, found := s.memoryCacheEntry(); found {
			return entry, nil
		}

		payload, found, err := s.Storage.LoadLatestPayload(ctx)
		if err != nil {
			return LoadResult{}, err
		}
		if found {
			sanitized, upgraded, ok := station.SanitizePayload(payload,
				s.Config.EnforceHTTPSStreams, s.Config.AllowInsecureTransports)
			if ok {
				if _, err := sanitized.EnsureFingerprint(); err != nil {
					return LoadResult{}, err
				}
				if upgraded {
					s.logger.Info().Str("event", "stations.payload_upgraded").Str("source", "database").Msg("persisted payload upgraded")
				}
				s.cacheInMemory(sanitized, "database")
				s.EnsureProcessed(sanitized.Fingerprint, sanitized.Stations)
				s.scheduleBackgroundRefresh()
				return LoadResult{Payload: sanitized, CacheSource: "database"}, nil
			}
			s.logger.Info().Str("event", "stations.payload_invalid").Str("source", "database").Msg("persisted payload rejected by sanitizer")
		}
	}

	payload, err := s.refreshAndCache(ctx)
	if err != nil {
		return LoadResult{}, err
	}
	return LoadResult{Payload: payload, CacheSource: "radio-browser"}, nil
}

// UpdateStations forces a refresh (used by POST /stations/refresh).
func (s *AppState) UpdateStations(ctx context.Context) (station.Payload, error) {
	return s.refreshAndCache(ctx)
}

// RecordStationClick proxies a click to the external catalog.
func (s *AppState) RecordStationClick(ctx context.Context, stationID string) error {
	return s.Browser.RecordClick(ctx, stationID)
}

// refreshAndCache runs the single-flight refresh: in-process callers collapse
// onto one flight, and across replicas the relational advisory lock decides
// who fetches while everyone else polls for the result.
func (s *AppState) refreshAndCache(ctx context.Context) (station.Payload, error) {
	result, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		lock, err := s.Storage.TryAcquireRefreshLock(ctx, s.Config.RefreshLockKey)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			defer lock.Release(ctx)
			return s.performRefresh(ctx)
		}

		s.logger.Info().
			Str("event", "stations.refresh.waiting").
			Str("lock_key", s.Config.RefreshLockKey).
			Int("retry_attempts", s.Config.RefreshLockRetryAttempts).
			Msg("another replica is refreshing")
		return s.waitForExternalRefresh(ctx)
	})
	if err != nil {
		return station.Payload{}, err
	}
	return result.(station.Payload), nil
}

// performRefresh fetches the catalog, validates streams, persists the payload
// and refreshes every cache layer.
func (s *AppState) performRefresh(ctx context.Context) (station.Payload, error) {
	payload, err := s.Browser.FetchPayload(ctx)
	if err != nil {
		return station.Payload{}, err
	}

	summary, err := s.Validator.Validate(ctx, payload.Stations)
	if err != nil {
		return station.Payload{}, err
	}
	if summary.Dropped > 0 {
		s.logger.Info().
			Str("event", "stream.validation").
			Int("dropped", summary.Dropped).
			Interface("reasons", summary.Reasons).
			Msg("stations dropped by validation")
	}
	payload.Stations = summary.Stations
	payload.Total = len(summary.Stations)
	payload.Fingerprint = ""
	if _, err := payload.EnsureFingerprint(); err != nil {
		return station.Payload{}, err
	}

	if err := s.Storage.PersistPayload(ctx, &payload); err != nil {
		return station.Payload{}, err
	}

	if err := s.updateCacheStateMarker(ctx); err != nil {
		return station.Payload{}, err
	}
	s.cacheInMemory(payload, "radio-browser")
	s.EnsureProcessed(payload.Fingerprint, payload.Stations)
	return payload, nil
}

// waitForExternalRefresh polls station_state.updated_at at one-second
// intervals until another replica's refresh lands, then loads its payload.
func (s *AppState) waitForExternalRefresh(ctx context.Context) (station.Payload, error) {
	initial, initialFound, err := s.Storage.ReadStateUpdatedAt(ctx)
	if err != nil {
		return station.Payload{}, err
	}

	for attempt := 0; attempt < s.Config.RefreshLockRetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return station.Payload{}, ctx.Err()
		case <-time.After(time.Second):
		}

		current, found, err := s.Storage.ReadStateUpdatedAt(ctx)
		if err != nil {
			return station.Payload{}, err
		}
		if !found || (initialFound && current.Equal(initial)) {
			continue
		}

		if err := s.ensureCacheStateSync(ctx); err != nil {
			return station.Payload{}, err
		}
		payload, loaded, err := s.Storage.LoadLatestPayload(ctx)
		if err != nil {
			return station.Payload{}, err
		}
		if !loaded {
			continue
		}
		sanitized, _, ok := station.SanitizePayload(payload,
			s.Config.EnforceHTTPSStreams, s.Config.AllowInsecureTransports)
		if !ok {
			continue
		}
		if _, err := sanitized.EnsureFingerprint(); err != nil {
			return station.Payload{}, err
		}

		s.cacheInMemory(sanitized, "database")
		s.EnsureProcessed(sanitized.Fingerprint, sanitized.Stations)
		s.logger.Info().
			Str("event", "stations.refresh.wait_success").
			Int("attempt", attempt+1).
			Time("updated_at", current).
			Msg("external refresh observed")
		return sanitized, nil
	}

	return station.Payload{}, ErrRefreshWaitTimeout
}

func (s *AppState) scheduleBackgroundRefresh() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.refreshAndCache(ctx); err != nil {
			s.logger.Warn().Err(err).Str("event", "stations.background_refresh_error").Msg("background refresh failed")
		}
	}()
}

// EnsureProcessed rebuilds the derived index when the fingerprint marker
// changes, and returns the current index.
func (s *AppState) EnsureProcessed(cacheKey string, stations []station.Station) *station.Processed {
	s.mu.RLock()
	if s.processed != nil && s.processed.cacheKey == cacheKey {
		data := s.processed.data
		s.mu.RUnlock()
		return data
	}
	s.mu.RUnlock()

	data := station.BuildProcessed(stations)
	s.mu.Lock()
	s.processed = &processedEntry{cacheKey: cacheKey, data: data}
	s.mu.Unlock()
	return data
}

func (s *AppState) cacheInMemory(payload station.Payload, cacheSource string) {
	if s.Config.MemoryCacheTTL == 0 {
		return
	}
	s.mu.Lock()
	s.memoryPayload = &memoryPayloadEntry{
		payload:     payload,
		cacheSource: cacheSource,
		expiresAt:   time.Now().Add(s.Config.MemoryCacheTTL),
	}
	s.mu.Unlock()
}

func (s *AppState) memoryCacheEntry() (LoadResult, bool) {
	if s.Config.MemoryCacheTTL == 0 {
		return LoadResult{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.memoryPayload == nil || time.Now().After(s.memoryPayload.expiresAt) {
		return LoadResult{}, false
	}
	return LoadResult{
		Payload:     s.memoryPayload.payload,
		CacheSource: s.memoryPayload.cacheSource,
	}, true
}

// ensureCacheStateSync invalidates the in-memory caches whenever another
// replica swapped the active payload: a cache entry must never outlive its
// fingerprint marker.
func (s *AppState) ensureCacheStateSync(ctx context.Context) error {
	current, found, err := s.Storage.ReadStateUpdatedAt(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	switch {
	case !found && s.cacheStateUpdatedAt != nil:
		changed = true
		s.cacheStateUpdatedAt = nil
	case found && (s.cacheStateUpdatedAt == nil || !s.cacheStateUpdatedAt.Equal(current)):
		changed = true
		stamp := current
		s.cacheStateUpdatedAt = &stamp
	}

	if changed {
		s.logger.Info().Str("event", "stations.state.changed").Msg("active payload marker changed; caches invalidated")
		s.memoryPayload = nil
		s.processed = nil
	}
	return nil
}

func (s *AppState) updateCacheStateMarker(ctx context.Context) error {
	current, found, err := s.Storage.ReadStateUpdatedAt(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if found {
		stamp := current
		s.cacheStateUpdatedAt = &stamp
	} else {
		s.cacheStateUpdatedAt = nil
	}
	s.mu.Unlock()
	return nil
}
