// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/stasaberg/gitgud-edge/internal/config"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
	"github.com/stasaberg/gitgud-edge/internal/station"
)

// StreamValidator probes candidate stream URLs with bounded concurrency and
// caches both positive and negative outcomes.
type StreamValidator struct {
	cfg    config.StreamValidation
	client *http.Client
	redis  *redis.Client // nil disables the shared cache
	logger zerolog.Logger
}

// ValidationSummary is the outcome of one validation sweep.
type ValidationSummary struct {
	Stations []station.Station
	Dropped  int
	Reasons  map[string]int
}

type validationCacheEntry struct {
	OK          bool   `json:"ok"`
	Reason      string `json:"reason,omitempty"`
	FinalURL    string `json:"final_url,omitempty"`
	ForceHLS    bool   `json:"force_hls,omitempty"`
	ValidatedAt int64  `json:"validated_at"`
	Signature   string `json:"signature,omitempty"`
	TTLSeconds  int64  `json:"ttl_seconds,omitempty"`
}

// NewStreamValidator creates the validator. The client follows redirects so
// the final URL can be policy-checked.
func NewStreamValidator(cfg config.StreamValidation, redisClient *redis.Client) *StreamValidator {
	return &StreamValidator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		redis:  redisClient,
		logger: xlog.WithComponent("stream-validation"),
	}
}

// Validate probes every station, short-circuiting on fresh cache entries
// whose signature matches. Accepted stations keep their original order.
func (v *StreamValidator) Validate(ctx context.Context, stations []station.Station) (ValidationSummary, error) {
	if !v.cfg.Enabled {
		return ValidationSummary{Stations: stations, Reasons: map[string]int{}}, nil
	}

	cache := v.loadCache(ctx)
	now := time.Now().UnixMilli()

	type outcome struct {
		idx      int
		station  station.Station
		accepted bool
		reason   string
		update   *validationCacheEntry
	}

	permits := semaphore.NewWeighted(int64(max(1, v.cfg.Concurrency)))
	outcomes := make([]outcome, len(stations))
	var wg sync.WaitGroup
	for idx, st := range stations {
		if err := permits.Acquire(ctx, 1); err != nil {
			return ValidationSummary{}, err
		}
		wg.Add(1)
		go func(idx int, st station.Station) {
			defer wg.Done()
			defer permits.Release(1)

			signature := station.Signature(st)
			if entry, found := cache[st.StreamURL]; found && v.entryValid(entry, now, signature) {
				if entry.OK {
					outcomes[idx] = outcome{idx: idx, station: applyEntry(st, &entry), accepted: true}
				} else {
					reason := entry.Reason
					if reason == "" {
						reason = "invalid"
					}
					outcomes[idx] = outcome{idx: idx, reason: reason}
				}
				return
			}

			result, reason := v.validateStation(ctx, st)
			if reason == "" {
				entry := &validationCacheEntry{
					OK:          true,
					FinalURL:    result.finalURL,
					ForceHLS:    result.forceHLS,
					ValidatedAt: now,
					Signature:   signature,
					TTLSeconds:  int64(v.cfg.CacheTTL.Seconds()),
				}
				outcomes[idx] = outcome{idx: idx, station: applyEntry(st, entry), accepted: true, update: entry}
				return
			}
			outcomes[idx] = outcome{
				idx:    idx,
				reason: reason,
				update: &validationCacheEntry{
					OK:          false,
					Reason:      reason,
					ValidatedAt: now,
					Signature:   signature,
					TTLSeconds:  int64(v.cfg.FailureCacheTTL.Seconds()),
				},
			}
		}(idx, st)
	}
	wg.Wait()

	summary := ValidationSummary{Reasons: map[string]int{}}
	updates := make(map[string]validationCacheEntry)
	accepted := make([]int, 0, len(stations))
	for idx, out := range outcomes {
		if out.update != nil {
			updates[stations[idx].StreamURL] = *out.update
		}
		if out.accepted {
			accepted = append(accepted, idx)
		} else {
			summary.Dropped++
			reason := out.reason
			if reason == "" {
				reason = "invalid"
			}
			summary.Reasons[reason]++
		}
	}
	sort.Ints(accepted)
	summary.Stations = make([]station.Station, 0, len(accepted))
	for _, idx := range accepted {
		summary.Stations = append(summary.Stations, outcomes[idx].station)
	}

	v.writeCache(ctx, updates)
	return summary, nil
}

type validatedStream struct {
	finalURL string
	forceHLS bool
}

// validateStation probes one stream. A non-empty reason means rejection.
func (v *StreamValidator) validateStation(ctx context.Context, st station.Station) (validatedStream, string) {
	if station.IsBlockedDomain(st.StreamURL) {
		return validatedStream{}, "blocked-domain"
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, st.StreamURL, nil)
	if err != nil {
		return validatedStream{}, "network"
	}
	req.Header.Set("Range", "bytes=0-4095")
	req.Header.Set("User-Agent", "gitgud.zip radio-service validation")
	req.Header.Set("Accept", "*/*")

	response, err := v.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return validatedStream{}, "timeout"
		}
		return validatedStream{}, "network"
	}
	defer func() { _ = response.Body.Close() }()

	status := response.StatusCode
	if !(status >= 200 && status < 300) && status != http.StatusPartialContent {
		return validatedStream{}, fmt.Sprintf("status-%d", status)
	}

	finalURL := response.Request.URL.String()
	if !strings.HasPrefix(strings.ToLower(finalURL), "https://") {
		return validatedStream{}, "insecure-redirect"
	}
	if station.IsBlockedDomain(finalURL) {
		return validatedStream{}, "blocked-domain"
	}

	if corp := strings.TrimSpace(response.Header.Get("Cross-Origin-Resource-Policy")); corp != "" {
		if !strings.EqualFold(corp, "cross-origin") {
			return validatedStream{}, "corp-" + strings.ToLower(corp)
		}
	}

	contentType := response.Header.Get("Content-Type")
	if !isKnownStreamType(contentType) {
		return validatedStream{}, "unexpected-content-type"
	}

	// The first non-empty chunk must arrive before we accept the stream.
	chunk := make([]byte, 1024)
	hasData := false
	for {
		n, readErr := response.Body.Read(chunk)
		if n > 0 {
			hasData = true
			break
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return validatedStream{}, "network"
		}
	}
	if !hasData {
		return validatedStream{}, "empty-response"
	}

	return validatedStream{
		finalURL: finalURL,
		forceHLS: strings.Contains(strings.ToLower(contentType), "mpegurl"),
	}, ""
}

func isKnownStreamType(contentType string) bool {
	lower := strings.ToLower(contentType)
	return strings.HasPrefix(lower, "audio/") ||
		strings.HasPrefix(lower, "video/") ||
		strings.Contains(lower, "mpegurl") ||
		lower == "application/octet-stream"
}

func (v *StreamValidator) entryValid(entry validationCacheEntry, now int64, signature string) bool {
	ttl := entry.TTLSeconds
	if ttl <= 0 {
		ttl = int64(v.cfg.CacheTTL.Seconds())
	}
	if now-entry.ValidatedAt > ttl*1000 {
		return false
	}
	return entry.Signature != "" && entry.Signature == signature
}

func applyEntry(st station.Station, entry *validationCacheEntry) station.Station {
	if entry.FinalURL != "" {
		st.StreamURL = entry.FinalURL
	}
	if entry.ForceHLS {
		st.HLS = true
	}
	return st
}

// loadCache reads the shared validation cache hash from redis.
func (v *StreamValidator) loadCache(ctx context.Context) map[string]validationCacheEntry {
	cache := make(map[string]validationCacheEntry)
	if v.redis == nil {
		return cache
	}
	raw, err := v.redis.HGetAll(ctx, v.cfg.CacheKey).Result()
	if err != nil {
		v.logger.Warn().Err(err).Str("event", "stream.validation.cache_unavailable").Msg("validation cache read failed")
		return cache
	}
	for key, value := range raw {
		var entry validationCacheEntry
		if err := json.Unmarshal([]byte(value), &entry); err == nil {
			cache[key] = entry
		}
	}
	return cache
}

// writeCache stores the sweep's updates in one pipeline and refreshes the
// hash TTL.
func (v *StreamValidator) writeCache(ctx context.Context, updates map[string]validationCacheEntry) {
	if v.redis == nil || len(updates) == 0 {
		return
	}
	pipe := v.redis.Pipeline()
	for streamURL, entry := range updates {
		payload, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		pipe.HSet(ctx, v.cfg.CacheKey, streamURL, payload)
	}
	pipe.Expire(ctx, v.cfg.CacheKey, v.cfg.CacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		v.logger.Warn().Err(err).Str("event", "stream.validation.cache_write_failed").Msg("validation cache write failed")
	}
}
