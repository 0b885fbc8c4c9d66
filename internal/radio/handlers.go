// SPDX-License-Identifier: MIT

package radio

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
	"github.com/stasaberg/gitgud-edge/internal/station"
)

// stationsQuery is the normalized GET /stations query.
type stationsQuery struct {
	Country      string
	Language     string
	Tag          string
	Search       string
	Limit        int
	Offset       int
	ForceRefresh bool
}

func (s *AppState) normalizeStationsQuery(r *http.Request) (stationsQuery, []string) {
	values := r.URL.Query()
	query := stationsQuery{
		Country:      strings.TrimSpace(values.Get("country")),
		Language:     strings.TrimSpace(values.Get("language")),
		Tag:          strings.TrimSpace(values.Get("tag")),
		Search:       strings.TrimSpace(values.Get("search")),
		Limit:        s.Config.DefaultPageSize,
		ForceRefresh: parseBool(values.Get("forceRefresh")),
	}

	var details []string
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			details = append(details, "limit must be a positive integer")
		} else {
			if limit > s.Config.MaxPageSize {
				limit = s.Config.MaxPageSize
			}
			query.Limit = limit
		}
	}
	if raw := values.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			details = append(details, "offset must be a non-negative integer")
		} else {
			query.Offset = offset
		}
	}
	if len(query.Search) > 200 {
		details = append(details, "search is too long")
	}
	return query, details
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

type stationsResponse struct {
	SchemaVersion int               `json:"schemaVersion"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	Source        string            `json:"source,omitempty"`
	CacheSource   string            `json:"cacheSource"`
	Fingerprint   string            `json:"fingerprint"`
	Total         int               `json:"total"`
	Count         int               `json:"count"`
	Offset        int               `json:"offset"`
	Countries     []string          `json:"countries"`
	Genres        []string          `json:"genres"`
	Stations      []station.Station `json:"stations"`
}

func (s *AppState) handleGetStations(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.enforceRateLimit(w, r); !ok {
		return
	}

	query, details := s.normalizeStationsQuery(r)
	if len(details) > 0 {
		apierr.WriteJSON(w, apierr.BadRequest("Invalid query parameters").WithDetails(details))
		return
	}
	if query.ForceRefresh {
		if err := s.authorizeRefresh(r); err != nil {
			apierr.WriteJSON(w, err)
			return
		}
	}

	load, err := s.LoadStations(r.Context(), query.ForceRefresh)
	if err != nil {
		s.writeLoadError(w, err)
		return
	}

	processed := s.EnsureProcessed(load.Payload.Fingerprint, load.Payload.Stations)

	var lists [][]int
	if query.Country != "" {
		indexes, _ := processed.IndexesForCountry(query.Country)
		lists = append(lists, indexes)
	}
	if query.Language != "" {
		indexes, _ := processed.IndexesForLanguage(query.Language)
		lists = append(lists, indexes)
	}
	if query.Tag != "" {
		indexes, _ := processed.IndexesForTag(query.Tag)
		lists = append(lists, indexes)
	}
	selected := station.IntersectLists(lists, len(load.Payload.Stations))
	if query.Search != "" {
		selected = processed.FilterSearch(query.Search, selected)
	}

	total := len(selected)
	if query.Offset > total {
		query.Offset = total
	}
	end := query.Offset + query.Limit
	if end > total {
		end = total
	}
	page := make([]station.Station, 0, end-query.Offset)
	for _, idx := range selected[query.Offset:end] {
		page = append(page, load.Payload.Stations[idx])
	}

	writeJSON(w, http.StatusOK, stationsResponse{
		SchemaVersion: load.Payload.SchemaVersion,
		UpdatedAt:     load.Payload.UpdatedAt,
		Source:        load.Payload.Source,
		CacheSource:   load.CacheSource,
		Fingerprint:   load.Payload.Fingerprint,
		Total:         total,
		Count:         len(page),
		Offset:        query.Offset,
		Countries:     processed.Countries,
		Genres:        processed.Genres,
		Stations:      page,
	})
}

func (s *AppState) writeLoadError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrRefreshWaitTimeout) {
		apierr.WriteJSON(w, apierr.ServiceUnavailable(ErrRefreshWaitTimeout.Error()))
		return
	}
	s.logger.Error().Err(err).Str("event", "stations.load_failed").Msg("station load failed")
	apierr.WriteJSON(w, apierr.Internal(err))
}

func (s *AppState) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizeRefresh(r); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if _, ok := s.enforceRateLimit(w, r); !ok {
		return
	}

	payload, err := s.UpdateStations(r.Context())
	if err != nil {
		s.writeLoadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"meta": map[string]any{
			"fingerprint": payload.Fingerprint,
			"total":       payload.Total,
			"updatedAt":   payload.UpdatedAt,
		},
	})
}

func (s *AppState) handleClick(w http.ResponseWriter, r *http.Request) {
	stationID := strings.TrimSpace(chi.URLParam(r, "stationID"))
	if stationID == "" {
		apierr.WriteJSON(w, apierr.BadRequest("Station identifier is required"))
		return
	}
	if _, ok := s.enforceRateLimit(w, r); !ok {
		return
	}
	if err := s.RecordStationClick(r.Context(), stationID); err != nil {
		s.logger.Warn().Err(err).Str("event", "stations.click_failed").Str("station_id", stationID).Msg("click forwarding failed")
		apierr.WriteJSON(w, apierr.ServiceUnavailable("Failed to record click"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

// loadStation finds one station in the active payload.
func (s *AppState) loadStation(r *http.Request, stationID string) (station.Station, error) {
	load, err := s.LoadStations(r.Context(), false)
	if err != nil {
		return station.Station{}, err
	}
	for _, st := range load.Payload.Stations {
		if st.ID == stationID {
			return st, nil
		}
	}
	return station.Station{}, apierr.NotFound("Station not found")
}

func (s *AppState) handleStream(w http.ResponseWriter, r *http.Request) {
	stationID := strings.TrimSpace(chi.URLParam(r, "stationID"))
	if stationID == "" {
		apierr.WriteJSON(w, apierr.BadRequest("Station identifier is required"))
		return
	}
	if _, ok := s.enforceRateLimit(w, r); !ok {
		return
	}

	st, err := s.loadStation(r, stationID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	response, err := s.fetchUpstream(r, st.StreamURL, []string{"user-agent", "accept"})
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apierr.WriteJSON(w, apierr.Newf(apierr.KindBadGateway, "Upstream returned %d", response.StatusCode))
		return
	}

	contentType := response.Header.Get("Content-Type")
	if !IsPlaylist(st.StreamURL, contentType) {
		forwardStreamResponse(w, response)
		return
	}

	playlist, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		apierr.WriteJSON(w, apierr.ServiceUnavailable("Failed to read playlist from upstream."))
		return
	}
	rewritten := RewritePlaylist(st.StreamURL, string(playlist), resolveCSRFParams(r), "stream/segment")
	writePlaylist(w, rewritten)
}

func (s *AppState) handleStreamSegment(w http.ResponseWriter, r *http.Request) {
	stationID := strings.TrimSpace(chi.URLParam(r, "stationID"))
	if stationID == "" {
		apierr.WriteJSON(w, apierr.BadRequest("Station identifier is required"))
		return
	}
	source := strings.TrimSpace(r.URL.Query().Get("source"))
	if source == "" {
		apierr.WriteJSON(w, apierr.BadRequest("A source query parameter is required."))
		return
	}
	if _, ok := s.enforceRateLimit(w, r); !ok {
		return
	}

	target, err := parseSegmentSource(source)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	st, err := s.loadStation(r, stationID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	// The decoded source must share the station's declared stream origin and
	// stay on https: the rewrite never points anywhere else.
	if err := checkSegmentOrigin(st.StreamURL, target); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	response, err := s.fetchUpstream(r, target.String(), []string{"range", "accept", "user-agent"})
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apierr.WriteJSON(w, apierr.Newf(apierr.KindBadGateway, "Upstream returned %d", response.StatusCode))
		return
	}

	contentType := response.Header.Get("Content-Type")
	if !IsPlaylist(target.String(), contentType) {
		forwardStreamResponse(w, response)
		return
	}

	playlist, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		apierr.WriteJSON(w, apierr.ServiceUnavailable("Failed to read playlist from upstream."))
		return
	}
	// Nested playlists rewrite against a relative base so the proxy path does
	// not accumulate extra segments as the player walks deeper.
	rewritten := RewritePlaylist(target.String(), string(playlist), resolveCSRFParams(r), "segment")
	writePlaylist(w, rewritten)
}

type favoritesRequest struct {
	SessionID string          `json:"sessionId"`
	Favorites []FavoriteEntry `json:"favorites"`
}

func (s *AppState) favoritesKey(r *http.Request, clientSessionID string) (string, error) {
	token := strings.TrimSpace(r.Header.Get("X-Gateway-Session"))
	if token == "" {
		return "", apierr.Unauthorized("Session required")
	}
	return BuildFavoritesKey(token, clientSessionID), nil
}

func (s *AppState) handleGetFavorites(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.enforceRateLimit(w, r); !ok {
		return
	}
	key, err := s.favoritesKey(r, strings.TrimSpace(r.URL.Query().Get("sessionId")))
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	entries, err := s.Favorites.Read(r.Context(), key)
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal(err))
		return
	}
	_ = s.Favorites.RefreshTTL(r.Context(), key)
	writeJSON(w, http.StatusOK, map[string]any{"favorites": entries})
}

func (s *AppState) handlePutFavorites(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.enforceRateLimit(w, r); !ok {
		return
	}

	var req favoritesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.BadRequest("Invalid request body"))
		return
	}
	key, err := s.favoritesKey(r, strings.TrimSpace(req.SessionID))
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if err := s.Favorites.Write(r.Context(), key, req.Favorites); err != nil {
		apierr.WriteJSON(w, apierr.Internal(err))
		return
	}
	entries, err := s.Favorites.Read(r.Context(), key)
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"favorites": entries})
}
