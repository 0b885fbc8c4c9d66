// SPDX-License-Identifier: MIT

package radio

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
	"github.com/stasaberg/gitgud-edge/internal/headerutil"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
	"github.com/stasaberg/gitgud-edge/internal/ratelimit"
)

// NewRouter builds the radio service router.
func NewRouter(state *AppState) *chi.Mux {
	r := chi.NewRouter()
	r.Use(xlog.Middleware())

	r.Get("/healthz", state.handleHealthz)
	r.Get("/internal/status", state.handleInternalStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/docs", handleDocs)

	r.Get("/stations", state.handleGetStations)
	r.Post("/stations/refresh", state.handleRefresh)
	r.Post("/stations/{stationID}/click", state.handleClick)
	r.Get("/stations/{stationID}/stream", state.handleStream)
	r.Get("/stations/{stationID}/stream/segment", state.handleStreamSegment)

	r.Get("/favorites", state.handleGetFavorites)
	r.Put("/favorites", state.handlePutFavorites)

	return r
}

// handleDocs serves a spec stub; the interactive documentation assets live
// outside this service.
func handleDocs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "radio",
		"endpoints": []string{
			"/stations", "/stations/refresh", "/stations/{id}/click",
			"/stations/{id}/stream", "/stations/{id}/stream/segment",
			"/favorites", "/healthz", "/internal/status",
		},
	})
}

func (s *AppState) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.Storage.Ping(r.Context()); err != nil {
		apierr.WriteJSON(w, apierr.ServiceUnavailable("Database unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *AppState) handleInternalStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Metrics.Snapshot())
}

// enforceRateLimit applies the sliding window for the resolved client IP.
func (s *AppState) enforceRateLimit(w http.ResponseWriter, r *http.Request) (ratelimit.Metadata, bool) {
	client := headerutil.ResolveClientIP(r.Header, r.RemoteAddr, true)
	decision := s.Limiter.Check(client.IP)
	ratelimit.ApplyHeaders(w, decision.Metadata)
	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(ratelimit.RetryAfter(decision.Metadata)))
		apierr.WriteJSON(w, apierr.TooManyRequests("Too many requests"))
		return decision.Metadata, false
	}
	return decision.Metadata, true
}

// authorizeRefresh checks the bearer refresh token.
func (s *AppState) authorizeRefresh(r *http.Request) error {
	if s.Config.RefreshToken == "" {
		return apierr.Forbidden("Refresh is not enabled")
	}
	provided := strings.TrimSpace(r.Header.Get("X-Refresh-Token"))
	if provided == "" {
		auth := r.Header.Get("Authorization")
		if token, found := strings.CutPrefix(auth, "Bearer "); found {
			provided = strings.TrimSpace(token)
		}
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.Config.RefreshToken)) != 1 {
		return apierr.Forbidden("Invalid refresh token")
	}
	return nil
}

// resolveCSRFParams picks up the session material injected by the gateway so
// playlist rewrites can keep follow-up segment requests authenticated.
func resolveCSRFParams(r *http.Request) CSRFParams {
	params := CSRFParams{
		Token: strings.TrimSpace(r.Header.Get("X-Gateway-Csrf-Token")),
		Proof: strings.TrimSpace(r.Header.Get("X-Gateway-Csrf-Proof")),
	}
	query := r.URL.Query()
	if params.Token == "" {
		params.Token = strings.TrimSpace(query.Get("csrfToken"))
	}
	if params.Proof == "" {
		params.Proof = strings.TrimSpace(query.Get("csrfProof"))
	}
	return params
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
