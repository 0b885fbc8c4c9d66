// SPDX-License-Identifier: MIT

package fetchmd

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
	"github.com/stasaberg/gitgud-edge/internal/config"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
)

const tokenHeader = "x-fmd-token"

// Server is the fetch-md HTTP surface.
type Server struct {
	cfg     config.FetchMD
	fetcher *Fetcher
	permits *semaphore.Weighted
	logger  zerolog.Logger
}

// NewServer creates the Server with a concurrency bound on fetches.
func NewServer(cfg config.FetchMD) *Server {
	return &Server{
		cfg: cfg,
		fetcher: NewFetcher(nil, Limits{
			Timeout:      cfg.Timeout,
			MaxHTMLBytes: cfg.MaxHTMLBytes,
			MaxMDBytes:   cfg.MaxMDBytes,
		}),
		permits: semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:  xlog.WithComponent("fetchmd"),
	}
}

// Router builds the chi router: logging, per-IP rate limiting, token gate.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(xlog.Middleware())
	r.Use(httprate.LimitByIP(s.cfg.RateLimitRPM, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/v1/fetch-md", s.handleFetchMD)
	return r
}

type fetchRequest struct {
	URL string `json:"url"`
}

type fetchError struct {
	Error string `json:"error"`
}

func (s *Server) handleFetchMD(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeFetchError(w, http.StatusUnauthorized, "Missing or invalid token")
		return
	}

	var req fetchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*1024)).Decode(&req); err != nil {
		writeFetchError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := s.permits.Acquire(r.Context(), 1); err != nil {
		writeFetchError(w, http.StatusServiceUnavailable, "Fetcher busy")
		return
	}
	defer s.permits.Release(1)

	markdown, err := s.fetcher.FetchMarkdown(r.Context(), req.URL)
	if err != nil {
		apiErr := apierr.From(err)
		s.logger.Warn().
			Str("event", "fetchmd.rejected").
			Int("status", apiErr.Status()).
			Str("detail", apiErr.Message).
			Msg("fetch rejected")
		writeFetchError(w, apiErr.Status(), apiErr.Message)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(markdown))
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	provided := r.Header.Get(tokenHeader)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.Token)) == 1
}

func writeFetchError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(fetchError{Error: message})
}
