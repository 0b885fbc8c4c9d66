// SPDX-License-Identifier: MIT

package terminal

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/stasaberg/gitgud-edge/internal/config"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
)

// Server is the terminal sandbox HTTP surface.
type Server struct {
	cfg      config.Terminal
	handlers *Handlers
}

// NewServer seeds the sandbox filesystem and creates the server.
func NewServer(cfg config.Terminal) (*Server, error) {
	if err := EnsureSandboxFilesystem(cfg); err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, handlers: NewHandlers(cfg)}, nil
}

// Router builds the chi router.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(xlog.Middleware())
	r.Use(httprate.LimitByIP(s.cfg.RateLimitRPM, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/info", s.handleInfo)
	r.Post("/execute", s.handleExecute)
	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"service":   "terminal",
			"endpoints": []string{"/info", "/execute", "/healthz"},
		})
	})
	return r
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.handlers.BuildInfo())
}

type executeRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*1024)).Decode(&req); err != nil {
		outcome := MalformedBody()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(outcome.Status)
		_ = json.NewEncoder(w).Encode(outcome.Payload)
		return
	}

	outcome := s.handlers.Execute(req.Command, req.Cwd)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(outcome.Status)
	_ = json.NewEncoder(w).Encode(outcome.Payload)
}
