// SPDX-License-Identifier: MIT

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestTimeout bounds every request's context. Handlers that outlive the
// deadline observe a cancelled context; the proxy fallback answers 504.
func requestTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRouter builds the gateway's chi router: fixed endpoints plus the proxy
// fallback for every other path.
func NewRouter(state *AppState) *chi.Mux {
	r := chi.NewRouter()
	r.Use(requestTimeout(state.Config.RequestTimeout))

	r.Post("/session", state.handleSessionPost)
	r.Options("/session", state.handleSessionOptions)
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead} {
		r.Method(method, "/session", http.HandlerFunc(state.handleSessionMethodNotAllowed))
	}

	r.Post("/contact", state.handleContact)
	r.Get("/healthz", state.handleHealthz)
	r.Get("/internal/status", state.handleInternalStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/docs", state.handleDocsHTML)
	r.Get("/docs/json", state.handleDocsSpec)
	r.Get("/docs/openapi.json", state.handleDocsSpec)

	r.NotFound(state.handleProxy)
	r.MethodNotAllowed(state.handleProxy)

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func applyHeaders(w http.ResponseWriter, headers http.Header) {
	for name, values := range headers {
		w.Header()[name] = values
	}
}
