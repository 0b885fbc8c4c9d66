// SPDX-License-Identifier: MIT

package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
	"github.com/stasaberg/gitgud-edge/internal/headerutil"
	"github.com/stasaberg/gitgud-edge/internal/proxy"
	"github.com/stasaberg/gitgud-edge/internal/session"
)

// handleProxy is the fallback pipeline for every path without a fixed route:
// parse, target, CORS, overload, session, body drain, cache, forward.
func (s *AppState) handleProxy(w http.ResponseWriter, r *http.Request) {
	reqCtx := s.Requests.Start(r)
	origin := r.Header.Get("Origin")
	corsHeaders := s.CORS.BuildHeaders(origin)
	w.Header().Set("X-Request-Id", reqCtx.RequestID)

	if r.Method == http.MethodOptions {
		applyHeaders(w, corsHeaders)
		w.Header().Set("Access-Control-Max-Age", preflightMaxAge)
		w.WriteHeader(http.StatusNoContent)
		reqCtx.Complete(http.StatusNoContent, "preflight", "")
		return
	}

	parsed, err := s.Router.ParseURI(r.URL.RequestURI())
	if err != nil {
		apiErr := apierr.From(err)
		applyHeaders(w, corsHeaders)
		writeErrorJSON(w, apiErr.Status(), apiErr.Message)
		reqCtx.Complete(apiErr.Status(), "gateway", "invalid-uri")
		return
	}

	target := s.Router.DetermineTarget(parsed.Path)
	if target == nil {
		applyHeaders(w, corsHeaders)
		writeErrorJSON(w, http.StatusNotFound, "Not Found")
		reqCtx.Complete(http.StatusNotFound, "gateway", "not-found")
		return
	}

	if !s.CORS.IsOriginAllowed(origin) {
		applyHeaders(w, corsHeaders)
		writeErrorJSON(w, http.StatusForbidden, "Origin not allowed")
		reqCtx.Complete(http.StatusForbidden, target.Service, "origin-denied")
		return
	}

	if s.Metrics.IsOverloaded() {
		applyHeaders(w, corsHeaders)
		writeErrorJSON(w, http.StatusServiceUnavailable, overloadMessage)
		reqCtx.Complete(http.StatusServiceUnavailable, target.Service, "overloaded")
		return
	}

	// Public docs paths under the proxied services skip session validation.
	docsAccess := (target.Service == "radio" || target.Service == "terminal") &&
		strings.HasPrefix(target.Path, "/docs")

	var snapshot *session.Snapshot
	validated, err := s.Sessions.Validate(r.Context(), r.Header, r.Method, r.URL)
	switch {
	case err == nil:
		snapshot = &validated
	case docsAccess:
		snapshot = nil
	default:
		apiErr := apierr.From(err)
		applyHeaders(w, corsHeaders)
		writeErrorJSON(w, apiErr.Status(), apiErr.Message)
		reqCtx.Complete(apiErr.Status(), target.Service, apiErr.Message)
		return
	}

	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		limited := http.MaxBytesReader(w, r.Body, int64(s.Config.PayloadLimitBytes))
		body, err = io.ReadAll(limited)
		if err != nil {
			status := http.StatusBadRequest
			message := "Invalid request body"
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
				message = "Request body too large"
			}
			applyHeaders(w, corsHeaders)
			writeErrorJSON(w, status, message)
			reqCtx.Complete(status, target.Service, "body-read")
			return
		}
	}

	cacheable := s.Router.ShouldCache(r.Method, target)
	cacheKey := ""
	if cacheable {
		cacheKey = s.Router.BuildCacheKey(target, parsed.Query)
	}

	clientIP := headerutil.ResolveClientIP(r.Header, r.RemoteAddr, s.Config.TrustProxy)

	recorder := &statusRecorder{ResponseWriter: w}
	s.Proxy.Forward(recorder, r, body, proxy.Options{
		Target:      target,
		Query:       parsed.Query,
		Session:     snapshot,
		CORSHeaders: corsHeaders,
		CacheKey:    cacheKey,
		Cacheable:   cacheable,
		RemoteIP:    clientIP.IP,
		RequestID:   reqCtx.RequestID,
		IsStreaming: isStreamingPath(target.Path),
	})

	status := recorder.status
	if status == 0 {
		status = http.StatusOK
	}
	if errors.Is(r.Context().Err(), context.DeadlineExceeded) {
		reqCtx.Complete(http.StatusGatewayTimeout, target.Service, "timeout")
		return
	}
	reqCtx.Complete(status, target.Service, recorder.Header().Get("X-Cache"))
}

// isStreamingPath marks stream endpoints so the proxy streams the body and
// the cache is bypassed.
func isStreamingPath(path string) bool {
	return strings.Contains(path, "/stream")
}

// statusRecorder captures the status code written by the proxy.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming responses flowing through the recorder.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
