// SPDX-License-Identifier: MIT

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
	"github.com/stasaberg/gitgud-edge/internal/contact"
	"github.com/stasaberg/gitgud-edge/internal/headerutil"
)

func (s *AppState) handleSessionOptions(w http.ResponseWriter, r *http.Request) {
	ctx := s.Requests.Start(r)
	origin := r.Header.Get("Origin")

	applyHeaders(w, s.CORS.BuildHeaders(origin))
	w.Header().Set("Access-Control-Max-Age", preflightMaxAge)
	w.Header().Set("X-Request-Id", ctx.RequestID)
	w.WriteHeader(http.StatusNoContent)
	ctx.Complete(http.StatusNoContent, "session", "preflight")
}

func (s *AppState) handleSessionPost(w http.ResponseWriter, r *http.Request) {
	ctx := s.Requests.Start(r)
	origin := r.Header.Get("Origin")
	applyHeaders(w, s.CORS.BuildHeaders(origin))
	w.Header().Set("X-Request-Id", ctx.RequestID)

	if !s.CORS.IsOriginAllowed(origin) {
		writeErrorJSON(w, http.StatusForbidden, "Origin not allowed")
		ctx.Complete(http.StatusForbidden, "session", "origin-denied")
		return
	}
	if s.Metrics.IsOverloaded() {
		writeErrorJSON(w, http.StatusServiceUnavailable, overloadMessage)
		ctx.Complete(http.StatusServiceUnavailable, "session", "overloaded")
		return
	}

	issued, err := s.Sessions.Issue(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Str("event", "session.issue_failed").Msg("session issue failed")
		status, message := http.StatusInternalServerError, "Failed to initialize session"
		if apiErr := apierr.From(err); apiErr.Kind == apierr.KindServiceUnavailable {
			status, message = apiErr.Status(), apiErr.Message
		}
		writeErrorJSON(w, status, message)
		ctx.Complete(status, "session", "issue-failed")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Set-Cookie", buildSessionCookie(s.Sessions.CookieName(), issued.SessionID, s.Config.Session.MaxAge))
	writeJSON(w, http.StatusOK, map[string]any{
		"csrfToken": issued.CSRFToken,
		"csrfProof": issued.CSRFProof,
		"expiresAt": issued.ExpiresAt,
	})
	ctx.Complete(http.StatusOK, "session", "")
}

func (s *AppState) handleSessionMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	ctx := s.Requests.Start(r)
	applyHeaders(w, s.CORS.BuildHeaders(r.Header.Get("Origin")))
	writeErrorJSON(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	ctx.Complete(http.StatusMethodNotAllowed, "session", "method-not-allowed")
}

func (s *AppState) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *AppState) handleInternalStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Metrics.Snapshot())
}

func (s *AppState) handleContact(w http.ResponseWriter, r *http.Request) {
	ctx := s.Requests.Start(r)
	origin := r.Header.Get("Origin")
	applyHeaders(w, s.CORS.BuildHeaders(origin))
	w.Header().Set("X-Request-Id", ctx.RequestID)

	if !s.CORS.IsOriginAllowed(origin) {
		writeErrorJSON(w, http.StatusForbidden, "Origin not allowed")
		ctx.Complete(http.StatusForbidden, "contact", "origin-denied")
		return
	}

	var req contact.Request
	body := http.MaxBytesReader(w, r.Body, int64(s.Config.PayloadLimitBytes))
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "Invalid request body")
		ctx.Complete(http.StatusBadRequest, "contact", "body-read")
		return
	}

	clientIP := headerutil.ResolveClientIP(r.Header, r.RemoteAddr, s.Config.TrustProxy)
	if err := s.Contact.Handle(r.Context(), req, clientIP.IP); err != nil {
		apiErr := apierr.From(err)
		w.Header().Set("Cache-Control", "no-store")
		apierr.WriteJSON(w, apiErr)
		ctx.Complete(apiErr.Status(), "contact", apiErr.Message)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	ctx.Complete(http.StatusAccepted, "contact", "")
}

func buildSessionCookie(name, value string, maxAge time.Duration) string {
	expires := time.Now().Add(maxAge).UTC().Format(time.RFC1123Z)
	return fmt.Sprintf("%s=%s; Max-Age=%d; Expires=%s; Path=/; HttpOnly; Secure; SameSite=Strict",
		name, value, int(maxAge.Seconds()), expires)
}
