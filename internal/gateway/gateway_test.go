// SPDX-License-Identifier: MIT

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stasaberg/gitgud-edge/internal/config"
	"github.com/stasaberg/gitgud-edge/internal/proxy"
)

func newTestState(t *testing.T) (*AppState, *proxy.MockProxy) {
	t.Helper()
	cfg, err := config.LoadGateway(mapEnv{
		"SESSION_SECRET":            "test-session-secret",
		"CSRF_PROOF_SECRET":         "test-proof-secret",
		"RADIO_SERVICE_URL":         "http://radio-service:3000",
		"TERMINAL_SERVICE_URL":      "http://terminal-service:3001",
		"ALLOW_ORIGINS":             "https://gitgud.zip",
		"ALLOWED_SERVICE_HOSTNAMES": "radio-service,terminal-service",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	state, err := New(ctx, cfg)
	require.NoError(t, err)

	mock := proxy.NewMockProxy()
	state.Proxy = mock
	return state, mock
}

type mapEnv map[string]string

func (m mapEnv) Get(key string) string { return m[key] }

type sessionBody struct {
	CSRFToken string `json:"csrfToken"`
	CSRFProof string `json:"csrfProof"`
	ExpiresAt int64  `json:"expiresAt"`
}

func issueSession(t *testing.T, router http.Handler) (sessionBody, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	req.Header.Set("Origin", "https://gitgud.zip")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body sessionBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	cookie := rec.Header().Get("Set-Cookie")
	require.NotEmpty(t, cookie)
	return body, cookie
}

func TestSessionHappyPath(t *testing.T) {
	state, mock := newTestState(t)
	router := NewRouter(state)

	body, cookie := issueSession(t, router)
	assert.NotEmpty(t, body.CSRFToken)
	assert.NotEmpty(t, body.CSRFProof)
	assert.Greater(t, body.ExpiresAt, time.Now().UnixMilli())
	assert.Contains(t, cookie, "gateway.sid=")
	assert.Contains(t, cookie, "HttpOnly")
	assert.Contains(t, cookie, "Secure")
	assert.Contains(t, cookie, "SameSite=Strict")

	req := httptest.NewRequest(http.MethodGet, "/radio/stations", nil)
	req.Header.Set("Origin", "https://gitgud.zip")
	req.Header.Set("Cookie", cookie[:strings.Index(cookie, ";")])
	req.Header.Set("x-gateway-csrf", body.CSRFToken)
	req.Header.Set("x-gateway-csrf-proof", body.CSRFProof)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "radio", calls[0].Options.Target.Service)
	assert.Equal(t, "/stations", calls[0].Options.Target.Path)
	require.NotNil(t, calls[0].Options.Session)
	assert.Equal(t, body.CSRFToken, calls[0].Options.Session.Nonce)
}

func TestSessionPreflight(t *testing.T) {
	state, _ := newTestState(t)
	router := NewRouter(state)

	req := httptest.NewRequest(http.MethodOptions, "/session", nil)
	req.Header.Set("Origin", "https://gitgud.zip")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "https://gitgud.zip", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSessionRejectsUnknownOrigin(t *testing.T) {
	state, _ := newTestState(t)
	router := NewRouter(state)

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Origin not allowed"}`, rec.Body.String())
}

func TestSessionMethodNotAllowed(t *testing.T) {
	state, _ := newTestState(t)
	router := NewRouter(state)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProxyRejectsMismatchedCSRF(t *testing.T) {
	state, _ := newTestState(t)
	router := NewRouter(state)

	_, cookie := issueSession(t, router)
	req := httptest.NewRequest(http.MethodGet, "/radio/stations", nil)
	req.Header.Set("Origin", "https://gitgud.zip")
	req.Header.Set("Cookie", cookie[:strings.Index(cookie, ";")])
	req.Header.Set("x-gateway-csrf", "ffffffffffffffffffffffffffffffff")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Missing or invalid CSRF token"}`, rec.Body.String())
}

func TestProxyRequiresSession(t *testing.T) {
	state, _ := newTestState(t)
	router := NewRouter(state)

	req := httptest.NewRequest(http.MethodGet, "/radio/stations", nil)
	req.Header.Set("Origin", "https://gitgud.zip")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Session required"}`, rec.Body.String())
}

func TestProxyBlocksTraversal(t *testing.T) {
	state, _ := newTestState(t)
	router := NewRouter(state)

	req := httptest.NewRequest(http.MethodGet, "/radio/%2e%2e/etc/passwd", nil)
	req.Header.Set("Origin", "https://gitgud.zip")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not Found"}`, rec.Body.String())
}

func TestProxyUnknownPathIs404(t *testing.T) {
	state, _ := newTestState(t)
	router := NewRouter(state)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocsPathsSkipSession(t *testing.T) {
	state, mock := newTestState(t)
	router := NewRouter(state)

	req := httptest.NewRequest(http.MethodGet, "/radio/docs", nil)
	req.Header.Set("Origin", "https://gitgud.zip")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].Options.Session)
}

func TestHealthz(t *testing.T) {
	state, _ := newTestState(t)
	router := NewRouter(state)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestInternalStatus(t *testing.T) {
	state, _ := newTestState(t)
	router := NewRouter(state)

	req := httptest.NewRequest(http.MethodGet, "/internal/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
	assert.Contains(t, status, "eventLoopLagMs")
	assert.Contains(t, status, "totalRequests")
}

func TestPreflightOnProxyPath(t *testing.T) {
	state, mock := newTestState(t)
	router := NewRouter(state)

	req := httptest.NewRequest(http.MethodOptions, "/radio/stations", nil)
	req.Header.Set("Origin", "https://gitgud.zip")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, mock.Calls())
}
