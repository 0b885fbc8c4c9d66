// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
	"github.com/stasaberg/gitgud-edge/internal/csrf"
)

func newTestManager(t *testing.T, maxAge time.Duration) *Manager {
	t.Helper()
	return NewManager(context.Background(), ManagerConfig{
		MaxAge: maxAge,
		Secret: "test-secret",
	})
}

func requestHeaders(issued Issued) http.Header {
	headers := http.Header{}
	headers.Set("Cookie", DefaultCookieName+"="+issued.SessionID)
	headers.Set("x-gateway-csrf", issued.CSRFToken)
	headers.Set("x-gateway-csrf-proof", issued.CSRFProof)
	return headers
}

func TestIssueAndValidate(t *testing.T) {
	m := newTestManager(t, time.Minute)

	issued, err := m.Issue(context.Background())
	require.NoError(t, err)
	assert.Len(t, issued.SessionID, 32)
	assert.Len(t, issued.CSRFToken, 32)
	assert.Greater(t, issued.ExpiresAt, time.Now().UnixMilli())

	proof, ok := csrf.Verify("test-secret", issued.CSRFProof)
	require.True(t, ok)
	assert.Equal(t, issued.CSRFToken, proof.Nonce)

	snapshot, err := m.Validate(context.Background(), requestHeaders(issued), http.MethodGet, nil)
	require.NoError(t, err)
	assert.Equal(t, issued.SessionID, snapshot.SessionID)
	assert.GreaterOrEqual(t, snapshot.ExpiresAt, issued.ExpiresAt)
}

func TestValidateRequiresCookie(t *testing.T) {
	m := newTestManager(t, time.Minute)

	_, err := m.Validate(context.Background(), http.Header{}, http.MethodGet, nil)
	require.Error(t, err)
	apiErr := apierr.From(err)
	assert.Equal(t, apierr.KindUnauthorized, apiErr.Kind)
	assert.Equal(t, "Session required", apiErr.Message)
}

func TestValidateRejectsWrongToken(t *testing.T) {
	m := newTestManager(t, time.Minute)
	issued, err := m.Issue(context.Background())
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("Cookie", DefaultCookieName+"="+issued.SessionID)
	headers.Set("x-gateway-csrf", "ffffffffffffffffffffffffffffffff")

	_, err = m.Validate(context.Background(), headers, http.MethodPost, nil)
	require.Error(t, err)
	apiErr := apierr.From(err)
	assert.Equal(t, apierr.KindForbidden, apiErr.Kind)
	assert.Equal(t, "Missing or invalid CSRF token", apiErr.Message)
}

func TestValidateOptionsSkipsCSRF(t *testing.T) {
	m := newTestManager(t, time.Minute)
	issued, err := m.Issue(context.Background())
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("Cookie", DefaultCookieName+"="+issued.SessionID)

	_, err = m.Validate(context.Background(), headers, http.MethodOptions, nil)
	assert.NoError(t, err)
}

func TestValidateExpiredSession(t *testing.T) {
	m := newTestManager(t, 30*time.Millisecond)
	issued, err := m.Issue(context.Background())
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	_, err = m.Validate(context.Background(), requestHeaders(issued), http.MethodGet, nil)
	require.Error(t, err)
	assert.Equal(t, "Session expired", apierr.From(err).Message)
}

func TestValidateAcceptsQueryParams(t *testing.T) {
	m := newTestManager(t, time.Minute)
	issued, err := m.Issue(context.Background())
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("Cookie", DefaultCookieName+"="+issued.SessionID)
	requestURL, _ := url.Parse("/radio/stations/x/stream/segment?source=abc&csrfToken=" +
		issued.CSRFToken + "&csrfProof=" + url.QueryEscape(issued.CSRFProof))

	snapshot, err := m.Validate(context.Background(), headers, http.MethodGet, requestURL)
	require.NoError(t, err)
	assert.Equal(t, issued.CSRFToken, snapshot.Nonce)
}

func TestValidateRotatesNonceOnVerifiedProof(t *testing.T) {
	m := newTestManager(t, time.Minute)
	issued, err := m.Issue(context.Background())
	require.NoError(t, err)

	// A verified proof for a different nonce rotates the stored nonce.
	rotated, ok := csrf.Build("test-secret", "00112233445566778899aabbccddeeff", time.Now().Add(time.Minute).UnixMilli())
	require.True(t, ok)

	headers := http.Header{}
	headers.Set("Cookie", DefaultCookieName+"="+issued.SessionID)
	headers.Set("x-gateway-csrf-proof", rotated)

	snapshot, err := m.Validate(context.Background(), headers, http.MethodPost, nil)
	require.NoError(t, err)
	assert.Equal(t, "00112233445566778899aabbccddeeff", snapshot.Nonce)

	// The follow-up request must present the rotated nonce.
	headers.Set("x-gateway-csrf", snapshot.Nonce)
	headers.Set("x-gateway-csrf-proof", snapshot.CSRFProof)
	_, err = m.Validate(context.Background(), headers, http.MethodPost, nil)
	assert.NoError(t, err)
}

func TestConcurrentValidationsProduceValidSuccessor(t *testing.T) {
	m := newTestManager(t, time.Minute)
	issued, err := m.Issue(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	snapshots := make([]Snapshot, 8)
	for i := range snapshots {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snapshot, err := m.Validate(context.Background(), requestHeaders(issued), http.MethodGet, nil)
			if err == nil {
				snapshots[i] = snapshot
			}
		}(i)
	}
	wg.Wait()

	// Every successful validation observed the same nonce and a non-receding
	// expiry: a valid successor of the issued record.
	for _, snapshot := range snapshots {
		if snapshot.SessionID == "" {
			continue
		}
		assert.Equal(t, issued.CSRFToken, snapshot.Nonce)
		assert.GreaterOrEqual(t, snapshot.ExpiresAt, issued.ExpiresAt)
	}
}

func TestRedisBackedStore(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	m := NewManager(context.Background(), ManagerConfig{
		MaxAge:      time.Minute,
		Secret:      "redis-secret",
		RedisClient: client,
	})

	issued, err := m.Issue(context.Background())
	require.NoError(t, err)

	// The record and both CSRF indexes land under the namespaced keys.
	assert.True(t, server.Exists("gateway:session:"+issued.SessionID))
	assert.True(t, server.Exists("gateway:session:nonce:"+issued.CSRFToken))
	assert.True(t, server.Exists("gateway:session:proof:"+issued.CSRFProof))

	snapshot, err := m.Validate(context.Background(), requestHeaders(issued), http.MethodGet, nil)
	require.NoError(t, err)
	assert.Equal(t, issued.CSRFToken, snapshot.Nonce)
}

func TestSecretSynchronization(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	first, err := SynchronizeSecret(context.Background(), client, "gateway:session:", "secret-a")
	require.NoError(t, err)
	assert.Equal(t, "secret-a", first)

	// A second replica with its own generated secret converges on the winner.
	second, err := SynchronizeSecret(context.Background(), client, "gateway:session:", "secret-b")
	require.NoError(t, err)
	assert.Equal(t, "secret-a", second)
}

func TestCSRFIndexFallbackByNonce(t *testing.T) {
	m := newTestManager(t, time.Minute)
	issued, err := m.Issue(context.Background())
	require.NoError(t, err)

	// Simulate a record that lost its nonce (e.g. written by an older build):
	// the nonce index resolves it from the presented token.
	require.NoError(t, m.store.Set(context.Background(), issued.SessionID, Record{ExpiresAt: issued.ExpiresAt}))

	headers := http.Header{}
	headers.Set("Cookie", DefaultCookieName+"="+issued.SessionID)
	headers.Set("x-gateway-csrf", issued.CSRFToken)

	snapshot, err := m.Validate(context.Background(), headers, http.MethodPost, nil)
	require.NoError(t, err)
	assert.Equal(t, issued.CSRFToken, snapshot.Nonce)
}
