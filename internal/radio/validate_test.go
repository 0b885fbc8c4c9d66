// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stasaberg/gitgud-edge/internal/config"
	"github.com/stasaberg/gitgud-edge/internal/station"
)

func validationConfig() config.StreamValidation {
	return config.StreamValidation{
		Enabled:         true,
		Timeout:         2 * time.Second,
		Concurrency:     4,
		CacheKey:        "radio:stream-validation",
		CacheTTL:        time.Hour,
		FailureCacheTTL: time.Minute,
	}
}

// newTLSValidator points the validator at a local TLS server while the
// station URLs keep a public-looking hostname, so the blocked-domain check
// sees what production would see.
func newTLSValidator(t *testing.T, handler http.HandlerFunc, redisClient *redis.Client) *StreamValidator {
	t.Helper()
	server := httptest.NewTLSServer(handler)
	t.Cleanup(server.Close)

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, network, server.Listener.Addr().String())
		},
	}
	t.Cleanup(transport.CloseIdleConnections)

	validator := NewStreamValidator(validationConfig(), redisClient)
	validator.client = &http.Client{Transport: transport, Timeout: 2 * time.Second}
	return validator
}

func TestValidateAcceptsHealthyStream(t *testing.T) {
	validator := newTLSValidator(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("payload-bytes"))
	}, nil)

	summary, err := validator.Validate(context.Background(), []station.Station{{
		ID: "a", Name: "Alpha", StreamURL: "https://radio.example/live",
	}})
	require.NoError(t, err)
	assert.Zero(t, summary.Dropped)
	require.Len(t, summary.Stations, 1)
}

func TestValidateForcesHLSOnPlaylistContentType(t *testing.T) {
	validator := newTLSValidator(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte("#EXTM3U\n"))
	}, nil)

	summary, err := validator.Validate(context.Background(), []station.Station{{
		ID: "a", Name: "Alpha", StreamURL: "https://radio.example/play",
	}})
	require.NoError(t, err)
	require.Len(t, summary.Stations, 1)
	assert.True(t, summary.Stations[0].HLS)
}

func TestValidateDropsWrongContentType(t *testing.T) {
	validator := newTLSValidator(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}, nil)

	summary, err := validator.Validate(context.Background(), []station.Station{{
		ID: "a", Name: "Alpha", StreamURL: "https://radio.example/live",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dropped)
	assert.Equal(t, 1, summary.Reasons["unexpected-content-type"])
}

func TestValidateDropsEmptyBody(t *testing.T) {
	validator := newTLSValidator(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
	}, nil)

	summary, err := validator.Validate(context.Background(), []station.Station{{
		ID: "a", Name: "Alpha", StreamURL: "https://radio.example/live",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Reasons["empty-response"])
}

func TestValidateDropsBadCORP(t *testing.T) {
	validator := newTLSValidator(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
		_, _ = w.Write([]byte("data"))
	}, nil)

	summary, err := validator.Validate(context.Background(), []station.Station{{
		ID: "a", Name: "Alpha", StreamURL: "https://radio.example/live",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Reasons["corp-same-origin"])
}

func TestValidateDropsBlockedDomain(t *testing.T) {
	validator := NewStreamValidator(validationConfig(), nil)
	summary, err := validator.Validate(context.Background(), []station.Station{{
		ID: "a", Name: "Alpha", StreamURL: "https://stream.khz.se/live",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Reasons["blocked-domain"])
}

func TestValidateUsesNegativeCache(t *testing.T) {
	redisServer := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})

	hits := 0
	validator := newTLSValidator(t, func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("nope"))
	}, client)

	stations := []station.Station{{ID: "a", Name: "Alpha", StreamURL: "https://radio.example/live"}}
	_, err := validator.Validate(context.Background(), stations)
	require.NoError(t, err)
	require.Equal(t, 1, hits)

	// The cached failure short-circuits the second sweep.
	summary, err := validator.Validate(context.Background(), stations)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, summary.Reasons["unexpected-content-type"])
}

func TestValidatePreservesOrder(t *testing.T) {
	validator := newTLSValidator(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "slow") {
			time.Sleep(50 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("data"))
	}, nil)

	stations := []station.Station{
		{ID: "slow", Name: "Slow", StreamURL: "https://radio.example/slow"},
		{ID: "fast", Name: "Fast", StreamURL: "https://radio.example/fast"},
	}
	summary, err := validator.Validate(context.Background(), stations)
	require.NoError(t, err)
	require.Len(t, summary.Stations, 2)
	assert.Equal(t, "slow", summary.Stations[0].ID)
	assert.Equal(t, "fast", summary.Stations[1].ID)
}

func TestValidateDisabledPassesThrough(t *testing.T) {
	cfg := validationConfig()
	cfg.Enabled = false
	validator := NewStreamValidator(cfg, nil)

	stations := []station.Station{{ID: "a", Name: "Alpha", StreamURL: "https://anything.example/x"}}
	summary, err := validator.Validate(context.Background(), stations)
	require.NoError(t, err)
	assert.Len(t, summary.Stations, 1)
	assert.Zero(t, summary.Dropped)
}
