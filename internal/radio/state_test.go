// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stasaberg/gitgud-edge/internal/config"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
	"github.com/stasaberg/gitgud-edge/internal/metrics"
	"github.com/stasaberg/gitgud-edge/internal/ratelimit"
)

// stubCatalog serves a minimal radio-browser search response.
func stubCatalog(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/stations/search" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"stationuuid":  "uuid-1",
				"name":         "Test FM",
				"url_resolved": "https://streams.example/test-fm",
				"country":      "Sweden",
				"countrycode":  "SE",
				"language":     "swedish",
				"tags":         "pop,indie",
				"lastcheckok":  1,
				"ssl_error":    0,
				"clickcount":   42,
				"votes":        7,
			},
			{
				"stationuuid":  "uuid-broken",
				"name":         "Broken FM",
				"url_resolved": "https://streams.example/broken",
				"lastcheckok":  0,
				"ssl_error":    0,
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestAppState(t *testing.T, databasePath string, catalog *httptest.Server) *AppState {
	t.Helper()
	cfg, err := config.LoadRadio(mapEnv{})
	require.NoError(t, err)
	cfg.DatabasePath = databasePath
	cfg.Browser.Hosts = []string{catalog.URL}
	cfg.Validation.Enabled = false
	cfg.MemoryCacheTTL = time.Minute
	cfg.RefreshLockRetryAttempts = 5

	storage, err := OpenStorage(cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return &AppState{
		Config:    cfg,
		Storage:   storage,
		Favorites: NewFavoritesStore(storage),
		Browser:   NewBrowserClient(cfg.Browser, cfg.EnforceHTTPSStreams, cfg.AllowInsecureTransports),
		Validator: NewStreamValidator(cfg.Validation, nil),
		Limiter:   ratelimit.New("radio-test", cfg.RateLimitMax, cfg.RateLimitWindow),
		Metrics:   metrics.NewGateway(ctx, 1000),
		logger:    xlog.WithComponent("radio-test"),
	}
}

type mapEnv map[string]string

func (m mapEnv) Get(key string) string { return m[key] }

func TestLoadStationsRefreshesAndFilters(t *testing.T) {
	catalog := stubCatalog(t)
	state := newTestAppState(t, filepath.Join(t.TempDir(), "radio.db"), catalog)

	load, err := state.LoadStations(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "radio-browser", load.CacheSource)
	// The lastcheckok=0 entry is filtered during normalization.
	require.Len(t, load.Payload.Stations, 1)
	assert.Equal(t, "Test FM", load.Payload.Stations[0].Name)
	assert.NotEmpty(t, load.Payload.Fingerprint)
}

func TestLoadStationsServesMemoryCache(t *testing.T) {
	catalog := stubCatalog(t)
	state := newTestAppState(t, filepath.Join(t.TempDir(), "radio.db"), catalog)

	_, err := state.LoadStations(context.Background(), false)
	require.NoError(t, err)

	load, err := state.LoadStations(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "radio-browser", load.CacheSource)
}

func TestConcurrentRefreshSingleFlight(t *testing.T) {
	catalog := stubCatalog(t)
	databasePath := filepath.Join(t.TempDir(), "radio.db")
	state := newTestAppState(t, databasePath, catalog)

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, err := state.UpdateStations(context.Background())
			if err == nil {
				results[i] = payload.Fingerprint
			}
		}(i)
	}
	wg.Wait()

	// Every caller observed the same payload.
	var fingerprint string
	for _, result := range results {
		require.NotEmpty(t, result)
		if fingerprint == "" {
			fingerprint = result
		}
		assert.Equal(t, fingerprint, result)
	}
}

func TestWaiterObservesExternalRefresh(t *testing.T) {
	catalog := stubCatalog(t)
	databasePath := filepath.Join(t.TempDir(), "radio.db")

	holder := newTestAppState(t, databasePath, catalog)
	waiter := newTestAppState(t, databasePath, catalog)

	// The holder takes the advisory lock, simulating an in-flight refresh on
	// another replica.
	lock, err := holder.Storage.TryAcquireRefreshLock(context.Background(), holder.Config.RefreshLockKey)
	require.NoError(t, err)
	require.NotNil(t, lock)

	done := make(chan error, 1)
	go func() {
		_, err := waiter.UpdateStations(context.Background())
		done <- err
	}()

	// The replica finishes its refresh and releases the lock; the waiter's
	// polling picks up the new payload.
	time.Sleep(300 * time.Millisecond)
	_, err = holder.performRefresh(context.Background())
	require.NoError(t, err)
	lock.Release(context.Background())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("waiter never completed")
	}
}

func TestWaiterTimesOut(t *testing.T) {
	catalog := stubCatalog(t)
	databasePath := filepath.Join(t.TempDir(), "radio.db")

	holder := newTestAppState(t, databasePath, catalog)
	waiter := newTestAppState(t, databasePath, catalog)
	waiter.Config.RefreshLockRetryAttempts = 2

	lock, err := holder.Storage.TryAcquireRefreshLock(context.Background(), holder.Config.RefreshLockKey)
	require.NoError(t, err)
	require.NotNil(t, lock)
	defer lock.Release(context.Background())

	_, err = waiter.UpdateStations(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshWaitTimeout)
	assert.Equal(t, "timed out waiting for another refresh task to complete", ErrRefreshWaitTimeout.Error())
}
