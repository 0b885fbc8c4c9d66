// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stasaberg/gitgud-edge/internal/station"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	storage, err := OpenStorage(filepath.Join(t.TempDir(), "radio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func testPayload(names ...string) station.Payload {
	stations := make([]station.Station, 0, len(names))
	for _, name := range names {
		stations = append(stations, station.Station{
			ID:          "id-" + name,
			Name:        name,
			StreamURL:   "https://streams.example/" + name,
			Languages:   []string{"english"},
			Tags:        []string{"pop"},
			IsOnline:    true,
			Coordinates: &station.Coordinates{Lat: 59.3, Lon: 18.1},
		})
	}
	return station.Payload{
		SchemaVersion: station.SchemaVersion,
		UpdatedAt:     time.Now().UTC().Truncate(time.Second),
		Source:        "https://de1.api.radio-browser.info",
		Requests:      []string{"https://de1.api.radio-browser.info/json/stations/search"},
		Total:         len(stations),
		Stations:      stations,
	}
}

func TestPersistAndLoadPayload(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	_, found, err := storage.LoadLatestPayload(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	payload := testPayload("Alpha", "Beta")
	require.NoError(t, storage.PersistPayload(ctx, &payload))

	loaded, found, err := storage.LoadLatestPayload(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload.Fingerprint, loaded.Fingerprint)
	require.Len(t, loaded.Stations, 2)
	assert.Equal(t, "Alpha", loaded.Stations[0].Name)
	assert.Equal(t, []string{"english"}, loaded.Stations[0].Languages)
	require.NotNil(t, loaded.Stations[0].Coordinates)
	assert.InDelta(t, 59.3, loaded.Stations[0].Coordinates.Lat, 0.0001)
}

func TestPersistUnchangedFingerprintBumpsMarker(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	payload := testPayload("Alpha")
	require.NoError(t, storage.PersistPayload(ctx, &payload))
	first, found, err := storage.ReadStateUpdatedAt(ctx)
	require.NoError(t, err)
	require.True(t, found)

	time.Sleep(5 * time.Millisecond)
	same := testPayload("Alpha")
	require.NoError(t, storage.PersistPayload(ctx, &same))

	second, found, err := storage.ReadStateUpdatedAt(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, second.After(first), "marker must advance on unchanged refresh")
}

func TestPersistSwapsActivePayload(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	first := testPayload("Alpha")
	require.NoError(t, storage.PersistPayload(ctx, &first))
	second := testPayload("Alpha", "Beta")
	require.NoError(t, storage.PersistPayload(ctx, &second))

	loaded, found, err := storage.LoadLatestPayload(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second.Fingerprint, loaded.Fingerprint)
	assert.Len(t, loaded.Stations, 2)

	// Older payload rows are pruned on swap.
	var count int
	require.NoError(t, storage.db.QueryRow(`SELECT COUNT(*) FROM station_payloads`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRefreshLockExcludesSecondHolder(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	lock, err := storage.TryAcquireRefreshLock(ctx, "radio:stations:refresh")
	require.NoError(t, err)
	require.NotNil(t, lock)

	// The same key cannot be claimed twice.
	second, err := storage.TryAcquireRefreshLock(ctx, "radio:stations:refresh")
	require.NoError(t, err)
	assert.Nil(t, second)

	// A different key is independent.
	other, err := storage.TryAcquireRefreshLock(ctx, "radio:other")
	require.NoError(t, err)
	require.NotNil(t, other)
	other.Release(ctx)

	lock.Release(ctx)
	third, err := storage.TryAcquireRefreshLock(ctx, "radio:stations:refresh")
	require.NoError(t, err)
	assert.NotNil(t, third)
	third.Release(ctx)
}

func TestRefreshLockEmptyKeyIsNoop(t *testing.T) {
	storage := newTestStorage(t)
	lock, err := storage.TryAcquireRefreshLock(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, lock)
	lock.Release(context.Background())
}
