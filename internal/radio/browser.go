// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/stasaberg/gitgud-edge/internal/config"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
	"github.com/stasaberg/gitgud-edge/internal/station"
)

// BrowserClient fetches the external station catalog from a pool of mirror
// hosts, rotated per call for load balancing and failover.
type BrowserClient struct {
	cfg     config.RadioBrowser
	client  *http.Client
	cursor  atomic.Uint64
	limiter *rate.Limiter
	logger  zerolog.Logger

	enforceHTTPS  bool
	allowInsecure bool
}

// NewBrowserClient creates the catalog client.
func NewBrowserClient(cfg config.RadioBrowser, enforceHTTPS, allowInsecure bool) *BrowserClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &BrowserClient{
		cfg:           cfg,
		client:        &http.Client{Timeout: cfg.Timeout},
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
		logger:        xlog.WithComponent("radio-browser"),
		enforceHTTPS:  enforceHTTPS,
		allowInsecure: allowInsecure,
	}
}

// orderedHosts returns the host pool starting at the rotating cursor.
func (c *BrowserClient) orderedHosts() []string {
	hosts := c.cfg.Hosts
	if len(hosts) == 0 {
		return nil
	}
	start := int(c.cursor.Add(1)-1) % len(hosts)
	ordered := make([]string, 0, len(hosts))
	for i := range hosts {
		ordered = append(ordered, hosts[(start+i)%len(hosts)])
	}
	return ordered
}

// FetchPayload pulls the catalog, trying each host in rotation order.
func (c *BrowserClient) FetchPayload(ctx context.Context) (station.Payload, error) {
	var lastErr error
	for _, host := range c.orderedHosts() {
		payload, err := c.fetchPayloadFromHost(ctx, host)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		c.logger.Warn().
			Err(err).
			Str("event", "stations.fetch_host_failed").
			Str("host", host).
			Msg("catalog host failed; rotating")
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no catalog hosts configured")
	}
	return station.Payload{}, lastErr
}

type rawStation struct {
	StationUUID     string   `json:"stationuuid"`
	Name            string   `json:"name"`
	URLResolved     string   `json:"url_resolved"`
	URL             string   `json:"url"`
	Homepage        string   `json:"homepage"`
	Favicon         string   `json:"favicon"`
	Country         string   `json:"country"`
	CountryCode     string   `json:"countrycode"`
	State           string   `json:"state"`
	Language        string   `json:"language"`
	Tags            string   `json:"tags"`
	GeoLat          *float64 `json:"geo_lat"`
	GeoLong         *float64 `json:"geo_long"`
	Bitrate         int      `json:"bitrate"`
	Codec           string   `json:"codec"`
	HLS             int      `json:"hls"`
	LastCheckOK     int      `json:"lastcheckok"`
	SSLError        int      `json:"ssl_error"`
	LastCheckOKTime string   `json:"lastcheckoktime_iso8601"`
	LastChangeTime  string   `json:"lastchangetime_iso8601"`
	ClickCount      int      `json:"clickcount"`
	ClickTrend      int      `json:"clicktrend"`
	Votes           int      `json:"votes"`
}

func (c *BrowserClient) fetchPayloadFromHost(ctx context.Context, baseURL string) (station.Payload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return station.Payload{}, err
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.cfg.StationLimit))
	query.Set("hidebroken", "true")
	query.Set("lastcheckok", "1")
	query.Set("ssl_error", "0")
	query.Set("order", "clickcount")
	query.Set("reverse", "true")
	requestURL := baseURL + "/json/stations/search?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return station.Payload{}, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	response, err := c.client.Do(req)
	if err != nil {
		return station.Payload{}, fmt.Errorf("catalog request failed: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return station.Payload{}, fmt.Errorf("catalog returned %d", response.StatusCode)
	}

	var raw []rawStation
	if err := json.NewDecoder(response.Body).Decode(&raw); err != nil {
		return station.Payload{}, fmt.Errorf("decode catalog response: %w", err)
	}

	stations := make([]station.Station, 0, len(raw))
	for _, entry := range raw {
		if normalized, ok := c.normalizeStation(entry); ok {
			stations = append(stations, normalized)
		}
	}

	payload := station.Payload{
		SchemaVersion: station.SchemaVersion,
		UpdatedAt:     time.Now().UTC(),
		Source:        baseURL,
		Requests:      []string{requestURL},
		Total:         len(stations),
		Stations:      stations,
	}
	if _, err := payload.EnsureFingerprint(); err != nil {
		return station.Payload{}, err
	}
	return payload, nil
}

// normalizeStation accepts only healthy catalog entries and sanitizes every
// URL they carry.
func (c *BrowserClient) normalizeStation(raw rawStation) (station.Station, bool) {
	if raw.LastCheckOK != 1 || raw.SSLError != 0 {
		return station.Station{}, false
	}
	streamURL := raw.URLResolved
	if streamURL == "" {
		streamURL = raw.URL
	}
	sanitized, ok := station.SanitizeStreamURL(streamURL)
	if !ok {
		return station.Station{}, false
	}
	id := strings.TrimSpace(raw.StationUUID)
	name := strings.TrimSpace(raw.Name)
	if id == "" || name == "" {
		return station.Station{}, false
	}

	st := station.Station{
		ID:            id,
		Name:          name,
		StreamURL:     sanitized,
		Country:       strings.TrimSpace(raw.Country),
		CountryCode:   strings.ToUpper(strings.TrimSpace(raw.CountryCode)),
		State:         strings.TrimSpace(raw.State),
		Languages:     splitList(raw.Language),
		Tags:          splitList(raw.Tags),
		Bitrate:       raw.Bitrate,
		Codec:         strings.TrimSpace(raw.Codec),
		HLS:           raw.HLS == 1,
		IsOnline:      true,
		LastCheckedAt: raw.LastCheckOKTime,
		LastChangedAt: raw.LastChangeTime,
		ClickCount:    raw.ClickCount,
		ClickTrend:    raw.ClickTrend,
		Votes:         raw.Votes,
	}
	if homepage, ok := station.SanitizeStationURL(raw.Homepage, c.enforceHTTPS, c.allowInsecure); ok {
		st.Homepage = homepage
	}
	if favicon, ok := station.SanitizeStationURL(raw.Favicon, c.enforceHTTPS, c.allowInsecure); ok {
		st.Favicon = favicon
	}
	if raw.GeoLat != nil && raw.GeoLong != nil {
		st.Coordinates = &station.Coordinates{Lat: *raw.GeoLat, Lon: *raw.GeoLong}
	}
	return st, true
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RecordClick forwards a station click to the catalog, rotating hosts on
// failure.
func (c *BrowserClient) RecordClick(ctx context.Context, stationID string) error {
	var lastErr error
	for _, host := range c.orderedHosts() {
		if err := c.recordClickWithHost(ctx, host, stationID); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no catalog hosts configured")
	}
	return lastErr
}

func (c *BrowserClient) recordClickWithHost(ctx context.Context, baseURL, stationID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	requestURL := baseURL + "/json/url/" + url.PathEscape(stationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	response, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("click endpoint returned %d", response.StatusCode)
	}
	return nil
}
