// SPDX-License-Identifier: MIT

// Package station holds the radio station domain model: payloads,
// fingerprints, URL sanitation and the processed filter index.
package station

import "time"

// SchemaVersion is the current stations payload schema.
const SchemaVersion = 3

// Station is one directory entry. Stream URLs are always https-only; the
// insecure-transport settings apply to homepage and favicon URLs, not to
// stream URLs.
type Station struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	StreamURL     string       `json:"streamUrl"`
	Homepage      string       `json:"homepage,omitempty"`
	Favicon       string       `json:"favicon,omitempty"`
	Country       string       `json:"country,omitempty"`
	CountryCode   string       `json:"countryCode,omitempty"`
	State         string       `json:"state,omitempty"`
	Languages     []string     `json:"languages"`
	Tags          []string     `json:"tags"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`
	Bitrate       int          `json:"bitrate,omitempty"`
	Codec         string       `json:"codec,omitempty"`
	HLS           bool         `json:"hls"`
	IsOnline      bool         `json:"isOnline"`
	LastCheckedAt string       `json:"lastCheckedAt,omitempty"`
	LastChangedAt string       `json:"lastChangedAt,omitempty"`
	ClickCount    int          `json:"clickCount"`
	ClickTrend    int          `json:"clickTrend"`
	Votes         int          `json:"votes"`
}

// Coordinates is a station's geographic position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Payload is an immutable catalog snapshot. Exactly one payload is active at
// a time; station_state names it.
type Payload struct {
	SchemaVersion int       `json:"schema_version"`
	UpdatedAt     time.Time `json:"updated_at"`
	Source        string    `json:"source,omitempty"`
	Requests      []string  `json:"requests"`
	Total         int       `json:"total"`
	Stations      []Station `json:"stations"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
}

// EnsureFingerprint computes and caches the payload fingerprint.
func (p *Payload) EnsureFingerprint() (string, error) {
	if p.Fingerprint != "" {
		return p.Fingerprint, nil
	}
	fp, err := Fingerprint(p.Stations)
	if err != nil {
		return "", err
	}
	p.Fingerprint = fp
	return fp, nil
}

// Signature identifies a station's validation-relevant state.
func Signature(s Station) string {
	return s.StreamURL + "|" + s.LastChangedAt
}
