// SPDX-License-Identifier: MIT

package station

import (
	"net/url"
	"strings"

	"github.com/stasaberg/gitgud-edge/internal/urlpolicy"
)

// blockedStreamDomains lists hosts whose streams are never served, on top of
// the private-host policy.
var blockedStreamDomains = []string{"stream.khz.se"}

// SanitizeStreamURL normalizes a stream URL under the strict policy: https
// enforced, private hosts blocked.
func SanitizeStreamURL(raw string) (string, bool) {
	return urlpolicy.Sanitize(raw, urlpolicy.Options{
		ForceHTTPS:        true,
		BlockPrivateHosts: true,
	})
}

// SanitizeStationURL normalizes auxiliary station URLs (homepage, favicon)
// under the configured transport policy.
func SanitizeStationURL(raw string, enforceHTTPS, allowInsecure bool) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", true
	}
	return urlpolicy.Sanitize(raw, urlpolicy.Options{
		ForceHTTPS:    enforceHTTPS,
		AllowInsecure: allowInsecure,
	})
}

// IsBlockedDomain reports whether the URL's host is deny-listed or private.
func IsBlockedDomain(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}
	for _, blocked := range blockedStreamDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return urlpolicy.IsBlockedHostname(host)
}

// SanitizePayload re-validates a persisted payload's stream URLs against the
// current transport policy. It returns the cleaned payload, whether any http
// URL was upgraded, and false when no station survives.
func SanitizePayload(payload Payload, enforceHTTPS, allowInsecure bool) (Payload, bool, bool) {
	upgraded := false
	cleaned := make([]Station, 0, len(payload.Stations))
	for _, s := range payload.Stations {
		sanitized, ok := SanitizeStreamURL(s.StreamURL)
		if !ok {
			continue
		}
		if sanitized != s.StreamURL {
			upgraded = true
			s.StreamURL = sanitized
		}
		if homepage, ok := SanitizeStationURL(s.Homepage, enforceHTTPS, allowInsecure); ok {
			s.Homepage = homepage
		} else {
			s.Homepage = ""
		}
		if favicon, ok := SanitizeStationURL(s.Favicon, enforceHTTPS, allowInsecure); ok {
			s.Favicon = favicon
		} else {
			s.Favicon = ""
		}
		cleaned = append(cleaned, s)
	}
	if len(cleaned) == 0 {
		return Payload{}, false, false
	}

	payload.Stations = cleaned
	payload.Total = len(cleaned)
	if upgraded {
		// Upgrades change station bytes, so the stored fingerprint is stale.
		payload.Fingerprint = ""
	}
	return payload, upgraded, true
}
