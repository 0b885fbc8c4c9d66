// SPDX-License-Identifier: MIT

package radio

import (
	"net/url"
	"strings"
)

// CSRFParams carries the session material a playlist rewrite appends to each
// proxied segment URL so the player's follow-up requests stay authenticated.
type CSRFParams struct {
	Token string
	Proof string
}

// IsPlaylist detects HLS/PLS playlists by content type or path extension.
func IsPlaylist(rawURL, contentType string) bool {
	lowered := strings.ToLower(contentType)
	if strings.Contains(lowered, "mpegurl") || strings.Contains(lowered, "scpls") {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := parsed.Path
	return strings.HasSuffix(path, ".m3u8") ||
		strings.HasSuffix(path, ".m3u") ||
		strings.HasSuffix(path, ".pls")
}

// RewritePlaylist substitutes every non-comment line with a loopback segment
// URL. Relative entries resolve against baseURL; http entries upgrade to
// https and anything still insecure is dropped as a comment. Nested
// playlists pass a relative segmentPath so the proxy path does not
// accumulate.
func RewritePlaylist(baseURL, playlist string, csrf CSRFParams, segmentPath string) string {
	base, baseErr := url.Parse(baseURL)

	lines := strings.Split(playlist, "\n")
	rewritten := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || baseErr != nil {
			rewritten = append(rewritten, line)
			continue
		}

		resolved, err := base.Parse(trimmed)
		if err != nil {
			rewritten = append(rewritten, line)
			continue
		}
		if resolved.Scheme == "http" {
			resolved.Scheme = "https"
		}
		if resolved.Scheme != "https" {
			rewritten = append(rewritten, "# dropped http stream")
			continue
		}

		proxied := segmentPath
		if !strings.HasSuffix(proxied, "?") && !strings.HasSuffix(proxied, "&") {
			if strings.Contains(proxied, "?") {
				proxied += "&"
			} else {
				proxied += "?"
			}
		}
		proxied += "source=" + url.QueryEscape(resolved.String())
		if csrf.Token != "" {
			proxied += "&csrfToken=" + url.QueryEscape(csrf.Token)
		}
		if csrf.Proof != "" {
			proxied += "&csrfProof=" + url.QueryEscape(csrf.Proof)
		}
		rewritten = append(rewritten, proxied)
	}
	return strings.Join(rewritten, "\n")
}
