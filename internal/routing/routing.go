// SPDX-License-Identifier: MIT

// Package routing maps request paths onto upstream services, guards against
// traversal, and builds cache keys for cacheable routes.
package routing

import (
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
)

// Upstream binds a service tag and path prefix to a base URL.
type Upstream struct {
	Service string
	Prefix  string
	BaseURL string
}

// Target is the resolved upstream for a request.
type Target struct {
	Service string
	BaseURL string
	Path    string
}

// ParsedURI is the validated path/query split of a request URI.
type ParsedURI struct {
	Path  string
	Query string
}

// Router resolves request paths against a fixed prefix table.
type Router struct {
	upstreams []Upstream
	cacheable []cacheRule
	logger    zerolog.Logger
}

type cacheRule struct {
	service    string
	pathPrefix string
	exclude    string
}

// New creates a Router for the given upstreams. Caching is allowed only for
// radio station listings, never for stream paths.
func New(upstreams []Upstream) *Router {
	return &Router{
		upstreams: upstreams,
		cacheable: []cacheRule{
			{service: "radio", pathPrefix: "/stations", exclude: "/stream"},
		},
		logger: xlog.WithComponent("routing"),
	}
}

// ValidateBaseURLs checks every configured upstream parses and names an
// allow-listed hostname.
func (r *Router) ValidateBaseURLs(allowedHostnames []string) error {
	for _, upstream := range r.upstreams {
		parsed, err := url.Parse(upstream.BaseURL)
		if err != nil {
			return apierr.Newf(apierr.KindInternal, "invalid %s upstream URL", upstream.Service)
		}
		hostname := parsed.Hostname()
		if hostname == "" {
			return apierr.Newf(apierr.KindInternal, "%s upstream URL missing hostname", upstream.Service)
		}
		allowed := false
		for _, candidate := range allowedHostnames {
			if candidate == hostname {
				allowed = true
				break
			}
		}
		if !allowed {
			return apierr.Newf(apierr.KindInternal,
				"blocked hostname %s for %s upstream; allowed: %s",
				hostname, upstream.Service, strings.Join(allowedHostnames, ", "))
		}
	}
	return nil
}

// ParseURI rejects URIs carrying a scheme or authority, control characters or
// backslashes, then splits path and query.
func (r *Router) ParseURI(rawURI string) (ParsedURI, error) {
	if rawURI == "" {
		return ParsedURI{Path: "/"}, nil
	}
	if !strings.HasPrefix(rawURI, "/") {
		return ParsedURI{}, apierr.BadRequest("Invalid request URI")
	}
	for _, ch := range rawURI {
		if ch <= 0x1f || ch == 0x7f || ch == '\\' {
			return ParsedURI{}, apierr.BadRequest("Invalid request URI")
		}
	}
	path, query, _ := strings.Cut(rawURI, "?")
	if path == "" {
		path = "/"
	}
	return ParsedURI{Path: path, Query: query}, nil
}

// DetermineTarget maps path onto an upstream when it equals a prefix or sits
// below it. A nil return means no upstream handles the path.
func (r *Router) DetermineTarget(path string) *Target {
	for _, upstream := range r.upstreams {
		if path != upstream.Prefix && !strings.HasPrefix(path, upstream.Prefix+"/") {
			continue
		}
		suffix := strings.TrimPrefix(path, upstream.Prefix)
		sanitized, ok := r.sanitizePath(upstream.Prefix, suffix)
		if !ok {
			return nil
		}
		return &Target{
			Service: upstream.Service,
			BaseURL: upstream.BaseURL,
			Path:    sanitized,
		}
	}
	return nil
}

// sanitizePath guarantees a leading slash, percent-decodes until stable (at
// most three rounds), rejects traversal in both the raw and decoded forms and
// collapses duplicate slashes.
func (r *Router) sanitizePath(prefix, suffix string) (string, bool) {
	normalized := suffix
	if normalized == "" {
		normalized = "/"
	}
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}

	decoded := decodeUntilStable(normalized)
	if containsTraversal(normalized) || containsTraversal(decoded) {
		r.logger.Warn().
			Str("event", "request.blocked_ssrf_attempt").
			Str("prefix", prefix).
			Str("suffix", suffix).
			Msg("blocked path traversal attempt")
		return "", false
	}

	collapsed := strings.ReplaceAll(decoded, "//", "/")
	if collapsed == "" {
		collapsed = "/"
	}
	return collapsed, true
}

func decodeUntilStable(value string) string {
	current := value
	for range 3 {
		decoded, err := url.PathUnescape(current)
		if err != nil || decoded == current {
			break
		}
		current = decoded
	}
	return current
}

var traversalMarkers = []string{"..", "\\", "//", "%2e%2f", "%2f%2e", "%5c", "%2e%2e"}

func containsTraversal(value string) bool {
	lower := strings.ToLower(value)
	for _, marker := range traversalMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ShouldCache reports whether a GET for target may be served from cache.
func (r *Router) ShouldCache(method string, target *Target) bool {
	if method != "GET" || target == nil {
		return false
	}
	for _, rule := range r.cacheable {
		if rule.service != target.Service {
			continue
		}
		if strings.HasPrefix(target.Path, rule.pathPrefix) &&
			(rule.exclude == "" || !strings.Contains(target.Path, rule.exclude)) {
			return true
		}
	}
	return false
}

// BuildCacheKey emits "service:path[?sorted-query]" with query parameters
// sorted lexicographically and re-encoded.
func (r *Router) BuildCacheKey(target *Target, query string) string {
	type pair struct{ key, value string }
	var params []pair
	for _, segment := range strings.Split(query, "&") {
		if segment == "" {
			continue
		}
		key, value, _ := strings.Cut(segment, "=")
		params = append(params, pair{key: key, value: value})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].key < params[j].key })

	serialized := make([]string, 0, len(params))
	for _, p := range params {
		serialized = append(serialized, url.QueryEscape(p.key)+"="+url.QueryEscape(p.value))
	}

	if len(serialized) == 0 {
		return target.Service + ":" + target.Path
	}
	return target.Service + ":" + target.Path + "?" + strings.Join(serialized, "&")
}
