// SPDX-License-Identifier: MIT

// Package proxy forwards gateway requests to upstream services. The single
// abstract operation has a production implementation and a test mock.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stasaberg/gitgud-edge/internal/gwcache"
	"github.com/stasaberg/gitgud-edge/internal/headerutil"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
	"github.com/stasaberg/gitgud-edge/internal/routing"
	"github.com/stasaberg/gitgud-edge/internal/session"
)

// Options carries the per-request forwarding context.
type Options struct {
	Target      *routing.Target
	Query       string
	Session     *session.Snapshot
	CORSHeaders http.Header
	CacheKey    string
	Cacheable   bool
	RemoteIP    string
	RequestID   string
	IsStreaming bool
}

// Gateway is the forwarding capability: one operation, two variants
// (LiveProxy in production, MockProxy in tests).
type Gateway interface {
	Forward(w http.ResponseWriter, r *http.Request, body []byte, opts Options)
}

// LiveProxy forwards over a real HTTP client with redirects disabled.
type LiveProxy struct {
	client     *http.Client
	cache      *gwcache.Cache
	trustProxy bool
	logger     zerolog.Logger
}

// NewLiveProxy creates the production proxy. The client must have redirects
// disabled and a timeout configured by the caller.
func NewLiveProxy(client *http.Client, cache *gwcache.Cache, trustProxy bool) *LiveProxy {
	return &LiveProxy{
		client:     client,
		cache:      cache,
		trustProxy: trustProxy,
		logger:     xlog.WithComponent("proxy"),
	}
}

// Forward proxies the request per the gateway pipeline: cache lookup, header
// sanitation, session header injection, upstream roundtrip, response
// sanitation, CORS, cache store.
func (p *LiveProxy) Forward(w http.ResponseWriter, r *http.Request, body []byte, opts Options) {
	ctx := r.Context()

	if opts.Cacheable && opts.CacheKey != "" {
		if entry, found := p.cache.Get(ctx, opts.CacheKey); found {
			writeCachedResponse(w, entry, opts.CORSHeaders)
			return
		}
	}

	targetURL := buildTargetURL(opts.Target, opts.Query)
	outbound := headerutil.SanitizeRequestHeaders(r.Header)
	headerutil.AppendForwardedFor(outbound, opts.RemoteIP)

	clientIP := headerutil.ResolveClientIP(r.Header, r.RemoteAddr, p.trustProxy)
	if clientIP.IP != "" {
		outbound.Set("Cf-Connecting-Ip", clientIP.IP)
		outbound.Set("Cf-Connection-Ip", clientIP.IP)
		outbound.Set("X-Real-Ip", clientIP.IP)
	}
	if opts.Session != nil {
		outbound.Set("X-Gateway-Csrf-Token", opts.Session.Nonce)
		outbound.Set("X-Gateway-Session", opts.Session.Nonce)
		outbound.Set("X-Gateway-Csrf-Proof", opts.Session.CSRFProof)
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, targetURL, reqBody)
	if err != nil {
		p.writeError(w, http.StatusBadGateway, "Upstream request failed", opts.CORSHeaders)
		return
	}
	upstreamReq.Header = outbound

	response, err := p.client.Do(upstreamReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.logger.Warn().
				Str("event", "proxy.request_timeout").
				Str("request_id", opts.RequestID).
				Str("target", targetURL).
				Msg("request deadline expired")
			p.writeError(w, http.StatusGatewayTimeout, "Request timed out", opts.CORSHeaders)
			return
		}
		p.logger.Error().
			Err(err).
			Str("event", "proxy.request_failed").
			Str("request_id", opts.RequestID).
			Str("target", targetURL).
			Msg("upstream request failed")
		p.writeError(w, http.StatusBadGateway, "Upstream request failed", opts.CORSHeaders)
		return
	}
	defer func() { _ = response.Body.Close() }()

	sanitized := headerutil.SanitizeResponseHeaders(response.Header)
	cacheable := opts.Cacheable && !opts.IsStreaming

	responseHeaders := w.Header()
	for name, values := range sanitized {
		responseHeaders[name] = values
	}
	for name, values := range opts.CORSHeaders {
		responseHeaders[name] = values
	}
	if cacheable {
		responseHeaders.Set("X-Cache", "MISS")
	} else {
		responseHeaders.Set("X-Cache", "BYPASS")
	}
	if !opts.IsStreaming && responseHeaders.Get("Content-Type") == "" {
		responseHeaders.Set("Content-Type", "application/json")
	}
	if opts.Session != nil {
		if responseHeaders.Get("X-Gateway-Session") == "" {
			responseHeaders.Set("X-Gateway-Session", opts.Session.Nonce)
		}
		responseHeaders.Set("X-Gateway-Csrf", opts.Session.Nonce)
		responseHeaders.Set("X-Gateway-Csrf-Proof", opts.Session.CSRFProof)
	}

	if opts.IsStreaming {
		w.WriteHeader(response.StatusCode)
		if _, err := io.Copy(w, response.Body); err != nil {
			p.logger.Warn().
				Err(err).
				Str("event", "proxy.stream_forward_error").
				Str("request_id", opts.RequestID).
				Str("target", targetURL).
				Msg("stream forwarding aborted")
		}
		return
	}

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("event", "proxy.response_read_failed").
			Str("request_id", opts.RequestID).
			Str("target", targetURL).
			Msg("upstream response unreadable")
		p.writeError(w, http.StatusBadGateway, "Upstream response invalid", opts.CORSHeaders)
		return
	}

	if cacheable && opts.CacheKey != "" && isCacheableResponse(response.StatusCode, responseHeaders.Get("Content-Type"), len(payload)) {
		p.storeEntry(ctx, opts.CacheKey, response.StatusCode, sanitized, payload)
	}

	w.WriteHeader(response.StatusCode)
	_, _ = w.Write(payload)
}

func isCacheableResponse(status int, contentType string, bodyLen int) bool {
	return status >= 200 && status < 300 &&
		strings.Contains(contentType, "application/json") &&
		bodyLen <= gwcache.MaxBodyBytes
}

func (p *LiveProxy) storeEntry(ctx context.Context, key string, status int, headers http.Header, body []byte) {
	cacheHeaders := headerutil.SanitizeHeadersForCache(headers)
	flat := make(map[string]string, len(cacheHeaders))
	for name, values := range cacheHeaders {
		if len(values) > 0 {
			flat[strings.ToLower(name)] = values[0]
		}
	}
	p.cache.Set(ctx, key, gwcache.Entry{
		Status:  status,
		Headers: flat,
		Body:    body,
		BodyLen: len(body),
	})
}

func writeCachedResponse(w http.ResponseWriter, entry gwcache.Entry, corsHeaders http.Header) {
	headers := w.Header()
	for name, value := range entry.Headers {
		headers.Set(name, value)
	}
	for name, values := range corsHeaders {
		headers[name] = values
	}
	headers.Set("X-Cache", "HIT")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Body)
}

func buildTargetURL(target *routing.Target, query string) string {
	url := target.BaseURL + target.Path
	if query != "" {
		url += "?" + query
	}
	return url
}

func (p *LiveProxy) writeError(w http.ResponseWriter, status int, message string, corsHeaders http.Header) {
	headers := w.Header()
	for name, values := range corsHeaders {
		headers[name] = values
	}
	headers.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
