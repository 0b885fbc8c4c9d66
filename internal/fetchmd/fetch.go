// SPDX-License-Identifier: MIT

// Package fetchmd safely retrieves remote HTML and converts it to markdown.
// The fetcher is SSRF-hardened: policy-checked URLs, public-address pinning,
// a redirect ban and running size caps.
package fetchmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
	"github.com/stasaberg/gitgud-edge/internal/urlpolicy"
)

const (
	userAgent                = "gitgud.zip fmd"
	maxRedirectLocationChars = 256
)

// Limits bounds one fetch-and-convert operation.
type Limits struct {
	Timeout      time.Duration
	MaxHTMLBytes int
	MaxMDBytes   int
}

// Fetcher resolves, filters and fetches remote HTML.
type Fetcher struct {
	resolver urlpolicy.Resolver
	limits   Limits
}

// NewFetcher creates a Fetcher. A nil resolver uses the system resolver.
func NewFetcher(resolver urlpolicy.Resolver, limits Limits) *Fetcher {
	return &Fetcher{resolver: resolver, limits: limits}
}

// FetchMarkdown validates the URL, resolves up to three public addresses, and
// tries each in turn. Upstream failures rotate to the next address; policy
// failures abort immediately.
func (f *Fetcher) FetchMarkdown(ctx context.Context, rawURL string) (string, error) {
	parsed, err := urlpolicy.ValidateFetchURL(rawURL)
	if err != nil {
		return "", err
	}
	host := parsed.Hostname()
	port := urlpolicy.Port(parsed)

	addrs, err := urlpolicy.ResolvePublicAddrs(ctx, f.resolver, host, port)
	if err != nil {
		return "", err
	}

	var lastErr error
	for _, addr := range addrs {
		html, fetchErr := f.fetchHTML(ctx, parsed.String(), host, addr)
		if fetchErr == nil {
			return ConvertHTML(html, f.limits.MaxMDBytes)
		}
		if apierr.From(fetchErr).Kind == apierr.KindBadGateway {
			lastErr = fetchErr
			continue
		}
		return "", fetchErr
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", apierr.BadGateway("Upstream fetch failed")
}

// fetchHTML performs one attempt against an already-resolved address. The
// dialer connects to that exact address regardless of what DNS answers at
// connect time, defeating resolve/connect rebinding.
func (f *Fetcher) fetchHTML(ctx context.Context, targetURL, host string, addr netip.AddrPort) (string, error) {
	dialer := &net.Dialer{Timeout: f.limits.Timeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr.String())
		},
		TLSHandshakeTimeout: f.limits.Timeout,
	}
	client := &http.Client{
		Timeout:   f.limits.Timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	defer transport.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", apierr.BadGateway("Failed to build HTTP client")
	}
	req.Host = host
	req.Header.Set("User-Agent", userAgent)

	response, err := client.Do(req)
	if err != nil {
		return "", apierr.BadGateway("Upstream request failed")
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode >= 300 && response.StatusCode < 400 {
		location := truncate(response.Header.Get("Location"), maxRedirectLocationChars)
		return "", apierr.Newf(apierr.KindBadRequest, "Redirects are not allowed (Location: %s)", location)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", apierr.Newf(apierr.KindBadGateway, "Upstream returned %d", response.StatusCode)
	}

	if !isAllowedContentType(response.Header.Get("Content-Type")) {
		return "", apierr.UnsupportedMediaType("Only HTML pages are supported")
	}
	if response.ContentLength > int64(f.limits.MaxHTMLBytes) {
		return "", apierr.PayloadTooLarge("Fetched HTML too large")
	}

	body, err := readLimited(response.Body, f.limits.MaxHTMLBytes)
	if err != nil {
		if apierr.From(err).Kind == apierr.KindPayloadTooLarge {
			return "", err
		}
		return "", apierr.BadGateway("Failed to read upstream response")
	}
	return string(body), nil
}

func isAllowedContentType(value string) bool {
	main, _, _ := strings.Cut(strings.ToLower(value), ";")
	main = strings.TrimSpace(main)
	return main == "text/html" || main == "application/xhtml+xml"
}

// readLimited streams the body enforcing a running byte cap.
func readLimited(body io.Reader, maxBytes int) ([]byte, error) {
	buffer := make([]byte, 0, 32*1024)
	chunk := make([]byte, 16*1024)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			if len(buffer)+n > maxBytes {
				return nil, apierr.PayloadTooLarge("Fetched HTML too large")
			}
			buffer = append(buffer, chunk[:n]...)
		}
		if err == io.EOF {
			return buffer, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read upstream body: %w", err)
		}
	}
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
