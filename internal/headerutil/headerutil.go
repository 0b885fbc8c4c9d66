// SPDX-License-Identifier: MIT

// Package headerutil strips hop-by-hop headers, manages forwarding headers and
// resolves the effective client IP.
package headerutil

import (
	"net"
	"net/http"
	"strings"
)

var hopByHopHeaders = []string{
	"connection",
	"keep-alive",
	"proxy-connection",
	"transfer-encoding",
	"upgrade",
	"te",
	"trailer",
	"proxy-authorization",
	"proxy-authenticate",
	"host",
	"content-length",
	"expect",
}

func isHopByHop(name string) bool {
	lower := strings.ToLower(name)
	for _, hop := range hopByHopHeaders {
		if lower == hop {
			return true
		}
	}
	return false
}

// SanitizeRequestHeaders returns a copy of headers without hop-by-hop entries.
func SanitizeRequestHeaders(headers http.Header) http.Header {
	return stripHopByHop(headers)
}

// SanitizeResponseHeaders returns a copy of headers without hop-by-hop entries.
func SanitizeResponseHeaders(headers http.Header) http.Header {
	return stripHopByHop(headers)
}

func stripHopByHop(headers http.Header) http.Header {
	result := make(http.Header, len(headers))
	for name, values := range headers {
		if isHopByHop(name) {
			continue
		}
		for _, value := range values {
			result.Add(name, value)
		}
	}
	return result
}

// SanitizeHeadersForCache additionally drops cookie-setting headers and the
// content length so cached entries never replay credentials.
func SanitizeHeadersForCache(headers http.Header) http.Header {
	result := make(http.Header, len(headers))
	for name, values := range headers {
		lower := strings.ToLower(name)
		if lower == "set-cookie" || lower == "set-cookie2" || lower == "content-length" {
			continue
		}
		for _, value := range values {
			result.Add(name, value)
		}
	}
	return result
}

// NormalizeAddress maps IPv4-in-IPv6 and IPv6 loopback notations onto their
// canonical IPv4 forms and trims whitespace. Empty input yields "".
func NormalizeAddress(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if stripped, ok := strings.CutPrefix(trimmed, "::ffff:"); ok {
		return stripped
	}
	if trimmed == "::1" {
		return "127.0.0.1"
	}
	return trimmed
}

// AppendForwardedFor appends remoteIP to x-forwarded-for without duplicating
// an already-present hop.
func AppendForwardedFor(headers http.Header, remoteIP string) {
	ip := NormalizeAddress(remoteIP)
	if ip == "" {
		return
	}

	existing := headers.Get("X-Forwarded-For")
	if existing == "" {
		headers.Set("X-Forwarded-For", ip)
		return
	}

	parts := make([]string, 0, 4)
	seen := false
	for _, item := range strings.Split(existing, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if item == ip {
			seen = true
		}
		parts = append(parts, item)
	}
	if !seen {
		parts = append(parts, ip)
	}
	headers.Set("X-Forwarded-For", strings.Join(parts, ", "))
}

// ClientIP is the resolved address of the requesting client plus the header it
// was derived from.
type ClientIP struct {
	IP     string
	Source string
}

// ResolveClientIP determines the client address. When trustProxy is set the
// Cloudflare connecting headers win, then the first x-forwarded-for token;
// otherwise the socket remote address is used.
func ResolveClientIP(headers http.Header, remoteAddr string, trustProxy bool) ClientIP {
	if trustProxy {
		for _, header := range []string{"Cf-Connecting-Ip", "Cf-Connection-Ip"} {
			if ip := NormalizeAddress(headers.Get(header)); ip != "" {
				return ClientIP{IP: ip, Source: strings.ToLower(header)}
			}
		}
		if forwarded := headers.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := NormalizeAddress(first); ip != "" {
				return ClientIP{IP: ip, Source: "x-forwarded-for"}
			}
		}
	}

	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if ip := NormalizeAddress(host); ip != "" {
		return ClientIP{IP: ip, Source: "remote-address"}
	}
	return ClientIP{}
}
