// SPDX-License-Identifier: MIT

// Package cors builds CORS response headers against a configured allow-list.
package cors

import "net/http"

const (
	allowMethods = "GET,POST,PUT,DELETE,PATCH,OPTIONS"
	allowHeaders = "authorization,content-type,x-gateway-csrf,x-gateway-csrf-proof"
)

// Policy evaluates origins against the configured allow-list. An empty list
// or a "*" entry allows every origin.
type Policy struct {
	allowed  []string
	wildcard bool
}

// New creates a Policy.
func New(allowedOrigins []string) *Policy {
	p := &Policy{allowed: allowedOrigins}
	for _, origin := range allowedOrigins {
		if origin == "*" {
			p.wildcard = true
		}
	}
	return p
}

// IsOriginAllowed reports whether origin passes the allow-list. With an open
// list every request passes; otherwise a present, exactly matching origin is
// required.
func (p *Policy) IsOriginAllowed(origin string) bool {
	if len(p.allowed) == 0 || p.wildcard {
		return true
	}
	if origin == "" {
		return false
	}
	for _, candidate := range p.allowed {
		if candidate == origin {
			return true
		}
	}
	return false
}

// BuildHeaders returns the CORS headers for origin. Credentials are only
// granted when the origin is echoed back specifically, never for "*".
func (p *Policy) BuildHeaders(origin string) http.Header {
	headers := make(http.Header)
	headers.Set("Vary", "Origin")

	allowAll := len(p.allowed) == 0 || p.wildcard
	if origin == "" {
		return headers
	}
	if !allowAll && !p.IsOriginAllowed(origin) {
		return headers
	}

	if allowAll && p.wildcard {
		headers.Set("Access-Control-Allow-Origin", "*")
	} else {
		headers.Set("Access-Control-Allow-Origin", origin)
		headers.Set("Access-Control-Allow-Credentials", "true")
	}
	headers.Set("Access-Control-Allow-Methods", allowMethods)
	headers.Set("Access-Control-Allow-Headers", allowHeaders)
	return headers
}

// Apply copies the policy's headers for origin onto w.
func (p *Policy) Apply(w http.ResponseWriter, origin string) {
	for name, values := range p.BuildHeaders(origin) {
		for _, value := range values {
			w.Header().Set(name, value)
		}
	}
}
