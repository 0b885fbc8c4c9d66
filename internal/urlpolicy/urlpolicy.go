// SPDX-License-Identifier: MIT

// Package urlpolicy classifies and normalizes outbound URLs: scheme and port
// rules, credential/fragment rejection, private-range blocking, and resolution
// of hosts to publicly routable addresses.
package urlpolicy

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"sort"
	"strings"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
)

const maxURLChars = 2048

// Options steers Sanitize.
type Options struct {
	ForceHTTPS        bool
	AllowInsecure     bool
	BlockPrivateHosts bool
}

var blockedHostnames = map[string]struct{}{
	"localhost":  {},
	"localhost.": {},
	"127.0.0.1":  {},
	"::1":        {},
}

var blockedSuffixes = []string{
	".localhost",
	".localhost.",
	".local",
	".localdomain",
	".home",
	".home.arpa",
	".internal",
	".intranet",
}

// Sanitize validates raw against the policy and returns a normalized URL
// string. An empty return means the URL was rejected.
func Sanitize(raw string, opts Options) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if strings.HasPrefix(trimmed, "//") {
		trimmed = "https:" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	if opts.BlockPrivateHosts && IsBlockedHostname(parsed.Hostname()) {
		return "", false
	}

	switch parsed.Scheme {
	case "https":
		return parsed.String(), true
	case "http":
		if opts.ForceHTTPS || !opts.AllowInsecure {
			parsed.Scheme = "https"
		}
		return parsed.String(), true
	default:
		if !opts.AllowInsecure {
			return "", false
		}
		return parsed.String(), true
	}
}

// ValidateFetchURL enforces the full outbound-fetch rules: parseable, length
// bound, http(s) only, no credentials, no fragment, port 80/443.
func ValidateFetchURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, apierr.BadRequest("URL is required")
	}
	if len(trimmed) > maxURLChars {
		return nil, apierr.BadRequest("URL too long")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, apierr.BadRequest("Invalid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, apierr.BadRequest("Only http/https URLs are allowed")
	}
	if parsed.User != nil {
		return nil, apierr.BadRequest("URL credentials are not allowed")
	}
	if parsed.Fragment != "" {
		return nil, apierr.BadRequest("URL fragments are not allowed")
	}
	if parsed.Hostname() == "" {
		return nil, apierr.BadRequest("URL missing hostname")
	}
	if port := Port(parsed); port != 80 && port != 443 {
		return nil, apierr.BadRequest("Only ports 80 and 443 are allowed")
	}
	return parsed, nil
}

// Port returns the explicit or scheme-default port of u, or 0.
func Port(u *url.URL) int {
	if p := u.Port(); p != "" {
		var port int
		if _, err := fmt.Sscanf(p, "%d", &port); err == nil {
			return port
		}
		return 0
	}
	switch u.Scheme {
	case "http":
		return 80
	case "https":
		return 443
	}
	return 0
}

// IsBlockedHostname reports whether host is a private or otherwise
// non-routable name: localhost aliases, internal suffixes, bare labels, or an
// IP literal inside a blocked range.
func IsBlockedHostname(host string) bool {
	if host == "" {
		return true
	}
	normalized := strings.ToLower(strings.Trim(host, "[]"))

	if _, blocked := blockedHostnames[normalized]; blocked {
		return true
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			return true
		}
	}

	if addr, err := netip.ParseAddr(normalized); err == nil {
		return !IsPublicAddr(addr)
	}

	// A bare label with no dots cannot be a public hostname.
	if !strings.Contains(normalized, ".") {
		return true
	}

	if mapped, ok := strings.CutPrefix(normalized, "::ffff:"); ok {
		if addr, err := netip.ParseAddr(mapped); err == nil && !IsPublicAddr(addr) {
			return true
		}
	}

	return false
}

// IsPublicAddr reports whether addr is publicly routable: outside loopback,
// private, link-local, CGN, documentation, benchmarking, multicast and
// reserved ranges.
func IsPublicAddr(addr netip.Addr) bool {
	if addr.Is4() || addr.Is4In6() {
		return isPublicIPv4(addr.Unmap())
	}
	return isPublicIPv6(addr)
}

var blockedIPv4Prefixes = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
)

func isPublicIPv4(addr netip.Addr) bool {
	for _, prefix := range blockedIPv4Prefixes {
		if prefix.Contains(addr) {
			return false
		}
	}
	return true
}

var blockedIPv6Prefixes = mustPrefixes(
	"::/128",        // unspecified
	"::1/128",       // loopback
	"fc00::/7",      // unique local
	"fe80::/10",     // link-local
	"fec0::/10",     // deprecated site-local
	"ff00::/8",      // multicast
	"2001:db8::/32", // documentation
)

func isPublicIPv6(addr netip.Addr) bool {
	for _, prefix := range blockedIPv6Prefixes {
		if prefix.Contains(addr) {
			return false
		}
	}
	return true
}

func mustPrefixes(values ...string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, value := range values {
		prefixes = append(prefixes, netip.MustParsePrefix(value))
	}
	return prefixes
}

// Resolver abstracts DNS lookup so tests can inject fixed answers.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// ResolvePublicAddrs resolves host and returns up to three distinct publicly
// routable addresses paired with port. It fails with forbidden when every
// resolved address is blocked.
func ResolvePublicAddrs(ctx context.Context, resolver Resolver, host string, port int) ([]netip.AddrPort, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, apierr.BadRequest("Failed to resolve hostname")
	}

	public := make([]netip.AddrPort, 0, len(addrs))
	for _, addr := range addrs {
		if IsPublicAddr(addr) {
			public = append(public, netip.AddrPortFrom(addr.Unmap(), uint16(port)))
		}
	}

	sort.Slice(public, func(i, j int) bool {
		return public[i].Addr().String() < public[j].Addr().String()
	})
	deduped := public[:0]
	var last netip.AddrPort
	for i, ap := range public {
		if i == 0 || ap != last {
			deduped = append(deduped, ap)
		}
		last = ap
	}

	if len(deduped) == 0 {
		return nil, apierr.Forbidden("Destination is not publicly routable")
	}
	if len(deduped) > 3 {
		deduped = deduped[:3]
	}
	return deduped, nil
}
