// SPDX-License-Identifier: MIT

// Package ratelimit implements a sliding-window per-key limiter with
// rate-limit metadata for response headers.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var limitExceeded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gitgud",
		Name:      "ratelimit_exceeded_total",
		Help:      "Total sliding-window rate limit rejections",
	},
	[]string{"scope"},
)

// Metadata describes the limiter state exposed to clients.
type Metadata struct {
	Limit      int
	Remaining  int
	ResetEpoch int64
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed  bool
	Metadata Metadata
}

// Limiter keeps a FIFO of request timestamps per key. Stale timestamps and
// empty buckets are dropped on every check to bound memory.
type Limiter struct {
	scope       string
	maxRequests int
	window      time.Duration

	mu      sync.Mutex
	buckets map[string][]time.Time
}

// New creates a Limiter. maxRequests below 1 is raised to 1.
func New(scope string, maxRequests int, window time.Duration) *Limiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &Limiter{
		scope:       scope,
		maxRequests: maxRequests,
		window:      window,
		buckets:     make(map[string][]time.Time),
	}
}

// Check records an attempt for key and reports whether it is allowed.
func (l *Limiter) Check(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for bucketKey, entries := range l.buckets {
		trimmed := trimStale(entries, now, l.window)
		if len(trimmed) == 0 {
			delete(l.buckets, bucketKey)
		} else {
			l.buckets[bucketKey] = trimmed
		}
	}

	entries := l.buckets[key]
	reset := now.Add(l.window)
	if len(entries) > 0 {
		reset = entries[0].Add(l.window)
	}

	if len(entries) >= l.maxRequests {
		limitExceeded.WithLabelValues(l.scope).Inc()
		return Decision{
			Allowed: false,
			Metadata: Metadata{
				Limit:      l.maxRequests,
				Remaining:  0,
				ResetEpoch: reset.Unix(),
			},
		}
	}

	entries = append(entries, now)
	l.buckets[key] = entries
	if len(entries) == 1 {
		reset = now.Add(l.window)
	}

	return Decision{
		Allowed: true,
		Metadata: Metadata{
			Limit:      l.maxRequests,
			Remaining:  l.maxRequests - len(entries),
			ResetEpoch: reset.Unix(),
		},
	}
}

func trimStale(entries []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := 0
	for cut < len(entries) && now.Sub(entries[cut]) > window {
		cut++
	}
	return entries[cut:]
}

// ApplyHeaders writes the standard rate-limit headers onto w.
func ApplyHeaders(w http.ResponseWriter, meta Metadata) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(meta.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(meta.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(meta.ResetEpoch, 10))
}

// RetryAfter computes the Retry-After seconds for a rejected decision.
func RetryAfter(meta Metadata) int {
	seconds := meta.ResetEpoch - time.Now().Unix()
	if seconds < 1 {
		seconds = 1
	}
	return int(seconds)
}
