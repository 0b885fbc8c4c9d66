// SPDX-License-Identifier: MIT

// Package metrics tracks gateway load: request counters, the sampled loop-lag
// estimator gating overload responses, and Prometheus views of both.
package metrics

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const monitorInterval = 500 * time.Millisecond

var (
	activeRequestsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gitgud",
		Name:      "gateway_active_requests",
		Help:      "Requests currently in flight",
	})
	totalRequestsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gitgud",
		Name:      "gateway_requests_total",
		Help:      "Total requests received",
	})
	loopLagGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gitgud",
		Name:      "gateway_loop_lag_ms",
		Help:      "Sampled scheduler lag in milliseconds",
	})
	overloadRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gitgud",
		Name:      "gateway_overload_rejections_total",
		Help:      "Requests rejected while overloaded",
	})
)

// Status is the JSON snapshot served at /internal/status.
type Status struct {
	Status         string `json:"status"`
	UptimeMs       int64  `json:"uptimeMs"`
	EventLoopLagMs int64  `json:"eventLoopLagMs"`
	ActiveRequests int64  `json:"activeRequests"`
	TotalRequests  int64  `json:"totalRequests"`
	RSSBytes       int64  `json:"rssBytes"`
}

// Gateway holds the process-wide request counters and the lag estimator. It
// is owned by the service's app state, not by a package global.
type Gateway struct {
	startedAt           time.Time
	lagMs               atomic.Int64
	activeRequests      atomic.Int64
	totalRequests       atomic.Int64
	overloadThresholdMs int64
}

// NewGateway creates the metrics set and starts the background lag sampler.
// The sampler stops when ctx is cancelled.
func NewGateway(ctx context.Context, overloadThresholdMs int64) *Gateway {
	g := &Gateway{
		startedAt:           time.Now(),
		overloadThresholdMs: overloadThresholdMs,
	}
	go g.sampleLag(ctx)
	return g
}

// sampleLag schedules a 500 ms tick and records how far past due each tick
// actually fired.
func (g *Gateway) sampleLag(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			lag := now.Sub(last) - monitorInterval
			if lag < 0 {
				lag = 0
			}
			g.lagMs.Store(lag.Milliseconds())
			loopLagGauge.Set(float64(lag.Milliseconds()))
			last = now
		}
	}
}

// StartRequest bumps the in-flight and total counters.
func (g *Gateway) StartRequest() {
	g.activeRequests.Add(1)
	g.totalRequests.Add(1)
	activeRequestsGauge.Inc()
	totalRequestsCounter.Inc()
}

// FinishRequest releases an in-flight slot.
func (g *Gateway) FinishRequest() {
	g.activeRequests.Add(-1)
	activeRequestsGauge.Dec()
}

// IsOverloaded reports whether the sampled lag exceeds the threshold.
func (g *Gateway) IsOverloaded() bool {
	overloaded := g.lagMs.Load() > g.overloadThresholdMs
	if overloaded {
		overloadRejections.Inc()
	}
	return overloaded
}

// Snapshot captures the current status view.
func (g *Gateway) Snapshot() Status {
	return Status{
		Status:         "ok",
		UptimeMs:       time.Since(g.startedAt).Milliseconds(),
		EventLoopLagMs: g.lagMs.Load(),
		ActiveRequests: g.activeRequests.Load(),
		TotalRequests:  g.totalRequests.Load(),
		RSSBytes:       currentRSSBytes(),
	}
}

// currentRSSBytes reads the resident set size from /proc/self/statm on Linux.
// Best effort: 0 on any failure.
func currentRSSBytes() int64 {
	contents, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(contents))
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return pages * int64(os.Getpagesize())
}
