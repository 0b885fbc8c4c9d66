// SPDX-License-Identifier: MIT

// Package requestctx captures per-request identity and timing and guarantees
// exactly-once completion logging.
package requestctx

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xlog "github.com/stasaberg/gitgud-edge/internal/log"
	"github.com/stasaberg/gitgud-edge/internal/metrics"
)

// Manager starts request contexts bound to the shared metrics set.
type Manager struct {
	logger  zerolog.Logger
	metrics *metrics.Gateway
}

// Context tracks one request from ingress to completion.
type Context struct {
	RequestID     string
	Method        string
	RawURI        string
	Origin        string
	RemoteAddress string

	startedAt time.Time
	completed atomic.Bool
	logger    zerolog.Logger
	metrics   *metrics.Gateway
}

// NewManager creates a Manager.
func NewManager(m *metrics.Gateway) *Manager {
	return &Manager{
		logger:  xlog.WithComponent("request"),
		metrics: m,
	}
}

// Start mints or adopts a request id, records ingress and bumps the counters.
func (m *Manager) Start(r *http.Request) *Context {
	requestID := strings.TrimSpace(r.Header.Get("x-request-id"))
	if requestID == "" {
		requestID = uuid.New().String()
	}

	m.metrics.StartRequest()
	ctx := &Context{
		RequestID:     requestID,
		Method:        r.Method,
		RawURI:        r.URL.RequestURI(),
		Origin:        r.Header.Get("Origin"),
		RemoteAddress: r.RemoteAddr,
		startedAt:     time.Now(),
		logger:        m.logger,
		metrics:       m.metrics,
	}

	ctx.logger.Info().
		Str("event", "request.received").
		Str("request_id", ctx.RequestID).
		Str("method", ctx.Method).
		Str("raw_url", ctx.RawURI).
		Str("origin", ctx.Origin).
		Str("remote_address", ctx.RemoteAddress).
		Msg("request received")

	return ctx
}

// Complete logs the outcome and releases the in-flight slot. It is idempotent
// and safe to call on every exit path.
func (c *Context) Complete(status int, route, reason string) {
	if !c.completed.CompareAndSwap(false, true) {
		return
	}
	c.metrics.FinishRequest()

	event := c.logger.Info().
		Str("event", "request.completed").
		Str("request_id", c.RequestID).
		Str("method", c.Method).
		Str("raw_url", c.RawURI).
		Int("status", status).
		Dur("duration", time.Since(c.startedAt))
	if route != "" {
		event = event.Str("route", route)
	}
	if reason != "" {
		event = event.Str("reason", reason)
	}
	event.Msg("request completed")
}
