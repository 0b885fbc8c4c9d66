// SPDX-License-Identifier: MIT

// Package gateway composes the API gateway pipeline: parse, CORS, session,
// cache, proxy, forward.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stasaberg/gitgud-edge/internal/config"
	"github.com/stasaberg/gitgud-edge/internal/contact"
	"github.com/stasaberg/gitgud-edge/internal/cors"
	"github.com/stasaberg/gitgud-edge/internal/gwcache"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
	"github.com/stasaberg/gitgud-edge/internal/metrics"
	"github.com/stasaberg/gitgud-edge/internal/proxy"
	"github.com/stasaberg/gitgud-edge/internal/requestctx"
	"github.com/stasaberg/gitgud-edge/internal/routing"
	"github.com/stasaberg/gitgud-edge/internal/session"
)

const (
	overloadThresholdMs = 1000
	preflightMaxAge     = "600"
	overloadMessage     = "Gateway overloaded"
)

// AppState owns every process-wide component of the gateway. No ambient
// globals: the state is shared by reference with explicit initialization.
type AppState struct {
	Config   config.Gateway
	Sessions *session.Manager
	CORS     *cors.Policy
	Router   *routing.Router
	Proxy    proxy.Gateway
	Requests *requestctx.Manager
	Metrics  *metrics.Gateway
	Cache    *gwcache.Cache
	Contact  *contact.Pipeline

	logger zerolog.Logger
}

// New wires the gateway state from configuration. ctx bounds the lifetime of
// background tasks (lag sampler) and startup redis calls.
func New(ctx context.Context, cfg config.Gateway) (*AppState, error) {
	logger := xlog.WithComponent("gateway")

	var sessionRedis *redis.Client
	if cfg.Session.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Session.RedisURL)
		if err != nil {
			return nil, err
		}
		sessionRedis = redis.NewClient(opts)
	}
	var cacheRedis *redis.Client
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		cacheRedis = redis.NewClient(opts)
	}

	sessions := session.NewManager(ctx, session.ManagerConfig{
		CookieName:           cfg.Session.CookieName,
		MaxAge:               cfg.Session.MaxAge,
		Secret:               cfg.Session.Secret,
		SecretGenerated:      cfg.Session.SecretGenerated,
		ProofSecret:          cfg.CSRFProof.Value,
		ProofSecretGenerated: cfg.CSRFProof.Generated,
		RedisClient:          sessionRedis,
		RedisKeyPrefix:       cfg.Session.RedisKeyPrefix,
	})

	router := routing.New([]routing.Upstream{
		{Service: "radio", Prefix: "/radio", BaseURL: cfg.RadioServiceURL},
		{Service: "terminal", Prefix: "/terminal", BaseURL: cfg.TerminalServiceURL},
	})
	if err := router.ValidateBaseURLs(cfg.AllowedServiceHostnames); err != nil {
		return nil, err
	}

	cache := gwcache.New(gwcache.Config{
		TTL:         cfg.Cache.TTL,
		MaxEntries:  cfg.Cache.MaxEntries,
		Redis:       cacheRedis,
		RedisPrefix: cfg.Cache.RedisPrefix,
	})

	client := &http.Client{
		Timeout: cfg.UpstreamTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	gatewayMetrics := metrics.NewGateway(ctx, overloadThresholdMs)

	var captcha contact.CaptchaVerifier
	if cfg.Contact.TurnstileSecret != "" {
		captcha = contact.NewTurnstileVerifier(cfg.Contact.TurnstileSecret, &http.Client{Timeout: 10 * time.Second})
	}

	return &AppState{
		Config:   cfg,
		Sessions: sessions,
		CORS:     cors.New(cfg.AllowOrigins),
		Router:   router,
		Proxy:    proxy.NewLiveProxy(client, cache, cfg.TrustProxy),
		Requests: requestctx.NewManager(gatewayMetrics),
		Metrics:  gatewayMetrics,
		Cache:    cache,
		Contact: contact.New(contact.Config{
			MaxPerIP:     cfg.Contact.MaxPerIP,
			Window:       cfg.Contact.Window,
			DedupeWindow: cfg.Contact.DedupeWindow,
			RedisClient:  sessionRedis,
			RedisPrefix:  cfg.Contact.RedisKeyPrefix,
			Captcha:      captcha,
		}),
		logger: logger,
	}, nil
}
