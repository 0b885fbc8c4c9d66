// SPDX-License-Identifier: MIT

// Command gateway runs the API gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stasaberg/gitgud-edge/internal/config"
	"github.com/stasaberg/gitgud-edge/internal/gateway"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
	"github.com/stasaberg/gitgud-edge/internal/version"
)

func main() {
	xlog.Configure(xlog.Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Service: "api-gateway",
		Version: version.Version,
	})
	logger := xlog.WithComponent("main")

	cfg, err := config.LoadGateway(config.SystemEnv{})
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration invalid")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state, err := gateway.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway initialization failed")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           gateway.NewRouter(state),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.Port).Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
	logger.Info().Msg("gateway stopped")
}
