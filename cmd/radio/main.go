// SPDX-License-Identifier: MIT

// Command radio runs the radio directory service.
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
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
	"github.com/stasaberg/gitgud-edge/internal/radio"
	"github.com/stasaberg/gitgud-edge/internal/version"
)

func main() {
	xlog.Configure(xlog.Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Service: "radio-service",
		Version: version.Version,
	})
	logger := xlog.WithComponent("main")

	cfg, err := config.LoadRadio(config.SystemEnv{})
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration invalid")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state, err := radio.NewAppState(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("radio initialization failed")
	}
	defer func() { _ = state.Close() }()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           radio.NewRouter(state),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Port).Msg("radio service listening")
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
	logger.Info().Msg("radio service stopped")
}
