// SPDX-License-Identifier: MIT

// Command fmd runs the URL-to-markdown fetcher.
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
	"github.com/stasaberg/gitgud-edge/internal/fetchmd"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
	"github.com/stasaberg/gitgud-edge/internal/version"
)

func main() {
	xlog.Configure(xlog.Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Service: "fmd",
		Version: version.Version,
	})
	logger := xlog.WithComponent("main")

	cfg, err := config.LoadFetchMD(config.SystemEnv{})
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration invalid")
	}
	if cfg.Token == "" {
		logger.Warn().Msg("FMD_TOKEN not set; fetch-md endpoint is unauthenticated")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           fetchmd.NewServer(cfg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Int("port", cfg.Port).Msg("fmd listening")
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
	logger.Info().Msg("fmd stopped")
}
