// SPDX-License-Identifier: MIT

// Command terminal runs the terminal sandbox service.
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
	"github.com/stasaberg/gitgud-edge/internal/terminal"
	"github.com/stasaberg/gitgud-edge/internal/version"
)

func main() {
	xlog.Configure(xlog.Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Service: "terminal-service",
		Version: version.Version,
	})
	logger := xlog.WithComponent("main")

	cfg, err := config.LoadTerminal(config.SystemEnv{})
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration invalid")
	}

	srv, err := terminal.NewServer(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("sandbox initialization failed")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Int("port", cfg.Port).Msg("terminal service listening")
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
	logger.Info().Msg("terminal service stopped")
}
