package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldtrack/fieldtrack/internal/config"
	"github.com/fieldtrack/fieldtrack/internal/logger"
	"github.com/fieldtrack/fieldtrack/internal/server"
)

func main() {
	configPath := os.Getenv("FIELDTRACK_CONFIG")
	if configPath == "" {
		if _, err := os.Stat("config.yml"); err == nil {
			configPath = "config.yml"
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	srv, err := server.New(cfg, nil)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize server")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	case sig := <-stop:
		logger.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			logger.Logger.Error().Err(err).Msg("shutdown failed")
		}
	}
}
