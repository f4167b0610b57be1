package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"churn-service/internal/artifacts"
	"churn-service/internal/cfg"
	"churn-service/internal/logging"
	"churn-service/internal/metrics"
	"churn-service/internal/serving"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	closer := logging.Setup(logging.Options{Level: c.LogLevel, File: c.LogFile})
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := artifacts.NewStore(c.ArtifactsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("artifact store init failed")
	}
	model, err := store.LoadCurrent()
	if err != nil {
		log.Fatal().Err(err).Str("artifacts_dir", c.ArtifactsDir).Msg("model load failed")
	}

	m := metrics.New()
	svc := serving.NewService(metrics.NewWrapper(m))
	if err := svc.Load(model); err != nil {
		log.Fatal().Err(err).Msg("model rejected")
	}

	srv := serving.NewServer(svc, serving.ServerOptions{
		Port:           c.ServerPort,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		RequestTimeout: c.RequestTimeout,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("inference server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, srv)
}

// waitForShutdown blocks until a signal arrives or the server fails, then drains
// in-flight requests.
func waitForShutdown(ctx context.Context, srv *serving.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
		return
	}
	log.Info().Msg("server stopped")
}
