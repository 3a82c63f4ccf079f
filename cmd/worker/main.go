// cmd/worker/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/mailcast-backend/internal/app"
	"github.com/unclebandit/mailcast-backend/internal/config"
	"github.com/unclebandit/mailcast-backend/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := checkWorkerConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("worker cannot start")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start worker")
	}
	defer a.Close()

	if err := a.StartWorkers(); err != nil {
		log.Fatal().Err(err).Msg("failed to register consumer")
	}

	log.Info().Msg("Worker running, waiting for messages...")
	<-ctx.Done()
	log.Info().Msg("shutting down worker")
}

// checkWorkerConfig rejects the in-memory queue: a standalone worker would never see
// tasks published by another process.
func checkWorkerConfig(cfg *config.Config) error {
	if cfg.Queue.Driver != "amqp" {
		return fmt.Errorf("QUEUE_DRIVER=%s has no shared broker; use amqp or run the dispatcher alone", cfg.Queue.Driver)
	}
	if cfg.Queue.AMQPURL == "" {
		return fmt.Errorf("AMQP_URL is required")
	}
	return nil
}
