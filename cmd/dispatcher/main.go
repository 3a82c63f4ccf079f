// cmd/dispatcher/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcast-backend/internal/app"
	"github.com/unclebandit/mailcast-backend/internal/config"
	"github.com/unclebandit/mailcast-backend/internal/logger"
	"github.com/unclebandit/mailcast-backend/internal/service"
)

type tickRunner interface {
	RunTick(ctx context.Context) (service.TickResult, error)
}

func main() {
	once := flag.Bool("once", false, "run a single dispatch tick and exit")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start dispatcher")
	}
	defer a.Close()

	if a.InProcessWorkers() {
		if err := a.StartWorkers(); err != nil {
			log.Fatal().Err(err).Msg("failed to start send workers")
		}
	}

	if *once {
		code := runTick(ctx, a.Dispatcher, log)
		a.Drain()
		a.Close()
		os.Exit(code)
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{log}),
		cron.SkipIfStillRunning(cronLogger{log}),
	))
	if _, err := c.AddFunc(cfg.Dispatch.Schedule, func() { runTick(ctx, a.Dispatcher, log) }); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Dispatch.Schedule).Msg("invalid dispatch schedule")
	}
	c.Start()
	log.Info().Str("schedule", cfg.Dispatch.Schedule).Msg("⏰ dispatcher running")

	<-ctx.Done()
	log.Info().Msg("shutting down dispatcher")
	<-c.Stop().Done()
}

// runTick returns the process exit code for -once mode.
func runTick(ctx context.Context, d tickRunner, log zerolog.Logger) int {
	start := time.Now()
	res, err := d.RunTick(ctx)
	if err != nil {
		log.Error().Err(err).Interface("result", res).Dur("took", time.Since(start)).Msg("dispatch tick had failures")
		return 1
	}
	log.Debug().Interface("result", res).Dur("took", time.Since(start)).Msg("dispatch tick ok")
	return 0
}

// cronLogger routes cron's own messages into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
