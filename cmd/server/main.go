// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/mailcast-backend/internal/app"
	"github.com/unclebandit/mailcast-backend/internal/config"
	"github.com/unclebandit/mailcast-backend/internal/controller"
	"github.com/unclebandit/mailcast-backend/internal/handler"
	"github.com/unclebandit/mailcast-backend/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
	defer a.Close()

	// a manual tick on the memory queue needs someone to consume its tasks
	if a.InProcessWorkers() {
		if err := a.StartWorkers(); err != nil {
			log.Fatal().Err(err).Msg("failed to start send workers")
		}
	}

	broadcastHandler := handler.NewBroadcastHandler(a.Broadcasts, log.With().Str("component", "http").Logger())
	dispatchController := &controller.DispatchController{
		Dispatcher: a.Dispatcher,
		DB:         a.DB,
		Log:        log.With().Str("component", "http").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", dispatchController.Health)
	r.Post("/dispatch/tick", dispatchController.TriggerTick)
	broadcastHandler.Routes(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("🚀 Server running")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
