// Package app wires configuration, storage, queue, transport and the dispatch engine together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/unclebandit/mailcast-backend/internal/config"
	"github.com/unclebandit/mailcast-backend/internal/db"
	"github.com/unclebandit/mailcast-backend/internal/eventlog"
	"github.com/unclebandit/mailcast-backend/internal/mail"
	"github.com/unclebandit/mailcast-backend/internal/queue"
	"github.com/unclebandit/mailcast-backend/internal/repository"
	"github.com/unclebandit/mailcast-backend/internal/service"
)

type App struct {
	Config *config.Config
	Log    zerolog.Logger
	DB     *db.DB
	Queue  queue.Queue

	Events     *eventlog.Log
	Dispatcher *service.Dispatcher
	Worker     *service.SendWorker
	Broadcasts *service.BroadcastService

	closers []io.Closer
}

// New opens the database, applies the schema and builds every engine component.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	database, err := db.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, DB: database}
	a.closers = append(a.closers, database)

	if err := database.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}

	q, err := newQueue(cfg.Queue, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Queue = q
	// closed first so in-flight workers finish before the database goes away
	a.closers = append([]io.Closer{q}, a.closers...)

	broadcastRepo := &repository.BroadcastRepository{DB: database}
	recipientRepo := &repository.RecipientRepository{DB: database}
	contactRepo := &repository.ContactRepository{DB: database}
	templateRepo := &repository.TemplateRepository{DB: database}

	a.Events = &eventlog.Log{
		Store: &repository.EventRepository{DB: database},
		Log:   log.With().Str("component", "eventlog").Logger(),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sink := eventlog.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		a.Events.Mirrors = append(a.Events.Mirrors, sink)
		a.closers = append(a.closers, sink)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.EventsTopic).Msg("mirroring events to kafka")
	}

	transport, err := newTransport(cfg.Mail, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	renderer := service.FastTemplateRenderer{}
	lifecycle := &service.LifecycleDriver{
		Broadcasts:        broadcastRepo,
		Recipients:        recipientRepo,
		Templates:         templateRepo,
		DefaultFromPrefix: cfg.Mail.FromPrefix,
		DefaultFromDomain: cfg.Mail.FromDomain,
		Log:               log.With().Str("component", "lifecycle").Logger(),
	}
	a.Dispatcher = &service.Dispatcher{
		Broadcasts: broadcastRepo,
		Lifecycle:  lifecycle,
		Expander: &service.RecipientExpander{
			Contacts:   contactRepo,
			Recipients: recipientRepo,
			Log:        log.With().Str("component", "expander").Logger(),
		},
		Reclaimer: &service.StaleRecoveryScanner{
			Recipients: recipientRepo,
			StaleAfter: cfg.Dispatch.StaleAfter,
			Log:        log.With().Str("component", "reclaim").Logger(),
		},
		Queuer: &service.RateLimitedQueuer{
			Recipients: recipientRepo,
			Tasks:      q,
			Topic:      cfg.Queue.SendTopic,
			Events:     a.Events,
			Log:        log.With().Str("component", "queuer").Logger(),
		},
		Log: log.With().Str("component", "dispatcher").Logger(),
	}

	a.Worker = &service.SendWorker{
		Recipients: recipientRepo,
		Broadcasts: broadcastRepo,
		Contacts:   contactRepo,
		Renderer:   renderer,
		Transport:  transport,
		Events:     a.Events,
		Log:        log.With().Str("component", "send_worker").Logger(),
	}
	if cfg.Mail.RatePerSecond > 0 {
		burst := int(cfg.Mail.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		a.Worker.Limiter = rate.NewLimiter(rate.Limit(cfg.Mail.RatePerSecond), burst)
	}

	a.Broadcasts = &service.BroadcastService{
		Broadcasts: broadcastRepo,
		Recipients: recipientRepo,
		Contacts:   contactRepo,
		Templates:  templateRepo,
		Events:     a.Events,
		Renderer:   renderer,
		Log:        log.With().Str("component", "broadcasts").Logger(),
	}
	return a, nil
}

// StartWorkers subscribes the send worker to the send topic of the configured queue.
func (a *App) StartWorkers() error {
	if err := a.Queue.Subscribe(a.sendTopic(), a.Worker.Consumer()); err != nil {
		return fmt.Errorf("subscribe send worker: %w", err)
	}
	a.Log.Info().Str("topic", a.sendTopic()).Str("driver", a.Config.Queue.Driver).Msg("👷 send workers started")
	return nil
}

// InProcessWorkers reports whether sends run inside this process.
func (a *App) InProcessWorkers() bool {
	return a.Config.Queue.Driver == "memory"
}

// Drain waits for in-process send tasks to finish. It is a no-op for a broker-backed queue.
func (a *App) Drain() {
	if mq, ok := a.Queue.(*queue.InMemoryQueue); ok {
		mq.Wait()
	}
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) sendTopic() string {
	if a.Config.Queue.SendTopic != "" {
		return a.Config.Queue.SendTopic
	}
	return queue.SendTopic
}

func newQueue(cfg config.QueueConfig, log zerolog.Logger) (queue.Queue, error) {
	switch cfg.Driver {
	case "amqp":
		q, err := queue.DialAMQP(cfg.AMQPURL, log)
		if err != nil {
			return nil, err
		}
		q.MaxRetries = cfg.MaxRetries
		return q, nil
	case "memory":
		q := queue.NewInMemoryQueue(cfg.Concurrency, log)
		q.MaxRetries = cfg.MaxRetries
		return q, nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

func newTransport(cfg config.MailConfig, log zerolog.Logger) (mail.Transport, error) {
	switch cfg.Transport {
	case "smtp":
		return mail.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword), nil
	case "resend":
		return mail.NewResendTransport(cfg.ResendAPIKey), nil
	case "log":
		return &mail.LogTransport{Log: log.With().Str("component", "mail").Logger()}, nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}
