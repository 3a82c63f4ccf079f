package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/mail"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/queue"
	"github.com/unclebandit/mailcast-backend/internal/repository"
)

// SendWorker executes one send task. It re-reads recipient and broadcast state at execution
// time, so a task that sat in the queue while the broadcast was paused or cancelled does the
// right thing.
type SendWorker struct {
	Recipients repository.RecipientRepositoryInterface
	Broadcasts repository.BroadcastRepositoryInterface
	Contacts   repository.ContactRepositoryInterface
	Renderer   TemplateRenderer
	Transport  mail.Transport
	Events     EventRecorder

	// Limiter paces provider calls across all workers. Nil means unlimited.
	Limiter *rate.Limiter

	Now func() time.Time
	Log zerolog.Logger
}

// Process returns an error only for storage failures, which the queue retries.
// Provider and render failures are recorded on the recipient instead.
func (w *SendWorker) Process(ctx context.Context, recipientID int) error {
	rc, err := w.Recipients.GetByID(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("load recipient %d: %w", recipientID, err)
	}
	if rc == nil {
		w.Log.Debug().Int("recipient_id", recipientID).Msg("recipient gone, dropping task")
		return nil
	}
	if !rc.Status.IsClaimable() {
		return nil
	}

	b, err := w.Broadcasts.GetByID(ctx, rc.BroadcastID)
	if appErrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load broadcast %d: %w", rc.BroadcastID, err)
	}
	if b == nil {
		return nil
	}

	log := w.Log.With().Int("broadcast_id", b.ID).Int("recipient_id", rc.ID).Logger()

	switch b.Status {
	case model.BroadcastPaused:
		if _, err := w.Recipients.RevertToPending(ctx, rc.ID, nowFrom(w.Now)); err != nil {
			return fmt.Errorf("revert recipient %d: %w", rc.ID, err)
		}
		log.Debug().Msg("⏸️ broadcast paused, recipient back to pending")
		return nil
	case model.BroadcastCancelled:
		if _, err := w.Recipients.MarkSkipped(ctx, rc.ID, nowFrom(w.Now)); err != nil {
			return fmt.Errorf("skip recipient %d: %w", rc.ID, err)
		}
		log.Debug().Msg("broadcast cancelled, recipient skipped")
		return nil
	}

	contact, err := w.Contacts.GetByID(ctx, rc.ContactID)
	if err != nil {
		return fmt.Errorf("load contact %d: %w", rc.ContactID, err)
	}
	msg, err := w.buildMessage(b, rc, contact)
	if err != nil {
		return w.fail(ctx, log, rc, fmt.Sprintf("render: %v", err))
	}

	if w.Limiter != nil {
		if err := w.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for send slot: %w", err)
		}
	}

	res, err := w.Transport.Send(ctx, msg)
	if err != nil {
		return w.fail(ctx, log, rc, err.Error())
	}

	ok, err := w.Recipients.MarkSent(ctx, rc.ID, nowFrom(w.Now), res.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("mark recipient %d sent: %w", rc.ID, err)
	}
	if !ok {
		log.Warn().Msg("recipient changed state during send, not recording sent")
		return nil
	}
	if err := w.Events.Record(ctx, rc, model.EventSent, res.ProviderMessageID, nil); err != nil {
		log.Error().Err(err).Msg("failed to record sent event")
	}
	log.Info().Str("provider_message_id", res.ProviderMessageID).Msg("📧 message sent")
	return nil
}

func (w *SendWorker) buildMessage(b *model.Broadcast, rc *model.Recipient, contact *model.Contact) (mail.Message, error) {
	vars := RecipientVariables(contact, rc.Email)

	subject, err := w.Renderer.Render(deref(b.SnapshotSubject), vars)
	if err != nil {
		return mail.Message{}, err
	}
	html, err := w.Renderer.Render(deref(b.SnapshotHTMLContent), vars)
	if err != nil {
		return mail.Message{}, err
	}

	return mail.Message{
		FromName:  b.FromName,
		FromEmail: deref(b.FromEmail),
		To:        rc.Email,
		ReplyTo:   deref(b.ReplyTo),
		Subject:   subject,
		HTML:      html,
		Tags: map[string]string{
			"broadcast_id": strconv.Itoa(b.ID),
			"recipient_id": strconv.Itoa(rc.ID),
		},
	}, nil
}

func (w *SendWorker) fail(ctx context.Context, log zerolog.Logger, rc *model.Recipient, msg string) error {
	ok, err := w.Recipients.MarkFailed(ctx, rc.ID, nowFrom(w.Now), msg)
	if err != nil {
		return fmt.Errorf("mark recipient %d failed: %w", rc.ID, err)
	}
	if !ok {
		return nil
	}
	if err := w.Events.Record(ctx, rc, model.EventSendFailed, "", map[string]any{"error": msg}); err != nil {
		log.Error().Err(err).Msg("failed to record send_failed event")
	}
	log.Warn().Str("error", msg).Msg("❌ send failed")
	return nil
}

// HandleFailure runs when a task crashed or exhausted its retries. A recipient the provider
// already accepted is left alone.
func (w *SendWorker) HandleFailure(ctx context.Context, recipientID int, cause error) error {
	rc, err := w.Recipients.GetByID(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("load recipient %d: %w", recipientID, err)
	}
	if rc == nil || rc.Status.IsTerminalDelivery() {
		return nil
	}

	msg := "send task failed"
	if cause != nil {
		msg = cause.Error()
	}
	ok, err := w.Recipients.ForceFailed(ctx, rc.ID, nowFrom(w.Now), msg)
	if err != nil {
		return fmt.Errorf("force fail recipient %d: %w", rc.ID, err)
	}
	if !ok {
		return nil
	}
	if err := w.Events.Record(ctx, rc, model.EventSendFailed, "", map[string]any{"error": msg}); err != nil {
		return err
	}
	w.Log.Error().Int("broadcast_id", rc.BroadcastID).Int("recipient_id", rc.ID).Str("error", msg).Msg("💥 send task abandoned")
	return nil
}

// Consumer adapts the worker to a queue subscription.
func (w *SendWorker) Consumer() queue.Consumer {
	return queue.Consumer{
		Handle: func(ctx context.Context, task queue.SendTask) error {
			return w.Process(ctx, task.RecipientID)
		},
		OnFailure: func(ctx context.Context, task queue.SendTask, cause error) {
			if err := w.HandleFailure(ctx, task.RecipientID, cause); err != nil {
				w.Log.Error().Err(err).Int("recipient_id", task.RecipientID).Msg("failure handler could not record failure")
			}
		},
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
