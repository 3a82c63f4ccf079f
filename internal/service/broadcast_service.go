// internal/service/broadcast_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/repository"
)

// EventCounter reads per-broadcast event totals.
type EventCounter interface {
	CountByType(ctx context.Context, broadcastID int) (map[model.EventType]int, error)
}

// BroadcastService is the operator surface over broadcasts. The dispatch engine only reads
// the paused and cancelled statuses it sets.
type BroadcastService struct {
	Broadcasts repository.BroadcastRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Contacts   repository.ContactRepositoryInterface
	Templates  repository.TemplateRepositoryInterface
	Events     EventCounter
	Renderer   TemplateRenderer
	Now        func() time.Time
	Log        zerolog.Logger
}

type BroadcastDetails struct {
	*model.Broadcast
	Stats  map[string]int `json:"stats"`
	Events map[string]int `json:"events"`
}

type Preview struct {
	BroadcastID  int    `json:"broadcast_id"`
	ContactID    int    `json:"contact_id"`
	Subject      string `json:"subject"`
	HTML         string `json:"html"`
	FromSnapshot bool   `json:"from_snapshot"`
}

var recipientStatuses = []model.RecipientStatus{
	model.RecipientPending,
	model.RecipientQueued,
	model.RecipientSent,
	model.RecipientDelivered,
	model.RecipientOpened,
	model.RecipientClicked,
	model.RecipientFailed,
	model.RecipientSkipped,
}

func (s *BroadcastService) GetDetailsWithStats(ctx context.Context, id int) (*BroadcastDetails, error) {
	b, err := s.Broadcasts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	counts, err := s.Recipients.CountByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count recipients: %w", err)
	}
	stats := map[string]int{"total": 0}
	for _, st := range recipientStatuses {
		stats[string(st)] = counts[st]
		stats["total"] += counts[st]
	}

	events := map[string]int{}
	if s.Events != nil {
		byType, err := s.Events.CountByType(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("count events: %w", err)
		}
		for t, n := range byType {
			events[string(t)] = n
		}
	}

	return &BroadcastDetails{Broadcast: b, Stats: stats, Events: events}, nil
}

func (s *BroadcastService) Pause(ctx context.Context, id int) (*model.Broadcast, error) {
	return s.transition(ctx, id, []model.BroadcastStatus{model.BroadcastRunning, model.BroadcastScheduled}, model.BroadcastPaused)
}

// Resume returns a paused broadcast to running. One paused before it ever started goes back
// to scheduled so promotion still waits for starts_at.
func (s *BroadcastService) Resume(ctx context.Context, id int) (*model.Broadcast, error) {
	b, err := s.Broadcasts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	to := model.BroadcastRunning
	if b.StartedAt == nil {
		to = model.BroadcastScheduled
	}
	return s.transition(ctx, id, []model.BroadcastStatus{model.BroadcastPaused}, to)
}

// Cancel stops any broadcast that has not finished. Recipients still pending or queued are
// skipped by the send worker.
func (s *BroadcastService) Cancel(ctx context.Context, id int) (*model.Broadcast, error) {
	return s.transition(ctx, id, []model.BroadcastStatus{
		model.BroadcastDraft,
		model.BroadcastScheduled,
		model.BroadcastRunning,
		model.BroadcastPaused,
	}, model.BroadcastCancelled)
}

func (s *BroadcastService) transition(ctx context.Context, id int, from []model.BroadcastStatus, to model.BroadcastStatus) (*model.Broadcast, error) {
	b, err := s.Broadcasts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.Broadcasts.TransitionStatus(ctx, id, from, to, nowFrom(s.Now))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("broadcast %d is %s, cannot become %s: %w", id, b.Status, to, appErrors.ErrInvalidTransition)
	}
	s.Log.Info().Int("broadcast_id", id).Str("from", string(b.Status)).Str("to", string(to)).Msg("broadcast status changed")
	return s.Broadcasts.GetByID(ctx, id)
}

// Preview renders the broadcast for one contact. Before the first run there is no snapshot
// yet, so the live template is used.
func (s *BroadcastService) Preview(ctx context.Context, id, contactID int) (*Preview, error) {
	b, err := s.Broadcasts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	contact, err := s.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, appErrors.NewContactNotFound(contactID)
	}

	p := &Preview{BroadcastID: id, ContactID: contactID}
	subject, html := deref(b.SnapshotSubject), deref(b.SnapshotHTMLContent)
	if b.HasSnapshot() {
		p.FromSnapshot = true
	} else if b.TemplateID != nil {
		tpl, err := s.Templates.GetByID(ctx, *b.TemplateID)
		if err != nil {
			return nil, err
		}
		if tpl == nil {
			return nil, errors.New("broadcast template not found")
		}
		subject, html = tpl.Subject, tpl.HTMLContent
	}

	vars := RecipientVariables(contact, contact.Email)
	if p.Subject, err = s.Renderer.Render(subject, vars); err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	if p.HTML, err = s.Renderer.Render(html, vars); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return p, nil
}
