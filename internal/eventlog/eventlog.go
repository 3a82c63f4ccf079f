// Package eventlog is the append-only ledger of recipient status transitions.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/repository"
)

// Sink receives a copy of every stored event.
type Sink interface {
	Write(ctx context.Context, e *model.RecipientEvent) error
}

// Log writes to the SQL ledger first; mirrors are best effort.
type Log struct {
	Store   repository.EventRepositoryInterface
	Mirrors []Sink
	Now     func() time.Time
	Log     zerolog.Logger
}

func (l *Log) Append(ctx context.Context, e *model.RecipientEvent) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = l.now()
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage(`{}`)
	}
	if err := l.Store.Append(ctx, e); err != nil {
		return fmt.Errorf("append %s event for recipient %d: %w", e.EventType, e.RecipientID, err)
	}
	for _, m := range l.Mirrors {
		if err := m.Write(ctx, e); err != nil {
			l.Log.Warn().Err(err).
				Int("recipient_id", e.RecipientID).
				Str("event_type", string(e.EventType)).
				Msg("event mirror write failed")
		}
	}
	return nil
}

// Record builds and appends an event. payload may be nil.
func (l *Log) Record(ctx context.Context, rc *model.Recipient, t model.EventType, providerMessageID string, payload map[string]any) error {
	e := &model.RecipientEvent{
		BroadcastID:       rc.BroadcastID,
		RecipientID:       rc.ID,
		EventType:         t,
		ProviderMessageID: providerMessageID,
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		e.Payload = b
	}
	return l.Append(ctx, e)
}

func (l *Log) CountByType(ctx context.Context, broadcastID int) (map[model.EventType]int, error) {
	return l.Store.CountByType(ctx, broadcastID)
}

func (l *Log) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}
