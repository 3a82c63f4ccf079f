package repository

import (
	"context"
	"time"

	"github.com/unclebandit/mailcast-backend/internal/db"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

type EventRepositoryInterface interface {
	Append(ctx context.Context, e *model.RecipientEvent) error
	CountByType(ctx context.Context, broadcastID int) (map[model.EventType]int, error)
}

// EventRepository is insert-only; the ledger is never updated or deleted from.
type EventRepository struct {
	DB *db.DB
}

func (r *EventRepository) Append(ctx context.Context, e *model.RecipientEvent) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	query := r.DB.Rebind(`
		INSERT INTO broadcast_recipient_events
		(broadcast_id, recipient_id, event_type, provider_message_id, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`)
	return r.DB.QueryRowContext(ctx, query,
		e.BroadcastID, e.RecipientID, string(e.EventType), nullIfEmpty(e.ProviderMessageID), payload, e.OccurredAt,
	).Scan(&e.ID)
}

func (r *EventRepository) CountByType(ctx context.Context, broadcastID int) (map[model.EventType]int, error) {
	query := r.DB.Rebind(`
		SELECT event_type, COUNT(*)
		FROM broadcast_recipient_events
		WHERE broadcast_id = ?
		GROUP BY event_type`)
	rows, err := r.DB.QueryContext(ctx, query, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.EventType]int{}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[model.EventType(t)] = n
	}
	return counts, rows.Err()
}

var _ EventRepositoryInterface = (*EventRepository)(nil)
