// internal/model/event.go
package model

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventQueued       EventType = "queued"
	EventSent         EventType = "sent"
	EventSendFailed   EventType = "send_failed"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventUnsubscribed EventType = "unsubscribed"
	EventBounced      EventType = "bounced"
	EventComplained   EventType = "complained"
)

// RecipientEvent is an append-only ledger row. It is never updated or deleted.
type RecipientEvent struct {
	ID                int             `db:"id" json:"id"`
	BroadcastID       int             `db:"broadcast_id" json:"broadcast_id"`
	RecipientID       int             `db:"recipient_id" json:"recipient_id"`
	EventType         EventType       `db:"event_type" json:"event_type"`
	ProviderMessageID string          `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Payload           json.RawMessage `db:"payload" json:"payload,omitempty"`
	OccurredAt        time.Time       `db:"occurred_at" json:"occurred_at"`
}
