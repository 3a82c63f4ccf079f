// internal/model/recipient.go
package model

import "time"

type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientQueued    RecipientStatus = "queued"
	RecipientSent      RecipientStatus = "sent"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientOpened    RecipientStatus = "opened"
	RecipientClicked   RecipientStatus = "clicked"
	RecipientFailed    RecipientStatus = "failed"
	RecipientSkipped   RecipientStatus = "skipped"
)

// IsClaimable reports whether a send task may still act on the recipient.
func (s RecipientStatus) IsClaimable() bool {
	return s == RecipientPending || s == RecipientQueued
}

// IsTerminalDelivery reports whether the provider has accepted the message.
func (s RecipientStatus) IsTerminalDelivery() bool {
	switch s {
	case RecipientSent, RecipientDelivered, RecipientOpened, RecipientClicked:
		return true
	}
	return false
}

type Recipient struct {
	ID                int             `db:"id" json:"id"`
	BroadcastID       int             `db:"broadcast_id" json:"broadcast_id"`
	ContactID         int             `db:"contact_id" json:"contact_id"`
	Email             string          `db:"email" json:"email"`
	Status            RecipientStatus `db:"status" json:"status"` // pending, queued, sent, delivered, opened, clicked, failed, skipped
	AttemptCount      int             `db:"attempt_count" json:"attempt_count"`
	QueuedAt          *time.Time      `db:"queued_at" json:"queued_at,omitempty"`
	SentAt            *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	FailedAt          *time.Time      `db:"failed_at" json:"failed_at,omitempty"`
	SkippedAt         *time.Time      `db:"skipped_at" json:"skipped_at,omitempty"`
	DeliveredAt       *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	OpenedAt          *time.Time      `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt         *time.Time      `db:"clicked_at" json:"clicked_at,omitempty"`
	ProviderMessageID string          `db:"provider_message_id" json:"provider_message_id,omitempty"`
	LastError         string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}
