package service

import (
	"context"
	"time"

	"github.com/unclebandit/mailcast-backend/internal/model"
)

func nowFrom(fn func() time.Time) time.Time {
	if fn != nil {
		return fn()
	}
	return time.Now().UTC()
}

// EventRecorder appends recipient events to the ledger.
type EventRecorder interface {
	Record(ctx context.Context, rc *model.Recipient, t model.EventType, providerMessageID string, payload map[string]any) error
}
