package mail

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogTransport only logs messages. It is the development default.
type LogTransport struct {
	Log zerolog.Logger
}

func (t *LogTransport) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := msg.validate(); err != nil {
		return SendResult{}, err
	}
	id := uuid.NewString()
	t.Log.Info().
		Str("provider_message_id", id).
		Str("from", msg.From()).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("html_bytes", len(msg.HTML)).
		Msg("📧 mail accepted (log transport)")
	return SendResult{ProviderMessageID: id}, nil
}
