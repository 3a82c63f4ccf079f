package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/queue"
	"github.com/unclebandit/mailcast-backend/internal/repository"
)

// RateLimitedQueuer claims at most messages_per_minute pending recipients per call and
// dispatches one send task for each. Consecutive calls drain the remaining stock.
type RateLimitedQueuer struct {
	Recipients repository.RecipientRepositoryInterface
	Tasks      queue.Queue
	Topic      string
	Events     EventRecorder
	Now        func() time.Time
	Log        zerolog.Logger
}

func (q *RateLimitedQueuer) Queue(ctx context.Context, b *model.Broadcast) ([]*model.Recipient, error) {
	if b.MessagesPerMinute <= 0 {
		q.Log.Warn().Int("broadcast_id", b.ID).Int("messages_per_minute", b.MessagesPerMinute).Msg("broadcast has no send allowance")
		return nil, nil
	}

	claimed, err := q.Recipients.ClaimPending(ctx, b.ID, b.MessagesPerMinute, nowFrom(q.Now))
	if err != nil {
		return nil, fmt.Errorf("claim recipients for broadcast %d: %w", b.ID, err)
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	topic := q.Topic
	if topic == "" {
		topic = queue.SendTopic
	}
	for _, rc := range claimed {
		// A task that never reaches the queue leaves the recipient queued; stale reclaim picks it up.
		if err := q.Tasks.Publish(ctx, topic, queue.SendTask{RecipientID: rc.ID, BroadcastID: b.ID}); err != nil {
			q.Log.Error().Err(err).Int("broadcast_id", b.ID).Int("recipient_id", rc.ID).Msg("⚠️ failed to enqueue send task")
		}
		if err := q.Events.Record(ctx, rc, model.EventQueued, "", nil); err != nil {
			q.Log.Error().Err(err).Int("recipient_id", rc.ID).Msg("failed to record queued event")
		}
	}

	q.Log.Info().Int("broadcast_id", b.ID).Int("queued", len(claimed)).Msg("recipients queued")
	return claimed, nil
}
