package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/repository"
)

const DefaultStaleAfter = 5 * time.Minute

// StaleRecoveryScanner returns recipients stranded in queued (task lost, crashed or hung
// before a terminal write) to pending so the next Queue call can claim them again.
type StaleRecoveryScanner struct {
	Recipients repository.RecipientRepositoryInterface
	StaleAfter time.Duration
	Now        func() time.Time
	Log        zerolog.Logger
}

func (s *StaleRecoveryScanner) Reclaim(ctx context.Context, b *model.Broadcast) (int64, error) {
	after := s.StaleAfter
	if after <= 0 {
		after = DefaultStaleAfter
	}
	now := nowFrom(s.Now)
	n, err := s.Recipients.ReclaimStale(ctx, b.ID, now.Add(-after), now)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale recipients for broadcast %d: %w", b.ID, err)
	}
	if n > 0 {
		s.Log.Warn().Int("broadcast_id", b.ID).Int64("reclaimed", n).Dur("stale_after", after).Msg("reclaimed stale queued recipients")
	}
	return n, nil
}
