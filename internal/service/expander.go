package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/repository"
)

type ExpandResult struct {
	Created   int
	Refreshed int
	Unchanged int
}

// RecipientExpander materializes one recipient per eligible contact of the broadcast's group.
// It only adds rows and refreshes emails; it never removes a recipient.
type RecipientExpander struct {
	Contacts   repository.ContactRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Now        func() time.Time
	Log        zerolog.Logger
}

func (e *RecipientExpander) Expand(ctx context.Context, b *model.Broadcast) (ExpandResult, error) {
	var res ExpandResult

	contacts, err := e.Contacts.ListEligibleByGroup(ctx, b.GroupID)
	if err != nil {
		return res, fmt.Errorf("list contacts for group %d: %w", b.GroupID, err)
	}
	existing, err := e.Recipients.EmailsByContact(ctx, b.ID)
	if err != nil {
		return res, fmt.Errorf("load recipients for broadcast %d: %w", b.ID, err)
	}

	now := nowFrom(e.Now)
	for _, c := range contacts {
		stored, ok := existing[c.ID]
		if !ok {
			created, err := e.Recipients.Insert(ctx, b.ID, c.ID, c.Email, now)
			if err != nil {
				return res, fmt.Errorf("insert recipient for contact %d: %w", c.ID, err)
			}
			if created {
				res.Created++
			} else {
				// another expander inserted it first
				res.Unchanged++
			}
			continue
		}
		if stored == c.Email {
			res.Unchanged++
			continue
		}
		if _, err := e.Recipients.UpdateEmail(ctx, b.ID, c.ID, c.Email, now); err != nil {
			return res, fmt.Errorf("refresh email for contact %d: %w", c.ID, err)
		}
		res.Refreshed++
	}

	if res.Created > 0 || res.Refreshed > 0 {
		e.Log.Info().
			Int("broadcast_id", b.ID).
			Int("created", res.Created).
			Int("refreshed", res.Refreshed).
			Msg("recipients expanded")
	}
	return res, nil
}
