package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/repository"
)

// LifecycleDriver moves broadcasts scheduled -> running -> completed and captures
// their content snapshot and sender address on first run.
type LifecycleDriver struct {
	Broadcasts repository.BroadcastRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Templates  repository.TemplateRepositoryInterface

	DefaultFromPrefix string
	DefaultFromDomain string

	Now  func() time.Time
	Rand io.Reader
	Log  zerolog.Logger
}

// PromoteDue starts every scheduled broadcast whose starts_at is empty or reached, in id order.
// One failed promotion does not stop the others.
func (d *LifecycleDriver) PromoteDue(ctx context.Context) (int, error) {
	now := nowFrom(d.Now)
	due, err := d.Broadcasts.ListDueScheduled(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due broadcasts: %w", err)
	}

	promoted := 0
	var errs []error
	for _, b := range due {
		ok, err := d.Broadcasts.MarkRunning(ctx, b.ID, now)
		if err != nil {
			d.Log.Error().Err(err).Int("broadcast_id", b.ID).Msg("failed to promote broadcast")
			errs = append(errs, fmt.Errorf("promote broadcast %d: %w", b.ID, err))
			continue
		}
		if ok {
			promoted++
			d.Log.Info().Int("broadcast_id", b.ID).Msg("🚀 broadcast promoted to running")
		}
	}
	return promoted, errors.Join(errs...)
}

// EnsureSnapshotAndSender fills the content snapshot, from_email and started_at when they
// are still empty. Fields that are already set are never changed, so repeated calls are safe.
// b is refreshed with the stored values.
func (d *LifecycleDriver) EnsureSnapshotAndSender(ctx context.Context, b *model.Broadcast) error {
	needSnapshot := !b.HasSnapshot()
	needSender := b.FromEmail == nil
	if !needSnapshot && !needSender && b.StartedAt != nil {
		return nil
	}

	var snap *model.Snapshot
	if needSnapshot {
		s, err := d.snapshotFromTemplate(ctx, b)
		if err != nil {
			return err
		}
		snap = s
	}

	var from *string
	if needSender {
		prefix := b.FromPrefix
		if SlugifyPrefix(prefix) == "" {
			prefix = d.DefaultFromPrefix
		}
		domain := b.FromDomain
		if domain == "" {
			domain = d.DefaultFromDomain
		}
		addr, err := DeriveFromEmail(prefix, b.ID, domain, d.Rand)
		if err != nil {
			return err
		}
		from = &addr
	}

	if err := d.Broadcasts.SaveSnapshotAndSender(ctx, b.ID, snap, from, nowFrom(d.Now)); err != nil {
		return fmt.Errorf("save snapshot for broadcast %d: %w", b.ID, err)
	}

	fresh, err := d.Broadcasts.GetByID(ctx, b.ID)
	if err != nil {
		return err
	}
	*b = *fresh
	return nil
}

// snapshotFromTemplate falls back to empty content and version 1 when the template is gone.
func (d *LifecycleDriver) snapshotFromTemplate(ctx context.Context, b *model.Broadcast) (*model.Snapshot, error) {
	snap := &model.Snapshot{TemplateVersion: 1}
	if b.TemplateID == nil {
		d.Log.Warn().Int("broadcast_id", b.ID).Msg("broadcast has no template, using empty snapshot")
		return snap, nil
	}
	tpl, err := d.Templates.GetByID(ctx, *b.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %d: %w", *b.TemplateID, err)
	}
	if tpl == nil {
		d.Log.Warn().Int("broadcast_id", b.ID).Int("template_id", *b.TemplateID).Msg("template missing, using empty snapshot")
		return snap, nil
	}
	snap.Subject = tpl.Subject
	snap.HTMLContent = tpl.HTMLContent
	snap.BuilderSchema = tpl.BuilderSchema
	if tpl.Version > 0 {
		snap.TemplateVersion = tpl.Version
	}
	return snap, nil
}

// MarkCompletedWhenFinished completes a running broadcast once it has recipients and none of
// them is pending or queued. A broadcast without recipients stays running.
func (d *LifecycleDriver) MarkCompletedWhenFinished(ctx context.Context, b *model.Broadcast) (bool, error) {
	stats, err := d.Recipients.CountByStatus(ctx, b.ID)
	if err != nil {
		return false, fmt.Errorf("count recipients for broadcast %d: %w", b.ID, err)
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	if total == 0 || stats[model.RecipientPending]+stats[model.RecipientQueued] > 0 {
		return false, nil
	}

	now := nowFrom(d.Now)
	ok, err := d.Broadcasts.MarkCompleted(ctx, b.ID, now)
	if err != nil {
		return false, fmt.Errorf("complete broadcast %d: %w", b.ID, err)
	}
	if ok {
		b.Status = model.BroadcastCompleted
		b.CompletedAt = &now
		d.Log.Info().Int("broadcast_id", b.ID).Int("recipients", total).Msg("✅ broadcast completed")
	}
	return ok, nil
}
