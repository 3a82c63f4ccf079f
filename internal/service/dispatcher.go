package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/repository"
)

type TickResult struct {
	Promoted  int `json:"promoted"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Queued    int `json:"queued"`
	Reclaimed int `json:"reclaimed"`
	Completed int `json:"completed"`
}

// Dispatcher runs one dispatch tick over every running broadcast.
type Dispatcher struct {
	Broadcasts repository.BroadcastRepositoryInterface
	Lifecycle  *LifecycleDriver
	Expander   *RecipientExpander
	Reclaimer  *StaleRecoveryScanner
	Queuer     *RateLimitedQueuer
	Log        zerolog.Logger
}

// RunTick promotes due broadcasts, then drives each running broadcast through
// snapshot, expansion, stale reclaim, queueing and completion. A failing broadcast is
// logged and counted; the others still run. The returned error joins every failure.
func (d *Dispatcher) RunTick(ctx context.Context) (TickResult, error) {
	var res TickResult
	var errs []error

	promoted, err := d.Lifecycle.PromoteDue(ctx)
	res.Promoted = promoted
	if err != nil {
		errs = append(errs, err)
	}

	running, err := d.Broadcasts.ListByStatus(ctx, model.BroadcastRunning)
	if err != nil {
		errs = append(errs, fmt.Errorf("list running broadcasts: %w", err))
		return res, errors.Join(errs...)
	}

	for _, b := range running {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res.Processed++
		if err := d.processBroadcast(ctx, b, &res); err != nil {
			res.Failed++
			d.Log.Error().Err(err).Int("broadcast_id", b.ID).Msg("🔥 broadcast tick failed")
			errs = append(errs, err)
		}
	}

	d.Log.Info().
		Int("promoted", res.Promoted).
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Int("queued", res.Queued).
		Int("reclaimed", res.Reclaimed).
		Int("completed", res.Completed).
		Msg("dispatch tick finished")
	return res, errors.Join(errs...)
}

func (d *Dispatcher) processBroadcast(ctx context.Context, b *model.Broadcast, res *TickResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.Log.Error().Int("broadcast_id", b.ID).Str("stack", string(debug.Stack())).Msg("panic in broadcast tick")
			err = fmt.Errorf("broadcast %d: panic: %v", b.ID, r)
		}
	}()

	if err := d.Lifecycle.EnsureSnapshotAndSender(ctx, b); err != nil {
		return fmt.Errorf("broadcast %d: %w", b.ID, err)
	}
	if _, err := d.Expander.Expand(ctx, b); err != nil {
		return fmt.Errorf("broadcast %d: %w", b.ID, err)
	}
	reclaimed, err := d.Reclaimer.Reclaim(ctx, b)
	if err != nil {
		return fmt.Errorf("broadcast %d: %w", b.ID, err)
	}
	res.Reclaimed += int(reclaimed)

	queued, err := d.Queuer.Queue(ctx, b)
	if err != nil {
		return fmt.Errorf("broadcast %d: %w", b.ID, err)
	}
	res.Queued += len(queued)

	completed, err := d.Lifecycle.MarkCompletedWhenFinished(ctx, b)
	if err != nil {
		return fmt.Errorf("broadcast %d: %w", b.ID, err)
	}
	if completed {
		res.Completed++
	}
	return nil
}
