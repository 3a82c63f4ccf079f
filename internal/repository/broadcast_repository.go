package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/unclebandit/mailcast-backend/internal/db"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

type BroadcastRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Broadcast, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Broadcast, error)
	ListByStatus(ctx context.Context, status model.BroadcastStatus) ([]*model.Broadcast, error)
	MarkRunning(ctx context.Context, id int, now time.Time) (bool, error)
	SaveSnapshotAndSender(ctx context.Context, id int, snap *model.Snapshot, fromEmail *string, now time.Time) error
	MarkCompleted(ctx context.Context, id int, now time.Time) (bool, error)
	TransitionStatus(ctx context.Context, id int, from []model.BroadcastStatus, to model.BroadcastStatus, now time.Time) (bool, error)
}

type BroadcastRepository struct {
	DB *db.DB
}

const broadcastColumns = `id, name, group_id, template_id, status, starts_at, started_at, completed_at,
	messages_per_minute, from_name, from_email, from_prefix, from_domain, reply_to,
	snapshot_subject, snapshot_html_content, snapshot_builder_schema, snapshot_template_version,
	created_at, updated_at`

func scanBroadcast(row rowScanner) (*model.Broadcast, error) {
	var (
		b                                                     model.Broadcast
		status                                                string
		templateID, snapVersion                               sql.NullInt64
		startsAt, startedAt, completedAt, updatedAt           sql.NullTime
		fromEmail, replyTo, snapSubject, snapHTML, snapSchema sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.Name, &b.GroupID, &templateID, &status, &startsAt, &startedAt, &completedAt,
		&b.MessagesPerMinute, &b.FromName, &fromEmail, &b.FromPrefix, &b.FromDomain, &replyTo,
		&snapSubject, &snapHTML, &snapSchema, &snapVersion,
		&b.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = model.BroadcastStatus(status)
	b.TemplateID = intPtr(templateID)
	b.StartsAt = timePtr(startsAt)
	b.StartedAt = timePtr(startedAt)
	b.CompletedAt = timePtr(completedAt)
	b.UpdatedAt = timePtr(updatedAt)
	b.FromEmail = stringPtr(fromEmail)
	b.ReplyTo = stringPtr(replyTo)
	b.SnapshotSubject = stringPtr(snapSubject)
	b.SnapshotHTMLContent = stringPtr(snapHTML)
	b.SnapshotBuilderSchema = stringPtr(snapSchema)
	b.SnapshotTemplateVersion = intPtr(snapVersion)
	return &b, nil
}

func (r *BroadcastRepository) GetByID(ctx context.Context, id int) (*model.Broadcast, error) {
	query := r.DB.Rebind(`SELECT ` + broadcastColumns + ` FROM broadcasts WHERE id = ?`)
	b, err := scanBroadcast(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewBroadcastNotFound(id)
		}
		return nil, err
	}
	return b, nil
}

// ListDueScheduled returns scheduled broadcasts whose start time is unset or reached, by id.
func (r *BroadcastRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Broadcast, error) {
	query := r.DB.Rebind(`
		SELECT ` + broadcastColumns + `
		FROM broadcasts
		WHERE status = ? AND (starts_at IS NULL OR starts_at <= ?)
		ORDER BY id ASC`)
	return r.list(ctx, query, string(model.BroadcastScheduled), now)
}

func (r *BroadcastRepository) ListByStatus(ctx context.Context, status model.BroadcastStatus) ([]*model.Broadcast, error) {
	query := r.DB.Rebind(`SELECT ` + broadcastColumns + ` FROM broadcasts WHERE status = ? ORDER BY id ASC`)
	return r.list(ctx, query, string(status))
}

func (r *BroadcastRepository) list(ctx context.Context, query string, args ...any) ([]*model.Broadcast, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	broadcasts := []*model.Broadcast{}
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		broadcasts = append(broadcasts, b)
	}
	return broadcasts, rows.Err()
}

// MarkRunning promotes a scheduled broadcast. started_at is only set when still empty.
func (r *BroadcastRepository) MarkRunning(ctx context.Context, id int, now time.Time) (bool, error) {
	query := r.DB.Rebind(`
		UPDATE broadcasts
		SET status = ?, started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE id = ? AND status = ?`)
	return affected(r.DB.ExecContext(ctx, query,
		string(model.BroadcastRunning), now, now, id, string(model.BroadcastScheduled)))
}

// SaveSnapshotAndSender fills snapshot, from_email and started_at only where they are still NULL.
// A nil snap or fromEmail leaves the corresponding columns untouched.
func (r *BroadcastRepository) SaveSnapshotAndSender(ctx context.Context, id int, snap *model.Snapshot, fromEmail *string, now time.Time) error {
	var subject, html, schema, version any
	if snap != nil {
		subject, html, schema, version = snap.Subject, snap.HTMLContent, snap.BuilderSchema, snap.TemplateVersion
	}
	var from any
	if fromEmail != nil {
		from = *fromEmail
	}

	query := r.DB.Rebind(`
		UPDATE broadcasts
		SET snapshot_subject = COALESCE(snapshot_subject, ?),
		    snapshot_html_content = COALESCE(snapshot_html_content, ?),
		    snapshot_builder_schema = COALESCE(snapshot_builder_schema, ?),
		    snapshot_template_version = COALESCE(snapshot_template_version, ?),
		    from_email = COALESCE(from_email, ?),
		    started_at = COALESCE(started_at, ?),
		    updated_at = ?
		WHERE id = ?`)
	_, err := r.DB.ExecContext(ctx, query, subject, html, schema, version, from, now, now, id)
	return err
}

// MarkCompleted moves a running broadcast to completed. Returns false if it was not running.
func (r *BroadcastRepository) MarkCompleted(ctx context.Context, id int, now time.Time) (bool, error) {
	query := r.DB.Rebind(`
		UPDATE broadcasts
		SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`)
	return affected(r.DB.ExecContext(ctx, query,
		string(model.BroadcastCompleted), now, now, id, string(model.BroadcastRunning)))
}

func (r *BroadcastRepository) TransitionStatus(ctx context.Context, id int, from []model.BroadcastStatus, to model.BroadcastStatus, now time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []any{string(to), now, id}
	for _, s := range from {
		args = append(args, string(s))
	}
	query := r.DB.Rebind(`UPDATE broadcasts SET status = ?, updated_at = ? WHERE id = ? AND status IN (` + db.Placeholders(len(from)) + `)`)
	return affected(r.DB.ExecContext(ctx, query, args...))
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ BroadcastRepositoryInterface = (*BroadcastRepository)(nil)
