package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/unclebandit/mailcast-backend/internal/db"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

type RecipientRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Recipient, error)
	EmailsByContact(ctx context.Context, broadcastID int) (map[int]string, error)
	Insert(ctx context.Context, broadcastID, contactID int, email string, now time.Time) (bool, error)
	UpdateEmail(ctx context.Context, broadcastID, contactID int, email string, now time.Time) (bool, error)
	ClaimPending(ctx context.Context, broadcastID, limit int, now time.Time) ([]*model.Recipient, error)
	ReclaimStale(ctx context.Context, broadcastID int, cutoff, now time.Time) (int64, error)
	CountByStatus(ctx context.Context, broadcastID int) (map[model.RecipientStatus]int, error)

	RevertToPending(ctx context.Context, id int, now time.Time) (bool, error)
	MarkSkipped(ctx context.Context, id int, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id int, now time.Time, providerMessageID string) (bool, error)
	MarkFailed(ctx context.Context, id int, now time.Time, lastError string) (bool, error)
	ForceFailed(ctx context.Context, id int, now time.Time, lastError string) (bool, error)
}

type RecipientRepository struct {
	DB *db.DB

	// beforeClaim runs between the candidate SELECT and the claiming UPDATE.
	beforeClaim func(ctx context.Context, tx *sql.Tx, ids []int) error
}

const recipientColumns = `id, broadcast_id, contact_id, email, status, attempt_count,
	queued_at, sent_at, failed_at, skipped_at, delivered_at, opened_at, clicked_at,
	COALESCE(provider_message_id, ''), COALESCE(last_error, ''), created_at, updated_at`

// Statuses a send task may still act on, and the ones a forced failure may overwrite.
var (
	claimableStatuses   = []model.RecipientStatus{model.RecipientPending, model.RecipientQueued}
	forceFailableStatus = []model.RecipientStatus{model.RecipientPending, model.RecipientQueued, model.RecipientFailed, model.RecipientSkipped}
)

func scanRecipient(row rowScanner) (*model.Recipient, error) {
	var (
		rc                                                                      model.Recipient
		status                                                                  string
		queuedAt, sentAt, failedAt, skippedAt, deliveredAt, openedAt, clickedAt sql.NullTime
	)
	err := row.Scan(
		&rc.ID, &rc.BroadcastID, &rc.ContactID, &rc.Email, &status, &rc.AttemptCount,
		&queuedAt, &sentAt, &failedAt, &skippedAt, &deliveredAt, &openedAt, &clickedAt,
		&rc.ProviderMessageID, &rc.LastError, &rc.CreatedAt, &rc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rc.Status = model.RecipientStatus(status)
	rc.QueuedAt = timePtr(queuedAt)
	rc.SentAt = timePtr(sentAt)
	rc.FailedAt = timePtr(failedAt)
	rc.SkippedAt = timePtr(skippedAt)
	rc.DeliveredAt = timePtr(deliveredAt)
	rc.OpenedAt = timePtr(openedAt)
	rc.ClickedAt = timePtr(clickedAt)
	return &rc, nil
}

// GetByID returns nil, nil when the recipient does not exist.
func (r *RecipientRepository) GetByID(ctx context.Context, id int) (*model.Recipient, error) {
	query := r.DB.Rebind(`SELECT ` + recipientColumns + ` FROM broadcast_recipients WHERE id = ?`)
	rc, err := scanRecipient(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rc, nil
}

// EmailsByContact maps contact_id to the stored email for every recipient of the broadcast.
func (r *RecipientRepository) EmailsByContact(ctx context.Context, broadcastID int) (map[int]string, error) {
	query := r.DB.Rebind(`SELECT contact_id, email FROM broadcast_recipients WHERE broadcast_id = ?`)
	rows, err := r.DB.QueryContext(ctx, query, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]string{}
	for rows.Next() {
		var contactID int
		var email string
		if err := rows.Scan(&contactID, &email); err != nil {
			return nil, err
		}
		out[contactID] = email
	}
	return out, rows.Err()
}

// Idempotent insert: the unique (broadcast_id, contact_id) index turns a duplicate into a no-op.
func (r *RecipientRepository) Insert(ctx context.Context, broadcastID, contactID int, email string, now time.Time) (bool, error) {
	query := r.DB.Rebind(`
		INSERT INTO broadcast_recipients (broadcast_id, contact_id, email, status, attempt_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (broadcast_id, contact_id) DO NOTHING`)
	return affected(r.DB.ExecContext(ctx, query, broadcastID, contactID, email, string(model.RecipientPending), now, now))
}

// UpdateEmail refreshes the denormalized email; status and timestamps are untouched.
func (r *RecipientRepository) UpdateEmail(ctx context.Context, broadcastID, contactID int, email string, now time.Time) (bool, error) {
	query := r.DB.Rebind(`
		UPDATE broadcast_recipients
		SET email = ?, updated_at = ?
		WHERE broadcast_id = ? AND contact_id = ? AND email <> ?`)
	return affected(r.DB.ExecContext(ctx, query, email, now, broadcastID, contactID, email))
}

// ClaimPending moves up to limit pending recipients (oldest id first) to queued inside one
// transaction. The status predicate on the UPDATE makes a concurrent claimer skip rows it lost.
func (r *RecipientRepository) ClaimPending(ctx context.Context, broadcastID, limit int, now time.Time) ([]*model.Recipient, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids, err := queryIDs(ctx, tx, r.DB.Rebind(`
		SELECT id FROM broadcast_recipients
		WHERE broadcast_id = ? AND status = ?
		ORDER BY id ASC
		LIMIT ?`), broadcastID, string(model.RecipientPending), limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if r.beforeClaim != nil {
		if err := r.beforeClaim(ctx, tx, ids); err != nil {
			return nil, err
		}
	}

	args := []any{string(model.RecipientQueued), now, now}
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, string(model.RecipientPending))
	claimed, err := queryIDs(ctx, tx, r.DB.Rebind(`
		UPDATE broadcast_recipients
		SET status = ?, queued_at = ?, updated_at = ?
		WHERE id IN (`+db.Placeholders(len(ids))+`) AND status = ?
		RETURNING id`), args...)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, tx.Commit()
	}

	args = args[:0]
	for _, id := range claimed {
		args = append(args, id)
	}
	rows, err := tx.QueryContext(ctx, r.DB.Rebind(`
		SELECT `+recipientColumns+`
		FROM broadcast_recipients
		WHERE id IN (`+db.Placeholders(len(claimed))+`)
		ORDER BY id ASC`), args...)
	if err != nil {
		return nil, err
	}
	recipients := []*model.Recipient{}
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		recipients = append(recipients, rc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].ID < recipients[j].ID })
	return recipients, nil
}

// ReclaimStale returns recipients stuck in queued (never sent, queued at or before cutoff) to pending.
func (r *RecipientRepository) ReclaimStale(ctx context.Context, broadcastID int, cutoff, now time.Time) (int64, error) {
	query := r.DB.Rebind(`
		UPDATE broadcast_recipients
		SET status = ?, queued_at = NULL, updated_at = ?
		WHERE broadcast_id = ? AND status = ? AND sent_at IS NULL AND queued_at <= ?`)
	res, err := r.DB.ExecContext(ctx, query,
		string(model.RecipientPending), now, broadcastID, string(model.RecipientQueued), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *RecipientRepository) CountByStatus(ctx context.Context, broadcastID int) (map[model.RecipientStatus]int, error) {
	query := r.DB.Rebind(`SELECT status, COUNT(*) FROM broadcast_recipients WHERE broadcast_id = ? GROUP BY status`)
	rows, err := r.DB.QueryContext(ctx, query, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[model.RecipientStatus]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[model.RecipientStatus(status)] = count
	}
	return stats, rows.Err()
}

func (r *RecipientRepository) RevertToPending(ctx context.Context, id int, now time.Time) (bool, error) {
	return r.transition(ctx, id, claimableStatuses,
		`status = ?, queued_at = NULL, updated_at = ?`,
		string(model.RecipientPending), now)
}

func (r *RecipientRepository) MarkSkipped(ctx context.Context, id int, now time.Time) (bool, error) {
	return r.transition(ctx, id, claimableStatuses,
		`status = ?, skipped_at = ?, updated_at = ?`,
		string(model.RecipientSkipped), now, now)
}

func (r *RecipientRepository) MarkSent(ctx context.Context, id int, now time.Time, providerMessageID string) (bool, error) {
	return r.transition(ctx, id, claimableStatuses,
		`status = ?, sent_at = ?, attempt_count = attempt_count + 1, failed_at = NULL, last_error = NULL,
		 provider_message_id = COALESCE(?, provider_message_id), updated_at = ?`,
		string(model.RecipientSent), now, nullIfEmpty(providerMessageID), now)
}

func (r *RecipientRepository) MarkFailed(ctx context.Context, id int, now time.Time, lastError string) (bool, error) {
	return r.transition(ctx, id, claimableStatuses,
		`status = ?, attempt_count = attempt_count + 1, failed_at = ?, last_error = ?, updated_at = ?`,
		string(model.RecipientFailed), now, lastError, now)
}

// ForceFailed is the outer safety net for crashed tasks. It never touches a delivered-side status.
func (r *RecipientRepository) ForceFailed(ctx context.Context, id int, now time.Time, lastError string) (bool, error) {
	return r.transition(ctx, id, forceFailableStatus,
		`status = ?, attempt_count = CASE WHEN attempt_count < 1 THEN 1 ELSE attempt_count END,
		 failed_at = ?, last_error = ?, updated_at = ?`,
		string(model.RecipientFailed), now, lastError, now)
}

// transition atomically applies set to row id only if its current status is one of expected.
// It reports false (and changes nothing) when another writer got there first.
func (r *RecipientRepository) transition(ctx context.Context, id int, expected []model.RecipientStatus, set string, args ...any) (bool, error) {
	all := append([]any{}, args...)
	all = append(all, id)
	for _, s := range expected {
		all = append(all, string(s))
	}
	query := r.DB.Rebind(`UPDATE broadcast_recipients SET ` + set +
		` WHERE id = ? AND status IN (` + db.Placeholders(len(expected)) + `)`)
	return affected(r.DB.ExecContext(ctx, query, all...))
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryIDs(ctx context.Context, q queryer, query string, args ...any) ([]int, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
