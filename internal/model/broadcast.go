// internal/model/broadcast.go
package model

import "time"

type BroadcastStatus string

const (
	BroadcastDraft     BroadcastStatus = "draft"
	BroadcastScheduled BroadcastStatus = "scheduled"
	BroadcastRunning   BroadcastStatus = "running"
	BroadcastPaused    BroadcastStatus = "paused"
	BroadcastCancelled BroadcastStatus = "cancelled"
	BroadcastCompleted BroadcastStatus = "completed"
)

type Broadcast struct {
	ID                int             `db:"id" json:"id"`
	Name              string          `db:"name" json:"name"`
	GroupID           int             `db:"group_id" json:"group_id"`
	TemplateID        *int            `db:"template_id" json:"template_id,omitempty"`
	Status            BroadcastStatus `db:"status" json:"status"`
	StartsAt          *time.Time      `db:"starts_at" json:"starts_at,omitempty"`
	StartedAt         *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt       *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	MessagesPerMinute int             `db:"messages_per_minute" json:"messages_per_minute"`

	FromName   string  `db:"from_name" json:"from_name"`
	FromEmail  *string `db:"from_email" json:"from_email,omitempty"`
	FromPrefix string  `db:"from_prefix" json:"from_prefix"`
	FromDomain string  `db:"from_domain" json:"from_domain"`
	ReplyTo    *string `db:"reply_to" json:"reply_to,omitempty"`

	// Content captured on first run; later template edits do not reach an in-flight broadcast.
	SnapshotSubject         *string `db:"snapshot_subject" json:"snapshot_subject,omitempty"`
	SnapshotHTMLContent     *string `db:"snapshot_html_content" json:"snapshot_html_content,omitempty"`
	SnapshotBuilderSchema   *string `db:"snapshot_builder_schema" json:"snapshot_builder_schema,omitempty"`
	SnapshotTemplateVersion *int    `db:"snapshot_template_version" json:"snapshot_template_version,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// HasSnapshot reports whether every snapshot column has been captured.
func (b *Broadcast) HasSnapshot() bool {
	return b.SnapshotSubject != nil &&
		b.SnapshotHTMLContent != nil &&
		b.SnapshotBuilderSchema != nil &&
		b.SnapshotTemplateVersion != nil
}

// Snapshot is the content copied from a template when a broadcast starts.
type Snapshot struct {
	Subject         string
	HTMLContent     string
	BuilderSchema   string
	TemplateVersion int
}
