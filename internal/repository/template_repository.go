package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclebandit/mailcast-backend/internal/db"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

type TemplateRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Template, error)
}

type TemplateRepository struct {
	DB *db.DB
}

// GetByID returns nil, nil for a deleted template.
func (r *TemplateRepository) GetByID(ctx context.Context, id int) (*model.Template, error) {
	query := r.DB.Rebind(`SELECT id, name, subject, html_content, builder_schema, version FROM templates WHERE id = ?`)
	var t model.Template
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Name, &t.Subject, &t.HTMLContent, &t.BuilderSchema, &t.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
