package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclebandit/mailcast-backend/internal/db"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

// ContactRepositoryInterface defines methods used by service
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Contact, error)
	ListEligibleByGroup(ctx context.Context, groupID int) ([]model.Contact, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *db.DB
}

const contactColumns = `c.id, c.email, c.first_name, c.last_name, c.company, c.subscribed, c.is_invalid`

// GetByID fetches a contact by ID
func (r *ContactRepository) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	query := r.DB.Rebind(`SELECT ` + contactColumns + ` FROM contacts c WHERE c.id = ?`)
	var c model.Contact
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Company, &c.Subscribed, &c.IsInvalid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

// ListEligibleByGroup returns subscribed, valid members of a group ordered by id.
func (r *ContactRepository) ListEligibleByGroup(ctx context.Context, groupID int) ([]model.Contact, error) {
	query := r.DB.Rebind(`
		SELECT ` + contactColumns + `
		FROM contacts c
		JOIN contact_group_members m ON m.contact_id = c.id
		WHERE m.group_id = ? AND c.subscribed = TRUE AND c.is_invalid = FALSE
		ORDER BY c.id ASC`)
	rows, err := r.DB.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Company, &c.Subscribed, &c.IsInvalid); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
