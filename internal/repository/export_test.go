package repository

import (
	"context"
	"database/sql"
)

func SetBeforeClaim(r *RecipientRepository, fn func(ctx context.Context, tx *sql.Tx, ids []int) error) {
	r.beforeClaim = fn
}
