package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-grouping/internal/models"

	"github.com/uptrace/bun"
)

// DB reads traveller and operator accounts. The grouping service never
// writes this table; the accounts service owns it.
type DB struct {
	Bun *bun.DB
}

// GetUser → fetch one account by id. Returns nil without an error when the
// id is unknown so callers can map that to their own error type.
func (d *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	return &user, nil
}

// CreateTables creates the users table if it does not exist. Used by the dev
// bootstrap and test setup; production schema changes go through the SQL
// migrations.
func CreateTables(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().Model((*models.User)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create table for %T: %w", (*models.User)(nil), err)
	}
	return nil
}
