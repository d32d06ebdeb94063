package db

import (
	"context"
	"fmt"

	"ms-grouping/internal/models"

	"github.com/uptrace/bun"
)

// CreateTables creates the booking tables if they do not exist. Used by the
// dev bootstrap and test setup; production schema changes go through the SQL
// migrations.
func CreateTables(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.GroupBooking)(nil),
		(*models.GroupBookingMember)(nil),
	}
	for _, m := range tables {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	return nil
}
