package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-grouping/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- GROUPS ----------------

// GetGroup → fetch one tour-slot group by id.
func (d *DB) GetGroup(ctx context.Context, id string) (*models.GroupBooking, error) {
	var group models.GroupBooking
	err := d.Bun.NewSelect().
		Model(&group).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// GetGroupByInviteCode → fetch one group by its invite code.
func (d *DB) GetGroupByInviteCode(ctx context.Context, code string) (*models.GroupBooking, error) {
	var group models.GroupBooking
	err := d.Bun.NewSelect().
		Model(&group).
		Where("invite_code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// CreateGroup → insert a new tour-slot group.
func (d *DB) CreateGroup(ctx context.Context, group *models.GroupBooking) error {
	_, err := d.Bun.NewInsert().Model(group).Exec(ctx)
	return err
}

// UpdateGroup → persist the mutable aggregate fields.
func (d *DB) UpdateGroup(ctx context.Context, group *models.GroupBooking) error {
	_, err := d.Bun.NewUpdate().
		Model(group).
		Column("current_participants", "current_price_per_person", "status", "full_credited", "updated_at").
		Where("id = ?", group.ID).
		Exec(ctx)
	return err
}

// ListGroupsByTour → every slot group for one tour, newest date first.
func (d *DB) ListGroupsByTour(ctx context.Context, tourID string) ([]models.GroupBooking, error) {
	var groups []models.GroupBooking
	err := d.Bun.NewSelect().
		Model(&groups).
		Where("tour_id = ?", tourID).
		Order("tour_date DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// InviteCodeTaken → collision check for the code generator.
func (d *DB) InviteCodeTaken(ctx context.Context, code string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.GroupBooking)(nil)).
		Where("invite_code = ?", code).
		Exists(ctx)
}

// ClosePastGroups → flip every non-terminal group whose tour date has passed
// to closed. Returns the number of groups touched. Idempotent.
func (d *DB) ClosePastGroups(ctx context.Context, now time.Time) (int, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.GroupBooking)(nil)).
		Set("status = ?", models.BookingStatusClosed).
		Set("updated_at = ?", now).
		Where("tour_date <= ?", now).
		Where("status IN (?)", bun.In([]string{
			models.BookingStatusOpen,
			models.BookingStatusConfirmed,
			models.BookingStatusFull,
		})).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ---------------- MEMBERSHIPS ----------------

// GetActiveMembership → the caller's active membership row, nil when none.
func (d *DB) GetActiveMembership(ctx context.Context, groupID, userID string) (*models.GroupBookingMember, error) {
	var m models.GroupBookingMember
	err := d.Bun.NewSelect().
		Model(&m).
		Where("group_id = ?", groupID).
		Where("user_id = ?", userID).
		Where("status = ?", models.MemberStatusActive).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListActiveMembers → all active membership rows for one group.
func (d *DB) ListActiveMembers(ctx context.Context, groupID string) ([]models.GroupBookingMember, error) {
	var members []models.GroupBookingMember
	err := d.Bun.NewSelect().
		Model(&members).
		Where("group_id = ?", groupID).
		Where("status = ?", models.MemberStatusActive).
		Order("joined_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return members, nil
}

// ---------------- ATOMIC UNITS ----------------

// ApplyJoin persists the recomputed aggregate and the new membership row as
// one transaction. Either both land or neither does.
func (d *DB) ApplyJoin(ctx context.Context, group *models.GroupBooking, member *models.GroupBookingMember) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model(group).
			Column("current_participants", "current_price_per_person", "status", "full_credited", "updated_at").
			Where("id = ?", group.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("update group aggregate: %w", err)
		}
		if _, err := tx.NewInsert().Model(member).Exec(ctx); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		return nil
	})
}

// ApplyLeave persists the recomputed aggregate and marks the membership row
// cancelled, as one transaction. The row is kept for the audit trail.
func (d *DB) ApplyLeave(ctx context.Context, group *models.GroupBooking, member *models.GroupBookingMember) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model(group).
			Column("current_participants", "current_price_per_person", "status", "full_credited", "updated_at").
			Where("id = ?", group.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("update group aggregate: %w", err)
		}
		if _, err := tx.NewUpdate().
			Model(member).
			Column("status", "cancelled_at").
			Where("id = ?", member.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("cancel membership: %w", err)
		}
		return nil
	})
}
