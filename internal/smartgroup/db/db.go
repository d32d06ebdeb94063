package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-grouping/internal/geo"
	"ms-grouping/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- GROUPS ----------------

// GetGroup → fetch one smart group by id.
func (d *DB) GetGroup(ctx context.Context, id string) (*models.SmartGroup, error) {
	var group models.SmartGroup
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

// GetGroupByInviteCode → fetch one smart group by its invite code.
func (d *DB) GetGroupByInviteCode(ctx context.Context, code string) (*models.SmartGroup, error) {
	var group models.SmartGroup
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

// CreateGroupWithCreator inserts the group and the creator's membership row
// as one transaction, so a group never exists without its creator seat.
func (d *DB) CreateGroupWithCreator(ctx context.Context, group *models.SmartGroup, creator *models.SmartGroupMember) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(group).Exec(ctx); err != nil {
			return fmt.Errorf("insert smart group: %w", err)
		}
		if _, err := tx.NewInsert().Model(creator).Exec(ctx); err != nil {
			return fmt.Errorf("insert creator membership: %w", err)
		}
		return nil
	})
}

// UpdateGroup → persist the mutable aggregate fields.
func (d *DB) UpdateGroup(ctx context.Context, group *models.SmartGroup) error {
	_, err := d.Bun.NewUpdate().
		Model(group).
		Column("current_participants", "status", "full_credited", "updated_at").
		Where("id = ?", group.ID).
		Exec(ctx)
	return err
}

// InviteCodeTaken → collision check for the code generator.
func (d *DB) InviteCodeTaken(ctx context.Context, code string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.SmartGroup)(nil)).
		Where("invite_code = ?", code).
		Exists(ctx)
}

// ---------------- CREATOR THROTTLES ----------------

// CountOpenGroupsByCreator → how many of the creator's groups are still
// active or full. Backs the concurrent-group limit.
func (d *DB) CountOpenGroupsByCreator(ctx context.Context, creatorID string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.SmartGroup)(nil)).
		Where("creator_id = ?", creatorID).
		Where("status IN (?)", bun.In([]string{
			models.SmartGroupStatusActive,
			models.SmartGroupStatusFull,
		})).
		Count(ctx)
}

// LatestCreationByCreator → when the creator last created any group, nil if
// never. Backs the cooldown check; durable, so it survives restarts.
func (d *DB) LatestCreationByCreator(ctx context.Context, creatorID string) (*time.Time, error) {
	var created time.Time
	err := d.Bun.NewSelect().
		Model((*models.SmartGroup)(nil)).
		Column("created_at").
		Where("creator_id = ?", creatorID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ---------------- MEMBERSHIPS ----------------

// GetActiveMembership → the caller's active membership row, nil when none.
func (d *DB) GetActiveMembership(ctx context.Context, groupID, userID string) (*models.SmartGroupMember, error) {
	var m models.SmartGroupMember
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
func (d *DB) ListActiveMembers(ctx context.Context, groupID string) ([]models.SmartGroupMember, error) {
	var members []models.SmartGroupMember
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
// one transaction.
func (d *DB) ApplyJoin(ctx context.Context, group *models.SmartGroup, member *models.SmartGroupMember) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model(group).
			Column("current_participants", "status", "full_credited", "updated_at").
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
// left, as one transaction. The row survives for provenance.
func (d *DB) ApplyLeave(ctx context.Context, group *models.SmartGroup, member *models.SmartGroupMember) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model(group).
			Column("current_participants", "status", "full_credited", "updated_at").
			Where("id = ?", group.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("update group aggregate: %w", err)
		}
		if _, err := tx.NewUpdate().
			Model(member).
			Column("status", "left_at").
			Where("id = ?", member.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("mark membership left: %w", err)
		}
		return nil
	})
}

// ---------------- SWEEP & DISCOVERY ----------------

// ExpireDue flips every group past its expiry that is still active or full
// to expired. Returns the number of groups flipped. Idempotent.
func (d *DB) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.SmartGroup)(nil)).
		Set("status = ?", models.SmartGroupStatusExpired).
		Set("updated_at = ?", now).
		Where("expires_at <= ?", now).
		Where("status IN (?)", bun.In([]string{
			models.SmartGroupStatusActive,
			models.SmartGroupStatusFull,
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

// BoxCandidates → all live groups whose coordinates fall inside the
// bounding box. Range predicates only; the caller refines by exact
// distance.
func (d *DB) BoxCandidates(ctx context.Context, box geo.BoundingBox, now time.Time) ([]models.SmartGroup, error) {
	var groups []models.SmartGroup
	err := d.Bun.NewSelect().
		Model(&groups).
		Where("status IN (?)", bun.In([]string{
			models.SmartGroupStatusActive,
			models.SmartGroupStatusFull,
		})).
		Where("expires_at > ?", now).
		Where("latitude >= ? AND latitude <= ?", box.MinLat, box.MaxLat).
		Where("longitude >= ? AND longitude <= ?", box.MinLon, box.MaxLon).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return groups, nil
}
