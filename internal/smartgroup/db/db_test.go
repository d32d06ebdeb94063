package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ms-grouping/internal/geo"
	"ms-grouping/internal/models"
	"ms-grouping/internal/smartgroup/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	// One connection only: every pool connection to :memory: would otherwise
	// get its own empty database.
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	if err := db.CreateTables(context.Background(), bunDB); err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}

	return &db.DB{Bun: bunDB}, bunDB
}

func testGroup(creatorID, code string) (*models.SmartGroup, *models.SmartGroupMember) {
	now := time.Now()
	group := &models.SmartGroup{
		ID:                  uuid.NewString(),
		CreatorID:           creatorID,
		Name:                "Aperitivo by the river",
		Latitude:            41.90,
		Longitude:           12.49,
		TargetParticipants:  4,
		CurrentParticipants: 1,
		Status:              models.SmartGroupStatusActive,
		InviteCode:          code,
		ExpiresAt:           now.Add(72 * time.Hour),
		CreatedAt:           now,
	}
	creator := &models.SmartGroupMember{
		ID:       uuid.NewString(),
		GroupID:  group.ID,
		UserID:   creatorID,
		Status:   models.MemberStatusActive,
		JoinedAt: now,
	}
	return group, creator
}

func TestCreateGroupWithCreator(t *testing.T) {
	groupDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	group, creator := testGroup("user-1", "RIVA2345")
	require.NoError(t, groupDB.CreateGroupWithCreator(ctx, group, creator))

	got, err := groupDB.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentParticipants)

	m, err := groupDB.GetActiveMembership(ctx, group.ID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Empty(t, m.InvitedBy, "creator has no inviter")
}

func TestGetGroup_NotFound(t *testing.T) {
	groupDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	_, err := groupDB.GetGroup(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrGroupNotFound)
}

func TestCreatorThrottleQueries(t *testing.T) {
	groupDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	// No groups yet: zero open, no latest creation.
	n, err := groupDB.CountOpenGroupsByCreator(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	latest, err := groupDB.LatestCreationByCreator(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	first, creator := testGroup("user-1", "AAAA2345")
	first.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, groupDB.CreateGroupWithCreator(ctx, first, creator))

	second, creator2 := testGroup("user-1", "BBBB2345")
	second.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, groupDB.CreateGroupWithCreator(ctx, second, creator2))

	expired, creator3 := testGroup("user-1", "CCCC2345")
	expired.Status = models.SmartGroupStatusExpired
	require.NoError(t, groupDB.CreateGroupWithCreator(ctx, expired, creator3))

	// Expired groups do not count against the concurrent limit.
	n, err = groupDB.CountOpenGroupsByCreator(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Latest creation is the newest created_at, whatever its status.
	latest, err = groupDB.LatestCreationByCreator(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.WithinDuration(t, expired.CreatedAt, *latest, time.Second)
}

func TestApplyJoinAndLeave(t *testing.T) {
	groupDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	group, creator := testGroup("user-1", "JOIN2345")
	require.NoError(t, groupDB.CreateGroupWithCreator(ctx, group, creator))

	member := &models.SmartGroupMember{
		ID:        uuid.NewString(),
		GroupID:   group.ID,
		UserID:    "user-2",
		InvitedBy: "user-1",
		Status:    models.MemberStatusActive,
		JoinedAt:  time.Now(),
	}
	group.CurrentParticipants = 2
	require.NoError(t, groupDB.ApplyJoin(ctx, group, member))

	got, err := groupDB.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentParticipants)

	m, err := groupDB.GetActiveMembership(ctx, group.ID, "user-2")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "user-1", m.InvitedBy)

	// Leave keeps the row with status left.
	now := time.Now()
	group.CurrentParticipants = 1
	member.Status = models.MemberStatusLeft
	member.LeftAt = &now
	require.NoError(t, groupDB.ApplyLeave(ctx, group, member))

	m, err = groupDB.GetActiveMembership(ctx, group.ID, "user-2")
	require.NoError(t, err)
	assert.Nil(t, m)

	var rows []models.SmartGroupMember
	err = bunDB.NewSelect().Model(&rows).Where("group_id = ? AND user_id = ?", group.ID, "user-2").Scan(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.MemberStatusLeft, rows[0].Status)
}

func TestExpireDue_Idempotent(t *testing.T) {
	groupDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	overdue, creator := testGroup("user-1", "OVER2345")
	overdue.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, groupDB.CreateGroupWithCreator(ctx, overdue, creator))

	overdueFull, creator2 := testGroup("user-2", "OVRF2345")
	overdueFull.ExpiresAt = time.Now().Add(-time.Minute)
	overdueFull.Status = models.SmartGroupStatusFull
	require.NoError(t, groupDB.CreateGroupWithCreator(ctx, overdueFull, creator2))

	alive, creator3 := testGroup("user-3", "LIVE2345")
	require.NoError(t, groupDB.CreateGroupWithCreator(ctx, alive, creator3))

	n, err := groupDB.ExpireDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := groupDB.GetGroup(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SmartGroupStatusExpired, got.Status)

	got, err = groupDB.GetGroup(ctx, alive.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SmartGroupStatusActive, got.Status)

	// Second run touches nothing.
	n, err = groupDB.ExpireDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBoxCandidates(t *testing.T) {
	groupDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	inside, creator := testGroup("user-1", "INSD2345")
	require.NoError(t, groupDB.CreateGroupWithCreator(ctx, inside, creator))

	outside, creator2 := testGroup("user-2", "OUTS2345")
	outside.Latitude = 45.46 // Milan, far outside a 10 km Rome box
	outside.Longitude = 9.19
	require.NoError(t, groupDB.CreateGroupWithCreator(ctx, outside, creator2))

	expired, creator3 := testGroup("user-3", "EXPD2345")
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, groupDB.CreateGroupWithCreator(ctx, expired, creator3))

	completed, creator4 := testGroup("user-4", "COMP2345")
	completed.Status = models.SmartGroupStatusCompleted
	require.NoError(t, groupDB.CreateGroupWithCreator(ctx, completed, creator4))

	box := geo.BoxAround(41.90, 12.49, 10)
	candidates, err := groupDB.BoxCandidates(ctx, box, time.Now())
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, inside.ID, candidates[0].ID)
}
