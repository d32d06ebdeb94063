package booking

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	bookingdb "ms-grouping/internal/booking/db"
	"ms-grouping/internal/grouplock"
	"ms-grouping/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type allowAllIdentity struct{}

func (allowAllIdentity) GetUser(ctx context.Context, id string) (*models.User, error) {
	return &models.User{ID: id, Role: models.RoleUser}, nil
}

type countingRewards struct {
	mu      sync.Mutex
	credits []models.RewardCredit
}

func (c *countingRewards) Credit(credit models.RewardCredit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credits = append(c.credits, credit)
	return nil
}

type countingNotifier struct {
	mu     sync.Mutex
	events []models.GroupEvent
}

func (c *countingNotifier) MembershipChanged(event models.GroupEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

// Eight racing 1-seat joins against six free seats: the lease must serialize
// them into exactly six wins, two capacity rejections and zero overshoot.
func TestJoin_NoLostUpdatesUnderContention(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	lock := grouplock.New(client, grouplock.Options{
		TTL:         5 * time.Second,
		AcquireWait: 10 * time.Second,
		RetryDelay:  2 * time.Millisecond,
	})

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	defer bunDB.Close()
	require.NoError(t, bookingdb.CreateTables(context.Background(), bunDB))
	store := &bookingdb.DB{Bun: bunDB}

	group := &models.GroupBooking{
		ID:                    uuid.NewString(),
		TourID:                "tour-colosseum",
		OperatorID:            "op-1",
		TourDate:              time.Now().Add(48 * time.Hour),
		MaxParticipants:       6,
		MinParticipants:       3,
		BasePricePerPerson:    50,
		CurrentPricePerPerson: 50,
		DiscountStepPerHead:   5,
		MinPriceFloor:         30,
		Status:                models.BookingStatusOpen,
		InviteCode:            "RACE0001",
		CreatedAt:             time.Now().UTC(),
	}
	require.NoError(t, store.CreateGroup(context.Background(), group))

	rewards := &countingRewards{}
	notify := &countingNotifier{}
	svc := NewBookingService(store, lock, allowAllIdentity{}, rewards, notify, nil)

	const contenders = 8

	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make(chan error, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			_, err := svc.Join(context.Background(), group.ID, fmt.Sprintf("user-%d", n), models.JoinGroupBookingRequest{Seats: 1})
			results <- err
		}(i)
	}

	close(start)
	wg.Wait()
	close(results)

	successes, capacityRejected := 0, 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var capErr *models.CapacityExceededError
		require.ErrorAs(t, err, &capErr, "only capacity rejections are acceptable under contention")
		capacityRejected++
	}

	assert.Equal(t, 6, successes)
	assert.Equal(t, 2, capacityRejected)

	final, err := store.GetGroup(context.Background(), group.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, final.CurrentParticipants)
	assert.Equal(t, models.BookingStatusFull, final.Status)
	assert.Equal(t, 30.0, final.CurrentPricePerPerson)
	assert.True(t, final.FullCredited)

	members, err := store.ListActiveMembers(context.Background(), group.ID)
	require.NoError(t, err)
	assert.Len(t, members, 6)

	rewards.mu.Lock()
	defer rewards.mu.Unlock()
	fullCredits := 0
	for _, c := range rewards.credits {
		if c.Action == models.RewardActionBookingFull {
			fullCredits++
		}
	}
	assert.Equal(t, 1, fullCredits, "operator completion credit fires exactly once")
}
