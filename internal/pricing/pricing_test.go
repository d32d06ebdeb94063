package pricing

import (
	"testing"

	"ms-grouping/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBooking() *models.GroupBooking {
	return &models.GroupBooking{
		ID:                    "gb-1",
		MaxParticipants:       6,
		MinParticipants:       3,
		BasePricePerPerson:    50,
		CurrentPricePerPerson: 50,
		DiscountStepPerHead:   5,
		MinPriceFloor:         30,
		CurrentParticipants:   0,
		Status:                models.BookingStatusOpen,
	}
}

func TestPricePerPerson_Ladder(t *testing.T) {
	cases := []struct {
		participants int
		want         float64
	}{
		{0, 50},
		{1, 50},
		{2, 45},
		{3, 40},
		{4, 35},
		{5, 30},
		{6, 30}, // (6-1)*5 = 25 off would land at 25, clamped to the floor
	}

	for _, c := range cases {
		got := PricePerPerson(50, 5, 30, c.participants)
		assert.Equal(t, c.want, got, "participants=%d", c.participants)
	}
}

func TestPricePerPerson_NeverAboveBase(t *testing.T) {
	// A negative step would push the price up; the base caps it.
	assert.Equal(t, 50.0, PricePerPerson(50, -5, 30, 4))
}

func TestApplyBookingDelta_JoinSequence(t *testing.T) {
	g := testBooking()

	wantPrices := []float64{50, 45, 40, 35}
	wantStatuses := []string{
		models.BookingStatusOpen,
		models.BookingStatusOpen,
		models.BookingStatusConfirmed,
		models.BookingStatusConfirmed,
	}

	for i := 0; i < 4; i++ {
		res, err := ApplyBookingDelta(g, 1)
		require.NoError(t, err)
		assert.Equal(t, i+1, res.Participants)
		assert.Equal(t, wantPrices[i], res.PricePerPerson)
		assert.Equal(t, wantStatuses[i], res.Status)
		assert.False(t, res.BecameFull)

		g.CurrentParticipants = res.Participants
		g.CurrentPricePerPerson = res.PricePerPerson
		g.Status = res.Status
	}
}

func TestApplyBookingDelta_FullAtCapacity(t *testing.T) {
	g := testBooking()
	g.CurrentParticipants = 4
	g.Status = models.BookingStatusConfirmed

	res, err := ApplyBookingDelta(g, 2)
	require.NoError(t, err)

	assert.Equal(t, 6, res.Participants)
	assert.Equal(t, models.BookingStatusFull, res.Status)
	assert.Equal(t, 30.0, res.PricePerPerson) // 50 - 25 clamped to the floor
	assert.True(t, res.BecameFull)
}

func TestApplyBookingDelta_BecameFullOnlyOnTransition(t *testing.T) {
	g := testBooking()
	g.CurrentParticipants = 5
	g.Status = models.BookingStatusConfirmed

	res, err := ApplyBookingDelta(g, 1)
	require.NoError(t, err)
	assert.True(t, res.BecameFull)

	// Already full: a leave back down and re-join would transition again,
	// but applying a zero delta to a full group must not re-flag it.
	g.CurrentParticipants = res.Participants
	g.Status = res.Status
	res2, err := ApplyBookingDelta(g, 0)
	require.NoError(t, err)
	assert.False(t, res2.BecameFull)
}

func TestApplyBookingDelta_LeaveRestoresPrice(t *testing.T) {
	g := testBooking()
	g.CurrentParticipants = 4
	g.CurrentPricePerPerson = 35
	g.Status = models.BookingStatusConfirmed

	res, err := ApplyBookingDelta(g, -1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Participants)
	assert.Equal(t, 40.0, res.PricePerPerson)
	assert.Equal(t, models.BookingStatusConfirmed, res.Status)

	res, err = ApplyBookingDelta(&models.GroupBooking{
		MaxParticipants:     6,
		MinParticipants:     3,
		BasePricePerPerson:  50,
		DiscountStepPerHead: 5,
		MinPriceFloor:       30,
		CurrentParticipants: 2,
		Status:              models.BookingStatusOpen,
	}, -1)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusOpen, res.Status)
	assert.Equal(t, 50.0, res.PricePerPerson)
}

func TestApplyBookingDelta_LastLeaveCancels(t *testing.T) {
	g := testBooking()
	g.CurrentParticipants = 1
	g.Status = models.BookingStatusOpen

	res, err := ApplyBookingDelta(g, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Participants)
	assert.Equal(t, models.BookingStatusCancelled, res.Status)
	assert.True(t, res.Cancelled)
}

func TestApplyBookingDelta_TerminalRejected(t *testing.T) {
	for _, status := range []string{models.BookingStatusClosed, models.BookingStatusCancelled} {
		g := testBooking()
		g.Status = status

		_, err := ApplyBookingDelta(g, 1)
		var stateErr *models.InvalidStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, status, stateErr.Status)
	}
}

func TestApplyBookingDelta_Overshoot(t *testing.T) {
	g := testBooking()
	g.CurrentParticipants = 5
	g.Status = models.BookingStatusConfirmed

	_, err := ApplyBookingDelta(g, 2)
	var capErr *models.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 5, capErr.Current)
	assert.Equal(t, 6, capErr.Max)
	assert.Equal(t, 2, capErr.Requested)
}

func TestApplyBookingDelta_Underflow(t *testing.T) {
	g := testBooking()
	g.CurrentParticipants = 1

	_, err := ApplyBookingDelta(g, -2)
	require.Error(t, err)
}

func TestApplySmartGroupDelta_Transitions(t *testing.T) {
	g := &models.SmartGroup{
		ID:                  "sg-1",
		TargetParticipants:  4,
		CurrentParticipants: 1,
		Status:              models.SmartGroupStatusActive,
	}

	res, err := ApplySmartGroupDelta(g, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Participants)
	assert.Equal(t, models.SmartGroupStatusActive, res.Status)
	assert.False(t, res.BecameFull)

	g.CurrentParticipants = 3
	res, err = ApplySmartGroupDelta(g, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SmartGroupStatusFull, res.Status)
	assert.True(t, res.BecameFull)
}

func TestApplySmartGroupDelta_LeaveReopens(t *testing.T) {
	g := &models.SmartGroup{
		TargetParticipants:  4,
		CurrentParticipants: 4,
		Status:              models.SmartGroupStatusFull,
	}

	res, err := ApplySmartGroupDelta(g, -1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Participants)
	assert.Equal(t, models.SmartGroupStatusActive, res.Status)
	assert.False(t, res.BecameFull)
}

func TestApplySmartGroupDelta_Overshoot(t *testing.T) {
	g := &models.SmartGroup{
		TargetParticipants:  4,
		CurrentParticipants: 4,
		Status:              models.SmartGroupStatusFull,
	}

	_, err := ApplySmartGroupDelta(g, 1)
	var capErr *models.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 4, capErr.Current)
	assert.Equal(t, 4, capErr.Max)
}

func TestApplySmartGroupDelta_TerminalRejected(t *testing.T) {
	for _, status := range []string{models.SmartGroupStatusExpired, models.SmartGroupStatusCompleted} {
		g := &models.SmartGroup{
			TargetParticipants:  4,
			CurrentParticipants: 2,
			Status:              status,
		}

		_, err := ApplySmartGroupDelta(g, 1)
		var stateErr *models.InvalidStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, status, stateErr.Status)
	}
}

func TestApplySmartGroupDelta_CreatorSeatProtected(t *testing.T) {
	g := &models.SmartGroup{
		TargetParticipants:  4,
		CurrentParticipants: 1,
		Status:              models.SmartGroupStatusActive,
	}

	_, err := ApplySmartGroupDelta(g, -1)
	require.Error(t, err)
}
