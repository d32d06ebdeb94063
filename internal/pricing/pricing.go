package pricing

import (
	"fmt"

	"ms-grouping/internal/models"
)

// Result represents the aggregate state recomputed after a seat delta. It is
// what the coordinator persists and what follow-up effects are derived from.
type Result struct {
	Participants   int     // Participant count after the change
	PricePerPerson float64 // Recalculated per-head price (group bookings only)
	Status         string  // Status after the change
	BecameFull     bool    // True exactly on the transition into full
	Cancelled      bool    // True when a leave emptied a group booking
}

// PricePerPerson applies the per-head discount ladder: every participant
// beyond the first knocks one step off the base price, down to the floor.
// The result never leaves the [floor, base] window, so leaving raises the
// price back up but never above base.
func PricePerPerson(base, step, floor float64, participants int) float64 {
	if participants < 1 {
		return base
	}
	price := base - float64(participants-1)*step
	if price < floor {
		price = floor
	}
	if price > base {
		price = base
	}
	return price
}

// ApplyBookingDelta computes the next aggregate for a tour-slot group after
// delta seats join (positive) or leave (negative). Pure: no clock, no I/O.
// The caller re-reads the group under its lock before calling this.
func ApplyBookingDelta(g *models.GroupBooking, delta int) (*Result, error) {
	if g.Status == models.BookingStatusClosed || g.Status == models.BookingStatusCancelled {
		return nil, &models.InvalidStateError{Status: g.Status}
	}

	newCount := g.CurrentParticipants + delta
	if newCount < 0 {
		return nil, fmt.Errorf("participant count cannot drop below zero (current %d, delta %d)", g.CurrentParticipants, delta)
	}
	if newCount > g.MaxParticipants {
		return nil, &models.CapacityExceededError{
			Current:   g.CurrentParticipants,
			Max:       g.MaxParticipants,
			Requested: delta,
		}
	}

	result := &Result{
		Participants:   newCount,
		PricePerPerson: PricePerPerson(g.BasePricePerPerson, g.DiscountStepPerHead, g.MinPriceFloor, newCount),
	}

	switch {
	case newCount == 0:
		// Only reachable on leave: the last participant walked away.
		result.Status = models.BookingStatusCancelled
		result.Cancelled = true
	case newCount >= g.MaxParticipants:
		result.Status = models.BookingStatusFull
	case newCount >= g.MinParticipants:
		result.Status = models.BookingStatusConfirmed
	default:
		result.Status = models.BookingStatusOpen
	}
	result.BecameFull = result.Status == models.BookingStatusFull && g.Status != models.BookingStatusFull

	return result, nil
}

// ApplySmartGroupDelta computes the next aggregate for an ephemeral group.
// Expiry is deliberately not evaluated here: the coordinator checks the
// clock against expires_at inside its locked section, and the sweep owns the
// expired transition.
func ApplySmartGroupDelta(g *models.SmartGroup, delta int) (*Result, error) {
	if g.Status == models.SmartGroupStatusExpired || g.Status == models.SmartGroupStatusCompleted {
		return nil, &models.InvalidStateError{Status: g.Status}
	}

	newCount := g.CurrentParticipants + delta
	if newCount < 1 {
		// The creator always holds one seat and cannot leave.
		return nil, fmt.Errorf("smart group cannot drop below its creator (current %d, delta %d)", g.CurrentParticipants, delta)
	}
	if newCount > g.TargetParticipants {
		return nil, &models.CapacityExceededError{
			Current:   g.CurrentParticipants,
			Max:       g.TargetParticipants,
			Requested: delta,
		}
	}

	result := &Result{Participants: newCount}
	if newCount >= g.TargetParticipants {
		result.Status = models.SmartGroupStatusFull
	} else {
		result.Status = models.SmartGroupStatusActive
	}
	result.BecameFull = result.Status == models.SmartGroupStatusFull && g.Status != models.SmartGroupStatusFull

	return result, nil
}
