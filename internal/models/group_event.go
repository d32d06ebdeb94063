package models

import (
	"time"

	"github.com/google/uuid"
)

// Group types carried on events so consumers can tell the two shapes apart.
const (
	GroupTypeBooking = "group_booking"
	GroupTypeSmart   = "smart_group"
)

// Kinds of membership-change events published on the group events topic and
// fanned out to SSE subscribers.
const (
	GroupEventCreated   = "group_created"
	GroupEventJoined    = "member_joined"
	GroupEventLeft      = "member_left"
	GroupEventFull      = "group_full"
	GroupEventClosed    = "group_closed"
	GroupEventCancelled = "group_cancelled"
	GroupEventDissolved = "group_dissolved"
)

// GroupEvent is the payload for every membership change. Participants and
// PricePerPerson reflect the aggregate after the change so clients can render
// without a follow-up query.
type GroupEvent struct {
	EventID        string    `json:"event_id"`
	Kind           string    `json:"kind"`
	GroupType      string    `json:"group_type"`
	GroupID        string    `json:"group_id"`
	UserID         string    `json:"user_id,omitempty"`
	Participants   int       `json:"participants"`
	PricePerPerson float64   `json:"price_per_person,omitempty"`
	Status         string    `json:"status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewGroupEvent stamps an event with a fresh id and the current time.
func NewGroupEvent(kind, groupType, groupID, userID string) GroupEvent {
	return GroupEvent{
		EventID:    uuid.NewString(),
		Kind:       kind,
		GroupType:  groupType,
		GroupID:    groupID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
}

// Reward actions credited through the rewards topic.
const (
	RewardActionBookingJoin     = "group_booking_join"
	RewardActionBookingFull     = "group_booking_full"
	RewardActionSmartGroupJoin  = "smart_group_join"
	RewardActionGroupCreated    = "smart_group_created"
	RewardActionMemberRecruited = "smart_group_member_recruited"
	RewardActionGroupCompleted  = "smart_group_completed"
)

// RewardCredit is the fire-and-forget credit request handed to the rewards
// ledger. Metadata is free-form context (group id, seats, price).
type RewardCredit struct {
	UserID     string            `json:"user_id"`
	Action     string            `json:"action"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
