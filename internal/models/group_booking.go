package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Group booking statuses. closed and cancelled are terminal: once a booking
// reaches either, every further join/leave is rejected.
const (
	BookingStatusOpen      = "open"
	BookingStatusConfirmed = "confirmed"
	BookingStatusFull      = "full"
	BookingStatusClosed    = "closed"
	BookingStatusCancelled = "cancelled"
)

// Membership record statuses.
const (
	MemberStatusActive    = "active"
	MemberStatusCancelled = "cancelled"
	MemberStatusLeft      = "left"
)

// GroupBooking is one guided-tour time slot that fills incrementally.
// current_participants, current_price_per_person and status are only ever
// written inside the coordinator's locked transaction.
type GroupBooking struct {
	bun.BaseModel `bun:"table:group_bookings"`

	ID                    string    `bun:"id,pk" json:"id"`
	TourID                string    `bun:"tour_id,notnull" json:"tour_id"`
	OperatorID            string    `bun:"operator_id,notnull" json:"operator_id"`
	TourDate              time.Time `bun:"tour_date,notnull" json:"tour_date"`
	MaxParticipants       int       `bun:"max_participants,notnull" json:"max_participants"`
	MinParticipants       int       `bun:"min_participants,notnull" json:"min_participants"`
	BasePricePerPerson    float64   `bun:"base_price_per_person,notnull" json:"base_price_per_person"`
	CurrentPricePerPerson float64   `bun:"current_price_per_person,notnull" json:"current_price_per_person"`
	DiscountStepPerHead   float64   `bun:"discount_step_per_head,notnull" json:"discount_step_per_head"`
	MinPriceFloor         float64   `bun:"min_price_floor,notnull" json:"min_price_floor"`
	CurrentParticipants   int       `bun:"current_participants,notnull" json:"current_participants"`
	Status                string    `bun:"status,notnull" json:"status"`
	InviteCode            string    `bun:"invite_code,unique,notnull" json:"invite_code"`
	// FullCredited guards the one-time completion credit: set together with
	// the transition into full, inside the same aggregate write.
	FullCredited bool      `bun:"full_credited,notnull,default:false" json:"-"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// GroupBookingMember is the per-participant booking row. It locks in the
// per-head price at join time and is never hard-deleted: leaving marks it
// cancelled so the audit trail survives.
type GroupBookingMember struct {
	bun.BaseModel `bun:"table:group_booking_members"`

	ID          string     `bun:"id,pk" json:"id"`
	GroupID     string     `bun:"group_id,notnull" json:"group_id"`
	UserID      string     `bun:"user_id,notnull" json:"user_id"`
	Seats       int        `bun:"seats,notnull" json:"seats"`
	PriceAtJoin float64    `bun:"price_at_join,notnull" json:"price_at_join"`
	Status      string     `bun:"status,notnull" json:"status"`
	JoinedAt    time.Time  `bun:"joined_at,notnull" json:"joined_at"`
	CancelledAt *time.Time `bun:"cancelled_at,nullzero" json:"cancelled_at,omitempty"`
}

type CreateGroupBookingRequest struct {
	TourID              string    `json:"tour_id"`
	TourDate            time.Time `json:"tour_date"`
	MaxParticipants     int       `json:"max_participants"`
	MinParticipants     int       `json:"min_participants"`
	BasePricePerPerson  float64   `json:"base_price_per_person"`
	DiscountStepPerHead float64   `json:"discount_step_per_head"`
	// Optional; defaults to 60% of the base price when zero.
	MinPriceFloor float64 `json:"min_price_floor,omitempty"`
}

type JoinGroupBookingRequest struct {
	Seats int `json:"seats"`
	// Optional; validated against the group's code when supplied.
	InviteCode string `json:"invite_code,omitempty"`
}

// BookingResult is what join/leave return to callers: the recomputed group
// aggregate plus the membership row the operation touched.
type BookingResult struct {
	Group      *GroupBooking       `json:"group"`
	Membership *GroupBookingMember `json:"membership"`
}

// GroupBookingDetail is the read-side view: the aggregate plus its active
// membership roster.
type GroupBookingDetail struct {
	Group   *GroupBooking        `json:"group"`
	Members []GroupBookingMember `json:"members"`
}
