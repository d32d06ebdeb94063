package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Smart group statuses. expired and completed are terminal.
const (
	SmartGroupStatusActive    = "active"
	SmartGroupStatusFull      = "full"
	SmartGroupStatusExpired   = "expired"
	SmartGroupStatusCompleted = "completed"
)

// SmartGroup is an ephemeral, geo-discoverable gathering group. It lives for
// a fixed window from creation and is discoverable by coordinates until it
// fills or expires.
type SmartGroup struct {
	bun.BaseModel `bun:"table:smart_groups"`

	ID                  string    `bun:"id,pk" json:"id"`
	CreatorID           string    `bun:"creator_id,notnull" json:"creator_id"`
	Name                string    `bun:"name,notnull" json:"name"`
	TourID              string    `bun:"tour_id,nullzero" json:"tour_id,omitempty"`
	ServiceID           string    `bun:"service_id,nullzero" json:"service_id,omitempty"`
	Latitude            float64   `bun:"latitude,notnull" json:"latitude"`
	Longitude           float64   `bun:"longitude,notnull" json:"longitude"`
	TargetParticipants  int       `bun:"target_participants,notnull" json:"target_participants"`
	CurrentParticipants int       `bun:"current_participants,notnull" json:"current_participants"`
	Status              string    `bun:"status,notnull" json:"status"`
	InviteCode          string    `bun:"invite_code,unique,notnull" json:"invite_code"`
	// FullCredited guards the creator's one-time completion credit: set
	// together with the transition into full, inside the same write.
	FullCredited bool      `bun:"full_credited,notnull,default:false" json:"-"`
	ExpiresAt    time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// SmartGroupMember records who is in a group and who brought them in.
// InvitedBy is empty for the creator's own row. Rows are kept after leaving.
type SmartGroupMember struct {
	bun.BaseModel `bun:"table:smart_group_members"`

	ID        string     `bun:"id,pk" json:"id"`
	GroupID   string     `bun:"group_id,notnull" json:"group_id"`
	UserID    string     `bun:"user_id,notnull" json:"user_id"`
	InvitedBy string     `bun:"invited_by,nullzero" json:"invited_by,omitempty"`
	Status    string     `bun:"status,notnull" json:"status"`
	JoinedAt  time.Time  `bun:"joined_at,notnull" json:"joined_at"`
	LeftAt    *time.Time `bun:"left_at,nullzero" json:"left_at,omitempty"`
}

// NearbySmartGroup decorates a group with its great-circle distance from the
// query point. Built in memory after the bounding-box fetch, never scanned.
type NearbySmartGroup struct {
	SmartGroup
	DistanceKm float64 `bun:"-" json:"distance_km"`
}

type CreateSmartGroupRequest struct {
	Name               string  `json:"name"`
	TourID             string  `json:"tour_id,omitempty"`
	ServiceID          string  `json:"service_id,omitempty"`
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	TargetParticipants int     `json:"target_participants"`
}

type JoinSmartGroupRequest struct {
	InviteCode string `json:"invite_code,omitempty"`
}

type SmartGroupResult struct {
	Group      *SmartGroup       `json:"group"`
	Membership *SmartGroupMember `json:"membership,omitempty"`
}

// SmartGroupDetail is the read-side view: the aggregate plus its active
// membership roster.
type SmartGroupDetail struct {
	Group   *SmartGroup        `json:"group"`
	Members []SmartGroupMember `json:"members"`
}
