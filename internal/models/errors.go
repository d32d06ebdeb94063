package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the group services. Handlers match them with
// errors.Is to pick response codes.
var (
	ErrGroupNotFound      = errors.New("group not found")
	ErrInvalidInvite      = errors.New("invite code does not match this group")
	ErrAlreadyMember      = errors.New("user already has an active membership in this group")
	ErrNotAMember         = errors.New("user has no active membership in this group")
	ErrCreatorCannotLeave = errors.New("the creator cannot leave the group; dissolve it instead")
	ErrNotGroupOwner      = errors.New("caller does not own this group")
	ErrUnknownUser        = errors.New("unknown user")
	ErrOperatorRequired   = errors.New("tour operator role required")
)

// CapacityExceededError reports a join that would overshoot the group's seat
// limit. It carries the live numbers so clients can render the shortfall.
type CapacityExceededError struct {
	Current   int
	Max       int
	Requested int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d of %d seats taken, %d more requested", e.Current, e.Max, e.Requested)
}

// InvalidStateError rejects mutations on a group whose status is terminal or
// whose expiry has passed.
type InvalidStateError struct {
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("group is %s and no longer accepts changes", e.Status)
}

// TooManyActiveGroupsError rejects creation when the creator is already at
// the concurrent group limit.
type TooManyActiveGroupsError struct {
	Active int
	Limit  int
}

func (e *TooManyActiveGroupsError) Error() string {
	return fmt.Sprintf("creator already has %d active groups (limit %d)", e.Active, e.Limit)
}

// CooldownActiveError rejects creation inside the per-creator cooldown
// window and reports how long the caller still has to wait.
type CooldownActiveError struct {
	Remaining time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("group creation cooldown active, try again in %s", e.Remaining.Round(time.Minute))
}

// CodeGenerationError means every invite-code attempt collided with an
// existing code.
type CodeGenerationError struct {
	Attempts int
}

func (e *CodeGenerationError) Error() string {
	return fmt.Sprintf("could not generate a unique invite code after %d attempts", e.Attempts)
}
