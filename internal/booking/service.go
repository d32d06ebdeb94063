package booking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ms-grouping/internal/grouplock"
	"ms-grouping/internal/invites"
	"ms-grouping/internal/logger"
	"ms-grouping/internal/models"
	"ms-grouping/internal/pricing"

	"github.com/google/uuid"
)

type DBLayer interface {
	GetGroup(ctx context.Context, id string) (*models.GroupBooking, error)
	GetGroupByInviteCode(ctx context.Context, code string) (*models.GroupBooking, error)
	CreateGroup(ctx context.Context, group *models.GroupBooking) error
	UpdateGroup(ctx context.Context, group *models.GroupBooking) error
	ListGroupsByTour(ctx context.Context, tourID string) ([]models.GroupBooking, error)
	InviteCodeTaken(ctx context.Context, code string) (bool, error)
	ClosePastGroups(ctx context.Context, now time.Time) (int, error)
	GetActiveMembership(ctx context.Context, groupID, userID string) (*models.GroupBookingMember, error)
	ListActiveMembers(ctx context.Context, groupID string) ([]models.GroupBookingMember, error)
	ApplyJoin(ctx context.Context, group *models.GroupBooking, member *models.GroupBookingMember) error
	ApplyLeave(ctx context.Context, group *models.GroupBooking, member *models.GroupBookingMember) error
}

type GroupLock interface {
	Acquire(ctx context.Context, groupID string) (*grouplock.Lease, error)
	Release(ctx context.Context, lease *grouplock.Lease) error
}

type IdentityLayer interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type RewardPublisher interface {
	Credit(credit models.RewardCredit) error
}

type Notifier interface {
	MembershipChanged(event models.GroupEvent) error
}

// Floor applied when the operator does not set one explicitly.
const defaultFloorShare = 0.6

// BookingService coordinates every mutation of a tour-slot group. Writes go
// through a per-group lease so concurrent joins against the last seats
// serialize instead of overbooking.
type BookingService struct {
	DB       DBLayer
	Lock     GroupLock
	Identity IdentityLayer
	Rewards  RewardPublisher
	Notify   Notifier
	Logger   *logger.Logger
}

func NewBookingService(db DBLayer, lock GroupLock, identity IdentityLayer, rewards RewardPublisher, notify Notifier, log *logger.Logger) *BookingService {
	return &BookingService{DB: db, Lock: lock, Identity: identity, Rewards: rewards, Notify: notify, Logger: log}
}

func (s *BookingService) CreateGroup(ctx context.Context, operatorID string, req models.CreateGroupBookingRequest) (*models.GroupBooking, error) {
	// Step 1: Only registered tour operators may open a slot.
	user, err := s.Identity.GetUser(ctx, operatorID)
	if err != nil {
		return nil, fmt.Errorf("look up operator %s: %w", operatorID, err)
	}
	if user == nil {
		return nil, models.ErrUnknownUser
	}
	if user.Role != models.RoleOperator {
		return nil, models.ErrOperatorRequired
	}

	// Step 2: Validate the slot parameters.
	if req.TourID == "" {
		return nil, fmt.Errorf("tour_id is required")
	}
	if req.TourDate.IsZero() || req.TourDate.Before(time.Now()) {
		return nil, fmt.Errorf("tour_date must be in the future")
	}
	if req.MaxParticipants < 1 {
		return nil, fmt.Errorf("max_participants must be at least 1")
	}
	if req.MinParticipants < 1 || req.MinParticipants > req.MaxParticipants {
		return nil, fmt.Errorf("min_participants must be between 1 and max_participants")
	}
	if req.BasePricePerPerson <= 0 {
		return nil, fmt.Errorf("base_price_per_person must be positive")
	}
	if req.DiscountStepPerHead < 0 {
		return nil, fmt.Errorf("discount_step_per_head cannot be negative")
	}
	floor := req.MinPriceFloor
	if floor == 0 {
		floor = req.BasePricePerPerson * defaultFloorShare
	}
	if floor < 0 || floor > req.BasePricePerPerson {
		return nil, fmt.Errorf("min_price_floor must be between 0 and the base price")
	}

	// Step 3: Reserve a shareable invite code.
	code, err := invites.Generate(ctx, invites.DefaultMaxAttempts, s.DB.InviteCodeTaken)
	if err != nil {
		return nil, fmt.Errorf("generate invite code: %w", err)
	}

	group := &models.GroupBooking{
		ID:                    uuid.NewString(),
		TourID:                req.TourID,
		OperatorID:            operatorID,
		TourDate:              req.TourDate,
		MaxParticipants:       req.MaxParticipants,
		MinParticipants:       req.MinParticipants,
		BasePricePerPerson:    req.BasePricePerPerson,
		CurrentPricePerPerson: req.BasePricePerPerson,
		DiscountStepPerHead:   req.DiscountStepPerHead,
		MinPriceFloor:         floor,
		CurrentParticipants:   0,
		Status:                models.BookingStatusOpen,
		InviteCode:            code,
		CreatedAt:             time.Now().UTC(),
	}

	if err := s.DB.CreateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("create group booking: %w", err)
	}

	s.logGroup("CREATE", group.ID, fmt.Sprintf("tour %s on %s, %d-%d seats at %.2f",
		group.TourID, group.TourDate.Format("2006-01-02"), group.MinParticipants, group.MaxParticipants, group.BasePricePerPerson))

	s.publishChange(models.GroupEventCreated, group.ID, operatorID, &pricing.Result{
		Participants:   0,
		PricePerPerson: group.BasePricePerPerson,
		Status:         group.Status,
	})

	return group, nil
}

// Join reserves seats for a user. The whole read-validate-write sequence runs
// under the group's lease, so the capacity check always sees the latest count.
func (s *BookingService) Join(ctx context.Context, groupID, userID string, req models.JoinGroupBookingRequest) (*models.BookingResult, error) {
	if req.Seats < 1 {
		return nil, fmt.Errorf("seats must be at least 1")
	}

	// Step 1: The joiner must be a known user.
	user, err := s.Identity.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("look up user %s: %w", userID, err)
	}
	if user == nil {
		return nil, models.ErrUnknownUser
	}

	// Step 2: Take the per-group lease.
	lease, err := s.Lock.Acquire(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer s.release(lease)

	// Step 3: Re-read the aggregate now that the lease is held.
	group, err := s.DB.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	// Step 4: A supplied invite code must match; one active membership per user.
	if req.InviteCode != "" && req.InviteCode != group.InviteCode {
		return nil, models.ErrInvalidInvite
	}
	existing, err := s.DB.GetActiveMembership(ctx, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if existing != nil {
		return nil, models.ErrAlreadyMember
	}

	// Step 5: Recompute count, price and status for the requested seats.
	next, err := pricing.ApplyBookingDelta(group, req.Seats)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	member := &models.GroupBookingMember{
		ID:          uuid.NewString(),
		GroupID:     group.ID,
		UserID:      userID,
		Seats:       req.Seats,
		PriceAtJoin: next.PricePerPerson,
		Status:      models.MemberStatusActive,
		JoinedAt:    now,
	}

	creditFull := next.BecameFull && !group.FullCredited
	group.CurrentParticipants = next.Participants
	group.CurrentPricePerPerson = next.PricePerPerson
	group.Status = next.Status
	if creditFull {
		group.FullCredited = true
	}
	group.UpdatedAt = now

	// Step 6: Persist aggregate and membership in one transaction.
	if err := s.DB.ApplyJoin(ctx, group, member); err != nil {
		return nil, fmt.Errorf("persist join: %w", err)
	}

	s.logGroup("JOIN", group.ID, fmt.Sprintf("user %s took %d seat(s), now %d/%d at %.2f",
		userID, req.Seats, next.Participants, group.MaxParticipants, next.PricePerPerson))

	// Step 7: Fire-and-forget effects. Failures are logged, never surfaced.
	s.credit(userID, models.RewardActionBookingJoin, map[string]string{
		"group_id":         group.ID,
		"seats":            strconv.Itoa(req.Seats),
		"price_per_person": strconv.FormatFloat(next.PricePerPerson, 'f', 2, 64),
	})
	s.publishChange(models.GroupEventJoined, group.ID, userID, next)

	if creditFull {
		s.credit(group.OperatorID, models.RewardActionBookingFull, map[string]string{"group_id": group.ID})
		s.publishChange(models.GroupEventFull, group.ID, "", next)
	}

	return &models.BookingResult{Group: group, Membership: member}, nil
}

// Leave cancels the caller's membership and releases all of its seats.
// Partial releases are rejected: seats must be zero or match the membership.
func (s *BookingService) Leave(ctx context.Context, groupID, userID string, seats int) (*models.BookingResult, error) {
	lease, err := s.Lock.Acquire(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer s.release(lease)

	group, err := s.DB.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	member, err := s.DB.GetActiveMembership(ctx, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if member == nil {
		return nil, models.ErrNotAMember
	}
	if seats != 0 && seats != member.Seats {
		return nil, fmt.Errorf("membership holds %d seat(s), partial release of %d is not supported", member.Seats, seats)
	}

	next, err := pricing.ApplyBookingDelta(group, -member.Seats)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	member.Status = models.MemberStatusCancelled
	member.CancelledAt = &now

	group.CurrentParticipants = next.Participants
	group.CurrentPricePerPerson = next.PricePerPerson
	group.Status = next.Status
	group.UpdatedAt = now

	if err := s.DB.ApplyLeave(ctx, group, member); err != nil {
		return nil, fmt.Errorf("persist leave: %w", err)
	}

	s.logGroup("LEAVE", group.ID, fmt.Sprintf("user %s released %d seat(s), %d remain at %.2f",
		userID, member.Seats, next.Participants, next.PricePerPerson))

	s.publishChange(models.GroupEventLeft, group.ID, userID, next)
	if next.Cancelled {
		s.publishChange(models.GroupEventCancelled, group.ID, "", next)
	}

	return &models.BookingResult{Group: group, Membership: member}, nil
}

// Close ends booking for a slot ahead of its tour date. Only the operator who
// opened the slot may close it.
func (s *BookingService) Close(ctx context.Context, groupID, operatorID string) (*models.GroupBooking, error) {
	lease, err := s.Lock.Acquire(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer s.release(lease)

	group, err := s.DB.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.OperatorID != operatorID {
		return nil, models.ErrNotGroupOwner
	}
	if group.Status == models.BookingStatusClosed || group.Status == models.BookingStatusCancelled {
		return nil, &models.InvalidStateError{Status: group.Status}
	}

	group.Status = models.BookingStatusClosed
	group.UpdatedAt = time.Now().UTC()

	if err := s.DB.UpdateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("close group booking: %w", err)
	}

	s.logGroup("CLOSE", group.ID, fmt.Sprintf("closed by operator %s with %d participant(s)", operatorID, group.CurrentParticipants))

	s.publishChange(models.GroupEventClosed, group.ID, "", &pricing.Result{
		Participants:   group.CurrentParticipants,
		PricePerPerson: group.CurrentPricePerPerson,
		Status:         group.Status,
	})

	return group, nil
}

// CloseDeparted bulk-closes slots whose tour date has passed. The sweeper
// calls this on a schedule; it needs no lease because the predicate only
// matches rows the coordinator would reject anyway once closed.
func (s *BookingService) CloseDeparted(ctx context.Context, now time.Time) (int, error) {
	n, err := s.DB.ClosePastGroups(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("close departed groups: %w", err)
	}
	return n, nil
}

func (s *BookingService) GetGroup(ctx context.Context, id string) (*models.GroupBooking, error) {
	return s.DB.GetGroup(ctx, id)
}

func (s *BookingService) GetGroupByInviteCode(ctx context.Context, code string) (*models.GroupBooking, error) {
	return s.DB.GetGroupByInviteCode(ctx, code)
}

func (s *BookingService) GetGroupDetail(ctx context.Context, id string) (*models.GroupBookingDetail, error) {
	group, err := s.DB.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.DB.ListActiveMembers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return &models.GroupBookingDetail{Group: group, Members: members}, nil
}

func (s *BookingService) ListGroupsByTour(ctx context.Context, tourID string) ([]models.GroupBooking, error) {
	return s.DB.ListGroupsByTour(ctx, tourID)
}

// ---------------- EFFECTS ----------------

func (s *BookingService) release(lease *grouplock.Lease) {
	if err := s.Lock.Release(context.Background(), lease); err != nil {
		s.logError("LOCK", fmt.Sprintf("release lease for group %s: %v", lease.GroupID, err))
	}
}

func (s *BookingService) credit(userID, action string, metadata map[string]string) {
	credit := models.RewardCredit{
		UserID:     userID,
		Action:     action,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.Rewards.Credit(credit); err != nil {
		s.logError("REWARDS", fmt.Sprintf("credit %s for user %s: %v", action, userID, err))
	}
}

func (s *BookingService) publishChange(kind, groupID, userID string, res *pricing.Result) {
	event := models.NewGroupEvent(kind, models.GroupTypeBooking, groupID, userID)
	event.Participants = res.Participants
	event.PricePerPerson = res.PricePerPerson
	event.Status = res.Status
	if err := s.Notify.MembershipChanged(event); err != nil {
		s.logError("EVENTS", fmt.Sprintf("publish %s for group %s: %v", kind, groupID, err))
	}
}

func (s *BookingService) logGroup(action, groupID, message string) {
	if s.Logger != nil {
		s.Logger.LogGroup(action, groupID, message)
	}
}

func (s *BookingService) logError(category, message string) {
	if s.Logger != nil {
		s.Logger.Error(category, message)
	}
}
