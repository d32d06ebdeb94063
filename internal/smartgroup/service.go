package smartgroup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ms-grouping/internal/geo"
	"ms-grouping/internal/grouplock"
	"ms-grouping/internal/invites"
	"ms-grouping/internal/logger"
	"ms-grouping/internal/models"
	"ms-grouping/internal/pricing"

	"github.com/google/uuid"
)

type DBLayer interface {
	GetGroup(ctx context.Context, id string) (*models.SmartGroup, error)
	GetGroupByInviteCode(ctx context.Context, code string) (*models.SmartGroup, error)
	CreateGroupWithCreator(ctx context.Context, group *models.SmartGroup, creator *models.SmartGroupMember) error
	UpdateGroup(ctx context.Context, group *models.SmartGroup) error
	InviteCodeTaken(ctx context.Context, code string) (bool, error)
	CountOpenGroupsByCreator(ctx context.Context, creatorID string) (int, error)
	LatestCreationByCreator(ctx context.Context, creatorID string) (*time.Time, error)
	GetActiveMembership(ctx context.Context, groupID, userID string) (*models.SmartGroupMember, error)
	ListActiveMembers(ctx context.Context, groupID string) ([]models.SmartGroupMember, error)
	ApplyJoin(ctx context.Context, group *models.SmartGroup, member *models.SmartGroupMember) error
	ApplyLeave(ctx context.Context, group *models.SmartGroup, member *models.SmartGroupMember) error
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	BoxCandidates(ctx context.Context, box geo.BoundingBox, now time.Time) ([]models.SmartGroup, error)
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

// Policy bounds how fast a user can spin up groups and how long each lives.
// Both throttles read persisted state, so they hold across restarts.
type Policy struct {
	MaxActiveGroupsPerCreator int
	CreationCooldown          time.Duration
	GroupTTL                  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxActiveGroupsPerCreator: 3,
		CreationCooldown:          24 * time.Hour,
		GroupTTL:                  72 * time.Hour,
	}
}

// SmartGroupService coordinates ephemeral gathering groups: creation under
// per-creator throttles, invite or discovery joins under a per-group lease,
// geo lookup, and the expiry sweep.
type SmartGroupService struct {
	DB       DBLayer
	Lock     GroupLock
	Identity IdentityLayer
	Rewards  RewardPublisher
	Notify   Notifier
	Policy   Policy
	Logger   *logger.Logger
}

func NewSmartGroupService(db DBLayer, lock GroupLock, identity IdentityLayer, rewards RewardPublisher, notify Notifier, policy Policy, log *logger.Logger) *SmartGroupService {
	return &SmartGroupService{DB: db, Lock: lock, Identity: identity, Rewards: rewards, Notify: notify, Policy: policy, Logger: log}
}

func (s *SmartGroupService) CreateGroup(ctx context.Context, creatorID string, req models.CreateSmartGroupRequest) (*models.SmartGroupResult, error) {
	// Step 1: The creator must be a known user.
	user, err := s.Identity.GetUser(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("look up user %s: %w", creatorID, err)
	}
	if user == nil {
		return nil, models.ErrUnknownUser
	}

	// Step 2: Validate the group parameters.
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if req.TargetParticipants < 2 {
		return nil, fmt.Errorf("target_participants must be at least 2")
	}
	if req.Latitude < -90 || req.Latitude > 90 {
		return nil, fmt.Errorf("latitude must be between -90 and 90")
	}
	if req.Longitude < -180 || req.Longitude > 180 {
		return nil, fmt.Errorf("longitude must be between -180 and 180")
	}

	// Step 3: Per-creator throttles.
	active, err := s.DB.CountOpenGroupsByCreator(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("count active groups: %w", err)
	}
	if active >= s.Policy.MaxActiveGroupsPerCreator {
		return nil, &models.TooManyActiveGroupsError{Active: active, Limit: s.Policy.MaxActiveGroupsPerCreator}
	}

	last, err := s.DB.LatestCreationByCreator(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("read last creation time: %w", err)
	}
	if last != nil {
		if elapsed := time.Since(*last); elapsed < s.Policy.CreationCooldown {
			return nil, &models.CooldownActiveError{Remaining: s.Policy.CreationCooldown - elapsed}
		}
	}

	// Step 4: Reserve a shareable invite code.
	code, err := invites.Generate(ctx, invites.DefaultMaxAttempts, s.DB.InviteCodeTaken)
	if err != nil {
		return nil, fmt.Errorf("generate invite code: %w", err)
	}

	now := time.Now().UTC()
	group := &models.SmartGroup{
		ID:                  uuid.NewString(),
		CreatorID:           creatorID,
		Name:                req.Name,
		TourID:              req.TourID,
		ServiceID:           req.ServiceID,
		Latitude:            req.Latitude,
		Longitude:           req.Longitude,
		TargetParticipants:  req.TargetParticipants,
		CurrentParticipants: 1,
		Status:              models.SmartGroupStatusActive,
		InviteCode:          code,
		ExpiresAt:           now.Add(s.Policy.GroupTTL),
		CreatedAt:           now,
	}
	creator := &models.SmartGroupMember{
		ID:       uuid.NewString(),
		GroupID:  group.ID,
		UserID:   creatorID,
		Status:   models.MemberStatusActive,
		JoinedAt: now,
	}

	// Step 5: Persist the group and the creator's seat together.
	if err := s.DB.CreateGroupWithCreator(ctx, group, creator); err != nil {
		return nil, fmt.Errorf("create smart group: %w", err)
	}

	s.logGroup("CREATE", group.ID, fmt.Sprintf("%q by %s, target %d, expires %s",
		group.Name, creatorID, group.TargetParticipants, group.ExpiresAt.Format(time.RFC3339)))

	// Step 6: Fire-and-forget effects.
	s.credit(creatorID, models.RewardActionGroupCreated, map[string]string{"group_id": group.ID})
	s.publishChange(models.GroupEventCreated, group.ID, creatorID, &pricing.Result{
		Participants: 1,
		Status:       group.Status,
	})

	return &models.SmartGroupResult{Group: group, Membership: creator}, nil
}

// Join adds a user to a group, either by discovery or with an invite code.
// Expiry is re-checked under the lease so a join cannot slip into a group the
// sweep has not flipped yet.
func (s *SmartGroupService) Join(ctx context.Context, groupID, userID string, req models.JoinSmartGroupRequest) (*models.SmartGroupResult, error) {
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

	// Step 4: A group past its expiry is dead even if the sweep is behind.
	if !time.Now().Before(group.ExpiresAt) {
		return nil, &models.InvalidStateError{Status: models.SmartGroupStatusExpired}
	}

	// Step 5: A supplied invite code must match; one active membership per user.
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

	// Step 6: Recompute count and status for one more member.
	next, err := pricing.ApplySmartGroupDelta(group, 1)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	invitedBy := ""
	if req.InviteCode != "" {
		invitedBy = group.CreatorID
	}
	member := &models.SmartGroupMember{
		ID:        uuid.NewString(),
		GroupID:   group.ID,
		UserID:    userID,
		InvitedBy: invitedBy,
		Status:    models.MemberStatusActive,
		JoinedAt:  now,
	}

	creditFull := next.BecameFull && !group.FullCredited
	group.CurrentParticipants = next.Participants
	group.Status = next.Status
	if creditFull {
		group.FullCredited = true
	}
	group.UpdatedAt = now

	// Step 7: Persist aggregate and membership in one transaction.
	if err := s.DB.ApplyJoin(ctx, group, member); err != nil {
		return nil, fmt.Errorf("persist join: %w", err)
	}

	s.logGroup("JOIN", group.ID, fmt.Sprintf("user %s joined, now %d/%d", userID, next.Participants, group.TargetParticipants))

	// Step 8: Fire-and-forget effects. Joiner and creator are both credited.
	viaInvite := "false"
	if invitedBy != "" {
		viaInvite = "true"
	}
	s.credit(userID, models.RewardActionSmartGroupJoin, map[string]string{
		"group_id":   group.ID,
		"via_invite": viaInvite,
	})
	s.credit(group.CreatorID, models.RewardActionMemberRecruited, map[string]string{
		"group_id":  group.ID,
		"joined_by": userID,
	})
	s.publishChange(models.GroupEventJoined, group.ID, userID, next)

	if creditFull {
		s.credit(group.CreatorID, models.RewardActionGroupCompleted, map[string]string{"group_id": group.ID})
		s.publishChange(models.GroupEventFull, group.ID, "", next)
	}

	return &models.SmartGroupResult{Group: group, Membership: member}, nil
}

// Leave removes the caller from a group. The creator holds the founding seat
// and cannot leave; dissolving is the way out for them.
func (s *SmartGroupService) Leave(ctx context.Context, groupID, userID string) (*models.SmartGroupResult, error) {
	lease, err := s.Lock.Acquire(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer s.release(lease)

	group, err := s.DB.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.CreatorID == userID {
		return nil, models.ErrCreatorCannotLeave
	}

	member, err := s.DB.GetActiveMembership(ctx, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if member == nil {
		return nil, models.ErrNotAMember
	}

	next, err := pricing.ApplySmartGroupDelta(group, -1)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	member.Status = models.MemberStatusLeft
	member.LeftAt = &now

	group.CurrentParticipants = next.Participants
	group.Status = next.Status
	group.UpdatedAt = now

	if err := s.DB.ApplyLeave(ctx, group, member); err != nil {
		return nil, fmt.Errorf("persist leave: %w", err)
	}

	s.logGroup("LEAVE", group.ID, fmt.Sprintf("user %s left, now %d/%d", userID, next.Participants, group.TargetParticipants))

	s.publishChange(models.GroupEventLeft, group.ID, userID, next)

	return &models.SmartGroupResult{Group: group, Membership: member}, nil
}

// Dissolve ends a group early. Only the creator may dissolve, and the group
// moves to completed, which is terminal.
func (s *SmartGroupService) Dissolve(ctx context.Context, groupID, userID string) (*models.SmartGroup, error) {
	lease, err := s.Lock.Acquire(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer s.release(lease)

	group, err := s.DB.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.CreatorID != userID {
		return nil, models.ErrNotGroupOwner
	}
	if group.Status == models.SmartGroupStatusExpired || group.Status == models.SmartGroupStatusCompleted {
		return nil, &models.InvalidStateError{Status: group.Status}
	}

	group.Status = models.SmartGroupStatusCompleted
	group.UpdatedAt = time.Now().UTC()

	if err := s.DB.UpdateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("dissolve smart group: %w", err)
	}

	s.logGroup("DISSOLVE", group.ID, fmt.Sprintf("dissolved by creator %s with %d member(s)", userID, group.CurrentParticipants))

	s.publishChange(models.GroupEventDissolved, group.ID, userID, &pricing.Result{
		Participants: group.CurrentParticipants,
		Status:       group.Status,
	})

	return group, nil
}

// ExpireSweep flips every group past its expiry to expired. Idempotent and
// safe to run concurrently with joins: the predicate only matches due rows,
// and joins re-check expiry under their lease.
func (s *SmartGroupService) ExpireSweep(ctx context.Context) (int, error) {
	n, err := s.DB.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire due groups: %w", err)
	}
	return n, nil
}

// Nearby returns non-expired active/full groups within radiusKm of the given
// point, closest first. Lock-free: runs entirely outside the coordinator.
func (s *SmartGroupService) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]models.NearbySmartGroup, error) {
	if lat < -90 || lat > 90 {
		return nil, fmt.Errorf("latitude must be between -90 and 90")
	}
	if lon < -180 || lon > 180 {
		return nil, fmt.Errorf("longitude must be between -180 and 180")
	}
	if radiusKm <= 0 {
		return nil, fmt.Errorf("radius_km must be positive")
	}

	// Step 1: Cheap bounding-box prefilter in the store.
	box := geo.BoxAround(lat, lon, radiusKm)
	candidates, err := s.DB.BoxCandidates(ctx, box, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("fetch nearby candidates: %w", err)
	}

	// Step 2: Exact great-circle refine, then sort closest first.
	out := make([]models.NearbySmartGroup, 0, len(candidates))
	for _, g := range candidates {
		d := geo.DistanceKm(lat, lon, g.Latitude, g.Longitude)
		if d <= radiusKm {
			out = append(out, models.NearbySmartGroup{SmartGroup: g, DistanceKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })

	return out, nil
}

func (s *SmartGroupService) GetGroup(ctx context.Context, id string) (*models.SmartGroup, error) {
	return s.DB.GetGroup(ctx, id)
}

func (s *SmartGroupService) GetGroupByInviteCode(ctx context.Context, code string) (*models.SmartGroup, error) {
	return s.DB.GetGroupByInviteCode(ctx, code)
}

func (s *SmartGroupService) GetGroupDetail(ctx context.Context, id string) (*models.SmartGroupDetail, error) {
	group, err := s.DB.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.DB.ListActiveMembers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return &models.SmartGroupDetail{Group: group, Members: members}, nil
}

// ---------------- EFFECTS ----------------

func (s *SmartGroupService) release(lease *grouplock.Lease) {
	if err := s.Lock.Release(context.Background(), lease); err != nil {
		s.logError("LOCK", fmt.Sprintf("release lease for group %s: %v", lease.GroupID, err))
	}
}

func (s *SmartGroupService) credit(userID, action string, metadata map[string]string) {
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

func (s *SmartGroupService) publishChange(kind, groupID, userID string, res *pricing.Result) {
	event := models.NewGroupEvent(kind, models.GroupTypeSmart, groupID, userID)
	event.Participants = res.Participants
	event.Status = res.Status
	if err := s.Notify.MembershipChanged(event); err != nil {
		s.logError("EVENTS", fmt.Sprintf("publish %s for group %s: %v", kind, groupID, err))
	}
}

func (s *SmartGroupService) logGroup(action, groupID, message string) {
	if s.Logger != nil {
		s.Logger.LogGroup(action, groupID, message)
	}
}

func (s *SmartGroupService) logError(category, message string) {
	if s.Logger != nil {
		s.Logger.Error(category, message)
	}
}
