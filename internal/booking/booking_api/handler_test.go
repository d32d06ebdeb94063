package booking_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-grouping/internal/auth"
	"ms-grouping/internal/booking"
	"ms-grouping/internal/grouplock"
	"ms-grouping/internal/invites"
	"ms-grouping/internal/logger"
	"ms-grouping/internal/models"
)

// Mock implementations for testing

type mockDB struct {
	groups  map[string]*models.GroupBooking
	members []*models.GroupBookingMember
}

func newMockDB() *mockDB {
	return &mockDB{groups: make(map[string]*models.GroupBooking)}
}

func (m *mockDB) GetGroup(ctx context.Context, id string) (*models.GroupBooking, error) {
	g, ok := m.groups[id]
	if !ok {
		return nil, models.ErrGroupNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *mockDB) GetGroupByInviteCode(ctx context.Context, code string) (*models.GroupBooking, error) {
	for _, g := range m.groups {
		if g.InviteCode == code {
			cp := *g
			return &cp, nil
		}
	}
	return nil, models.ErrGroupNotFound
}

func (m *mockDB) CreateGroup(ctx context.Context, group *models.GroupBooking) error {
	cp := *group
	m.groups[group.ID] = &cp
	return nil
}

func (m *mockDB) UpdateGroup(ctx context.Context, group *models.GroupBooking) error {
	cp := *group
	m.groups[group.ID] = &cp
	return nil
}

func (m *mockDB) ListGroupsByTour(ctx context.Context, tourID string) ([]models.GroupBooking, error) {
	var out []models.GroupBooking
	for _, g := range m.groups {
		if g.TourID == tourID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *mockDB) InviteCodeTaken(ctx context.Context, code string) (bool, error) {
	for _, g := range m.groups {
		if g.InviteCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockDB) ClosePastGroups(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (m *mockDB) GetActiveMembership(ctx context.Context, groupID, userID string) (*models.GroupBookingMember, error) {
	for _, mem := range m.members {
		if mem.GroupID == groupID && mem.UserID == userID && mem.Status == models.MemberStatusActive {
			cp := *mem
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockDB) ListActiveMembers(ctx context.Context, groupID string) ([]models.GroupBookingMember, error) {
	var out []models.GroupBookingMember
	for _, mem := range m.members {
		if mem.GroupID == groupID && mem.Status == models.MemberStatusActive {
			out = append(out, *mem)
		}
	}
	return out, nil
}

func (m *mockDB) ApplyJoin(ctx context.Context, group *models.GroupBooking, member *models.GroupBookingMember) error {
	gcp := *group
	m.groups[group.ID] = &gcp
	mcp := *member
	m.members = append(m.members, &mcp)
	return nil
}

func (m *mockDB) ApplyLeave(ctx context.Context, group *models.GroupBooking, member *models.GroupBookingMember) error {
	gcp := *group
	m.groups[group.ID] = &gcp
	for i, mem := range m.members {
		if mem.ID == member.ID {
			mcp := *member
			m.members[i] = &mcp
		}
	}
	return nil
}

type mockLock struct {
	failErr error
}

func (m *mockLock) Acquire(ctx context.Context, groupID string) (*grouplock.Lease, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	return &grouplock.Lease{GroupID: groupID, Token: "test-token"}, nil
}

func (m *mockLock) Release(ctx context.Context, lease *grouplock.Lease) error {
	return nil
}

type mockIdentity struct {
	users map[string]*models.User
}

func (m *mockIdentity) GetUser(ctx context.Context, id string) (*models.User, error) {
	return m.users[id], nil
}

type mockRewards struct{}

func (m *mockRewards) Credit(credit models.RewardCredit) error { return nil }

type mockNotifier struct{}

func (m *mockNotifier) MembershipChanged(event models.GroupEvent) error { return nil }

func setupRouter() (chi.Router, *mockDB, *mockLock) {
	db := newMockDB()
	lock := &mockLock{}
	identity := &mockIdentity{users: map[string]*models.User{
		"op-1":   {ID: "op-1", Role: models.RoleOperator},
		"user-1": {ID: "user-1", Role: models.RoleUser},
		"user-2": {ID: "user-2", Role: models.RoleUser},
	}}

	svc := booking.NewBookingService(db, lock, identity, &mockRewards{}, &mockNotifier{}, nil)
	h := NewHandler(svc, invites.NewQRGenerator("https://app.example.com"), logger.NewTerminalLogger())

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return r, db, lock
}

func seedGroup(db *mockDB) *models.GroupBooking {
	g := &models.GroupBooking{
		ID:                    "group-1",
		TourID:                "tour-rome",
		OperatorID:            "op-1",
		TourDate:              time.Now().Add(48 * time.Hour),
		MaxParticipants:       6,
		MinParticipants:       3,
		BasePricePerPerson:    50,
		CurrentPricePerPerson: 50,
		DiscountStepPerHead:   5,
		MinPriceFloor:         30,
		Status:                models.BookingStatusOpen,
		InviteCode:            "ROME2026",
		CreatedAt:             time.Now(),
	}
	db.groups[g.ID] = g
	return g
}

func doRequest(router chi.Router, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req = req.WithContext(auth.WithUserID(req.Context(), userID))
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateGroupEndpoint(t *testing.T) {
	router, _, _ := setupRouter()

	rec := doRequest(router, http.MethodPost, "/api/group-bookings", "op-1", models.CreateGroupBookingRequest{
		TourID:              "tour-rome",
		TourDate:            time.Now().Add(72 * time.Hour),
		MaxParticipants:     6,
		MinParticipants:     3,
		BasePricePerPerson:  50,
		DiscountStepPerHead: 5,
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Success bool                `json:"success"`
		Data    models.GroupBooking `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "tour-rome", resp.Data.TourID)
	assert.Len(t, resp.Data.InviteCode, invites.CodeLength)
}

func TestCreateGroupEndpoint_NonOperator(t *testing.T) {
	router, _, _ := setupRouter()

	rec := doRequest(router, http.MethodPost, "/api/group-bookings", "user-1", models.CreateGroupBookingRequest{
		TourID:             "tour-rome",
		TourDate:           time.Now().Add(72 * time.Hour),
		MaxParticipants:    6,
		MinParticipants:    3,
		BasePricePerPerson: 50,
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateGroupEndpoint_BadParameters(t *testing.T) {
	router, _, _ := setupRouter()

	rec := doRequest(router, http.MethodPost, "/api/group-bookings", "op-1", models.CreateGroupBookingRequest{
		TourID:             "tour-rome",
		TourDate:           time.Now().Add(72 * time.Hour),
		MaxParticipants:    0,
		MinParticipants:    3,
		BasePricePerPerson: 50,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "max_participants")
}

func TestJoinEndpoint(t *testing.T) {
	router, db, _ := setupRouter()
	seedGroup(db)

	rec := doRequest(router, http.MethodPost, "/api/group-bookings/group-1/join", "user-1",
		models.JoinGroupBookingRequest{Seats: 2})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool                 `json:"success"`
		Data    models.BookingResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Group.CurrentParticipants)
	assert.Equal(t, 2, resp.Data.Membership.Seats)
	assert.InDelta(t, 45.0, resp.Data.Group.CurrentPricePerPerson, 0.001)
}

func TestJoinEndpoint_UnknownGroup(t *testing.T) {
	router, _, _ := setupRouter()

	rec := doRequest(router, http.MethodPost, "/api/group-bookings/ghost/join", "user-1",
		models.JoinGroupBookingRequest{Seats: 1})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJoinEndpoint_CapacityConflict(t *testing.T) {
	router, db, _ := setupRouter()
	g := seedGroup(db)
	g.CurrentParticipants = 6
	g.Status = models.BookingStatusFull

	rec := doRequest(router, http.MethodPost, "/api/group-bookings/group-1/join", "user-1",
		models.JoinGroupBookingRequest{Seats: 1})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJoinEndpoint_WrongInviteCode(t *testing.T) {
	router, db, _ := setupRouter()
	seedGroup(db)

	rec := doRequest(router, http.MethodPost, "/api/group-bookings/group-1/join", "user-1",
		models.JoinGroupBookingRequest{Seats: 1, InviteCode: "WRONG123"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJoinEndpoint_LockTimeout(t *testing.T) {
	router, db, lock := setupRouter()
	seedGroup(db)
	lock.failErr = grouplock.ErrLockTimeout

	rec := doRequest(router, http.MethodPost, "/api/group-bookings/group-1/join", "user-1",
		models.JoinGroupBookingRequest{Seats: 1})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "lock timeouts are retryable, not client errors")
}

func TestLeaveEndpoint_NoBodyReleasesAllSeats(t *testing.T) {
	router, db, _ := setupRouter()
	seedGroup(db)
	doRequest(router, http.MethodPost, "/api/group-bookings/group-1/join", "user-1",
		models.JoinGroupBookingRequest{Seats: 2})

	rec := doRequest(router, http.MethodPost, "/api/group-bookings/group-1/leave", "user-1", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data models.BookingResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Data.Group.CurrentParticipants)
	assert.Equal(t, models.MemberStatusCancelled, resp.Data.Membership.Status)
}

func TestLeaveEndpoint_NotAMember(t *testing.T) {
	router, db, _ := setupRouter()
	seedGroup(db)

	rec := doRequest(router, http.MethodPost, "/api/group-bookings/group-1/leave", "user-2", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCloseEndpoint(t *testing.T) {
	router, db, _ := setupRouter()
	seedGroup(db)

	rec := doRequest(router, http.MethodPost, "/api/group-bookings/group-1/close", "op-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	notOwner := doRequest(router, http.MethodPost, "/api/group-bookings/group-1/close", "user-1", nil)
	assert.Equal(t, http.StatusForbidden, notOwner.Code)
}

func TestGetGroupEndpoint(t *testing.T) {
	router, db, _ := setupRouter()
	seedGroup(db)
	doRequest(router, http.MethodPost, "/api/group-bookings/group-1/join", "user-1",
		models.JoinGroupBookingRequest{Seats: 1})

	rec := doRequest(router, http.MethodGet, "/api/group-bookings/group-1", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail models.GroupBookingDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "group-1", detail.Group.ID)
	assert.Len(t, detail.Members, 1)

	missing := doRequest(router, http.MethodGet, "/api/group-bookings/ghost", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestListByTourEndpoint(t *testing.T) {
	router, db, _ := setupRouter()
	seedGroup(db)

	rec := doRequest(router, http.MethodGet, "/api/group-bookings/tour/tour-rome", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var groups []models.GroupBooking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	assert.Len(t, groups, 1)
}

func TestGetByInviteCodeEndpoint(t *testing.T) {
	router, db, _ := setupRouter()
	seedGroup(db)

	rec := doRequest(router, http.MethodGet, "/api/group-bookings/code/ROME2026", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var group models.GroupBooking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &group))
	assert.Equal(t, "group-1", group.ID)
}

func TestGetInviteQREndpoint(t *testing.T) {
	router, db, _ := setupRouter()
	seedGroup(db)

	rec := doRequest(router, http.MethodGet, "/api/group-bookings/group-1/invite/qr", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.True(t, rec.Body.Len() > 8)
	assert.Equal(t, []byte("\x89PNG"), rec.Body.Bytes()[:4], "response should be a PNG image")
}
