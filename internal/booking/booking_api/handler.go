package booking_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-grouping/internal/auth"
	"ms-grouping/internal/booking"
	"ms-grouping/internal/grouplock"
	"ms-grouping/internal/invites"
	"ms-grouping/internal/logger"
	"ms-grouping/internal/models"
	"ms-grouping/internal/utils"
)

type Handler struct {
	BookingService *booking.BookingService
	QR             *invites.QRGenerator
	Logger         *logger.Logger
}

func NewHandler(bookingService *booking.BookingService, qr *invites.QRGenerator, logger *logger.Logger) *Handler {
	return &Handler{
		BookingService: bookingService,
		QR:             qr,
		Logger:         logger,
	}
}

// RegisterRoutes registers the group booking routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/group-bookings", func(r chi.Router) {
		r.Post("/", h.CreateGroup)
		r.Get("/tour/{tourId}", h.ListByTour)
		r.Get("/code/{code}", h.GetByInviteCode)
		r.Get("/{groupId}", h.GetGroup)
		r.Get("/{groupId}/invite/qr", h.GetInviteQR)
		r.Post("/{groupId}/join", h.Join)
		r.Post("/{groupId}/leave", h.Leave)
		r.Post("/{groupId}/close", h.Close)
	})
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	operatorID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("CreateGroup: operator=%s", operatorID))

	var req models.CreateGroupBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateGroup: failed to decode request body: %v", err))
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	group, err := h.BookingService.CreateGroup(r.Context(), operatorID, req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateGroup: %v", err))
		h.writeError(w, statusForError(err, http.StatusBadRequest), "Could not create group", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("group created", group))
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("Join: group=%s user=%s", groupID, userID))

	var req models.JoinGroupBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Join: failed to decode request body: %v", err))
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.BookingService.Join(r.Context(), groupID, userID, req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Join: %v", err))
		h.writeError(w, statusForError(err, http.StatusBadRequest), "Could not join group", err)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("joined group", result))
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("Leave: group=%s user=%s", groupID, userID))

	// An absent body means release the full reservation.
	var req struct {
		Seats int `json:"seats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Logger.Error("API", fmt.Sprintf("Leave: failed to decode request body: %v", err))
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.BookingService.Leave(r.Context(), groupID, userID, req.Seats)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Leave: %v", err))
		h.writeError(w, statusForError(err, http.StatusBadRequest), "Could not leave group", err)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("left group", result))
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	operatorID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("Close: group=%s operator=%s", groupID, operatorID))

	group, err := h.BookingService.Close(r.Context(), groupID, operatorID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Close: %v", err))
		h.writeError(w, statusForError(err, http.StatusInternalServerError), "Could not close group", err)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("group closed", group))
}

func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	h.Logger.Info("API", fmt.Sprintf("GetGroup: group=%s", groupID))

	detail, err := h.BookingService.GetGroupDetail(r.Context(), groupID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetGroup: %v", err))
		h.writeError(w, statusForError(err, http.StatusInternalServerError), "Could not load group", err)
		return
	}

	h.writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) GetByInviteCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	h.Logger.Info("API", fmt.Sprintf("GetByInviteCode: code=%s", code))

	group, err := h.BookingService.GetGroupByInviteCode(r.Context(), code)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetByInviteCode: %v", err))
		h.writeError(w, statusForError(err, http.StatusInternalServerError), "Could not resolve invite code", err)
		return
	}

	h.writeJSON(w, http.StatusOK, group)
}

func (h *Handler) ListByTour(w http.ResponseWriter, r *http.Request) {
	tourID := chi.URLParam(r, "tourId")
	h.Logger.Info("API", fmt.Sprintf("ListByTour: tour=%s", tourID))

	groups, err := h.BookingService.ListGroupsByTour(r.Context(), tourID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListByTour: %v", err))
		h.writeError(w, http.StatusInternalServerError, "Could not list groups", err)
		return
	}

	h.writeJSON(w, http.StatusOK, groups)
}

// GetInviteQR renders the group's invite link as a PNG for the share sheet.
func (h *Handler) GetInviteQR(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	h.Logger.Info("API", fmt.Sprintf("GetInviteQR: group=%s", groupID))

	group, err := h.BookingService.GetGroup(r.Context(), groupID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetInviteQR: %v", err))
		h.writeError(w, statusForError(err, http.StatusInternalServerError), "Could not load group", err)
		return
	}

	png, err := h.QR.GenerateInviteQR(group.InviteCode)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetInviteQR: failed to render QR: %v", err))
		h.writeError(w, http.StatusInternalServerError, "Could not render QR code", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetInviteQR: failed to write response: %v", err))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	h.writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
}

// statusForError picks the response code for service errors. Untyped errors
// fall back to the endpoint's default.
func statusForError(err error, fallback int) int {
	var capacity *models.CapacityExceededError
	var state *models.InvalidStateError

	switch {
	case errors.Is(err, models.ErrGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnknownUser),
		errors.Is(err, models.ErrOperatorRequired),
		errors.Is(err, models.ErrNotGroupOwner):
		return http.StatusForbidden
	case errors.Is(err, models.ErrAlreadyMember),
		errors.Is(err, models.ErrNotAMember),
		errors.Is(err, models.ErrInvalidInvite),
		errors.As(err, &capacity),
		errors.As(err, &state):
		return http.StatusConflict
	case errors.Is(err, grouplock.ErrLockTimeout):
		// Retryable: the writer holding the lease kept it past the wait.
		return http.StatusServiceUnavailable
	default:
		return fallback
	}
}
