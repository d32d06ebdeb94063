package smartgroup_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-grouping/internal/auth"
	"ms-grouping/internal/grouplock"
	"ms-grouping/internal/invites"
	"ms-grouping/internal/logger"
	"ms-grouping/internal/models"
	"ms-grouping/internal/smartgroup"
	"ms-grouping/internal/utils"
)

type Handler struct {
	SmartGroupService *smartgroup.SmartGroupService
	QR                *invites.QRGenerator
	Logger            *logger.Logger
}

func NewHandler(smartGroupService *smartgroup.SmartGroupService, qr *invites.QRGenerator, logger *logger.Logger) *Handler {
	return &Handler{
		SmartGroupService: smartGroupService,
		QR:                qr,
		Logger:            logger,
	}
}

// RegisterRoutes registers the smart group routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/smart-groups", func(r chi.Router) {
		r.Post("/", h.CreateGroup)
		r.Get("/nearby", h.Nearby)
		r.Get("/code/{code}", h.GetByInviteCode)
		r.Get("/{groupId}", h.GetGroup)
		r.Get("/{groupId}/invite/qr", h.GetInviteQR)
		r.Post("/{groupId}/join", h.Join)
		r.Post("/{groupId}/leave", h.Leave)
		r.Post("/{groupId}/dissolve", h.Dissolve)
	})
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	creatorID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("CreateSmartGroup: creator=%s", creatorID))

	var req models.CreateSmartGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateSmartGroup: failed to decode request body: %v", err))
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.SmartGroupService.CreateGroup(r.Context(), creatorID, req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateSmartGroup: %v", err))
		h.writeError(w, statusForError(err, http.StatusBadRequest), "Could not create group", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("group created", result))
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("JoinSmartGroup: group=%s user=%s", groupID, userID))

	// The body only carries an optional invite code; discovery joins send {}.
	var req models.JoinSmartGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Logger.Error("API", fmt.Sprintf("JoinSmartGroup: failed to decode request body: %v", err))
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.SmartGroupService.Join(r.Context(), groupID, userID, req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("JoinSmartGroup: %v", err))
		h.writeError(w, statusForError(err, http.StatusBadRequest), "Could not join group", err)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("joined group", result))
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("LeaveSmartGroup: group=%s user=%s", groupID, userID))

	result, err := h.SmartGroupService.Leave(r.Context(), groupID, userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("LeaveSmartGroup: %v", err))
		h.writeError(w, statusForError(err, http.StatusInternalServerError), "Could not leave group", err)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("left group", result))
}

func (h *Handler) Dissolve(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("DissolveSmartGroup: group=%s user=%s", groupID, userID))

	group, err := h.SmartGroupService.Dissolve(r.Context(), groupID, userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("DissolveSmartGroup: %v", err))
		h.writeError(w, statusForError(err, http.StatusInternalServerError), "Could not dissolve group", err)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("group dissolved", group))
}

// Nearby lists active groups within radius_km of lat/lon, closest first.
func (h *Handler) Nearby(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		h.Logger.Error("API", "Nearby: lat and lon query parameters are required")
		h.writeError(w, http.StatusBadRequest, "Invalid query", errors.New("lat and lon query parameters are required"))
		return
	}

	radiusKm := 5.0
	if raw := r.URL.Query().Get("radius_km"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid query", errors.New("radius_km must be a number"))
			return
		}
		radiusKm = parsed
	}

	h.Logger.Info("API", fmt.Sprintf("Nearby: lat=%.5f lon=%.5f radius=%.1fkm", lat, lon, radiusKm))

	groups, err := h.SmartGroupService.Nearby(r.Context(), lat, lon, radiusKm)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Nearby: %v", err))
		h.writeError(w, http.StatusBadRequest, "Could not search nearby groups", err)
		return
	}

	h.writeJSON(w, http.StatusOK, groups)
}

func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	h.Logger.Info("API", fmt.Sprintf("GetSmartGroup: group=%s", groupID))

	detail, err := h.SmartGroupService.GetGroupDetail(r.Context(), groupID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetSmartGroup: %v", err))
		h.writeError(w, statusForError(err, http.StatusInternalServerError), "Could not load group", err)
		return
	}

	h.writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) GetByInviteCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	h.Logger.Info("API", fmt.Sprintf("GetSmartGroupByInviteCode: code=%s", code))

	group, err := h.SmartGroupService.GetGroupByInviteCode(r.Context(), code)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetSmartGroupByInviteCode: %v", err))
		h.writeError(w, statusForError(err, http.StatusInternalServerError), "Could not resolve invite code", err)
		return
	}

	h.writeJSON(w, http.StatusOK, group)
}

// GetInviteQR renders the group's invite link as a PNG for the share sheet.
func (h *Handler) GetInviteQR(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	h.Logger.Info("API", fmt.Sprintf("GetSmartGroupInviteQR: group=%s", groupID))

	group, err := h.SmartGroupService.GetGroup(r.Context(), groupID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetSmartGroupInviteQR: %v", err))
		h.writeError(w, statusForError(err, http.StatusInternalServerError), "Could not load group", err)
		return
	}

	png, err := h.QR.GenerateInviteQR(group.InviteCode)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetSmartGroupInviteQR: failed to render QR: %v", err))
		h.writeError(w, http.StatusInternalServerError, "Could not render QR code", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetSmartGroupInviteQR: failed to write response: %v", err))
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
	var tooMany *models.TooManyActiveGroupsError
	var cooldown *models.CooldownActiveError

	switch {
	case errors.Is(err, models.ErrGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnknownUser),
		errors.Is(err, models.ErrNotGroupOwner):
		return http.StatusForbidden
	case errors.Is(err, models.ErrAlreadyMember),
		errors.Is(err, models.ErrNotAMember),
		errors.Is(err, models.ErrCreatorCannotLeave),
		errors.Is(err, models.ErrInvalidInvite),
		errors.As(err, &capacity),
		errors.As(err, &state):
		return http.StatusConflict
	case errors.As(err, &tooMany), errors.As(err, &cooldown):
		return http.StatusTooManyRequests
	case errors.Is(err, grouplock.ErrLockTimeout):
		// Retryable: the writer holding the lease kept it past the wait.
		return http.StatusServiceUnavailable
	default:
		return fallback
	}
}
