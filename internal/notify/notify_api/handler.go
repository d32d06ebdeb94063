package notify_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-grouping/internal/auth"
	"ms-grouping/internal/logger"
	"ms-grouping/internal/models"
	"ms-grouping/internal/notify"
)

// SSEHandler streams group membership events to clients over Server-Sent
// Events so join pages and dashboards update without polling.
type SSEHandler struct {
	Logger  *logger.Logger
	Emitter *notify.GroupEventEmitter
}

func NewSSEHandler(logger *logger.Logger, emitter *notify.GroupEventEmitter) *SSEHandler {
	return &SSEHandler{
		Logger:  logger,
		Emitter: emitter,
	}
}

// RegisterRoutes registers the event stream routes on a chi router.
// RegisterRoutes registers the event streams with absolute paths. The
// entrypoints mount them before the verifying middleware group; the handlers
// authenticate from the bearer token themselves.
func (h *SSEHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/group-bookings/{groupId}/events", h.HandleGroupEvents)
	r.Get("/api/smart-groups/{groupId}/events", h.HandleGroupEvents)
	r.Get("/api/groups/events/{groupType}", h.HandleTypeEvents)
}

// HandleGroupEvents streams membership events for a single group.
func (h *SSEHandler) HandleGroupEvents(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	if groupID == "" {
		http.Error(w, "Group ID is required", http.StatusBadRequest)
		return
	}

	userID, err := h.subscriberID(r)
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Subscription rejected: %v", err))
		http.Error(w, "Unauthorized access", http.StatusUnauthorized)
		return
	}

	h.setupSSEHeaders(w)

	// Subscription lives until the client disconnects
	ctx := r.Context()
	eventChan := h.Emitter.SubscribeToGroup(ctx, groupID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"groupID\":\"%s\"}\n\n", groupID)
	w.(http.Flusher).Flush()

	h.Logger.Info("SSE", fmt.Sprintf("User %s subscribed to events for group %s", userID, groupID))

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for group: %s", groupID))
				return
			}

			jsonData, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize group event: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: membership\ndata: %s\n\n", jsonData)
			w.(http.Flusher).Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from group events for: %s", groupID))
			return
		}
	}
}

// HandleTypeEvents streams every membership event of one group type. This is
// what operator dashboards watch.
func (h *SSEHandler) HandleTypeEvents(w http.ResponseWriter, r *http.Request) {
	groupType := chi.URLParam(r, "groupType")
	if groupType != models.GroupTypeBooking && groupType != models.GroupTypeSmart {
		http.Error(w, "Unknown group type", http.StatusBadRequest)
		return
	}

	userID, err := h.subscriberID(r)
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Subscription rejected: %v", err))
		http.Error(w, "Unauthorized access", http.StatusUnauthorized)
		return
	}

	h.setupSSEHeaders(w)

	ctx := r.Context()
	eventChan := h.Emitter.SubscribeToType(ctx, groupType)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"groupType\":\"%s\"}\n\n", groupType)
	w.(http.Flusher).Flush()

	h.Logger.Info("SSE", fmt.Sprintf("User %s subscribed to all %s events", userID, groupType))

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for type: %s", groupType))
				return
			}

			jsonData, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize group event: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: membership\ndata: %s\n\n", jsonData)
			w.(http.Flusher).Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from %s events", groupType))
			return
		}
	}
}

// subscriberID attributes the subscription to a user. The stream endpoints
// sit outside the verifying middleware, so the token is parsed rather than
// fully verified; everything that mutates state still goes through it.
func (h *SSEHandler) subscriberID(r *http.Request) (string, error) {
	token, err := auth.ExtractTokenFromRequest(r)
	if err != nil {
		return "", fmt.Errorf("failed to extract token: %w", err)
	}

	userID, err := auth.ExtractUserIDFromJWT(token)
	if err != nil {
		return "", fmt.Errorf("failed to extract user ID: %w", err)
	}

	return userID, nil
}

// Helper function to set up SSE headers
func (h *SSEHandler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
