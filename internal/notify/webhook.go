package notify

import (
	"encoding/json"
	"net/http"

	"github.com/renfield/renfield/pkg/types"
)

// dispatchFunc is called once per created record to fan it out to connected
// devices — typically a thin wrapper around Gateway.Notify.
type dispatchFunc func(rec types.NotificationRecord)

// Handler is the webhook collaborator's delivery surface per spec.md §4.6:
// external systems POST a notification here, it is recorded in Store, and
// handed off to dispatch for fan-out to connected devices. Grounded on
// health.Handler's small-surface JSON-handler style.
type Handler struct {
	store    Store
	dispatch dispatchFunc
}

// NewHandler returns a Handler backed by store. dispatch is called once per
// created record, after it has been durably recorded, and should not block
// the HTTP response — typically a thin wrapper around Gateway.Notify run in
// its own goroutine.
func NewHandler(store Store, dispatch func(rec types.NotificationRecord)) *Handler {
	return &Handler{store: store, dispatch: dispatchFunc(dispatch)}
}

type createRequest struct {
	SubjectID string         `json:"subject_id"`
	RoomID    string         `json:"room_id"`
	Payload   map[string]any `json:"payload"`
}

type createResponse struct {
	NotificationID string                   `json:"notification_id"`
	Status         types.NotificationStatus `json:"status"`
}

// Create handles POST /api/notifications: records a new pending notification
// and triggers delivery.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.SubjectID == "" {
		writeJSONError(w, http.StatusBadRequest, "subject_id is required")
		return
	}

	rec, err := h.store.Create(r.Context(), req.SubjectID, req.RoomID, req.Payload)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to record notification")
		return
	}

	if h.dispatch != nil {
		go h.dispatch(rec)
	}

	writeJSON(w, http.StatusAccepted, createResponse{NotificationID: rec.NotificationID, Status: rec.Status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
