package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/renfield/renfield/internal/turn"
	"github.com/renfield/renfield/pkg/types"
)

type sessionWire struct {
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type messageWire struct {
	SessionID string         `json:"session_id"`
	Sequence  int64          `json:"sequence"`
	Role      types.Role     `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func toSessionWire(s types.Session) sessionWire {
	return sessionWire{SessionID: s.SessionID, CreatedAt: formatTime(s.CreatedAt), UpdatedAt: formatTime(s.UpdatedAt)}
}

func toMessageWire(m types.Message) messageWire {
	return messageWire{
		SessionID: m.SessionID,
		Sequence:  m.Sequence,
		Role:      m.Role,
		Content:   m.Content,
		Metadata:  m.Metadata,
		Timestamp: formatTime(m.Timestamp),
	}
}

// ListConversations handles GET /api/chat/conversations?limit&offset.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	sessions, total, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "conversation store unavailable")
		return
	}

	wire := make([]sessionWire, len(sessions))
	for i, s := range sessions {
		wire[i] = toSessionWire(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": wire, "total": total})
}

// ConversationSummary handles GET /api/chat/conversation/{session_id}/summary.
func (h *Handler) ConversationSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	summary, err := h.store.Summarize(r.Context(), sessionID)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "conversation store unavailable")
		return
	}
	if summary == nil {
		writeJSONError(w, http.StatusNotFound, "unknown session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":       summary.SessionID,
		"message_count":    summary.MessageCount,
		"first_message_at": formatTime(summary.FirstMessageAt),
		"last_message_at":  formatTime(summary.LastMessageAt),
		"created_at":       formatTime(summary.CreatedAt),
		"updated_at":       formatTime(summary.UpdatedAt),
	})
}

// History handles GET /api/chat/history/{session_id}?limit.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	limit := queryInt(r, "limit", 50)

	messages, err := h.store.Window(r.Context(), sessionID, limit)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "conversation store unavailable")
		return
	}

	wire := make([]messageWire, len(messages))
	for i, m := range messages {
		wire[i] = toMessageWire(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": wire})
}

// Search handles GET /api/chat/search?q&limit.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < 2 {
		writeJSONError(w, http.StatusBadRequest, "q must be at least 2 characters")
		return
	}
	limit := queryInt(r, "limit", 20)

	results, err := h.store.Search(r.Context(), q, limit)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "conversation store unavailable")
		return
	}

	wire := make([]map[string]any, len(results))
	for i, res := range results {
		wire[i] = map[string]any{
			"session_id": res.SessionID,
			"snippet":    res.Snippet,
			"matched_at": formatTime(res.MatchedAt),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": wire, "count": len(wire)})
}

// Stats handles GET /api/chat/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	_, total, err := h.store.List(r.Context(), 0, 0)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "conversation store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_count": total})
}

type sendRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Send handles POST /api/chat/send: a synchronous single-turn variant of the
// Device Gateway's text frame, with no streaming and no TTS (spec.md §6).
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Message == "" || req.SessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "message and session_id are required")
		return
	}

	in := turn.Input{
		Turn: types.TurnContext{
			SessionID: req.SessionID,
			Channel:   types.ChannelText,
			Transport: types.TransportREST,
		},
		Text: req.Message,
	}

	events, err := h.engine.RunTurn(r.Context(), in)
	if err != nil {
		writeJSONError(w, http.StatusConflict, "session is busy")
		return
	}

	var responseText, errMessage string
	for ev := range events {
		switch ev.Type {
		case types.EventResponseText:
			responseText = ev.Text
		case types.EventError:
			errMessage = ev.Message
		}
	}
	if responseText == "" && errMessage != "" {
		writeJSONError(w, http.StatusBadGateway, errMessage)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": responseText})
}

// DeleteSession handles DELETE /api/chat/session/{session_id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if err := h.store.Delete(r.Context(), sessionID); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "conversation store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// CleanupConversations handles DELETE /api/chat/conversations/cleanup?days=N.
func (h *Handler) CleanupConversations(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", defaultCleanupDays)

	deleted, err := h.store.Cleanup(r.Context(), days)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "conversation store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted_count": deleted, "cutoff_days": days})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
