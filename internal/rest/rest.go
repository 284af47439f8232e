// Package rest implements the core's REST surface (spec.md §6): read/search
// access to the Conversation Store, a synchronous single-turn chat endpoint,
// and tool-provider introspection/refresh. Grounded on health.Handler's
// Register(mux) + stdlib net/http pattern-route style; no third-party router
// is introduced (see DESIGN.md).
package rest

import (
	"context"
	"net/http"

	"github.com/renfield/renfield/internal/registry"
	"github.com/renfield/renfield/internal/store"
	"github.com/renfield/renfield/internal/turn"
	"github.com/renfield/renfield/pkg/types"
)

// defaultCleanupDays is the fallback for DELETE /api/chat/conversations/cleanup
// when the caller omits ?days.
const defaultCleanupDays = 30

// TurnRunner is the narrow slice of the Turn Engine the REST surface depends
// on. Satisfied structurally by *turn.Engine.
type TurnRunner interface {
	RunTurn(ctx context.Context, in turn.Input) (<-chan types.Event, error)
}

// ToolCatalog is the narrow slice of the Tool Registry the REST surface
// depends on. Satisfied structurally by *registry.Registry.
type ToolCatalog interface {
	Tools() []types.ToolDescriptor
	Status() []registry.StatusEntry
	Refresh(ctx context.Context) error
}

// Handler serves the core's REST surface.
type Handler struct {
	store  store.ConversationStore
	engine TurnRunner
	tools  ToolCatalog
}

// New returns a ready-to-use Handler.
func New(st store.ConversationStore, engine TurnRunner, tools ToolCatalog) *Handler {
	return &Handler{store: st, engine: engine, tools: tools}
}

// Register wires every REST route onto mux, in the Go 1.22+ enhanced
// ServeMux pattern-route style health.Handler.Register uses.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chat/conversations", h.ListConversations)
	mux.HandleFunc("GET /api/chat/conversation/{session_id}/summary", h.ConversationSummary)
	mux.HandleFunc("GET /api/chat/history/{session_id}", h.History)
	mux.HandleFunc("GET /api/chat/search", h.Search)
	mux.HandleFunc("GET /api/chat/stats", h.Stats)
	mux.HandleFunc("POST /api/chat/send", h.Send)
	mux.HandleFunc("DELETE /api/chat/session/{session_id}", h.DeleteSession)
	mux.HandleFunc("DELETE /api/chat/conversations/cleanup", h.CleanupConversations)

	mux.HandleFunc("GET /api/tools", h.ListTools)
	mux.HandleFunc("GET /api/tools/status", h.ToolsStatus)
	mux.HandleFunc("POST /api/tools/refresh", h.RefreshTools)
}
