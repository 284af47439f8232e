package rest

import (
	"net/http"

	"github.com/renfield/renfield/internal/registry"
	"github.com/renfield/renfield/pkg/types"
)

type toolWire struct {
	Name                string         `json:"name"`
	Provider            string         `json:"provider"`
	OriginalName        string         `json:"original_name"`
	Description         string         `json:"description"`
	Parameters          map[string]any `json:"parameters,omitempty"`
	EstimatedDurationMs int            `json:"estimated_duration_ms"`
	MaxDurationMs       int            `json:"max_duration_ms"`
}

// ListTools handles GET /api/tools.
func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	descriptors := h.tools.Tools()
	wire := make([]toolWire, len(descriptors))
	for i, d := range descriptors {
		wire[i] = toolWire{
			Name:                d.Name,
			Provider:            d.Provider,
			OriginalName:        d.OriginalName,
			Description:         d.Description,
			Parameters:          d.Parameters,
			EstimatedDurationMs: d.EstimatedDurationMs,
			MaxDurationMs:       d.MaxDurationMs,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": wire, "total": len(wire)})
}

// ToolsStatus handles GET /api/tools/status.
func (h *Handler) ToolsStatus(w http.ResponseWriter, r *http.Request) {
	entries := h.tools.Status()
	wire := make([]map[string]any, len(entries))
	for i, e := range entries {
		wire[i] = map[string]any{
			"provider":   e.ProviderName,
			"state":      e.State,
			"transport":  e.Transport,
			"tool_count": e.ToolCount,
			"last_error": e.LastError,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": wire})
}

// RefreshTools handles POST /api/tools/refresh.
func (h *Handler) RefreshTools(w http.ResponseWriter, r *http.Request) {
	before := countReady(h.tools.Status())
	if err := h.tools.Refresh(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	after := countReady(h.tools.Status())

	reconnected := after - before
	if reconnected < 0 {
		reconnected = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers_reconnected": reconnected})
}

func countReady(entries []registry.StatusEntry) int {
	n := 0
	for _, e := range entries {
		if e.State == types.ProviderReady {
			n++
		}
	}
	return n
}
