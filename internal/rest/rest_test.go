package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/renfield/renfield/internal/registry"
	"github.com/renfield/renfield/internal/rest"
	"github.com/renfield/renfield/internal/store"
	"github.com/renfield/renfield/internal/turn"
	"github.com/renfield/renfield/pkg/types"
)

type fakeEngine struct {
	text string
	err  error
}

func (f *fakeEngine) RunTurn(ctx context.Context, in turn.Input) (<-chan types.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan types.Event, 2)
	out <- types.Event{Type: types.EventResponseText, SessionID: in.Turn.SessionID, Text: f.text}
	out <- types.Event{Type: types.EventDone, SessionID: in.Turn.SessionID}
	close(out)
	return out, nil
}

type fakeTools struct {
	tools   []types.ToolDescriptor
	status  []registry.StatusEntry
	refresh int
}

func (f *fakeTools) Tools() []types.ToolDescriptor     { return f.tools }
func (f *fakeTools) Status() []registry.StatusEntry    { return f.status }
func (f *fakeTools) Refresh(ctx context.Context) error { f.refresh++; return nil }

func newTestMux(t *testing.T, st store.ConversationStore, engine rest.TurnRunner, tools rest.ToolCatalog) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	rest.New(st, engine, tools).Register(mux)
	return mux
}

func TestSend_ReturnsResponseText(t *testing.T) {
	mux := newTestMux(t, store.NewMemory(), &fakeEngine{text: "hello there"}, &fakeTools{})

	body := strings.NewReader(`{"message":"hi","session_id":"sess-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/send", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message != "hello there" {
		t.Fatalf("message = %q, want %q", resp.Message, "hello there")
	}
}

func TestSend_RejectsMissingFields(t *testing.T) {
	mux := newTestMux(t, store.NewMemory(), &fakeEngine{}, &fakeTools{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/send", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSend_SessionBusyReturnsConflict(t *testing.T) {
	mux := newTestMux(t, store.NewMemory(), &fakeEngine{err: turn.ErrSessionBusy}, &fakeTools{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/send", strings.NewReader(`{"message":"hi","session_id":"sess-1"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestSearch_RejectsShortQuery(t *testing.T) {
	mux := newTestMux(t, store.NewMemory(), &fakeEngine{}, &fakeTools{})

	req := httptest.NewRequest(http.MethodGet, "/api/chat/search?q=a", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearch_ReturnsMatches(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	st.Append(ctx, "sess-1", types.RoleUser, "tell me about the weather", nil)

	mux := newTestMux(t, st, &fakeEngine{}, &fakeTools{})
	req := httptest.NewRequest(http.MethodGet, "/api/chat/search?q=weather", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Count != 1 || resp.Query != "weather" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestConversationSummary_UnknownSessionIs404(t *testing.T) {
	mux := newTestMux(t, store.NewMemory(), &fakeEngine{}, &fakeTools{})

	req := httptest.NewRequest(http.MethodGet, "/api/chat/conversation/ghost/summary", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCleanupConversations_DefaultsTo30Days(t *testing.T) {
	mux := newTestMux(t, store.NewMemory(), &fakeEngine{}, &fakeTools{})

	req := httptest.NewRequest(http.MethodDelete, "/api/chat/conversations/cleanup", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp struct {
		CutoffDays int `json:"cutoff_days"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.CutoffDays != 30 {
		t.Fatalf("cutoff_days = %d, want 30", resp.CutoffDays)
	}
}

func TestRefreshTools_CallsRegistryRefreshOnce(t *testing.T) {
	tools := &fakeTools{
		status: []registry.StatusEntry{{ProviderName: "p1", State: types.ProviderFailed}},
	}
	mux := newTestMux(t, store.NewMemory(), &fakeEngine{}, tools)

	req := httptest.NewRequest(http.MethodPost, "/api/tools/refresh", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if tools.refresh != 1 {
		t.Fatalf("Refresh called %d times, want 1", tools.refresh)
	}
}
