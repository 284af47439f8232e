package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/renfield/renfield/internal/resolver"
	embmock "github.com/renfield/renfield/pkg/provider/embeddings/mock"
	llmmock "github.com/renfield/renfield/pkg/provider/llm/mock"
	"github.com/renfield/renfield/pkg/provider/llm"
	"github.com/renfield/renfield/pkg/types"
)

type fakeTools struct {
	descriptors []types.ToolDescriptor
}

func (f fakeTools) Tools() []types.ToolDescriptor { return f.descriptors }

type fakeNotifications struct {
	pending []types.NotificationRecord
	err     error
}

func (f fakeNotifications) PendingFor(context.Context, string) ([]types.NotificationRecord, error) {
	return f.pending, f.err
}

func lightsTool() types.ToolDescriptor {
	return types.ToolDescriptor{
		Name:         "home__lights_on",
		Provider:     "home",
		OriginalName: "lights_on",
		Description:  "turn on the lights in a room",
		Parameters: map[string]any{
			"required": []any{"room_id"},
		},
	}
}

func newResolver(t *testing.T, llmProv *llmmock.Provider, embProv *embmock.Provider, tools fakeTools, notif resolver.NotificationLookup, corrections resolver.CorrectionStore) *resolver.Resolver {
	t.Helper()
	if notif == nil {
		notif = fakeNotifications{}
	}
	return resolver.New(llmProv, embProv, tools, notif, resolver.NewMemoryFacts(), corrections, nil, nil, resolver.Config{})
}

func TestResolve_NotificationAckShortCircuits(t *testing.T) {
	llmProv := &llmmock.Provider{}
	embProv := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	tools := fakeTools{}
	notif := fakeNotifications{pending: []types.NotificationRecord{
		{NotificationID: "n1", SubjectID: "alice", CreatedAt: time.Now()},
	}}

	r := newResolver(t, llmProv, embProv, tools, notif, nil)

	plan, err := r.Resolve(context.Background(), types.TurnContext{SubjectID: "alice"}, "ok thanks")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Kind != types.PlanDirectAction || plan.DirectAction == nil {
		t.Fatalf("plan = %+v, want DirectAction", plan)
	}
	if plan.DirectAction.ToolName != "notifications__ack" {
		t.Fatalf("tool = %q, want notifications__ack", plan.DirectAction.ToolName)
	}
	if len(llmProv.CompleteCalls) != 0 {
		t.Fatalf("classifier should not be invoked when ack short-circuits, got %d calls", len(llmProv.CompleteCalls))
	}
}

func TestResolve_HighConfidenceSingleToolProducesDirectAction(t *testing.T) {
	llmProv := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"ranked":[{"choice":"home__lights_on","confidence":0.92,"args":{"room_id":"kitchen"}}]}`,
	}}
	embProv := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	tools := fakeTools{descriptors: []types.ToolDescriptor{lightsTool()}}

	r := newResolver(t, llmProv, embProv, tools, nil, nil)

	plan, err := r.Resolve(context.Background(), types.TurnContext{SubjectID: "alice"}, "turn on the kitchen lights")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Kind != types.PlanDirectAction {
		t.Fatalf("plan.Kind = %v, want PlanDirectAction", plan.Kind)
	}
	if plan.DirectAction.ToolName != "home__lights_on" {
		t.Fatalf("tool = %q", plan.DirectAction.ToolName)
	}
	if plan.NeedsClarification {
		t.Fatalf("plan should not need clarification, room_id was bound")
	}
}

func TestResolve_MissingRequiredArgFlagsClarification(t *testing.T) {
	llmProv := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"ranked":[{"choice":"home__lights_on","confidence":0.92,"args":{}}]}`,
	}}
	embProv := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	tools := fakeTools{descriptors: []types.ToolDescriptor{lightsTool()}}

	r := newResolver(t, llmProv, embProv, tools, nil, nil)

	plan, err := r.Resolve(context.Background(), types.TurnContext{SubjectID: "alice"}, "turn on the lights")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !plan.NeedsClarification {
		t.Fatalf("plan should need clarification when room_id is unresolved and turn carries no RoomID")
	}
}

func TestResolve_RoomContextFillsRequiredArg(t *testing.T) {
	llmProv := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"ranked":[{"choice":"home__lights_on","confidence":0.92,"args":{}}]}`,
	}}
	embProv := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	tools := fakeTools{descriptors: []types.ToolDescriptor{lightsTool()}}

	r := newResolver(t, llmProv, embProv, tools, nil, nil)

	plan, err := r.Resolve(context.Background(), types.TurnContext{SubjectID: "alice", RoomID: "den"}, "turn on the lights")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.NeedsClarification {
		t.Fatalf("plan should not need clarification, RoomID should have filled room_id")
	}
	if plan.DirectAction.Args["room_id"] != "den" {
		t.Fatalf("room_id = %v, want den", plan.DirectAction.Args["room_id"])
	}
}

func TestResolve_MidConfidenceWithAgentDisabledProducesConversation(t *testing.T) {
	llmProv := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"ranked":[{"choice":"home__lights_on","confidence":0.5,"args":{}}]}`,
	}}
	embProv := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	tools := fakeTools{descriptors: []types.ToolDescriptor{lightsTool()}}

	r := newResolver(t, llmProv, embProv, tools, nil, nil)

	plan, err := r.Resolve(context.Background(), types.TurnContext{SubjectID: "alice", AgentEnabled: false}, "do something with the lights maybe")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Kind != types.PlanConversation {
		t.Fatalf("plan.Kind = %v, want PlanConversation", plan.Kind)
	}
}

func TestResolve_MidConfidenceWithAgentEnabledProducesAgentPlan(t *testing.T) {
	llmProv := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"ranked":[{"choice":"home__lights_on","confidence":0.5,"args":{}}]}`,
	}}
	embProv := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	tools := fakeTools{descriptors: []types.ToolDescriptor{lightsTool()}}

	r := newResolver(t, llmProv, embProv, tools, nil, nil)

	plan, err := r.Resolve(context.Background(), types.TurnContext{SubjectID: "alice", AgentEnabled: true}, "do something with the lights maybe")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Kind != types.PlanAgent {
		t.Fatalf("plan.Kind = %v, want PlanAgent", plan.Kind)
	}
	if plan.Agent.StepCap != resolver.DefaultConfig().AgentStepCap {
		t.Fatalf("StepCap = %d, want default", plan.Agent.StepCap)
	}
}

func TestResolve_LowConfidenceProducesConversation(t *testing.T) {
	llmProv := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"ranked":[{"choice":"home__lights_on","confidence":0.1,"args":{}}]}`,
	}}
	embProv := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	tools := fakeTools{descriptors: []types.ToolDescriptor{lightsTool()}}

	r := newResolver(t, llmProv, embProv, tools, nil, nil)

	plan, err := r.Resolve(context.Background(), types.TurnContext{SubjectID: "alice"}, "tell me a joke")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Kind != types.PlanConversation {
		t.Fatalf("plan.Kind = %v, want PlanConversation", plan.Kind)
	}
}

func TestResolve_UnparseableClassifierResponseDegradesGracefully(t *testing.T) {
	llmProv := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "not json at all"}}
	embProv := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	tools := fakeTools{descriptors: []types.ToolDescriptor{lightsTool()}}

	r := newResolver(t, llmProv, embProv, tools, nil, nil)

	plan, err := r.Resolve(context.Background(), types.TurnContext{SubjectID: "alice"}, "turn on the lights")
	if err != nil {
		t.Fatalf("Resolve should degrade gracefully, got error: %v", err)
	}
	if plan.Kind != types.PlanConversation {
		t.Fatalf("plan.Kind = %v, want PlanConversation on degradation", plan.Kind)
	}
}

func TestResolve_StrongCorrectionMatchShortCircuitsClassifier(t *testing.T) {
	llmProv := &llmmock.Provider{}
	embProv := &embmock.Provider{EmbedResult: []float32{1, 0}}
	tools := fakeTools{descriptors: []types.ToolDescriptor{lightsTool()}}

	corrections := resolver.NewMemoryCorrectionStore()
	if err := corrections.Record(context.Background(), "turn on the lights please", []float32{1, 0}, "home__lights_on", map[string]any{"room_id": "den"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	r := newResolver(t, llmProv, embProv, tools, nil, corrections)

	plan, err := r.Resolve(context.Background(), types.TurnContext{SubjectID: "alice"}, "turn on the lights please")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Kind != types.PlanDirectAction || plan.DirectAction.ToolName != "home__lights_on" {
		t.Fatalf("plan = %+v, want DirectAction home__lights_on from correction", plan)
	}
	if len(llmProv.CompleteCalls) != 0 {
		t.Fatalf("classifier should be bypassed on a strong correction match, got %d calls", len(llmProv.CompleteCalls))
	}
}

func TestMemoryCapture_UnambiguousDeclarationIsRecorded(t *testing.T) {
	llmProv := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"ranked":[{"choice":"conversation","confidence":0.1,"args":{}}]}`,
	}}
	embProv := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	facts := resolver.NewMemoryFacts()

	r := resolver.New(llmProv, embProv, fakeTools{}, fakeNotifications{}, facts, nil, nil, nil, resolver.Config{})

	if _, err := r.Resolve(context.Background(), types.TurnContext{SubjectID: "alice", SessionID: "sess-1"}, "remember that I am allergic to peanuts"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got := facts.ForSubject("alice")
	if len(got) != 1 {
		t.Fatalf("facts = %+v, want one captured fact", got)
	}
	if got[0].FactText != "I am allergic to peanuts" {
		t.Fatalf("FactText = %q", got[0].FactText)
	}
}
