// Package resolver implements the Intent Resolver: the component that turns
// a user utterance plus its turn context into one of three plans —
// conversational reply, a single direct tool call, or a bounded agent loop —
// per spec.md §4.4.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/renfield/renfield/pkg/provider/embeddings"
	"github.com/renfield/renfield/pkg/provider/llm"
	"github.com/renfield/renfield/pkg/provider/rag"
	"github.com/renfield/renfield/pkg/types"
)

// ProviderHealth is the narrow view onto tool-provider state the resolver
// needs for its tie-break rule (prefer the provider with the lower recent
// failure rate).
type ProviderHealth interface {
	ProviderState(provider string) types.ProviderState
}

// Config bounds the Resolver's decision thresholds and agent-loop caps.
// Zero values are replaced by DefaultConfig's values in New.
type Config struct {
	// LowConfidence and HighConfidence bound the three decision bands of
	// spec.md §4.4 step 5.
	LowConfidence  float64
	HighConfidence float64

	// TopK bounds how many candidate tool descriptors the classifier sees.
	TopK int

	// AgentStepCap and AgentWallCap bound an AgentPlan's reasoning loop.
	AgentStepCap int
	AgentWallCap time.Duration

	// RAGTopK bounds how many chunks are retrieved when use_rag is set.
	RAGTopK int
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		LowConfidence:  0.35,
		HighConfidence: 0.75,
		TopK:           8,
		AgentStepCap:   12,
		AgentWallCap:   60 * time.Second,
		RAGTopK:        5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.LowConfidence == 0 {
		c.LowConfidence = def.LowConfidence
	}
	if c.HighConfidence == 0 {
		c.HighConfidence = def.HighConfidence
	}
	if c.TopK == 0 {
		c.TopK = def.TopK
	}
	if c.AgentStepCap == 0 {
		c.AgentStepCap = def.AgentStepCap
	}
	if c.AgentWallCap == 0 {
		c.AgentWallCap = def.AgentWallCap
	}
	if c.RAGTopK == 0 {
		c.RAGTopK = def.RAGTopK
	}
	return c
}

// Resolver implements the Intent Resolver described in spec.md §4.4.
type Resolver struct {
	llm        llm.Provider
	embeddings embeddings.Provider
	tools      ToolLister
	health     ProviderHealth
	rag        rag.Provider

	notifications NotificationLookup
	memoryFacts   MemoryFactStore
	corrections   CorrectionStore

	ranker *candidateRanker
	cfg    Config
}

// New constructs a Resolver. notifications, memoryFacts, corrections, and
// rag may be nil to disable their respective steps; health may be nil, in
// which case the provider-failure-rate tie-break always considers providers
// equal.
func New(
	llmProvider llm.Provider,
	embeddingProvider embeddings.Provider,
	tools ToolLister,
	notifications NotificationLookup,
	memoryFacts MemoryFactStore,
	corrections CorrectionStore,
	ragProvider rag.Provider,
	health ProviderHealth,
	cfg Config,
) *Resolver {
	return &Resolver{
		llm:           llmProvider,
		embeddings:    embeddingProvider,
		tools:         tools,
		notifications: notifications,
		memoryFacts:   memoryFacts,
		corrections:   corrections,
		rag:           ragProvider,
		health:        health,
		ranker:        newCandidateRanker(),
		cfg:           cfg.withDefaults(),
	}
}

// Resolve implements spec.md §4.4's full resolution procedure for a single
// utterance.
func (r *Resolver) Resolve(ctx context.Context, turn types.TurnContext, text string) (types.Plan, error) {
	// Step 1: proactive-notification ack short-circuit.
	if plan, err := r.resolveNotificationAck(ctx, turn.SubjectID, text); err != nil {
		return types.Plan{}, err
	} else if plan != nil {
		return r.attachRAG(ctx, turn, text, *plan), nil
	}

	// Step 2: memory capture is a side effect that runs alongside — never
	// instead of — the rest of resolution.
	r.captureMemoryFact(ctx, turn.SubjectID, turn.SessionID, text)

	queryEmbedding, embErr := r.embeddings.Embed(ctx, text)
	if embErr != nil {
		slog.Warn("resolver: embed utterance failed, skipping feedback retrieval and ranking", "error", embErr)
	}

	// Step 3: feedback-learning retrieval.
	if embErr == nil && r.corrections != nil {
		if plan, ok := r.resolveFromCorrection(ctx, queryEmbedding); ok {
			return r.attachRAG(ctx, turn, text, plan), nil
		}
	}

	descriptors := r.tools.Tools()
	candidates := descriptors
	if embErr == nil && len(descriptors) > r.cfg.TopK {
		ranked, err := r.topK(ctx, descriptors, queryEmbedding, r.cfg.TopK)
		if err != nil {
			slog.Warn("resolver: rank candidates failed, falling back to unranked set", "error", err)
		} else {
			candidates = ranked
		}
	}

	// Step 4: ranked intent scoring.
	ranked, err := r.classify(ctx, text, candidates)
	if err != nil {
		return types.Plan{}, fmt.Errorf("resolver: resolve: %w", err)
	}

	// Step 5: decision, including the tie-break rules.
	winner := r.breakTies(ranked)
	plan := r.decide(winner, turn)

	// Step 6: parameter completion.
	r.completeParameters(&plan, turn)

	return r.attachRAG(ctx, turn, text, plan), nil
}

// resolveFromCorrection implements spec.md §4.4 step 3: if a prior
// correction's embedding is a strong match, its corrected intent is used
// directly rather than re-classifying.
func (r *Resolver) resolveFromCorrection(ctx context.Context, queryEmbedding []float32) (types.Plan, bool) {
	rec, similarity, ok, err := r.corrections.Nearest(ctx, queryEmbedding)
	if err != nil {
		slog.Warn("resolver: correction lookup failed", "error", err)
		return types.Plan{}, false
	}
	if !ok || similarity < correctionSimilarityFloor {
		return types.Plan{}, false
	}

	if rec.CorrectedIntent == "conversation" {
		return types.Plan{Kind: types.PlanConversation, Conversation: &types.ConversationDetail{}, Confidence: similarity}, true
	}
	if rec.CorrectedIntent == "agent" {
		return types.Plan{
			Kind:       types.PlanAgent,
			Agent:      &types.AgentDetail{StepCap: r.cfg.AgentStepCap, WallCap: r.cfg.AgentWallCap},
			Confidence: similarity,
		}, true
	}
	return types.Plan{
		Kind: types.PlanDirectAction,
		DirectAction: &types.DirectActionDetail{
			ToolName: rec.CorrectedIntent,
			Args:     rec.CorrectedArgs,
		},
		Confidence: similarity,
	}, true
}

// tieEpsilon is how close two confidences must be to be treated as a tie.
const tieEpsilon = 0.02

// breakTies implements spec.md §4.4's tie-break rules over the classifier's
// ranked candidates: higher confidence wins; ties prefer fully-bound
// arguments; remaining ties prefer the provider with the lower recent
// failure rate.
func (r *Resolver) breakTies(ranked []classification) classification {
	best := ranked[0]
	for _, c := range ranked[1:] {
		switch {
		case c.Confidence > best.Confidence+tieEpsilon:
			best = c
		case c.Confidence < best.Confidence-tieEpsilon:
			// c is clearly worse than best; keep best.
		case len(c.Args) != len(best.Args):
			if len(c.Args) > len(best.Args) {
				best = c
			}
		case r.providerHealthRank(c.Choice) < r.providerHealthRank(best.Choice):
			best = c
		}
	}
	return best
}

// providerHealthRank returns a lower-is-healthier score for the provider
// that owns toolName, used only to break otherwise-equal ties.
func (r *Resolver) providerHealthRank(toolName string) int {
	if r.health == nil {
		return 0
	}
	provider, _, found := strings.Cut(toolName, "__")
	if !found {
		return 0
	}
	switch r.health.ProviderState(provider) {
	case types.ProviderReady:
		return 0
	case types.ProviderDegraded:
		return 1
	default:
		return 2
	}
}

// decide implements spec.md §4.4 step 5.
func (r *Resolver) decide(result classification, turn types.TurnContext) types.Plan {
	isToolChoice := result.Choice != "conversation" && result.Choice != "agent"

	switch {
	case result.Confidence >= r.cfg.HighConfidence && isToolChoice:
		return types.Plan{
			Kind: types.PlanDirectAction,
			DirectAction: &types.DirectActionDetail{
				ToolName: result.Choice,
				Args:     result.Args,
			},
			Confidence: result.Confidence,
		}

	case result.Confidence >= r.cfg.LowConfidence:
		if turn.AgentEnabled {
			return types.Plan{
				Kind:       types.PlanAgent,
				Agent:      &types.AgentDetail{StepCap: r.cfg.AgentStepCap, WallCap: r.cfg.AgentWallCap, Hint: result.Choice},
				Confidence: result.Confidence,
			}
		}
		return types.Plan{
			Kind:         types.PlanConversation,
			Conversation: &types.ConversationDetail{Hint: result.Choice},
			Confidence:   result.Confidence,
		}

	default:
		return types.Plan{Kind: types.PlanConversation, Conversation: &types.ConversationDetail{}, Confidence: result.Confidence}
	}
}

// completeParameters implements spec.md §4.4 step 6: unresolved required
// arguments are filled from room/subject context where possible, else the
// plan is flagged for clarification.
func (r *Resolver) completeParameters(plan *types.Plan, turn types.TurnContext) {
	if plan.Kind != types.PlanDirectAction || plan.DirectAction == nil {
		return
	}

	descriptor, ok := r.descriptorFor(plan.DirectAction.ToolName)
	if !ok {
		return
	}

	required, _ := descriptor.Parameters["required"].([]any)
	if plan.DirectAction.Args == nil {
		plan.DirectAction.Args = map[string]any{}
	}

	for _, req := range required {
		name, _ := req.(string)
		if name == "" {
			continue
		}
		if _, present := plan.DirectAction.Args[name]; present {
			continue
		}
		if filled, ok := defaultArgFromContext(name, turn); ok {
			plan.DirectAction.Args[name] = filled
			continue
		}
		plan.NeedsClarification = true
		plan.ClarificationPrompt = fmt.Sprintf("I need a value for %q to do that — could you clarify?", name)
	}
}

// defaultArgFromContext fills common parameter names from the turn's
// room/subject context, mirroring spec.md §4.4's "room defaults entity
// scope" example.
func defaultArgFromContext(name string, turn types.TurnContext) (any, bool) {
	switch strings.ToLower(name) {
	case "room_id", "room":
		if turn.RoomID != "" {
			return turn.RoomID, true
		}
	case "subject_id", "user_id":
		if turn.SubjectID != "" {
			return turn.SubjectID, true
		}
	}
	return nil, false
}

func (r *Resolver) descriptorFor(toolName string) (types.ToolDescriptor, bool) {
	for _, d := range r.tools.Tools() {
		if d.Name == toolName {
			return d, true
		}
	}
	return types.ToolDescriptor{}, false
}

// attachRAG implements spec.md §4.4's RAG integration note: when use_rag is
// set, retrieved chunks are attached regardless of plan kind.
func (r *Resolver) attachRAG(ctx context.Context, turn types.TurnContext, text string, plan types.Plan) types.Plan {
	if !turn.UseRAG || r.rag == nil {
		return plan
	}

	chunks, err := r.rag.Retrieve(ctx, turn.KnowledgeBaseID, text, r.cfg.RAGTopK, turn.AttachmentIDs)
	if err != nil {
		slog.Warn("resolver: rag retrieval failed", "error", err)
		return plan
	}
	plan.RAGUsed = true
	plan.RAGChunks = chunks
	return plan
}
