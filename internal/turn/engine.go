package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/renfield/renfield/internal/observe"
	"github.com/renfield/renfield/pkg/provider/llm"
	"github.com/renfield/renfield/pkg/provider/tts"
	"github.com/renfield/renfield/pkg/types"
)

const eventBufferSize = 32

// Config bundles the Turn Engine's tunable timeouts and caps, defaulting to
// spec.md §5's values.
type Config struct {
	LLMWallTime    time.Duration
	TTSWallTime    time.Duration
	AgentStepCap   int
	AgentWallTime  time.Duration
	IdleSessionTTL time.Duration

	// SystemPrompt is the static persona/instruction prepended to every
	// completion request.
	SystemPrompt string
}

// DefaultConfig returns the timeouts and caps named in spec.md §5.
func DefaultConfig() Config {
	return Config{
		LLMWallTime:    120 * time.Second,
		TTSWallTime:    30 * time.Second,
		AgentStepCap:   12,
		AgentWallTime:  60 * time.Second,
		IdleSessionTTL: 30 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LLMWallTime <= 0 {
		c.LLMWallTime = d.LLMWallTime
	}
	if c.TTSWallTime <= 0 {
		c.TTSWallTime = d.TTSWallTime
	}
	if c.AgentStepCap <= 0 {
		c.AgentStepCap = d.AgentStepCap
	}
	if c.AgentWallTime <= 0 {
		c.AgentWallTime = d.AgentWallTime
	}
	if c.IdleSessionTTL <= 0 {
		c.IdleSessionTTL = d.IdleSessionTTL
	}
	return c
}

// ConversationStore is the narrow slice of the Conversation Store the Turn
// Engine depends on, kept as an interface so tests can supply a fake.
type ConversationStore interface {
	Append(ctx context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (types.Message, error)
	Window(ctx context.Context, sessionID string, maxMessages int) ([]types.Message, error)
}

// IntentResolver is the narrow slice of the Intent Resolver the Turn Engine
// depends on. Satisfied structurally by *resolver.Resolver.
type IntentResolver interface {
	Resolve(ctx context.Context, turn types.TurnContext, text string) (types.Plan, error)
}

// ToolDispatcher is the narrow slice of the Tool Dispatcher the Turn Engine
// depends on. Satisfied structurally by *dispatcher.Dispatcher.
type ToolDispatcher interface {
	Execute(ctx context.Context, toolCall types.ToolCall) types.ToolResult
}

// AudioDelivery hands synthesized audio to the Gateway for routing to the
// audio-output device selected per spec.md §4.6's policy. The Turn Engine
// never picks the device itself, and never imports the Gateway package.
type AudioDelivery interface {
	DeliverAudio(ctx context.Context, sessionID, roomID, originDeviceID string, audio <-chan []byte) error
}

// Input is a single inbound utterance ready to run as one turn.
type Input struct {
	Turn  types.TurnContext
	Text  string
	Voice types.VoiceProfile
}

// Engine runs exactly one turn end-to-end for a session at a time, per
// spec.md §4.5 and invariant I1.
type Engine struct {
	store      ConversationStore
	resolver   IntentResolver
	dispatcher ToolDispatcher
	tools      ToolLister
	llmProv    llm.Provider
	ttsProv    tts.Provider
	audio      AudioDelivery
	sessions   *Registry
	cfg        Config
}

// New returns an Engine backed by the given collaborators. tools and
// ttsProv may be nil: a nil tools disables tool offers during an AgentPlan
// loop (its calls still work via the Dispatcher), and a nil ttsProv or audio
// makes step 8 a no-op (TTSUnavailable, done.tts_handled=false).
func New(store ConversationStore, resolver IntentResolver, dispatcher ToolDispatcher, tools ToolLister, llmProv llm.Provider, ttsProv tts.Provider, audio AudioDelivery, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		tools:      tools,
		llmProv:    llmProv,
		ttsProv:    ttsProv,
		audio:      audio,
		sessions:   NewRegistry(cfg.IdleSessionTTL),
		cfg:        cfg,
	}
}

// contextWindowSize returns the channel-dependent window size of spec.md
// §4.5 step 2.
func contextWindowSize(t types.Transport) int {
	switch t {
	case types.TransportREST:
		return 20
	case types.TransportSatellite:
		return 5
	default:
		return 10 // browser-socket, and the safe default for an unset Transport
	}
}

// RunTurn acquires the session's turn mutex (step 1) and runs the turn in a
// background goroutine, returning a channel of Events emitted in the exact
// order the Turn Engine produces them (spec.md §5's ordering guarantee). The
// channel is closed once the turn finishes, fails, or is cancelled. Callers
// must drain it to avoid leaking the goroutine.
func (e *Engine) RunTurn(ctx context.Context, in Input) (<-chan types.Event, error) {
	release, ok := e.sessions.TryAcquire(in.Turn.SessionID)
	if !ok {
		return nil, ErrSessionBusy
	}

	metrics := observe.DefaultMetrics()
	metrics.ActiveSessions.Add(ctx, 1)

	out := make(chan types.Event, eventBufferSize)
	go func() {
		defer metrics.ActiveSessions.Add(ctx, -1)
		defer release()
		defer close(out)
		e.run(ctx, in, out)
	}()
	return out, nil
}

func (e *Engine) run(ctx context.Context, in Input, out chan<- types.Event) {
	sessionID := in.Turn.SessionID
	voiceOrigin := in.Turn.Channel == types.ChannelVoice

	start := time.Now()
	metrics := observe.DefaultMetrics()
	defer func() {
		metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
		metrics.RecordTurnCompleted(ctx, in.Turn.RoomID)
	}()

	// Step 2: load the channel-dependent context window.
	windowSize := contextWindowSize(in.Turn.Transport)
	window, err := e.store.Window(ctx, sessionID, windowSize)
	persistent := err == nil
	if !persistent {
		emit(ctx, out, types.Event{Type: types.EventError, SessionID: sessionID, Message: "conversation not persisted"})
	}

	// Step 3: persist the user message.
	if persistent {
		if _, appendErr := e.store.Append(ctx, sessionID, types.RoleUser, in.Text, nil); appendErr != nil {
			persistent = false
			emit(ctx, out, types.Event{Type: types.EventError, SessionID: sessionID, Message: "conversation not persisted"})
		}
	}

	turnCtx := in.Turn
	turnCtx.ContextWindow = window

	// Step 4: invoke the Intent Resolver.
	plan, err := e.resolver.Resolve(ctx, turnCtx, in.Text)
	if err != nil {
		e.finalize(ctx, out, finalizeInput{
			sessionID: sessionID, persistent: persistent, voiceOrigin: voiceOrigin,
			roomID: in.Turn.RoomID, deviceID: in.Turn.DeviceID, voice: in.Voice,
			text: fmt.Sprintf("I couldn't figure out what you meant: %v", err),
		})
		return
	}
	if plan.RAGUsed {
		emit(ctx, out, types.Event{Type: types.EventRAGContext, SessionID: sessionID, HasContext: len(plan.RAGChunks) > 0, Sources: ragSources(plan.RAGChunks)})
	}

	if plan.NeedsClarification {
		text := plan.ClarificationPrompt
		if text == "" {
			text = "Could you clarify what you'd like me to do?"
		}
		e.finalize(ctx, out, finalizeInput{
			sessionID: sessionID, persistent: persistent, voiceOrigin: voiceOrigin,
			roomID: in.Turn.RoomID, deviceID: in.Turn.DeviceID, voice: in.Voice,
			text: text, intent: "clarification",
		})
		return
	}

	e.execute(ctx, out, turnCtx, plan, persistent, in)
}

// emit writes an event, abandoning it if ctx is already cancelled — the
// Gateway's bounded outbound channel is the back-pressure point of spec.md
// §5, not the Turn Engine's internal event channel.
func emit(ctx context.Context, out chan<- types.Event, ev types.Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func ragSources(chunks []types.RAGChunk) []string {
	if len(chunks) == 0 {
		return nil
	}
	sources := make([]string, len(chunks))
	for i, c := range chunks {
		sources[i] = c.Source
	}
	return sources
}
