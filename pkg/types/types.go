// Package types defines the shared data model used across Renfield's packages.
//
// These types form the lingua franca between the Gateway, the Turn Engine, the
// Conversation Store, the Tool Registry/Dispatcher, and the Intent Resolver, plus
// the external LLM/STT/TTS/RAG collaborators. Each package may define its own
// narrow helper types, but cross-cutting data structures live here to avoid
// circular imports.
package types

import "time"

// DeviceKind enumerates the recognised classes of edge device.
type DeviceKind string

const (
	DeviceStationaryPanel DeviceKind = "stationary-panel"
	DeviceMobileTablet    DeviceKind = "mobile-tablet"
	DeviceBrowser         DeviceKind = "browser"
	DeviceKiosk           DeviceKind = "kiosk"
	DeviceSatellite       DeviceKind = "satellite"
)

// DeviceCapabilities declares what hardware a Device exposes.
type DeviceCapabilities struct {
	HasMicrophone bool
	HasSpeaker    bool
	HasWakeword   bool
	HasDisplay    bool
}

// Device is any connected client: stationary panel, mobile tablet, browser,
// kiosk, or satellite. Identity is client-generated and stable across
// reconnects.
type Device struct {
	DeviceID     string
	Kind         DeviceKind
	Capabilities DeviceCapabilities
	RoomID       string
	RoomAssigned bool // true once RoomID was set by an admin collaborator (I4)
	IsStationary bool

	LastHeartbeat time.Time
	Online        bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Room groups zero or more Devices and is used to pick an audio-output device
// when the turn's origin device has no speaker.
type Room struct {
	RoomID   string
	Name     string
	AreaID   string // optional external-area mapping
	DeviceIDs []string
}

// Session is a named ordered transcript. Browser/REST sessions are
// user-chosen and may span days; satellite sessions auto-rotate daily.
type Session struct {
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionSummary is the aggregate view returned by Conversation Store's
// summarize operation.
type SessionSummary struct {
	SessionID      string
	MessageCount   int
	FirstMessageAt time.Time
	LastMessageAt  time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Role enumerates the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message is an immutable, append-only record in a Session's transcript.
// Sequence is server-assigned and strictly increasing per session (I2).
type Message struct {
	SessionID  string
	Sequence   int64
	Role       Role
	Content    string
	Metadata   map[string]any
	Timestamp  time.Time

	// ToolCalls and Name/ToolCallID round out the LLM-facing shape of a
	// message, mirrored from the Message.Metadata for convenience when the
	// message flows directly into a CompletionRequest.
	Name       string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall represents a single tool/function invocation requested by the LLM,
// optionally carrying its result once the Dispatcher has executed it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Result    *ToolResult
}

// ToolResult is the uniform envelope every tool-facing boundary returns,
// replacing exception-as-control-flow for tool errors.
type ToolResult struct {
	OK    bool
	Value any
	Error *ToolError
}

// ToolError classifies a failed tool invocation.
type ToolError struct {
	Kind      string
	Message   string
	Retriable bool
}

// ToolDescriptor describes a single callable tool, namespaced by its
// originating provider as "{provider}__{tool}".
type ToolDescriptor struct {
	Name                string // "{provider}__{original}"
	Provider             string
	OriginalName         string
	Description          string
	Parameters           map[string]any // JSON Schema
	OutputHint           map[string]any
	EstimatedDurationMs  int
	MaxDurationMs        int
	Idempotent           bool
	CacheableSeconds     int
}

// ToolDefinition is the LLM-facing projection of a ToolDescriptor, accepted
// by pkg/provider/llm.Provider.
type ToolDefinition struct {
	Name                string
	Description         string
	Parameters          map[string]any
	EstimatedDurationMs int
	MaxDurationMs       int
	Idempotent          bool
	CacheableSeconds    int
}

// TransportKind enumerates how the Tool Registry talks to a provider process.
type TransportKind string

const (
	TransportChildProcessStdio TransportKind = "child-process-stdio"
	TransportLongPollHTTP      TransportKind = "long-poll-http"
	TransportStreamingHTTP     TransportKind = "streaming-http"
)

// ProviderState enumerates the lifecycle states of a registered tool provider.
type ProviderState string

const (
	ProviderDisconnected ProviderState = "disconnected"
	ProviderConnecting   ProviderState = "connecting"
	ProviderReady        ProviderState = "ready"
	ProviderDegraded     ProviderState = "degraded"
	ProviderFailed       ProviderState = "failed"
)

// RateLimitPolicy configures a provider's per-minute request budget.
type RateLimitPolicy struct {
	RequestsPerMinute int
	SlackMs           int
}

// Provider describes a single tool-provider process/endpoint tracked by the
// Tool Registry.
type Provider struct {
	Name            string
	Transport       TransportKind
	State           ProviderState
	LastError       string
	ToolCount       int
	RateLimit       RateLimitPolicy
	BreakerState    string // mirrors resilience.State.String()
}

// Channel enumerates the input modality of a turn.
type Channel string

const (
	ChannelText  Channel = "text"
	ChannelVoice Channel = "voice"
)

// Transport enumerates the surface a turn arrived through, which determines
// the Conversation Store context-window size per spec.md §4.5.
type Transport string

const (
	TransportREST          Transport = "rest"
	TransportBrowserSocket Transport = "browser-socket"
	TransportSatellite     Transport = "satellite"
)

// TurnContext is an ephemeral per-turn record threaded through the Intent
// Resolver and Turn Engine.
type TurnContext struct {
	SessionID       string
	DeviceID        string
	RoomID          string
	SubjectID       string
	Channel         Channel
	Transport       Transport
	ContextWindow   []Message
	UseRAG          bool
	KnowledgeBaseID string
	AttachmentIDs   []string

	AgentEnabled bool
}

// PlanKind discriminates the tagged Plan variant returned by the Intent
// Resolver.
type PlanKind string

const (
	PlanConversation PlanKind = "conversation"
	PlanDirectAction PlanKind = "direct_action"
	PlanAgent        PlanKind = "agent"
)

// Plan is the Intent Resolver's decision, modeled as a tagged variant rather
// than a dynamically-shaped dict. Exactly one of the *Detail fields is
// meaningful, selected by Kind.
type Plan struct {
	Kind PlanKind

	// DirectAction is populated when Kind == PlanDirectAction.
	DirectAction *DirectActionDetail

	// Agent is populated when Kind == PlanAgent.
	Agent *AgentDetail

	// Conversation is populated when Kind == PlanConversation.
	Conversation *ConversationDetail

	// NeedsClarification is set when required arguments could not be
	// completed from context; the Turn Engine emits a clarifying question
	// instead of executing the plan.
	NeedsClarification bool
	ClarificationPrompt string

	// RAGUsed/RAGChunks are populated regardless of Kind when use_rag is set.
	RAGUsed   bool
	RAGChunks []RAGChunk

	Confidence float64
}

// DirectActionDetail carries a single resolved tool call for a
// DirectActionPlan.
type DirectActionDetail struct {
	ToolName string
	Args     map[string]any
}

// AgentDetail bounds a multi-step AgentPlan loop.
type AgentDetail struct {
	StepCap  int
	WallCap  time.Duration
	Hint     string
}

// ConversationDetail carries the system-prompt hint for a pure-conversation
// plan (e.g. when an AgentPlan was downgraded because agent mode is
// disabled).
type ConversationDetail struct {
	Hint string
}

// RAGChunk is a single retrieved passage injected into the generation
// prompt when RAG is enabled.
type RAGChunk struct {
	Source  string
	Content string
	Score   float64
}

// NotificationStatus enumerates the lifecycle of a proactive notification.
type NotificationStatus string

const (
	NotificationPending      NotificationStatus = "pending"
	NotificationDelivered    NotificationStatus = "delivered"
	NotificationAcknowledged NotificationStatus = "acknowledged"
	NotificationDismissed    NotificationStatus = "dismissed"
)

// NotificationRecord backs proactive notifications delivered through the
// Device Gateway and acknowledged via a notification_ack frame.
type NotificationRecord struct {
	NotificationID   string
	SubjectID        string
	RoomID           string
	Payload          map[string]any
	DeliveredDevices []string
	Status           NotificationStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CorrectionRecord backs the Intent Resolver's feedback-learning retrieval
// step: a previously corrected (utterance pattern → intent) pair, looked up
// by embedding similarity.
type CorrectionRecord struct {
	Pattern         string
	Embedding       []float32
	CorrectedIntent string
	CorrectedArgs   map[string]any
	HitCount        int
	CreatedAt       time.Time
}

// MemoryFact backs the Intent Resolver's memory-capture side effect: a
// long-term fact the subject asked to be remembered.
type MemoryFact struct {
	SubjectID       string
	FactText        string
	SourceSessionID string
	CreatedAt       time.Time
}

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Words      []WordDetail
	SpeakerID  string
	Timestamp  time.Duration
	Duration   time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a keyword to boost in STT recognition, e.g. a
// device-local wake phrase or a user-defined entity name.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	ID          string
	Name        string
	Provider    string
	PitchShift  float64
	SpeedFactor float64
	Metadata    map[string]string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
	SupportsVision      bool
	SupportsStreaming   bool
}

// AudioFrame represents a single frame of PCM audio flowing between the STT
// collaborator, the TTS collaborator, and an audio-output Device.
type AudioFrame struct {
	Data       []byte
	SampleRate int
	Channels   int
	Timestamp  time.Duration
}
