// Package config provides the configuration schema, loader, and provider
// registry for the Renfield core.
package config

import "time"

// Config is the root configuration structure for the Renfield core.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Notify    NotifyConfig    `yaml:"notify"`
	Providers ProvidersConfig `yaml:"providers"`
	Tools     ToolsConfig     `yaml:"tools"`
}

// ServerConfig holds network, logging, and top-level feature-flag settings
// for the core server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`

	// AgentEnabled is checked when the configuration is loaded (enabling it
	// requires providers.llm.intent_model). It is not copied into the
	// TurnContext of turns started through the REST API or the Device
	// Gateway, so the Intent Resolver treats agent mode as disabled on
	// every turn.
	AgentEnabled bool `yaml:"agent_enabled"`

	// MemoryEnabled turns on persisted memory-fact capture and recall.
	MemoryEnabled bool `yaml:"memory_enabled"`

	// ProactiveEnabled is decoded but not read at runtime; the
	// POST /webhooks/notify endpoint is mounted whether or not it is set.
	ProactiveEnabled bool `yaml:"proactive_enabled"`

	// MetricsEnabled is decoded but not read at runtime; GET /metrics is
	// mounted whether or not it is set.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// AuthEnabled is decoded but not read at runtime; the Device Gateway
	// accepts device registration without any token whether or not it is
	// set.
	AuthEnabled bool `yaml:"auth_enabled"`
}

// LogLevel is a validated slog verbosity selector.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised LogLevel values.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// StoreConfig configures the Conversation Store and its scheduled cleanup.
type StoreConfig struct {
	// PostgresDSN is the PostgreSQL connection string. Empty selects the
	// in-memory store, suitable for development and tests.
	PostgresDSN string `yaml:"postgres_dsn"`

	// CleanupCron is the robfig/cron/v3 schedule expression that triggers
	// the scheduled Cleanup job. Empty disables the scheduled job (Cleanup
	// remains callable directly).
	CleanupCron string `yaml:"cleanup_cron"`

	// CleanupOlderThanDays is the age threshold passed to Cleanup.
	CleanupOlderThanDays int `yaml:"cleanup_older_than_days"`
}

// NotifyConfig configures the Notifications store's scheduled cleanup. It
// rides the same cron trigger as StoreConfig.CleanupCron.
type NotifyConfig struct {
	// PostgresDSN is the PostgreSQL connection string. Empty selects the
	// in-memory store.
	PostgresDSN string `yaml:"postgres_dsn"`

	// CleanupOlderThanDays is the age threshold applied to terminal
	// (acknowledged/dismissed) notifications.
	CleanupOlderThanDays int `yaml:"cleanup_older_than_days"`
}

// ProvidersConfig declares connection and model settings for every provider
// kind the core depends on.
type ProvidersConfig struct {
	LLM        LLMConfig     `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Embeddings ProviderEntry `yaml:"embeddings"`
	RAG        ProviderEntry `yaml:"rag"`
}

// Seconds is a duration expressed in whole seconds in YAML, decoded to a
// [time.Duration].
type Seconds int

// Duration returns s as a [time.Duration].
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// RateLimitConfig mirrors [types.RateLimitPolicy] in YAML-friendly form.
type RateLimitConfig struct {
	// RequestsPerMinute is the provider's per-minute request budget.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// SlackMs bounds how long a caller over budget waits before failing
	// fast with RateLimited.
	SlackMs int `yaml:"slack_ms"`
}

// ProviderEntry is the common configuration block shared by the single-role
// provider kinds (STT, TTS, Embeddings, RAG).
type ProviderEntry struct {
	// Enabled gates whether this provider is constructed at startup.
	Enabled bool `yaml:"enabled"`

	// Name selects the registered provider implementation (e.g.,
	// "deepgram", "elevenlabs", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// RateLimit configures the provider's per-minute request budget.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Timeout bounds a single call to this provider, in seconds.
	Timeout Seconds `yaml:"timeout"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// LLMConfig configures the LLM provider and the distinct model assigned to
// each of the core's four LLM-consuming roles. All four roles share the same
// credentials and provider implementation.
type LLMConfig struct {
	// Enabled gates whether an LLM provider is constructed at startup.
	Enabled bool `yaml:"enabled"`

	// Name selects the registered provider implementation (e.g., "openai",
	// "anthropic", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// ChatModel answers ordinary conversational turns.
	ChatModel string `yaml:"chat_model"`

	// IntentModel classifies each turn's intent (Intent Resolver).
	IntentModel string `yaml:"intent_model"`

	// RAGModel is reserved for a future retrieval-synthesis model distinct
	// from ChatModel. The turn engine currently reuses ChatLLM to compose
	// replies once retrieval context has been attached, so this field is
	// validated but not yet wired to its own provider instance.
	RAGModel string `yaml:"rag_model"`

	// EmbedModel is used when Providers.Embeddings has no Model of its
	// own, whichever provider Providers.Embeddings names.
	EmbedModel string `yaml:"embed_model"`

	// RateLimit configures the provider's per-minute request budget,
	// shared by all four roles.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Timeout bounds a single completion call, in seconds.
	Timeout Seconds `yaml:"timeout"`

	// Agent describes a distinct endpoint for the agent loop's tool-calling
	// completions. It is decoded, but BuildProviders does not read it: the
	// agent loop runs on the chat provider built from ChatModel.
	Agent *AgentEndpointConfig `yaml:"agent,omitempty"`
}

// AgentEndpointConfig describes an LLM connection for the agent loop; see
// LLMConfig.Agent.
type AgentEndpointConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// ToolsConfig holds the list of tool-provider (MCP-style) servers the Tool
// Registry connects to.
type ToolsConfig struct {
	Servers []ToolServerConfig `yaml:"servers"`
}

// ToolServerConfig describes how to connect to a single tool-provider
// process or endpoint. Its shape mirrors registry.ServerConfig.
type ToolServerConfig struct {
	// Name is the provider's unique handle; used as the Tool Registry's
	// namespace prefix for every tool it supplies.
	Name string `yaml:"name"`

	// Transport selects the connection mechanism. Valid values:
	// "child-process-stdio", "long-poll-http", "streaming-http".
	Transport TransportKind `yaml:"transport"`

	// Command is the executable (with optional arguments) used for
	// child-process-stdio transport.
	Command string `yaml:"command"`

	// URL is the endpoint used for long-poll-http / streaming-http transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables for a stdio subprocess.
	Env map[string]string `yaml:"env"`

	// RateLimit configures this provider's per-minute request budget,
	// consumed by the Tool Dispatcher.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// TransportKind is a validated selector for ToolServerConfig.Transport.
type TransportKind string

const (
	TransportChildProcessStdio TransportKind = "child-process-stdio"
	TransportLongPollHTTP      TransportKind = "long-poll-http"
	TransportStreamingHTTP     TransportKind = "streaming-http"
)

// IsValid reports whether t is one of the recognised TransportKind values.
func (t TransportKind) IsValid() bool {
	switch t {
	case TransportChildProcessStdio, TransportLongPollHTTP, TransportStreamingHTTP:
		return true
	default:
		return false
	}
}
