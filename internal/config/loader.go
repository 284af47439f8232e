package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anyllm"},
	"stt":        {"deepgram", "whisper"},
	"tts":        {"elevenlabs", "coqui"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Feature flags ↔ provider availability warnings.
	if cfg.Server.AgentEnabled && !cfg.Providers.LLM.Enabled {
		slog.Warn("server.agent_enabled is set but providers.llm is not enabled; the agent loop will have no model to call")
	}
	if cfg.Server.MemoryEnabled && cfg.Store.PostgresDSN == "" {
		slog.Warn("server.memory_enabled is set but store.postgres_dsn is empty; memory facts will not survive a restart")
	}

	// LLM role models
	if cfg.Providers.LLM.Enabled {
		if cfg.Providers.LLM.ChatModel == "" {
			errs = append(errs, errors.New("providers.llm.chat_model is required when providers.llm.enabled is true"))
		}
		if cfg.Server.AgentEnabled && cfg.Providers.LLM.IntentModel == "" {
			errs = append(errs, errors.New("providers.llm.intent_model is required when server.agent_enabled is true"))
		}
	}
	if cfg.Providers.RAG.Enabled && cfg.Providers.LLM.RAGModel == "" {
		errs = append(errs, errors.New("providers.llm.rag_model is required when providers.rag.enabled is true"))
	}
	if cfg.Providers.Embeddings.Enabled && cfg.Providers.Embeddings.Model == "" && cfg.Providers.LLM.EmbedModel == "" {
		errs = append(errs, errors.New("providers.embeddings.model is required unless providers.llm.embed_model is set"))
	}

	// Tool-provider servers
	names := make(map[string]int, len(cfg.Tools.Servers))
	for i, srv := range cfg.Tools.Servers {
		prefix := fmt.Sprintf("tools.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if prev, ok := names[srv.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.servers[%d]", prefix, srv.Name, prev))
		} else {
			names[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: child-process-stdio, long-poll-http, streaming-http", prefix, srv.Transport))
		}
		if srv.Transport == TransportChildProcessStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is child-process-stdio", prefix))
		}
		if (srv.Transport == TransportLongPollHTTP || srv.Transport == TransportStreamingHTTP) && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is %s", prefix, srv.Transport))
		}
	}

	// Cleanup schedule
	if cfg.Store.CleanupCron != "" && cfg.Store.CleanupOlderThanDays <= 0 {
		errs = append(errs, errors.New("store.cleanup_older_than_days must be positive when store.cleanup_cron is set"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
