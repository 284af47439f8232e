package app

import (
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/renfield/renfield/internal/config"
	"github.com/renfield/renfield/pkg/provider/embeddings"
	embeddingsollama "github.com/renfield/renfield/pkg/provider/embeddings/ollama"
	embeddingsopenai "github.com/renfield/renfield/pkg/provider/embeddings/openai"
	"github.com/renfield/renfield/pkg/provider/llm"
	"github.com/renfield/renfield/pkg/provider/llm/anyllm"
	llmopenai "github.com/renfield/renfield/pkg/provider/llm/openai"
	"github.com/renfield/renfield/pkg/provider/stt"
	"github.com/renfield/renfield/pkg/provider/stt/deepgram"
	"github.com/renfield/renfield/pkg/provider/stt/whisper"
	"github.com/renfield/renfield/pkg/provider/tts"
	"github.com/renfield/renfield/pkg/provider/tts/coqui"
	"github.com/renfield/renfield/pkg/provider/tts/elevenlabs"
)

// Providers holds the concrete provider instances wired for a running
// application. Every field may be nil when its config section is disabled
// or names a provider whose factory was never registered.
//
// LLM is split by role because a single [config.LLMConfig] block shares
// credentials across several model roles (spec.md §6): Chat backs ordinary
// conversational replies and RAG-augmented synthesis (the Turn Engine has
// one llm.Provider slot and reuses it for both), and Intent backs the
// resolver's classifier step. The resolver's embedding calls go through
// Embeddings, a separate provider whose Model falls back to
// LLMConfig.EmbedModel. BuildProviders constructs one
// llm.Provider per populated role from the same factory, since turn.New
// and resolver.New each accept a single provider. LLMConfig.RAGModel is
// validated but not wired to a distinct provider instance: nothing in the
// Turn Engine calls a second model for RAG synthesis today (see
// DESIGN.md).
type Providers struct {
	ChatLLM   llm.Provider
	IntentLLM llm.Provider

	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// RegisterBuiltinProviders registers every provider factory that ships with
// renfield under its config-file name.
func RegisterBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(c config.LLMConfig) (llm.Provider, error) {
		opts := []llmopenai.Option{}
		if c.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(c.BaseURL))
		}
		if c.Timeout > 0 {
			opts = append(opts, llmopenai.WithTimeout(c.Timeout.Duration()))
		}
		return llmopenai.New(c.APIKey, c.ChatModel, opts...)
	})
	reg.RegisterLLM("anyllm", func(c config.LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if c.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(c.APIKey))
		}
		if c.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(c.BaseURL))
		}
		return anyllm.NewOpenAI(c.ChatModel, opts...)
	})

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		return deepgram.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if e.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(e.Timeout.Duration()))
		}
		return coqui.New(e.BaseURL, opts...)
	})

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		var opts []embeddingsopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, embeddingsopenai.WithBaseURL(e.BaseURL))
		}
		if e.Timeout > 0 {
			opts = append(opts, embeddingsopenai.WithTimeout(e.Timeout.Duration()))
		}
		return embeddingsopenai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		var opts []embeddingsollama.Option
		if e.Timeout > 0 {
			opts = append(opts, embeddingsollama.WithTimeout(e.Timeout.Duration()))
		}
		return embeddingsollama.New(e.BaseURL, e.Model, opts...)
	})
}

// roleLLM returns a copy of llmCfg with ChatModel swapped to model, so the
// same credentials/provider name can back a second model role.
// BuildProviders calls it only when IntentModel is non-empty.
func roleLLM(llmCfg config.LLMConfig, model string) config.LLMConfig {
	c := llmCfg
	c.ChatModel = model
	return c
}

// BuildProviders instantiates every provider enabled in cfg using reg,
// wiring the LLM block's chat and intent roles from one shared
// [config.LLMConfig] (see [Providers]). An enabled provider whose name has
// no registered factory fails startup: an enabled-but-unbuildable provider
// is a config error, not something to silently run without.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	if cfg.Providers.LLM.Enabled && cfg.Providers.LLM.Name != "" {
		p, err := createLLMRole(reg, cfg.Providers.LLM, "chat")
		if err != nil {
			return nil, err
		}
		ps.ChatLLM = p

		if cfg.Providers.LLM.IntentModel != "" {
			p, err := createLLMRole(reg, roleLLM(cfg.Providers.LLM, cfg.Providers.LLM.IntentModel), "intent")
			if err != nil {
				return nil, err
			}
			ps.IntentLLM = p
		}
	}

	if cfg.Providers.STT.Enabled && cfg.Providers.STT.Name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
		}
		ps.STT = p
	}

	if cfg.Providers.TTS.Enabled && cfg.Providers.TTS.Name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
		}
		ps.TTS = p
	}

	embEntry := cfg.Providers.Embeddings
	if embEntry.Enabled && embEntry.Name != "" {
		if embEntry.Model == "" {
			embEntry.Model = cfg.Providers.LLM.EmbedModel
		}
		p, err := reg.CreateEmbeddings(embEntry)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", embEntry.Name, err)
		}
		ps.Embeddings = p
	}

	return ps, nil
}

func createLLMRole(reg *config.Registry, entry config.LLMConfig, role string) (llm.Provider, error) {
	p, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create %s llm provider %q: %w", role, entry.Name, err)
	}
	return p, nil
}
