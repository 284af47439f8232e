package config_test

import (
	"strings"
	"testing"

	"github.com/renfield/renfield/internal/config"
)

func TestValidate_RAGEnabledRequiresRAGModel(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  rag:
    enabled: true
    name: pinecone
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for rag enabled without providers.llm.rag_model, got nil")
	}
	if !strings.Contains(err.Error(), "rag_model") {
		t.Errorf("error should mention rag_model, got: %v", err)
	}
}

func TestValidate_EmbeddingsEnabledRequiresModel(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  embeddings:
    enabled: true
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for embeddings enabled without a model, got nil")
	}
}

func TestValidate_EmbeddingsFallsBackToLLMEmbedModel(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  embeddings:
    enabled: true
    name: openai
  llm:
    embed_model: text-embedding-3-small
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
tools:
  servers:
    - name: dup
      transport: child-process-stdio
      command: /bin/a
    - name: dup
      transport: child-process-stdio
      command: /bin/b
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
