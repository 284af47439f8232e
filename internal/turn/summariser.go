package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/renfield/renfield/internal/session"
	"github.com/renfield/renfield/pkg/provider/llm"
	"github.com/renfield/renfield/pkg/types"
)

// llmSummariser implements session.Summariser by asking the chat LLM to
// compress a run of older messages into a short paragraph.
type llmSummariser struct {
	provider llm.Provider
}

var _ session.Summariser = (*llmSummariser)(nil)

const summarySystemPrompt = `You are compressing the older half of a conversation transcript so it can
be replaced by a short summary while the conversation continues.

Preserve names, numbers, decisions, and open questions. Omit small talk.
Respond with a single paragraph of plain text — no markdown, no preamble.`

func (s *llmSummariser) Summarise(ctx context.Context, messages []types.Message) (string, error) {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarySystemPrompt,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: b.String()},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("turn: summarise context: %w", err)
	}
	return resp.Content, nil
}
