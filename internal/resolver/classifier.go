package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/renfield/renfield/pkg/provider/llm"
	"github.com/renfield/renfield/pkg/types"
)

const classifierTemperature = 0.0

// classifierSystemPromptTemplate asks the model to rank the utterance against
// at most topK candidate tools. The candidate list is appended at call time.
const classifierSystemPromptTemplate = `You are the intent classifier for a voice and chat assistant hub.

Given a user message and a list of candidate tools, decide how the message
should be handled:

- If the message is clearly requesting one of the listed tools, choose that
  tool's exact name and extract its arguments from the message.
- If the message requires multiple tool calls or open-ended reasoning across
  tools, choose "agent".
- If the message is conversational and does not require any tool, choose
  "conversation".

Candidate tools:
%s

Rank your best 1-3 interpretations, most likely first. Respond with ONLY a
JSON object in this exact format (no markdown, no prose):
{
  "ranked": [
    {"choice": "<tool name, \"agent\", or \"conversation\">", "confidence": <0.0-1.0>, "args": {<extracted arguments, empty object if none>}}
  ]
}`

// classification is a single ranked candidate from spec.md §4.4 step 4's
// intent scoring.
type classification struct {
	Choice     string
	Confidence float64
	Args       map[string]any
}

type classifierResponse struct {
	Ranked []struct {
		Choice     string         `json:"choice"`
		Confidence float64        `json:"confidence"`
		Args       map[string]any `json:"args"`
	} `json:"ranked"`
}

// classify scores text against candidates (at most topK tool descriptors,
// already ordered by embedding similarity by the caller) using the LLM, per
// spec.md §4.4 step 4. The result is ordered most-confident first.
//
// On an unparseable LLM response, classify degrades gracefully to a single
// low-confidence conversation choice rather than failing resolution.
func (r *Resolver) classify(ctx context.Context, text string, candidates []types.ToolDescriptor) ([]classification, error) {
	sysPrompt := buildClassifierPrompt(candidates)

	req := llm.CompletionRequest{
		SystemPrompt: sysPrompt,
		Temperature:  classifierTemperature,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: text},
		},
	}

	resp, err := r.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("resolver: classify: complete: %w", err)
	}

	result, parseErr := parseClassifierResponse(resp.Content)
	if parseErr != nil {
		return []classification{{Choice: "conversation", Confidence: 0}}, nil //nolint:nilerr // graceful degradation
	}
	return result, nil
}

func buildClassifierPrompt(candidates []types.ToolDescriptor) string {
	var sb strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- %s: %s\n", c.Name, c.Description)
	}
	if sb.Len() == 0 {
		sb.WriteString("(none available)\n")
	}
	return fmt.Sprintf(classifierSystemPromptTemplate, sb.String())
}

func parseClassifierResponse(content string) ([]classification, error) {
	cleaned := stripMarkdown(content)

	var r classifierResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("resolver: parse classifier response: %w", err)
	}
	if len(r.Ranked) == 0 {
		return nil, fmt.Errorf("resolver: classifier response has no ranked candidates")
	}

	out := make([]classification, 0, len(r.Ranked))
	for _, c := range r.Ranked {
		if c.Choice == "" {
			continue
		}
		args := c.Args
		if args == nil {
			args = map[string]any{}
		}
		out = append(out, classification{Choice: c.Choice, Confidence: c.Confidence, Args: args})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("resolver: classifier response has no valid ranked candidates")
	}
	return out, nil
}

// stripMarkdown removes optional markdown code fences some models wrap JSON
// output in.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
