package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/renfield/renfield/internal/observe"
	"github.com/renfield/renfield/pkg/provider/llm"
	"github.com/renfield/renfield/pkg/types"
)

// ToolLister supplies the tool catalogue offered to the LLM during an
// AgentPlan's loop. Satisfied structurally by *registry.Registry.
type ToolLister interface {
	Tools() []types.ToolDescriptor
}

// finalizeInput carries everything finalize/finishWithStreamResult need to
// complete a turn (steps 6-8), gathered up front so the three plan branches
// in execute share one completion path.
type finalizeInput struct {
	sessionID   string
	persistent  bool
	voiceOrigin bool
	roomID      string
	deviceID    string
	voice       types.VoiceProfile
	intent      string
	text        string
}

// execute runs step 5 of the turn lifecycle: dispatching on the Plan's kind,
// then steps 6-9 via finalize.
func (e *Engine) execute(ctx context.Context, out chan<- types.Event, turnCtx types.TurnContext, plan types.Plan, persistent bool, in Input) {
	fi := finalizeInput{
		sessionID:   turnCtx.SessionID,
		persistent:  persistent,
		voiceOrigin: turnCtx.Channel == types.ChannelVoice,
		roomID:      turnCtx.RoomID,
		deviceID:    turnCtx.DeviceID,
		voice:       in.Voice,
	}

	switch plan.Kind {
	case types.PlanDirectAction:
		e.executeDirectAction(ctx, out, turnCtx, plan, in.Text, fi)
	case types.PlanAgent:
		e.executeAgent(ctx, out, turnCtx, plan, in.Text, fi)
	default:
		e.executeConversation(ctx, out, turnCtx, plan, in.Text, fi)
	}
}

func (e *Engine) executeConversation(ctx context.Context, out chan<- types.Event, turnCtx types.TurnContext, plan types.Plan, text string, fi finalizeInput) {
	if plan.Conversation != nil {
		fi.intent = plan.Conversation.Hint
	}
	req := e.buildPrompt(turnCtx, text, plan)
	reply, _, err := e.streamLLM(ctx, out, fi.sessionID, req)
	e.finishWithStreamResult(ctx, out, fi, reply, err)
}

func (e *Engine) executeDirectAction(ctx context.Context, out chan<- types.Event, turnCtx types.TurnContext, plan types.Plan, text string, fi finalizeInput) {
	da := plan.DirectAction
	fi.intent = da.ToolName

	argsJSON, err := json.Marshal(da.Args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	result := e.dispatcher.Execute(ctx, types.ToolCall{Name: da.ToolName, Arguments: string(argsJSON)})
	emit(ctx, out, types.Event{Type: types.EventAction, SessionID: fi.sessionID, ToolName: da.ToolName, Result: &result, Success: result.OK})

	toolMsg := types.Message{Role: types.RoleTool, Name: da.ToolName, Content: toolResultContent(result)}
	req := e.buildPrompt(turnCtx, text, plan, toolMsg)
	reply, _, streamErr := e.streamLLM(ctx, out, fi.sessionID, req)
	e.finishWithStreamResult(ctx, out, fi, reply, streamErr)
}

func (e *Engine) executeAgent(ctx context.Context, out chan<- types.Event, turnCtx types.TurnContext, plan types.Plan, text string, fi finalizeInput) {
	reply, intent, err := e.runAgentLoop(ctx, out, turnCtx, plan, text)
	if intent != "" {
		fi.intent = intent
	} else if plan.Agent != nil {
		fi.intent = plan.Agent.Hint
	}
	e.finishWithStreamResult(ctx, out, fi, reply, err)
}

// runAgentLoop implements spec.md §4.5 step 5's AgentPlan branch: ask the
// LLM for the next step; on a tool call, dispatch it sequentially (parallel
// tool calls are explicitly disallowed, per §5's ordering guarantees) and
// feed the result back; on a final answer, stream it normally. Terminates on
// step cap, wall-clock cap, or natural completion.
func (e *Engine) runAgentLoop(ctx context.Context, out chan<- types.Event, turnCtx types.TurnContext, plan types.Plan, text string) (reply string, lastTool string, err error) {
	wallCap := e.cfg.AgentWallTime
	if plan.Agent != nil && plan.Agent.WallCap > 0 {
		wallCap = plan.Agent.WallCap
	}
	stepCap := e.cfg.AgentStepCap
	if plan.Agent != nil && plan.Agent.StepCap > 0 {
		stepCap = plan.Agent.StepCap
	}

	agentCtx, cancel := context.WithTimeout(ctx, wallCap)
	defer cancel()

	var extra []types.Message
	for step := 0; step < stepCap; step++ {
		if agentCtx.Err() != nil {
			return reply, lastTool, agentCtx.Err()
		}

		emit(ctx, out, types.Event{Type: types.EventAgentThinking, SessionID: turnCtx.SessionID})
		req := e.buildAgentPrompt(turnCtx, text, plan, extra)

		streamed, toolCalls, streamErr := e.streamLLM(agentCtx, out, turnCtx.SessionID, req)
		if streamErr != nil {
			return reply, lastTool, streamErr
		}
		if len(toolCalls) == 0 {
			return streamed, lastTool, nil
		}

		for _, tc := range toolCalls {
			emit(ctx, out, types.Event{Type: types.EventAgentToolCall, SessionID: turnCtx.SessionID, ToolName: tc.Name})
			result := e.dispatcher.Execute(agentCtx, tc)
			emit(ctx, out, types.Event{Type: types.EventAgentToolResult, SessionID: turnCtx.SessionID, ToolName: tc.Name, Result: &result, Success: result.OK})
			extra = append(extra, types.Message{Role: types.RoleTool, Name: tc.Name, ToolCallID: tc.ID, Content: toolResultContent(result)})
			lastTool = tc.Name
		}
	}
	return reply, lastTool, fmt.Errorf("turn: agent step cap (%d) reached", stepCap)
}

// buildPrompt assembles a CompletionRequest for the ConversationPlan and
// DirectActionPlan branches: system prompt + context window + user message
// [+ extra messages] [+ retrieved chunks folded into the system prompt].
func (e *Engine) buildPrompt(turnCtx types.TurnContext, text string, plan types.Plan, extra ...types.Message) llm.CompletionRequest {
	messages := make([]types.Message, 0, len(turnCtx.ContextWindow)+len(extra)+1)
	messages = append(messages, turnCtx.ContextWindow...)
	messages = append(messages, types.Message{Role: types.RoleUser, Content: text})
	messages = append(messages, extra...)

	return llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: e.systemPromptFor(plan),
	}
}

// buildAgentPrompt is buildPrompt plus the tool catalogue, used by the
// AgentPlan loop.
func (e *Engine) buildAgentPrompt(turnCtx types.TurnContext, text string, plan types.Plan, extra []types.Message) llm.CompletionRequest {
	req := e.buildPrompt(turnCtx, text, plan, extra...)
	if e.tools != nil {
		req.Tools = toolDefinitions(e.tools.Tools())
	}
	return req
}

func (e *Engine) systemPromptFor(plan types.Plan) string {
	prompt := e.cfg.SystemPrompt
	if plan.RAGUsed && len(plan.RAGChunks) > 0 {
		var b strings.Builder
		b.WriteString(prompt)
		b.WriteString("\n\nRelevant retrieved context:\n")
		for _, c := range plan.RAGChunks {
			fmt.Fprintf(&b, "- (%s) %s\n", c.Source, c.Content)
		}
		prompt = b.String()
	}
	return prompt
}

// streamLLM runs a single streaming completion, forwarding each non-empty
// chunk as a `stream` event and accumulating the full text in parallel
// (step 6). A chunk with FinishReason "error" signals a mid-stream provider
// failure (llm.Provider's documented convention).
func (e *Engine) streamLLM(ctx context.Context, out chan<- types.Event, sessionID string, req llm.CompletionRequest) (string, []types.ToolCall, error) {
	llmCtx, cancel := context.WithTimeout(ctx, e.cfg.LLMWallTime)
	defer cancel()

	start := time.Now()
	metrics := observe.DefaultMetrics()
	chunks, err := e.llmProv.StreamCompletion(llmCtx, req)
	if err != nil {
		metrics.RecordProviderError(ctx, "llm", "chat")
		return "", nil, err
	}

	var text strings.Builder
	var toolCalls []types.ToolCall
	var streamErr error
	for chunk := range chunks {
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			emit(ctx, out, types.Event{Type: types.EventStream, SessionID: sessionID, Text: chunk.Text})
		}
		if len(chunk.ToolCalls) > 0 {
			toolCalls = append(toolCalls, chunk.ToolCalls...)
		}
		if chunk.FinishReason == "error" {
			streamErr = fmt.Errorf("llm stream ended with a provider error")
		}
	}
	if streamErr == nil {
		switch {
		case ctx.Err() != nil:
			// The parent was cancelled, not just our own per-call timeout.
			streamErr = ctx.Err()
		case llmCtx.Err() != nil:
			streamErr = llmCtx.Err()
		}
	}

	metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	status := "ok"
	if streamErr != nil {
		status = "error"
		metrics.RecordProviderError(ctx, "llm", "chat")
	}
	metrics.RecordProviderRequest(ctx, "llm", "chat", status)

	return text.String(), toolCalls, streamErr
}

// finishWithStreamResult implements the LLM-failure branch of spec.md §7:
// finalize with whatever text was produced plus a diagnostic suffix.
func (e *Engine) finishWithStreamResult(ctx context.Context, out chan<- types.Event, fi finalizeInput, text string, err error) {
	if err != nil && ctx.Err() == nil {
		text = strings.TrimSpace(text)
		if text != "" {
			text += " "
		}
		text += "(I ran into a problem generating the rest of this response.)"
	}
	fi.text = text
	e.finalize(ctx, out, fi)
}

// toolResultContent renders a ToolResult as the JSON envelope fed back to
// the LLM, per spec.md §9's explicit {ok, value|error} convention.
func toolResultContent(result types.ToolResult) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return `{"ok":false,"error":{"kind":"ToolInternalError","message":"result could not be encoded"}}`
	}
	return string(raw)
}

// toolDefinitions projects the Tool Registry's descriptors into the
// LLM-facing shape.
func toolDefinitions(descriptors []types.ToolDescriptor) []types.ToolDefinition {
	defs := make([]types.ToolDefinition, len(descriptors))
	for i, d := range descriptors {
		defs[i] = types.ToolDefinition{
			Name:                d.Name,
			Description:         d.Description,
			Parameters:          d.Parameters,
			EstimatedDurationMs: d.EstimatedDurationMs,
			MaxDurationMs:       d.MaxDurationMs,
			Idempotent:          d.Idempotent,
			CacheableSeconds:    d.CacheableSeconds,
		}
	}
	return defs
}
