package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/renfield/renfield/pkg/types"
)

// mcpConnector wraps a single MCP client session (stdio or streamable-HTTP
// transport), following the official SDK's client/session setup used by
// mcphost.Host.RegisterServer.
type mcpConnector struct {
	session *mcpsdk.ClientSession
}

func dialMCP(ctx context.Context, client *mcpsdk.Client, cfg ServerConfig) (connector, error) {
	var transport mcpsdk.Transport

	switch cfg.Transport {
	case types.TransportChildProcessStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return nil, fmt.Errorf("stdio provider %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	default:
		if cfg.URL == "" {
			return nil, fmt.Errorf("streamable-http provider %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &mcpConnector{session: session}, nil
}

func (c *mcpConnector) listTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	var out []types.ToolDescriptor
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("list-tools: %w", err)
		}
		out = append(out, types.ToolDescriptor{
			OriginalName: tool.Name,
			Description:  tool.Description,
			Parameters:   schemaToMap(tool.InputSchema),
		})
	}
	return out, nil
}

func (c *mcpConnector) call(ctx context.Context, originalName string, argsJSON string) (string, bool, error) {
	var argsMap map[string]any
	if argsJSON != "" && argsJSON != "{}" {
		if err := json.Unmarshal([]byte(argsJSON), &argsMap); err != nil {
			return "", false, fmt.Errorf("invalid args JSON for tool %q: %w", originalName, err)
		}
	}

	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      originalName,
		Arguments: argsMap,
	})
	if err != nil {
		return "", false, fmt.Errorf("call tool %q: %w", originalName, err)
	}

	var sb strings.Builder
	for _, part := range result.Content {
		if tc, ok := part.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String(), result.IsError, nil
}

func (c *mcpConnector) close() error {
	return c.session.Close()
}

// schemaToMap normalizes an MCP InputSchema value to a plain map so it can
// be stored on types.ToolDescriptor.Parameters and later validated by the
// Tool Dispatcher's JSON-schema step.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
