package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/renfield/renfield/pkg/types"
)

// httpConnector implements the long-poll-http and streaming-http transports
// named by spec.md §6: a provider that exposes list_tools and call_tool
// over plain HTTP. No MCP SDK covers polling HTTP directly, so this is new
// code built directly from the tool-provider protocol contract.
type httpConnector struct {
	baseURL   string
	streaming bool
	client    *http.Client
}

func newHTTPConnector(cfg ServerConfig, streaming bool) *httpConnector {
	return &httpConnector{
		baseURL:   cfg.URL,
		streaming: streaming,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *httpConnector) listTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/list_tools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list_tools request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list_tools: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			Parameters  map[string]any `json:"parameters"`
		} `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode list_tools response: %w", err)
	}

	out := make([]types.ToolDescriptor, 0, len(payload.Tools))
	for _, t := range payload.Tools {
		out = append(out, types.ToolDescriptor{
			OriginalName: t.Name,
			Description:  t.Description,
			Parameters:   t.Parameters,
		})
	}
	return out, nil
}

func (c *httpConnector) call(ctx context.Context, originalName string, argsJSON string) (string, bool, error) {
	body, _ := json.Marshal(map[string]any{"name": originalName, "arguments": json.RawMessage(argsJSON)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call_tool", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("call_tool request: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Content string `json:"content"`
		IsError bool   `json:"is_error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", false, fmt.Errorf("decode call_tool response: %w", err)
	}
	return payload.Content, payload.IsError, nil
}

func (c *httpConnector) close() error {
	return nil
}
