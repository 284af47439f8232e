package config

import (
	"github.com/renfield/renfield/internal/registry"
	"github.com/renfield/renfield/pkg/types"
)

// ToPolicy converts r to the wire-level rate limit policy consumed by the
// Tool Registry and Tool Dispatcher.
func (r RateLimitConfig) ToPolicy() types.RateLimitPolicy {
	return types.RateLimitPolicy{
		RequestsPerMinute: r.RequestsPerMinute,
		SlackMs:           r.SlackMs,
	}
}

// ServerConfigs converts every configured tool-provider entry into the
// registry.ServerConfig shape the Tool Registry's constructor expects.
func (t ToolsConfig) ServerConfigs() []registry.ServerConfig {
	out := make([]registry.ServerConfig, len(t.Servers))
	for i, srv := range t.Servers {
		out[i] = registry.ServerConfig{
			Name:      srv.Name,
			Transport: types.TransportKind(srv.Transport),
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
			RateLimit: srv.RateLimit.ToPolicy(),
		}
	}
	return out
}
