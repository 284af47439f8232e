package config_test

import (
	"testing"

	"github.com/renfield/renfield/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo},
		Tools: config.ToolsConfig{
			Servers: []config.ToolServerConfig{
				{Name: "home", Transport: config.TransportChildProcessStdio, Command: "/bin/home"},
			},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.ToolServersChanged {
		t.Error("expected ToolServersChanged=false for identical configs")
	}
	if d.FeatureFlagsChanged {
		t.Error("expected FeatureFlagsChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogLevelDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_FeatureFlagChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{AgentEnabled: false}}
	new := &config.Config{Server: config.ServerConfig{AgentEnabled: true}}

	d := config.Diff(old, new)
	if !d.FeatureFlagsChanged {
		t.Error("expected FeatureFlagsChanged=true")
	}
}

func TestDiff_ToolServerAdded(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Tools: config.ToolsConfig{Servers: []config.ToolServerConfig{{Name: "home"}}},
	}
	new := &config.Config{
		Tools: config.ToolsConfig{Servers: []config.ToolServerConfig{{Name: "home"}, {Name: "web"}}},
	}

	d := config.Diff(old, new)
	if !d.ToolServersChanged {
		t.Error("expected ToolServersChanged=true")
	}
	found := false
	for _, c := range d.ToolServerChanges {
		if c.Name == "web" && c.Added {
			found = true
		}
	}
	if !found {
		t.Error("expected web Added=true")
	}
}

func TestDiff_ToolServerRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Tools: config.ToolsConfig{Servers: []config.ToolServerConfig{{Name: "home"}, {Name: "web"}}},
	}
	new := &config.Config{
		Tools: config.ToolsConfig{Servers: []config.ToolServerConfig{{Name: "home"}}},
	}

	d := config.Diff(old, new)
	if !d.ToolServersChanged {
		t.Error("expected ToolServersChanged=true")
	}
	found := false
	for _, c := range d.ToolServerChanges {
		if c.Name == "web" && c.Removed {
			found = true
		}
	}
	if !found {
		t.Error("expected web Removed=true")
	}
}

func TestDiff_ToolServerChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Tools: config.ToolsConfig{Servers: []config.ToolServerConfig{
			{Name: "home", URL: "https://old.example.com"},
		}},
	}
	new := &config.Config{
		Tools: config.ToolsConfig{Servers: []config.ToolServerConfig{
			{Name: "home", URL: "https://new.example.com"},
		}},
	}

	d := config.Diff(old, new)
	if !d.ToolServersChanged {
		t.Error("expected ToolServersChanged=true")
	}
	if len(d.ToolServerChanges) != 1 || !d.ToolServerChanges[0].Changed {
		t.Errorf("expected a single Changed=true entry, got %+v", d.ToolServerChanges)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo},
		Tools: config.ToolsConfig{Servers: []config.ToolServerConfig{
			{Name: "home"},
			{Name: "legacy"},
		}},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelWarn},
		Tools: config.ToolsConfig{Servers: []config.ToolServerConfig{
			{Name: "home", Command: "/bin/home2"},
			{Name: "web"},
		}},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.ToolServersChanged {
		t.Error("expected ToolServersChanged=true")
	}
	changes := make(map[string]config.ToolServerDiff)
	for _, c := range d.ToolServerChanges {
		changes[c.Name] = c
	}
	if !changes["home"].Changed {
		t.Error("expected home Changed=true")
	}
	if !changes["legacy"].Removed {
		t.Error("expected legacy Removed=true")
	}
	if !changes["web"].Added {
		t.Error("expected web Added=true")
	}
}
