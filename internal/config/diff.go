package config

// ConfigDiff describes what changed between two configs. Only fields that are
// safe to hot-reload without restarting the server are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ToolServersChanged bool
	ToolServerChanges  []ToolServerDiff

	FeatureFlagsChanged bool
}

// ToolServerDiff describes what changed for a single tool-provider server
// between two configs.
type ToolServerDiff struct {
	Name    string
	Added   bool
	Removed bool
	Changed bool
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply without a restart; changes to provider
// credentials or the store's DSN are intentionally not surfaced here since
// applying them live would require tearing down live connections.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldFlags, newFlags := old.Server, new.Server
	oldFlags.ListenAddr, oldFlags.LogLevel = "", ""
	newFlags.ListenAddr, newFlags.LogLevel = "", ""
	if oldFlags != newFlags {
		d.FeatureFlagsChanged = true
	}

	oldServers := make(map[string]ToolServerConfig, len(old.Tools.Servers))
	for _, s := range old.Tools.Servers {
		oldServers[s.Name] = s
	}
	newServers := make(map[string]ToolServerConfig, len(new.Tools.Servers))
	for _, s := range new.Tools.Servers {
		newServers[s.Name] = s
	}

	for name, oldSrv := range oldServers {
		newSrv, exists := newServers[name]
		if !exists {
			d.ToolServerChanges = append(d.ToolServerChanges, ToolServerDiff{Name: name, Removed: true})
			d.ToolServersChanged = true
			continue
		}
		if !equalToolServer(oldSrv, newSrv) {
			d.ToolServerChanges = append(d.ToolServerChanges, ToolServerDiff{Name: name, Changed: true})
			d.ToolServersChanged = true
		}
	}
	for name := range newServers {
		if _, exists := oldServers[name]; !exists {
			d.ToolServerChanges = append(d.ToolServerChanges, ToolServerDiff{Name: name, Added: true})
			d.ToolServersChanged = true
		}
	}

	return d
}

// equalToolServer reports whether two tool server configs are identical.
// Env is compared by length and key/value equality since maps aren't
// comparable with ==.
func equalToolServer(a, b ToolServerConfig) bool {
	if a.Name != b.Name || a.Transport != b.Transport || a.Command != b.Command ||
		a.URL != b.URL || a.RateLimit != b.RateLimit {
		return false
	}
	if len(a.Env) != len(b.Env) {
		return false
	}
	for k, v := range a.Env {
		if bv, ok := b.Env[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
