// Package registry implements the Tool Registry: the authoritative catalog
// of callable tools and the lifecycle of the providers that supply them.
//
// Providers are configured out of band (enabled flag + transport params).
// The Registry, at startup and on explicit Refresh, attempts to connect each
// enabled provider; a successful connection performs a list-tools handshake
// and caches the returned descriptors prefixed by provider name. A provider
// that times out or errors enters ProviderFailed with LastError and its
// tools are not exposed. Providers with transient failures (single call
// failure, not handshake failure) enter ProviderDegraded — tools remain
// visible, but the Tool Dispatcher's circuit breaker may short-circuit
// calls.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/renfield/renfield/pkg/types"
)

// namespaceSeparator joins a provider name and a tool's original name into
// its flat, collision-free Registry name. It must never appear inside either
// part (spec invariant — enforced by validateName).
const namespaceSeparator = "__"

// ServerConfig describes how to connect to a single tool-provider process or
// endpoint.
type ServerConfig struct {
	// Name is the provider's unique handle. Used as the namespace prefix for
	// every tool it supplies.
	Name string

	// Transport selects the connection mechanism.
	Transport types.TransportKind

	// Command is the executable (and args) used for TransportChildProcessStdio.
	Command string

	// URL is the endpoint used for TransportLongPollHTTP / TransportStreamingHTTP.
	URL string

	// Env holds additional environment variables for a stdio subprocess.
	Env map[string]string

	// RateLimit configures the provider's per-minute request budget,
	// consumed by the Tool Dispatcher.
	RateLimit types.RateLimitPolicy
}

// StatusEntry is a single row of Registry.Status().
type StatusEntry struct {
	ProviderName string
	State        types.ProviderState
	Transport    types.TransportKind
	ToolCount    int
	LastError    string
}

// Listener is notified on any provider-state transition.
type Listener func(providerName string, state types.ProviderState)

// connector is the narrow interface each transport kind implements so the
// Registry's connect/refresh/close logic stays transport-agnostic.
type connector interface {
	// listTools performs the handshake and returns this provider's tools.
	listTools(ctx context.Context) ([]types.ToolDescriptor, error)
	// call invokes a single tool by its original (unprefixed) name.
	call(ctx context.Context, originalName string, argsJSON string) (content string, isError bool, err error)
	// close releases the connection.
	close() error
}

type providerEntry struct {
	cfg       ServerConfig
	state     types.ProviderState
	lastError string
	conn      connector
}

// Registry is the concurrent-safe catalog of tool providers and the tools
// they expose.
//
// The zero value is not usable; construct with [New].
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*providerEntry
	tools     map[string]types.ToolDescriptor // key: "{provider}__{original}"

	listenersMu sync.Mutex
	listeners   []Listener

	client *mcpsdk.Client
}

// New returns a ready-to-use, empty Registry.
func New() *Registry {
	return &Registry{
		providers: make(map[string]*providerEntry),
		tools:     make(map[string]types.ToolDescriptor),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "renfield-registry", Version: "1.0.0"},
			nil,
		),
	}
}

// Subscribe registers l to be called on every provider-state transition.
func (r *Registry) Subscribe(l Listener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify(name string, state types.ProviderState) {
	r.listenersMu.Lock()
	listeners := append([]Listener(nil), r.listeners...)
	r.listenersMu.Unlock()
	for _, l := range listeners {
		l(name, state)
	}
}

// RegisterServer adds (or updates) a provider's configuration and connects
// it. Safe to call concurrently; connecting the same name twice replaces the
// prior connection.
func (r *Registry) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("registry: provider config must have a non-empty name")
	}
	if err := validateName(cfg.Name, "provider name"); err != nil {
		return err
	}

	r.mu.Lock()
	entry, exists := r.providers[cfg.Name]
	if !exists {
		entry = &providerEntry{cfg: cfg, state: types.ProviderDisconnected}
		r.providers[cfg.Name] = entry
	} else {
		entry.cfg = cfg
	}
	r.mu.Unlock()

	return r.connect(ctx, cfg.Name)
}

// connect performs (or re-performs) the handshake for a single provider.
func (r *Registry) connect(ctx context.Context, name string) error {
	r.mu.Lock()
	entry, ok := r.providers[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: unknown provider %q", name)
	}
	cfg := entry.cfg
	old := entry.conn
	entry.state = types.ProviderConnecting
	r.mu.Unlock()
	r.notify(name, types.ProviderConnecting)

	if old != nil {
		_ = old.close()
	}

	conn, err := dial(ctx, r.client, cfg)
	if err != nil {
		r.setFailed(name, err)
		return fmt.Errorf("registry: connect provider %q: %w", name, err)
	}

	descriptors, err := conn.listTools(ctx)
	if err != nil {
		_ = conn.close()
		r.setFailed(name, err)
		return fmt.Errorf("registry: list-tools handshake for provider %q: %w", name, err)
	}

	r.mu.Lock()
	entry.conn = conn
	entry.state = types.ProviderReady
	entry.lastError = ""
	for key, d := range r.tools {
		if d.Provider == name {
			delete(r.tools, key)
		}
	}
	for _, d := range descriptors {
		d.Provider = name
		d.Name = name + namespaceSeparator + d.OriginalName
		r.tools[d.Name] = d
	}
	r.mu.Unlock()
	r.notify(name, types.ProviderReady)

	return nil
}

func (r *Registry) setFailed(name string, cause error) {
	r.mu.Lock()
	entry, ok := r.providers[name]
	if ok {
		entry.state = types.ProviderFailed
		entry.lastError = cause.Error()
		for key, d := range r.tools {
			if d.Provider == name {
				delete(r.tools, key)
			}
		}
	}
	r.mu.Unlock()
	r.notify(name, types.ProviderFailed)
}

// MarkDegraded demotes a provider to ProviderDegraded after a transient call
// failure (not a handshake failure). Tools remain visible; the Tool
// Dispatcher's circuit breaker governs whether calls actually flow.
func (r *Registry) MarkDegraded(name string, cause error) {
	r.mu.Lock()
	entry, ok := r.providers[name]
	if ok && entry.state == types.ProviderReady {
		entry.state = types.ProviderDegraded
		if cause != nil {
			entry.lastError = cause.Error()
		}
	}
	r.mu.Unlock()
	if ok {
		r.notify(name, types.ProviderDegraded)
	}
}

// MarkReady promotes a degraded provider back to ready after a successful
// call.
func (r *Registry) MarkReady(name string) {
	r.mu.Lock()
	entry, ok := r.providers[name]
	if ok && entry.state == types.ProviderDegraded {
		entry.state = types.ProviderReady
	}
	r.mu.Unlock()
	if ok {
		r.notify(name, types.ProviderReady)
	}
}

// Status returns a snapshot of every registered provider.
func (r *Registry) Status() []StatusEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]StatusEntry, 0, len(r.providers))
	for name, e := range r.providers {
		count := 0
		for _, d := range r.tools {
			if d.Provider == name {
				count++
			}
		}
		out = append(out, StatusEntry{
			ProviderName: name,
			State:        e.state,
			Transport:    e.cfg.Transport,
			ToolCount:    count,
			LastError:    e.lastError,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderName < out[j].ProviderName })
	return out
}

// RateLimit returns the configured rate-limit policy for provider, or the
// zero value if the provider is unknown or declared none.
func (r *Registry) RateLimit(provider string) types.RateLimitPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.providers[provider]; ok {
		return e.cfg.RateLimit
	}
	return types.RateLimitPolicy{}
}

// ProviderState returns the current state of provider, or ProviderDisconnected
// if it is unknown.
func (r *Registry) ProviderState(provider string) types.ProviderState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.providers[provider]; ok {
		return e.state
	}
	return types.ProviderDisconnected
}

// Tools returns the flat list of ToolDescriptor across every ready/degraded
// provider (I3: a tool is visible to the Resolver iff its provider is ready
// or degraded).
func (r *Registry) Tools() []types.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ToolDescriptor, 0, len(r.tools))
	for name, e := range r.providers {
		if e.state != types.ProviderReady && e.state != types.ProviderDegraded {
			continue
		}
		for key, d := range r.tools {
			if d.Provider == name {
				out = append(out, r.tools[key])
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve splits a namespaced tool name into its provider and original name.
// Returns an error if the tool is unknown or its provider is not visible
// (I3).
func (r *Registry) Resolve(toolName string) (provider string, original string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.tools[toolName]
	if !ok {
		return "", "", fmt.Errorf("registry: unknown tool %q", toolName)
	}
	entry := r.providers[d.Provider]
	if entry == nil || (entry.state != types.ProviderReady && entry.state != types.ProviderDegraded) {
		return "", "", fmt.Errorf("registry: provider %q for tool %q is not available", d.Provider, toolName)
	}
	return d.Provider, d.OriginalName, nil
}

// Descriptor returns the ToolDescriptor for a namespaced tool name.
func (r *Registry) Descriptor(toolName string) (types.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[toolName]
	return d, ok
}

// Invoke calls a namespaced tool through its provider's connector. The Tool
// Dispatcher is responsible for timeouts, retries, schema validation, rate
// limiting, and circuit breaking around this call.
func (r *Registry) Invoke(ctx context.Context, toolName string, argsJSON string) (content string, isError bool, err error) {
	r.mu.RLock()
	d, ok := r.tools[toolName]
	if !ok {
		r.mu.RUnlock()
		return "", false, fmt.Errorf("registry: unknown tool %q", toolName)
	}
	entry := r.providers[d.Provider]
	if entry == nil || entry.conn == nil {
		r.mu.RUnlock()
		return "", false, fmt.Errorf("registry: provider %q for tool %q has no active connection", d.Provider, toolName)
	}
	conn := entry.conn
	r.mu.RUnlock()

	return conn.call(ctx, d.OriginalName, argsJSON)
}

// Refresh reconnects every registered provider in parallel. Connect
// failures are reflected in per-provider state only and never abort sibling
// reconnects; the returned error is always nil.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, name := range names {
		name := name
		g.Go(func() error {
			// Connect errors are reflected in provider state and must not
			// abort sibling reconnects, so they are swallowed here after
			// being surfaced through logging by the caller if desired.
			_ = r.connect(gctx, name)
			return nil
		})
	}
	return g.Wait()
}

// Close shuts down every provider connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, entry := range r.providers {
		if entry.conn != nil {
			if err := entry.conn.close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("registry: closing provider %q: %w", name, err)
			}
		}
		entry.state = types.ProviderDisconnected
	}
	r.tools = make(map[string]types.ToolDescriptor)
	return firstErr
}

// validateName rejects provider or tool names that would make the
// "{provider}__{tool}" namespace ambiguous.
func validateName(part, label string) error {
	if strings.Contains(part, namespaceSeparator) {
		return fmt.Errorf("registry: %s %q must not contain %q", label, part, namespaceSeparator)
	}
	return nil
}

func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// dial opens the connector appropriate to cfg.Transport.
func dial(ctx context.Context, client *mcpsdk.Client, cfg ServerConfig) (connector, error) {
	switch cfg.Transport {
	case types.TransportChildProcessStdio:
		return dialMCP(ctx, client, cfg)
	case types.TransportLongPollHTTP:
		return newHTTPConnector(cfg, false), nil
	case types.TransportStreamingHTTP:
		return newHTTPConnector(cfg, true), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}
