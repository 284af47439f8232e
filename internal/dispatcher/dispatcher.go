// Package dispatcher implements the Tool Dispatcher: single-call execution
// of a tool invocation against the Tool Registry with a consistent result
// envelope, schema validation, rate limiting, and circuit breaking.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/renfield/renfield/internal/observe"
	"github.com/renfield/renfield/internal/resilience"
	"github.com/renfield/renfield/pkg/types"
)

// defaultCallTimeout is applied to a tool call when its descriptor does not
// declare a MaxDurationMs.
const defaultCallTimeout = 10 * time.Second

// rateLimitSlack is the bounded wait a caller will tolerate for a rate
// limiter token before failing fast with RateLimited.
const rateLimitSlack = 200 * time.Millisecond

// Registry is the narrow slice of *registry.Registry the Dispatcher depends
// on, kept as an interface so tests can supply a fake.
type Registry interface {
	Resolve(toolName string) (provider string, original string, err error)
	Descriptor(toolName string) (types.ToolDescriptor, bool)
	Invoke(ctx context.Context, toolName string, argsJSON string) (content string, isError bool, err error)
	MarkDegraded(name string, cause error)
	MarkReady(name string)
	RateLimit(provider string) types.RateLimitPolicy
}

// providerSlot bundles a provider's circuit breaker and rate limiter — the
// "provider call slot" of spec.md §5.
type providerSlot struct {
	breaker *resilience.CircuitBreaker
	limiter *rate.Limiter
}

// Dispatcher executes single tool calls with the envelope described by
// spec.md §4.3.
type Dispatcher struct {
	registry Registry

	mu    sync.Mutex
	slots map[string]*providerSlot

	defaultRatePerMinute int
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithDefaultRatePerMinute sets the rate-limit budget used for a provider
// that does not declare its own RateLimitPolicy. Default: 60 req/min.
func WithDefaultRatePerMinute(n int) Option {
	return func(d *Dispatcher) { d.defaultRatePerMinute = n }
}

// New returns a Dispatcher backed by reg.
func New(reg Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:             reg,
		slots:                make(map[string]*providerSlot),
		defaultRatePerMinute: 60,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) slotFor(provider string, policy types.RateLimitPolicy) *providerSlot {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.slots[provider]; ok {
		return s
	}

	perMinute := policy.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = d.defaultRatePerMinute
	}

	s := &providerSlot{
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: provider}),
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
	}
	d.slots[provider] = s
	return s
}

// Execute runs exactly one tool invocation, following the seven-step
// contract of spec.md §4.3. ctx's cancellation propagates into the
// provider call (step 5).
func (d *Dispatcher) Execute(ctx context.Context, toolCall types.ToolCall) (result types.ToolResult) {
	start := time.Now()
	metrics := observe.DefaultMetrics()
	defer func() {
		status := "ok"
		if !result.OK {
			status = "error"
		}
		metrics.RecordToolCall(ctx, toolCall.Name, status)
		metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("tool", toolCall.Name), observe.Attr("status", status)))
	}()

	// Step 1: resolve provider via Registry.
	provider, _, err := d.registry.Resolve(toolCall.Name)
	if err != nil {
		return errorResult("UnknownTool", err.Error(), false)
	}

	descriptor, ok := d.registry.Descriptor(toolCall.Name)
	if !ok {
		return errorResult("UnknownTool", fmt.Sprintf("descriptor for %q vanished", toolCall.Name), false)
	}

	// Step 2: validate arguments against the descriptor's JSON schema.
	var args map[string]any
	if toolCall.Arguments != "" {
		if err := json.Unmarshal([]byte(toolCall.Arguments), &args); err != nil {
			return errorResult("InvalidArguments", fmt.Sprintf("arguments are not valid JSON: %v", err), false)
		}
	}
	if err := validateArgs(descriptor.Parameters, args); err != nil {
		return errorResult("InvalidArguments", err.Error(), false)
	}

	slot := d.slotFor(provider, d.registry.RateLimit(provider))

	// Step 3: consult the circuit breaker.
	if slot.breaker.State() == resilience.StateOpen {
		return errorResult("ProviderUnavailable", fmt.Sprintf("provider %q circuit is open", provider), true)
	}

	// Step 4: consult the rate limiter, waiting up to a bounded slack.
	waitCtx, cancel := context.WithTimeout(ctx, rateLimitSlack)
	err = slot.limiter.Wait(waitCtx)
	cancel()
	if err != nil {
		return errorResult("RateLimited", fmt.Sprintf("provider %q rate limit exceeded", provider), true)
	}

	// Step 5: invoke with a per-call timeout; cancellation propagates from ctx.
	timeout := defaultCallTimeout
	if descriptor.MaxDurationMs > 0 {
		timeout = time.Duration(descriptor.MaxDurationMs) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	content, isError, callErr := d.callWithRetry(callCtx, slot, toolCall.Name, toolCall.Arguments)

	if callErr != nil {
		metrics.RecordProviderError(ctx, provider, "tool")
		metrics.RecordProviderRequest(ctx, provider, "tool", "error")
		if errors.Is(callErr, context.Canceled) {
			return errorResult("ToolCancelled", "tool call was cancelled", false)
		}
		if errors.Is(callErr, context.DeadlineExceeded) {
			return errorResult("ToolTimeout", fmt.Sprintf("provider %q did not respond within %s", provider, timeout), true)
		}
		d.registry.MarkDegraded(provider, callErr)
		return errorResult("ToolInternalError", callErr.Error(), classifyRetriable(callErr))
	}

	// Step 7: success — the breaker already recorded it inside callWithRetry.
	d.registry.MarkReady(provider)

	if isError {
		metrics.RecordProviderRequest(ctx, provider, "tool", "error")
		return types.ToolResult{OK: false, Error: &types.ToolError{Kind: "ToolInternalError", Message: content, Retriable: false}}
	}
	metrics.RecordProviderRequest(ctx, provider, "tool", "ok")
	return types.ToolResult{OK: true, Value: content}
}

// callWithRetry invokes the provider through the circuit breaker, retrying
// once with jitter for a retriable transport error (step 6).
func (d *Dispatcher) callWithRetry(ctx context.Context, slot *providerSlot, toolName, argsJSON string) (content string, isError bool, err error) {
	attempt := func() error {
		return slot.breaker.Execute(func() error {
			var innerErr error
			content, isError, innerErr = d.registry.Invoke(ctx, toolName, argsJSON)
			return innerErr
		})
	}

	err = attempt()
	if err != nil && errors.Is(err, resilience.ErrCircuitOpen) {
		return "", false, fmt.Errorf("provider unavailable: %w", err)
	}
	if err != nil && classifyRetriable(err) {
		jitter := time.Duration(rand.Int64N(int64(100 * time.Millisecond)))
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
		err = attempt()
	}
	return content, isError, err
}

// classifyRetriable reports whether err looks like a transport-reset or
// 5xx-class failure, per spec.md §4.3 step 6.
func classifyRetriable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection reset", "eof", "broken pipe", "i/o timeout", "503", "502", "500"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func errorResult(kind, message string, retriable bool) types.ToolResult {
	return types.ToolResult{OK: false, Error: &types.ToolError{Kind: kind, Message: message, Retriable: retriable}}
}

// validateArgs checks args against a JSON Schema using
// santhosh-tekuri/jsonschema/v6 (spec.md §4.3 step 2).
func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil // a malformed descriptor schema should not block every call
	}

	compiler := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil
	}

	instance := map[string]any(args)
	if instance == nil {
		instance = map[string]any{}
	}
	if err := compiled.Validate(instance); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
