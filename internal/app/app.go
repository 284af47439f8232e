// Package app wires every renfield subsystem into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and the scheduled cleanup job until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject collaborators via functional options
// (WithConversationStore, WithToolRegistry, etc.). When an option is not
// provided, New creates a real implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/renfield/renfield/internal/config"
	"github.com/renfield/renfield/internal/dispatcher"
	"github.com/renfield/renfield/internal/gateway"
	"github.com/renfield/renfield/internal/health"
	"github.com/renfield/renfield/internal/notify"
	"github.com/renfield/renfield/internal/observe"
	"github.com/renfield/renfield/internal/registry"
	"github.com/renfield/renfield/internal/resolver"
	"github.com/renfield/renfield/internal/rest"
	"github.com/renfield/renfield/internal/store"
	"github.com/renfield/renfield/internal/turn"
	"github.com/renfield/renfield/pkg/types"
)

// App owns all subsystem lifetimes and orchestrates the interaction-routing
// pipeline described across spec.md §4-6.
type App struct {
	cfg       *config.Config
	providers *Providers

	conversations store.ConversationStore
	notifications notify.Store
	tools         *registry.Registry
	dispatcher    *dispatcher.Dispatcher
	resolver      *resolver.Resolver
	engine        *turn.Engine
	gateway       *gateway.Gateway

	correctionStore resolver.CorrectionStore
	memoryFacts     resolver.MemoryFactStore

	mux   *http.ServeMux
	srv   *http.Server
	cron  *cron.Cron
	relay *audioRelay

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithConversationStore injects a Conversation Store instead of creating one from config.
func WithConversationStore(s store.ConversationStore) Option {
	return func(a *App) { a.conversations = s }
}

// WithNotificationStore injects a Notification store instead of creating one from config.
func WithNotificationStore(s notify.Store) Option {
	return func(a *App) { a.notifications = s }
}

// WithToolRegistry injects a Tool Registry instead of creating one from config.
func WithToolRegistry(r *registry.Registry) Option {
	return func(a *App) { a.tools = r }
}

// WithCorrectionStore injects the resolver's feedback-learning backend.
func WithCorrectionStore(s resolver.CorrectionStore) Option {
	return func(a *App) { a.correctionStore = s }
}

// WithMemoryFactStore injects the resolver's long-term-fact backend.
func WithMemoryFactStore(s resolver.MemoryFactStore) Option {
	return func(a *App) { a.memoryFacts = s }
}

// audioRelay forwards turn.AudioDelivery calls to a *gateway.Gateway that is
// only constructed after the Turn Engine, since the Engine and the Gateway
// each depend on the other (the Engine needs somewhere to deliver audio, the
// Gateway needs the Engine to run turns). New wires this indirection once,
// immediately after the Gateway exists, rather than restructuring either
// constructor's signature.
type audioRelay struct {
	gw *gateway.Gateway
}

func (r *audioRelay) DeliverAudio(ctx context.Context, sessionID, roomID, originDeviceID string, audio <-chan []byte) error {
	return r.gw.DeliverAudio(ctx, sessionID, roomID, originDeviceID, audio)
}

// New wires every subsystem named in spec.md §4 together: the Conversation
// Store, Notification store, Tool Registry, Tool Dispatcher, Intent
// Resolver, Turn Engine, Device Gateway, REST surface, notification webhook,
// and health checks. Use Option functions to inject test doubles for any
// subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	if err := a.initConversationStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init conversation store: %w", err)
	}
	if err := a.initNotificationStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init notification store: %w", err)
	}
	if err := a.initResolverFeatureStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init resolver feature stores: %w", err)
	}
	if err := a.initToolRegistry(ctx); err != nil {
		return nil, fmt.Errorf("app: init tool registry: %w", err)
	}

	a.dispatcher = dispatcher.New(a.tools)
	a.resolver = resolver.New(
		providers.IntentLLM,
		providers.Embeddings,
		a.tools,
		a.notifications,
		a.memoryFacts,
		a.correctionStore,
		nil, // RAG provider: no concrete implementation ships yet (see DESIGN.md)
		a.tools,
		resolver.DefaultConfig(),
	)

	a.relay = &audioRelay{}
	a.engine = turn.New(
		a.conversations,
		a.resolver,
		a.dispatcher,
		a.tools,
		providers.ChatLLM,
		providers.TTS,
		a.relay,
		turn.DefaultConfig(),
	)

	a.gateway = gateway.New(a.engine, providers.STT, a.notifications)
	a.relay.gw = a.gateway

	a.mux = http.NewServeMux()
	rest.New(a.conversations, a.engine, a.tools).Register(a.mux)
	health.New(a.healthCheckers()...).Register(a.mux)
	webhook := notify.NewHandler(a.notifications, a.dispatchNotification)
	a.mux.HandleFunc("POST /webhooks/notify", webhook.Create)
	a.mux.Handle("GET /ws", a.gateway)
	a.mux.Handle("GET /metrics", promhttp.Handler())

	a.srv = &http.Server{Addr: cfg.Server.ListenAddr, Handler: observe.Middleware(observe.DefaultMetrics())(a.mux)}

	a.initCleanupScheduler()

	return a, nil
}

// dispatchNotification fans a newly-recorded notification out to connected
// devices via the Gateway. Run in its own goroutine so a slow or absent
// device connection never blocks the webhook's HTTP response.
func (a *App) dispatchNotification(rec types.NotificationRecord) {
	go a.gateway.Notify(context.Background(), rec)
}

func (a *App) healthCheckers() []health.Checker {
	checkers := []health.Checker{
		{Name: "tools", Check: func(ctx context.Context) error {
			for _, s := range a.tools.Status() {
				if s.State == types.ProviderFailed {
					return fmt.Errorf("tool provider %q is failed", s.ProviderName)
				}
			}
			return nil
		}},
	}
	return checkers
}

func (a *App) initConversationStore(ctx context.Context) error {
	if a.conversations != nil {
		return nil
	}
	if a.cfg.Store.PostgresDSN == "" {
		a.conversations = store.NewMemory()
		return nil
	}
	pg, err := store.NewPostgres(ctx, a.cfg.Store.PostgresDSN)
	if err != nil {
		return err
	}
	a.conversations = pg
	a.closers = append(a.closers, func() error { pg.Close(); return nil })
	return nil
}

func (a *App) initNotificationStore(ctx context.Context) error {
	if a.notifications != nil {
		return nil
	}
	if a.cfg.Notify.PostgresDSN == "" {
		a.notifications = notify.NewMemory()
		return nil
	}
	pg, err := notify.NewPostgres(ctx, a.cfg.Notify.PostgresDSN)
	if err != nil {
		return err
	}
	a.notifications = pg
	a.closers = append(a.closers, func() error { pg.Close(); return nil })
	return nil
}

// initResolverFeatureStores wires the Intent Resolver's optional
// feedback-learning (CorrectionStore) and long-term-fact (MemoryFactStore)
// backends. Both are pgvector-indexed and share a dedicated connection pool
// distinct from the Conversation Store's, since either store may be injected
// independently in tests and the resolver schema (corrections, memory_facts)
// is unrelated to the conversation-log schema.
func (a *App) initResolverFeatureStores(ctx context.Context) error {
	if a.correctionStore != nil && a.memoryFacts != nil {
		return nil
	}
	if !a.cfg.Server.MemoryEnabled || a.cfg.Store.PostgresDSN == "" {
		if a.correctionStore == nil {
			a.correctionStore = resolver.NewMemoryCorrectionStore()
		}
		if a.memoryFacts == nil {
			a.memoryFacts = resolver.NewMemoryFacts()
		}
		return nil
	}

	poolCfg, err := pgxpool.ParseConfig(a.cfg.Store.PostgresDSN)
	if err != nil {
		return fmt.Errorf("resolver feature stores: parse dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("resolver feature stores: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("resolver feature stores: ping: %w", err)
	}
	if err := resolver.Migrate(ctx, pool); err != nil {
		pool.Close()
		return err
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	if a.correctionStore == nil {
		a.correctionStore = resolver.NewPostgresCorrectionStore(pool)
	}
	if a.memoryFacts == nil {
		a.memoryFacts = resolver.NewPostgresMemoryFacts(pool)
	}
	return nil
}

func (a *App) initToolRegistry(ctx context.Context) error {
	if a.tools == nil {
		a.tools = registry.New()
	}
	a.closers = append(a.closers, a.tools.Close)

	for _, srv := range a.cfg.Tools.ServerConfigs() {
		if err := a.tools.RegisterServer(ctx, srv); err != nil {
			return fmt.Errorf("register tool server %q: %w", srv.Name, err)
		}
		slog.Info("registered tool server", "name", srv.Name, "transport", srv.Transport)
	}
	return nil
}

// initCleanupScheduler schedules the Conversation Store's and Notification
// store's retention cleanups via robfig/cron/v3, per spec.md's
// store.cleanup_cron field. A blank cron expression disables scheduling.
func (a *App) initCleanupScheduler() {
	if a.cfg.Store.CleanupCron == "" {
		return
	}
	c := cron.New()
	_, err := c.AddFunc(a.cfg.Store.CleanupCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if n, err := a.conversations.Cleanup(ctx, a.cfg.Store.CleanupOlderThanDays); err != nil {
			slog.Warn("conversation cleanup failed", "err", err)
		} else if n > 0 {
			slog.Info("conversation cleanup removed sessions", "count", n)
		}

		if a.cfg.Notify.CleanupOlderThanDays > 0 {
			if n, err := a.notifications.Cleanup(ctx, a.cfg.Notify.CleanupOlderThanDays); err != nil {
				slog.Warn("notification cleanup failed", "err", err)
			} else if n > 0 {
				slog.Info("notification cleanup removed records", "count", n)
			}
		}
	})
	if err != nil {
		slog.Warn("invalid store.cleanup_cron, scheduled cleanup disabled", "expr", a.cfg.Store.CleanupCron, "err", err)
		return
	}
	a.cron = c
	a.cron.Start()
	a.closers = append(a.closers, func() error {
		<-a.cron.Stop().Done()
		return nil
	})
}

// Run serves HTTP until ctx is cancelled. It does not itself shut down the
// HTTP server — call Shutdown afterwards to do that within a bounded
// deadline.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
