// Package app wires the yeiya subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the lead pipeline, the
// chat and live relay handlers and the HTTP router; Run serves until the
// context ends; Shutdown drains in-flight lead deliveries and closes the
// store.
//
// For testing, inject doubles via functional options (WithStore,
// WithSinks, WithMetrics). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/searmo/yeiya/internal/chat"
	"github.com/searmo/yeiya/internal/config"
	"github.com/searmo/yeiya/internal/health"
	"github.com/searmo/yeiya/internal/lead"
	"github.com/searmo/yeiya/internal/live"
	"github.com/searmo/yeiya/internal/observe"
	"github.com/searmo/yeiya/internal/relay"
	"github.com/searmo/yeiya/internal/resilience"
	"github.com/searmo/yeiya/pkg/provider/llm"
	"github.com/searmo/yeiya/pkg/provider/s2s"
)

const defaultShutdownTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated via [BuildProviders].
type Providers struct {
	S2S s2s.Provider
	LLM llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics

	// live holds the settings future sessions are built from. Hot reload
	// swaps it; running sessions keep what they started with.
	live atomic.Pointer[config.LiveConfig]

	store      lead.Store
	sinks      []lead.Sink
	webhook    *lead.WebhookSink
	dispatcher *lead.Dispatcher

	chat   *chat.Handler
	relay  *relay.Handler
	health *health.Handler
	router chi.Router
	server *http.Server

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a lead store instead of opening the configured one.
func WithStore(s lead.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSinks replaces the webhook and store sinks with sinks.
func WithSinks(sinks ...lead.Sink) Option {
	return func(a *App) { a.sinks = sinks }
}

// WithMetrics sets the metrics instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the base logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevel hands the App the level variable behind the process logger so
// hot reload can change verbosity.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers comes from
// [BuildProviders]; use Option functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.providers == nil {
		a.providers = &Providers{}
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	liveCfg := cfg.Live
	a.live.Store(&liveCfg)

	// ── 1. Lead pipeline ─────────────────────────────────────────────────
	if err := a.initLeads(ctx); err != nil {
		return nil, fmt.Errorf("app: init leads: %w", err)
	}

	// ── 2. Chat ──────────────────────────────────────────────────────────
	chatOpts := []chat.Option{
		chat.WithLeads(a.dispatcher),
		chat.WithMetrics(a.metrics),
		chat.WithLogger(a.log),
		chat.WithMaxTokens(cfg.Chat.MaxTokens),
	}
	if cfg.Chat.Persona != "" {
		chatOpts = append(chatOpts, chat.WithPersona(cfg.Chat.Persona))
	}
	if cfg.Chat.Temperature > 0 {
		chatOpts = append(chatOpts, chat.WithTemperature(cfg.Chat.Temperature))
	}
	a.chat = chat.NewHandler(a.providers.LLM, chatOpts...)

	// ── 3. Live relay ────────────────────────────────────────────────────
	a.relay = relay.NewHandler(a.LiveFactory(),
		relay.WithFPS(cfg.Live.FPS),
		relay.WithOriginPatterns(cfg.Server.AllowedOrigins...),
		relay.WithLeads(a.dispatcher),
		relay.WithLogger(a.log),
	)

	// ── 4. Health ────────────────────────────────────────────────────────
	checks := []health.Checker{
		health.Credential("credential", func() string { return a.cfg.Providers.S2S.APIKey }),
	}
	if a.store != nil {
		checks = append(checks, health.Ping("lead_store", a.store))
	}
	if a.webhook != nil {
		checks = append(checks, health.Breaker("lead_webhook", a.webhook.Breaker()))
	}
	a.health = health.New(checks...)

	// ── 5. Router ────────────────────────────────────────────────────────
	a.router = a.routes()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initLeads builds the sinks and the dispatcher in front of them.
func (a *App) initLeads(ctx context.Context) error {
	lc := a.cfg.Leads
	if a.sinks == nil {
		if lc.WebhookURL != config.WebhookDisabled {
			a.webhook = lead.NewWebhookSink(lc.WebhookURL, lead.WithBreaker(
				resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
					Name:         "lead-webhook",
					MaxFailures:  lc.Breaker.MaxFailures,
					ResetTimeout: lc.Breaker.ResetTimeout,
					Logger:       a.log,
				}),
			))
			a.sinks = append(a.sinks, a.webhook)
		}

		if a.store == nil {
			s, err := lead.OpenStore(ctx, string(lc.Store.Driver), lc.Store.DSN)
			if err != nil {
				return err
			}
			a.store = s
		}
		if a.store != nil {
			a.sinks = append(a.sinks, a.store)
		}
	}

	opts := []lead.DispatcherOption{lead.WithMetrics(a.metrics), lead.WithLogger(a.log)}
	if lc.Timeout > 0 {
		opts = append(opts, lead.WithTimeout(lc.Timeout))
	}
	a.dispatcher = lead.NewDispatcher(a.sinks, opts...)
	a.log.Info("lead pipeline ready", "sinks", a.dispatcher.Sinks())
	return nil
}

func (a *App) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(a.metrics))

	a.health.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Handle("/chat", a.chat)
		r.Get("/live", a.relay.ServeHTTP)
	})
	return r
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.router }

// Dispatcher returns the lead dispatcher.
func (a *App) Dispatcher() *lead.Dispatcher { return a.dispatcher }

// LiveFactory returns the session factory used by the relay. Every call
// reads the current live settings, so reloads reach the next session.
func (a *App) LiveFactory() live.Factory {
	return func() (live.Env, live.Config) {
		lc := *a.live.Load()
		env := live.Env{
			APIKey:   a.cfg.Providers.S2S.APIKey,
			Provider: a.s2sProvider,
			Metrics:  a.metrics,
			Logger:   a.log,
		}
		return env, SessionConfig(lc)
	}
}

func (a *App) s2sProvider(string) s2s.Provider { return a.providers.S2S }

// SessionConfig converts the live section of the config into session
// tuning. Zero fields keep the stock values.
func SessionConfig(lc config.LiveConfig) live.Config {
	cfg := live.DefaultConfig()
	if lc.BlockSize > 0 {
		cfg.BlockSize = lc.BlockSize
	}
	if lc.Onset > 0 {
		cfg.Onset = lc.Onset
	}
	if lc.Release > 0 {
		cfg.Release = lc.Release
	}
	if lc.AgentSmoothing > 0 {
		cfg.AgentSmoothing = lc.AgentSmoothing
	}
	if lc.UserSmoothing > 0 {
		cfg.UserSmoothing = lc.UserSmoothing
	}
	cfg.Session = s2s.SessionConfig{
		ResponseModality: s2s.ModalityAudio,
		Voice:            lc.Voice,
		Instructions:     lc.Instructions,
	}
	if cfg.Session.Instructions == "" {
		cfg.Session.Instructions = chat.SystemInstruction(personaOr(lc.Persona))
	}
	return cfg
}

func personaOr(name string) string {
	if name == "" {
		return chat.DefaultPersona
	}
	return name
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next. It is the
// config.Watcher callback.
func (a *App) ApplyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LiveChanged {
		lc := next.Live
		a.live.Store(&lc)
		a.log.Info("live settings changed, applying to new sessions")
	}
	if d.ChatPersonaChanged {
		a.chat.SetPersona(personaOr(d.NewChatPersona))
		a.log.Info("chat persona changed", "persona", a.chat.Persona())
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config level to slog.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then shuts the server down
// gracefully. It returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.server.Addr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	return g.Wait()
}

// Shutdown stops the HTTP server, waits for pending lead deliveries and
// closes the store. Safe to call more than once; only the first call acts.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("lead dispatcher: %w", err))
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("lead store: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}
