package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/searmo/yeiya/internal/app"
	"github.com/searmo/yeiya/internal/config"
	"github.com/searmo/yeiya/internal/observe"
)

var reloadInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API, the live voice relay and the health endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd)
	},
}

func init() {
	serveCmd.Flags().DurationVar(&reloadInterval, "reload-interval", 5*time.Second, "how often the config file is checked for changes; 0 reloads on SIGHUP only")
}

func serve(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("yeiya starting",
		"version", version,
		"config", cfgFile,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "yeiya",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	providers, err := buildProviders(cmd, cfg)
	if err != nil {
		return err
	}
	printStartupSummary(cmd, cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogger(logger), app.WithLevel(level))
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}

	w, err := config.NewWatcher(cfgFile, application.ApplyConfig,
		config.WithInterval(reloadInterval),
		config.WithWatcherLogger(logger),
	)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer w.Stop()
		go reloadOnHangup(ctx, w)
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run: %w", err)
	}
	slog.Info("goodbye")
	return nil
}

// reloadOnHangup rereads the config file each time the process gets SIGHUP.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			changed, err := w.Reload()
			switch {
			case err != nil:
				slog.Warn("config reload rejected", "err", err)
			case !changed:
				slog.Info("config unchanged")
			}
		}
	}
}

func printStartupSummary(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.ErrOrStderr()
	row := func(k, v string) { fmt.Fprintf(out, "  %-14s %s\n", k+":", v) }

	fmt.Fprintln(out, "yeiya startup summary")
	row("listen", cfg.Server.ListenAddr)
	row("voice", providerLabel(cfg.Providers.S2S))
	chain := providerLabel(cfg.Providers.LLM)
	for _, fb := range cfg.Providers.LLMFallbacks {
		chain += " > " + providerLabel(fb)
	}
	row("chat", chain)

	webhook := cfg.Leads.WebhookURL
	switch webhook {
	case config.WebhookDisabled:
		webhook = "(disabled)"
	case "":
		webhook = "(default)"
	}
	row("lead webhook", webhook)
	store := string(cfg.Leads.Store.Driver)
	if store == "" {
		store = "(none)"
	}
	row("lead store", store)
	if cfg.Server.TLS != nil {
		row("tls", cfg.Server.TLS.CertFile)
	}
}

func providerLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}
