package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/searmo/yeiya/internal/config"
	"github.com/searmo/yeiya/internal/live"
	"github.com/searmo/yeiya/internal/resilience"
	"github.com/searmo/yeiya/pkg/provider/llm"
	"github.com/searmo/yeiya/pkg/provider/llm/anyllm"
	geminichat "github.com/searmo/yeiya/pkg/provider/llm/gemini"
	oaichat "github.com/searmo/yeiya/pkg/provider/llm/openai"
	"github.com/searmo/yeiya/pkg/provider/s2s"
	geminilive "github.com/searmo/yeiya/pkg/provider/s2s/gemini"
)

// anyllmBackends are the chat backends served through any-llm-go. Gemini and
// OpenAI have dedicated SDK-backed providers.
var anyllmBackends = []string{"anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// RegisterBuiltinProviders wires every provider that ships with the service
// into reg.
func RegisterBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "setup_timeout"); d > 0 {
			opts = append(opts, geminilive.WithSetupTimeout(d))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []geminichat.Option
		if entry.Model != "" {
			opts = append(opts, geminichat.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminichat.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, geminichat.WithTimeout(d))
		}
		return geminichat.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		model := entry.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		var opts []oaichat.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaichat.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaichat.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaichat.WithTimeout(d))
		}
		if n, ok := entry.Options["max_retries"].(int); ok && n >= 0 {
			opts = append(opts, oaichat.WithMaxRetries(n))
		}
		return oaichat.New(entry.APIKey, model, opts...)
	})

	for _, backend := range anyllmBackends {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	for _, kind := range []string{config.KindS2S, config.KindLLM} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// BuildProviders instantiates the providers named in cfg. A chat provider
// whose credential is missing is left nil so the chat endpoint reports it,
// matching how the live session treats a missing voice credential.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	s2sp, err := reg.CreateS2S(cfg.Providers.S2S)
	if err != nil {
		return nil, fmt.Errorf("create s2s provider %q: %w", cfg.Providers.S2S.Name, err)
	}
	ps.S2S = s2sp
	slog.Info("provider created", "kind", "s2s", "name", cfg.Providers.S2S.Name)

	primary, err := createLLM(reg, cfg.Providers.LLM)
	if err != nil {
		return nil, err
	}

	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("chat provider breaker changed state", "provider", name, "from", from.String(), "to", to.String())
			},
		},
	}
	var group *resilience.LLMFallback
	if primary != nil {
		group = resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, fbCfg)
	}
	for _, entry := range cfg.Providers.LLMFallbacks {
		p, err := createLLM(reg, entry)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		if group == nil {
			group = resilience.NewLLMFallback(p, entry.Name, fbCfg)
			continue
		}
		group.AddFallback(entry.Name, p)
	}
	if group != nil {
		group.SetAttemptTimeout(cfg.Providers.AttemptTimeout)
		ps.LLM = group
		slog.Info("provider created", "kind", "llm", "chain", group.Names())
	} else {
		slog.Warn("no chat provider has a credential; /api/chat will answer 500")
	}
	return ps, nil
}

// createLLM returns nil without error when entry needs a credential and has
// none. Local backends never need one.
func createLLM(reg *config.Registry, entry config.ProviderEntry) (llm.Provider, error) {
	if needsKey(entry.Name) && live.CredentialMissing(entry.APIKey) {
		slog.Warn("chat provider skipped, credential missing", "name", entry.Name)
		return nil, nil
	}
	p, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	return p, nil
}

func needsKey(name string) bool {
	switch name {
	case "ollama", "llamacpp", "llamafile":
		return false
	}
	return true
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration option such as "20s". Invalid or missing
// values yield zero.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
