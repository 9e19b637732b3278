package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] to fields left empty.
const (
	DefaultListenAddr = ":8080"
	DefaultS2S        = "gemini-live"
	DefaultLLM        = "gemini"
	DefaultFPS        = 30
	DefaultAvatar     = "hologram"

	// WebhookDisabled as leads.webhook_url turns the webhook sink off.
	WebhookDisabled = "-"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s": {"gemini-live"},
	"llm": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path, overlays the process
// environment and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted, which makes it
// the entry point for tests built from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, nil)
}

// parse decodes data, overlays the environment when lookup is non-nil,
// fills defaults and validates.
func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	if len(strings.TrimSpace(string(data))) > 0 {
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("config: load %q: %w", path, err)
}

// Environment variables read by [ApplyEnv]. GEMINI_API_KEY is the name the
// deployment platform already provides; the rest are service specific.
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvListenAddr   = "YEIYA_LISTEN_ADDR"
	EnvLogLevel     = "YEIYA_LOG_LEVEL"
	EnvS2SAPIKey    = "YEIYA_S2S_API_KEY"
	EnvLLMAPIKey    = "YEIYA_LLM_API_KEY"
	EnvPersona      = "YEIYA_PERSONA"
	EnvWebhookURL   = "YEIYA_LEADS_WEBHOOK_URL"
	EnvStoreDriver  = "YEIYA_LEADS_STORE_DRIVER"
	EnvStoreDSN     = "YEIYA_LEADS_STORE_DSN"
)

// ApplyEnv overlays environment values on cfg. Set variables win over the
// file. GEMINI_API_KEY fills the key of every Gemini-backed entry; the
// YEIYA_*_API_KEY variables take precedence over it.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get(EnvGeminiAPIKey); ok {
		if isGemini(cfg.Providers.S2S.Name) {
			cfg.Providers.S2S.APIKey = v
		}
		if isGemini(cfg.Providers.LLM.Name) {
			cfg.Providers.LLM.APIKey = v
		}
		for i := range cfg.Providers.LLMFallbacks {
			if isGemini(cfg.Providers.LLMFallbacks[i].Name) {
				cfg.Providers.LLMFallbacks[i].APIKey = v
			}
		}
	}
	if v, ok := get(EnvS2SAPIKey); ok {
		cfg.Providers.S2S.APIKey = v
	}
	if v, ok := get(EnvLLMAPIKey); ok {
		cfg.Providers.LLM.APIKey = v
	}
	if v, ok := get(EnvListenAddr); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := get(EnvPersona); ok {
		cfg.Live.Persona = v
		cfg.Chat.Persona = v
	}
	if v, ok := get(EnvWebhookURL); ok {
		cfg.Leads.WebhookURL = v
	}
	if v, ok := get(EnvStoreDriver); ok {
		cfg.Leads.Store.Driver = StoreDriver(strings.ToLower(v))
	}
	if v, ok := get(EnvStoreDSN); ok {
		cfg.Leads.Store.DSN = v
	}
}

// isGemini reports whether a provider name selects a Gemini backend. The
// empty name counts because it defaults to one.
func isGemini(name string) bool {
	return name == "" || strings.HasPrefix(name, "gemini")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.S2S.Name == "" {
		cfg.Providers.S2S.Name = DefaultS2S
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = DefaultLLM
	}
	if cfg.Live.FPS == 0 {
		cfg.Live.FPS = DefaultFPS
	}
	if cfg.Live.Avatar == "" {
		cfg.Live.Avatar = DefaultAvatar
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
	}

	// Live
	lv := cfg.Live
	if lv.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("live.block_size %d must not be negative", lv.BlockSize))
	}
	if lv.Onset < 0 || lv.Onset > 1 {
		errs = append(errs, fmt.Errorf("live.onset %.4f is out of range [0, 1]", lv.Onset))
	}
	if lv.Release < 0 || lv.Release > 1 {
		errs = append(errs, fmt.Errorf("live.release %.4f is out of range [0, 1]", lv.Release))
	}
	if lv.Onset > 0 && lv.Release > lv.Onset {
		errs = append(errs, fmt.Errorf("live.release %.4f must not exceed live.onset %.4f", lv.Release, lv.Onset))
	}
	for name, v := range map[string]float64{"agent_smoothing": lv.AgentSmoothing, "user_smoothing": lv.UserSmoothing} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("live.%s %.4f is out of range (0, 1]", name, v))
		}
	}
	if lv.FPS < 0 || lv.FPS > 240 {
		errs = append(errs, fmt.Errorf("live.fps %d is out of range [1, 240]", lv.FPS))
	}
	if lv.Avatar != "" && lv.Avatar != "hologram" && lv.Avatar != "rig" {
		errs = append(errs, fmt.Errorf("live.avatar %q is invalid; valid values: hologram, rig", lv.Avatar))
	}

	// Chat
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", cfg.Chat.Temperature))
	}
	if cfg.Chat.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("chat.max_tokens must not be negative"))
	}

	// Leads
	if u := cfg.Leads.WebhookURL; u != "" && u != WebhookDisabled {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("leads.webhook_url %q must be an absolute http(s) URL", u))
		}
	}
	if !cfg.Leads.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("leads.store.driver %q is invalid; valid values: postgres, sqlite", cfg.Leads.Store.Driver))
	} else if cfg.Leads.Store.Driver != StoreNone && cfg.Leads.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("leads.store.dsn is required when driver is %q", cfg.Leads.Store.Driver))
	}
	if cfg.Leads.Timeout < 0 {
		errs = append(errs, fmt.Errorf("leads.timeout must not be negative"))
	}
	if cfg.Leads.Breaker.MaxFailures < 0 || cfg.Leads.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("leads.breaker values must not be negative"))
	}

	// Providers
	if cfg.Providers.AttemptTimeout < 0 {
		errs = append(errs, fmt.Errorf("providers.attempt_timeout must not be negative"))
	}
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
