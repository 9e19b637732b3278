// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the yeiya service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreDriver selects the database the leads are persisted to.
type StoreDriver string

const (
	StoreNone     StoreDriver = ""
	StorePostgres StoreDriver = "postgres"
	StoreSQLite   StoreDriver = "sqlite"
)

// IsValid reports whether d is a recognised store driver. The empty driver
// disables persistence.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreNone, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Live      LiveConfig      `yaml:"live"`
	Chat      ChatConfig      `yaml:"chat"`
	Leads     LeadsConfig     `yaml:"leads"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists the host patterns browsers may open the live
	// relay from. Empty allows same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown. Zero uses 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LiveConfig tunes the voice agent.
type LiveConfig struct {
	// Voice is the prebuilt voice name, e.g. "Puck".
	Voice string `yaml:"voice"`

	// Instructions overrides the persona prompt sent on connect. Empty
	// uses the persona's system instruction.
	Instructions string `yaml:"instructions"`

	// Persona is the assistant's name used in the default instructions.
	Persona string `yaml:"persona"`

	// BlockSize is the number of 16 kHz samples per outbound block.
	BlockSize int `yaml:"block_size"`

	// Onset and Release are the user speech detector thresholds.
	Onset   float64 `yaml:"onset"`
	Release float64 `yaml:"release"`

	// AgentSmoothing and UserSmoothing are the meter lerp factors in (0, 1].
	AgentSmoothing float64 `yaml:"agent_smoothing"`
	UserSmoothing  float64 `yaml:"user_smoothing"`

	// FPS is the avatar frame cadence of the relay and the talk command.
	FPS int `yaml:"fps"`

	// Avatar selects the driver used by the talk command: hologram or rig.
	Avatar string `yaml:"avatar"`
}

// ChatConfig configures the text chatbot.
type ChatConfig struct {
	// Persona is the assistant's name. Empty uses the default persona.
	Persona string `yaml:"persona"`

	// Temperature is the sampling temperature. Zero uses 0.7.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the reply length. Zero leaves it to the provider.
	MaxTokens int `yaml:"max_tokens"`
}

// LeadsConfig configures where captured leads go.
type LeadsConfig struct {
	// WebhookURL receives every lead as a JSON POST. Empty uses the default
	// spreadsheet endpoint; "-" disables the webhook.
	WebhookURL string `yaml:"webhook_url"`

	// Store persists leads to a database in addition to the webhook.
	Store StoreConfig `yaml:"store"`

	// Timeout bounds one delivery. Zero uses 10s.
	Timeout time.Duration `yaml:"timeout"`

	// Breaker tunes the webhook circuit breaker.
	Breaker BreakerConfig `yaml:"breaker"`
}

// StoreConfig selects the lead database.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is the connection string for postgres or the file path for
	// sqlite. ":memory:" keeps an sqlite store in memory.
	DSN string `yaml:"dsn"`
}

// BreakerConfig tunes a circuit breaker. Zero values use the defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProvidersConfig declares which provider implementation serves each
// concern. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// S2S is the live speech endpoint.
	S2S ProviderEntry `yaml:"s2s"`

	// LLM is the chat model.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// AttemptTimeout bounds each chat backend's turn in the fallback chain.
	// Zero lets a backend use the whole request.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}
