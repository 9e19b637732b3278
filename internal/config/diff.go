package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LiveChanged is set when the voice, instructions or persona of future
	// live sessions changed. Running sessions keep their settings.
	LiveChanged bool

	// ChatPersonaChanged is set when the chatbot persona changed.
	ChatPersonaChanged bool
	NewChatPersona     string

	// RestartRequired lists top-level sections whose changes are ignored
	// until restart.
	RestartRequired []string
}

// Empty reports whether nothing hot-reloadable or restart-bound changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LiveChanged && !d.ChatPersonaChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Live.Voice != new.Live.Voice ||
		old.Live.Instructions != new.Live.Instructions ||
		old.Live.Persona != new.Live.Persona {
		d.LiveChanged = true
	}

	if old.Chat.Persona != new.Chat.Persona {
		d.ChatPersonaChanged = true
		d.NewChatPersona = new.Chat.Persona
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Leads.WebhookURL != new.Leads.WebhookURL || old.Leads.Store != new.Leads.Store {
		d.RestartRequired = append(d.RestartRequired, "leads")
	}
	if !sameEntry(old.Providers.S2S, new.Providers.S2S) ||
		!sameEntry(old.Providers.LLM, new.Providers.LLM) ||
		!slices.EqualFunc(old.Providers.LLMFallbacks, new.Providers.LLMFallbacks, sameEntry) ||
		old.Providers.AttemptTimeout != new.Providers.AttemptTimeout {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameEntry compares the fields of two provider entries that select and
// authenticate the provider. Options are not compared.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
