package live

import (
	"log/slog"

	"github.com/searmo/yeiya/internal/observe"
	"github.com/searmo/yeiya/pkg/audio/capture"
	"github.com/searmo/yeiya/pkg/audio/meter"
	"github.com/searmo/yeiya/pkg/audio/playback"
	"github.com/searmo/yeiya/pkg/provider/s2s"
)

// Env is everything a Session borrows from its surroundings. A fresh Env is
// built for every Session so that no device, clock or sink is shared between
// two conversations.
type Env struct {
	// APIKey is the endpoint credential. Placeholders count as missing.
	APIKey string

	// Provider builds the transport for APIKey. It is only called after the
	// credential check passed.
	Provider func(apiKey string) s2s.Provider

	// Device is the microphone. Nil means no input is available.
	Device capture.Device

	// Sink receives scheduled speech. Nil discards it. A sink that also
	// implements io.Closer is closed on teardown.
	Sink playback.Sink

	// Clock drives the playback timeline. Nil uses a wall clock.
	Clock playback.Clock

	// Metrics receives session instruments. Nil uses observe.DefaultMetrics.
	Metrics *observe.Metrics

	// Logger is the base logger. Nil uses slog.Default.
	Logger *slog.Logger
}

func (e Env) withDefaults() Env {
	if e.Device == nil {
		e.Device = capture.Unavailable{Reason: "no input device"}
	}
	if e.Clock == nil {
		e.Clock = playback.NewWallClock()
	}
	if e.Metrics == nil {
		e.Metrics = observe.DefaultMetrics()
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	return e
}

// Config holds the tunables of one session.
type Config struct {
	// Session is sent to the endpoint on connect.
	Session s2s.SessionConfig

	// BlockSize is the number of 16 kHz samples per outbound block.
	BlockSize int

	// Onset and Release are the user speech detector thresholds.
	Onset   float64
	Release float64

	// AgentSmoothing and UserSmoothing are the meter lerp factors.
	AgentSmoothing float64
	UserSmoothing  float64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		BlockSize:      capture.DefaultBlockSize,
		Onset:          capture.DefaultOnset,
		Release:        capture.DefaultRelease,
		AgentSmoothing: meter.HologramSmoothing,
		UserSmoothing:  meter.HologramSmoothing,
	}
}
