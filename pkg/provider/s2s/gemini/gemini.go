// Package gemini connects live voice sessions to the Gemini Live
// BidiGenerateContent endpoint over a WebSocket.
//
// Microphone audio goes out as base64 16 kHz PCM16 realtime input; the
// model's speech comes back as base64 24 kHz PCM16 inside model turns.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/searmo/yeiya/pkg/audio"
	"github.com/searmo/yeiya/pkg/provider/s2s"
)

const (
	defaultModel    = "gemini-2.0-flash-exp"
	defaultVoice    = "Puck"
	defaultEndpoint = "wss://generativelanguage.googleapis.com/ws"
	bidiPath        = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultSetupTimeout = 15 * time.Second
	keepaliveInterval   = 20 * time.Second
	keepaliveTimeout    = 5 * time.Second

	// maxFrameBytes bounds one inbound message; a model turn can carry
	// seconds of base64 speech.
	maxFrameBytes = 8 << 20

	inputMIMEType = "audio/pcm;rate=16000"
)

// Voices are the prebuilt voice names the endpoint accepts.
var Voices = []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"}

// Provider dials Gemini Live sessions. It holds no connection state and is
// safe for concurrent use.
type Provider struct {
	apiKey       string
	model        string
	endpoint     string
	setupTimeout time.Duration
	client       *http.Client
}

var _ s2s.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the Live model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL replaces the wss:// endpoint root, e.g. with a local test
// server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.endpoint = strings.TrimSuffix(url, "/") }
}

// WithSetupTimeout bounds the dial plus the setup handshake.
func WithSetupTimeout(d time.Duration) Option {
	return func(p *Provider) { p.setupTimeout = d }
}

// WithHTTPClient sets the client used for the WebSocket upgrade.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		endpoint:     defaultEndpoint,
		setupTimeout: defaultSetupTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Model returns the Live model sessions are opened against.
func (p *Provider) Model() string { return p.model }

// Capabilities implements [s2s.Provider].
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:    audio.InputSampleRate,
		OutputSampleRate:   audio.OutputSampleRate,
		MaxSessionDuration: 15 * time.Minute,
		Voices:             Voices,
	}
}

func (p *Provider) url() string {
	return p.endpoint + bidiPath + "?" + url.Values{"key": {p.apiKey}}.Encode()
}

// Connect implements [s2s.Provider]. The returned session is already past
// setupComplete; a failed handshake leaves nothing open.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.setupTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, p.url(), &websocket.DialOptions{
		HTTPClient: p.client,
		HTTPHeader: http.Header{"Content-Type": {"application/json"}},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	s := newSession(conn)
	if err := s.handshake(ctx, setupFrame(p.model, cfg)); err != nil {
		s.cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	go s.run()
	return s, nil
}
