// Package relay bridges a browser to a live voice session over a WebSocket.
//
// The browser streams 16 kHz PCM16 microphone audio as binary frames and
// sends {"type":"start"} or {"type":"stop"} as text frames. The server
// answers with JSON events: session state changes, scheduled agent audio,
// avatar frames at the render cadence, and transcripts. The endpoint
// credential never leaves the server.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/searmo/yeiya/internal/live"
	"github.com/searmo/yeiya/pkg/audio"
	"github.com/searmo/yeiya/pkg/audio/capture"
	"github.com/searmo/yeiya/pkg/audio/meter"
	"github.com/searmo/yeiya/pkg/audio/playback"
	"github.com/searmo/yeiya/pkg/provider/s2s"
)

const (
	// DefaultFPS is the avatar frame cadence.
	DefaultFPS = 30

	outboxSize   = 256
	deviceBuffer = 64
	readLimit    = 1 << 20
)

// Handler serves the live relay endpoint.
type Handler struct {
	factory live.Factory
	fps     int
	origins []string
	leads   LeadDispatcher
	log     *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithFPS sets the avatar frame cadence.
func WithFPS(fps int) Option {
	return func(h *Handler) {
		if fps > 0 {
			h.fps = fps
		}
	}
}

// WithOriginPatterns sets the host patterns allowed to connect, as accepted
// by websocket.AcceptOptions. An empty list allows same-origin only.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// WithLeads enables lead capture from the agent's spoken output.
func WithLeads(d LeadDispatcher) Option {
	return func(h *Handler) { h.leads = d }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// NewHandler returns a relay that builds every session from factory. The
// factory's Device and Sink are replaced per connection: the device by the
// browser microphone, the sink by one that also streams to the browser.
func NewHandler(factory live.Factory, opts ...Option) *Handler {
	h := &Handler{factory: factory, fps: DefaultFPS}
	for _, o := range opts {
		o(h)
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	h.log = h.log.With("component", "relay")
	return h
}

// ServeHTTP upgrades the request and runs the connection until either side
// closes it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(readLimit)

	c := &conn{
		h:       h,
		ws:      ws,
		log:     h.log.With("remote", r.RemoteAddr),
		out:     make(chan any, outboxSize),
		watcher: newLeadWatcher(h.leads),
	}
	c.mgr = live.NewManager(c.newEnv,
		live.WithOnState(c.onState),
		live.WithOnTranscript(c.onTranscript),
	)

	c.log.Info("live relay connected")
	err = c.run(r.Context())
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		_ = ws.Close(websocket.StatusNormalClosure, "")
	case websocket.CloseStatus(err) != -1:
		// The browser already closed.
	default:
		c.log.Warn("live relay ended", "err", err)
		_ = ws.Close(websocket.StatusInternalError, "relay error")
	}
	c.log.Info("live relay disconnected")
}

// conn is one browser connection. It owns at most one live session at a
// time through its Manager.
type conn struct {
	h       *Handler
	ws      *websocket.Conn
	log     *slog.Logger
	mgr     *live.Manager
	watcher *leadWatcher

	out chan any
	// ctx is set once in run before any goroutine that reads it starts.
	ctx    context.Context
	device atomic.Pointer[capture.ChanDevice]
}

func (c *conn) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	c.ctx = gctx

	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.frameLoop(gctx) })
	g.Go(func() error {
		defer cancel()
		return c.readLoop(gctx, g)
	})

	err := g.Wait()
	if stopErr := c.mgr.Stop(); stopErr != nil {
		c.log.Debug("session stop on disconnect", "err", stopErr)
	}
	if old := c.device.Swap(nil); old != nil {
		_ = old.Close()
	}
	return err
}

// newEnv is the Manager factory: the configured Env with this connection's
// microphone and audio stream swapped in.
func (c *conn) newEnv() (live.Env, live.Config) {
	env, cfg := c.h.factory()

	dev := capture.NewChanDevice(audio.InputFormat, deviceBuffer)
	if old := c.device.Swap(dev); old != nil {
		_ = old.Close()
	}
	env.Device = dev

	toBrowser := playback.SinkFunc(c.playAudio)
	if env.Sink != nil {
		env.Sink = playback.MultiSink{env.Sink, toBrowser}
	} else {
		env.Sink = toBrowser
	}
	return env, cfg
}

// ── Loops ──────────────────────────────────────────────────────────────────────

func (c *conn) readLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			return err
		}

		if typ == websocket.MessageBinary {
			c.pushAudio(data)
			continue
		}

		var msg control
		if err := json.Unmarshal(data, &msg); err != nil {
			c.trySend(ErrorEvent{Type: TypeError, Error: "invalid control message"})
			continue
		}
		switch msg.Type {
		case ControlStart:
			// Connecting can take seconds; keep reading so a stop can
			// interrupt it.
			g.Go(func() error {
				c.start(ctx)
				return nil
			})
		case ControlStop:
			if err := c.mgr.Stop(); err != nil {
				c.log.Debug("session stop", "err", err)
			}
		default:
			c.trySend(ErrorEvent{Type: TypeError, Error: "unknown control type " + msg.Type})
		}
	}
}

func (c *conn) start(ctx context.Context) {
	c.watcher.Reset()
	s, err := c.mgr.Start(ctx)
	if err != nil {
		// The state event already carries the detail.
		c.log.Info("live session failed to start", "session_id", s.ID(), "err", err)
		return
	}
	c.log.Info("live session started", "session_id", s.ID())
}

func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.out:
			if err := wsjson.Write(ctx, c.ws, ev); err != nil {
				return err
			}
		}
	}
}

// frameLoop sends avatar frames while a session is active, plus one idle
// frame when it stops.
func (c *conn) frameLoop(ctx context.Context) error {
	wasActive := false
	meter.Loop(ctx, c.h.fps, func(time.Duration) {
		s := c.mgr.Current()
		if s == nil {
			return
		}
		speaking, volume, snap := s.Render()
		active := snap.State == live.StateActive
		if !active && !wasActive {
			return
		}
		wasActive = active
		c.trySend(frameEvent(speaking, volume, snap))
	})
	return ctx.Err()
}

// ── Callbacks ──────────────────────────────────────────────────────────────────

func (c *conn) pushAudio(pcm []byte) {
	dev := c.device.Load()
	if dev == nil {
		return
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if !dev.PushPCM(pcm) {
		c.log.Debug("microphone block dropped", "bytes", len(pcm))
	}
}

func (c *conn) playAudio(buf playback.Buffer) error {
	return c.send(audioEvent(buf))
}

func (c *conn) onState(s live.Snapshot) {
	if err := c.send(stateEvent(s)); err != nil {
		c.log.Debug("state event not delivered", "state", s.State.String(), "err", err)
	}
}

func (c *conn) onTranscript(e s2s.TranscriptEntry) {
	if e.Speaker == "model" {
		c.watcher.Observe(e.Text)
	}
	c.trySend(transcriptEvent(e))
}

// send queues ev, waiting for room until the connection ends.
func (c *conn) send(ev any) error {
	select {
	case c.out <- ev:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// trySend queues ev unless the outbox is full.
func (c *conn) trySend(ev any) {
	select {
	case c.out <- ev:
	default:
		c.log.Debug("event dropped, outbox full")
	}
}
