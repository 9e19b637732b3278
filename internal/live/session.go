// Package live runs one spoken conversation with the hosted voice model.
//
// A [Session] moves through idle, connecting and active, and ends in either
// error or closed. Start checks the credential, connects the transport,
// opens the microphone and only then becomes active. While active the
// capture path forwards microphone blocks and an inbound pump hands every
// received frame, in arrival order, to the playback scheduler. Every exit
// path runs the same teardown exactly once.
//
// There is no reconnect. A failed or closed Session stays that way; callers
// build a new one, usually through [Manager].
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/searmo/yeiya/internal/observe"
	"github.com/searmo/yeiya/pkg/audio/capture"
	"github.com/searmo/yeiya/pkg/audio/meter"
	"github.com/searmo/yeiya/pkg/audio/playback"
	"github.com/searmo/yeiya/pkg/avatar"
	"github.com/searmo/yeiya/pkg/provider/s2s"
	"go.opentelemetry.io/otel/attribute"
)

// State is the externally visible lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateError
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s is error or closed.
func (s State) Terminal() bool { return s == StateError || s == StateClosed }

// Snapshot is a point-in-time view of a Session for renderers.
type Snapshot struct {
	ID            string
	State         State
	ErrorDetail   string
	AgentSpeaking bool
	UserSpeaking  bool
	AgentVolume   float64
	UserVolume    float64
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithOnState registers a callback invoked after every state change.
func WithOnState(fn func(Snapshot)) Option {
	return func(s *Session) { s.onState = fn }
}

// WithOnAgentSpeaking registers a callback for agent speech runs starting
// and stopping.
func WithOnAgentSpeaking(fn func(speaking bool)) Option {
	return func(s *Session) { s.onAgent = fn }
}

// WithOnTranscript registers a callback for transcript entries.
func WithOnTranscript(fn func(s2s.TranscriptEntry)) Option {
	return func(s *Session) { s.onTranscript = fn }
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is one live conversation. All methods are safe for concurrent use.
type Session struct {
	id  string
	env Env
	cfg Config
	log *slog.Logger
	met *observe.Metrics

	onState      func(Snapshot)
	onAgent      func(bool)
	onTranscript func(s2s.TranscriptEntry)

	agentMeter *meter.Meter
	userMeter  *meter.Meter

	// active gates the capture path without taking mu.
	active        atomic.Bool
	agentSpeaking atomic.Bool
	counted       atomic.Bool

	mu        sync.Mutex
	state     State
	err       error
	transport s2s.SessionHandle
	sched     *playback.Scheduler
	capture   *capture.Capture

	ctx          context.Context
	cancel       context.CancelFunc
	teardownOnce sync.Once
	done         chan struct{}
}

// NewSession returns an idle Session. Nothing is opened until Start.
func NewSession(env Env, cfg Config, opts ...Option) *Session {
	env = env.withDefaults()
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		env:        env,
		cfg:        cfg,
		log:        env.Logger.With("component", "live", "session_id", id),
		met:        env.Metrics,
		agentMeter: meter.New(nil, meter.WithSmoothing(cfg.AgentSmoothing)),
		userMeter:  meter.New(nil, meter.WithSmoothing(cfg.UserSmoothing), meter.WithReducer(meter.ReduceSpectral)),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Done is closed once teardown has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to StateError, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start runs the connect sequence. On failure the session is left in
// StateError with resources released and the cause is returned. Start may
// be called once.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("live: start: session is %s", st)
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.emit()

	ctx, span := observe.StartSpan(ctx, "live.session.start")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.id))

	err := s.start(ctx)
	observe.FailSpan(span, err)
	return err
}

func (s *Session) start(ctx context.Context) error {
	if CredentialMissing(s.env.APIKey) {
		return s.abort(ctx, observe.OutcomeCredentialMissing, ErrCredentialMissing)
	}

	if s.env.Provider == nil {
		return s.abort(ctx, observe.OutcomeConnectionRejected,
			classify(ErrConnectionRejected, errors.New("no provider configured")))
	}

	t0 := time.Now()
	handle, err := s.env.Provider(s.env.APIKey).Connect(ctx, s.cfg.Session)
	if err != nil {
		return s.abort(ctx, observe.OutcomeConnectionRejected, classify(ErrConnectionRejected, err))
	}
	s.met.ConnectDuration.Record(ctx, time.Since(t0).Seconds())

	sched := playback.NewScheduler(s.env.Clock, s.env.Sink,
		playback.WithOnSpeaking(s.agentSpeakingChanged),
		playback.WithLogger(s.log),
	)
	capt := capture.New(s.env.Device, &countingSink{next: handle, met: s.met},
		capture.WithBlockSize(s.cfg.BlockSize),
		capture.WithThresholds(s.cfg.Onset, s.cfg.Release),
		capture.WithGate(capture.GateFunc(s.active.Load)),
		capture.WithAgentSpeaking(s.agentSpeaking.Load),
		capture.WithLogger(s.log),
	)

	s.mu.Lock()
	if s.state != StateConnecting {
		// Closed while dialing.
		s.mu.Unlock()
		_ = handle.Close()
		s.met.RecordSessionStart(ctx, observe.OutcomeSuperseded)
		return ErrSessionClosed
	}
	s.transport, s.sched, s.capture = handle, sched, capt
	s.mu.Unlock()

	if err := capt.Start(s.ctx); err != nil {
		return s.abort(ctx, observe.OutcomeDeviceUnavailable, classify(ErrDeviceUnavailable, err))
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		s.met.RecordSessionStart(ctx, observe.OutcomeSuperseded)
		return ErrSessionClosed
	}
	s.state = StateActive
	s.agentMeter.Attach(meter.TapFunc(func() []float32 { return sched.Window(meter.OutputWindow) }))
	s.userMeter.Attach(capt)
	s.active.Store(true)
	s.counted.Store(true)
	s.met.ActiveSessions.Add(ctx, 1)
	s.mu.Unlock()

	s.met.RecordSessionStart(ctx, observe.OutcomeActive)

	go s.pump(handle, sched, capt)
	go s.forwardTranscripts(handle)

	s.log.Info("live session active")
	s.emit()
	return nil
}

// abort fails the session during Start. When Close got there first the
// attempt is recorded as superseded, whatever step failed.
func (s *Session) abort(ctx context.Context, outcome string, err error) error {
	s.finish(StateError, err)
	s.mu.Lock()
	got := s.err
	s.mu.Unlock()
	if got == nil {
		s.met.RecordSessionStart(ctx, observe.OutcomeSuperseded)
		return ErrSessionClosed
	}
	s.met.RecordSessionStart(ctx, outcome)
	return got
}

// pump moves inbound frames to the scheduler in arrival order. It ends when
// the transport's audio channel closes.
func (s *Session) pump(h s2s.SessionHandle, sched *playback.Scheduler, capt *capture.Capture) {
	for frame := range h.Audio() {
		s.met.FramesReceived.Add(s.ctx, 1)
		capt.ResetUserSpeaking()

		buf, err := sched.Enqueue(frame)
		switch {
		case err == nil:
			s.met.ScheduledAudio.Add(s.ctx, buf.Duration.Seconds())
		case errors.Is(err, playback.ErrDecode):
			s.met.DecodeFailures.Add(s.ctx, 1)
			s.log.Warn("live: dropping undecodable frame", "err", err)
		case errors.Is(err, playback.ErrStopped):
			// Tearing down; drain the channel.
		default:
			s.log.Warn("live: schedule frame", "err", err)
		}
	}

	if err := h.Err(); err != nil {
		s.fail(remoteError(err))
		return
	}
	_ = s.Close()
}

func (s *Session) forwardTranscripts(h s2s.SessionHandle) {
	for e := range h.Transcripts() {
		s.log.Debug("transcript", "speaker", e.Speaker, "text", e.Text)
		if s.onTranscript != nil {
			s.onTranscript(e)
		}
	}
}

func (s *Session) agentSpeakingChanged(speaking bool) {
	s.agentSpeaking.Store(speaking)
	if speaking {
		s.agentMeter.Unmute()
	} else {
		s.agentMeter.Reset()
	}
	if s.onAgent != nil {
		s.onAgent(speaking)
	}
}

// fail moves the session to StateError with err as the detail.
func (s *Session) fail(err error) {
	s.log.Warn("live session failed", "err", err)
	s.finish(StateError, err)
}

// Close ends the session locally. Scheduled speech may still finish. Close
// is idempotent and safe on a session that never started.
func (s *Session) Close() error {
	s.finish(StateClosed, nil)
	return nil
}

func (s *Session) finish(state State, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.err = err
	s.mu.Unlock()

	s.teardown()
	s.emit()
}

// teardown releases everything the session acquired. Each step tolerates
// resources that were never acquired.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.active.Store(false)

		s.mu.Lock()
		capt, sched, tr := s.capture, s.sched, s.transport
		s.mu.Unlock()

		if capt != nil {
			if err := capt.Stop(); err != nil {
				s.log.Debug("teardown: stop capture", "err", err)
			}
		}
		s.agentMeter.Attach(nil)
		s.userMeter.Attach(nil)
		s.userMeter.Reset()
		if sched != nil {
			sched.Stop(false)
		}
		if tr != nil {
			if err := tr.Close(); err != nil {
				s.log.Debug("teardown: close transport", "err", err)
			}
		}
		if c, ok := s.env.Sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.log.Debug("teardown: close sink", "err", err)
			}
		}
		s.cancel()
		if s.counted.Load() {
			s.met.ActiveSessions.Add(context.Background(), -1)
		}
		close(s.done)
	})
}

func (s *Session) emit() {
	if s.onState != nil {
		s.onState(s.Snapshot())
	}
}

// Snapshot returns the current view without advancing the meters.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{ID: s.id, State: s.state}
	if s.err != nil {
		snap.ErrorDetail = s.err.Error()
	}
	capt := s.capture
	s.mu.Unlock()

	snap.AgentSpeaking = s.agentSpeaking.Load()
	snap.UserSpeaking = capt != nil && capt.UserSpeaking()
	snap.AgentVolume = s.agentMeter.Value()
	snap.UserVolume = s.userMeter.Value()
	return snap
}

// Tick advances both meters by one render frame and returns the new view.
func (s *Session) Tick() Snapshot {
	s.agentMeter.Tick()
	s.userMeter.Tick()
	return s.Snapshot()
}

// Render is the per-frame entry point for render loops: it advances both
// meters by one frame and returns the avatar inputs with the new view.
func (s *Session) Render() (isSpeaking bool, volume float64, snap Snapshot) {
	snap = s.Tick()
	isSpeaking, volume = s.Frame()
	return isSpeaking, volume, snap
}

// Frame returns the avatar inputs as of the last [Session.Tick] without
// advancing the meters. Outside StateActive the volume is the idle floor.
func (s *Session) Frame() (isSpeaking bool, volume float64) {
	if !s.active.Load() {
		return false, avatar.IdleVolume
	}
	return s.agentSpeaking.Load(), s.agentMeter.Value()
}

// countingSink forwards capture blocks to the transport and counts them.
type countingSink struct {
	next capture.Sink
	met  *observe.Metrics
}

func (c *countingSink) SendAudio(chunk []byte) error {
	if err := c.next.SendAudio(chunk); err != nil {
		return err
	}
	c.met.FramesSent.Add(context.Background(), 1)
	return nil
}
