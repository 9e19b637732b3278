package live_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/searmo/yeiya/internal/live"
	"github.com/searmo/yeiya/internal/observe"
	"github.com/searmo/yeiya/pkg/audio"
	"github.com/searmo/yeiya/pkg/audio/capture"
	"github.com/searmo/yeiya/pkg/audio/playback"
	"github.com/searmo/yeiya/pkg/avatar"
	"github.com/searmo/yeiya/pkg/provider/s2s"
	"github.com/searmo/yeiya/pkg/provider/s2s/mock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

type recordingSink struct {
	mu     sync.Mutex
	bufs   []playback.Buffer
	closed int
}

func (r *recordingSink) Play(b playback.Buffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bufs = append(r.bufs, b)
	return nil
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bufs)
}

func (r *recordingSink) starts() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.bufs))
	for i, b := range r.bufs {
		out[i] = b.StartAt
	}
	return out
}

// countingDevice records how often the microphone was opened.
type countingDevice struct {
	inner capture.Device
	opens atomic.Int32
}

func (d *countingDevice) Open(ctx context.Context) (capture.Stream, error) {
	d.opens.Add(1)
	return d.inner.Open(ctx)
}

type fixture struct {
	env   live.Env
	prov  *mock.Provider
	dev   *capture.ChanDevice
	opens *countingDevice
	sink  *recordingSink
	clock *playback.ManualClock
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{
		prov:  &mock.Provider{},
		dev:   capture.NewChanDevice(audio.InputFormat, 16),
		sink:  &recordingSink{},
		clock: playback.NewManualClock(),
	}
	f.opens = &countingDevice{inner: f.dev}
	f.env = live.Env{
		APIKey:   apiKey,
		Provider: func(string) s2s.Provider { return f.prov },
		Device:   f.opens,
		Sink:     f.sink,
		Clock:    f.clock,
		Metrics:  met,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return f
}

// transport returns the mock session handed out by the n-th Connect.
func (f *fixture) transport(t *testing.T, n int) *mock.Session {
	t.Helper()
	if len(f.prov.Sessions) <= n {
		t.Fatalf("only %d sessions connected", len(f.prov.Sessions))
	}
	return f.prov.Sessions[n]
}

func constBlock(v float32, n int) []float32 {
	b := make([]float32, n)
	for i := range b {
		b[i] = v
	}
	return b
}

// pcmFor returns d of 24 kHz PCM16 at constant amplitude v.
func pcmFor(d time.Duration, v int16) []byte {
	n := int(d.Seconds() * audio.OutputSampleRate)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = v
	}
	return audio.PCM16ToBytes(samples)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func startActive(t *testing.T, f *fixture, opts ...live.Option) *live.Session {
	t.Helper()
	s := live.NewSession(f.env, live.DefaultConfig(), opts...)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if got := s.State(); got != live.StateActive {
		t.Fatalf("state = %s, want active", got)
	}
	return s
}

// ── Start failures ────────────────────────────────────────────────────────────

func TestStart_CredentialMissing(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"", "undefined", "tu_api_key_aqui", "   "} {
		t.Run("key="+key, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, key)
			s := live.NewSession(f.env, live.DefaultConfig())

			err := s.Start(context.Background())
			if !errors.Is(err, live.ErrCredentialMissing) {
				t.Fatalf("Start = %v, want ErrCredentialMissing", err)
			}
			if s.State() != live.StateError {
				t.Errorf("state = %s, want error", s.State())
			}
			if f.prov.Calls() != 0 {
				t.Errorf("Connect called %d times", f.prov.Calls())
			}
			if n := f.opens.opens.Load(); n != 0 {
				t.Errorf("device opened %d times", n)
			}
			if d := s.Snapshot().ErrorDetail; d == "" {
				t.Error("missing error detail")
			}
			select {
			case <-s.Done():
			default:
				t.Error("teardown did not run")
			}
		})
	}
}

func TestStart_ConnectionRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	f.prov.ConnectErr = &s2s.CloseError{Code: 1008, Reason: "API key not valid"}
	s := live.NewSession(f.env, live.DefaultConfig())

	err := s.Start(context.Background())
	if !errors.Is(err, live.ErrConnectionRejected) {
		t.Fatalf("Start = %v, want ErrConnectionRejected", err)
	}
	var ce *s2s.CloseError
	if !errors.As(err, &ce) || ce.Code != 1008 {
		t.Errorf("cause not preserved: %v", err)
	}
	if got := s.Snapshot().ErrorDetail; got != "API key not valid" {
		t.Errorf("detail = %q", got)
	}
	if n := f.opens.opens.Load(); n != 0 {
		t.Errorf("device opened %d times", n)
	}
}

func TestStart_DeviceUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	f.env.Device = capture.Unavailable{Reason: "permission denied"}
	s := live.NewSession(f.env, live.DefaultConfig())

	err := s.Start(context.Background())
	if !errors.Is(err, live.ErrDeviceUnavailable) {
		t.Fatalf("Start = %v, want ErrDeviceUnavailable", err)
	}
	if s.State() != live.StateError {
		t.Errorf("state = %s", s.State())
	}
	if !strings.Contains(s.Snapshot().ErrorDetail, "permission denied") {
		t.Errorf("detail = %q", s.Snapshot().ErrorDetail)
	}
	if got := f.transport(t, 0).CloseCalls(); got != 1 {
		t.Errorf("transport closed %d times, want 1", got)
	}
}

func TestStart_Twice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	s := startActive(t, f)
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	if f.prov.Calls() != 1 {
		t.Errorf("Connect called %d times", f.prov.Calls())
	}
}

func TestStart_ClosedWhileConnecting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	release := make(chan struct{})
	entered := make(chan struct{})
	handle := mock.NewSession()
	f.prov.ConnectFunc = func(context.Context, s2s.SessionConfig) (s2s.SessionHandle, error) {
		close(entered)
		<-release
		return handle, nil
	}

	s := live.NewSession(f.env, live.DefaultConfig())
	errc := make(chan error, 1)
	go func() { errc <- s.Start(context.Background()) }()

	<-entered
	_ = s.Close()
	close(release)

	if err := <-errc; !errors.Is(err, live.ErrSessionClosed) {
		t.Fatalf("Start = %v, want ErrSessionClosed", err)
	}
	if s.State() != live.StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
	if handle.CloseCalls() != 1 {
		t.Errorf("late transport closed %d times, want 1", handle.CloseCalls())
	}
	if n := f.opens.opens.Load(); n != 0 {
		t.Errorf("device opened %d times", n)
	}
}

// ── Active session ────────────────────────────────────────────────────────────

func TestSession_ForwardsOnlyWhileActive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	s := startActive(t, f)
	tr := f.transport(t, 0)

	f.dev.Push(constBlock(0.2, capture.DefaultBlockSize))
	waitFor(t, func() bool { return len(tr.Sent()) == 1 })
	if got := len(tr.Sent()[0]); got != capture.DefaultBlockSize*audio.BytesPerSample {
		t.Errorf("block bytes = %d", got)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.State() != live.StateClosed {
		t.Errorf("state = %s", s.State())
	}
	if f.dev.Push(constBlock(0.2, capture.DefaultBlockSize)) {
		t.Error("device still accepting blocks after teardown")
	}
	if len(tr.Sent()) != 1 {
		t.Errorf("sent %d blocks after close", len(tr.Sent()))
	}
	if tr.CloseCalls() != 1 {
		t.Errorf("transport closed %d times", tr.CloseCalls())
	}
	if f.sink.closed != 1 {
		t.Errorf("sink closed %d times", f.sink.closed)
	}
}

func TestSession_ContiguousPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	var mu sync.Mutex
	var events []bool
	var stops []time.Duration
	s := startActive(t, f, live.WithOnAgentSpeaking(func(speaking bool) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, speaking)
		if !speaking {
			stops = append(stops, f.clock.Now())
		}
	}))
	tr := f.transport(t, 0)

	tr.Deliver(pcmFor(200*time.Millisecond, 1000))
	waitFor(t, func() bool { return f.sink.count() == 1 })
	f.clock.Advance(50 * time.Millisecond)
	tr.Deliver(pcmFor(300*time.Millisecond, 1000))
	waitFor(t, func() bool { return f.sink.count() == 2 })
	f.clock.Advance(50 * time.Millisecond)
	tr.Deliver(pcmFor(150*time.Millisecond, 1000))
	waitFor(t, func() bool { return f.sink.count() == 3 })

	want := []time.Duration{0, 200 * time.Millisecond, 500 * time.Millisecond}
	for i, got := range f.sink.starts() {
		if got != want[i] {
			t.Errorf("buffer %d starts at %v, want %v", i, got, want[i])
		}
	}
	if !s.Snapshot().AgentSpeaking {
		t.Error("agent should be speaking")
	}

	f.clock.Advance(549 * time.Millisecond)
	if !s.Snapshot().AgentSpeaking {
		t.Error("agent stopped early")
	}
	f.clock.Advance(time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || !events[0] || events[1] {
		t.Fatalf("speaking events = %v, want [true false]", events)
	}
	if stops[0] != 650*time.Millisecond {
		t.Errorf("stopped at %v, want 650ms", stops[0])
	}
}

func TestSession_ScheduledSpeechFinishesAfterClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	stopped := make(chan struct{})
	s := startActive(t, f, live.WithOnAgentSpeaking(func(speaking bool) {
		if !speaking {
			close(stopped)
		}
	}))
	tr := f.transport(t, 0)

	tr.Deliver(pcmFor(200*time.Millisecond, 1000))
	waitFor(t, func() bool { return f.sink.count() == 1 })
	_ = s.Close()

	select {
	case <-stopped:
		t.Fatal("speech cut off by close")
	default:
	}
	f.clock.Advance(200 * time.Millisecond)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduled speech never finished")
	}
}

func TestSession_DecodeFailureIsLocal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame []byte
	}{
		{"odd length", []byte{0x01}},
		{"empty", []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, "real-key")
			reader := withMetricReader(t, f)
			s := startActive(t, f)
			tr := f.transport(t, 0)

			tr.Deliver(tt.frame)
			tr.Deliver(pcmFor(100*time.Millisecond, 500))
			waitFor(t, func() bool { return f.sink.count() == 1 })

			if s.State() != live.StateActive {
				t.Errorf("state = %s, want active", s.State())
			}
			if got := counter(t, reader, "yeiya.live.decode_failures", "")[""]; got != 1 {
				t.Errorf("decode failures = %d, want 1", got)
			}
		})
	}
}

func TestSession_InboundAudioResetsUserSpeaking(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	s := startActive(t, f)
	tr := f.transport(t, 0)

	f.dev.Push(constBlock(0.5, capture.DefaultBlockSize))
	waitFor(t, func() bool { return s.Snapshot().UserSpeaking })

	tr.Deliver(pcmFor(100*time.Millisecond, 500))
	waitFor(t, func() bool { return !s.Snapshot().UserSpeaking })
	if !s.Snapshot().AgentSpeaking {
		t.Error("agent should be speaking")
	}
}

func TestSession_RemoteClose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cause      error
		wantKind   error
		wantDetail string
	}{
		{
			name:       "abnormal",
			cause:      &s2s.CloseError{Code: s2s.StatusAbnormalClosure},
			wantKind:   live.ErrAbnormalClose,
			wantDetail: "abnormal closure (possible network or API key error)",
		},
		{
			name:       "with reason",
			cause:      &s2s.CloseError{Code: 1011, Reason: "quota exceeded"},
			wantKind:   live.ErrConnectionRejected,
			wantDetail: "quota exceeded",
		},
		{
			name:       "server error",
			cause:      &s2s.ServerError{Code: 500, Message: "internal"},
			wantKind:   live.ErrConnectionRejected,
			wantDetail: "internal",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, "real-key")
			s := startActive(t, f)

			f.transport(t, 0).End(tc.cause)
			waitFor(t, func() bool { return s.State() == live.StateError })
			<-s.Done()

			if !errors.Is(s.Err(), tc.wantKind) {
				t.Errorf("Err() = %v, want %v", s.Err(), tc.wantKind)
			}
			if got := s.Snapshot().ErrorDetail; got != tc.wantDetail {
				t.Errorf("detail = %q, want %q", got, tc.wantDetail)
			}
			if f.dev.Push(constBlock(0.1, 16)) {
				t.Error("device not released")
			}
		})
	}
}

func TestSession_RemoteEndWithoutError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	s := startActive(t, f)
	f.transport(t, 0).End(nil)
	waitFor(t, func() bool { return s.State() == live.StateClosed })
}

// ── Teardown ──────────────────────────────────────────────────────────────────

func TestSession_TeardownWithoutStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	s := live.NewSession(f.env, live.DefaultConfig())
	for i := range 2 {
		if err := s.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}
	if s.State() != live.StateClosed {
		t.Errorf("state = %s", s.State())
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed")
	}
	if f.prov.Calls() != 0 || f.opens.opens.Load() != 0 {
		t.Error("resources acquired by Close")
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start after Close should fail")
	}
}

func TestSession_DoubleTeardownAfterFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	s := live.NewSession(f.env, live.DefaultConfig())
	_ = s.Start(context.Background())
	_ = s.Close()
	_ = s.Close()
	if s.State() != live.StateError {
		t.Errorf("state = %s, want error to stick", s.State())
	}
}

// blockingDevice holds Open until its context ends.
type blockingDevice struct {
	opening chan struct{}
}

func (d *blockingDevice) Open(ctx context.Context) (capture.Stream, error) {
	close(d.opening)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStart_ClosedWhileOpeningDevice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	reader := withMetricReader(t, f)
	dev := &blockingDevice{opening: make(chan struct{})}
	f.env.Device = dev

	s := live.NewSession(f.env, live.DefaultConfig())
	errc := make(chan error, 1)
	go func() { errc <- s.Start(context.Background()) }()

	<-dev.opening
	_ = s.Close()

	if err := <-errc; !errors.Is(err, live.ErrSessionClosed) {
		t.Errorf("Start = %v, want ErrSessionClosed", err)
	}
	if s.State() != live.StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}

	got := counter(t, reader, "yeiya.live.session.starts", "outcome")
	if got[observe.OutcomeSuperseded] != 1 || got[observe.OutcomeDeviceUnavailable] != 0 {
		t.Errorf("session starts = %v, want one superseded", got)
	}
}

// withMetricReader swaps the fixture's metrics for ones backed by a
// ManualReader.
func withMetricReader(t *testing.T, f *fixture) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f.env.Metrics = met
	return reader
}

// counter returns the int64 counter name summed per value of attribute key.
// With an empty key every data point lands under "".
func counter(t *testing.T, reader *sdkmetric.ManualReader, name, key string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is not an int64 sum", m.Name)
			}
			for _, dp := range sum.DataPoints {
				label := ""
				if key != "" {
					v, _ := dp.Attributes.Value(attribute.Key(key))
					label = v.AsString()
				}
				out[label] += dp.Value
			}
		}
	}
	return out
}

// ── Rendering inputs ──────────────────────────────────────────────────────────

func TestSession_FrameIdleFloor(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	s := live.NewSession(f.env, live.DefaultConfig())
	if speaking, vol := s.Frame(); speaking || vol != avatar.IdleVolume {
		t.Errorf("idle Frame = (%v, %v)", speaking, vol)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()
	if _, vol := s.Frame(); vol != 0 {
		t.Errorf("active silent volume = %v, want 0", vol)
	}
}

func TestSession_TickFollowsAgentAudio(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	s := startActive(t, f)
	f.transport(t, 0).Deliver(pcmFor(500*time.Millisecond, 8000))
	waitFor(t, func() bool { return f.sink.count() == 1 })

	var snap live.Snapshot
	for range 60 {
		snap = s.Tick()
	}
	if snap.AgentVolume < 0.2 || snap.AgentVolume > 0.26 {
		t.Errorf("agent volume = %v, want ~0.244", snap.AgentVolume)
	}
	speaking, vol := s.Frame()
	if !speaking || vol != snap.AgentVolume {
		t.Errorf("Frame = (%v, %v)", speaking, vol)
	}
}

func TestSession_RenderAloneMovesVolume(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	s := startActive(t, f)
	f.transport(t, 0).Deliver(pcmFor(500*time.Millisecond, 8000))
	waitFor(t, func() bool { return f.sink.count() == 1 })

	var (
		speaking bool
		vol      float64
	)
	for range 60 {
		speaking, vol, _ = s.Render()
	}
	if !speaking {
		t.Error("agent not speaking while its audio sounds")
	}
	if vol < 0.2 || vol > 0.26 {
		t.Errorf("volume after 60 frames = %v, want ~0.244", vol)
	}
}

func TestSession_RenderIdleFloor(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "real-key")
	s := live.NewSession(f.env, live.DefaultConfig())
	speaking, vol, snap := s.Render()
	if speaking || vol != avatar.IdleVolume {
		t.Errorf("Render = (%v, %v), want idle pose", speaking, vol)
	}
	if snap.State != live.StateIdle {
		t.Errorf("state = %s", snap.State)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	want := map[live.State]string{
		live.StateIdle:       "idle",
		live.StateConnecting: "connecting",
		live.StateActive:     "active",
		live.StateError:      "error",
		live.StateClosed:     "closed",
	}
	for st, name := range want {
		if st.String() != name {
			t.Errorf("%d.String() = %q, want %q", int(st), st.String(), name)
		}
	}
	if !live.StateError.Terminal() || live.StateActive.Terminal() {
		t.Error("Terminal misreports")
	}
}

func TestCredentialMissing(t *testing.T) {
	t.Parallel()

	for key, want := range map[string]bool{
		"":                true,
		"undefined":       true,
		"tu_api_key_aqui": true,
		" undefined ":     true,
		"AIzaSyReal":      false,
	} {
		if got := live.CredentialMissing(key); got != want {
			t.Errorf("CredentialMissing(%q) = %v, want %v", key, got, want)
		}
	}
}
