package playback_test

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/searmo/yeiya/pkg/audio"
	"github.com/searmo/yeiya/pkg/audio/playback"
)

// pcmFor returns a 24 kHz PCM16 payload of length d filled with value v.
func pcmFor(d time.Duration, v int16) []byte {
	n := int(d * audio.OutputSampleRate / time.Second)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = v
	}
	return audio.PCM16ToBytes(samples)
}

// speakingLog records OnSpeaking transitions.
type speakingLog struct {
	mu     sync.Mutex
	events []bool
	at     []time.Duration
	clock  playback.Clock
}

func (l *speakingLog) record(speaking bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, speaking)
	l.at = append(l.at, l.clock.Now())
}

func (l *speakingLog) stops() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []time.Duration
	for i, e := range l.events {
		if !e {
			out = append(out, l.at[i])
		}
	}
	return out
}

func newScheduler(t *testing.T) (*playback.Scheduler, *playback.ManualClock, *speakingLog) {
	t.Helper()
	clock := playback.NewManualClock()
	log := &speakingLog{clock: clock}
	s := playback.NewScheduler(clock, nil, playback.WithOnSpeaking(log.record))
	return s, clock, log
}

func TestScheduler_ContiguousRun(t *testing.T) {
	t.Parallel()

	s, clock, log := newScheduler(t)

	// Frames of 200, 300 and 150 ms arrive at 0, 50 and 100 ms.
	b1, err := s.Enqueue(pcmFor(200*time.Millisecond, 1))
	if err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	clock.Advance(50 * time.Millisecond)
	b2, err := s.Enqueue(pcmFor(300*time.Millisecond, 2))
	if err != nil {
		t.Fatalf("Enqueue 2: %v", err)
	}
	clock.Advance(50 * time.Millisecond)
	b3, err := s.Enqueue(pcmFor(150*time.Millisecond, 3))
	if err != nil {
		t.Fatalf("Enqueue 3: %v", err)
	}

	wantStarts := []time.Duration{0, 200 * time.Millisecond, 500 * time.Millisecond}
	for i, b := range []playback.Buffer{b1, b2, b3} {
		if b.StartAt != wantStarts[i] {
			t.Errorf("buffer %d starts at %v, want %v", i+1, b.StartAt, wantStarts[i])
		}
	}
	if got := s.Cursor(); got != 650*time.Millisecond {
		t.Errorf("Cursor = %v, want 650ms", got)
	}
	if !s.Speaking() || s.Active() != 3 {
		t.Fatalf("Speaking=%v Active=%d, want true/3", s.Speaking(), s.Active())
	}

	clock.Advance(449 * time.Millisecond) // 549ms
	if got := s.Active(); got != 1 {
		t.Errorf("Active at 549ms = %d, want 1", got)
	}
	if len(log.stops()) != 0 {
		t.Fatal("stopped speaking fired before the run ended")
	}

	clock.Advance(time.Second)
	stops := log.stops()
	if len(stops) != 1 {
		t.Fatalf("got %d stop events, want 1", len(stops))
	}
	if stops[0] != 650*time.Millisecond {
		t.Errorf("stop fired at %v, want 650ms", stops[0])
	}
	if s.Speaking() || s.Active() != 0 {
		t.Errorf("Speaking=%v Active=%d after drain", s.Speaking(), s.Active())
	}
}

func TestScheduler_LateFrameStartsAtNow(t *testing.T) {
	t.Parallel()

	s, clock, log := newScheduler(t)
	if _, err := s.Enqueue(pcmFor(100*time.Millisecond, 1)); err != nil {
		t.Fatal(err)
	}
	clock.Advance(300 * time.Millisecond)

	b, err := s.Enqueue(pcmFor(100*time.Millisecond, 1))
	if err != nil {
		t.Fatal(err)
	}
	if b.StartAt != 300*time.Millisecond {
		t.Errorf("StartAt = %v, want 300ms (cursor must not rewind into the past)", b.StartAt)
	}
	clock.Advance(time.Second)

	// Two separate runs, two stop events.
	if got := len(log.stops()); got != 2 {
		t.Errorf("stop events = %d, want 2", got)
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	want := []bool{true, false, true, false}
	if len(log.events) != len(want) {
		t.Fatalf("events = %v, want %v", log.events, want)
	}
	for i := range want {
		if log.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", log.events, want)
		}
	}
}

func TestScheduler_NoOverlapUnderRandomArrival(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(42, 7))
	for trial := range 50 {
		s, clock, log := newScheduler(t)
		var prev playback.Buffer
		for i := range 40 {
			clock.Advance(time.Duration(rng.IntN(120)) * time.Millisecond)
			arrival := clock.Now()
			d := time.Duration(10+rng.IntN(200)) * time.Millisecond
			b, err := s.Enqueue(pcmFor(d, 1))
			if err != nil {
				t.Fatalf("trial %d frame %d: %v", trial, i, err)
			}
			if b.StartAt < arrival {
				t.Fatalf("trial %d frame %d starts at %v before arrival %v", trial, i, b.StartAt, arrival)
			}
			if i > 0 && b.StartAt < prev.End() {
				t.Fatalf("trial %d frame %d overlaps: start %v < previous end %v", trial, i, b.StartAt, prev.End())
			}
			if i > 0 && b.StartAt < prev.StartAt {
				t.Fatalf("trial %d: start times decreased", trial)
			}
			prev = b
		}
		clock.Advance(time.Minute)
		if s.Active() != 0 {
			t.Fatalf("trial %d: %d buffers still active", trial, s.Active())
		}
		// Alternating true/false, ending with false.
		log.mu.Lock()
		for j, e := range log.events {
			if e != (j%2 == 0) {
				t.Fatalf("trial %d: events not alternating: %v", trial, log.events)
			}
		}
		if n := len(log.events); n == 0 || log.events[n-1] {
			t.Fatalf("trial %d: run did not end with a stop event", trial)
		}
		log.mu.Unlock()
	}
}

func TestScheduler_DecodeFailure(t *testing.T) {
	t.Parallel()

	s, _, log := newScheduler(t)
	for _, bad := range [][]byte{nil, {}, {0x01, 0x02, 0x03}} {
		_, err := s.Enqueue(bad)
		if !errors.Is(err, playback.ErrDecode) {
			t.Errorf("Enqueue(%v) err = %v, want ErrDecode", bad, err)
		}
	}
	if s.Cursor() != 0 || s.Active() != 0 || len(log.events) != 0 {
		t.Errorf("decode failures must not touch the timeline")
	}

	// The scheduler still works after a dropped frame.
	if _, err := s.Enqueue(pcmFor(10*time.Millisecond, 1)); err != nil {
		t.Errorf("Enqueue after failure: %v", err)
	}
}

func TestScheduler_SinkError(t *testing.T) {
	t.Parallel()

	clock := playback.NewManualClock()
	sinkErr := errors.New("device gone")
	s := playback.NewScheduler(clock, playback.SinkFunc(func(playback.Buffer) error { return sinkErr }))
	if _, err := s.Enqueue(pcmFor(10*time.Millisecond, 1)); !errors.Is(err, sinkErr) {
		t.Fatalf("err = %v, want %v", err, sinkErr)
	}
	if s.Cursor() != 0 || s.Active() != 0 {
		t.Error("failed sink must not advance the cursor")
	}
}

func TestScheduler_StopGraceful(t *testing.T) {
	t.Parallel()

	s, clock, log := newScheduler(t)
	if _, err := s.Enqueue(pcmFor(100*time.Millisecond, 1)); err != nil {
		t.Fatal(err)
	}
	s.Stop(false)
	s.Stop(false)
	if _, err := s.Enqueue(pcmFor(100*time.Millisecond, 1)); !errors.Is(err, playback.ErrStopped) {
		t.Errorf("Enqueue after Stop err = %v, want ErrStopped", err)
	}
	if s.Active() != 1 {
		t.Fatal("graceful stop dropped scheduled audio")
	}
	clock.Advance(200 * time.Millisecond)
	if got := len(log.stops()); got != 1 {
		t.Errorf("stop events = %d, want 1", got)
	}
}

func TestScheduler_StopAbort(t *testing.T) {
	t.Parallel()

	s, clock, log := newScheduler(t)
	for range 3 {
		if _, err := s.Enqueue(pcmFor(100*time.Millisecond, 1)); err != nil {
			t.Fatal(err)
		}
	}
	s.Stop(true)
	s.Stop(true)
	if s.Active() != 0 || s.Speaking() {
		t.Fatal("abort must clear the active set")
	}
	if clock.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clock.Pending())
	}
	clock.Advance(time.Second)
	if got := len(log.stops()); got != 1 {
		t.Errorf("stop events = %d, want exactly 1", got)
	}
}

func TestScheduler_Window(t *testing.T) {
	t.Parallel()

	s, clock, _ := newScheduler(t)
	if got := s.Window(4); len(got) != 4 || got[0] != 0 {
		t.Fatalf("silent window = %v, want zeros", got)
	}

	if _, err := s.Enqueue(pcmFor(100*time.Millisecond, 16384)); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Millisecond)
	w := s.Window(512)
	for i, v := range w {
		if v != 0.5 {
			t.Fatalf("sample %d = %v, want 0.5", i, v)
		}
	}

	// Straddle the end of the buffer: first half sounding, second half silent.
	clock.Set(100*time.Millisecond - audio.SamplesDuration(256, audio.OutputSampleRate))
	w = s.Window(512)
	if w[0] != 0.5 || w[511] != 0 {
		t.Errorf("straddling window = %v...%v, want 0.5...0", w[0], w[511])
	}
}

func TestManualClock_TimerStop(t *testing.T) {
	t.Parallel()

	c := playback.NewManualClock()
	fired := 0
	tm := c.AfterFunc(time.Second, func() { fired++ })
	if !tm.Stop() {
		t.Error("Stop on pending timer = false")
	}
	if tm.Stop() {
		t.Error("second Stop = true")
	}
	c.Advance(2 * time.Second)
	if fired != 0 {
		t.Errorf("stopped timer fired %d times", fired)
	}
	if c.Now() != 2*time.Second {
		t.Errorf("Now = %v, want 2s", c.Now())
	}
}
