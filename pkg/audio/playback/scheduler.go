// Package playback schedules inbound speech frames for gapless output.
//
// Frames arrive from the transport with irregular network timing. The
// [Scheduler] places each one on a single output timeline: a frame starts at
// the later of the playback cursor and the current clock time, and the cursor
// then moves to that frame's end. Frames therefore never overlap and, while
// they arrive faster than real time, never leave gaps.
//
// The scheduler tracks every buffer that is queued or sounding (the active
// source set). When the set drains to empty the agent has stopped speaking;
// the OnSpeaking callback observes exactly one false per contiguous run.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/searmo/yeiya/pkg/audio"
)

var (
	// ErrDecode reports an inbound frame that is not valid PCM16. The frame
	// is dropped; the timeline and the session are unaffected.
	ErrDecode = errors.New("playback: decode failure")

	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("playback: scheduler stopped")
)

// Buffer is one decoded frame placed on the output timeline.
type Buffer struct {
	// Seq numbers buffers in scheduling order, starting at 1.
	Seq uint64

	// Samples holds the decoded mono samples in [-1, 1).
	Samples []float32

	// PCM is the original little-endian payload.
	PCM []byte

	SampleRate int

	// StartAt is the clock time at which the first sample sounds.
	StartAt time.Duration

	// Duration is the playback length.
	Duration time.Duration
}

// End returns the clock time at which the buffer finishes.
func (b Buffer) End() time.Duration { return b.StartAt + b.Duration }

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithSampleRate overrides the inbound sample rate (default 24 kHz).
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) { s.rate = rate }
}

// WithOnSpeaking registers fn to observe speaking transitions. It is called
// with true when a buffer is scheduled into an empty set and with false when
// the set drains. fn is never called with the scheduler lock held.
func WithOnSpeaking(fn func(speaking bool)) Option {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

// WithLogger sets the logger used for dropped frames.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

type activeSource struct {
	buf   Buffer
	timer Timer
}

// Scheduler owns the playback cursor and the active source set. It is safe
// for concurrent use, although a session feeds it from a single goroutine to
// keep arrival order.
type Scheduler struct {
	clock      Clock
	sink       Sink
	rate       int
	onSpeaking func(bool)
	log        *slog.Logger

	mu       sync.Mutex
	cursor   time.Duration
	seq      uint64
	active   map[uint64]*activeSource
	speaking bool
	stopped  bool
}

// NewScheduler returns a Scheduler that plays buffers through sink against
// clock. A nil sink discards audio but still keeps time.
func NewScheduler(clock Clock, sink Sink, opts ...Option) *Scheduler {
	if sink == nil {
		sink = NullSink{}
	}
	s := &Scheduler{
		clock:  clock,
		sink:   sink,
		rate:   audio.OutputSampleRate,
		log:    slog.Default(),
		active: make(map[uint64]*activeSource),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes pcm and schedules it at max(cursor, now). Invalid payloads
// return an error wrapping [ErrDecode] and leave the timeline unchanged.
func (s *Scheduler) Enqueue(pcm []byte) (Buffer, error) {
	if len(pcm) == 0 || len(pcm)%audio.BytesPerSample != 0 {
		return Buffer{}, fmt.Errorf("%w: %d-byte payload", ErrDecode, len(pcm))
	}
	samples := audio.BytesToFloat(pcm)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Buffer{}, ErrStopped
	}

	now := s.clock.Now()
	buf := Buffer{
		Seq:        s.seq + 1,
		Samples:    samples,
		PCM:        pcm,
		SampleRate: s.rate,
		StartAt:    max(s.cursor, now),
		Duration:   audio.SamplesDuration(len(samples), s.rate),
	}
	if err := s.sink.Play(buf); err != nil {
		s.mu.Unlock()
		return Buffer{}, fmt.Errorf("playback: sink: %w", err)
	}
	s.seq = buf.Seq
	s.cursor = buf.End()

	seq := buf.Seq
	s.active[seq] = &activeSource{
		buf:   buf,
		timer: s.clock.AfterFunc(buf.End()-now, func() { s.finish(seq) }),
	}
	started := !s.speaking
	s.speaking = true
	s.mu.Unlock()

	if started {
		s.notify(true)
	}
	return buf, nil
}

// finish removes a completed buffer from the active source set.
func (s *Scheduler) finish(seq uint64) {
	s.mu.Lock()
	if _, ok := s.active[seq]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, seq)
	drained := len(s.active) == 0 && s.speaking
	if drained {
		s.speaking = false
	}
	s.mu.Unlock()

	if drained {
		s.notify(false)
	}
}

func (s *Scheduler) notify(speaking bool) {
	if s.onSpeaking != nil {
		s.onSpeaking(speaking)
	}
}

// Stop refuses further frames. With abort false, already scheduled buffers
// play out and the final stopped-speaking transition still fires. With abort
// true, pending buffers are dropped and the transition fires immediately.
// Stop is idempotent.
func (s *Scheduler) Stop(abort bool) {
	s.mu.Lock()
	s.stopped = true
	if !abort {
		s.mu.Unlock()
		return
	}
	for seq, src := range s.active {
		src.timer.Stop()
		delete(s.active, seq)
	}
	drained := s.speaking
	s.speaking = false
	s.mu.Unlock()

	if drained {
		s.notify(false)
	}
}

// Cursor returns the end of the last scheduled buffer.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Active returns the size of the active source set.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Speaking reports whether any buffer is queued or sounding.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Scheduled returns a snapshot of the active buffers ordered by start time.
func (s *Scheduler) Scheduled() []Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Buffer, 0, len(s.active))
	for _, src := range s.active {
		out = append(out, src.buf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt < out[j].StartAt })
	return out
}

// Window returns the n output samples starting at the current clock time,
// zero where nothing is sounding. It is the analysis tap for output loudness.
func (s *Scheduler) Window(n int) []float32 {
	out := make([]float32, n)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, src := range s.active {
		b := src.buf
		if b.StartAt >= now+audio.SamplesDuration(n, s.rate) || b.End() <= now {
			continue
		}
		// offset of the buffer's first sample relative to the window start.
		offset := int((b.StartAt - now) * time.Duration(s.rate) / time.Second)
		for i := max(0, offset); i < n; i++ {
			j := i - offset
			if j >= len(b.Samples) {
				break
			}
			out[i] = b.Samples[j]
		}
	}
	return out
}
