package playback

import (
	"fmt"
	"io"
	"sync"

	"github.com/searmo/yeiya/pkg/audio"
)

// Sink receives buffers in scheduling order. Play must not block for long;
// it runs while the scheduler holds its lock so the sink sees the same order
// as the timeline.
type Sink interface {
	Play(buf Buffer) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Buffer) error

// Play calls f(buf).
func (f SinkFunc) Play(buf Buffer) error { return f(buf) }

// NullSink discards audio.
type NullSink struct{}

// Play does nothing.
func (NullSink) Play(Buffer) error { return nil }

// WAVSink renders the output timeline into a WAV stream, filling gaps
// between buffers with silence. The file time origin is the start of the
// first buffer.
type WAVSink struct {
	mu      sync.Mutex
	w       *audio.WAVWriter
	rate    int
	origin  int64
	written int64 // samples
	started bool
}

// NewWAVSink writes a 24 kHz mono WAV stream to w.
func NewWAVSink(w io.WriteSeeker) (*WAVSink, error) {
	ww, err := audio.NewWAVWriter(w, audio.OutputFormat)
	if err != nil {
		return nil, err
	}
	return &WAVSink{w: ww, rate: audio.OutputSampleRate}, nil
}

// Play appends buf at its scheduled position.
func (s *WAVSink) Play(buf Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := int64(buf.StartAt) * int64(s.rate) / 1e9
	if !s.started {
		s.origin = at
		s.started = true
	}
	if gap := at - s.origin - s.written; gap > 0 {
		if _, err := s.w.Write(make([]byte, gap*audio.BytesPerSample)); err != nil {
			return fmt.Errorf("playback: write silence: %w", err)
		}
		s.written += gap
	}
	if _, err := s.w.Write(buf.PCM); err != nil {
		return fmt.Errorf("playback: write pcm: %w", err)
	}
	s.written += int64(len(buf.PCM) / audio.BytesPerSample)
	return nil
}

// Close finalises the WAV header. Idempotent.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

// MultiSink plays every buffer on each sink in order. The first error stops
// the fan-out.
type MultiSink []Sink

// Play forwards buf to every sink.
func (m MultiSink) Play(buf Buffer) error {
	for _, s := range m {
		if err := s.Play(buf); err != nil {
			return err
		}
	}
	return nil
}
