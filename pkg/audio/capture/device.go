package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/searmo/yeiya/pkg/audio"
)

// ErrDeviceUnavailable reports that the audio input device could not be
// opened: permission denied, no device, or device busy.
var ErrDeviceUnavailable = errors.New("capture: audio input device unavailable")

// Device is an audio input that can be opened once per session.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open audio input. Blocks carry interleaved float samples in
// the stream's Format and the channel is closed when the input ends. Close
// releases the underlying device track and is idempotent.
type Stream interface {
	Format() audio.Format
	Blocks() <-chan []float32
	Close() error
}

// ── FileDevice ────────────────────────────────────────────────────────────────

// FileDevice plays a WAV file as if it were a microphone, paced in real time.
type FileDevice struct {
	// Path of a 16-bit PCM WAV file.
	Path string

	// Block is the pacing interval (default 100 ms).
	Block time.Duration

	// Loop restarts the file at EOF instead of ending the stream.
	Loop bool
}

// Open reads the whole file and starts the pacing goroutine.
func (d *FileDevice) Open(ctx context.Context) (Stream, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	defer f.Close()

	format, pcm, err := audio.ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}

	block := d.Block
	if block <= 0 {
		block = 100 * time.Millisecond
	}
	per := max(int(int64(format.SampleRate)*int64(block)/int64(time.Second))*format.Channels, format.Channels)

	s := &fileStream{
		format:  format,
		samples: audio.BytesToFloat(pcm),
		per:     per,
		block:   block,
		loop:    d.Loop,
		out:     make(chan []float32, 4),
		done:    make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

type fileStream struct {
	format  audio.Format
	samples []float32
	per     int
	block   time.Duration
	loop    bool
	out     chan []float32

	done      chan struct{}
	closeOnce sync.Once
}

func (s *fileStream) Format() audio.Format     { return s.format }
func (s *fileStream) Blocks() <-chan []float32 { return s.out }

func (s *fileStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *fileStream) run(ctx context.Context) {
	defer close(s.out)
	if len(s.samples) == 0 {
		return
	}
	ticker := time.NewTicker(s.block)
	defer ticker.Stop()

	pos := 0
	for {
		end := min(pos+s.per, len(s.samples))
		select {
		case s.out <- s.samples[pos:end]:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
		pos = end
		if pos >= len(s.samples) {
			if !s.loop {
				return
			}
			pos = 0
		}
		select {
		case <-ticker.C:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ── ChanDevice ────────────────────────────────────────────────────────────────

// ChanDevice is an input fed by Push, e.g. from a browser WebSocket. It can
// be opened at most once.
type ChanDevice struct {
	format audio.Format

	mu     sync.Mutex
	ch     chan []float32
	opened bool
	closed bool
}

// NewChanDevice returns a device producing blocks in format f. buffer is the
// number of blocks held before Push starts dropping.
func NewChanDevice(f audio.Format, buffer int) *ChanDevice {
	return &ChanDevice{format: f, ch: make(chan []float32, max(buffer, 1))}
}

// Open returns the stream. A second Open fails with ErrDeviceUnavailable.
func (d *ChanDevice) Open(context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened || d.closed {
		return nil, fmt.Errorf("%w: device busy", ErrDeviceUnavailable)
	}
	d.opened = true
	return (*chanStream)(d), nil
}

// Push offers one block. It reports false when the block was dropped
// because the device is closed or the buffer is full.
func (d *ChanDevice) Push(block []float32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.ch <- block:
		return true
	default:
		return false
	}
}

// PushPCM decodes little-endian PCM16 and pushes it.
func (d *ChanDevice) PushPCM(pcm []byte) bool {
	return d.Push(audio.BytesToFloat(pcm))
}

// Close ends the stream. Idempotent.
func (d *ChanDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	return nil
}

type chanStream ChanDevice

func (s *chanStream) Format() audio.Format     { return s.format }
func (s *chanStream) Blocks() <-chan []float32 { return s.ch }
func (s *chanStream) Close() error             { return (*ChanDevice)(s).Close() }

// ── Unavailable ───────────────────────────────────────────────────────────────

// Unavailable is a Device that always fails to open, standing in for a
// denied permission or missing hardware.
type Unavailable struct {
	Reason string
}

// Open always returns ErrDeviceUnavailable.
func (u Unavailable) Open(context.Context) (Stream, error) {
	if u.Reason == "" {
		return nil, ErrDeviceUnavailable
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, u.Reason)
}
