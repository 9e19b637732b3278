// Package capture turns a live audio input into fixed-size 16 kHz PCM16
// blocks for the transport, while tracking whether the user is speaking.
//
// Blocks are forwarded only while the session gate reports active. A block
// that arrives while the gate is closed is dropped, never queued: replaying
// stale microphone audio into a fresh conversation is worse than losing it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/searmo/yeiya/pkg/audio"
)

const (
	// DefaultBlockSize is 128 ms at 16 kHz.
	DefaultBlockSize = 2048

	// rmsStride samples every 4th value when gating a block.
	rmsStride = 4

	// analysisWindow is the number of trailing samples exposed by Window.
	analysisWindow = 256
)

// Gate reports whether forwarding is allowed right now.
type Gate interface {
	Active() bool
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func() bool

// Active calls f.
func (f GateFunc) Active() bool { return f() }

// Sink receives outbound PCM16 blocks. The transport session implements it.
type Sink interface {
	SendAudio(chunk []byte) error
}

// Option is a functional option for configuring a Capture.
type Option func(*Capture)

// WithBlockSize sets the number of 16 kHz samples per forwarded block.
func WithBlockSize(n int) Option {
	return func(c *Capture) { c.blockSize = n }
}

// WithThresholds sets the speech detector's onset and release thresholds.
func WithThresholds(onset, release float64) Option {
	return func(c *Capture) { c.onset, c.release = onset, release }
}

// WithGate sets the forwarding gate. Without one every block is forwarded.
func WithGate(g Gate) Option {
	return func(c *Capture) { c.gate = g }
}

// WithAgentSpeaking tells the detector whether the agent is talking.
func WithAgentSpeaking(fn func() bool) Option {
	return func(c *Capture) { c.agentSpeaking = fn }
}

// WithOnUserSpeaking registers a callback for detector transitions.
func WithOnUserSpeaking(fn func(speaking bool)) Option {
	return func(c *Capture) { c.onUser = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Capture) { c.log = l }
}

// Stats counts forwarded and dropped blocks.
type Stats struct {
	Sent    int64
	Dropped int64
	Failed  int64
}

// Capture is the single producer of outbound audio for one session.
type Capture struct {
	dev           Device
	sink          Sink
	gate          Gate
	blockSize     int
	onset         float64
	release       float64
	agentSpeaking func() bool
	onUser        func(bool)
	log           *slog.Logger

	mu       sync.Mutex
	detector *Detector
	stream   Stream
	window   []float32
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}

	sent, dropped, failed atomic.Int64
}

// New returns a Capture reading dev and forwarding to sink.
func New(dev Device, sink Sink, opts ...Option) *Capture {
	c := &Capture{
		dev:       dev,
		sink:      sink,
		blockSize: DefaultBlockSize,
		onset:     DefaultOnset,
		release:   DefaultRelease,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start opens the device and starts the block loop. A device failure is
// returned wrapped in ErrDeviceUnavailable. Start may be called once.
func (c *Capture) Start(ctx context.Context) error {
	det, err := NewDetector(c.onset, c.release)
	if err != nil {
		return err
	}
	if c.blockSize <= 0 {
		return fmt.Errorf("capture: block size must be positive, got %d", c.blockSize)
	}

	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return errors.New("capture: already started")
	}
	c.started = true
	c.mu.Unlock()

	stream, err := c.dev.Open(ctx)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return err
	}
	conv, err := audio.NewFormatConverter(stream.Format(), audio.InputFormat)
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.stopped {
		// Stop raced with Open.
		c.mu.Unlock()
		cancel()
		_ = stream.Close()
		return errors.New("capture: stopped during start")
	}
	c.detector = det
	c.stream = stream
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.log.Debug("capture started", "device_format", stream.Format().String(), "block", c.blockSize)
	go c.run(loopCtx, stream, conv)
	return nil
}

func (c *Capture) run(ctx context.Context, stream Stream, conv *audio.FormatConverter) {
	defer close(c.done)

	var pending []float32
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-stream.Blocks():
			if !ok {
				return
			}
			mono, err := conv.Convert(block)
			if err != nil {
				c.log.Warn("capture: convert block", "err", err)
				continue
			}
			pending = append(pending, mono...)
			for len(pending) >= c.blockSize {
				c.process(pending[:c.blockSize])
				pending = pending[c.blockSize:]
			}
			// Keep the backing array from growing without bound.
			pending = append([]float32(nil), pending...)
		}
	}
}

func (c *Capture) process(block []float32) {
	rms := audio.RMSStride(block, rmsStride)

	tail := block[max(0, len(block)-analysisWindow):]
	win := make([]float32, len(tail))
	copy(win, tail)

	agent := c.agentSpeaking != nil && c.agentSpeaking()

	c.mu.Lock()
	c.window = win
	tr := c.detector.Observe(rms, agent)
	c.mu.Unlock()

	if tr != NoChange && c.onUser != nil {
		c.onUser(tr == SpeechStarted)
	}

	if c.gate != nil && !c.gate.Active() {
		c.dropped.Add(1)
		return
	}
	if err := c.sink.SendAudio(audio.FloatToBytes(block)); err != nil {
		c.failed.Add(1)
		c.log.Debug("capture: send block", "err", err)
		return
	}
	c.sent.Add(1)
}

// ResetUserSpeaking clears the user-speaking flag and reports the transition
// through the callback if it was set.
func (c *Capture) ResetUserSpeaking() {
	c.mu.Lock()
	was := c.detector != nil && c.detector.Reset()
	c.mu.Unlock()
	if was && c.onUser != nil {
		c.onUser(false)
	}
}

// UserSpeaking reports the detector flag.
func (c *Capture) UserSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detector != nil && c.detector.Speaking()
}

// Window returns the trailing samples of the last processed block, or nil
// when capture is not running.
func (c *Capture) Window() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || c.stopped {
		return nil
	}
	return c.window
}

// Stats returns forwarding counters.
func (c *Capture) Stats() Stats {
	return Stats{Sent: c.sent.Load(), Dropped: c.dropped.Load(), Failed: c.failed.Load()}
}

// Stop halts the loop and releases the device. It is idempotent and safe to
// call before or without Start.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	stream, cancel, done := c.stream, c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if stream != nil {
		err = stream.Close()
	}
	if done != nil {
		<-done
	}
	return err
}
