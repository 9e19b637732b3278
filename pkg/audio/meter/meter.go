// Package meter turns an analysis window of audio into a smoothed loudness
// scalar in [0, 1] for driving visuals.
//
// A [Meter] reads its [Tap] once per render frame, reduces the window to a
// raw target with a [Reducer], and moves its value a fixed fraction of the
// way towards that target. A meter whose tap is nil or returns no samples
// decays to 0.
package meter

import (
	"context"
	"math"
	"sync"
	"time"
)

// Default smoothing factors per render frame.
const (
	// HologramSmoothing is used for the point-cloud avatar.
	HologramSmoothing = 0.1

	// RigSmoothing is used for the articulated character's mouth.
	RigSmoothing = 0.2
)

// Window sizes used by the reducers.
const (
	// OutputWindow is the time-domain window for agent loudness.
	OutputWindow = 512

	// InputWindow is the spectral window for user loudness; it yields
	// InputWindow/2 frequency bins.
	InputWindow = 256
)

// Tap supplies the most recent analysis window. A nil window means there is
// no analysis node attached.
type Tap interface {
	Window() []float32
}

// TapFunc adapts a function to the Tap interface.
type TapFunc func() []float32

// Window calls f.
func (f TapFunc) Window() []float32 { return f() }

// Reducer maps an analysis window to a raw loudness target.
type Reducer func(window []float32) float64

// ReduceRMS is the time-domain reducer: root mean square of the window.
func ReduceRMS(window []float32) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, s := range window {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(window)))
}

// ReduceSpectral is the frequency-domain reducer: the summed magnitude of
// the positive-frequency bins divided by the peak a full-scale sine produces.
// Loud broadband input exceeds 1 and is clamped by the meter.
func ReduceSpectral(window []float32) float64 {
	n := len(window)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, m := range spectrum(window) {
		sum += m
	}
	return sum / (float64(n) / 2)
}

// spectrum returns magnitudes of the n/2 positive-frequency bins of a
// Hann-windowed DFT, scaled so the window's coherent gain cancels out.
func spectrum(window []float32) []float64 {
	n := len(window)
	x := make([]float64, n)
	for i, s := range window {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		x[i] = float64(s) * w * 2
	}
	out := make([]float64, n/2)
	for k := range out {
		var re, im float64
		for i, v := range x {
			sin, cos := math.Sincos(-2 * math.Pi * float64(k) * float64(i) / float64(n))
			re += v * cos
			im += v * sin
		}
		out[k] = math.Hypot(re, im)
	}
	return out
}

// Lerp moves from toward to by factor.
func Lerp(from, to, factor float64) float64 {
	return from + (to-from)*factor
}

// Clamp01 clamps v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Option is a functional option for configuring a Meter.
type Option func(*Meter)

// WithSmoothing sets the per-frame smoothing factor in (0, 1].
func WithSmoothing(f float64) Option {
	return func(m *Meter) { m.smoothing = f }
}

// WithGain scales the raw target before clamping.
func WithGain(g float64) Option {
	return func(m *Meter) { m.gain = g }
}

// WithReducer overrides the reducer (default ReduceRMS).
func WithReducer(r Reducer) Option {
	return func(m *Meter) { m.reduce = r }
}

// Meter is a smoothed loudness follower. Safe for concurrent use.
type Meter struct {
	smoothing float64
	gain      float64
	reduce    Reducer

	mu    sync.Mutex
	tap   Tap
	value float64
	muted bool
}

// New returns a Meter reading tap. tap may be nil and attached later.
func New(tap Tap, opts ...Option) *Meter {
	m := &Meter{
		tap:       tap,
		smoothing: HologramSmoothing,
		gain:      1,
		reduce:    ReduceRMS,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Attach sets the analysis tap. A nil tap detaches.
func (m *Meter) Attach(tap Tap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tap = tap
}

// Reset forces the target to 0 until the next Unmute. The value itself keeps
// easing down so visuals settle instead of snapping.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = true
}

// Unmute re-enables the tap after Reset.
func (m *Meter) Unmute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = false
}

// Tick advances one render frame and returns the new value.
func (m *Meter) Tick() float64 {
	m.mu.Lock()
	tap, muted := m.tap, m.muted
	m.mu.Unlock()

	var target float64
	if tap != nil && !muted {
		if w := tap.Window(); len(w) > 0 {
			target = Clamp01(m.reduce(w) * m.gain)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = Clamp01(Lerp(m.value, target, m.smoothing))
	return m.value
}

// Value returns the last computed value without advancing.
func (m *Meter) Value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// Loop calls fn at fps until ctx is done. fn receives the elapsed time since
// Loop started.
func Loop(ctx context.Context, fps int, fn func(elapsed time.Duration)) {
	if fps <= 0 {
		fps = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now.Sub(start))
		}
	}
}
