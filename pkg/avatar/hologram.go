package avatar

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/searmo/yeiya/pkg/audio/meter"
)

// DefaultPoints is the point-cloud size.
const DefaultPoints = 40000

// Vec3 is a 3-component vector.
type Vec3 struct{ X, Y, Z float64 }

func (v Vec3) add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Len() float64 { return math.Sqrt(v.dot(v)) }
func (v Vec3) dist(o Vec3) float64 { return v.sub(o).Len() }
func (v Vec3) normalize() Vec3 {
	l := v.Len()
	if l == 0 {
		return v
	}
	return v.scale(1 / l)
}

// Facial landmarks on the unit sphere.
var (
	eyeL  = Vec3{0.35, 0.45, 0.85}
	eyeR  = Vec3{-0.35, 0.45, 0.85}
	nose  = Vec3{0, 0.05, 1.1}
	mouth = Vec3{0, -0.4, 0.9}
)

// HologramState holds the per-frame uniforms of the point cloud.
type HologramState struct {
	// Volume is the smoothed loudness.
	Volume float64

	// Vibration is the maximum noise displacement along each point's normal.
	Vibration float64

	// PointSize is the base point size before perspective scaling.
	PointSize float64

	// Opacity is the base point opacity before scanlines.
	Opacity float64

	// RotationY is the idle sway around the vertical axis, in radians.
	RotationY float64

	// Time is the elapsed shader time in seconds.
	Time float64
}

// HologramOption is a functional option for configuring a Hologram.
type HologramOption func(*Hologram)

// WithPoints sets the number of sampled points.
func WithPoints(n int) HologramOption {
	return func(h *Hologram) { h.points = n }
}

// WithSeed makes point sampling deterministic.
func WithSeed(seed uint64) HologramOption {
	return func(h *Hologram) { h.seed = seed }
}

// Hologram drives the point-cloud avatar: a sphere of points shaped into a
// face whose displacement, size and opacity follow the loudness.
type Hologram struct {
	points int
	seed   uint64
	base   []Vec3

	mu    sync.Mutex
	state HologramState
}

// NewHologram samples the point cloud uniformly over the unit sphere.
func NewHologram(opts ...HologramOption) *Hologram {
	h := &Hologram{points: DefaultPoints, seed: 1}
	for _, o := range opts {
		o(h)
	}
	rng := rand.New(rand.NewPCG(h.seed, h.seed^0x9e3779b97f4a7c15))
	h.base = make([]Vec3, h.points)
	for i := range h.base {
		theta := math.Acos(2*rng.Float64() - 1)
		phi := rng.Float64() * 2 * math.Pi
		h.base[i] = Vec3{
			X: math.Sin(theta) * math.Cos(phi),
			Y: math.Sin(theta) * math.Sin(phi),
			Z: math.Cos(theta),
		}
	}
	h.state = derive(0, 0)
	return h
}

func derive(volume, t float64) HologramState {
	return HologramState{
		Volume:    volume,
		Vibration: volume*0.08 + 0.003,
		PointSize: 0.8 + volume*2.5,
		Opacity:   0.15 + volume*0.4,
		RotationY: math.Sin(t*0.1) * 0.1,
		Time:      t,
	}
}

// Frame smooths volume into the uniforms. The speaking flag does not change
// the hologram; it reacts to loudness alone.
func (h *Hologram) Frame(_ bool, volume float64, elapsed time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := meter.Clamp01(meter.Lerp(h.state.Volume, meter.Clamp01(volume), meter.HologramSmoothing))
	h.state = derive(v, elapsed.Seconds())
}

// Snapshot returns the current HologramState.
func (h *Hologram) Snapshot() any { return h.State() }

// State returns the current uniforms.
func (h *Hologram) State() HologramState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Base returns the undisplaced unit-sphere samples. The slice is shared; do
// not modify it.
func (h *Hologram) Base() []Vec3 { return h.base }

// Positions evaluates the vertex displacement for every point at the current
// state, writing into dst (allocated when too small).
func (h *Hologram) Positions(dst []Vec3) []Vec3 {
	st := h.State()
	if cap(dst) < len(h.base) {
		dst = make([]Vec3, len(h.base))
	}
	dst = dst[:len(h.base)]
	for i, p := range h.base {
		dst[i] = displace(p, st)
	}
	return dst
}

func hash(n float64) float64 {
	_, f := math.Modf(math.Sin(n) * 43758.5453123)
	if f < 0 {
		f++
	}
	return f
}

func smoothstep(e0, e1, x float64) float64 {
	t := meter.Clamp01((x - e0) / (e1 - e0))
	return t * t * (3 - 2*t)
}

// displace shapes a sphere point into the face and applies the
// loudness-driven vibration and breathing pulse.
func displace(p Vec3, st HologramState) Vec3 {
	shape := 1.0
	shape -= math.Exp(-p.dist(eyeL)*9) * 0.35
	shape -= math.Exp(-p.dist(eyeR)*9) * 0.35
	shape += math.Exp(-p.dist(nose)*16) * 0.15
	shape -= math.Exp(-p.dist(mouth)*(18-st.Volume*2)) * (0.15 + st.Volume*0.25)
	shape *= 0.9 + smoothstep(-1, -0.2, p.Y)*0.1

	pos := p.scale(shape)
	n := pos.normalize()

	noise := hash(pos.dot(Vec3{12.9898, 78.233, 45.164}) + st.Time)
	pos = pos.add(n.scale(noise * st.Vibration))

	pulse := math.Sin(st.Time*1.8+pos.Y*2.5) * 0.006
	return pos.add(n.scale(pulse))
}
