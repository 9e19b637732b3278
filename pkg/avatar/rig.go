package avatar

import (
	"math"
	"sync"
	"time"

	"github.com/searmo/yeiya/pkg/audio/meter"
)

// Morph target names tried, in order, for the mouth.
var mouthTargets = []string{"jawOpen", "mouthOpen"}

// DefaultMouthGain scales loudness into mouth opening.
const DefaultMouthGain = 5.0

// RigState holds the per-frame pose of the articulated character.
type RigState struct {
	// Mouth is the smoothed mouth-open influence in [0, 1].
	Mouth float64

	// RotationY is the idle sway around the vertical axis, in radians.
	RotationY float64

	// BoundMeshes is the number of meshes with a resolved mouth target.
	BoundMeshes int
}

// RigOption is a functional option for configuring a Rig.
type RigOption func(*Rig)

// WithMouthGain overrides DefaultMouthGain.
func WithMouthGain(g float64) RigOption {
	return func(r *Rig) { r.gain = g }
}

type mouthSlot struct {
	mesh  *Mesh
	index int
}

// Rig drives the character's mouth morph target from loudness. Targets are
// resolved once when the rig is built; Frame only writes cached slots.
type Rig struct {
	gain  float64
	slots []mouthSlot

	mu    sync.Mutex
	state RigState
}

// NewRig binds the mouth target of every mesh in model. A nil model gives a
// rig that still tracks the mouth value but writes nothing.
func NewRig(model *Model, opts ...RigOption) *Rig {
	r := &Rig{gain: DefaultMouthGain}
	for _, o := range opts {
		o(r)
	}
	if model != nil {
		for _, m := range model.Meshes {
			if idx, ok := m.resolve(mouthTargets...); ok {
				r.slots = append(r.slots, mouthSlot{mesh: m, index: idx})
			}
		}
	}
	r.state.BoundMeshes = len(r.slots)
	return r
}

// Frame moves the mouth towards min(volume*gain, 1) while speaking and
// towards 0 otherwise.
func (r *Rig) Frame(isSpeaking bool, volume float64, elapsed time.Duration) {
	target := 0.0
	if isSpeaking {
		target = math.Min(meter.Clamp01(volume)*r.gain, 1)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Mouth = meter.Clamp01(meter.Lerp(r.state.Mouth, target, meter.RigSmoothing))
	r.state.RotationY = math.Sin(elapsed.Seconds()*0.5) * 0.1
	for _, s := range r.slots {
		s.mesh.setInfluence(s.index, r.state.Mouth)
	}
}

// Snapshot returns the current RigState.
func (r *Rig) Snapshot() any { return r.State() }

// State returns the current pose.
func (r *Rig) State() RigState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
