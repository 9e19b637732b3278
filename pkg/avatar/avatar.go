// Package avatar maps the live session's (isSpeaking, volume) signal onto
// per-frame visual parameters for the two avatar renderers.
//
// Drivers are pure state machines: a renderer calls Frame once per display
// frame and reads back the resulting parameters. Nothing here draws.
package avatar

import (
	"fmt"
	"time"
)

// IdleVolume is the volume fed to drivers while no session is active, so the
// hologram keeps a faint shimmer.
const IdleVolume = 0.005

// Driver advances a renderer's state by one frame.
type Driver interface {
	// Frame applies the current speaking flag and loudness in [0, 1].
	// elapsed is the time since the renderer started.
	Frame(isSpeaking bool, volume float64, elapsed time.Duration)

	// Snapshot returns the renderer parameters after the last Frame.
	Snapshot() any
}

// Kind selects a driver implementation.
type Kind string

const (
	KindHologram Kind = "hologram"
	KindRig      Kind = "rig"
)

// New returns the driver for kind. The rig driver needs a loaded model; use
// [NewRig] for that.
func New(kind Kind) (Driver, error) {
	switch kind {
	case KindHologram, "":
		return NewHologram(), nil
	case KindRig:
		return NewRig(nil), nil
	default:
		return nil, fmt.Errorf("avatar: unknown kind %q", kind)
	}
}
