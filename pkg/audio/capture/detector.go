package capture

import "fmt"

// Default hysteresis thresholds on block RMS (full scale = 1.0).
const (
	DefaultOnset   = 0.01
	DefaultRelease = 0.005
)

// Transition is the outcome of feeding one block to a [Detector].
type Transition int

const (
	// NoChange means the user-speaking flag did not move.
	NoChange Transition = iota

	// SpeechStarted means loudness rose above the onset threshold.
	SpeechStarted

	// SpeechStopped means loudness fell below the release threshold.
	SpeechStopped
)

// String returns the human-readable name of the transition.
func (t Transition) String() string {
	switch t {
	case SpeechStarted:
		return "STARTED"
	case SpeechStopped:
		return "STOPPED"
	default:
		return "NONE"
	}
}

// Detector is a two-threshold user-speech flag. It turns on above Onset and
// off below Release, so levels between the two keep the previous state. It
// never turns on while the agent is speaking. Not safe for concurrent use.
type Detector struct {
	Onset   float64
	Release float64

	speaking bool
}

// NewDetector validates the thresholds and returns a Detector.
func NewDetector(onset, release float64) (*Detector, error) {
	if onset <= 0 || release <= 0 {
		return nil, fmt.Errorf("capture: thresholds must be positive (onset %v, release %v)", onset, release)
	}
	if release > onset {
		return nil, fmt.Errorf("capture: release threshold %v above onset %v", release, onset)
	}
	return &Detector{Onset: onset, Release: release}, nil
}

// Observe feeds one block's RMS.
func (d *Detector) Observe(rms float64, agentSpeaking bool) Transition {
	switch {
	case !d.speaking && rms > d.Onset && !agentSpeaking:
		d.speaking = true
		return SpeechStarted
	case d.speaking && rms < d.Release:
		d.speaking = false
		return SpeechStopped
	}
	return NoChange
}

// Reset clears the flag, e.g. when the agent starts replying. It reports
// whether the flag was set.
func (d *Detector) Reset() bool {
	was := d.speaking
	d.speaking = false
	return was
}

// Speaking reports the current flag.
func (d *Detector) Speaking() bool { return d.speaking }
