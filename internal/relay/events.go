package relay

import (
	"github.com/searmo/yeiya/internal/live"
	"github.com/searmo/yeiya/pkg/audio"
	"github.com/searmo/yeiya/pkg/audio/playback"
	"github.com/searmo/yeiya/pkg/provider/s2s"
)

// Event types sent to the browser.
const (
	TypeState      = "state"
	TypeAudio      = "audio"
	TypeFrame      = "frame"
	TypeTranscript = "transcript"
	TypeError      = "error"
)

// Control message types accepted from the browser.
const (
	ControlStart = "start"
	ControlStop  = "stop"
)

// control is a JSON text frame from the browser.
type control struct {
	Type string `json:"type"`
}

// StateEvent reports a session lifecycle change.
type StateEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

// AudioEvent carries one scheduled agent buffer. StartAt is seconds on the
// session timeline; Data is base64 24 kHz PCM16.
type AudioEvent struct {
	Type       string  `json:"type"`
	Seq        uint64  `json:"seq"`
	StartAt    float64 `json:"startAt"`
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sampleRate"`
	Data       string  `json:"data"`
}

// FrameEvent is sent at the render cadence to drive the avatar.
type FrameEvent struct {
	Type         string  `json:"type"`
	IsSpeaking   bool    `json:"isSpeaking"`
	Volume       float64 `json:"volume"`
	UserSpeaking bool    `json:"userSpeaking"`
	UserVolume   float64 `json:"userVolume"`
}

// TranscriptEvent relays a transcription fragment.
type TranscriptEvent struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ErrorEvent reports a protocol problem that does not end the connection.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func stateEvent(s live.Snapshot) StateEvent {
	return StateEvent{Type: TypeState, SessionID: s.ID, State: s.State.String(), Error: s.ErrorDetail}
}

func audioEvent(b playback.Buffer) AudioEvent {
	return AudioEvent{
		Type:       TypeAudio,
		Seq:        b.Seq,
		StartAt:    b.StartAt.Seconds(),
		Duration:   b.Duration.Seconds(),
		SampleRate: b.SampleRate,
		Data:       audio.BytesToText(b.PCM),
	}
}

func frameEvent(isSpeaking bool, volume float64, s live.Snapshot) FrameEvent {
	return FrameEvent{
		Type:         TypeFrame,
		IsSpeaking:   isSpeaking,
		Volume:       volume,
		UserSpeaking: s.UserSpeaking,
		UserVolume:   s.UserVolume,
	}
}

func transcriptEvent(e s2s.TranscriptEntry) TranscriptEvent {
	return TranscriptEvent{Type: TypeTranscript, Speaker: e.Speaker, Text: e.Text}
}
