// Package s2s defines the Provider interface for live speech-to-speech
// conversational endpoints.
//
// An S2S provider wraps a hosted voice model that accepts raw microphone audio
// and streams synthesised speech back over a single stateful connection. The
// central abstraction is SessionHandle: a bidirectional session that carries
// outbound PCM chunks and delivers inbound PCM frames, in arrival order, over
// a channel.
//
// Connect returns only once the endpoint has acknowledged the session setup,
// so a returned handle is always "opened". There is no automatic reconnect: a
// dropped connection ends the session and callers start a new one.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StatusAbnormalClosure is the WebSocket close code reported when the
// connection dropped without a close frame.
const StatusAbnormalClosure = 1006

// ErrSessionClosed is returned by operations on a session that was closed
// locally.
var ErrSessionClosed = errors.New("s2s: session closed")

// CloseError reports that the remote endpoint ended the session. It carries
// the close code and the reason text sent by the endpoint, if any.
type CloseError struct {
	Code   int
	Reason string
}

// Error returns the reason when one was given, a description of abnormal
// closure for code 1006, and the bare code otherwise.
func (e *CloseError) Error() string {
	switch {
	case e.Reason != "":
		return e.Reason
	case e.Code == StatusAbnormalClosure:
		return "abnormal closure (possible network or API key error)"
	default:
		return fmt.Sprintf("connection closed with code %d", e.Code)
	}
}

// Abnormal reports whether the connection dropped without a close frame.
func (e *CloseError) Abnormal() bool { return e.Code == StatusAbnormalClosure }

// ServerError is an error event sent by the endpoint inside an open session.
type ServerError struct {
	Code    int
	Message string
	Status  string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error %d", e.Code)
	}
	return e.Message
}

// Response modalities a session can ask for.
const (
	ModalityAudio = "audio"
	ModalityText  = "text"
)

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// ResponseModality selects what the model answers with. Empty means
	// [ModalityAudio].
	ResponseModality string

	// Voice is the prebuilt voice name, e.g. "Puck". Empty uses the
	// provider's default.
	Voice string

	// Instructions is the system-level persona prompt.
	Instructions string
}

// Capabilities describes static properties of the S2S provider.
type Capabilities struct {
	// InputSampleRate is the PCM16 rate the endpoint expects.
	InputSampleRate int

	// OutputSampleRate is the PCM16 rate of synthesised speech.
	OutputSampleRate int

	// MaxSessionDuration is the provider-imposed session limit; zero means
	// no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the prebuilt voice names.
	Voices []string
}

// TranscriptEntry is one piece of recognised or generated text.
type TranscriptEntry struct {
	// Speaker is "user" or "model".
	Speaker   string
	Text      string
	Timestamp time.Time
}

// SessionHandle represents an open S2S session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one PCM16 chunk at the negotiated input rate. It is
	// fire-and-forget: after Close, or once the session has ended, it is a
	// no-op that returns nil. Chunks are never queued for later delivery.
	SendAudio(chunk []byte) error

	// Audio returns the channel of inbound PCM16 frames in arrival order.
	// A frame whose payload could not be decoded arrives empty. The channel
	// is closed when the session ends; check Err afterwards.
	Audio() <-chan []byte

	// Transcripts returns the channel of transcript entries. It is closed
	// when the session ends.
	Transcripts() <-chan TranscriptEntry

	// Done is closed when the session has ended for any reason.
	Done() <-chan struct{}

	// Err returns the cause that ended the session, or nil if it is still
	// running or was closed locally. Remote termination is reported as
	// *CloseError or *ServerError.
	Err() error

	// Close terminates the session. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect opens a session and waits for the endpoint's setup
	// acknowledgement. The caller owns the returned handle.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
