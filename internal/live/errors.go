package live

import (
	"errors"
	"strings"

	"github.com/searmo/yeiya/pkg/audio/capture"
	"github.com/searmo/yeiya/pkg/provider/s2s"
)

var (
	// ErrCredentialMissing means no usable API key was configured. The
	// session fails before any network or device access.
	ErrCredentialMissing = errors.New("live: API key missing")

	// ErrConnectionRejected means the endpoint refused the session or ended
	// it with a close frame.
	ErrConnectionRejected = errors.New("live: connection rejected")

	// ErrAbnormalClose means the connection dropped without a close frame.
	ErrAbnormalClose = errors.New("live: connection dropped")

	// ErrDeviceUnavailable means the microphone could not be opened.
	ErrDeviceUnavailable = capture.ErrDeviceUnavailable

	// ErrSessionClosed is returned by Start when Close won the race.
	ErrSessionClosed = errors.New("live: session closed")
)

// placeholders are template values that stand for "not configured".
var placeholders = map[string]bool{
	"":                true,
	"undefined":       true,
	"tu_api_key_aqui": true,
}

// CredentialMissing reports whether key is empty or a placeholder.
func CredentialMissing(key string) bool {
	return placeholders[strings.TrimSpace(key)]
}

// terminalError pairs a sentinel with its cause. Its text is the cause's
// text alone, which is what the user sees.
type terminalError struct {
	kind  error
	cause error
}

func (e *terminalError) Error() string   { return e.cause.Error() }
func (e *terminalError) Unwrap() []error { return []error{e.kind, e.cause} }

func classify(kind, cause error) error {
	if errors.Is(cause, kind) {
		return cause
	}
	return &terminalError{kind: kind, cause: cause}
}

// remoteError maps the transport's terminal error onto a sentinel.
func remoteError(err error) error {
	var ce *s2s.CloseError
	if errors.As(err, &ce) && ce.Abnormal() {
		return classify(ErrAbnormalClose, err)
	}
	return classify(ErrConnectionRejected, err)
}
