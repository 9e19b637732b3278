package relay

import (
	"strings"
	"sync"

	"github.com/searmo/yeiya/internal/lead"
)

// maxTranscriptBuffer caps the model transcript kept while waiting for a
// lead block to complete.
const maxTranscriptBuffer = 8 << 10

// LeadDispatcher receives leads the voice agent read out.
type LeadDispatcher interface {
	Dispatch(l lead.Lead)
}

// leadWatcher accumulates the agent's output transcription and dispatches a
// lead once a complete block has been spoken.
type leadWatcher struct {
	out LeadDispatcher

	mu  sync.Mutex
	buf strings.Builder
}

func newLeadWatcher(out LeadDispatcher) *leadWatcher {
	return &leadWatcher{out: out}
}

// Observe feeds one model transcript fragment.
func (w *leadWatcher) Observe(text string) {
	if w == nil || w.out == nil {
		return
	}
	w.mu.Lock()
	w.buf.WriteString(text)
	l, _, ok := lead.Extract(w.buf.String())
	if ok || w.buf.Len() > maxTranscriptBuffer {
		w.buf.Reset()
	}
	w.mu.Unlock()

	if ok {
		l.Source = lead.SourceVoice
		w.out.Dispatch(l)
	}
}

// Reset drops any partial transcript, e.g. when a new session starts.
func (w *leadWatcher) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.buf.Reset()
	w.mu.Unlock()
}
